package transport

import "net/http"

type Handler interface {
	probe(w http.ResponseWriter, r *http.Request)
	start(w http.ResponseWriter, r *http.Request)
	progress(w http.ResponseWriter, r *http.Request)
	fetch(w http.ResponseWriter, r *http.Request)
}

type router struct {
	h Handler
}

func NewRouter(h Handler) *router {
	return &router{h: h}
}

func (r *router) MountRoutes(mux *http.ServeMux) *http.ServeMux {
	mux.HandleFunc("/probe", r.h.probe)
	mux.HandleFunc("/download", r.h.start)
	mux.HandleFunc("/download/", r.h.fetch)
	mux.HandleFunc("/progress/", r.h.progress)

	return mux
}
