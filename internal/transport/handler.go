package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/you-humble/mediafetch/internal/domain"

	"github.com/google/uuid"
)

type Usecase interface {
	Probe(ctx context.Context, url string) (domain.ProbeResponse, error)
	StartDownload(ctx context.Context, req domain.DownloadRequest) (string, error)
	GetProgress(ctx context.Context, taskID string) (domain.TaskStatusResponse, error)
	GetResultFile(ctx context.Context, taskID string) (domain.DownloadResult, error)
	Discard(ctx context.Context, taskID string)
}

const maxBodyBytes = 1 << 20

type handler struct {
	usecase Usecase
}

func NewHandler(uc Usecase) *handler {
	return &handler{usecase: uc}
}

func (h *handler) probe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "")
		return
	}

	requestID := uuid.NewString()
	logger := slog.With(
		slog.String("request_id", requestID),
		slog.String("handler", "probe"),
		slog.String("remote_addr", r.RemoteAddr),
	)

	var payload domain.ProbeRequest
	if !decodeJSON(w, r, &payload, logger) {
		return
	}

	if err := validateURL(payload.URL); err != nil {
		logger.Warn("invalid url", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.usecase.Probe(r.Context(), payload.URL)
	if err != nil {
		var engErr *domain.EngineError
		if errors.As(err, &engErr) {
			logger.Warn("probe rejected", slog.String("url", payload.URL), slog.String("error", engErr.Error()))
			writeError(w, http.StatusBadRequest, engErr.Error())
			return
		}
		// not an engine verdict, still a client-visible probe failure
		logger.Error("Probe usecase", slog.String("url", payload.URL), slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "probe failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) start(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "")
		return
	}

	requestID := uuid.NewString()
	logger := slog.With(
		slog.String("request_id", requestID),
		slog.String("handler", "start"),
		slog.String("remote_addr", r.RemoteAddr),
	)

	var payload domain.DownloadRequest
	if !decodeJSON(w, r, &payload, logger) {
		return
	}

	if err := validateURL(payload.URL); err != nil {
		logger.Warn("invalid url", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	taskID, err := h.usecase.StartDownload(r.Context(), payload)
	if err != nil {
		logger.Error("StartDownload usecase", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "cannot create download task")
		return
	}

	logger.Info("download accepted",
		slog.String("task_id", taskID),
		slog.String("url", payload.URL),
	)
	writeJSON(w, http.StatusAccepted, domain.DownloadInitResponse{TaskID: taskID})
}

func (h *handler) progress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "")
		return
	}

	requestID := uuid.NewString()
	logger := slog.With(
		slog.String("request_id", requestID),
		slog.String("handler", "progress"),
		slog.String("remote_addr", r.RemoteAddr),
	)

	taskID := strings.TrimPrefix(r.URL.Path, "/progress/")
	if taskID == "" {
		logger.Error("missing ID")
		writeError(w, http.StatusBadRequest, "missing ID")
		return
	}

	resp, err := h.usecase.GetProgress(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		logger.Error("GetProgress usecase", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) fetch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "")
		return
	}

	requestID := uuid.NewString()
	logger := slog.With(
		slog.String("request_id", requestID),
		slog.String("handler", "fetch"),
		slog.String("remote_addr", r.RemoteAddr),
	)

	taskID := strings.TrimPrefix(r.URL.Path, "/download/")
	if taskID == "" {
		logger.Error("missing ID")
		writeError(w, http.StatusBadRequest, "missing ID")
		return
	}

	result, err := h.usecase.GetResultFile(r.Context(), taskID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrTaskNotFound):
			writeError(w, http.StatusNotFound, "task not found")
		case errors.Is(err, domain.ErrTaskNotReady):
			writeError(w, http.StatusConflict, "download is not ready")
		case errors.Is(err, domain.ErrFileGone):
			writeError(w, http.StatusGone, "download file no longer available")
		default:
			logger.Error("GetResultFile usecase", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "cannot get result file")
		}
		return
	}

	// cleanup runs once the response is written, the request context is
	// already done by then
	defer func() {
		result.Content.Close()
		h.usecase.Discard(context.Background(), taskID)
	}()

	w.Header().Set("Content-Type", result.MediaType)
	w.Header().Set("Content-Length", strconv.FormatInt(result.Size, 10))
	w.Header().Set("Content-Disposition",
		`attachment; filename="`+result.Filename+`"`)

	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, result.Content); err != nil {
		logger.Error("fetch: send file",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any, logger *slog.Logger) bool {
	defer r.Body.Close()
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		logger.Warn("decode request body", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}

	return true
}

func validateURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("url is required")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return errors.New("malformed url")
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("url must be absolute http(s)")
	}

	return nil
}

func writeError(w http.ResponseWriter, status int, message string) {
	if message == "" {
		message = http.StatusText(status)
	}
	resp := domain.ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writeJSON", slog.String("error", err.Error()))
	}
}
