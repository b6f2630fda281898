package domain

import (
	"errors"
	"io"
	"time"
)

type TaskStatus string

const (
	StatusPending     TaskStatus = "pending"
	StatusDownloading TaskStatus = "downloading"
	StatusFinished    TaskStatus = "finished"
	StatusError       TaskStatus = "error"
)

// IsTerminal reports whether the status can never change again.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusFinished || s == StatusError
}

// Task is a single download job. Pointer fields distinguish "unknown" from
// zero: the engine often cannot tell how large a download is going to be.
type Task struct {
	ID  string `json:"id"`
	URL string `json:"url"`

	FormatID       string `json:"format_id"`
	FormatHasAudio *bool  `json:"format_has_audio"`
	FormatHasVideo *bool  `json:"format_has_video"`

	Status TaskStatus `json:"status"`

	Progress        *float64 `json:"progress"`
	DownloadedBytes *int64   `json:"downloaded_bytes"`
	TotalBytes      *int64   `json:"total_bytes"`
	Speed           *float64 `json:"speed"`
	ETA             *float64 `json:"eta"`

	FormatExpr string `json:"format_expr"`
	Filename   string `json:"filename"`
	Detail     string `json:"detail"`

	// server-side only
	FilePath string `json:"-"`
	TempDir  string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy; mutating the copy never touches the original.
func (t Task) Clone() Task {
	c := t
	c.FormatHasAudio = copyBool(t.FormatHasAudio)
	c.FormatHasVideo = copyBool(t.FormatHasVideo)
	c.Progress = copyFloat64(t.Progress)
	c.DownloadedBytes = copyInt64(t.DownloadedBytes)
	c.TotalBytes = copyInt64(t.TotalBytes)
	c.Speed = copyFloat64(t.Speed)
	c.ETA = copyFloat64(t.ETA)
	return c
}

type CreateTaskParams struct {
	URL            string
	FormatID       string
	FormatHasAudio *bool
	FormatHasVideo *bool
}

// ProgressPatch is one downloading tick ready to be stored. A nil Total means
// "keep whatever total is already recorded".
type ProgressPatch struct {
	Downloaded *int64
	Total      *int64
	Progress   *float64
	Speed      *float64
	ETA        *float64
}

// ResultPatch carries everything a finished download leaves behind.
type ResultPatch struct {
	Downloaded *int64
	Filename   string
	FilePath   string
	TempDir    string
}

type EventKind string

const (
	EventDownloading EventKind = "downloading"
	EventFinished    EventKind = "finished"
)

// ProgressEvent is a raw engine report, not yet reconciled with the task
// record. TotalBytes is exact, TotalBytesEstimate is the engine's guess.
type ProgressEvent struct {
	Kind EventKind

	DownloadedBytes    *int64
	TotalBytes         *int64
	TotalBytesEstimate *int64
	Speed              *float64
	ETA                *float64

	// Path points at the produced artifact, finished events only.
	Path string
}

// DownloadJob tells the engine what to fetch and where to put it. Dir is a
// scratch workspace owned by the caller.
type DownloadJob struct {
	URL        string
	FormatExpr string
	Dir        string
}

type MediaFormat struct {
	ID             string
	Ext            string
	Resolution     string
	FPS            *float64
	Filesize       *int64
	FilesizeApprox *int64
	Note           string
	ABR            *float64
	VBR            *float64
	ACodec         string
	VCodec         string
	HasAudio       bool
	HasVideo       bool
}

type MediaInfo struct {
	Title           string
	Duration        *float64
	Uploader        string
	Extractor       string
	Thumbnail       string
	IsPlaylist      bool
	HasEntries      bool
	DefaultFormatID string
	Formats         []MediaFormat
}

// Downloadable reports whether a single file can come out of this source.
func (m MediaInfo) Downloadable() bool {
	return !m.IsPlaylist || m.HasEntries
}

type ProbeRequest struct {
	URL string `json:"url"`
}

type FormatInfo struct {
	FormatID       string   `json:"format_id"`
	Ext            string   `json:"ext,omitempty"`
	Resolution     string   `json:"resolution,omitempty"`
	FPS            *float64 `json:"fps"`
	Filesize       *int64   `json:"filesize"`
	FilesizeApprox *int64   `json:"filesize_approx"`
	FormatNote     string   `json:"format_note,omitempty"`
	ABR            *float64 `json:"abr"`
	VBR            *float64 `json:"vbr"`
	ACodec         string   `json:"acodec,omitempty"`
	VCodec         string   `json:"vcodec,omitempty"`
	HasAudio       bool     `json:"has_audio"`
	HasVideo       bool     `json:"has_video"`
}

type ProbeResponse struct {
	URL             string       `json:"url"`
	Title           string       `json:"title,omitempty"`
	Duration        *float64     `json:"duration"`
	Uploader        string       `json:"uploader,omitempty"`
	Extractor       string       `json:"extractor,omitempty"`
	Thumbnail       string       `json:"thumbnail,omitempty"`
	IsDownloadable  bool         `json:"is_downloadable"`
	DefaultFormatID string       `json:"default_format_id,omitempty"`
	Formats         []FormatInfo `json:"formats"`
}

type DownloadRequest struct {
	URL            string `json:"url"`
	FormatID       string `json:"format_id,omitempty"`
	FormatHasAudio *bool  `json:"format_has_audio,omitempty"`
	FormatHasVideo *bool  `json:"format_has_video,omitempty"`
}

type DownloadInitResponse struct {
	TaskID string `json:"task_id"`
}

type TaskStatusResponse struct {
	TaskID          string     `json:"task_id"`
	Status          TaskStatus `json:"status"`
	Progress        *float64   `json:"progress"`
	DownloadedBytes *int64     `json:"downloaded_bytes"`
	TotalBytes      *int64     `json:"total_bytes"`
	Speed           *float64   `json:"speed"`
	ETA             *float64   `json:"eta"`
	Filename        string     `json:"filename,omitempty"`
	FormatExpr      string     `json:"format_expr,omitempty"`
	Detail          string     `json:"detail,omitempty"`
}

type DownloadResult struct {
	Filename  string
	MediaType string
	Size      int64
	Content   io.ReadCloser
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrTaskNotReady = errors.New("task not ready")
	ErrFileGone     = errors.New("result file no longer available")
)

// EngineError is a failure the extraction engine itself reported, as opposed
// to this service failing to drive it.
type EngineError struct {
	Msg string
	Err error
}

func (e *EngineError) Error() string { return e.Msg }

func (e *EngineError) Unwrap() error { return e.Err }

func copyBool(p *bool) *bool {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyInt64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyFloat64(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
