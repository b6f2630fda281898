package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/you-humble/mediafetch/internal/domain"

	"github.com/lrstanley/go-ytdlp"
)

// Config tunes the yt-dlp invocations.
type Config struct {
	// ProgressInterval is how often download callbacks fire.
	ProgressInterval time.Duration
	// MergeFormat is the container merged/recoded outputs end up in.
	// Empty disables remuxing.
	MergeFormat string
}

// YTDLP drives the yt-dlp binary through go-ytdlp and translates its output
// into domain terms.
type YTDLP struct {
	progressInterval time.Duration
	mergeFormat      string
}

func New(cfg Config) *YTDLP {
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 500 * time.Millisecond
	}

	return &YTDLP{
		progressInterval: cfg.ProgressInterval,
		mergeFormat:      cfg.MergeFormat,
	}
}

// Install provisions a yt-dlp binary for the current platform if none is
// available on PATH. Panics on failure, call it only during startup.
func Install(ctx context.Context) {
	ytdlp.MustInstall(ctx, nil)
}

// Probe extracts source metadata without downloading anything. Playlist URLs
// are expanded so the caller can tell an empty playlist from a media page.
func (y *YTDLP) Probe(ctx context.Context, url string) (domain.MediaInfo, error) {
	cmd := ytdlp.New().
		SkipDownload().
		DumpSingleJSON().
		RestrictFilenames().
		NoCheckCertificates().
		Quiet().
		NoWarnings()

	res, err := cmd.Run(ctx, url)
	if err != nil {
		return domain.MediaInfo{}, classifyRunErr(res, err)
	}

	return parseProbeOutput([]byte(res.Stdout))
}

// Download fetches the job's URL into the job directory, reporting raw
// progress through sink. After a successful run exactly one finished event
// follows, carrying the artifact path.
func (y *YTDLP) Download(ctx context.Context, job domain.DownloadJob, sink func(ev domain.ProgressEvent)) error {
	cmd := ytdlp.New().
		Output(filepath.Join(job.Dir, "%(title)s.%(ext)s")).
		RestrictFilenames().
		NoPlaylist().
		ForceOverwrites().
		NoCheckCertificates().
		Quiet().
		NoWarnings()

	if job.FormatExpr != "" {
		cmd.Format(job.FormatExpr)
	}
	if y.mergeFormat != "" {
		cmd.MergeOutputFormat(y.mergeFormat)
		cmd.RecodeVideo(y.mergeFormat)
	}

	// Callbacks arrive on the library's reader goroutine and may still be in
	// flight when Run returns, so the last sample is locked.
	var mu sync.Mutex
	var lastDownloaded, lastTotal *int64

	cmd.ProgressFunc(y.progressInterval, func(update ytdlp.ProgressUpdate) {
		ev := progressEvent(update)

		mu.Lock()
		lastDownloaded = ev.DownloadedBytes
		lastTotal = ev.TotalBytes
		mu.Unlock()

		sink(ev)
	})

	res, err := cmd.Run(ctx, job.URL)
	if err != nil {
		return classifyRunErr(res, err)
	}

	path := artifactPath(res, job.Dir)
	if path == "" {
		return fmt.Errorf("engine reported success but left no output file in %s", job.Dir)
	}

	mu.Lock()
	fin := domain.ProgressEvent{
		Kind:            domain.EventFinished,
		DownloadedBytes: lastDownloaded,
		TotalBytes:      lastTotal,
		Path:            path,
	}
	mu.Unlock()

	sink(fin)
	return nil
}

// progressEvent converts one engine callback into a raw domain event. The
// callback exposes a single byte total, so exact and estimated totals are
// not distinguished here; speed is derived from elapsed wall time.
func progressEvent(update ytdlp.ProgressUpdate) domain.ProgressEvent {
	downloaded := int64(update.DownloadedBytes)

	ev := domain.ProgressEvent{
		Kind:            domain.EventDownloading,
		DownloadedBytes: &downloaded,
	}

	if total := int64(update.TotalBytes); total > 0 {
		ev.TotalBytes = &total
	}

	if !update.Started.IsZero() && downloaded > 0 {
		if elapsed := time.Since(update.Started).Seconds(); elapsed > 0 {
			speed := float64(downloaded) / elapsed
			ev.Speed = &speed
		}
		if eta := update.ETA(); eta > 0 {
			secs := eta.Seconds()
			ev.ETA = &secs
		}
	}

	return ev
}

// artifactPath locates the produced file: the engine's own extracted info
// when it names one, otherwise the largest file left in the workspace.
func artifactPath(res *ytdlp.Result, dir string) string {
	if info, err := res.GetExtractedInfo(); err == nil && len(info) > 0 {
		if info[0].Filename != nil && *info[0].Filename != "" {
			return *info[0].Filename
		}
	}

	return largestFile(dir)
}

// largestFile picks the biggest regular file in the workspace, skipping
// partial-download leftovers.
func largestFile(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}

	var best string
	bestSize := int64(-1)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".ytdl") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		if fi.Size() > bestSize {
			best = filepath.Join(dir, name)
			bestSize = fi.Size()
		}
	}

	return best
}

// classifyRunErr separates failures the engine itself reported from failures
// launching or driving it. A non-nil result means yt-dlp actually ran, its
// last ERROR line is the message users should see.
func classifyRunErr(res *ytdlp.Result, err error) error {
	if res == nil {
		return fmt.Errorf("run yt-dlp: %w", err)
	}

	msg := lastErrorLine(res.Stderr)
	if msg == "" {
		msg = err.Error()
	}

	return &domain.EngineError{Msg: msg, Err: err}
}

func lastErrorLine(stderr string) string {
	var last string
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "ERROR:"); ok {
			last = strings.TrimSpace(rest)
		}
	}
	return last
}

// rawInfo mirrors the fields of yt-dlp's single-JSON dump this service
// reads. Numeric fields come in as floats, yt-dlp is not strict about them.
type rawInfo struct {
	Type      string            `json:"_type"`
	Title     string            `json:"title"`
	Duration  *float64          `json:"duration"`
	Uploader  string            `json:"uploader"`
	Extractor string            `json:"extractor"`
	Thumbnail string            `json:"thumbnail"`
	FormatID  string            `json:"format_id"`
	Formats   []rawFormat       `json:"formats"`
	Entries   []json.RawMessage `json:"entries"`
}

type rawFormat struct {
	FormatID       string   `json:"format_id"`
	Ext            string   `json:"ext"`
	Width          *float64 `json:"width"`
	Height         *float64 `json:"height"`
	Resolution     string   `json:"resolution"`
	FPS            *float64 `json:"fps"`
	Filesize       *float64 `json:"filesize"`
	FilesizeApprox *float64 `json:"filesize_approx"`
	FormatNote     string   `json:"format_note"`
	ABR            *float64 `json:"abr"`
	TBR            *float64 `json:"tbr"`
	ACodec         *string  `json:"acodec"`
	VCodec         *string  `json:"vcodec"`
}

func parseProbeOutput(data []byte) (domain.MediaInfo, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return domain.MediaInfo{}, &domain.EngineError{Msg: "no information returned for URL"}
	}

	var raw rawInfo
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.MediaInfo{}, fmt.Errorf("decode probe output: %w", err)
	}

	info := domain.MediaInfo{
		Title:           raw.Title,
		Duration:        raw.Duration,
		Uploader:        raw.Uploader,
		Extractor:       raw.Extractor,
		Thumbnail:       raw.Thumbnail,
		IsPlaylist:      raw.Type == "playlist",
		HasEntries:      len(raw.Entries) > 0,
		DefaultFormatID: raw.FormatID,
	}

	for _, f := range raw.Formats {
		if f.FormatID == "" {
			continue
		}
		info.Formats = append(info.Formats, mapFormat(f))
	}

	return info, nil
}

func mapFormat(f rawFormat) domain.MediaFormat {
	resolution := f.Resolution
	if f.Width != nil && f.Height != nil && *f.Width > 0 && *f.Height > 0 {
		resolution = fmt.Sprintf("%dx%d", int(*f.Width), int(*f.Height))
	}

	return domain.MediaFormat{
		ID:             f.FormatID,
		Ext:            f.Ext,
		Resolution:     resolution,
		FPS:            f.FPS,
		Filesize:       sizeToBytes(f.Filesize),
		FilesizeApprox: sizeToBytes(f.FilesizeApprox),
		Note:           f.FormatNote,
		ABR:            f.ABR,
		VBR:            f.TBR,
		ACodec:         codecString(f.ACodec),
		VCodec:         codecString(f.VCodec),
		HasAudio:       hasCodec(f.ACodec),
		HasVideo:       hasCodec(f.VCodec),
	}
}

func hasCodec(c *string) bool {
	return c != nil && *c != "" && *c != "none"
}

func codecString(c *string) string {
	if c == nil {
		return ""
	}
	return *c
}

func sizeToBytes(v *float64) *int64 {
	if v == nil || *v <= 0 {
		return nil
	}
	n := int64(*v)
	return &n
}
