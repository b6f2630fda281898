package usecase

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/you-humble/mediafetch/internal/domain"
	"github.com/you-humble/mediafetch/internal/download"
	taskstore "github.com/you-humble/mediafetch/internal/infra/store/task"
)

func ptrInt64(v int64) *int64 { return &v }

func ptrFloat64(v float64) *float64 { return &v }

type fakeProber struct {
	info domain.MediaInfo
	err  error
}

func (f *fakeProber) Probe(ctx context.Context, url string) (domain.MediaInfo, error) {
	return f.info, f.err
}

type captureRunner struct {
	dispatched []domain.Task
}

func (r *captureRunner) Dispatch(task domain.Task) {
	r.dispatched = append(r.dispatched, task)
}

// fakeEngine replays ticks, optionally blocks, then emits a finished event
// whose artifact it materializes inside the job workspace.
type fakeEngine struct {
	probeInfo domain.MediaInfo
	probeErr  error

	ticks  []domain.ProgressEvent
	finish domain.ProgressEvent
	runErr error

	started chan string
	release chan struct{}
}

func (e *fakeEngine) Probe(ctx context.Context, url string) (domain.MediaInfo, error) {
	return e.probeInfo, e.probeErr
}

func (e *fakeEngine) Download(ctx context.Context, job domain.DownloadJob, sink func(ev domain.ProgressEvent)) error {
	if e.started != nil {
		e.started <- job.Dir
	}
	for _, ev := range e.ticks {
		sink(ev)
	}
	if e.release != nil {
		<-e.release
	}
	if e.finish.Kind == domain.EventFinished {
		ev := e.finish
		if ev.Path != "" {
			path := filepath.Join(job.Dir, ev.Path)
			if err := os.WriteFile(path, []byte("media payload"), 0o644); err != nil {
				return err
			}
			ev.Path = path
		}
		sink(ev)
	}
	return e.runErr
}

func TestProbe_MapsAndSortsFormats(t *testing.T) {
	prober := &fakeProber{info: domain.MediaInfo{
		Title:           "Some Clip",
		Duration:        ptrFloat64(90),
		Uploader:        "someone",
		Extractor:       "youtube",
		DefaultFormatID: "22",
		Formats: []domain.MediaFormat{
			{ID: "137", Resolution: "1920x1080", VBR: ptrFloat64(4000), HasVideo: true},
			{ID: "140", Resolution: "audio only", ABR: ptrFloat64(129), HasAudio: true},
			{ID: "22", Resolution: "1280x720", VBR: ptrFloat64(2000), HasAudio: true, HasVideo: true},
			{ID: "136", Resolution: "1280x720", VBR: ptrFloat64(2500), HasVideo: true},
		},
	}}
	uc := New(taskstore.New(), prober, &captureRunner{})

	resp, err := uc.Probe(context.Background(), "https://example.com/v")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}

	if resp.URL != "https://example.com/v" || resp.Title != "Some Clip" {
		t.Fatalf("metadata: %+v", resp)
	}
	if !resp.IsDownloadable {
		t.Fatalf("plain video must be downloadable")
	}
	if resp.DefaultFormatID != "22" {
		t.Fatalf("default format: got %q", resp.DefaultFormatID)
	}

	// audio first (720p beats audio-only on height), then by height, then bitrate
	wantOrder := []string{"22", "140", "137", "136"}
	for i, want := range wantOrder {
		if resp.Formats[i].FormatID != want {
			t.Fatalf("order[%d]: want %s got %s (full: %+v)", i, want, resp.Formats[i].FormatID, resp.Formats)
		}
	}
}

func TestProbe_EmptyPlaylistNotDownloadable(t *testing.T) {
	prober := &fakeProber{info: domain.MediaInfo{Title: "Mix", IsPlaylist: true}}
	uc := New(taskstore.New(), prober, &captureRunner{})

	resp, err := uc.Probe(context.Background(), "https://example.com/list")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if resp.IsDownloadable {
		t.Fatalf("empty playlist must not be downloadable")
	}
}

func TestProbe_ErrorPassthrough(t *testing.T) {
	prober := &fakeProber{err: &domain.EngineError{Msg: "Unsupported URL"}}
	uc := New(taskstore.New(), prober, &captureRunner{})

	_, err := uc.Probe(context.Background(), "ftp://nope")
	var engErr *domain.EngineError
	if !errors.As(err, &engErr) || engErr.Msg != "Unsupported URL" {
		t.Fatalf("want engine error passthrough, got %v", err)
	}
}

func TestStartDownload_CreatesAndDispatches(t *testing.T) {
	store := taskstore.New()
	runner := &captureRunner{}
	uc := New(store, &fakeProber{}, runner)

	audio := false
	taskID, err := uc.StartDownload(context.Background(), domain.DownloadRequest{
		URL:            "https://example.com/v",
		FormatID:       "137",
		FormatHasAudio: &audio,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	task, ok := store.Task(taskID)
	if !ok {
		t.Fatalf("record missing after start")
	}
	if task.Status != domain.StatusPending {
		t.Fatalf("want pending got %s", task.Status)
	}

	if len(runner.dispatched) != 1 {
		t.Fatalf("want one dispatch got %d", len(runner.dispatched))
	}
	got := runner.dispatched[0]
	if got.ID != taskID || got.URL != "https://example.com/v" || got.FormatID != "137" {
		t.Fatalf("dispatched task: %+v", got)
	}
	if got.FormatHasAudio == nil || *got.FormatHasAudio {
		t.Fatalf("audio hint lost: %v", got.FormatHasAudio)
	}
}

func TestGetProgress(t *testing.T) {
	store := taskstore.New()
	uc := New(store, &fakeProber{}, &captureRunner{})
	ctx := context.Background()

	if _, err := uc.GetProgress(ctx, "unknown"); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Fatalf("want ErrTaskNotFound got %v", err)
	}

	task := store.Create(domain.CreateTaskParams{URL: "https://example.com/v"})
	store.SetFormatExpr(task.ID, "137+140")
	store.MarkDownloading(task.ID)
	store.ApplyProgress(task.ID, domain.ProgressPatch{
		Downloaded: ptrInt64(30),
		Total:      ptrInt64(100),
		Progress:   ptrFloat64(0.3),
		Speed:      ptrFloat64(2048),
	})

	resp, err := uc.GetProgress(ctx, task.ID)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if resp.TaskID != task.ID || resp.Status != domain.StatusDownloading {
		t.Fatalf("response: %+v", resp)
	}
	if resp.Progress == nil || *resp.Progress != 0.3 {
		t.Fatalf("progress: %v", resp.Progress)
	}
	if resp.TotalBytes == nil || *resp.TotalBytes != 100 {
		t.Fatalf("total: %v", resp.TotalBytes)
	}
	if resp.ETA != nil {
		t.Fatalf("eta must stay null when unreported, got %v", *resp.ETA)
	}
	if resp.FormatExpr != "137+140" {
		t.Fatalf("format expr: %q", resp.FormatExpr)
	}

	store.MarkError(task.ID, "network reset")
	resp, err = uc.GetProgress(ctx, task.ID)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if resp.Status != domain.StatusError || resp.Detail != "network reset" {
		t.Fatalf("error response: %+v", resp)
	}
}

func TestGetResultFile_NotReadyAndNotFound(t *testing.T) {
	store := taskstore.New()
	uc := New(store, &fakeProber{}, &captureRunner{})
	ctx := context.Background()

	if _, err := uc.GetResultFile(ctx, "unknown"); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Fatalf("want ErrTaskNotFound got %v", err)
	}

	task := store.Create(domain.CreateTaskParams{URL: "https://example.com/v"})
	if _, err := uc.GetResultFile(ctx, task.ID); !errors.Is(err, domain.ErrTaskNotReady) {
		t.Fatalf("pending task: want ErrTaskNotReady got %v", err)
	}

	store.MarkError(task.ID, "boom")
	if _, err := uc.GetResultFile(ctx, task.ID); !errors.Is(err, domain.ErrTaskNotReady) {
		t.Fatalf("errored task: want ErrTaskNotReady got %v", err)
	}
}

func TestGetResultFile_ServesArtifact(t *testing.T) {
	store := taskstore.New()
	uc := New(store, &fakeProber{}, &captureRunner{})
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(path, []byte("media payload"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	task := store.Create(domain.CreateTaskParams{URL: "https://example.com/v"})
	store.MarkDownloading(task.ID)
	store.MarkFinished(task.ID, domain.ResultPatch{Filename: "clip.mp4", FilePath: path, TempDir: dir})

	res, err := uc.GetResultFile(ctx, task.ID)
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	defer res.Content.Close()

	if res.Filename != "clip.mp4" {
		t.Fatalf("filename: %q", res.Filename)
	}
	if res.Size != int64(len("media payload")) {
		t.Fatalf("size: %d", res.Size)
	}
	if res.MediaType == "" {
		t.Fatalf("media type must never be empty")
	}

	data, err := io.ReadAll(res.Content)
	if err != nil || string(data) != "media payload" {
		t.Fatalf("content: %q err=%v", data, err)
	}

	// serving does not consume the task, only cleanup does
	if _, ok := store.Task(task.ID); !ok {
		t.Fatalf("record must survive a fetch")
	}
}

func TestGetResultFile_GonePurgesRecord(t *testing.T) {
	store := taskstore.New()
	uc := New(store, &fakeProber{}, &captureRunner{})
	ctx := context.Background()

	task := store.Create(domain.CreateTaskParams{URL: "https://example.com/v"})
	store.MarkDownloading(task.ID)
	store.MarkFinished(task.ID, domain.ResultPatch{Filename: "clip.mp4", FilePath: "/nonexistent/clip.mp4"})

	if _, err := uc.GetResultFile(ctx, task.ID); !errors.Is(err, domain.ErrFileGone) {
		t.Fatalf("want ErrFileGone got %v", err)
	}

	if _, ok := store.Task(task.ID); ok {
		t.Fatalf("record must be purged once its artifact is gone")
	}
	if _, err := uc.GetResultFile(ctx, task.ID); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Fatalf("after purge: want ErrTaskNotFound got %v", err)
	}
}

func TestDiscard(t *testing.T) {
	store := taskstore.New()
	uc := New(store, &fakeProber{}, &captureRunner{})
	ctx := context.Background()

	dir := filepath.Join(t.TempDir(), "job")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	task := store.Create(domain.CreateTaskParams{URL: "https://example.com/v"})
	store.MarkDownloading(task.ID)
	store.MarkFinished(task.ID, domain.ResultPatch{Filename: "clip.mp4", FilePath: path, TempDir: dir})

	uc.Discard(ctx, task.ID)

	if _, ok := store.Task(task.ID); ok {
		t.Fatalf("record survived discard")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("artifact survived discard: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("workspace survived discard: %v", err)
	}

	// unknown ids are silent no-ops
	uc.Discard(ctx, task.ID)
	uc.Discard(ctx, "unknown")
}

func TestDownloadLifecycle_EndToEnd(t *testing.T) {
	store := taskstore.New()
	engine := &fakeEngine{
		started: make(chan string, 1),
		release: make(chan struct{}),
		ticks: []domain.ProgressEvent{
			{Kind: domain.EventDownloading, DownloadedBytes: ptrInt64(10), TotalBytes: ptrInt64(100)},
			{Kind: domain.EventDownloading, DownloadedBytes: ptrInt64(50)},
		},
		finish: domain.ProgressEvent{
			Kind:            domain.EventFinished,
			DownloadedBytes: ptrInt64(100),
			TotalBytes:      ptrInt64(100),
			Path:            "clip.mp4",
		},
	}
	runner := download.NewRunner(context.Background(), store, engine, t.TempDir(), 0)
	uc := New(store, engine, runner)
	ctx := context.Background()

	taskID, err := uc.StartDownload(ctx, domain.DownloadRequest{URL: "https://example.com/v"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	<-engine.started

	// both ticks are in, the engine is now blocked mid download
	mid := waitProgress(t, uc, taskID, func(r domain.TaskStatusResponse) bool {
		return r.Status == domain.StatusDownloading && r.DownloadedBytes != nil && *r.DownloadedBytes == 50
	})
	if mid.TotalBytes == nil || *mid.TotalBytes != 100 {
		t.Fatalf("total must stick across tickless totals: %+v", mid)
	}
	if mid.Progress == nil || *mid.Progress != 0.5 {
		t.Fatalf("progress: %+v", mid)
	}
	if mid.FormatExpr != "bv*+ba/best" {
		t.Fatalf("default format expr: %q", mid.FormatExpr)
	}

	close(engine.release)

	done := waitProgress(t, uc, taskID, func(r domain.TaskStatusResponse) bool {
		return r.Status == domain.StatusFinished
	})
	if done.Progress == nil || *done.Progress != 1 {
		t.Fatalf("finished progress: %+v", done)
	}
	if done.Filename != "clip.mp4" {
		t.Fatalf("filename: %q", done.Filename)
	}

	res, err := uc.GetResultFile(ctx, taskID)
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	data, err := io.ReadAll(res.Content)
	res.Content.Close()
	if err != nil || string(data) != "media payload" {
		t.Fatalf("content: %q err=%v", data, err)
	}

	task, _ := store.Task(taskID)
	uc.Discard(ctx, taskID)

	if _, err := uc.GetResultFile(ctx, taskID); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Fatalf("after cleanup: want ErrTaskNotFound got %v", err)
	}
	if _, err := os.Stat(task.FilePath); !os.IsNotExist(err) {
		t.Fatalf("artifact survived cleanup: %v", err)
	}
	if _, err := os.Stat(task.TempDir); !os.IsNotExist(err) {
		t.Fatalf("workspace survived cleanup: %v", err)
	}
}

func waitProgress(t *testing.T, uc *usecase, taskID string, ok func(domain.TaskStatusResponse) bool) domain.TaskStatusResponse {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := uc.GetProgress(context.Background(), taskID)
		if err == nil && ok(resp) {
			return resp
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := uc.GetProgress(context.Background(), taskID)
	t.Fatalf("condition never met: resp=%+v err=%v", resp, err)
	return domain.TaskStatusResponse{}
}
