package download

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/you-humble/mediafetch/internal/domain"

	"golang.org/x/sync/semaphore"
)

const workspacePattern = "mediafetch-*"

type TaskStore interface {
	Task(id string) (domain.Task, bool)
	SetFormatExpr(id, expr string)
	MarkDownloading(id string)
	ApplyProgress(id string, p domain.ProgressPatch)
	MarkFinished(id string, r domain.ResultPatch)
	MarkError(id, detail string)
	SetTempDir(id, dir string)
}

type Engine interface {
	MediaProber
	Download(ctx context.Context, job domain.DownloadJob, sink func(ev domain.ProgressEvent)) error
}

// Runner drives one download job from format resolution to a terminal task
// status. Jobs are fire-and-forget: Dispatch returns immediately and nothing
// ever awaits the job, its outcome lives only on the task record.
type Runner struct {
	ctx     context.Context
	store   TaskStore
	engine  Engine
	workDir string
	sem     *semaphore.Weighted
}

// NewRunner wires a runner to the app-lifetime context. maxConcurrent bounds
// the number of jobs running at once; zero means unbounded.
func NewRunner(ctx context.Context, store TaskStore, engine Engine, workDir string, maxConcurrent int64) *Runner {
	var sem *semaphore.Weighted
	if maxConcurrent > 0 {
		sem = semaphore.NewWeighted(maxConcurrent)
	}

	return &Runner{
		ctx:     ctx,
		store:   store,
		engine:  engine,
		workDir: workDir,
		sem:     sem,
	}
}

func (r *Runner) Dispatch(task domain.Task) {
	go func() {
		if r.sem != nil {
			if err := r.sem.Acquire(r.ctx, 1); err != nil {
				r.store.MarkError(task.ID, "canceled before start: "+err.Error())
				return
			}
			defer r.sem.Release(1)
		}

		r.run(task)
	}()
}

func (r *Runner) run(task domain.Task) {
	logger := slog.With(
		slog.String("task_id", task.ID),
		slog.String("url", task.URL),
	)

	dir, err := os.MkdirTemp(r.workDir, workspacePattern)
	if err != nil {
		logger.Error("create workspace", slog.String("error", err.Error()))
		r.store.MarkError(task.ID, "cannot allocate workspace: "+err.Error())
		return
	}

	defer r.finalize(task.ID, dir, logger)

	expr := resolveFormatExpr(r.ctx, r.engine, task.URL, task.FormatID, task.FormatHasAudio, task.FormatHasVideo)
	r.store.SetFormatExpr(task.ID, expr)
	r.store.MarkDownloading(task.ID)

	logger.Info("download start", slog.String("format_expr", expr))

	err = r.engine.Download(r.ctx, domain.DownloadJob{
		URL:        task.URL,
		FormatExpr: expr,
		Dir:        dir,
	}, func(ev domain.ProgressEvent) {
		r.apply(task.ID, dir, ev)
	})
	if err == nil {
		logger.Info("download done")
		return
	}

	var engErr *domain.EngineError
	if errors.As(err, &engErr) {
		logger.Debug("engine reported failure", slog.String("error", engErr.Error()))
		r.store.MarkError(task.ID, engErr.Error())
		return
	}

	// not part of the engine's failure vocabulary, worth operator attention
	logger.Error("unexpected download failure", slog.String("error", err.Error()))
	r.store.MarkError(task.ID, err.Error())
}

func (r *Runner) apply(id, dir string, ev domain.ProgressEvent) {
	switch ev.Kind {
	case domain.EventDownloading:
		task, ok := r.store.Task(id)
		if !ok {
			return
		}
		r.store.ApplyProgress(id, reduceDownloading(task.TotalBytes, ev))
	case domain.EventFinished:
		r.store.MarkFinished(id, reduceFinished(ev, dir))
	}
}

// finalize reclaims the workspace unless a finished record still needs it to
// serve the artifact. A record that vanished mid-run leaves the runner as the
// last owner of the directory.
func (r *Runner) finalize(id, dir string, logger *slog.Logger) {
	task, ok := r.store.Task(id)
	if !ok || task.Status != domain.StatusFinished {
		removeDir(dir, logger)
		return
	}

	r.store.SetTempDir(id, dir)
}

func removeDir(dir string, logger *slog.Logger) {
	if err := os.RemoveAll(dir); err != nil {
		logger.Warn("remove workspace", slog.String("dir", dir), slog.String("error", err.Error()))
	}
}
