package usecase

import (
	"context"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/you-humble/mediafetch/internal/domain"
)

type TaskStore interface {
	Create(p domain.CreateTaskParams) domain.Task
	Task(id string) (domain.Task, bool)
	Delete(id string)
}

type MediaProber interface {
	Probe(ctx context.Context, url string) (domain.MediaInfo, error)
}

type JobRunner interface {
	Dispatch(task domain.Task)
}

type usecase struct {
	taskStore TaskStore
	prober    MediaProber
	runner    JobRunner
}

func New(taskStore TaskStore, prober MediaProber, runner JobRunner) *usecase {
	return &usecase{
		taskStore: taskStore,
		prober:    prober,
		runner:    runner,
	}
}

func (uc *usecase) Probe(ctx context.Context, url string) (domain.ProbeResponse, error) {
	info, err := uc.prober.Probe(ctx, url)
	if err != nil {
		return domain.ProbeResponse{}, err
	}

	formats := make([]domain.FormatInfo, 0, len(info.Formats))
	for _, f := range info.Formats {
		formats = append(formats, domain.FormatInfo{
			FormatID:       f.ID,
			Ext:            f.Ext,
			Resolution:     f.Resolution,
			FPS:            f.FPS,
			Filesize:       f.Filesize,
			FilesizeApprox: f.FilesizeApprox,
			FormatNote:     f.Note,
			ABR:            f.ABR,
			VBR:            f.VBR,
			ACodec:         f.ACodec,
			VCodec:         f.VCodec,
			HasAudio:       f.HasAudio,
			HasVideo:       f.HasVideo,
		})
	}
	sortFormats(formats)

	return domain.ProbeResponse{
		URL:             url,
		Title:           info.Title,
		Duration:        info.Duration,
		Uploader:        info.Uploader,
		Extractor:       info.Extractor,
		Thumbnail:       info.Thumbnail,
		IsDownloadable:  info.Downloadable(),
		DefaultFormatID: info.DefaultFormatID,
		Formats:         formats,
	}, nil
}

// StartDownload registers the task and hands it to the runner. The job is
// not awaited, its fate is visible only through polling.
func (uc *usecase) StartDownload(ctx context.Context, req domain.DownloadRequest) (string, error) {
	task := uc.taskStore.Create(domain.CreateTaskParams{
		URL:            req.URL,
		FormatID:       req.FormatID,
		FormatHasAudio: req.FormatHasAudio,
		FormatHasVideo: req.FormatHasVideo,
	})

	slog.Debug("task created", slog.String("task_id", task.ID), slog.String("url", task.URL))
	uc.runner.Dispatch(task)

	return task.ID, nil
}

func (uc *usecase) GetProgress(ctx context.Context, taskID string) (domain.TaskStatusResponse, error) {
	task, ok := uc.taskStore.Task(taskID)
	if !ok {
		return domain.TaskStatusResponse{}, domain.ErrTaskNotFound
	}

	return domain.TaskStatusResponse{
		TaskID:          task.ID,
		Status:          task.Status,
		Progress:        task.Progress,
		DownloadedBytes: task.DownloadedBytes,
		TotalBytes:      task.TotalBytes,
		Speed:           task.Speed,
		ETA:             task.ETA,
		Filename:        task.Filename,
		FormatExpr:      task.FormatExpr,
		Detail:          task.Detail,
	}, nil
}

func (uc *usecase) GetResultFile(ctx context.Context, taskID string) (domain.DownloadResult, error) {
	task, ok := uc.taskStore.Task(taskID)
	if !ok {
		return domain.DownloadResult{}, domain.ErrTaskNotFound
	}

	if task.Status != domain.StatusFinished || task.FilePath == "" {
		return domain.DownloadResult{}, domain.ErrTaskNotReady
	}

	f, err := os.Open(task.FilePath)
	if err != nil {
		// the artifact vanished under a finished record, purge the record
		slog.Warn("result file gone",
			slog.String("task_id", taskID),
			slog.String("path", task.FilePath),
			slog.String("error", err.Error()),
		)
		uc.Discard(ctx, taskID)
		return domain.DownloadResult{}, domain.ErrFileGone
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		uc.Discard(ctx, taskID)
		return domain.DownloadResult{}, domain.ErrFileGone
	}

	filename := task.Filename
	if filename == "" {
		filename = filepath.Base(task.FilePath)
	}

	return domain.DownloadResult{
		Filename:  filename,
		MediaType: mediaType(filename),
		Size:      fi.Size(),
		Content:   f,
	}, nil
}

// Discard removes the record first and the artifacts after, so no reader can
// observe a record whose files are already being reclaimed.
func (uc *usecase) Discard(ctx context.Context, taskID string) {
	task, ok := uc.taskStore.Task(taskID)
	if !ok {
		return
	}

	uc.taskStore.Delete(taskID)

	if task.FilePath != "" {
		if err := os.Remove(task.FilePath); err != nil && !os.IsNotExist(err) {
			slog.Warn("remove result file", slog.String("task_id", taskID), slog.String("error", err.Error()))
		}
	}
	if task.TempDir != "" {
		if err := os.RemoveAll(task.TempDir); err != nil {
			slog.Warn("remove workspace", slog.String("task_id", taskID), slog.String("error", err.Error()))
		}
	}

	slog.Debug("task discarded", slog.String("task_id", taskID))
}

// sortFormats orders formats the way clients pick them: audio-capable
// streams first, then taller resolutions, then higher bitrate.
func sortFormats(formats []domain.FormatInfo) {
	sort.SliceStable(formats, func(i, j int) bool {
		a, b := formats[i], formats[j]
		if a.HasAudio != b.HasAudio {
			return a.HasAudio
		}
		ah, bh := resolutionHeight(a.Resolution), resolutionHeight(b.Resolution)
		if ah != bh {
			return ah > bh
		}
		return bitrate(a.VBR) > bitrate(b.VBR)
	})
}

func resolutionHeight(resolution string) int {
	_, h, ok := strings.Cut(resolution, "x")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(h)
	if err != nil {
		return 0
	}
	return n
}

func bitrate(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func mediaType(filename string) string {
	if mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); mt != "" {
		return mt
	}
	return "application/octet-stream"
}
