package taskstore

import (
	"sync"
	"time"

	"github.com/you-humble/mediafetch/internal/domain"

	"github.com/google/uuid"
)

// Store keeps every task record in process memory behind a single lock.
// Records live until they are explicitly deleted; restarts lose everything,
// which is fine for downloads that are fetched right after they finish.
type Store struct {
	mu    sync.Mutex
	tasks map[string]*domain.Task
}

func New() *Store {
	return &Store{tasks: make(map[string]*domain.Task)}
}

func (s *Store) Create(p domain.CreateTaskParams) domain.Task {
	now := time.Now()
	t := &domain.Task{
		ID:              uuid.NewString(),
		URL:             p.URL,
		FormatID:        p.FormatID,
		FormatHasAudio:  copyBool(p.FormatHasAudio),
		FormatHasVideo:  copyBool(p.FormatHasVideo),
		Status:          domain.StatusPending,
		Progress:        ptrFloat64(0),
		DownloadedBytes: ptrInt64(0),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	s.mu.Lock()
	s.tasks[t.ID] = t
	s.mu.Unlock()

	return t.Clone()
}

// Task returns a snapshot of the record; callers can mutate it freely.
func (s *Store) Task(id string) (domain.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, false
	}

	return t.Clone(), true
}

func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.tasks, id)
	s.mu.Unlock()
}

func (s *Store) SetFormatExpr(id, expr string) {
	s.update(id, func(t *domain.Task) {
		t.FormatExpr = expr
	})
}

// MarkDownloading moves the task into the downloading state with every
// counter reset, so a poll right after never shows stale numbers.
func (s *Store) MarkDownloading(id string) {
	s.update(id, func(t *domain.Task) {
		t.Status = domain.StatusDownloading
		t.Progress = ptrFloat64(0)
		t.DownloadedBytes = ptrInt64(0)
		t.TotalBytes = nil
		t.Speed = nil
		t.ETA = nil
		t.Detail = ""
	})
}

// ApplyProgress folds one tick into the record. The total survives ticks that
// do not carry one, and the progress fraction never goes backwards.
func (s *Store) ApplyProgress(id string, p domain.ProgressPatch) {
	s.update(id, func(t *domain.Task) {
		t.Status = domain.StatusDownloading
		t.DownloadedBytes = copyInt64(p.Downloaded)
		t.Speed = copyFloat64(p.Speed)
		t.ETA = copyFloat64(p.ETA)

		if p.Total != nil {
			t.TotalBytes = copyInt64(p.Total)
		}
		if p.Progress != nil && (t.Progress == nil || *p.Progress >= *t.Progress) {
			t.Progress = copyFloat64(p.Progress)
		}
	})
}

func (s *Store) MarkFinished(id string, r domain.ResultPatch) {
	s.update(id, func(t *domain.Task) {
		t.Status = domain.StatusFinished
		t.Progress = ptrFloat64(1)
		if r.Downloaded != nil {
			t.DownloadedBytes = copyInt64(r.Downloaded)
		}
		t.Filename = r.Filename
		t.FilePath = r.FilePath
		t.TempDir = r.TempDir
	})
}

func (s *Store) MarkError(id, detail string) {
	s.update(id, func(t *domain.Task) {
		t.Status = domain.StatusError
		t.Detail = detail
	})
}

// SetTempDir records the workspace that still holds the finished artifact.
// Unlike the other mutators it is allowed on a finished task, because the
// runner registers the directory after the terminal transition.
func (s *Store) SetTempDir(id, dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.Status == domain.StatusError {
		return
	}

	t.TempDir = dir
	t.UpdatedAt = time.Now()
}

// update runs fn under the lock. Missing records and records that already
// reached a terminal status are left untouched.
func (s *Store) update(id string, fn func(t *domain.Task)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.Status.IsTerminal() {
		return
	}

	fn(t)
	t.UpdatedAt = time.Now()
}

func ptrInt64(v int64) *int64 { return &v }

func ptrFloat64(v float64) *float64 { return &v }

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
