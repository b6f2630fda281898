package download

import (
	"path/filepath"

	"github.com/you-humble/mediafetch/internal/domain"
)

// reduceDownloading folds a raw engine tick into a store patch. The total
// preference order is: a total the record already knows, then an exact total
// from the event, then the engine's estimate. Counters that arrive negative
// degrade to unknown instead of failing the job.
func reduceDownloading(prevTotal *int64, ev domain.ProgressEvent) domain.ProgressPatch {
	total := pickTotal(prevTotal, ev.TotalBytes, ev.TotalBytesEstimate)
	downloaded := sanitizeBytes(ev.DownloadedBytes)

	var progress *float64
	if total != nil && downloaded != nil && *total > 0 {
		f := float64(*downloaded) / float64(*total)
		if f > 1 {
			f = 1
		}
		progress = &f
	}

	return domain.ProgressPatch{
		Downloaded: downloaded,
		Total:      total,
		Progress:   progress,
		Speed:      ev.Speed,
		ETA:        ev.ETA,
	}
}

// reduceFinished turns the terminal engine event into the finished patch.
// The byte count prefers a positive total over the running counter, the
// filename is derived from the artifact path.
func reduceFinished(ev domain.ProgressEvent, tempDir string) domain.ResultPatch {
	downloaded := sanitizeBytes(ev.DownloadedBytes)
	if t := sanitizeBytes(ev.TotalBytes); t != nil && *t > 0 {
		downloaded = t
	}

	var filename string
	if ev.Path != "" {
		filename = filepath.Base(ev.Path)
	}

	return domain.ResultPatch{
		Downloaded: downloaded,
		Filename:   filename,
		FilePath:   ev.Path,
		TempDir:    tempDir,
	}
}

func pickTotal(prev, exact, estimate *int64) *int64 {
	switch {
	case prev != nil:
		return sanitizeBytes(prev)
	case exact != nil:
		return sanitizeBytes(exact)
	default:
		return sanitizeBytes(estimate)
	}
}

func sanitizeBytes(v *int64) *int64 {
	if v == nil || *v < 0 {
		return nil
	}
	n := *v
	return &n
}
