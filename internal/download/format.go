package download

import (
	"context"

	"github.com/you-humble/mediafetch/internal/domain"
)

// Selector expressions understood by the extraction engine.
const (
	defaultFormatExpr = "bv*+ba/best"
	bestAudioFallback = "bestaudio/best"
)

type MediaProber interface {
	Probe(ctx context.Context, url string) (domain.MediaInfo, error)
}

// resolveFormatExpr decides the selector expression handed to the engine.
// When the caller cannot confirm the chosen format carries audio, the source
// is re-probed to find a matching audio-only stream to merge in. Probing is
// best effort: a failed probe degrades to a generic best-audio pairing and
// never stops the job.
func resolveFormatExpr(ctx context.Context, prober MediaProber, url, formatID string, hasAudio, hasVideo *bool) string {
	if formatID == "" {
		return defaultFormatExpr
	}
	if hasAudio != nil && *hasAudio {
		return formatID
	}
	if hasVideo != nil && !*hasVideo {
		return formatID
	}

	needsAudio := hasAudio != nil && !*hasAudio

	if hasAudio == nil || (needsAudio && hasVideo == nil) {
		info, err := prober.Probe(ctx, url)
		if err != nil {
			return formatID + "+" + bestAudioFallback
		}

		selected, ok := findFormat(info.Formats, formatID)
		if !ok {
			return formatID
		}
		if selected.HasAudio || !selected.HasVideo {
			return formatID
		}

		if audio, ok := findAudioOnly(info.Formats, formatID); ok {
			return formatID + "+" + audio.ID
		}
		return formatID + "+" + bestAudioFallback
	}

	if needsAudio {
		return formatID + "+" + bestAudioFallback
	}

	return formatID
}

func findFormat(formats []domain.MediaFormat, id string) (domain.MediaFormat, bool) {
	for _, f := range formats {
		if f.ID == id {
			return f, true
		}
	}
	return domain.MediaFormat{}, false
}

// findAudioOnly returns the first stream that carries audio without video,
// skipping the format the caller already selected.
func findAudioOnly(formats []domain.MediaFormat, skipID string) (domain.MediaFormat, bool) {
	for _, f := range formats {
		if f.ID == skipID {
			continue
		}
		if f.HasAudio && !f.HasVideo {
			return f, true
		}
	}
	return domain.MediaFormat{}, false
}
