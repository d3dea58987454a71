package caption

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/dongyingyibadao/data-dealer-auto/internal/dataset"
	"github.com/dongyingyibadao/data-dealer-auto/internal/logging"
	"github.com/dongyingyibadao/data-dealer-auto/internal/segment"
)

// DefaultCheckpointInterval is the number of windows between checkpoints.
const DefaultCheckpointInterval = 10

// Labeler applies a Describer to every window.
type Labeler struct {
	Describer Describer
	// Fallback produces the label used when the describer fails.
	Fallback func(Request) string
	// Source supplies frames to image-aware describers.
	Source dataset.Source
	// Limiter paces remote calls; nil means unlimited.
	Limiter *rate.Limiter
	// CheckpointDir enables checkpoints when non-empty.
	CheckpointDir      string
	CheckpointInterval int
	Logger             *slog.Logger
	// OnFallback is called each time Fallback replaces a failed description.
	OnFallback func(req Request, err error)
}

// Stats summarises a Label call.
type Stats struct {
	Described int
	CacheHits int
	Fallbacks int
	Resumed   int
}

// NewLimiter converts a requests-per-minute budget into a limiter. A
// non-positive budget returns nil.
func NewLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
}

type cacheKey struct {
	kind     segment.Kind
	label    string
	keyframe int
}

// Label returns a copy of windows with NewTaskLabel filled. When resume names
// a checkpoint file, windows up to its last_index are taken from it.
func (l *Labeler) Label(ctx context.Context, windows []segment.Window, resume string) ([]segment.Window, Stats, error) {
	logger := logging.WithContext(ctx, logging.NewComponentLogger(l.Logger, "caption"))
	if l.Describer == nil {
		return nil, Stats{}, errors.New("no describer configured")
	}
	fallback := l.Fallback
	if fallback == nil {
		fallback = FallbackLabel
	}
	interval := l.CheckpointInterval
	if interval <= 0 {
		interval = DefaultCheckpointInterval
	}
	withImages := usesImages(l.Describer)

	out := make([]segment.Window, len(windows))
	copy(out, windows)
	cache := make(map[cacheKey]string)
	var stats Stats

	start := 0
	if resume != "" {
		cp, err := LoadCheckpoint(resume)
		switch {
		case err != nil:
			logger.Warn("checkpoint unreadable; starting from the first window",
				logging.Error(err),
				logging.String(logging.FieldEventType, "checkpoint_unreadable"),
				logging.String(logging.FieldImpact, "every window is described again"),
			)
		case cp.LastIndex+1 != len(cp.CompletedRanges) || len(cp.CompletedRanges) > len(windows):
			logger.Warn("checkpoint does not match the window list; starting from the first window",
				logging.Int("last_index", cp.LastIndex),
				logging.Int("completed", len(cp.CompletedRanges)),
				logging.Int("windows", len(windows)),
				logging.String(logging.FieldEventType, "checkpoint_mismatch"),
				logging.String(logging.FieldImpact, "every window is described again"),
			)
		default:
			for i, done := range cp.CompletedRanges {
				out[i].NewTaskLabel = done.NewTaskLabel
				cache[l.key(out[i], withImages)] = done.NewTaskLabel
			}
			start = len(cp.CompletedRanges)
			stats.Resumed = start
			logger.Info("resumed from checkpoint", logging.Int("completed", start), logging.Int("windows", len(windows)))
		}
	}

	sampler := logging.NewProgressSampler(10)
	for i := start; i < len(out); i++ {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		w := &out[i]
		key := l.key(*w, withImages)
		if label, ok := cache[key]; ok {
			w.NewTaskLabel = label
			stats.CacheHits++
		} else {
			label, err := l.describe(ctx, *w, withImages, fallback, &stats, logger)
			if err != nil {
				return nil, stats, err
			}
			cache[key] = label
			w.NewTaskLabel = label
			stats.Described++
		}

		if l.CheckpointDir != "" && ((i+1)%interval == 0 || i == len(out)-1) {
			cp := Checkpoint{CompletedRanges: out[:i+1], LastIndex: i, Total: len(out)}
			if err := SaveCheckpoint(l.CheckpointDir, cp); err != nil {
				return nil, stats, fmt.Errorf("save checkpoint: %w", err)
			}
		}
		if pct := logging.Percent(i+1, len(out)); sampler.ShouldLog(pct, "caption") {
			logger.Info("caption progress",
				logging.Float64(logging.FieldProgressPercent, pct),
				logging.Int("done", i+1),
				logging.Int("total", len(out)),
			)
		}
	}
	logger.Info("captions complete",
		logging.Int("described", stats.Described),
		logging.Int("cache_hits", stats.CacheHits),
		logging.Int("fallbacks", stats.Fallbacks),
		logging.Int("resumed", stats.Resumed),
	)
	return out, stats, nil
}

func (l *Labeler) key(w segment.Window, withImages bool) cacheKey {
	k := cacheKey{kind: w.Kind, label: w.TaskLabel, keyframe: -1}
	if withImages {
		k.keyframe = w.Keyframe
	}
	return k
}

func (l *Labeler) describe(ctx context.Context, w segment.Window, withImages bool, fallback func(Request) string, stats *Stats, logger *slog.Logger) (string, error) {
	req := Request{Kind: w.Kind, TaskLabel: w.TaskLabel, Keyframe: w.Keyframe, EpisodeID: w.EpisodeID}
	if withImages {
		req.Images = l.images(ctx, w, logger)
	}
	if l.Limiter != nil {
		if err := l.Limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	label, err := l.Describer.Describe(ctx, req)
	if err == nil {
		return label, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	label = fallback(req)
	stats.Fallbacks++
	logger.Warn("caption request failed; using fallback label",
		logging.Int("keyframe_index", w.Keyframe),
		logging.String("fallback", label),
		logging.Error(err),
		logging.String(logging.FieldEventType, "caption_fallback"),
		logging.String(logging.FieldErrorHint, "check caption provider credentials and connectivity"),
	)
	if l.OnFallback != nil {
		l.OnFallback(req, err)
	}
	return label, nil
}

// images loads the first, key and last frames of w. Frames that fail to
// read are left empty; the describer decides whether that is enough.
func (l *Labeler) images(ctx context.Context, w segment.Window, logger *slog.Logger) *ImageContext {
	if l.Source == nil || w.NumFrames() == 0 {
		return nil
	}
	ic := &ImageContext{}
	load := func(i int) dataset.Frame {
		f, err := l.Source.Frame(ctx, i)
		if err != nil {
			logger.Debug("caption frame unreadable", logging.Int(logging.FieldFrameIndex, i), logging.Error(err))
			return dataset.Frame{}
		}
		if ic.Ext == "" {
			ic.Ext = f.ImageExt
		}
		return f
	}
	first := load(w.Start)
	key := load(w.Keyframe)
	last := load(w.End - 1)
	ic.FirstCam1, ic.FirstCam2 = first.Image1, first.Image2
	ic.KeyCam1, ic.KeyCam2 = key.Image1, key.Image2
	ic.LastCam1, ic.LastCam2 = last.Image1, last.Image2
	return ic
}
