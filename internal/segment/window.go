package segment

import (
	"context"
	"log/slog"

	"github.com/dongyingyibadao/data-dealer-auto/internal/dataset"
	"github.com/dongyingyibadao/data-dealer-auto/internal/logging"
)

// Default window margins in frames.
const (
	DefaultBefore = 30
	DefaultAfter  = 30
)

// Extractor turns events into episode-confined windows.
type Extractor struct {
	Before int
	After  int
	// Episodes, when set, resolves episode bounds without walking the source.
	Episodes *dataset.EpisodeIndex
	Logger   *slog.Logger
}

// Extract produces one Window per event, in event order.
func (x *Extractor) Extract(ctx context.Context, src dataset.Source, events []Event) ([]Window, error) {
	logger := logging.WithContext(ctx, logging.NewComponentLogger(x.Logger, "window-extractor"))
	windows := make([]Window, 0, len(events))
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start, end := x.bounds(ctx, src, ev)
		windows = append(windows, Window{
			Keyframe:   ev.At,
			Kind:       ev.Kind,
			Start:      start,
			End:        end,
			EpisodeID:  ev.EpisodeID,
			LocalIndex: ev.LocalIndex,
			TaskLabel:  ev.TaskLabel,
			TaskIndex:  ev.TaskIndex,
			Prev:       ev.Prev,
			Curr:       ev.Curr,
		})
	}
	logger.Info("windows extracted", logging.Int("windows", len(windows)))
	return windows, nil
}

func (x *Extractor) bounds(ctx context.Context, src dataset.Source, ev Event) (int, int) {
	before, after := x.Before, x.After
	if before < 0 {
		before = 0
	}
	if after < 0 {
		after = 0
	}

	span, indexed := x.Episodes.Bounds(ev.At)
	indexed = indexed && span.Episode == ev.EpisodeID

	var episodeStart int
	switch {
	case ev.LocalIndex >= 0 && ev.LocalIndex <= ev.At:
		episodeStart = ev.At - ev.LocalIndex
	case indexed:
		episodeStart = span.Start
	default:
		episodeStart = walkBackward(ctx, src, ev.At, ev.EpisodeID)
	}
	start := max(episodeStart, ev.At-before)

	var end int
	if indexed {
		end = min(ev.At+1+after, span.End)
	} else {
		end = walkForward(ctx, src, ev.At, after, ev.EpisodeID)
	}
	return start, end
}

// walkBackward returns the first position of the run of frames ending at at
// that share episode. An unreadable predecessor ends the walk.
func walkBackward(ctx context.Context, src dataset.Source, at, episode int) int {
	start := at
	for start > 0 {
		frame, err := dataset.ReadMeta(ctx, src, start-1)
		if err != nil || frame.EpisodeID != episode {
			break
		}
		start--
	}
	return start
}

// walkForward steps from at+1 up to after positions and returns the exclusive
// end, stopping at the dataset end or the first frame of another episode.
func walkForward(ctx context.Context, src dataset.Source, at, after, episode int) int {
	end := at + 1
	for step := 0; step < after; step++ {
		next := at + 1 + step
		if next >= src.Len() {
			break
		}
		frame, err := dataset.ReadMeta(ctx, src, next)
		if err != nil || frame.EpisodeID != episode {
			break
		}
		end = next + 1
	}
	return end
}
