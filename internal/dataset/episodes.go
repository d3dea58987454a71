package dataset

import (
	"context"
	"log/slog"
	"sort"

	"github.com/dongyingyibadao/data-dealer-auto/internal/logging"
)

// EpisodeSpan is a maximal run of consecutive readable frames sharing one
// episode id. End is exclusive.
type EpisodeSpan struct {
	Episode int
	Start   int
	End     int
}

// Len returns the number of frames in the span.
func (s EpisodeSpan) Len() int { return s.End - s.Start }

// EpisodeIndex answers "which episode run contains position i" in O(log n).
type EpisodeIndex struct {
	spans   []EpisodeSpan
	failed  int
	byStart []int
}

// BuildEpisodeIndex scans the metadata of every frame once. Unreadable frames
// are logged, counted, and split the surrounding run, so a span never covers
// a position that could not be read.
func BuildEpisodeIndex(ctx context.Context, src Source, logger *slog.Logger) (*EpisodeIndex, error) {
	logger = logging.NewComponentLogger(logger, "episode-index")
	idx := &EpisodeIndex{}
	var current *EpisodeSpan
	flush := func() {
		if current != nil {
			idx.spans = append(idx.spans, *current)
			current = nil
		}
	}
	for i := 0; i < src.Len(); i++ {
		frame, err := ReadMeta(ctx, src, i)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			idx.failed++
			logger.Warn("episode index: frame unreadable; run split",
				logging.Int(logging.FieldFrameIndex, i),
				logging.Error(err),
				logging.String(logging.FieldEventType, "frame_read_failed"),
			)
			flush()
			continue
		}
		if current != nil && current.Episode == frame.EpisodeID && current.End == i {
			current.End = i + 1
			continue
		}
		flush()
		current = &EpisodeSpan{Episode: frame.EpisodeID, Start: i, End: i + 1}
	}
	flush()
	idx.byStart = make([]int, len(idx.spans))
	for i, span := range idx.spans {
		idx.byStart[i] = span.Start
	}
	return idx, nil
}

// Bounds returns the span containing position at.
func (x *EpisodeIndex) Bounds(at int) (EpisodeSpan, bool) {
	if x == nil || len(x.spans) == 0 {
		return EpisodeSpan{}, false
	}
	pos := sort.SearchInts(x.byStart, at+1) - 1
	if pos < 0 {
		return EpisodeSpan{}, false
	}
	span := x.spans[pos]
	if at >= span.End {
		return EpisodeSpan{}, false
	}
	return span, true
}

// Spans returns every run in position order.
func (x *EpisodeIndex) Spans() []EpisodeSpan {
	if x == nil {
		return nil
	}
	return append([]EpisodeSpan(nil), x.spans...)
}

// Episodes returns the number of distinct episode ids.
func (x *EpisodeIndex) Episodes() int {
	if x == nil {
		return 0
	}
	seen := make(map[int]struct{}, len(x.spans))
	for _, span := range x.spans {
		seen[span.Episode] = struct{}{}
	}
	return len(seen)
}

// Failed returns how many frames could not be read while building the index.
func (x *EpisodeIndex) Failed() int {
	if x == nil {
		return 0
	}
	return x.failed
}
