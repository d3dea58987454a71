package assembly

import (
	"context"
	"slices"

	"github.com/dongyingyibadao/data-dealer-auto/internal/dataset"
	"github.com/dongyingyibadao/data-dealer-auto/internal/segment"
)

// DefaultSentinel fills the action vector of placeholder frames. It lies
// outside the legal [-1, 1] action range so training code can mask it.
const DefaultSentinel float32 = -999

// Placeholder is a synthetic frame appended after a segment whose successor
// continues the same original episode. It repeats the last real frame's
// observation so a policy sees a stationary scene with an invalid action.
type Placeholder struct {
	// SourceIndex is the original index of the frame it was cloned from.
	SourceIndex int
	EpisodeID   int
	Timestamp   float32
	Action      []float32
	State       []float32
	Image1      []byte
	Image2      []byte
	ImageExt    string
}

// NewPlaceholder clones the observation of last and fills an action vector of
// the same width with sentinel.
func NewPlaceholder(last dataset.Frame, sentinel float32) Placeholder {
	action := make([]float32, len(last.Action))
	for i := range action {
		action[i] = sentinel
	}
	return Placeholder{
		SourceIndex: last.Index,
		EpisodeID:   last.EpisodeID,
		Timestamp:   last.Timestamp,
		Action:      action,
		State:       slices.Clone(last.State),
		Image1:      last.Image1,
		Image2:      last.Image2,
		ImageExt:    last.ImageExt,
	}
}

// IsSentinelAction reports whether every element of action equals sentinel.
func IsSentinelAction(action []float32, sentinel float32) bool {
	if len(action) == 0 {
		return false
	}
	for _, v := range action {
		if v != sentinel {
			return false
		}
	}
	return true
}

// needsPlaceholder decides whether windows[i] gets a trailing placeholder:
// some later window of the same episode must yield at least one frame.
// Successors that read as empty are looked past, so no placeholder follows
// the last written segment of an episode. The answer depends on the window
// list and the source alone, so it is stable across batch boundaries.
func needsPlaceholder(ctx context.Context, src dataset.Source, windows []segment.Window, i int) (bool, error) {
	for j := i + 1; j < len(windows) && windows[j].EpisodeID == windows[i].EpisodeID; j++ {
		ok, err := yieldsFrames(ctx, src, windows[j])
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// yieldsFrames reports whether any frame of w can be read.
func yieldsFrames(ctx context.Context, src dataset.Source, w segment.Window) (bool, error) {
	for pos := w.Start; pos < w.End; pos++ {
		if _, err := src.Frame(ctx, pos); err == nil {
			return true, nil
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
	}
	return false, nil
}
