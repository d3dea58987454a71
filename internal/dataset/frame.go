package dataset

import (
	"context"
	"errors"
	"fmt"
)

// UnknownLocalIndex marks a frame whose position inside its episode is not
// recorded.
const UnknownLocalIndex = -1

// ErrNoAction reports a frame without an action vector; the gripper command
// cannot be read from it.
var ErrNoAction = errors.New("frame has no action vector")

// Frame is one time step of the recording. The core never mutates frames.
type Frame struct {
	Index      int
	EpisodeID  int
	LocalIndex int
	Timestamp  float32
	Action     []float32
	State      []float32
	Image1     []byte
	Image2     []byte
	// ImageExt is the file extension of the encoded images ("png", "jpg").
	ImageExt  string
	TaskLabel string
	TaskIndex int
}

// Gripper returns the last scalar of the action vector.
func (f Frame) Gripper() (float32, error) {
	if len(f.Action) == 0 {
		return 0, fmt.Errorf("frame %d: %w", f.Index, ErrNoAction)
	}
	return f.Action[len(f.Action)-1], nil
}

// HasLocalIndex reports whether the frame knows its position in the episode.
func (f Frame) HasLocalIndex() bool {
	return f.LocalIndex >= 0
}

// Source is a random-access view over the recording.
type Source interface {
	Len() int
	Frame(ctx context.Context, i int) (Frame, error)
}

// MetaSource is implemented by sources that can return a frame without
// decoding its images. Scans that only need actions and episode ids use it.
type MetaSource interface {
	Source
	Meta(ctx context.Context, i int) (Frame, error)
}

// ReadMeta returns frame i, skipping image loading when the source supports it.
func ReadMeta(ctx context.Context, src Source, i int) (Frame, error) {
	if meta, ok := src.(MetaSource); ok {
		return meta.Meta(ctx, i)
	}
	return src.Frame(ctx, i)
}

// IndexError reports an out-of-range read.
type IndexError struct {
	Index int
	Len   int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("frame index %d out of range [0,%d)", e.Index, e.Len)
}

func checkIndex(i, n int) error {
	if i < 0 || i >= n {
		return &IndexError{Index: i, Len: n}
	}
	return nil
}
