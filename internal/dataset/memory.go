package dataset

import (
	"context"
	"fmt"
)

// MemorySource serves frames from a slice. Positions listed in Failures
// return an error instead of a frame, which lets tests exercise the per-item
// failure paths.
type MemorySource struct {
	Frames   []Frame
	Failures map[int]error
}

// NewMemorySource copies frames and stamps each with its slice position.
func NewMemorySource(frames []Frame) *MemorySource {
	out := make([]Frame, len(frames))
	for i, f := range frames {
		f.Index = i
		out[i] = f
	}
	return &MemorySource{Frames: out}
}

// Fail makes reads of position i return err.
func (m *MemorySource) Fail(i int, err error) {
	if m.Failures == nil {
		m.Failures = make(map[int]error)
	}
	if err == nil {
		err = fmt.Errorf("frame %d unreadable", i)
	}
	m.Failures[i] = err
}

func (m *MemorySource) Len() int { return len(m.Frames) }

func (m *MemorySource) Frame(ctx context.Context, i int) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if err := checkIndex(i, len(m.Frames)); err != nil {
		return Frame{}, err
	}
	if err, ok := m.Failures[i]; ok {
		return Frame{}, err
	}
	return m.Frames[i], nil
}
