package assembly

import (
	"context"

	"github.com/dongyingyibadao/data-dealer-auto/internal/dataset"
	"github.com/dongyingyibadao/data-dealer-auto/internal/segment"
)

// Segment is one output episode while its batch is in flight.
type Segment struct {
	NewIndex  int
	Window    segment.Window
	TaskIndex int
	// Frames holds the real frames in original order. Positions that failed
	// to read are absent.
	Frames      []dataset.Frame
	Placeholder *Placeholder
	// From and To are inclusive positions in the new global frame space.
	// An empty segment has To == From-1.
	From   int
	To     int
	Length int
	Empty  bool
	// ReadFailures counts window positions that could not be read.
	ReadFailures int
}

// SegmentMeta is the frame-free summary kept after a batch is released.
type SegmentMeta struct {
	NewIndex       int            `json:"episode_index"`
	Window         segment.Window `json:"window"`
	TaskIndex      int            `json:"task_index"`
	Label          string         `json:"task"`
	From           int            `json:"dataset_from_index"`
	To             int            `json:"dataset_to_index"`
	Length         int            `json:"length"`
	RealFrames     int            `json:"real_frames"`
	FirstOriginal  int            `json:"first_original_index"`
	LastOriginal   int            `json:"last_original_index"`
	HasPlaceholder bool           `json:"has_placeholder"`
	Empty          bool           `json:"empty,omitempty"`
	ReadFailures   int            `json:"read_failures,omitempty"`
}

// Meta summarises s.
func (s *Segment) Meta() SegmentMeta {
	meta := SegmentMeta{
		NewIndex:       s.NewIndex,
		Window:         s.Window,
		TaskIndex:      s.TaskIndex,
		Label:          s.Window.Label(),
		From:           s.From,
		To:             s.To,
		Length:         s.Length,
		RealFrames:     len(s.Frames),
		FirstOriginal:  -1,
		LastOriginal:   -1,
		HasPlaceholder: s.Placeholder != nil,
		Empty:          s.Empty,
		ReadFailures:   s.ReadFailures,
	}
	if n := len(s.Frames); n > 0 {
		meta.FirstOriginal = s.Frames[0].Index
		meta.LastOriginal = s.Frames[n-1].Index
	}
	return meta
}

// OutputFrame is one row of the assembled dataset.
type OutputFrame struct {
	GlobalIndex int
	// EpisodeIndex is the new segment index.
	EpisodeIndex int
	// FrameIndex is the position inside the segment, -1 for a placeholder.
	FrameIndex      int
	TaskIndex       int
	OriginalIndex   int
	OriginalEpisode int
	Timestamp       float32
	Action          []float32
	State           []float32
	Image1          []byte
	Image2          []byte
	ImageExt        string
	IsPlaceholder   bool
}

// Records expands the segment into output rows, placeholder last.
func (s *Segment) Records() []OutputFrame {
	out := make([]OutputFrame, 0, s.Length)
	for k, f := range s.Frames {
		out = append(out, OutputFrame{
			GlobalIndex:     s.From + k,
			EpisodeIndex:    s.NewIndex,
			FrameIndex:      k,
			TaskIndex:       s.TaskIndex,
			OriginalIndex:   f.Index,
			OriginalEpisode: f.EpisodeID,
			Timestamp:       f.Timestamp,
			Action:          f.Action,
			State:           f.State,
			Image1:          f.Image1,
			Image2:          f.Image2,
			ImageExt:        f.ImageExt,
		})
	}
	if p := s.Placeholder; p != nil {
		out = append(out, OutputFrame{
			GlobalIndex:     s.From + len(s.Frames),
			EpisodeIndex:    s.NewIndex,
			FrameIndex:      dataset.UnknownLocalIndex,
			TaskIndex:       s.TaskIndex,
			OriginalIndex:   -1,
			OriginalEpisode: p.EpisodeID,
			Timestamp:       p.Timestamp,
			Action:          p.Action,
			State:           p.State,
			Image1:          p.Image1,
			Image2:          p.Image2,
			ImageExt:        p.ImageExt,
			IsPlaceholder:   true,
		})
	}
	return out
}

func (s *Segment) release() {
	s.Frames = nil
	s.Placeholder = nil
}

// Batch is the unit handed to a Writer.
type Batch struct {
	Number   int
	Segments []*Segment
}

// Frames counts output rows in the batch.
func (b Batch) Frames() int {
	total := 0
	for _, s := range b.Segments {
		total += s.Length
	}
	return total
}

// Summary reports run totals.
type Summary struct {
	Batches       int `json:"batches"`
	Segments      int `json:"segments"`
	EmptySegments int `json:"empty_segments"`
	Frames        int `json:"frames"`
	Placeholders  int `json:"placeholders"`
	ReadFailures  int `json:"read_failures"`
	Truncated     int `json:"truncated_windows"`
}

// Manifest is handed to Writer.Finish once every batch is written.
type Manifest struct {
	Summary  Summary
	Segments []SegmentMeta
	Tasks    *TaskTable
	Index    *IndexMap
	Sentinel float32
}

// Writer persists batches. Errors are fatal to the run.
type Writer interface {
	WriteBatch(ctx context.Context, batch Batch) error
	Finish(ctx context.Context, manifest Manifest) error
}
