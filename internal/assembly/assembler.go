package assembly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/dongyingyibadao/data-dealer-auto/internal/dataset"
	"github.com/dongyingyibadao/data-dealer-auto/internal/logging"
	"github.com/dongyingyibadao/data-dealer-auto/internal/segment"
	"github.com/dongyingyibadao/data-dealer-auto/internal/services"
)

// DefaultBatchSize is the number of windows assembled per batch.
const DefaultBatchSize = 50

const stageAssemble = "assemble"

// Commit describes a batch the writer accepted.
type Commit struct {
	Batch        int
	FirstSegment int
	LastSegment  int
	Frames       int
}

// Options configures an Assembler.
type Options struct {
	BatchSize int
	// MaxSegments truncates the window list; 0 keeps every window.
	MaxSegments  int
	Placeholders bool
	Sentinel     float32
	// FreeOSMemory returns released batch memory to the OS after each batch.
	FreeOSMemory bool
	Logger       *slog.Logger
	// Skip reports batches already committed by an earlier run. Their frames
	// are still read so numbering stays identical, but the writer is not called.
	Skip func(batch int) bool
	// Committed is called after the writer accepted a batch.
	Committed func(ctx context.Context, commit Commit) error
	// OnReadFailure is called for each window position that failed to read.
	OnReadFailure func(index int, err error)
}

// Assembler owns the segment and global frame counters of one run.
type Assembler struct {
	writer Writer
	opts   Options
	logger *slog.Logger

	nextSegment int
	nextFrame   int
	index       *IndexMap
	tasks       *TaskTable
	metas       []SegmentMeta
	summary     Summary
}

// New returns an Assembler writing to w.
func New(w Writer, opts Options) *Assembler {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Sentinel == 0 {
		opts.Sentinel = DefaultSentinel
	}
	return &Assembler{
		writer: w,
		opts:   opts,
		logger: logging.NewComponentLogger(opts.Logger, "assembler"),
	}
}

// Run assembles windows from src. Counters restart at zero on every call.
func (a *Assembler) Run(ctx context.Context, src dataset.Source, windows []segment.Window) (Summary, error) {
	if a.writer == nil {
		return Summary{}, services.Wrap(services.ErrConfiguration, stageAssemble, "start", "no writer configured", nil)
	}
	a.reset()
	logger := logging.WithContext(ctx, a.logger)

	kept := windows
	if limit := a.opts.MaxSegments; limit > 0 && len(kept) > limit {
		a.summary.Truncated = len(kept) - limit
		kept = kept[:limit]
		logger.Info("window list truncated",
			logging.Int("max_segments", limit),
			logging.Int("dropped_windows", a.summary.Truncated),
		)
	}

	labels := make([]string, len(kept))
	for i, w := range kept {
		labels[i] = w.Label()
	}
	a.tasks = NewTaskTable(labels)

	size := a.opts.BatchSize
	batches := (len(kept) + size - 1) / size
	logger.Info("assembly started",
		logging.Int("windows", len(kept)),
		logging.Int("batches", batches),
		logging.Int("batch_size", size),
		logging.Bool("placeholders", a.opts.Placeholders),
	)

	for b := 0; b < batches; b++ {
		lo := b * size
		hi := min(lo+size, len(kept))
		if err := a.runBatch(services.WithBatch(ctx, b), src, kept, b, lo, hi); err != nil {
			return a.summary, err
		}
	}

	manifest := Manifest{
		Summary:  a.summary,
		Segments: a.metas,
		Tasks:    a.tasks,
		Index:    a.index,
		Sentinel: a.opts.Sentinel,
	}
	if err := a.writer.Finish(ctx, manifest); err != nil {
		return a.summary, services.Wrap(services.ErrOutput, stageAssemble, "finish", "write dataset metadata", err)
	}
	logger.Info("assembly completed",
		logging.Int("segments", a.summary.Segments),
		logging.Int("empty_segments", a.summary.EmptySegments),
		logging.Int("frames", a.summary.Frames),
		logging.Int("placeholders", a.summary.Placeholders),
		logging.Int("read_failures", a.summary.ReadFailures),
	)
	return a.summary, nil
}

// Segments returns the metadata of every segment assembled by the last Run.
func (a *Assembler) Segments() []SegmentMeta { return a.metas }

// IndexMap returns the mapping built by the last Run.
func (a *Assembler) IndexMap() *IndexMap { return a.index }

// Tasks returns the task table built by the last Run.
func (a *Assembler) Tasks() *TaskTable { return a.tasks }

func (a *Assembler) reset() {
	a.nextSegment = 0
	a.nextFrame = 0
	a.index = NewIndexMap()
	a.tasks = nil
	a.metas = nil
	a.summary = Summary{}
}

func (a *Assembler) runBatch(ctx context.Context, src dataset.Source, windows []segment.Window, number, lo, hi int) error {
	logger := logging.WithContext(ctx, a.logger)
	batch := Batch{Number: number, Segments: make([]*Segment, 0, hi-lo)}
	for i := lo; i < hi; i++ {
		seg, err := a.buildSegment(ctx, src, windows, i)
		if err != nil {
			return err
		}
		batch.Segments = append(batch.Segments, seg)
	}

	if a.opts.Skip != nil && a.opts.Skip(number) {
		logger.Info("batch already committed; skipping write", logging.Int("segments", len(batch.Segments)))
	} else {
		if err := a.writer.WriteBatch(ctx, batch); err != nil {
			return services.Wrap(services.ErrOutput, stageAssemble, "write batch", fmt.Sprintf("batch %d", number), err)
		}
		if a.opts.Committed != nil && len(batch.Segments) > 0 {
			commit := Commit{
				Batch:        number,
				FirstSegment: batch.Segments[0].NewIndex,
				LastSegment:  batch.Segments[len(batch.Segments)-1].NewIndex,
				Frames:       batch.Frames(),
			}
			if err := a.opts.Committed(ctx, commit); err != nil {
				return services.Wrap(services.ErrOutput, stageAssemble, "commit batch", fmt.Sprintf("batch %d", number), err)
			}
		}
	}
	a.summary.Batches++

	frames := batch.Frames()
	for _, seg := range batch.Segments {
		a.metas = append(a.metas, seg.Meta())
		seg.release()
	}
	batch.Segments = nil
	if a.opts.FreeOSMemory {
		debug.FreeOSMemory()
	}
	logger.Debug("batch released", logging.Int("frames", frames), logging.Int("next_frame", a.nextFrame))
	return nil
}

func (a *Assembler) buildSegment(ctx context.Context, src dataset.Source, windows []segment.Window, i int) (*Segment, error) {
	w := windows[i]
	seg := &Segment{
		NewIndex:  a.nextSegment,
		Window:    w,
		TaskIndex: a.tasks.Index(w.Label()),
		From:      a.nextFrame,
	}
	a.nextSegment++
	if w.NumFrames() > 0 {
		seg.Frames = make([]dataset.Frame, 0, w.NumFrames())
	}
	for pos := w.Start; pos < w.End; pos++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		frame, err := src.Frame(ctx, pos)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			seg.ReadFailures++
			a.summary.ReadFailures++
			a.logger.Warn("frame read failed; skipped",
				logging.Int(logging.FieldFrameIndex, pos),
				logging.Int(logging.FieldSegment, seg.NewIndex),
				logging.Error(err),
				logging.String(logging.FieldEventType, "frame_read_failed"),
				logging.String(logging.FieldImpact, "segment is shorter than its window"),
			)
			if a.opts.OnReadFailure != nil {
				a.opts.OnReadFailure(pos, err)
			}
			continue
		}
		seg.Frames = append(seg.Frames, frame)
	}

	if len(seg.Frames) > 0 && a.opts.Placeholders {
		needed, err := needsPlaceholder(ctx, src, windows, i)
		if err != nil {
			return nil, err
		}
		if needed {
			p := NewPlaceholder(seg.Frames[len(seg.Frames)-1], a.opts.Sentinel)
			seg.Placeholder = &p
			a.summary.Placeholders++
		}
	}
	seg.Length = len(seg.Frames)
	if seg.Placeholder != nil {
		seg.Length++
	}
	seg.To = seg.From + seg.Length - 1
	seg.Empty = seg.Length == 0
	if seg.Empty {
		a.summary.EmptySegments++
		a.logger.Warn("window produced no frames",
			logging.Int(logging.FieldSegment, seg.NewIndex),
			logging.Int(logging.FieldEpisode, w.EpisodeID),
			logging.Int("frame_start", w.Start),
			logging.Int("frame_end", w.End),
			logging.String(logging.FieldEventType, "empty_segment"),
			logging.String(logging.FieldImpact, "segment index is reserved but nothing is written"),
		)
	}
	a.nextFrame += seg.Length
	a.summary.Segments++
	a.summary.Frames += seg.Length
	a.index.AppendSegment(seg)
	return seg, nil
}
