package output

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dongyingyibadao/data-dealer-auto/internal/assembly"
	"github.com/dongyingyibadao/data-dealer-auto/internal/fileutil"
	"github.com/dongyingyibadao/data-dealer-auto/internal/logging"
)

// Options configures a Writer.
type Options struct {
	Mode string
	// Workers bounds concurrent image writes; 0 uses GOMAXPROCS.
	Workers   int
	FPS       int
	RobotType string
	Logger    *slog.Logger
	Now       func() time.Time
}

// Writer persists assembled batches under a root directory.
type Writer struct {
	layout Layout
	opts   Options
	logger *slog.Logger
}

// NewWriter prepares root for writing.
func NewWriter(root string, opts Options) (*Writer, error) {
	if opts.Mode == "" {
		opts.Mode = ModeDataset
	}
	if !ValidMode(opts.Mode) {
		return nil, fmt.Errorf("unknown save mode %q", opts.Mode)
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if err := os.MkdirAll(filepath.Join(root, metaDir), 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &Writer{
		layout: Layout{Root: root},
		opts:   opts,
		logger: logging.NewComponentLogger(opts.Logger, "output"),
	}, nil
}

// Layout returns the path resolver of the output root.
func (w *Writer) Layout() Layout { return w.layout }

func (w *Writer) datasetMode() bool { return w.opts.Mode == ModeDataset || w.opts.Mode == ModeBoth }
func (w *Writer) imageMode() bool   { return w.opts.Mode == ModeImage || w.opts.Mode == ModeBoth }

type imageJob struct {
	path string
	data []byte
}

// WriteBatch writes every non-empty segment of batch. Images are written
// concurrently; segment data files are written after their images exist.
func (w *Writer) WriteBatch(ctx context.Context, batch assembly.Batch) error {
	logger := logging.WithContext(ctx, w.logger)
	var jobs []imageJob
	type pending struct {
		path    string
		records []Record
	}
	var dataFiles []pending

	for _, seg := range batch.Segments {
		if seg.Empty {
			continue
		}
		rows := seg.Records()
		if w.datasetMode() {
			records := make([]Record, len(rows))
			for k, row := range rows {
				rec := Record{
					Index:         row.GlobalIndex,
					EpisodeIndex:  row.EpisodeIndex,
					FrameIndex:    row.FrameIndex,
					TaskIndex:     row.TaskIndex,
					OriginalIndex: row.OriginalIndex,
					Timestamp:     row.Timestamp,
					Action:        row.Action,
					State:         row.State,
					IsPlaceholder: row.IsPlaceholder,
				}
				ext := imageExt(row.ImageExt)
				if len(row.Image1) > 0 {
					rec.Image = SegmentImageRel(seg.NewIndex, 1, k, ext)
					jobs = append(jobs, imageJob{path: w.layout.Abs(rec.Image), data: row.Image1})
				}
				if len(row.Image2) > 0 {
					rec.Image2 = SegmentImageRel(seg.NewIndex, 2, k, ext)
					jobs = append(jobs, imageJob{path: w.layout.Abs(rec.Image2), data: row.Image2})
				}
				records[k] = rec
			}
			dataFiles = append(dataFiles, pending{
				path:    w.layout.Abs(SegmentDataRel(seg.Window.EpisodeID, seg.NewIndex)),
				records: records,
			})
		}
		if w.imageMode() {
			episode, episodeJobs := w.imageEpisode(seg, rows)
			jobs = append(jobs, episodeJobs...)
			if err := fileutil.WriteJSONAtomic(w.layout.Abs(filepath.Join(EpisodeDirRel(seg.NewIndex), episodeMetaFile)), episode); err != nil {
				return fmt.Errorf("write episode %d metadata: %w", seg.NewIndex, err)
			}
		}
	}

	if err := w.writeImages(ctx, jobs); err != nil {
		return err
	}
	for _, file := range dataFiles {
		if err := fileutil.WriteJSONLinesAtomic(file.path, file.records); err != nil {
			return fmt.Errorf("write segment data: %w", err)
		}
	}
	logger.Debug("batch persisted",
		logging.Int("segments", len(batch.Segments)),
		logging.Int("images", len(jobs)),
		logging.String("mode", w.opts.Mode),
	)
	return nil
}

func (w *Writer) imageEpisode(seg *assembly.Segment, rows []assembly.OutputFrame) (ImageEpisode, []imageJob) {
	episode := imageEpisodeOf(seg.Meta())
	episode.NumFrames = len(rows)
	episode.Frames = make([]ImageFrame, 0, len(rows))
	jobs := make([]imageJob, 0, 2*len(rows))
	for k, row := range rows {
		ext := imageExt(row.ImageExt)
		frame := ImageFrame{
			FrameIndex:    k,
			OriginalIndex: row.OriginalIndex,
			Action:        row.Action,
			State:         row.State,
			IsPlaceholder: row.IsPlaceholder,
		}
		if len(row.Image1) > 0 {
			frame.Cam1 = EpisodeImageRel(seg.NewIndex, 1, k, ext)
			jobs = append(jobs, imageJob{path: w.layout.Abs(frame.Cam1), data: row.Image1})
		}
		if len(row.Image2) > 0 {
			frame.Cam2 = EpisodeImageRel(seg.NewIndex, 2, k, ext)
			jobs = append(jobs, imageJob{path: w.layout.Abs(frame.Cam2), data: row.Image2})
		}
		episode.Frames = append(episode.Frames, frame)
	}
	return episode, jobs
}

func imageEpisodeOf(meta assembly.SegmentMeta) ImageEpisode {
	return ImageEpisode{
		EpisodeIndex:  meta.NewIndex,
		ActionType:    meta.Window.Kind.ActionVerb(),
		OriginalTask:  meta.Window.TaskLabel,
		NewTask:       meta.Label,
		KeyframeIndex: meta.Window.Keyframe,
		NumFrames:     meta.Length,
	}
}

func (w *Writer) writeImages(ctx context.Context, jobs []imageJob) error {
	if len(jobs) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.Workers)
	for _, job := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(job.path), 0o755); err != nil {
				return fmt.Errorf("create image directory: %w", err)
			}
			if err := os.WriteFile(job.path, job.data, 0o644); err != nil {
				return fmt.Errorf("write image %s: %w", filepath.Base(job.path), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Finish writes the dataset-level metadata. Everything is derived from
// manifest, which covers batches skipped on resume as well as written ones.
func (w *Writer) Finish(ctx context.Context, manifest assembly.Manifest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logger := logging.WithContext(ctx, w.logger)
	metas := manifest.Segments
	if manifest.Index != nil {
		adjusted, err := manifest.Index.Adjust(metas)
		if err != nil {
			return fmt.Errorf("adjust segment ranges: %w", err)
		}
		metas = adjusted
	}
	tasks := manifest.Tasks.Tasks()

	episodes := make([]EpisodeMeta, 0, len(metas))
	imageEpisodes := make([]ImageEpisode, 0, len(metas))
	originals := make(map[int]struct{})
	stats := Stats{TotalTasks: len(tasks), Placeholders: manifest.Summary.Placeholders}
	for _, meta := range metas {
		if meta.Empty {
			continue
		}
		label := meta.Label
		if meta.TaskIndex >= 0 && meta.TaskIndex < len(tasks) {
			label = tasks[meta.TaskIndex].Task
		}
		episodes = append(episodes, EpisodeMeta{
			EpisodeIndex:         meta.NewIndex,
			Tasks:                []string{label},
			TaskIndex:            meta.TaskIndex,
			DatasetFromIndex:     meta.From,
			DatasetToIndex:       meta.To,
			Length:               meta.Length,
			ActionType:           meta.Window.Kind.ActionVerb(),
			OriginalTask:         meta.Window.TaskLabel,
			KeyframeIndex:        meta.Window.Keyframe,
			OriginalEpisodeIndex: meta.Window.EpisodeID,
			OriginalTaskIndex:    meta.Window.TaskIndex,
			OriginalFrameStart:   meta.Window.Start,
			OriginalFrameEnd:     meta.Window.End,
			HasPlaceholder:       meta.HasPlaceholder,
			DataFile:             SegmentDataRel(meta.Window.EpisodeID, meta.NewIndex),
		})
		if w.imageMode() {
			imageEpisodes = append(imageEpisodes, imageEpisodeOf(meta))
		}
		originals[meta.Window.EpisodeID] = struct{}{}
		stats.TotalFrames += meta.Length
		if stats.TotalEpisodes == 0 || meta.Length < stats.MinFrames {
			stats.MinFrames = meta.Length
		}
		stats.MaxFrames = max(stats.MaxFrames, meta.Length)
		stats.TotalEpisodes++
	}
	if stats.TotalEpisodes > 0 {
		stats.AverageFrames = float64(stats.TotalFrames) / float64(stats.TotalEpisodes)
		stats.SegmentsPerRaw = float64(stats.TotalEpisodes) / float64(len(originals))
	}

	info := Info{
		TotalEpisodes:     stats.TotalEpisodes,
		TotalFrames:       stats.TotalFrames,
		TotalTasks:        len(tasks),
		TotalPlaceholders: manifest.Summary.Placeholders,
		EmptySegments:     manifest.Summary.EmptySegments,
		ReadFailures:      manifest.Summary.ReadFailures,
		CreatedAt:         w.opts.Now().UTC(),
		RobotType:         w.opts.RobotType,
		FPS:               w.opts.FPS,
		SaveMode:          w.opts.Mode,
		PlaceholderAction: manifest.Sentinel,
		ObservationKeys:   []string{"observation.images.image", "observation.images.image2", "observation.state"},
		ActionKeys:        []string{"action"},
	}

	if err := fileutil.WriteJSONLinesAtomic(w.layout.MetaFile(episodesFile), episodes); err != nil {
		return fmt.Errorf("write episodes: %w", err)
	}
	if err := fileutil.WriteJSONLinesAtomic(w.layout.MetaFile(tasksFile), tasks); err != nil {
		return fmt.Errorf("write tasks: %w", err)
	}
	if err := fileutil.WriteJSONLinesAtomic(w.layout.MetaFile(indexMapFile), manifest.Index.Entries()); err != nil {
		return fmt.Errorf("write index map: %w", err)
	}
	if err := fileutil.WriteJSONAtomic(w.layout.MetaFile(statsFile), stats); err != nil {
		return fmt.Errorf("write stats: %w", err)
	}
	if w.imageMode() {
		summary := ImageSummary{TotalEpisodes: len(imageEpisodes), Episodes: imageEpisodes}
		if err := fileutil.WriteJSONAtomic(w.layout.Abs(imageSummaryFile), summary); err != nil {
			return fmt.Errorf("write image summary: %w", err)
		}
	}
	// info.json last: its presence marks a complete dataset.
	if err := fileutil.WriteJSONAtomic(w.layout.MetaFile(infoFile), info); err != nil {
		return fmt.Errorf("write info: %w", err)
	}
	logger.Info("dataset metadata written",
		logging.Int("episodes", info.TotalEpisodes),
		logging.Int("frames", info.TotalFrames),
		logging.Int("tasks", info.TotalTasks),
		logging.String("output_dir", w.layout.Root),
	)
	return nil
}
