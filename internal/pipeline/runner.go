package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/dongyingyibadao/data-dealer-auto/internal/assembly"
	"github.com/dongyingyibadao/data-dealer-auto/internal/caption"
	"github.com/dongyingyibadao/data-dealer-auto/internal/config"
	"github.com/dongyingyibadao/data-dealer-auto/internal/dataset"
	"github.com/dongyingyibadao/data-dealer-auto/internal/fileutil"
	"github.com/dongyingyibadao/data-dealer-auto/internal/ledger"
	"github.com/dongyingyibadao/data-dealer-auto/internal/logging"
	"github.com/dongyingyibadao/data-dealer-auto/internal/metrics"
	"github.com/dongyingyibadao/data-dealer-auto/internal/notifications"
	"github.com/dongyingyibadao/data-dealer-auto/internal/output"
	"github.com/dongyingyibadao/data-dealer-auto/internal/preflight"
	"github.com/dongyingyibadao/data-dealer-auto/internal/segment"
	"github.com/dongyingyibadao/data-dealer-auto/internal/services"
)

// LockFileName guards an output directory against concurrent runs.
const LockFileName = ".datadealer.lock"

// RunLogName is the per-run JSON log kept under the output meta directory.
const RunLogName = "run.log"

// ErrOutputLocked is returned when another run holds the output directory.
var ErrOutputLocked = errors.New("output directory is locked by another run")

// Options select optional behaviour of a single run.
type Options struct {
	// LoadRanges skips detection and captioning and uses a ranges file
	// written by an earlier run.
	LoadRanges string
	// SkipCutting stops after the ranges file is written.
	SkipCutting bool
	// ResumeFrom names a caption checkpoint to continue from.
	ResumeFrom string
	// ResumeRun reopens a failed run and skips the batches it committed.
	// The windows come from the run's ranges file, never from a new
	// detection and caption pass.
	ResumeRun     string
	SkipPreflight bool
}

// Result summarises a finished run.
type Result struct {
	RunID        string
	Source       string
	Output       string
	RangesFile   string
	Scanned      int
	ReadFailures int
	Events       map[segment.Kind]int
	Windows      int
	Caption      caption.Stats
	Assembly     assembly.Summary
	SkippedCut   bool
	Duration     time.Duration
}

// Runner executes runs against one configuration and ledger.
type Runner struct {
	cfg    *config.Config
	store  *ledger.Store
	logger *slog.Logger

	// OpenSource opens the source dataset; tests substitute in-memory sources.
	OpenSource func(root string) (dataset.Source, error)
	// NewProvider builds the caption provider.
	NewProvider func(cfg config.Caption) (caption.Provider, error)
	// Notifier receives run completion and failure events.
	Notifier notifications.Service
}

// NewRunner returns a Runner. store must stay open for the runner's lifetime.
func NewRunner(cfg *config.Config, store *ledger.Store, logger *slog.Logger) (*Runner, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("pipeline requires config and ledger")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{
		cfg:    cfg,
		store:  store,
		logger: logger,
		OpenSource: func(root string) (dataset.Source, error) {
			return dataset.OpenDir(root)
		},
		NewProvider: func(cfg config.Caption) (caption.Provider, error) {
			return caption.NewProvider(cfg)
		},
		Notifier: notifications.NewService(cfg),
	}, nil
}

// Run performs one cut. The ledger row is finished whatever the outcome.
func (r *Runner) Run(ctx context.Context, opts Options) (res *Result, err error) {
	started := time.Now()
	outDir := r.cfg.Paths.OutputDir
	if err := r.cfg.EnsureDirectories(); err != nil {
		return nil, services.Wrap(services.ErrOutput, "start", "create directories", "", err)
	}

	lock := flock.New(filepath.Join(outDir, LockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrOutput, "start", "acquire lock", "", err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrOutput, "start", "acquire lock", outDir, ErrOutputLocked)
	}
	defer func() {
		if uerr := lock.Unlock(); uerr != nil {
			r.logger.Warn("failed to release output lock", logging.Error(uerr))
		}
	}()

	run, err := r.openRun(ctx, opts)
	if err != nil {
		return nil, err
	}
	runID := run.ID
	ctx = services.WithRunID(ctx, runID)

	logger, closeLog := r.runLogger(outDir)
	defer closeLog()
	logger = logging.WithContext(ctx, logger)

	res = &Result{RunID: runID, Source: r.cfg.Paths.SourceDir, Output: outDir}
	rec := metrics.New()
	defer func() {
		res.Duration = time.Since(started)
		r.finish(ctx, logger, rec, res, err)
	}()

	logger.Info("run started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.String("source", res.Source),
		logging.String("output", outDir),
		logging.String("resume_run", opts.ResumeRun),
		logging.String("load_ranges", opts.LoadRanges),
	)

	err = r.execute(ctx, opts, run, logger, rec, res)
	return res, err
}

func (r *Runner) execute(ctx context.Context, opts Options, run *ledger.Run, logger *slog.Logger, rec *metrics.Recorder, res *Result) error {
	rangesPath := filepath.Join(r.cfg.Paths.OutputDir, RangesFileName)
	res.RangesFile = rangesPath
	if opts.ResumeRun != "" && opts.LoadRanges == "" {
		if _, err := os.Stat(rangesPath); err != nil {
			return services.Wrap(services.ErrValidation, "resume", "load ranges",
				fmt.Sprintf("run %s left no %s; start a new run", run.ID, RangesFileName), err)
		}
		opts.LoadRanges = rangesPath
	}

	needSource := !(opts.LoadRanges != "" && opts.SkipCutting)
	captioning := opts.LoadRanges == ""

	var src dataset.Source
	if needSource {
		err := timed(ctx, rec, "open_source", func(context.Context) error {
			opened, err := r.OpenSource(r.cfg.Paths.SourceDir)
			if err != nil {
				return services.Wrap(services.ErrSource, "open_source", "open dataset", r.cfg.Paths.SourceDir, err)
			}
			src = opened
			logger.Info("source opened", logging.Int("frames", src.Len()))
			return nil
		})
		if err != nil {
			return err
		}
	}

	var provider caption.Provider
	if captioning {
		p, err := r.NewProvider(r.cfg.Caption)
		if err != nil {
			return services.Wrap(services.ErrConfiguration, "caption", "select provider", "", err)
		}
		provider = p
	}

	if !opts.SkipPreflight && src != nil {
		err := timed(ctx, rec, "preflight", func(ctx context.Context) error {
			results := preflight.RunAll(ctx, r.cfg, preflight.Inputs{Frames: src.Len(), Provider: provider})
			for _, check := range results {
				logger.Debug("preflight check",
					logging.String("check", check.Name),
					logging.Bool("passed", check.Passed),
					logging.String("detail", check.Detail),
				)
			}
			if failed := preflight.Failed(results); len(failed) > 0 {
				return services.Wrap(services.ErrValidation, "preflight", "checks failed", preflight.Summary(results), nil)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	var windows []segment.Window
	if captioning {
		analysis, err := Analyze(ctx, r.cfg, src, rec, logger)
		if err != nil {
			return err
		}
		res.Scanned = analysis.Detection.Scanned
		res.ReadFailures += analysis.Detection.ReadFailures
		res.Events = segment.CountByKind(analysis.Detection.Events)

		err = timed(ctx, rec, "caption", func(ctx context.Context) error {
			labeled, stats, err := r.label(ctx, provider, src, analysis.Windows, opts.ResumeFrom, logger, rec)
			if err != nil {
				return err
			}
			windows = labeled
			res.Caption = stats
			return nil
		})
		if err != nil {
			return err
		}
		if err := SaveRanges(rangesPath, windows); err != nil {
			return services.Wrap(services.ErrOutput, "caption", "save ranges", "", err)
		}
	} else {
		loaded, err := LoadRanges(opts.LoadRanges)
		if err != nil {
			return services.Wrap(services.ErrValidation, "load_ranges", "read ranges", opts.LoadRanges, err)
		}
		windows = loaded
		if !samePath(opts.LoadRanges, rangesPath) {
			if err := fileutil.CopyFileVerified(opts.LoadRanges, rangesPath); err != nil {
				return services.Wrap(services.ErrOutput, "load_ranges", "copy ranges", "", err)
			}
		}
		logger.Info("ranges loaded", logging.Int("windows", len(windows)), logging.String("path", opts.LoadRanges))
	}
	res.Windows = len(windows)
	rec.Windows.Add(float64(len(windows)))

	if opts.SkipCutting {
		res.SkippedCut = true
		logger.Info("cutting skipped", logging.String("ranges", rangesPath))
		return nil
	}

	if err := r.pinWindows(ctx, run, windows); err != nil {
		return err
	}

	return timed(ctx, rec, "assemble", func(ctx context.Context) error {
		summary, err := r.assemble(ctx, opts, src, windows, logger, rec)
		res.Assembly = summary
		res.ReadFailures += summary.ReadFailures
		return err
	})
}

func (r *Runner) label(ctx context.Context, provider caption.Provider, src dataset.Source, windows []segment.Window, resume string, logger *slog.Logger, rec *metrics.Recorder) ([]segment.Window, caption.Stats, error) {
	labeler := &caption.Labeler{
		Describer:          provider.Describer,
		Fallback:           provider.Fallback,
		Source:             src,
		CheckpointDir:      r.cfg.CheckpointDir(),
		CheckpointInterval: r.cfg.Caption.CheckpointInterval,
		Logger:             logger,
		OnFallback:         func(caption.Request, error) { rec.CaptionFallbacks.Inc() },
	}
	if provider.Remote() {
		labeler.Limiter = caption.NewLimiter(r.cfg.Caption.RequestsPerMinute)
	}
	labeled, stats, err := labeler.Label(ctx, windows, resume)
	if err != nil {
		return nil, stats, services.Wrap(services.ErrExternal, "caption", "label windows", provider.Name, err)
	}
	return labeled, stats, nil
}

func (r *Runner) assemble(ctx context.Context, opts Options, src dataset.Source, windows []segment.Window, logger *slog.Logger, rec *metrics.Recorder) (assembly.Summary, error) {
	writer, err := output.NewWriter(r.cfg.Paths.OutputDir, output.Options{
		Mode:      r.cfg.Assembly.SaveMode,
		Workers:   r.cfg.Assembly.ImageWorkers,
		FPS:       r.cfg.Assembly.FPS,
		RobotType: r.cfg.Assembly.RobotType,
		Logger:    logger,
	})
	if err != nil {
		return assembly.Summary{}, services.Wrap(services.ErrOutput, "assemble", "open writer", "", err)
	}

	var committed map[int]bool
	if opts.ResumeRun != "" {
		committed, err = r.store.CommittedSet(ctx, opts.ResumeRun)
		if err != nil {
			return assembly.Summary{}, services.Wrap(services.ErrOutput, "assemble", "load committed batches", "", err)
		}
		logger.Info("resuming run", logging.Int("committed_batches", len(committed)))
	}
	runID, _ := services.RunIDFromContext(ctx)

	asm := assembly.New(writer, assembly.Options{
		BatchSize:    r.cfg.Assembly.BatchSize,
		MaxSegments:  r.cfg.Assembly.MaxSegments,
		Placeholders: r.cfg.Assembly.Placeholders,
		Sentinel:     float32(r.cfg.Assembly.PlaceholderAction),
		FreeOSMemory: true,
		Logger:       logger,
		Skip:         func(batch int) bool { return committed[batch] },
		Committed: func(ctx context.Context, c assembly.Commit) error {
			rec.BatchesCommitted.Inc()
			return r.store.CommitBatch(ctx, ledger.Batch{
				RunID:        runID,
				Index:        c.Batch,
				FirstSegment: c.FirstSegment,
				LastSegment:  c.LastSegment,
				Frames:       c.Frames,
			})
		},
		OnReadFailure: func(int, error) { rec.ReadFailure("assemble") },
	})
	summary, err := asm.Run(ctx, src, windows)
	rec.SegmentsWritten.Add(float64(summary.Segments - summary.EmptySegments))
	rec.EmptySegments.Add(float64(summary.EmptySegments))
	rec.Placeholders.Add(float64(summary.Placeholders))
	rec.FramesWritten.Add(float64(summary.Frames))
	return summary, err
}

func (r *Runner) openRun(ctx context.Context, opts Options) (*ledger.Run, error) {
	if opts.ResumeRun == "" {
		run, err := r.store.StartRun(ctx, uuid.NewString(), r.cfg.Paths.SourceDir, r.cfg.Paths.OutputDir)
		if err != nil {
			return nil, services.Wrap(services.ErrOutput, "start", "record run", "", err)
		}
		return run, nil
	}
	prior, err := r.store.GetRun(ctx, opts.ResumeRun)
	if err != nil {
		return nil, services.Wrap(services.ErrOutput, "start", "load run", opts.ResumeRun, err)
	}
	if prior == nil {
		return nil, services.Wrap(services.ErrNotFound, "start", "load run", opts.ResumeRun, ledger.ErrRunNotFound)
	}
	if prior.Status == ledger.StatusCompleted || prior.Status == ledger.StatusRunning {
		return nil, services.Wrap(services.ErrValidation, "start", "resume run", fmt.Sprintf("run %s is %s", prior.ID, prior.Status), nil)
	}
	if !samePath(prior.Output, r.cfg.Paths.OutputDir) {
		return nil, services.Wrap(services.ErrValidation, "start", "resume run", fmt.Sprintf("run %s wrote to %s", prior.ID, prior.Output), nil)
	}
	run, err := r.store.ReopenRun(ctx, prior.ID)
	if err != nil {
		return nil, services.Wrap(services.ErrOutput, "start", "reopen run", prior.ID, err)
	}
	return run, nil
}

// pinWindows records the digest of windows on a fresh run and, on a resumed
// one, refuses to assemble when the windows or assembly settings no longer
// match the batches already committed.
func (r *Runner) pinWindows(ctx context.Context, run *ledger.Run, windows []segment.Window) error {
	digest := WindowsDigest(windows, r.cfg.Assembly)
	if run.WindowsDigest != "" {
		if run.WindowsDigest != digest {
			return services.Wrap(services.ErrValidation, "resume", "compare windows",
				fmt.Sprintf("windows or assembly settings differ from run %s; start a new run", run.ID), nil)
		}
		return nil
	}
	if err := r.store.SetWindowsDigest(ctx, run.ID, digest); err != nil {
		return services.Wrap(services.ErrOutput, "assemble", "record windows digest", "", err)
	}
	run.WindowsDigest = digest
	return nil
}

func (r *Runner) runLogger(outDir string) (*slog.Logger, func()) {
	path := output.Layout{Root: outDir}.MetaFile(RunLogName)
	handler, closer, err := logging.NewFileHandler(path, r.cfg.Logging.Level)
	if err != nil {
		r.logger.Warn("run log unavailable",
			logging.Error(err),
			logging.String(logging.FieldEventType, "run_log_unavailable"),
			logging.String(logging.FieldImpact, "this run is only logged to the console"),
		)
		return r.logger, func() {}
	}
	return logging.TeeLogger(r.logger, handler), func() { closeQuietly(closer) }
}

func (r *Runner) finish(ctx context.Context, logger *slog.Logger, rec *metrics.Recorder, res *Result, runErr error) {
	status := ledger.StatusCompleted
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled):
		status = ledger.StatusCancelled
	default:
		status = ledger.StatusFailed
	}
	promPath := output.Layout{Root: res.Output}.MetaFile(metrics.TextfileName)
	if err := rec.WriteTextfile(promPath); err != nil {
		logger.Warn("metrics textfile not written", logging.Error(err))
	}
	// The ledger update must outlive a cancelled run context.
	finishCtx := context.WithoutCancel(ctx)
	if err := r.store.FinishRun(finishCtx, res.RunID, ledger.Result{
		Status:       status,
		Windows:      res.Windows,
		Segments:     res.Assembly.Segments - res.Assembly.EmptySegments,
		Frames:       res.Assembly.Frames,
		ReadFailures: res.ReadFailures,
		Err:          runErr,
	}); err != nil {
		logger.Error("failed to record run result", logging.Error(err))
	}
	r.notify(finishCtx, logger, status, res, runErr)
	if runErr != nil {
		logging.ErrorWithContext(logger, "run failed", "run_failed",
			logging.Error(runErr),
			logging.String("status", string(status)),
			logging.Duration("duration", res.Duration),
		)
		return
	}
	logger.Info("run completed",
		logging.String(logging.FieldEventType, "run_complete"),
		logging.Int("windows", res.Windows),
		logging.Int("segments", res.Assembly.Segments),
		logging.Int("frames", res.Assembly.Frames),
		logging.Int("read_failures", res.ReadFailures),
		logging.Duration("duration", res.Duration),
	)
}

func (r *Runner) notify(ctx context.Context, logger *slog.Logger, status ledger.Status, res *Result, runErr error) {
	if r.Notifier == nil {
		return
	}
	event := notifications.EventRunCompleted
	switch status {
	case ledger.StatusFailed:
		event = notifications.EventRunFailed
	case ledger.StatusCancelled:
		event = notifications.EventRunCancelled
	}
	payload := notifications.Payload{
		"run_id":   res.RunID,
		"segments": res.Assembly.Segments - res.Assembly.EmptySegments,
		"frames":   res.Assembly.Frames,
		"output":   res.Output,
		"duration": res.Duration,
	}
	if runErr != nil {
		payload["error"] = runErr
	}
	if err := r.Notifier.Publish(ctx, event, payload); err != nil {
		logger.Warn("run notification failed", logging.Error(err))
	}
}

func timed(ctx context.Context, rec *metrics.Recorder, stage string, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(services.WithStage(ctx, stage))
	if rec != nil {
		rec.ObserveStage(stage, time.Since(start))
	}
	return err
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}
	if absA == absB {
		return true
	}
	infoA, errA := os.Stat(absA)
	infoB, errB := os.Stat(absB)
	return errA == nil && errB == nil && os.SameFile(infoA, infoB)
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
