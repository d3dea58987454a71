package pipeline

import (
	"context"
	"log/slog"

	"github.com/dongyingyibadao/data-dealer-auto/internal/config"
	"github.com/dongyingyibadao/data-dealer-auto/internal/dataset"
	"github.com/dongyingyibadao/data-dealer-auto/internal/logging"
	"github.com/dongyingyibadao/data-dealer-auto/internal/metrics"
	"github.com/dongyingyibadao/data-dealer-auto/internal/segment"
	"github.com/dongyingyibadao/data-dealer-auto/internal/services"
)

// Analysis is the outcome of the detect, extract and merge stages.
type Analysis struct {
	Detection segment.Detection
	Episodes  *dataset.EpisodeIndex
	// Extracted counts windows before the unknown filter and the merge.
	Extracted int
	Dropped   int
	Windows   []segment.Window
}

// Analyze finds transitions in src and turns them into windows. rec may be nil.
func Analyze(ctx context.Context, cfg *config.Config, src dataset.Source, rec *metrics.Recorder, logger *slog.Logger) (*Analysis, error) {
	policy, err := segment.ParseUnknownPolicy(cfg.Detect.UnknownPolicy)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "detect", "unknown policy", "", err)
	}

	var result Analysis
	err = timed(ctx, rec, "episode_index", func(ctx context.Context) error {
		idx, err := dataset.BuildEpisodeIndex(ctx, src, logging.WithContext(ctx, logger))
		if err != nil {
			return services.Wrap(services.ErrSource, "episode_index", "scan metadata", "", err)
		}
		result.Episodes = idx
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = timed(ctx, rec, "detect", func(ctx context.Context) error {
		detector := &segment.Detector{Threshold: cfg.Detect.Threshold, Logger: logger}
		if rec != nil {
			detector.OnReadFailure = func(int, error) { rec.ReadFailure("detect") }
		}
		det, err := detector.Detect(ctx, src, cfg.Detect.StartIndex, cfg.Detect.EndIndex)
		if err != nil {
			return services.Wrap(services.ErrSource, "detect", "scan gripper", "", err)
		}
		result.Detection = det
		if rec != nil {
			rec.FramesScanned.Add(float64(det.Scanned))
			for _, ev := range det.Events {
				rec.Event(string(ev.Kind))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = timed(ctx, rec, "extract", func(ctx context.Context) error {
		extractor := &segment.Extractor{
			Before:   cfg.Window.Before,
			After:    cfg.Window.After,
			Episodes: result.Episodes,
			Logger:   logger,
		}
		windows, err := extractor.Extract(ctx, src, result.Detection.Events)
		if err != nil {
			return services.Wrap(services.ErrSource, "extract", "build windows", "", err)
		}
		result.Extracted = len(windows)
		windows = segment.FilterUnknown(windows, policy)
		result.Dropped = result.Extracted - len(windows)
		if cfg.Merge.Enabled {
			before := len(windows)
			windows = segment.Merge(windows, cfg.Merge.MinGap)
			logging.WithContext(ctx, logger).Info("windows merged",
				logging.Int("before", before),
				logging.Int("after", len(windows)),
				logging.Int("min_gap", cfg.Merge.MinGap),
			)
		}
		result.Windows = windows
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// KindCounts tallies the analysed windows per kind.
func (a *Analysis) KindCounts() map[segment.Kind]int {
	counts := make(map[segment.Kind]int, 3)
	for _, w := range a.Windows {
		counts[w.Kind]++
	}
	return counts
}
