package segment

import (
	"context"
	"log/slog"
	"math"

	"github.com/dongyingyibadao/data-dealer-auto/internal/dataset"
	"github.com/dongyingyibadao/data-dealer-auto/internal/logging"
)

// DefaultThreshold is the gripper change magnitude that counts as a transition.
const DefaultThreshold = 0.5

// Detector scans the gripper scalar of every frame in a range.
type Detector struct {
	Threshold float64
	Logger    *slog.Logger
	// OnReadFailure, when set, is called for every position that failed to read.
	OnReadFailure func(index int, err error)
}

// Detection is the scan result.
type Detection struct {
	Events       []Event
	Scanned      int
	ReadFailures int
}

// Detect scans positions [start, end) of src. end <= 0 or past the dataset
// length means "to the end". The first readable frame has no predecessor and
// never emits; a failed read clears the predecessor so no event spans a
// loader fault. Only context cancellation aborts the scan.
func (d *Detector) Detect(ctx context.Context, src dataset.Source, start, end int) (Detection, error) {
	logger := logging.WithContext(ctx, logging.NewComponentLogger(d.Logger, "detector"))
	threshold := d.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	total := src.Len()
	if end <= 0 || end > total {
		end = total
	}
	if start < 0 {
		start = 0
	}

	var result Detection
	sampler := logging.NewProgressSampler(10)
	havePrev := false
	var prev float32
	for i := start; i < end; i++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		frame, err := dataset.ReadMeta(ctx, src, i)
		var curr float32
		if err == nil {
			curr, err = frame.Gripper()
		}
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.ReadFailures++
			havePrev = false
			logger.Warn("frame read failed; skipped",
				logging.Int(logging.FieldFrameIndex, i),
				logging.Error(err),
				logging.String(logging.FieldEventType, "frame_read_failed"),
				logging.String(logging.FieldImpact, "no transition is reported across this frame"),
			)
			if d.OnReadFailure != nil {
				d.OnReadFailure(i, err)
			}
			continue
		}
		result.Scanned++
		if havePrev && math.Abs(float64(curr)-float64(prev)) > threshold {
			result.Events = append(result.Events, Event{
				At:         i,
				Prev:       prev,
				Curr:       curr,
				Kind:       Classify(prev, curr),
				EpisodeID:  frame.EpisodeID,
				LocalIndex: frame.LocalIndex,
				TaskLabel:  frame.TaskLabel,
				TaskIndex:  frame.TaskIndex,
			})
		}
		prev = curr
		havePrev = true

		if pct := logging.Percent(i-start+1, end-start); sampler.ShouldLog(pct, "detect") {
			logger.Debug("scan progress", logging.Float64(logging.FieldProgressPercent, pct))
		}
	}

	counts := CountByKind(result.Events)
	logger.Info("transition scan complete",
		logging.Int("events", len(result.Events)),
		logging.Int("grasp", counts[KindGrasp]),
		logging.Int("release", counts[KindRelease]),
		logging.Int("unknown", counts[KindUnknown]),
		logging.Int("read_failures", result.ReadFailures),
	)
	return result, nil
}
