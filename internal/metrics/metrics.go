// Package metrics counts what a cutting run did and exports the totals in the
// Prometheus text format next to the output dataset.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TextfileName is written under the output meta directory.
const TextfileName = "run.prom"

// Recorder owns a private registry so concurrent runs never share counters.
type Recorder struct {
	reg *prometheus.Registry

	FramesScanned    prometheus.Counter
	ReadFailures     *prometheus.CounterVec
	Events           *prometheus.CounterVec
	Windows          prometheus.Counter
	SegmentsWritten  prometheus.Counter
	EmptySegments    prometheus.Counter
	Placeholders     prometheus.Counter
	FramesWritten    prometheus.Counter
	CaptionFallbacks prometheus.Counter
	BatchesCommitted prometheus.Counter
	StageSeconds     *prometheus.GaugeVec
}

// New registers every run metric on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		reg: reg,
		FramesScanned: factory.NewCounter(prometheus.CounterOpts{
			Name: "datadealer_frames_scanned_total",
			Help: "Frames whose gripper value was read by the detector",
		}),
		ReadFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "datadealer_read_failures_total",
			Help: "Frames that could not be read, by stage",
		}, []string{"stage"}),
		Events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "datadealer_events_total",
			Help: "Gripper transitions detected, by kind",
		}, []string{"kind"}),
		Windows: factory.NewCounter(prometheus.CounterOpts{
			Name: "datadealer_windows_total",
			Help: "Windows handed to the assembler",
		}),
		SegmentsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "datadealer_segments_written_total",
			Help: "Non-empty segments persisted",
		}),
		EmptySegments: factory.NewCounter(prometheus.CounterOpts{
			Name: "datadealer_empty_segments_total",
			Help: "Windows that produced no readable frame",
		}),
		Placeholders: factory.NewCounter(prometheus.CounterOpts{
			Name: "datadealer_placeholders_total",
			Help: "Placeholder frames inserted between segments",
		}),
		FramesWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "datadealer_frames_written_total",
			Help: "Output rows written, placeholders included",
		}),
		CaptionFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "datadealer_caption_fallbacks_total",
			Help: "Caption requests answered by the fallback label",
		}),
		BatchesCommitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "datadealer_batches_committed_total",
			Help: "Assembler batches accepted by the writer",
		}),
		StageSeconds: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "datadealer_stage_duration_seconds",
			Help: "Wall time spent in each pipeline stage",
		}, []string{"stage"}),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// ObserveStage records the duration of stage.
func (r *Recorder) ObserveStage(stage string, d time.Duration) {
	r.StageSeconds.WithLabelValues(stage).Set(d.Seconds())
}

// ReadFailure counts one unreadable frame in stage.
func (r *Recorder) ReadFailure(stage string) {
	r.ReadFailures.WithLabelValues(stage).Inc()
}

// Event counts one transition of kind.
func (r *Recorder) Event(kind string) {
	r.Events.WithLabelValues(kind).Inc()
}

// WriteTextfile writes every metric to path in the text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
