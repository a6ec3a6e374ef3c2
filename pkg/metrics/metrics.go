// Package metrics collects per-session Prometheus metrics and writes them in
// the textfile collector format.
package metrics

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"procamgraycode/internal/models"
	"procamgraycode/pkg/correspondence"
)

// Metrics holds the collectors of one calibration session
type Metrics struct {
	PatternsProjected prometheus.Counter
	FramesCaptured    prometheus.Counter
	Pixels            *prometheus.GaugeVec
	Coverage          prometheus.Gauge
	StageDuration     *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New creates a Metrics instance with its own registry
func New() *Metrics {
	m := &Metrics{
		PatternsProjected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "procam_patterns_projected_total",
			Help: "Gray-code patterns shown on the projector",
		}),
		FramesCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "procam_frames_captured_total",
			Help: "Camera frames captured during the pattern sequence",
		}),
		Pixels: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "procam_pixels",
			Help: "Camera pixels by decode status",
		}, []string{"status"}),
		Coverage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "procam_coverage_ratio",
			Help: "Fraction of camera pixels with a correspondence",
		}),
		StageDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "procam_stage_duration_seconds",
			Help: "Wall time spent in each pipeline stage",
		}, []string{"stage"}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(m.PatternsProjected, m.FramesCaptured, m.Pixels, m.Coverage, m.StageDuration)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveStage records how long a stage started at start took
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	m.StageDuration.WithLabelValues(stage).Set(time.Since(start).Seconds())
}

// ObserveCapture records a completed capture of n patterns
func (m *Metrics) ObserveCapture(n int) {
	m.PatternsProjected.Add(float64(n))
	m.FramesCaptured.Add(float64(n))
}

// ObserveResult records decode statistics and coverage
func (m *Metrics) ObserveResult(stats correspondence.Stats, report correspondence.Report) {
	for _, s := range models.Statuses {
		m.Pixels.WithLabelValues(s.String()).Set(float64(stats[s]))
	}
	m.Coverage.Set(report.Coverage)
}

// WriteTextfile dumps every metric to path for the node exporter textfile collector
func (m *Metrics) WriteTextfile(path string) error {
	return errors.Wrap(prometheus.WriteToTextfile(path, m.registry), "failed to write metrics")
}
