package core

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsRecorder receives run and batch outcomes.
type MetricsRecorder interface {
	ObserveCohort(studyID string, size int)
	ObserveBatch(studyID string, res BatchResult)
}

type noopMetrics struct{}

func (noopMetrics) ObserveCohort(string, int)        {}
func (noopMetrics) ObserveBatch(string, BatchResult) {}

// PrometheusMetrics records pipeline metrics in a dedicated registry so they can
// be written to a node-exporter textfile at the end of a batch job.
type PrometheusMetrics struct {
	registry *prometheus.Registry
	emitted  *prometheus.CounterVec
	skipped  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	cohort   *prometheus.GaugeVec
}

// NewPrometheusMetrics registers the clonefreq collectors on a fresh registry.
func NewPrometheusMetrics() *PrometheusMetrics {
	m := &PrometheusMetrics{
		registry: prometheus.NewRegistry(),
		emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clonefreq_records_emitted_total",
			Help: "Frequency records written.",
		}, []string{"study"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clonefreq_clonotypes_skipped_total",
			Help: "Clonotypes skipped, by reason.",
		}, []string{"study", "reason"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clonefreq_batch_duration_seconds",
			Help:    "Wall time spent per batch.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"study"}),
		cohort: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clonefreq_cohort_size",
			Help: "Samples in the cohort of the last run.",
		}, []string{"study"}),
	}
	m.registry.MustRegister(m.emitted, m.skipped, m.duration, m.cohort)
	return m
}

// Registry exposes the underlying registry.
func (m *PrometheusMetrics) Registry() *prometheus.Registry { return m.registry }

// ObserveCohort implements MetricsRecorder.
func (m *PrometheusMetrics) ObserveCohort(studyID string, size int) {
	m.cohort.WithLabelValues(studyID).Set(float64(size))
}

// ObserveBatch implements MetricsRecorder.
func (m *PrometheusMetrics) ObserveBatch(studyID string, res BatchResult) {
	m.emitted.WithLabelValues(studyID).Add(float64(res.Emitted))
	for reason, n := range res.Skipped {
		m.skipped.WithLabelValues(studyID, reason).Add(float64(n))
	}
	m.duration.WithLabelValues(studyID).Observe(res.Duration.Seconds())
}

// WriteTextfile writes the registry in text exposition format.
func (m *PrometheusMetrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
