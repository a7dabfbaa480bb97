// Package metrics counts comparison outcomes in a Prometheus registry that
// can be written to a node-exporter textfile after a run.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"snapdiff/internal/compare"
)

// Metrics tracks comparison outcomes.
type Metrics struct {
	registry *prometheus.Registry

	comparisons *prometheus.CounterVec
	diffPixels  prometheus.Histogram
	diffRatio   prometheus.Histogram
	duration    *prometheus.HistogramVec
}

// New registers the comparison metrics in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		comparisons: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "snapdiff_comparisons_total",
			Help: "Total number of comparisons by verdict and artifact kind",
		}, []string{"verdict", "kind"}),
		diffPixels: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "snapdiff_diff_pixels",
			Help:    "Differing pixels per compared image",
			Buckets: []float64{0, 1, 10, 100, 1000, 10000, 100000},
		}),
		diffRatio: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "snapdiff_diff_ratio",
			Help:    "Fraction of compared pixels that differ",
			Buckets: []float64{0, 0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "snapdiff_compare_duration_seconds",
			Help:    "Comparison latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
	}
}

// Observe records one comparison result.
func (m *Metrics) Observe(res compare.Result) {
	m.comparisons.WithLabelValues(string(res.Verdict), string(res.Kind)).Inc()
	m.duration.WithLabelValues(string(res.Kind)).Observe(res.Duration.Seconds())

	if res.Metric != nil && res.Compared > 0 {
		m.diffPixels.Observe(float64(*res.Metric))
		m.diffRatio.Observe(res.Ratio)
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes all metrics in the text exposition format to path.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
