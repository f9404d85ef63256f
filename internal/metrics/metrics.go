// Package metrics exports load test progress as Prometheus metrics.
package metrics

import (
	"stressq/internal/stats"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LoadMetrics observes an Aggregator and mirrors it into Prometheus.
type LoadMetrics struct {
	Operations *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
	Throughput prometheus.Gauge
	Peak       prometheus.Gauge

	peak uint64
}

// New registers the load test metrics on reg.
func New(reg prometheus.Registerer) *LoadMetrics {
	f := promauto.With(reg)
	return &LoadMetrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stressq_operations_total",
			Help: "Operations recorded, by kind and outcome",
		}, []string{"kind", "outcome"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stressq_operation_duration_seconds",
			Help:    "Duration of successful operations in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"kind"}),
		Throughput: f.NewGauge(prometheus.GaugeOpts{
			Name: "stressq_throughput_ops_per_second",
			Help: "Operations completed in the last sampled second",
		}),
		Peak: f.NewGauge(prometheus.GaugeOpts{
			Name: "stressq_peak_throughput_ops_per_second",
			Help: "Highest per-second throughput seen by this process",
		}),
	}
}

func (m *LoadMetrics) Observe(r stats.Result) {
	outcome := "success"
	if !r.Success {
		outcome = "failure"
	}
	m.Operations.WithLabelValues(string(r.Kind), outcome).Inc()
	if r.Success {
		m.Duration.WithLabelValues(string(r.Kind)).Observe(r.Duration.Seconds())
	}
}

// ObserveThroughput is called from the single monitor goroutine.
func (m *LoadMetrics) ObserveThroughput(v uint64) {
	m.Throughput.Set(float64(v))
	if v > m.peak {
		m.peak = v
		m.Peak.Set(float64(v))
	}
}
