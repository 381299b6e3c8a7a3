package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the key release broker.
type Metrics struct {
	Releases       *prometheus.CounterVec
	RewrapLatency  prometheus.Histogram
	UnwrapFailures prometheus.Counter
}

// New creates a new Metrics instance with all broker metrics registered.
func New() *Metrics {
	return &Metrics{
		Releases: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "accord_kas_releases_total",
			Help: "Key release outcomes by result and reason",
		}, []string{"result", "reason"}),

		RewrapLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "accord_kas_rewrap_duration_seconds",
			Help:    "End-to-end key release latency including the policy decision call",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		UnwrapFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "accord_kas_unwrap_failures_total",
			Help: "Wrapped keys rejected by the unwrap primitive after an allow decision",
		}),
	}
}

// IncrementRelease records one key release outcome.
func (m *Metrics) IncrementRelease(result, reason string) {
	if m != nil {
		m.Releases.WithLabelValues(result, reason).Inc()
	}
}

// ObserveRewrapLatency records the duration of one release request.
func (m *Metrics) ObserveRewrapLatency(d time.Duration) {
	if m != nil {
		m.RewrapLatency.Observe(d.Seconds())
	}
}

// IncrementUnwrapFailure records one rejected wrapped key.
func (m *Metrics) IncrementUnwrapFailure() {
	if m != nil {
		m.UnwrapFailures.Inc()
	}
}
