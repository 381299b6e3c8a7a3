package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the resource access enforcement point.
type Metrics struct {
	Decisions        *prometheus.CounterVec
	AuthorizeLatency prometheus.Histogram
}

// New creates a new Metrics instance with all enforcement metrics registered.
func New() *Metrics {
	return &Metrics{
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "accord_enforce_decisions_total",
			Help: "Authorization outcomes by result and reason",
		}, []string{"result", "reason"}),

		AuthorizeLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "accord_enforce_authorize_duration_seconds",
			Help:    "End-to-end authorization latency including the policy decision call",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
	}
}

// IncrementDecision records one authorization outcome.
func (m *Metrics) IncrementDecision(result, reason string) {
	if m != nil {
		m.Decisions.WithLabelValues(result, reason).Inc()
	}
}

// ObserveAuthorizeLatency records the duration of one authorization.
func (m *Metrics) ObserveAuthorizeLatency(d time.Duration) {
	if m != nil {
		m.AuthorizeLatency.Observe(d.Seconds())
	}
}
