package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the policy decision client.
type Metrics struct {
	EvaluateLatency prometheus.Histogram
	Outcomes        *prometheus.CounterVec
	Failures        *prometheus.CounterVec
}

// New creates a new Metrics instance with all decision client metrics registered.
func New() *Metrics {
	return &Metrics{
		EvaluateLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "accord_pdp_evaluate_duration_seconds",
			Help:    "Duration of external policy decision calls",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		Outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "accord_pdp_outcomes_total",
			Help: "External policy decision outcomes by result and action",
		}, []string{"result", "action"}), // result: "allow", "deny"

		Failures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "accord_pdp_failures_total",
			Help: "Policy decision service failures by kind; every failure denies",
		}, []string{"kind"}), // kind: "timeout", "transport", "status", "malformed"
	}
}

// ObserveEvaluateLatency records the duration of one decision call.
func (m *Metrics) ObserveEvaluateLatency(d time.Duration) {
	if m != nil {
		m.EvaluateLatency.Observe(d.Seconds())
	}
}

// IncrementOutcome records a successful decision call's result.
func (m *Metrics) IncrementOutcome(result, action string) {
	if m != nil {
		m.Outcomes.WithLabelValues(result, action).Inc()
	}
}

// IncrementFailure records a failed decision call; the caller fails closed.
func (m *Metrics) IncrementFailure(kind string) {
	if m != nil {
		m.Failures.WithLabelValues(kind).Inc()
	}
}
