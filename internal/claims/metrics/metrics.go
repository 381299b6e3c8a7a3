package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for claim verification and the JWKS cache.
type Metrics struct {
	Verifications *prometheus.CounterVec
	JWKSRefreshes *prometheus.CounterVec
	KeyCacheSize  prometheus.Gauge
}

// New creates a new Metrics instance with all claim verifier metrics registered.
func New() *Metrics {
	return &Metrics{
		Verifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "accord_claims_verifications_total",
			Help: "Token verification outcomes",
		}, []string{"outcome"}), // outcome: "ok", "invalid_token", "missing_attribute", "key_unavailable"

		JWKSRefreshes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "accord_claims_jwks_refreshes_total",
			Help: "JWKS fetch attempts by result",
		}, []string{"result"}), // result: "ok", "error"

		KeyCacheSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "accord_claims_signing_keys",
			Help: "Number of issuer signing keys currently cached",
		}),
	}
}

// IncrementVerification records a verification outcome.
func (m *Metrics) IncrementVerification(outcome string) {
	if m != nil {
		m.Verifications.WithLabelValues(outcome).Inc()
	}
}

// IncrementJWKSRefresh records a JWKS fetch result.
func (m *Metrics) IncrementJWKSRefresh(result string) {
	if m != nil {
		m.JWKSRefreshes.WithLabelValues(result).Inc()
	}
}

// SetKeyCacheSize records the current signing key count.
func (m *Metrics) SetKeyCacheSize(n int) {
	if m != nil {
		m.KeyCacheSize.Set(float64(n))
	}
}
