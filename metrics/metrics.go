// Package metrics provides Prometheus metrics for authentication outcomes,
// claims-cache effectiveness and identity-provider calls.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the Keycloak bridge. A nil
// *Metrics is a valid no-op receiver, so instrumentation points never have
// to guard against an unconfigured instance.
type Metrics struct {
	authOutcomesTotal *prometheus.CounterVec

	cacheHitsTotal   *prometheus.CounterVec
	cacheMissesTotal *prometheus.CounterVec

	providerRequestsTotal   *prometheus.CounterVec
	providerRequestDuration *prometheus.HistogramVec
}

// New creates and registers the metrics on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith creates the metrics and registers them on reg.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		authOutcomesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "keycloak_auth_outcomes_total",
			Help: "Authentication outcomes per inbound request",
		}, []string{"outcome"}),

		cacheHitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "keycloak_claims_cache_hits_total",
			Help: "Claims cache hits per claim kind",
		}, []string{"kind"}),

		cacheMissesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "keycloak_claims_cache_misses_total",
			Help: "Claims cache misses per claim kind",
		}, []string{"kind"}),

		providerRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "keycloak_provider_requests_total",
			Help: "Requests issued to the identity provider",
		}, []string{"op", "result"}),

		providerRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "keycloak_provider_request_duration_seconds",
			Help:    "Latency of identity-provider requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}
}

// AuthOutcome records an authentication outcome
// (authenticated, anonymous, exempt, rejected, error).
func (m *Metrics) AuthOutcome(outcome string) {
	if m == nil {
		return
	}
	m.authOutcomesTotal.WithLabelValues(outcome).Inc()
}

// CacheHit records a claims-cache hit for the given claim kind.
func (m *Metrics) CacheHit(kind string) {
	if m == nil {
		return
	}
	m.cacheHitsTotal.WithLabelValues(kind).Inc()
}

// CacheMiss records a claims-cache miss for the given claim kind.
func (m *Metrics) CacheMiss(kind string) {
	if m == nil {
		return
	}
	m.cacheMissesTotal.WithLabelValues(kind).Inc()
}

// ProviderCall records one identity-provider request.
func (m *Metrics) ProviderCall(op string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.providerRequestsTotal.WithLabelValues(op, result).Inc()
	m.providerRequestDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}
