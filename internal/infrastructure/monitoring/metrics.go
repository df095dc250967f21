package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/veloprint/gateway/pkg/constants"
)

// Metrics manages the Prometheus metrics.
type Metrics struct {
	AuthRequests       *prometheus.CounterVec
	TokenRefreshes     *prometheus.CounterVec
	CacheRequests      *prometheus.CounterVec
	RateLimitHits      *prometheus.CounterVec
	CircuitTransitions *prometheus.CounterVec
	UpstreamLatency    *prometheus.HistogramVec
	UpstreamQuota      *prometheus.GaugeVec
	ActiveSessions     prometheus.Gauge
	BridgeTokensActive prometheus.Gauge
}

// NewMetrics creates the Prometheus metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AuthRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_auth_requests_total",
				Help: "Total number of authentication flow requests.",
			},
			[]string{"operation", "result"},
		),
		TokenRefreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_token_refreshes_total",
				Help: "Total number of upstream token refresh attempts.",
			},
			[]string{"result"},
		),
		CacheRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_cache_requests_total",
				Help: "Response cache lookups by namespace and outcome.",
			},
			[]string{"namespace", "outcome"},
		),
		RateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_rate_limit_hits_total",
				Help: "Total number of rate limit rejections.",
			},
			[]string{"scope"},
		),
		CircuitTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_circuit_transitions_total",
				Help: "Circuit breaker state transitions.",
			},
			[]string{"operation", "to"},
		),
		UpstreamLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_upstream_latency_seconds",
				Help:    "Latency of completed upstream calls.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		UpstreamQuota: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_upstream_quota_utilization",
				Help: "Last observed provider quota utilization per window.",
			},
			[]string{"window"},
		),
		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_active_sessions",
				Help: "Number of live sessions in the store.",
			},
		),
		BridgeTokensActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_bridge_tokens_active",
				Help: "Number of live cross-domain bridge tokens.",
			},
		),
	}
}

// RecordAuthRequest records a login, callback, or logout outcome.
func (m *Metrics) RecordAuthRequest(operation, result string) {
	m.AuthRequests.WithLabelValues(operation, result).Inc()
}

// RecordTokenRefresh records a refresh attempt outcome.
func (m *Metrics) RecordTokenRefresh(result string) {
	m.TokenRefreshes.WithLabelValues(result).Inc()
}

// RecordCacheRequest records a cache hit or miss.
func (m *Metrics) RecordCacheRequest(namespace constants.CacheNamespace, outcome string) {
	m.CacheRequests.WithLabelValues(string(namespace), outcome).Inc()
}

// RecordRateLimitHit records a rate limit rejection.
func (m *Metrics) RecordRateLimitHit(scope constants.RateLimitScope) {
	m.RateLimitHits.WithLabelValues(string(scope)).Inc()
}

// RecordCircuitTransition records a breaker state change.
func (m *Metrics) RecordCircuitTransition(operation, to string) {
	m.CircuitTransitions.WithLabelValues(operation, to).Inc()
}

// RecordUpstreamCall records the latency of a completed upstream round trip.
func (m *Metrics) RecordUpstreamCall(operation string, duration time.Duration) {
	m.UpstreamLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordQuotaUtilization publishes the last observed quota ratios.
func (m *Metrics) RecordQuotaUtilization(short, daily float64) {
	m.UpstreamQuota.WithLabelValues("short").Set(short)
	m.UpstreamQuota.WithLabelValues("daily").Set(daily)
}
