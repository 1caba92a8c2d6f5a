package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the counters and histograms exposed at GET /metrics,
// generalizing the inherited proxy metrics to the tool surface: request
// volume and latency per tool, breaker state per graph operation kind,
// and the shape of the rate limiter's live key set.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ToolInvocations *prometheus.CounterVec
	BreakerState    *prometheus.GaugeVec
	AuditDropsTotal prometheus.Counter
	RateLimitKeys   prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcpd",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed, by tool_id and status",
			},
			[]string{"tool_id", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mcpd",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds, by tool_id",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"tool_id"},
		),
		ToolInvocations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcpd",
				Name:      "tool_invocations_total",
				Help:      "Total tool invocations, by tool_id and outcome kind",
			},
			[]string{"tool_id", "kind"},
		),
		BreakerState: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "mcpd",
				Name:      "breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half_open, 2=open), by breaker name",
			},
			[]string{"breaker"},
		),
		AuditDropsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "mcpd",
				Name:      "audit_drops_total",
				Help:      "Total audit records dropped due to backpressure",
			},
		),
		RateLimitKeys: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "mcpd",
				Name:      "rate_limit_keys",
				Help:      "Number of active rate limit keys",
			},
		),
	}
}
