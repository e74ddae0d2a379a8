// Package metrics defines the Prometheus instruments and the execution
// tracker used by the gateway pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for Toolgate.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	ExecutionsTotal    *prometheus.CounterVec
	ExecutionDuration  *prometheus.HistogramVec
	PolicyEvaluations  *prometheus.CounterVec
	RateLimitDenials   *prometheus.CounterVec
	IdempotentReplays  prometheus.Counter
	AuditFallbackDepth prometheus.Gauge
	CircuitBreakerOpen *prometheus.GaugeVec
}

// New creates and registers all metrics with the given registry.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "requests_total",
				Help:      "Total gateway requests processed",
			},
			[]string{"endpoint", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "toolgate",
				Name:      "request_duration_seconds",
				Help:      "Gateway request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		ExecutionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "tool_executions_total",
				Help:      "Total backend tool executions",
			},
			[]string{"tool", "status"}, // status=success/failed
		),
		ExecutionDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "toolgate",
				Name:      "tool_execution_duration_seconds",
				Help:      "Backend tool execution duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		PolicyEvaluations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "policy_evaluations_total",
				Help:      "Total policy evaluations",
			},
			[]string{"result"}, // result=allow/deny
		),
		RateLimitDenials: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "rate_limit_denials_total",
				Help:      "Total rate limit denials",
			},
			[]string{"key_type"}, // key_type=user/tool
		),
		IdempotentReplays: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "idempotent_replays_total",
				Help:      "Requests answered from the idempotency store",
			},
		),
		AuditFallbackDepth: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "toolgate",
				Name:      "audit_fallback_depth",
				Help:      "Audit events held in the in-memory fallback buffer",
			},
		),
		CircuitBreakerOpen: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "toolgate",
				Name:      "circuit_breaker_open",
				Help:      "1 when the named breaker is open",
			},
			[]string{"target"},
		),
	}
}
