// Package http provides the HTTP API for evaguard.
//
// Endpoints:
//
//	POST   /v1/check               - evaluate a message
//	GET    /v1/rules               - list rules
//	POST   /v1/rules               - add a rule
//	POST   /v1/rules/{id}/enable   - enable a rule
//	POST   /v1/rules/{id}/disable  - disable a rule
//	DELETE /v1/rules/{id}          - remove a rule
//	GET    /v1/decisions           - query decision evidence
//	GET    /v1/stats               - aggregated decision statistics
//	GET    /health                 - component health
//	GET    /metrics                - Prometheus metrics
//
// Requests pass through MetricsMiddleware, RequestIDMiddleware,
// APIKeyMiddleware and MaxBodyMiddleware, outermost first.
// /health and /metrics are never authenticated.
package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the HTTP API.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ChecksTotal     *prometheus.CounterVec
	RuleViolations  *prometheus.CounterVec
	RulesActive     prometheus.Gauge
	AuthFailures    prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "evaguard",
				Name:      "requests_total",
				Help:      "Total number of API requests processed",
			},
			[]string{"method", "status"}, // status=ok/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "evaguard",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		ChecksTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "evaguard",
				Name:      "checks_total",
				Help:      "Total compliance checks by decision",
			},
			[]string{"decision", "enforced"}, // decision=allow/deny
		),
		RuleViolations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "evaguard",
				Name:      "rule_violations_total",
				Help:      "Total violations per rule",
			},
			[]string{"rule"},
		),
		RulesActive: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "evaguard",
				Name:      "rules_enabled",
				Help:      "Number of enabled rules",
			},
		),
		AuthFailures: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "evaguard",
				Name:      "auth_failures_total",
				Help:      "Requests rejected for a missing or invalid API key",
			},
		),
	}
}
