// Package metrics provides the service's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector owns every metric the service exports. All collectors register
// against a private registry so tests can create collectors freely.
type Collector struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	actionsTotal    *prometheus.CounterVec
	actionDuration  *prometheus.HistogramVec
	actionReplays   *prometheus.CounterVec
	rateLimitDenied *prometheus.CounterVec
	breakerOpen     *prometheus.CounterVec

	workflowsTotal   *prometheus.CounterVec
	workflowDuration *prometheus.HistogramVec
	approvalsTotal   *prometheus.CounterVec

	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector creates a collector with its own registry.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	c := &Collector{
		registry: registry,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.actionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Total number of executed actions",
		},
		[]string{"operation", "provider", "status"},
	)
	c.actionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_duration_seconds",
			Help:      "Action execution duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"operation", "provider"},
	)
	c.actionReplays = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_idempotent_replays_total",
			Help:      "Total number of actions served from the idempotency store",
		},
		[]string{"operation", "provider"},
	)
	c.rateLimitDenied = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_denied_total",
			Help:      "Total number of actions denied by the rate limiter",
		},
		[]string{"provider"},
	)
	c.breakerOpen = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_open_denied_total",
			Help:      "Total number of actions denied by an open circuit",
		},
		[]string{"provider"},
	)

	c.workflowsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_total",
			Help:      "Total number of finished workflows",
		},
		[]string{"status"},
	)
	c.workflowDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_duration_seconds",
			Help:      "Workflow duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		},
		[]string{"status"},
	)
	c.approvalsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approvals_total",
			Help:      "Total number of approval decisions",
		},
		[]string{"action"},
	)

	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)
	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// Registry returns the registry backing the /metrics endpoint.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordHTTPRequest records one handled HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusClass(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObserveAction records one executed action. Satisfies the executor's
// observer contract.
func (c *Collector) ObserveAction(operation, provider, status string, duration time.Duration) {
	c.actionsTotal.WithLabelValues(operation, provider, status).Inc()
	c.actionDuration.WithLabelValues(operation, provider).Observe(duration.Seconds())
}

// RecordIdempotentReplay records an action served from the idempotency store.
func (c *Collector) RecordIdempotentReplay(operation, provider string) {
	c.actionReplays.WithLabelValues(operation, provider).Inc()
}

// RecordRateLimitDenied records a rate-limiter denial.
func (c *Collector) RecordRateLimitDenied(provider string) {
	c.rateLimitDenied.WithLabelValues(provider).Inc()
}

// RecordCircuitDenied records an open-circuit denial.
func (c *Collector) RecordCircuitDenied(provider string) {
	c.breakerOpen.WithLabelValues(provider).Inc()
}

// RecordWorkflow records one finished workflow.
func (c *Collector) RecordWorkflow(status string, duration time.Duration) {
	c.workflowsTotal.WithLabelValues(status).Inc()
	c.workflowDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordApproval records one approval decision.
func (c *Collector) RecordApproval(action string) {
	c.approvalsTotal.WithLabelValues(action).Inc()
}

// RecordDBConnections records the database pool gauges.
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
