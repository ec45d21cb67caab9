package main

import (
	"net/http"

	"github.com/actionmesh/actionmesh/api/handlers"
	"github.com/actionmesh/actionmesh/config"
	"github.com/actionmesh/actionmesh/internal/metrics"
	"github.com/actionmesh/actionmesh/internal/pool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// routerDeps bundles everything the HTTP surface needs.
type routerDeps struct {
	actions   *handlers.ActionHandler
	workflows *handlers.WorkflowHandler
	health    *handlers.HealthHandler
	collector *metrics.Collector
	limiter   *pool.TenantLimiter
	auth      config.AuthConfig
	logger    *zap.Logger
}

// newRouter assembles the mux. Health and metrics are unauthenticated;
// everything under /api/v1 requires a tenant scope.
func newRouter(deps routerDeps) http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /api/v1/actions", deps.actions.Execute)
	api.HandleFunc("GET /api/v1/audit", deps.actions.AuditList)
	api.HandleFunc("POST /api/v1/workflows", deps.workflows.Submit)
	api.HandleFunc("GET /api/v1/workflows/{id}", deps.workflows.Get)
	api.HandleFunc("POST /api/v1/workflows/{id}/cancel", deps.workflows.Cancel)
	api.HandleFunc("POST /api/v1/workflows/{id}/approvals", deps.workflows.Approve)
	api.HandleFunc("GET /api/v1/approvals", deps.workflows.PendingApprovals)

	protected := chain(api,
		auth(deps.auth, deps.logger),
		httpRateLimit(50, 100),
		tenantConcurrency(deps.limiter),
	)

	root := http.NewServeMux()
	root.Handle("/api/v1/", protected)
	root.HandleFunc("GET /healthz", deps.health.Live)
	root.HandleFunc("GET /readyz", deps.health.Ready)
	root.Handle("GET /metrics", promhttp.HandlerFor(
		deps.collector.Registry(), promhttp.HandlerOpts{}))

	return chain(root,
		recovery(deps.logger),
		correlationID(),
		cors(),
		securityHeaders(),
		tracing(),
		httpMetrics(deps.collector),
		requestLogger(deps.logger),
	)
}
