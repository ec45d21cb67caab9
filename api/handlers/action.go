package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/actionmesh/actionmesh/audit"
	"github.com/actionmesh/actionmesh/envelope"
	"github.com/actionmesh/actionmesh/tenant"
	"github.com/actionmesh/actionmesh/types"
	"go.uber.org/zap"
)

// Runner executes one action. The executor satisfies it.
type Runner interface {
	Execute(ctx context.Context, req *envelope.ActionRequest) (*envelope.ActionEnvelope, error)
}

// ActionHandler serves single-action execution and the audit trail.
type ActionHandler struct {
	runner Runner
	audits audit.Store
	logger *zap.Logger
}

// NewActionHandler creates the handler.
func NewActionHandler(runner Runner, audits audit.Store, logger *zap.Logger) *ActionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActionHandler{
		runner: runner,
		audits: audits,
		logger: logger.With(zap.String("component", "action_handler")),
	}
}

// Execute handles POST /api/v1/actions. The tenant always comes from the
// authenticated context; a tenant_id in the body is ignored.
func (h *ActionHandler) Execute(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenant.Scope(r.Context())
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}

	var req envelope.ActionRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	req.TenantID = tenantID
	if req.CorrelationID == "" {
		req.CorrelationID, _ = types.CorrelationID(r.Context())
	}

	env, err := h.runner.Execute(r.Context(), &req)
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, r, http.StatusOK, env)
}

// AuditList handles GET /api/v1/audit.
func (h *ActionHandler) AuditList(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenant.Scope(r.Context())
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}

	query := r.URL.Query()
	filter := audit.Filter{
		Operation:     query.Get("operation"),
		Provider:      query.Get("provider"),
		Status:        query.Get("status"),
		CorrelationID: query.Get("correlation_id"),
	}
	if raw := query.Get("limit"); raw != "" {
		limit, convErr := strconv.Atoi(raw)
		if convErr != nil || limit < 0 {
			WriteError(w, r, h.logger,
				types.NewError(types.ErrValidation, "limit must be a non-negative integer"))
			return
		}
		filter.Limit = limit
	}

	records, err := h.audits.List(r.Context(), tenantID, filter)
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, r, http.StatusOK, records)
}
