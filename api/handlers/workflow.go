package handlers

import (
	"net/http"

	"github.com/actionmesh/actionmesh/tenant"
	"github.com/actionmesh/actionmesh/types"
	"github.com/actionmesh/actionmesh/workflow"
	"go.uber.org/zap"
)

// WorkflowHandler serves workflow submission, inspection, cancellation, and
// approvals.
type WorkflowHandler struct {
	engine *workflow.Engine
	logger *zap.Logger
}

// NewWorkflowHandler creates the handler.
func NewWorkflowHandler(engine *workflow.Engine, logger *zap.Logger) *WorkflowHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowHandler{
		engine: engine,
		logger: logger.With(zap.String("component", "workflow_handler")),
	}
}

// submitRequest is the POST /api/v1/workflows body.
type submitRequest struct {
	Name          string                `json:"name"`
	CorrelationID string                `json:"correlation_id,omitempty"`
	Steps         []workflow.StepConfig `json:"steps"`
	CallbackURL   string                `json:"callback_url,omitempty"`
}

// Submit handles POST /api/v1/workflows.
func (h *WorkflowHandler) Submit(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenant.Scope(r.Context())
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}

	var req submitRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}

	state := workflow.NewState(tenantID, req.Name, req.Steps)
	state.CallbackURL = req.CallbackURL
	state.CorrelationID = req.CorrelationID
	if state.CorrelationID == "" {
		state.CorrelationID, _ = types.CorrelationID(r.Context())
	}

	if err := h.engine.Submit(r.Context(), state); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, r, http.StatusAccepted, map[string]any{
		"workflow_id": state.WorkflowID,
		"status":      state.Status,
	})
}

// Get handles GET /api/v1/workflows/{id}.
func (h *WorkflowHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenant.Scope(r.Context())
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}

	state, err := h.engine.Get(r.Context(), tenantID, r.PathValue("id"))
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, r, http.StatusOK, state)
}

// Cancel handles POST /api/v1/workflows/{id}/cancel.
func (h *WorkflowHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenant.Scope(r.Context())
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}

	workflowID := r.PathValue("id")
	if err := h.engine.Cancel(r.Context(), tenantID, workflowID); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, r, http.StatusAccepted, map[string]any{
		"workflow_id": workflowID,
		"status":      workflow.StatusCanceled,
	})
}

// approvalRequest is the POST /api/v1/workflows/{id}/approvals body.
type approvalRequest struct {
	StepID     string                  `json:"step_id"`
	Action     workflow.DecisionAction `json:"action"`
	Parameters map[string]any          `json:"parameters,omitempty"`
	Reason     string                  `json:"reason,omitempty"`
}

// Approve handles POST /api/v1/workflows/{id}/approvals.
func (h *WorkflowHandler) Approve(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenant.Scope(r.Context())
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}

	var req approvalRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	if req.StepID == "" {
		WriteError(w, r, h.logger, types.NewError(types.ErrValidation, "step_id is required"))
		return
	}

	actorID, _ := types.ActorID(r.Context())
	decision := workflow.Decision{
		Action:     req.Action,
		Parameters: req.Parameters,
		Reason:     req.Reason,
		ActorID:    actorID,
	}
	if err := h.engine.Approvals().Resolve(tenantID, r.PathValue("id"), req.StepID, decision); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	WriteJSON(w, r, http.StatusOK, map[string]any{
		"workflow_id": r.PathValue("id"),
		"step_id":     req.StepID,
		"action":      req.Action,
	})
}

// PendingApprovals handles GET /api/v1/approvals.
func (h *WorkflowHandler) PendingApprovals(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenant.Scope(r.Context())
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	pending := h.engine.Approvals().Pending(tenantID)
	if pending == nil {
		pending = []workflow.PendingApproval{}
	}
	WriteJSON(w, r, http.StatusOK, pending)
}
