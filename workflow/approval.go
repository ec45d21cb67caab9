package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/actionmesh/actionmesh/types"
	"go.uber.org/zap"
)

// DecisionAction is what an approver chose to do with a gated step.
type DecisionAction string

const (
	// DecisionApprove runs the step as declared.
	DecisionApprove DecisionAction = "approve"
	// DecisionDeny refuses the step. A denied required step fails the
	// workflow.
	DecisionDeny DecisionAction = "deny"
	// DecisionModify runs the step with amended parameters.
	DecisionModify DecisionAction = "modify"
)

// Valid reports whether the action is a known variant.
func (a DecisionAction) Valid() bool {
	switch a {
	case DecisionApprove, DecisionDeny, DecisionModify:
		return true
	}
	return false
}

// Decision is one approver response.
type Decision struct {
	Action DecisionAction `json:"action"`
	// Parameters replaces the step parameters when Action is modify.
	Parameters map[string]any `json:"parameters,omitempty"`
	ActorID    string         `json:"actor_id,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	DecidedAt  time.Time      `json:"decided_at"`
}

// PendingApproval describes one step waiting for a decision.
type PendingApproval struct {
	TenantID    string    `json:"tenant_id"`
	WorkflowID  string    `json:"workflow_id"`
	StepID      string    `json:"step_id"`
	Operation   string    `json:"operation"`
	Provider    string    `json:"provider"`
	RequestedAt time.Time `json:"requested_at"`
}

type pendingGate struct {
	info PendingApproval
	ch   chan Decision
}

// ApprovalManager parks gated steps until a decision arrives. Each gate is
// a one-shot channel; resolving a gate twice is an error.
type ApprovalManager struct {
	gates  map[string]*pendingGate
	logger *zap.Logger
	mu     sync.Mutex
}

// NewApprovalManager creates an empty manager.
func NewApprovalManager(logger *zap.Logger) *ApprovalManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApprovalManager{
		gates:  make(map[string]*pendingGate),
		logger: logger.With(zap.String("component", "approval_manager")),
	}
}

func gateKey(tenantID, workflowID, stepID string) string {
	return tenantID + "\x00" + workflowID + "\x00" + stepID
}

// Wait parks the calling step until a decision arrives or the context ends.
// The gate is registered before blocking so a decision submitted immediately
// after the workflow checkpoints is never lost.
func (m *ApprovalManager) Wait(ctx context.Context, info PendingApproval) (Decision, error) {
	key := gateKey(info.TenantID, info.WorkflowID, info.StepID)
	gate := &pendingGate{info: info, ch: make(chan Decision, 1)}
	gate.info.RequestedAt = time.Now().UTC()

	m.mu.Lock()
	if _, exists := m.gates[key]; exists {
		m.mu.Unlock()
		return Decision{}, types.NewError(types.ErrConflict,
			fmt.Sprintf("step %s already waiting for approval", info.StepID))
	}
	m.gates[key] = gate
	m.mu.Unlock()

	m.logger.Info("step waiting for approval",
		zap.String("tenant_id", info.TenantID),
		zap.String("workflow_id", info.WorkflowID),
		zap.String("step_id", info.StepID))

	defer func() {
		m.mu.Lock()
		delete(m.gates, key)
		m.mu.Unlock()
	}()

	select {
	case decision := <-gate.ch:
		return decision, nil
	case <-ctx.Done():
		return Decision{}, types.NewError(types.ErrTimeout, "approval wait canceled").
			WithCause(ctx.Err())
	}
}

// Resolve delivers a decision to a waiting gate.
func (m *ApprovalManager) Resolve(tenantID, workflowID, stepID string, decision Decision) error {
	if !decision.Action.Valid() {
		return types.NewError(types.ErrValidation,
			fmt.Sprintf("unknown approval action %q", decision.Action))
	}
	decision.DecidedAt = time.Now().UTC()

	m.mu.Lock()
	gate, ok := m.gates[gateKey(tenantID, workflowID, stepID)]
	if ok {
		delete(m.gates, gateKey(tenantID, workflowID, stepID))
	}
	m.mu.Unlock()

	if !ok {
		return types.NewError(types.ErrNotFound,
			fmt.Sprintf("no pending approval for workflow %s step %s", workflowID, stepID)).
			WithHTTPStatus(404)
	}

	gate.ch <- decision
	m.logger.Info("approval resolved",
		zap.String("tenant_id", tenantID),
		zap.String("workflow_id", workflowID),
		zap.String("step_id", stepID),
		zap.String("action", string(decision.Action)),
		zap.String("actor_id", decision.ActorID))
	return nil
}

// Pending returns the tenant's steps waiting for a decision.
func (m *ApprovalManager) Pending(tenantID string) []PendingApproval {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PendingApproval
	for _, gate := range m.gates {
		if gate.info.TenantID == tenantID {
			out = append(out, gate.info)
		}
	}
	return out
}
