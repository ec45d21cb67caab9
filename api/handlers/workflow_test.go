package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/actionmesh/actionmesh/envelope"
	"github.com/actionmesh/actionmesh/types"
	"github.com/actionmesh/actionmesh/workflow"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type instantRunner struct{}

func (instantRunner) Execute(ctx context.Context, req *envelope.ActionRequest) (*envelope.ActionEnvelope, error) {
	env := &envelope.ActionEnvelope{
		ActionID:  uuid.New().String(),
		TenantID:  req.TenantID,
		Operation: req.Operation,
		Provider:  req.Provider,
		Timestamp: time.Now().UTC(),
	}
	env.Succeed(map[string]any{"ok": true}, 0)
	return env, nil
}

func newWorkflowHandler(t *testing.T) (*WorkflowHandler, *workflow.MemoryCheckpointStore) {
	checkpoints := workflow.NewMemoryCheckpointStore()
	engine := workflow.NewEngine(instantRunner{}, checkpoints,
		workflow.NewApprovalManager(nil), workflow.DefaultConfig(), nil)
	return NewWorkflowHandler(engine, nil), checkpoints
}

func TestWorkflowHandler_SubmitAndGet(t *testing.T) {
	h, checkpoints := newWorkflowHandler(t)

	body := `{
		"name": "onboard",
		"steps": [
			{"id": "a", "operation": "crm.create_contact", "provider": "hubspot"},
			{"id": "b", "operation": "email.send", "provider": "sendgrid", "depends_on": ["a"]}
		]
	}`
	w := httptest.NewRecorder()
	h.Submit(w, authedRequest(http.MethodPost, "/api/v1/workflows", body))
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp struct {
		Data struct {
			WorkflowID string `json:"workflow_id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Data.WorkflowID)

	ctx := types.WithTenantID(context.Background(), "t1")
	require.Eventually(t, func() bool {
		state, err := checkpoints.Load(ctx, "t1", resp.Data.WorkflowID)
		return err == nil && state.Status == workflow.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	get := authedRequest(http.MethodGet, "/api/v1/workflows/"+resp.Data.WorkflowID, "")
	get.SetPathValue("id", resp.Data.WorkflowID)
	w = httptest.NewRecorder()
	h.Get(w, get)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"completed"`)
}

func TestWorkflowHandler_SubmitInvalid(t *testing.T) {
	h, _ := newWorkflowHandler(t)

	w := httptest.NewRecorder()
	h.Submit(w, authedRequest(http.MethodPost, "/api/v1/workflows",
		`{"name":"empty","steps":[]}`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "VALIDATION")
}

func TestWorkflowHandler_GetMissing(t *testing.T) {
	h, _ := newWorkflowHandler(t)

	get := authedRequest(http.MethodGet, "/api/v1/workflows/nope", "")
	get.SetPathValue("id", "nope")
	w := httptest.NewRecorder()
	h.Get(w, get)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWorkflowHandler_GetOtherTenantDenied(t *testing.T) {
	h, checkpoints := newWorkflowHandler(t)

	state := workflow.NewState("t2", "secret", []workflow.StepConfig{
		{ID: "a", Operation: "crm.create_contact", Provider: "hubspot"},
	})
	require.NoError(t, checkpoints.Save(
		types.WithTenantID(context.Background(), "t2"), state))

	// The caller is t1; they cannot see t2's workflow even with its ID.
	get := authedRequest(http.MethodGet, "/api/v1/workflows/"+state.WorkflowID, "")
	get.SetPathValue("id", state.WorkflowID)
	w := httptest.NewRecorder()
	h.Get(w, get)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWorkflowHandler_ApproveValidation(t *testing.T) {
	h, _ := newWorkflowHandler(t)

	approve := authedRequest(http.MethodPost, "/api/v1/workflows/wf1/approvals",
		`{"action":"approve"}`)
	approve.SetPathValue("id", "wf1")
	w := httptest.NewRecorder()
	h.Approve(w, approve)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	approve = authedRequest(http.MethodPost, "/api/v1/workflows/wf1/approvals",
		`{"step_id":"a","action":"approve"}`)
	approve.SetPathValue("id", "wf1")
	w = httptest.NewRecorder()
	h.Approve(w, approve)
	// No gate is waiting.
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWorkflowHandler_PendingApprovalsEmpty(t *testing.T) {
	h, _ := newWorkflowHandler(t)

	w := httptest.NewRecorder()
	h.PendingApprovals(w, authedRequest(http.MethodGet, "/api/v1/approvals", ""))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"data":[]`)
}
