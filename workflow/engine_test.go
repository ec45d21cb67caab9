package workflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/actionmesh/actionmesh/envelope"
	"github.com/actionmesh/actionmesh/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner emulates the executor, including idempotency replay: a
// repeated idempotency key returns the original envelope without counting
// a new call.
type fakeRunner struct {
	mu        sync.Mutex
	calls     []string
	fail      map[string]*types.Error
	results   map[string]map[string]any
	delay     time.Duration
	committed map[string]*envelope.ActionEnvelope
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		fail:      make(map[string]*types.Error),
		results:   make(map[string]map[string]any),
		committed: make(map[string]*envelope.ActionEnvelope),
	}
}

func (f *fakeRunner) Execute(ctx context.Context, req *envelope.ActionRequest) (*envelope.ActionEnvelope, error) {
	f.mu.Lock()
	if cached, ok := f.committed[req.IdempotencyKey]; ok {
		f.mu.Unlock()
		return cached, nil
	}
	f.calls = append(f.calls, req.Operation)
	failErr := f.fail[req.Operation]
	result := f.results[req.Operation]
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, types.NewError(types.ErrTimeout, "canceled").WithCause(ctx.Err())
		case <-time.After(delay):
		}
	}

	env := &envelope.ActionEnvelope{
		ActionID:       uuid.New().String(),
		TenantID:       req.TenantID,
		Operation:      req.Operation,
		Provider:       req.Provider,
		IdempotencyKey: req.IdempotencyKey,
		Timestamp:      time.Now().UTC(),
		Attempts:       1,
	}
	if failErr != nil {
		env.Fail(failErr, 0)
	} else {
		env.Succeed(result, 0)
	}

	f.mu.Lock()
	if req.IdempotencyKey != "" {
		f.committed[req.IdempotencyKey] = env
	}
	f.mu.Unlock()
	return env, nil
}

func (f *fakeRunner) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestEngine(runner ActionRunner, checkpoints CheckpointStore) *Engine {
	return NewEngine(runner, checkpoints, NewApprovalManager(nil), DefaultConfig(), nil)
}

func TestEngine_RunLinearWorkflow(t *testing.T) {
	runner := newFakeRunner()
	runner.results["crm.create_contact"] = map[string]any{"contact_id": "c-1"}

	checkpoints := NewMemoryCheckpointStore()
	engine := newTestEngine(runner, checkpoints)

	state := NewState("t1", "onboard", linearSteps())
	require.NoError(t, engine.Run(tenantCtx("t1"), state))

	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t,
		[]string{"crm.create_contact", "email.send", "helpdesk.create_ticket"},
		runner.callList())

	// Step results flow into the shared context.
	assert.Equal(t, "c-1", state.Context["contact_id"].Value)
	assert.Equal(t, "a", state.Context["contact_id"].StepID)

	// The executor's attempt count lands on the step record.
	assert.Equal(t, 1, state.StepStates["a"].Attempts)

	// The terminal checkpoint is durable.
	loaded, err := checkpoints.Load(tenantCtx("t1"), "t1", state.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, loaded.Status)
	assert.Greater(t, loaded.Version, 3)
}

func TestEngine_ParallelSteps(t *testing.T) {
	runner := newFakeRunner()
	engine := newTestEngine(runner, NewMemoryCheckpointStore())

	state := NewState("t1", "fanout", []StepConfig{
		{ID: "a", Operation: "crm.create_contact", Provider: "hubspot"},
		{ID: "b", Operation: "email.send", Provider: "sendgrid"},
		{ID: "c", Operation: "helpdesk.create_ticket", Provider: "zendesk", DependsOn: []string{"a", "b"}},
	})
	require.NoError(t, engine.Run(tenantCtx("t1"), state))

	assert.Equal(t, StatusCompleted, state.Status)
	calls := runner.callList()
	require.Len(t, calls, 3)
	assert.Equal(t, "helpdesk.create_ticket", calls[2])
}

func TestEngine_RequiredStepFailureFailsWorkflow(t *testing.T) {
	runner := newFakeRunner()
	runner.fail["email.send"] = types.NewError(types.ErrProvider, "smtp down")

	engine := newTestEngine(runner, NewMemoryCheckpointStore())

	steps := linearSteps()
	steps[1].Required = true
	state := NewState("t1", "onboard", steps)
	require.NoError(t, engine.Run(tenantCtx("t1"), state))

	assert.Equal(t, StatusFailed, state.Status)
	assert.Equal(t, StepCompleted, state.StepStates["a"].Status)
	assert.Equal(t, StepFailed, state.StepStates["b"].Status)
	assert.Equal(t, StepSkipped, state.StepStates["c"].Status)
	require.NotNil(t, state.StepStates["b"].Error)
	assert.Equal(t, types.ErrProvider, state.StepStates["b"].Error.Code)
	assert.NotContains(t, runner.callList(), "helpdesk.create_ticket")
}

func TestEngine_OptionalStepFailureCompletesWorkflow(t *testing.T) {
	runner := newFakeRunner()
	runner.fail["email.send"] = types.NewError(types.ErrProvider, "smtp down")

	engine := newTestEngine(runner, NewMemoryCheckpointStore())

	state := NewState("t1", "onboard", linearSteps())
	require.NoError(t, engine.Run(tenantCtx("t1"), state))

	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, StepFailed, state.StepStates["b"].Status)
	assert.Equal(t, StepSkipped, state.StepStates["c"].Status)
}

func TestEngine_ApprovalApprove(t *testing.T) {
	runner := newFakeRunner()
	engine := newTestEngine(runner, NewMemoryCheckpointStore())

	state := NewState("t1", "gated", []StepConfig{
		{ID: "a", Operation: "crm.delete_contact", Provider: "hubspot", RequiresApproval: true, Required: true},
	})

	done := make(chan error, 1)
	go func() { done <- engine.Run(tenantCtx("t1"), state) }()

	require.Eventually(t, func() bool {
		return len(engine.Approvals().Pending("t1")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, engine.Approvals().Resolve("t1", state.WorkflowID, "a", Decision{
		Action:  DecisionApprove,
		ActorID: "admin",
	}))

	require.NoError(t, <-done)
	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, []string{"crm.delete_contact"}, runner.callList())
}

func TestEngine_ApprovalDenyFailsRequiredStep(t *testing.T) {
	runner := newFakeRunner()
	engine := newTestEngine(runner, NewMemoryCheckpointStore())

	state := NewState("t1", "gated", []StepConfig{
		{ID: "a", Operation: "crm.delete_contact", Provider: "hubspot", RequiresApproval: true, Required: true},
		{ID: "b", Operation: "email.send", Provider: "sendgrid", DependsOn: []string{"a"}},
	})

	done := make(chan error, 1)
	go func() { done <- engine.Run(tenantCtx("t1"), state) }()

	require.Eventually(t, func() bool {
		return len(engine.Approvals().Pending("t1")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, engine.Approvals().Resolve("t1", state.WorkflowID, "a", Decision{
		Action: DecisionDeny,
		Reason: "not during business hours",
	}))

	require.NoError(t, <-done)
	assert.Equal(t, StatusFailed, state.Status)
	assert.Equal(t, StepFailed, state.StepStates["a"].Status)
	assert.Equal(t, StepSkipped, state.StepStates["b"].Status)
	assert.Contains(t, state.StepStates["a"].Error.Message, "not during business hours")
	assert.Empty(t, runner.callList())
}

func TestEngine_ApprovalModifyReplacesParameters(t *testing.T) {
	runner := newFakeRunner()
	engine := newTestEngine(runner, NewMemoryCheckpointStore())

	var gotParams map[string]any
	capture := &captureRunner{inner: runner, onExecute: func(req *envelope.ActionRequest) {
		gotParams = req.Parameters
	}}

	engine = NewEngine(capture, NewMemoryCheckpointStore(), engine.Approvals(), DefaultConfig(), nil)

	state := NewState("t1", "gated", []StepConfig{
		{
			ID: "a", Operation: "email.send", Provider: "sendgrid",
			RequiresApproval: true,
			Parameters:       map[string]any{"to": "everyone@example.com"},
		},
	})

	done := make(chan error, 1)
	go func() { done <- engine.Run(tenantCtx("t1"), state) }()

	require.Eventually(t, func() bool {
		return len(engine.Approvals().Pending("t1")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, engine.Approvals().Resolve("t1", state.WorkflowID, "a", Decision{
		Action:     DecisionModify,
		Parameters: map[string]any{"to": "ops@example.com"},
	}))

	require.NoError(t, <-done)
	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, "ops@example.com", gotParams["to"])
}

type captureRunner struct {
	inner     ActionRunner
	onExecute func(*envelope.ActionRequest)
}

func (c *captureRunner) Execute(ctx context.Context, req *envelope.ActionRequest) (*envelope.ActionEnvelope, error) {
	c.onExecute(req)
	return c.inner.Execute(ctx, req)
}

func TestEngine_Cancel(t *testing.T) {
	runner := newFakeRunner()
	runner.delay = 300 * time.Millisecond

	checkpoints := NewMemoryCheckpointStore()
	engine := newTestEngine(runner, checkpoints)

	state := NewState("t1", "slow", linearSteps())
	ctx := tenantCtx("t1")
	require.NoError(t, engine.Submit(ctx, state))

	require.Eventually(t, func() bool {
		loaded, err := checkpoints.Load(ctx, "t1", state.WorkflowID)
		return err == nil && loaded.Status == StatusRunning
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, engine.Cancel(ctx, "t1", state.WorkflowID))

	require.Eventually(t, func() bool {
		loaded, err := checkpoints.Load(ctx, "t1", state.WorkflowID)
		return err == nil && loaded.Status == StatusCanceled
	}, 2*time.Second, 10*time.Millisecond)

	// Cancel of a terminal workflow is a conflict.
	err := engine.Cancel(ctx, "t1", state.WorkflowID)
	require.Error(t, err)
	assert.Equal(t, types.ErrConflict, types.GetErrorCode(err))
}

func TestEngine_RecoverResumesWithoutRepeatingCompletedSteps(t *testing.T) {
	runner := newFakeRunner()
	checkpoints := NewMemoryCheckpointStore()
	engine := newTestEngine(runner, checkpoints)
	ctx := tenantCtx("t1")

	// Simulate a crash: step a completed and checkpointed, step b was
	// mid-flight, the process died before finishing.
	state := NewState("t1", "onboard", linearSteps())
	state.Status = StatusRunning
	state.StepStates["a"].Status = StepCompleted
	state.StepStates["b"].Status = StepRunning
	require.NoError(t, checkpoints.Save(ctx, state))

	resumed, err := engine.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	require.Eventually(t, func() bool {
		loaded, err := checkpoints.Load(ctx, "t1", state.WorkflowID)
		return err == nil && loaded.Status == StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	// Step a is never re-executed.
	assert.Equal(t, []string{"email.send", "helpdesk.create_ticket"}, runner.callList())
}

func TestEngine_WebhookOnTerminalTransition(t *testing.T) {
	received := make(chan notification, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n notification
		require.NoError(t, json.NewDecoder(r.Body).Decode(&n))
		received <- n
	}))
	defer srv.Close()

	runner := newFakeRunner()
	engine := newTestEngine(runner, NewMemoryCheckpointStore())

	state := NewState("t1", "onboard", linearSteps())
	state.CallbackURL = srv.URL
	require.NoError(t, engine.Run(tenantCtx("t1"), state))

	select {
	case n := <-received:
		assert.Equal(t, state.WorkflowID, n.WorkflowID)
		assert.Equal(t, StatusCompleted, n.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not delivered")
	}
}

func TestEngine_SubmitValidates(t *testing.T) {
	engine := newTestEngine(newFakeRunner(), NewMemoryCheckpointStore())

	err := engine.Submit(tenantCtx("t1"), NewState("t1", "empty", nil))
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
}

func TestEngine_SubmitLeavesCallerStateUntouched(t *testing.T) {
	runner := newFakeRunner()
	checkpoints := NewMemoryCheckpointStore()
	engine := newTestEngine(runner, checkpoints)

	state := NewState("t1", "onboard", linearSteps())
	ctx := tenantCtx("t1")
	require.NoError(t, engine.Submit(ctx, state))

	require.Eventually(t, func() bool {
		loaded, err := checkpoints.Load(ctx, "t1", state.WorkflowID)
		return err == nil && loaded.Status == StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	// The background run works on its own copy, so the submitted state is
	// safe to read after Submit returns.
	assert.Equal(t, StatusPending, state.Status)
	assert.Equal(t, StepPending, state.StepStates["a"].Status)
}

// recordingWorkflowObserver counts terminal transitions and approval
// decisions.
type recordingWorkflowObserver struct {
	mu        sync.Mutex
	statuses  []string
	decisions []string
}

func (o *recordingWorkflowObserver) RecordWorkflow(status string, duration time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, status)
}

func (o *recordingWorkflowObserver) RecordApproval(action string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.decisions = append(o.decisions, action)
}

func (o *recordingWorkflowObserver) snapshot() ([]string, []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.statuses...), append([]string(nil), o.decisions...)
}

func TestEngine_ObserverRecordsOutcomeAndApproval(t *testing.T) {
	runner := newFakeRunner()
	engine := newTestEngine(runner, NewMemoryCheckpointStore())
	observer := &recordingWorkflowObserver{}
	engine.SetObserver(observer)

	state := NewState("t1", "gated", []StepConfig{
		{ID: "a", Operation: "crm.delete_contact", Provider: "hubspot", RequiresApproval: true, Required: true},
	})

	done := make(chan error, 1)
	go func() { done <- engine.Run(tenantCtx("t1"), state) }()

	require.Eventually(t, func() bool {
		return len(engine.Approvals().Pending("t1")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, engine.Approvals().Resolve("t1", state.WorkflowID, "a", Decision{
		Action:  DecisionApprove,
		ActorID: "admin",
	}))

	require.NoError(t, <-done)
	statuses, decisions := observer.snapshot()
	assert.Equal(t, []string{string(StatusCompleted)}, statuses)
	assert.Equal(t, []string{string(DecisionApprove)}, decisions)
}
