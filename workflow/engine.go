package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/actionmesh/actionmesh/envelope"
	"github.com/actionmesh/actionmesh/tenant"
	"github.com/actionmesh/actionmesh/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ActionRunner executes one action to a terminal envelope. The executor
// satisfies it.
type ActionRunner interface {
	Execute(ctx context.Context, req *envelope.ActionRequest) (*envelope.ActionEnvelope, error)
}

// Config tunes the engine.
type Config struct {
	// MaxConcurrentSteps bounds parallel step execution per workflow.
	MaxConcurrentSteps int `yaml:"max_concurrent_steps" json:"max_concurrent_steps"`
	// WebhookTimeout bounds one callback delivery attempt.
	WebhookTimeout time.Duration `yaml:"webhook_timeout" json:"webhook_timeout"`
}

// DefaultConfig returns the default engine tuning.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentSteps: 4,
		WebhookTimeout:     10 * time.Second,
	}
}

// Observer receives workflow-level measurements. The metrics collector
// implements it.
type Observer interface {
	RecordWorkflow(status string, duration time.Duration)
	RecordApproval(action string)
}

// Engine runs workflows: it schedules steps in dependency order, checkpoints
// after every transition, parks gated steps on the approval manager, and
// resumes interrupted workflows at startup.
type Engine struct {
	runner      ActionRunner
	checkpoints CheckpointStore
	approvals   *ApprovalManager
	notifier    *WebhookNotifier
	observer    Observer
	config      Config
	logger      *zap.Logger

	running map[string]context.CancelFunc
	mu      sync.Mutex
	wg      sync.WaitGroup
}

// NewEngine creates an engine.
func NewEngine(runner ActionRunner, checkpoints CheckpointStore, approvals *ApprovalManager, config Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxConcurrentSteps <= 0 {
		config = DefaultConfig()
	}
	return &Engine{
		runner:      runner,
		checkpoints: checkpoints,
		approvals:   approvals,
		notifier:    NewWebhookNotifier(config.WebhookTimeout, logger),
		config:      config,
		logger:      logger.With(zap.String("component", "workflow_engine")),
		running:     make(map[string]context.CancelFunc),
	}
}

// Approvals exposes the approval manager for the API surface.
func (e *Engine) Approvals() *ApprovalManager {
	return e.approvals
}

// SetObserver installs the workflow observer. Call before Submit or Recover.
func (e *Engine) SetObserver(o Observer) {
	e.observer = o
}

// Submit validates and persists a new workflow, then runs it in the
// background. The call returns as soon as the pending checkpoint is durable.
func (e *Engine) Submit(ctx context.Context, state *State) error {
	if err := state.Validate(); err != nil {
		return err
	}
	if err := tenant.Check(ctx, state.TenantID); err != nil {
		return err
	}
	if err := e.checkpoints.Save(ctx, state); err != nil {
		return err
	}

	runCtx := types.WithTenantID(context.Background(), state.TenantID)
	if state.CorrelationID != "" {
		runCtx = types.WithCorrelationID(runCtx, state.CorrelationID)
	}

	// The background run mutates its own copy; the caller may still be
	// reading the submitted state for its response.
	runState := state.Clone()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.Run(runCtx, runState); err != nil {
			e.logger.Error("workflow run failed",
				zap.String("workflow_id", runState.WorkflowID),
				zap.Error(err))
		}
	}()
	return nil
}

// Get returns the checkpointed state of a workflow.
func (e *Engine) Get(ctx context.Context, tenantID, workflowID string) (*State, error) {
	return e.checkpoints.Load(ctx, tenantID, workflowID)
}

// Cancel stops a workflow. A locally running workflow has its context
// canceled and records its own terminal checkpoint; a workflow known only
// from its checkpoint is marked canceled directly.
func (e *Engine) Cancel(ctx context.Context, tenantID, workflowID string) error {
	state, err := e.checkpoints.Load(ctx, tenantID, workflowID)
	if err != nil {
		return err
	}
	if state.Status.Terminal() {
		return types.NewError(types.ErrConflict,
			fmt.Sprintf("workflow %s is already %s", workflowID, state.Status)).
			WithHTTPStatus(409)
	}

	e.mu.Lock()
	cancel, isRunning := e.running[workflowID]
	e.mu.Unlock()
	if isRunning {
		cancel()
		return nil
	}

	state.Status = StatusCanceled
	for _, stepState := range state.StepStates {
		if !stepState.Status.Terminal() {
			stepState.Status = StepSkipped
		}
	}
	return e.checkpoint(ctx, state)
}

// checkpoint bumps the version and persists the state.
func (e *Engine) checkpoint(ctx context.Context, state *State) error {
	state.Version++
	state.UpdatedAt = time.Now().UTC()
	return e.checkpoints.Save(ctx, state)
}

// Recover resumes every non-terminal workflow found in the checkpoint
// store. Steps that were mid-flight when the process died are reset to
// pending; completed steps are never re-run because their idempotency keys
// replay the committed results. It returns the number of workflows resumed.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	states, err := e.checkpoints.ListNonTerminal(ctx)
	if err != nil {
		return 0, err
	}

	for _, state := range states {
		for _, stepState := range state.StepStates {
			if stepState.Status == StepRunning || stepState.Status == StepWaitingApproval {
				stepState.Status = StepPending
			}
		}
		state.Status = StatusRunning

		runCtx := types.WithTenantID(context.Background(), state.TenantID)
		if state.CorrelationID != "" {
			runCtx = types.WithCorrelationID(runCtx, state.CorrelationID)
		}

		e.logger.Info("resuming workflow",
			zap.String("workflow_id", state.WorkflowID),
			zap.String("tenant_id", state.TenantID))

		st := state
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.Run(runCtx, st); err != nil {
				e.logger.Error("workflow resume failed",
					zap.String("workflow_id", st.WorkflowID),
					zap.Error(err))
			}
		}()
	}
	return len(states), nil
}

// Shutdown cancels all running workflows and waits for their final
// checkpoints, bounded by the context.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	for _, cancel := range e.running {
		cancel()
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives one workflow to a terminal state. It blocks until finished and
// is safe to call directly in tests.
func (e *Engine) Run(ctx context.Context, state *State) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	e.running[state.WorkflowID] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.running, state.WorkflowID)
		e.mu.Unlock()
	}()

	// Checkpoints must outlive a canceled run context so the terminal
	// transition is still persisted.
	persistCtx := context.WithoutCancel(ctx)

	run := &workflowRun{engine: e, state: state, ctx: persistCtx}

	run.mu.Lock()
	state.Status = StatusRunning
	err := run.checkpointLocked()
	run.mu.Unlock()
	if err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			break
		}

		run.mu.Lock()
		eligible := state.EligibleSteps()
		failed := state.Status == StatusFailed
		run.mu.Unlock()
		if failed || len(eligible) == 0 {
			break
		}

		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(e.config.MaxConcurrentSteps)
		for _, step := range eligible {
			step := step
			group.Go(func() error {
				run.executeStep(groupCtx, step)
				return nil
			})
		}
		_ = group.Wait()

		run.mu.Lock()
		state.SkipBlockedSteps()
		err := run.checkpointLocked()
		run.mu.Unlock()
		if err != nil {
			e.logger.Error("checkpoint failed", zap.String("workflow_id", state.WorkflowID), zap.Error(err))
		}
	}

	run.mu.Lock()
	defer run.mu.Unlock()

	switch {
	case ctx.Err() != nil:
		state.Status = StatusCanceled
		for _, stepState := range state.StepStates {
			if !stepState.Status.Terminal() {
				stepState.Status = StepSkipped
			}
		}
	case state.Status == StatusFailed:
		state.SkipBlockedSteps()
		for _, stepState := range state.StepStates {
			if !stepState.Status.Terminal() {
				stepState.Status = StepSkipped
			}
		}
	default:
		state.Status = StatusCompleted
		for _, stepState := range state.StepStates {
			if stepState.Status == StepFailed {
				// A non-required step failed; the workflow still completed.
				e.logger.Warn("workflow completed with failed optional step",
					zap.String("workflow_id", state.WorkflowID),
					zap.String("step_id", stepState.ID))
			}
		}
	}

	if err := run.checkpointLocked(); err != nil {
		return err
	}

	e.logger.Info("workflow finished",
		zap.String("workflow_id", state.WorkflowID),
		zap.String("tenant_id", state.TenantID),
		zap.String("status", string(state.Status)))

	if e.observer != nil {
		e.observer.RecordWorkflow(string(state.Status), time.Since(state.CreatedAt))
	}
	e.notifier.Notify(persistCtx, state)
	return nil
}

// workflowRun serializes state mutations and checkpoints for one running
// workflow.
type workflowRun struct {
	engine *Engine
	state  *State
	ctx    context.Context
	mu     sync.Mutex
}

// checkpointLocked persists the state. Callers hold mu.
func (r *workflowRun) checkpointLocked() error {
	r.state.Version++
	r.state.UpdatedAt = time.Now().UTC()
	return r.engine.checkpoints.Save(r.ctx, r.state)
}

// executeStep runs one step: the optional approval gate, then the action.
func (r *workflowRun) executeStep(ctx context.Context, step StepConfig) {
	now := time.Now().UTC()

	r.mu.Lock()
	stepState := r.state.StepStates[step.ID]
	stepState.Status = StepRunning
	stepState.StartedAt = &now
	if err := r.checkpointLocked(); err != nil {
		r.engine.logger.Error("checkpoint failed", zap.Error(err))
	}
	r.mu.Unlock()

	parameters := step.Parameters
	if step.RequiresApproval {
		decision, ok := r.awaitApproval(ctx, step)
		if !ok {
			return
		}
		if decision.Action == DecisionModify && decision.Parameters != nil {
			parameters = decision.Parameters
		}
	}

	// The idempotency key ties the step to the workflow so a crash-resumed
	// step replays the committed result instead of repeating the side effect.
	req := &envelope.ActionRequest{
		TenantID:       r.state.TenantID,
		CorrelationID:  r.state.CorrelationID,
		Operation:      step.Operation,
		Provider:       step.Provider,
		IdempotencyKey: r.state.WorkflowID + "/" + step.ID,
		Parameters:     parameters,
		MaxAttempts:    step.MaxRetries,
		Timeout:        step.Timeout,
	}

	env, err := r.engine.runner.Execute(ctx, req)

	completed := time.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	stepState.CompletedAt = &completed

	switch {
	case err != nil:
		structured, _ := types.AsError(err)
		detail := &envelope.ErrorDetail{Code: types.ErrInternal, Message: err.Error()}
		if structured != nil {
			detail = &envelope.ErrorDetail{
				Code:      structured.Code,
				Message:   structured.Message,
				Retryable: structured.Retryable,
			}
		}
		r.failLocked(step, stepState, detail)

	case env.Status == envelope.StatusFailure:
		stepState.ActionID = env.ActionID
		stepState.Attempts = env.Attempts
		r.failLocked(step, stepState, env.Error)

	default:
		stepState.Status = StepCompleted
		stepState.ActionID = env.ActionID
		stepState.Attempts = env.Attempts
		stepState.Result = env.Result
		for key, value := range env.Result {
			r.state.SetContext(key, value, step.ID)
		}
	}

	if err := r.checkpointLocked(); err != nil {
		r.engine.logger.Error("checkpoint failed", zap.Error(err))
	}
}

// awaitApproval parks the step on the approval manager. It returns false
// when the step must not run: the gate was denied or the wait was canceled.
func (r *workflowRun) awaitApproval(ctx context.Context, step StepConfig) (Decision, bool) {
	r.mu.Lock()
	stepState := r.state.StepStates[step.ID]
	stepState.Status = StepWaitingApproval
	r.state.Status = StatusWaitingApproval
	if err := r.checkpointLocked(); err != nil {
		r.engine.logger.Error("checkpoint failed", zap.Error(err))
	}
	r.mu.Unlock()

	decision, err := r.engine.approvals.Wait(ctx, PendingApproval{
		TenantID:   r.state.TenantID,
		WorkflowID: r.state.WorkflowID,
		StepID:     step.ID,
		Operation:  step.Operation,
		Provider:   step.Provider,
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Status == StatusWaitingApproval {
		r.state.Status = StatusRunning
	}

	if err != nil {
		completed := time.Now().UTC()
		stepState.CompletedAt = &completed
		r.failLocked(step, stepState, &envelope.ErrorDetail{
			Code:    types.ErrTimeout,
			Message: "approval wait canceled",
		})
		if cpErr := r.checkpointLocked(); cpErr != nil {
			r.engine.logger.Error("checkpoint failed", zap.Error(cpErr))
		}
		return Decision{}, false
	}

	if r.engine.observer != nil {
		r.engine.observer.RecordApproval(string(decision.Action))
	}

	if decision.Action == DecisionDeny {
		completed := time.Now().UTC()
		stepState.CompletedAt = &completed
		detail := &envelope.ErrorDetail{
			Code:    types.ErrPermission,
			Message: "step denied by approver",
		}
		if decision.Reason != "" {
			detail.Message = "step denied: " + decision.Reason
		}
		r.failLocked(step, stepState, detail)
		if cpErr := r.checkpointLocked(); cpErr != nil {
			r.engine.logger.Error("checkpoint failed", zap.Error(cpErr))
		}
		return Decision{}, false
	}

	stepState.Status = StepRunning
	return decision, true
}

// failLocked records a step failure and fails the workflow when the step is
// required. Callers hold mu.
func (r *workflowRun) failLocked(step StepConfig, stepState *StepState, detail *envelope.ErrorDetail) {
	stepState.Status = StepFailed
	stepState.Error = detail
	if step.Required {
		r.state.Status = StatusFailed
	}
}
