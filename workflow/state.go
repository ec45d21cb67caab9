// Package workflow orchestrates multi-step action sequences as dependency
// DAGs with durable checkpoints, approval gates, and crash recovery.
package workflow

import (
	"fmt"
	"time"

	"github.com/actionmesh/actionmesh/envelope"
	"github.com/actionmesh/actionmesh/types"
	"github.com/google/uuid"
)

// Status is the workflow lifecycle state.
type Status string

const (
	StatusPending         Status = "pending"
	StatusRunning         Status = "running"
	StatusWaitingApproval Status = "waiting_approval"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusCanceled        Status = "canceled"
)

// Terminal reports whether the workflow reached a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// StepStatus is the lifecycle state of one step.
type StepStatus string

const (
	StepPending         StepStatus = "pending"
	StepRunning         StepStatus = "running"
	StepWaitingApproval StepStatus = "waiting_approval"
	StepCompleted       StepStatus = "completed"
	StepFailed          StepStatus = "failed"
	StepSkipped         StepStatus = "skipped"
)

// Terminal reports whether the step reached a final state.
func (s StepStatus) Terminal() bool {
	return s == StepCompleted || s == StepFailed || s == StepSkipped
}

// StepConfig declares one step of a workflow.
type StepConfig struct {
	ID         string         `json:"id"`
	Name       string         `json:"name,omitempty"`
	Operation  string         `json:"operation"`
	Provider   string         `json:"provider"`
	Parameters map[string]any `json:"parameters,omitempty"`
	// DependsOn lists step IDs that must complete before this step runs.
	DependsOn []string `json:"depends_on,omitempty"`
	// Required means a failure of this step fails the whole workflow.
	Required bool `json:"required"`
	// RequiresApproval pauses the step until a human decision arrives.
	RequiresApproval bool `json:"requires_approval"`
	// MaxRetries overrides the executor's retry budget for this step.
	MaxRetries int `json:"max_retries,omitempty"`
	// Timeout overrides the per-call provider timeout for this step.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// StepState is the runtime record of one step.
type StepState struct {
	ID          string                `json:"id"`
	Status      StepStatus            `json:"status"`
	ActionID    string                `json:"action_id,omitempty"`
	Result      map[string]any        `json:"result,omitempty"`
	Error       *envelope.ErrorDetail `json:"error,omitempty"`
	Attempts    int                   `json:"attempts,omitempty"`
	StartedAt   *time.Time            `json:"started_at,omitempty"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
}

// ContextValue is one shared-context entry, tagged with the step that wrote
// it and a monotonically increasing revision. Concurrent writers to the same
// key resolve last-writer-wins; the tag keeps the outcome auditable.
type ContextValue struct {
	Value    any    `json:"value"`
	StepID   string `json:"step_id"`
	Revision int    `json:"revision"`
}

// State is the complete durable state of one workflow instance. It is the
// unit the checkpoint store persists after every transition.
type State struct {
	WorkflowID    string                  `json:"workflow_id"`
	TenantID      string                  `json:"tenant_id"`
	CorrelationID string                  `json:"correlation_id,omitempty"`
	Name          string                  `json:"name,omitempty"`
	Status        Status                  `json:"status"`
	Steps         []StepConfig            `json:"steps"`
	StepStates    map[string]*StepState   `json:"step_states"`
	Context       map[string]ContextValue `json:"context,omitempty"`
	// CallbackURL, when set, receives a POST on every terminal transition.
	CallbackURL string    `json:"callback_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	// Version increments on every checkpointed transition.
	Version int `json:"version"`
}

// NewState creates a pending workflow instance from step declarations.
func NewState(tenantID, name string, steps []StepConfig) *State {
	now := time.Now().UTC()
	state := &State{
		WorkflowID: uuid.New().String(),
		TenantID:   tenantID,
		Name:       name,
		Status:     StatusPending,
		Steps:      steps,
		StepStates: make(map[string]*StepState, len(steps)),
		Context:    make(map[string]ContextValue),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, step := range steps {
		state.StepStates[step.ID] = &StepState{ID: step.ID, Status: StepPending}
	}
	return state
}

// Validate checks the workflow declaration: non-empty steps with unique IDs,
// resolvable dependencies, and no dependency cycles.
func (s *State) Validate() error {
	if s.TenantID == "" {
		return types.NewError(types.ErrValidation, "tenant_id is required")
	}
	if len(s.Steps) == 0 {
		return types.NewError(types.ErrValidation, "workflow has no steps")
	}

	ids := make(map[string]struct{}, len(s.Steps))
	for _, step := range s.Steps {
		if step.ID == "" {
			return types.NewError(types.ErrValidation, "step id is required")
		}
		if _, dup := ids[step.ID]; dup {
			return types.NewError(types.ErrValidation,
				fmt.Sprintf("duplicate step id %q", step.ID))
		}
		ids[step.ID] = struct{}{}
		if step.Operation == "" || step.Provider == "" {
			return types.NewError(types.ErrValidation,
				fmt.Sprintf("step %q needs an operation and a provider", step.ID))
		}
		if step.MaxRetries < 0 || step.MaxRetries > envelope.MaxAttemptsLimit {
			return types.NewError(types.ErrValidation,
				fmt.Sprintf("step %q max_retries must be between 0 and %d",
					step.ID, envelope.MaxAttemptsLimit))
		}
	}
	for _, step := range s.Steps {
		for _, dep := range step.DependsOn {
			if _, ok := ids[dep]; !ok {
				return types.NewError(types.ErrValidation,
					fmt.Sprintf("step %q depends on unknown step %q", step.ID, dep))
			}
			if dep == step.ID {
				return types.NewError(types.ErrValidation,
					fmt.Sprintf("step %q depends on itself", step.ID))
			}
		}
	}
	if cycle := s.hasCycle(); cycle {
		return types.NewError(types.ErrValidation, "workflow dependencies form a cycle")
	}
	return nil
}

// hasCycle runs Kahn's algorithm over the dependency graph.
func (s *State) hasCycle() bool {
	indegree := make(map[string]int, len(s.Steps))
	dependents := make(map[string][]string, len(s.Steps))
	for _, step := range s.Steps {
		indegree[step.ID] += 0
		for _, dep := range step.DependsOn {
			indegree[step.ID]++
			dependents[dep] = append(dependents[dep], step.ID)
		}
	}

	var queue []string
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	return visited != len(s.Steps)
}

// Step returns the declaration for a step ID.
func (s *State) Step(id string) (StepConfig, bool) {
	for _, step := range s.Steps {
		if step.ID == id {
			return step, true
		}
	}
	return StepConfig{}, false
}

// EligibleSteps returns pending steps whose dependencies all completed.
func (s *State) EligibleSteps() []StepConfig {
	var eligible []StepConfig
	for _, step := range s.Steps {
		state := s.StepStates[step.ID]
		if state == nil || state.Status != StepPending {
			continue
		}
		ready := true
		for _, dep := range step.DependsOn {
			if depState := s.StepStates[dep]; depState == nil || depState.Status != StepCompleted {
				ready = false
				break
			}
		}
		if ready {
			eligible = append(eligible, step)
		}
	}
	return eligible
}

// SkipBlockedSteps marks pending steps skipped when any dependency ended in
// failure or skip, cascading until a fixpoint. It returns the IDs skipped.
func (s *State) SkipBlockedSteps() []string {
	var skipped []string
	for {
		changed := false
		for _, step := range s.Steps {
			state := s.StepStates[step.ID]
			if state == nil || state.Status != StepPending {
				continue
			}
			for _, dep := range step.DependsOn {
				depState := s.StepStates[dep]
				if depState != nil && (depState.Status == StepFailed || depState.Status == StepSkipped) {
					state.Status = StepSkipped
					skipped = append(skipped, step.ID)
					changed = true
					break
				}
			}
		}
		if !changed {
			return skipped
		}
	}
}

// SetContext writes a shared-context key with last-writer-wins semantics,
// tagging the value with the writing step and the next revision.
func (s *State) SetContext(key string, value any, stepID string) {
	if s.Context == nil {
		s.Context = make(map[string]ContextValue)
	}
	prev := s.Context[key]
	s.Context[key] = ContextValue{
		Value:    value,
		StepID:   stepID,
		Revision: prev.Revision + 1,
	}
}

// Finished reports whether every step reached a terminal status.
func (s *State) Finished() bool {
	for _, state := range s.StepStates {
		if !state.Status.Terminal() {
			return false
		}
	}
	return true
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s *State) Clone() *State {
	copied := *s
	copied.Steps = append([]StepConfig(nil), s.Steps...)
	copied.StepStates = make(map[string]*StepState, len(s.StepStates))
	for id, state := range s.StepStates {
		stateCopy := *state
		copied.StepStates[id] = &stateCopy
	}
	copied.Context = make(map[string]ContextValue, len(s.Context))
	for k, v := range s.Context {
		copied.Context[k] = v
	}
	return &copied
}
