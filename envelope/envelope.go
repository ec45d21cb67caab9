// Package envelope defines the wire contract for action execution: the
// inbound ActionRequest and the canonical ActionEnvelope every downstream
// component produces and consumes.
package envelope

import (
	"time"

	"github.com/actionmesh/actionmesh/types"
)

// Status is the lifecycle state of an action envelope.
type Status string

const (
	StatusPending Status = "pending"
	StatusQueued  Status = "queued"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Terminal reports whether the status is final. A terminal envelope is never
// mutated again.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// ActionRequest is the inbound request for a single action.
type ActionRequest struct {
	TenantID       string         `json:"tenant_id"`
	CorrelationID  string         `json:"correlation_id,omitempty"`
	Operation      string         `json:"operation"`
	Provider       string         `json:"provider"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	Parameters     map[string]any `json:"parameters,omitempty"`

	// MaxAttempts overrides the executor's default retry budget for this
	// operation. Zero means "use the default".
	MaxAttempts int `json:"max_attempts,omitempty"`
	// Timeout overrides the per-call provider timeout. Zero means default.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// ErrorDetail is the failure payload carried by a terminal envelope.
type ErrorDetail struct {
	Code      types.ErrorCode `json:"code"`
	Message   string          `json:"message"`
	Retryable bool            `json:"retryable"`
}

// ActionEnvelope is one execution record. It is created pending at
// submission, transitions exactly once to a terminal state, and is never
// mutated after that.
type ActionEnvelope struct {
	ActionID       string         `json:"action_id"`
	TenantID       string         `json:"tenant_id"`
	CorrelationID  string         `json:"correlation_id,omitempty"`
	Operation      string         `json:"operation"`
	Provider       string         `json:"provider"`
	Status         Status         `json:"status"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	Result         map[string]any `json:"result,omitempty"`
	Error          *ErrorDetail   `json:"error,omitempty"`
	// Attempts counts provider calls made for this action, including the
	// successful one.
	Attempts   int       `json:"attempts,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// Terminal reports whether the envelope reached a final state.
func (e *ActionEnvelope) Terminal() bool {
	return e.Status.Terminal()
}

// Succeed transitions the envelope to success with the given result.
func (e *ActionEnvelope) Succeed(result map[string]any, duration time.Duration) {
	e.Status = StatusSuccess
	e.Result = result
	e.Error = nil
	e.DurationMS = duration.Milliseconds()
}

// Fail transitions the envelope to failure with the given error.
func (e *ActionEnvelope) Fail(err *types.Error, duration time.Duration) {
	e.Status = StatusFailure
	e.Error = &ErrorDetail{
		Code:      err.Code,
		Message:   err.Message,
		Retryable: err.Retryable,
	}
	e.DurationMS = duration.Milliseconds()
}
