package executor

import (
	"context"
	"errors"

	"github.com/actionmesh/actionmesh/types"
)

// classify normalizes an arbitrary error into the service taxonomy.
// Structured errors pass through; deadline expiry becomes a retryable
// TIMEOUT; anything else is a retryable INTERNAL failure.
func classify(err error) *types.Error {
	if err == nil {
		return nil
	}
	if structured, ok := types.AsError(err); ok {
		return structured
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrTimeout, "provider call exceeded deadline").
			WithRetryable(true).
			WithCause(err)
	}
	if errors.Is(err, context.Canceled) {
		return types.NewError(types.ErrTimeout, "provider call canceled").
			WithCause(err)
	}
	return types.NewError(types.ErrInternal, "unexpected execution failure").
		WithRetryable(true).
		WithCause(err)
}
