package workflow

import (
	"context"
	"fmt"

	"github.com/actionmesh/actionmesh/types"
)

// CheckpointStore persists workflow state after every transition. Save and
// Load are tenant-scoped and fail closed; ListNonTerminal is the startup
// recovery scan and is never exposed through the API surface.
type CheckpointStore interface {
	// Save persists the state, overwriting any previous checkpoint.
	Save(ctx context.Context, state *State) error

	// Load returns the checkpointed state for (tenant, workflow).
	Load(ctx context.Context, tenantID, workflowID string) (*State, error)

	// Delete removes the checkpoint.
	Delete(ctx context.Context, tenantID, workflowID string) error

	// ListNonTerminal returns every workflow that has not reached a terminal
	// status, across tenants. Used once at process startup to resume work
	// interrupted by a crash.
	ListNonTerminal(ctx context.Context) ([]*State, error)
}

func checkpointNotFound(workflowID string) error {
	return types.NewError(types.ErrNotFound,
		fmt.Sprintf("workflow %s not found", workflowID)).
		WithHTTPStatus(404)
}
