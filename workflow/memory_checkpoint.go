package workflow

import (
	"context"
	"sync"

	"github.com/actionmesh/actionmesh/tenant"
)

// MemoryCheckpointStore keeps workflow state in memory. Used in tests and
// single-node development setups; it provides no crash durability.
type MemoryCheckpointStore struct {
	states map[string]*State
	mu     sync.RWMutex
}

// NewMemoryCheckpointStore creates an empty in-memory checkpoint store.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{states: make(map[string]*State)}
}

func stateKey(tenantID, workflowID string) string {
	return tenantID + "\x00" + workflowID
}

func (s *MemoryCheckpointStore) Save(ctx context.Context, state *State) error {
	if err := tenant.Check(ctx, state.TenantID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[stateKey(state.TenantID, state.WorkflowID)] = state.Clone()
	return nil
}

func (s *MemoryCheckpointStore) Load(ctx context.Context, tenantID, workflowID string) (*State, error) {
	if err := tenant.Check(ctx, tenantID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[stateKey(tenantID, workflowID)]
	if !ok {
		return nil, checkpointNotFound(workflowID)
	}
	return state.Clone(), nil
}

func (s *MemoryCheckpointStore) Delete(ctx context.Context, tenantID, workflowID string) error {
	if err := tenant.Check(ctx, tenantID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, stateKey(tenantID, workflowID))
	return nil
}

func (s *MemoryCheckpointStore) ListNonTerminal(ctx context.Context) ([]*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*State
	for _, state := range s.states {
		if !state.Status.Terminal() {
			out = append(out, state.Clone())
		}
	}
	return out, nil
}

var _ CheckpointStore = (*MemoryCheckpointStore)(nil)
