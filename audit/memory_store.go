package audit

import (
	"context"
	"sync"
	"time"

	"github.com/actionmesh/actionmesh/tenant"
)

// MemoryStore keeps audit records in memory. Used in tests and single-node
// development setups.
type MemoryStore struct {
	records []*Record
	nextID  uint
	mu      sync.RWMutex
}

// NewMemoryStore creates an empty in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

func (s *MemoryStore) Append(ctx context.Context, record *Record) error {
	if err := tenant.Check(ctx, record.TenantID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *record
	stored.ID = s.nextID
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.nextID++
	s.records = append(s.records, &stored)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, tenantID string, filter Filter) ([]*Record, error) {
	if err := tenant.Check(ctx, tenantID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	for i := len(s.records) - 1; i >= 0; i-- {
		r := s.records[i]
		if r.TenantID != tenantID || !matches(r, filter) {
			continue
		}
		copied := *r
		out = append(out, &copied)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func matches(r *Record, f Filter) bool {
	if f.Operation != "" && r.Operation != f.Operation {
		return false
	}
	if f.Provider != "" && r.Provider != f.Provider {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.CorrelationID != "" && r.CorrelationID != f.CorrelationID {
		return false
	}
	return true
}

var _ Store = (*MemoryStore)(nil)
