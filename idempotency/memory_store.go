package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/actionmesh/actionmesh/envelope"
	"github.com/actionmesh/actionmesh/tenant"
)

// MemoryStore is an in-memory Store for tests and single-node development.
type MemoryStore struct {
	records map[string]*memoryRecord
	claims  map[string]*memoryClaim
	mu      sync.Mutex
}

type memoryRecord struct {
	envelope   *envelope.ActionEnvelope
	paramsHash string
	expiresAt  time.Time
}

type memoryClaim struct {
	paramsHash string
	expiresAt  time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*memoryRecord),
		claims:  make(map[string]*memoryClaim),
	}
}

func recordKey(tenantID, key string) string {
	return tenantID + "\x00" + key
}

func (s *MemoryStore) Check(ctx context.Context, tenantID, key, paramsHash string) (*envelope.ActionEnvelope, error) {
	if err := tenant.Check(ctx, tenantID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[recordKey(tenantID, key)]
	if !ok || time.Now().After(rec.expiresAt) {
		delete(s.records, recordKey(tenantID, key))
		return nil, ErrNotFound
	}
	if rec.paramsHash != paramsHash {
		return nil, conflictError(key)
	}
	return rec.envelope, nil
}

func (s *MemoryStore) Reserve(ctx context.Context, tenantID, key, paramsHash string, ttl time.Duration) (bool, error) {
	if err := tenant.Check(ctx, tenantID); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := recordKey(tenantID, key)
	if claim, ok := s.claims[k]; ok && time.Now().Before(claim.expiresAt) {
		if claim.paramsHash != paramsHash {
			return false, conflictError(key)
		}
		return false, nil
	}
	s.claims[k] = &memoryClaim{paramsHash: paramsHash, expiresAt: time.Now().Add(ttl)}
	return true, nil
}

func (s *MemoryStore) Commit(ctx context.Context, tenantID, key, paramsHash string, env *envelope.ActionEnvelope, ttl time.Duration) error {
	if err := tenant.Check(ctx, tenantID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := recordKey(tenantID, key)
	s.records[k] = &memoryRecord{
		envelope:   env,
		paramsHash: paramsHash,
		expiresAt:  time.Now().Add(ttl),
	}
	delete(s.claims, k)
	return nil
}

func (s *MemoryStore) Release(ctx context.Context, tenantID, key string) error {
	if err := tenant.Check(ctx, tenantID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, recordKey(tenantID, key))
	return nil
}

var _ Store = (*MemoryStore)(nil)
