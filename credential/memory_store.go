package credential

import (
	"context"
	"sync"
	"time"

	"github.com/actionmesh/actionmesh/tenant"
)

// MemoryStore is an in-memory Store for tests and single-node development.
type MemoryStore struct {
	creds map[string]*Credential
	mu    sync.RWMutex
}

// NewMemoryStore creates an empty in-memory credential store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]*Credential)}
}

func memKey(tenantID, provider string) string {
	return tenantID + "\x00" + provider
}

func (s *MemoryStore) Get(ctx context.Context, tenantID, provider string) (*Credential, error) {
	if err := tenant.Check(ctx, tenantID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.creds[memKey(tenantID, provider)]
	if !ok {
		return nil, notFound(tenantID, provider)
	}
	copied := *cred
	return &copied, nil
}

func (s *MemoryStore) Put(ctx context.Context, cred *Credential) error {
	if err := tenant.Check(ctx, cred.TenantID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now
	copied := *cred
	s.creds[memKey(cred.TenantID, cred.Provider)] = &copied
	return nil
}

func (s *MemoryStore) Rotate(ctx context.Context, tenantID, provider string, fn RotateFunc) (*Credential, error) {
	if err := tenant.Check(ctx, tenantID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[memKey(tenantID, provider)]
	if !ok {
		return nil, notFound(tenantID, provider)
	}
	if err := fn(cred); err != nil {
		return nil, err
	}
	cred.UpdatedAt = time.Now()
	copied := *cred
	return &copied, nil
}

func (s *MemoryStore) Delete(ctx context.Context, tenantID, provider string) error {
	if err := tenant.Check(ctx, tenantID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, memKey(tenantID, provider))
	return nil
}

var _ Store = (*MemoryStore)(nil)
