// Package pool bounds per-tenant concurrency so one tenant's burst of slow
// provider calls cannot exhaust the process.
package pool

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// TenantLimiter holds one weighted semaphore per tenant.
type TenantLimiter struct {
	limit int64
	sems  map[string]*semaphore.Weighted
	mu    sync.Mutex
}

// NewTenantLimiter creates a limiter allowing limit concurrent slots per
// tenant.
func NewTenantLimiter(limit int) *TenantLimiter {
	if limit <= 0 {
		limit = 16
	}
	return &TenantLimiter{
		limit: int64(limit),
		sems:  make(map[string]*semaphore.Weighted),
	}
}

func (l *TenantLimiter) sem(tenantID string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sems[tenantID]
	if !ok {
		s = semaphore.NewWeighted(l.limit)
		l.sems[tenantID] = s
	}
	return s
}

// Acquire takes one slot, blocking until one frees or the context ends.
func (l *TenantLimiter) Acquire(ctx context.Context, tenantID string) error {
	return l.sem(tenantID).Acquire(ctx, 1)
}

// TryAcquire takes one slot without blocking.
func (l *TenantLimiter) TryAcquire(tenantID string) bool {
	return l.sem(tenantID).TryAcquire(1)
}

// Release returns one slot.
func (l *TenantLimiter) Release(tenantID string) {
	l.sem(tenantID).Release(1)
}
