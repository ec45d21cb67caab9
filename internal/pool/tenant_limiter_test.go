package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTenantLimiter_BoundsPerTenant(t *testing.T) {
	l := NewTenantLimiter(2)

	assert.True(t, l.TryAcquire("t1"))
	assert.True(t, l.TryAcquire("t1"))
	assert.False(t, l.TryAcquire("t1"))

	// Another tenant has its own budget.
	assert.True(t, l.TryAcquire("t2"))

	l.Release("t1")
	assert.True(t, l.TryAcquire("t1"))
}

func TestTenantLimiter_AcquireBlocksUntilRelease(t *testing.T) {
	l := NewTenantLimiter(1)
	require.NoError(t, l.Acquire(context.Background(), "t1"))

	acquired := make(chan struct{})
	go func() {
		if err := l.Acquire(context.Background(), "t1"); err == nil {
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("acquire should block while the slot is held")
	case <-time.After(50 * time.Millisecond):
	}

	l.Release("t1")
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("acquire did not wake after release")
	}
}

func TestTenantLimiter_AcquireHonorsContext(t *testing.T) {
	l := NewTenantLimiter(1)
	require.NoError(t, l.Acquire(context.Background(), "t1"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Acquire(ctx, "t1"))
}
