// Package idempotency provides the durable mapping from
// (tenant, idempotency key) to a previously computed action result.
//
// A key goes through two phases: an in-flight claim taken with Reserve,
// which prevents concurrent duplicates from reaching the provider, and a
// terminal record written with Commit, which serves replays for the TTL
// window without re-invoking the provider.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/actionmesh/actionmesh/envelope"
	"github.com/actionmesh/actionmesh/types"
)

// ErrNotFound is returned by Check when no unexpired terminal record exists.
var ErrNotFound = errors.New("idempotency: record not found")

// DefaultTTL is the idempotency linkage window.
const DefaultTTL = 24 * time.Hour

// Store persists idempotency claims and terminal results. All calls are
// tenant-scoped; implementations verify the scope against the authenticated
// context and fail closed.
type Store interface {
	// Check returns the cached terminal envelope for the key, ErrNotFound
	// when absent or expired, or a CONFLICT error when the key was committed
	// with a different parameter hash.
	Check(ctx context.Context, tenantID, key, paramsHash string) (*envelope.ActionEnvelope, error)

	// Reserve atomically claims the key for in-flight execution. It returns
	// false when another execution already holds the claim, and a CONFLICT
	// error when the claim was taken with a different parameter hash.
	Reserve(ctx context.Context, tenantID, key, paramsHash string, ttl time.Duration) (bool, error)

	// Commit stores the terminal envelope and releases the claim. The
	// parameter hash is stored alongside the result so later replays with a
	// different payload surface as CONFLICT.
	Commit(ctx context.Context, tenantID, key, paramsHash string, env *envelope.ActionEnvelope, ttl time.Duration) error

	// Release drops an in-flight claim without committing a result, so a
	// failed validation does not poison the key for later retries.
	Release(ctx context.Context, tenantID, key string) error
}

// conflictError builds the CONFLICT error for a reused key.
func conflictError(key string) error {
	return types.NewError(types.ErrConflict,
		"idempotency key "+key+" reused with different parameters").
		WithHTTPStatus(409)
}
