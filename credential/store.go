// Package credential stores per-tenant, per-provider secret bundles.
// Credentials are owned exclusively by one tenant, mutated only by rotation
// operations, and read-only during action execution.
package credential

import (
	"context"
	"time"

	"github.com/actionmesh/actionmesh/types"
)

// Credential is one tenant's secret bundle for one provider.
type Credential struct {
	ID           uint       `gorm:"primaryKey" json:"-"`
	TenantID     string     `gorm:"uniqueIndex:idx_tenant_provider;size:128" json:"tenant_id"`
	Provider     string     `gorm:"uniqueIndex:idx_tenant_provider;size:128" json:"provider"`
	APIKey       string     `json:"-"`
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Expired reports whether the credential's token lifetime has elapsed.
func (c *Credential) Expired() bool {
	return c.ExpiresAt != nil && time.Now().After(*c.ExpiresAt)
}

// RotateFunc mutates a credential in place during rotation.
type RotateFunc func(c *Credential) error

// Store persists credentials. All reads and writes are tenant-scoped and
// fail closed when the authenticated scope is missing or mismatched.
type Store interface {
	Get(ctx context.Context, tenantID, provider string) (*Credential, error)
	Put(ctx context.Context, cred *Credential) error
	// Rotate applies fn to the stored credential under a write lock or
	// transaction, so concurrent rotations never interleave.
	Rotate(ctx context.Context, tenantID, provider string, fn RotateFunc) (*Credential, error)
	Delete(ctx context.Context, tenantID, provider string) error
}

func notFound(tenantID, provider string) error {
	return types.NewError(types.ErrNotFound,
		"no credential for provider "+provider).
		WithProvider(provider).
		WithHTTPStatus(404)
}
