// Package provider defines the capability-keyed adapter contract every
// external provider implements, and the registry the executor resolves
// adapters from. The category set is closed: adding a provider means
// implementing the same four-method surface, never branching on provider
// identity downstream.
package provider

import (
	"context"

	"github.com/actionmesh/actionmesh/credential"
	"github.com/actionmesh/actionmesh/ratelimit"
)

// Category is the closed set of provider capability categories.
type Category string

const (
	CategoryCRM      Category = "crm"
	CategoryHelpdesk Category = "helpdesk"
	CategoryCalendar Category = "calendar"
	CategoryEmail    Category = "email"
)

// Valid reports whether the category is one of the known variants.
func (c Category) Valid() bool {
	switch c {
	case CategoryCRM, CategoryHelpdesk, CategoryCalendar, CategoryEmail:
		return true
	}
	return false
}

// Invocation carries one provider call. The credential is resolved by the
// executor from the caller's tenant; adapters never see another tenant's
// secrets.
type Invocation struct {
	Operation     string
	Parameters    map[string]any
	Credential    *credential.Credential
	TenantID      string
	CorrelationID string
}

// Adapter is the uniform surface every concrete provider implements.
// Adapters return *types.Error values so the executor can classify
// retryability without knowing the provider's wire format.
type Adapter interface {
	// ValidateCredentials checks that the credential is usable, typically
	// via a cheap authenticated no-op call.
	ValidateCredentials(ctx context.Context, cred *credential.Credential) error

	// Execute performs one operation and returns its opaque result payload.
	Execute(ctx context.Context, inv Invocation) (map[string]any, error)

	// SupportedOperations lists the dot-namespaced operations this adapter
	// accepts. The union over all registered adapters seeds the envelope
	// codec's operation set.
	SupportedOperations() []string

	// RateLimits advertises the provider's documented limits, used to size
	// the per-tenant token buckets.
	RateLimits() ratelimit.BucketConfig
}

// Factory constructs an adapter. Factories run once at registration.
type Factory func() (Adapter, error)
