package provider

import (
	"context"
	"testing"

	"github.com/actionmesh/actionmesh/credential"
	"github.com/actionmesh/actionmesh/ratelimit"
	"github.com/actionmesh/actionmesh/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	operations []string
}

func (f *fakeAdapter) ValidateCredentials(ctx context.Context, cred *credential.Credential) error {
	return nil
}

func (f *fakeAdapter) Execute(ctx context.Context, inv Invocation) (map[string]any, error) {
	return map[string]any{"ok": true}, nil
}

func (f *fakeAdapter) SupportedOperations() []string {
	return f.operations
}

func (f *fakeAdapter) RateLimits() ratelimit.BucketConfig {
	return ratelimit.DefaultBucketConfig()
}

func fakeFactory(ops ...string) Factory {
	return func() (Adapter, error) {
		return &fakeAdapter{operations: ops}, nil
	}
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	r := NewRegistry(nil)

	require.NoError(t, r.Register(CategoryCRM, "hubspot", fakeFactory("crm.create_contact")))

	adapter, err := r.Resolve(CategoryCRM, "hubspot")
	require.NoError(t, err)
	assert.Equal(t, []string{"crm.create_contact"}, adapter.SupportedOperations())
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	r := NewRegistry(nil)

	require.NoError(t, r.Register(CategoryCRM, "hubspot", fakeFactory()))
	err := r.Register(CategoryCRM, "hubspot", fakeFactory())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistry_UnknownCategory(t *testing.T) {
	r := NewRegistry(nil)

	err := r.Register(Category("billing"), "stripe", fakeFactory())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider category")
}

func TestRegistry_ResolveUnregistered(t *testing.T) {
	r := NewRegistry(nil)

	_, err := r.Resolve(CategoryHelpdesk, "zendesk")
	require.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
}

func TestRegistry_OperationsUnion(t *testing.T) {
	r := NewRegistry(nil)

	require.NoError(t, r.Register(CategoryCRM, "hubspot",
		fakeFactory("crm.create_contact", "crm.update_deal")))
	require.NoError(t, r.Register(CategoryHelpdesk, "zendesk",
		fakeFactory("helpdesk.create_ticket", "crm.create_contact")))

	assert.Equal(t,
		[]string{"crm.create_contact", "crm.update_deal", "helpdesk.create_ticket"},
		r.Operations())
}

func TestRegistry_MustBeNonEmpty(t *testing.T) {
	r := NewRegistry(nil)
	assert.Panics(t, func() { r.MustBeNonEmpty() })

	require.NoError(t, r.Register(CategoryEmail, "sendgrid", fakeFactory("email.send")))
	assert.NotPanics(t, func() { r.MustBeNonEmpty() })
}
