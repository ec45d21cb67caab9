// Package tenant enforces multi-tenant isolation. Every store read/write in
// the service passes through Check, which derives the mandatory tenant
// predicate from the authenticated context and refuses to execute when it is
// missing or mismatched (fail-closed).
package tenant

import (
	"context"

	"github.com/actionmesh/actionmesh/types"
)

// Scope returns the tenant ID of the authenticated caller. A context without
// a tenant is a programming error upstream (auth middleware not applied or
// bypassed), so the caller must treat the returned error as fatal for the
// request, never as "no scoping needed".
func Scope(ctx context.Context) (string, error) {
	tenantID, ok := types.TenantID(ctx)
	if !ok {
		return "", types.NewError(types.ErrPermission, "no tenant scope in context").
			WithHTTPStatus(403)
	}
	return tenantID, nil
}

// Check verifies that the record's tenant matches the authenticated scope.
// Store implementations call this before touching any row, so a guessed
// tenant ID in a request body can never widen access beyond the caller's
// own tenant.
func Check(ctx context.Context, recordTenantID string) error {
	scope, err := Scope(ctx)
	if err != nil {
		return err
	}
	if recordTenantID == "" {
		return types.NewError(types.ErrValidation, "record has no tenant_id").
			WithHTTPStatus(400)
	}
	if recordTenantID != scope {
		return types.NewError(types.ErrPermission, "cross-tenant access denied").
			WithHTTPStatus(403)
	}
	return nil
}
