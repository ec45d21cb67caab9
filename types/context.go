package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyTenantID      contextKey = "tenant_id"
	keyCorrelationID contextKey = "correlation_id"
	keyActorID       contextKey = "actor_id"
	keyRoles         contextKey = "roles"
)

// WithTenantID adds the authenticated caller's tenant ID to context.
// Tenant scoping throughout the service is derived from this value,
// never from client-supplied headers alone.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, keyTenantID, tenantID)
}

// TenantID extracts tenant ID from context.
func TenantID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTenantID).(string)
	return v, ok && v != ""
}

// WithCorrelationID adds the caller-supplied correlation ID to context.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, keyCorrelationID, correlationID)
}

// CorrelationID extracts correlation ID from context.
func CorrelationID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyCorrelationID).(string)
	return v, ok && v != ""
}

// WithActorID adds the acting user or service identity to context.
func WithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, keyActorID, actorID)
}

// ActorID extracts the actor ID from context.
func ActorID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyActorID).(string)
	return v, ok && v != ""
}

// WithRoles adds the caller's roles to context.
func WithRoles(ctx context.Context, roles []string) context.Context {
	return context.WithValue(ctx, keyRoles, roles)
}

// Roles extracts the caller's roles from context.
func Roles(ctx context.Context) ([]string, bool) {
	v, ok := ctx.Value(keyRoles).([]string)
	return v, ok && len(v) > 0
}
