// Package audit records the outcome of every attempted action, successful
// or not. Records are append-only and tenant-scoped.
package audit

import (
	"context"
	"time"
)

// Record is one audit trail entry. A record is written for every action the
// executor attempts, including validation rejections and rate-limit denials.
type Record struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	TenantID      string    `gorm:"index:idx_audit_tenant;size:128" json:"tenant_id"`
	ActionID      string    `gorm:"size:64" json:"action_id"`
	CorrelationID string    `gorm:"size:128" json:"correlation_id"`
	ActorID       string    `gorm:"size:128" json:"actor_id,omitempty"`
	Operation     string    `gorm:"size:128" json:"operation"`
	Provider      string    `gorm:"size:64" json:"provider"`
	Status        string    `gorm:"size:16" json:"status"`
	ErrorCode     string    `gorm:"size:32" json:"error_code,omitempty"`
	Attempts      int       `json:"attempts"`
	Idempotent    bool      `json:"idempotent"`
	DurationMS    int64     `json:"duration_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

// Filter narrows a List call. Zero fields are ignored.
type Filter struct {
	Operation     string
	Provider      string
	Status        string
	CorrelationID string
	Limit         int
}

// Store is the audit trail persistence interface.
type Store interface {
	// Append writes one record. Append failures must not fail the action
	// itself; callers log and continue.
	Append(ctx context.Context, record *Record) error

	// List returns the tenant's records matching the filter, newest first.
	List(ctx context.Context, tenantID string, filter Filter) ([]*Record, error)
}
