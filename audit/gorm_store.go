package audit

import (
	"context"
	"fmt"

	"github.com/actionmesh/actionmesh/tenant"
	"gorm.io/gorm"
)

// GormStore persists audit records in a relational store.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a store and migrates the audit table.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("failed to migrate audit table: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Append(ctx context.Context, record *Record) error {
	if err := tenant.Check(ctx, record.TenantID); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("audit append failed: %w", err)
	}
	return nil
}

func (s *GormStore) List(ctx context.Context, tenantID string, filter Filter) ([]*Record, error) {
	if err := tenant.Check(ctx, tenantID); err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if filter.Operation != "" {
		query = query.Where("operation = ?", filter.Operation)
	}
	if filter.Provider != "" {
		query = query.Where("provider = ?", filter.Provider)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.CorrelationID != "" {
		query = query.Where("correlation_id = ?", filter.CorrelationID)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var records []*Record
	if err := query.Order("id DESC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("audit list failed: %w", err)
	}
	return records, nil
}

var _ Store = (*GormStore)(nil)
