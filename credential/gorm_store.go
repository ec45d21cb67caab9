package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/actionmesh/actionmesh/tenant"
	"gorm.io/gorm"
)

// TxRunner executes fn inside one transaction. The database manager
// satisfies it and adds retry on transient conflicts.
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// gormTxRunner is the plain fallback when no manager is wired.
type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

// GormStore persists credentials in a relational store with per-tenant row
// isolation. Every query carries the tenant predicate.
type GormStore struct {
	db  *gorm.DB
	txs TxRunner
}

// NewGormStore creates a store and migrates the credentials table.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	return NewGormStoreWithTx(db, nil)
}

// NewGormStoreWithTx creates a store whose read-modify-write operations run
// through the given transaction runner.
func NewGormStoreWithTx(db *gorm.DB, txs TxRunner) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if err := db.AutoMigrate(&Credential{}); err != nil {
		return nil, fmt.Errorf("failed to migrate credentials table: %w", err)
	}
	if txs == nil {
		txs = gormTxRunner{db: db}
	}
	return &GormStore{db: db, txs: txs}, nil
}

func (s *GormStore) Get(ctx context.Context, tenantID, provider string) (*Credential, error) {
	if err := tenant.Check(ctx, tenantID); err != nil {
		return nil, err
	}

	var cred Credential
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND provider = ?", tenantID, provider).
		First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound(tenantID, provider)
	}
	if err != nil {
		return nil, fmt.Errorf("credential read failed: %w", err)
	}
	return &cred, nil
}

func (s *GormStore) Put(ctx context.Context, cred *Credential) error {
	if err := tenant.Check(ctx, cred.TenantID); err != nil {
		return err
	}

	err := s.txs.WithTransaction(ctx, func(tx *gorm.DB) error {
		var existing Credential
		err := tx.Where("tenant_id = ? AND provider = ?", cred.TenantID, cred.Provider).
			First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(cred).Error
		}
		if err != nil {
			return err
		}
		cred.ID = existing.ID
		cred.CreatedAt = existing.CreatedAt
		return tx.Save(cred).Error
	})
	if err != nil {
		return fmt.Errorf("credential write failed: %w", err)
	}
	return nil
}

func (s *GormStore) Rotate(ctx context.Context, tenantID, provider string, fn RotateFunc) (*Credential, error) {
	if err := tenant.Check(ctx, tenantID); err != nil {
		return nil, err
	}

	var rotated *Credential
	err := s.txs.WithTransaction(ctx, func(tx *gorm.DB) error {
		var cred Credential
		err := tx.Where("tenant_id = ? AND provider = ?", tenantID, provider).
			First(&cred).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound(tenantID, provider)
		}
		if err != nil {
			return err
		}
		if err := fn(&cred); err != nil {
			return err
		}
		if err := tx.Save(&cred).Error; err != nil {
			return err
		}
		rotated = &cred
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rotated, nil
}

func (s *GormStore) Delete(ctx context.Context, tenantID, provider string) error {
	if err := tenant.Check(ctx, tenantID); err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Where("tenant_id = ? AND provider = ?", tenantID, provider).
		Delete(&Credential{}).Error
}

var _ Store = (*GormStore)(nil)
