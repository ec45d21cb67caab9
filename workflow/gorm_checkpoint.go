package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/actionmesh/actionmesh/tenant"
	"gorm.io/gorm"
)

// checkpointRow is the relational shape of one checkpoint. The full state
// is stored as a JSON document; the indexed columns exist for lookup and
// the recovery scan.
type checkpointRow struct {
	WorkflowID string `gorm:"primaryKey;size:64"`
	TenantID   string `gorm:"index:idx_wf_tenant;size:128"`
	Status     string `gorm:"index:idx_wf_status;size:32"`
	State      []byte
	UpdatedAt  time.Time
}

func (checkpointRow) TableName() string { return "workflow_checkpoints" }

// GormCheckpointStore persists workflow checkpoints in a relational store.
type GormCheckpointStore struct {
	db *gorm.DB
}

// NewGormCheckpointStore creates a store and migrates the checkpoint table.
func NewGormCheckpointStore(db *gorm.DB) (*GormCheckpointStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if err := db.AutoMigrate(&checkpointRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate checkpoint table: %w", err)
	}
	return &GormCheckpointStore{db: db}, nil
}

func (s *GormCheckpointStore) Save(ctx context.Context, state *State) error {
	if err := tenant.Check(ctx, state.TenantID); err != nil {
		return err
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow state: %w", err)
	}
	row := checkpointRow{
		WorkflowID: state.WorkflowID,
		TenantID:   state.TenantID,
		Status:     string(state.Status),
		State:      data,
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("checkpoint save failed: %w", err)
	}
	return nil
}

func (s *GormCheckpointStore) Load(ctx context.Context, tenantID, workflowID string) (*State, error) {
	if err := tenant.Check(ctx, tenantID); err != nil {
		return nil, err
	}

	var row checkpointRow
	err := s.db.WithContext(ctx).
		Where("workflow_id = ? AND tenant_id = ?", workflowID, tenantID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, checkpointNotFound(workflowID)
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint load failed: %w", err)
	}

	var state State
	if err := json.Unmarshal(row.State, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow state: %w", err)
	}
	return &state, nil
}

func (s *GormCheckpointStore) Delete(ctx context.Context, tenantID, workflowID string) error {
	if err := tenant.Check(ctx, tenantID); err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Where("workflow_id = ? AND tenant_id = ?", workflowID, tenantID).
		Delete(&checkpointRow{}).Error
}

func (s *GormCheckpointStore) ListNonTerminal(ctx context.Context) ([]*State, error) {
	var rows []checkpointRow
	err := s.db.WithContext(ctx).
		Where("status IN ?", []string{
			string(StatusPending), string(StatusRunning), string(StatusWaitingApproval),
		}).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("checkpoint scan failed: %w", err)
	}

	out := make([]*State, 0, len(rows))
	for _, row := range rows {
		var state State
		if err := json.Unmarshal(row.State, &state); err != nil {
			return nil, fmt.Errorf("failed to unmarshal workflow state: %w", err)
		}
		out = append(out, &state)
	}
	return out, nil
}

var _ CheckpointStore = (*GormCheckpointStore)(nil)
