// Package database owns the relational connection pool and transaction
// helpers shared by the gorm-backed stores.
package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/actionmesh/actionmesh/config"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Manager wraps the gorm handle with pool tuning and lifecycle helpers.
type Manager struct {
	db     *gorm.DB
	driver string
	logger *zap.Logger
}

// Open connects to the configured database and applies pool settings.
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	logger.Info("database connected",
		zap.String("driver", cfg.Driver),
		zap.Int("max_open_conns", cfg.MaxOpenConns))

	return &Manager{
		db:     db,
		driver: cfg.Driver,
		logger: logger.With(zap.String("component", "database")),
	}, nil
}

// DB returns the gorm handle.
func (m *Manager) DB() *gorm.DB {
	return m.db
}

// Ping verifies connectivity.
func (m *Manager) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Stats reports pool occupancy for the metrics gauges.
func (m *Manager) Stats() (open, idle int) {
	sqlDB, err := m.db.DB()
	if err != nil {
		return 0, 0
	}
	stats := sqlDB.Stats()
	return stats.OpenConnections, stats.Idle
}

// Close releases the pool.
func (m *Manager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTransaction runs fn in a transaction, retrying serialization failures
// a bounded number of times.
func (m *Manager) WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	const maxRetries = 3

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		lastErr = m.db.WithContext(ctx).Transaction(fn)
		if lastErr == nil {
			return nil
		}
		if !retryableTxError(lastErr) || attempt == maxRetries {
			return lastErr
		}
		m.logger.Warn("retrying transaction",
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
		}
	}
	return lastErr
}

// retryableTxError matches serialization and busy errors worth retrying.
func retryableTxError(err error) bool {
	if errors.Is(err, gorm.ErrInvalidTransaction) {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{"deadlock", "serialization", "database is locked", "busy"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
