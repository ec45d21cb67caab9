// Command actionmesh runs the action execution service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/actionmesh/actionmesh/api/handlers"
	"github.com/actionmesh/actionmesh/audit"
	"github.com/actionmesh/actionmesh/config"
	"github.com/actionmesh/actionmesh/credential"
	"github.com/actionmesh/actionmesh/envelope"
	"github.com/actionmesh/actionmesh/executor"
	"github.com/actionmesh/actionmesh/idempotency"
	"github.com/actionmesh/actionmesh/internal/database"
	"github.com/actionmesh/actionmesh/internal/metrics"
	"github.com/actionmesh/actionmesh/internal/pool"
	"github.com/actionmesh/actionmesh/internal/server"
	"github.com/actionmesh/actionmesh/internal/telemetry"
	"github.com/actionmesh/actionmesh/provider"
	"github.com/actionmesh/actionmesh/ratelimit"
	"github.com/actionmesh/actionmesh/workflow"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "actionmesh:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := buildLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Options{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRatio: cfg.Telemetry.SampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	credentials, err := credential.NewGormStoreWithTx(db.DB(), db)
	if err != nil {
		return fmt.Errorf("credential store: %w", err)
	}
	audits, err := audit.NewGormStore(db.DB())
	if err != nil {
		return fmt.Errorf("audit store: %w", err)
	}

	// Redis backs idempotency and workflow checkpoints when configured;
	// single-node deployments fall back to in-process and relational stores.
	var (
		idem        idempotency.Store
		checkpoints workflow.CheckpointStore
		redisStore  *idempotency.RedisStore
	)
	if cfg.Redis.Addr != "" {
		redisStore, err = idempotency.NewRedisStore(cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer func() { _ = redisStore.Close() }()
		idem = redisStore

		checkpoints, err = workflow.NewRedisCheckpointStore(cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis checkpoints: %w", err)
		}
	} else {
		idem = idempotency.NewMemoryStore()
		checkpoints, err = workflow.NewGormCheckpointStore(db.DB())
		if err != nil {
			return fmt.Errorf("checkpoint store: %w", err)
		}
	}

	limiter := ratelimit.NewLimiter(cfg.RateLimit, logger)
	breakers := ratelimit.NewBreakerRegistry(cfg.Breaker, logger)

	registry := provider.NewRegistry(logger)
	for _, pc := range cfg.Providers {
		pc := pc
		err := registry.Register(pc.Category, pc.Name, func() (provider.Adapter, error) {
			return provider.NewHTTPAdapter(pc)
		})
		if err != nil {
			return fmt.Errorf("register provider: %w", err)
		}
		if pc.RateLimits.RPS > 0 {
			limiter.SetProviderLimits(pc.Name, pc.RateLimits)
		}
	}
	registry.MustBeNonEmpty()

	codec := envelope.NewCodec(registry.Operations()...)
	collector := metrics.NewCollector("actionmesh", logger)

	exec := executor.New(codec, registry, idem, credentials, limiter, breakers,
		audits, collector, cfg.Executor, logger)

	approvals := workflow.NewApprovalManager(logger)
	engine := workflow.NewEngine(exec, checkpoints, approvals, cfg.Workflow, logger)
	engine.SetObserver(collector)

	// Pool gauges refresh on a slow tick.
	gaugeCtx, stopGauges := context.WithCancel(ctx)
	defer stopGauges()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gaugeCtx.Done():
				return
			case <-ticker.C:
				open, idle := db.Stats()
				collector.RecordDBConnections(cfg.Database.Driver, open, idle)
			}
		}
	}()

	resumed, err := engine.Recover(ctx)
	if err != nil {
		logger.Warn("workflow recovery incomplete", zap.Error(err))
	} else if resumed > 0 {
		logger.Info("resumed interrupted workflows", zap.Int("count", resumed))
	}

	checks := map[string]handlers.HealthChecker{
		"database": db.Ping,
	}
	if redisStore != nil {
		checks["redis"] = redisStore.Ping
	}

	router := newRouter(routerDeps{
		actions:   handlers.NewActionHandler(exec, audits, logger),
		workflows: handlers.NewWorkflowHandler(engine, logger),
		health:    handlers.NewHealthHandler(checks, logger),
		collector: collector,
		limiter:   pool.NewTenantLimiter(0),
		auth:      cfg.Auth,
		logger:    logger,
	})

	manager := server.NewManager(router, server.Config{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	if err := manager.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	logger.Info("actionmesh listening", zap.String("addr", manager.Addr()))

	manager.WaitForShutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		logger.Error("engine shutdown", zap.Error(err))
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Error("telemetry shutdown", zap.Error(err))
	}

	logger.Info("actionmesh stopped")
	return nil
}

// buildLogger constructs the process logger from configuration.
func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(cfg.Level); err != nil {
			return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Encoding == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
