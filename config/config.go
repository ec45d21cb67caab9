// Package config defines the service configuration tree and its loader.
// Configuration is read from a YAML file, then overridden by environment
// variables for the secrets and endpoints that differ per deployment.
package config

import (
	"time"

	"github.com/actionmesh/actionmesh/executor"
	"github.com/actionmesh/actionmesh/idempotency"
	"github.com/actionmesh/actionmesh/provider"
	"github.com/actionmesh/actionmesh/ratelimit"
	"github.com/actionmesh/actionmesh/workflow"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig                 `yaml:"server"`
	Redis     idempotency.RedisConfig      `yaml:"redis"`
	Database  DatabaseConfig               `yaml:"database"`
	Executor  executor.Config              `yaml:"executor"`
	RateLimit ratelimit.BucketConfig       `yaml:"rate_limit"`
	Breaker   ratelimit.BreakerConfig      `yaml:"breaker"`
	Workflow  workflow.Config              `yaml:"workflow"`
	Providers []provider.HTTPAdapterConfig `yaml:"providers"`
	Auth      AuthConfig                   `yaml:"auth"`
	Log       LogConfig                    `yaml:"log"`
	Telemetry TelemetryConfig              `yaml:"telemetry"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig configures the relational store.
type DatabaseConfig struct {
	// Driver selects the backend: postgres or sqlite.
	Driver string `yaml:"driver"`
	// DSN is the connection string, or the file path for sqlite.
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// AuthConfig configures request authentication.
type AuthConfig struct {
	// JWTSecret signs and verifies bearer tokens. Required outside dev mode.
	JWTSecret string `yaml:"jwt_secret"`
	// DevMode accepts a plain X-Tenant-ID header instead of a token.
	DevMode bool `yaml:"dev_mode"`
}

// LogConfig configures the logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Encoding is json or console.
	Encoding string `yaml:"encoding"`
}

// TelemetryConfig configures distributed tracing.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
	// Endpoint is the OTLP gRPC collector address.
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Default returns a complete configuration suitable for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		// Redis is optional: an empty addr keeps idempotency in process
		// memory and checkpoints in the relational store.
		Redis: idempotency.RedisConfig{
			PoolSize:  10,
			KeyPrefix: "actionmesh:",
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             "actionmesh.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Executor:  executor.DefaultConfig(),
		RateLimit: ratelimit.DefaultBucketConfig(),
		Breaker:   ratelimit.DefaultBreakerConfig(),
		Workflow:  workflow.DefaultConfig(),
		Auth: AuthConfig{
			DevMode: true,
		},
		Log: LogConfig{
			Level:    "info",
			Encoding: "json",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "actionmesh",
			SampleRatio: 1.0,
		},
	}
}
