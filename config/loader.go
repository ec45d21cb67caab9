package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load reads the configuration file, applies environment overrides, and
// validates the result. An empty path loads defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides the fields that carry secrets or per-deployment
// endpoints.
func applyEnv(cfg *Config) {
	setString(&cfg.Server.Addr, "ACTIONMESH_SERVER_ADDR")
	setString(&cfg.Redis.Addr, "ACTIONMESH_REDIS_ADDR")
	setString(&cfg.Redis.Password, "ACTIONMESH_REDIS_PASSWORD")
	setString(&cfg.Database.Driver, "ACTIONMESH_DB_DRIVER")
	setString(&cfg.Database.DSN, "ACTIONMESH_DB_DSN")
	setString(&cfg.Auth.JWTSecret, "ACTIONMESH_JWT_SECRET")
	setString(&cfg.Log.Level, "ACTIONMESH_LOG_LEVEL")
	setString(&cfg.Telemetry.Endpoint, "ACTIONMESH_OTLP_ENDPOINT")
	setBool(&cfg.Auth.DevMode, "ACTIONMESH_DEV_MODE")
	setBool(&cfg.Telemetry.Enabled, "ACTIONMESH_TELEMETRY_ENABLED")
}

func setString(target *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*target = v
	}
}

func setBool(target *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*target = parsed
		}
	}
}

// Validate rejects configurations that cannot start.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if !c.Auth.DevMode && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when dev_mode is off")
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
	}
	for i, p := range c.Providers {
		if p.Name == "" || p.BaseURL == "" {
			return fmt.Errorf("providers[%d] needs a name and a base_url", i)
		}
		if len(p.Operations) == 0 {
			return fmt.Errorf("provider %s declares no operations", p.Name)
		}
	}
	return nil
}
