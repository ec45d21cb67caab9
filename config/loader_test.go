package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 3, cfg.Executor.MaxAttempts)
	assert.True(t, cfg.Auth.DevMode)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
database:
  driver: postgres
  dsn: "host=localhost user=am dbname=am"
executor:
  max_attempts: 5
providers:
  - name: hubspot
    category: crm
    base_url: "https://bridge.internal/hubspot"
    operations: ["crm.create_contact"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5, cfg.Executor.MaxAttempts)
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "hubspot", cfg.Providers[0].Name)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
`)
	t.Setenv("ACTIONMESH_SERVER_ADDR", ":7070")
	t.Setenv("ACTIONMESH_REDIS_ADDR", "redis.internal:6379")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
}

func TestLoad_ValidationFailures(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "bad driver",
			content: "database:\n  driver: oracle\n",
			wantErr: "database.driver",
		},
		{
			name:    "jwt required outside dev mode",
			content: "auth:\n  dev_mode: false\n",
			wantErr: "jwt_secret",
		},
		{
			name:    "telemetry endpoint required",
			content: "telemetry:\n  enabled: true\n",
			wantErr: "telemetry.endpoint",
		},
		{
			name:    "provider without operations",
			content: "providers:\n  - name: hubspot\n    base_url: \"http://x\"\n",
			wantErr: "declares no operations",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
}
