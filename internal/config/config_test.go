package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range envBindings {
		t.Setenv(env, "")
	}
}

func load(t *testing.T, configFile string) (*Config, error) {
	t.Helper()
	v, err := NewViper(configFile)
	require.NoError(t, err)
	return Load(v)
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := load(t, "")
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Retry.MaxRetries)
	assert.Equal(t, 300*time.Second, cfg.Retry.Interval())
	assert.Equal(t, 6, cfg.Retry.CheckLines)
	assert.Equal(t, 100, cfg.Output.BufferSize)
	assert.Equal(t, 60*time.Second, cfg.Output.HeartbeatInterval())
	assert.Empty(t, cfg.Output.LogDir)
	assert.Empty(t, cfg.Worker.Command)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.JSON)
}

func TestEnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("LICENSE_MAX_RETRIES", "-1")
	t.Setenv("LICENSE_RETRY_INTERVAL", "0.5")
	t.Setenv("LICENSE_CHECK_LINES", "10")
	t.Setenv("LOG_BUFFER_SIZE", "20")
	t.Setenv("LOG_HEARTBEAT_INTERVAL", "0")
	t.Setenv("LOG_OUTPUT_DIR", "/var/log/recon")
	t.Setenv("WORKER_COMMAND", "/opt/engine/run")
	t.Setenv("RECON_LOG_JSON", "true")
	t.Setenv("METRICS_TEXTFILE", "/var/lib/node_exporter/recon.prom")

	cfg, err := load(t, "")
	require.NoError(t, err)
	assert.Equal(t, -1, cfg.Retry.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.Interval())
	assert.Equal(t, 10, cfg.Retry.CheckLines)
	assert.Equal(t, 20, cfg.Output.BufferSize)
	assert.Equal(t, time.Duration(0), cfg.Output.HeartbeatInterval())
	assert.Equal(t, "/var/log/recon", cfg.Output.LogDir)
	assert.Equal(t, "/opt/engine/run", cfg.Worker.Command)
	assert.True(t, cfg.Logging.JSON)
	assert.Equal(t, "/var/lib/node_exporter/recon.prom", cfg.Metrics.Textfile)
}

func TestConfigFileWithEnvPrecedence(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "reconwrap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
retry:
  max_retries: 3
  interval_seconds: 120
worker:
  command: /usr/local/bin/engine
`), 0644))
	t.Setenv("LICENSE_MAX_RETRIES", "5")

	cfg, err := load(t, path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, 120*time.Second, cfg.Retry.Interval())
	assert.Equal(t, "/usr/local/bin/engine", cfg.Worker.Command)
}

func TestInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		env   string
		value string
	}{
		{"max retries not a number", "LICENSE_MAX_RETRIES", "many"},
		{"interval negative", "LICENSE_RETRY_INTERVAL", "-5"},
		{"interval garbage", "LICENSE_RETRY_INTERVAL", "5m"},
		{"check lines negative", "LICENSE_CHECK_LINES", "-1"},
		{"buffer zero", "LOG_BUFFER_SIZE", "0"},
		{"heartbeat negative", "LOG_HEARTBEAT_INTERVAL", "-60"},
		{"interval overflows duration", "LICENSE_RETRY_INTERVAL", "1e11"},
		{"heartbeat overflows duration", "LOG_HEARTBEAT_INTERVAL", "9.3e9"},
		{"json flag garbage", "RECON_LOG_JSON", "sometimes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.env, tt.value)

			_, err := load(t, "")
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.env)
		})
	}
}

func TestMissingConfigFile(t *testing.T) {
	clearEnv(t)
	_, err := NewViper(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
