package xclient

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xclient/pkg/resilience/xretry"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"/auth/login", "/auth/refresh"}, cfg.PublicPaths)
	assert.NotContains(t, cfg.Retry.Conditions, xretry.ConditionRateLimited)
	assert.Equal(t, 100, cfg.Errors.HistorySize)
	assert.Equal(t, time.Second, cfg.Errors.LogoutDelay)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"relative base url", func(c *Config) { c.BaseURL = "/api" }},
		{"negative timeout", func(c *Config) { c.Timeout = -time.Second }},
		{"negative retries", func(c *Config) { c.Retry.MaxRetries = -1 }},
		{"unknown condition", func(c *Config) { c.Retry.Conditions = []xretry.Condition{"sometimes"} }},
		{"negative threshold", func(c *Config) { c.Auth.RefreshThreshold = -time.Minute }},
		{"empty history", func(c *Config) { c.Errors.HistorySize = 0 }},
		{"negative logout delay", func(c *Config) { c.Errors.LogoutDelay = -1 }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
base_url: https://api.example.com
timeout: 5s
retry:
  max_retries: 4
  base_delay: 200ms
  strategy: linear
  conditions: [network, rate_limited]
auth:
  refresh_url: /auth/refresh
  refresh_threshold: 2m
breaker:
  enabled: true
  failures: 3
log:
  format: json
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com", cfg.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, 4, cfg.Retry.MaxRetries)
	assert.Equal(t, 200*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, xretry.StrategyLinear, cfg.Retry.Strategy)
	assert.Equal(t, []xretry.Condition{xretry.ConditionNetwork, xretry.ConditionRateLimited}, cfg.Retry.Conditions)
	assert.Equal(t, 2*time.Minute, cfg.Auth.RefreshThreshold)
	assert.True(t, cfg.Breaker.Enabled)
	assert.Equal(t, uint32(3), cfg.Breaker.Failures)
	assert.Equal(t, "json", cfg.Log.Format)

	// 未出现的键保留默认值
	def := DefaultConfig()
	assert.Equal(t, def.Retry.MaxDelay, cfg.Retry.MaxDelay)
	assert.Equal(t, def.Auth.CheckInterval, cfg.Auth.CheckInterval)
	assert.Equal(t, def.PublicPaths, cfg.PublicPaths)
	assert.Equal(t, def.Breaker.OpenTimeout, cfg.Breaker.OpenTimeout)
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"errors":{"history_size":0}}`), 0o600))
	_, err := LoadConfig(path)
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLogConfig_NewLogger(t *testing.T) {
	file := filepath.Join(t.TempDir(), "client.log")
	l, cleanup, err := LogConfig{Level: "debug", Format: "json", File: file}.NewLogger()
	require.NoError(t, err)
	l.Info("hello")
	require.NoError(t, cleanup())

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}
