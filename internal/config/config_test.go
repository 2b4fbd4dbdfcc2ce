package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "metro.db", cfg.Store.SQLitePath)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "openai", cfg.Research.Provider)
	assert.InDelta(t, 0.3, cfg.Research.Client.Temperature, 0.001)
	assert.Equal(t, 4000, cfg.Research.Client.MaxTokens)
	assert.Equal(t, 30*time.Second, cfg.Research.Client.ProbeTimeout)
	assert.Equal(t, "gpt-4o", cfg.OpenAI.Model)
	assert.Equal(t, "dall-e-3", cfg.OpenAI.ImageModel)
	assert.InDelta(t, 5.0, cfg.Budget.DailyLimit, 0.001)
	assert.InDelta(t, 0.8, cfg.Budget.WarningRatio, 0.001)
	assert.Equal(t, 100, cfg.Budget.LogCap)
	assert.Equal(t, "America/Chicago", cfg.Budget.Timezone)
	assert.Equal(t, 300*time.Second, cfg.Pipeline.EventsTimeout)
	assert.Equal(t, 10, cfg.Pipeline.MaxLimit)
	assert.Equal(t, "0 6 * * *", cfg.Schedule.Cron)
	assert.Equal(t, 10, cfg.Schedule.Limit)
	assert.Equal(t, time.Minute, cfg.Schedule.Interval)
	assert.Equal(t, "queue", cfg.Signals.Bus)
	assert.Equal(t, "metro:stage_completed", cfg.Signals.Redis.Stream)
	assert.Equal(t, 5*time.Second, cfg.Signals.Redis.Block)
	assert.Equal(t, "memory", cfg.Analytics.Sink)
	assert.Contains(t, cfg.Pricing.Models, "gpt-4o")
	assert.Equal(t, "gpt-4o", cfg.Pricing.DefaultModel)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/metro
log:
  level: debug
  format: console
server:
  port: 9090
budget:
  daily_limit: 2.5
  operation_costs:
    daily_batch_10_events: 4.0
schedule:
  cron: "30 7 * * 1-5"
signals:
  bus: inline
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/metro", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.InDelta(t, 2.5, cfg.Budget.DailyLimit, 0.001)
	assert.InDelta(t, 4.0, cfg.Budget.OperationCosts["daily_batch_10_events"], 0.001)
	assert.Equal(t, "30 7 * * 1-5", cfg.Schedule.Cron)
	assert.Equal(t, "inline", cfg.Signals.Bus)
	// Defaults still apply for unset values
	assert.Equal(t, 10, cfg.Schedule.Limit)
	assert.NoError(t, cfg.Validate())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: memory
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("METRO_STORE_DRIVER", "sqlite")
	t.Setenv("METRO_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("METRO_SERVER_PORT", "3000")
	t.Setenv("METRO_OPENAI_KEY", "sk-test")
	t.Setenv("METRO_BUDGET_DAILY_LIMIT", "12.5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "sk-test", cfg.OpenAI.Key)
	assert.InDelta(t, 12.5, cfg.Budget.DailyLimit, 0.001)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unterminated"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Research.Provider = "openai"
	cfg.Signals.Bus = "queue"
	cfg.Budget.DailyLimit = 5
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"memory store", func(c *Config) { c.Store.Driver = "memory" }, ""},
		{"postgres without url", func(c *Config) { c.Store.Driver = "postgres" }, "store.database_url is required"},
		{"postgres with url", func(c *Config) {
			c.Store.Driver = "postgres"
			c.Store.DatabaseURL = "postgres://localhost/metro"
		}, ""},
		{"unknown store", func(c *Config) { c.Store.Driver = "mysql" }, "unknown store driver"},
		{"anthropic provider", func(c *Config) { c.Research.Provider = "anthropic" }, ""},
		{"unknown provider", func(c *Config) { c.Research.Provider = "perplexity" }, "unknown research provider"},
		{"redis bus without addr", func(c *Config) { c.Signals.Bus = "redis" }, "redis.addr is required"},
		{"redis bus with addr", func(c *Config) {
			c.Signals.Bus = "redis"
			c.Redis.Addr = "localhost:6379"
		}, ""},
		{"unknown bus", func(c *Config) { c.Signals.Bus = "kafka" }, "unknown signal bus"},
		{"negative limit", func(c *Config) { c.Budget.DailyLimit = -1 }, "daily_limit must be non-negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
