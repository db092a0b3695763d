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
	origDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "negative parallelism",
			mutate:  func(cfg *Config) { cfg.Scrape.Parallelism = -1 },
			wantErr: "parallelism",
		},
		{
			name:    "zero max pages",
			mutate:  func(cfg *Config) { cfg.Scrape.MaxPages = 0 },
			wantErr: "max pages",
		},
		{
			name:    "empty base url",
			mutate:  func(cfg *Config) { cfg.Scrape.BaseURL = "" },
			wantErr: "base URL",
		},
		{
			name:    "invalid url format",
			mutate:  func(cfg *Config) { cfg.Scrape.BaseURL = "http://" },
			wantErr: "base URL",
		},
		{
			name:    "negative timeout",
			mutate:  func(cfg *Config) { cfg.Scrape.Timeout = -1 * time.Second },
			wantErr: "timeout",
		},
		{
			name:    "backoff above max",
			mutate:  func(cfg *Config) { cfg.Scrape.RetryBackoff = time.Minute },
			wantErr: "retry backoff",
		},
		{
			name:    "unknown driver",
			mutate:  func(cfg *Config) { cfg.Store.Driver = "mysql" },
			wantErr: "store driver",
		},
		{
			name:    "empty dsn",
			mutate:  func(cfg *Config) { cfg.Store.DatabaseURL = "" },
			wantErr: "database URL",
		},
		{
			name:    "checkpoint too frequent",
			mutate:  func(cfg *Config) { cfg.Pipeline.CheckpointEvery = 1 },
			wantErr: "checkpoint",
		},
		{
			name:    "checkpoint too rare",
			mutate:  func(cfg *Config) { cfg.Pipeline.CheckpointEvery = 50 },
			wantErr: "checkpoint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDefaultConfigValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, *DefaultConfig(), *cfg)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
scrape:
  delay: 250ms
  max_pages: 5
  fetch_flyer_pages: false
store:
  driver: sqlite
  database_url: offboard.db
pipeline:
  checkpoint_every: 5
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Scrape.Delay)
	assert.Equal(t, 5, cfg.Scrape.MaxPages)
	assert.False(t, cfg.Scrape.FetchFlyerPages)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "offboard.db", cfg.Store.DatabaseURL)
	assert.Equal(t, 5, cfg.Pipeline.CheckpointEvery)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "https://www.kaufda.de", cfg.Scrape.BaseURL, "unset keys keep their defaults")
}

func TestLoadEnvOverride(t *testing.T) {
	chdirTemp(t)
	t.Setenv("OFFBOARD_STORE_DRIVER", "sqlite")
	t.Setenv("OFFBOARD_SCRAPE_TIMEOUT", "15s")
	t.Setenv("OFFBOARD_PIPELINE_PRELOAD", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 15*time.Second, cfg.Scrape.Timeout)
	assert.False(t, cfg.Pipeline.Preload)
}

func TestLoadRejectsInvalid(t *testing.T) {
	chdirTemp(t)
	t.Setenv("OFFBOARD_PIPELINE_CHECKPOINT_EVERY", "100")

	_, err := Load()
	assert.ErrorContains(t, err, "checkpoint")
}

func TestInitLogger(t *testing.T) {
	t.Cleanup(func() { zap.ReplaceGlobals(zap.NewNop()) })

	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.True(t, zap.L().Core().Enabled(zap.DebugLevel))

	require.NoError(t, InitLogger(LogConfig{Level: "warn", Format: "json"}))
	assert.False(t, zap.L().Core().Enabled(zap.InfoLevel))

	assert.Error(t, InitLogger(LogConfig{Level: "loud"}))
}
