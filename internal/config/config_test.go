package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chtmp(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
}

func TestLoadDefaults(t *testing.T) {
	chtmp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "deadonfilm.db", cfg.Store.SQLitePath)
	assert.Equal(t, 24, cfg.Store.CacheTTLHours)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.Equal(t, 1024, cfg.Anthropic.MaxTokens)
	assert.Equal(t, "sonar-pro", cfg.Perplexity.Model)
	assert.Equal(t, "https://r.jina.ai", cfg.Jina.BaseURL)
	assert.Equal(t, "https://s.jina.ai", cfg.Jina.SearchBaseURL)
	assert.Equal(t, "https://api.firecrawl.dev/v2", cfg.Firecrawl.BaseURL)
	assert.InDelta(t, 0.5, cfg.Cascade.ConfidenceThreshold, 0.001)
	assert.True(t, cfg.Cascade.StopOnMatch)
	assert.True(t, cfg.Cascade.Consolidate)
	assert.Equal(t, 3, cfg.Follow.MaxFollows)
	assert.InDelta(t, 1.0, cfg.Follow.DomainRPS, 0.001)
	assert.Equal(t, []string{"*pinterest.*", "*facebook.com*", "*youtube.com*"},
		cfg.Follow.ExcludePatterns)
	assert.NotContains(t, cfg.Follow.ExcludePatterns, "*findagrave.com*")
	assert.Equal(t, 30, cfg.Batch.PollIntervalSecs)
	assert.Equal(t, 1440, cfg.Batch.MaxWaitMins)
	assert.Equal(t, 25, cfg.Batch.CheckpointEvery)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 0, cfg.Breaker.ResetTimeoutSecs)
	assert.Equal(t, "https://datasets.imdbws.com/name.basics.tsv.gz", cfg.IMDb.NamesURL)
	assert.Equal(t, 5000, cfg.IMDb.ChunkSize)
	assert.InDelta(t, 0.02, cfg.Pricing.Jina.PerMTok, 0.0001)
	assert.InDelta(t, 0.005, cfg.Pricing.Perplexity.PerQuery, 0.0001)

	// Built-in model pricing is merged in when the file omits it.
	rate, ok := cfg.Pricing.Anthropic["claude-haiku-4-5-20251001"]
	require.True(t, ok)
	assert.InDelta(t, 0.5, rate.BatchDiscount, 0.001)
}

func TestLoadFromYAML(t *testing.T) {
	chtmp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/deadonfilm
log:
  level: debug
  format: console
server:
  port: 9090
batch:
  checkpoint_every: 100
cascade:
  confidence_threshold: 0.7
  stop_on_match: false
`
	dir, _ := os.Getwd()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 100, cfg.Batch.CheckpointEvery)
	assert.InDelta(t, 0.7, cfg.Cascade.ConfidenceThreshold, 0.001)
	assert.False(t, cfg.Cascade.StopOnMatch)
	// Defaults still apply for unset values
	assert.Equal(t, 30, cfg.Batch.PollIntervalSecs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	chtmp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	dir, _ := os.Getwd()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("DEADONFILM_STORE_DRIVER", "postgres")
	t.Setenv("DEADONFILM_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chtmp(t)

	t.Setenv("DEADONFILM_SERVER_PORT", "3000")
	t.Setenv("DEADONFILM_ANTHROPIC_KEY", "sk-ant-test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "sk-ant-test", cfg.Anthropic.Key)
}

func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.SQLitePath = "deadonfilm.db"
	cfg.Cascade.ConfidenceThreshold = 0.5
	cfg.Server.Port = 8080
	cfg.IMDb.NamesURL = "https://datasets.imdbws.com/name.basics.tsv.gz"
	return cfg
}

func TestValidateEnrich(t *testing.T) {
	cfg := validDefaults()
	// Online enrichment runs on whatever sources have credentials.
	assert.NoError(t, cfg.Validate("enrich"))
}

func TestValidateBackfillRequiresKey(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("backfill")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")

	cfg.Anthropic.Key = "sk-ant-key"
	assert.NoError(t, cfg.Validate("backfill"))
}

func TestValidateStoreDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.Driver = "mysql"
	err = cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
}

func TestValidateServePort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateThresholdBounds(t *testing.T) {
	cfg := validDefaults()
	cfg.Cascade.ConfidenceThreshold = 1.5

	err := cfg.Validate("sync")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cascade.confidence_threshold")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
