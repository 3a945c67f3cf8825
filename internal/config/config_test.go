package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "now-trending/trends.json", cfg.Blob.ObjectKey())
	assert.Equal(t, time.Minute, cfg.Store.CacheDuration())
	assert.Equal(t, 30*24*time.Hour, cfg.Store.Retention())
	assert.Equal(t, 100, cfg.Embedding.BatchSize)
	assert.Equal(t, 20, cfg.Search.DefaultLimit)
	assert.InDelta(t, 0.25, cfg.Search.MinSimilarity, 1e-9)
	assert.Equal(t, "linear", cfg.Search.Strategy)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
blob:
  type: memory
store:
  retention_days: 7
search:
  min_similarity: 0.5
  strategy: parallel
  workers: 4
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Blob.Type)
	assert.Equal(t, 7, cfg.Store.RetentionDays)
	assert.InDelta(t, 0.5, cfg.Search.MinSimilarity, 1e-9)
	assert.Equal(t, "parallel", cfg.Search.Strategy)
	assert.Equal(t, 4, cfg.Search.Workers)
	// untouched sections keep their defaults
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	assert.Equal(t, 60, cfg.Store.CacheTTL)
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o644))

	t.Setenv("CRON_SECRET", "from-cron")
	t.Setenv("SERPAPI_KEY", "serp")
	t.Setenv("NOWTRENDING_BLOB_TYPE", "sqlite")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-cron", cfg.Server.AuthToken)
	assert.Equal(t, "serp", cfg.Scraper.SerpAPIKey)
	assert.Equal(t, "sqlite", cfg.Blob.Type)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server, cfg.Server)
}
