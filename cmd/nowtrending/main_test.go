package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nowtrending/nowtrending/internal/trends"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, extra ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := "blob:\n  type: fs\n  root: " + filepath.Join(dir, "data") + "\nlog:\n  level: error\n" + strings.Join(extra, "")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func TestIngestThenStats(t *testing.T) {
	cfg := writeConfig(t)
	payload := `{"topics":[{"query":"Solar Eclipse","searchVolume":5000},{"query":"World Cup","searchVolume":20000}]}`

	out, err := execute(t, payload, "ingest", "-", "--no-embed", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Stored 2 topics (2 total)")

	out, err = execute(t, "", "stats", "--json", "--config", cfg)
	require.NoError(t, err)

	var stats trends.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 2, stats.TotalTopics)
	assert.Equal(t, 1, stats.TotalScrapes)
	assert.Equal(t, 0, stats.TopicsWithEmbeddings)
	assert.NotNil(t, stats.LastScrape)
}

func TestIngestRejectsBadPayload(t *testing.T) {
	cfg := writeConfig(t)

	_, err := execute(t, `{"topics":[{"searchVolume":1}]}`, "ingest", "-", "--no-embed", "--config", cfg)
	assert.Error(t, err)
}

func TestSearchRequiresProvider(t *testing.T) {
	cfg := writeConfig(t)
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("NOWTRENDING_EMBEDDING_API_KEY", "")

	_, err := execute(t, "", "search", "eclipse", "--config", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search failed")
}

func TestSearchStrategyFromConfig(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("NOWTRENDING_EMBEDDING_API_KEY", "")

	cfg := writeConfig(t, "search:\n  strategy: parallel\n  workers: 2\n")
	_, err := execute(t, "", "search", "eclipse", "--config", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search failed")

	cfg = writeConfig(t, "search:\n  strategy: quantum\n")
	_, err = execute(t, "", "search", "eclipse", "--config", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown search strategy")
}
