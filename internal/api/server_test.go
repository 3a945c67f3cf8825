package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nowtrending/nowtrending/internal/blob"
	"github.com/nowtrending/nowtrending/internal/config"
	"github.com/nowtrending/nowtrending/internal/docstore"
	"github.com/nowtrending/nowtrending/internal/embedding"
	"github.com/nowtrending/nowtrending/internal/merge"
	"github.com/nowtrending/nowtrending/internal/scraper"
	"github.com/nowtrending/nowtrending/internal/search"
	"github.com/nowtrending/nowtrending/internal/trends"
)

const token = "test-secret"

var fixedNow = time.Date(2025, 5, 10, 18, 0, 0, 0, time.UTC)

type fakeSearch struct {
	results []search.Result
	err     error
	opts    search.Options
}

func (f *fakeSearch) Search(_ context.Context, text string, opts search.Options) ([]search.Result, error) {
	f.opts = opts
	if strings.TrimSpace(text) == "" {
		return nil, search.ErrEmptyQuery
	}
	return f.results, f.err
}

type fakeCollector struct {
	res *scraper.Result
	err error
}

func (f fakeCollector) Collect(context.Context) (*scraper.Result, error) { return f.res, f.err }

type fakeRunner struct {
	runs    atomic.Int32
	release chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context) (embedding.RunResult, error) {
	f.runs.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
		}
	}
	return embedding.RunResult{}, nil
}

type conflictMerger struct{}

func (conflictMerger) AddTopics(context.Context, []trends.Observation, string) (merge.Result, error) {
	return merge.Result{}, docstore.ErrConflict
}

type testEnv struct {
	server *Server
	store  *docstore.Store
	search *fakeSearch
	runner *fakeRunner
}

func newEnv(t *testing.T, collector TopicCollector) *testEnv {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.AuthToken = token

	now := func() time.Time { return fixedNow }
	store := docstore.New(blob.NewMemoryStore(), docstore.Options{Cache: docstore.NewCache(time.Minute, now)})
	env := &testEnv{
		store:  store,
		search: &fakeSearch{},
		runner: &fakeRunner{},
	}
	env.server = NewServer(cfg, Deps{
		Docs:      store,
		Merger:    merge.NewEngine(store, merge.WithClock(now)),
		Search:    env.search,
		Collector: collector,
		Embedder:  env.runner,
		Now:       now,
	})
	return env
}

func (e *testEnv) do(method, target, body string, auth bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if auth {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	env := newEnv(t, nil)
	w := env.do(http.MethodGet, "/health", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestHealth_CacheAge(t *testing.T) {
	env := newEnv(t, nil)

	w := env.do(http.MethodGet, "/health", "", false)
	body := decode(t, w)
	require.Contains(t, body, "cacheAgeSeconds")
	assert.Nil(t, body["cacheAgeSeconds"])

	require.NoError(t, env.store.Save(context.Background(), trends.NewDocument()))
	w = env.do(http.MethodGet, "/health", "", false)
	assert.Equal(t, float64(0), decode(t, w)["cacheAgeSeconds"])
}

func TestCORSPreflight(t *testing.T) {
	env := newEnv(t, nil)
	w := env.do(http.MethodOptions, "/api/search", "", false)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestIngest_Unauthorized(t *testing.T) {
	env := newEnv(t, nil)

	w := env.do(http.MethodPost, "/api/scrape", `[{"query":"AI"}]`, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/scrape", strings.NewReader(`[{"query":"AI"}]`))
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Empty(t, env.store.Load(context.Background()).Topics)
}

func TestIngest(t *testing.T) {
	env := newEnv(t, nil)

	w := env.do(http.MethodPost, "/api/scrape", `{"topics":[{"query":"AI","searchVolume":1000},{"query":"Go","searchVolume":10}]}`, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	env.server.WaitBackground()

	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(2), body["added"])
	assert.Equal(t, float64(2), body["totalTopics"])
	assert.Equal(t, true, body["embeddingScheduled"])
	assert.Equal(t, int32(1), env.runner.runs.Load())

	doc := env.store.Load(context.Background())
	require.NotNil(t, doc.Find("ai"))
	assert.Equal(t, 1, doc.Meta.TotalScrapes)
}

func TestIngest_BadPayloads(t *testing.T) {
	env := newEnv(t, nil)
	for _, body := range []string{``, `[]`, `{"items":[]}`, `"AI"`, `[{"searchVolume":3}]`, `{"topics":[],"data":[]}`} {
		w := env.do(http.MethodPost, "/api/scrape", body, true)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	assert.Equal(t, int32(0), env.runner.runs.Load())
}

func TestIngest_Conflict(t *testing.T) {
	env := newEnv(t, nil)
	env.server.deps.Merger = conflictMerger{}

	w := env.do(http.MethodPost, "/api/scrape", `[{"query":"AI"}]`, true)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestScheduleEmbedding_OneAtATime(t *testing.T) {
	env := newEnv(t, nil)
	env.runner.release = make(chan struct{})

	assert.True(t, env.server.scheduleEmbedding())
	assert.False(t, env.server.scheduleEmbedding())

	close(env.runner.release)
	env.server.WaitBackground()
	assert.Equal(t, int32(1), env.runner.runs.Load())

	env.runner.release = nil
	assert.True(t, env.server.scheduleEmbedding())
	env.server.WaitBackground()
	assert.Equal(t, int32(2), env.runner.runs.Load())
}

func TestScrape(t *testing.T) {
	collected := &scraper.Result{
		Topics: []trends.Observation{
			{Query: "Lakers", SearchVolume: 500, Active: true},
			{Query: "Eclipse", SearchVolume: 100, Active: true},
		},
		Reports: []scraper.Report{
			{Name: "serpApi", Count: 1},
			{Name: "browser", Count: 0},
			{Name: "rss", Count: 1},
		},
	}
	env := newEnv(t, fakeCollector{res: collected})

	w := env.do(http.MethodGet, "/api/scrape", "", true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	env.server.WaitBackground()

	body := decode(t, w)
	assert.Equal(t, float64(2), body["scraped"])
	assert.Equal(t, map[string]any{"serpApi": float64(1), "browser": float64(0), "rss": float64(1)}, body["sources"])
	assert.Equal(t, float64(2), body["totalTopics"])
}

func TestScrape_NoTopics(t *testing.T) {
	env := newEnv(t, fakeCollector{res: &scraper.Result{}, err: scraper.ErrNoTopics})
	w := env.do(http.MethodGet, "/api/scrape", "", true)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, decode(t, w)["error"], "no topics")
}

func TestTrendingAndStats(t *testing.T) {
	env := newEnv(t, nil)
	w := env.do(http.MethodPost, "/api/scrape", `[{"query":"small","searchVolume":1},{"query":"big","searchVolume":900}]`, true)
	require.Equal(t, http.StatusOK, w.Code)
	env.server.WaitBackground()

	w = env.do(http.MethodGet, "/api/trending?limit=1", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(1), body["count"])
	first := body["trending"].([]any)[0].(map[string]any)
	assert.Equal(t, "big", first["query"])
	assert.Equal(t, float64(0), first["hoursAgo"])

	w = env.do(http.MethodGet, "/api/trending?limit=abc", "", false)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodGet, "/api/stats", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode(t, w)
	assert.Equal(t, float64(2), stats["totalTopics"])
	assert.Equal(t, float64(1), stats["totalScrapes"])
	assert.Equal(t, float64(0), stats["topicsWithEmbeddings"])
	assert.NotNil(t, stats["lastScrape"])
}

func TestStats_EmptyDocument(t *testing.T) {
	env := newEnv(t, nil)
	w := env.do(http.MethodGet, "/api/stats", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode(t, w)
	assert.Nil(t, stats["lastScrape"])
	assert.Nil(t, stats["oldestTopic"])
}

func TestSearch(t *testing.T) {
	env := newEnv(t, nil)
	env.search.results = []search.Result{{Query: "AI", Similarity: 0.9}}

	w := env.do(http.MethodGet, "/api/search", "", false)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodGet, "/api/search?q=robots&limit=5&min_sim=0.4", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "robots", body["query"])
	assert.Equal(t, float64(1), body["count"])
	assert.Equal(t, false, body["degraded"])
	assert.Equal(t, search.Options{Limit: 5, MinSimilarity: 0.4}, env.search.opts)

	w = env.do(http.MethodGet, "/api/search?q=robots", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, search.Options{Limit: 20, MinSimilarity: 0.25}, env.search.opts)

	w = env.do(http.MethodGet, "/api/search?q=robots&min_sim=0", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, search.Options{Limit: 20, MinSimilarity: 0}, env.search.opts)

	w = env.do(http.MethodGet, "/api/search?q=robots&min_sim=high", "", false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearch_ProviderFailureDegrades(t *testing.T) {
	env := newEnv(t, nil)
	env.search.err = errors.New("embedding provider down")

	w := env.do(http.MethodGet, "/api/search?q=robots", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["degraded"])
	assert.Equal(t, float64(0), body["count"])
	assert.Equal(t, []any{}, body["results"])
}
