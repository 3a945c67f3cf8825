package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nowtrending/nowtrending/internal/config"
	"github.com/nowtrending/nowtrending/internal/docstore"
	"github.com/nowtrending/nowtrending/internal/embedding"
	"github.com/nowtrending/nowtrending/internal/logging"
	"github.com/nowtrending/nowtrending/internal/merge"
	"github.com/nowtrending/nowtrending/internal/scraper"
	"github.com/nowtrending/nowtrending/internal/search"
	"github.com/nowtrending/nowtrending/internal/trends"
)

// Version is reported by the health endpoint
var Version = "0.1.0"

// maxBodySize caps ingest payloads
const maxBodySize = 10 << 20

// DocumentLoader reads the current trends document
type DocumentLoader interface {
	Load(ctx context.Context) *trends.Document
}

// TopicMerger records a batch of observations
type TopicMerger interface {
	AddTopics(ctx context.Context, batch []trends.Observation, scrapeID string) (merge.Result, error)
}

// QuerySearcher answers free-text queries
type QuerySearcher interface {
	Search(ctx context.Context, text string, opts search.Options) ([]search.Result, error)
}

// TopicCollector scrapes all configured sources
type TopicCollector interface {
	Collect(ctx context.Context) (*scraper.Result, error)
}

// EmbeddingRunner fills in missing embeddings
type EmbeddingRunner interface {
	Run(ctx context.Context) (embedding.RunResult, error)
}

// CacheReporter is implemented by document loaders that cache in process
type CacheReporter interface {
	CacheAge() (time.Duration, bool)
}

// HealthChecker reports whether a dependency is reachable
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// Deps are the collaborators the server routes requests to. Collector,
// Embedder and Health may be nil, which disables the matching feature.
type Deps struct {
	Docs      DocumentLoader
	Merger    TopicMerger
	Search    QuerySearcher
	Collector TopicCollector
	Embedder  EmbeddingRunner
	Health    HealthChecker
	Logger    *slog.Logger
	Now       func() time.Time
}

// Server represents the HTTP API server
type Server struct {
	config *config.Config
	deps   Deps
	router *gin.Engine
	log    *slog.Logger

	embedding atomic.Bool
	bg        sync.WaitGroup
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Server{
		config: cfg,
		deps:   deps,
		router: gin.New(),
		log:    logging.OrDefault(deps.Logger).With("component", "api"),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(requestLogger(s.log))
	s.router.Use(corsMiddleware())

	// Health check
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		api.GET("/trending", s.handleTrending)
		api.GET("/stats", s.handleStats)
		api.GET("/search", s.handleSearch)

		// Scheduled scrape and external push, both token protected
		scrape := api.Group("/scrape", bearerAuth(s.config.Server.AuthToken))
		scrape.GET("", s.handleScrape)
		scrape.POST("", s.handleIngest)
	}
}

// Handler exposes the router, for tests and custom listeners
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is canceled, then shuts down gracefully and waits
// for a running embedding job
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting API server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	s.log.Info("shutting down API server")
	err := srv.Shutdown(shutdownCtx)
	s.WaitBackground()
	return err
}

// WaitBackground blocks until background embedding has finished
func (s *Server) WaitBackground() {
	s.bg.Wait()
}

// corsMiddleware adds CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestLogger logs one line per request
func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		log.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"took", time.Since(start),
		)
	}
}

// bearerAuth rejects requests whose Authorization header is not
// "Bearer <token>"
func bearerAuth(token string) gin.HandlerFunc {
	want := []byte("Bearer " + token)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader("Authorization"))
		if token == "" || subtle.ConstantTimeCompare(got, want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{
		"status":  "ok",
		"version": Version,
	}

	if s.deps.Health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		status := "ok"
		if err := s.deps.Health.CheckHealth(ctx); err != nil {
			status = fmt.Sprintf("error: %v", err)
		}
		resp["embedding"] = status
	}

	if cr, ok := s.deps.Docs.(CacheReporter); ok {
		if age, cached := cr.CacheAge(); cached {
			resp["cacheAgeSeconds"] = age.Seconds()
		} else {
			resp["cacheAgeSeconds"] = nil
		}
	}

	c.JSON(http.StatusOK, resp)
}

// handleTrending lists the topics seen in the trending window
func (s *Server) handleTrending(c *gin.Context) {
	limit, err := intQuery(c, "limit", s.config.Search.TrendingLimit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	now := s.deps.Now()
	window := time.Duration(s.config.Search.TrendingWindow) * time.Hour
	trending := s.deps.Docs.Load(c.Request.Context()).Trending(now, window, limit)

	c.JSON(http.StatusOK, gin.H{
		"trending":  trending,
		"count":     len(trending),
		"timestamp": trends.Millis(now),
	})
}

// handleStats summarizes the document
func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Docs.Load(c.Request.Context()).Stats())
}

// handleSearch embeds the query text and ranks topics against it
func (s *Server) handleSearch(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": `Missing query parameter "q"`})
		return
	}

	limit, err := intQuery(c, "limit", s.config.Search.DefaultLimit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	minSim := s.config.Search.MinSimilarity
	if raw := c.Query("min_sim"); raw != "" {
		minSim, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "min_sim must be a number"})
			return
		}
	}

	results, err := s.deps.Search.Search(c.Request.Context(), query, search.Options{Limit: limit, MinSimilarity: minSim})
	degraded := false
	if err != nil {
		if errors.Is(err, search.ErrEmptyQuery) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.log.Error("search failed, returning no results", "query", query, "error", err)
		results = []search.Result{}
		degraded = true
	}

	c.JSON(http.StatusOK, gin.H{
		"query":     query,
		"results":   results,
		"count":     len(results),
		"degraded":  degraded,
		"timestamp": trends.Millis(s.deps.Now()),
	})
}

// handleScrape collects from all sources, merges and schedules embedding
func (s *Server) handleScrape(c *gin.Context) {
	if s.deps.Collector == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scraping is not configured"})
		return
	}

	s.log.Info("scrape triggered")
	collected, err := s.deps.Collector.Collect(c.Request.Context())
	if err != nil {
		s.log.Error("scrape failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	result, ok := s.addTopics(c, collected.Topics)
	if !ok {
		return
	}

	counts := collected.Counts()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"scraped": len(collected.Topics),
		"sources": gin.H{
			"serpApi": counts["serpApi"],
			"browser": counts["browser"],
			"rss":     counts["rss"],
		},
		"added":              result.Added,
		"totalTopics":        result.TotalTopics,
		"embeddingScheduled": s.scheduleEmbedding(),
	})
}

// handleIngest accepts topics scraped elsewhere
func (s *Server) handleIngest(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	payload, err := trends.ParsePayload(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.log.Info("receiving externally scraped topics", "topics", len(payload.Observations), "shape", payload.Shape)
	result, ok := s.addTopics(c, payload.Observations)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":            true,
		"added":              result.Added,
		"totalTopics":        result.TotalTopics,
		"embeddingScheduled": s.scheduleEmbedding(),
	})
}

// addTopics merges under a fresh scrape id and writes the error response
// itself when the merge fails
func (s *Server) addTopics(c *gin.Context, batch []trends.Observation) (merge.Result, bool) {
	scrapeID := uuid.NewString()
	result, err := s.deps.Merger.AddTopics(c.Request.Context(), batch, scrapeID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, docstore.ErrConflict) {
			status = http.StatusConflict
		}
		s.log.Error("failed to store topics", "scrape_id", scrapeID, "error", err)
		c.JSON(status, gin.H{"error": err.Error()})
		return merge.Result{}, false
	}
	s.log.Info("stored topics", "scrape_id", scrapeID, "added", result.Added, "total_topics", result.TotalTopics)
	return result, true
}

// scheduleEmbedding starts a background embedding run unless one is
// already in progress. It reports whether a run was started.
func (s *Server) scheduleEmbedding() bool {
	if s.deps.Embedder == nil {
		return false
	}
	if !s.embedding.CompareAndSwap(false, true) {
		s.log.Info("embedding already running, skipping")
		return false
	}

	timeout := time.Duration(s.config.Server.EmbedTimeout) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		defer s.embedding.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		res, err := s.deps.Embedder.Run(ctx)
		if err != nil {
			s.log.Error("background embedding failed", "error", err)
			return
		}
		s.log.Info("background embedding finished",
			"pending", res.Pending,
			"embedded", res.Embedded,
			"failed_batches", res.FailedBatches,
		)
	}()
	return true
}

// intQuery reads a positive integer query parameter
func intQuery(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return n, nil
}
