// Package search ranks stored topics against a query by embedding similarity.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/nowtrending/nowtrending/internal/logging"
	"github.com/nowtrending/nowtrending/internal/trends"
)

const (
	DefaultLimit         = 20
	DefaultMinSimilarity = 0.25
)

// ErrEmptyQuery is returned when the query text is blank
var ErrEmptyQuery = errors.New("search: query is required")

// Options bounds a search
type Options struct {
	Limit         int
	MinSimilarity float64
}

// DefaultOptions returns the limit and similarity floor used when a caller
// does not ask for anything else.
func DefaultOptions() Options {
	return Options{Limit: DefaultLimit, MinSimilarity: DefaultMinSimilarity}
}

// withDefaults fills an unset Limit. MinSimilarity is taken as given, so
// zero admits every non-negative match and a negative floor admits every
// embedded topic.
func (o Options) withDefaults() Options {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	return o
}

// Result is one ranked topic
type Result struct {
	Query              string            `json:"query"`
	Similarity         float64           `json:"similarity"`
	SearchVolume       int64             `json:"searchVolume"`
	IncreasePercentage float64           `json:"increasePercentage"`
	Categories         []trends.Category `json:"categories"`
	TrendBreakdown     []string          `json:"trendBreakdown"`
	FirstSeen          int64             `json:"firstSeen"`
	LastSeen           int64             `json:"lastSeen"`
	Active             bool              `json:"active"`
	DaysAgo            int               `json:"daysAgo"`
}

// Loader provides the current document. Implemented by docstore.Store.
type Loader interface {
	Load(ctx context.Context) *trends.Document
}

// Engine runs similarity searches over the stored topics
type Engine struct {
	docs     Loader
	strategy Strategy
	now      func() time.Time
}

// NewEngine creates a search engine. A nil strategy means LinearScan and a
// nil clock means time.Now.
func NewEngine(docs Loader, strategy Strategy, now func() time.Time) *Engine {
	if strategy == nil {
		strategy = LinearScan{}
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{docs: docs, strategy: strategy, now: now}
}

// Search scores every embedded topic against vec
func (e *Engine) Search(ctx context.Context, vec []float32, opts Options) ([]Result, error) {
	opts = opts.withDefaults()
	doc := e.docs.Load(ctx)

	matches, err := e.strategy.Search(ctx, vec, doc.Topics, opts)
	if err != nil {
		return nil, fmt.Errorf("%s scan: %w", e.strategy.Name(), err)
	}

	now := trends.Millis(e.now())
	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		t := m.Topic
		results = append(results, Result{
			Query:              t.Query,
			Similarity:         m.Similarity,
			SearchVolume:       t.SearchVolume,
			IncreasePercentage: t.IncreasePercentage,
			Categories:         t.Categories,
			TrendBreakdown:     t.TrendBreakdown,
			FirstSeen:          t.FirstSeen,
			LastSeen:           t.LastSeen,
			Active:             t.Active,
			DaysAgo:            int(math.Round(float64(now-t.LastSeen) / float64(24*time.Hour.Milliseconds()))),
		})
	}
	return results, nil
}

// Embedder turns query text into a vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// QueryService answers free-text queries
type QueryService struct {
	embedder Embedder
	engine   *Engine
	log      *slog.Logger
}

// NewQueryService creates a text search front end
func NewQueryService(embedder Embedder, engine *Engine, logger *slog.Logger) *QueryService {
	return &QueryService{
		embedder: embedder,
		engine:   engine,
		log:      logging.OrDefault(logger).With("component", "search"),
	}
}

// Search embeds text and ranks topics against it. Blank text is rejected
// before any I/O.
func (q *QueryService) Search(ctx context.Context, text string, opts Options) ([]Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyQuery
	}

	vec, err := q.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	start := time.Now()
	results, err := q.engine.Search(ctx, vec, opts)
	if err != nil {
		return nil, err
	}
	q.log.Debug("search completed", "query", text, "results", len(results), "took", time.Since(start))
	return results, nil
}
