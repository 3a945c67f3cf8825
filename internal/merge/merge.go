// Package merge folds scraped observations into the trends document.
package merge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nowtrending/nowtrending/internal/logging"
	"github.com/nowtrending/nowtrending/internal/trends"
)

// DefaultRetention is how long a topic or scrape record survives without
// being observed again
const DefaultRetention = 30 * 24 * time.Hour

// Updater runs a serialized load-modify-save cycle on the document.
// Implemented by docstore.Store.
type Updater interface {
	Update(ctx context.Context, fn func(doc *trends.Document) error) (*trends.Document, error)
}

// Result is returned by AddTopics
type Result struct {
	Added       int `json:"added"`
	TotalTopics int `json:"totalTopics"`
}

// Engine merges observation batches into the stored document
type Engine struct {
	store     Updater
	retention time.Duration
	now       func() time.Time
	log       *slog.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRetention overrides the pruning window
func WithRetention(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.retention = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// NewEngine creates a merge engine writing through store
func NewEngine(store Updater, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		retention: DefaultRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = logging.OrDefault(e.log).With("component", "merge")
	return e
}

// AddTopics records one scrape batch: it upserts every observation, prunes
// topics and scrape records older than the retention window and saves the
// whole document. Added is the size of the batch, not the number of topics
// that changed. On error nothing is persisted.
func (e *Engine) AddTopics(ctx context.Context, batch []trends.Observation, scrapeID string) (Result, error) {
	now := e.now()

	doc, err := e.store.Update(ctx, func(doc *trends.Document) error {
		Merge(doc, batch, scrapeID, now)
		pruned, scrapes := Prune(doc, now.Add(-e.retention))
		if pruned > 0 || scrapes > 0 {
			e.log.Info("pruned stale entries", "topics", pruned, "scrapes", scrapes)
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("add topics: %w", err)
	}

	e.log.Info("merged scrape batch",
		"scrape_id", scrapeID,
		"batch", len(batch),
		"total_topics", len(doc.Topics),
	)
	return Result{Added: len(batch), TotalTopics: len(doc.Topics)}, nil
}

// Merge applies a batch to doc in memory. Topics are matched on the
// lowercased query; the casing of the first insert is kept.
func Merge(doc *trends.Document, batch []trends.Observation, scrapeID string, now time.Time) {
	ts := trends.Millis(now)

	doc.Scrapes = append(doc.Scrapes, trends.ScrapeRecord{
		ID:         scrapeID,
		Timestamp:  ts,
		TopicCount: len(batch),
	})

	index := doc.Index()
	for _, obs := range batch {
		entry := trends.HistoryEntry{
			ScrapeID:     scrapeID,
			Timestamp:    ts,
			SearchVolume: obs.SearchVolume,
			Active:       obs.Active,
		}

		key := trends.NormalizeQuery(obs.Query)
		if existing, ok := index[key]; ok {
			existing.LastSeen = ts
			existing.SearchVolume = obs.SearchVolume
			existing.IncreasePercentage = obs.IncreasePercentage
			existing.Active = obs.Active
			if len(obs.Categories) > 0 {
				existing.Categories = append([]trends.Category{}, obs.Categories...)
			}
			existing.TrendBreakdown = appendMissing(existing.TrendBreakdown, obs.TrendBreakdown)
			existing.ScrapeHistory = append(existing.ScrapeHistory, entry)
			continue
		}

		topic := &trends.Topic{
			Query:              obs.Query,
			SearchVolume:       obs.SearchVolume,
			IncreasePercentage: obs.IncreasePercentage,
			Categories:         append([]trends.Category{}, obs.Categories...),
			TrendBreakdown:     append([]string{}, obs.TrendBreakdown...),
			Active:             obs.Active,
			FirstSeen:          ts,
			LastSeen:           ts,
			ScrapeHistory:      []trends.HistoryEntry{entry},
		}
		doc.Topics = append(doc.Topics, topic)
		index[key] = topic
	}

	doc.Meta.LastScrape = &ts
	doc.Meta.TotalScrapes = len(doc.Scrapes)
}

// Prune drops topics last seen and scrapes recorded at or before cutoff and
// reports how many of each were removed. Meta.TotalScrapes is kept in sync.
func Prune(doc *trends.Document, cutoff time.Time) (topics, scrapes int) {
	limit := trends.Millis(cutoff)

	keptTopics := doc.Topics[:0]
	for _, t := range doc.Topics {
		if t.LastSeen > limit {
			keptTopics = append(keptTopics, t)
		}
	}
	topics = len(doc.Topics) - len(keptTopics)
	clear(doc.Topics[len(keptTopics):])
	doc.Topics = keptTopics

	keptScrapes := doc.Scrapes[:0]
	for _, s := range doc.Scrapes {
		if s.Timestamp > limit {
			keptScrapes = append(keptScrapes, s)
		}
	}
	scrapes = len(doc.Scrapes) - len(keptScrapes)
	doc.Scrapes = keptScrapes

	doc.Meta.TotalScrapes = len(doc.Scrapes)
	return topics, scrapes
}

// appendMissing appends the terms of add that dst did not already hold, in
// order. Matching is exact and case-sensitive.
func appendMissing(dst, add []string) []string {
	if len(add) == 0 {
		return dst
	}
	present := make(map[string]struct{}, len(dst))
	for _, s := range dst {
		present[s] = struct{}{}
	}
	for _, s := range add {
		if _, ok := present[s]; !ok {
			dst = append(dst, s)
		}
	}
	return dst
}
