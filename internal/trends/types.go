package trends

import (
	"strings"
	"time"
)

// SchemaVersion is the document layout version written by this build
const SchemaVersion = 1

// Category is a Google Trends category attached to a topic
type Category struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// HistoryEntry records one observation of a topic
type HistoryEntry struct {
	ScrapeID     string `json:"scrapeId"`
	Timestamp    int64  `json:"timestamp"`
	SearchVolume int64  `json:"searchVolume"`
	Active       bool   `json:"active"`
}

// Topic is one tracked trending term
type Topic struct {
	Query              string         `json:"query"`
	SearchVolume       int64          `json:"searchVolume"`
	IncreasePercentage float64        `json:"increasePercentage"`
	Categories         []Category     `json:"categories"`
	TrendBreakdown     []string       `json:"trendBreakdown"`
	Active             bool           `json:"active"`
	FirstSeen          int64          `json:"firstSeen"` // unix millis
	LastSeen           int64          `json:"lastSeen"`  // unix millis
	Embedding          []float32      `json:"embedding"`
	ScrapeHistory      []HistoryEntry `json:"scrapeHistory"`
}

// Key returns the normalized identity of the topic
func (t *Topic) Key() string {
	return NormalizeQuery(t.Query)
}

// HasEmbedding reports whether the embedding pipeline has filled the vector
func (t *Topic) HasEmbedding() bool {
	return len(t.Embedding) > 0
}

// ScrapeRecord is one ingest batch
type ScrapeRecord struct {
	ID         string `json:"id"`
	Timestamp  int64  `json:"timestamp"`
	TopicCount int    `json:"topicCount"`
}

// Meta holds document-wide bookkeeping
type Meta struct {
	LastScrape   *int64 `json:"lastScrape"`
	TotalScrapes int    `json:"totalScrapes"`
}

// Document is the whole database, persisted as a single JSON object
type Document struct {
	Version  int            `json:"version"`
	Revision int64          `json:"revision"` // incremented on every save
	Scrapes  []ScrapeRecord `json:"scrapes"`
	Topics   []*Topic       `json:"topics"`
	Meta     Meta           `json:"meta"`
}

// Observation is a freshly scraped view of a topic, as produced by the
// scrapers and accepted by the ingest endpoint
type Observation struct {
	Query              string     `json:"query"`
	SearchVolume       int64      `json:"searchVolume"`
	IncreasePercentage float64    `json:"increasePercentage"`
	Categories         []Category `json:"categories"`
	TrendBreakdown     []string   `json:"trendBreakdown"`
	Active             bool       `json:"active"`
}

// NormalizeQuery returns the case-insensitive identity key of a query
func NormalizeQuery(q string) string {
	return strings.ToLower(q)
}

// Millis converts a time to unix milliseconds
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis converts unix milliseconds to a UTC time
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
