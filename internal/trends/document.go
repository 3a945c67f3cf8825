package trends

import (
	"math"
	"sort"
	"time"
)

// NewDocument returns an empty document as created on first access
func NewDocument() *Document {
	return &Document{
		Version: SchemaVersion,
		Scrapes: []ScrapeRecord{},
		Topics:  []*Topic{},
	}
}

// Normalize repairs a decoded document: nil collections become empty and
// topics sharing a normalized query are collapsed, keeping the first one.
func (d *Document) Normalize() {
	if d.Version == 0 {
		d.Version = SchemaVersion
	}
	if d.Scrapes == nil {
		d.Scrapes = []ScrapeRecord{}
	}
	if d.Topics == nil {
		d.Topics = []*Topic{}
	}

	seen := make(map[string]bool, len(d.Topics))
	kept := d.Topics[:0]
	for _, t := range d.Topics {
		if t == nil || seen[t.Key()] {
			continue
		}
		seen[t.Key()] = true
		if t.Categories == nil {
			t.Categories = []Category{}
		}
		if t.TrendBreakdown == nil {
			t.TrendBreakdown = []string{}
		}
		if t.ScrapeHistory == nil {
			t.ScrapeHistory = []HistoryEntry{}
		}
		kept = append(kept, t)
	}
	d.Topics = kept
}

// Clone returns a deep copy, so callers can mutate without touching caches
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := &Document{
		Version:  d.Version,
		Revision: d.Revision,
		Scrapes:  append([]ScrapeRecord{}, d.Scrapes...),
		Topics:   make([]*Topic, 0, len(d.Topics)),
		Meta:     Meta{TotalScrapes: d.Meta.TotalScrapes},
	}
	if d.Meta.LastScrape != nil {
		ls := *d.Meta.LastScrape
		c.Meta.LastScrape = &ls
	}
	for _, t := range d.Topics {
		c.Topics = append(c.Topics, t.Clone())
	}
	return c
}

// Clone returns a deep copy of the topic
func (t *Topic) Clone() *Topic {
	c := *t
	c.Categories = append([]Category{}, t.Categories...)
	c.TrendBreakdown = append([]string{}, t.TrendBreakdown...)
	c.ScrapeHistory = append([]HistoryEntry{}, t.ScrapeHistory...)
	if t.Embedding != nil {
		c.Embedding = append([]float32{}, t.Embedding...)
	}
	return &c
}

// Index maps normalized queries to topics
func (d *Document) Index() map[string]*Topic {
	idx := make(map[string]*Topic, len(d.Topics))
	for _, t := range d.Topics {
		if _, ok := idx[t.Key()]; !ok {
			idx[t.Key()] = t
		}
	}
	return idx
}

// Find returns the topic matching query case-insensitively
func (d *Document) Find(query string) *Topic {
	key := NormalizeQuery(query)
	for _, t := range d.Topics {
		if t.Key() == key {
			return t
		}
	}
	return nil
}

// PendingEmbedding returns the topics that have no embedding yet
func (d *Document) PendingEmbedding() []*Topic {
	var pending []*Topic
	for _, t := range d.Topics {
		if !t.HasEmbedding() {
			pending = append(pending, t)
		}
	}
	return pending
}

// ApplyEmbeddings replaces the embedding of every topic whose query matches a
// key of vectors (case-insensitively) and returns how many were set.
func (d *Document) ApplyEmbeddings(vectors map[string][]float32) int {
	if len(vectors) == 0 {
		return 0
	}
	byKey := make(map[string][]float32, len(vectors))
	for q, v := range vectors {
		if len(v) == 0 {
			continue
		}
		byKey[NormalizeQuery(q)] = v
	}

	updated := 0
	for _, t := range d.Topics {
		if v, ok := byKey[t.Key()]; ok {
			t.Embedding = append([]float32(nil), v...)
			updated++
		}
	}
	return updated
}

// TrendingTopic is a topic as listed on the trending page
type TrendingTopic struct {
	Query              string     `json:"query"`
	SearchVolume       int64      `json:"searchVolume"`
	IncreasePercentage float64    `json:"increasePercentage"`
	Categories         []Category `json:"categories"`
	TrendBreakdown     []string   `json:"trendBreakdown"`
	FirstSeen          int64      `json:"firstSeen"`
	LastSeen           int64      `json:"lastSeen"`
	Active             bool       `json:"active"`
	HoursAgo           int        `json:"hoursAgo"`
}

// Trending lists topics seen within window, highest search volume first.
// Ties fall back to the most recently seen, then to the query.
func (d *Document) Trending(now time.Time, window time.Duration, limit int) []TrendingTopic {
	cutoff := Millis(now.Add(-window))
	nowMs := Millis(now)

	var recent []*Topic
	for _, t := range d.Topics {
		if t.LastSeen > cutoff {
			recent = append(recent, t)
		}
	}

	sort.SliceStable(recent, func(i, j int) bool {
		a, b := recent[i], recent[j]
		if a.SearchVolume != b.SearchVolume {
			return a.SearchVolume > b.SearchVolume
		}
		if a.LastSeen != b.LastSeen {
			return a.LastSeen > b.LastSeen
		}
		return a.Key() < b.Key()
	})

	if limit >= 0 && len(recent) > limit {
		recent = recent[:limit]
	}

	out := make([]TrendingTopic, 0, len(recent))
	for _, t := range recent {
		out = append(out, TrendingTopic{
			Query:              t.Query,
			SearchVolume:       t.SearchVolume,
			IncreasePercentage: t.IncreasePercentage,
			Categories:         t.Categories,
			TrendBreakdown:     t.TrendBreakdown,
			FirstSeen:          t.FirstSeen,
			LastSeen:           t.LastSeen,
			Active:             t.Active,
			HoursAgo:           int(math.Round(float64(nowMs-t.LastSeen) / float64(time.Hour.Milliseconds()))),
		})
	}
	return out
}

// Stats summarizes the document
type Stats struct {
	TotalTopics          int     `json:"totalTopics"`
	TotalScrapes         int     `json:"totalScrapes"`
	TopicsWithEmbeddings int     `json:"topicsWithEmbeddings"`
	LastScrape           *string `json:"lastScrape"`
	OldestTopic          *string `json:"oldestTopic"`
}

// Stats computes the summary shown by the stats endpoint
func (d *Document) Stats() Stats {
	s := Stats{
		TotalTopics:  len(d.Topics),
		TotalScrapes: len(d.Scrapes),
	}

	if d.Meta.LastScrape != nil {
		ts := FromMillis(*d.Meta.LastScrape).Format(time.RFC3339Nano)
		s.LastScrape = &ts
	}

	var oldest int64
	for i, t := range d.Topics {
		if t.HasEmbedding() {
			s.TopicsWithEmbeddings++
		}
		if i == 0 || t.FirstSeen < oldest {
			oldest = t.FirstSeen
		}
	}
	if len(d.Topics) > 0 {
		ts := FromMillis(oldest).Format(time.RFC3339Nano)
		s.OldestTopic = &ts
	}
	return s
}
