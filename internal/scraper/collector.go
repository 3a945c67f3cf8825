package scraper

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nowtrending/nowtrending/internal/config"
	"github.com/nowtrending/nowtrending/internal/logging"
	"github.com/nowtrending/nowtrending/internal/trends"
)

// Report describes what one source contributed to a collection
type Report struct {
	Name  string
	Count int
	Err   error
}

// Result is the merged output of all sources
type Result struct {
	Topics  []trends.Observation
	Reports []Report
}

// Counts maps source name to its reported count
func (r *Result) Counts() map[string]int {
	out := make(map[string]int, len(r.Reports))
	for _, rep := range r.Reports {
		out[rep.Name] = rep.Count
	}
	return out
}

// Collector queries all sources concurrently and merges their topics.
// Primary sources are taken in order and in full. Fallback sources only add
// topics no primary source returned, and their count reflects only those.
type Collector struct {
	primary  []Source
	fallback []Source
	log      *slog.Logger
}

// NewCollector creates a collector
func NewCollector(primary, fallback []Source, logger *slog.Logger) *Collector {
	return &Collector{
		primary:  primary,
		fallback: fallback,
		log:      logging.OrDefault(logger).With("component", "scraper"),
	}
}

// NewDefaultCollector wires SerpApi and Browserless as primary sources and
// the RSS feed as fallback
func NewDefaultCollector(cfg config.ScraperConfig, logger *slog.Logger) *Collector {
	client := NewClient(time.Duration(cfg.Timeout)*time.Second, cfg.RateLimit)
	return NewCollector(
		[]Source{
			NewSerpAPISource(client, cfg.SerpAPIURL, cfg.SerpAPIKey, cfg.Geo),
			NewBrowserlessSource(client, cfg.BrowserlessURL, cfg.BrowserlessKey, cfg.Geo),
		},
		[]Source{
			NewRSSSource(client, cfg.RSSURL, cfg.Geo),
		},
		logger,
	)
}

// Collect fetches every source. A failing source is logged and contributes
// nothing. Topics are de-duplicated on the lowercased query, keeping the
// first occurrence. ErrNoTopics is returned when nothing was collected.
func (c *Collector) Collect(ctx context.Context) (*Result, error) {
	sources := append(append([]Source{}, c.primary...), c.fallback...)
	fetched := make([][]trends.Observation, len(sources))
	errs := make([]error, len(sources))

	var g errgroup.Group
	for i, src := range sources {
		g.Go(func() error {
			start := time.Now()
			topics, err := src.Fetch(ctx)
			switch {
			case errors.Is(err, ErrSourceDisabled):
				c.log.Debug("source disabled", "source", src.Name())
			case err != nil:
				c.log.Error("source failed", "source", src.Name(), "error", err)
			default:
				c.log.Info("source fetched", "source", src.Name(), "topics", len(topics), "took", time.Since(start))
				fetched[i] = topics
			}
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{}
	seen := make(map[string]bool)
	add := func(obs trends.Observation) {
		key := trends.NormalizeQuery(obs.Query)
		if seen[key] {
			return
		}
		seen[key] = true
		res.Topics = append(res.Topics, obs)
	}

	for i, src := range c.primary {
		res.Reports = append(res.Reports, Report{Name: src.Name(), Count: len(fetched[i]), Err: errs[i]})
		for _, obs := range fetched[i] {
			add(obs)
		}
	}

	fromPrimary := maps.Clone(seen)
	for j, src := range c.fallback {
		i := len(c.primary) + j
		rep := Report{Name: src.Name(), Err: errs[i]}
		for _, obs := range fetched[i] {
			if fromPrimary[trends.NormalizeQuery(obs.Query)] {
				continue
			}
			rep.Count++
			add(obs)
		}
		res.Reports = append(res.Reports, rep)
	}

	if len(res.Topics) == 0 {
		return res, ErrNoTopics
	}
	return res, nil
}
