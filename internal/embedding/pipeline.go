package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/nowtrending/nowtrending/internal/logging"
	"github.com/nowtrending/nowtrending/internal/trends"
)

// DefaultBatchSize is the number of texts sent per provider call
const DefaultBatchSize = 100

// maxTextLen keeps composed texts well under provider token limits
const maxTextLen = 8000

// Store is the document store as seen by the pipeline
type Store interface {
	Load(ctx context.Context) *trends.Document
	Update(ctx context.Context, fn func(doc *trends.Document) error) (*trends.Document, error)
}

// PipelineOptions tunes a Pipeline
type PipelineOptions struct {
	BatchSize int
	// RateLimit caps provider calls per second; 0 means unlimited
	RateLimit float64
	Logger    *slog.Logger
}

// RunResult summarizes one pipeline run
type RunResult struct {
	Pending       int `json:"pending"`
	Batches       int `json:"batches"`
	FailedBatches int `json:"failedBatches"`
	Embedded      int `json:"embedded"`
}

// Pipeline fills in missing topic embeddings
type Pipeline struct {
	provider  Provider
	store     Store
	batchSize int
	limiter   *rate.Limiter
	log       *slog.Logger
}

// NewPipeline creates an embedding pipeline
func NewPipeline(provider Provider, store Store, opts PipelineOptions) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return &Pipeline{
		provider:  provider,
		store:     store,
		batchSize: opts.BatchSize,
		limiter:   limiter,
		log:       logging.OrDefault(opts.Logger).With("component", "embedding", "provider", provider.Name()),
	}
}

// PendingTopics returns the topics that have no embedding yet
func (p *Pipeline) PendingTopics(ctx context.Context) []*trends.Topic {
	return p.store.Load(ctx).PendingEmbedding()
}

// UpdateEmbeddings stores vectors keyed by topic query and returns how many
// topics were updated. Storage write failures are returned.
func (p *Pipeline) UpdateEmbeddings(ctx context.Context, vectors map[string][]float32) (int, error) {
	updated := 0
	_, err := p.store.Update(ctx, func(doc *trends.Document) error {
		updated = doc.ApplyEmbeddings(vectors)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("update embeddings: %w", err)
	}
	return updated, nil
}

// Run embeds every pending topic in batches. A failed batch is logged and
// skipped; its topics stay pending for the next run. Vectors from the
// successful batches are saved in a single write at the end.
func (p *Pipeline) Run(ctx context.Context) (RunResult, error) {
	pending := p.PendingTopics(ctx)
	res := RunResult{Pending: len(pending)}
	if len(pending) == 0 {
		p.log.Info("all topics already have embeddings")
		return res, nil
	}

	p.log.Info("generating embeddings", "topics", len(pending), "batch_size", p.batchSize)

	vectors := make(map[string][]float32, len(pending))
	for start := 0; start < len(pending); start += p.batchSize {
		batch := pending[start:min(start+p.batchSize, len(pending))]
		res.Batches++
		n := res.Batches

		if err := p.limiter.Wait(ctx); err != nil {
			p.log.Warn("embedding run interrupted", "batch", n, "error", err)
			res.FailedBatches++
			break
		}

		texts := make([]string, len(batch))
		for i, t := range batch {
			texts[i] = composeText(t)
		}

		vecs, err := p.provider.EmbedBatch(ctx, texts)
		if err != nil {
			p.log.Error("embedding batch failed", "batch", n, "size", len(batch), "error", err)
			res.FailedBatches++
			continue
		}
		if len(vecs) != len(batch) {
			p.log.Error("embedding batch returned wrong vector count", "batch", n, "want", len(batch), "got", len(vecs))
			res.FailedBatches++
			continue
		}

		for i, t := range batch {
			if len(vecs[i]) > 0 {
				vectors[t.Query] = vecs[i]
			}
		}
		p.log.Debug("embedding batch done", "batch", n, "size", len(batch))
	}

	if len(vectors) == 0 {
		return res, nil
	}

	updated, err := p.UpdateEmbeddings(ctx, vectors)
	if err != nil {
		return res, err
	}
	res.Embedded = updated
	p.log.Info("embeddings saved", "topics", updated, "failed_batches", res.FailedBatches)
	return res, nil
}

// composeText builds the string embedded for a topic: the query, up to five
// related terms and the category names.
func composeText(t *trends.Topic) string {
	parts := []string{t.Query}
	if len(t.TrendBreakdown) > 0 {
		related := t.TrendBreakdown[:min(5, len(t.TrendBreakdown))]
		parts = append(parts, "Related: "+strings.Join(related, ", "))
	}
	if len(t.Categories) > 0 {
		names := make([]string, len(t.Categories))
		for i, c := range t.Categories {
			names[i] = c.Name
		}
		parts = append(parts, "Category: "+strings.Join(names, ", "))
	}

	text := strings.Join(parts, ". ")
	if len(text) > maxTextLen {
		// cut on a rune boundary so the provider gets valid UTF-8
		cut := maxTextLen
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return text
}
