package search

import (
	"context"
	"fmt"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/nowtrending/nowtrending/internal/trends"
)

// Match is a topic scored against a query vector
type Match struct {
	Topic      *trends.Topic
	Similarity float64
}

// Strategy finds the topics closest to a query vector. Implementations
// return at most opts.Limit matches, none below opts.MinSimilarity, ordered
// by similarity descending with ties broken by lastSeen descending and then
// by normalized query.
type Strategy interface {
	Name() string
	Search(ctx context.Context, query []float32, topics []*trends.Topic, opts Options) ([]Match, error)
}

// NewStrategy returns the strategy registered under name. An empty name
// means LinearScan; workers only applies to ParallelScan.
func NewStrategy(name string, workers int) (Strategy, error) {
	switch name {
	case "", "linear":
		return LinearScan{}, nil
	case "parallel":
		return ParallelScan{Workers: workers}, nil
	default:
		return nil, fmt.Errorf("unknown search strategy: %s", name)
	}
}

// LinearScan scores every embedded topic in turn
type LinearScan struct{}

func (LinearScan) Name() string { return "linear" }

func (LinearScan) Search(ctx context.Context, query []float32, topics []*trends.Topic, opts Options) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return rank(score(query, topics, opts.MinSimilarity), opts.Limit), nil
}

// ParallelScan splits the scan across goroutines. Worth it only for large
// documents; results are identical to LinearScan.
type ParallelScan struct {
	// Workers defaults to GOMAXPROCS
	Workers int
}

func (ParallelScan) Name() string { return "parallel" }

func (p ParallelScan) Search(ctx context.Context, query []float32, topics []*trends.Topic, opts Options) ([]Match, error) {
	workers := p.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(topics) {
		workers = len(topics)
	}
	if workers <= 1 {
		return LinearScan{}.Search(ctx, query, topics, opts)
	}

	parts := make([][]Match, workers)
	size := (len(topics) + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		lo := w * size
		hi := min(lo+size, len(topics))
		if lo >= hi {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			parts[w] = score(query, topics[lo:hi], opts.MinSimilarity)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []Match
	for _, part := range parts {
		all = append(all, part...)
	}
	return rank(all, opts.Limit), nil
}

// score keeps embedded topics whose similarity is at least floor
func score(query []float32, topics []*trends.Topic, floor float64) []Match {
	var out []Match
	for _, t := range topics {
		if !t.HasEmbedding() {
			continue
		}
		sim := CosineSimilarity(query, t.Embedding)
		if sim < floor {
			continue
		}
		out = append(out, Match{Topic: t, Similarity: sim})
	}
	return out
}

func rank(matches []Match, limit int) []Match {
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if a.Topic.LastSeen != b.Topic.LastSeen {
			return a.Topic.LastSeen > b.Topic.LastSeen
		}
		return a.Topic.Key() < b.Topic.Key()
	})
	if limit >= 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}
