package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nowtrending/nowtrending/internal/trends"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type staticLoader struct{ doc *trends.Document }

func (s staticLoader) Load(context.Context) *trends.Document { return s.doc }

type fakeEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	f.calls++
	return f.vec, f.err
}

func topic(query string, lastSeen time.Time, vec ...float32) *trends.Topic {
	return &trends.Topic{Query: query, LastSeen: trends.Millis(lastSeen), FirstSeen: trends.Millis(lastSeen), Embedding: vec}
}

func docWith(topics ...*trends.Topic) *trends.Document {
	doc := trends.NewDocument()
	doc.Topics = topics
	return doc
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestCosineSimilarity_Symmetric(t *testing.T) {
	pairs := [][2][]float32{
		{{0.3, -1.2, 4}, {2, 0.5, -0.1}},
		{{1, 1}, {0.9, 0.436}},
		{{5}, {-2}},
	}
	for _, p := range pairs {
		assert.InDelta(t, CosineSimilarity(p[0], p[1]), CosineSimilarity(p[1], p[0]), 1e-12)
		assert.InDelta(t, 1.0, CosineSimilarity(p[0], p[0]), 1e-9)
	}
}

func TestEngine_Example(t *testing.T) {
	doc := docWith(
		topic("A", now, 1, 0),
		topic("B", now, 0.9, 0.436),
		topic("C", now, 0, 1),
	)
	engine := NewEngine(staticLoader{doc}, nil, func() time.Time { return now })

	results, err := engine.Search(context.Background(), []float32{1, 0}, Options{Limit: 10, MinSimilarity: 0.5})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "A", results[0].Query)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-9)
	assert.Equal(t, "B", results[1].Query)
	assert.InDelta(t, 0.9, results[1].Similarity, 0.01)
}

func TestEngine_SkipsTopicsWithoutEmbedding(t *testing.T) {
	doc := docWith(topic("pending", now), topic("ready", now, 1, 0))
	engine := NewEngine(staticLoader{doc}, nil, func() time.Time { return now })

	results, err := engine.Search(context.Background(), []float32{1, 0}, Options{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "ready", results[0].Query)
}

func TestEngine_LimitFloorAndOrder(t *testing.T) {
	var topics []*trends.Topic
	for i := 0; i < 50; i++ {
		angle := float64(i) * math.Pi / 100
		topics = append(topics, topic(fmt.Sprintf("t%02d", i), now, float32(math.Cos(angle)), float32(math.Sin(angle))))
	}
	engine := NewEngine(staticLoader{docWith(topics...)}, nil, func() time.Time { return now })

	results, err := engine.Search(context.Background(), []float32{1, 0}, Options{Limit: 7, MinSimilarity: 0.3})
	require.NoError(t, err)
	assert.Len(t, results, 7)
	for i, r := range results {
		assert.GreaterOrEqual(t, r.Similarity, 0.3)
		if i > 0 {
			assert.GreaterOrEqual(t, results[i-1].Similarity, r.Similarity)
		}
	}
	assert.Equal(t, "t00", results[0].Query)
}

func TestEngine_Defaults(t *testing.T) {
	var topics []*trends.Topic
	for i := 0; i < 30; i++ {
		topics = append(topics, topic(fmt.Sprintf("same%02d", i), now, 1, 0))
	}
	topics = append(topics, topic("far", now, 0.2, 1))
	engine := NewEngine(staticLoader{docWith(topics...)}, nil, func() time.Time { return now })

	results, err := engine.Search(context.Background(), []float32{1, 0}, DefaultOptions())
	require.NoError(t, err)
	assert.Len(t, results, DefaultLimit)
	for _, r := range results {
		assert.NotEqual(t, "far", r.Query)
	}
}

func TestEngine_ZeroFloorKeepsWeakMatches(t *testing.T) {
	doc := docWith(
		topic("A", now, 1, 0),
		topic("W", now, 0.1, 0.995),
	)
	engine := NewEngine(staticLoader{doc}, nil, func() time.Time { return now })

	results, err := engine.Search(context.Background(), []float32{1, 0}, Options{Limit: 10, MinSimilarity: 0})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "W", results[1].Query)
	assert.InDelta(t, 0.1, results[1].Similarity, 0.01)

	results, err = engine.Search(context.Background(), []float32{1, 0}, Options{Limit: 10, MinSimilarity: DefaultMinSimilarity})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "A", results[0].Query)
}

func TestEngine_TieBreak(t *testing.T) {
	doc := docWith(
		topic("beta", now.Add(-48*time.Hour), 1, 0),
		topic("Alpha", now.Add(-48*time.Hour), 1, 0),
		topic("newest", now.Add(-time.Hour), 1, 0),
	)
	engine := NewEngine(staticLoader{doc}, nil, func() time.Time { return now })

	results, err := engine.Search(context.Background(), []float32{1, 0}, Options{})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"newest", "Alpha", "beta"}, []string{results[0].Query, results[1].Query, results[2].Query})
	assert.Equal(t, 0, results[0].DaysAgo)
	assert.Equal(t, 2, results[1].DaysAgo)
}

func TestParallelScan_MatchesLinear(t *testing.T) {
	var topics []*trends.Topic
	for i := 0; i < 200; i++ {
		topics = append(topics, topic(fmt.Sprintf("q%03d", i), now.Add(-time.Duration(i)*time.Minute),
			float32(i%7), float32(i%11), float32(i%3)))
	}
	query := []float32{3, 1, 2}
	opts := Options{Limit: 25, MinSimilarity: 0.1}

	want, err := LinearScan{}.Search(context.Background(), query, topics, opts)
	require.NoError(t, err)
	got, err := ParallelScan{Workers: 4}.Search(context.Background(), query, topics, opts)
	require.NoError(t, err)

	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Topic.Query, got[i].Topic.Query)
	}
}

func TestParallelScan_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	topics := []*trends.Topic{topic("a", now, 1), topic("b", now, 1), topic("c", now, 1)}
	_, err := ParallelScan{Workers: 2}.Search(ctx, []float32{1}, topics, Options{Limit: 5})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueryService(t *testing.T) {
	doc := docWith(topic("AI", now, 1, 0))
	engine := NewEngine(staticLoader{doc}, nil, func() time.Time { return now })

	emb := &fakeEmbedder{vec: []float32{1, 0}}
	svc := NewQueryService(emb, engine, nil)

	_, err := svc.Search(context.Background(), "   ", Options{})
	assert.ErrorIs(t, err, ErrEmptyQuery)
	assert.Equal(t, 0, emb.calls)

	results, err := svc.Search(context.Background(), "artificial intelligence", Options{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "AI", results[0].Query)

	emb.err = errors.New("provider down")
	_, err = svc.Search(context.Background(), "anything", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider down")
}

func TestNewStrategy(t *testing.T) {
	tests := []struct {
		name string
		want Strategy
	}{
		{"", LinearScan{}},
		{"linear", LinearScan{}},
		{"parallel", ParallelScan{Workers: 3}},
	}
	for _, tt := range tests {
		got, err := NewStrategy(tt.name, 3)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := NewStrategy("quantum", 0)
	assert.ErrorContains(t, err, "unknown search strategy")
}
