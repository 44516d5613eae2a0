package retriever

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/fyrsmithlabs/ctxgraph/internal/embeddings"
)

func TestRetrieve_GraphFirst(t *testing.T) {
	r, _ := seedKnowledge(t)

	rc, err := r.Retrieve(context.Background(), "graph", 10, StrategyGraphFirst)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, resultIDs(rc))
	assert.InDelta(t, 0.5, rc.Results[0].Score, 1e-9, "seed boosted to 1.0 then weighted")
	assert.InDelta(t, 1.0, rc.Results[0].GraphScore, 1e-9)
	assert.InDelta(t, 0.4, rc.Results[1].Score, 1e-9)
	assert.InDelta(t, 0.8, rc.Results[1].GraphScore, 1e-9)
	assert.Equal(t, "notes.md", rc.Results[0].Source)
	assert.Equal(t, 2, rc.GraphNodesSearched)
	assert.Equal(t, 3, rc.DocumentsSearched, "supplementary vector search ran")
	assert.Equal(t, StrategyGraphFirst, rc.Strategy)
}

func TestRetrieve_GraphFirstFallsBackToVectors(t *testing.T) {
	r, _ := seedKnowledge(t)

	rc, err := r.Retrieve(context.Background(), "nothing matches", 10, StrategyGraphFirst)
	require.NoError(t, err)

	require.Equal(t, []string{"b"}, resultIDs(rc))
	assert.InDelta(t, 0.5, rc.Results[0].Score, 1e-9)
	assert.InDelta(t, 1.0, rc.Results[0].VectorScore, 1e-9)
	assert.Zero(t, rc.GraphNodesSearched)
}

func TestRetrieve_GraphFirstSupplementsWithVectors(t *testing.T) {
	e := newMapEmbedder(2).
		set("alpha keyword doc", 1, 0).
		set("beta plain doc", 0.9, 0.1).
		set("alpha", 1, 0)
	r := newTestRetriever(t, e)
	ctx := context.Background()
	require.NoError(t, r.Ingest(ctx, Document{ID: "k", Content: "alpha keyword doc"}))
	require.NoError(t, r.Ingest(ctx, Document{ID: "p", Content: "beta plain doc"}))

	rc, err := r.Retrieve(ctx, "alpha", 5, StrategyGraphFirst)
	require.NoError(t, err)

	require.Equal(t, []string{"k", "p"}, resultIDs(rc))
	assert.Zero(t, rc.Results[1].GraphScore)
	assert.Greater(t, rc.Results[1].VectorScore, 0.9)
}

func TestRetrieve_VectorFirstAnnotatesNeighbors(t *testing.T) {
	r, _ := seedKnowledge(t)

	rc, err := r.Retrieve(context.Background(), "graph", 10, StrategyVectorFirst)
	require.NoError(t, err)

	require.Equal(t, []string{"a"}, resultIDs(rc))
	assert.InDelta(t, 0.5, rc.Results[0].Score, 1e-9)
	assert.Equal(t, []string{"b"}, rc.Results[0].Metadata["graph_neighbors"])
	assert.Equal(t, 3, rc.DocumentsSearched)
}

func TestRetrieve_Balanced(t *testing.T) {
	r, _ := seedKnowledge(t)

	rc, err := r.Retrieve(context.Background(), "graph", 10, StrategyBalanced)
	require.NoError(t, err)

	require.Equal(t, []string{"a", "b"}, resultIDs(rc))
	assert.InDelta(t, 1.0, rc.Results[0].Score, 1e-9)
	assert.InDelta(t, 1.0, rc.Results[0].VectorScore, 1e-9)
	assert.InDelta(t, 0.4, rc.Results[1].Score, 1e-9)
}

func TestRetrieve_Adaptive(t *testing.T) {
	r, _ := seedKnowledge(t)

	rc, err := r.Retrieve(context.Background(), "graph", 10, StrategyAdaptive)
	require.NoError(t, err)

	require.Equal(t, []string{"a", "b"}, resultIDs(rc))
	assert.InDelta(t, 0.56, rc.Results[1].Score, 1e-9, "short queries weight the graph at 0.7")
}

func TestFuse_BothSides(t *testing.T) {
	r := newTestRetriever(t, newMapEmbedder(2))
	w := weights{graph: 0.5, vector: 0.5}

	results := r.fuseLocked(
		[]graphHit{{id: "n", score: 0.8}, {id: "g", score: 0.6}},
		[]vectorHit{{id: "n", similarity: 0.6}, {id: "v", similarity: 0.9}},
		w,
	)

	require.Len(t, results, 3)
	assert.Equal(t, "n", results[0].NodeID)
	assert.InDelta(t, 0.7, results[0].Score, 1e-9)
	assert.InDelta(t, 0.8, results[0].GraphScore, 1e-9)
	assert.InDelta(t, 0.6, results[0].VectorScore, 1e-9)
	assert.InDelta(t, 0.3, results[1].Score, 1e-9)
	assert.InDelta(t, 0.45, results[2].Score, 1e-9)
}

func TestAdaptiveWeights(t *testing.T) {
	tests := []struct {
		query string
		want  weights
	}{
		{"one", weights{graph: 0.7, vector: 0.3}},
		{"two words", weights{graph: 0.7, vector: 0.3}},
		{"exactly three words", weights{graph: 0.5, vector: 0.5}},
		{strings.Repeat("w ", 10), weights{graph: 0.5, vector: 0.5}},
		{strings.Repeat("w ", 11), weights{graph: 0.3, vector: 0.7}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, adaptiveWeights(tt.query))
		})
	}
}

func TestFindSeeds_RankedByDistinctTokens(t *testing.T) {
	e := newMapEmbedder(2)
	r := newTestRetriever(t, e, func(c *Config) { c.MaxSeeds = 2 })
	ctx := context.Background()
	require.NoError(t, r.Ingest(ctx, Document{ID: "one", Content: "Graph only"}))
	require.NoError(t, r.Ingest(ctx, Document{ID: "two", Content: "graph and vector"}))
	require.NoError(t, r.Ingest(ctx, Document{ID: "three", Content: "another graph"}))
	require.NoError(t, r.Ingest(ctx, Document{ID: "none", Content: "cooking"}))

	assert.Equal(t, []string{"two", "one"}, r.findSeedsLocked("GRAPH vector graph"))
	assert.Empty(t, r.findSeedsLocked("   "))
}

func TestRetrieve_CacheHitReturnsSameContext(t *testing.T) {
	r, e := seedKnowledge(t)
	ctx := context.Background()

	first, err := r.Retrieve(ctx, "graph", 5, StrategyBalanced)
	require.NoError(t, err)
	calls := e.calls.Load()

	second, err := r.Retrieve(ctx, "graph", 5, StrategyBalanced)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, calls, e.calls.Load())

	other, err := r.Retrieve(ctx, "graph", 5, StrategyVectorFirst)
	require.NoError(t, err)
	assert.NotSame(t, first, other, "strategy is part of the cache key")
	assert.Equal(t, 2, r.Stats().ResultCacheSize)
}

func TestRetrieve_CacheExpires(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	e := newMapEmbedder(2)
	r, err := New(DefaultConfig(), e, WithClock(clock))
	require.NoError(t, err)
	require.NoError(t, r.Ingest(context.Background(), Document{ID: "a", Content: "alpha"}))

	first, err := r.Retrieve(context.Background(), "alpha", 5, StrategyBalanced)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	second, err := r.Retrieve(context.Background(), "alpha", 5, StrategyBalanced)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestRetrieve_ResultFromReplacedStateNotCached(t *testing.T) {
	tests := []struct {
		name    string
		replace func(t *testing.T, r *Retriever)
	}{
		{
			name:    "clear",
			replace: func(_ *testing.T, r *Retriever) { r.Clear() },
		},
		{
			name: "restore",
			replace: func(t *testing.T, r *Retriever) {
				require.NoError(t, r.Restore(context.Background(), Snapshot{Dimension: 3}))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := seedKnowledge(t)
			ctx := context.Background()

			stale, err := r.Retrieve(ctx, "graph", 5, StrategyBalanced)
			require.NoError(t, err)
			key := resultKey("graph", 5, StrategyBalanced)

			r.mu.RLock()
			gen := r.generation
			r.mu.RUnlock()

			tt.replace(t, r)
			assert.False(t, r.cacheResult(key, stale, gen))
			assert.Zero(t, r.Stats().ResultCacheSize)

			fresh, err := r.Retrieve(ctx, "graph", 5, StrategyBalanced)
			require.NoError(t, err)
			assert.NotSame(t, stale, fresh)
			assert.Empty(t, fresh.Results)
			assert.True(t, r.cacheResult(key, fresh, r.generation))
		})
	}
}

func TestRetrieve_Validation(t *testing.T) {
	r, _ := seedKnowledge(t)
	ctx := context.Background()

	_, err := r.Retrieve(ctx, "  ", 5, StrategyBalanced)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = r.Retrieve(ctx, "graph", 5, "sideways")
	assert.ErrorIs(t, err, ErrInvalidInput)

	rc, err := r.Retrieve(ctx, "graph", 0, "")
	require.NoError(t, err)
	assert.Equal(t, StrategyBalanced, rc.Strategy, "empty strategy means the default")
}

func TestRetrieve_TopKTruncates(t *testing.T) {
	r, _ := seedKnowledge(t)

	rc, err := r.Retrieve(context.Background(), "graph", 1, StrategyBalanced)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, resultIDs(rc))
}

func TestRetrieve_Cancelled(t *testing.T) {
	r, e := seedKnowledge(t)
	calls := e.calls.Load()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Retrieve(ctx, "a brand new query", 5, StrategyBalanced)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, calls, e.calls.Load(), "provider is not called after cancellation")
	assert.Equal(t, 0, r.Stats().ResultCacheSize)
}

func TestRetrieve_ProviderError(t *testing.T) {
	r, e := seedKnowledge(t)
	e.err = errProviderDown

	_, err := r.Retrieve(context.Background(), "never embedded", 5, StrategyBalanced)
	assert.ErrorIs(t, err, embeddings.ErrProvider)
}

func TestRetrieve_ScoresAreBounded(t *testing.T) {
	r := newTestRetriever(t, embeddings.NewHashProvider(64), func(c *Config) {
		c.GraphWeight, c.VectorWeight = 1, 1
	})
	ctx := context.Background()
	require.NoError(t, r.Ingest(ctx, Document{ID: "x", Content: "distributed graph storage engine"}))
	require.NoError(t, r.Ingest(ctx, Document{ID: "y", Content: "graph engine internals"}))
	require.NoError(t, r.AddRelationship(ctx, "x", "y", "references", 1))

	rc, err := r.Retrieve(ctx, "distributed graph storage engine", 5, StrategyBalanced)
	require.NoError(t, err)
	require.NotEmpty(t, rc.Results)
	for _, res := range rc.Results {
		assert.GreaterOrEqual(t, res.Score, 0.0)
		assert.LessOrEqual(t, res.Score, 1.0)
	}
	for i := 1; i < len(rc.Results); i++ {
		assert.GreaterOrEqual(t, rc.Results[i-1].Score, rc.Results[i].Score)
	}
}

func TestRetrieve_EmitsSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	r, _ := seedKnowledge(t)
	_, err := r.Retrieve(context.Background(), "graph", 5, StrategyBalanced)
	require.NoError(t, err)

	var names []string
	for _, s := range sr.Ended() {
		names = append(names, s.Name())
	}
	assert.Contains(t, names, "retriever.Ingest")
	assert.Contains(t, names, "retriever.Retrieve")
}
