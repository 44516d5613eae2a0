package retriever

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ctxgraph/internal/embeddings"
)

// mapEmbedder returns preset vectors per text and a fallback for the rest.
type mapEmbedder struct {
	dim      int
	vectors  map[string][]float32
	fallback []float32
	err      error

	mu         sync.Mutex
	calls      atomic.Int32
	batchCalls atomic.Int32
	lastBatch  []string
}

func newMapEmbedder(dim int) *mapEmbedder {
	fb := make([]float32, dim)
	fb[dim-1] = 1
	return &mapEmbedder{dim: dim, vectors: make(map[string][]float32), fallback: fb}
}

func (m *mapEmbedder) set(text string, vec ...float32) *mapEmbedder {
	m.vectors[text] = vec
	return m
}

func (m *mapEmbedder) lookup(text string) []float32 {
	if v, ok := m.vectors[text]; ok {
		return v
	}
	return m.fallback
}

func (m *mapEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, &embeddings.ProviderError{Provider: "map", Op: "embed", Err: m.err}
	}
	return m.lookup(text), nil
}

func (m *mapEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.batchCalls.Add(1)
	m.mu.Lock()
	m.lastBatch = append([]string(nil), texts...)
	m.mu.Unlock()
	if m.err != nil {
		return nil, &embeddings.ProviderError{Provider: "map", Op: "embed_batch", Err: m.err}
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = m.lookup(t)
	}
	return out, nil
}

func (m *mapEmbedder) Dimension() int { return m.dim }

var errProviderDown = errors.New("provider down")

func newTestRetriever(t *testing.T, e Embedder, mutate ...func(*Config)) *Retriever {
	t.Helper()
	cfg := DefaultConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}
	r, err := New(cfg, e)
	require.NoError(t, err)
	return r
}

// seedKnowledge builds three documents with orthogonal vectors and one edge
// a -> b of weight 0.8.
func seedKnowledge(t *testing.T) (*Retriever, *mapEmbedder) {
	t.Helper()
	e := newMapEmbedder(3).
		set("graph databases store relationships", 1, 0, 0).
		set("vector search with embeddings", 0, 1, 0).
		set("unrelated cooking notes", 0, 0, 1).
		set("graph", 1, 0, 0).
		set("nothing matches", 0, 1, 0)
	r := newTestRetriever(t, e)

	ctx := context.Background()
	require.NoError(t, r.Ingest(ctx, Document{ID: "a", Content: "graph databases store relationships", Source: "notes.md"}))
	require.NoError(t, r.Ingest(ctx, Document{ID: "b", Content: "vector search with embeddings"}))
	require.NoError(t, r.Ingest(ctx, Document{ID: "c", Content: "unrelated cooking notes"}))
	require.NoError(t, r.AddRelationship(ctx, "a", "b", "related_to", 0.8))
	return r, e
}

func resultIDs(rc *RetrievalContext) []string {
	ids := make([]string, len(rc.Results))
	for i, res := range rc.Results {
		ids[i] = res.NodeID
	}
	return ids
}
