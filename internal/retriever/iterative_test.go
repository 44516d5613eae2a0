package retriever

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ctxgraph/internal/embeddings"
)

func TestRefineQuery(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		content string
		want    string
		wantOK  bool
	}{
		{
			name:    "two new tokens",
			query:   "machine",
			content: "machine learning algorithms for classification",
			want:    "machine learning algorithms",
			wantOK:  true,
		},
		{
			name:    "case insensitive and lower-cased",
			query:   "Machine Learning",
			content: "MACHINE LEARNING Algorithms",
			want:    "Machine Learning algorithms",
			wantOK:  true,
		},
		{
			name:    "short tokens skipped",
			query:   "go",
			content: "a an the for",
			want:    "go",
			wantOK:  false,
		},
		{
			name:    "repeated content token added once",
			query:   "x",
			content: "graph graph graph",
			want:    "x graph",
			wantOK:  true,
		},
		{
			name:    "length counted in characters",
			query:   "machine",
			content: "été naïve 学习 机器学习模型",
			want:    "machine naïve 机器学习模型",
			wantOK:  true,
		},
		{
			name:    "nothing new",
			query:   "graph storage",
			content: "graph storage",
			want:    "graph storage",
			wantOK:  false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := RefineQuery(tt.query, tt.content)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestRetrieveIterative_RefinesFromTopResult(t *testing.T) {
	r := newTestRetriever(t, embeddings.NewHashProvider(64))
	ctx := context.Background()
	require.NoError(t, r.Ingest(ctx, Document{ID: "ml", Content: "machine learning algorithms for classification"}))

	contexts, err := r.RetrieveIterative(ctx, "machine", 3, StrategyGraphFirst)
	require.NoError(t, err)

	require.Len(t, contexts, 3)
	assert.Equal(t, "machine", contexts[0].Query)
	assert.Equal(t, "machine learning algorithms", contexts[1].Query)
	assert.Equal(t, "machine learning algorithms classification", contexts[2].Query)
	for _, rc := range contexts {
		require.NotEmpty(t, rc.Results)
		assert.Equal(t, "ml", rc.Results[0].NodeID)
	}
}

func TestRetrieveIterative_StopsWithoutNewTokens(t *testing.T) {
	r := newTestRetriever(t, embeddings.NewHashProvider(64))
	ctx := context.Background()
	require.NoError(t, r.Ingest(ctx, Document{ID: "s", Content: "graph"}))

	contexts, err := r.RetrieveIterative(ctx, "graph", 5, StrategyGraphFirst)
	require.NoError(t, err)
	assert.Len(t, contexts, 1)
}

func TestRetrieveIterative_StopsOnEmptyResults(t *testing.T) {
	r := newTestRetriever(t, embeddings.NewHashProvider(64))

	contexts, err := r.RetrieveIterative(context.Background(), "anything at all", 0, StrategyBalanced)
	require.NoError(t, err)
	require.Len(t, contexts, 1)
	assert.Empty(t, contexts[0].Results)
}

func TestRetrieveIterative_ReturnsPartialOnError(t *testing.T) {
	e := newMapEmbedder(2).
		set("alpha", 1, 0).
		set("Alpha Content Words", 1, 0)
	r := newTestRetriever(t, e)
	ctx := context.Background()
	require.NoError(t, r.Ingest(ctx, Document{ID: "a", Content: "Alpha Content Words"}))

	// The first query is in the embedding cache; the refined one is not.
	_, err := r.Retrieve(ctx, "alpha", 1, StrategyBalanced)
	require.NoError(t, err)
	e.err = errProviderDown

	contexts, err := r.RetrieveIterative(ctx, "alpha", 3, StrategyBalanced)
	require.Error(t, err)
	assert.ErrorIs(t, err, embeddings.ErrProvider)
	require.Len(t, contexts, 1)
	assert.Equal(t, "alpha", contexts[0].Query)
}
