package embeddings

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestHashProvider_Deterministic(t *testing.T) {
	p := NewHashProvider(0)
	assert.Equal(t, DefaultHashDimension, p.Dimension())

	a, err := p.Embed(context.Background(), "Machine learning algorithms")
	require.NoError(t, err)
	b, err := NewHashProvider(0).Embed(context.Background(), "machine   LEARNING algorithms")
	require.NoError(t, err)

	assert.Equal(t, a, b, "case and spacing do not matter")
	assert.InDelta(t, 1.0, cosine(a, a), 1e-6)
}

func TestHashProvider_SharedTokensRaiseSimilarity(t *testing.T) {
	p := NewHashProvider(512)
	ctx := context.Background()

	query, _ := p.Embed(ctx, "graph traversal algorithms")
	related, _ := p.Embed(ctx, "weighted graph traversal with decay")
	unrelated, _ := p.Embed(ctx, "banana bread recipe")

	assert.Greater(t, cosine(query, related), cosine(query, unrelated))
}

func TestHashProvider_EmptyInput(t *testing.T) {
	p := NewHashProvider(16)

	_, err := p.Embed(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrProvider)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = p.EmbedBatch(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestHashProvider_Batch(t *testing.T) {
	p := NewHashProvider(32)

	vecs, err := p.EmbedBatch(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)

	single, _ := p.Embed(context.Background(), "beta")
	assert.Equal(t, single, vecs[1])
}

func TestHashProvider_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewHashProvider(8).Embed(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrProvider)
}
