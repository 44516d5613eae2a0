//go:build cgo

package embeddings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestFastEmbed(t *testing.T) *FastEmbedProvider {
	t.Helper()
	// Skip in short mode as this downloads models
	if testing.Short() {
		t.Skip("skipping FastEmbed test in short mode")
	}
	if newRuntimeInstaller(zap.NewNop()).locate() == "" {
		t.Skip("ONNX runtime not available, skipping FastEmbed test")
	}

	provider, err := NewFastEmbedProvider(FastEmbedConfig{
		Model:    "BAAI/bge-small-en-v1.5",
		CacheDir: t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Close() })
	return provider
}

func TestFastEmbedProvider_Embed(t *testing.T) {
	provider := newTestFastEmbed(t)
	ctx := context.Background()

	t.Run("single text", func(t *testing.T) {
		vec, err := provider.Embed(ctx, "Hello world")
		require.NoError(t, err)
		assert.Len(t, vec, 384)
	})

	t.Run("batch", func(t *testing.T) {
		vecs, err := provider.EmbedBatch(ctx, []string{"Hello world", "Test document", "Another text"})
		require.NoError(t, err)
		assert.Len(t, vecs, 3)
	})

	t.Run("empty input", func(t *testing.T) {
		_, err := provider.Embed(ctx, "")
		assert.ErrorIs(t, err, ErrEmptyInput)

		_, err = provider.EmbedBatch(ctx, nil)
		assert.ErrorIs(t, err, ErrProvider)
	})
}

func TestNewFastEmbedProvider_UnsupportedModel(t *testing.T) {
	_, err := NewFastEmbedProvider(FastEmbedConfig{Model: "unknown-model"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestModelMapping(t *testing.T) {
	tests := []struct {
		name        string
		modelName   string
		wantDim     int
		shouldExist bool
	}{
		{"BAAI format", "BAAI/bge-small-en-v1.5", 384, true},
		{"fastembed format", "fast-bge-small-en-v1.5", 384, true},
		{"base model", "BAAI/bge-base-en-v1.5", 768, true},
		{"MiniLM", "sentence-transformers/all-MiniLM-L6-v2", 384, true},
		{"unknown", "unknown-model", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, mapped := modelMapping[tt.modelName]
			dim, known := fastEmbedModelDimension(tt.modelName)
			assert.Equal(t, tt.shouldExist, mapped)
			assert.Equal(t, tt.shouldExist, known)
			assert.Equal(t, tt.wantDim, dim)
		})
	}
}
