package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// TextKey returns the cache key for raw text: the hex SHA-256 of its bytes.
// Identical text always maps to the same key.
func TextKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// EmbeddingCache stores embedding vectors keyed by the text they were
// computed from.
type EmbeddingCache struct {
	cache *Cache[[]float32]
}

// NewEmbeddingCache creates an embedding cache. Embeddings never expire;
// capacity eviction still applies.
func NewEmbeddingCache(maxSize int, opts ...Option) *EmbeddingCache {
	return &EmbeddingCache{
		cache: New[[]float32](Config{MaxSize: maxSize, Name: "embeddings"}, opts...),
	}
}

// Get returns the cached embedding for text. The returned slice is shared and
// must not be modified.
func (c *EmbeddingCache) Get(text string) ([]float32, bool) {
	return c.cache.Get(TextKey(text))
}

// Put stores a copy of vec for text.
func (c *EmbeddingCache) Put(text string, vec []float32) {
	cp := make([]float32, len(vec))
	copy(cp, vec)
	c.cache.Put(TextKey(text), cp)
}

// Size returns the number of cached embeddings.
func (c *EmbeddingCache) Size() int {
	return c.cache.Size()
}

// Clear drops every cached embedding.
func (c *EmbeddingCache) Clear() {
	c.cache.Clear()
}
