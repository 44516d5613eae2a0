package embeddings

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	hashProviderName = "hash"

	// DefaultHashDimension is the HashProvider dimension when none is given.
	DefaultHashDimension = 256
)

// HashProvider embeds text by feature hashing its lower-cased whitespace
// tokens into a fixed number of buckets, then L2-normalizing. Identical token
// multisets produce identical vectors and shared tokens raise cosine
// similarity. It needs no model or network and is deterministic across runs.
type HashProvider struct {
	dimension int
}

// NewHashProvider creates a hashing provider. A non-positive dimension uses
// DefaultHashDimension.
func NewHashProvider(dimension int) *HashProvider {
	if dimension <= 0 {
		dimension = DefaultHashDimension
	}
	return &HashProvider{dimension: dimension}
}

// Embed hashes text into a vector.
func (p *HashProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapErr(hashProviderName, "embed", err)
	}
	vec, err := p.hash(text)
	if err != nil {
		return nil, wrapErr(hashProviderName, "embed", err)
	}
	return vec, nil
}

// EmbedBatch hashes each text.
func (p *HashProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, wrapErr(hashProviderName, "embed_batch", fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput))
	}
	if err := ctx.Err(); err != nil {
		return nil, wrapErr(hashProviderName, "embed_batch", err)
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.hash(text)
		if err != nil {
			return nil, wrapErr(hashProviderName, "embed_batch", fmt.Errorf("text %d: %w", i, err))
		}
		out[i] = vec
	}
	return out, nil
}

func (p *HashProvider) hash(text string) ([]float32, error) {
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: text has no tokens", ErrEmptyInput)
	}

	vec := make([]float32, p.dimension)
	for _, tok := range tokens {
		h := xxhash.Sum64String(tok)
		bucket := h % uint64(p.dimension)
		// The top bit picks the sign so collisions cancel rather than pile up.
		if h>>63 == 1 {
			vec[bucket]--
		} else {
			vec[bucket]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		// Every token collided and cancelled; fall back to the first bucket
		// so the vector stays non-zero.
		vec[xxhash.Sum64String(tokens[0])%uint64(p.dimension)] = 1
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

// Dimension returns the vector dimension.
func (p *HashProvider) Dimension() int {
	return p.dimension
}

// Close is a no-op.
func (p *HashProvider) Close() error {
	return nil
}
