package retriever

import (
	"fmt"
	"time"
)

// Config holds retrieval parameters.
type Config struct {
	// GraphWeight scales graph scores during fusion. Default: 0.5
	GraphWeight float64

	// VectorWeight scales similarity scores during fusion. Default: 0.5
	VectorWeight float64

	// MaxGraphDepth caps traversal hops from a seed. Default: 2
	MaxGraphDepth int

	// MaxResults is the result count when a caller passes no top-k. Default: 10
	MaxResults int

	// SimilarityThreshold is the minimum cosine similarity for vector hits.
	// Default: 0.3
	SimilarityThreshold float64

	// TraversalThreshold is the minimum accumulated weight for graph hits.
	// Default: 0.1
	TraversalThreshold float64

	// MaxSeeds caps keyword-matched traversal starting points. Default: 5
	MaxSeeds int

	// SeedBoost is added to a seed's graph score, capped at 1. Default: 0.3
	SeedBoost float64

	// ResultCacheTTL is how long a retrieval result is served from cache.
	// Default: 1h
	ResultCacheTTL time.Duration

	// ResultCacheSize bounds cached retrieval results. Default: 1000
	ResultCacheSize int

	// EmbeddingCacheSize bounds cached text embeddings. Default: 10000
	EmbeddingCacheSize int

	// DefaultStrategy is used when a caller passes none. Default: balanced
	DefaultStrategy Strategy
}

// DefaultConfig returns the default retrieval configuration.
func DefaultConfig() Config {
	return Config{
		GraphWeight:         0.5,
		VectorWeight:        0.5,
		MaxGraphDepth:       2,
		MaxResults:          10,
		SimilarityThreshold: 0.3,
		TraversalThreshold:  0.1,
		MaxSeeds:            5,
		SeedBoost:           0.3,
		ResultCacheTTL:      time.Hour,
		ResultCacheSize:     1000,
		EmbeddingCacheSize:  10000,
		DefaultStrategy:     StrategyBalanced,
	}
}

// ApplyDefaults sets default values for unset fields. Zero thresholds and
// weights are meaningful and left alone.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.MaxGraphDepth == 0 {
		c.MaxGraphDepth = d.MaxGraphDepth
	}
	if c.MaxResults == 0 {
		c.MaxResults = d.MaxResults
	}
	if c.MaxSeeds == 0 {
		c.MaxSeeds = d.MaxSeeds
	}
	if c.ResultCacheTTL == 0 {
		c.ResultCacheTTL = d.ResultCacheTTL
	}
	if c.ResultCacheSize == 0 {
		c.ResultCacheSize = d.ResultCacheSize
	}
	if c.EmbeddingCacheSize == 0 {
		c.EmbeddingCacheSize = d.EmbeddingCacheSize
	}
	if c.DefaultStrategy == "" {
		c.DefaultStrategy = d.DefaultStrategy
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.GraphWeight < 0 || c.VectorWeight < 0 {
		return fmt.Errorf("%w: weights must not be negative", ErrInvalidConfig)
	}
	if c.GraphWeight+c.VectorWeight == 0 {
		return fmt.Errorf("%w: graph and vector weight cannot both be zero", ErrInvalidConfig)
	}
	if c.MaxGraphDepth < 0 {
		return fmt.Errorf("%w: max graph depth must not be negative", ErrInvalidConfig)
	}
	if c.MaxResults <= 0 {
		return fmt.Errorf("%w: max results must be positive", ErrInvalidConfig)
	}
	if c.SimilarityThreshold < -1 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: similarity threshold must be in [-1, 1]", ErrInvalidConfig)
	}
	if c.TraversalThreshold < 0 {
		return fmt.Errorf("%w: traversal threshold must not be negative", ErrInvalidConfig)
	}
	if c.MaxSeeds <= 0 {
		return fmt.Errorf("%w: max seeds must be positive", ErrInvalidConfig)
	}
	if c.ResultCacheTTL < 0 {
		return fmt.Errorf("%w: result cache TTL must not be negative", ErrInvalidConfig)
	}
	if !c.DefaultStrategy.Valid() {
		return fmt.Errorf("%w: unknown default strategy %q", ErrInvalidConfig, c.DefaultStrategy)
	}
	return nil
}
