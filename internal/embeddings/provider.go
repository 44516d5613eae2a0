package embeddings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Provider computes embeddings. Implementations must be safe for concurrent
// use and must return a *ProviderError on failure.
type Provider interface {
	// Embed returns the embedding for one text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one embedding per text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	// Provider is the provider type: "fastembed" (default), "tei" or "hash".
	Provider string
	// Model is the embedding model name.
	Model string
	// BaseURL is the TEI URL (only used for TEI provider).
	BaseURL string
	// APIKey is sent as a bearer token to TEI when set.
	APIKey string
	// Dimension overrides model-based dimension detection.
	Dimension int
	// Timeout bounds a single TEI request.
	Timeout time.Duration
	// CacheDir is the model cache directory (only used for FastEmbed).
	CacheDir string
	// InstallRuntime downloads the ONNX runtime when it is missing.
	InstallRuntime bool

	// Fallback lists providers tried in order when this one fails.
	Fallback []ProviderConfig

	// RateLimit is the sustained number of calls per second. Zero disables
	// rate limiting.
	RateLimit float64
	// Burst is the rate limiter bucket size.
	Burst int

	// Breaker enables a circuit breaker around the composed provider.
	Breaker *BreakerConfig

	// Meter records per-backend call metrics. Nil uses the global provider.
	Meter  metric.Meter
	Logger *zap.Logger
}

// detectDimensionFromModel returns the embedding dimension for a model name.
// Falls back to 384 if model is unknown.
func detectDimensionFromModel(model string) int {
	if dim, ok := fastEmbedModelDimension(model); ok {
		return dim
	}
	switch {
	case strings.Contains(model, "base"):
		return 768
	case strings.Contains(model, "large"):
		return 1024
	default:
		return 384 // bge-small, MiniLM
	}
}

// NewProvider creates an embedding provider from cfg. Fallbacks are tried in
// order after the primary fails; the rate limiter and circuit breaker wrap
// the whole chain.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	metrics := NewMetrics(cfg.Meter, logger)

	primary, err := newInstrumented(cfg, logger, metrics)
	if err != nil {
		return nil, err
	}

	var p Provider = primary
	if len(cfg.Fallback) > 0 {
		chain := []Provider{primary}
		for i, fb := range cfg.Fallback {
			fb.Logger = logger
			next, err := newInstrumented(fb, logger, metrics)
			if err != nil {
				closeAll(chain)
				return nil, fmt.Errorf("fallback %d: %w", i, err)
			}
			chain = append(chain, next)
		}
		p, err = NewFallbackProvider(logger, chain...)
		if err != nil {
			closeAll(chain)
			return nil, err
		}
	}

	if cfg.RateLimit > 0 {
		p = NewRateLimitedProvider(p, cfg.RateLimit, cfg.Burst)
	}
	if cfg.Breaker != nil {
		p = NewBreakerProvider(p, *cfg.Breaker, logger)
	}
	return p, nil
}

func newInstrumented(cfg ProviderConfig, logger *zap.Logger, metrics *Metrics) (Provider, error) {
	p, err := newBaseProvider(cfg, logger)
	if err != nil {
		return nil, err
	}
	name := cfg.Provider
	if name == "" {
		name = fastEmbedProviderName
	}
	return &instrumented{Provider: p, name: name, metrics: metrics}, nil
}

func newBaseProvider(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	switch cfg.Provider {
	case "tei":
		dim := cfg.Dimension
		if dim == 0 {
			dim = detectDimensionFromModel(cfg.Model)
		}
		return NewTEIProvider(TEIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey,
			Dimension: dim,
			Timeout:   cfg.Timeout,
		}, logger)
	case "fastembed", "":
		return NewFastEmbedProvider(FastEmbedConfig{
			Model:          cfg.Model,
			CacheDir:       cfg.CacheDir,
			InstallRuntime: cfg.InstallRuntime,
			Logger:         logger,
		})
	case "hash":
		return NewHashProvider(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

func closeAll(providers []Provider) {
	for _, p := range providers {
		_ = p.Close()
	}
}
