package embeddings

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

const fallbackProviderName = "fallback"

// FallbackProvider tries each provider in order and returns the first
// success. All providers must share one dimension.
type FallbackProvider struct {
	providers []Provider
	logger    *zap.Logger
}

// NewFallbackProvider chains providers. It fails if none are given or their
// dimensions differ.
func NewFallbackProvider(logger *zap.Logger, providers ...Provider) (*FallbackProvider, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("%w: fallback needs at least one provider", ErrInvalidConfig)
	}
	dim := providers[0].Dimension()
	for i, p := range providers[1:] {
		if p.Dimension() != dim {
			return nil, fmt.Errorf("%w: fallback provider %d has dimension %d, want %d",
				ErrInvalidConfig, i+1, p.Dimension(), dim)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackProvider{providers: providers, logger: logger}, nil
}

// Embed returns the first successful embedding.
func (f *FallbackProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	var errs []error
	for i, p := range f.providers {
		vec, err := p.Embed(ctx, text)
		if err == nil {
			return vec, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
		f.logger.Warn("embedding provider failed, trying next",
			zap.Int("provider_index", i),
			zap.Error(err))
	}
	return nil, &ProviderError{Provider: fallbackProviderName, Op: "embed", Err: errors.Join(errs...)}
}

// EmbedBatch returns the first successful batch.
func (f *FallbackProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var errs []error
	for i, p := range f.providers {
		vecs, err := p.EmbedBatch(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
		f.logger.Warn("embedding provider failed, trying next",
			zap.Int("provider_index", i),
			zap.Int("batch_size", len(texts)),
			zap.Error(err))
	}
	return nil, &ProviderError{Provider: fallbackProviderName, Op: "embed_batch", Err: errors.Join(errs...)}
}

// Dimension returns the shared dimension.
func (f *FallbackProvider) Dimension() int {
	return f.providers[0].Dimension()
}

// Close closes every provider and joins their errors.
func (f *FallbackProvider) Close() error {
	var errs []error
	for _, p := range f.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
