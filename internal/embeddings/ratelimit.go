package embeddings

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedProvider delays calls to stay within a token-bucket rate. Each
// Embed or EmbedBatch call takes one token.
type RateLimitedProvider struct {
	next    Provider
	limiter *rate.Limiter
}

// NewRateLimitedProvider wraps next with a limiter allowing perSecond calls
// with the given burst. A burst below 1 is raised to 1.
func NewRateLimitedProvider(next Provider, perSecond float64, burst int) *RateLimitedProvider {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedProvider{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Embed waits for a token, then delegates.
func (r *RateLimitedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, wrapErr("rate_limit", "embed", err)
	}
	return r.next.Embed(ctx, text)
}

// EmbedBatch waits for a token, then delegates.
func (r *RateLimitedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, wrapErr("rate_limit", "embed_batch", err)
	}
	return r.next.EmbedBatch(ctx, texts)
}

// Dimension returns the wrapped provider's dimension.
func (r *RateLimitedProvider) Dimension() int {
	return r.next.Dimension()
}

// Close closes the wrapped provider.
func (r *RateLimitedProvider) Close() error {
	return r.next.Close()
}
