package embeddings

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerConfig configures the circuit breaker around a provider.
type BreakerConfig struct {
	// MaxRequests is the number of trial calls allowed while half-open.
	MaxRequests uint32
	// Interval clears failure counts while closed. Zero never clears.
	Interval time.Duration
	// Timeout is how long the breaker stays open before going half-open.
	Timeout time.Duration
	// FailureThreshold is the failure ratio that opens the breaker.
	FailureThreshold float64
	// MinRequests is the number of calls needed before the ratio is checked.
	MinRequests uint32
}

// DefaultBreakerConfig returns a default configuration for the breaker.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      1,
		Interval:         30 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

// BreakerProvider stops calling a failing provider until it has had time to
// recover. While open, calls fail fast with a *ProviderError wrapping
// gobreaker.ErrOpenState.
type BreakerProvider struct {
	next Provider
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerProvider wraps next with a circuit breaker.
func NewBreakerProvider(next Provider, cfg BreakerConfig, logger *zap.Logger) *BreakerProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "embeddings",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("embedding circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		// Caller cancellation says nothing about provider health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})
	return &BreakerProvider{next: next, cb: cb}
}

// Embed delegates through the breaker.
func (b *BreakerProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.next.Embed(ctx, text)
	})
	if err != nil {
		return nil, wrapErr("breaker", "embed", err)
	}
	return out.([]float32), nil
}

// EmbedBatch delegates through the breaker.
func (b *BreakerProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.next.EmbedBatch(ctx, texts)
	})
	if err != nil {
		return nil, wrapErr("breaker", "embed_batch", err)
	}
	return out.([][]float32), nil
}

// State reports the breaker state.
func (b *BreakerProvider) State() gobreaker.State {
	return b.cb.State()
}

// Dimension returns the wrapped provider's dimension.
func (b *BreakerProvider) Dimension() int {
	return b.next.Dimension()
}

// Close closes the wrapped provider.
func (b *BreakerProvider) Close() error {
	return b.next.Close()
}
