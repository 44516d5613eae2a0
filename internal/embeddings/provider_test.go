package embeddings

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubProvider returns fixed vectors or a fixed error and counts calls.
type stubProvider struct {
	dim   int
	err   error
	calls atomic.Int32
}

func (s *stubProvider) Embed(_ context.Context, text string) ([]float32, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, &ProviderError{Provider: "stub", Op: "embed", Err: s.err}
	}
	v := make([]float32, s.dim)
	v[0] = float32(len(text))
	return v, nil
}

func (s *stubProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *stubProvider) Dimension() int { return s.dim }
func (s *stubProvider) Close() error   { return nil }

func TestProviderError(t *testing.T) {
	cause := errors.New("boom")
	err := wrapErr("tei", "embed", cause)

	assert.ErrorIs(t, err, ErrProvider)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "tei")
	assert.Contains(t, err.Error(), "boom")

	// Already wrapped errors are not wrapped twice.
	again := wrapErr("breaker", "embed", err)
	var pe *ProviderError
	require.True(t, errors.As(again, &pe))
	assert.Equal(t, "tei", pe.Provider)

	assert.NoError(t, wrapErr("tei", "embed", nil))
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ProviderConfig
		wantDim int
		wantErr error
	}{
		{
			name:    "hash provider",
			cfg:     ProviderConfig{Provider: "hash", Dimension: 64},
			wantDim: 64,
		},
		{
			name:    "tei detects dimension from model",
			cfg:     ProviderConfig{Provider: "tei", BaseURL: "http://localhost:8080", Model: "BAAI/bge-base-en-v1.5"},
			wantDim: 768,
		},
		{
			name:    "tei without base url",
			cfg:     ProviderConfig{Provider: "tei", Model: "BAAI/bge-small-en-v1.5"},
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "unknown provider",
			cfg:     ProviderConfig{Provider: "word2vec"},
			wantErr: ErrInvalidConfig,
		},
		{
			name: "fallback with rate limit and breaker",
			cfg: ProviderConfig{
				Provider:  "tei",
				BaseURL:   "http://localhost:1",
				Model:     "BAAI/bge-small-en-v1.5",
				Fallback:  []ProviderConfig{{Provider: "hash", Dimension: 384}},
				RateLimit: 100,
				Burst:     10,
				Breaker:   &BreakerConfig{MaxRequests: 1, Timeout: time.Second, FailureThreshold: 0.5, MinRequests: 2},
			},
			wantDim: 384,
		},
		{
			name: "fallback dimension mismatch",
			cfg: ProviderConfig{
				Provider: "hash",
				Fallback: []ProviderConfig{{Provider: "hash", Dimension: 8}},
			},
			wantErr: ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(tt.cfg)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			defer p.Close()
			assert.Equal(t, tt.wantDim, p.Dimension())
		})
	}
}

func TestNewProvider_FallbackServesWhenPrimaryDown(t *testing.T) {
	p, err := NewProvider(ProviderConfig{
		Provider: "tei",
		BaseURL:  "http://127.0.0.1:1",
		Model:    "BAAI/bge-small-en-v1.5",
		Timeout:  time.Second,
		Fallback: []ProviderConfig{{Provider: "hash", Dimension: 384}},
	})
	require.NoError(t, err)

	vec, err := p.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Len(t, vec, 384)
}

func TestFallbackProvider(t *testing.T) {
	failing := &stubProvider{dim: 4, err: errors.New("down")}
	working := &stubProvider{dim: 4}

	f, err := NewFallbackProvider(nil, failing, working)
	require.NoError(t, err)

	vec, err := f.Embed(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, float32(3), vec[0])
	assert.Equal(t, int32(1), failing.calls.Load())

	vecs, err := f.EmbedBatch(context.Background(), []string{"a", "bb"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
}

func TestFallbackProvider_AllFail(t *testing.T) {
	first := errors.New("first down")
	second := errors.New("second down")
	f, err := NewFallbackProvider(nil, &stubProvider{dim: 2, err: first}, &stubProvider{dim: 2, err: second})
	require.NoError(t, err)

	_, err = f.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProvider)
	assert.ErrorIs(t, err, first)
	assert.ErrorIs(t, err, second)
}

func TestFallbackProvider_Validation(t *testing.T) {
	_, err := NewFallbackProvider(nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewFallbackProvider(nil, &stubProvider{dim: 2}, &stubProvider{dim: 3})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRateLimitedProvider(t *testing.T) {
	stub := &stubProvider{dim: 2}
	r := NewRateLimitedProvider(stub, 1, 1)

	_, err := r.Embed(context.Background(), "a")
	require.NoError(t, err)

	// The bucket is empty; a short deadline cannot wait a full second.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Embed(ctx, "b")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProvider)
	assert.Equal(t, int32(1), stub.calls.Load(), "limited call must not reach the provider")
	assert.Equal(t, 2, r.Dimension())
}

func TestBreakerProvider_OpensAfterFailures(t *testing.T) {
	stub := &stubProvider{dim: 2, err: errors.New("down")}
	b := NewBreakerProvider(stub, BreakerConfig{
		MaxRequests:      1,
		Timeout:          time.Minute,
		FailureThreshold: 0.5,
		MinRequests:      3,
	}, nil)

	for i := 0; i < 3; i++ {
		_, err := b.Embed(context.Background(), "x")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := b.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProvider)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(3), stub.calls.Load(), "open breaker fails fast")
}

func TestBreakerProvider_CancellationDoesNotTrip(t *testing.T) {
	stub := &stubProvider{dim: 2, err: context.Canceled}
	b := NewBreakerProvider(stub, BreakerConfig{MaxRequests: 1, Timeout: time.Minute, FailureThreshold: 0.5, MinRequests: 1}, nil)

	for i := 0; i < 5; i++ {
		_, _ = b.EmbedBatch(context.Background(), []string{"x"})
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}
