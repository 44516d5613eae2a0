//go:build !cgo

package embeddings

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// ErrFastEmbedNotAvailable is returned by every FastEmbed call in binaries
// built with CGO_ENABLED=0. Use the tei or hash provider there.
var ErrFastEmbedNotAvailable = errors.New("fastembed: requires a cgo build")

// FastEmbedConfig mirrors the cgo build so callers compile unchanged.
type FastEmbedConfig struct {
	Model          string
	CacheDir       string
	MaxLength      int
	InstallRuntime bool
	Logger         *zap.Logger
}

// FastEmbedProvider is unusable without cgo.
type FastEmbedProvider struct{}

func NewFastEmbedProvider(FastEmbedConfig) (*FastEmbedProvider, error) {
	return nil, wrapErr(fastEmbedProviderName, "init", ErrFastEmbedNotAvailable)
}

func (*FastEmbedProvider) Embed(context.Context, string) ([]float32, error) {
	return nil, wrapErr(fastEmbedProviderName, "embed", ErrFastEmbedNotAvailable)
}

func (*FastEmbedProvider) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, wrapErr(fastEmbedProviderName, "embed_batch", ErrFastEmbedNotAvailable)
}

func (*FastEmbedProvider) Dimension() int { return 0 }
func (*FastEmbedProvider) Close() error   { return nil }
