//go:build cgo

package embeddings

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	fastembed "github.com/anush008/fastembed-go"
	"go.uber.org/zap"
)

// FastEmbedConfig holds configuration for the FastEmbed provider.
type FastEmbedConfig struct {
	// Model is the embedding model to use.
	// Supported: BAAI/bge-small-en-v1.5 (default), BAAI/bge-base-en-v1.5,
	// sentence-transformers/all-MiniLM-L6-v2, etc.
	Model string

	// CacheDir is the directory to cache model files.
	// Defaults to ~/.cache/ctxgraph/models
	CacheDir string

	// MaxLength is the maximum input sequence length.
	// Defaults to 512.
	MaxLength int

	// InstallRuntime downloads the ONNX runtime when it cannot be found.
	InstallRuntime bool

	Logger *zap.Logger
}

// FastEmbedProvider provides embedding generation using local ONNX models.
type FastEmbedProvider struct {
	model     *fastembed.FlagEmbedding
	modelName string
	dimension int
	mu        sync.RWMutex
}

// modelMapping maps friendly model names to fastembed model constants.
var modelMapping = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-small-en":                      fastembed.BGESmallEN,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"BAAI/bge-base-en":                       fastembed.BGEBaseEN,
	"BAAI/bge-small-zh-v1.5":                 fastembed.BGESmallZH,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
	// Also accept the fastembed model names directly
	"fast-bge-small-en-v1.5": fastembed.BGESmallENV15,
	"fast-bge-small-en":      fastembed.BGESmallEN,
	"fast-bge-base-en-v1.5":  fastembed.BGEBaseENV15,
	"fast-bge-base-en":       fastembed.BGEBaseEN,
	"fast-bge-small-zh-v1.5": fastembed.BGESmallZH,
	"fast-all-MiniLM-L6-v2":  fastembed.AllMiniLML6V2,
}

// NewFastEmbedProvider creates a new FastEmbed embedding provider.
func NewFastEmbedProvider(cfg FastEmbedConfig) (*FastEmbedProvider, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	name := cfg.Model
	if name == "" {
		name = "BAAI/bge-small-en-v1.5"
	}
	model, ok := modelMapping[name]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported model %q (supported: BAAI/bge-small-en-v1.5, BAAI/bge-base-en-v1.5, sentence-transformers/all-MiniLM-L6-v2)", ErrInvalidConfig, name)
	}
	dimension, _ := fastEmbedModelDimension(name)

	if cfg.InstallRuntime && os.Getenv("ONNX_PATH") == "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		path, err := newRuntimeInstaller(logger).ensure(ctx)
		if err != nil {
			return nil, fmt.Errorf("installing ONNX runtime (set ONNX_PATH to use an existing install): %w", err)
		}
		if err := os.Setenv("ONNX_PATH", path); err != nil {
			return nil, fmt.Errorf("setting ONNX_PATH: %w", err)
		}
	}

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		cacheDir = filepath.Join(home, ".cache", "ctxgraph", "models")
	}

	maxLength := cfg.MaxLength
	if maxLength == 0 {
		maxLength = 512
	}

	// Disable progress bar for server use
	showProgress := false

	flagEmbed, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cacheDir,
		MaxLength:            maxLength,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing FastEmbed: %w", err)
	}

	return &FastEmbedProvider{
		model:     flagEmbed,
		modelName: name,
		dimension: dimension,
	}, nil
}

// Embed generates an embedding for a single text.
// Uses the "passage: " prefix so ingested documents and queries share one
// embedding space.
func (p *FastEmbedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.embed(ctx, "embed", []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts.
func (p *FastEmbedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return p.embed(ctx, "embed_batch", texts)
}

func (p *FastEmbedProvider) embed(ctx context.Context, op string, texts []string) ([][]float32, error) {
	if len(texts) == 0 || (len(texts) == 1 && texts[0] == "") {
		return nil, wrapErr(fastEmbedProviderName, op, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput))
	}
	if err := ctx.Err(); err != nil {
		return nil, wrapErr(fastEmbedProviderName, op, err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	vectors, embedErr := p.model.PassageEmbed(texts, 256)
	if embedErr != nil {
		return nil, wrapErr(fastEmbedProviderName, op, fmt.Errorf("%w: %w", ErrEmbeddingFailed, embedErr))
	}
	return vectors, nil
}

// Dimension returns the embedding dimension for the current model.
func (p *FastEmbedProvider) Dimension() int {
	return p.dimension
}

// Close releases resources held by the FastEmbed provider.
func (p *FastEmbedProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.model != nil {
		return p.model.Destroy()
	}
	return nil
}
