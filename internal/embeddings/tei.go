package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const teiProviderName = "tei"

// TEIConfig configures a TEIProvider.
type TEIConfig struct {
	// BaseURL is the base URL of the text-embeddings-inference server.
	BaseURL string

	// Model is the embedding model served.
	Model string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Dimension is the expected embedding dimension.
	Dimension int

	// Timeout bounds a single request. Defaults to 30s.
	Timeout time.Duration
}

// Validate validates the configuration.
func (c TEIConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// TEIProvider calls the HuggingFace text-embeddings-inference /embed
// endpoint.
type TEIProvider struct {
	config TEIConfig
	client *http.Client
	logger *zap.Logger
}

// NewTEIProvider creates a TEI provider.
func NewTEIProvider(config TEIConfig, logger *zap.Logger) (*TEIProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &TEIProvider{
		config: config,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}, nil
}

// teiRequest is the request body for TEI embed endpoint.
type teiRequest struct {
	Inputs   any  `json:"inputs"`
	Truncate bool `json:"truncate"`
}

// Embed generates an embedding for a single text.
func (p *TEIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, wrapErr(teiProviderName, "embed", fmt.Errorf("%w: text cannot be empty", ErrEmptyInput))
	}
	vectors, err := p.post(ctx, text, 1)
	if err != nil {
		return nil, wrapErr(teiProviderName, "embed", err)
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one request.
func (p *TEIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, wrapErr(teiProviderName, "embed_batch", fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput))
	}
	vectors, err := p.post(ctx, texts, len(texts))
	if err != nil {
		return nil, wrapErr(teiProviderName, "embed_batch", err)
	}
	return vectors, nil
}

func (p *TEIProvider) post(ctx context.Context, inputs any, want int) ([][]float32, error) {
	body, err := json.Marshal(teiRequest{Inputs: inputs, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		p.logger.Debug("tei request failed",
			zap.Int("status", resp.StatusCode),
			zap.String("model", p.config.Model))
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(respBody))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(vectors) != want {
		return nil, fmt.Errorf("%w: got %d embeddings, want %d", ErrEmbeddingFailed, len(vectors), want)
	}
	for i, v := range vectors {
		if len(v) != p.config.Dimension {
			return nil, fmt.Errorf("%w: embedding %d has dimension %d, want %d",
				ErrEmbeddingFailed, i, len(v), p.config.Dimension)
		}
	}
	return vectors, nil
}

// Dimension returns the configured embedding dimension.
func (p *TEIProvider) Dimension() int {
	return p.config.Dimension
}

// Close is a no-op for TEI since it uses HTTP.
func (p *TEIProvider) Close() error {
	return nil
}
