package embeddings

import (
	"errors"
	"fmt"
)

var (
	// ErrProvider matches every error returned by a Provider.
	ErrProvider = errors.New("embedding provider error")

	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// ProviderError describes a failed embedding call.
type ProviderError struct {
	// Provider names the provider that failed ("tei", "fastembed", ...).
	Provider string
	// Op is the failed operation ("embed", "embed_batch", ...).
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedding provider %s: %s: %v", e.Provider, e.Op, e.Err)
}

// Unwrap exposes both ErrProvider and the underlying cause.
func (e *ProviderError) Unwrap() []error {
	return []error{ErrProvider, e.Err}
}

// wrapErr returns err as a *ProviderError, leaving existing ProviderErrors
// untouched.
func wrapErr(provider, op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Provider: provider, Op: op, Err: err}
}
