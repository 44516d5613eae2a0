// Package embeddings turns text into dense vectors.
//
// Provider is the boundary the retriever consumes. Concrete providers call a
// text-embeddings-inference server (TEIProvider), run a local ONNX model
// (FastEmbedProvider, cgo builds only), or hash tokens deterministically
// (HashProvider). FallbackProvider, RateLimitedProvider and BreakerProvider
// wrap any Provider; NewProvider composes them from ProviderConfig.
//
// Every failure surfaces as a *ProviderError, so callers can test for it
// with errors.Is(err, ErrProvider).
package embeddings
