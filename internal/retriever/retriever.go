// Package retriever answers knowledge queries by fusing graph traversal
// scores with vector similarity.
//
// A Retriever owns one graph store, one vector index, a result cache and an
// embedding cache. Ingestion writes a Document node and a vector entry under
// the same id. Retrieval embeds the query (cached by raw text), scores
// candidates under a Strategy and caches the whole RetrievalContext.
//
// A retriever-level RWMutex makes every mutation exclusive with every read,
// so a document is never visible in only one of the two stores. The stores
// additionally guard themselves.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxgraph/internal/cache"
	"github.com/fyrsmithlabs/ctxgraph/internal/embeddings"
	"github.com/fyrsmithlabs/ctxgraph/internal/graph"
	"github.com/fyrsmithlabs/ctxgraph/internal/vectorindex"
)

var tracer = otel.Tracer("ctxgraph.retriever")

// feedbackRate scales a result score into a node weight increment.
const feedbackRate = 0.1

// maxFeedbackWeight caps node weights raised by feedback.
const maxFeedbackWeight = 2.0

// Embedder is the embedding capability the retriever consumes.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Option customizes a Retriever.
type Option func(*Retriever)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Retriever) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithCacheMetrics records result and embedding cache metrics to m.
func WithCacheMetrics(m *cache.Metrics) Option {
	return func(r *Retriever) {
		r.cacheMetrics = m
	}
}

// WithClock overrides the time source for elapsed times and cache expiry.
func WithClock(now func() time.Time) Option {
	return func(r *Retriever) {
		r.now = now
	}
}

// Retriever is the hybrid retrieval engine. Safe for concurrent use.
type Retriever struct {
	mu      sync.RWMutex
	graph   *graph.Store
	vectors *vectorindex.Index
	// generation changes whenever the stores are replaced or emptied.
	generation uint64

	results    *cache.Cache[*RetrievalContext]
	embeddings *cache.EmbeddingCache

	embedder     Embedder
	config       Config
	logger       *zap.Logger
	cacheMetrics *cache.Metrics
	now          func() time.Time
}

// New creates a retriever whose vector index uses the embedder's dimension.
func New(config Config, embedder Embedder, opts ...Option) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if embedder.Dimension() <= 0 {
		return nil, fmt.Errorf("%w: embedder dimension must be positive", ErrInvalidConfig)
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	r := &Retriever{
		graph:    graph.New(),
		vectors:  vectorindex.New(embedder.Dimension()),
		embedder: embedder,
		config:   config,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	cacheOpts := []cache.Option{cache.WithClock(r.now)}
	if r.cacheMetrics != nil {
		cacheOpts = append(cacheOpts, cache.WithMetrics(r.cacheMetrics))
	}
	r.results = cache.New[*RetrievalContext](cache.Config{
		MaxSize:    config.ResultCacheSize,
		DefaultTTL: config.ResultCacheTTL,
		Name:       "results",
	}, cacheOpts...)
	r.embeddings = cache.NewEmbeddingCache(config.EmbeddingCacheSize, cacheOpts...)

	r.logger.Info("retriever initialized",
		zap.Int("dimension", embedder.Dimension()),
		zap.String("default_strategy", string(config.DefaultStrategy)),
		zap.Float64("graph_weight", config.GraphWeight),
		zap.Float64("vector_weight", config.VectorWeight))

	return r, nil
}

// Config returns the retriever configuration.
func (r *Retriever) Config() Config {
	return r.config
}

// Dimension returns the embedding dimension.
func (r *Retriever) Dimension() int {
	return r.embedder.Dimension()
}

// Ingest stores doc as a Document node and a vector entry with the same id.
// Re-ingesting an id overwrites both records. If embedding fails the error
// matches embeddings.ErrProvider and neither store is modified.
func (r *Retriever) Ingest(ctx context.Context, doc Document) error {
	ctx, span := tracer.Start(ctx, "retriever.Ingest")
	defer span.End()
	span.SetAttributes(attribute.String("document.id", doc.ID))

	if err := validateDocument(doc); err != nil {
		return spanError(span, err)
	}

	vec, err := r.embed(ctx, doc.Content)
	if err != nil {
		return spanError(span, fmt.Errorf("embedding document %q: %w", doc.ID, err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.writeLocked(doc, vec); err != nil {
		return spanError(span, err)
	}

	r.logger.Debug("document ingested", zap.String("document_id", doc.ID))
	span.SetStatus(codes.Ok, "success")
	return nil
}

// IngestBatch ingests docs all-or-nothing. Texts missing from the embedding
// cache are embedded in a single batch call. A later document with a
// repeated id overwrites an earlier one.
func (r *Retriever) IngestBatch(ctx context.Context, docs []Document) error {
	ctx, span := tracer.Start(ctx, "retriever.IngestBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("document_count", len(docs)))

	if len(docs) == 0 {
		return spanError(span, fmt.Errorf("%w: no documents", ErrInvalidInput))
	}
	for i, doc := range docs {
		if err := validateDocument(doc); err != nil {
			return spanError(span, fmt.Errorf("document %d: %w", i, err))
		}
	}

	vectors, err := r.embedBatch(ctx, docs)
	if err != nil {
		return spanError(span, fmt.Errorf("embedding batch: %w", err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, doc := range docs {
		if err := r.writeLocked(doc, vectors[i]); err != nil {
			// Dimensions were checked during embedding; this is unreachable
			// unless the index was swapped for another dimension.
			return spanError(span, err)
		}
	}

	r.logger.Debug("document batch ingested", zap.Int("count", len(docs)))
	span.SetStatus(codes.Ok, "success")
	return nil
}

// writeLocked adds the vector first since it is the only write that can
// fail. Caller must hold r.mu.
func (r *Retriever) writeLocked(doc Document, vec []float32) error {
	if err := r.vectors.Add(vectorindex.Entry{
		ID:        doc.ID,
		Embedding: vec,
		Text:      doc.Content,
		Metadata:  doc.Metadata,
		Source:    doc.Source,
	}); err != nil {
		return fmt.Errorf("indexing document %q: %w", doc.ID, err)
	}

	meta := maps.Clone(doc.Metadata)
	if doc.Source != "" {
		if meta == nil {
			meta = make(map[string]any, 1)
		}
		meta["source"] = doc.Source
	}
	r.graph.AddNode(graph.Node{
		ID:        doc.ID,
		Kind:      graph.KindDocument,
		Content:   doc.Content,
		Weight:    graph.DefaultWeight,
		Metadata:  meta,
		CreatedAt: r.now(),
	})
	return nil
}

func validateDocument(doc Document) error {
	if strings.TrimSpace(doc.ID) == "" {
		return fmt.Errorf("%w: document id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(doc.Content) == "" {
		return fmt.Errorf("%w: document %q has no content", ErrInvalidInput, doc.ID)
	}
	return nil
}

// RemoveDocument deletes the node, its incident edges and the vector entry
// for id. It reports whether anything was removed.
func (r *Retriever) RemoveDocument(ctx context.Context, id string) bool {
	_, span := tracer.Start(ctx, "retriever.RemoveDocument")
	defer span.End()
	span.SetAttributes(attribute.String("document.id", id))

	r.mu.Lock()
	defer r.mu.Unlock()

	removedNode := r.graph.RemoveNode(id)
	removedVector := r.vectors.Remove(id)
	return removedNode || removedVector
}

// AddRelationship adds a directed edge between two existing nodes. A
// non-positive weight means graph.DefaultWeight. Missing endpoints yield an
// error matching graph.ErrEndpointNotFound and leave the graph unchanged.
func (r *Retriever) AddRelationship(ctx context.Context, source, target string, kind graph.EdgeKind, weight float64) error {
	_, span := tracer.Start(ctx, "retriever.AddRelationship")
	defer span.End()
	span.SetAttributes(
		attribute.String("edge.source", source),
		attribute.String("edge.target", target),
		attribute.String("edge.kind", string(kind)),
	)

	if !kind.Valid() {
		return spanError(span, fmt.Errorf("%w: unknown edge kind %q", ErrInvalidInput, kind))
	}
	if weight <= 0 {
		weight = graph.DefaultWeight
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.graph.AddEdge(graph.Edge{SourceID: source, TargetID: target, Kind: kind, Weight: weight}); err != nil {
		return spanError(span, err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// GetNode returns the graph node for id.
func (r *Retriever) GetNode(id string) (graph.Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.graph.GetNode(id)
}

// Related returns nodes reachable from id within maxDepth hops in
// breadth-first order, optionally limited to the given kinds.
func (r *Retriever) Related(ctx context.Context, id string, maxDepth int, kinds ...graph.NodeKind) []graph.Node {
	_, span := tracer.Start(ctx, "retriever.Related")
	defer span.End()

	if maxDepth <= 0 {
		maxDepth = r.config.MaxGraphDepth
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.graph.BFS(id, maxDepth, kinds...)
}

// Path returns the fewest-hop path from source to target.
func (r *Retriever) Path(ctx context.Context, source, target string, maxDepth int) ([]string, bool) {
	_, span := tracer.Start(ctx, "retriever.Path")
	defer span.End()

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.graph.FindPath(source, target, maxDepth)
}

// UpdateFromContext raises the weight of every node named in rc by
// score*0.1, saturating at 2.0. Weights are never lowered. It returns the
// number of nodes updated.
func (r *Retriever) UpdateFromContext(ctx context.Context, rc *RetrievalContext) int {
	_, span := tracer.Start(ctx, "retriever.UpdateFromContext")
	defer span.End()

	if rc == nil {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	updated := 0
	for _, res := range rc.Results {
		node, ok := r.graph.GetNode(res.NodeID)
		if !ok {
			continue
		}
		w := math.Min(maxFeedbackWeight, node.Weight+res.Score*feedbackRate)
		if w > node.Weight {
			r.graph.UpdateWeight(res.NodeID, w)
			updated++
		}
	}

	span.SetAttributes(attribute.Int("nodes_updated", updated))
	return updated
}

// Clear removes every node, edge, vector and cached entry.
func (r *Retriever) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.graph.Clear()
	r.vectors.Clear()
	r.generation++
	r.results.Clear()
	r.embeddings.Clear()
	r.logger.Info("retriever cleared")
}

// Stats returns store and cache sizes.
func (r *Retriever) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	nodes, edges := r.graph.Size()
	return Stats{
		Nodes:              nodes,
		Edges:              edges,
		Vectors:            r.vectors.Len(),
		ResultCacheSize:    r.results.Size(),
		EmbeddingCacheSize: r.embeddings.Size(),
	}
}

// embed returns the embedding for text, consulting the embedding cache
// first. Cancellation is checked before the provider is called.
func (r *Retriever) embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := r.embeddings.Get(text); ok {
		return vec, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, asProviderError("embed", err)
	}
	if err := r.checkDimension(vec); err != nil {
		return nil, asProviderError("embed", err)
	}

	r.embeddings.Put(text, vec)
	return vec, nil
}

// embedBatch returns one vector per document, calling the provider once for
// the distinct texts not already cached.
func (r *Retriever) embedBatch(ctx context.Context, docs []Document) ([][]float32, error) {
	byText := make(map[string][]float32, len(docs))
	var missing []string
	for _, doc := range docs {
		if _, seen := byText[doc.Content]; seen {
			continue
		}
		if vec, ok := r.embeddings.Get(doc.Content); ok {
			byText[doc.Content] = vec
			continue
		}
		byText[doc.Content] = nil
		missing = append(missing, doc.Content)
	}

	if len(missing) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vecs, err := r.embedder.EmbedBatch(ctx, missing)
		if err != nil {
			return nil, asProviderError("embed_batch", err)
		}
		if len(vecs) != len(missing) {
			return nil, asProviderError("embed_batch",
				fmt.Errorf("got %d embeddings for %d texts", len(vecs), len(missing)))
		}
		for _, vec := range vecs {
			if err := r.checkDimension(vec); err != nil {
				return nil, asProviderError("embed_batch", err)
			}
		}
		for i, text := range missing {
			byText[text] = vecs[i]
			r.embeddings.Put(text, vecs[i])
		}
	}

	out := make([][]float32, len(docs))
	for i, doc := range docs {
		out[i] = byText[doc.Content]
	}
	return out, nil
}

func (r *Retriever) checkDimension(vec []float32) error {
	if len(vec) != r.embedder.Dimension() {
		return fmt.Errorf("%w: provider returned %d, want %d",
			vectorindex.ErrDimensionMismatch, len(vec), r.embedder.Dimension())
	}
	return nil
}

// asProviderError makes sure provider failures match embeddings.ErrProvider.
// Caller cancellation passes through unchanged.
func asProviderError(op string, err error) error {
	if errors.Is(err, embeddings.ErrProvider) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &embeddings.ProviderError{Provider: "embedder", Op: op, Err: err}
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
