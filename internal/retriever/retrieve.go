package retriever

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"maps"
	"sort"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// weights are the fusion weights applied to one retrieval.
type weights struct {
	graph  float64
	vector float64
}

// graphHit is a node reached from a keyword seed.
type graphHit struct {
	id    string
	score float64
}

// vectorHit is a vector-search match.
type vectorHit struct {
	id         string
	similarity float64
}

// searchStats counts the work done by one retrieval.
type searchStats struct {
	graphNodes int
	documents  int
}

// Retrieve answers query with up to topK results fused under strategy. A
// non-positive topK means Config.MaxResults and an empty strategy means
// Config.DefaultStrategy.
//
// Results are cached by (query, topK, strategy); a cache hit returns the
// previously produced context unchanged.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int, strategy Strategy) (*RetrievalContext, error) {
	ctx, span := tracer.Start(ctx, "retriever.Retrieve")
	defer span.End()

	if strings.TrimSpace(query) == "" {
		return nil, spanError(span, fmt.Errorf("%w: query is required", ErrInvalidInput))
	}
	if topK <= 0 {
		topK = r.config.MaxResults
	}
	if strategy == "" {
		strategy = r.config.DefaultStrategy
	}
	if !strategy.Valid() {
		return nil, spanError(span, fmt.Errorf("%w: unknown strategy %q", ErrInvalidInput, strategy))
	}
	span.SetAttributes(
		attribute.Int("top_k", topK),
		attribute.String("strategy", string(strategy)),
	)

	key := resultKey(query, topK, strategy)
	if rc, ok := r.results.Get(key); ok {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return rc, nil
	}

	start := r.now()
	if err := ctx.Err(); err != nil {
		return nil, spanError(span, err)
	}

	qvec, err := r.embed(ctx, query)
	if err != nil {
		return nil, spanError(span, fmt.Errorf("embedding query: %w", err))
	}

	r.mu.RLock()
	gen := r.generation
	results, stats, err := r.dispatchLocked(query, qvec, topK, strategy)
	r.mu.RUnlock()
	if err != nil {
		return nil, spanError(span, err)
	}

	for i := range results {
		results[i].Score = clamp01(results[i].Score)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}

	now := r.now()
	rc := &RetrievalContext{
		Query:              query,
		Results:            results,
		Elapsed:            now.Sub(start),
		Strategy:           strategy,
		GraphNodesSearched: stats.graphNodes,
		DocumentsSearched:  stats.documents,
		CreatedAt:          now,
	}
	if !r.cacheResult(key, rc, gen) {
		r.logger.Debug("retrieval result not cached; state changed", zap.String("query", query))
	}

	r.logger.Debug("retrieval completed",
		zap.String("strategy", string(strategy)),
		zap.Int("results", len(results)),
		zap.Duration("elapsed", rc.Elapsed))

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return rc, nil
}

// resultKey hashes the retrieval parameters into a cache key.
func resultKey(query string, topK int, strategy Strategy) string {
	h := sha256.New()
	h.Write([]byte(query))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(topK)))
	h.Write([]byte{0})
	h.Write([]byte(strategy))
	return hex.EncodeToString(h.Sum(nil))
}

// dispatchLocked scores candidates for strategy. Caller must hold r.mu for
// reading.
func (r *Retriever) dispatchLocked(query string, qvec []float32, topK int, strategy Strategy) ([]Result, searchStats, error) {
	configured := weights{graph: r.config.GraphWeight, vector: r.config.VectorWeight}

	switch strategy {
	case StrategyGraphFirst:
		return r.graphFirstLocked(query, qvec, topK, configured)
	case StrategyVectorFirst:
		return r.vectorFirstLocked(qvec, topK, configured)
	case StrategyBalanced:
		return r.balancedLocked(query, qvec, topK, configured)
	case StrategyAdaptive:
		return r.balancedLocked(query, qvec, topK, adaptiveWeights(query))
	default:
		return nil, searchStats{}, fmt.Errorf("%w: unknown strategy %q", ErrInvalidInput, strategy)
	}
}

// adaptiveWeights favors the graph for short queries and vectors for long
// ones.
func adaptiveWeights(query string) weights {
	n := len(strings.Fields(query))
	switch {
	case n < 3:
		return weights{graph: 0.7, vector: 0.3}
	case n > 10:
		return weights{graph: 0.3, vector: 0.7}
	default:
		return weights{graph: 0.5, vector: 0.5}
	}
}

func (r *Retriever) graphFirstLocked(query string, qvec []float32, topK int, w weights) ([]Result, searchStats, error) {
	hits, stats := r.graphCandidatesLocked(query)
	if len(hits) == 0 {
		return r.vectorOnlyLocked(qvec, topK, w, nil)
	}

	results := make([]Result, 0, len(hits))
	present := make(map[string]struct{}, len(hits))
	for _, h := range hits {
		results = append(results, r.graphResultLocked(h, h.score*w.graph))
		present[h.id] = struct{}{}
	}

	if len(results) < topK {
		extra, vstats, err := r.vectorOnlyLocked(qvec, topK+len(present), w, present)
		if err != nil {
			return nil, stats, err
		}
		stats.documents = vstats.documents
		for _, res := range extra {
			if len(results) >= topK {
				break
			}
			results = append(results, res)
		}
	}
	return results, stats, nil
}

func (r *Retriever) vectorFirstLocked(qvec []float32, topK int, w weights) ([]Result, searchStats, error) {
	results, stats, err := r.vectorOnlyLocked(qvec, topK, w, nil)
	if err != nil {
		return nil, stats, err
	}
	for i := range results {
		if results[i].Metadata == nil {
			results[i].Metadata = make(map[string]any, 1)
		}
		results[i].Metadata["graph_neighbors"] = r.graph.NeighborIDs(results[i].NodeID)
	}
	return results, stats, nil
}

func (r *Retriever) balancedLocked(query string, qvec []float32, topK int, w weights) ([]Result, searchStats, error) {
	ghits, stats := r.graphCandidatesLocked(query)
	vhits, err := r.searchLocked(qvec, topK)
	if err != nil {
		return nil, stats, err
	}
	stats.documents = r.vectors.Len()
	return r.fuseLocked(ghits, vhits, w), stats, nil
}

// fuseLocked merges graph and vector hits by id. Ids on both sides score
// g*wg + v*wv; single-sided ids are scaled by their side's weight alone.
func (r *Retriever) fuseLocked(ghits []graphHit, vhits []vectorHit, w weights) []Result {
	results := make([]Result, 0, len(ghits)+len(vhits))
	pos := make(map[string]int, len(ghits))

	for _, h := range ghits {
		pos[h.id] = len(results)
		results = append(results, r.graphResultLocked(h, h.score*w.graph))
	}
	for _, h := range vhits {
		if i, ok := pos[h.id]; ok {
			results[i].VectorScore = h.similarity
			results[i].Score = fusedScore(results[i].GraphScore, h.similarity, w)
			continue
		}
		results = append(results, r.vectorResultLocked(h, h.similarity*w.vector))
	}
	return results
}

func fusedScore(graphScore, vectorScore float64, w weights) float64 {
	return graphScore*w.graph + vectorScore*w.vector
}

// vectorOnlyLocked runs a vector search and scores similarity*w.vector,
// skipping ids in exclude.
func (r *Retriever) vectorOnlyLocked(qvec []float32, topK int, w weights, exclude map[string]struct{}) ([]Result, searchStats, error) {
	hits, err := r.searchLocked(qvec, topK)
	if err != nil {
		return nil, searchStats{}, err
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		if _, skip := exclude[h.id]; skip {
			continue
		}
		results = append(results, r.vectorResultLocked(h, h.similarity*w.vector))
	}
	return results, searchStats{documents: r.vectors.Len()}, nil
}

func (r *Retriever) searchLocked(qvec []float32, topK int) ([]vectorHit, error) {
	matches, err := r.vectors.Search(qvec, topK, r.config.SimilarityThreshold)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	hits := make([]vectorHit, len(matches))
	for i, m := range matches {
		hits[i] = vectorHit{id: m.Entry.ID, similarity: m.Similarity}
	}
	return hits, nil
}

// graphCandidatesLocked finds keyword seeds and traverses from each. A node
// reached from several seeds keeps its highest accumulated weight. Seeds get
// SeedBoost. Scores are clamped to [0,1]. Hits are in discovery order.
func (r *Retriever) graphCandidatesLocked(query string) ([]graphHit, searchStats) {
	seeds := r.findSeedsLocked(query)
	if len(seeds) == 0 {
		return nil, searchStats{}
	}

	var hits []graphHit
	pos := make(map[string]int)
	for _, seed := range seeds {
		for _, v := range r.graph.WeightedTraversal(seed, r.config.MaxGraphDepth, r.config.TraversalThreshold) {
			if i, ok := pos[v.Node.ID]; ok {
				if v.Weight > hits[i].score {
					hits[i].score = v.Weight
				}
				continue
			}
			pos[v.Node.ID] = len(hits)
			hits = append(hits, graphHit{id: v.Node.ID, score: v.Weight})
		}
	}

	for _, seed := range seeds {
		if i, ok := pos[seed]; ok {
			hits[i].score += r.config.SeedBoost
		}
	}
	for i := range hits {
		hits[i].score = clamp01(hits[i].score)
	}
	return hits, searchStats{graphNodes: len(hits)}
}

// findSeedsLocked ranks nodes by how many distinct lower-cased query tokens
// their lower-cased content contains. Ties keep insertion order.
func (r *Retriever) findSeedsLocked(query string) []string {
	tokens := uniqueTokens(query)
	if len(tokens) == 0 {
		return nil
	}

	type scored struct {
		id    string
		count int
	}
	var candidates []scored
	for _, n := range r.graph.Nodes() {
		content := strings.ToLower(n.Content)
		count := 0
		for _, tok := range tokens {
			if strings.Contains(content, tok) {
				count++
			}
		}
		if count > 0 {
			candidates = append(candidates, scored{id: n.ID, count: count})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].count > candidates[j].count
	})
	if len(candidates) > r.config.MaxSeeds {
		candidates = candidates[:r.config.MaxSeeds]
	}

	seeds := make([]string, len(candidates))
	for i, c := range candidates {
		seeds[i] = c.id
	}
	return seeds
}

func (r *Retriever) graphResultLocked(h graphHit, score float64) Result {
	res := Result{
		NodeID:     h.id,
		Score:      score,
		GraphScore: h.score,
	}
	if n, ok := r.graph.GetNode(h.id); ok {
		res.Content = n.Content
		res.Metadata = n.Metadata
		if src, ok := n.Metadata["source"].(string); ok {
			res.Source = src
		}
	}
	return res
}

func (r *Retriever) vectorResultLocked(h vectorHit, score float64) Result {
	res := Result{
		NodeID:      h.id,
		Score:       score,
		VectorScore: h.similarity,
	}
	if e, ok := r.vectors.Get(h.id); ok {
		res.Content = e.Text
		res.Source = e.Source
		res.Metadata = maps.Clone(e.Metadata)
	}
	return res
}

func uniqueTokens(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	seen := make(map[string]struct{}, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// cacheResult stores rc unless Clear or Restore ran since gen was read, in
// which case rc may name nodes that no longer exist.
func (r *Retriever) cacheResult(key string, rc *RetrievalContext, gen uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.generation != gen {
		return false
	}
	r.results.Put(key, rc)
	return true
}
