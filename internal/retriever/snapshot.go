package retriever

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxgraph/internal/graph"
	"github.com/fyrsmithlabs/ctxgraph/internal/vectorindex"
)

// Snapshot returns the full engine state: nodes and edges in insertion order
// and vectors in insertion order. Node weights are included.
func (r *Retriever) Snapshot(ctx context.Context) Snapshot {
	_, span := tracer.Start(ctx, "retriever.Snapshot")
	defer span.End()

	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Snapshot{
		Dimension: r.vectors.Dimension(),
		Nodes:     r.graph.Nodes(),
		Edges:     r.graph.Edges(),
		Vectors:   r.vectors.Entries(),
	}
	span.SetAttributes(
		attribute.Int("nodes", len(s.Nodes)),
		attribute.Int("edges", len(s.Edges)),
		attribute.Int("vectors", len(s.Vectors)),
	)
	return s
}

// Restore replaces the engine state with s. The record set is loaded into
// fresh stores first; on any error the current state is left untouched.
// The result cache is cleared since cached contexts describe the old state.
func (r *Retriever) Restore(ctx context.Context, s Snapshot) error {
	_, span := tracer.Start(ctx, "retriever.Restore")
	defer span.End()

	dim := r.embedder.Dimension()
	if s.Dimension != 0 && s.Dimension != dim {
		return spanError(span, fmt.Errorf("%w: snapshot dimension %d, want %d",
			vectorindex.ErrDimensionMismatch, s.Dimension, dim))
	}

	g := graph.New()
	for i, n := range s.Nodes {
		if n.ID == "" {
			return spanError(span, fmt.Errorf("%w: node %d has no id", ErrInvalidInput, i))
		}
		g.RestoreNode(n)
	}
	for i, e := range s.Edges {
		if err := g.RestoreEdge(e); err != nil {
			return spanError(span, fmt.Errorf("restoring edge %d: %w", i, err))
		}
	}

	ix := vectorindex.New(dim)
	for i, v := range s.Vectors {
		if err := ix.Add(v); err != nil {
			return spanError(span, fmt.Errorf("restoring vector %d (%q): %w", i, v.ID, err))
		}
	}

	r.mu.Lock()
	r.graph = g
	r.vectors = ix
	r.generation++
	r.results.Clear()
	r.mu.Unlock()

	r.logger.Info("retriever restored",
		zap.Int("nodes", len(s.Nodes)),
		zap.Int("edges", len(s.Edges)),
		zap.Int("vectors", len(s.Vectors)))
	return nil
}
