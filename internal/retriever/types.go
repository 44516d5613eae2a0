package retriever

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/ctxgraph/internal/graph"
	"github.com/fyrsmithlabs/ctxgraph/internal/vectorindex"
)

var (
	// ErrInvalidInput indicates a malformed request such as an empty query.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidConfig indicates invalid retriever configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Strategy selects how graph and vector scores are fused.
type Strategy string

// Retrieval strategies.
const (
	StrategyGraphFirst  Strategy = "graph_first"
	StrategyVectorFirst Strategy = "vector_first"
	StrategyBalanced    Strategy = "balanced"
	StrategyAdaptive    Strategy = "adaptive"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyGraphFirst, StrategyVectorFirst, StrategyBalanced, StrategyAdaptive:
		return true
	}
	return false
}

// ParseStrategy converts s to a Strategy. An empty string yields "".
func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(s)
	if st != "" && !st.Valid() {
		return "", fmt.Errorf("%w: unknown strategy %q", ErrInvalidInput, s)
	}
	return st, nil
}

// Document is a unit of ingested knowledge.
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Source   string         `json:"source,omitempty"`
}

// Result is one ranked retrieval hit. Score is the fused score in [0,1].
type Result struct {
	NodeID      string         `json:"node_id"`
	Content     string         `json:"content"`
	Source      string         `json:"source,omitempty"`
	Score       float64        `json:"score"`
	GraphScore  float64        `json:"graph_score"`
	VectorScore float64        `json:"vector_score"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// RetrievalContext is the outcome of one retrieval. It is shared through the
// result cache and must not be modified.
type RetrievalContext struct {
	Query              string        `json:"query"`
	Results            []Result      `json:"results"`
	Elapsed            time.Duration `json:"elapsed"`
	Strategy           Strategy      `json:"strategy"`
	GraphNodesSearched int           `json:"graph_nodes_searched"`
	DocumentsSearched  int           `json:"documents_searched"`
	CreatedAt          time.Time     `json:"created_at"`
}

// Stats reports store and cache sizes.
type Stats struct {
	Nodes              int `json:"nodes"`
	Edges              int `json:"edges"`
	Vectors            int `json:"vectors"`
	ResultCacheSize    int `json:"result_cache_size"`
	EmbeddingCacheSize int `json:"embedding_cache_size"`
}

// Snapshot is the full engine state as an ordered record set.
type Snapshot struct {
	Dimension int                 `json:"dimension"`
	Nodes     []graph.Node        `json:"nodes"`
	Edges     []graph.Edge        `json:"edges"`
	Vectors   []vectorindex.Entry `json:"vectors"`
}
