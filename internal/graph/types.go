package graph

import (
	"fmt"
	"maps"
	"time"
)

// NodeKind classifies a knowledge node.
type NodeKind string

// Node kinds.
const (
	KindConcept  NodeKind = "concept"
	KindDocument NodeKind = "document"
	KindTask     NodeKind = "task"
	KindAgent    NodeKind = "agent"
	KindTool     NodeKind = "tool"
	KindResult   NodeKind = "result"
	KindContext  NodeKind = "context"
)

// Valid reports whether k is a known node kind.
func (k NodeKind) Valid() bool {
	switch k {
	case KindConcept, KindDocument, KindTask, KindAgent, KindTool, KindResult, KindContext:
		return true
	}
	return false
}

// EdgeKind labels a directed relationship.
type EdgeKind string

// Edge kinds.
const (
	EdgeReferences EdgeKind = "references"
	EdgeDependsOn  EdgeKind = "depends_on"
	EdgeContains   EdgeKind = "contains"
	EdgeRelatedTo  EdgeKind = "related_to"
	EdgeProduces   EdgeKind = "produces"
	EdgeConsumes   EdgeKind = "consumes"
	EdgeImplements EdgeKind = "implements"
)

// Valid reports whether k is a known edge kind.
func (k EdgeKind) Valid() bool {
	switch k {
	case EdgeReferences, EdgeDependsOn, EdgeContains, EdgeRelatedTo,
		EdgeProduces, EdgeConsumes, EdgeImplements:
		return true
	}
	return false
}

// ParseEdgeKind converts s to an EdgeKind.
func ParseEdgeKind(s string) (EdgeKind, error) {
	k := EdgeKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown edge kind %q", s)
	}
	return k, nil
}

// DefaultWeight is assigned to nodes and edges created without a weight.
const DefaultWeight = 1.0

// Node is a unit of knowledge.
type Node struct {
	ID        string         `json:"id"`
	Kind      NodeKind       `json:"kind"`
	Content   string         `json:"content"`
	Weight    float64        `json:"weight"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func (n Node) clone() Node {
	n.Metadata = maps.Clone(n.Metadata)
	return n
}

// Edge is a directed, typed, weighted relationship. Its identity is the
// (SourceID, TargetID, Kind) triple.
type Edge struct {
	SourceID string         `json:"source_id"`
	TargetID string         `json:"target_id"`
	Kind     EdgeKind       `json:"kind"`
	Weight   float64        `json:"weight"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (e Edge) clone() Edge {
	e.Metadata = maps.Clone(e.Metadata)
	return e
}

// Visit is a node reached by WeightedTraversal with the accumulated weight
// at its first visitation.
type Visit struct {
	Node   Node
	Weight float64
	Depth  int
}
