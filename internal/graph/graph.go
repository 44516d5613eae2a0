// Package graph implements an in-memory directed, weighted, labeled
// multigraph of knowledge nodes with traversal algorithms.
//
// Nodes and edges live in slot arenas addressed by integer index. Adjacency
// is kept per node as lists of edge slots in both directions, so removing a
// node cascades to every incident edge without pointer cycles.
package graph

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// ErrEndpointNotFound is returned when an edge references a missing node.
var ErrEndpointNotFound = errors.New("edge endpoint not found")

type nodeSlot struct {
	node Node
	seq  uint64
	live bool
	out  []int
	in   []int
}

type edgeSlot struct {
	edge Edge
	src  int
	dst  int
	seq  uint64
	live bool
}

type edgeKey struct {
	source string
	target string
	kind   EdgeKind
}

// Store is the graph store. All methods are safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	nodes     []nodeSlot
	nodeIndex map[string]int
	freeNodes []int

	edges     []edgeSlot
	edgeIndex map[edgeKey]int
	freeEdges []int

	seq uint64
	now func() time.Time
}

// New creates an empty graph store.
func New() *Store {
	return &Store{
		nodeIndex: make(map[string]int),
		edgeIndex: make(map[edgeKey]int),
		now:       time.Now,
	}
}

// AddNode inserts node, or overwrites the node with the same id. Adjacency
// of an existing node is kept. A zero Weight becomes DefaultWeight and a
// zero CreatedAt becomes the current time.
func (s *Store) AddNode(node Node) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if node.Weight == 0 {
		node.Weight = DefaultWeight
	}
	if node.CreatedAt.IsZero() {
		node.CreatedAt = s.now()
	}
	s.putNodeLocked(node)
}

// RestoreNode inserts node exactly as given, zero Weight included. It is the
// load path for snapshots; everything else goes through AddNode.
func (s *Store) RestoreNode(node Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putNodeLocked(node)
}

func (s *Store) putNodeLocked(node Node) {
	node = node.clone()

	if idx, ok := s.nodeIndex[node.ID]; ok {
		s.nodes[idx].node = node
		return
	}

	s.seq++
	slot := nodeSlot{node: node, seq: s.seq, live: true}
	var idx int
	if n := len(s.freeNodes); n > 0 {
		idx = s.freeNodes[n-1]
		s.freeNodes = s.freeNodes[:n-1]
		s.nodes[idx] = slot
	} else {
		idx = len(s.nodes)
		s.nodes = append(s.nodes, slot)
	}
	s.nodeIndex[node.ID] = idx
}

// RemoveNode deletes the node and every edge touching it. It returns false if
// the node does not exist.
func (s *Store) RemoveNode(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.nodeIndex[id]
	if !ok {
		return false
	}

	// Copy the lists since removeEdgeLocked edits them. A self-loop appears
	// in both lists; the second removal is skipped by the live check.
	incident := append(slices.Clone(s.nodes[idx].out), s.nodes[idx].in...)
	for _, e := range incident {
		if s.edges[e].live {
			s.removeEdgeLocked(e)
		}
	}

	delete(s.nodeIndex, id)
	s.nodes[idx] = nodeSlot{}
	s.freeNodes = append(s.freeNodes, idx)
	return true
}

// AddEdge inserts edge. Both endpoints must exist, otherwise
// ErrEndpointNotFound is returned and the graph is unchanged. Inserting a
// triple that already exists is a no-op. A zero Weight becomes DefaultWeight.
func (s *Store) AddEdge(edge Edge) error {
	if edge.Weight == 0 {
		edge.Weight = DefaultWeight
	}
	return s.RestoreEdge(edge)
}

// RestoreEdge is AddEdge without the weight default, for loading snapshots.
func (s *Store) RestoreEdge(edge Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.nodeIndex[edge.SourceID]
	if !ok {
		return fmt.Errorf("%w: source %q", ErrEndpointNotFound, edge.SourceID)
	}
	dst, ok := s.nodeIndex[edge.TargetID]
	if !ok {
		return fmt.Errorf("%w: target %q", ErrEndpointNotFound, edge.TargetID)
	}

	key := edgeKey{source: edge.SourceID, target: edge.TargetID, kind: edge.Kind}
	if _, exists := s.edgeIndex[key]; exists {
		return nil
	}

	s.seq++
	slot := edgeSlot{edge: edge.clone(), src: src, dst: dst, seq: s.seq, live: true}
	var idx int
	if n := len(s.freeEdges); n > 0 {
		idx = s.freeEdges[n-1]
		s.freeEdges = s.freeEdges[:n-1]
		s.edges[idx] = slot
	} else {
		idx = len(s.edges)
		s.edges = append(s.edges, slot)
	}
	s.edgeIndex[key] = idx
	s.nodes[src].out = append(s.nodes[src].out, idx)
	s.nodes[dst].in = append(s.nodes[dst].in, idx)
	return nil
}

// RemoveEdge deletes the edge identified by the triple and reports whether it
// existed.
func (s *Store) RemoveEdge(source, target string, kind EdgeKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.edgeIndex[edgeKey{source: source, target: target, kind: kind}]
	if !ok {
		return false
	}
	s.removeEdgeLocked(idx)
	return true
}

func (s *Store) removeEdgeLocked(idx int) {
	slot := s.edges[idx]
	s.nodes[slot.src].out = removeIndex(s.nodes[slot.src].out, idx)
	s.nodes[slot.dst].in = removeIndex(s.nodes[slot.dst].in, idx)
	delete(s.edgeIndex, edgeKey{source: slot.edge.SourceID, target: slot.edge.TargetID, kind: slot.edge.Kind})
	s.edges[idx] = edgeSlot{}
	s.freeEdges = append(s.freeEdges, idx)
}

func removeIndex(list []int, v int) []int {
	if i := slices.Index(list, v); i >= 0 {
		return slices.Delete(list, i, i+1)
	}
	return list
}

// GetNode returns the node with the given id.
func (s *Store) GetNode(id string) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.nodeIndex[id]
	if !ok {
		return Node{}, false
	}
	return s.nodes[idx].node.clone(), true
}

// HasNode reports whether id exists.
func (s *Store) HasNode(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.nodeIndex[id]
	return ok
}

// UpdateWeight sets the weight of an existing node.
func (s *Store) UpdateWeight(id string, weight float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.nodeIndex[id]
	if !ok {
		return false
	}
	s.nodes[idx].node.Weight = weight
	return true
}

// Nodes returns every node in insertion order.
func (s *Store) Nodes() []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idxs := s.liveNodesLocked()
	out := make([]Node, 0, len(idxs))
	for _, idx := range idxs {
		out = append(out, s.nodes[idx].node.clone())
	}
	return out
}

// Edges returns every edge in insertion order.
func (s *Store) Edges() []Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idxs := make([]int, 0, len(s.edgeIndex))
	for idx := range s.edges {
		if s.edges[idx].live {
			idxs = append(idxs, idx)
		}
	}
	slices.SortFunc(idxs, func(a, b int) int {
		return cmpSeq(s.edges[a].seq, s.edges[b].seq)
	})

	out := make([]Edge, 0, len(idxs))
	for _, idx := range idxs {
		out = append(out, s.edges[idx].edge.clone())
	}
	return out
}

func (s *Store) liveNodesLocked() []int {
	idxs := make([]int, 0, len(s.nodeIndex))
	for idx := range s.nodes {
		if s.nodes[idx].live {
			idxs = append(idxs, idx)
		}
	}
	slices.SortFunc(idxs, func(a, b int) int {
		return cmpSeq(s.nodes[a].seq, s.nodes[b].seq)
	})
	return idxs
}

func cmpSeq(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Neighbors returns the distinct targets of id's outgoing edges in the order
// the edges were added.
func (s *Store) Neighbors(id string) []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.nodeIndex[id]
	if !ok {
		return nil
	}
	return s.collectLocked(s.nodes[idx].out, func(e edgeSlot) int { return e.dst })
}

// Incoming returns the distinct sources of id's incoming edges in the order
// the edges were added.
func (s *Store) Incoming(id string) []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.nodeIndex[id]
	if !ok {
		return nil
	}
	return s.collectLocked(s.nodes[idx].in, func(e edgeSlot) int { return e.src })
}

// NeighborIDs is Neighbors reduced to ids.
func (s *Store) NeighborIDs(id string) []string {
	nodes := s.Neighbors(id)
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}

func (s *Store) collectLocked(edges []int, end func(edgeSlot) int) []Node {
	seen := make(map[int]struct{}, len(edges))
	out := make([]Node, 0, len(edges))
	for _, e := range edges {
		n := end(s.edges[e])
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, s.nodes[n].node.clone())
	}
	return out
}

// Size returns the node and edge counts.
func (s *Store) Size() (nodes, edges int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodeIndex), len(s.edgeIndex)
}

// Clear removes every node and edge.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes = nil
	s.nodeIndex = make(map[string]int)
	s.freeNodes = nil
	s.edges = nil
	s.edgeIndex = make(map[edgeKey]int)
	s.freeEdges = nil
}
