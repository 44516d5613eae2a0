package graph

import "slices"

// BFS walks outgoing edges breadth-first from start. Each node is visited at
// most once and nodes up to maxDepth hops away are included. When kinds are
// given, only nodes of those kinds appear in the result; filtered nodes are
// still expanded. The result is in visitation order, start first.
func (s *Store) BFS(start string, maxDepth int, kinds ...NodeKind) []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	startIdx, ok := s.nodeIndex[start]
	if !ok {
		return nil
	}

	type item struct {
		idx   int
		depth int
	}

	visited := map[int]struct{}{startIdx: {}}
	queue := []item{{idx: startIdx}}
	var out []Node

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		n := s.nodes[cur.idx].node
		if len(kinds) == 0 || slices.Contains(kinds, n.Kind) {
			out = append(out, n.clone())
		}
		if cur.depth >= maxDepth {
			continue
		}

		for _, e := range s.nodes[cur.idx].out {
			next := s.edges[e].dst
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			queue = append(queue, item{idx: next, depth: cur.depth + 1})
		}
	}
	return out
}

// WeightedTraversal walks outgoing edges breadth-first from start while
// accumulating weight along the path. The start node has weight 1.0; moving
// from u along e yields acc(u) * e.Weight * u.Weight. A node is kept only if
// that value is at least threshold, and the first visitation fixes its
// weight. Nodes up to maxDepth hops away are included.
func (s *Store) WeightedTraversal(start string, maxDepth int, threshold float64) []Visit {
	s.mu.RLock()
	defer s.mu.RUnlock()

	startIdx, ok := s.nodeIndex[start]
	if !ok {
		return nil
	}

	type item struct {
		idx   int
		acc   float64
		depth int
	}

	visited := map[int]struct{}{startIdx: {}}
	queue := []item{{idx: startIdx, acc: 1.0}}
	var out []Visit

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		u := s.nodes[cur.idx].node
		out = append(out, Visit{Node: u.clone(), Weight: cur.acc, Depth: cur.depth})
		if cur.depth >= maxDepth {
			continue
		}

		for _, e := range s.nodes[cur.idx].out {
			slot := s.edges[e]
			if _, seen := visited[slot.dst]; seen {
				continue
			}
			acc := cur.acc * slot.edge.Weight * u.Weight
			if acc < threshold {
				continue
			}
			visited[slot.dst] = struct{}{}
			queue = append(queue, item{idx: slot.dst, acc: acc, depth: cur.depth + 1})
		}
	}
	return out
}

// FindPath returns the fewest-hop path of node ids from source to target
// following outgoing edges. It returns [source] when source equals target and
// false when either node is missing or target is more than maxDepth hops away.
func (s *Store) FindPath(source, target string, maxDepth int) ([]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	srcIdx, ok := s.nodeIndex[source]
	if !ok {
		return nil, false
	}
	dstIdx, ok := s.nodeIndex[target]
	if !ok {
		return nil, false
	}
	if srcIdx == dstIdx {
		return []string{source}, true
	}

	parent := map[int]int{srcIdx: -1}
	frontier := []int{srcIdx}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []int
		for _, idx := range frontier {
			for _, e := range s.nodes[idx].out {
				dst := s.edges[e].dst
				if _, seen := parent[dst]; seen {
					continue
				}
				parent[dst] = idx
				if dst == dstIdx {
					return s.pathLocked(parent, dstIdx), true
				}
				next = append(next, dst)
			}
		}
		frontier = next
	}
	return nil, false
}

func (s *Store) pathLocked(parent map[int]int, end int) []string {
	var path []string
	for idx := end; idx != -1; idx = parent[idx] {
		path = append(path, s.nodes[idx].node.ID)
	}
	slices.Reverse(path)
	return path
}
