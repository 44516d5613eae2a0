// Package vectorindex stores fixed-dimension embeddings and answers
// exhaustive cosine-similarity top-k queries.
package vectorindex

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"sort"
	"sync"
)

// ErrDimensionMismatch is returned when an embedding or query does not have
// the index dimension.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Entry is an embedding with the text and metadata it was computed from.
type Entry struct {
	ID        string         `json:"id"`
	Embedding []float32      `json:"embedding"`
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Source    string         `json:"source,omitempty"`
}

func (e Entry) clone() Entry {
	e.Embedding = slices.Clone(e.Embedding)
	e.Metadata = maps.Clone(e.Metadata)
	return e
}

// Match is a search hit.
type Match struct {
	Entry      Entry
	Similarity float64
}

// Index is a brute-force vector index. Entries are kept in insertion order so
// that equal similarities rank deterministically. Safe for concurrent use.
type Index struct {
	mu        sync.RWMutex
	dimension int
	entries   []Entry
	positions map[string]int
}

// New creates an index for embeddings of the given dimension.
func New(dimension int) *Index {
	return &Index{
		dimension: dimension,
		positions: make(map[string]int),
	}
}

// Dimension returns the embedding dimension.
func (ix *Index) Dimension() int {
	return ix.dimension
}

// Add stores entry, replacing any entry with the same id in place. The index
// keeps its own copy of the embedding.
func (ix *Index) Add(entry Entry) error {
	if len(entry.Embedding) != ix.dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(entry.Embedding), ix.dimension)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	entry = entry.clone()
	if pos, ok := ix.positions[entry.ID]; ok {
		ix.entries[pos] = entry
		return nil
	}
	ix.positions[entry.ID] = len(ix.entries)
	ix.entries = append(ix.entries, entry)
	return nil
}

// Remove deletes the entry with id and reports whether it existed.
func (ix *Index) Remove(id string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	pos, ok := ix.positions[id]
	if !ok {
		return false
	}
	ix.entries = slices.Delete(ix.entries, pos, pos+1)
	delete(ix.positions, id)
	for i := pos; i < len(ix.entries); i++ {
		ix.positions[ix.entries[i].ID] = i
	}
	return true
}

// Get returns the entry with id.
func (ix *Index) Get(id string) (Entry, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	pos, ok := ix.positions[id]
	if !ok {
		return Entry{}, false
	}
	return ix.entries[pos].clone(), true
}

// Len returns the number of entries.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Entries returns a copy of every entry in insertion order.
func (ix *Index) Entries() []Entry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]Entry, len(ix.entries))
	for i, e := range ix.entries {
		out[i] = e.clone()
	}
	return out
}

// Clear removes every entry.
func (ix *Index) Clear() {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.entries = nil
	ix.positions = make(map[string]int)
}

// Search returns up to topK entries whose cosine similarity to query is at
// least threshold, most similar first. Equal similarities keep insertion
// order. A non-positive topK returns every match.
func (ix *Index) Search(query []float32, topK int, threshold float64) ([]Match, error) {
	if len(query) != ix.dimension {
		return nil, fmt.Errorf("%w: query has %d, want %d", ErrDimensionMismatch, len(query), ix.dimension)
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	matches := make([]Match, 0, len(ix.entries))
	for _, e := range ix.entries {
		sim := CosineSimilarity(query, e.Embedding)
		if sim < threshold {
			continue
		}
		matches = append(matches, Match{Entry: e, Similarity: sim})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}

	for i := range matches {
		matches[i].Entry = matches[i].Entry.clone()
	}
	return matches, nil
}

// BatchSearch runs Search for each query independently. It fails on the
// first query with the wrong dimension.
func (ix *Index) BatchSearch(queries [][]float32, topK int, threshold float64) ([][]Match, error) {
	out := make([][]Match, len(queries))
	for i, q := range queries {
		matches, err := ix.Search(q, topK, threshold)
		if err != nil {
			return nil, fmt.Errorf("query %d: %w", i, err)
		}
		out[i] = matches
	}
	return out, nil
}

// CosineSimilarity returns dot(a,b) / (|a|*|b|), or 0 when either vector has
// zero magnitude or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
