package mcp

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
	"sync"
)

// ToolCategory represents the functional category of a tool.
type ToolCategory string

const (
	// CategoryKnowledge is for ingestion and retrieval tools.
	CategoryKnowledge ToolCategory = "knowledge"
	// CategoryGraph is for relationship and traversal tools.
	CategoryGraph ToolCategory = "graph"
	// CategorySession is for per-agent session and preference tools.
	CategorySession ToolCategory = "session"
	// CategorySearch is for tool discovery (tool_search itself).
	CategorySearch ToolCategory = "search"
)

// Valid reports whether c is a known category.
func (c ToolCategory) Valid() bool {
	switch c {
	case CategoryKnowledge, CategoryGraph, CategorySession, CategorySearch:
		return true
	}
	return false
}

// ToolMetadata describes one MCP tool for discovery.
type ToolMetadata struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Category    ToolCategory `json:"category"`

	// DeferLoading marks tools that clients find through tool_search
	// instead of the initial tool list.
	DeferLoading bool `json:"defer_loading"`

	// Keywords are extra search terms.
	Keywords []string `json:"keywords,omitempty"`
}

// ToolRegistry indexes tool metadata by name. It is safe for concurrent use.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]*ToolMetadata
}

// NewToolRegistry returns an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: map[string]*ToolMetadata{}}
}

// ErrToolNotFound is returned by Get for unknown tool names.
var ErrToolNotFound = errors.New("tool not found")

func validateTool(tool *ToolMetadata) error {
	switch {
	case tool == nil:
		return fmt.Errorf("tool metadata is required")
	case tool.Name == "":
		return fmt.Errorf("tool name is required")
	case tool.Description == "":
		return fmt.Errorf("tool %q: tool description is required", tool.Name)
	case tool.Category == "":
		return fmt.Errorf("tool %q: tool category is required", tool.Name)
	case !tool.Category.Valid():
		return fmt.Errorf("tool %q: unknown category %q", tool.Name, tool.Category)
	}
	return nil
}

// Register adds one tool. Names are unique.
func (r *ToolRegistry) Register(tool *ToolMetadata) error {
	return r.RegisterAll([]*ToolMetadata{tool})
}

// RegisterAll adds every tool or, on the first invalid or duplicate entry,
// none of them.
func (r *ToolRegistry) RegisterAll(tools []*ToolMetadata) error {
	batch := make(map[string]*ToolMetadata, len(tools))
	for _, tool := range tools {
		if err := validateTool(tool); err != nil {
			return err
		}
		if batch[tool.Name] != nil {
			return fmt.Errorf("duplicate tool name %q in batch", tool.Name)
		}
		batch[tool.Name] = tool
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for name := range batch {
		if r.tools[name] != nil {
			return fmt.Errorf("tool %q already registered", name)
		}
	}
	maps.Copy(r.tools, batch)
	return nil
}

// Get looks a tool up by name.
func (r *ToolRegistry) Get(name string) (*ToolMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if tool := r.tools[name]; tool != nil {
		return tool, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// List returns every tool sorted by name.
func (r *ToolRegistry) List() []*ToolMetadata {
	return r.filter(func(*ToolMetadata) bool { return true })
}

// ListNames returns every tool name in sorted order.
func (r *ToolRegistry) ListNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.tools))
}

// ListByCategory returns the tools in category sorted by name.
func (r *ToolRegistry) ListByCategory(category ToolCategory) []*ToolMetadata {
	return r.filter(func(t *ToolMetadata) bool { return t.Category == category })
}

// ListDeferred returns the defer-loaded tools sorted by name.
func (r *ToolRegistry) ListDeferred() []*ToolMetadata {
	return r.filter(func(t *ToolMetadata) bool { return t.DeferLoading })
}

func (r *ToolRegistry) filter(keep func(*ToolMetadata) bool) []*ToolMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*ToolMetadata{}
	for _, tool := range r.tools {
		if keep(tool) {
			out = append(out, tool)
		}
	}
	slices.SortFunc(out, func(a, b *ToolMetadata) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// SearchResult is one tool_search hit. Score is 3 for an exact name, 2 for a
// name match and 1 for a description or keyword match.
type SearchResult struct {
	Tool        *ToolMetadata `json:"tool"`
	Score       int           `json:"score"`
	MatchReason string        `json:"match_reason"`
}

// matcher tests one field of a tool against a lowercased query and an
// optional case-insensitive pattern.
type matcher struct {
	score  int
	reason string
	match  func(t *ToolMetadata, query string, re *regexp.Regexp) bool
}

var matchers = []matcher{
	{3, "exact name match", func(t *ToolMetadata, q string, _ *regexp.Regexp) bool {
		return strings.ToLower(t.Name) == q
	}},
	{2, "name contains query", func(t *ToolMetadata, q string, _ *regexp.Regexp) bool {
		return strings.Contains(strings.ToLower(t.Name), q)
	}},
	{2, "name matches pattern", func(t *ToolMetadata, _ string, re *regexp.Regexp) bool {
		return re != nil && re.MatchString(t.Name)
	}},
	{1, "description contains query", func(t *ToolMetadata, q string, _ *regexp.Regexp) bool {
		return strings.Contains(strings.ToLower(t.Description), q)
	}},
	{1, "description matches pattern", func(t *ToolMetadata, _ string, re *regexp.Regexp) bool {
		return re != nil && re.MatchString(t.Description)
	}},
	{1, "keyword contains query", func(t *ToolMetadata, q string, _ *regexp.Regexp) bool {
		return slices.ContainsFunc(t.Keywords, func(kw string) bool {
			return strings.Contains(strings.ToLower(kw), q)
		})
	}},
	{1, "keyword matches pattern", func(t *ToolMetadata, _ string, re *regexp.Regexp) bool {
		return re != nil && slices.ContainsFunc(t.Keywords, re.MatchString)
	}},
}

// Search matches query case-insensitively against names, descriptions and
// keywords, first as a substring and then as a regular expression when it
// compiles. Each tool is reported once, under its best match. Results are
// ordered by score, then name.
func (r *ToolRegistry) Search(query string) []*SearchResult {
	if query == "" {
		return nil
	}
	q := strings.ToLower(query)
	re, _ := regexp.Compile("(?i)" + query) // nil when query is not a valid pattern

	r.mu.RLock()
	defer r.mu.RUnlock()
	var results []*SearchResult
	for _, tool := range r.tools {
		for _, m := range matchers {
			if m.match(tool, q, re) {
				results = append(results, &SearchResult{Tool: tool, Score: m.score, MatchReason: m.reason})
				break
			}
		}
	}
	slices.SortStableFunc(results, func(a, b *SearchResult) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Tool.Name, b.Tool.Name)
	})
	return results
}

// SearchByCategory is Search restricted to one category.
func (r *ToolRegistry) SearchByCategory(query string, category ToolCategory) []*SearchResult {
	return slices.DeleteFunc(r.Search(query), func(res *SearchResult) bool {
		return res.Tool.Category != category
	})
}
