package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ToolReferenceContent points a client at a discovered tool. mcp.Content has
// an unexported method, so the block embeds *mcp.TextContent and replaces its
// encoding.
type ToolReferenceContent struct {
	*mcp.TextContent
	ToolName string
}

// NewToolReferenceContent returns a tool_reference block for name.
func NewToolReferenceContent(name string) *ToolReferenceContent {
	return &ToolReferenceContent{TextContent: &mcp.TextContent{}, ToolName: name}
}

// MarshalJSON encodes {"type":"tool_reference","tool_name":name}.
func (c *ToolReferenceContent) MarshalJSON() ([]byte, error) {
	type ref struct {
		Type     string `json:"type"`
		ToolName string `json:"tool_name"`
	}
	return json.Marshal(ref{Type: "tool_reference", ToolName: c.ToolName})
}

type toolSearchInput struct {
	Query    string `json:"query" jsonschema:"required,Regex pattern or search query to find tools. Searches tool names, descriptions, and keywords (e.g., 'retrieve', 'graph_.*', '(?i)session')."`
	Category string `json:"category,omitempty" jsonschema:"Filter results to a specific category (knowledge, graph, session, search)"`
	Limit    int    `json:"limit,omitempty" jsonschema:"Maximum results to return (default: 5)"`
}

type toolSummary struct {
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	Category     ToolCategory `json:"category"`
	DeferLoading bool         `json:"defer_loading"`
	Keywords     []string     `json:"keywords,omitempty"`
	Score        int          `json:"score,omitempty"`
	MatchReason  string       `json:"match_reason,omitempty"`
}

type toolSearchOutput struct {
	Query      string        `json:"query" jsonschema:"Search query used"`
	Results    []toolSummary `json:"results" jsonschema:"Matching tools with name, description, category, and match score"`
	Count      int           `json:"count" jsonschema:"Number of tools found"`
	TotalTools int           `json:"total_tools" jsonschema:"Total number of tools in registry"`
}

type toolListInput struct {
	Category     string `json:"category,omitempty" jsonschema:"Filter to a specific category"`
	DeferredOnly bool   `json:"deferred_only,omitempty" jsonschema:"Only list deferred tools (default: false)"`
}

type toolListOutput struct {
	Tools []toolSummary `json:"tools" jsonschema:"List of all registered tools with metadata"`
	Count int           `json:"count" jsonschema:"Number of tools returned"`
}

func summarizeTool(tool *ToolMetadata) toolSummary {
	return toolSummary{
		Name:         tool.Name,
		Description:  tool.Description,
		Category:     tool.Category,
		DeferLoading: tool.DeferLoading,
		Keywords:     tool.Keywords,
	}
}

func (s *Server) registerSearchTools() {
	addTool(s, &ToolMetadata{
		Name:        "tool_search",
		Description: "Search for available tools by name, description, or keyword. Returns tool_reference blocks for discovered tools.",
		Category:    CategorySearch,
		Keywords:    []string{"discover", "find", "tools"},
	}, func(ctx context.Context, args toolSearchInput) (*mcp.CallToolResult, toolSearchOutput, error) {
		if args.Query == "" {
			return nil, toolSearchOutput{}, fmt.Errorf("query is required")
		}

		limit := args.Limit
		if limit <= 0 {
			limit = 5
		}
		var hits []*SearchResult
		if args.Category != "" {
			hits = s.registry.SearchByCategory(args.Query, ToolCategory(args.Category))
		} else {
			hits = s.registry.Search(args.Query)
		}
		hits = hits[:min(limit, len(hits))]

		output := toolSearchOutput{
			Query:      args.Query,
			Results:    make([]toolSummary, len(hits)),
			Count:      len(hits),
			TotalTools: s.registry.Count(),
		}
		names := make([]string, len(hits))
		refs := make([]mcp.Content, 0, len(hits)+1)
		refs = append(refs, nil)
		for i, hit := range hits {
			output.Results[i] = summarizeTool(hit.Tool)
			output.Results[i].Score = hit.Score
			output.Results[i].MatchReason = hit.MatchReason
			names[i] = hit.Tool.Name
			refs = append(refs, NewToolReferenceContent(hit.Tool.Name))
		}

		summary := fmt.Sprintf("No tools found matching: %s", args.Query)
		if len(names) > 0 {
			summary = fmt.Sprintf("Found %d tool(s) for query '%s': %s", len(names), args.Query, strings.Join(names, ", "))
		}
		refs[0] = &mcp.TextContent{Text: summary}
		return &mcp.CallToolResult{Content: refs}, output, nil
	})

	addTool(s, &ToolMetadata{
		Name:        "tool_list",
		Description: "List all available tools in the registry with their metadata.",
		Category:    CategorySearch,
		Keywords:    []string{"catalog", "tools"},
	}, func(ctx context.Context, args toolListInput) (*mcp.CallToolResult, toolListOutput, error) {
		var tools []*ToolMetadata
		switch {
		case args.Category != "":
			tools = s.registry.ListByCategory(ToolCategory(args.Category))
		case args.DeferredOnly:
			tools = s.registry.ListDeferred()
		default:
			tools = s.registry.List()
		}

		results := make([]toolSummary, 0, len(tools))
		for _, tool := range tools {
			results = append(results, summarizeTool(tool))
		}
		output := toolListOutput{Tools: results, Count: len(results)}
		return textResult("Found %d tools", output.Count), output, nil
	})
}
