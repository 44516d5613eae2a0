package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxgraph/internal/graph"
	"github.com/fyrsmithlabs/ctxgraph/internal/logging"
	"github.com/fyrsmithlabs/ctxgraph/internal/retriever"
	"github.com/fyrsmithlabs/ctxgraph/internal/session"
)

var errNodeNotFound = errors.New("node not found")

// maxPathDepth bounds graph_path when the caller passes no depth.
const maxPathDepth = 5

// toolFunc is a tool body without the MCP request plumbing.
type toolFunc[In, Out any] func(ctx context.Context, args In) (*mcp.CallToolResult, Out, error)

// addTool records meta in the registry and registers fn with the MCP server,
// bracketed by invocation metrics.
func addTool[In, Out any](s *Server, meta *ToolMetadata, fn toolFunc[In, Out]) {
	if err := s.registry.Register(meta); err != nil {
		s.logger.Error("tool registration failed", zap.String("tool", meta.Name), zap.Error(err))
		return
	}
	name := meta.Name
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        name,
		Description: meta.Description,
	}, func(ctx context.Context, req *mcp.CallToolRequest, args In) (*mcp.CallToolResult, Out, error) {
		done := s.metrics.start(ctx, name)
		res, out, err := fn(ctx, args)
		done(err)
		if err != nil {
			fields := append([]zap.Field{zap.String("tool", name), zap.Error(err)}, logging.ContextFields(ctx)...)
			s.logger.Debug("tool failed", fields...)
		}
		return res, out, err
	})
}

func textResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
	}
}

// withAgent attaches the agent id and session key to ctx for logging.
func withAgent(ctx context.Context, agentID, query string) context.Context {
	tagged, err := logging.WithAgentID(ctx, agentID)
	if err != nil {
		return ctx
	}
	if query != "" {
		tagged = logging.WithSessionKey(tagged, session.SessionKey(agentID, query))
	}
	return tagged
}

func parseStrategy(s string) (retriever.Strategy, error) {
	if s == "" {
		return "", nil
	}
	st, err := retriever.ParseStrategy(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", retriever.ErrInvalidInput, err)
	}
	return st, nil
}

// summarize renders a retrieval context as one line per result.
func summarize(rc *retriever.RetrievalContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d result(s) for %q via %s", len(rc.Results), rc.Query, rc.Strategy)
	for i, r := range rc.Results {
		fmt.Fprintf(&b, "\n%d. [%s] %.3f %s", i+1, r.NodeID, r.Score, truncate(r.Content, 120))
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// ===== KNOWLEDGE TOOLS =====

type documentInput struct {
	ID       string         `json:"id" jsonschema:"required,Unique document id; re-ingesting an id replaces its content"`
	Content  string         `json:"content" jsonschema:"required,Document text"`
	Source   string         `json:"source,omitempty" jsonschema:"Where the document came from"`
	Metadata map[string]any `json:"metadata,omitempty" jsonschema:"Arbitrary metadata stored on the node"`
}

type ingestInput struct {
	Documents []documentInput `json:"documents" jsonschema:"required,Documents to add to the graph and vector index"`
}

type ingestOutput struct {
	Ingested int             `json:"ingested" jsonschema:"Number of documents ingested"`
	Stats    retriever.Stats `json:"stats" jsonschema:"Store sizes after ingestion"`
}

type retrieveInput struct {
	AgentID  string `json:"agent_id" jsonschema:"required,Calling agent id"`
	Query    string `json:"query" jsonschema:"required,Natural-language query"`
	TopK     int    `json:"top_k,omitempty" jsonschema:"Maximum results (default: agent preference or engine default)"`
	Strategy string `json:"strategy,omitempty" jsonschema:"graph_first, vector_first, balanced or adaptive"`
}

type retrieveIterativeInput struct {
	AgentID       string `json:"agent_id" jsonschema:"required,Calling agent id"`
	Query         string `json:"query" jsonschema:"required,Initial query"`
	MaxIterations int    `json:"max_iterations,omitempty" jsonschema:"Maximum refinement rounds (default: 3)"`
	Strategy      string `json:"strategy,omitempty" jsonschema:"graph_first, vector_first, balanced or adaptive"`
}

type retrieveIterativeOutput struct {
	Contexts []*retriever.RetrievalContext `json:"contexts" jsonschema:"One retrieval context per round"`
	Error    string                        `json:"error,omitempty" jsonschema:"Set when a later round failed after earlier rounds succeeded"`
}

type feedbackInput struct {
	AgentID string `json:"agent_id" jsonschema:"required,Calling agent id"`
	Query   string `json:"query" jsonschema:"required,Query whose stored results proved useful"`
}

type feedbackOutput struct {
	Updated int `json:"updated" jsonschema:"Number of node weights increased"`
}

type statsInput struct{}

func (s *Server) registerKnowledgeTools() {
	addTool(s, &ToolMetadata{
		Name:        "knowledge_ingest",
		Description: "Add or replace documents in the knowledge graph and vector index. Each document becomes a graph node and an embedding.",
		Category:    CategoryKnowledge,
		Keywords:    []string{"add", "index", "store", "document"},
	}, func(ctx context.Context, args ingestInput) (*mcp.CallToolResult, ingestOutput, error) {
		if len(args.Documents) == 0 {
			return nil, ingestOutput{}, fmt.Errorf("%w: documents are required", retriever.ErrInvalidInput)
		}
		docs := make([]retriever.Document, len(args.Documents))
		for i, d := range args.Documents {
			docs[i] = retriever.Document{ID: d.ID, Content: d.Content, Source: d.Source, Metadata: d.Metadata}
		}
		if err := s.engine.IngestBatch(ctx, docs); err != nil {
			return nil, ingestOutput{}, fmt.Errorf("ingest failed: %w", err)
		}
		out := ingestOutput{Ingested: len(docs), Stats: s.engine.Stats()}
		return textResult("Ingested %d document(s); graph has %d nodes", out.Ingested, out.Stats.Nodes), out, nil
	})

	addTool(s, &ToolMetadata{
		Name:        "knowledge_retrieve",
		Description: "Retrieve ranked context for a query by fusing graph traversal and vector similarity. Results are stored in the agent's session.",
		Category:    CategoryKnowledge,
		Keywords:    []string{"search", "query", "find", "hybrid", "context"},
	}, func(ctx context.Context, args retrieveInput) (*mcp.CallToolResult, retriever.RetrievalContext, error) {
		strategy, err := parseStrategy(args.Strategy)
		if err != nil {
			return nil, retriever.RetrievalContext{}, err
		}
		ctx = withAgent(ctx, args.AgentID, args.Query)
		rc, err := s.sessions.Retrieve(ctx, args.AgentID, args.Query, args.TopK, strategy)
		if err != nil {
			return nil, retriever.RetrievalContext{}, err
		}
		return textResult("%s", summarize(rc)), *rc, nil
	})

	addTool(s, &ToolMetadata{
		Name:         "knowledge_retrieve_iterative",
		Description:  "Retrieve over several rounds, refining the query from the best result of each round.",
		Category:     CategoryKnowledge,
		DeferLoading: true,
		Keywords:     []string{"refine", "multi-hop", "iterative"},
	}, func(ctx context.Context, args retrieveIterativeInput) (*mcp.CallToolResult, retrieveIterativeOutput, error) {
		strategy, err := parseStrategy(args.Strategy)
		if err != nil {
			return nil, retrieveIterativeOutput{}, err
		}
		ctx = withAgent(ctx, args.AgentID, args.Query)
		contexts, err := s.sessions.RetrieveIterative(ctx, args.AgentID, args.Query, args.MaxIterations, strategy)
		if err != nil && len(contexts) == 0 {
			return nil, retrieveIterativeOutput{}, err
		}
		out := retrieveIterativeOutput{Contexts: contexts}
		if err != nil {
			out.Error = err.Error()
		}
		lines := make([]string, 0, len(contexts))
		for i, rc := range contexts {
			lines = append(lines, fmt.Sprintf("round %d: %s", i+1, summarize(rc)))
		}
		return textResult("%s", strings.Join(lines, "\n")), out, nil
	})

	addTool(s, &ToolMetadata{
		Name:         "knowledge_feedback",
		Description:  "Mark the stored results of an earlier query as useful, raising the weight of their graph nodes.",
		Category:     CategoryKnowledge,
		DeferLoading: true,
		Keywords:     []string{"reinforce", "useful", "weight"},
	}, func(ctx context.Context, args feedbackInput) (*mcp.CallToolResult, feedbackOutput, error) {
		ctx = withAgent(ctx, args.AgentID, args.Query)
		n, err := s.sessions.Feedback(ctx, args.AgentID, args.Query)
		if err != nil {
			return nil, feedbackOutput{}, err
		}
		return textResult("Reinforced %d node(s)", n), feedbackOutput{Updated: n}, nil
	})

	addTool(s, &ToolMetadata{
		Name:         "knowledge_stats",
		Description:  "Report graph, vector index and cache sizes.",
		Category:     CategoryKnowledge,
		DeferLoading: true,
		Keywords:     []string{"size", "count", "status"},
	}, func(ctx context.Context, _ statsInput) (*mcp.CallToolResult, retriever.Stats, error) {
		st := s.engine.Stats()
		return textResult("%d nodes, %d edges, %d vectors", st.Nodes, st.Edges, st.Vectors), st, nil
	})
}

// ===== GRAPH TOOLS =====

type relateInput struct {
	SourceID string  `json:"source_id" jsonschema:"required,Source node id"`
	TargetID string  `json:"target_id" jsonschema:"required,Target node id"`
	Kind     string  `json:"kind" jsonschema:"required,references, depends_on, contains, related_to, produces, consumes or implements"`
	Weight   float64 `json:"weight,omitempty" jsonschema:"Edge weight (default: 1.0)"`
}

type relateOutput struct {
	SourceID string         `json:"source_id"`
	TargetID string         `json:"target_id"`
	Kind     graph.EdgeKind `json:"kind"`
}

type relatedInput struct {
	ID    string   `json:"id" jsonschema:"required,Start node id"`
	Depth int      `json:"depth,omitempty" jsonschema:"Maximum hops (default: 2)"`
	Kinds []string `json:"kinds,omitempty" jsonschema:"Only return nodes of these kinds"`
}

type relatedOutput struct {
	Nodes []graph.Node `json:"nodes" jsonschema:"Reachable nodes in breadth-first order, start node first"`
	Count int          `json:"count"`
}

type pathInput struct {
	SourceID string `json:"source_id" jsonschema:"required,Start node id"`
	TargetID string `json:"target_id" jsonschema:"required,Destination node id"`
	Depth    int    `json:"depth,omitempty" jsonschema:"Maximum hops (default: 5)"`
}

type pathOutput struct {
	Path  []string `json:"path,omitempty" jsonschema:"Node ids from source to target"`
	Found bool     `json:"found"`
}

func (s *Server) registerGraphTools() {
	addTool(s, &ToolMetadata{
		Name:        "graph_relate",
		Description: "Add a typed, weighted edge between two existing nodes.",
		Category:    CategoryGraph,
		Keywords:    []string{"edge", "link", "relationship", "connect"},
	}, func(ctx context.Context, args relateInput) (*mcp.CallToolResult, relateOutput, error) {
		kind, err := graph.ParseEdgeKind(args.Kind)
		if err != nil {
			return nil, relateOutput{}, fmt.Errorf("%w: %v", retriever.ErrInvalidInput, err)
		}
		if err := s.engine.AddRelationship(ctx, args.SourceID, args.TargetID, kind, args.Weight); err != nil {
			return nil, relateOutput{}, err
		}
		out := relateOutput{SourceID: args.SourceID, TargetID: args.TargetID, Kind: kind}
		return textResult("%s -[%s]-> %s", out.SourceID, kind, out.TargetID), out, nil
	})

	addTool(s, &ToolMetadata{
		Name:         "graph_related",
		Description:  "List nodes reachable from a node within a hop limit, optionally filtered by node kind.",
		Category:     CategoryGraph,
		DeferLoading: true,
		Keywords:     []string{"neighbors", "traverse", "bfs"},
	}, func(ctx context.Context, args relatedInput) (*mcp.CallToolResult, relatedOutput, error) {
		kinds := make([]graph.NodeKind, 0, len(args.Kinds))
		for _, k := range args.Kinds {
			nk := graph.NodeKind(k)
			if !nk.Valid() {
				return nil, relatedOutput{}, fmt.Errorf("%w: unknown node kind %q", retriever.ErrInvalidInput, k)
			}
			kinds = append(kinds, nk)
		}
		if _, ok := s.engine.GetNode(args.ID); !ok {
			return nil, relatedOutput{}, fmt.Errorf("%w: %s", errNodeNotFound, args.ID)
		}
		nodes := s.engine.Related(ctx, args.ID, args.Depth, kinds...)
		return textResult("%d node(s) related to %s", len(nodes), args.ID), relatedOutput{Nodes: nodes, Count: len(nodes)}, nil
	})

	addTool(s, &ToolMetadata{
		Name:         "graph_path",
		Description:  "Find the shortest path between two nodes following outgoing edges.",
		Category:     CategoryGraph,
		DeferLoading: true,
		Keywords:     []string{"route", "shortest", "connection"},
	}, func(ctx context.Context, args pathInput) (*mcp.CallToolResult, pathOutput, error) {
		depth := args.Depth
		if depth <= 0 {
			depth = maxPathDepth
		}
		path, found := s.engine.Path(ctx, args.SourceID, args.TargetID, depth)
		if !found {
			return textResult("No path from %s to %s within %d hops", args.SourceID, args.TargetID, depth), pathOutput{}, nil
		}
		return textResult("%s", strings.Join(path, " -> ")), pathOutput{Path: path, Found: true}, nil
	})
}

// ===== SESSION TOOLS =====

type agentInput struct {
	AgentID string `json:"agent_id" jsonschema:"required,Agent id"`
}

type preferencesInput struct {
	AgentID  string            `json:"agent_id" jsonschema:"required,Agent id"`
	Strategy string            `json:"strategy,omitempty" jsonschema:"Default strategy for this agent"`
	TopK     int               `json:"top_k,omitempty" jsonschema:"Default result count for this agent"`
	Extra    map[string]string `json:"extra,omitempty" jsonschema:"Free-form preferences"`
}

type clearOutput struct {
	Cleared int `json:"cleared" jsonschema:"Number of stored sessions removed"`
}

func (s *Server) registerSessionTools() {
	addTool(s, &ToolMetadata{
		Name:        "agent_context",
		Description: "Return an agent's preferences, stored retrieval sessions and engine stats.",
		Category:    CategorySession,
		Keywords:    []string{"history", "sessions", "preferences"},
	}, func(ctx context.Context, args agentInput) (*mcp.CallToolResult, session.AgentContext, error) {
		ac, err := s.sessions.AgentContext(args.AgentID)
		if err != nil {
			return nil, session.AgentContext{}, err
		}
		return textResult("Agent %s has %d stored session(s)", ac.AgentID, len(ac.Sessions)), *ac, nil
	})

	addTool(s, &ToolMetadata{
		Name:         "agent_preferences",
		Description:  "Set an agent's default retrieval strategy and result count.",
		Category:     CategorySession,
		DeferLoading: true,
		Keywords:     []string{"defaults", "configure", "strategy"},
	}, func(ctx context.Context, args preferencesInput) (*mcp.CallToolResult, session.Preferences, error) {
		strategy, err := parseStrategy(args.Strategy)
		if err != nil {
			return nil, session.Preferences{}, err
		}
		prefs := session.Preferences{Strategy: strategy, TopK: args.TopK, Extra: args.Extra}
		if err := s.sessions.SetPreferences(args.AgentID, prefs); err != nil {
			return nil, session.Preferences{}, err
		}
		return textResult("Preferences updated for %s", args.AgentID), prefs, nil
	})

	addTool(s, &ToolMetadata{
		Name:         "session_clear",
		Description:  "Drop every stored retrieval session for an agent. Preferences are kept.",
		Category:     CategorySession,
		DeferLoading: true,
		Keywords:     []string{"reset", "forget", "delete"},
	}, func(ctx context.Context, args agentInput) (*mcp.CallToolResult, clearOutput, error) {
		if err := logging.ValidateID(args.AgentID, "agent_id"); err != nil {
			return nil, clearOutput{}, fmt.Errorf("%w: %v", session.ErrAgentRequired, err)
		}
		n := s.sessions.ClearSession(args.AgentID)
		return textResult("Cleared %d session(s) for %s", n, args.AgentID), clearOutput{Cleared: n}, nil
	})
}
