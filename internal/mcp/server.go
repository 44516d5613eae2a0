package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxgraph/internal/graph"
	"github.com/fyrsmithlabs/ctxgraph/internal/retriever"
	"github.com/fyrsmithlabs/ctxgraph/internal/session"
)

// Engine is the retrieval engine the tools operate on.
type Engine interface {
	IngestBatch(ctx context.Context, docs []retriever.Document) error
	AddRelationship(ctx context.Context, source, target string, kind graph.EdgeKind, weight float64) error
	GetNode(id string) (graph.Node, bool)
	Related(ctx context.Context, id string, maxDepth int, kinds ...graph.NodeKind) []graph.Node
	Path(ctx context.Context, source, target string, maxDepth int) ([]string, bool)
	Stats() retriever.Stats
}

// Sessions is the per-agent session layer.
type Sessions interface {
	Retrieve(ctx context.Context, agentID, query string, topK int, strategy retriever.Strategy) (*retriever.RetrievalContext, error)
	RetrieveIterative(ctx context.Context, agentID, query string, maxIterations int, strategy retriever.Strategy) ([]*retriever.RetrievalContext, error)
	Feedback(ctx context.Context, agentID, query string) (int, error)
	AgentContext(agentID string) (*session.AgentContext, error)
	SetPreferences(agentID string, prefs session.Preferences) error
	ClearSession(agentID string) int
}

// Server is an MCP server backed by the retrieval engine.
type Server struct {
	mcp      *mcp.Server
	engine   Engine
	sessions Sessions
	registry *ToolRegistry
	metrics  *toolMetrics
	logger   *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "ctxgraph")
	Name string

	// Version is the server version (default: "1.0.0")
	Version string

	// Logger for structured logging
	Logger *zap.Logger

	// Meter records tool metrics. Nil uses the global meter provider.
	Meter metric.Meter
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "ctxgraph",
		Version: "1.0.0",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates an MCP server and registers every tool.
func NewServer(cfg *Config, engine Engine, sessions Sessions) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session service is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	name, version := cfg.Name, cfg.Version
	if name == "" {
		name = "ctxgraph"
	}
	if version == "" {
		version = "1.0.0"
	}

	s := &Server{
		mcp:      mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil),
		engine:   engine,
		sessions: sessions,
		registry: NewToolRegistry(),
		metrics:  newToolMetrics(cfg.Meter, logger),
		logger:   logger,
	}

	s.registerKnowledgeTools()
	s.registerGraphTools()
	s.registerSessionTools()
	s.registerSearchTools()

	logger.Debug("mcp tools registered", zap.Int("count", s.registry.Count()))
	return s, nil
}

// Registry returns the metadata of every registered tool.
func (s *Server) Registry() *ToolRegistry {
	return s.registry
}

// Run serves MCP over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	return s.RunTransport(ctx, &mcp.StdioTransport{})
}

// RunTransport serves MCP over t.
func (s *Server) RunTransport(ctx context.Context, t mcp.Transport) error {
	if err := s.mcp.Run(ctx, t); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
