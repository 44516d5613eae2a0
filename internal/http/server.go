// Package http serves the ctxgraph REST API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxgraph/internal/graph"
	"github.com/fyrsmithlabs/ctxgraph/internal/logging"
	"github.com/fyrsmithlabs/ctxgraph/internal/persistence"
	"github.com/fyrsmithlabs/ctxgraph/internal/retriever"
	"github.com/fyrsmithlabs/ctxgraph/internal/session"
)

// Engine is the retrieval engine the API exposes.
type Engine interface {
	IngestBatch(ctx context.Context, docs []retriever.Document) error
	RemoveDocument(ctx context.Context, id string) bool
	AddRelationship(ctx context.Context, source, target string, kind graph.EdgeKind, weight float64) error
	GetNode(id string) (graph.Node, bool)
	Related(ctx context.Context, id string, maxDepth int, kinds ...graph.NodeKind) []graph.Node
	Path(ctx context.Context, source, target string, maxDepth int) ([]string, bool)
	Stats() retriever.Stats
	Snapshot(ctx context.Context) retriever.Snapshot
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

// SnapshotStore persists engine snapshots.
type SnapshotStore interface {
	Save(ctx context.Context, snap retriever.Snapshot) (persistence.Info, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Option customizes a Server.
type Option func(*Server)

// WithSnapshotStore enables POST /api/v1/snapshot.
func WithSnapshotStore(store SnapshotStore) Option {
	return func(s *Server) { s.snapshots = store }
}

// WithMetrics records OTEL request metrics.
func WithMetrics(m *RequestMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithGatherer sets the Prometheus registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// Server provides HTTP endpoints for ctxgraph.
type Server struct {
	echo      *echo.Echo
	engine    Engine
	sessions  Sessions
	snapshots SnapshotStore
	metrics   *RequestMetrics
	gatherer  prometheus.Gatherer
	logger    *zap.Logger
	config    *Config

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a new HTTP server.
func NewServer(engine Engine, sessions Sessions, logger *zap.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("sessions is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 9191,
		}
	}

	s := &Server{
		engine:   engine,
		sessions: sessions,
		gatherer: prometheus.DefaultGatherer,
		logger:   logger,
		config:   cfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = newRequestValidator()
	e.HTTPErrorHandler = s.errorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator:        uuid.NewString,
		RequestIDHandler: attachRequestID,
	}))
	if s.metrics != nil {
		e.Use(s.metrics.Middleware())
	}
	e.Use(s.accessLog)

	s.echo = e
	s.registerRoutes()
	return s, nil
}

// attachRequestID puts the request id on the request context so handler
// logs carry it. Client-supplied ids that are not valid identifiers are
// echoed back but not logged.
func attachRequestID(c echo.Context, id string) {
	req := c.Request()
	if ctx, err := logging.WithRequestID(req.Context(), id); err == nil {
		c.SetRequest(req.WithContext(ctx))
	}
}

func (s *Server) accessLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}

		fields := append(logging.ContextFields(c.Request().Context()),
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		s.logger.Info("http request", fields...)
		return nil
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/documents", s.handleIngest)
	v1.DELETE("/documents/:id", s.handleRemoveDocument)
	v1.POST("/relationships", s.handleAddRelationship)
	v1.POST("/retrieve", s.handleRetrieve)
	v1.POST("/retrieve/iterative", s.handleRetrieveIterative)
	v1.POST("/feedback", s.handleFeedback)
	v1.GET("/agents/:agent_id/context", s.handleAgentContext)
	v1.PUT("/agents/:agent_id/preferences", s.handleSetPreferences)
	v1.DELETE("/sessions", s.handleClearSessions)
	v1.GET("/stats", s.handleStats)
	v1.GET("/snapshot", s.handleSnapshot)
	v1.POST("/snapshot", s.handleSaveSnapshot)
	v1.GET("/graph/nodes/:id", s.handleGetNode)
	v1.GET("/graph/nodes/:id/related", s.handleRelated)
	v1.GET("/graph/path", s.handlePath)
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.config.Host, fmt.Sprintf("%d", s.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("starting http server", zap.String("addr", ln.Addr().String()))
	s.echo.Listener = ln
	if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the bound address once Start is listening, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
