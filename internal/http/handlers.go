package http

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxgraph/internal/graph"
	"github.com/fyrsmithlabs/ctxgraph/internal/logging"
	"github.com/fyrsmithlabs/ctxgraph/internal/retriever"
	"github.com/fyrsmithlabs/ctxgraph/internal/session"
)

// agentContext returns the request context tagged with agentID and the
// session key for query. agentID has already passed validation.
func agentContext(c echo.Context, agentID, query string) context.Context {
	ctx, err := logging.WithAgentID(c.Request().Context(), agentID)
	if err != nil {
		return c.Request().Context()
	}
	if query != "" {
		ctx = logging.WithSessionKey(ctx, session.SessionKey(agentID, query))
	}
	return ctx
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Stats: s.engine.Stats()})
}

func (s *Server) handleIngest(c echo.Context) error {
	var req IngestRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	docs := make([]retriever.Document, len(req.Documents))
	for i, d := range req.Documents {
		docs[i] = retriever.Document{ID: d.ID, Content: d.Content, Metadata: d.Metadata, Source: d.Source}
	}

	ctx := c.Request().Context()
	if err := s.engine.IngestBatch(ctx, docs); err != nil {
		return toHTTPError(err)
	}

	s.logger.Debug("documents ingested",
		append(logging.ContextFields(ctx), zap.Int("count", len(docs)))...)
	return c.JSON(http.StatusCreated, IngestResponse{Ingested: len(docs), Stats: s.engine.Stats()})
}

func (s *Server) handleRemoveDocument(c echo.Context) error {
	id := c.Param("id")
	if !s.engine.RemoveDocument(c.Request().Context(), id) {
		return echo.NewHTTPError(http.StatusNotFound, "document not found: "+id)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleAddRelationship(c echo.Context) error {
	var req RelationshipRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	err := s.engine.AddRelationship(c.Request().Context(), req.SourceID, req.TargetID, graph.EdgeKind(req.Kind), req.Weight)
	if err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusCreated)
}

func (s *Server) handleRetrieve(c echo.Context) error {
	var req RetrieveRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	ctx := agentContext(c, req.AgentID, req.Query)
	rc, err := s.sessions.Retrieve(ctx, req.AgentID, req.Query, req.TopK, retriever.Strategy(req.Strategy))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, rc)
}

func (s *Server) handleRetrieveIterative(c echo.Context) error {
	var req IterativeRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	ctx := agentContext(c, req.AgentID, req.Query)
	contexts, err := s.sessions.RetrieveIterative(ctx, req.AgentID, req.Query, req.MaxIterations, retriever.Strategy(req.Strategy))
	if err != nil && len(contexts) == 0 {
		return toHTTPError(err)
	}

	resp := IterativeResponse{Contexts: contexts}
	if err != nil {
		resp.Error = err.Error()
		s.logger.Warn("iterative retrieval stopped early",
			append(logging.ContextFields(ctx), zap.Int("iterations", len(contexts)), zap.Error(err))...)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleFeedback(c echo.Context) error {
	var req FeedbackRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	ctx := agentContext(c, req.AgentID, req.Query)
	updated, err := s.sessions.Feedback(ctx, req.AgentID, req.Query)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, FeedbackResponse{Updated: updated})
}

func (s *Server) handleAgentContext(c echo.Context) error {
	agentID := c.Param("agent_id")
	if err := logging.ValidateID(agentID, "agent_id"); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ac, err := s.sessions.AgentContext(agentID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, ac)
}

func (s *Server) handleSetPreferences(c echo.Context) error {
	var req PreferencesRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	prefs := session.Preferences{
		Strategy: retriever.Strategy(req.Strategy),
		TopK:     req.TopK,
		Extra:    req.Extra,
	}
	if err := s.sessions.SetPreferences(req.AgentID, prefs); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, prefs)
}

func (s *Server) handleClearSessions(c echo.Context) error {
	agentID := c.QueryParam("agent_id")
	if agentID != "" {
		if err := logging.ValidateID(agentID, "agent_id"); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	return c.JSON(http.StatusOK, ClearSessionsResponse{Cleared: s.sessions.ClearSession(agentID)})
}

func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.Stats())
}

func (s *Server) handleSnapshot(c echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.Snapshot(c.Request().Context()))
}

func (s *Server) handleSaveSnapshot(c echo.Context) error {
	if s.snapshots == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "persistence is disabled")
	}

	ctx := c.Request().Context()
	info, err := s.snapshots.Save(ctx, s.engine.Snapshot(ctx))
	if err != nil {
		return toHTTPError(err)
	}
	s.logger.Info("snapshot saved",
		zap.String("snapshot_id", info.ID),
		zap.Int("nodes", info.Nodes),
		zap.Int("vectors", info.Vectors))
	return c.JSON(http.StatusCreated, info)
}

func (s *Server) handleGetNode(c echo.Context) error {
	id := c.Param("id")
	node, ok := s.engine.GetNode(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "node not found: "+id)
	}
	return c.JSON(http.StatusOK, node)
}

func (s *Server) handleRelated(c echo.Context) error {
	var req RelatedRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if _, ok := s.engine.GetNode(req.ID); !ok {
		return echo.NewHTTPError(http.StatusNotFound, "node not found: "+req.ID)
	}

	kinds := make([]graph.NodeKind, len(req.Kinds))
	for i, k := range req.Kinds {
		kinds[i] = graph.NodeKind(k)
	}
	nodes := s.engine.Related(c.Request().Context(), req.ID, req.Depth, kinds...)
	if nodes == nil {
		nodes = []graph.Node{}
	}
	return c.JSON(http.StatusOK, RelatedResponse{Nodes: nodes})
}

func (s *Server) handlePath(c echo.Context) error {
	var req PathRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	depth := req.Depth
	if depth == 0 {
		depth = 5
	}
	path, found := s.engine.Path(c.Request().Context(), req.Source, req.Target, depth)
	if path == nil {
		path = []string{}
	}
	return c.JSON(http.StatusOK, PathResponse{Path: path, Found: found})
}
