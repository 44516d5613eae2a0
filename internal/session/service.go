package session

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxgraph/internal/retriever"
)

const instrumentationName = "github.com/fyrsmithlabs/ctxgraph/internal/session"

// Retriever is the retrieval engine a Service fronts.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int, strategy retriever.Strategy) (*retriever.RetrievalContext, error)
	RetrieveIterative(ctx context.Context, query string, maxIterations int, strategy retriever.Strategy) ([]*retriever.RetrievalContext, error)
	UpdateFromContext(ctx context.Context, rc *retriever.RetrievalContext) int
	Stats() retriever.Stats
}

// Service keeps per-agent preferences and session contexts. Safe for
// concurrent use.
type Service struct {
	retriever Retriever
	logger    *zap.Logger

	tracer           trace.Tracer
	meter            metric.Meter
	retrievalCounter metric.Int64Counter
	feedbackCounter  metric.Int64Counter

	maxIterations int

	mu          sync.RWMutex
	preferences map[string]Preferences
	sessions    map[string]*retriever.RetrievalContext
}

// Option customizes a Service.
type Option func(*Service)

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithMeter overrides the global meter used for session counters.
func WithMeter(m metric.Meter) Option {
	return func(s *Service) { s.meter = m }
}

// WithMaxIterations sets the round limit RetrieveIterative uses when the
// caller passes zero.
func WithMaxIterations(n int) Option {
	return func(s *Service) { s.maxIterations = n }
}

// NewService creates a session service over r.
func NewService(r Retriever, logger *zap.Logger, opts ...Option) (*Service, error) {
	if r == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		retriever:   r,
		logger:      logger,
		tracer:      otel.Tracer(instrumentationName),
		meter:       otel.Meter(instrumentationName),
		preferences: make(map[string]Preferences),
		sessions:    make(map[string]*retriever.RetrievalContext),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.initMetrics()
	return s, nil
}

func (s *Service) initMetrics() {
	var err error

	s.retrievalCounter, err = s.meter.Int64Counter(
		"ctxgraph.session.retrievals_total",
		metric.WithDescription("Total number of agent retrievals"),
		metric.WithUnit("{retrieval}"),
	)
	if err != nil {
		s.logger.Warn("failed to create retrieval counter", zap.Error(err))
	}

	s.feedbackCounter, err = s.meter.Int64Counter(
		"ctxgraph.session.feedback_total",
		metric.WithDescription("Total number of feedback applications"),
		metric.WithUnit("{feedback}"),
	)
	if err != nil {
		s.logger.Warn("failed to create feedback counter", zap.Error(err))
	}
}

// SessionKey returns the key a query's context is stored under.
func SessionKey(agentID, query string) string {
	return agentID + ":" + query
}

// IterationKey returns the key of the nth context of an iterative query.
func IterationKey(agentID, query string, n int) string {
	return SessionKey(agentID, query) + ":iter_" + strconv.Itoa(n)
}

// SetPreferences replaces an agent's preferences.
func (s *Service) SetPreferences(agentID string, prefs Preferences) error {
	if agentID == "" {
		return ErrAgentRequired
	}
	if prefs.Strategy != "" && !prefs.Strategy.Valid() {
		return fmt.Errorf("%w: unknown strategy %q", retriever.ErrInvalidInput, prefs.Strategy)
	}
	if prefs.TopK < 0 {
		return fmt.Errorf("%w: top_k must not be negative", retriever.ErrInvalidInput)
	}
	prefs.Extra = maps.Clone(prefs.Extra)

	s.mu.Lock()
	s.preferences[agentID] = prefs
	s.mu.Unlock()

	s.logger.Debug("preferences updated",
		zap.String("agent_id", agentID),
		zap.String("strategy", string(prefs.Strategy)))
	return nil
}

// Preferences returns an agent's preferences and whether any were set.
func (s *Service) Preferences(agentID string) (Preferences, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.preferences[agentID]
	p.Extra = maps.Clone(p.Extra)
	return p, ok
}

// resolve picks strategy and topK: explicit argument, then the agent's
// preference, then Balanced or the retriever default.
func (s *Service) resolve(agentID string, topK int, strategy retriever.Strategy) (int, retriever.Strategy) {
	s.mu.RLock()
	prefs := s.preferences[agentID]
	s.mu.RUnlock()

	if strategy == "" {
		strategy = prefs.Strategy
	}
	if strategy == "" {
		strategy = retriever.StrategyBalanced
	}
	if topK <= 0 {
		topK = prefs.TopK
	}
	return topK, strategy
}

// Retrieve runs query for agentID and stores the context under
// SessionKey(agentID, query).
func (s *Service) Retrieve(ctx context.Context, agentID, query string, topK int, strategy retriever.Strategy) (*retriever.RetrievalContext, error) {
	ctx, span := s.tracer.Start(ctx, "session.Retrieve")
	defer span.End()

	if agentID == "" {
		return nil, spanError(span, ErrAgentRequired)
	}
	topK, strategy = s.resolve(agentID, topK, strategy)
	span.SetAttributes(
		attribute.String("agent.id", agentID),
		attribute.String("strategy", string(strategy)),
	)

	rc, err := s.retriever.Retrieve(ctx, query, topK, strategy)
	if err != nil {
		return nil, spanError(span, fmt.Errorf("retrieving for agent %q: %w", agentID, err))
	}

	s.mu.Lock()
	s.sessions[SessionKey(agentID, query)] = rc
	s.mu.Unlock()

	s.record(ctx, "single", strategy)
	s.logger.Debug("session retrieval",
		zap.String("agent_id", agentID),
		zap.Int("results", len(rc.Results)))
	span.SetStatus(codes.Ok, "success")
	return rc, nil
}

// RetrieveIterative runs iterative retrieval for agentID and stores the nth
// context under IterationKey(agentID, query, n). Contexts produced before an
// error are stored and returned with it.
func (s *Service) RetrieveIterative(ctx context.Context, agentID, query string, maxIterations int, strategy retriever.Strategy) ([]*retriever.RetrievalContext, error) {
	ctx, span := s.tracer.Start(ctx, "session.RetrieveIterative")
	defer span.End()

	if agentID == "" {
		return nil, spanError(span, ErrAgentRequired)
	}
	_, strategy = s.resolve(agentID, 0, strategy)
	if maxIterations <= 0 {
		maxIterations = s.maxIterations
	}
	span.SetAttributes(
		attribute.String("agent.id", agentID),
		attribute.String("strategy", string(strategy)),
	)

	contexts, err := s.retriever.RetrieveIterative(ctx, query, maxIterations, strategy)

	s.mu.Lock()
	for i, rc := range contexts {
		s.sessions[IterationKey(agentID, query, i)] = rc
	}
	s.mu.Unlock()

	if err != nil {
		return contexts, spanError(span, fmt.Errorf("iterative retrieval for agent %q: %w", agentID, err))
	}

	s.record(ctx, "iterative", strategy)
	span.SetAttributes(attribute.Int("iterations", len(contexts)))
	span.SetStatus(codes.Ok, "success")
	return contexts, nil
}

// AgentContext returns every stored context whose key starts with
// "{agentID}:", the agent's preferences and the shared store sizes.
func (s *Service) AgentContext(agentID string) (*AgentContext, error) {
	if agentID == "" {
		return nil, ErrAgentRequired
	}
	prefix := SessionKey(agentID, "")

	s.mu.RLock()
	sessions := make(map[string]*retriever.RetrievalContext)
	for key, rc := range s.sessions {
		if strings.HasPrefix(key, prefix) {
			sessions[key] = rc
		}
	}
	prefs := s.preferences[agentID]
	prefs.Extra = maps.Clone(prefs.Extra)
	s.mu.RUnlock()

	return &AgentContext{
		AgentID:     agentID,
		Preferences: prefs,
		Sessions:    sessions,
		Stats:       s.retriever.Stats(),
		GeneratedAt: time.Now(),
	}, nil
}

// ClearSession drops the stored contexts of one agent, or of every agent
// when agentID is empty. Preferences are kept. It returns the number of
// contexts removed.
func (s *Service) ClearSession(agentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if agentID == "" {
		n := len(s.sessions)
		s.sessions = make(map[string]*retriever.RetrievalContext)
		s.logger.Info("all sessions cleared", zap.Int("removed", n))
		return n
	}

	prefix := SessionKey(agentID, "")
	n := 0
	for key := range s.sessions {
		if strings.HasPrefix(key, prefix) {
			delete(s.sessions, key)
			n++
		}
	}
	s.logger.Info("agent session cleared", zap.String("agent_id", agentID), zap.Int("removed", n))
	return n
}

// Session returns the context stored under key.
func (s *Service) Session(key string) (*retriever.RetrievalContext, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rc, ok := s.sessions[key]
	return rc, ok
}

// Feedback reinforces the nodes of the context stored for (agentID, query)
// and returns how many node weights rose.
func (s *Service) Feedback(ctx context.Context, agentID, query string) (int, error) {
	ctx, span := s.tracer.Start(ctx, "session.Feedback")
	defer span.End()

	if agentID == "" {
		return 0, spanError(span, ErrAgentRequired)
	}
	key := SessionKey(agentID, query)
	rc, ok := s.Session(key)
	if !ok {
		return 0, spanError(span, fmt.Errorf("%w: %q", ErrSessionNotFound, key))
	}

	updated := s.retriever.UpdateFromContext(ctx, rc)
	if s.feedbackCounter != nil {
		s.feedbackCounter.Add(ctx, 1)
	}
	span.SetAttributes(attribute.Int("nodes_updated", updated))
	span.SetStatus(codes.Ok, "success")
	return updated, nil
}

func (s *Service) record(ctx context.Context, mode string, strategy retriever.Strategy) {
	if s.retrievalCounter == nil {
		return
	}
	s.retrievalCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("strategy", string(strategy)),
	))
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
