package http

import (
	"github.com/fyrsmithlabs/ctxgraph/internal/graph"
	"github.com/fyrsmithlabs/ctxgraph/internal/retriever"
)

// DocumentRequest is one document in an ingest body.
type DocumentRequest struct {
	ID       string         `json:"id" validate:"required,max=256"`
	Content  string         `json:"content" validate:"required"`
	Source   string         `json:"source,omitempty" validate:"max=1024"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// IngestRequest is the body for POST /api/v1/documents.
type IngestRequest struct {
	Documents []DocumentRequest `json:"documents" validate:"required,min=1,max=256,dive"`
}

// IngestResponse is returned after a successful ingest.
type IngestResponse struct {
	Ingested int             `json:"ingested"`
	Stats    retriever.Stats `json:"stats"`
}

// RelationshipRequest is the body for POST /api/v1/relationships.
type RelationshipRequest struct {
	SourceID string  `json:"source_id" validate:"required"`
	TargetID string  `json:"target_id" validate:"required"`
	Kind     string  `json:"kind" validate:"required,edgekind"`
	Weight   float64 `json:"weight" validate:"gte=0"`
}

// RetrieveRequest is the body for POST /api/v1/retrieve.
type RetrieveRequest struct {
	AgentID  string `json:"agent_id" validate:"required,agentid"`
	Query    string `json:"query" validate:"required,max=4096"`
	TopK     int    `json:"top_k" validate:"gte=0,lte=100"`
	Strategy string `json:"strategy" validate:"omitempty,strategy"`
}

// IterativeRequest is the body for POST /api/v1/retrieve/iterative.
type IterativeRequest struct {
	AgentID       string `json:"agent_id" validate:"required,agentid"`
	Query         string `json:"query" validate:"required,max=4096"`
	MaxIterations int    `json:"max_iterations" validate:"gte=0,lte=10"`
	Strategy      string `json:"strategy" validate:"omitempty,strategy"`
}

// IterativeResponse carries every context produced. Error is set when a
// later iteration failed after earlier ones succeeded.
type IterativeResponse struct {
	Contexts []*retriever.RetrievalContext `json:"contexts"`
	Error    string                        `json:"error,omitempty"`
}

// FeedbackRequest is the body for POST /api/v1/feedback.
type FeedbackRequest struct {
	AgentID string `json:"agent_id" validate:"required,agentid"`
	Query   string `json:"query" validate:"required"`
}

// FeedbackResponse reports how many node weights were raised.
type FeedbackResponse struct {
	Updated int `json:"updated"`
}

// PreferencesRequest is the body for PUT /api/v1/agents/:agent_id/preferences.
type PreferencesRequest struct {
	AgentID  string            `param:"agent_id" json:"-" validate:"required,agentid"`
	Strategy string            `json:"strategy" validate:"omitempty,strategy"`
	TopK     int               `json:"top_k" validate:"gte=0,lte=100"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// ClearSessionsResponse reports how many session entries were removed.
type ClearSessionsResponse struct {
	Cleared int `json:"cleared"`
}

// RelatedRequest binds GET /api/v1/graph/nodes/:id/related.
type RelatedRequest struct {
	ID    string   `param:"id" validate:"required"`
	Depth int      `query:"depth" validate:"gte=0,lte=10"`
	Kinds []string `query:"kind" validate:"dive,nodekind"`
}

// RelatedResponse lists related nodes in breadth-first order.
type RelatedResponse struct {
	Nodes []graph.Node `json:"nodes"`
}

// PathRequest binds GET /api/v1/graph/path.
type PathRequest struct {
	Source string `query:"source" validate:"required"`
	Target string `query:"target" validate:"required"`
	Depth  int    `query:"depth" validate:"gte=0,lte=20"`
}

// PathResponse is the fewest-hop path, empty when none exists.
type PathResponse struct {
	Path  []string `json:"path"`
	Found bool     `json:"found"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string          `json:"status"`
	Stats  retriever.Stats `json:"stats"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}
