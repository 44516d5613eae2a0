package session

import (
	"errors"
	"time"

	"github.com/fyrsmithlabs/ctxgraph/internal/retriever"
)

var (
	// ErrAgentRequired is returned when an operation needs an agent id.
	ErrAgentRequired = errors.New("agent id is required")

	// ErrSessionNotFound is returned when no context is stored for a key.
	ErrSessionNotFound = errors.New("session not found")
)

// Preferences are an agent's retrieval defaults.
type Preferences struct {
	// Strategy is used when a call names none.
	Strategy retriever.Strategy `json:"strategy,omitempty"`

	// TopK is used when a call passes a non-positive top-k.
	TopK int `json:"top_k,omitempty"`

	// Extra holds free-form agent settings.
	Extra map[string]string `json:"extra,omitempty"`
}

// AgentContext is everything the service holds for one agent plus the
// current size of the shared stores.
type AgentContext struct {
	AgentID     string                                 `json:"agent_id"`
	Preferences Preferences                            `json:"preferences"`
	Sessions    map[string]*retriever.RetrievalContext `json:"sessions"`
	Stats       retriever.Stats                        `json:"stats"`
	GeneratedAt time.Time                              `json:"generated_at"`
}
