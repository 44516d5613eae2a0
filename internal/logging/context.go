package logging

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ctxKey int

const (
	agentKey ctxKey = iota
	sessionKey
	requestKey
)

const (
	maxIDLen         = 128
	maxSessionKeyLen = 256
)

// idPattern allows alphanumeric, hyphen, underscore, dot and colon.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

// ContextFields returns the correlation fields carried by ctx: trace and span
// ids, agent id, session key and request id.
func ContextFields(ctx context.Context) []zap.Field {
	var fields []zap.Field

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}
	for _, f := range []struct {
		key  ctxKey
		name string
	}{
		{agentKey, "agent.id"},
		{sessionKey, "session.key"},
		{requestKey, "request.id"},
	} {
		if v := value(ctx, f.key); v != "" {
			fields = append(fields, zap.String(f.name, v))
		}
	}
	return fields
}

// ValidateID checks an agent or request id. name labels the error.
func ValidateID(id, name string) error {
	switch {
	case id == "":
		return fmt.Errorf("%s cannot be empty", name)
	case !utf8.ValidString(id):
		return fmt.Errorf("%s contains invalid UTF-8", name)
	case len(id) > maxIDLen:
		return fmt.Errorf("%s exceeds max length %d", name, maxIDLen)
	case !idPattern.MatchString(id):
		return fmt.Errorf("%s contains invalid characters (must be alphanumeric, hyphen, underscore, dot, colon)", name)
	}
	return nil
}

// WithAgentID tags ctx with an agent id. An invalid id is not attached.
func WithAgentID(ctx context.Context, agentID string) (context.Context, error) {
	if err := ValidateID(agentID, "agent_id"); err != nil {
		return ctx, err
	}
	return context.WithValue(ctx, agentKey, agentID), nil
}

// WithRequestID tags ctx with a request id. An invalid id is not attached.
func WithRequestID(ctx context.Context, requestID string) (context.Context, error) {
	if err := ValidateID(requestID, "request_id"); err != nil {
		return ctx, err
	}
	return context.WithValue(ctx, requestKey, requestID), nil
}

// WithSessionKey tags ctx with a session key. Keys embed query text, so only
// the length is bounded; longer keys are cut on a rune boundary.
func WithSessionKey(ctx context.Context, key string) context.Context {
	if len(key) > maxSessionKeyLen {
		cut := maxSessionKeyLen
		for cut > 0 && !utf8.RuneStart(key[cut]) {
			cut--
		}
		key = key[:cut]
	}
	return context.WithValue(ctx, sessionKey, key)
}

// AgentIDFromContext returns the agent id on ctx, or "".
func AgentIDFromContext(ctx context.Context) string { return value(ctx, agentKey) }

// SessionKeyFromContext returns the session key on ctx, or "".
func SessionKeyFromContext(ctx context.Context) string { return value(ctx, sessionKey) }

// RequestIDFromContext returns the request id on ctx, or "".
func RequestIDFromContext(ctx context.Context) string { return value(ctx, requestKey) }

func value(ctx context.Context, k ctxKey) string {
	s, _ := ctx.Value(k).(string)
	return s
}
