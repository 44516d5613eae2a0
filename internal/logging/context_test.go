package logging

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

func fieldMap(fields []zap.Field) map[string]zap.Field {
	m := make(map[string]zap.Field, len(fields))
	for _, f := range fields {
		m[f.Key] = f
	}
	return m
}

func TestContextFields_Empty(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
}

func TestContextFields_Trace(t *testing.T) {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSyncer(tracetest.NewInMemoryExporter()),
	)
	ctx, span := tp.Tracer("test").Start(context.Background(), "retrieve")
	defer span.End()

	fields := fieldMap(ContextFields(ctx))
	assert.Equal(t, span.SpanContext().TraceID().String(), fields["trace_id"].String)
	assert.Equal(t, span.SpanContext().SpanID().String(), fields["span_id"].String)
	assert.Contains(t, fields, "trace_sampled")
}

func TestContextFields_AgentSessionRequest(t *testing.T) {
	ctx, err := WithAgentID(context.Background(), "planner-1")
	require.NoError(t, err)
	ctx = WithSessionKey(ctx, "planner-1:what links graphs")
	ctx, err = WithRequestID(ctx, "req_456")
	require.NoError(t, err)

	fields := fieldMap(ContextFields(ctx))
	assert.Equal(t, "planner-1", fields["agent.id"].String)
	assert.Equal(t, "planner-1:what links graphs", fields["session.key"].String)
	assert.Equal(t, "req_456", fields["request.id"].String)

	assert.Equal(t, "planner-1", AgentIDFromContext(ctx))
	assert.Equal(t, "req_456", RequestIDFromContext(ctx))
}

func TestValidateID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr string
	}{
		{"valid", "agent-1.planner:v2", ""},
		{"empty", "", "cannot be empty"},
		{"space", "agent one", "invalid characters"},
		{"slash", "agent/1", "invalid characters"},
		{"too long", strings.Repeat("a", maxIDLen+1), "max length"},
		{"bad utf8", "agent\xff", "invalid UTF-8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateID(tt.id, "agent_id")
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), "agent_id "+tt.wantErr)
		})
	}
}

func TestWithIDs_InvalidNotAttached(t *testing.T) {
	ctx, err := WithAgentID(context.Background(), "agent one")
	require.Error(t, err)
	assert.Empty(t, AgentIDFromContext(ctx))

	ctx, err = WithRequestID(context.Background(), "")
	require.Error(t, err)
	assert.Empty(t, RequestIDFromContext(ctx))
}

func TestWithSessionKey_Truncates(t *testing.T) {
	long := strings.Repeat("é", maxSessionKeyLen)
	got := SessionKeyFromContext(WithSessionKey(context.Background(), long))

	assert.LessOrEqual(t, len(got), maxSessionKeyLen)
	assert.True(t, strings.HasPrefix(long, got))
	assert.NotContains(t, got, "�")
}
