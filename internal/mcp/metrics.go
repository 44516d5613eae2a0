package mcp

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxgraph/internal/embeddings"
	"github.com/fyrsmithlabs/ctxgraph/internal/graph"
	"github.com/fyrsmithlabs/ctxgraph/internal/retriever"
	"github.com/fyrsmithlabs/ctxgraph/internal/session"
)

const instrumentationName = "github.com/fyrsmithlabs/ctxgraph/internal/mcp"

// toolMetrics counts tool calls. Instruments that failed to register stay nil
// and are skipped.
type toolMetrics struct {
	calls    metric.Int64Counter
	failures metric.Int64Counter
	latency  metric.Float64Histogram
	inflight metric.Int64UpDownCounter
}

func newToolMetrics(meter metric.Meter, logger *zap.Logger) *toolMetrics {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	warn := func(name string, err error) {
		if err != nil {
			logger.Warn("instrument not registered", zap.String("instrument", name), zap.Error(err))
		}
	}

	tm := &toolMetrics{}
	var err error
	tm.calls, err = meter.Int64Counter("ctxgraph.mcp.tool.invocations_total",
		metric.WithDescription("Tool calls by tool name"),
		metric.WithUnit("{call}"))
	warn("invocations_total", err)
	tm.failures, err = meter.Int64Counter("ctxgraph.mcp.tool.errors_total",
		metric.WithDescription("Failed tool calls by tool name and reason"),
		metric.WithUnit("{call}"))
	warn("errors_total", err)
	tm.latency, err = meter.Float64Histogram("ctxgraph.mcp.tool.duration_seconds",
		metric.WithDescription("Tool call latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 10))
	warn("duration_seconds", err)
	tm.inflight, err = meter.Int64UpDownCounter("ctxgraph.mcp.tool.active_requests",
		metric.WithDescription("Tool calls in progress"),
		metric.WithUnit("{call}"))
	warn("active_requests", err)
	return tm
}

// start marks a call to tool as in flight. The returned func ends the call
// and records its outcome.
func (tm *toolMetrics) start(ctx context.Context, tool string) func(error) {
	began := time.Now()
	set := metric.WithAttributes(attribute.String("tool", tool))
	if tm.inflight != nil {
		tm.inflight.Add(ctx, 1, set)
	}
	return func(err error) {
		if tm.inflight != nil {
			tm.inflight.Add(ctx, -1, set)
		}
		if tm.calls != nil {
			tm.calls.Add(ctx, 1, set)
		}
		if tm.latency != nil {
			tm.latency.Record(ctx, time.Since(began).Seconds(), set)
		}
		if err != nil && tm.failures != nil {
			tm.failures.Add(ctx, 1, metric.WithAttributes(
				attribute.String("tool", tool),
				attribute.String("reason", errorReason(err)),
			))
		}
	}
}

// errorReason maps err onto a low-cardinality label.
func errorReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, retriever.ErrInvalidInput), errors.Is(err, session.ErrAgentRequired):
		return "validation_error"
	case errors.Is(err, graph.ErrEndpointNotFound), errors.Is(err, session.ErrSessionNotFound), errors.Is(err, errNodeNotFound):
		return "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, embeddings.ErrProvider):
		return "provider_error"
	default:
		return "internal_error"
	}
}
