package embeddings

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/ctxgraph/internal/embeddings"

// Metrics records embedding calls. A nil instrument is skipped.
type Metrics struct {
	duration  metric.Float64Histogram
	batchSize metric.Int64Histogram
	errors    metric.Int64Counter
}

// NewMetrics registers the embedding instruments on meter, or on the global
// meter provider when meter is nil.
func NewMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Metrics{}
	var err error
	m.duration, err = meter.Float64Histogram("ctxgraph.embedding.duration_seconds",
		metric.WithDescription("Duration of embedding calls by provider and operation"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		logger.Warn("failed to create embedding duration histogram", zap.Error(err))
	}
	m.batchSize, err = meter.Int64Histogram("ctxgraph.embedding.batch_size",
		metric.WithDescription("Texts per embedding call"),
		metric.WithUnit("{text}"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 25, 50, 100, 250, 500),
	)
	if err != nil {
		logger.Warn("failed to create embedding batch size histogram", zap.Error(err))
	}
	m.errors, err = meter.Int64Counter("ctxgraph.embedding.errors_total",
		metric.WithDescription("Failed embedding calls by provider, operation and reason"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		logger.Warn("failed to create embedding errors counter", zap.Error(err))
	}
	return m
}

func (m *Metrics) record(ctx context.Context, provider, op string, d time.Duration, texts int, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("provider", provider),
		attribute.String("operation", op),
	}
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
	}
	if m.batchSize != nil && texts > 0 {
		m.batchSize.Record(ctx, int64(texts), metric.WithAttributes(attrs...))
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.String("reason", errorReason(err)))...))
	}
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, ErrEmptyInput):
		return "empty_input"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "provider_error"
	}
}

// instrumented records metrics for every call made through a Provider.
type instrumented struct {
	Provider
	name    string
	metrics *Metrics
}

func (p *instrumented) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	v, err := p.Provider.Embed(ctx, text)
	p.metrics.record(ctx, p.name, "embed", time.Since(start), 1, err)
	return v, err
}

func (p *instrumented) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	v, err := p.Provider.EmbedBatch(ctx, texts)
	p.metrics.record(ctx, p.name, "embed_batch", time.Since(start), len(texts), err)
	return v, err
}
