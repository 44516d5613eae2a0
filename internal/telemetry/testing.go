package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTelemetry keeps spans and metrics in memory for assertions. Nothing is
// installed globally, so hand Tracer and Meter to the code under test.
type TestTelemetry struct {
	*Telemetry

	SpanRecorder *tracetest.SpanRecorder
	reader       *sdkmetric.ManualReader
}

// NewTestTelemetry returns an enabled, healthy in-memory Telemetry.
func NewTestTelemetry() *TestTelemetry {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	recorder := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()

	return &TestTelemetry{
		Telemetry: &Telemetry{
			config:         cfg,
			tracerProvider: trace.NewTracerProvider(trace.WithSpanProcessor(recorder)),
			meterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
			status:         HealthStatus{Healthy: true},
		},
		SpanRecorder: recorder,
		reader:       reader,
	}
}

// Spans returns the ended spans in end order.
func (t *TestTelemetry) Spans() []trace.ReadOnlySpan {
	return t.SpanRecorder.Ended()
}

// SpanByName returns the first ended span called name, or nil.
func (t *TestTelemetry) SpanByName(name string) trace.ReadOnlySpan {
	for _, span := range t.Spans() {
		if span.Name() == name {
			return span
		}
	}
	return nil
}

// AssertSpanExists fails tb unless a span called name has ended.
func (t *TestTelemetry) AssertSpanExists(tb testing.TB, name string) {
	tb.Helper()
	if t.SpanByName(name) != nil {
		return
	}
	var seen []string
	for _, span := range t.Spans() {
		seen = append(seen, span.Name())
	}
	tb.Errorf("span %q not recorded; have %v", name, seen)
}

// AssertSpanAttribute fails tb unless span carries key with value want.
// want uses the attribute's Go type: string, int64, float64 or bool.
func (t *TestTelemetry) AssertSpanAttribute(tb testing.TB, span, key string, want any) {
	tb.Helper()
	s := t.SpanByName(span)
	if s == nil {
		tb.Fatalf("span %q not recorded", span)
	}
	for _, kv := range s.Attributes() {
		if kv.Key != attribute.Key(key) {
			continue
		}
		if got := kv.Value.AsInterface(); got != want {
			tb.Errorf("span %q: %s = %v, want %v", span, key, got, want)
		}
		return
	}
	tb.Errorf("span %q has no attribute %q", span, key)
}

// CounterValue sums an int64 counter over all attribute sets. ok is false
// when no such counter has been recorded.
func (t *TestTelemetry) CounterValue(ctx context.Context, name string) (total int64, ok bool) {
	var rm metricdata.ResourceMetrics
	if err := t.reader.Collect(ctx, &rm); err != nil {
		return 0, false
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, isSum := m.Data.(metricdata.Sum[int64])
			if m.Name != name || !isSum {
				continue
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total, true
		}
	}
	return 0, false
}

// Reset forgets every span recorded so far.
func (t *TestTelemetry) Reset() {
	next := tracetest.NewSpanRecorder()
	t.tracerProvider.UnregisterSpanProcessor(t.SpanRecorder)
	t.tracerProvider.RegisterSpanProcessor(next)
	t.SpanRecorder = next
}
