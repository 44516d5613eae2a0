package embeddings

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

// failingProvider returns err from every embedding call.
type failingProvider struct {
	*HashProvider
	err error
}

func (p *failingProvider) Embed(context.Context, string) ([]float32, error) { return nil, p.err }

func (p *failingProvider) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, p.err
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestInstrumented_RecordsCalls(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter(instrumentationName)
	p := &instrumented{Provider: NewHashProvider(32), name: "hash", metrics: NewMetrics(meter, zap.NewNop())}

	ctx := context.Background()
	_, err := p.Embed(ctx, "graph retrieval")
	require.NoError(t, err)
	_, err = p.EmbedBatch(ctx, []string{"one", "two", "three"})
	require.NoError(t, err)

	got := collect(t, reader)
	require.Contains(t, got, "ctxgraph.embedding.duration_seconds")
	require.Contains(t, got, "ctxgraph.embedding.batch_size")
	assert.NotContains(t, got, "ctxgraph.embedding.errors_total")

	batch, ok := got["ctxgraph.embedding.batch_size"].Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	var total int64
	var calls uint64
	for _, dp := range batch.DataPoints {
		total += dp.Sum
		calls += dp.Count
		provider, _ := dp.Attributes.Value("provider")
		assert.Equal(t, "hash", provider.AsString())
	}
	assert.EqualValues(t, 4, total)
	assert.EqualValues(t, 2, calls)
}

func TestInstrumented_ErrorReasons(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: wrapErr("tei", "embed", ErrEmptyInput), want: "empty_input"},
		{err: context.DeadlineExceeded, want: "timeout"},
		{err: context.Canceled, want: "canceled"},
		{err: errors.New("connection refused"), want: "provider_error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			reader := sdkmetric.NewManualReader()
			meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter(instrumentationName)
			p := &instrumented{
				Provider: &failingProvider{HashProvider: NewHashProvider(8), err: tt.err},
				name:     "tei",
				metrics:  NewMetrics(meter, nil),
			}

			_, err := p.Embed(context.Background(), "x")
			require.ErrorIs(t, err, tt.err)

			counter, ok := collect(t, reader)["ctxgraph.embedding.errors_total"].Data.(metricdata.Sum[int64])
			require.True(t, ok)
			require.Len(t, counter.DataPoints, 1)
			reason, _ := counter.DataPoints[0].Attributes.Value("reason")
			assert.Equal(t, tt.want, reason.AsString())
			assert.EqualValues(t, 1, counter.DataPoints[0].Value)
		})
	}
}

func TestNewProvider_InstrumentsBackends(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter(instrumentationName)

	p, err := NewProvider(ProviderConfig{Provider: "hash", Dimension: 16, Meter: meter})
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Contains(t, collect(t, reader), "ctxgraph.embedding.duration_seconds")
}

func TestNewMetrics_NilMeter(t *testing.T) {
	m := NewMetrics(nil, nil)
	require.NotNil(t, m)
	assert.NotPanics(t, func() {
		m.record(context.Background(), "hash", "embed", 0, 1, errors.New("boom"))
	})
}
