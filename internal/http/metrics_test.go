package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/ctxgraph/internal/telemetry"
)

func TestRequestMetrics_Middleware(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	m := NewRequestMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter(httpInstrumentationName), nil)

	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/v1/graph/nodes/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, c.Param("id"))
	})
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	for _, path := range []string{"/api/v1/graph/nodes/a", "/api/v1/graph/nodes/b", "/health", "/nope"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	byName := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			byName[md.Name] = md
		}
	}
	for _, name := range []string{
		"ctxgraph.http.requests_total",
		"ctxgraph.http.request_duration_seconds",
		"ctxgraph.http.response_size_bytes",
		"ctxgraph.http.active_requests",
	} {
		assert.Contains(t, byName, name)
	}

	sum, ok := byName["ctxgraph.http.requests_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	endpoints := map[string]int64{}
	for _, dp := range sum.DataPoints {
		ep, _ := dp.Attributes.Value("endpoint")
		endpoints[ep.AsString()] += dp.Value
	}
	// Node ids never reach the label set.
	assert.Equal(t, map[string]int64{"/api/v1/graph/nodes/:id": 2, "/health": 1, "unmatched": 1}, endpoints)

	hist, ok := byName["ctxgraph.http.request_duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.EqualValues(t, 4, count)
}

func TestServer_WithMetrics(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	env := setupTestServer(t, WithMetrics(NewRequestMetrics(tt.Meter("test"), nil)))

	do(t, env.server, http.MethodGet, "/health", nil)
	do(t, env.server, http.MethodGet, "/api/v1/stats", nil)

	n, ok := tt.CounterValue(context.Background(), "ctxgraph.http.requests_total")
	require.True(t, ok)
	assert.Equal(t, int64(2), n)
}
