package http

import (
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/ctxgraph/internal/http"

// RequestMetrics records per-route request counts, latency and response
// sizes. Instruments that failed to register stay nil and are skipped.
type RequestMetrics struct {
	requests metric.Int64Counter
	latency  metric.Float64Histogram
	bytes    metric.Int64Histogram
	inflight metric.Int64UpDownCounter
}

// NewRequestMetrics registers the instruments on meter, or on the global
// meter provider when meter is nil.
func NewRequestMetrics(meter metric.Meter, logger *zap.Logger) *RequestMetrics {
	if meter == nil {
		meter = otel.Meter(httpInstrumentationName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	check := func(name string, err error) {
		if err != nil {
			logger.Warn("instrument not registered", zap.String("instrument", name), zap.Error(err))
		}
	}

	m := &RequestMetrics{}
	var err error
	m.requests, err = meter.Int64Counter("ctxgraph.http.requests_total",
		metric.WithDescription("Requests by method, route template and status"),
		metric.WithUnit("{request}"))
	check("requests_total", err)
	m.latency, err = meter.Float64Histogram("ctxgraph.http.request_duration_seconds",
		metric.WithDescription("Request latency by method, route template and status"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 10))
	check("request_duration_seconds", err)
	m.bytes, err = meter.Int64Histogram("ctxgraph.http.response_size_bytes",
		metric.WithDescription("Response body size"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(256, 1024, 8192, 65536, 524288, 4194304))
	check("response_size_bytes", err)
	m.inflight, err = meter.Int64UpDownCounter("ctxgraph.http.active_requests",
		metric.WithDescription("Requests in progress"),
		metric.WithUnit("{request}"))
	check("active_requests", err)
	return m
}

// Middleware records every request that passes through it.
func (m *RequestMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			began := time.Now()
			if m.inflight != nil {
				m.inflight.Add(ctx, 1)
				defer m.inflight.Add(ctx, -1)
			}

			err := next(c)

			set := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("endpoint", routeLabel(c.Path())),
				attribute.Int("status", c.Response().Status),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, set)
			}
			if m.latency != nil {
				m.latency.Record(ctx, time.Since(began).Seconds(), set)
			}
			if m.bytes != nil {
				m.bytes.Record(ctx, c.Response().Size, set)
			}
			return err
		}
	}
}

// routeLabel returns the matched route template. Unmatched requests have no
// template and share one label.
func routeLabel(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}
