package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Telemetry owns the tracer and meter providers for the process. When an
// exporter cannot be built it keeps running on the global no-op providers
// and reports itself degraded.
type Telemetry struct {
	config *Config

	tracerProvider *trace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	logProvider    log.LoggerProvider

	mu     sync.RWMutex
	status HealthStatus
}

// HealthStatus is the telemetry state shown on health endpoints.
type HealthStatus struct {
	Healthy  bool   `json:"healthy"`
	Degraded bool   `json:"degraded"`
	Reason   string `json:"reason,omitempty"`
}

// sdkProvider is the lifecycle shared by the trace and metric SDK providers.
type sdkProvider interface {
	ForceFlush(context.Context) error
	Shutdown(context.Context) error
}

// New validates cfg and, when telemetry is enabled, installs its providers
// and the W3C propagators globally.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}
	t := &Telemetry{config: cfg, status: HealthStatus{Healthy: true}}
	if !cfg.Enabled {
		return t, nil
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	res, err := newResource(cfg)
	if err != nil {
		t.setDegraded("resource creation failed: %v", err)
		return t, nil
	}

	if tp, err := newTracerProvider(ctx, cfg, res, o.traceExporter); err != nil {
		t.setDegraded("tracer provider failed: %v", err)
	} else {
		t.tracerProvider = tp
		otel.SetTracerProvider(tp)
	}

	if mp, err := newMeterProvider(ctx, cfg, res, o.metricExporter); err != nil {
		t.setDegraded("meter provider failed: %v", err)
	} else if mp != nil {
		t.meterProvider = mp
		otel.SetMeterProvider(mp)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return t, nil
}

// Tracer returns a tracer from the owned provider, or from the global one
// when telemetry is off.
func (t *Telemetry) Tracer(name string, opts ...oteltrace.TracerOption) oteltrace.Tracer {
	if t != nil && t.tracerProvider != nil {
		return t.tracerProvider.Tracer(name, opts...)
	}
	return otel.GetTracerProvider().Tracer(name, opts...)
}

// Meter returns a meter from the owned provider, or from the global one
// when telemetry or metrics are off.
func (t *Telemetry) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if t != nil && t.meterProvider != nil {
		return t.meterProvider.Meter(name, opts...)
	}
	return otel.GetMeterProvider().Meter(name, opts...)
}

// LoggerProvider returns the provider for the zap OTEL bridge, or nil.
func (t *Telemetry) LoggerProvider() log.LoggerProvider {
	if t == nil {
		return nil
	}
	return t.logProvider
}

// SetLoggerProvider installs the provider used by the zap OTEL bridge.
func (t *Telemetry) SetLoggerProvider(lp log.LoggerProvider) {
	if t != nil {
		t.logProvider = lp
	}
}

func (t *Telemetry) providers() []sdkProvider {
	var out []sdkProvider
	if t.tracerProvider != nil {
		out = append(out, t.tracerProvider)
	}
	if t.meterProvider != nil {
		out = append(out, t.meterProvider)
	}
	return out
}

// ForceFlush exports everything still buffered.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var errs []error
	for _, p := range t.providers() {
		if err := p.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown flushes and stops the providers. ctx without a deadline gets the
// configured shutdown timeout.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok && t.config != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.Shutdown.Timeout.Duration())
		defer cancel()
	}

	var errs []error
	for _, p := range t.providers() {
		if err := p.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown: %w", err))
		}
	}

	t.mu.Lock()
	t.status.Healthy = false
	t.mu.Unlock()
	return errors.Join(errs...)
}

// Health returns a copy of the current status.
func (t *Telemetry) Health() HealthStatus {
	if t == nil {
		return HealthStatus{Degraded: true}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// IsEnabled reports whether telemetry is configured on and not shut down.
func (t *Telemetry) IsEnabled() bool {
	if t == nil || t.config == nil || !t.config.Enabled {
		return false
	}
	return t.Health().Healthy
}

func (t *Telemetry) setDegraded(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Degraded = true
	t.status.Reason = fmt.Sprintf(format, args...)
}
