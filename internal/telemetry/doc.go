// Package telemetry wires OpenTelemetry tracing and metrics for ctxgraph.
//
// Spans and instruments are exported over OTLP (gRPC by default, or
// http/protobuf) to a collector. The retriever and session layers create
// their tracers from the global provider, so New installs its providers
// globally when enabled.
//
//	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Observability, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Exporter failures never abort startup: the instance reports Degraded with
// a reason through Health and falls back to no-op providers.
//
// Tests use TestTelemetry, which records spans and metrics in memory:
//
//	tt := telemetry.NewTestTelemetry()
//	svc, _ := session.NewService(r, logger, session.WithMeter(tt.Meter("test")))
//	n, _ := tt.CounterValue(ctx, "ctxgraph.session.retrievals_total")
package telemetry
