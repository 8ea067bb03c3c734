// Package telemetry wires OpenTelemetry tracing and metrics for lessond.
//
// New installs OTLP tracer and meter providers as the otel globals, so
// packages that create instruments through otel.Meter and otel.Tracer export
// through the configured collector without holding a reference to Telemetry.
// Exporters speak gRPC (default) or http/protobuf.
//
//	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Provider failures degrade the instance instead of failing startup;
// Health reports the reasons.
//
// Tests use NewTestTelemetry, which records spans and metrics in memory:
//
//	tt := telemetry.NewTestTelemetry()
//	tt.Install(t)
//	// exercise code that uses otel.Meter
//	n, _ := tt.CounterValue(ctx, "lessond.alerts.routed_total")
package telemetry
