// Package logging builds the daemon's zap logger.
//
// # Overview
//
// The logger adds:
//   - a Trace level (-2, below Debug)
//   - stdout output plus an optional OpenTelemetry log bridge (otelzap)
//   - correlation fields from context: trace_id, span_id, run.id, workflow.id
//   - secret redaction by field name and value pattern
//   - per-level sampling (errors never sampled)
//
// # Usage
//
//	cfg, err := logging.FromObservability(cfg.Observability, "lessond")
//	logger, err := logging.NewLogger(cfg, otelLoggerProvider)
//	defer logger.Sync()
//
//	ctx = logging.WithRunID(ctx, run.RunID)
//	logger.Info(ctx, "lessons extracted", zap.Int("count", n))
//
// Services take a *zap.Logger; hand them logger.Underlying() and add
// ContextFields(ctx) at call sites that have a run in flight.
//
// # Sampling
//
//   - Trace: first 1 per second
//   - Debug: first 10 per second
//   - Info: first 100, then 1 in 10
//   - Warn: first 100, then 1 in 100
//   - Error and above: never sampled
//
// Sampling is disabled when the configured level is debug or trace.
//
// # Testing
//
//	tl := logging.NewTestLogger()
//	svc := service.New(tl.Underlying())
//	tl.AssertLogged(t, zapcore.WarnLevel, "reload rejected")
package logging
