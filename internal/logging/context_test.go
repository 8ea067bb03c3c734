package logging

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

func fieldMap(fields []zap.Field) map[string]zap.Field {
	m := make(map[string]zap.Field, len(fields))
	for _, f := range fields {
		m[f.Key] = f
	}
	return m
}

func TestContextFields_Empty(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
}

func TestContextFields_Trace(t *testing.T) {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "evaluate")
	defer span.End()

	fields := fieldMap(ContextFields(ctx))
	require.Contains(t, fields, "trace_id")
	assert.Equal(t, span.SpanContext().TraceID().String(), fields["trace_id"].String)
	assert.Equal(t, span.SpanContext().SpanID().String(), fields["span_id"].String)
	assert.Contains(t, fields, "trace_sampled")
}

func TestContextFields_RunAndWorkflow(t *testing.T) {
	ctx := WithRunID(context.Background(), "run-42")
	ctx = WithWorkflowID(ctx, "code-review")

	fields := fieldMap(ContextFields(ctx))
	assert.Equal(t, "run-42", fields["run.id"].String)
	assert.Equal(t, "code-review", fields["workflow.id"].String)
}

func TestWithRunID_InvalidIgnored(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{"empty", ""},
		{"spaces", "run 42"},
		{"newline", "run\n42"},
		{"too long", strings.Repeat("a", maxIDLen+1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := WithRunID(context.Background(), tt.id)
			assert.Empty(t, RunIDFromContext(ctx))
			ctx = WithWorkflowID(context.Background(), tt.id)
			assert.Empty(t, WorkflowIDFromContext(ctx))
		})
	}
}

func TestWithRunID_AcceptsUUIDsAndDots(t *testing.T) {
	id := "3f2b6c1e-9d2a-4c1b-8f00-0a1b2c3d4e5f"
	assert.Equal(t, id, RunIDFromContext(WithRunID(context.Background(), id)))
	assert.Equal(t, "wf.v2:nightly", WorkflowIDFromContext(WithWorkflowID(context.Background(), "wf.v2:nightly")))
}

func TestLogger_InContext(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	assert.Same(t, tl.Logger, FromContext(ctx))
}

func TestLogger_FromContextMissing(t *testing.T) {
	l := FromContext(context.Background())
	require.NotNil(t, l)
	l.Info(context.Background(), "dropped")
}
