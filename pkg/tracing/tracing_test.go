package tracing

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestSpansWithoutTracer(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "tracing.Test")
	defer span.End()

	assert.False(t, span.SpanContext().IsValid())
	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, TraceParent(ctx))
}

func TestSpansWithTracer(t *testing.T) {
	provider := sdktrace.NewTracerProvider()
	SetTracer(provider.Tracer("test"))
	t.Cleanup(func() {
		SetTracer(nil)
		_ = provider.Shutdown(context.Background())
	})

	ctx, span := StartSpan(context.Background(), "tracing.Test")
	defer span.End()
	SetEntity(span, "T1", "company", "C1")
	RecordError(span, nil)

	traceID := GetTraceID(ctx)
	assert.Len(t, traceID, 32)
	assert.True(t, strings.HasPrefix(TraceParent(ctx), "00-"+traceID+"-"))
}
