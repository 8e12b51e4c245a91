// Package tracing is a thin span helper over the global otel tracer. Until SetTracer is called
// every span is a no-op, which is what the unit tests run with.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer

func SetTracer(t trace.Tracer) {
	tracer = t
}

// StartSpan starts a span named "pkg.Type.Method".
func StartSpan(ctx context.Context, spanName string) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, spanName)
}

// SetEntity tags the span with the entity an operation is scoped to.
func SetEntity(span trace.Span, tenantID, entityType, entityID string) {
	span.SetAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("entity_type", entityType),
		attribute.String("entity_id", entityID),
	)
}

// SetAssociation tags the span with the association being written.
func SetAssociation(span trace.Span, tenantID, id, source, target string) {
	span.SetAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("association_id", id),
		attribute.String("association_source", source),
		attribute.String("association_target", target),
	)
}

// RecordError marks the span failed. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func activeSpan(ctx context.Context) (trace.Span, bool) {
	if tracer == nil {
		return nil, false
	}
	span := trace.SpanFromContext(ctx)
	return span, span.SpanContext().IsValid()
}

// GetTraceID returns the active trace id, or "" outside a recorded span.
func GetTraceID(ctx context.Context) string {
	span, ok := activeSpan(ctx)
	if !ok {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

// TraceParent renders the W3C traceparent of the active span so it can travel on messages.
func TraceParent(ctx context.Context) string {
	if _, ok := activeSpan(ctx); !ok {
		return ""
	}
	carrier := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(ctx, carrier)
	return carrier.Get("traceparent")
}
