package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ApplyTracer creates spans around a topology apply and the resources it
// provisions.
type ApplyTracer struct {
	tracer trace.Tracer
}

// NewApplyTracer creates an ApplyTracer. If tracer is nil, the global
// tracer provider is used.
func NewApplyTracer(tracer trace.Tracer) *ApplyTracer {
	if tracer == nil {
		tracer = otel.GetTracerProvider().Tracer("topology.provision")
	}
	return &ApplyTracer{tracer: tracer}
}

// StartApply begins the root span of an apply.
func (a *ApplyTracer) StartApply(ctx context.Context, topology, provider, runID string) (context.Context, trace.Span) {
	return a.tracer.Start(ctx, "topology.apply",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("topology.name", topology),
			attribute.String("topology.provider", provider),
			attribute.String("topology.run_id", runID),
		),
	)
}

// StartResource begins a child span for one resource.
func (a *ApplyTracer) StartResource(ctx context.Context, name, resourceType string) (context.Context, trace.Span) {
	return a.tracer.Start(ctx, "topology.resource."+name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("topology.resource.name", name),
			attribute.String("topology.resource.type", resourceType),
		),
	)
}

// RecordError records an error on the given span and sets the span status.
func (a *ApplyTracer) RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetResult marks a resource span with its outcome.
func (a *ApplyTracer) SetResult(span trace.Span, result string) {
	span.SetAttributes(attribute.String("topology.resource.result", result))
	span.SetStatus(codes.Ok, "")
}
