package tracing

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ServiceName is reported as service.name on exported apply traces.
const ServiceName = "topoctl"

// ExportConfig says where apply traces are sent.
type ExportConfig struct {
	// Endpoint is the OTLP HTTP collector address (e.g., "localhost:4318").
	Endpoint string
	// Insecure sends spans over plain HTTP.
	Insecure bool
	// Version is reported as service.version when set.
	Version string
}

// Exporter batches apply spans to an OTLP collector. topoctl creates one
// per apply and shuts it down afterwards so pending spans are flushed.
type Exporter struct {
	tp *sdktrace.TracerProvider
}

// NewExporter creates an Exporter for cfg. No connection is made until
// spans are flushed.
func NewExporter(ctx context.Context, cfg ExportConfig) (*Exporter, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("tracing: OTLP endpoint is required")
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}
	res, err := serviceResource(ctx, cfg.Version)
	if err != nil {
		return nil, err
	}
	return newExporter(exp, res), nil
}

func newExporter(exp sdktrace.SpanExporter, res *resource.Resource) *Exporter {
	return &Exporter{tp: sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)}
}

func serviceResource(ctx context.Context, version string) (*resource.Resource, error) {
	attrs := []resource.Option{
		resource.WithAttributes(semconv.ServiceNameKey.String(ServiceName)),
	}
	if version != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceVersionKey.String(version)))
	}
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}
	return res, nil
}

// ApplyTracer returns an ApplyTracer whose spans go to this exporter.
func (e *Exporter) ApplyTracer() *ApplyTracer {
	return NewApplyTracer(e.tp.Tracer("topology.provision"))
}

// Shutdown flushes pending spans and stops the exporter.
func (e *Exporter) Shutdown(ctx context.Context) error {
	return e.tp.Shutdown(ctx)
}
