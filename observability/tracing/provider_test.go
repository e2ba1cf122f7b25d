package tracing

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// keepingExporter leaves exported spans readable after shutdown.
type keepingExporter struct {
	*tracetest.InMemoryExporter
}

func (keepingExporter) Shutdown(context.Context) error { return nil }

func TestNewExporter_RequiresEndpoint(t *testing.T) {
	if _, err := NewExporter(context.Background(), ExportConfig{Insecure: true}); err == nil {
		t.Fatal("expected error without an endpoint")
	}
}

func TestNewExporter_ShutdownWithoutSpans(t *testing.T) {
	e, err := NewExporter(context.Background(), ExportConfig{Endpoint: "localhost:4318", Insecure: true, Version: "v0.3.0"})
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestExporter_FlushesApplySpansOnShutdown(t *testing.T) {
	ctx := context.Background()
	mem := tracetest.NewInMemoryExporter()
	res, err := serviceResource(ctx, "v0.3.0")
	if err != nil {
		t.Fatalf("serviceResource: %v", err)
	}
	e := newExporter(keepingExporter{mem}, res)

	at := e.ApplyTracer()
	actx, root := at.StartApply(ctx, "bank", "memory", "run-1")
	_, child := at.StartResource(actx, "bank-vpc", "aws.vpc")
	at.SetResult(child, "created")
	child.End()
	root.End()

	if n := len(mem.GetSpans()); n != 0 {
		t.Fatalf("%d spans exported before shutdown, want them batched", n)
	}
	if err := e.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	spans := mem.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("exported %d spans, want 2", len(spans))
	}
	for _, s := range spans {
		set := s.Resource.Set()
		if v, _ := set.Value(attribute.Key("service.name")); v.AsString() != ServiceName {
			t.Errorf("span %s service.name = %q, want %q", s.Name, v.AsString(), ServiceName)
		}
		if v, _ := set.Value(attribute.Key("service.version")); v.AsString() != "v0.3.0" {
			t.Errorf("span %s service.version = %q, want v0.3.0", s.Name, v.AsString())
		}
	}
}

func TestServiceResource_OmitsEmptyVersion(t *testing.T) {
	res, err := serviceResource(context.Background(), "")
	if err != nil {
		t.Fatalf("serviceResource: %v", err)
	}
	if _, ok := res.Set().Value(attribute.Key("service.version")); ok {
		t.Error("service.version set without a version")
	}
}
