package platform

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
)

func newTestContext(t *testing.T, opts ...Option) *PlatformContext {
	t.Helper()
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	pctx, err := NewPlatformContext("bank", opts...)
	if err != nil {
		t.Fatalf("NewPlatformContext: %v", err)
	}
	return pctx
}

// fakeConnection records what composition writes into a consumer.
type fakeConnection struct {
	env    *Environment
	grants []Boundary
	err    error
}

func newFakeConnection() *fakeConnection {
	return &fakeConnection{env: NewEnvironment()}
}

func (f *fakeConnection) AddRouteTo(name string, v Value) error {
	if f.err != nil {
		return f.err
	}
	return f.env.Set(name, v)
}

func (f *fakeConnection) AllowIngressTo(b Boundary) error {
	f.grants = append(f.grants, b)
	return nil
}

// fakeResolver serves outputs and secrets from maps.
type fakeResolver struct {
	outputs map[string]*ResourceOutput
	secrets map[string]string
}

func (r *fakeResolver) Output(name string) (*ResourceOutput, error) {
	out, ok := r.outputs[name]
	if !ok {
		return nil, &ResourceNotFoundError{Name: name}
	}
	return out, nil
}

func (r *fakeResolver) Secret(_ context.Context, key string) (string, error) {
	s, ok := r.secrets[key]
	if !ok {
		return "", fmt.Errorf("secret %q not found", key)
	}
	return s, nil
}
