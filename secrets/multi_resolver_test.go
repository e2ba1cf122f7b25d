package secrets

import (
	"context"
	"errors"
	"testing"
)

func TestMultiResolver_ExpandEnvDefault(t *testing.T) {
	t.Setenv("MY_DB_HOST", "localhost")
	t.Setenv("MY_DB_PORT", "5432")

	m := NewMultiResolver()
	result, err := m.Expand(context.Background(), "host=${MY_DB_HOST}:${MY_DB_PORT}")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if result != "host=localhost:5432" {
		t.Errorf("expected 'host=localhost:5432', got %q", result)
	}
}

func TestMultiResolver_ExpandEnvScheme(t *testing.T) {
	t.Setenv("APP_KEY", "secret123")

	m := NewMultiResolver()
	result, err := m.Expand(context.Background(), "${env:APP_KEY}")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if result != "secret123" {
		t.Errorf("expected 'secret123', got %q", result)
	}
}

func TestMultiResolver_ExpandRegisteredScheme(t *testing.T) {
	mem := NewMemoryProvider()
	_ = mem.Set(context.Background(), "tokens/npm", `{"token":"t0k"}`)

	m := NewMultiResolver()
	m.Register("mem", mem)
	result, err := m.Expand(context.Background(), "registry=${mem:tokens/npm#token}")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if result != "registry=t0k" {
		t.Errorf("expected 'registry=t0k', got %q", result)
	}
	schemes := m.Schemes()
	if len(schemes) != 2 || schemes[0] != "env" || schemes[1] != "mem" {
		t.Errorf("Schemes() = %v, want [env mem]", schemes)
	}
	if m.Provider("mem") != mem {
		t.Error("Provider(mem) did not return the registered provider")
	}
}

func TestMultiResolver_ExpandNoReferences(t *testing.T) {
	m := NewMultiResolver()
	result, err := m.Expand(context.Background(), "plain-string-value")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if result != "plain-string-value" {
		t.Errorf("expected 'plain-string-value', got %q", result)
	}
}

func TestMultiResolver_ExpandErrors(t *testing.T) {
	m := NewMultiResolver()
	if _, err := m.Expand(context.Background(), "${unknown:key}"); err == nil {
		t.Fatal("expected error for unknown scheme")
	}
	_, err := m.Expand(context.Background(), "${NONEXISTENT_VAR_XYZ_123}")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestParseReference(t *testing.T) {
	tests := []struct {
		inner, scheme, key string
	}{
		{"vault:secret/path#field", "vault", "secret/path#field"},
		{"aws-sm:my-secret", "aws-sm", "my-secret"},
		{"DB_HOST", "env", "DB_HOST"},
		{"path/with:colon", "env", "path/with:colon"},
		{":leading", "env", ":leading"},
	}
	for _, tt := range tests {
		scheme, key := parseReference(tt.inner)
		if scheme != tt.scheme || key != tt.key {
			t.Errorf("parseReference(%q) = (%q, %q), want (%q, %q)", tt.inner, scheme, key, tt.scheme, tt.key)
		}
	}
}

func TestMultiResolver_ExpandDefault(t *testing.T) {
	t.Setenv("SET_LEVEL", "debug")
	m := NewMultiResolver()
	got, err := m.Expand(context.Background(), "${SET_LEVEL:-info} ${TOPOLOGY_UNSET_LEVEL:-info}")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if got != "debug info" {
		t.Errorf("Expand = %q, want %q", got, "debug info")
	}
}
