package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hashicorp/vault/api"
)

type fakeKV struct {
	data map[string]map[string]any
	err  error
}

func (f *fakeKV) Get(_ context.Context, path string) (*api.KVSecret, error) {
	if f.err != nil {
		return nil, f.err
	}
	d, ok := f.data[path]
	if !ok {
		return nil, api.ErrSecretNotFound
	}
	return &api.KVSecret{Data: d}, nil
}

func TestVaultProvider_Get(t *testing.T) {
	p := NewVaultProviderWithReader(&fakeKV{data: map[string]map[string]any{
		"myapp/config": {"username": "admin", "password": "s3cret", "port": json.Number("5432")},
	}}, "secret")
	ctx := context.Background()

	val, err := p.Get(ctx, "myapp/config#password")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if val != "s3cret" {
		t.Errorf("expected 's3cret', got %q", val)
	}
	if val, _ := p.Get(ctx, "myapp/config#port"); val != "5432" {
		t.Errorf("expected '5432', got %q", val)
	}

	full, err := p.Get(ctx, "myapp/config")
	if err != nil {
		t.Fatalf("Get full: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(full), &decoded); err != nil {
		t.Fatalf("full secret is not JSON: %v", err)
	}
	if decoded["username"] != "admin" {
		t.Errorf("username = %v, want admin", decoded["username"])
	}
}

func TestVaultProvider_Errors(t *testing.T) {
	ctx := context.Background()
	p := NewVaultProviderWithReader(&fakeKV{data: map[string]map[string]any{
		"myapp/config": {"username": "admin"},
	}}, "secret")

	if _, err := p.Get(ctx, "other"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing path: expected ErrNotFound, got %v", err)
	}
	if _, err := p.Get(ctx, "myapp/config#password"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing field: expected ErrNotFound, got %v", err)
	}
	if _, err := p.Get(ctx, ""); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}

	forbidden := NewVaultProviderWithReader(&fakeKV{err: &api.ResponseError{StatusCode: 403}}, "secret")
	_, err := forbidden.Get(ctx, "myapp/config")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("forbidden: error = %v, want a non-not-found error", err)
	}
	gone := NewVaultProviderWithReader(&fakeKV{err: &api.ResponseError{StatusCode: 404}}, "secret")
	if _, err := gone.Get(ctx, "myapp/config"); !errors.Is(err, ErrNotFound) {
		t.Errorf("404: expected ErrNotFound, got %v", err)
	}
}

func TestNewVaultProvider_Validation(t *testing.T) {
	if _, err := NewVaultProvider(VaultConfig{Token: "t"}); !errors.Is(err, ErrProviderInit) {
		t.Errorf("missing address: expected ErrProviderInit, got %v", err)
	}
	if _, err := NewVaultProvider(VaultConfig{Address: "http://127.0.0.1:8200"}); !errors.Is(err, ErrProviderInit) {
		t.Errorf("missing token: expected ErrProviderInit, got %v", err)
	}
	p, err := NewVaultProvider(VaultConfig{Address: "http://127.0.0.1:8200", Token: "root"})
	if err != nil {
		t.Fatalf("NewVaultProvider: %v", err)
	}
	if p.mount != "secret" || p.Name() != "vault" {
		t.Errorf("provider = %+v", p)
	}
}
