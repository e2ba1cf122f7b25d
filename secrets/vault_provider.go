package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/hashicorp/vault/api"
)

// VaultConfig holds configuration for HashiCorp Vault.
type VaultConfig struct {
	Address   string `json:"address" yaml:"address"`
	Token     string `json:"token" yaml:"token"`
	MountPath string `json:"mount_path" yaml:"mount_path"`
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
}

// KVReader reads secrets from a KV version 2 mount. *api.KVv2 implements it.
type KVReader interface {
	Get(ctx context.Context, secretPath string) (*api.KVSecret, error)
}

// VaultProvider reads secrets from a Vault KV v2 mount. Keys are "path" or
// "path#field"; without a field the whole secret is returned as JSON.
type VaultProvider struct {
	kv    KVReader
	mount string
}

// NewVaultProvider creates a provider backed by the Vault API client.
func NewVaultProvider(cfg VaultConfig) (*VaultProvider, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("%w: vault address is required", ErrProviderInit)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: vault token is required", ErrProviderInit)
	}
	if cfg.MountPath == "" {
		cfg.MountPath = "secret"
	}
	apiCfg := api.DefaultConfig()
	apiCfg.Address = cfg.Address
	client, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderInit, err)
	}
	client.SetToken(cfg.Token)
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}
	return &VaultProvider{kv: client.KVv2(cfg.MountPath), mount: cfg.MountPath}, nil
}

// NewVaultProviderWithReader creates a provider over a custom KV reader.
func NewVaultProviderWithReader(kv KVReader, mount string) *VaultProvider {
	return &VaultProvider{kv: kv, mount: mount}
}

func (p *VaultProvider) Name() string { return "vault" }

func (p *VaultProvider) Get(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}
	path, field := SplitKey(key)
	secret, err := p.kv.Get(ctx, path)
	if err != nil {
		if isVaultNotFound(err) {
			return "", fmt.Errorf("%w: %s/%s", ErrNotFound, p.mount, path)
		}
		return "", fmt.Errorf("secrets: vault read %s/%s: %w", p.mount, path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("%w: no data at %s/%s", ErrNotFound, p.mount, path)
	}
	if field != "" {
		val, ok := secret.Data[field]
		if !ok || val == nil {
			return "", fmt.Errorf("%w: field %q not found at %s/%s", ErrNotFound, field, p.mount, path)
		}
		if s, ok := val.(string); ok {
			return s, nil
		}
		return fmt.Sprintf("%v", val), nil
	}
	data, err := json.Marshal(secret.Data)
	if err != nil {
		return "", fmt.Errorf("secrets: marshal vault data: %w", err)
	}
	return string(data), nil
}

func isVaultNotFound(err error) bool {
	if errors.Is(err, api.ErrSecretNotFound) {
		return true
	}
	var apiErr *api.ResponseError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusNotFound
	}
	return false
}

var _ Provider = (*VaultProvider)(nil)
