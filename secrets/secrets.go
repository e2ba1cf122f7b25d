// Package secrets provides the secret sources deferred values read from when
// a topology is applied: environment variables, files, memory, AWS Secrets
// Manager and Vault. Keys may carry a "#field" suffix that selects one field
// of a JSON-encoded secret, which is how managed database credentials are
// stored.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Common errors.
var (
	ErrNotFound     = errors.New("secrets: secret not found")
	ErrUnsupported  = errors.New("secrets: operation not supported")
	ErrInvalidKey   = errors.New("secrets: invalid key")
	ErrProviderInit = errors.New("secrets: provider initialization failed")
)

// Provider defines the interface for secret storage backends.
type Provider interface {
	// Name returns the provider identifier.
	Name() string
	// Get retrieves a secret value by key.
	Get(ctx context.Context, key string) (string, error)
}

// Writer is implemented by providers that can store secrets.
type Writer interface {
	// Set stores a secret.
	Set(ctx context.Context, key, value string) error
}

// SplitKey splits "path#field" into (path, field).
func SplitKey(key string) (path, field string) {
	if idx := strings.LastIndex(key, "#"); idx >= 0 {
		return key[:idx], key[idx+1:]
	}
	return key, ""
}

// Field returns one field of a JSON object secret. An empty field returns
// the raw secret.
func Field(raw, field, key string) (string, error) {
	if field == "" {
		return raw, nil
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return "", fmt.Errorf("secrets: %s is not a JSON object: %w", key, err)
	}
	v, ok := data[field]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: field %q in %s", ErrNotFound, field, key)
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return fmt.Sprintf("%v", v), nil
}

// --- Environment Variable Provider ---

// EnvProvider reads secrets from environment variables.
// Keys are converted to uppercase with dots and slashes replaced by
// underscores. For example, "database.password" becomes "DATABASE_PASSWORD".
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates a new environment variable secret provider.
// If prefix is non-empty, it is prepended to all key lookups (e.g., prefix "APP_" + key "db_pass" -> "APP_DB_PASS").
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{prefix: prefix}
}

func (p *EnvProvider) Name() string { return "env" }

func (p *EnvProvider) Get(_ context.Context, key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}
	path, field := SplitKey(key)
	envKey := p.envKey(path)
	val, ok := os.LookupEnv(envKey)
	if !ok {
		return "", fmt.Errorf("%w: env var %s", ErrNotFound, envKey)
	}
	return Field(val, field, envKey)
}

func (p *EnvProvider) envKey(key string) string {
	k := strings.ToUpper(strings.NewReplacer(".", "_", "/", "_", "-", "_").Replace(key))
	if p.prefix != "" {
		return strings.ToUpper(p.prefix) + k
	}
	return k
}

// --- File Provider ---

// FileProvider reads secrets from files in a directory.
// Each file name is the secret key, and the file content is the value.
// This is compatible with Kubernetes secret volume mounts.
type FileProvider struct {
	dir string
}

// NewFileProvider creates a file-based secret provider rooted at dir.
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{dir: dir}
}

func (p *FileProvider) Name() string { return "file" }

func (p *FileProvider) Get(_ context.Context, key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}
	path, field := SplitKey(key)
	if !filepath.IsLocal(path) {
		return "", fmt.Errorf("%w: %s escapes the secrets directory", ErrInvalidKey, path)
	}
	data, err := os.ReadFile(filepath.Join(p.dir, path))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return "", fmt.Errorf("secrets: failed to read %s: %w", path, err)
	}
	return Field(strings.TrimRight(string(data), "\n\r"), field, path)
}

// --- Memory Provider ---

// MemoryProvider keeps secrets in memory. The in-memory driver set stores
// the credentials of the databases it fabricates here.
type MemoryProvider struct {
	mu      sync.RWMutex
	secrets map[string]string
}

// NewMemoryProvider creates an empty in-memory provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{secrets: make(map[string]string)}
}

func (p *MemoryProvider) Name() string { return "memory" }

// Get returns the secret stored under key. A "path#field" key that was not
// stored verbatim selects a field of the JSON secret stored under path.
func (p *MemoryProvider) Get(_ context.Context, key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if v, ok := p.secrets[key]; ok {
		return v, nil
	}
	path, field := SplitKey(key)
	v, ok := p.secrets[path]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return Field(v, field, path)
}

// Set stores a secret.
func (p *MemoryProvider) Set(_ context.Context, key, value string) error {
	if key == "" {
		return ErrInvalidKey
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.secrets[key] = value
	return nil
}

// Keys returns the stored keys in sorted order.
func (p *MemoryProvider) Keys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := make([]string, 0, len(p.secrets))
	for k := range p.secrets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var (
	_ Provider = (*EnvProvider)(nil)
	_ Provider = (*FileProvider)(nil)
	_ Provider = (*MemoryProvider)(nil)
	_ Writer   = (*MemoryProvider)(nil)
)
