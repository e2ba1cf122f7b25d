package secrets

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// secretRefPattern matches ${scheme:path} or ${VAR_NAME} patterns.
// Examples: ${vault:secret/data/myapp#password}, ${aws-sm:my-secret}, ${env:DB_HOST}, ${DB_HOST}
var secretRefPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// MultiResolver expands secret references in topology files using multiple
// providers identified by scheme. Bare ${VAR_NAME} references (without a
// scheme) resolve through the "env" provider.
type MultiResolver struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewMultiResolver creates a new MultiResolver.
// An EnvProvider is registered by default under the "env" scheme.
func NewMultiResolver() *MultiResolver {
	return &MultiResolver{
		providers: map[string]Provider{"env": NewEnvProvider("")},
	}
}

// Register adds or replaces a provider for a given scheme.
func (m *MultiResolver) Register(scheme string, provider Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[scheme] = provider
}

// Provider returns the provider for a given scheme, or nil if not found.
func (m *MultiResolver) Provider(scheme string) Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.providers[scheme]
}

// Schemes returns the registered provider schemes in sorted order.
func (m *MultiResolver) Schemes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	schemes := make([]string, 0, len(m.providers))
	for s := range m.providers {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

// Expand replaces all ${...} patterns in input with resolved values.
//
// Supported formats:
//   - ${vault:secret/path#field} uses the "vault" provider with key "secret/path#field"
//   - ${aws-sm:secret-name} uses the "aws-sm" provider with key "secret-name"
//   - ${env:VAR_NAME} and ${VAR_NAME} use the "env" provider
//   - ${VAR_NAME:-fallback} yields "fallback" when the secret does not exist
//
// The first failing reference aborts the expansion.
func (m *MultiResolver) Expand(ctx context.Context, input string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var expandErr error
	result := secretRefPattern.ReplaceAllStringFunc(input, func(match string) string {
		if expandErr != nil {
			return match
		}
		inner, def, hasDefault := strings.Cut(match[2:len(match)-1], ":-")
		scheme, key := parseReference(inner)
		provider, ok := m.providers[scheme]
		if !ok {
			expandErr = fmt.Errorf("secrets: unknown provider scheme %q in reference %s", scheme, match)
			return match
		}
		val, err := provider.Get(ctx, key)
		if err != nil && hasDefault && errors.Is(err, ErrNotFound) {
			return def
		}
		if err != nil {
			expandErr = fmt.Errorf("secrets: failed to resolve %s: %w", match, err)
			return match
		}
		return val
	})
	if expandErr != nil {
		return "", expandErr
	}
	return result, nil
}

// parseReference splits an inner reference (without ${}) into scheme and key.
// "vault:secret/path#field" gives ("vault", "secret/path#field"); a bare
// "DB_HOST" gives ("env", "DB_HOST").
func parseReference(inner string) (scheme, key string) {
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		if c == ':' && i > 0 {
			return inner[:i], inner[i+1:]
		}
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-') {
			break
		}
	}
	return "env", inner
}
