package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/GoCodeAlone/topology/platform"
)

// SecretSource is where deferred values read secrets from. Every
// secrets.Provider satisfies it.
type SecretSource interface {
	Get(ctx context.Context, key string) (string, error)
}

// ErrNoSecretSource is returned when a deferred value reads a secret and the
// provisioner has none configured.
var ErrNoSecretSource = errors.New("provision: no secret source configured")

// outputResolver serves deferred values from the outputs provisioned so far
// in the current apply.
type outputResolver struct {
	outputs map[string]*platform.ResourceOutput
	secrets SecretSource
}

var _ platform.Resolver = (*outputResolver)(nil)

func (r *outputResolver) Output(name string) (*platform.ResourceOutput, error) {
	out, ok := r.outputs[name]
	if !ok {
		return nil, &platform.ResourceNotFoundError{Name: name}
	}
	return out, nil
}

func (r *outputResolver) Secret(ctx context.Context, key string) (string, error) {
	if r.secrets == nil {
		return "", ErrNoSecretSource
	}
	v, err := r.secrets.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("secret %q: %w", key, err)
	}
	return v, nil
}
