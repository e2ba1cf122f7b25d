package platform

import (
	"context"
	"sort"
)

// Environment is the runtime configuration injected into a unit: variable
// name to Value. Keys are unique and the last write for a key wins.
//
// An Environment is sealed when the graph holding it is handed to
// provisioning. Writes after that point return ErrEnvironmentSealed, since
// the provisioned unit would never see them.
type Environment struct {
	vars   map[string]Value
	sealed bool
}

// NewEnvironment returns an empty, writable Environment.
func NewEnvironment() *Environment {
	return &Environment{vars: make(map[string]Value)}
}

// Set writes a variable, replacing any previous value for the same key.
func (e *Environment) Set(key string, v Value) error {
	if key == "" {
		return ErrEmptyEnvironmentKey
	}
	if e.sealed {
		return ErrEnvironmentSealed
	}
	e.vars[key] = v
	return nil
}

// Get returns the value stored for key.
func (e *Environment) Get(key string) (Value, bool) {
	v, ok := e.vars[key]
	return v, ok
}

// Len returns the number of variables.
func (e *Environment) Len() int { return len(e.vars) }

// Keys returns the variable names in sorted order.
func (e *Environment) Keys() []string {
	keys := make([]string, 0, len(e.vars))
	for k := range e.vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Sealed reports whether the environment no longer accepts writes.
func (e *Environment) Sealed() bool { return e.sealed }

func (e *Environment) seal() { e.sealed = true }

// Reads returns every graph resource read by deferred values in the
// environment.
func (e *Environment) Reads() []string {
	var reads []string
	for _, k := range e.Keys() {
		reads = append(reads, e.vars[k].Reads()...)
	}
	return dedupe(reads)
}

// Render returns the environment with deferred values shown as placeholders.
func (e *Environment) Render() map[string]string {
	out := make(map[string]string, len(e.vars))
	for k, v := range e.vars {
		out[k] = v.String()
	}
	return out
}

// Resolve returns the environment with every value resolved. Only the
// provisioning engine calls this.
func (e *Environment) Resolve(ctx context.Context, r Resolver) (map[string]string, error) {
	out := make(map[string]string, len(e.vars))
	for _, k := range e.Keys() {
		s, err := e.vars[k].Resolve(ctx, r)
		if err != nil {
			return nil, &EnvironmentResolveError{Key: k, Err: err}
		}
		out[k] = s
	}
	return out, nil
}
