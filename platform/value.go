package platform

import (
	"context"
	"fmt"
	"strings"
)

// Resolver is what a deferred value may read when the provisioning engine
// resolves it: outputs of resources created earlier in the same apply, and
// secrets from the engine's secret source.
type Resolver interface {
	// Output returns the output of a previously provisioned resource.
	Output(name string) (*ResourceOutput, error)

	// Secret returns a secret value. Keys use the "path#field" form.
	Secret(ctx context.Context, key string) (string, error)
}

// ResolveFunc computes a deferred value's content during provisioning.
type ResolveFunc func(ctx context.Context, r Resolver) (string, error)

// Value is either an immediate string or a deferred value whose content is
// only known once the provisioning engine has created the resources it reads.
// The composition core passes deferred values through opaquely; it never
// resolves or compares their content.
type Value struct {
	literal string
	lazy    *lazyValue
}

type lazyValue struct {
	description string
	rendered    string
	reads       []string
	resolve     ResolveFunc
}

// String returns an immediate Value.
func String(s string) Value {
	return Value{literal: s}
}

// Lazy returns a deferred Value. reads names the graph resources whose
// outputs resolve needs; the engine orders provisioning so that they exist
// before resolve runs.
func Lazy(description string, resolve ResolveFunc, reads ...string) Value {
	return Value{lazy: &lazyValue{
		description: description,
		reads:       dedupe(reads),
		resolve:     resolve,
	}}
}

// Attr returns a deferred Value holding the named output property of a graph
// resource.
func Attr(resource, key string) Value {
	return Lazy(resource+"."+key, func(_ context.Context, r Resolver) (string, error) {
		out, err := r.Output(resource)
		if err != nil {
			return "", err
		}
		v, ok := out.Property(key)
		if !ok {
			return "", &OutputMissingError{Resource: resource, Key: key}
		}
		return v, nil
	}, resource)
}

// Concat joins values. The result is immediate when every part is.
func Concat(parts ...Value) Value {
	var (
		literal strings.Builder
		desc    strings.Builder
		reads   []string
		lazy    bool
	)
	for _, p := range parts {
		if p.IsDeferred() {
			lazy = true
			reads = append(reads, p.lazy.reads...)
		} else {
			literal.WriteString(p.literal)
		}
		desc.WriteString(p.String())
	}
	if !lazy {
		return String(literal.String())
	}
	v := Lazy(desc.String(), func(ctx context.Context, r Resolver) (string, error) {
		var b strings.Builder
		for _, p := range parts {
			s, err := p.Resolve(ctx, r)
			if err != nil {
				return "", err
			}
			b.WriteString(s)
		}
		return b.String(), nil
	}, reads...)
	v.lazy.rendered = desc.String()
	return v
}

// IsDeferred reports whether the value is resolved by the provisioning engine.
func (v Value) IsDeferred() bool { return v.lazy != nil }

// IsEmpty reports whether the value is an empty immediate string.
func (v Value) IsEmpty() bool { return v.lazy == nil && v.literal == "" }

// Literal returns the immediate content, or false for deferred values.
func (v Value) Literal() (string, bool) {
	if v.lazy != nil {
		return "", false
	}
	return v.literal, true
}

// Reads returns the graph resources a deferred value reads.
func (v Value) Reads() []string {
	if v.lazy == nil {
		return nil
	}
	return v.lazy.reads
}

// String renders the value for plans: immediate content as-is, deferred
// values as a "${description}" placeholder.
func (v Value) String() string {
	if v.lazy == nil {
		return v.literal
	}
	if v.lazy.rendered != "" {
		return v.lazy.rendered
	}
	return "${" + v.lazy.description + "}"
}

// Resolve returns the value's content. Only the provisioning engine calls
// this for deferred values.
func (v Value) Resolve(ctx context.Context, r Resolver) (string, error) {
	if v.lazy == nil {
		return v.literal, nil
	}
	s, err := v.lazy.resolve(ctx, r)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", v.lazy.description, err)
	}
	return s, nil
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func formatScalar(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []string:
		return strings.Join(s, ",")
	default:
		return fmt.Sprintf("%v", v)
	}
}
