// Package memory implements a provider whose drivers fabricate AWS-shaped
// outputs in process. It backs dry runs and tests: every resource type the
// composition emits has a driver, ids look like the real ones, and the load
// balancer and DNS drivers reject the same conflicts the real services do.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/topology/platform"
	"github.com/GoCodeAlone/topology/secrets"
)

// ProviderName identifies the provider.
const ProviderName = "memory"

// Defaults used in fabricated ARNs and hostnames.
const (
	DefaultRegion  = "us-east-1"
	DefaultAccount = "000000000000"
)

// Option configures a Provider.
type Option func(*Provider)

// WithRegion sets the region used in fabricated ARNs and hostnames.
func WithRegion(region string) Option {
	return func(p *Provider) { p.region = region }
}

// WithAccount sets the account id used in fabricated ARNs.
func WithAccount(account string) Option {
	return func(p *Provider) { p.account = account }
}

// WithSecrets sets where database credentials are stored.
func WithSecrets(s *secrets.MemoryProvider) Option {
	return func(p *Provider) { p.secrets = s }
}

// Provider holds every resource its drivers created.
type Provider struct {
	mu        sync.Mutex
	region    string
	account   string
	secrets   *secrets.MemoryProvider
	resources map[string]*platform.ResourceOutput
	drivers   map[string]platform.ResourceDriver

	// priorities maps listener ARN to priority to rule name.
	priorities map[string]map[int]string
	// records maps zone id and record name to the owning resource.
	records map[string]string
}

var _ platform.Provider = (*Provider)(nil)

// New creates a Provider with a driver for every resource type.
func New(opts ...Option) *Provider {
	p := &Provider{
		region:     DefaultRegion,
		account:    DefaultAccount,
		resources:  make(map[string]*platform.ResourceOutput),
		drivers:    make(map[string]platform.ResourceDriver),
		priorities: make(map[string]map[int]string),
		records:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.secrets == nil {
		p.secrets = secrets.NewMemoryProvider()
	}
	updaters := p.updaters()
	for typ, build := range p.builders() {
		d := &driver{provider: p, resourceType: typ, build: build}
		if update, ok := updaters[typ]; ok {
			p.drivers[typ] = &updatingDriver{driver: d, update: update}
			continue
		}
		p.drivers[typ] = d
	}
	return p
}

func (p *Provider) Name() string { return ProviderName }

func (p *Provider) ResourceDriver(resourceType string) (platform.ResourceDriver, error) {
	d, ok := p.drivers[resourceType]
	if !ok {
		return nil, &platform.ResourceDriverNotFoundError{ResourceType: resourceType, Provider: ProviderName}
	}
	return d, nil
}

// ResourceTypes returns the supported resource types in sorted order.
func (p *Provider) ResourceTypes() []string {
	types := make([]string, 0, len(p.drivers))
	for t := range p.drivers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Secrets returns the store holding fabricated database credentials. Pass
// it to the provisioner as its secret source.
func (p *Provider) Secrets() *secrets.MemoryProvider { return p.secrets }

// Resources returns copies of every created resource ordered by name.
func (p *Provider) Resources() []*platform.ResourceOutput {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*platform.ResourceOutput, 0, len(p.resources))
	for _, r := range p.resources {
		out = append(out, cloneOutput(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

type buildFunc func(ctx context.Context, name string, props map[string]any) (*platform.ResourceOutput, error)

// driver is the shared ResourceDriver for every type; build fabricates the
// type-specific output and runs with the provider lock held.
type driver struct {
	provider     *Provider
	resourceType string
	build        buildFunc
}

var (
	_ platform.ResourceDriver = (*driver)(nil)
	_ platform.ResourceReader = (*driver)(nil)
)

func (d *driver) ResourceType() string { return d.resourceType }

func (d *driver) Create(ctx context.Context, name string, props map[string]any) (*platform.ResourceOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := d.provider
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.resources[name]; exists {
		return nil, fmt.Errorf("%s %q: already exists", d.resourceType, name)
	}
	out, err := d.build(ctx, name, props)
	if err != nil {
		return nil, fmt.Errorf("%s %q: %w", d.resourceType, name, err)
	}
	out.Name = name
	out.Type = d.resourceType
	out.Status = platform.ResourceStatusActive
	out.LastSynced = time.Now().UTC()
	p.resources[name] = out
	return cloneOutput(out), nil
}

func (d *driver) Read(_ context.Context, name string) (*platform.ResourceOutput, error) {
	p := d.provider
	p.mu.Lock()
	defer p.mu.Unlock()
	out, ok := p.resources[name]
	if !ok || out.Type != d.resourceType {
		return nil, &platform.ResourceNotFoundError{Name: name, Provider: ProviderName}
	}
	return cloneOutput(out), nil
}

type updateFunc func(ctx context.Context, name string, current *platform.ResourceOutput, props map[string]any) (*platform.ResourceOutput, error)

// updatingDriver is a driver for a type that can change in place. Types
// holding listener priorities or DNS records are not updatable.
type updatingDriver struct {
	*driver
	update updateFunc
}

var _ platform.ResourceUpdater = (*updatingDriver)(nil)

func (d *updatingDriver) Update(ctx context.Context, name string, current *platform.ResourceOutput, props map[string]any) (*platform.ResourceOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := d.provider
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.resources[name]; !exists {
		return nil, &platform.ResourceNotFoundError{Name: name, Provider: ProviderName}
	}
	out, err := d.update(ctx, name, current, props)
	if err != nil {
		return nil, fmt.Errorf("%s %q: %w", d.resourceType, name, err)
	}
	out.Name = name
	out.Type = d.resourceType
	out.Status = platform.ResourceStatusActive
	out.LastSynced = time.Now().UTC()
	p.resources[name] = out
	return cloneOutput(out), nil
}

func (p *Provider) arn(service, resource string) string {
	return fmt.Sprintf("arn:aws:%s:%s:%s:%s", service, p.region, p.account, resource)
}

func shortID(n int) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return id[:n]
}

func str(props map[string]any, key, def string) string {
	if s, ok := props[key].(string); ok && s != "" {
		return s
	}
	return def
}

func num(props map[string]any, key string, def int) int {
	switch n := props[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return def
}

func cloneOutput(o *platform.ResourceOutput) *platform.ResourceOutput {
	cp := *o
	cp.Properties = make(map[string]any, len(o.Properties))
	for k, v := range o.Properties {
		cp.Properties[k] = v
	}
	return &cp
}

func credentialsJSON(user, password string) string {
	b, _ := json.Marshal(map[string]string{"username": user, "password": password})
	return string(b)
}
