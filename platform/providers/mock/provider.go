// Package mock provides configurable test doubles for the provisioning
// interfaces. Each mock uses function pointers for customizable behavior and
// tracks method calls for assertion in tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/GoCodeAlone/topology/platform"
)

// MockCall records a single method invocation for assertion purposes.
type MockCall struct {
	Method string
	Args   []any
}

type recorder struct {
	mu    sync.RWMutex
	calls []MockCall
}

func (r *recorder) record(method string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, MockCall{Method: method, Args: args})
}

// GetCalls returns a copy of the recorded calls.
func (r *recorder) GetCalls() []MockCall {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MockCall, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallCount returns how many times method was called.
func (r *recorder) CallCount(method string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, c := range r.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// --- MockProvider ---

// MockProvider implements platform.Provider. Drivers registered with
// AddDriver are served by type; ResourceDriverFn overrides the lookup.
type MockProvider struct {
	recorder

	NameFn           func() string
	ResourceDriverFn func(resourceType string) (platform.ResourceDriver, error)

	drivers map[string]platform.ResourceDriver
}

// NewMockProvider returns a MockProvider with no drivers.
func NewMockProvider() *MockProvider {
	return &MockProvider{drivers: make(map[string]platform.ResourceDriver)}
}

// AddDriver registers d under its resource type.
func (m *MockProvider) AddDriver(d platform.ResourceDriver) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[d.ResourceType()] = d
	return m
}

func (m *MockProvider) Name() string {
	if m.NameFn != nil {
		return m.NameFn()
	}
	return "mock"
}

func (m *MockProvider) ResourceDriver(resourceType string) (platform.ResourceDriver, error) {
	m.record("ResourceDriver", resourceType)
	if m.ResourceDriverFn != nil {
		return m.ResourceDriverFn(resourceType)
	}
	m.mu.RLock()
	d, ok := m.drivers[resourceType]
	m.mu.RUnlock()
	if !ok {
		return nil, &platform.ResourceDriverNotFoundError{ResourceType: resourceType, Provider: "mock"}
	}
	return d, nil
}

// --- MockResourceDriver ---

// MockResourceDriver implements platform.ResourceDriver and
// platform.ResourceReader. By default Create echoes the properties back as
// outputs and Read reports that nothing exists.
type MockResourceDriver struct {
	recorder

	resourceType string

	CreateFn func(ctx context.Context, name string, properties map[string]any) (*platform.ResourceOutput, error)
	ReadFn   func(ctx context.Context, name string) (*platform.ResourceOutput, error)
}

// NewMockResourceDriver returns a MockResourceDriver for the given resource type.
func NewMockResourceDriver(resourceType string) *MockResourceDriver {
	return &MockResourceDriver{resourceType: resourceType}
}

func (m *MockResourceDriver) ResourceType() string { return m.resourceType }

func (m *MockResourceDriver) Create(ctx context.Context, name string, properties map[string]any) (*platform.ResourceOutput, error) {
	m.record("Create", name, properties)
	if m.CreateFn != nil {
		return m.CreateFn(ctx, name, properties)
	}
	return &platform.ResourceOutput{
		Name:       name,
		Type:       m.resourceType,
		ID:         name + "-id",
		Status:     platform.ResourceStatusActive,
		Properties: properties,
		LastSynced: time.Now(),
	}, nil
}

func (m *MockResourceDriver) Read(ctx context.Context, name string) (*platform.ResourceOutput, error) {
	m.record("Read", name)
	if m.ReadFn != nil {
		return m.ReadFn(ctx, name)
	}
	return nil, &platform.ResourceNotFoundError{Name: name, Provider: "mock"}
}

// Created returns the names passed to Create, in call order.
func (m *MockResourceDriver) Created() []string {
	var names []string
	for _, c := range m.GetCalls() {
		if c.Method == "Create" {
			names = append(names, c.Args[0].(string))
		}
	}
	return names
}

// Compile-time interface satisfaction checks.
var (
	_ platform.Provider       = (*MockProvider)(nil)
	_ platform.ResourceDriver = (*MockResourceDriver)(nil)
	_ platform.ResourceReader = (*MockResourceDriver)(nil)
)
