package platform

import "context"

// ResourceDriver creates resources of one type. Each provider composes
// multiple drivers, one per resource type it supports. Drivers are
// responsible for the actual interaction with the provider API and receive
// fully resolved properties.
type ResourceDriver interface {
	// ResourceType returns the fully qualified resource type (e.g., "aws.alb").
	ResourceType() string

	// Create provisions a new resource with the given properties.
	// Returns the resource output when provisioning is complete.
	Create(ctx context.Context, name string, properties map[string]any) (*ResourceOutput, error)
}

// ResourceReader is implemented by drivers that can look up a resource that
// already exists in the provider.
type ResourceReader interface {
	// Read fetches the current state of an existing resource from the provider.
	// Returns a *ResourceNotFoundError when it does not exist.
	Read(ctx context.Context, name string) (*ResourceOutput, error)
}

// ResourceUpdater is implemented by drivers that can change an existing
// resource in place when its declaration changes.
type ResourceUpdater interface {
	// Update applies properties to the resource recorded as current and
	// returns its new output.
	Update(ctx context.Context, name string, current *ResourceOutput, properties map[string]any) (*ResourceOutput, error)
}

// Provider is a named set of resource drivers.
type Provider interface {
	// Name returns the provider identifier (e.g., "aws", "memory").
	Name() string

	// ResourceDriver returns the driver for a resource type, or a
	// *ResourceDriverNotFoundError.
	ResourceDriver(resourceType string) (ResourceDriver, error)
}
