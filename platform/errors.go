package platform

import (
	"errors"
	"fmt"
	"strings"
)

// MissingRouteError is returned by a strict Link when the provider has no
// route to propagate.
type MissingRouteError struct {
	// Name is the environment key the route would have been written to.
	Name string
}

// Error implements the error interface.
func (e *MissingRouteError) Error() string {
	return fmt.Sprintf("link %q: provider has no route", e.Name)
}

// SecretUnavailableError is returned when a deferred value needs a
// credential secret that cannot be read at resolution time.
type SecretUnavailableError struct {
	// Resource is the resource the secret belongs to.
	Resource string

	// Key is the secret key that was requested, if any.
	Key string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *SecretUnavailableError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("no credential secret available for resource %q", e.Resource)
	}
	if e.Err != nil {
		return fmt.Sprintf("credential secret %q for resource %q unavailable: %v", e.Key, e.Resource, e.Err)
	}
	return fmt.Sprintf("credential secret %q for resource %q unavailable", e.Key, e.Resource)
}

// Unwrap returns the underlying cause.
func (e *SecretUnavailableError) Unwrap() error { return e.Err }

// OutputMissingError is returned when a deferred value reads an output
// property the provisioned resource did not report.
type OutputMissingError struct {
	Resource string
	Key      string
}

// Error implements the error interface.
func (e *OutputMissingError) Error() string {
	return fmt.Sprintf("resource %q has no output %q", e.Resource, e.Key)
}

// EnvironmentResolveError wraps a failure to resolve one environment entry.
type EnvironmentResolveError struct {
	Key string
	Err error
}

// Error implements the error interface.
func (e *EnvironmentResolveError) Error() string {
	return fmt.Sprintf("environment %q: %v", e.Key, e.Err)
}

// Unwrap returns the underlying cause.
func (e *EnvironmentResolveError) Unwrap() error { return e.Err }

// RouteCollisionError reports listener rules that share a priority, or units
// that publish the same route. The composition pass does not prevent this;
// the load balancer and DNS providers reject it at provisioning time and
// Graph.Validate reports it earlier.
type RouteCollisionError struct {
	// Priority is the contested priority.
	Priority int

	// Route is set when the collision is on a published DNS name.
	Route string

	// Units are the canonical names of the units claiming it.
	Units []string

	// SiteRoot is set when the collision is between site-root claims.
	SiteRoot bool
}

// Error implements the error interface.
func (e *RouteCollisionError) Error() string {
	if e.SiteRoot {
		return fmt.Sprintf("route collision: site root claimed by %s", strings.Join(e.Units, ", "))
	}
	if e.Route != "" {
		return fmt.Sprintf("route collision: %s published by %s", e.Route, strings.Join(e.Units, ", "))
	}
	return fmt.Sprintf("route collision: priority %d claimed by %s", e.Priority, strings.Join(e.Units, ", "))
}

// DuplicateResourceError is returned when two resources share a name.
type DuplicateResourceError struct {
	Name string
}

// Error implements the error interface.
func (e *DuplicateResourceError) Error() string {
	return fmt.Sprintf("resource %q already declared", e.Name)
}

// DuplicateOutputError is returned when two outputs share a name.
type DuplicateOutputError struct {
	Name string
}

// Error implements the error interface.
func (e *DuplicateOutputError) Error() string {
	return fmt.Sprintf("output %q already declared", e.Name)
}

// UnknownDependencyError is returned when a resource depends on, or reads
// from, a resource that was never declared.
type UnknownDependencyError struct {
	Resource   string
	Dependency string
}

// Error implements the error interface.
func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("resource %q depends on undeclared resource %q", e.Resource, e.Dependency)
}

// DependencyCycleError is returned when resources depend on each other.
type DependencyCycleError struct {
	Resources []string
}

// Error implements the error interface.
func (e *DependencyCycleError) Error() string {
	return fmt.Sprintf("dependency cycle among %s", strings.Join(e.Resources, ", "))
}

// InvalidNameError is returned when a unit's canonical name, id or
// subdomain cannot be used as a resource name.
type InvalidNameError struct {
	Field  string
	Name   string
	Reason string
}

// Error implements the error interface.
func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Name, e.Reason)
}

// ResourceNotFoundError is returned when a requested resource does not exist
// in the provider or state store.
type ResourceNotFoundError struct {
	// Name is the resource name that was not found.
	Name string

	// Provider is the provider where the resource was expected.
	Provider string
}

// Error implements the error interface.
func (e *ResourceNotFoundError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("resource %q not found in provider %q", e.Name, e.Provider)
	}
	return fmt.Sprintf("resource %q not found", e.Name)
}

// ResourceChangedError is returned when a recorded resource's declaration
// changed since it was applied and its driver cannot update it in place.
type ResourceChangedError struct {
	// Resource is the graph resource name.
	Resource string

	// Type is the resource type.
	Type string
}

// Error implements the error interface.
func (e *ResourceChangedError) Error() string {
	return fmt.Sprintf("resource %q (%s) changed since it was applied and cannot be updated in place", e.Resource, e.Type)
}

// ResourceDriverNotFoundError is returned when no driver is registered for
// a resource type.
type ResourceDriverNotFoundError struct {
	// ResourceType is the resource type that has no driver.
	ResourceType string

	// Provider is the driver set that was queried.
	Provider string
}

// Error implements the error interface.
func (e *ResourceDriverNotFoundError) Error() string {
	return fmt.Sprintf("no resource driver for type %q in provider %q", e.ResourceType, e.Provider)
}

// Sentinel errors for composition preconditions.
var (
	ErrGraphSealed         = errors.New("graph is sealed")
	ErrInvalidResource     = errors.New("invalid resource")
	ErrEnvironmentSealed   = errors.New("environment is sealed: it has already been handed to provisioning")
	ErrEmptyEnvironmentKey = errors.New("environment key must not be empty")
	ErrEmptyBoundary       = errors.New("network boundary is not set")
	ErrIngressFinalized    = errors.New("ingress set already finalized")
	ErrAlreadyDeployed     = errors.New("unit has already been deployed")
	ErrAlreadySetUp        = errors.New("unit has already been set up")
	ErrNilContext          = errors.New("platform context is nil")
	ErrNilLinkEndpoint     = errors.New("link consumer and provider must not be nil")
)

// LockConflictError is returned when another apply holds a topology's lock.
type LockConflictError struct {
	Topology string
}

// Error implements the error interface.
func (e *LockConflictError) Error() string {
	return fmt.Sprintf("topology %q is locked by another apply", e.Topology)
}
