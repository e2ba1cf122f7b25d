package platform

// Hostable is the minimal identity a unit needs for DNS and host bookkeeping.
type Hostable interface {
	ID() string
}

// Buildable is what a build pipeline needs to build and push an artifact
// for a unit.
type Buildable interface {
	ImageRepository() Handle
	CanonicalName() string
}

// Routable exposes a resolvable network address. An empty route means the
// unit has none yet.
type Routable interface {
	Route() string
}

// DeferredRoutable is a Routable whose address may only be known at
// provisioning time. Link writes RouteValue, not Route, for such providers.
type DeferredRoutable interface {
	Routable
	RouteValue() Value
}

// OutboundConnection exposes environment injection and ingress grants.
// AddRouteTo writes name=value into the unit's runtime configuration.
// AllowIngressTo permits the unit's network boundary to reach b.
type OutboundConnection interface {
	AddRouteTo(name string, value Value) error
	AllowIngressTo(b Boundary) error
}

// Deployment is the handle of a deployed unit.
type Deployment interface {
	Routable
	OutboundConnection

	Service() Handle
	TaskDefinition() Handle
	LogGroup() Handle
	CanonicalName() string
}

// StaticRoute is a Routable with a fixed address.
type StaticRoute string

// Route implements Routable.
func (r StaticRoute) Route() string { return string(r) }

// DeferredRoute is a Routable whose address is a deferred value, such as an
// output of a resource that does not exist yet.
type DeferredRoute struct {
	value Value
}

// NewDeferredRoute returns a route that resolves to v during provisioning.
func NewDeferredRoute(v Value) DeferredRoute { return DeferredRoute{value: v} }

// Route renders the address for plans. It is "" when v is empty.
func (r DeferredRoute) Route() string {
	if r.value.IsEmpty() {
		return ""
	}
	return r.value.String()
}

// RouteValue implements DeferredRoutable.
func (r DeferredRoute) RouteValue() Value { return r.value }

var (
	_ Routable         = StaticRoute("")
	_ DeferredRoutable = DeferredRoute{}
)
