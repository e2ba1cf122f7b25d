package platform

import (
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
)

// Defaults for the platform substrate.
const (
	DefaultCIDR         = "108.0.0.0/16"
	DefaultRegion       = "us-east-1"
	DefaultListenerPort = 80
)

// SubnetTier groups subnets by reachability.
type SubnetTier string

const (
	// SubnetIngress subnets are public and host the load balancer.
	SubnetIngress SubnetTier = "ingress"

	// SubnetApplication subnets are private and host services and builds.
	SubnetApplication SubnetTier = "application"

	// SubnetData subnets are isolated and host managed databases.
	SubnetData SubnetTier = "data"
)

// subnetLayout is the tier order and prefix length of each tier's subnets.
var subnetLayout = []struct {
	tier SubnetTier
	bits int
}{
	{SubnetIngress, 24},
	{SubnetApplication, 24},
	{SubnetData, 28},
}

// Network holds the handles of the platform VPC and its subnets.
type Network struct {
	VPC     Handle
	Subnets map[SubnetTier][]Handle
}

// SubnetIDs returns deferred subnet ids for one tier.
func (n Network) SubnetIDs(tier SubnetTier) []Value {
	handles := n.Subnets[tier]
	ids := make([]Value, 0, len(handles))
	for _, h := range handles {
		ids = append(ids, h.Ref())
	}
	return ids
}

// LoadBalancer holds the shared load balancer, its listener and its
// network boundary.
type LoadBalancer struct {
	Handle
	Listener Handle
	Boundary Boundary
}

// DNSName is the load balancer's public address.
func (lb LoadBalancer) DNSName() Value { return lb.Attr("dns_name") }

// Zone is the platform's private naming zone.
type Zone struct {
	Handle
	Name string
}

// ID returns the provider id of the hosted zone.
func (z Zone) ID() Value { return z.Ref() }

type options struct {
	zoneName     string
	cidr         string
	region       string
	azs          []string
	logger       *slog.Logger
	lenientLinks bool
}

// Option configures a PlatformContext.
type Option func(*options)

// WithZoneName sets the private zone name. Defaults to "<name>.local".
func WithZoneName(zone string) Option {
	return func(o *options) { o.zoneName = zone }
}

// WithCIDR sets the VPC address range. Defaults to DefaultCIDR.
func WithCIDR(cidr string) Option {
	return func(o *options) { o.cidr = cidr }
}

// WithRegion sets the region the substrate is declared in.
func WithRegion(region string) Option {
	return func(o *options) { o.region = region }
}

// WithAvailabilityZones sets the zones subnets are spread across. Defaults
// to the "a" and "b" zones of the region.
func WithAvailabilityZones(zones ...string) Option {
	return func(o *options) { o.azs = zones }
}

// WithLogger sets the logger used during composition.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithLenientLinking makes Link a logged no-op when the provider has no
// route, instead of returning a MissingRouteError.
func WithLenientLinking() Option {
	return func(o *options) { o.lenientLinks = true }
}

// PlatformContext is the shared substrate every unit is deployed onto. It
// owns the handles of the network, compute cluster, load balancer and
// naming zone, the listener priority allocator, and the graph that records
// everything composed against it.
//
// A PlatformContext is used by a single composition pass and is not safe for
// concurrent use.
type PlatformContext struct {
	name         string
	region       string
	network      Network
	cluster      Handle
	loadBalancer LoadBalancer
	zone         Zone
	graph        *Graph
	priorities   PriorityAllocator
	logger       *slog.Logger
	lenientLinks bool
}

// NewPlatformContext declares the platform substrate in a new graph and
// returns the context holding its handles.
func NewPlatformContext(name string, opts ...Option) (*PlatformContext, error) {
	if !canonicalNamePattern.MatchString(name) {
		return nil, &InvalidNameError{Field: "platform name", Name: name, Reason: "must be a lowercase resource name"}
	}
	o := options{
		zoneName: name + ".local",
		cidr:     DefaultCIDR,
		region:   DefaultRegion,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if len(o.azs) == 0 {
		o.azs = []string{o.region + "a", o.region + "b"}
	}

	p := &PlatformContext{
		name:         name,
		region:       o.region,
		graph:        NewGraph(name),
		logger:       o.logger.With("platform", name),
		lenientLinks: o.lenientLinks,
	}
	if err := p.declareNetwork(o.cidr, o.azs); err != nil {
		return nil, err
	}
	if err := p.declareCluster(); err != nil {
		return nil, err
	}
	if err := p.declareLoadBalancer(); err != nil {
		return nil, err
	}
	if err := p.declareZone(o.zoneName); err != nil {
		return nil, err
	}
	if err := p.graph.AddOutput("ClusterName", p.cluster.Attr("name")); err != nil {
		return nil, err
	}
	if err := p.graph.AddOutput("LoadBalancer", p.loadBalancer.Attr("full_name")); err != nil {
		return nil, err
	}
	p.logger.Debug("platform substrate declared", "zone", o.zoneName, "cidr", o.cidr, "zones", strings.Join(o.azs, ","))
	return p, nil
}

func (p *PlatformContext) declareNetwork(cidr string, azs []string) error {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return fmt.Errorf("platform %s: parse cidr: %w", p.name, err)
	}
	var sizes []int
	for _, l := range subnetLayout {
		for range azs {
			sizes = append(sizes, l.bits)
		}
	}
	blocks, err := carveSubnets(prefix, sizes)
	if err != nil {
		return fmt.Errorf("platform %s: %w", p.name, err)
	}

	vpc, err := p.graph.Add(TypeVPC, p.name+"-vpc", map[string]any{
		"cidr":                 prefix.String(),
		"enable_dns_hostnames": true,
		"enable_dns_support":   true,
		"tags":                 map[string]any{"MemberOf": "Platform", "Name": p.name + "-vpc"},
	})
	if err != nil {
		return err
	}
	p.network = Network{VPC: vpc, Subnets: make(map[SubnetTier][]Handle)}

	i := 0
	for _, l := range subnetLayout {
		for _, az := range azs {
			h, err := p.graph.Add(TypeSubnet, fmt.Sprintf("%s-%s-%s", p.name, l.tier, az), map[string]any{
				"vpc_id":            vpc.Ref(),
				"cidr":              blocks[i].String(),
				"availability_zone": az,
				"tier":              string(l.tier),
				"public":            l.tier == SubnetIngress,
			})
			if err != nil {
				return err
			}
			p.network.Subnets[l.tier] = append(p.network.Subnets[l.tier], h)
			i++
		}
	}
	return nil
}

func (p *PlatformContext) declareCluster() error {
	h, err := p.graph.Add(TypeECSCluster, p.name+"-cluster", map[string]any{
		"cluster_name":       p.name + "-cluster",
		"capacity_providers": []string{"FARGATE", "FARGATE_SPOT"},
	})
	if err != nil {
		return err
	}
	p.cluster = h
	return nil
}

func (p *PlatformContext) declareLoadBalancer() error {
	sg, err := p.graph.Add(TypeSecurityGroup, p.name+"-alb-sg", map[string]any{
		"group_name":  p.name + "-alb",
		"description": "Public load balancer for " + p.name,
		"vpc_id":      p.network.VPC.Ref(),
		"open_ports":  []int{DefaultListenerPort},
	})
	if err != nil {
		return err
	}
	lb, err := p.graph.Add(TypeLoadBalancer, p.name+"-alb", map[string]any{
		"load_balancer_name": ShortName(p.name+"-alb", 32),
		"scheme":             "internet-facing",
		"subnet_ids":         p.network.SubnetIDs(SubnetIngress),
		"security_group_ids": []Value{sg.Attr("group_id")},
	})
	if err != nil {
		return err
	}
	listener, err := p.graph.Add(TypeListener, p.name+"-listener", map[string]any{
		"load_balancer_arn": lb.Ref(),
		"port":              DefaultListenerPort,
		"protocol":          "HTTP",
		"fixed_response": map[string]any{
			"status_code":  "200",
			"content_type": "text/plain",
			"message_body": "OK",
		},
	})
	if err != nil {
		return err
	}
	p.loadBalancer = LoadBalancer{
		Handle:   lb,
		Listener: listener,
		Boundary: NewBoundary(sg.Name, DefaultListenerPort),
	}
	return nil
}

func (p *PlatformContext) declareZone(zoneName string) error {
	h, err := p.graph.Add(TypeHostedZone, p.name+"-zone", map[string]any{
		"zone_name": zoneName,
		"vpc_id":    p.network.VPC.Ref(),
		"region":    p.region,
		"private":   true,
	})
	if err != nil {
		return err
	}
	p.zone = Zone{Handle: h, Name: zoneName}
	return nil
}

// Name returns the platform name.
func (p *PlatformContext) Name() string { return p.name }

// Region returns the region the substrate is declared in.
func (p *PlatformContext) Region() string { return p.region }

// Graph returns the graph the context records into.
func (p *PlatformContext) Graph() *Graph { return p.graph }

// Logger returns the composition logger.
func (p *PlatformContext) Logger() *slog.Logger { return p.logger }

// Network returns the VPC and subnet handles.
func (p *PlatformContext) Network() Network { return p.network }

// Cluster returns the compute cluster handle.
func (p *PlatformContext) Cluster() Handle { return p.cluster }

// ClusterName returns the name the compute cluster is created with.
func (p *PlatformContext) ClusterName() string { return p.name + "-cluster" }

// LoadBalancer returns the shared load balancer.
func (p *PlatformContext) LoadBalancer() LoadBalancer { return p.loadBalancer }

// Listener returns the load balancer listener handle.
func (p *PlatformContext) Listener() Handle { return p.loadBalancer.Listener }

// Zone returns the naming zone.
func (p *PlatformContext) Zone() Zone { return p.zone }

// ConsumePriority increments the context's priority counter and returns it.
// Values are strictly increasing and never reused for the context's
// lifetime. Not safe for concurrent use.
func (p *PlatformContext) ConsumePriority() int {
	return p.priorities.Consume()
}

// Link writes provider's route into consumer's environment under name.
// It does not grant network ingress; use AllowIngressTo for that.
//
// A provider implementing DeferredRoutable contributes its deferred
// RouteValue, resolved during provisioning; any other provider contributes
// its Route as an immediate value.
//
// When the provider has no route, Link returns a *MissingRouteError and
// leaves the consumer unchanged. With WithLenientLinking it instead logs a
// warning and returns nil.
func (p *PlatformContext) Link(consumer OutboundConnection, provider Routable, name string) error {
	if consumer == nil || provider == nil {
		return ErrNilLinkEndpoint
	}
	if name == "" {
		return ErrEmptyEnvironmentKey
	}
	route := String(provider.Route())
	if d, ok := provider.(DeferredRoutable); ok {
		route = d.RouteValue()
	}
	if route.IsEmpty() {
		if p.lenientLinks {
			p.logger.Warn("link skipped: provider has no route", "name", name)
			return nil
		}
		return &MissingRouteError{Name: name}
	}
	if err := consumer.AddRouteTo(name, route); err != nil {
		return fmt.Errorf("link %q: %w", name, err)
	}
	p.logger.Debug("linked route", "name", name, "route", route.String(), "deferred", route.IsDeferred())
	return nil
}

// carveSubnets allocates consecutive, aligned blocks of the given prefix
// lengths from parent.
func carveSubnets(parent netip.Prefix, bits []int) ([]netip.Prefix, error) {
	if !parent.Addr().Is4() {
		return nil, fmt.Errorf("cidr %s: only IPv4 ranges are supported", parent)
	}
	parent = parent.Masked()
	base := ipv4ToUint(parent.Addr())
	end := base + uint64(1)<<(32-parent.Bits())
	next := base

	out := make([]netip.Prefix, 0, len(bits))
	for _, b := range bits {
		if b < parent.Bits() || b > 32 {
			return nil, fmt.Errorf("cidr %s: cannot carve a /%d", parent, b)
		}
		size := uint64(1) << (32 - b)
		if rem := (next - base) % size; rem != 0 {
			next += size - rem
		}
		if next+size > end {
			return nil, fmt.Errorf("cidr %s: not enough address space for %d subnets", parent, len(bits))
		}
		out = append(out, netip.PrefixFrom(uintToIPv4(next), b))
		next += size
	}
	return out, nil
}

func ipv4ToUint(a netip.Addr) uint64 {
	b := a.As4()
	return uint64(b[0])<<24 | uint64(b[1])<<16 | uint64(b[2])<<8 | uint64(b[3])
}

func uintToIPv4(v uint64) netip.Addr {
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}
