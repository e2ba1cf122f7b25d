// Package external references services hosted outside the platform. A
// Reference reaches the service through an interface VPC endpoint and
// publishes it in the platform zone under a subdomain.
package external

import (
	"context"
	"fmt"
	"strings"

	"github.com/GoCodeAlone/topology/platform"
)

// EndpointPort is the port the interface endpoint accepts traffic on.
const EndpointPort = 80

// Reference is an externally managed service made reachable inside the
// platform network.
type Reference struct {
	pctx        *platform.PlatformContext
	id          string
	serviceName string
	endpoint    platform.Handle
	boundary    platform.Boundary
	route       string
}

var _ platform.Hostable = (*Reference)(nil)

// New declares an interface VPC endpoint for the endpoint service named
// serviceName (e.g. "com.amazonaws.vpce.us-east-1.vpce-svc-0123").
func New(pctx *platform.PlatformContext, id, serviceName string) (*Reference, error) {
	if pctx == nil {
		return nil, platform.ErrNilContext
	}
	if err := platform.ValidateCanonicalName(id); err != nil {
		return nil, err
	}
	if serviceName == "" {
		return nil, &platform.InvalidNameError{Field: "endpoint service", Name: serviceName, Reason: "must not be empty"}
	}
	r := &Reference{pctx: pctx, id: strings.ToLower(id), serviceName: serviceName}

	g := pctx.Graph()
	sg, err := g.Add(platform.TypeSecurityGroup, r.id+"-endpoint-sg", map[string]any{
		"group_name":  r.id + "-endpoint",
		"description": "Endpoint for " + serviceName,
		"vpc_id":      pctx.Network().VPC.Ref(),
	})
	if err != nil {
		return nil, fmt.Errorf("external %s: %w", r.id, err)
	}
	r.boundary = platform.NewBoundary(sg.Name, EndpointPort)

	ep, err := g.Add(platform.TypeVPCEndpoint, r.id+"-endpoint", map[string]any{
		"service_name":        serviceName,
		"vpc_id":              pctx.Network().VPC.Ref(),
		"endpoint_type":       "Interface",
		"subnet_ids":          pctx.Network().SubnetIDs(platform.SubnetApplication),
		"security_group_ids":  []platform.Value{r.boundary.GroupID},
		"private_dns_enabled": false,
	})
	if err != nil {
		return nil, fmt.Errorf("external %s: %w", r.id, err)
	}
	r.endpoint = ep
	return r, nil
}

// ID returns the reference's identifier.
func (r *Reference) ID() string { return r.id }

// Endpoint returns the interface endpoint handle.
func (r *Reference) Endpoint() platform.Handle { return r.endpoint }

// Boundary returns the endpoint's network boundary. Consumers call
// AllowIngressTo with it to reach the service.
func (r *Reference) Boundary() platform.Boundary { return r.boundary }

// Route returns the address set by DeployTo, or "" before it.
func (r *Reference) Route() string { return r.route }

// DeployTo publishes the endpoint as "<subdomain>.<zone>" with an alias
// record targeting the endpoint's regional DNS entry, and returns the
// resulting route.
func (r *Reference) DeployTo(subdomain string) (platform.Routable, error) {
	if r.route != "" {
		return nil, fmt.Errorf("external %s: %w", r.id, platform.ErrAlreadyDeployed)
	}
	if err := platform.ValidateSubdomain(subdomain); err != nil {
		return nil, fmt.Errorf("external %s: %w", r.id, err)
	}
	zone := r.pctx.Zone()
	route := subdomain + "." + zone.Name

	g := r.pctx.Graph()
	cp := g.Checkpoint()
	if err := r.publish(g, subdomain, route); err != nil {
		g.Rollback(cp)
		return nil, fmt.Errorf("external %s: %w", r.id, err)
	}
	r.route = route
	r.pctx.Logger().Debug("external service published", "external", r.id, "route", route)
	return platform.StaticRoute(route), nil
}

func (r *Reference) publish(g *platform.Graph, subdomain, route string) error {
	zone := r.pctx.Zone()
	if _, err := g.Add(platform.TypeRecord, r.id+"-"+subdomain+"-record", map[string]any{
		"zone_id":     zone.ID(),
		"record_name": route,
		"record_type": "A",
		"alias": map[string]any{
			"hosted_zone_id":         r.regionalEntry(0),
			"dns_name":               r.regionalEntry(1),
			"evaluate_target_health": false,
		},
	}); err != nil {
		return err
	}
	if err := g.PublishRoute(r.id, route); err != nil {
		return err
	}
	return g.AddOutput(r.id+"Route", platform.String(route))
}

// regionalEntry returns one part of the endpoint's first DNS entry. Entries
// are reported as "<hosted zone id>:<dns name>", comma separated.
func (r *Reference) regionalEntry(part int) platform.Value {
	name := r.endpoint.Name
	desc := fmt.Sprintf("%s.dns_entries[0][%d]", name, part)
	return platform.Lazy(desc, func(_ context.Context, res platform.Resolver) (string, error) {
		out, err := res.Output(name)
		if err != nil {
			return "", err
		}
		entries, ok := out.Property("dns_entries")
		if !ok || entries == "" {
			return "", &platform.OutputMissingError{Resource: name, Key: "dns_entries"}
		}
		first, _, _ := strings.Cut(entries, ",")
		parts := strings.SplitN(first, ":", 2)
		if len(parts) != 2 {
			return "", fmt.Errorf("endpoint %s: malformed dns entry %q", name, first)
		}
		return parts[part], nil
	}, name)
}
