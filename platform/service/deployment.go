package service

import (
	"fmt"

	"github.com/GoCodeAlone/topology/platform"
)

// Deployment is a deployed Service. It owns the service's runtime
// environment: AddRouteTo writes into it, and provisioning reads it once the
// graph is sealed.
type Deployment struct {
	unit           *Service
	dest           platform.Destination
	route          string
	env            *platform.Environment
	boundary       platform.Boundary
	rule           platform.RoutingRule
	service        platform.Handle
	taskDefinition platform.Handle
	logGroup       platform.Handle
	targetGroup    platform.Handle
	listenerRule   platform.Handle
	record         platform.Handle
}

var (
	_ platform.Deployment = (*Deployment)(nil)
	_ platform.Buildable  = (*Deployment)(nil)
	_ platform.Hostable   = (*Deployment)(nil)
)

// Route implements platform.Routable.
func (d *Deployment) Route() string { return d.route }

// ID returns the deployed service's identifier.
func (d *Deployment) ID() string { return d.unit.id }

// CanonicalName returns the deployed service's canonical name.
func (d *Deployment) CanonicalName() string { return d.unit.canonicalName }

// ImageRepository returns the service's image repository.
func (d *Deployment) ImageRepository() platform.Handle { return d.unit.repository }

// Destination returns where the service was deployed.
func (d *Deployment) Destination() platform.Destination { return d.dest }

// Environment returns the runtime environment injected into the service
// container.
func (d *Deployment) Environment() *platform.Environment { return d.env }

// Boundary returns the service's network boundary.
func (d *Deployment) Boundary() platform.Boundary { return d.boundary }

// RoutingRule returns the listener rule assigned at deploy time.
func (d *Deployment) RoutingRule() platform.RoutingRule { return d.rule }

// Service returns the ECS service handle.
func (d *Deployment) Service() platform.Handle { return d.service }

// TaskDefinition returns the task definition handle.
func (d *Deployment) TaskDefinition() platform.Handle { return d.taskDefinition }

// LogGroup returns the log group handle.
func (d *Deployment) LogGroup() platform.Handle { return d.logGroup }

// TargetGroup returns the load balancer target group handle.
func (d *Deployment) TargetGroup() platform.Handle { return d.targetGroup }

// ListenerRule returns the listener rule handle.
func (d *Deployment) ListenerRule() platform.Handle { return d.listenerRule }

// Record returns the DNS record handle.
func (d *Deployment) Record() platform.Handle { return d.record }

// ClusterName returns the name of the cluster the service runs on.
func (d *Deployment) ClusterName() string { return d.unit.pctx.ClusterName() }

// AddRouteTo writes name=value into the service environment. The last write
// for a name wins.
func (d *Deployment) AddRouteTo(name string, value platform.Value) error {
	if err := d.env.Set(name, value); err != nil {
		return fmt.Errorf("service %s: %w", d.unit.canonicalName, err)
	}
	return nil
}

// AllowIngressTo lets the service reach b on b's default port.
func (d *Deployment) AllowIngressTo(b platform.Boundary) error {
	if _, err := d.unit.pctx.Graph().Grant(platform.IngressGrant{From: d.boundary, To: b}); err != nil {
		return fmt.Errorf("service %s: allow ingress to %s: %w", d.unit.canonicalName, b.Name, err)
	}
	d.unit.pctx.Logger().Debug("ingress granted", "from", d.boundary.Name, "to", b.Name, "port", b.DefaultPort)
	return nil
}
