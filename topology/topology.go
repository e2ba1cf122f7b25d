// Package topology composes a resource graph from a topology file. It is the
// author of the composition: it creates the platform context, declares and
// deploys every unit, records grants and links, and sets pipelines up last
// so that their build configuration is complete.
package topology

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/GoCodeAlone/topology/config"
	"github.com/GoCodeAlone/topology/platform"
	"github.com/GoCodeAlone/topology/platform/database"
	"github.com/GoCodeAlone/topology/platform/external"
	"github.com/GoCodeAlone/topology/platform/pipeline"
	"github.com/GoCodeAlone/topology/platform/service"
)

// Option configures Compose.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger passed to the platform context.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Topology is a composed topology.
type Topology struct {
	Config  *config.TopologyConfig
	Context *platform.PlatformContext

	services  map[string]*service.Deployment
	databases map[string]*database.Database
	externals map[string]*external.Reference
	routes    map[string]platform.Routable
	pipelines map[string]*pipeline.Pipeline
}

// Compose validates cfg and builds its graph.
func Compose(cfg *config.TopologyConfig, opts ...Option) (*Topology, error) {
	if cfg == nil {
		return nil, fmt.Errorf("topology: config is nil")
	}
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("topology %s: %w", cfg.Name, err)
	}

	pctx, err := platform.NewPlatformContext(cfg.Name, contextOptions(cfg.Platform, o.logger)...)
	if err != nil {
		return nil, err
	}
	t := &Topology{
		Config:    cfg,
		Context:   pctx,
		services:  make(map[string]*service.Deployment),
		databases: make(map[string]*database.Database),
		externals: make(map[string]*external.Reference),
		routes:    make(map[string]platform.Routable),
		pipelines: make(map[string]*pipeline.Pipeline),
	}

	steps := []func() error{
		t.deployServices,
		t.deployExternal,
		t.declareDatabases,
		t.declarePipelines,
		t.grantAccess,
		t.allowIngress,
		t.link,
		t.setUpPipelines,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, fmt.Errorf("topology %s: %w", cfg.Name, err)
		}
	}
	o.logger.Debug("topology composed", "topology", cfg.Name, "resources", len(pctx.Graph().Resources()))
	return t, nil
}

func contextOptions(p config.PlatformConfig, logger *slog.Logger) []platform.Option {
	opts := []platform.Option{platform.WithLogger(logger)}
	if p.Region != "" {
		opts = append(opts, platform.WithRegion(p.Region))
	}
	if p.CIDR != "" {
		opts = append(opts, platform.WithCIDR(p.CIDR))
	}
	if p.Zone != "" {
		opts = append(opts, platform.WithZoneName(p.Zone))
	}
	if len(p.AvailabilityZones) > 0 {
		opts = append(opts, platform.WithAvailabilityZones(p.AvailabilityZones...))
	}
	if p.LenientLinking {
		opts = append(opts, platform.WithLenientLinking())
	}
	return opts
}

func key(id string) string { return strings.ToLower(id) }

// Graph returns the composed resource graph.
func (t *Topology) Graph() *platform.Graph { return t.Context.Graph() }

// Validate reports problems in the composed graph, such as route
// collisions.
func (t *Topology) Validate() error { return t.Graph().Validate() }

// Service returns the deployment of the service with the given id.
func (t *Topology) Service(id string) (*service.Deployment, bool) {
	d, ok := t.services[key(id)]
	return d, ok
}

// Database returns the database with the given id.
func (t *Topology) Database(id string) (*database.Database, bool) {
	d, ok := t.databases[key(id)]
	return d, ok
}

// External returns the external reference with the given id.
func (t *Topology) External(id string) (*external.Reference, bool) {
	r, ok := t.externals[key(id)]
	return r, ok
}

// Pipeline returns the pipeline with the given id.
func (t *Topology) Pipeline(id string) (*pipeline.Pipeline, bool) {
	p, ok := t.pipelines[key(id)]
	return p, ok
}

func (t *Topology) deployServices() error {
	for _, sc := range t.Config.Services {
		var opts []service.Option
		if sc.HealthRoute != "" {
			opts = append(opts, service.WithHealthRoute(sc.HealthRoute))
		}
		if sc.ContainerPort != 0 {
			opts = append(opts, service.WithContainerPort(sc.ContainerPort))
		}
		if sc.Memory != 0 {
			opts = append(opts, service.WithMemory(sc.Memory))
		}
		if sc.DesiredCount != nil {
			opts = append(opts, service.WithDesiredCount(*sc.DesiredCount))
		}
		if sc.ImageTag != "" {
			opts = append(opts, service.WithImageTag(sc.ImageTag))
		}
		if sc.Tracing != nil && !*sc.Tracing {
			opts = append(opts, service.WithoutTracingSidecar())
		}

		svc, err := service.New(t.Context, sc.ID, sc.Name(), opts...)
		if err != nil {
			return err
		}
		dest := platform.SiteRoot
		if !sc.SiteRoot {
			dest = platform.Subdomain(sc.Subdomain)
		}
		d, err := svc.DeployTo(dest)
		if err != nil {
			return err
		}
		if err := setStatic(d, sc.Environment); err != nil {
			return fmt.Errorf("service %s: %w", sc.ID, err)
		}
		t.services[key(sc.ID)] = d
		t.routes[key(sc.ID)] = d
	}
	return nil
}

func (t *Topology) deployExternal() error {
	for _, ec := range t.Config.External {
		ref, err := external.New(t.Context, ec.ID, ec.ServiceName)
		if err != nil {
			return err
		}
		route, err := ref.DeployTo(ec.Subdomain)
		if err != nil {
			return err
		}
		t.externals[key(ec.ID)] = ref
		t.routes[key(ec.ID)] = route
	}
	return nil
}

func (t *Topology) declareDatabases() error {
	for _, dc := range t.Config.Databases {
		var opts []database.Option
		if dc.Name != "" {
			opts = append(opts, database.WithName(dc.Name))
		}
		if dc.MasterUser != "" {
			opts = append(opts, database.WithMasterUser(dc.MasterUser))
		}
		if dc.Engine != "" || dc.EngineVersion != "" {
			engine := dc.Engine
			if engine == "" {
				engine = database.DefaultEngine
			}
			opts = append(opts, database.WithEngine(engine, dc.EngineVersion))
		}
		if dc.InstanceClass != "" {
			opts = append(opts, database.WithInstanceClass(dc.InstanceClass))
		}
		if dc.Port != 0 {
			opts = append(opts, database.WithPort(dc.Port))
		}
		if dc.Storage != 0 {
			opts = append(opts, database.WithStorage(dc.Storage))
		}
		db, err := database.New(t.Context, dc.ID, opts...)
		if err != nil {
			return err
		}
		t.databases[key(dc.ID)] = db
		t.routes[key(dc.ID)] = db
	}
	return nil
}

func (t *Topology) declarePipelines() error {
	for _, pc := range t.Config.Pipelines {
		target := t.services[key(pc.Service)]
		var opts []pipeline.Option
		if pc.Branch != "" {
			opts = append(opts, pipeline.WithBranch(pc.Branch))
		}
		if pc.BuildSpec != "" {
			opts = append(opts, pipeline.WithBuildSpec(pc.BuildSpec))
		}
		if pc.BuildImage != "" {
			opts = append(opts, pipeline.WithBuildImage(pc.BuildImage))
		}
		p, err := pipeline.New(t.Context, pc.ID, target, opts...)
		if err != nil {
			return err
		}
		if err := setStatic(p, pc.Environment); err != nil {
			return fmt.Errorf("pipeline %s: %w", pc.ID, err)
		}
		t.pipelines[key(pc.ID)] = p
	}
	return nil
}

// consumer returns the unit that receives routes and ingress.
func (t *Topology) consumer(id string) (platform.OutboundConnection, error) {
	if d, ok := t.services[key(id)]; ok {
		return d, nil
	}
	if p, ok := t.pipelines[key(id)]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%q is not a service or pipeline", id)
}

func (t *Topology) boundary(id string) (platform.Boundary, error) {
	if d, ok := t.services[key(id)]; ok {
		return d.Boundary(), nil
	}
	if db, ok := t.databases[key(id)]; ok {
		return db.Boundary(), nil
	}
	if r, ok := t.externals[key(id)]; ok {
		return r.Boundary(), nil
	}
	return platform.Boundary{}, fmt.Errorf("%q has no network boundary", id)
}

func (t *Topology) grantAccess() error {
	for _, dc := range t.Config.Databases {
		db := t.databases[key(dc.ID)]
		for _, g := range dc.Grants {
			target, err := t.consumer(g.To)
			if err != nil {
				return fmt.Errorf("database %s: grant: %w", dc.ID, err)
			}
			if err := db.GrantAccess(target, g.Name); err != nil {
				return fmt.Errorf("database %s: grant %s to %s: %w", dc.ID, g.Name, g.To, err)
			}
		}
	}
	return nil
}

func (t *Topology) allowIngress() error {
	allow := func(from string, targets []string) error {
		c, err := t.consumer(from)
		if err != nil {
			return err
		}
		for _, to := range targets {
			b, err := t.boundary(to)
			if err != nil {
				return fmt.Errorf("%s: ingress: %w", from, err)
			}
			if err := c.AllowIngressTo(b); err != nil {
				return fmt.Errorf("%s: ingress to %s: %w", from, to, err)
			}
		}
		return nil
	}
	for _, sc := range t.Config.Services {
		if err := allow(sc.ID, sc.Ingress); err != nil {
			return err
		}
	}
	for _, pc := range t.Config.Pipelines {
		if err := allow(pc.ID, pc.Ingress); err != nil {
			return err
		}
	}
	return nil
}

func (t *Topology) link() error {
	for _, l := range t.Config.Links {
		c, err := t.consumer(l.Consumer)
		if err != nil {
			return fmt.Errorf("link %s: %w", l.Name, err)
		}
		provider, ok := t.routes[key(l.Provider)]
		if !ok {
			return fmt.Errorf("link %s: %q is not routable", l.Name, l.Provider)
		}
		if err := t.Context.Link(c, provider, l.Name); err != nil {
			return fmt.Errorf("link %s from %s to %s: %w", l.Name, l.Provider, l.Consumer, err)
		}
	}
	return nil
}

func (t *Topology) setUpPipelines() error {
	for _, pc := range t.Config.Pipelines {
		if err := t.pipelines[key(pc.ID)].Setup(); err != nil {
			return err
		}
	}
	return nil
}

func setStatic(c platform.OutboundConnection, env map[string]string) error {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := c.AddRouteTo(k, platform.String(env[k])); err != nil {
			return err
		}
	}
	return nil
}
