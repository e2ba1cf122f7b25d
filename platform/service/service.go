// Package service implements the compute deployable unit: a containerized
// service that is placed on the platform cluster behind the shared load
// balancer and published in the platform zone.
package service

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/GoCodeAlone/topology/platform"
)

// Container and sidecar defaults.
const (
	ContainerName        = "ServiceContainer"
	DefaultContainerPort = 3000
	DefaultMemoryMiB     = 200
	DefaultDesiredCount  = 1
	DefaultHealthRoute   = "/"
	DefaultLogRetention  = 30

	TracingContainerName = "xray"
	TracingImage         = "amazon/aws-xray-daemon"
	TracingPort          = 2000
	TracingAddressEnv    = "AWS_XRAY_DAEMON_ADDRESS"
	SelfURLEnv           = "SELF_URL"

	tracingMemoryMiB   = 256
	tracingPolicyARN   = "arn:aws:iam::aws:policy/AWSXRayDaemonWriteAccess"
	executionPolicyARN = "arn:aws:iam::aws:policy/service-role/AmazonECSTaskExecutionRolePolicy"
)

// Option configures a Service.
type Option func(*Service)

// WithHealthRoute sets the path the load balancer probes.
func WithHealthRoute(path string) Option {
	return func(s *Service) { s.healthRoute = path }
}

// WithContainerPort sets the port the service container listens on.
func WithContainerPort(port int) Option {
	return func(s *Service) { s.port = port }
}

// WithMemory sets the service container's memory limit in MiB.
func WithMemory(mib int) Option {
	return func(s *Service) { s.memoryMiB = mib }
}

// WithDesiredCount sets how many tasks the service keeps running.
func WithDesiredCount(n int) Option {
	return func(s *Service) { s.desiredCount = n }
}

// WithImageTag sets the image tag deployed from the service's repository.
func WithImageTag(tag string) Option {
	return func(s *Service) { s.imageTag = tag }
}

// WithoutTracingSidecar omits the tracing daemon container and its
// environment entry.
func WithoutTracingSidecar() Option {
	return func(s *Service) { s.tracing = false }
}

// Service is a containerized deployable unit. It owns an image repository
// from construction and is placed on the platform by DeployTo.
type Service struct {
	pctx          *platform.PlatformContext
	id            string
	canonicalName string
	healthRoute   string
	port          int
	memoryMiB     int
	desiredCount  int
	imageTag      string
	tracing       bool
	repository    platform.Handle
	deployment    *Deployment
}

var (
	_ platform.Hostable  = (*Service)(nil)
	_ platform.Buildable = (*Service)(nil)
)

// New declares a service and its image repository. canonicalName is
// lowercased and used for the repository, log group and service names.
func New(pctx *platform.PlatformContext, id, canonicalName string, opts ...Option) (*Service, error) {
	if pctx == nil {
		return nil, platform.ErrNilContext
	}
	if id == "" {
		return nil, &platform.InvalidNameError{Field: "service id", Name: id, Reason: "must not be empty"}
	}
	if err := platform.ValidateCanonicalName(canonicalName); err != nil {
		return nil, err
	}
	s := &Service{
		pctx:          pctx,
		id:            id,
		canonicalName: strings.ToLower(canonicalName),
		healthRoute:   DefaultHealthRoute,
		port:          DefaultContainerPort,
		memoryMiB:     DefaultMemoryMiB,
		desiredCount:  DefaultDesiredCount,
		imageTag:      "latest",
		tracing:       true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if !strings.HasPrefix(s.healthRoute, "/") {
		return nil, fmt.Errorf("service %s: health route %q must be an absolute path", s.canonicalName, s.healthRoute)
	}
	if s.port <= 0 || s.port > 65535 {
		return nil, fmt.Errorf("service %s: container port %d out of range", s.canonicalName, s.port)
	}
	if s.desiredCount < 0 {
		return nil, fmt.Errorf("service %s: desired count must not be negative", s.canonicalName)
	}

	g := pctx.Graph()
	repo, err := g.Add(platform.TypeImageRepository, s.canonicalName+"-repository", map[string]any{
		"repository_name": s.canonicalName,
		"force_delete":    true,
	})
	if err != nil {
		return nil, fmt.Errorf("service %s: %w", s.canonicalName, err)
	}
	s.repository = repo
	if err := g.AddOutput(s.canonicalName+"ContainerRepository", repo.Attr("repository_uri")); err != nil {
		return nil, fmt.Errorf("service %s: %w", s.canonicalName, err)
	}
	return s, nil
}

// ID returns the author-chosen identifier.
func (s *Service) ID() string { return s.id }

// CanonicalName returns the lowercased canonical name.
func (s *Service) CanonicalName() string { return s.canonicalName }

// HealthRoute returns the path the load balancer probes.
func (s *Service) HealthRoute() string { return s.healthRoute }

// ImageRepository returns the handle of the service's image repository.
func (s *Service) ImageRepository() platform.Handle { return s.repository }

// Deployment returns the service's deployment, or nil before DeployTo.
func (s *Service) Deployment() *Deployment { return s.deployment }

// DeployTo places the service on the platform at dest: the site root or a
// subdomain of the platform zone. A service can be deployed once; a second
// call returns platform.ErrAlreadyDeployed. A failed deploy leaves no
// resources in the graph and can be retried, though a subdomain priority it
// consumed is not handed out again.
func (s *Service) DeployTo(dest platform.Destination) (*Deployment, error) {
	if s.deployment != nil {
		return nil, fmt.Errorf("service %s: %w", s.canonicalName, platform.ErrAlreadyDeployed)
	}
	if err := dest.Validate(); err != nil {
		return nil, fmt.Errorf("service %s: %w", s.canonicalName, err)
	}

	g := s.pctx.Graph()
	cp := g.Checkpoint()
	d, err := s.deploy(dest)
	if err != nil {
		g.Rollback(cp)
		return nil, fmt.Errorf("service %s: deploy to %s: %w", s.canonicalName, dest, err)
	}
	s.deployment = d
	s.pctx.Logger().Debug("service deployed",
		"service", s.canonicalName,
		"route", d.route,
		"priority", d.rule.Priority,
		"kind", d.rule.Kind)
	return d, nil
}

func (s *Service) deploy(dest platform.Destination) (*Deployment, error) {
	pctx := s.pctx
	g := pctx.Graph()
	zone := pctx.Zone()
	lb := pctx.LoadBalancer()
	record := dest.RecordName()
	base := platform.ResourceName(s.canonicalName, record)

	env := platform.NewEnvironment()
	if s.tracing {
		if err := env.Set(TracingAddressEnv, platform.String(fmt.Sprintf("127.0.0.1:%d", TracingPort))); err != nil {
			return nil, err
		}
	}

	logGroup, err := g.Add(platform.TypeLogGroup, base+"-logs", map[string]any{
		"log_group_name": strings.Join([]string{pctx.ClusterName(), s.canonicalName, record}, "/"),
		"retention_days": DefaultLogRetention,
	})
	if err != nil {
		return nil, err
	}

	taskRole, err := g.Add(platform.TypeRole, base+"-task-role", map[string]any{
		"role_name":        platform.ShortName(base+"-task", 64),
		"assume_service":   "ecs-tasks.amazonaws.com",
		"managed_policies": s.taskPolicies(),
		"inline_policy": map[string]any{
			"actions":   []string{"logs:CreateLogStream", "logs:PutLogEvents"},
			"resources": []platform.Value{logGroup.Attr("arn")},
		},
	})
	if err != nil {
		return nil, err
	}
	execRole, err := g.Add(platform.TypeRole, base+"-execution-role", map[string]any{
		"role_name":        platform.ShortName(base+"-execution", 64),
		"assume_service":   "ecs-tasks.amazonaws.com",
		"managed_policies": []string{executionPolicyARN},
	})
	if err != nil {
		return nil, err
	}

	sg, err := g.Add(platform.TypeSecurityGroup, base+"-sg", map[string]any{
		"group_name":  platform.ShortName(base, 255),
		"description": "Service " + s.canonicalName,
		"vpc_id":      pctx.Network().VPC.Ref(),
	})
	if err != nil {
		return nil, err
	}
	boundary := platform.NewBoundary(sg.Name, s.port)
	if _, err := g.Grant(platform.IngressGrant{From: lb.Boundary, To: boundary}); err != nil {
		return nil, err
	}

	cpu, memory := s.taskSize()
	taskDef, err := g.Add(platform.TypeTaskDefinition, base+"-task", map[string]any{
		"family":                   platform.ShortName(base, 255),
		"network_mode":             "awsvpc",
		"requires_compatibilities": []string{"FARGATE"},
		"cpu":                      cpu,
		"memory":                   memory,
		"task_role_arn":            taskRole.Attr("arn"),
		"execution_role_arn":       execRole.Attr("arn"),
		"containers":               s.containers(env, logGroup),
	})
	if err != nil {
		return nil, err
	}

	tg, err := g.Add(platform.TypeTargetGroup, base+"-tg", map[string]any{
		"target_group_name": platform.ShortName(base, 32),
		"port":              s.port,
		"protocol":          "HTTP",
		"target_type":       "ip",
		"vpc_id":            pctx.Network().VPC.Ref(),
		"health_check_path": s.healthRoute,
	})
	if err != nil {
		return nil, err
	}

	rule := platform.RoutingRule{Unit: s.canonicalName, TargetGroup: tg.Name}
	if dest.IsSiteRoot() {
		rule.Kind = platform.RuleDefault
		rule.Priority = platform.SiteRootPriority
		rule.PathPattern = "*"
	} else {
		rule.Kind = platform.RuleNamed
		rule.Priority = pctx.ConsumePriority() * platform.PriorityBand
		rule.HostHeader = record + "." + zone.Name
	}
	ruleHandle, err := g.AddRule(rule, lb.Listener, tg)
	if err != nil {
		return nil, err
	}

	svc, err := g.Add(platform.TypeECSService, base+"-service", map[string]any{
		"service_name":        platform.ShortName(base, 255),
		"cluster":             pctx.Cluster().Ref(),
		"task_definition_arn": taskDef.Attr("arn"),
		"desired_count":       s.desiredCount,
		"launch_type":         "FARGATE",
		"subnet_ids":          pctx.Network().SubnetIDs(platform.SubnetApplication),
		"security_group_ids":  []platform.Value{boundary.GroupID},
		"target_group_arn":    tg.Ref(),
		"container_name":      ContainerName,
		"container_port":      s.port,
	}, ruleHandle.Name)
	if err != nil {
		return nil, err
	}

	route := record + "." + zone.Name
	rec, err := g.Add(platform.TypeRecord, base+"-record", map[string]any{
		"zone_id":     zone.ID(),
		"record_name": route,
		"record_type": "CNAME",
		"ttl":         300,
		"values":      []platform.Value{lb.DNSName()},
	})
	if err != nil {
		return nil, err
	}
	if err := env.Set(SelfURLEnv, platform.String(route)); err != nil {
		return nil, err
	}
	if err := g.PublishRoute(s.canonicalName, route); err != nil {
		return nil, err
	}

	for _, o := range []platform.Output{
		{Name: s.canonicalName + "LogGroup", Value: logGroup.Attr("name")},
		{Name: s.canonicalName + "ServiceArn", Value: svc.Ref()},
		{Name: s.canonicalName + "Route", Value: platform.String(route)},
	} {
		if err := g.AddOutput(o.Name, o.Value); err != nil {
			return nil, err
		}
	}

	return &Deployment{
		unit:           s,
		dest:           dest,
		route:          route,
		env:            env,
		boundary:       boundary,
		rule:           rule,
		service:        svc,
		taskDefinition: taskDef,
		logGroup:       logGroup,
		targetGroup:    tg,
		listenerRule:   ruleHandle,
		record:         rec,
	}, nil
}

// taskSize picks the smallest Fargate size that fits every container.
func (s *Service) taskSize() (cpu, memory string) {
	total := s.memoryMiB
	if s.tracing {
		total += tracingMemoryMiB
	}
	for _, size := range []struct {
		cpu    string
		memory int
	}{
		{"256", 512}, {"256", 1024}, {"256", 2048},
		{"512", 3072}, {"512", 4096},
		{"1024", 6144}, {"1024", 8192},
		{"2048", 12288}, {"2048", 16384},
	} {
		if total <= size.memory {
			return size.cpu, strconv.Itoa(size.memory)
		}
	}
	return "4096", "30720"
}

func (s *Service) taskPolicies() []string {
	if s.tracing {
		return []string{tracingPolicyARN}
	}
	return nil
}

func (s *Service) containers(env *platform.Environment, logGroup platform.Handle) []map[string]any {
	containers := []map[string]any{{
		"name":              ContainerName,
		"image":             platform.Concat(s.repository.Attr("repository_uri"), platform.String(":"+s.imageTag)),
		"memory":            s.memoryMiB,
		"essential":         true,
		"port":              s.port,
		"protocol":          "tcp",
		"environment":       env,
		"log_group":         logGroup.Attr("name"),
		"log_stream_prefix": s.canonicalName,
		"log_region":        s.pctx.Region(),
	}}
	if s.tracing {
		containers = append(containers, map[string]any{
			"name":               TracingContainerName,
			"image":              TracingImage,
			"cpu":                32,
			"memory_reservation": tracingMemoryMiB,
			"essential":          false,
			"port":               TracingPort,
			"protocol":           "udp",
			"environment":        map[string]any{"AWS_REGION": s.pctx.Region()},
			"log_group":          logGroup.Attr("name"),
			"log_stream_prefix":  TracingContainerName,
			"log_region":         s.pctx.Region(),
		})
	}
	return containers
}
