package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/GoCodeAlone/topology/platform"
)

func (p *Provider) builders() map[string]buildFunc {
	return map[string]buildFunc{
		platform.TypeVPC:                  p.prefixed("vpc-", "cidr"),
		platform.TypeSubnet:               p.prefixed("subnet-", "cidr", "availability_zone", "vpc_id"),
		platform.TypeSecurityGroup:        p.securityGroup,
		platform.TypeSecurityGroupIngress: p.prefixed("sgr-", "group_id", "source_group_id", "port"),
		platform.TypeVPCEndpoint:          p.vpcEndpoint,
		platform.TypeECSCluster:           p.named("ecs", "cluster", "cluster_name"),
		platform.TypeTaskDefinition:       p.taskDefinition,
		platform.TypeECSService:           p.ecsService,
		platform.TypeLoadBalancer:         p.loadBalancer,
		platform.TypeListener:             p.listener,
		platform.TypeTargetGroup:          p.targetGroup,
		platform.TypeListenerRule:         p.listenerRule,
		platform.TypeHostedZone:           p.hostedZone,
		platform.TypeRecord:               p.record,
		platform.TypeImageRepository:      p.imageRepository,
		platform.TypeLogGroup:             p.named("logs", "log-group", "log_group_name"),
		platform.TypeRole:                 p.role,
		platform.TypeDBSubnetGroup:        p.named("rds", "subgrp", "group_name"),
		platform.TypeDatabase:             p.database,
		platform.TypeSourceRepository:     p.sourceRepository,
		platform.TypeBucket:               p.bucket,
		platform.TypeBuildProject:         p.named("codebuild", "project", "project_name"),
		platform.TypePipeline:             p.pipeline,
	}
}

// updaters returns the in-place update for each type that has one.
func (p *Provider) updaters() map[string]updateFunc {
	rebuild := func(build buildFunc) updateFunc {
		return func(ctx context.Context, name string, _ *platform.ResourceOutput, props map[string]any) (*platform.ResourceOutput, error) {
			return build(ctx, name, props)
		}
	}
	return map[string]updateFunc{
		platform.TypeTaskDefinition: p.registerRevision,
		platform.TypeECSService:     rebuild(p.ecsService),
		platform.TypeRole:           rebuild(p.role),
	}
}

// prefixed fabricates an EC2-style id and echoes the listed properties.
func (p *Provider) prefixed(prefix string, echo ...string) buildFunc {
	return func(_ context.Context, _ string, props map[string]any) (*platform.ResourceOutput, error) {
		out := &platform.ResourceOutput{ID: prefix + shortID(17), Properties: map[string]any{}}
		for _, k := range echo {
			if v, ok := props[k]; ok {
				out.Properties[k] = v
			}
		}
		return out, nil
	}
}

// named fabricates an ARN-identified resource whose name is taken from
// nameKey, or the graph name.
func (p *Provider) named(service, kind, nameKey string) buildFunc {
	return func(_ context.Context, name string, props map[string]any) (*platform.ResourceOutput, error) {
		n := str(props, nameKey, name)
		arn := p.arn(service, kind+"/"+n)
		if service == "logs" {
			arn = p.arn(service, kind+":"+n)
		}
		return &platform.ResourceOutput{
			ID:         arn,
			Properties: map[string]any{"name": n, "arn": arn},
		}, nil
	}
}

func (p *Provider) securityGroup(_ context.Context, name string, props map[string]any) (*platform.ResourceOutput, error) {
	id := "sg-" + shortID(17)
	return &platform.ResourceOutput{
		ID: id,
		Properties: map[string]any{
			"group_id":   id,
			"group_name": str(props, "group_name", name),
			"vpc_id":     props["vpc_id"],
		},
	}, nil
}

func (p *Provider) vpcEndpoint(_ context.Context, _ string, props map[string]any) (*platform.ResourceOutput, error) {
	service := str(props, "service_name", "")
	if service == "" {
		return nil, fmt.Errorf("service_name is required")
	}
	id := "vpce-" + shortID(17)
	suffix := service
	if i := strings.LastIndex(service, "."); i >= 0 {
		suffix = service[i+1:]
	}
	regional := fmt.Sprintf("%s-%s.%s.%s.vpce.amazonaws.com", id, shortID(8), suffix, p.region)
	zonal := fmt.Sprintf("%s-%s-%sa.%s.%s.vpce.amazonaws.com", id, shortID(8), p.region, suffix, p.region)
	return &platform.ResourceOutput{
		ID: id,
		Properties: map[string]any{
			"service_name": service,
			"dns_entries":  "Z7HUB22UULQXV:" + regional + ",Z7HUB22UULQXV:" + zonal,
		},
	}, nil
}

func (p *Provider) taskDefinition(_ context.Context, name string, props map[string]any) (*platform.ResourceOutput, error) {
	family := str(props, "family", name)
	containers, _ := props["containers"].([]map[string]any)
	if len(containers) == 0 {
		return nil, fmt.Errorf("at least one container is required")
	}
	arn := p.arn("ecs", "task-definition/"+family+":1")
	return &platform.ResourceOutput{
		ID:         arn,
		Properties: map[string]any{"arn": arn, "family": family, "revision": 1, "containers": len(containers)},
	}, nil
}

// registerRevision registers the next revision of the task definition
// family.
func (p *Provider) registerRevision(ctx context.Context, name string, current *platform.ResourceOutput, props map[string]any) (*platform.ResourceOutput, error) {
	out, err := p.taskDefinition(ctx, name, props)
	if err != nil {
		return nil, err
	}
	revision := num(current.Properties, "revision", 1) + 1
	family := out.Properties["family"].(string)
	arn := p.arn("ecs", fmt.Sprintf("task-definition/%s:%d", family, revision))
	out.ID = arn
	out.Properties["arn"] = arn
	out.Properties["revision"] = revision
	return out, nil
}

func (p *Provider) ecsService(_ context.Context, name string, props map[string]any) (*platform.ResourceOutput, error) {
	n := str(props, "service_name", name)
	cluster := str(props, "cluster", "")
	if cluster == "" {
		return nil, fmt.Errorf("cluster is required")
	}
	clusterName := cluster[strings.LastIndex(cluster, "/")+1:]
	arn := p.arn("ecs", "service/"+clusterName+"/"+n)
	return &platform.ResourceOutput{
		ID:         arn,
		Properties: map[string]any{"name": n, "arn": arn, "desired_count": num(props, "desired_count", 1)},
	}, nil
}

func (p *Provider) loadBalancer(_ context.Context, name string, props map[string]any) (*platform.ResourceOutput, error) {
	n := str(props, "load_balancer_name", name)
	suffix := shortID(16)
	full := "app/" + n + "/" + suffix
	arn := p.arn("elasticloadbalancing", "loadbalancer/"+full)
	dns := fmt.Sprintf("%s-%s.%s.elb.amazonaws.com", n, shortID(9), p.region)
	return &platform.ResourceOutput{
		ID:       arn,
		Endpoint: dns,
		Properties: map[string]any{
			"arn":       arn,
			"name":      n,
			"full_name": full,
			"dns_name":  dns,
			"scheme":    str(props, "scheme", "internet-facing"),
		},
	}, nil
}

func (p *Provider) listener(_ context.Context, _ string, props map[string]any) (*platform.ResourceOutput, error) {
	lb := str(props, "load_balancer_arn", "")
	if lb == "" {
		return nil, fmt.Errorf("load_balancer_arn is required")
	}
	i := strings.Index(lb, "loadbalancer/")
	if i < 0 {
		return nil, fmt.Errorf("load balancer %q not found", lb)
	}
	full := lb[i+len("loadbalancer/"):]
	arn := p.arn("elasticloadbalancing", "listener/"+full+"/"+shortID(16))
	p.priorities[arn] = make(map[int]string)
	return &platform.ResourceOutput{
		ID:         arn,
		Properties: map[string]any{"arn": arn, "port": num(props, "port", 80)},
	}, nil
}

func (p *Provider) targetGroup(_ context.Context, name string, props map[string]any) (*platform.ResourceOutput, error) {
	n := str(props, "target_group_name", name)
	if len(n) > 32 {
		return nil, fmt.Errorf("target group name %q longer than 32 characters", n)
	}
	arn := p.arn("elasticloadbalancing", "targetgroup/"+n+"/"+shortID(16))
	return &platform.ResourceOutput{
		ID:         arn,
		Properties: map[string]any{"arn": arn, "name": n, "health_check_path": str(props, "health_check_path", "/")},
	}, nil
}

// listenerRule rejects a priority that is already in use on the listener,
// as the load balancer service does.
func (p *Provider) listenerRule(_ context.Context, name string, props map[string]any) (*platform.ResourceOutput, error) {
	listener := str(props, "listener_arn", "")
	rules, ok := p.priorities[listener]
	if !ok {
		return nil, fmt.Errorf("listener %q not found", listener)
	}
	priority := num(props, "priority", 0)
	if priority < 1 || priority > 50000 {
		return nil, fmt.Errorf("priority %d out of range 1-50000", priority)
	}
	if owner, taken := rules[priority]; taken {
		return nil, fmt.Errorf("PriorityInUse: priority %d is already used by %s", priority, owner)
	}
	rules[priority] = name
	arn := strings.Replace(listener, ":listener/", ":listener-rule/", 1) + "/" + shortID(16)
	return &platform.ResourceOutput{
		ID:         arn,
		Properties: map[string]any{"arn": arn, "priority": priority},
	}, nil
}

func (p *Provider) hostedZone(_ context.Context, _ string, props map[string]any) (*platform.ResourceOutput, error) {
	zone := str(props, "zone_name", "")
	if zone == "" {
		return nil, fmt.Errorf("zone_name is required")
	}
	id := "Z" + strings.ToUpper(shortID(20))
	return &platform.ResourceOutput{
		ID:         id,
		Properties: map[string]any{"name": zone, "private": props["private"]},
	}, nil
}

// record rejects a second record with the same name in one zone.
func (p *Provider) record(_ context.Context, name string, props map[string]any) (*platform.ResourceOutput, error) {
	zone := str(props, "zone_id", "")
	recordName := str(props, "record_name", "")
	if zone == "" || recordName == "" {
		return nil, fmt.Errorf("zone_id and record_name are required")
	}
	key := zone + "/" + recordName
	if owner, taken := p.records[key]; taken {
		return nil, fmt.Errorf("record %s already exists in zone %s (owned by %s)", recordName, zone, owner)
	}
	p.records[key] = name
	return &platform.ResourceOutput{
		ID:         key,
		Endpoint:   recordName,
		Properties: map[string]any{"fqdn": recordName, "record_type": str(props, "record_type", "CNAME")},
	}, nil
}

func (p *Provider) imageRepository(_ context.Context, name string, props map[string]any) (*platform.ResourceOutput, error) {
	n := str(props, "repository_name", name)
	arn := p.arn("ecr", "repository/"+n)
	return &platform.ResourceOutput{
		ID: arn,
		Properties: map[string]any{
			"name":           n,
			"arn":            arn,
			"repository_uri": fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com/%s", p.account, p.region, n),
		},
	}, nil
}

func (p *Provider) role(_ context.Context, name string, props map[string]any) (*platform.ResourceOutput, error) {
	n := str(props, "role_name", name)
	arn := fmt.Sprintf("arn:aws:iam::%s:role/%s", p.account, n)
	return &platform.ResourceOutput{
		ID:         arn,
		Properties: map[string]any{"name": n, "arn": arn},
	}, nil
}

// database stores generated master credentials in the provider's secret
// store and reports their location as the credential reference.
func (p *Provider) database(ctx context.Context, name string, props map[string]any) (*platform.ResourceOutput, error) {
	id := str(props, "identifier", name)
	user := str(props, "master_username", "")
	if user == "" {
		return nil, fmt.Errorf("master_username is required")
	}
	port := num(props, "port", 5432)
	ref := fmt.Sprintf("memory://rds/%s/master", id)
	if err := p.secrets.Set(ctx, ref, credentialsJSON(user, shortID(24))); err != nil {
		return nil, err
	}
	host := fmt.Sprintf("%s.%s.%s.rds.amazonaws.com", id, shortID(12), p.region)
	arn := p.arn("rds", "db:"+id)
	return &platform.ResourceOutput{
		ID:            arn,
		Endpoint:      host,
		CredentialRef: ref,
		Properties: map[string]any{
			"arn":     arn,
			"name":    id,
			"port":    port,
			"engine":  str(props, "engine", "postgres"),
			"db_name": str(props, "db_name", ""),
		},
	}, nil
}

func (p *Provider) sourceRepository(_ context.Context, name string, props map[string]any) (*platform.ResourceOutput, error) {
	n := str(props, "repository_name", name)
	arn := p.arn("codecommit", n)
	host := fmt.Sprintf("git-codecommit.%s.amazonaws.com", p.region)
	return &platform.ResourceOutput{
		ID: arn,
		Properties: map[string]any{
			"name":           n,
			"arn":            arn,
			"clone_url_http": "https://" + host + "/v1/repos/" + n,
			"clone_url_ssh":  "ssh://" + host + "/v1/repos/" + n,
		},
	}, nil
}

func (p *Provider) bucket(_ context.Context, name string, props map[string]any) (*platform.ResourceOutput, error) {
	n := str(props, "bucket_name", name)
	if len(n) > 63 {
		return nil, fmt.Errorf("bucket name %q longer than 63 characters", n)
	}
	return &platform.ResourceOutput{
		ID:         n,
		Properties: map[string]any{"name": n, "arn": "arn:aws:s3:::" + n},
	}, nil
}

func (p *Provider) pipeline(_ context.Context, name string, props map[string]any) (*platform.ResourceOutput, error) {
	n := str(props, "pipeline_name", name)
	stages, _ := props["stages"].([]map[string]any)
	if len(stages) < 2 {
		return nil, fmt.Errorf("a pipeline needs at least two stages, got %d", len(stages))
	}
	arn := p.arn("codepipeline", n)
	return &platform.ResourceOutput{
		ID:         arn,
		Properties: map[string]any{"name": n, "arn": arn, "stages": len(stages)},
	}, nil
}
