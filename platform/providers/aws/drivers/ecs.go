package drivers

import (
	"context"
	"fmt"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"

	"github.com/GoCodeAlone/topology/platform"
)

// ECSClient defines the ECS operations used by the cluster, task definition
// and service drivers.
type ECSClient interface {
	CreateCluster(ctx context.Context, params *ecs.CreateClusterInput, optFns ...func(*ecs.Options)) (*ecs.CreateClusterOutput, error)
	RegisterTaskDefinition(ctx context.Context, params *ecs.RegisterTaskDefinitionInput, optFns ...func(*ecs.Options)) (*ecs.RegisterTaskDefinitionOutput, error)
	CreateService(ctx context.Context, params *ecs.CreateServiceInput, optFns ...func(*ecs.Options)) (*ecs.CreateServiceOutput, error)
	UpdateService(ctx context.Context, params *ecs.UpdateServiceInput, optFns ...func(*ecs.Options)) (*ecs.UpdateServiceOutput, error)
}

func ecsTags(name string) []ecstypes.Tag {
	return []ecstypes.Tag{{Key: awsv2.String(ResourceTag), Value: awsv2.String(name)}}
}

// ECSClusterDriver manages ECS clusters.
type ECSClusterDriver struct {
	client ECSClient
}

// NewECSClusterDriver creates a new ECS cluster driver.
func NewECSClusterDriver(cfg awsv2.Config) *ECSClusterDriver {
	return &ECSClusterDriver{client: ecs.NewFromConfig(cfg)}
}

// NewECSClusterDriverWithClient creates an ECS cluster driver with a custom
// client.
func NewECSClusterDriverWithClient(client ECSClient) *ECSClusterDriver {
	return &ECSClusterDriver{client: client}
}

func (d *ECSClusterDriver) ResourceType() string { return platform.TypeECSCluster }

func (d *ECSClusterDriver) Create(ctx context.Context, name string, properties map[string]any) (*platform.ResourceOutput, error) {
	clusterName := stringProp(properties, "cluster_name", name)
	providers := stringSliceProp(properties, "capacity_providers")
	input := &ecs.CreateClusterInput{
		ClusterName:       awsv2.String(clusterName),
		CapacityProviders: providers,
		Tags:              ecsTags(name),
	}
	if len(providers) > 0 {
		input.DefaultCapacityProviderStrategy = []ecstypes.CapacityProviderStrategyItem{
			{CapacityProvider: awsv2.String(providers[0]), Weight: 1},
		}
	}
	out, err := d.client.CreateCluster(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("ecs: create cluster %q: %w", name, err)
	}
	if out.Cluster == nil {
		return nil, fmt.Errorf("ecs: create cluster %q returned no cluster", name)
	}
	arn := deref(out.Cluster.ClusterArn)
	return output(arn, map[string]any{
		"arn":    arn,
		"name":   deref(out.Cluster.ClusterName),
		"status": deref(out.Cluster.Status),
	}), nil
}

// ECSTaskDefinitionDriver registers task definitions.
type ECSTaskDefinitionDriver struct {
	client ECSClient
}

// NewECSTaskDefinitionDriver creates a new task definition driver.
func NewECSTaskDefinitionDriver(cfg awsv2.Config) *ECSTaskDefinitionDriver {
	return &ECSTaskDefinitionDriver{client: ecs.NewFromConfig(cfg)}
}

// NewECSTaskDefinitionDriverWithClient creates a task definition driver with
// a custom client.
func NewECSTaskDefinitionDriverWithClient(client ECSClient) *ECSTaskDefinitionDriver {
	return &ECSTaskDefinitionDriver{client: client}
}

func (d *ECSTaskDefinitionDriver) ResourceType() string { return platform.TypeTaskDefinition }

func (d *ECSTaskDefinitionDriver) Create(ctx context.Context, name string, properties map[string]any) (*platform.ResourceOutput, error) {
	specs, _ := properties["containers"].([]map[string]any)
	if len(specs) == 0 {
		return nil, fmt.Errorf("ecs: register task definition %q: at least one container is required", name)
	}
	containers := make([]ecstypes.ContainerDefinition, 0, len(specs))
	for _, spec := range specs {
		containers = append(containers, containerDefinition(spec))
	}

	input := &ecs.RegisterTaskDefinitionInput{
		Family:               awsv2.String(stringProp(properties, "family", name)),
		ContainerDefinitions: containers,
		NetworkMode:          ecstypes.NetworkMode(stringProp(properties, "network_mode", string(ecstypes.NetworkModeAwsvpc))),
		Tags:                 ecsTags(name),
	}
	for _, c := range stringSliceProp(properties, "requires_compatibilities") {
		input.RequiresCompatibilities = append(input.RequiresCompatibilities, ecstypes.Compatibility(c))
	}
	if cpu := stringProp(properties, "cpu", ""); cpu != "" {
		input.Cpu = awsv2.String(cpu)
	}
	if mem := stringProp(properties, "memory", ""); mem != "" {
		input.Memory = awsv2.String(mem)
	}
	if arn := stringProp(properties, "task_role_arn", ""); arn != "" {
		input.TaskRoleArn = awsv2.String(arn)
	}
	if arn := stringProp(properties, "execution_role_arn", ""); arn != "" {
		input.ExecutionRoleArn = awsv2.String(arn)
	}

	out, err := d.client.RegisterTaskDefinition(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("ecs: register task definition %q: %w", name, err)
	}
	if out.TaskDefinition == nil {
		return nil, fmt.Errorf("ecs: register task definition %q returned no definition", name)
	}
	arn := deref(out.TaskDefinition.TaskDefinitionArn)
	return output(arn, map[string]any{
		"arn":      arn,
		"family":   deref(out.TaskDefinition.Family),
		"revision": int(out.TaskDefinition.Revision),
	}), nil
}

// Update registers the next revision of the family.
func (d *ECSTaskDefinitionDriver) Update(ctx context.Context, name string, _ *platform.ResourceOutput, properties map[string]any) (*platform.ResourceOutput, error) {
	return d.Create(ctx, name, properties)
}

func containerDefinition(spec map[string]any) ecstypes.ContainerDefinition {
	c := ecstypes.ContainerDefinition{
		Name:      awsv2.String(stringProp(spec, "name", "")),
		Image:     awsv2.String(stringProp(spec, "image", "")),
		Essential: awsv2.Bool(boolProp(spec, "essential", true)),
		Cpu:       int32(intProp(spec, "cpu", 0)),
	}
	if mem := intProp(spec, "memory", 0); mem > 0 {
		c.Memory = awsv2.Int32(int32(mem))
	}
	if res := intProp(spec, "memory_reservation", 0); res > 0 {
		c.MemoryReservation = awsv2.Int32(int32(res))
	}
	if port := intProp(spec, "port", 0); port > 0 {
		c.PortMappings = []ecstypes.PortMapping{{
			ContainerPort: awsv2.Int32(int32(port)),
			Protocol:      ecstypes.TransportProtocol(stringProp(spec, "protocol", string(ecstypes.TransportProtocolTcp))),
		}}
	}
	keys, env := stringMapProp(spec, "environment")
	for _, k := range keys {
		c.Environment = append(c.Environment, ecstypes.KeyValuePair{Name: awsv2.String(k), Value: awsv2.String(env[k])})
	}
	if group := stringProp(spec, "log_group", ""); group != "" {
		c.LogConfiguration = &ecstypes.LogConfiguration{
			LogDriver: ecstypes.LogDriverAwslogs,
			Options: map[string]string{
				"awslogs-group":         group,
				"awslogs-region":        stringProp(spec, "log_region", ""),
				"awslogs-stream-prefix": stringProp(spec, "log_stream_prefix", stringProp(spec, "name", "")),
			},
		}
	}
	return c
}

// ECSServiceDriver creates Fargate services registered with a target group.
type ECSServiceDriver struct {
	client ECSClient
}

// NewECSServiceDriver creates a new ECS service driver.
func NewECSServiceDriver(cfg awsv2.Config) *ECSServiceDriver {
	return &ECSServiceDriver{client: ecs.NewFromConfig(cfg)}
}

// NewECSServiceDriverWithClient creates an ECS service driver with a custom
// client.
func NewECSServiceDriverWithClient(client ECSClient) *ECSServiceDriver {
	return &ECSServiceDriver{client: client}
}

func (d *ECSServiceDriver) ResourceType() string { return platform.TypeECSService }

func (d *ECSServiceDriver) Create(ctx context.Context, name string, properties map[string]any) (*platform.ResourceOutput, error) {
	cluster, err := requireProp("ecs service", name, properties, "cluster")
	if err != nil {
		return nil, err
	}
	taskDef, err := requireProp("ecs service", name, properties, "task_definition_arn")
	if err != nil {
		return nil, err
	}
	input := &ecs.CreateServiceInput{
		ServiceName:    awsv2.String(stringProp(properties, "service_name", name)),
		Cluster:        awsv2.String(cluster),
		TaskDefinition: awsv2.String(taskDef),
		DesiredCount:   awsv2.Int32(int32(intProp(properties, "desired_count", 1))),
		LaunchType:     ecstypes.LaunchType(stringProp(properties, "launch_type", string(ecstypes.LaunchTypeFargate))),
		NetworkConfiguration: &ecstypes.NetworkConfiguration{
			AwsvpcConfiguration: &ecstypes.AwsVpcConfiguration{
				Subnets:        stringSliceProp(properties, "subnet_ids"),
				SecurityGroups: stringSliceProp(properties, "security_group_ids"),
				AssignPublicIp: ecstypes.AssignPublicIpDisabled,
			},
		},
		Tags: ecsTags(name),
	}
	if tg := stringProp(properties, "target_group_arn", ""); tg != "" {
		input.LoadBalancers = []ecstypes.LoadBalancer{{
			TargetGroupArn: awsv2.String(tg),
			ContainerName:  awsv2.String(stringProp(properties, "container_name", "")),
			ContainerPort:  awsv2.Int32(int32(intProp(properties, "container_port", 0))),
		}}
	}
	out, err := d.client.CreateService(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("ecs: create service %q: %w", name, err)
	}
	if out.Service == nil {
		return nil, fmt.Errorf("ecs: create service %q returned no service", name)
	}
	arn := deref(out.Service.ServiceArn)
	return output(arn, map[string]any{
		"arn":           arn,
		"name":          deref(out.Service.ServiceName),
		"desired_count": int(out.Service.DesiredCount),
	}), nil
}

// Update points the service at its current task definition and desired
// count. Load balancer attachments are left as created.
func (d *ECSServiceDriver) Update(ctx context.Context, name string, _ *platform.ResourceOutput, properties map[string]any) (*platform.ResourceOutput, error) {
	cluster, err := requireProp("ecs service", name, properties, "cluster")
	if err != nil {
		return nil, err
	}
	taskDef, err := requireProp("ecs service", name, properties, "task_definition_arn")
	if err != nil {
		return nil, err
	}
	out, err := d.client.UpdateService(ctx, &ecs.UpdateServiceInput{
		Service:        awsv2.String(stringProp(properties, "service_name", name)),
		Cluster:        awsv2.String(cluster),
		TaskDefinition: awsv2.String(taskDef),
		DesiredCount:   awsv2.Int32(int32(intProp(properties, "desired_count", 1))),
		NetworkConfiguration: &ecstypes.NetworkConfiguration{
			AwsvpcConfiguration: &ecstypes.AwsVpcConfiguration{
				Subnets:        stringSliceProp(properties, "subnet_ids"),
				SecurityGroups: stringSliceProp(properties, "security_group_ids"),
				AssignPublicIp: ecstypes.AssignPublicIpDisabled,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ecs: update service %q: %w", name, err)
	}
	if out.Service == nil {
		return nil, fmt.Errorf("ecs: update service %q returned no service", name)
	}
	arn := deref(out.Service.ServiceArn)
	return output(arn, map[string]any{
		"arn":           arn,
		"name":          deref(out.Service.ServiceName),
		"desired_count": int(out.Service.DesiredCount),
	}), nil
}

var (
	_ platform.ResourceDriver = (*ECSClusterDriver)(nil)
	_ platform.ResourceDriver = (*ECSTaskDefinitionDriver)(nil)
	_ platform.ResourceDriver = (*ECSServiceDriver)(nil)

	_ platform.ResourceUpdater = (*ECSTaskDefinitionDriver)(nil)
	_ platform.ResourceUpdater = (*ECSServiceDriver)(nil)
)
