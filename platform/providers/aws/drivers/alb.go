package drivers

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbtypes "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"

	"github.com/GoCodeAlone/topology/platform"
)

// ELBv2Client defines the ELBv2 operations used by the load balancer,
// listener, target group and listener rule drivers.
type ELBv2Client interface {
	CreateLoadBalancer(ctx context.Context, params *elbv2.CreateLoadBalancerInput, optFns ...func(*elbv2.Options)) (*elbv2.CreateLoadBalancerOutput, error)
	CreateListener(ctx context.Context, params *elbv2.CreateListenerInput, optFns ...func(*elbv2.Options)) (*elbv2.CreateListenerOutput, error)
	CreateTargetGroup(ctx context.Context, params *elbv2.CreateTargetGroupInput, optFns ...func(*elbv2.Options)) (*elbv2.CreateTargetGroupOutput, error)
	CreateRule(ctx context.Context, params *elbv2.CreateRuleInput, optFns ...func(*elbv2.Options)) (*elbv2.CreateRuleOutput, error)
}

// PriorityInUseError is returned when a listener already has a rule at the
// requested priority. Two units claiming the site root end up here.
type PriorityInUseError struct {
	Listener string
	Priority int
	Err      error
}

// Error implements the error interface.
func (e *PriorityInUseError) Error() string {
	return fmt.Sprintf("listener %s: priority %d is already in use", e.Listener, e.Priority)
}

// Unwrap returns the underlying cause.
func (e *PriorityInUseError) Unwrap() error { return e.Err }

func elbTags(name string) []elbtypes.Tag {
	return []elbtypes.Tag{{Key: awsv2.String(ResourceTag), Value: awsv2.String(name)}}
}

// ALBDriver manages Application Load Balancer resources.
type ALBDriver struct {
	client ELBv2Client
}

// NewALBDriver creates a new ALB driver.
func NewALBDriver(cfg awsv2.Config) *ALBDriver {
	return &ALBDriver{client: elbv2.NewFromConfig(cfg)}
}

// NewALBDriverWithClient creates an ALB driver with a custom client.
func NewALBDriverWithClient(client ELBv2Client) *ALBDriver {
	return &ALBDriver{client: client}
}

func (d *ALBDriver) ResourceType() string { return platform.TypeLoadBalancer }

func (d *ALBDriver) Create(ctx context.Context, name string, properties map[string]any) (*platform.ResourceOutput, error) {
	lbScheme := elbtypes.LoadBalancerSchemeEnumInternetFacing
	if stringProp(properties, "scheme", "") == "internal" {
		lbScheme = elbtypes.LoadBalancerSchemeEnumInternal
	}

	out, err := d.client.CreateLoadBalancer(ctx, &elbv2.CreateLoadBalancerInput{
		Name:           awsv2.String(stringProp(properties, "load_balancer_name", name)),
		Type:           elbtypes.LoadBalancerTypeEnumApplication,
		Scheme:         lbScheme,
		Subnets:        stringSliceProp(properties, "subnet_ids"),
		SecurityGroups: stringSliceProp(properties, "security_group_ids"),
		Tags:           elbTags(name),
	})
	if err != nil {
		return nil, fmt.Errorf("alb: create %q: %w", name, err)
	}
	if len(out.LoadBalancers) == 0 {
		return nil, fmt.Errorf("alb: create %q returned no load balancers", name)
	}
	return albToOutput(&out.LoadBalancers[0]), nil
}

// albToOutput reports the ARN as the id. full_name is the "app/<name>/<id>"
// suffix CloudWatch dimensions use.
func albToOutput(lb *elbtypes.LoadBalancer) *platform.ResourceOutput {
	arn := deref(lb.LoadBalancerArn)
	o := output(arn, map[string]any{
		"arn":       arn,
		"name":      deref(lb.LoadBalancerName),
		"full_name": arnSuffix(arn, ":loadbalancer/"),
		"dns_name":  deref(lb.DNSName),
		"scheme":    string(lb.Scheme),
	})
	o.Endpoint = deref(lb.DNSName)
	if lb.State != nil {
		switch lb.State.Code {
		case elbtypes.LoadBalancerStateEnumProvisioning:
			o.Status = platform.ResourceStatusCreating
		case elbtypes.LoadBalancerStateEnumFailed:
			o.Status = platform.ResourceStatusFailed
		}
	}
	return o
}

// ListenerDriver manages listeners. A fixed_response property becomes the
// default action.
type ListenerDriver struct {
	client ELBv2Client
}

// NewListenerDriver creates a new listener driver.
func NewListenerDriver(cfg awsv2.Config) *ListenerDriver {
	return &ListenerDriver{client: elbv2.NewFromConfig(cfg)}
}

// NewListenerDriverWithClient creates a listener driver with a custom client.
func NewListenerDriverWithClient(client ELBv2Client) *ListenerDriver {
	return &ListenerDriver{client: client}
}

func (d *ListenerDriver) ResourceType() string { return platform.TypeListener }

func (d *ListenerDriver) Create(ctx context.Context, name string, properties map[string]any) (*platform.ResourceOutput, error) {
	lbARN, err := requireProp("listener", name, properties, "load_balancer_arn")
	if err != nil {
		return nil, err
	}
	action := elbtypes.Action{Type: elbtypes.ActionTypeEnumFixedResponse}
	if fixed := mapProp(properties, "fixed_response"); fixed != nil {
		action.FixedResponseConfig = &elbtypes.FixedResponseActionConfig{
			StatusCode:  awsv2.String(stringProp(fixed, "status_code", "200")),
			ContentType: awsv2.String(stringProp(fixed, "content_type", "text/plain")),
			MessageBody: awsv2.String(stringProp(fixed, "message_body", "")),
		}
	} else if tg := stringProp(properties, "target_group_arn", ""); tg != "" {
		action = elbtypes.Action{Type: elbtypes.ActionTypeEnumForward, TargetGroupArn: awsv2.String(tg)}
	} else {
		return nil, fmt.Errorf("listener: create %q: fixed_response or target_group_arn is required", name)
	}

	port := intProp(properties, "port", 80)
	out, err := d.client.CreateListener(ctx, &elbv2.CreateListenerInput{
		LoadBalancerArn: awsv2.String(lbARN),
		Port:            awsv2.Int32(int32(port)),
		Protocol:        elbtypes.ProtocolEnum(stringProp(properties, "protocol", string(elbtypes.ProtocolEnumHttp))),
		DefaultActions:  []elbtypes.Action{action},
		Tags:            elbTags(name),
	})
	if err != nil {
		return nil, fmt.Errorf("listener: create %q: %w", name, err)
	}
	if len(out.Listeners) == 0 {
		return nil, fmt.Errorf("listener: create %q returned no listeners", name)
	}
	arn := deref(out.Listeners[0].ListenerArn)
	return output(arn, map[string]any{"arn": arn, "port": port}), nil
}

// TargetGroupDriver manages target groups.
type TargetGroupDriver struct {
	client ELBv2Client
}

// NewTargetGroupDriver creates a new target group driver.
func NewTargetGroupDriver(cfg awsv2.Config) *TargetGroupDriver {
	return &TargetGroupDriver{client: elbv2.NewFromConfig(cfg)}
}

// NewTargetGroupDriverWithClient creates a target group driver with a custom
// client.
func NewTargetGroupDriverWithClient(client ELBv2Client) *TargetGroupDriver {
	return &TargetGroupDriver{client: client}
}

func (d *TargetGroupDriver) ResourceType() string { return platform.TypeTargetGroup }

func (d *TargetGroupDriver) Create(ctx context.Context, name string, properties map[string]any) (*platform.ResourceOutput, error) {
	vpcID, err := requireProp("target group", name, properties, "vpc_id")
	if err != nil {
		return nil, err
	}
	out, err := d.client.CreateTargetGroup(ctx, &elbv2.CreateTargetGroupInput{
		Name:            awsv2.String(stringProp(properties, "target_group_name", name)),
		Port:            awsv2.Int32(int32(intProp(properties, "port", 80))),
		Protocol:        elbtypes.ProtocolEnum(stringProp(properties, "protocol", string(elbtypes.ProtocolEnumHttp))),
		TargetType:      elbtypes.TargetTypeEnum(stringProp(properties, "target_type", string(elbtypes.TargetTypeEnumIp))),
		VpcId:           awsv2.String(vpcID),
		HealthCheckPath: awsv2.String(stringProp(properties, "health_check_path", "/")),
		Tags:            elbTags(name),
	})
	if err != nil {
		return nil, fmt.Errorf("target group: create %q: %w", name, err)
	}
	if len(out.TargetGroups) == 0 {
		return nil, fmt.Errorf("target group: create %q returned no target groups", name)
	}
	tg := out.TargetGroups[0]
	arn := deref(tg.TargetGroupArn)
	return output(arn, map[string]any{
		"arn":       arn,
		"name":      deref(tg.TargetGroupName),
		"full_name": "targetgroup/" + arnSuffix(arn, ":targetgroup/"),
	}), nil
}

// ListenerRuleDriver manages listener rules. The load balancer rejects a
// second rule at a priority already in use; that surfaces as a
// *PriorityInUseError.
type ListenerRuleDriver struct {
	client ELBv2Client
}

// NewListenerRuleDriver creates a new listener rule driver.
func NewListenerRuleDriver(cfg awsv2.Config) *ListenerRuleDriver {
	return &ListenerRuleDriver{client: elbv2.NewFromConfig(cfg)}
}

// NewListenerRuleDriverWithClient creates a listener rule driver with a
// custom client.
func NewListenerRuleDriverWithClient(client ELBv2Client) *ListenerRuleDriver {
	return &ListenerRuleDriver{client: client}
}

func (d *ListenerRuleDriver) ResourceType() string { return platform.TypeListenerRule }

func (d *ListenerRuleDriver) Create(ctx context.Context, name string, properties map[string]any) (*platform.ResourceOutput, error) {
	listener, err := requireProp("listener rule", name, properties, "listener_arn")
	if err != nil {
		return nil, err
	}
	tg, err := requireProp("listener rule", name, properties, "target_group_arn")
	if err != nil {
		return nil, err
	}
	priority := intProp(properties, "priority", 0)
	if priority < 1 {
		return nil, fmt.Errorf("listener rule: create %q: priority is required", name)
	}

	var conditions []elbtypes.RuleCondition
	if host := stringProp(properties, "host_header", ""); host != "" {
		conditions = append(conditions, elbtypes.RuleCondition{
			Field:            awsv2.String("host-header"),
			HostHeaderConfig: &elbtypes.HostHeaderConditionConfig{Values: []string{host}},
		})
	}
	if path := stringProp(properties, "path_pattern", ""); path != "" {
		conditions = append(conditions, elbtypes.RuleCondition{
			Field:             awsv2.String("path-pattern"),
			PathPatternConfig: &elbtypes.PathPatternConditionConfig{Values: []string{path}},
		})
	}
	if len(conditions) == 0 {
		return nil, fmt.Errorf("listener rule: create %q: host_header or path_pattern is required", name)
	}

	out, err := d.client.CreateRule(ctx, &elbv2.CreateRuleInput{
		ListenerArn: awsv2.String(listener),
		Priority:    awsv2.Int32(int32(priority)),
		Conditions:  conditions,
		Actions:     []elbtypes.Action{{Type: elbtypes.ActionTypeEnumForward, TargetGroupArn: awsv2.String(tg)}},
		Tags:        elbTags(name),
	})
	if err != nil {
		var inUse *elbtypes.PriorityInUseException
		if errors.As(err, &inUse) {
			return nil, &PriorityInUseError{Listener: listener, Priority: priority, Err: err}
		}
		return nil, fmt.Errorf("listener rule: create %q: %w", name, err)
	}
	if len(out.Rules) == 0 {
		return nil, fmt.Errorf("listener rule: create %q returned no rules", name)
	}
	arn := deref(out.Rules[0].RuleArn)
	reported, _ := strconv.Atoi(deref(out.Rules[0].Priority))
	if reported == 0 {
		reported = priority
	}
	return output(arn, map[string]any{"arn": arn, "priority": reported}), nil
}

var (
	_ platform.ResourceDriver = (*ALBDriver)(nil)
	_ platform.ResourceDriver = (*ListenerDriver)(nil)
	_ platform.ResourceDriver = (*TargetGroupDriver)(nil)
	_ platform.ResourceDriver = (*ListenerRuleDriver)(nil)
)
