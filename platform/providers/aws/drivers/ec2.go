package drivers

import (
	"context"
	"fmt"
	"sort"
	"strings"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/GoCodeAlone/topology/platform"
)

// EC2Client defines the EC2 operations used by the network drivers.
type EC2Client interface {
	CreateVpc(ctx context.Context, params *ec2.CreateVpcInput, optFns ...func(*ec2.Options)) (*ec2.CreateVpcOutput, error)
	ModifyVpcAttribute(ctx context.Context, params *ec2.ModifyVpcAttributeInput, optFns ...func(*ec2.Options)) (*ec2.ModifyVpcAttributeOutput, error)
	DescribeVpcs(ctx context.Context, params *ec2.DescribeVpcsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error)
	CreateInternetGateway(ctx context.Context, params *ec2.CreateInternetGatewayInput, optFns ...func(*ec2.Options)) (*ec2.CreateInternetGatewayOutput, error)
	AttachInternetGateway(ctx context.Context, params *ec2.AttachInternetGatewayInput, optFns ...func(*ec2.Options)) (*ec2.AttachInternetGatewayOutput, error)
	DescribeInternetGateways(ctx context.Context, params *ec2.DescribeInternetGatewaysInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInternetGatewaysOutput, error)
	CreateSubnet(ctx context.Context, params *ec2.CreateSubnetInput, optFns ...func(*ec2.Options)) (*ec2.CreateSubnetOutput, error)
	ModifySubnetAttribute(ctx context.Context, params *ec2.ModifySubnetAttributeInput, optFns ...func(*ec2.Options)) (*ec2.ModifySubnetAttributeOutput, error)
	DescribeSubnets(ctx context.Context, params *ec2.DescribeSubnetsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error)
	CreateRouteTable(ctx context.Context, params *ec2.CreateRouteTableInput, optFns ...func(*ec2.Options)) (*ec2.CreateRouteTableOutput, error)
	CreateRoute(ctx context.Context, params *ec2.CreateRouteInput, optFns ...func(*ec2.Options)) (*ec2.CreateRouteOutput, error)
	AssociateRouteTable(ctx context.Context, params *ec2.AssociateRouteTableInput, optFns ...func(*ec2.Options)) (*ec2.AssociateRouteTableOutput, error)
	CreateSecurityGroup(ctx context.Context, params *ec2.CreateSecurityGroupInput, optFns ...func(*ec2.Options)) (*ec2.CreateSecurityGroupOutput, error)
	DescribeSecurityGroups(ctx context.Context, params *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error)
	AuthorizeSecurityGroupIngress(ctx context.Context, params *ec2.AuthorizeSecurityGroupIngressInput, optFns ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error)
	CreateVpcEndpoint(ctx context.Context, params *ec2.CreateVpcEndpointInput, optFns ...func(*ec2.Options)) (*ec2.CreateVpcEndpointOutput, error)
}

func tagSpec(rt ec2types.ResourceType, name string, extra map[string]any) []ec2types.TagSpecification {
	tags := []ec2types.Tag{
		{Key: awsv2.String("Name"), Value: awsv2.String(name)},
		{Key: awsv2.String(ResourceTag), Value: awsv2.String(name)},
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		if k != "Name" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		tags = append(tags, ec2types.Tag{Key: awsv2.String(k), Value: awsv2.String(fmt.Sprintf("%v", extra[k]))})
	}
	return []ec2types.TagSpecification{{ResourceType: rt, Tags: tags}}
}

func resourceTagFilter(name string) []ec2types.Filter {
	return []ec2types.Filter{{Name: awsv2.String("tag:" + ResourceTag), Values: []string{name}}}
}

// --- VPC ---

// VPCDriver manages VPCs. A VPC is created with an attached internet
// gateway so that public subnets can route to it.
type VPCDriver struct {
	client EC2Client
}

// NewVPCDriver creates a new VPC driver.
func NewVPCDriver(cfg awsv2.Config) *VPCDriver {
	return &VPCDriver{client: ec2.NewFromConfig(cfg)}
}

// NewVPCDriverWithClient creates a VPC driver with a custom client.
func NewVPCDriverWithClient(client EC2Client) *VPCDriver {
	return &VPCDriver{client: client}
}

func (d *VPCDriver) ResourceType() string { return platform.TypeVPC }

func (d *VPCDriver) Create(ctx context.Context, name string, properties map[string]any) (*platform.ResourceOutput, error) {
	cidr, err := requireProp("vpc", name, properties, "cidr")
	if err != nil {
		return nil, err
	}
	out, err := d.client.CreateVpc(ctx, &ec2.CreateVpcInput{
		CidrBlock:         awsv2.String(cidr),
		TagSpecifications: tagSpec(ec2types.ResourceTypeVpc, name, mapProp(properties, "tags")),
	})
	if err != nil {
		return nil, fmt.Errorf("vpc: create %q: %w", name, err)
	}
	if out.Vpc == nil || out.Vpc.VpcId == nil {
		return nil, fmt.Errorf("vpc: create %q returned no vpc", name)
	}
	vpcID := *out.Vpc.VpcId

	// DNS support and hostnames must be set in separate calls.
	for _, attr := range []*ec2.ModifyVpcAttributeInput{
		{VpcId: awsv2.String(vpcID), EnableDnsSupport: &ec2types.AttributeBooleanValue{Value: awsv2.Bool(boolProp(properties, "enable_dns_support", true))}},
		{VpcId: awsv2.String(vpcID), EnableDnsHostnames: &ec2types.AttributeBooleanValue{Value: awsv2.Bool(boolProp(properties, "enable_dns_hostnames", true))}},
	} {
		if _, err := d.client.ModifyVpcAttribute(ctx, attr); err != nil {
			return nil, fmt.Errorf("vpc: modify %q: %w", name, err)
		}
	}

	igw, err := d.client.CreateInternetGateway(ctx, &ec2.CreateInternetGatewayInput{
		TagSpecifications: tagSpec(ec2types.ResourceTypeInternetGateway, name+"-igw", nil),
	})
	if err != nil {
		return nil, fmt.Errorf("vpc: create internet gateway for %q: %w", name, err)
	}
	if igw.InternetGateway == nil {
		return nil, fmt.Errorf("vpc: create internet gateway for %q returned no gateway", name)
	}
	igwID := deref(igw.InternetGateway.InternetGatewayId)
	if _, err := d.client.AttachInternetGateway(ctx, &ec2.AttachInternetGatewayInput{
		InternetGatewayId: awsv2.String(igwID),
		VpcId:             awsv2.String(vpcID),
	}); err != nil {
		return nil, fmt.Errorf("vpc: attach internet gateway to %q: %w", name, err)
	}

	o := vpcToOutput(out.Vpc)
	o.Properties["internet_gateway_id"] = igwID
	return o, nil
}

func (d *VPCDriver) Read(ctx context.Context, name string) (*platform.ResourceOutput, error) {
	out, err := d.client.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{Filters: resourceTagFilter(name)})
	if err != nil {
		return nil, fmt.Errorf("vpc: describe %q: %w", name, err)
	}
	if len(out.Vpcs) == 0 {
		return nil, notFound(name)
	}
	return vpcToOutput(&out.Vpcs[0]), nil
}

func vpcToOutput(vpc *ec2types.Vpc) *platform.ResourceOutput {
	o := output(deref(vpc.VpcId), map[string]any{
		"vpc_id": deref(vpc.VpcId),
		"cidr":   deref(vpc.CidrBlock),
		"state":  string(vpc.State),
	})
	if vpc.State == ec2types.VpcStatePending {
		o.Status = platform.ResourceStatusCreating
	}
	return o
}

// --- Subnet ---

// SubnetDriver manages subnets. Public subnets map public IPs on launch and
// get a route table whose default route is the VPC's internet gateway.
type SubnetDriver struct {
	client EC2Client
}

// NewSubnetDriver creates a new subnet driver.
func NewSubnetDriver(cfg awsv2.Config) *SubnetDriver {
	return &SubnetDriver{client: ec2.NewFromConfig(cfg)}
}

// NewSubnetDriverWithClient creates a subnet driver with a custom client.
func NewSubnetDriverWithClient(client EC2Client) *SubnetDriver {
	return &SubnetDriver{client: client}
}

func (d *SubnetDriver) ResourceType() string { return platform.TypeSubnet }

func (d *SubnetDriver) Create(ctx context.Context, name string, properties map[string]any) (*platform.ResourceOutput, error) {
	vpcID, err := requireProp("subnet", name, properties, "vpc_id")
	if err != nil {
		return nil, err
	}
	cidr, err := requireProp("subnet", name, properties, "cidr")
	if err != nil {
		return nil, err
	}
	input := &ec2.CreateSubnetInput{
		VpcId:             awsv2.String(vpcID),
		CidrBlock:         awsv2.String(cidr),
		TagSpecifications: tagSpec(ec2types.ResourceTypeSubnet, name, map[string]any{"Tier": stringProp(properties, "tier", "")}),
	}
	if az := stringProp(properties, "availability_zone", ""); az != "" {
		input.AvailabilityZone = awsv2.String(az)
	}
	out, err := d.client.CreateSubnet(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("subnet: create %q: %w", name, err)
	}
	if out.Subnet == nil || out.Subnet.SubnetId == nil {
		return nil, fmt.Errorf("subnet: create %q returned no subnet", name)
	}
	subnetID := *out.Subnet.SubnetId

	if boolProp(properties, "public", false) {
		if err := d.makePublic(ctx, name, vpcID, subnetID); err != nil {
			return nil, err
		}
	}
	return subnetToOutput(out.Subnet), nil
}

func (d *SubnetDriver) makePublic(ctx context.Context, name, vpcID, subnetID string) error {
	if _, err := d.client.ModifySubnetAttribute(ctx, &ec2.ModifySubnetAttributeInput{
		SubnetId:            awsv2.String(subnetID),
		MapPublicIpOnLaunch: &ec2types.AttributeBooleanValue{Value: awsv2.Bool(true)},
	}); err != nil {
		return fmt.Errorf("subnet: modify %q: %w", name, err)
	}
	igws, err := d.client.DescribeInternetGateways(ctx, &ec2.DescribeInternetGatewaysInput{
		Filters: []ec2types.Filter{{Name: awsv2.String("attachment.vpc-id"), Values: []string{vpcID}}},
	})
	if err != nil {
		return fmt.Errorf("subnet: find internet gateway for %q: %w", name, err)
	}
	if len(igws.InternetGateways) == 0 {
		return fmt.Errorf("subnet: %q is public but vpc %s has no internet gateway", name, vpcID)
	}
	rt, err := d.client.CreateRouteTable(ctx, &ec2.CreateRouteTableInput{
		VpcId:             awsv2.String(vpcID),
		TagSpecifications: tagSpec(ec2types.ResourceTypeRouteTable, name+"-rt", nil),
	})
	if err != nil {
		return fmt.Errorf("subnet: create route table for %q: %w", name, err)
	}
	if rt.RouteTable == nil {
		return fmt.Errorf("subnet: create route table for %q returned no table", name)
	}
	rtID := deref(rt.RouteTable.RouteTableId)
	if _, err := d.client.CreateRoute(ctx, &ec2.CreateRouteInput{
		RouteTableId:         awsv2.String(rtID),
		DestinationCidrBlock: awsv2.String("0.0.0.0/0"),
		GatewayId:            igws.InternetGateways[0].InternetGatewayId,
	}); err != nil {
		return fmt.Errorf("subnet: create default route for %q: %w", name, err)
	}
	if _, err := d.client.AssociateRouteTable(ctx, &ec2.AssociateRouteTableInput{
		RouteTableId: awsv2.String(rtID),
		SubnetId:     awsv2.String(subnetID),
	}); err != nil {
		return fmt.Errorf("subnet: associate route table with %q: %w", name, err)
	}
	return nil
}

func (d *SubnetDriver) Read(ctx context.Context, name string) (*platform.ResourceOutput, error) {
	out, err := d.client.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{Filters: resourceTagFilter(name)})
	if err != nil {
		return nil, fmt.Errorf("subnet: describe %q: %w", name, err)
	}
	if len(out.Subnets) == 0 {
		return nil, notFound(name)
	}
	return subnetToOutput(&out.Subnets[0]), nil
}

func subnetToOutput(s *ec2types.Subnet) *platform.ResourceOutput {
	return output(deref(s.SubnetId), map[string]any{
		"subnet_id":         deref(s.SubnetId),
		"vpc_id":            deref(s.VpcId),
		"cidr":              deref(s.CidrBlock),
		"availability_zone": deref(s.AvailabilityZone),
	})
}

// --- Security group ---

// SecurityGroupDriver manages security groups. Ports listed in open_ports
// are opened to the internet.
type SecurityGroupDriver struct {
	client EC2Client
}

// NewSecurityGroupDriver creates a new security group driver.
func NewSecurityGroupDriver(cfg awsv2.Config) *SecurityGroupDriver {
	return &SecurityGroupDriver{client: ec2.NewFromConfig(cfg)}
}

// NewSecurityGroupDriverWithClient creates a security group driver with a
// custom client.
func NewSecurityGroupDriverWithClient(client EC2Client) *SecurityGroupDriver {
	return &SecurityGroupDriver{client: client}
}

func (d *SecurityGroupDriver) ResourceType() string { return platform.TypeSecurityGroup }

func (d *SecurityGroupDriver) Create(ctx context.Context, name string, properties map[string]any) (*platform.ResourceOutput, error) {
	vpcID, err := requireProp("security group", name, properties, "vpc_id")
	if err != nil {
		return nil, err
	}
	groupName := stringProp(properties, "group_name", name)
	out, err := d.client.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:         awsv2.String(groupName),
		Description:       awsv2.String(stringProp(properties, "description", groupName)),
		VpcId:             awsv2.String(vpcID),
		TagSpecifications: tagSpec(ec2types.ResourceTypeSecurityGroup, name, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("security group: create %q: %w", name, err)
	}
	groupID := deref(out.GroupId)

	var open []int
	if ports, ok := properties["open_ports"].([]int); ok {
		open = ports
	}
	for _, port := range open {
		if _, err := d.client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId: awsv2.String(groupID),
			IpPermissions: []ec2types.IpPermission{{
				IpProtocol: awsv2.String("tcp"),
				FromPort:   awsv2.Int32(int32(port)),
				ToPort:     awsv2.Int32(int32(port)),
				IpRanges:   []ec2types.IpRange{{CidrIp: awsv2.String("0.0.0.0/0")}},
			}},
		}); err != nil {
			return nil, fmt.Errorf("security group: open port %d on %q: %w", port, name, err)
		}
	}

	return output(groupID, map[string]any{
		"group_id":   groupID,
		"group_name": groupName,
		"vpc_id":     vpcID,
	}), nil
}

func (d *SecurityGroupDriver) Read(ctx context.Context, name string) (*platform.ResourceOutput, error) {
	out, err := d.client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{Filters: resourceTagFilter(name)})
	if err != nil {
		return nil, fmt.Errorf("security group: describe %q: %w", name, err)
	}
	if len(out.SecurityGroups) == 0 {
		return nil, notFound(name)
	}
	sg := out.SecurityGroups[0]
	return output(deref(sg.GroupId), map[string]any{
		"group_id":   deref(sg.GroupId),
		"group_name": deref(sg.GroupName),
		"vpc_id":     deref(sg.VpcId),
	}), nil
}

// --- Security group ingress ---

// IngressDriver authorizes traffic from one security group into another.
type IngressDriver struct {
	client EC2Client
}

// NewIngressDriver creates a new ingress rule driver.
func NewIngressDriver(cfg awsv2.Config) *IngressDriver {
	return &IngressDriver{client: ec2.NewFromConfig(cfg)}
}

// NewIngressDriverWithClient creates an ingress rule driver with a custom
// client.
func NewIngressDriverWithClient(client EC2Client) *IngressDriver {
	return &IngressDriver{client: client}
}

func (d *IngressDriver) ResourceType() string { return platform.TypeSecurityGroupIngress }

func (d *IngressDriver) Create(ctx context.Context, name string, properties map[string]any) (*platform.ResourceOutput, error) {
	groupID, err := requireProp("ingress", name, properties, "group_id")
	if err != nil {
		return nil, err
	}
	sourceID, err := requireProp("ingress", name, properties, "source_group_id")
	if err != nil {
		return nil, err
	}
	port := int32(intProp(properties, "port", 0))
	if port <= 0 {
		return nil, fmt.Errorf("ingress: create %q: port is required", name)
	}
	out, err := d.client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId: awsv2.String(groupID),
		IpPermissions: []ec2types.IpPermission{{
			IpProtocol:       awsv2.String(stringProp(properties, "protocol", "tcp")),
			FromPort:         awsv2.Int32(port),
			ToPort:           awsv2.Int32(port),
			UserIdGroupPairs: []ec2types.UserIdGroupPair{{GroupId: awsv2.String(sourceID)}},
		}},
		TagSpecifications: tagSpec(ec2types.ResourceTypeSecurityGroupRule, name, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("ingress: authorize %q: %w", name, err)
	}
	ruleID := ""
	if len(out.SecurityGroupRules) > 0 {
		ruleID = deref(out.SecurityGroupRules[0].SecurityGroupRuleId)
	}
	return output(ruleID, map[string]any{
		"rule_id":         ruleID,
		"group_id":        groupID,
		"source_group_id": sourceID,
		"port":            int(port),
	}), nil
}

// --- VPC endpoint ---

// VPCEndpointDriver manages interface VPC endpoints. The dns_entries output
// lists "<hosted zone id>:<dns name>" pairs, comma separated, regional entry
// first.
type VPCEndpointDriver struct {
	client EC2Client
}

// NewVPCEndpointDriver creates a new VPC endpoint driver.
func NewVPCEndpointDriver(cfg awsv2.Config) *VPCEndpointDriver {
	return &VPCEndpointDriver{client: ec2.NewFromConfig(cfg)}
}

// NewVPCEndpointDriverWithClient creates a VPC endpoint driver with a custom
// client.
func NewVPCEndpointDriverWithClient(client EC2Client) *VPCEndpointDriver {
	return &VPCEndpointDriver{client: client}
}

func (d *VPCEndpointDriver) ResourceType() string { return platform.TypeVPCEndpoint }

func (d *VPCEndpointDriver) Create(ctx context.Context, name string, properties map[string]any) (*platform.ResourceOutput, error) {
	vpcID, err := requireProp("vpc endpoint", name, properties, "vpc_id")
	if err != nil {
		return nil, err
	}
	service, err := requireProp("vpc endpoint", name, properties, "service_name")
	if err != nil {
		return nil, err
	}
	out, err := d.client.CreateVpcEndpoint(ctx, &ec2.CreateVpcEndpointInput{
		VpcId:             awsv2.String(vpcID),
		ServiceName:       awsv2.String(service),
		VpcEndpointType:   ec2types.VpcEndpointType(stringProp(properties, "endpoint_type", string(ec2types.VpcEndpointTypeInterface))),
		SubnetIds:         stringSliceProp(properties, "subnet_ids"),
		SecurityGroupIds:  stringSliceProp(properties, "security_group_ids"),
		PrivateDnsEnabled: awsv2.Bool(boolProp(properties, "private_dns_enabled", false)),
		TagSpecifications: tagSpec(ec2types.ResourceTypeVpcEndpoint, name, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("vpc endpoint: create %q: %w", name, err)
	}
	if out.VpcEndpoint == nil {
		return nil, fmt.Errorf("vpc endpoint: create %q returned no endpoint", name)
	}
	entries := make([]string, 0, len(out.VpcEndpoint.DnsEntries))
	for _, e := range out.VpcEndpoint.DnsEntries {
		entries = append(entries, deref(e.HostedZoneId)+":"+deref(e.DnsName))
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("vpc endpoint: %q has no dns entries", name)
	}
	id := deref(out.VpcEndpoint.VpcEndpointId)
	return output(id, map[string]any{
		"vpc_endpoint_id": id,
		"service_name":    service,
		"dns_entries":     strings.Join(entries, ","),
	}), nil
}

var (
	_ platform.ResourceDriver = (*VPCDriver)(nil)
	_ platform.ResourceReader = (*VPCDriver)(nil)
	_ platform.ResourceDriver = (*SubnetDriver)(nil)
	_ platform.ResourceReader = (*SubnetDriver)(nil)
	_ platform.ResourceDriver = (*SecurityGroupDriver)(nil)
	_ platform.ResourceReader = (*SecurityGroupDriver)(nil)
	_ platform.ResourceDriver = (*IngressDriver)(nil)
	_ platform.ResourceDriver = (*VPCEndpointDriver)(nil)
)
