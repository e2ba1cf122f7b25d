package drivers

import (
	"context"
	"errors"
	"strings"
	"testing"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/GoCodeAlone/topology/platform"
)

// mockEC2Client returns canned responses and records which operations ran.
type mockEC2Client struct {
	calls []string

	createVpcFunc      func(ctx context.Context, params *ec2.CreateVpcInput, optFns ...func(*ec2.Options)) (*ec2.CreateVpcOutput, error)
	describeVpcsFunc   func(ctx context.Context, params *ec2.DescribeVpcsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error)
	describeIGWFunc    func(ctx context.Context, params *ec2.DescribeInternetGatewaysInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInternetGatewaysOutput, error)
	authorizeFunc      func(ctx context.Context, params *ec2.AuthorizeSecurityGroupIngressInput, optFns ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error)
	createEndpointFunc func(ctx context.Context, params *ec2.CreateVpcEndpointInput, optFns ...func(*ec2.Options)) (*ec2.CreateVpcEndpointOutput, error)
}

func (m *mockEC2Client) called(op string) { m.calls = append(m.calls, op) }

func (m *mockEC2Client) count(op string) int {
	n := 0
	for _, c := range m.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (m *mockEC2Client) CreateVpc(ctx context.Context, params *ec2.CreateVpcInput, optFns ...func(*ec2.Options)) (*ec2.CreateVpcOutput, error) {
	m.called("CreateVpc")
	if m.createVpcFunc != nil {
		return m.createVpcFunc(ctx, params, optFns...)
	}
	return &ec2.CreateVpcOutput{Vpc: &ec2types.Vpc{
		VpcId:     awsv2.String("vpc-12345"),
		CidrBlock: params.CidrBlock,
		State:     ec2types.VpcStateAvailable,
	}}, nil
}

func (m *mockEC2Client) ModifyVpcAttribute(context.Context, *ec2.ModifyVpcAttributeInput, ...func(*ec2.Options)) (*ec2.ModifyVpcAttributeOutput, error) {
	m.called("ModifyVpcAttribute")
	return &ec2.ModifyVpcAttributeOutput{}, nil
}

func (m *mockEC2Client) DescribeVpcs(ctx context.Context, params *ec2.DescribeVpcsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error) {
	m.called("DescribeVpcs")
	if m.describeVpcsFunc != nil {
		return m.describeVpcsFunc(ctx, params, optFns...)
	}
	return &ec2.DescribeVpcsOutput{}, nil
}

func (m *mockEC2Client) CreateInternetGateway(context.Context, *ec2.CreateInternetGatewayInput, ...func(*ec2.Options)) (*ec2.CreateInternetGatewayOutput, error) {
	m.called("CreateInternetGateway")
	return &ec2.CreateInternetGatewayOutput{InternetGateway: &ec2types.InternetGateway{InternetGatewayId: awsv2.String("igw-1")}}, nil
}

func (m *mockEC2Client) AttachInternetGateway(context.Context, *ec2.AttachInternetGatewayInput, ...func(*ec2.Options)) (*ec2.AttachInternetGatewayOutput, error) {
	m.called("AttachInternetGateway")
	return &ec2.AttachInternetGatewayOutput{}, nil
}

func (m *mockEC2Client) DescribeInternetGateways(ctx context.Context, params *ec2.DescribeInternetGatewaysInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInternetGatewaysOutput, error) {
	m.called("DescribeInternetGateways")
	if m.describeIGWFunc != nil {
		return m.describeIGWFunc(ctx, params, optFns...)
	}
	return &ec2.DescribeInternetGatewaysOutput{InternetGateways: []ec2types.InternetGateway{{InternetGatewayId: awsv2.String("igw-1")}}}, nil
}

func (m *mockEC2Client) CreateSubnet(_ context.Context, params *ec2.CreateSubnetInput, _ ...func(*ec2.Options)) (*ec2.CreateSubnetOutput, error) {
	m.called("CreateSubnet")
	return &ec2.CreateSubnetOutput{Subnet: &ec2types.Subnet{
		SubnetId:         awsv2.String("subnet-1"),
		VpcId:            params.VpcId,
		CidrBlock:        params.CidrBlock,
		AvailabilityZone: params.AvailabilityZone,
	}}, nil
}

func (m *mockEC2Client) ModifySubnetAttribute(context.Context, *ec2.ModifySubnetAttributeInput, ...func(*ec2.Options)) (*ec2.ModifySubnetAttributeOutput, error) {
	m.called("ModifySubnetAttribute")
	return &ec2.ModifySubnetAttributeOutput{}, nil
}

func (m *mockEC2Client) DescribeSubnets(context.Context, *ec2.DescribeSubnetsInput, ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error) {
	m.called("DescribeSubnets")
	return &ec2.DescribeSubnetsOutput{}, nil
}

func (m *mockEC2Client) CreateRouteTable(context.Context, *ec2.CreateRouteTableInput, ...func(*ec2.Options)) (*ec2.CreateRouteTableOutput, error) {
	m.called("CreateRouteTable")
	return &ec2.CreateRouteTableOutput{RouteTable: &ec2types.RouteTable{RouteTableId: awsv2.String("rtb-1")}}, nil
}

func (m *mockEC2Client) CreateRoute(context.Context, *ec2.CreateRouteInput, ...func(*ec2.Options)) (*ec2.CreateRouteOutput, error) {
	m.called("CreateRoute")
	return &ec2.CreateRouteOutput{}, nil
}

func (m *mockEC2Client) AssociateRouteTable(context.Context, *ec2.AssociateRouteTableInput, ...func(*ec2.Options)) (*ec2.AssociateRouteTableOutput, error) {
	m.called("AssociateRouteTable")
	return &ec2.AssociateRouteTableOutput{}, nil
}

func (m *mockEC2Client) CreateSecurityGroup(context.Context, *ec2.CreateSecurityGroupInput, ...func(*ec2.Options)) (*ec2.CreateSecurityGroupOutput, error) {
	m.called("CreateSecurityGroup")
	return &ec2.CreateSecurityGroupOutput{GroupId: awsv2.String("sg-1")}, nil
}

func (m *mockEC2Client) DescribeSecurityGroups(context.Context, *ec2.DescribeSecurityGroupsInput, ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error) {
	m.called("DescribeSecurityGroups")
	return &ec2.DescribeSecurityGroupsOutput{}, nil
}

func (m *mockEC2Client) AuthorizeSecurityGroupIngress(ctx context.Context, params *ec2.AuthorizeSecurityGroupIngressInput, optFns ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error) {
	m.called("AuthorizeSecurityGroupIngress")
	if m.authorizeFunc != nil {
		return m.authorizeFunc(ctx, params, optFns...)
	}
	return &ec2.AuthorizeSecurityGroupIngressOutput{
		Return:             awsv2.Bool(true),
		SecurityGroupRules: []ec2types.SecurityGroupRule{{SecurityGroupRuleId: awsv2.String("sgr-1")}},
	}, nil
}

func (m *mockEC2Client) CreateVpcEndpoint(ctx context.Context, params *ec2.CreateVpcEndpointInput, optFns ...func(*ec2.Options)) (*ec2.CreateVpcEndpointOutput, error) {
	m.called("CreateVpcEndpoint")
	if m.createEndpointFunc != nil {
		return m.createEndpointFunc(ctx, params, optFns...)
	}
	return &ec2.CreateVpcEndpointOutput{VpcEndpoint: &ec2types.VpcEndpoint{
		VpcEndpointId: awsv2.String("vpce-1"),
		DnsEntries: []ec2types.DnsEntry{
			{HostedZoneId: awsv2.String("Z7HUB22UULQXV"), DnsName: awsv2.String("vpce-1-abc.vpce-svc-1.us-east-1.vpce.amazonaws.com")},
			{HostedZoneId: awsv2.String("Z7HUB22UULQXV"), DnsName: awsv2.String("vpce-1-abc-us-east-1a.vpce-svc-1.us-east-1.vpce.amazonaws.com")},
		},
	}}, nil
}

func TestVPCDriver_Create(t *testing.T) {
	var tags []ec2types.TagSpecification
	client := &mockEC2Client{
		createVpcFunc: func(_ context.Context, params *ec2.CreateVpcInput, _ ...func(*ec2.Options)) (*ec2.CreateVpcOutput, error) {
			tags = params.TagSpecifications
			return &ec2.CreateVpcOutput{Vpc: &ec2types.Vpc{VpcId: awsv2.String("vpc-12345"), CidrBlock: params.CidrBlock}}, nil
		},
	}
	d := NewVPCDriverWithClient(client)
	if d.ResourceType() != platform.TypeVPC {
		t.Errorf("ResourceType() = %q", d.ResourceType())
	}
	out, err := d.Create(context.Background(), "bank-vpc", map[string]any{
		"cidr": "108.0.0.0/16",
		"tags": map[string]any{"MemberOf": "Platform"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if out.ID != "vpc-12345" {
		t.Errorf("ID = %q, want vpc-12345", out.ID)
	}
	if out.Properties["internet_gateway_id"] != "igw-1" {
		t.Errorf("internet_gateway_id = %v", out.Properties["internet_gateway_id"])
	}
	if client.count("ModifyVpcAttribute") != 2 || client.count("AttachInternetGateway") != 1 {
		t.Errorf("calls = %v", client.calls)
	}
	if len(tags) != 1 || len(tags[0].Tags) != 3 || deref(tags[0].Tags[1].Key) != ResourceTag {
		t.Errorf("tags = %+v", tags)
	}
}

func TestVPCDriver_CreateRequiresCIDR(t *testing.T) {
	d := NewVPCDriverWithClient(&mockEC2Client{})
	if _, err := d.Create(context.Background(), "bank-vpc", nil); err == nil {
		t.Fatal("expected error without cidr")
	}
}

func TestVPCDriver_Read(t *testing.T) {
	client := &mockEC2Client{}
	d := NewVPCDriverWithClient(client)
	_, err := d.Read(context.Background(), "bank-vpc")
	var notFound *platform.ResourceNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("Read error = %v, want ResourceNotFoundError", err)
	}

	client.describeVpcsFunc = func(_ context.Context, params *ec2.DescribeVpcsInput, _ ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error) {
		if got := deref(params.Filters[0].Name); got != "tag:"+ResourceTag {
			t.Errorf("filter = %q", got)
		}
		return &ec2.DescribeVpcsOutput{Vpcs: []ec2types.Vpc{{VpcId: awsv2.String("vpc-9"), State: ec2types.VpcStatePending}}}, nil
	}
	out, err := d.Read(context.Background(), "bank-vpc")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if out.ID != "vpc-9" || out.Status != platform.ResourceStatusCreating {
		t.Errorf("Read = %+v", out)
	}
}

func TestSubnetDriver_PublicSubnetRoutes(t *testing.T) {
	client := &mockEC2Client{}
	d := NewSubnetDriverWithClient(client)
	out, err := d.Create(context.Background(), "bank-ingress-0", map[string]any{
		"vpc_id":            "vpc-12345",
		"cidr":              "108.0.0.0/24",
		"availability_zone": "us-east-1a",
		"tier":              "ingress",
		"public":            true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if out.ID != "subnet-1" || out.Properties["availability_zone"] != "us-east-1a" {
		t.Errorf("Create = %+v", out)
	}
	for _, op := range []string{"ModifySubnetAttribute", "CreateRouteTable", "CreateRoute", "AssociateRouteTable"} {
		if client.count(op) != 1 {
			t.Errorf("%s calls = %d, want 1", op, client.count(op))
		}
	}

	private := &mockEC2Client{}
	if _, err := NewSubnetDriverWithClient(private).Create(context.Background(), "bank-data-0", map[string]any{
		"vpc_id": "vpc-12345",
		"cidr":   "108.0.4.0/24",
	}); err != nil {
		t.Fatalf("Create private: %v", err)
	}
	if private.count("CreateRouteTable") != 0 {
		t.Error("private subnet got a public route table")
	}
}

func TestSubnetDriver_PublicWithoutGateway(t *testing.T) {
	client := &mockEC2Client{
		describeIGWFunc: func(context.Context, *ec2.DescribeInternetGatewaysInput, ...func(*ec2.Options)) (*ec2.DescribeInternetGatewaysOutput, error) {
			return &ec2.DescribeInternetGatewaysOutput{}, nil
		},
	}
	_, err := NewSubnetDriverWithClient(client).Create(context.Background(), "s", map[string]any{
		"vpc_id": "vpc-1", "cidr": "10.0.0.0/24", "public": true,
	})
	if err == nil || !strings.Contains(err.Error(), "no internet gateway") {
		t.Fatalf("error = %v, want missing gateway", err)
	}
}

func TestSecurityGroupDriver_OpenPorts(t *testing.T) {
	var perms []ec2types.IpPermission
	client := &mockEC2Client{
		authorizeFunc: func(_ context.Context, params *ec2.AuthorizeSecurityGroupIngressInput, _ ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error) {
			perms = append(perms, params.IpPermissions...)
			return &ec2.AuthorizeSecurityGroupIngressOutput{}, nil
		},
	}
	out, err := NewSecurityGroupDriverWithClient(client).Create(context.Background(), "bank-alb-sg", map[string]any{
		"group_name": "bank-alb",
		"vpc_id":     "vpc-12345",
		"open_ports": []int{80},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got, _ := out.Property("group_id"); got != "sg-1" {
		t.Errorf("group_id = %q, want sg-1", got)
	}
	if len(perms) != 1 || *perms[0].FromPort != 80 || deref(perms[0].IpRanges[0].CidrIp) != "0.0.0.0/0" {
		t.Errorf("permissions = %+v", perms)
	}
}

func TestIngressDriver_Create(t *testing.T) {
	var input *ec2.AuthorizeSecurityGroupIngressInput
	client := &mockEC2Client{}
	client.authorizeFunc = func(_ context.Context, params *ec2.AuthorizeSecurityGroupIngressInput, _ ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error) {
		input = params
		return &ec2.AuthorizeSecurityGroupIngressOutput{
			SecurityGroupRules: []ec2types.SecurityGroupRule{{SecurityGroupRuleId: awsv2.String("sgr-7")}},
		}, nil
	}
	d := NewIngressDriverWithClient(client)
	out, err := d.Create(context.Background(), "ledger-db-sg-from-accounts-sg-5432", map[string]any{
		"group_id":        "sg-db",
		"source_group_id": "sg-svc",
		"protocol":        "tcp",
		"port":            5432,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if out.ID != "sgr-7" {
		t.Errorf("ID = %q, want sgr-7", out.ID)
	}
	perm := input.IpPermissions[0]
	if *perm.FromPort != 5432 || deref(perm.UserIdGroupPairs[0].GroupId) != "sg-svc" || deref(input.GroupId) != "sg-db" {
		t.Errorf("permission = %+v", perm)
	}

	if _, err := d.Create(context.Background(), "x", map[string]any{"group_id": "a", "source_group_id": "b"}); err == nil {
		t.Error("expected error without port")
	}
}

func TestVPCEndpointDriver_DNSEntries(t *testing.T) {
	out, err := NewVPCEndpointDriverWithClient(&mockEC2Client{}).Create(context.Background(), "payments-endpoint", map[string]any{
		"vpc_id":       "vpc-12345",
		"service_name": "com.amazonaws.vpce.us-east-1.vpce-svc-1",
		"subnet_ids":   []string{"subnet-1", "subnet-2"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	entries, _ := out.Property("dns_entries")
	first, _, _ := strings.Cut(entries, ",")
	if first != "Z7HUB22UULQXV:vpce-1-abc.vpce-svc-1.us-east-1.vpce.amazonaws.com" {
		t.Errorf("first dns entry = %q", first)
	}

	empty := &mockEC2Client{
		createEndpointFunc: func(context.Context, *ec2.CreateVpcEndpointInput, ...func(*ec2.Options)) (*ec2.CreateVpcEndpointOutput, error) {
			return &ec2.CreateVpcEndpointOutput{VpcEndpoint: &ec2types.VpcEndpoint{VpcEndpointId: awsv2.String("vpce-2")}}, nil
		},
	}
	if _, err := NewVPCEndpointDriverWithClient(empty).Create(context.Background(), "e", map[string]any{
		"vpc_id": "vpc-1", "service_name": "svc",
	}); err == nil {
		t.Error("expected error when the endpoint reports no dns entries")
	}
}
