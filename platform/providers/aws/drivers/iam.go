package drivers

import (
	"context"
	"encoding/json"
	"fmt"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"

	"github.com/GoCodeAlone/topology/platform"
)

// inlinePolicyName is the name of the single inline policy a role carries.
const inlinePolicyName = "topology-inline"

// IAMClient defines the IAM operations used by the role driver.
type IAMClient interface {
	CreateRole(ctx context.Context, params *iam.CreateRoleInput, optFns ...func(*iam.Options)) (*iam.CreateRoleOutput, error)
	AttachRolePolicy(ctx context.Context, params *iam.AttachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error)
	PutRolePolicy(ctx context.Context, params *iam.PutRolePolicyInput, optFns ...func(*iam.Options)) (*iam.PutRolePolicyOutput, error)
}

// IAMDriver manages service roles: a trust policy for one AWS service,
// attached managed policies and an optional inline policy.
type IAMDriver struct {
	client IAMClient
}

// NewIAMDriver creates a new IAM driver.
func NewIAMDriver(cfg awsv2.Config) *IAMDriver {
	return &IAMDriver{client: iam.NewFromConfig(cfg)}
}

// NewIAMDriverWithClient creates an IAM driver with a custom client.
func NewIAMDriverWithClient(client IAMClient) *IAMDriver {
	return &IAMDriver{client: client}
}

func (d *IAMDriver) ResourceType() string { return platform.TypeRole }

func (d *IAMDriver) Create(ctx context.Context, name string, properties map[string]any) (*platform.ResourceOutput, error) {
	roleName, err := requireProp("iam", name, properties, "role_name")
	if err != nil {
		return nil, err
	}
	service, err := requireProp("iam", name, properties, "assume_service")
	if err != nil {
		return nil, err
	}

	out, err := d.client.CreateRole(ctx, &iam.CreateRoleInput{
		RoleName:                 awsv2.String(roleName),
		AssumeRolePolicyDocument: awsv2.String(assumeRolePolicy(service)),
		Description:              awsv2.String(name),
		Tags:                     []iamtypes.Tag{{Key: awsv2.String(ResourceTag), Value: awsv2.String(name)}},
	})
	if err != nil {
		return nil, fmt.Errorf("iam: create role %q: %w", name, err)
	}

	policies := stringSliceProp(properties, "managed_policies")
	for _, arn := range policies {
		if _, err := d.client.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
			RoleName:  awsv2.String(roleName),
			PolicyArn: awsv2.String(arn),
		}); err != nil {
			return nil, fmt.Errorf("iam: attach %s to role %q: %w", arn, name, err)
		}
	}

	if inline := mapProp(properties, "inline_policy"); inline != nil {
		doc, err := permissionPolicy(stringSliceProp(inline, "actions"), stringSliceProp(inline, "resources"))
		if err != nil {
			return nil, fmt.Errorf("iam: role %q: %w", name, err)
		}
		if _, err := d.client.PutRolePolicy(ctx, &iam.PutRolePolicyInput{
			RoleName:       awsv2.String(roleName),
			PolicyName:     awsv2.String(inlinePolicyName),
			PolicyDocument: awsv2.String(doc),
		}); err != nil {
			return nil, fmt.Errorf("iam: put inline policy on role %q: %w", name, err)
		}
	}

	props := map[string]any{"name": roleName, "managed_policies": policies}
	if out.Role != nil {
		props["arn"] = deref(out.Role.Arn)
		props["role_id"] = deref(out.Role.RoleId)
	}
	return output(roleName, props), nil
}

type policyStatement struct {
	Effect    string         `json:"Effect"`
	Principal map[string]any `json:"Principal,omitempty"`
	Action    any            `json:"Action"`
	Resource  any            `json:"Resource,omitempty"`
}

type policyDocument struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

func assumeRolePolicy(service string) string {
	data, _ := json.Marshal(policyDocument{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Effect:    "Allow",
			Principal: map[string]any{"Service": service},
			Action:    "sts:AssumeRole",
		}},
	})
	return string(data)
}

func permissionPolicy(actions, resources []string) (string, error) {
	if len(actions) == 0 {
		return "", fmt.Errorf("inline policy has no actions")
	}
	if len(resources) == 0 {
		resources = []string{"*"}
	}
	data, err := json.Marshal(policyDocument{
		Version:   "2012-10-17",
		Statement: []policyStatement{{Effect: "Allow", Action: actions, Resource: resources}},
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

var _ platform.ResourceDriver = (*IAMDriver)(nil)
