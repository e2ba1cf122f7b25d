package drivers

import (
	"context"
	"fmt"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codebuild"
	cbtypes "github.com/aws/aws-sdk-go-v2/service/codebuild/types"

	"github.com/GoCodeAlone/topology/platform"
)

// CodeBuildClient defines the CodeBuild operations used by the driver.
type CodeBuildClient interface {
	CreateProject(ctx context.Context, params *codebuild.CreateProjectInput, optFns ...func(*codebuild.Options)) (*codebuild.CreateProjectOutput, error)
}

// CodeBuildDriver manages build projects driven by a pipeline. Source and
// artifacts are both CODEPIPELINE.
type CodeBuildDriver struct {
	client CodeBuildClient
}

// NewCodeBuildDriver creates a new CodeBuild driver.
func NewCodeBuildDriver(cfg awsv2.Config) *CodeBuildDriver {
	return &CodeBuildDriver{client: codebuild.NewFromConfig(cfg)}
}

// NewCodeBuildDriverWithClient creates a CodeBuild driver with a custom
// client.
func NewCodeBuildDriverWithClient(client CodeBuildClient) *CodeBuildDriver {
	return &CodeBuildDriver{client: client}
}

func (d *CodeBuildDriver) ResourceType() string { return platform.TypeBuildProject }

func (d *CodeBuildDriver) Create(ctx context.Context, name string, properties map[string]any) (*platform.ResourceOutput, error) {
	project, err := requireProp("codebuild", name, properties, "project_name")
	if err != nil {
		return nil, err
	}
	role, err := requireProp("codebuild", name, properties, "service_role_arn")
	if err != nil {
		return nil, err
	}

	keys, env := stringMapProp(properties, "environment")
	vars := make([]cbtypes.EnvironmentVariable, 0, len(keys))
	for _, k := range keys {
		vars = append(vars, cbtypes.EnvironmentVariable{
			Name:  awsv2.String(k),
			Value: awsv2.String(env[k]),
			Type:  cbtypes.EnvironmentVariableTypePlaintext,
		})
	}

	input := &codebuild.CreateProjectInput{
		Name:        awsv2.String(project),
		ServiceRole: awsv2.String(role),
		Source: &cbtypes.ProjectSource{
			Type:      cbtypes.SourceTypeCodepipeline,
			Buildspec: awsv2.String(stringProp(properties, "buildspec", "")),
		},
		Artifacts: &cbtypes.ProjectArtifacts{Type: cbtypes.ArtifactsTypeCodepipeline},
		Environment: &cbtypes.ProjectEnvironment{
			Type:                 cbtypes.EnvironmentTypeLinuxContainer,
			Image:                awsv2.String(stringProp(properties, "image", "aws/codebuild/standard:7.0")),
			ComputeType:          cbtypes.ComputeType(stringProp(properties, "compute_type", string(cbtypes.ComputeTypeBuildGeneral1Small))),
			PrivilegedMode:       awsv2.Bool(boolProp(properties, "privileged", false)),
			EnvironmentVariables: vars,
		},
		Tags: []cbtypes.Tag{{Key: awsv2.String(ResourceTag), Value: awsv2.String(name)}},
	}
	if vpc := stringProp(properties, "vpc_id", ""); vpc != "" {
		input.VpcConfig = &cbtypes.VpcConfig{
			VpcId:            awsv2.String(vpc),
			Subnets:          stringSliceProp(properties, "subnet_ids"),
			SecurityGroupIds: stringSliceProp(properties, "security_group_ids"),
		}
	}

	out, err := d.client.CreateProject(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("codebuild: create %q: %w", name, err)
	}
	if out.Project == nil {
		return nil, fmt.Errorf("codebuild: create %q returned no project", name)
	}
	arn := deref(out.Project.Arn)
	return output(arn, map[string]any{
		"name": deref(out.Project.Name),
		"arn":  arn,
	}), nil
}

var _ platform.ResourceDriver = (*CodeBuildDriver)(nil)
