package drivers

import (
	"context"
	"testing"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codebuild"
	cbtypes "github.com/aws/aws-sdk-go-v2/service/codebuild/types"
)

type mockCodeBuildClient struct {
	input *codebuild.CreateProjectInput
}

func (m *mockCodeBuildClient) CreateProject(_ context.Context, params *codebuild.CreateProjectInput, _ ...func(*codebuild.Options)) (*codebuild.CreateProjectOutput, error) {
	m.input = params
	return &codebuild.CreateProjectOutput{Project: &cbtypes.Project{
		Name: params.Name,
		Arn:  awsv2.String("arn:aws:codebuild:us-east-1:123456789012:project/" + *params.Name),
	}}, nil
}

func TestCodeBuildDriver_Create(t *testing.T) {
	client := &mockCodeBuildClient{}
	out, err := NewCodeBuildDriverWithClient(client).Create(context.Background(), "accounts-ci-build", map[string]any{
		"project_name":     "accounts-build",
		"buildspec":        "version: 0.2",
		"image":            "aws/codebuild/standard:7.0",
		"compute_type":     "BUILD_GENERAL1_SMALL",
		"privileged":       true,
		"service_role_arn": "arn:aws:iam::123456789012:role/accounts-ci-build",
		"environment": map[string]string{
			"REPOSITORY_URI": "123456789012.dkr.ecr.us-east-1.amazonaws.com/accounts",
			"CONTAINER_NAME": "ServiceContainer",
		},
		"vpc_id":             "vpc-1",
		"subnet_ids":         []string{"subnet-a", "subnet-b"},
		"security_group_ids": []string{"sg-build"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got, _ := out.Property("name"); got != "accounts-build" {
		t.Errorf("name = %q", got)
	}
	in := client.input
	if in.Source.Type != cbtypes.SourceTypeCodepipeline || in.Artifacts.Type != cbtypes.ArtifactsTypeCodepipeline {
		t.Errorf("source/artifacts = %v/%v", in.Source.Type, in.Artifacts.Type)
	}
	vars := in.Environment.EnvironmentVariables
	if len(vars) != 2 || *vars[0].Name != "CONTAINER_NAME" {
		t.Errorf("environment variables = %+v, want sorted pair", vars)
	}
	if in.VpcConfig == nil || len(in.VpcConfig.Subnets) != 2 {
		t.Errorf("VpcConfig = %+v", in.VpcConfig)
	}
	if !*in.Environment.PrivilegedMode {
		t.Error("expected privileged mode")
	}
}

func TestCodeBuildDriver_RequiresRole(t *testing.T) {
	if _, err := NewCodeBuildDriverWithClient(&mockCodeBuildClient{}).Create(context.Background(), "b", map[string]any{
		"project_name": "b",
	}); err == nil {
		t.Fatal("expected error without service_role_arn")
	}
}
