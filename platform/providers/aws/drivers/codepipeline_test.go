package drivers

import (
	"context"
	"testing"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline"
	cptypes "github.com/aws/aws-sdk-go-v2/service/codepipeline/types"
)

type mockCodePipelineClient struct {
	input *codepipeline.CreatePipelineInput
}

func (m *mockCodePipelineClient) CreatePipeline(_ context.Context, params *codepipeline.CreatePipelineInput, _ ...func(*codepipeline.Options)) (*codepipeline.CreatePipelineOutput, error) {
	m.input = params
	decl := *params.Pipeline
	decl.Version = awsv2.Int32(1)
	return &codepipeline.CreatePipelineOutput{Pipeline: &decl}, nil
}

func testStages() []map[string]any {
	return []map[string]any{
		{
			"name":          "Source",
			"category":      "Source",
			"provider":      "CodeCommit",
			"outputs":       []string{"SourceArtifact"},
			"configuration": map[string]any{"RepositoryName": "accounts", "BranchName": "main"},
		},
		{
			"name":          "Build",
			"category":      "Build",
			"provider":      "CodeBuild",
			"inputs":        []string{"SourceArtifact"},
			"outputs":       []string{"BuildArtifact"},
			"configuration": map[string]any{"ProjectName": "accounts-build"},
		},
	}
}

func TestCodePipelineDriver_Create(t *testing.T) {
	client := &mockCodePipelineClient{}
	out, err := NewCodePipelineDriverWithClient(client).Create(context.Background(), "accounts-ci-pipeline", map[string]any{
		"pipeline_name":     "accounts-pipeline",
		"role_arn":          "arn:aws:iam::123456789012:role/accounts-ci-pipeline",
		"artifact_bucket":   "bank-accounts-ci-artifacts",
		"restart_on_update": true,
		"stages":            testStages(),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got, _ := out.Property("version"); got != "1" {
		t.Errorf("version = %q", got)
	}
	stages := client.input.Pipeline.Stages
	if len(stages) != 2 {
		t.Fatalf("stages = %d, want 2", len(stages))
	}
	build := stages[1].Actions[0]
	if build.ActionTypeId.Category != cptypes.ActionCategoryBuild || build.ActionTypeId.Owner != cptypes.ActionOwnerAws {
		t.Errorf("build action type = %+v", build.ActionTypeId)
	}
	if *build.InputArtifacts[0].Name != "SourceArtifact" || build.Configuration["ProjectName"] != "accounts-build" {
		t.Errorf("build action = %+v", build)
	}
	if client.input.Pipeline.ArtifactStore.Type != cptypes.ArtifactStoreTypeS3 {
		t.Errorf("artifact store = %+v", client.input.Pipeline.ArtifactStore)
	}
}

func TestCodePipelineDriver_RequiresStages(t *testing.T) {
	_, err := NewCodePipelineDriverWithClient(&mockCodePipelineClient{}).Create(context.Background(), "p", map[string]any{
		"pipeline_name":   "p",
		"role_arn":        "arn:aws:iam::123456789012:role/p",
		"artifact_bucket": "b",
		"stages":          testStages()[:1],
	})
	if err == nil {
		t.Fatal("expected error for a single stage")
	}
}
