package drivers

import (
	"context"
	"fmt"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline"
	cptypes "github.com/aws/aws-sdk-go-v2/service/codepipeline/types"

	"github.com/GoCodeAlone/topology/platform"
)

// CodePipelineClient defines the CodePipeline operations used by the driver.
type CodePipelineClient interface {
	CreatePipeline(ctx context.Context, params *codepipeline.CreatePipelineInput, optFns ...func(*codepipeline.Options)) (*codepipeline.CreatePipelineOutput, error)
}

// CodePipelineDriver manages delivery pipelines. Each stage holds exactly one
// AWS-owned action named after the stage.
type CodePipelineDriver struct {
	client CodePipelineClient
}

// NewCodePipelineDriver creates a new CodePipeline driver.
func NewCodePipelineDriver(cfg awsv2.Config) *CodePipelineDriver {
	return &CodePipelineDriver{client: codepipeline.NewFromConfig(cfg)}
}

// NewCodePipelineDriverWithClient creates a CodePipeline driver with a
// custom client.
func NewCodePipelineDriverWithClient(client CodePipelineClient) *CodePipelineDriver {
	return &CodePipelineDriver{client: client}
}

func (d *CodePipelineDriver) ResourceType() string { return platform.TypePipeline }

func (d *CodePipelineDriver) Create(ctx context.Context, name string, properties map[string]any) (*platform.ResourceOutput, error) {
	pipelineName, err := requireProp("codepipeline", name, properties, "pipeline_name")
	if err != nil {
		return nil, err
	}
	role, err := requireProp("codepipeline", name, properties, "role_arn")
	if err != nil {
		return nil, err
	}
	bucket, err := requireProp("codepipeline", name, properties, "artifact_bucket")
	if err != nil {
		return nil, err
	}
	specs, _ := properties["stages"].([]map[string]any)
	if len(specs) < 2 {
		return nil, fmt.Errorf("codepipeline: create %q: at least two stages are required, got %d", name, len(specs))
	}

	stages := make([]cptypes.StageDeclaration, 0, len(specs))
	for _, spec := range specs {
		stages = append(stages, stageDeclaration(spec))
	}

	out, err := d.client.CreatePipeline(ctx, &codepipeline.CreatePipelineInput{
		Pipeline: &cptypes.PipelineDeclaration{
			Name:    awsv2.String(pipelineName),
			RoleArn: awsv2.String(role),
			ArtifactStore: &cptypes.ArtifactStore{
				Type:     cptypes.ArtifactStoreTypeS3,
				Location: awsv2.String(bucket),
			},
			Stages: stages,
		},
		Tags: []cptypes.Tag{{Key: awsv2.String(ResourceTag), Value: awsv2.String(name)}},
	})
	if err != nil {
		return nil, fmt.Errorf("codepipeline: create %q: %w", name, err)
	}

	props := map[string]any{
		"name":              pipelineName,
		"stages":            len(stages),
		"restart_on_update": boolProp(properties, "restart_on_update", false),
	}
	if out.Pipeline != nil && out.Pipeline.Version != nil {
		props["version"] = int(*out.Pipeline.Version)
	}
	return output(pipelineName, props), nil
}

func stageDeclaration(spec map[string]any) cptypes.StageDeclaration {
	stage := stringProp(spec, "name", "")
	_, config := stringMapProp(spec, "configuration")
	action := cptypes.ActionDeclaration{
		Name: awsv2.String(stage),
		ActionTypeId: &cptypes.ActionTypeId{
			Category: cptypes.ActionCategory(stringProp(spec, "category", stage)),
			Owner:    cptypes.ActionOwnerAws,
			Provider: awsv2.String(stringProp(spec, "provider", "")),
			Version:  awsv2.String("1"),
		},
		Configuration: config,
		RunOrder:      awsv2.Int32(1),
	}
	for _, in := range stringSliceProp(spec, "inputs") {
		action.InputArtifacts = append(action.InputArtifacts, cptypes.InputArtifact{Name: awsv2.String(in)})
	}
	for _, o := range stringSliceProp(spec, "outputs") {
		action.OutputArtifacts = append(action.OutputArtifacts, cptypes.OutputArtifact{Name: awsv2.String(o)})
	}
	return cptypes.StageDeclaration{
		Name:    awsv2.String(stage),
		Actions: []cptypes.ActionDeclaration{action},
	}
}

var _ platform.ResourceDriver = (*CodePipelineDriver)(nil)
