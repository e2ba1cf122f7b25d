package drivers

import (
	"context"
	"fmt"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"

	"github.com/GoCodeAlone/topology/platform"
)

// ECRClient defines the ECR operations used by the driver.
type ECRClient interface {
	CreateRepository(ctx context.Context, params *ecr.CreateRepositoryInput, optFns ...func(*ecr.Options)) (*ecr.CreateRepositoryOutput, error)
}

// ECRDriver manages container image repositories.
type ECRDriver struct {
	client ECRClient
}

// NewECRDriver creates a new ECR driver.
func NewECRDriver(cfg awsv2.Config) *ECRDriver {
	return &ECRDriver{client: ecr.NewFromConfig(cfg)}
}

// NewECRDriverWithClient creates an ECR driver with a custom client.
func NewECRDriverWithClient(client ECRClient) *ECRDriver {
	return &ECRDriver{client: client}
}

func (d *ECRDriver) ResourceType() string { return platform.TypeImageRepository }

func (d *ECRDriver) Create(ctx context.Context, name string, properties map[string]any) (*platform.ResourceOutput, error) {
	repoName, err := requireProp("ecr", name, properties, "repository_name")
	if err != nil {
		return nil, err
	}
	out, err := d.client.CreateRepository(ctx, &ecr.CreateRepositoryInput{
		RepositoryName:             awsv2.String(repoName),
		ImageTagMutability:         ecrtypes.ImageTagMutabilityMutable,
		ImageScanningConfiguration: &ecrtypes.ImageScanningConfiguration{ScanOnPush: true},
		Tags:                       []ecrtypes.Tag{{Key: awsv2.String(ResourceTag), Value: awsv2.String(name)}},
	})
	if err != nil {
		return nil, fmt.Errorf("ecr: create %q: %w", name, err)
	}
	if out.Repository == nil {
		return nil, fmt.Errorf("ecr: create %q returned no repository", name)
	}
	arn := deref(out.Repository.RepositoryArn)
	return output(arn, map[string]any{
		"name":           deref(out.Repository.RepositoryName),
		"arn":            arn,
		"repository_uri": deref(out.Repository.RepositoryUri),
		"force_delete":   boolProp(properties, "force_delete", false),
	}), nil
}

var _ platform.ResourceDriver = (*ECRDriver)(nil)
