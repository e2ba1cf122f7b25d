package drivers

import (
	"context"
	"fmt"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codecommit"

	"github.com/GoCodeAlone/topology/platform"
)

// CodeCommitClient defines the CodeCommit operations used by the driver.
type CodeCommitClient interface {
	CreateRepository(ctx context.Context, params *codecommit.CreateRepositoryInput, optFns ...func(*codecommit.Options)) (*codecommit.CreateRepositoryOutput, error)
}

// CodeCommitDriver manages source repositories.
type CodeCommitDriver struct {
	client CodeCommitClient
}

// NewCodeCommitDriver creates a new CodeCommit driver.
func NewCodeCommitDriver(cfg awsv2.Config) *CodeCommitDriver {
	return &CodeCommitDriver{client: codecommit.NewFromConfig(cfg)}
}

// NewCodeCommitDriverWithClient creates a CodeCommit driver with a custom
// client.
func NewCodeCommitDriverWithClient(client CodeCommitClient) *CodeCommitDriver {
	return &CodeCommitDriver{client: client}
}

func (d *CodeCommitDriver) ResourceType() string { return platform.TypeSourceRepository }

func (d *CodeCommitDriver) Create(ctx context.Context, name string, properties map[string]any) (*platform.ResourceOutput, error) {
	repoName, err := requireProp("codecommit", name, properties, "repository_name")
	if err != nil {
		return nil, err
	}
	out, err := d.client.CreateRepository(ctx, &codecommit.CreateRepositoryInput{
		RepositoryName:        awsv2.String(repoName),
		RepositoryDescription: awsv2.String(stringProp(properties, "description", name)),
		Tags:                  map[string]string{ResourceTag: name},
	})
	if err != nil {
		return nil, fmt.Errorf("codecommit: create %q: %w", name, err)
	}
	meta := out.RepositoryMetadata
	if meta == nil {
		return nil, fmt.Errorf("codecommit: create %q returned no metadata", name)
	}
	arn := deref(meta.Arn)
	return output(arn, map[string]any{
		"name":           deref(meta.RepositoryName),
		"arn":            arn,
		"repository_id":  deref(meta.RepositoryId),
		"clone_url_http": deref(meta.CloneUrlHttp),
		"clone_url_ssh":  deref(meta.CloneUrlSsh),
	}), nil
}

var _ platform.ResourceDriver = (*CodeCommitDriver)(nil)
