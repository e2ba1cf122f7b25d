package drivers

import (
	"context"
	"testing"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
)

type mockECRClient struct {
	input *ecr.CreateRepositoryInput
}

func (m *mockECRClient) CreateRepository(_ context.Context, params *ecr.CreateRepositoryInput, _ ...func(*ecr.Options)) (*ecr.CreateRepositoryOutput, error) {
	m.input = params
	return &ecr.CreateRepositoryOutput{Repository: &ecrtypes.Repository{
		RepositoryName: params.RepositoryName,
		RepositoryArn:  awsv2.String("arn:aws:ecr:us-east-1:123456789012:repository/" + *params.RepositoryName),
		RepositoryUri:  awsv2.String("123456789012.dkr.ecr.us-east-1.amazonaws.com/" + *params.RepositoryName),
	}}, nil
}

func TestECRDriver_Create(t *testing.T) {
	client := &mockECRClient{}
	out, err := NewECRDriverWithClient(client).Create(context.Background(), "accounts-repository", map[string]any{
		"repository_name": "accounts",
		"force_delete":    true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got, _ := out.Property("repository_uri"); got != "123456789012.dkr.ecr.us-east-1.amazonaws.com/accounts" {
		t.Errorf("repository_uri = %q", got)
	}
	if !client.input.ImageScanningConfiguration.ScanOnPush {
		t.Error("expected scan on push")
	}
	if _, err := NewECRDriverWithClient(client).Create(context.Background(), "r", map[string]any{}); err == nil {
		t.Error("expected error without repository_name")
	}
}
