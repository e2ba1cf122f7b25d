package secrets

import (
	"context"
	"errors"
	"fmt"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// SecretsManagerClient defines the Secrets Manager operations used by the
// provider.
type SecretsManagerClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretsManagerProvider reads secrets from AWS Secrets Manager. Keys are
// secret names or ARNs, optionally followed by "#field" to select one field
// of a JSON secret such as an RDS managed master credential.
type AWSSecretsManagerProvider struct {
	client SecretsManagerClient
}

// NewAWSSecretsManagerProvider creates a provider from a loaded AWS config.
func NewAWSSecretsManagerProvider(cfg awsv2.Config) *AWSSecretsManagerProvider {
	return &AWSSecretsManagerProvider{client: secretsmanager.NewFromConfig(cfg)}
}

// NewAWSSecretsManagerProviderWithClient creates a provider with a custom
// client.
func NewAWSSecretsManagerProviderWithClient(client SecretsManagerClient) *AWSSecretsManagerProvider {
	return &AWSSecretsManagerProvider{client: client}
}

func (p *AWSSecretsManagerProvider) Name() string { return "aws-sm" }

func (p *AWSSecretsManagerProvider) Get(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}
	secretID, field := SplitKey(key)
	out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: awsv2.String(secretID),
	})
	if err != nil {
		var nf *smtypes.ResourceNotFoundException
		if errors.As(err, &nf) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, secretID)
		}
		return "", fmt.Errorf("secrets: get %s: %w", secretID, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("%w: %s has no string value", ErrNotFound, secretID)
	}
	return Field(*out.SecretString, field, secretID)
}

var _ Provider = (*AWSSecretsManagerProvider)(nil)
