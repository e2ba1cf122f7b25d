// Package aws implements platform.Provider with drivers that call the AWS
// APIs through aws-sdk-go-v2.
package aws

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/GoCodeAlone/topology/platform"
	"github.com/GoCodeAlone/topology/platform/providers/aws/drivers"
)

// ProviderName identifies the provider.
const ProviderName = drivers.ProviderName

// Config selects the region and credentials the provider uses. Empty fields
// fall back to the SDK's default chain.
type Config struct {
	Region          string `json:"region,omitempty" yaml:"region,omitempty"`
	Profile         string `json:"profile,omitempty" yaml:"profile,omitempty"`
	AccessKeyID     string `json:"accessKeyId,omitempty" yaml:"accessKeyId,omitempty"`
	SecretAccessKey string `json:"secretAccessKey,omitempty" yaml:"secretAccessKey,omitempty"`
	SessionToken    string `json:"sessionToken,omitempty" yaml:"sessionToken,omitempty"`
}

// LoadConfig builds an SDK config from c.
func LoadConfig(ctx context.Context, c Config) (awsv2.Config, error) {
	var opts []func(*awscfg.LoadOptions) error
	if c.Region != "" {
		opts = append(opts, awscfg.WithRegion(c.Region))
	}
	if c.Profile != "" {
		opts = append(opts, awscfg.WithSharedConfigProfile(c.Profile))
	}
	if c.AccessKeyID != "" && c.SecretAccessKey != "" {
		opts = append(opts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, c.SessionToken),
		))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return awsv2.Config{}, fmt.Errorf("aws: load config: %w", err)
	}
	if cfg.Region == "" {
		return awsv2.Config{}, fmt.Errorf("aws: no region configured")
	}
	return cfg, nil
}

// STSClient defines the STS operation used to identify the account.
type STSClient interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Option configures a Provider.
type Option func(*options)

type options struct {
	sts    STSClient
	logger *slog.Logger
}

// WithSTSClient replaces the STS client used to identify the account.
func WithSTSClient(c STSClient) Option {
	return func(o *options) { o.sts = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Provider is the set of AWS resource drivers for one account and region.
type Provider struct {
	region  string
	account string
	drivers map[string]platform.ResourceDriver
}

var _ platform.Provider = (*Provider)(nil)

// New verifies the credentials in cfg and registers a driver for every
// resource type the composition emits.
func New(ctx context.Context, cfg awsv2.Config, opts ...Option) (*Provider, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.sts == nil {
		o.sts = sts.NewFromConfig(cfg)
	}
	id, err := o.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("aws: get caller identity: %w", err)
	}
	account := awsv2.ToString(id.Account)
	o.logger.Info("aws provider ready", "account", account, "region", cfg.Region, "arn", awsv2.ToString(id.Arn))
	return NewWithDrivers(cfg.Region, account, defaultDrivers(cfg)...), nil
}

// NewWithDrivers creates a Provider from an explicit driver list. Later
// drivers replace earlier ones of the same type.
func NewWithDrivers(region, account string, ds ...platform.ResourceDriver) *Provider {
	p := &Provider{
		region:  region,
		account: account,
		drivers: make(map[string]platform.ResourceDriver, len(ds)),
	}
	for _, d := range ds {
		p.drivers[d.ResourceType()] = d
	}
	return p
}

func defaultDrivers(cfg awsv2.Config) []platform.ResourceDriver {
	return []platform.ResourceDriver{
		drivers.NewVPCDriver(cfg),
		drivers.NewSubnetDriver(cfg),
		drivers.NewSecurityGroupDriver(cfg),
		drivers.NewIngressDriver(cfg),
		drivers.NewVPCEndpointDriver(cfg),
		drivers.NewECSClusterDriver(cfg),
		drivers.NewECSTaskDefinitionDriver(cfg),
		drivers.NewECSServiceDriver(cfg),
		drivers.NewALBDriver(cfg),
		drivers.NewListenerDriver(cfg),
		drivers.NewTargetGroupDriver(cfg),
		drivers.NewListenerRuleDriver(cfg),
		drivers.NewHostedZoneDriver(cfg),
		drivers.NewRecordDriver(cfg),
		drivers.NewECRDriver(cfg),
		drivers.NewLogGroupDriver(cfg),
		drivers.NewIAMDriver(cfg),
		drivers.NewDBSubnetGroupDriver(cfg),
		drivers.NewRDSDriver(cfg),
		drivers.NewCodeCommitDriver(cfg),
		drivers.NewS3BucketDriver(cfg),
		drivers.NewCodeBuildDriver(cfg),
		drivers.NewCodePipelineDriver(cfg),
	}
}

func (p *Provider) Name() string { return ProviderName }

// Region returns the region the drivers operate in.
func (p *Provider) Region() string { return p.region }

// Account returns the account the credentials belong to.
func (p *Provider) Account() string { return p.account }

func (p *Provider) ResourceDriver(resourceType string) (platform.ResourceDriver, error) {
	d, ok := p.drivers[resourceType]
	if !ok {
		return nil, &platform.ResourceDriverNotFoundError{ResourceType: resourceType, Provider: ProviderName}
	}
	return d, nil
}

// ResourceTypes lists the registered resource types in sorted order.
func (p *Provider) ResourceTypes() []string {
	types := make([]string, 0, len(p.drivers))
	for t := range p.drivers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
