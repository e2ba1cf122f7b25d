package drivers

import (
	"context"
	"fmt"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/GoCodeAlone/topology/platform"
)

// S3Client defines the S3 operations used by the bucket driver.
type S3Client interface {
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutBucketVersioning(ctx context.Context, params *s3.PutBucketVersioningInput, optFns ...func(*s3.Options)) (*s3.PutBucketVersioningOutput, error)
	PutPublicAccessBlock(ctx context.Context, params *s3.PutPublicAccessBlockInput, optFns ...func(*s3.Options)) (*s3.PutPublicAccessBlockOutput, error)
}

// S3BucketDriver manages private, versioned buckets such as pipeline
// artifact stores.
type S3BucketDriver struct {
	client S3Client
	region string
}

// NewS3BucketDriver creates a new bucket driver for cfg's region.
func NewS3BucketDriver(cfg awsv2.Config) *S3BucketDriver {
	return &S3BucketDriver{client: s3.NewFromConfig(cfg), region: cfg.Region}
}

// NewS3BucketDriverWithClient creates a bucket driver with a custom client.
func NewS3BucketDriverWithClient(client S3Client, region string) *S3BucketDriver {
	return &S3BucketDriver{client: client, region: region}
}

func (d *S3BucketDriver) ResourceType() string { return platform.TypeBucket }

func (d *S3BucketDriver) Create(ctx context.Context, name string, properties map[string]any) (*platform.ResourceOutput, error) {
	bucket, err := requireProp("s3", name, properties, "bucket_name")
	if err != nil {
		return nil, err
	}
	input := &s3.CreateBucketInput{Bucket: awsv2.String(bucket)}
	// us-east-1 rejects an explicit location constraint.
	if d.region != "" && d.region != "us-east-1" {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(d.region),
		}
	}
	out, err := d.client.CreateBucket(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("s3: create %q: %w", name, err)
	}
	if _, err := d.client.PutPublicAccessBlock(ctx, &s3.PutPublicAccessBlockInput{
		Bucket: awsv2.String(bucket),
		PublicAccessBlockConfiguration: &s3types.PublicAccessBlockConfiguration{
			BlockPublicAcls:       awsv2.Bool(true),
			BlockPublicPolicy:     awsv2.Bool(true),
			IgnorePublicAcls:      awsv2.Bool(true),
			RestrictPublicBuckets: awsv2.Bool(true),
		},
	}); err != nil {
		return nil, fmt.Errorf("s3: block public access on %q: %w", name, err)
	}
	if _, err := d.client.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
		Bucket: awsv2.String(bucket),
		VersioningConfiguration: &s3types.VersioningConfiguration{
			Status: s3types.BucketVersioningStatusEnabled,
		},
	}); err != nil {
		return nil, fmt.Errorf("s3: enable versioning on %q: %w", name, err)
	}

	props := map[string]any{
		"name":          bucket,
		"arn":           "arn:aws:s3:::" + bucket,
		"force_destroy": boolProp(properties, "force_destroy", false),
	}
	if out.Location != nil {
		props["location"] = *out.Location
	}
	return output(bucket, props), nil
}

var _ platform.ResourceDriver = (*S3BucketDriver)(nil)
