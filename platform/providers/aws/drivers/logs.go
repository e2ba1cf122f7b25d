package drivers

import (
	"context"
	"fmt"
	"strings"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"

	"github.com/GoCodeAlone/topology/platform"
)

// LogsClient defines the CloudWatch Logs operations used by the driver.
type LogsClient interface {
	CreateLogGroup(ctx context.Context, params *cloudwatchlogs.CreateLogGroupInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error)
	PutRetentionPolicy(ctx context.Context, params *cloudwatchlogs.PutRetentionPolicyInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutRetentionPolicyOutput, error)
	DescribeLogGroups(ctx context.Context, params *cloudwatchlogs.DescribeLogGroupsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogGroupsOutput, error)
}

// LogGroupDriver manages CloudWatch log groups.
type LogGroupDriver struct {
	client LogsClient
}

// NewLogGroupDriver creates a new log group driver.
func NewLogGroupDriver(cfg awsv2.Config) *LogGroupDriver {
	return &LogGroupDriver{client: cloudwatchlogs.NewFromConfig(cfg)}
}

// NewLogGroupDriverWithClient creates a log group driver with a custom
// client.
func NewLogGroupDriverWithClient(client LogsClient) *LogGroupDriver {
	return &LogGroupDriver{client: client}
}

func (d *LogGroupDriver) ResourceType() string { return platform.TypeLogGroup }

func (d *LogGroupDriver) Create(ctx context.Context, name string, properties map[string]any) (*platform.ResourceOutput, error) {
	groupName, err := requireProp("log group", name, properties, "log_group_name")
	if err != nil {
		return nil, err
	}
	if _, err := d.client.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{
		LogGroupName: awsv2.String(groupName),
		Tags:         map[string]string{ResourceTag: name},
	}); err != nil {
		return nil, fmt.Errorf("log group: create %q: %w", name, err)
	}
	if days := intProp(properties, "retention_days", 0); days > 0 {
		if _, err := d.client.PutRetentionPolicy(ctx, &cloudwatchlogs.PutRetentionPolicyInput{
			LogGroupName:    awsv2.String(groupName),
			RetentionInDays: awsv2.Int32(int32(days)),
		}); err != nil {
			return nil, fmt.Errorf("log group: set retention on %q: %w", name, err)
		}
	}

	// CreateLogGroup does not return the ARN.
	desc, err := d.client.DescribeLogGroups(ctx, &cloudwatchlogs.DescribeLogGroupsInput{
		LogGroupNamePrefix: awsv2.String(groupName),
	})
	if err != nil {
		return nil, fmt.Errorf("log group: describe %q: %w", name, err)
	}
	for _, lg := range desc.LogGroups {
		if deref(lg.LogGroupName) != groupName {
			continue
		}
		arn := strings.TrimSuffix(deref(lg.Arn), ":*")
		return output(arn, map[string]any{
			"name":           groupName,
			"arn":            arn,
			"retention_days": intProp(properties, "retention_days", 0),
		}), nil
	}
	return nil, notFound(name)
}

var _ platform.ResourceDriver = (*LogGroupDriver)(nil)
