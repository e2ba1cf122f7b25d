package drivers

import (
	"context"
	"errors"
	"fmt"
	"time"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"

	"github.com/GoCodeAlone/topology/platform"
)

// defaultDBWait bounds how long Create waits for an instance to become
// available. Multi-AZ instances routinely take over twenty minutes.
const defaultDBWait = 45 * time.Minute

// RDSClient defines the RDS operations used by the subnet group and instance
// drivers.
type RDSClient interface {
	CreateDBSubnetGroup(ctx context.Context, params *rds.CreateDBSubnetGroupInput, optFns ...func(*rds.Options)) (*rds.CreateDBSubnetGroupOutput, error)
	CreateDBInstance(ctx context.Context, params *rds.CreateDBInstanceInput, optFns ...func(*rds.Options)) (*rds.CreateDBInstanceOutput, error)
	DescribeDBInstances(ctx context.Context, params *rds.DescribeDBInstancesInput, optFns ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error)
}

func rdsTags(name string) []rdstypes.Tag {
	return []rdstypes.Tag{
		{Key: awsv2.String("Name"), Value: awsv2.String(name)},
		{Key: awsv2.String(ResourceTag), Value: awsv2.String(name)},
	}
}

// DBSubnetGroupDriver manages database subnet groups.
type DBSubnetGroupDriver struct {
	client RDSClient
}

// NewDBSubnetGroupDriver creates a new subnet group driver.
func NewDBSubnetGroupDriver(cfg awsv2.Config) *DBSubnetGroupDriver {
	return &DBSubnetGroupDriver{client: rds.NewFromConfig(cfg)}
}

// NewDBSubnetGroupDriverWithClient creates a subnet group driver with a
// custom client.
func NewDBSubnetGroupDriverWithClient(client RDSClient) *DBSubnetGroupDriver {
	return &DBSubnetGroupDriver{client: client}
}

func (d *DBSubnetGroupDriver) ResourceType() string { return platform.TypeDBSubnetGroup }

func (d *DBSubnetGroupDriver) Create(ctx context.Context, name string, properties map[string]any) (*platform.ResourceOutput, error) {
	groupName, err := requireProp("db subnet group", name, properties, "group_name")
	if err != nil {
		return nil, err
	}
	subnets := stringSliceProp(properties, "subnet_ids")
	if len(subnets) < 2 {
		return nil, fmt.Errorf("db subnet group: create %q: at least two subnets are required", name)
	}
	out, err := d.client.CreateDBSubnetGroup(ctx, &rds.CreateDBSubnetGroupInput{
		DBSubnetGroupName:        awsv2.String(groupName),
		DBSubnetGroupDescription: awsv2.String(stringProp(properties, "description", name)),
		SubnetIds:                subnets,
		Tags:                     rdsTags(name),
	})
	if err != nil {
		return nil, fmt.Errorf("db subnet group: create %q: %w", name, err)
	}
	props := map[string]any{"name": groupName}
	if out.DBSubnetGroup != nil {
		props["arn"] = deref(out.DBSubnetGroup.DBSubnetGroupArn)
	}
	return output(groupName, props), nil
}

// RDSDriver manages RDS database instances. The master password is managed
// by RDS in Secrets Manager; the secret ARN is reported as the output's
// CredentialRef.
type RDSDriver struct {
	client  RDSClient
	maxWait time.Duration
}

// NewRDSDriver creates a new RDS driver.
func NewRDSDriver(cfg awsv2.Config) *RDSDriver {
	return &RDSDriver{client: rds.NewFromConfig(cfg), maxWait: defaultDBWait}
}

// NewRDSDriverWithClient creates an RDS driver with a custom client.
func NewRDSDriverWithClient(client RDSClient) *RDSDriver {
	return &RDSDriver{client: client, maxWait: defaultDBWait}
}

func (d *RDSDriver) ResourceType() string { return platform.TypeDatabase }

func (d *RDSDriver) Create(ctx context.Context, name string, properties map[string]any) (*platform.ResourceOutput, error) {
	identifier, err := requireProp("rds", name, properties, "identifier")
	if err != nil {
		return nil, err
	}
	username, err := requireProp("rds", name, properties, "master_username")
	if err != nil {
		return nil, err
	}
	if !boolProp(properties, "manage_master_password", true) {
		return nil, fmt.Errorf("rds: create %q: only managed master passwords are supported", name)
	}

	input := &rds.CreateDBInstanceInput{
		DBInstanceIdentifier:      awsv2.String(identifier),
		Engine:                    awsv2.String(stringProp(properties, "engine", "postgres")),
		DBInstanceClass:           awsv2.String(stringProp(properties, "instance_class", "db.t3.micro")),
		AllocatedStorage:          awsv2.Int32(int32(intProp(properties, "allocated_storage", 20))),
		MasterUsername:            awsv2.String(username),
		ManageMasterUserPassword:  awsv2.Bool(true),
		Port:                      awsv2.Int32(int32(intProp(properties, "port", 5432))),
		MultiAZ:                   awsv2.Bool(boolProp(properties, "multi_az", false)),
		DeletionProtection:        awsv2.Bool(boolProp(properties, "deletion_protection", false)),
		PubliclyAccessible:        awsv2.Bool(boolProp(properties, "publicly_accessible", false)),
		EnablePerformanceInsights: awsv2.Bool(boolProp(properties, "performance_insights", false)),
		VpcSecurityGroupIds:       stringSliceProp(properties, "security_group_ids"),
		Tags:                      rdsTags(name),
	}
	if db := stringProp(properties, "db_name", ""); db != "" {
		input.DBName = awsv2.String(db)
	}
	if sg := stringProp(properties, "subnet_group_name", ""); sg != "" {
		input.DBSubnetGroupName = awsv2.String(sg)
	}
	if v := stringProp(properties, "engine_version", ""); v != "" {
		input.EngineVersion = awsv2.String(v)
	}

	if _, err := d.client.CreateDBInstance(ctx, input); err != nil {
		return nil, fmt.Errorf("rds: create %q: %w", name, err)
	}

	waiter := rds.NewDBInstanceAvailableWaiter(d.client)
	desc, err := waiter.WaitForOutput(ctx, &rds.DescribeDBInstancesInput{
		DBInstanceIdentifier: awsv2.String(identifier),
	}, d.maxWait)
	if err != nil {
		return nil, fmt.Errorf("rds: wait for %q: %w", name, err)
	}
	if len(desc.DBInstances) == 0 {
		return nil, notFound(name)
	}
	return dbInstanceToOutput(&desc.DBInstances[0]), nil
}

// Read looks the instance up by identifier, which is the resource name.
func (d *RDSDriver) Read(ctx context.Context, name string) (*platform.ResourceOutput, error) {
	out, err := d.client.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{
		DBInstanceIdentifier: awsv2.String(name),
	})
	var missing *rdstypes.DBInstanceNotFoundFault
	if errors.As(err, &missing) {
		return nil, notFound(name)
	}
	if err != nil {
		return nil, fmt.Errorf("rds: describe %q: %w", name, err)
	}
	if len(out.DBInstances) == 0 {
		return nil, notFound(name)
	}
	return dbInstanceToOutput(&out.DBInstances[0]), nil
}

func dbInstanceToOutput(db *rdstypes.DBInstance) *platform.ResourceOutput {
	props := map[string]any{
		"identifier": deref(db.DBInstanceIdentifier),
		"arn":        deref(db.DBInstanceArn),
		"engine":     deref(db.Engine),
		"db_status":  deref(db.DBInstanceStatus),
	}
	if db.DBName != nil {
		props["db_name"] = *db.DBName
	}
	if db.EngineVersion != nil {
		props["engine_version"] = *db.EngineVersion
	}
	o := output(deref(db.DBInstanceIdentifier), props)
	if db.Endpoint != nil {
		o.Endpoint = deref(db.Endpoint.Address)
		if db.Endpoint.Port != nil {
			props["port"] = int(*db.Endpoint.Port)
		}
	}
	if db.MasterUserSecret != nil {
		o.CredentialRef = deref(db.MasterUserSecret.SecretArn)
	}
	switch deref(db.DBInstanceStatus) {
	case "creating", "backing-up", "configuring-enhanced-monitoring":
		o.Status = platform.ResourceStatusCreating
	case "failed", "incompatible-parameters", "storage-full":
		o.Status = platform.ResourceStatusFailed
	}
	return o
}

var (
	_ platform.ResourceDriver = (*DBSubnetGroupDriver)(nil)
	_ platform.ResourceDriver = (*RDSDriver)(nil)
	_ platform.ResourceReader = (*RDSDriver)(nil)
)
