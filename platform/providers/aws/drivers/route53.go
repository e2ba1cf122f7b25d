package drivers

import (
	"context"
	"fmt"
	"strings"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	r53types "github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/google/uuid"

	"github.com/GoCodeAlone/topology/platform"
)

// Route53Client defines the Route 53 operations used by the zone and record
// drivers.
type Route53Client interface {
	CreateHostedZone(ctx context.Context, params *route53.CreateHostedZoneInput, optFns ...func(*route53.Options)) (*route53.CreateHostedZoneOutput, error)
	ChangeResourceRecordSets(ctx context.Context, params *route53.ChangeResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ChangeResourceRecordSetsOutput, error)
}

// HostedZoneDriver manages hosted zones. Private zones are associated with
// the VPC given in vpc_id.
type HostedZoneDriver struct {
	client Route53Client
}

// NewHostedZoneDriver creates a new hosted zone driver.
func NewHostedZoneDriver(cfg awsv2.Config) *HostedZoneDriver {
	return &HostedZoneDriver{client: route53.NewFromConfig(cfg)}
}

// NewHostedZoneDriverWithClient creates a hosted zone driver with a custom
// client.
func NewHostedZoneDriverWithClient(client Route53Client) *HostedZoneDriver {
	return &HostedZoneDriver{client: client}
}

func (d *HostedZoneDriver) ResourceType() string { return platform.TypeHostedZone }

func (d *HostedZoneDriver) Create(ctx context.Context, name string, properties map[string]any) (*platform.ResourceOutput, error) {
	zoneName, err := requireProp("hosted zone", name, properties, "zone_name")
	if err != nil {
		return nil, err
	}
	private := boolProp(properties, "private", false)
	input := &route53.CreateHostedZoneInput{
		Name:            awsv2.String(zoneName),
		CallerReference: awsv2.String(name + "-" + uuid.NewString()),
		HostedZoneConfig: &r53types.HostedZoneConfig{
			Comment:     awsv2.String(name),
			PrivateZone: private,
		},
	}
	if private {
		vpcID, err := requireProp("hosted zone", name, properties, "vpc_id")
		if err != nil {
			return nil, err
		}
		input.VPC = &r53types.VPC{
			VPCId:     awsv2.String(vpcID),
			VPCRegion: r53types.VPCRegion(stringProp(properties, "region", "")),
		}
	}
	out, err := d.client.CreateHostedZone(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("hosted zone: create %q: %w", name, err)
	}
	if out.HostedZone == nil {
		return nil, fmt.Errorf("hosted zone: create %q returned no zone", name)
	}
	id := strings.TrimPrefix(deref(out.HostedZone.Id), "/hostedzone/")
	return output(id, map[string]any{
		"zone_id": id,
		"name":    strings.TrimSuffix(deref(out.HostedZone.Name), "."),
		"private": private,
	}), nil
}

// RecordDriver creates DNS records. Records are created with the CREATE
// action, so a second record with the same name in a zone is rejected.
type RecordDriver struct {
	client Route53Client
}

// NewRecordDriver creates a new record driver.
func NewRecordDriver(cfg awsv2.Config) *RecordDriver {
	return &RecordDriver{client: route53.NewFromConfig(cfg)}
}

// NewRecordDriverWithClient creates a record driver with a custom client.
func NewRecordDriverWithClient(client Route53Client) *RecordDriver {
	return &RecordDriver{client: client}
}

func (d *RecordDriver) ResourceType() string { return platform.TypeRecord }

func (d *RecordDriver) Create(ctx context.Context, name string, properties map[string]any) (*platform.ResourceOutput, error) {
	zoneID, err := requireProp("record", name, properties, "zone_id")
	if err != nil {
		return nil, err
	}
	recordName, err := requireProp("record", name, properties, "record_name")
	if err != nil {
		return nil, err
	}
	set := &r53types.ResourceRecordSet{
		Name: awsv2.String(recordName),
		Type: r53types.RRType(stringProp(properties, "record_type", string(r53types.RRTypeCname))),
	}
	if alias := mapProp(properties, "alias"); alias != nil {
		set.AliasTarget = &r53types.AliasTarget{
			HostedZoneId:         awsv2.String(stringProp(alias, "hosted_zone_id", "")),
			DNSName:              awsv2.String(stringProp(alias, "dns_name", "")),
			EvaluateTargetHealth: boolProp(alias, "evaluate_target_health", false),
		}
	} else {
		values := stringSliceProp(properties, "values")
		if len(values) == 0 {
			return nil, fmt.Errorf("record: create %q: values or alias is required", name)
		}
		set.TTL = awsv2.Int64(int64(intProp(properties, "ttl", 300)))
		for _, v := range values {
			set.ResourceRecords = append(set.ResourceRecords, r53types.ResourceRecord{Value: awsv2.String(v)})
		}
	}

	out, err := d.client.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: awsv2.String(zoneID),
		ChangeBatch: &r53types.ChangeBatch{
			Comment: awsv2.String(name),
			Changes: []r53types.Change{{Action: r53types.ChangeActionCreate, ResourceRecordSet: set}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("record: create %q: %w", name, err)
	}
	o := output(zoneID+"/"+recordName, map[string]any{
		"fqdn":        recordName,
		"record_type": string(set.Type),
	})
	o.Endpoint = recordName
	if out.ChangeInfo != nil {
		o.Properties["change_id"] = deref(out.ChangeInfo.Id)
	}
	return o, nil
}

var (
	_ platform.ResourceDriver = (*HostedZoneDriver)(nil)
	_ platform.ResourceDriver = (*RecordDriver)(nil)
)
