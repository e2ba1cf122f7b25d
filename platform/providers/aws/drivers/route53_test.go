package drivers

import (
	"context"
	"testing"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	r53types "github.com/aws/aws-sdk-go-v2/service/route53/types"
)

type mockRoute53Client struct {
	zoneInput   *route53.CreateHostedZoneInput
	changeInput *route53.ChangeResourceRecordSetsInput
}

func (m *mockRoute53Client) CreateHostedZone(_ context.Context, params *route53.CreateHostedZoneInput, _ ...func(*route53.Options)) (*route53.CreateHostedZoneOutput, error) {
	m.zoneInput = params
	return &route53.CreateHostedZoneOutput{HostedZone: &r53types.HostedZone{
		Id:   awsv2.String("/hostedzone/Z0123456789ABC"),
		Name: awsv2.String(*params.Name + "."),
	}}, nil
}

func (m *mockRoute53Client) ChangeResourceRecordSets(_ context.Context, params *route53.ChangeResourceRecordSetsInput, _ ...func(*route53.Options)) (*route53.ChangeResourceRecordSetsOutput, error) {
	m.changeInput = params
	return &route53.ChangeResourceRecordSetsOutput{ChangeInfo: &r53types.ChangeInfo{Id: awsv2.String("/change/C1")}}, nil
}

func TestHostedZoneDriver_Private(t *testing.T) {
	client := &mockRoute53Client{}
	out, err := NewHostedZoneDriverWithClient(client).Create(context.Background(), "bank-zone", map[string]any{
		"zone_name": "bank.internal",
		"vpc_id":    "vpc-1",
		"region":    "us-east-1",
		"private":   true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if out.ID != "Z0123456789ABC" {
		t.Errorf("ID = %q, want the bare zone id", out.ID)
	}
	if got, _ := out.Property("name"); got != "bank.internal" {
		t.Errorf("name = %q", got)
	}
	if !client.zoneInput.HostedZoneConfig.PrivateZone || *client.zoneInput.VPC.VPCId != "vpc-1" {
		t.Errorf("zone input = %+v", client.zoneInput)
	}

	if _, err := NewHostedZoneDriverWithClient(client).Create(context.Background(), "z", map[string]any{
		"zone_name": "bank.internal", "private": true,
	}); err == nil {
		t.Error("expected error for a private zone without a vpc")
	}
}

func TestRecordDriver_CNAME(t *testing.T) {
	client := &mockRoute53Client{}
	out, err := NewRecordDriverWithClient(client).Create(context.Background(), "accounts-record", map[string]any{
		"zone_id":     "Z0123456789ABC",
		"record_name": "accounts.bank.internal",
		"record_type": "CNAME",
		"ttl":         300,
		"values":      []string{"bank-alb-123.us-east-1.elb.amazonaws.com"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if out.Endpoint != "accounts.bank.internal" {
		t.Errorf("Endpoint = %q", out.Endpoint)
	}
	change := client.changeInput.ChangeBatch.Changes[0]
	if change.Action != r53types.ChangeActionCreate || *change.ResourceRecordSet.TTL != 300 {
		t.Errorf("change = %+v", change)
	}
	if got := *change.ResourceRecordSet.ResourceRecords[0].Value; got != "bank-alb-123.us-east-1.elb.amazonaws.com" {
		t.Errorf("value = %q", got)
	}
}

func TestRecordDriver_Alias(t *testing.T) {
	client := &mockRoute53Client{}
	_, err := NewRecordDriverWithClient(client).Create(context.Background(), "payments-record", map[string]any{
		"zone_id":     "Z0123456789ABC",
		"record_name": "payments.bank.internal",
		"record_type": "A",
		"alias": map[string]any{
			"hosted_zone_id":         "Z7HUB22UULQXV",
			"dns_name":               "vpce-1-abc.vpce-svc-1.us-east-1.vpce.amazonaws.com",
			"evaluate_target_health": false,
		},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	set := client.changeInput.ChangeBatch.Changes[0].ResourceRecordSet
	if set.AliasTarget == nil || *set.AliasTarget.HostedZoneId != "Z7HUB22UULQXV" || set.TTL != nil {
		t.Errorf("record set = %+v", set)
	}
}

func TestRecordDriver_RequiresTarget(t *testing.T) {
	_, err := NewRecordDriverWithClient(&mockRoute53Client{}).Create(context.Background(), "r", map[string]any{
		"zone_id": "Z1", "record_name": "x.bank.internal",
	})
	if err == nil {
		t.Fatal("expected error without values or alias")
	}
}
