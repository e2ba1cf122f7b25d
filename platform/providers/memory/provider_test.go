package memory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/GoCodeAlone/topology/platform"
)

func TestNew_DriverForEveryType(t *testing.T) {
	p := New()
	types := []string{
		platform.TypeVPC, platform.TypeSubnet, platform.TypeSecurityGroup,
		platform.TypeSecurityGroupIngress, platform.TypeVPCEndpoint,
		platform.TypeECSCluster, platform.TypeTaskDefinition, platform.TypeECSService,
		platform.TypeLoadBalancer, platform.TypeListener, platform.TypeTargetGroup,
		platform.TypeListenerRule, platform.TypeHostedZone, platform.TypeRecord,
		platform.TypeImageRepository, platform.TypeLogGroup, platform.TypeRole,
		platform.TypeDBSubnetGroup, platform.TypeDatabase, platform.TypeSourceRepository,
		platform.TypeBucket, platform.TypeBuildProject, platform.TypePipeline,
	}
	for _, typ := range types {
		d, err := p.ResourceDriver(typ)
		if err != nil {
			t.Errorf("ResourceDriver(%s): %v", typ, err)
			continue
		}
		if d.ResourceType() != typ {
			t.Errorf("ResourceType() = %q, want %q", d.ResourceType(), typ)
		}
	}
	if got := len(p.ResourceTypes()); got != len(types) {
		t.Errorf("ResourceTypes() = %d entries, want %d", got, len(types))
	}

	_, err := p.ResourceDriver("aws.sqs_queue")
	var notFound *platform.ResourceDriverNotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("unknown type error = %v, want ResourceDriverNotFoundError", err)
	}
}

func create(t *testing.T, p *Provider, typ, name string, props map[string]any) *platform.ResourceOutput {
	t.Helper()
	d, err := p.ResourceDriver(typ)
	if err != nil {
		t.Fatalf("ResourceDriver(%s): %v", typ, err)
	}
	out, err := d.Create(context.Background(), name, props)
	if err != nil {
		t.Fatalf("Create(%s): %v", name, err)
	}
	return out
}

func listener(t *testing.T, p *Provider) string {
	t.Helper()
	lb := create(t, p, platform.TypeLoadBalancer, "alb", map[string]any{"load_balancer_name": "bank-alb"})
	if !strings.HasPrefix(lb.Properties["full_name"].(string), "app/bank-alb/") {
		t.Errorf("full_name = %v", lb.Properties["full_name"])
	}
	if lb.Endpoint == "" || lb.Endpoint != lb.Properties["dns_name"] {
		t.Errorf("Endpoint = %q, dns_name = %v", lb.Endpoint, lb.Properties["dns_name"])
	}
	l := create(t, p, platform.TypeListener, "listener", map[string]any{"load_balancer_arn": lb.ID, "port": 80})
	return l.ID
}

func TestListenerRule_RejectsPriorityInUse(t *testing.T) {
	p := New()
	arn := listener(t, p)
	create(t, p, platform.TypeListenerRule, "accounts-rule", map[string]any{"listener_arn": arn, "priority": 10})

	d, _ := p.ResourceDriver(platform.TypeListenerRule)
	_, err := d.Create(context.Background(), "ledger-rule", map[string]any{"listener_arn": arn, "priority": 10})
	if err == nil || !strings.Contains(err.Error(), "PriorityInUse") {
		t.Fatalf("duplicate priority error = %v, want PriorityInUse", err)
	}

	if _, err := d.Create(context.Background(), "orphan-rule", map[string]any{"listener_arn": "arn:missing", "priority": 20}); err == nil {
		t.Error("expected error for unknown listener")
	}
	create(t, p, platform.TypeListenerRule, "ledger-rule", map[string]any{"listener_arn": arn, "priority": 20})
}

func TestRecord_RejectsDuplicateName(t *testing.T) {
	p := New()
	zone := create(t, p, platform.TypeHostedZone, "zone", map[string]any{"zone_name": "bank.internal"})
	props := map[string]any{"zone_id": zone.ID, "record_name": "accounts.bank.internal", "record_type": "CNAME"}
	rec := create(t, p, platform.TypeRecord, "accounts-record", props)
	if rec.Endpoint != "accounts.bank.internal" {
		t.Errorf("Endpoint = %q", rec.Endpoint)
	}

	d, _ := p.ResourceDriver(platform.TypeRecord)
	if _, err := d.Create(context.Background(), "other-record", props); err == nil {
		t.Fatal("expected duplicate record error")
	}
}

func TestDatabase_StoresCredentials(t *testing.T) {
	p := New(WithRegion("eu-west-1"))
	out := create(t, p, platform.TypeDatabase, "ledger", map[string]any{
		"identifier":      "ledger",
		"master_username": "ledger_admin",
		"port":            5432,
	})
	if !strings.HasSuffix(out.Endpoint, ".eu-west-1.rds.amazonaws.com") {
		t.Errorf("Endpoint = %q", out.Endpoint)
	}
	if port, _ := out.Property("port"); port != "5432" {
		t.Errorf("port = %q, want 5432", port)
	}
	user, err := p.Secrets().Get(context.Background(), out.CredentialRef+"#username")
	if err != nil {
		t.Fatalf("Get username: %v", err)
	}
	if user != "ledger_admin" {
		t.Errorf("username = %q, want ledger_admin", user)
	}
	pw, err := p.Secrets().Get(context.Background(), out.CredentialRef+"#password")
	if err != nil || pw == "" {
		t.Errorf("password = %q, %v", pw, err)
	}
}

func TestVPCEndpoint_DNSEntries(t *testing.T) {
	p := New()
	out := create(t, p, platform.TypeVPCEndpoint, "payments-endpoint", map[string]any{
		"service_name": "com.amazonaws.vpce.us-east-1.vpce-svc-0abc",
	})
	entries, ok := out.Property("dns_entries")
	if !ok {
		t.Fatal("dns_entries missing")
	}
	parts := strings.Split(entries, ",")
	if len(parts) != 2 {
		t.Fatalf("dns_entries = %q, want two entries", entries)
	}
	for _, e := range parts {
		zone, host, ok := strings.Cut(e, ":")
		if !ok || zone == "" || !strings.HasPrefix(host, out.ID+"-") {
			t.Errorf("entry %q malformed", e)
		}
	}
}

func TestDriver_ReadAndDuplicate(t *testing.T) {
	p := New()
	out := create(t, p, platform.TypeECSCluster, "cluster", map[string]any{"cluster_name": "bank-cluster"})
	if got, _ := out.Property("name"); got != "bank-cluster" {
		t.Errorf("name = %q", got)
	}

	d, _ := p.ResourceDriver(platform.TypeECSCluster)
	reader := d.(platform.ResourceReader)
	read, err := reader.Read(context.Background(), "cluster")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if read.ID != out.ID || read.Status != platform.ResourceStatusActive {
		t.Errorf("Read = %+v", read)
	}

	_, err = reader.Read(context.Background(), "missing")
	var notFound *platform.ResourceNotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("Read missing error = %v, want ResourceNotFoundError", err)
	}

	if _, err := d.Create(context.Background(), "cluster", nil); err == nil {
		t.Error("expected error creating the same name twice")
	}
	if n := len(p.Resources()); n != 1 {
		t.Errorf("Resources() = %d, want 1", n)
	}
}

func TestTaskDefinition_RequiresContainers(t *testing.T) {
	p := New()
	d, _ := p.ResourceDriver(platform.TypeTaskDefinition)
	if _, err := d.Create(context.Background(), "td", map[string]any{"family": "bank-accounts"}); err == nil {
		t.Fatal("expected error without containers")
	}
	out := create(t, p, platform.TypeTaskDefinition, "td", map[string]any{
		"family":     "bank-accounts",
		"containers": []map[string]any{{"name": "web"}},
	})
	if arn, _ := out.Property("arn"); !strings.Contains(arn, "task-definition/bank-accounts:1") {
		t.Errorf("arn = %q", arn)
	}
}

func TestTaskDefinition_UpdateRegistersRevision(t *testing.T) {
	p := New()
	props := map[string]any{
		"family":     "bank-accounts",
		"containers": []map[string]any{{"name": "web"}},
	}
	first := create(t, p, platform.TypeTaskDefinition, "td", props)

	d, _ := p.ResourceDriver(platform.TypeTaskDefinition)
	updater, ok := d.(platform.ResourceUpdater)
	if !ok {
		t.Fatal("task definition driver does not update in place")
	}
	second, err := updater.Update(context.Background(), "td", first, props)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !strings.HasSuffix(second.ID, "task-definition/bank-accounts:2") {
		t.Errorf("ID = %q, want revision 2", second.ID)
	}
	if got, _ := second.Property("revision"); got != "2" {
		t.Errorf("revision = %q, want 2", got)
	}
	read, err := d.(platform.ResourceReader).Read(context.Background(), "td")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if read.ID != second.ID {
		t.Errorf("Read ID = %q, want %q", read.ID, second.ID)
	}

	if _, err := updater.Update(context.Background(), "missing", first, props); err == nil {
		t.Error("expected error updating a resource that does not exist")
	}
}

func TestListenerRule_NotUpdatable(t *testing.T) {
	p := New()
	d, _ := p.ResourceDriver(platform.TypeListenerRule)
	if _, ok := d.(platform.ResourceUpdater); ok {
		t.Error("listener rule driver should not update in place")
	}
}
