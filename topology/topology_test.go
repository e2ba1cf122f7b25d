package topology

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/GoCodeAlone/topology/config"
	"github.com/GoCodeAlone/topology/platform"
)

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func loadBank(t *testing.T) *config.TopologyConfig {
	t.Helper()
	cfg, err := config.LoadFromFile(filepath.Join("..", "config", "testdata", "bank.yaml"))
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	return cfg
}

func literal(t *testing.T, env *platform.Environment, key string) string {
	t.Helper()
	v, ok := env.Get(key)
	if !ok {
		t.Fatalf("environment has no %s", key)
	}
	s, ok := v.Literal()
	if !ok {
		t.Fatalf("%s is deferred, want a literal", key)
	}
	return s
}

func TestCompose_Bank(t *testing.T) {
	top, err := Compose(loadBank(t), quiet())
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	portal, _ := top.Service("portal")
	accounts, _ := top.Service("Accounts")
	payments, _ := top.Service("payments")
	if portal == nil || accounts == nil || payments == nil {
		t.Fatal("expected all three services to be deployed")
	}

	if got := portal.RoutingRule().Priority; got != platform.SiteRootPriority {
		t.Errorf("portal priority = %d, want %d", got, platform.SiteRootPriority)
	}
	if got := accounts.RoutingRule().Priority; got != 10 {
		t.Errorf("accounts priority = %d, want 10", got)
	}
	if got := payments.RoutingRule().Priority; got != 20 {
		t.Errorf("payments priority = %d, want 20", got)
	}

	if got := literal(t, accounts.Environment(), "ROOT_URL"); got != "www.bankco.local" {
		t.Errorf("ROOT_URL = %q, want %q", got, "www.bankco.local")
	}
	if got := literal(t, portal.Environment(), "ACCOUNTS_URL"); got != "accounts.bankco.local" {
		t.Errorf("ACCOUNTS_URL = %q", got)
	}
	if got := literal(t, payments.Environment(), "FRAUD_URL"); got != "fraud.bankco.local" {
		t.Errorf("FRAUD_URL = %q", got)
	}
	if got := literal(t, accounts.Environment(), "LOG_LEVEL"); got != "${LOG_LEVEL:-info}" {
		t.Errorf("LOG_LEVEL = %q", got)
	}

	ledger, ok := top.Database("ledger")
	if !ok {
		t.Fatal("ledger not declared")
	}
	if got := len(top.Graph().GrantsInto(ledger.Boundary().Name)); got != 2 {
		t.Errorf("grants into ledger = %d, want 2", got)
	}
	if v, ok := accounts.Environment().Get("DATABASE_URL"); !ok || !v.IsDeferred() {
		t.Error("expected a deferred DATABASE_URL on accounts")
	}

	ci, ok := top.Pipeline("accounts-ci")
	if !ok || !ci.SetUp() {
		t.Fatal("expected accounts-ci to be set up")
	}
	if _, ok := ci.Environment().Get("DATABASE_URL"); !ok {
		t.Error("expected the pipeline build environment to carry DATABASE_URL")
	}
	if got := literal(t, ci.Environment(), "CONTAINER_NAME"); got != "ServiceContainer" {
		t.Errorf("CONTAINER_NAME = %q", got)
	}
	// The build boundary reaches the database once, through the drained
	// ingress set.
	var fromBuild int
	for _, g := range top.Graph().GrantsInto(ledger.Boundary().Name) {
		if g.From.Name == ci.Boundary().Name {
			fromBuild++
		}
	}
	if fromBuild != 1 {
		t.Errorf("grants from build into ledger = %d, want 1", fromBuild)
	}

	if _, ok := top.External("fraud"); !ok {
		t.Error("fraud reference not declared")
	}
	if err := top.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if got := len(top.Graph().ResourcesOfType(platform.TypePipeline)); got != 1 {
		t.Errorf("pipelines = %d, want 1", got)
	}
}

func TestCompose_Deterministic(t *testing.T) {
	a, err := Compose(loadBank(t), quiet())
	if err != nil {
		t.Fatal(err)
	}
	b, err := Compose(loadBank(t), quiet())
	if err != nil {
		t.Fatal(err)
	}
	ra, rb := a.Graph().Resources(), b.Graph().Resources()
	if len(ra) != len(rb) {
		t.Fatalf("resource counts differ: %d vs %d", len(ra), len(rb))
	}
	for i := range ra {
		if ra[i].Name != rb[i].Name || ra[i].Type != rb[i].Type {
			t.Errorf("resource %d = %s/%s vs %s/%s", i, ra[i].Type, ra[i].Name, rb[i].Type, rb[i].Name)
		}
	}
}

func TestCompose_InvalidConfig(t *testing.T) {
	cfg := &config.TopologyConfig{Name: "t", Services: []config.ServiceConfig{{ID: "a"}}}
	_, err := Compose(cfg, quiet())
	var ve *config.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want a ValidationError", err)
	}
	if _, err := Compose(nil); err == nil {
		t.Error("expected error for a nil config")
	}
}

func TestCompose_Ingress(t *testing.T) {
	cfg := &config.TopologyConfig{
		Name: "t",
		Services: []config.ServiceConfig{
			{ID: "web", SiteRoot: true, Ingress: []string{"api", "partner"}},
			{ID: "api", Subdomain: "api"},
		},
		External: []config.ExternalConfig{{ID: "partner", ServiceName: "com.amazonaws.vpce.us-east-1.vpce-svc-1", Subdomain: "partner"}},
	}
	top, err := Compose(cfg, quiet())
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	web, _ := top.Service("web")
	api, _ := top.Service("api")
	partner, _ := top.External("partner")
	for _, to := range []platform.Boundary{api.Boundary(), partner.Boundary()} {
		found := false
		for _, g := range top.Graph().GrantsInto(to.Name) {
			if g.From.Name == web.Boundary().Name {
				found = true
			}
		}
		if !found {
			t.Errorf("no grant from web into %s", to.Name)
		}
	}
}

func TestCompose_PriorityCollisionIsReportedNotRejected(t *testing.T) {
	cfg := &config.TopologyConfig{Name: "t"}
	cfg.Services = append(cfg.Services, config.ServiceConfig{ID: "root", SiteRoot: true})
	// The fiftieth subdomain is allocated 50*10, the site-root priority.
	for i := 1; i <= 50; i++ {
		cfg.Services = append(cfg.Services, config.ServiceConfig{
			ID:        fmt.Sprintf("svc%d", i),
			Subdomain: fmt.Sprintf("svc%d", i),
		})
	}
	top, err := Compose(cfg, quiet())
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	var collision *platform.RouteCollisionError
	if err := top.Validate(); !errors.As(err, &collision) {
		t.Fatalf("Validate() = %v, want a RouteCollisionError", err)
	}
	if collision.Priority != platform.SiteRootPriority {
		t.Errorf("collision priority = %d, want %d", collision.Priority, platform.SiteRootPriority)
	}
}
