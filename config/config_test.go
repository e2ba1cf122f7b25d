package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/GoCodeAlone/topology/secrets"
)

func TestLoadFromFile_Bank(t *testing.T) {
	cfg, err := LoadFromFile(filepath.Join("testdata", "bank.yaml"))
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Name != "bank" {
		t.Errorf("Name = %q, want %q", cfg.Name, "bank")
	}
	if len(cfg.Services) != 3 || len(cfg.Databases) != 1 || len(cfg.External) != 1 || len(cfg.Pipelines) != 1 {
		t.Fatalf("unit counts = %d/%d/%d/%d", len(cfg.Services), len(cfg.Databases), len(cfg.External), len(cfg.Pipelines))
	}
	if !cfg.Services[0].SiteRoot {
		t.Error("expected Portal at the site root")
	}
	if got := cfg.Services[2].DesiredCount; got == nil || *got != 2 {
		t.Errorf("Payments desiredCount = %v, want 2", got)
	}
	if got := cfg.Services[1].Environment["LOG_LEVEL"]; got != "${LOG_LEVEL:-info}" {
		t.Errorf("LOG_LEVEL = %q, want the unexpanded reference", got)
	}
	if cfg.ConfigDir == "" || !filepath.IsAbs(cfg.ConfigDir) {
		t.Errorf("ConfigDir = %q, want an absolute path", cfg.ConfigDir)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFromFileExpanded(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	cfg, err := LoadFromFileExpanded(context.Background(), filepath.Join("testdata", "bank.yaml"), secrets.NewMultiResolver())
	if err != nil {
		t.Fatalf("LoadFromFileExpanded: %v", err)
	}
	if got := cfg.Services[1].Environment["LOG_LEVEL"]; got != "debug" {
		t.Errorf("LOG_LEVEL = %q, want %q", got, "debug")
	}
}

func TestLoadFromFileExpanded_SecretScheme(t *testing.T) {
	mem := secrets.NewMemoryProvider()
	if err := mem.Set(context.Background(), "fraud-service", "com.amazonaws.vpce.eu-west-1.vpce-svc-1"); err != nil {
		t.Fatal(err)
	}
	r := secrets.NewMultiResolver()
	r.Register("mem", mem)

	path := filepath.Join(t.TempDir(), "t.yaml")
	doc := "name: t\nexternal:\n  - id: fraud\n    serviceName: ${mem:fraud-service}\n    subdomain: fraud\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFromFileExpanded(context.Background(), path, r)
	if err != nil {
		t.Fatalf("LoadFromFileExpanded: %v", err)
	}
	if got := cfg.External[0].ServiceName; got != "com.amazonaws.vpce.eu-west-1.vpce-svc-1" {
		t.Errorf("ServiceName = %q", got)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{name: "empty", doc: "", want: "empty"},
		{name: "unknown field", doc: "name: t\nservices:\n  - id: a\n    port: 80\n", want: "port"},
		{name: "malformed", doc: "name: [", want: "parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadFromFile_Missing(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestServiceConfig_Name(t *testing.T) {
	if got := (ServiceConfig{ID: "Accounts"}).Name(); got != "Accounts" {
		t.Errorf("Name() = %q, want the id", got)
	}
	if got := (ServiceConfig{ID: "a", CanonicalName: "accounts-api"}).Name(); got != "accounts-api" {
		t.Errorf("Name() = %q, want the canonical name", got)
	}
}

func validationPaths(err error) []string {
	var paths []string
	type unwrapper interface{ Unwrap() []error }
	u, ok := err.(unwrapper)
	if !ok {
		return nil
	}
	for _, e := range u.Unwrap() {
		var ve *ValidationError
		if errors.As(e, &ve) {
			paths = append(paths, ve.Path)
		}
	}
	return paths
}

func TestValidate_Problems(t *testing.T) {
	tests := []struct {
		name string
		cfg  TopologyConfig
		want string
	}{
		{
			name: "missing name",
			cfg:  TopologyConfig{},
			want: "name",
		},
		{
			name: "no destination",
			cfg:  TopologyConfig{Name: "t", Services: []ServiceConfig{{ID: "a"}}},
			want: "services[a]",
		},
		{
			name: "both destinations",
			cfg:  TopologyConfig{Name: "t", Services: []ServiceConfig{{ID: "a", SiteRoot: true, Subdomain: "a"}}},
			want: "services[a]",
		},
		{
			name: "two site roots",
			cfg: TopologyConfig{Name: "t", Services: []ServiceConfig{
				{ID: "a", SiteRoot: true}, {ID: "b", SiteRoot: true},
			}},
			want: "services[b].siteRoot",
		},
		{
			name: "subdomain collision with external",
			cfg: TopologyConfig{
				Name:     "t",
				Services: []ServiceConfig{{ID: "a", Subdomain: "api"}},
				External: []ExternalConfig{{ID: "x", ServiceName: "svc", Subdomain: "api"}},
			},
			want: "externals[x].subdomain",
		},
		{
			name: "subdomain reserved for site root",
			cfg: TopologyConfig{Name: "t", Services: []ServiceConfig{
				{ID: "portal", SiteRoot: true}, {ID: "web", Subdomain: "www"},
			}},
			want: "services[web].subdomain",
		},
		{
			name: "duplicate id",
			cfg: TopologyConfig{
				Name:      "t",
				Services:  []ServiceConfig{{ID: "a", Subdomain: "a"}},
				Databases: []DatabaseConfig{{ID: "A"}},
			},
			want: "databases[A]",
		},
		{
			name: "invalid canonical name",
			cfg:  TopologyConfig{Name: "t", Services: []ServiceConfig{{ID: "1st", Subdomain: "first"}}},
			want: "services[1st]",
		},
		{
			name: "relative health route",
			cfg:  TopologyConfig{Name: "t", Services: []ServiceConfig{{ID: "a", Subdomain: "a", HealthRoute: "health"}}},
			want: "services[a].healthRoute",
		},
		{
			name: "grant to unknown unit",
			cfg: TopologyConfig{Name: "t", Databases: []DatabaseConfig{{
				ID: "db", Grants: []GrantConfig{{To: "ghost", Name: "DB_URL"}},
			}}},
			want: "databases[db].grants[0].to",
		},
		{
			name: "pipeline on a database",
			cfg: TopologyConfig{
				Name:      "t",
				Databases: []DatabaseConfig{{ID: "db"}},
				Pipelines: []PipelineConfig{{ID: "ci", Service: "db"}},
			},
			want: "pipelines[ci].service",
		},
		{
			name: "link from a database",
			cfg: TopologyConfig{
				Name:      "t",
				Services:  []ServiceConfig{{ID: "a", Subdomain: "a"}},
				Databases: []DatabaseConfig{{ID: "db"}},
				Links:     []LinkConfig{{Consumer: "a", Provider: "db", Name: "DB"}},
			},
			want: "links[0].provider",
		},
		{
			name: "link without name",
			cfg: TopologyConfig{
				Name:     "t",
				Services: []ServiceConfig{{ID: "a", Subdomain: "a"}, {ID: "b", SiteRoot: true}},
				Links:    []LinkConfig{{Consumer: "a", Provider: "b"}},
			},
			want: "links[0].name",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			found := false
			for _, p := range validationPaths(err) {
				if p == tt.want {
					found = true
				}
			}
			if !found {
				t.Errorf("Validate() = %v, want a problem at %s", err, tt.want)
			}
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := TopologyConfig{Name: "t", Services: []ServiceConfig{{ID: "a"}, {ID: "b", Subdomain: "Bad_Label"}}}
	if got := len(validationPaths(cfg.Validate())); got != 2 {
		t.Errorf("problems = %d, want 2", got)
	}
}
