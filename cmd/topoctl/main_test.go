package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/GoCodeAlone/topology/config"
	"github.com/GoCodeAlone/topology/platform"
	"github.com/GoCodeAlone/topology/platform/state"
)

func writeTestConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

const validTopology = `
name: shop
platform:
  region: us-east-1
  zone: shop.local
services:
  - id: web
    siteRoot: true
    environment:
      LOG_LEVEL: ${SHOP_LOG_LEVEL:-info}
  - id: api
    subdomain: api
databases:
  - id: orders
    grants:
      - to: api
        name: DATABASE_URL
pipelines:
  - id: api-ci
    service: api
links:
  - consumer: web
    provider: api
    name: API_URL
`

const invalidTopology = `
name: shop
services:
  - id: web
    siteRoot: true
  - id: www
    siteRoot: true
`

func TestRunValidateValid(t *testing.T) {
	path := writeTestConfig(t, t.TempDir(), "shop.yaml", validTopology)
	if err := runValidate([]string{path}); err != nil {
		t.Fatalf("expected valid topology, got error: %v", err)
	}
}

func TestRunValidateInvalid(t *testing.T) {
	path := writeTestConfig(t, t.TempDir(), "bad.yaml", invalidTopology)
	err := runValidate([]string{path})
	if err == nil {
		t.Fatal("expected error for two site roots")
	}
	if !strings.Contains(err.Error(), "validation failed") {
		t.Errorf("expected validation error, got: %v", err)
	}
}

func TestRunValidateMissingArg(t *testing.T) {
	if err := runValidate([]string{}); err == nil {
		t.Fatal("expected error when no path is given")
	}
}

func TestRunValidateOverride(t *testing.T) {
	dir := t.TempDir()
	base := writeTestConfig(t, dir, "shop.yaml", validTopology)
	override := writeTestConfig(t, dir, "prod.yaml", "name: shop\nservices:\n  - id: api\n    subdomain: api\n    desiredCount: 4\n")
	if err := runValidate([]string{base, override}); err != nil {
		t.Fatalf("expected merged topology to be valid, got: %v", err)
	}
}

func TestLoadTopology_MergesAndExpands(t *testing.T) {
	dir := t.TempDir()
	base := writeTestConfig(t, dir, "shop.yaml", validTopology)
	override := writeTestConfig(t, dir, "prod.yaml", "name: shop\nplatform:\n  region: eu-west-1\n")
	t.Setenv("SHOP_LOG_LEVEL", "debug")

	cfg, err := loadTopology(context.Background(), expander(), base, override)
	if err != nil {
		t.Fatalf("loadTopology: %v", err)
	}
	if cfg.Platform.Region != "eu-west-1" {
		t.Errorf("region = %q, want eu-west-1", cfg.Platform.Region)
	}
	if cfg.Platform.Zone != "shop.local" {
		t.Errorf("zone = %q, want the base zone kept", cfg.Platform.Zone)
	}
	if got := cfg.Services[0].Environment["LOG_LEVEL"]; got != "debug" {
		t.Errorf("LOG_LEVEL = %q, want debug", got)
	}
}

func TestBuildPlan(t *testing.T) {
	path := writeTestConfig(t, t.TempDir(), "shop.yaml", validTopology)
	top, err := compose(context.Background(), nil, false, path)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	doc, err := buildPlan(top)
	if err != nil {
		t.Fatalf("buildPlan: %v", err)
	}
	if doc.Topology != "shop" {
		t.Errorf("topology = %q", doc.Topology)
	}
	if len(doc.Rules) != 2 || doc.Rules[0].Unit != "api" || doc.Rules[1].Priority != platform.SiteRootPriority {
		t.Errorf("rules = %+v, want api first and the site root last", doc.Rules)
	}
	if len(doc.Grants) == 0 {
		t.Error("expected ingress grants")
	}
	seen := make(map[string]int)
	for i, r := range doc.Resources {
		seen[r.Name] = i
		for _, dep := range r.DependsOn {
			if _, ok := seen[dep]; !ok {
				t.Errorf("%s planned before its dependency %s", r.Name, dep)
			}
		}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal plan: %v", err)
	}
	if !bytes.Contains(data, []byte(`"priority":500`)) {
		t.Error("expected the site-root priority in the JSON plan")
	}

	var buf bytes.Buffer
	writePlan(&buf, doc)
	if !strings.Contains(buf.String(), "api.shop.local") {
		t.Errorf("text plan missing host header:\n%s", buf.String())
	}
}

func TestRunPlanUnknownFormat(t *testing.T) {
	path := writeTestConfig(t, t.TempDir(), "shop.yaml", validTopology)
	if err := runPlan([]string{"-format", "yaml", path}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestWriteDiff(t *testing.T) {
	oldCfg, err := config.Parse([]byte(validTopology))
	if err != nil {
		t.Fatal(err)
	}
	newCfg, err := config.Parse([]byte(strings.Replace(validTopology, "subdomain: api", "subdomain: api\n    desiredCount: 3", 1)))
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	writeDiff(&buf, config.Diff(oldCfg, newCfg))
	if !strings.Contains(buf.String(), "~ service/api") {
		t.Errorf("diff output missing modified service:\n%s", buf.String())
	}

	buf.Reset()
	writeDiff(&buf, config.Diff(oldCfg, oldCfg))
	if !strings.Contains(buf.String(), "No changes.") {
		t.Errorf("expected no changes, got:\n%s", buf.String())
	}
}

func TestRunApplyMemory(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, "shop.yaml", validTopology)
	dbPath := filepath.Join(dir, "state.db")
	metrics := filepath.Join(dir, "apply.prom")

	if err := runApply([]string{"-state", dbPath, "-metrics-file", metrics, path}); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := runApply([]string{"-state", dbPath, path}); err != nil {
		t.Fatalf("second apply: %v", err)
	}

	store, err := state.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	runs, err := store.ListRuns(context.Background(), "shop", 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	var fresh, reapplied int
	for _, r := range runs {
		switch {
		case r.Created > 0:
			fresh++
		case r.Reused > 0:
			reapplied++
		}
	}
	if fresh != 1 || reapplied != 1 {
		t.Errorf("runs = %d creating and %d reusing, want one of each", fresh, reapplied)
	}

	data, err := os.ReadFile(metrics)
	if err != nil {
		t.Fatalf("metrics file: %v", err)
	}
	if !strings.Contains(string(data), "topology_resources_applied_total") {
		t.Error("metrics file missing the resources counter")
	}

	if err := runRuns([]string{"-state", dbPath, "shop"}); err != nil {
		t.Errorf("runs: %v", err)
	}
}

func TestOpenBackend_Errors(t *testing.T) {
	ctx := context.Background()
	logger := newLogger(&bytes.Buffer{}, false)
	if _, err := openBackend(ctx, backendConfig{Provider: "gcp"}, logger); err == nil {
		t.Error("expected error for unknown provider")
	}
	if _, err := openBackend(ctx, backendConfig{Provider: "memory", Secrets: "aws-sm"}, logger); err == nil {
		t.Error("expected error for aws-sm secrets without the aws provider")
	}
	if _, err := openBackend(ctx, backendConfig{Provider: "memory", Secrets: "file"}, logger); err == nil {
		t.Error("expected error for file secrets without a directory")
	}
	b, err := openBackend(ctx, backendConfig{Provider: "memory", Secrets: "env"}, logger)
	if err != nil {
		t.Fatalf("openBackend: %v", err)
	}
	defer b.Close()
	if b.provider.Name() != "memory" {
		t.Errorf("provider = %q", b.provider.Name())
	}
}

func TestRunDriftMemory(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, "shop.yaml", validTopology)
	dbPath := filepath.Join(dir, "state.db")
	if err := runApply([]string{"-state", dbPath, path}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	// Every memory provider starts empty, so a later process sees all
	// recorded resources as removed.
	err := runDrift([]string{"-provider", "memory", "-state", dbPath, "shop"})
	if err == nil || !strings.Contains(err.Error(), "drifted") {
		t.Fatalf("drift err = %v, want drifted resources", err)
	}
	if err := runDrift([]string{"-provider", "memory", "shop"}); err == nil {
		t.Error("expected error without -state")
	}
}
