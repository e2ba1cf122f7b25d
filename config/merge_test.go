package config

import "testing"

func TestMerge_OverrideWins(t *testing.T) {
	count := 3
	base := &TopologyConfig{
		Name:     "bank",
		Platform: PlatformConfig{Region: "us-east-1", Zone: "bankco.local"},
		Services: []ServiceConfig{
			{ID: "accounts", Subdomain: "accounts"},
			{ID: "portal", SiteRoot: true},
		},
		Links: []LinkConfig{{Consumer: "portal", Provider: "accounts", Name: "ACCOUNTS_URL"}},
	}
	override := &TopologyConfig{
		Platform: PlatformConfig{Region: "eu-west-1"},
		Services: []ServiceConfig{
			{ID: "accounts", Subdomain: "accounts", DesiredCount: &count},
			{ID: "payments", Subdomain: "payments"},
		},
		Links: []LinkConfig{
			{Consumer: "portal", Provider: "accounts", Name: "ACCOUNTS_URL"},
			{Consumer: "portal", Provider: "payments", Name: "PAYMENTS_URL"},
		},
	}

	got := Merge(base, override)
	if got.Name != "bank" {
		t.Errorf("Name = %q, want the base name", got.Name)
	}
	if got.Platform.Region != "eu-west-1" || got.Platform.Zone != "bankco.local" {
		t.Errorf("Platform = %+v", got.Platform)
	}
	if len(got.Services) != 3 {
		t.Fatalf("services = %d, want 3", len(got.Services))
	}
	if got.Services[0].DesiredCount == nil || *got.Services[0].DesiredCount != 3 {
		t.Error("expected the override's accounts declaration")
	}
	if got.Services[2].ID != "payments" {
		t.Errorf("appended service = %q, want payments", got.Services[2].ID)
	}
	if len(got.Links) != 2 {
		t.Errorf("links = %d, want 2 (duplicate dropped)", len(got.Links))
	}
	if base.Services[0].DesiredCount != nil {
		t.Error("Merge modified base")
	}
}

func TestMerge_Nil(t *testing.T) {
	cfg := &TopologyConfig{Name: "t"}
	if Merge(nil, cfg) != cfg || Merge(cfg, nil) != cfg {
		t.Error("expected the non-nil side to be returned")
	}
}
