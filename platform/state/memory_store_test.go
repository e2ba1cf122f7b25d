package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/GoCodeAlone/topology/platform"
)

func TestMemoryStore_ResourceLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	out := &platform.ResourceOutput{
		Name:       "shop-vpc",
		Type:       platform.TypeVPC,
		ID:         "vpc-0abc",
		Properties: map[string]any{"cidr": "108.0.0.0/16"},
	}
	if err := store.SaveResource(ctx, "shop", out); err != nil {
		t.Fatalf("SaveResource: %v", err)
	}

	// The store keeps its own copy.
	out.Properties["cidr"] = "changed"

	got, err := store.GetResource(ctx, "shop", "shop-vpc")
	if err != nil {
		t.Fatalf("GetResource: %v", err)
	}
	if got.Properties["cidr"] != "108.0.0.0/16" {
		t.Errorf("Properties[cidr] = %v, want 108.0.0.0/16", got.Properties["cidr"])
	}

	if _, err := store.GetResource(ctx, "other", "shop-vpc"); err == nil {
		t.Error("expected not found for another topology")
	}

	if err := store.DeleteResource(ctx, "shop", "shop-vpc"); err != nil {
		t.Fatalf("DeleteResource: %v", err)
	}
	var nf *platform.ResourceNotFoundError
	if err := store.DeleteResource(ctx, "shop", "shop-vpc"); !errors.As(err, &nf) {
		t.Errorf("second DeleteResource error = %v, want ResourceNotFoundError", err)
	}
}

func TestMemoryStore_ListResourcesSorted(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for _, n := range []string{"c", "a", "b"} {
		_ = store.SaveResource(ctx, "shop", &platform.ResourceOutput{Name: n})
	}
	list, err := store.ListResources(ctx, "shop")
	if err != nil {
		t.Fatalf("ListResources: %v", err)
	}
	var names []string
	for _, r := range list {
		names = append(names, r.Name)
	}
	if len(names) != 3 || names[0] != "a" || names[1] != "b" || names[2] != "c" {
		t.Errorf("names = %v, want [a b c]", names)
	}
}

func TestMemoryStore_RunsAndLock(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	start := time.Now()

	_ = store.SaveRun(ctx, &platform.Run{ID: "1", Topology: "shop", StartedAt: start})
	_ = store.SaveRun(ctx, &platform.Run{ID: "2", Topology: "shop", StartedAt: start.Add(time.Second)})
	_ = store.SaveRun(ctx, &platform.Run{ID: "1", Topology: "shop", StartedAt: start, Status: platform.ResourceStatusFailed})

	runs, err := store.ListRuns(ctx, "shop", 1)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "2" {
		t.Fatalf("ListRuns(limit 1) = %+v, want run 2", runs)
	}
	all, _ := store.ListRuns(ctx, "shop", 0)
	if len(all) != 2 || all[1].Status != platform.ResourceStatusFailed {
		t.Errorf("ListRuns = %+v, want 2 runs with run 1 failed", all)
	}

	h, err := store.Lock(ctx, "shop", time.Minute)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if _, err := store.Lock(ctx, "shop", time.Minute); err == nil {
		t.Fatal("expected conflict on second lock")
	}
	if err := h.Unlock(ctx); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if _, err := store.Lock(ctx, "shop", time.Minute); err != nil {
		t.Fatalf("Lock after Unlock: %v", err)
	}
}
