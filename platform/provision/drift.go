package provision

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GoCodeAlone/topology/platform"
)

// Drift kinds.
const (
	DriftChanged = "changed"
	DriftRemoved = "removed"
)

// DiffEntry is one field whose live value differs from the recorded one.
type DiffEntry struct {
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// Drift is a recorded resource that no longer matches the provider.
type Drift struct {
	Resource string      `json:"resource"`
	Type     string      `json:"type"`
	Kind     string      `json:"kind"`
	Diffs    []DiffEntry `json:"diffs,omitempty"`
}

// DriftReport is the outcome of one drift check.
type DriftReport struct {
	Topology  string        `json:"topology"`
	CheckedAt time.Time     `json:"checkedAt"`
	Duration  time.Duration `json:"duration"`

	// Checked counts resources read back from the provider; Skipped counts
	// those whose driver cannot read or that are not active.
	Checked int `json:"checked"`
	Skipped int `json:"skipped"`

	Drifts []Drift `json:"drifts,omitempty"`
}

// DefaultDriftConcurrency bounds how many reads a drift check runs at once.
const DefaultDriftConcurrency = 4

// driftCheck is the outcome for one recorded resource.
type driftCheck struct {
	checked bool
	drift   *Drift
}

// CheckDrift reads every resource recorded for topology back from the
// provider and reports those that are gone or whose id, endpoint or
// properties changed. Resources whose driver cannot read are skipped. Reads
// run concurrently up to the drift concurrency and wait on the read limiter.
func (p *Provisioner) CheckDrift(ctx context.Context, topology string) (*DriftReport, error) {
	start := time.Now()
	stored, err := p.store.ListResources(ctx, topology)
	if err != nil {
		return nil, fmt.Errorf("list stored resources: %w", err)
	}
	report := &DriftReport{Topology: topology, CheckedAt: p.now().UTC()}

	checks := make([]driftCheck, len(stored))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.driftConcurrency)
	for i, rec := range stored {
		if rec.Status != platform.ResourceStatusActive {
			continue
		}
		driver, err := p.provider.ResourceDriver(rec.Type)
		if err != nil {
			p.logger.Warn("no driver for recorded resource, skipping drift check", "resource", rec.Name, "type", rec.Type)
			continue
		}
		reader, ok := driver.(platform.ResourceReader)
		if !ok {
			continue
		}
		g.Go(func() error {
			if err := p.readLimiter.Wait(gctx); err != nil {
				return err
			}
			live, err := reader.Read(gctx, rec.Name)
			var notFound *platform.ResourceNotFoundError
			switch {
			case errors.As(err, &notFound):
				checks[i] = driftCheck{checked: true, drift: &Drift{Resource: rec.Name, Type: rec.Type, Kind: DriftRemoved}}
			case err != nil:
				return fmt.Errorf("read %s %q: %w", rec.Type, rec.Name, err)
			default:
				checks[i] = driftCheck{checked: true}
				if diffs := diffOutputs(rec, live); len(diffs) > 0 {
					checks[i].drift = &Drift{Resource: rec.Name, Type: rec.Type, Kind: DriftChanged, Diffs: diffs}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, c := range checks {
		if !c.checked {
			report.Skipped++
			continue
		}
		report.Checked++
		if c.drift != nil {
			report.Drifts = append(report.Drifts, *c.drift)
		}
	}
	report.Duration = time.Since(start)
	if len(report.Drifts) > 0 {
		p.logger.Warn("drift detected", "topology", topology, "drifts", len(report.Drifts), "checked", report.Checked)
	} else {
		p.logger.Info("no drift", "topology", topology, "checked", report.Checked)
	}
	return report, nil
}

// diffOutputs compares the id, the endpoint and every property both sides
// report. Properties only one side reports are not drift: drivers read back
// less than they create.
func diffOutputs(stored, live *platform.ResourceOutput) []DiffEntry {
	keys := []string{"id", "endpoint"}
	props := make([]string, 0, len(stored.Properties))
	for k := range stored.Properties {
		if _, ok := live.Properties[k]; ok {
			props = append(props, k)
		}
	}
	sort.Strings(props)
	keys = append(keys, props...)

	var diffs []DiffEntry
	for _, k := range keys {
		want, _ := stored.Property(k)
		got, _ := live.Property(k)
		if want != got {
			diffs = append(diffs, DiffEntry{Field: k, Expected: want, Actual: got})
		}
	}
	return diffs
}
