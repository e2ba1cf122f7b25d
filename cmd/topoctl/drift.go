package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/GoCodeAlone/topology/platform/provision"
)

func runDrift(args []string) error {
	fs := flag.NewFlagSet("drift", flag.ExitOnError)
	var bc backendConfig
	fs.StringVar(&bc.Provider, "provider", "aws", "Provider: memory or aws")
	fs.StringVar(&bc.Region, "region", "", "Provider region")
	fs.StringVar(&bc.Profile, "profile", "", "AWS shared config profile")
	fs.StringVar(&bc.State, "state", "", "State store: a SQLite file path or a postgres:// URL")
	output := fs.String("output", "text", "Output format: text or json")
	concurrency := fs.Int("concurrency", provision.DefaultDriftConcurrency, "Maximum concurrent provider reads")
	readRate := fs.Float64("read-rate", 0, "Maximum provider reads per second (0 means unlimited)")
	verbose := fs.Bool("v", false, "Log every checked resource")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: topoctl drift [options] <topology-name>\n\nRead recorded resources back from the provider and report those that changed or are gone.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("topology name is required")
	}
	if bc.State == "" {
		return fmt.Errorf("-state is required: drift is checked against recorded resources")
	}
	bc.Secrets = "env"

	ctx := context.Background()
	logger := newLogger(os.Stderr, *verbose)
	b, err := openBackend(ctx, bc, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	opts := []provision.Option{
		provision.WithStateStore(b.store),
		provision.WithLogger(logger),
		provision.WithDriftConcurrency(*concurrency),
	}
	if *readRate > 0 {
		opts = append(opts, provision.WithReadRate(*readRate, 1))
	}
	p, err := provision.New(b.provider, opts...)
	if err != nil {
		return err
	}
	report, err := p.CheckDrift(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	if *output == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		writeDrift(os.Stdout, report)
	}
	if len(report.Drifts) > 0 {
		return fmt.Errorf("%d resources drifted", len(report.Drifts))
	}
	return nil
}

func writeDrift(w io.Writer, r *provision.DriftReport) {
	fmt.Fprintf(w, "Topology %s: %d checked, %d skipped, %d drifted\n", r.Topology, r.Checked, r.Skipped, len(r.Drifts))
	for _, d := range r.Drifts {
		fmt.Fprintf(w, "  %s %s %s\n", d.Kind, d.Type, d.Resource)
		for _, diff := range d.Diffs {
			fmt.Fprintf(w, "      %s: %q -> %q\n", diff.Field, diff.Expected, diff.Actual)
		}
	}
}
