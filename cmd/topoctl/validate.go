package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/GoCodeAlone/topology/config"
)

func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	expand := fs.Bool("expand", false, "Expand ${...} references from the environment before validating")
	verbose := fs.Bool("v", false, "Log composition details")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: topoctl validate [options] <topology.yaml> [override.yaml...]\n\nValidate a topology file and its composed graph.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return fmt.Errorf("topology file path is required")
	}

	ctx := context.Background()
	var x config.Expander
	if *expand {
		x = expander()
	}
	top, err := compose(ctx, x, *verbose, fs.Args()...)
	if err != nil {
		return fmt.Errorf("validation failed:\n%w", err)
	}
	if err := top.Validate(); err != nil {
		return fmt.Errorf("validation failed:\n%w", err)
	}

	cfg := top.Config
	fmt.Printf("topology %s is valid (%d services, %d databases, %d external, %d pipelines, %d resources)\n",
		cfg.Name, len(cfg.Services), len(cfg.Databases), len(cfg.External), len(cfg.Pipelines),
		len(top.Graph().Resources()))
	return nil
}
