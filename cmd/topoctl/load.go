package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/GoCodeAlone/topology/config"
	"github.com/GoCodeAlone/topology/secrets"
	"github.com/GoCodeAlone/topology/topology"
)

// newLogger returns a text logger on w. Verbose output includes the
// composition's debug records.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadTopology reads paths in order and merges each one over the previous,
// expanding ${...} references when x is non-nil.
func loadTopology(ctx context.Context, x config.Expander, paths ...string) (*config.TopologyConfig, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("topology file path is required")
	}
	var merged *config.TopologyConfig
	for _, path := range paths {
		var (
			cfg *config.TopologyConfig
			err error
		)
		if x != nil {
			cfg, err = config.LoadFromFileExpanded(ctx, path, x)
		} else {
			cfg, err = config.LoadFromFile(path)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		if merged == nil {
			merged = cfg
			continue
		}
		merged = config.Merge(merged, cfg)
	}
	return merged, nil
}

// compose loads and composes a topology, logging to stderr.
func compose(ctx context.Context, x config.Expander, verbose bool, paths ...string) (*topology.Topology, error) {
	cfg, err := loadTopology(ctx, x, paths...)
	if err != nil {
		return nil, err
	}
	return topology.Compose(cfg, topology.WithLogger(newLogger(os.Stderr, verbose)))
}

// expander returns the resolver used for ${...} references in topology
// files. Only the env scheme is available before a provider is chosen.
func expander() *secrets.MultiResolver {
	return secrets.NewMultiResolver()
}
