package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/GoCodeAlone/topology/observability/tracing"
	"github.com/GoCodeAlone/topology/platform/provision"
	"github.com/GoCodeAlone/topology/topology"
)

func runApply(args []string) error {
	fs := flag.NewFlagSet("apply", flag.ExitOnError)
	var bc backendConfig
	fs.StringVar(&bc.Provider, "provider", "memory", "Provider: memory or aws")
	fs.StringVar(&bc.Region, "region", "", "Provider region (defaults to the topology's platform region)")
	fs.StringVar(&bc.Profile, "profile", "", "AWS shared config profile")
	fs.StringVar(&bc.State, "state", "", "State store: a SQLite file path or a postgres:// URL (default: in memory)")
	fs.StringVar(&bc.Secrets, "secrets", "", "Secret source: memory, env, file, aws-sm or vault (default follows -provider)")
	fs.StringVar(&bc.SecretsFile, "secrets-dir", "", "Directory for the file secret source")
	fs.StringVar(&bc.VaultAddr, "vault-addr", "", "Vault address (default $VAULT_ADDR)")
	fs.StringVar(&bc.VaultToken, "vault-token", "", "Vault token (default $VAULT_TOKEN)")
	fs.StringVar(&bc.VaultMount, "vault-mount", "secret", "Vault KV v2 mount")
	output := fs.String("output", "text", "Output format: text or json")
	metricsFile := fs.String("metrics-file", "", "Write apply metrics in the Prometheus text format to this file")
	otlpEndpoint := fs.String("otlp-endpoint", "", "Export apply traces to this OTLP HTTP endpoint")
	otlpInsecure := fs.Bool("otlp-insecure", true, "Send traces over plain HTTP")
	lockTTL := fs.Duration("lock-ttl", provision.DefaultLockTTL, "How long a crashed apply can hold the topology lock")
	verbose := fs.Bool("v", false, "Log composition details")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: topoctl apply [options] <topology.yaml> [override.yaml...]\n\nProvision a topology. Resources recorded by an earlier apply are reused.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return fmt.Errorf("topology file path is required")
	}
	if *output != "text" && *output != "json" {
		return fmt.Errorf("unknown output %q (want text or json)", *output)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	logger := newLogger(os.Stderr, *verbose)

	cfg, err := loadTopology(ctx, expander(), fs.Args()...)
	if err != nil {
		return err
	}
	if bc.Region == "" {
		bc.Region = cfg.Platform.Region
	}
	top, err := topology.Compose(cfg, topology.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := top.Validate(); err != nil {
		return fmt.Errorf("topology %s is invalid:\n%w", cfg.Name, err)
	}

	b, err := openBackend(ctx, bc, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	opts := []provision.Option{
		provision.WithStateStore(b.store),
		provision.WithSecrets(b.secrets),
		provision.WithLogger(logger),
		provision.WithLockTTL(*lockTTL),
	}
	if *otlpEndpoint != "" {
		exp, err := tracing.NewExporter(ctx, tracing.ExportConfig{
			Endpoint: *otlpEndpoint,
			Insecure: *otlpInsecure,
			Version:  version,
		})
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := exp.Shutdown(shutdownCtx); err != nil {
				logger.Warn("failed to flush traces", "error", err)
			}
		}()
		opts = append(opts, provision.WithTracer(exp.ApplyTracer()))
	}

	p, err := provision.New(b.provider, opts...)
	if err != nil {
		return err
	}
	result, applyErr := p.Apply(ctx, top.Graph())
	if *metricsFile != "" {
		if err := p.Metrics().WriteTextfile(*metricsFile); err != nil {
			logger.Warn("failed to write metrics", "path", *metricsFile, "error", err)
		}
	}
	if applyErr != nil {
		var ae *provision.ApplyError
		if errors.As(applyErr, &ae) {
			return fmt.Errorf("apply stopped at %s %q; rerun to resume: %w", ae.Type, ae.Resource, ae.Err)
		}
		return applyErr
	}

	if *output == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	writeResult(os.Stdout, result)
	return nil
}

func writeResult(w io.Writer, r *provision.Result) {
	fmt.Fprintf(w, "Applied %s with %s (run %s)\n", r.Topology, r.Provider, r.RunID)
	fmt.Fprintf(w, "  %d created, %d updated, %d reused, %d adopted\n", len(r.Created), len(r.Updated), len(r.Reused), len(r.Adopted))
	if len(r.Outputs) > 0 {
		fmt.Fprintln(w, "\nOutputs:")
		for _, o := range r.Outputs {
			fmt.Fprintf(w, "  %s = %s\n", o.Name, o.Value)
		}
	}
}
