package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"

	"github.com/GoCodeAlone/topology/platform"
	awsprovider "github.com/GoCodeAlone/topology/platform/providers/aws"
	"github.com/GoCodeAlone/topology/platform/providers/memory"
	"github.com/GoCodeAlone/topology/platform/provision"
	"github.com/GoCodeAlone/topology/platform/state"
	"github.com/GoCodeAlone/topology/secrets"
)

// backendConfig selects where an apply provisions, records state and
// reads secrets.
type backendConfig struct {
	Provider    string
	Region      string
	Profile     string
	State       string
	Secrets     string
	VaultAddr   string
	VaultToken  string
	VaultMount  string
	SecretsFile string
}

// backend is an opened set of apply dependencies.
type backend struct {
	provider platform.Provider
	store    platform.StateStore
	secrets  provision.SecretSource
	aws      *awsv2.Config
	closers  []io.Closer
}

// Close releases every opened connection.
func (b *backend) Close() error {
	var first error
	for _, c := range b.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func openBackend(ctx context.Context, cfg backendConfig, logger *slog.Logger) (*backend, error) {
	b := &backend{}
	var memSecrets *secrets.MemoryProvider

	switch cfg.Provider {
	case "", memory.ProviderName:
		memSecrets = secrets.NewMemoryProvider()
		opts := []memory.Option{memory.WithSecrets(memSecrets)}
		if cfg.Region != "" {
			opts = append(opts, memory.WithRegion(cfg.Region))
		}
		b.provider = memory.New(opts...)
	case awsprovider.ProviderName:
		awsCfg, err := awsprovider.LoadConfig(ctx, awsprovider.Config{Region: cfg.Region, Profile: cfg.Profile})
		if err != nil {
			return nil, err
		}
		p, err := awsprovider.New(ctx, awsCfg, awsprovider.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		b.provider = p
		b.aws = &awsCfg
	default:
		return nil, fmt.Errorf("unknown provider %q (want memory or aws)", cfg.Provider)
	}

	store, err := openStore(ctx, cfg.State)
	if err != nil {
		return nil, err
	}
	b.store = store
	if c, ok := store.(io.Closer); ok {
		b.closers = append(b.closers, c)
	}

	src, err := openSecrets(cfg, b.aws, memSecrets)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.secrets = src
	return b, nil
}

// openStore picks a state store from its location: empty for memory, a
// postgres URL, or a SQLite file path.
func openStore(ctx context.Context, location string) (platform.StateStore, error) {
	switch {
	case location == "":
		return state.NewMemoryStore(), nil
	case strings.HasPrefix(location, "postgres://"), strings.HasPrefix(location, "postgresql://"):
		return state.NewPostgresStore(ctx, location)
	default:
		return state.NewSQLiteStore(location)
	}
}

// openSecrets picks the source deferred values read credentials from. The
// default follows the provider: the memory provider's own store, or
// Secrets Manager for aws.
func openSecrets(cfg backendConfig, awsCfg *awsv2.Config, mem *secrets.MemoryProvider) (provision.SecretSource, error) {
	kind := cfg.Secrets
	if kind == "" {
		switch {
		case mem != nil:
			kind = "memory"
		case awsCfg != nil:
			kind = "aws-sm"
		default:
			kind = "env"
		}
	}
	switch kind {
	case "memory":
		if mem == nil {
			return nil, fmt.Errorf("memory secrets are only available with the memory provider")
		}
		return mem, nil
	case "env":
		return secrets.NewEnvProvider(""), nil
	case "file":
		if cfg.SecretsFile == "" {
			return nil, fmt.Errorf("file secrets need -secrets-dir")
		}
		return secrets.NewFileProvider(cfg.SecretsFile), nil
	case "aws-sm":
		if awsCfg == nil {
			return nil, fmt.Errorf("aws-sm secrets are only available with the aws provider")
		}
		return secrets.NewAWSSecretsManagerProvider(*awsCfg), nil
	case "vault":
		addr, token := cfg.VaultAddr, cfg.VaultToken
		if addr == "" {
			addr = os.Getenv("VAULT_ADDR")
		}
		if token == "" {
			token = os.Getenv("VAULT_TOKEN")
		}
		return secrets.NewVaultProvider(secrets.VaultConfig{Address: addr, Token: token, MountPath: cfg.VaultMount})
	default:
		return nil, fmt.Errorf("unknown secrets source %q (want memory, env, file, aws-sm or vault)", kind)
	}
}
