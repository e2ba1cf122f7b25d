// Package config defines the YAML topology file: the platform substrate, the
// deployable units declared on it and the links between them.
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// PlatformConfig configures the shared substrate.
type PlatformConfig struct {
	Region            string   `json:"region,omitempty" yaml:"region,omitempty"`
	CIDR              string   `json:"cidr,omitempty" yaml:"cidr,omitempty"`
	Zone              string   `json:"zone,omitempty" yaml:"zone,omitempty"`
	AvailabilityZones []string `json:"availabilityZones,omitempty" yaml:"availabilityZones,omitempty"`
	// LenientLinking turns a link to a provider without a route into a
	// logged no-op instead of an error.
	LenientLinking bool `json:"lenientLinking,omitempty" yaml:"lenientLinking,omitempty"`
}

// ServiceConfig declares a compute service and where it is deployed. Exactly
// one of SiteRoot and Subdomain must be set.
type ServiceConfig struct {
	ID            string            `json:"id" yaml:"id"`
	CanonicalName string            `json:"canonicalName,omitempty" yaml:"canonicalName,omitempty"`
	SiteRoot      bool              `json:"siteRoot,omitempty" yaml:"siteRoot,omitempty"`
	Subdomain     string            `json:"subdomain,omitempty" yaml:"subdomain,omitempty"`
	HealthRoute   string            `json:"healthRoute,omitempty" yaml:"healthRoute,omitempty"`
	ContainerPort int               `json:"containerPort,omitempty" yaml:"containerPort,omitempty"`
	Memory        int               `json:"memory,omitempty" yaml:"memory,omitempty"`
	DesiredCount  *int              `json:"desiredCount,omitempty" yaml:"desiredCount,omitempty"`
	ImageTag      string            `json:"imageTag,omitempty" yaml:"imageTag,omitempty"`
	Tracing       *bool             `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Environment   map[string]string `json:"environment,omitempty" yaml:"environment,omitempty"`
	// Ingress lists units whose network boundary this service may reach.
	Ingress []string `json:"ingress,omitempty" yaml:"ingress,omitempty"`
}

// Name returns the canonical name, defaulting to the id.
func (s ServiceConfig) Name() string {
	if s.CanonicalName != "" {
		return s.CanonicalName
	}
	return s.ID
}

// GrantConfig gives a consumer access to a database under an environment
// key.
type GrantConfig struct {
	To   string `json:"to" yaml:"to"`
	Name string `json:"name" yaml:"name"`
}

// DatabaseConfig declares a managed database.
type DatabaseConfig struct {
	ID            string        `json:"id" yaml:"id"`
	Name          string        `json:"name,omitempty" yaml:"name,omitempty"`
	MasterUser    string        `json:"masterUser,omitempty" yaml:"masterUser,omitempty"`
	Engine        string        `json:"engine,omitempty" yaml:"engine,omitempty"`
	EngineVersion string        `json:"engineVersion,omitempty" yaml:"engineVersion,omitempty"`
	InstanceClass string        `json:"instanceClass,omitempty" yaml:"instanceClass,omitempty"`
	Port          int           `json:"port,omitempty" yaml:"port,omitempty"`
	Storage       int           `json:"storage,omitempty" yaml:"storage,omitempty"`
	Grants        []GrantConfig `json:"grants,omitempty" yaml:"grants,omitempty"`
}

// ExternalConfig declares a service hosted outside the topology, reached
// through an interface VPC endpoint and published under Subdomain.
type ExternalConfig struct {
	ID          string `json:"id" yaml:"id"`
	ServiceName string `json:"serviceName" yaml:"serviceName"`
	Subdomain   string `json:"subdomain" yaml:"subdomain"`
}

// PipelineConfig declares the build/deploy pipeline of one service.
type PipelineConfig struct {
	ID          string            `json:"id" yaml:"id"`
	Service     string            `json:"service" yaml:"service"`
	Branch      string            `json:"branch,omitempty" yaml:"branch,omitempty"`
	BuildSpec   string            `json:"buildSpec,omitempty" yaml:"buildSpec,omitempty"`
	BuildImage  string            `json:"buildImage,omitempty" yaml:"buildImage,omitempty"`
	Environment map[string]string `json:"environment,omitempty" yaml:"environment,omitempty"`
	Ingress     []string          `json:"ingress,omitempty" yaml:"ingress,omitempty"`
}

// LinkConfig propagates Provider's route into Consumer's environment under
// Name.
type LinkConfig struct {
	Consumer string `json:"consumer" yaml:"consumer"`
	Provider string `json:"provider" yaml:"provider"`
	Name     string `json:"name" yaml:"name"`
}

// TopologyConfig is the root of a topology file.
type TopologyConfig struct {
	Name      string           `json:"name" yaml:"name"`
	Platform  PlatformConfig   `json:"platform,omitempty" yaml:"platform,omitempty"`
	Services  []ServiceConfig  `json:"services,omitempty" yaml:"services,omitempty"`
	Databases []DatabaseConfig `json:"databases,omitempty" yaml:"databases,omitempty"`
	External  []ExternalConfig `json:"external,omitempty" yaml:"external,omitempty"`
	Pipelines []PipelineConfig `json:"pipelines,omitempty" yaml:"pipelines,omitempty"`
	Links     []LinkConfig     `json:"links,omitempty" yaml:"links,omitempty"`

	// ConfigDir is the directory of the file the config was loaded from.
	ConfigDir string `json:"-" yaml:"-"`
}

// Expander replaces ${...} references in text. *secrets.MultiResolver
// implements it.
type Expander interface {
	Expand(ctx context.Context, input string) (string, error)
}

// Parse decodes a topology document. Unknown fields are rejected.
func Parse(data []byte) (*TopologyConfig, error) {
	var cfg TopologyConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("topology document is empty")
		}
		return nil, fmt.Errorf("failed to parse topology: %w", err)
	}
	return &cfg, nil
}

// LoadFromFile loads a topology from a YAML file.
func LoadFromFile(path string) (*TopologyConfig, error) {
	return LoadFromFileExpanded(context.Background(), path, nil)
}

// LoadFromFileExpanded loads a topology, first expanding ${VAR} and
// ${scheme:key} references in the file through x. A nil x skips expansion.
func LoadFromFileExpanded(ctx context.Context, path string, x Expander) (*TopologyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology file: %w", err)
	}
	if x != nil {
		expanded, err := x.Expand(ctx, string(data))
		if err != nil {
			return nil, fmt.Errorf("expand %s: %w", path, err)
		}
		data = []byte(expanded)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if abs, err := filepath.Abs(filepath.Dir(path)); err == nil {
		cfg.ConfigDir = abs
	}
	return cfg, nil
}
