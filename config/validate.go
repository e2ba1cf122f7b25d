package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/GoCodeAlone/topology/platform"
)

// ValidationError describes one problem in a topology file.
type ValidationError struct {
	// Path locates the offending field, e.g. "services[accounts].subdomain".
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return e.Path + ": " + e.Message
}

type unitKind string

const (
	kindService  unitKind = "service"
	kindDatabase unitKind = "database"
	kindExternal unitKind = "external"
	kindPipeline unitKind = "pipeline"
)

type validator struct {
	units map[string]unitKind
	errs  []error
}

func (v *validator) fail(path, format string, args ...any) {
	v.errs = append(v.errs, &ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) declare(kind unitKind, id string) {
	path := fmt.Sprintf("%ss[%s]", kind, id)
	if err := platform.ValidateCanonicalName(id); err != nil {
		v.fail(path, "%v", err)
	}
	key := strings.ToLower(id)
	if prev, ok := v.units[key]; ok {
		v.fail(path, "id already used by a %s", prev)
		return
	}
	v.units[key] = kind
}

func (v *validator) expect(path, id string, kinds ...unitKind) {
	got, ok := v.units[strings.ToLower(id)]
	if !ok {
		v.fail(path, "unknown unit %q", id)
		return
	}
	for _, k := range kinds {
		if got == k {
			return
		}
	}
	v.fail(path, "%q is a %s", id, got)
}

// Validate checks the topology for problems composition would fail on, and
// for route collisions the load balancer would reject at provisioning time.
// All problems are reported, joined.
func (c *TopologyConfig) Validate() error {
	v := &validator{units: make(map[string]unitKind)}
	if c.Name == "" {
		v.fail("name", "is required")
	} else if err := platform.ValidateCanonicalName(c.Name); err != nil {
		v.fail("name", "%v", err)
	}

	for _, s := range c.Services {
		v.declare(kindService, s.ID)
	}
	for _, d := range c.Databases {
		v.declare(kindDatabase, d.ID)
	}
	for _, e := range c.External {
		v.declare(kindExternal, e.ID)
	}
	for _, p := range c.Pipelines {
		v.declare(kindPipeline, p.ID)
	}

	// subdomain -> first claimant
	claimed := make(map[string]string)
	var siteRoot string
	claim := func(path, owner, subdomain string) {
		if err := platform.ValidateSubdomain(subdomain); err != nil {
			v.fail(path, "%v", err)
			return
		}
		if prev, ok := claimed[subdomain]; ok {
			v.fail(path, "subdomain %q already claimed by %s", subdomain, prev)
			return
		}
		claimed[subdomain] = owner
	}

	for _, s := range c.Services {
		path := "services[" + s.ID + "]"
		if s.CanonicalName != "" {
			if err := platform.ValidateCanonicalName(s.CanonicalName); err != nil {
				v.fail(path+".canonicalName", "%v", err)
			}
		}
		switch {
		case s.SiteRoot && s.Subdomain != "":
			v.fail(path, "siteRoot and subdomain are mutually exclusive")
		case s.SiteRoot:
			if siteRoot != "" {
				v.fail(path+".siteRoot", "site root already claimed by %s", siteRoot)
			} else {
				siteRoot = s.ID
			}
		case s.Subdomain != "":
			claim(path+".subdomain", s.ID, s.Subdomain)
		default:
			v.fail(path, "one of siteRoot or subdomain is required")
		}
		if s.HealthRoute != "" && !strings.HasPrefix(s.HealthRoute, "/") {
			v.fail(path+".healthRoute", "must be an absolute path")
		}
		if s.DesiredCount != nil && *s.DesiredCount < 0 {
			v.fail(path+".desiredCount", "must not be negative")
		}
		for i, target := range s.Ingress {
			v.expect(fmt.Sprintf("%s.ingress[%d]", path, i), target, kindService, kindDatabase, kindExternal)
		}
	}

	for _, d := range c.Databases {
		path := "databases[" + d.ID + "]"
		names := make(map[string]bool)
		for i, g := range d.Grants {
			gp := fmt.Sprintf("%s.grants[%d]", path, i)
			v.expect(gp+".to", g.To, kindService, kindPipeline)
			if g.Name == "" {
				v.fail(gp+".name", "is required")
			}
			key := strings.ToLower(g.To) + "/" + g.Name
			if names[key] {
				v.fail(gp, "duplicate grant of %s to %s", g.Name, g.To)
			}
			names[key] = true
		}
	}

	for _, e := range c.External {
		path := "externals[" + e.ID + "]"
		if e.ServiceName == "" {
			v.fail(path+".serviceName", "is required")
		}
		claim(path+".subdomain", e.ID, e.Subdomain)
	}

	for _, p := range c.Pipelines {
		path := "pipelines[" + p.ID + "]"
		v.expect(path+".service", p.Service, kindService)
		for i, target := range p.Ingress {
			v.expect(fmt.Sprintf("%s.ingress[%d]", path, i), target, kindService, kindDatabase, kindExternal)
		}
	}

	for i, l := range c.Links {
		path := fmt.Sprintf("links[%d]", i)
		v.expect(path+".consumer", l.Consumer, kindService, kindPipeline)
		v.expect(path+".provider", l.Provider, kindService, kindExternal, kindDatabase)
		if l.Name == "" {
			v.fail(path+".name", "is required")
		}
	}

	return errors.Join(v.errs...)
}
