package platform

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	canonicalNamePattern = regexp.MustCompile(`^[a-z][a-z0-9-]{0,62}$`)
	dnsLabelPattern      = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)
)

// siteRootRecord is the DNS record name used for the site root.
const siteRootRecord = "www"

// Destination is where a unit is deployed: the site root or a subdomain of
// the platform zone. The zero Destination is invalid.
type Destination struct {
	subdomain string
	root      bool
}

// SiteRoot is the platform's default, catch-all destination.
var SiteRoot = Destination{root: true}

// Subdomain returns a destination at "<name>.<zone>".
func Subdomain(name string) Destination {
	return Destination{subdomain: name}
}

// IsSiteRoot reports whether d is the site root.
func (d Destination) IsSiteRoot() bool { return d.root }

// RecordName is the DNS record created for the destination.
func (d Destination) RecordName() string {
	if d.root {
		return siteRootRecord
	}
	return d.subdomain
}

// String implements fmt.Stringer.
func (d Destination) String() string {
	if d.root {
		return "site-root"
	}
	return d.subdomain
}

// Validate checks that d is the site root or a valid DNS label other than
// the site root's own record.
func (d Destination) Validate() error {
	if d.root {
		return nil
	}
	if !dnsLabelPattern.MatchString(d.subdomain) {
		return &InvalidNameError{Field: "subdomain", Name: d.subdomain, Reason: "must be a lowercase DNS label"}
	}
	if d.subdomain == siteRootRecord {
		return &InvalidNameError{Field: "subdomain", Name: d.subdomain, Reason: "is reserved for the site root"}
	}
	return nil
}

// ValidateCanonicalName checks that name, lowercased, is usable as a
// repository, log group and service name.
func ValidateCanonicalName(name string) error {
	if name == "" {
		return &InvalidNameError{Field: "canonical name", Name: name, Reason: "must not be empty"}
	}
	if !canonicalNamePattern.MatchString(strings.ToLower(name)) {
		return &InvalidNameError{
			Field:  "canonical name",
			Name:   name,
			Reason: "must start with a letter and contain only letters, digits and hyphens (max 63)",
		}
	}
	return nil
}

// ValidateSubdomain checks that name is a lowercase DNS label.
func ValidateSubdomain(name string) error {
	return Subdomain(name).Validate()
}

// ResourceName joins parts into a lowercase, hyphenated resource name.
func ResourceName(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			kept = append(kept, strings.ToLower(p))
		}
	}
	return strings.Join(kept, "-")
}

// ShortName fits name into max characters. Longer names keep a prefix and
// gain a hash suffix so that distinct inputs stay distinct.
func ShortName(name string, max int) string {
	if len(name) <= max {
		return name
	}
	sum := sha256.Sum256([]byte(name))
	suffix := hex.EncodeToString(sum[:])[:8]
	prefix := strings.TrimRight(name[:max-len(suffix)-1], "-")
	return prefix + "-" + suffix
}
