package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// UnitDiff represents what changed between two topologies, unit by unit.
// Units are keyed "<kind>/<id>", e.g. "service/accounts".
type UnitDiff struct {
	Added     []string
	Removed   []string
	Modified  []string
	Unchanged []string

	// PlatformChanged is set when the substrate settings differ. Every unit
	// is affected by such a change.
	PlatformChanged bool

	// LinksChanged is set when the link set differs.
	LinksChanged bool
}

// Empty reports whether the topologies are equivalent.
func (d *UnitDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0 &&
		!d.PlatformChanged && !d.LinksChanged
}

// Diff compares two topologies.
func Diff(old, new *TopologyConfig) *UnitDiff {
	diff := &UnitDiff{
		PlatformChanged: hashAny(old.Platform) != hashAny(new.Platform),
		LinksChanged:    hashAny(old.Links) != hashAny(new.Links),
	}
	oldUnits, newUnits := unitHashes(old), unitHashes(new)

	for key, h := range newUnits {
		prev, ok := oldUnits[key]
		switch {
		case !ok:
			diff.Added = append(diff.Added, key)
		case prev != h:
			diff.Modified = append(diff.Modified, key)
		default:
			diff.Unchanged = append(diff.Unchanged, key)
		}
	}
	for key := range oldUnits {
		if _, ok := newUnits[key]; !ok {
			diff.Removed = append(diff.Removed, key)
		}
	}
	for _, s := range [][]string{diff.Added, diff.Removed, diff.Modified, diff.Unchanged} {
		sort.Strings(s)
	}
	return diff
}

func unitHashes(c *TopologyConfig) map[string]string {
	m := make(map[string]string)
	for _, s := range c.Services {
		m["service/"+s.ID] = hashAny(s)
	}
	for _, d := range c.Databases {
		m["database/"+d.ID] = hashAny(d)
	}
	for _, e := range c.External {
		m["external/"+e.ID] = hashAny(e)
	}
	for _, p := range c.Pipelines {
		m["pipeline/"+p.ID] = hashAny(p)
	}
	return m
}

func hashAny(v any) string {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Sprintf("error:%v", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
