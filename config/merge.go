package config

// Merge layers override on top of base with override-wins semantics. Units
// are matched by id: a unit present in both is replaced by the override's
// declaration, new units are appended. Platform fields set in override win.
// Links are appended unless an identical link already exists.
func Merge(base, override *TopologyConfig) *TopologyConfig {
	if base == nil {
		return override
	}
	if override == nil {
		return base
	}

	result := &TopologyConfig{
		Name:      base.Name,
		Platform:  mergePlatform(base.Platform, override.Platform),
		Services:  mergeUnits(base.Services, override.Services, func(s ServiceConfig) string { return s.ID }),
		Databases: mergeUnits(base.Databases, override.Databases, func(d DatabaseConfig) string { return d.ID }),
		External:  mergeUnits(base.External, override.External, func(e ExternalConfig) string { return e.ID }),
		Pipelines: mergeUnits(base.Pipelines, override.Pipelines, func(p PipelineConfig) string { return p.ID }),
		Links:     append([]LinkConfig(nil), base.Links...),
		ConfigDir: base.ConfigDir,
	}
	if override.Name != "" {
		result.Name = override.Name
	}
	for _, l := range override.Links {
		dup := false
		for _, existing := range result.Links {
			if existing == l {
				dup = true
				break
			}
		}
		if !dup {
			result.Links = append(result.Links, l)
		}
	}
	return result
}

func mergePlatform(base, override PlatformConfig) PlatformConfig {
	result := base
	if override.Region != "" {
		result.Region = override.Region
	}
	if override.CIDR != "" {
		result.CIDR = override.CIDR
	}
	if override.Zone != "" {
		result.Zone = override.Zone
	}
	if len(override.AvailabilityZones) > 0 {
		result.AvailabilityZones = override.AvailabilityZones
	}
	if override.LenientLinking {
		result.LenientLinking = true
	}
	return result
}

func mergeUnits[T any](base, override []T, id func(T) string) []T {
	if len(override) == 0 {
		return base
	}
	result := make([]T, len(base))
	copy(result, base)

	idx := make(map[string]int, len(result))
	for i, u := range result {
		idx[id(u)] = i
	}
	for _, u := range override {
		if i, ok := idx[id(u)]; ok {
			result[i] = u
			continue
		}
		idx[id(u)] = len(result)
		result = append(result, u)
	}
	return result
}
