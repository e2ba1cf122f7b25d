// Package drivers implements platform.ResourceDriver for each AWS resource
// type the composition emits. Every driver wraps a narrow client interface
// over its SDK service client so that tests can substitute a fake.
package drivers

import (
	"fmt"
	"sort"
	"strings"
	"time"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"

	"github.com/GoCodeAlone/topology/platform"
)

// ProviderName is reported in not-found errors.
const ProviderName = "aws"

// ResourceTag is set on every taggable resource to the graph resource name,
// so that Read can find resources a previous apply created.
const ResourceTag = "topology:resource"

// stringProp extracts a string property with a default value.
func stringProp(props map[string]any, key, def string) string {
	if s, ok := props[key].(string); ok && s != "" {
		return s
	}
	return def
}

// stringSliceProp extracts a string slice from a properties map.
func stringSliceProp(props map[string]any, key string) []string {
	v, ok := props[key]
	if !ok {
		return nil
	}
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		var result []string
		for _, item := range s {
			if str, ok := item.(string); ok {
				result = append(result, str)
			}
		}
		return result
	default:
		return nil
	}
}

// intProp extracts an int property with a default value.
func intProp(props map[string]any, key string, def int) int {
	v, ok := props[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}

// boolProp extracts a bool property with a default value.
func boolProp(props map[string]any, key string, def bool) bool {
	b, ok := props[key].(bool)
	if !ok {
		return def
	}
	return b
}

// mapProp extracts a nested property map.
func mapProp(props map[string]any, key string) map[string]any {
	m, _ := props[key].(map[string]any)
	return m
}

// stringMapProp extracts a string-valued map such as a resolved environment.
// Keys are returned sorted.
func stringMapProp(props map[string]any, key string) ([]string, map[string]string) {
	out := make(map[string]string)
	switch m := props[key].(type) {
	case map[string]string:
		for k, v := range m {
			out[k] = v
		}
	case map[string]any:
		for k, v := range m {
			out[k] = fmt.Sprintf("%v", v)
		}
	}
	keys := make([]string, 0, len(out))
	for k := range out {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, out
}

func requireProp(resource, name string, props map[string]any, key string) (string, error) {
	s := stringProp(props, key, "")
	if s == "" {
		return "", fmt.Errorf("%s: create %q: %s is required", resource, name, key)
	}
	return s, nil
}

func deref(s *string) string {
	return awsv2.ToString(s)
}

// arnSuffix returns what follows marker in arn, or "".
func arnSuffix(arn, marker string) string {
	i := strings.Index(arn, marker)
	if i < 0 {
		return ""
	}
	return arn[i+len(marker):]
}

func output(id string, props map[string]any) *platform.ResourceOutput {
	return &platform.ResourceOutput{
		ID:         id,
		Properties: props,
		Status:     platform.ResourceStatusActive,
		LastSynced: time.Now().UTC(),
	}
}

func notFound(name string) error {
	return &platform.ResourceNotFoundError{Name: name, Provider: ProviderName}
}
