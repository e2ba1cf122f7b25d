package platform

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Handle references a resource declared in a Graph.
type Handle struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// Attr returns a deferred Value for one of the resource's output properties.
func (h Handle) Attr(key string) Value { return Attr(h.Name, key) }

// Ref returns a deferred Value for the resource's provider id.
func (h Handle) Ref() Value { return Attr(h.Name, "id") }

// IsZero reports whether the handle is unset.
func (h Handle) IsZero() bool { return h.Name == "" }

// Resource is one declared resource. Property values may be plain Go values,
// Values, *Environment, or slices and maps of those.
type Resource struct {
	Type       string
	Name       string
	Properties map[string]any
	DependsOn  []string
}

// Reads returns every resource this one depends on: explicit dependencies
// plus those read by deferred values in its properties.
func (r *Resource) Reads() []string {
	reads := append([]string(nil), r.DependsOn...)
	for _, k := range sortedKeys(r.Properties) {
		reads = append(reads, propertyReads(r.Properties[k])...)
	}
	return dedupe(reads)
}

// Rendered returns the properties with deferred values shown as
// placeholders.
func (r *Resource) Rendered() map[string]any {
	props := make(map[string]any, len(r.Properties))
	for k, v := range r.Properties {
		props[k] = renderProperty(v)
	}
	return props
}

// RuleKind distinguishes the site-root rule from host-based rules.
type RuleKind string

const (
	RuleDefault RuleKind = "default"
	RuleNamed   RuleKind = "named"
)

// RoutingRule is a listener rule attaching a unit's target group.
type RoutingRule struct {
	Unit        string   `json:"unit"`
	Kind        RuleKind `json:"kind"`
	Priority    int      `json:"priority"`
	HostHeader  string   `json:"hostHeader,omitempty"`
	PathPattern string   `json:"pathPattern,omitempty"`
	TargetGroup string   `json:"targetGroup"`
}

// PublishedRoute is a DNS name a unit answers on.
type PublishedRoute struct {
	Unit  string `json:"unit"`
	Route string `json:"route"`
}

// Output is a named value exported by the composition.
type Output struct {
	Name  string
	Value Value
}

// Graph is the result of a composition pass: every declared resource, the
// routing rules and ingress grants among them, and exported outputs.
// Resources keep their declaration order; Order returns them in dependency
// order for provisioning.
type Graph struct {
	id        string
	name      string
	resources []*Resource
	index     map[string]*Resource
	rules     []RoutingRule
	grants    []IngressGrant
	routes    []PublishedRoute
	outputs   []Output
	envs      []*Environment
	sealed    bool
}

// Checkpoint marks how much a graph held at one point. Rollback returns the
// graph to it.
type Checkpoint struct {
	resources, rules, grants, routes, outputs, envs int
}

// NewGraph returns an empty graph.
func NewGraph(name string) *Graph {
	return &Graph{
		id:    uuid.NewString(),
		name:  name,
		index: make(map[string]*Resource),
	}
}

// ID returns the graph's unique identifier.
func (g *Graph) ID() string { return g.id }

// Name returns the topology name the graph was built for.
func (g *Graph) Name() string { return g.name }

// Add declares a resource.
func (g *Graph) Add(typ, name string, props map[string]any, dependsOn ...string) (Handle, error) {
	if g.sealed {
		return Handle{}, ErrGraphSealed
	}
	if typ == "" || name == "" {
		return Handle{}, fmt.Errorf("%w: type %q name %q", ErrInvalidResource, typ, name)
	}
	if _, exists := g.index[name]; exists {
		return Handle{}, &DuplicateResourceError{Name: name}
	}
	if props == nil {
		props = map[string]any{}
	}
	r := &Resource{Type: typ, Name: name, Properties: props, DependsOn: dedupe(dependsOn)}
	g.resources = append(g.resources, r)
	g.index[name] = r
	for _, v := range props {
		g.trackEnvironments(v)
	}
	return Handle{Type: typ, Name: name}, nil
}

func (g *Graph) trackEnvironments(v any) {
	switch t := v.(type) {
	case *Environment:
		g.envs = append(g.envs, t)
	case []map[string]any:
		for _, m := range t {
			for _, mv := range m {
				g.trackEnvironments(mv)
			}
		}
	case map[string]any:
		for _, mv := range t {
			g.trackEnvironments(mv)
		}
	}
}

// Checkpoint records the graph's current contents.
func (g *Graph) Checkpoint() Checkpoint {
	return Checkpoint{
		resources: len(g.resources),
		rules:     len(g.rules),
		grants:    len(g.grants),
		routes:    len(g.routes),
		outputs:   len(g.outputs),
		envs:      len(g.envs),
	}
}

// Rollback discards everything declared after cp was taken. Units call it
// when a declaration fails partway, so that a retry starts clean.
func (g *Graph) Rollback(cp Checkpoint) {
	if g.sealed {
		return
	}
	for _, r := range g.resources[cp.resources:] {
		delete(g.index, r.Name)
	}
	g.resources = g.resources[:cp.resources]
	g.rules = g.rules[:cp.rules]
	g.grants = g.grants[:cp.grants]
	g.routes = g.routes[:cp.routes]
	g.outputs = g.outputs[:cp.outputs]
	g.envs = g.envs[:cp.envs]
}

// Resource returns a declared resource by name.
func (g *Graph) Resource(name string) (*Resource, bool) {
	r, ok := g.index[name]
	return r, ok
}

// Resources returns every declared resource in declaration order.
func (g *Graph) Resources() []*Resource {
	return append([]*Resource(nil), g.resources...)
}

// ResourcesOfType returns the declared resources of one type.
func (g *Graph) ResourcesOfType(typ string) []*Resource {
	var out []*Resource
	for _, r := range g.resources {
		if r.Type == typ {
			out = append(out, r)
		}
	}
	return out
}

// AddRule records a routing rule and declares the listener rule resource
// that implements it.
func (g *Graph) AddRule(rule RoutingRule, listener, targetGroup Handle) (Handle, error) {
	props := map[string]any{
		"listener_arn":     listener.Ref(),
		"target_group_arn": targetGroup.Ref(),
		"priority":         rule.Priority,
	}
	if rule.HostHeader != "" {
		props["host_header"] = rule.HostHeader
	}
	if rule.PathPattern != "" {
		props["path_pattern"] = rule.PathPattern
	}
	h, err := g.Add(TypeListenerRule, targetGroup.Name+"-rule", props)
	if err != nil {
		return Handle{}, err
	}
	g.rules = append(g.rules, rule)
	return h, nil
}

// RoutingRules returns the recorded routing rules in assignment order.
func (g *Graph) RoutingRules() []RoutingRule {
	return append([]RoutingRule(nil), g.rules...)
}

// Grant records an ingress grant and declares the security group rule that
// implements it. Recording an identical grant again is a no-op.
func (g *Graph) Grant(grant IngressGrant) (Handle, error) {
	if grant.From.IsZero() || grant.To.IsZero() {
		return Handle{}, ErrEmptyBoundary
	}
	port := grant.EffectivePort()
	name := fmt.Sprintf("%s-from-%s-%d", grant.To.Name, grant.From.Name, port)
	if r, ok := g.index[name]; ok && r.Type == TypeSecurityGroupIngress {
		return Handle{Type: r.Type, Name: r.Name}, nil
	}
	h, err := g.Add(TypeSecurityGroupIngress, name, map[string]any{
		"group_id":        grant.To.GroupID,
		"source_group_id": grant.From.GroupID,
		"protocol":        "tcp",
		"port":            port,
	})
	if err != nil {
		return Handle{}, err
	}
	g.grants = append(g.grants, grant)
	return h, nil
}

// IngressGrants returns the recorded grants in the order they were made.
func (g *Graph) IngressGrants() []IngressGrant {
	return append([]IngressGrant(nil), g.grants...)
}

// GrantsInto returns the grants whose destination is the named boundary.
func (g *Graph) GrantsInto(boundary string) []IngressGrant {
	var out []IngressGrant
	for _, gr := range g.grants {
		if gr.To.Name == boundary {
			out = append(out, gr)
		}
	}
	return out
}

// PublishRoute records that unit answers on route.
func (g *Graph) PublishRoute(unit, route string) error {
	if g.sealed {
		return ErrGraphSealed
	}
	g.routes = append(g.routes, PublishedRoute{Unit: unit, Route: route})
	return nil
}

// PublishedRoutes returns the published routes in the order they were made.
func (g *Graph) PublishedRoutes() []PublishedRoute {
	return append([]PublishedRoute(nil), g.routes...)
}

// AddOutput exports a named value.
func (g *Graph) AddOutput(name string, v Value) error {
	if g.sealed {
		return ErrGraphSealed
	}
	for _, o := range g.outputs {
		if o.Name == name {
			return &DuplicateOutputError{Name: name}
		}
	}
	g.outputs = append(g.outputs, Output{Name: name, Value: v})
	return nil
}

// Outputs returns exported outputs in declaration order.
func (g *Graph) Outputs() []Output {
	return append([]Output(nil), g.outputs...)
}

// Seal freezes the graph and every environment it holds. Provisioning reads
// environments after this point, so later writes are rejected.
func (g *Graph) Seal() {
	g.sealed = true
	for _, e := range g.envs {
		e.seal()
	}
}

// Sealed reports whether Seal has been called.
func (g *Graph) Sealed() bool { return g.sealed }

// Order returns resources in dependency order. Among resources whose
// dependencies are satisfied, declaration order is kept.
func (g *Graph) Order() ([]*Resource, error) {
	position := make(map[string]int, len(g.resources))
	for i, r := range g.resources {
		position[r.Name] = i
	}

	inDegree := make(map[string]int, len(g.resources))
	dependents := make(map[string][]string, len(g.resources))
	for _, r := range g.resources {
		for _, dep := range r.Reads() {
			if _, ok := g.index[dep]; !ok {
				return nil, &UnknownDependencyError{Resource: r.Name, Dependency: dep}
			}
			if dep == r.Name {
				return nil, &DependencyCycleError{Resources: []string{r.Name}}
			}
			inDegree[r.Name]++
			dependents[dep] = append(dependents[dep], r.Name)
		}
	}

	var ready []string
	for _, r := range g.resources {
		if inDegree[r.Name] == 0 {
			ready = append(ready, r.Name)
		}
	}

	ordered := make([]*Resource, 0, len(g.resources))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return position[ready[i]] < position[ready[j]] })
		name := ready[0]
		ready = ready[1:]
		ordered = append(ordered, g.index[name])
		for _, d := range dependents[name] {
			inDegree[d]--
			if inDegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}

	if len(ordered) != len(g.resources) {
		var stuck []string
		for _, r := range g.resources {
			if inDegree[r.Name] > 0 {
				stuck = append(stuck, r.Name)
			}
		}
		return nil, &DependencyCycleError{Resources: stuck}
	}
	return ordered, nil
}

// Plans seals the graph and renders every resource in dependency order,
// with deferred values shown as placeholders.
func (g *Graph) Plans() ([]ResourcePlan, error) {
	g.Seal()
	ordered, err := g.Order()
	if err != nil {
		return nil, err
	}
	plans := make([]ResourcePlan, 0, len(ordered))
	for _, r := range ordered {
		plans = append(plans, ResourcePlan{
			ResourceType: r.Type,
			Name:         r.Name,
			Properties:   r.Rendered(),
			DependsOn:    r.Reads(),
		})
	}
	return plans, nil
}

// Validate reports configuration errors the composition pass itself does
// not check: more than one site-root rule, colliding priorities, two units
// publishing one route, unknown dependencies and cycles. The load balancer provider would reject
// collisions at provisioning time; Validate surfaces them before that.
func (g *Graph) Validate() error {
	var errs []error

	byPriority := make(map[int][]string)
	var roots []string
	for _, r := range g.rules {
		byPriority[r.Priority] = append(byPriority[r.Priority], r.Unit)
		if r.Kind == RuleDefault {
			roots = append(roots, r.Unit)
		}
	}
	if len(roots) > 1 {
		errs = append(errs, &RouteCollisionError{Priority: SiteRootPriority, Units: roots, SiteRoot: true})
	}
	priorities := make([]int, 0, len(byPriority))
	for p := range byPriority {
		priorities = append(priorities, p)
	}
	sort.Ints(priorities)
	for _, p := range priorities {
		units := byPriority[p]
		if len(units) > 1 && !(p == SiteRootPriority && len(roots) == len(units)) {
			errs = append(errs, &RouteCollisionError{Priority: p, Units: units})
		}
	}

	isRoot := make(map[string]bool, len(roots))
	for _, u := range roots {
		isRoot[u] = true
	}
	byRoute := make(map[string][]string)
	var routes []string
	for _, r := range g.routes {
		if _, seen := byRoute[r.Route]; !seen {
			routes = append(routes, r.Route)
		}
		byRoute[r.Route] = append(byRoute[r.Route], r.Unit)
	}
	for _, route := range routes {
		units := byRoute[route]
		if len(units) < 2 {
			continue
		}
		allRoots := true
		for _, u := range units {
			allRoots = allRoots && isRoot[u]
		}
		// Competing site roots are already reported above.
		if !allRoots {
			errs = append(errs, &RouteCollisionError{Route: route, Units: units})
		}
	}

	if _, err := g.Order(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ResolveProperties returns props with every Value and Environment resolved.
// Only the provisioning engine calls this.
func ResolveProperties(ctx context.Context, props map[string]any, r Resolver) (map[string]any, error) {
	out := make(map[string]any, len(props))
	for _, k := range sortedKeys(props) {
		v, err := resolveProperty(ctx, props[k], r)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

func resolveProperty(ctx context.Context, v any, r Resolver) (any, error) {
	switch t := v.(type) {
	case Value:
		return t.Resolve(ctx, r)
	case *Environment:
		return t.Resolve(ctx, r)
	case []Value:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, err := item.Resolve(ctx, r)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	case map[string]any:
		return ResolveProperties(ctx, t, r)
	case []map[string]any:
		out := make([]map[string]any, 0, len(t))
		for _, m := range t {
			rm, err := ResolveProperties(ctx, m, r)
			if err != nil {
				return nil, err
			}
			out = append(out, rm)
		}
		return out, nil
	default:
		return v, nil
	}
}

func renderProperty(v any) any {
	switch t := v.(type) {
	case Value:
		return t.String()
	case *Environment:
		return t.Render()
	case []Value:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, item.String())
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, mv := range t {
			out[k] = renderProperty(mv)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, 0, len(t))
		for _, m := range t {
			out = append(out, renderProperty(m).(map[string]any))
		}
		return out
	default:
		return v
	}
}

func propertyReads(v any) []string {
	switch t := v.(type) {
	case Value:
		return t.Reads()
	case *Environment:
		return t.Reads()
	case []Value:
		var reads []string
		for _, item := range t {
			reads = append(reads, item.Reads()...)
		}
		return reads
	case map[string]any:
		var reads []string
		for _, k := range sortedKeys(t) {
			reads = append(reads, propertyReads(t[k])...)
		}
		return reads
	case []map[string]any:
		var reads []string
		for _, m := range t {
			reads = append(reads, propertyReads(m)...)
		}
		return reads
	default:
		return nil
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
