package platform

// Boundary is a network boundary (a security group) that ingress can be
// granted into.
type Boundary struct {
	// Name is the graph resource name of the security group.
	Name string

	// GroupID is the provider id of the security group.
	GroupID Value

	// DefaultPort is the port granted when a grant does not name one.
	DefaultPort int
}

// NewBoundary returns a Boundary for a security group declared in the graph.
func NewBoundary(resource string, defaultPort int) Boundary {
	return Boundary{
		Name:        resource,
		GroupID:     Attr(resource, "group_id"),
		DefaultPort: defaultPort,
	}
}

// IsZero reports whether the boundary is unset.
func (b Boundary) IsZero() bool { return b.Name == "" }

// IngressGrant permits traffic from one boundary into another.
type IngressGrant struct {
	From Boundary
	To   Boundary
	Port int
}

// EffectivePort is the grant's port, or the destination's default port.
func (g IngressGrant) EffectivePort() int {
	if g.Port != 0 {
		return g.Port
	}
	return g.To.DefaultPort
}

// IngressSet accumulates ingress requests until its owner finalizes, then
// hands them over exactly once. It is the accumulation half of a two-phase
// builder: Add during composition, Drain during the owner's setup.
type IngressSet struct {
	pending []Boundary
	drained bool
}

// Add records a boundary to be granted ingress at finalize time.
func (s *IngressSet) Add(b Boundary) error {
	if b.IsZero() {
		return ErrEmptyBoundary
	}
	if s.drained {
		return ErrIngressFinalized
	}
	s.pending = append(s.pending, b)
	return nil
}

// Drain returns every recorded boundary and closes the set. A second call
// returns ErrIngressFinalized.
func (s *IngressSet) Drain() ([]Boundary, error) {
	if s.drained {
		return nil, ErrIngressFinalized
	}
	s.drained = true
	out := s.pending
	s.pending = nil
	return out, nil
}

// Pending returns the recorded boundaries without closing the set.
func (s *IngressSet) Pending() []Boundary {
	return append([]Boundary(nil), s.pending...)
}

// Len returns the number of boundaries waiting to be drained.
func (s *IngressSet) Len() int { return len(s.pending) }

// Drained reports whether Drain has been called.
func (s *IngressSet) Drained() bool { return s.drained }
