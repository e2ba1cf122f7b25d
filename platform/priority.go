package platform

const (
	// SiteRootPriority is the fixed listener priority of the site-root rule.
	SiteRootPriority = 500

	// PriorityBand scales allocated priorities so that manual rules can be
	// inserted between any two allocated ones.
	PriorityBand = 10
)

// PriorityAllocator hands out listener rule priorities. The counter starts
// at 0 and every call returns the next integer, so values are strictly
// increasing and never reused.
//
// A PriorityAllocator is not safe for concurrent use. Composition is a
// single-threaded pass; callers that share one across goroutines must
// serialize access themselves.
type PriorityAllocator struct {
	last int
}

// Consume increments the counter and returns it.
func (a *PriorityAllocator) Consume() int {
	a.last++
	return a.last
}

// Last returns the most recently allocated value, or 0 if none.
func (a *PriorityAllocator) Last() int { return a.last }
