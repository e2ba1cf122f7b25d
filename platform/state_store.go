package platform

import (
	"context"
	"time"
)

// StateStore persists the outputs of provisioned resources. State is
// partitioned by topology name so that applying the same topology twice
// reuses what the first run created.
type StateStore interface {
	// SaveResource persists the state of a resource within a topology.
	SaveResource(ctx context.Context, topology string, output *ResourceOutput) error

	// GetResource retrieves a resource's state by topology and resource name.
	// Returns a *ResourceNotFoundError when nothing was saved.
	GetResource(ctx context.Context, topology, resourceName string) (*ResourceOutput, error)

	// ListResources returns all resources in a topology ordered by name.
	ListResources(ctx context.Context, topology string) ([]*ResourceOutput, error)

	// DeleteResource removes a resource from state.
	DeleteResource(ctx context.Context, topology, resourceName string) error
}

// Locker is implemented by state stores that can serialize applies of the
// same topology.
type Locker interface {
	// Lock acquires an advisory lock for a topology. The TTL bounds how long
	// a crashed holder can block others.
	Lock(ctx context.Context, topology string, ttl time.Duration) (LockHandle, error)
}

// LockHandle represents an advisory lock on a topology. Locks must be
// explicitly released.
type LockHandle interface {
	// Unlock releases the advisory lock.
	Unlock(ctx context.Context) error
}

// Run records one apply of a topology.
type Run struct {
	ID         string         `json:"id"`
	Topology   string         `json:"topology"`
	Provider   string         `json:"provider"`
	Status     ResourceStatus `json:"status"`
	Created    int            `json:"created"` // created or updated
	Reused     int            `json:"reused"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
}

// RunRecorder is implemented by state stores that keep an apply history.
type RunRecorder interface {
	// SaveRun persists a run, replacing any earlier record with the same ID.
	SaveRun(ctx context.Context, run *Run) error

	// ListRuns returns a topology's runs, most recent first.
	ListRuns(ctx context.Context, topology string, limit int) ([]*Run, error)
}
