package state

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/GoCodeAlone/topology/platform"
)

// MemoryStore is an in-process platform.StateStore. It is used by dry runs
// and tests and loses everything when the process exits.
type MemoryStore struct {
	mu        sync.RWMutex
	resources map[string]map[string]*platform.ResourceOutput
	runs      map[string][]*platform.Run
	locks     map[string]bool
}

var (
	_ platform.StateStore  = (*MemoryStore)(nil)
	_ platform.Locker      = (*MemoryStore)(nil)
	_ platform.RunRecorder = (*MemoryStore)(nil)
)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		resources: make(map[string]map[string]*platform.ResourceOutput),
		runs:      make(map[string][]*platform.Run),
		locks:     make(map[string]bool),
	}
}

// SaveResource stores a copy of output.
func (s *MemoryStore) SaveResource(_ context.Context, topology string, output *platform.ResourceOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byName, ok := s.resources[topology]
	if !ok {
		byName = make(map[string]*platform.ResourceOutput)
		s.resources[topology] = byName
	}
	byName[output.Name] = copyOutput(output)
	return nil
}

// GetResource returns a copy of the stored output.
func (s *MemoryStore) GetResource(_ context.Context, topology, resourceName string) (*platform.ResourceOutput, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out, ok := s.resources[topology][resourceName]
	if !ok {
		return nil, &platform.ResourceNotFoundError{Name: resourceName, Provider: "memory"}
	}
	return copyOutput(out), nil
}

// ListResources returns copies of a topology's outputs ordered by name.
func (s *MemoryStore) ListResources(_ context.Context, topology string) ([]*platform.ResourceOutput, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*platform.ResourceOutput, 0, len(s.resources[topology]))
	for _, r := range s.resources[topology] {
		out = append(out, copyOutput(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DeleteResource removes a stored output.
func (s *MemoryStore) DeleteResource(_ context.Context, topology, resourceName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resources[topology][resourceName]; !ok {
		return &platform.ResourceNotFoundError{Name: resourceName, Provider: "memory"}
	}
	delete(s.resources[topology], resourceName)
	return nil
}

// SaveRun stores or replaces a run record.
func (s *MemoryStore) SaveRun(_ context.Context, run *platform.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	runs := s.runs[run.Topology]
	for i, r := range runs {
		if r.ID == run.ID {
			runs[i] = &cp
			return nil
		}
	}
	s.runs[run.Topology] = append(runs, &cp)
	return nil
}

// ListRuns returns a topology's runs, most recent first.
func (s *MemoryStore) ListRuns(_ context.Context, topology string, limit int) ([]*platform.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := append([]*platform.Run(nil), s.runs[topology]...)
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// Lock marks a topology as locked until the handle is released.
func (s *MemoryStore) Lock(ctx context.Context, topology string, _ time.Duration) (platform.LockHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks[topology] {
		return nil, &platform.LockConflictError{Topology: topology}
	}
	s.locks[topology] = true
	return memoryLockHandle{store: s, topology: topology}, nil
}

type memoryLockHandle struct {
	store    *MemoryStore
	topology string
}

func (h memoryLockHandle) Unlock(context.Context) error {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	delete(h.store.locks, h.topology)
	return nil
}

func copyOutput(o *platform.ResourceOutput) *platform.ResourceOutput {
	cp := *o
	cp.Properties = make(map[string]any, len(o.Properties))
	for k, v := range o.Properties {
		cp.Properties[k] = v
	}
	return &cp
}
