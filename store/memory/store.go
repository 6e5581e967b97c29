// Package memory implements the durable-store contract and every
// replicated-state contract in process memory.
//
// It backs tests and single-process deployments. The replicated sections
// carry last-writer-wins version information so tests can simulate network
// partitions: run two Stores side by side, write to both, then MergeReplica
// to model the gossip catch-up.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/SunnyX6/Datapillar-sub003"
	"github.com/SunnyX6/Datapillar-sub003/id"
	"github.com/SunnyX6/Datapillar-sub003/job"
	"github.com/SunnyX6/Datapillar-sub003/replica"
)

// Compile-time interface checks.
var (
	_ job.Store   = (*Store)(nil)
	_ replica.Set = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithClock injects a clock, letting tests control lease expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

type leaseEntry struct {
	worker id.WorkerID
	until  time.Time
}

type statusEntry struct {
	status job.Status
	at     time.Time
}

// Store is the in-memory backend.
type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	// Durable sections.
	instances    map[id.InstanceID]*job.Instance
	definitions  map[id.JobID]*job.Definition
	rerun        map[id.InstanceID]struct{}
	savedBuckets map[id.WorkerID][]int

	// Replicated sections.
	leases     map[int]leaseEntry
	ranges     map[id.InstanceID]map[int64]replica.Range
	cursors    map[id.InstanceID]int64
	statuses   map[id.InstanceID]statusEntry
	watermark  id.InstanceID
	capacities map[id.WorkerID]replica.Capacity
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		now:          time.Now,
		instances:    make(map[id.InstanceID]*job.Instance),
		definitions:  make(map[id.JobID]*job.Definition),
		rerun:        make(map[id.InstanceID]struct{}),
		savedBuckets: make(map[id.WorkerID][]int),
		leases:       make(map[int]leaseEntry),
		ranges:       make(map[id.InstanceID]map[int64]replica.Range),
		cursors:      make(map[id.InstanceID]int64),
		statuses:     make(map[id.InstanceID]statusEntry),
		capacities:   make(map[id.WorkerID]replica.Capacity),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ──────────────────────────────────────────────────
// Seeding helpers (tests and embedding hosts)
// ──────────────────────────────────────────────────

// PutDefinition stores a definition.
func (s *Store) PutDefinition(d *job.Definition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.definitions[d.ID] = d
}

// PutInstance stores an instance. The definition snapshot is attached on
// load, not here.
func (s *Store) PutInstance(inst *job.Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *inst
	s.instances[inst.ID] = &cp
}

// MarkRerun flags an instance for rerun detection.
func (s *Store) MarkRerun(instID id.InstanceID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rerun[instID] = struct{}{}
}

// Instance returns the stored instance, or nil.
func (s *Store) Instance(instID id.InstanceID) *job.Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[instID]
	if !ok {
		return nil
	}
	cp := *inst
	return &cp
}

// ──────────────────────────────────────────────────
// job.Store — durable contract
// ──────────────────────────────────────────────────

// LoadBuckets bulk-loads all non-terminal instances of the bucket set.
func (s *Store) LoadBuckets(_ context.Context, buckets []int) ([]*job.Instance, error) {
	want := make(map[int]struct{}, len(buckets))
	for _, b := range buckets {
		want[b] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*job.Instance
	for _, inst := range s.instances {
		if _, ok := want[inst.Bucket]; !ok || inst.Status.Terminal() {
			continue
		}
		out = append(out, s.enrichLocked(inst))
	}
	sortByID(out)
	return out, nil
}

// LoadBucket loads all non-terminal instances of one bucket.
func (s *Store) LoadBucket(ctx context.Context, bucket int) ([]*job.Instance, error) {
	return s.LoadBuckets(ctx, []int{bucket})
}

// LoadSince loads instances of the bucket set with ids after the mark.
func (s *Store) LoadSince(_ context.Context, buckets []int, after id.InstanceID) ([]*job.Instance, error) {
	want := make(map[int]struct{}, len(buckets))
	for _, b := range buckets {
		want[b] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*job.Instance
	for _, inst := range s.instances {
		if _, ok := want[inst.Bucket]; !ok || inst.Status.Terminal() {
			continue
		}
		if inst.ID.String() <= after.String() {
			continue
		}
		out = append(out, s.enrichLocked(inst))
	}
	sortByID(out)
	return out, nil
}

// ListRerun returns the subset of failed ids that were marked for rerun.
func (s *Store) ListRerun(_ context.Context, failed []id.InstanceID) ([]*job.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*job.Instance
	for _, instID := range failed {
		if _, ok := s.rerun[instID]; !ok {
			continue
		}
		inst, ok := s.instances[instID]
		if !ok {
			continue
		}
		delete(s.rerun, instID)
		out = append(out, s.enrichLocked(inst))
	}
	sortByID(out)
	return out, nil
}

// PersistStatuses applies a batch of status transitions.
func (s *Store) PersistStatuses(_ context.Context, changes []job.StatusChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range changes {
		inst, ok := s.instances[c.InstanceID]
		if !ok {
			continue
		}
		inst.Status = c.Status
		inst.UpdatedAt = c.At
	}
	return nil
}

// UpdateStatus applies one status transition synchronously.
func (s *Store) UpdateStatus(_ context.Context, instID id.InstanceID, status job.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[instID]
	if !ok {
		return fmt.Errorf("memory: instance %s: %w", instID, datapillar.ErrInstanceNotFound)
	}
	inst.Status = status
	inst.UpdatedAt = s.now().UTC()
	return nil
}

// GetDefinition fetches a definition for enrichment.
func (s *Store) GetDefinition(_ context.Context, jobID id.JobID) (*job.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.definitions[jobID]
	if !ok {
		return nil, fmt.Errorf("memory: definition %s: %w", jobID, datapillar.ErrDefinitionNotFound)
	}
	cp := *d
	return &cp, nil
}

// SavedBuckets returns the buckets durably recorded for the worker.
func (s *Store) SavedBuckets(_ context.Context, workerID id.WorkerID) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int, len(s.savedBuckets[workerID]))
	copy(out, s.savedBuckets[workerID])
	return out, nil
}

// SaveBuckets durably records the worker's held bucket set.
func (s *Store) SaveBuckets(_ context.Context, workerID id.WorkerID, buckets []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]int, len(buckets))
	copy(cp, buckets)
	s.savedBuckets[workerID] = cp
	return nil
}

// enrichLocked copies the instance with its definition snapshot attached.
func (s *Store) enrichLocked(inst *job.Instance) *job.Instance {
	cp := *inst
	if d, ok := s.definitions[inst.JobID]; ok {
		dc := *d
		cp.Def = &dc
	}
	return &cp
}

func sortByID(instances []*job.Instance) {
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].ID.String() < instances[j].ID.String()
	})
}
