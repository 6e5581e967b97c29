package memory

import (
	"context"
	"sort"
	"time"

	"github.com/SunnyX6/Datapillar-sub003/id"
	"github.com/SunnyX6/Datapillar-sub003/job"
	"github.com/SunnyX6/Datapillar-sub003/replica"
)

// ──────────────────────────────────────────────────
// replica.LeaseTable
// ──────────────────────────────────────────────────

// AcquireLease CAS-acquires the bucket when it is unheld, expired, or
// already held by the same worker.
func (s *Store) AcquireLease(_ context.Context, bucket int, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.leases[bucket]
	if ok && entry.until.After(now) && entry.worker != workerID {
		return false, nil
	}
	s.leases[bucket] = leaseEntry{worker: workerID, until: now.Add(ttl)}
	return true, nil
}

// RenewLeases extends the worker's live leases, returning the buckets it
// no longer holds.
func (s *Store) RenewLeases(_ context.Context, buckets []int, workerID id.WorkerID, ttl time.Duration) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var lost []int
	for _, bucket := range buckets {
		entry, ok := s.leases[bucket]
		if !ok || entry.worker != workerID || !entry.until.After(now) {
			lost = append(lost, bucket)
			continue
		}
		entry.until = now.Add(ttl)
		s.leases[bucket] = entry
	}
	return lost, nil
}

// LeaseHolder returns the worker holding a live lease on the bucket.
func (s *Store) LeaseHolder(_ context.Context, bucket int) (id.WorkerID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.leases[bucket]
	if !ok || !entry.until.After(s.now()) {
		return id.Nil, nil
	}
	return entry.worker, nil
}

// ──────────────────────────────────────────────────
// replica.RangeMap
// ──────────────────────────────────────────────────

// NextStart reads the shared claim cursor.
func (s *Store) NextStart(_ context.Context, instID id.InstanceID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursors[instID], nil
}

// TryMarkProcessing atomically claims [start, end). One key per range start
// makes the claim exclusive by construction.
func (s *Store) TryMarkProcessing(_ context.Context, instID id.InstanceID, start, end int64, workerID id.WorkerID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byStart, ok := s.ranges[instID]
	if !ok {
		byStart = make(map[int64]replica.Range)
		s.ranges[instID] = byStart
	}
	if _, claimed := byStart[start]; claimed {
		return false, nil
	}
	byStart[start] = replica.Range{
		Start:     start,
		End:       end,
		State:     replica.RangeProcessing,
		WorkerID:  workerID,
		ClaimedAt: s.now().UTC(),
	}
	return true, nil
}

// UpdateNextStart advances the claim cursor; stale (smaller) writes are
// ignored so the cursor stays a monotonic max.
func (s *Store) UpdateNextStart(_ context.Context, instID id.InstanceID, next int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next > s.cursors[instID] {
		s.cursors[instID] = next
	}
	return nil
}

// MarkRangeCompleted transitions the claim at start to completed.
func (s *Store) MarkRangeCompleted(ctx context.Context, instID id.InstanceID, start int64) error {
	return s.setRangeState(instID, start, replica.RangeCompleted)
}

// MarkRangeFailed transitions the claim at start to failed.
func (s *Store) MarkRangeFailed(_ context.Context, instID id.InstanceID, start int64) error {
	return s.setRangeState(instID, start, replica.RangeFailed)
}

func (s *Store) setRangeState(instID id.InstanceID, start int64, state replica.RangeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byStart, ok := s.ranges[instID]
	if !ok {
		return nil
	}
	r, ok := byStart[start]
	if !ok {
		return nil
	}
	r.State = state
	byStart[start] = r
	return nil
}

// ListRanges returns every recorded range of the instance, ordered by start.
func (s *Store) ListRanges(_ context.Context, instID id.InstanceID) ([]replica.Range, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byStart := s.ranges[instID]
	out := make([]replica.Range, 0, len(byStart))
	for _, r := range byStart {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

// ──────────────────────────────────────────────────
// replica.StatusMap
// ──────────────────────────────────────────────────

// InstanceStatus returns the replicated status of an instance.
func (s *Store) InstanceStatus(_ context.Context, instID id.InstanceID) (job.Status, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.statuses[instID]
	if !ok {
		return "", false, nil
	}
	return entry.status, true, nil
}

// PutStatuses publishes status transitions, last writer wins per instance.
func (s *Store) PutStatuses(_ context.Context, changes []job.StatusChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range changes {
		existing, ok := s.statuses[c.InstanceID]
		if ok && existing.at.After(c.At) {
			continue
		}
		s.statuses[c.InstanceID] = statusEntry{status: c.Status, at: c.At}
	}
	return nil
}

// ──────────────────────────────────────────────────
// replica.Watermark
// ──────────────────────────────────────────────────

// HighWaterMark returns the current mark.
func (s *Store) HighWaterMark(_ context.Context) (id.InstanceID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.watermark, nil
}

// AdvanceHighWaterMark raises the mark monotonically.
func (s *Store) AdvanceHighWaterMark(_ context.Context, candidate id.InstanceID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if candidate.IsNil() || candidate.String() <= s.watermark.String() {
		return false, nil
	}
	s.watermark = candidate
	return true, nil
}

// ──────────────────────────────────────────────────
// replica.CapacityTable
// ──────────────────────────────────────────────────

// PublishCapacity writes the worker's capacity entry, last writer wins.
func (s *Store) PublishCapacity(_ context.Context, c replica.Capacity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.capacities[c.WorkerID]
	if ok && existing.UpdatedAt.After(c.UpdatedAt) {
		return nil
	}
	s.capacities[c.WorkerID] = c
	return nil
}

// ListCapacities returns every worker's latest capacity.
func (s *Store) ListCapacities(_ context.Context) ([]replica.Capacity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]replica.Capacity, 0, len(s.capacities))
	for _, c := range s.capacities {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].WorkerID.String() < out[j].WorkerID.String()
	})
	return out, nil
}

// ──────────────────────────────────────────────────
// Partition/merge simulation
// ──────────────────────────────────────────────────

// MergeReplica folds the peer's replicated sections into this store using
// the same conflict rules the real backends rely on: last-writer-wins for
// statuses and capacities, monotonic max for cursors and the watermark,
// earliest claim wins for conflicting ranges. Durable sections are not
// merged. Tests use two stores plus MergeReplica in both directions to
// model a network partition healing.
func (s *Store) MergeReplica(peer *Store) {
	peer.mu.RLock()
	type peerState struct {
		ranges     map[id.InstanceID]map[int64]replica.Range
		cursors    map[id.InstanceID]int64
		statuses   map[id.InstanceID]statusEntry
		watermark  id.InstanceID
		capacities map[id.WorkerID]replica.Capacity
	}
	snap := peerState{
		ranges:     make(map[id.InstanceID]map[int64]replica.Range, len(peer.ranges)),
		cursors:    make(map[id.InstanceID]int64, len(peer.cursors)),
		statuses:   make(map[id.InstanceID]statusEntry, len(peer.statuses)),
		watermark:  peer.watermark,
		capacities: make(map[id.WorkerID]replica.Capacity, len(peer.capacities)),
	}
	for instID, byStart := range peer.ranges {
		cp := make(map[int64]replica.Range, len(byStart))
		for start, r := range byStart {
			cp[start] = r
		}
		snap.ranges[instID] = cp
	}
	for instID, cur := range peer.cursors {
		snap.cursors[instID] = cur
	}
	for instID, st := range peer.statuses {
		snap.statuses[instID] = st
	}
	for wID, c := range peer.capacities {
		snap.capacities[wID] = c
	}
	peer.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	for instID, byStart := range snap.ranges {
		mine, ok := s.ranges[instID]
		if !ok {
			mine = make(map[int64]replica.Range)
			s.ranges[instID] = mine
		}
		for start, theirs := range byStart {
			ours, claimed := mine[start]
			if !claimed || theirs.ClaimedAt.Before(ours.ClaimedAt) {
				mine[start] = theirs
			}
		}
	}
	for instID, cur := range snap.cursors {
		if cur > s.cursors[instID] {
			s.cursors[instID] = cur
		}
	}
	for instID, theirs := range snap.statuses {
		ours, ok := s.statuses[instID]
		if !ok || theirs.at.After(ours.at) {
			s.statuses[instID] = theirs
		}
	}
	if snap.watermark.String() > s.watermark.String() {
		s.watermark = snap.watermark
	}
	for wID, theirs := range snap.capacities {
		ours, ok := s.capacities[wID]
		if !ok || theirs.UpdatedAt.After(ours.UpdatedAt) {
			s.capacities[wID] = theirs
		}
	}
}
