package replica

import (
	"context"
	"time"

	"github.com/SunnyX6/Datapillar-sub003/id"
	"github.com/SunnyX6/Datapillar-sub003/job"
)

// RangeState represents the claim state of one shard range.
type RangeState string

const (
	// RangeUnclaimed means no worker has claimed the range.
	RangeUnclaimed RangeState = "unclaimed"
	// RangeProcessing means exactly one worker has claimed the range and
	// is executing it.
	RangeProcessing RangeState = "processing"
	// RangeCompleted means the claiming worker finished the range.
	RangeCompleted RangeState = "completed"
	// RangeFailed means the claiming worker reported the range failed.
	RangeFailed RangeState = "failed"
)

// Range is a contiguous interval [Start, End) of a sharded instance's
// offset space, claimed atomically by one worker.
type Range struct {
	Start     int64       `json:"start"`
	End       int64       `json:"end"`
	State     RangeState  `json:"state"`
	WorkerID  id.WorkerID `json:"worker_id,omitempty"`
	ClaimedAt time.Time   `json:"claimed_at,omitzero"`
}

// LeaseTable is the replicated partition-lease contract. At most one live
// lease exists per bucket at any instant; unrenewed leases expire and are
// reclaimed.
type LeaseTable interface {
	// AcquireLease attempts a CAS acquire of the bucket for the worker.
	// Returns true when the worker now holds the lease (including
	// re-acquire of its own live lease).
	AcquireLease(ctx context.Context, bucket int, workerID id.WorkerID, ttl time.Duration) (bool, error)

	// RenewLeases extends every lease the worker still holds and returns
	// the buckets it no longer holds (expired and taken elsewhere).
	RenewLeases(ctx context.Context, buckets []int, workerID id.WorkerID, ttl time.Duration) (lost []int, err error)

	// LeaseHolder returns the worker currently holding the bucket, or
	// id.Nil when the bucket is unheld.
	LeaseHolder(ctx context.Context, bucket int) (id.WorkerID, error)
}

// RangeMap is the replicated shard-range claim contract. Claims are keyed
// by (instance, start offset); disjoint keys make at-most-one-claimer hold
// by construction.
type RangeMap interface {
	// NextStart reads the shared cursor — the next unclaimed offset of
	// the instance. Zero when no claim happened yet.
	NextStart(ctx context.Context, instID id.InstanceID) (int64, error)

	// TryMarkProcessing atomically claims [start, end) for the worker.
	// Returns false when the range start is already claimed.
	TryMarkProcessing(ctx context.Context, instID id.InstanceID, start, end int64, workerID id.WorkerID) (bool, error)

	// UpdateNextStart advances the shared cursor. Stale writes (next
	// below the current cursor) are ignored; the cursor is a monotonic max.
	UpdateNextStart(ctx context.Context, instID id.InstanceID, next int64) error

	// MarkRangeCompleted transitions the claim at start to completed.
	MarkRangeCompleted(ctx context.Context, instID id.InstanceID, start int64) error

	// MarkRangeFailed transitions the claim at start to failed.
	MarkRangeFailed(ctx context.Context, instID id.InstanceID, start int64) error

	// ListRanges returns every recorded range of the instance, ordered
	// by start offset.
	ListRanges(ctx context.Context, instID id.InstanceID) ([]Range, error)
}

// StatusMap is the replicated cross-partition status cache: instance id to
// terminal status. Each worker writes only its own partitions' entries and
// reads everyone's.
type StatusMap interface {
	// InstanceStatus returns the replicated status of an instance. The
	// bool is false when the cache has no entry — callers must treat
	// that as "not yet satisfied", not as an error.
	InstanceStatus(ctx context.Context, instID id.InstanceID) (job.Status, bool, error)

	// PutStatuses publishes a batch of status transitions, last writer
	// wins per instance.
	PutStatuses(ctx context.Context, changes []job.StatusChange) error
}

// Watermark is the replicated high-water mark — the maximum known instance
// id, enabling incremental since-id loads. Instance ids are K-sortable, so
// the max is a string max.
type Watermark interface {
	// HighWaterMark returns the current mark, or id.Nil when unset.
	HighWaterMark(ctx context.Context) (id.InstanceID, error)

	// AdvanceHighWaterMark raises the mark to candidate if candidate is
	// greater. Returns true when the mark moved.
	AdvanceHighWaterMark(ctx context.Context, candidate id.InstanceID) (bool, error)
}

// Capacity is one worker's advertised execution capacity.
type Capacity struct {
	WorkerID       id.WorkerID `json:"worker_id"`
	Addr           string      `json:"addr"`
	MaxConcurrency int         `json:"max_concurrency"`
	Running        int         `json:"running"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Free returns the number of unused execution slots.
func (c Capacity) Free() int {
	free := c.MaxConcurrency - c.Running
	if free < 0 {
		return 0
	}
	return free
}

// CapacityTable is the replicated worker-capacity contract. Each worker
// publishes only its own entry.
type CapacityTable interface {
	// PublishCapacity writes the worker's current capacity, last writer wins.
	PublishCapacity(ctx context.Context, c Capacity) error

	// ListCapacities returns every worker's latest published capacity.
	ListCapacities(ctx context.Context) ([]Capacity, error)
}

// Set bundles every replicated contract one backend implements.
type Set interface {
	LeaseTable
	RangeMap
	StatusMap
	Watermark
	CapacityTable
}
