package job

import (
	"context"

	"github.com/SunnyX6/Datapillar-sub003/id"
)

// Store is the durable persistence contract consumed by the scheduling core.
// Every call is made off the scheduler goroutine; results re-enter the
// scheduler's mailbox as messages.
type Store interface {
	// LoadBuckets bulk-loads all non-terminal instances of the given
	// bucket set, definitions enriched.
	LoadBuckets(ctx context.Context, buckets []int) ([]*Instance, error)

	// LoadBucket loads all non-terminal instances of a single bucket.
	LoadBucket(ctx context.Context, bucket int) ([]*Instance, error)

	// LoadSince loads instances of the bucket set created after the given
	// instance id (exclusive). Instance ids are K-sortable, so "after"
	// is a plain string comparison.
	LoadSince(ctx context.Context, buckets []int, after id.InstanceID) ([]*Instance, error)

	// ListRerun returns instances from the failed-id list that have been
	// marked for rerun externally and should re-enter WAITING.
	ListRerun(ctx context.Context, failed []id.InstanceID) ([]*Instance, error)

	// PersistStatuses writes a batch of status transitions in one call.
	PersistStatuses(ctx context.Context, changes []StatusChange) error

	// UpdateStatus synchronously writes a single status transition.
	// Used only on the cancellation path, where write-before-ack matters.
	// An unknown instance id is an error wrapping the backend's
	// not-found sentinel.
	UpdateStatus(ctx context.Context, instanceID id.InstanceID, status Status) error

	// GetDefinition fetches a definition for enrichment. A missing
	// definition is an error wrapping the backend's not-found sentinel.
	GetDefinition(ctx context.Context, jobID id.JobID) (*Definition, error)

	// SavedBuckets returns the buckets durably recorded as held by the
	// worker, for lease recovery after a restart.
	SavedBuckets(ctx context.Context, workerID id.WorkerID) ([]int, error)

	// SaveBuckets durably records the bucket set held by the worker.
	SaveBuckets(ctx context.Context, workerID id.WorkerID, buckets []int) error
}
