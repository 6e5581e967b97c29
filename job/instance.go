package job

import (
	"time"

	"github.com/SunnyX6/Datapillar-sub003/id"
)

// Instance is one scheduled occurrence of a job definition. An instance
// belongs to exactly one bucket and resides in exactly one worker's memory
// at a time.
type Instance struct {
	ID         id.InstanceID `json:"id"`
	RunID      id.RunID      `json:"run_id"`
	JobID      id.JobID      `json:"job_id"`
	Bucket     int           `json:"bucket"`
	Status     Status        `json:"status"`
	TriggerAt  time.Time     `json:"trigger_at"`
	Params     []byte        `json:"params,omitempty"`
	RetryCount int           `json:"retry_count"`

	// Parents are the instances this one depends on; dispatch is gated
	// on every parent reaching StatusSuccess.
	Parents []id.InstanceID `json:"parents,omitempty"`

	// Def is the enriched definition snapshot. Not persisted with the
	// instance; filled from the definition cache at load time and
	// replaced on definition refresh.
	Def *Definition `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Sharded reports whether this instance executes as claimed offset ranges.
func (i *Instance) Sharded() bool {
	return i.Def != nil && i.Def.Shard.Sharded()
}

// Due reports whether the instance's trigger time has arrived.
func (i *Instance) Due(now time.Time) bool {
	return !i.TriggerAt.After(now)
}

// StatusChange is one status transition, submitted to the batch writer and
// eventually persisted and replicated.
type StatusChange struct {
	InstanceID id.InstanceID `json:"instance_id"`
	Status     Status        `json:"status"`
	At         time.Time     `json:"at"`
	WorkerID   id.WorkerID   `json:"worker_id,omitempty"`
}
