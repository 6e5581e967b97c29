// Package exec defines the execution-unit contract produced by the
// scheduling core: self-contained execute commands, advisory cancel
// commands, and the completion reports that flow back into a scheduler's
// mailbox.
//
// The core never force-kills an execution unit. Cancel is a message; the
// unit must observe it and stop on its own.
package exec

import (
	"context"
	"time"

	"github.com/SunnyX6/Datapillar-sub003/id"
	"github.com/SunnyX6/Datapillar-sub003/job"
)

// ExecuteCommand carries every field an execution unit needs, so execution
// requires no further lookups against the scheduler or the store.
type ExecuteCommand struct {
	InstanceID id.InstanceID `json:"instance_id"`
	RunID      id.RunID      `json:"run_id"`
	JobID      id.JobID      `json:"job_id"`
	Name       string        `json:"name"`
	Component  string        `json:"component"`
	Params     []byte        `json:"params,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty"`
	Priority   int           `json:"priority"`
	RetryCount int           `json:"retry_count"`

	// Range bounds for sharded execution. Sharded is false for single
	// jobs; [RangeStart, RangeEnd) is the claimed interval otherwise.
	Sharded    bool  `json:"sharded"`
	RangeStart int64 `json:"range_start,omitempty"`
	RangeEnd   int64 `json:"range_end,omitempty"`
}

// CancelCommand asks an execution unit to stop. Advisory only.
type CancelCommand struct {
	InstanceID id.InstanceID `json:"instance_id"`
}

// Report is the terminal completion report of one execution unit.
type Report struct {
	InstanceID id.InstanceID `json:"instance_id"`
	Status     job.Status    `json:"status"`
	Error      string        `json:"error,omitempty"`
	FinishedAt time.Time     `json:"finished_at"`
}

// SplitReport is the completion report of one claimed shard range.
type SplitReport struct {
	InstanceID id.InstanceID `json:"instance_id"`
	Start      int64         `json:"start"`
	End        int64         `json:"end"`
	Status     job.Status    `json:"status"`
	Error      string        `json:"error,omitempty"`
}

// Executor is the execution-unit contract consumed by the scheduler.
// Execute must accept the command and return quickly; the actual work runs
// elsewhere and completion arrives through the Reporter.
type Executor interface {
	Execute(ctx context.Context, cmd ExecuteCommand) error
	Cancel(ctx context.Context, cmd CancelCommand) error
}

// Reporter consumes completion reports. The scheduler implements it by
// re-injecting reports into its own mailbox.
type Reporter interface {
	ReportCompleted(r Report)
	ReportSplitCompleted(r SplitReport)
}
