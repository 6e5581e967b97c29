package job

import (
	"time"

	"github.com/SunnyX6/Datapillar-sub003/id"
)

// BlockStrategy decides what happens when an instance becomes due while
// other instances of the same definition are still running.
type BlockStrategy string

const (
	// BlockParallel runs the new instance alongside any running ones.
	BlockParallel BlockStrategy = "parallel"
	// BlockDiscard drops the new instance if any instance of the same
	// definition is running.
	BlockDiscard BlockStrategy = "discard"
	// BlockCover cancels every running instance of the same definition,
	// then dispatches the new one.
	BlockCover BlockStrategy = "cover"
)

// RouteStrategy decides where an instance runs when local capacity is full.
type RouteStrategy string

const (
	// RouteLocal always executes locally, delaying when capacity is full.
	RouteLocal RouteStrategy = "local"
	// RouteLeastLoaded prefers the least-loaded peer when local capacity
	// is full, falling back to a delayed local requeue.
	RouteLeastLoaded RouteStrategy = "least_loaded"
)

// RetryPolicy configures automatic retry of failed executions.
type RetryPolicy struct {
	// MaxRetries is how many times a failed execution is retried before
	// the instance goes terminal. Zero disables retries.
	MaxRetries int `json:"max_retries"`
	// Interval is the delay between retries.
	Interval time.Duration `json:"interval"`
}

// ShardSpec configures sharded execution of a definition. A definition is
// sharded when Total > 0: its workload is an integer offset space [0, Total)
// that workers split into ranges and claim autonomously.
type ShardSpec struct {
	// Total is the exclusive upper bound of the offset space.
	Total int64 `json:"total"`
}

// Sharded reports whether instances of this spec execute as claimed ranges.
func (s ShardSpec) Sharded() bool { return s.Total > 0 }

// Definition describes a job: what component runs it, with what parameters
// and policies. Definitions are owned by the relational store; the scheduler
// holds read-only enriched copies.
type Definition struct {
	ID         id.JobID      `json:"id"`
	WorkflowID id.WorkflowID `json:"workflow_id"`
	Name       string        `json:"name"`
	Component  string        `json:"component"`
	Params     []byte        `json:"params,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty"`
	Retry      RetryPolicy   `json:"retry"`
	Block      BlockStrategy `json:"block"`
	Route      RouteStrategy `json:"route"`
	Priority   int           `json:"priority"`
	Shard      ShardSpec     `json:"shard"`

	// Schedule is an optional cron expression. When set, a successful
	// instance enqueues the next occurrence.
	Schedule string `json:"schedule,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
