package datapillar

import (
	"log/slog"

	"github.com/SunnyX6/Datapillar-sub003/capacity"
	"github.com/SunnyX6/Datapillar-sub003/exec"
	"github.com/SunnyX6/Datapillar-sub003/id"
	"github.com/SunnyX6/Datapillar-sub003/job"
	"github.com/SunnyX6/Datapillar-sub003/observability"
	"github.com/SunnyX6/Datapillar-sub003/replica"
	"github.com/SunnyX6/Datapillar-sub003/shard"
)

// Option configures a Node.
type Option func(*Node) error

// WithConfig replaces the whole configuration in one go. Later options
// still override individual fields.
func WithConfig(cfg Config) Option {
	return func(n *Node) error {
		n.config = cfg
		return nil
	}
}

// WithLogger sets the structured logger for the node and every component
// it wires.
func WithLogger(l *slog.Logger) Option {
	return func(n *Node) error {
		n.logger = l
		return nil
	}
}

// WithMetrics sets the OpenTelemetry-backed metrics sink. Nil disables
// instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(n *Node) error {
		n.metrics = m
		return nil
	}
}

// WithDurableStore sets the durable persistence backend.
func WithDurableStore(s job.Store) Option {
	return func(n *Node) error {
		n.store = s
		return nil
	}
}

// WithReplicaSet sets the replicated-state backend shared by all workers.
func WithReplicaSet(r replica.Set) Option {
	return func(n *Node) error {
		n.replicas = r
		return nil
	}
}

// WithExecutor sets the execution unit dispatches are handed to.
func WithExecutor(e exec.Executor) Option {
	return func(n *Node) error {
		n.executor = e
		return nil
	}
}

// WithForwarder sets the transport used to hand dispatches to less-loaded
// peers. Without one, route-away falls back to a delayed local requeue.
func WithForwarder(f capacity.Forwarder) Option {
	return func(n *Node) error {
		n.forwarder = f
		return nil
	}
}

// WithWorkerID pins the node's worker identity. Defaults to a freshly
// generated id, which means a restarted process only recovers its buckets
// when the same id is passed back in.
func WithWorkerID(wid id.WorkerID) Option {
	return func(n *Node) error {
		n.workerID = wid
		return nil
	}
}

// WithShardCount sets the total number of scheduler shards in the
// deployment.
func WithShardCount(count int) Option {
	return func(n *Node) error {
		n.config.ShardCount = count
		return nil
	}
}

// WithShards restricts which shard ids this node runs a scheduler for.
// Defaults to every shard in [0, ShardCount).
func WithShards(shards []int) Option {
	return func(n *Node) error {
		n.config.Shards = shards
		return nil
	}
}

// WithBuckets sets the size of the partition space.
func WithBuckets(buckets int) Option {
	return func(n *Node) error {
		n.config.Buckets = buckets
		return nil
	}
}

// WithConcurrency sets the maximum number of execution units running
// concurrently on this node.
func WithConcurrency(c int) Option {
	return func(n *Node) error {
		n.config.Concurrency = c
		return nil
	}
}

// WithMaxInstances caps how many job instances one scheduler may hold in
// memory.
func WithMaxInstances(c int) Option {
	return func(n *Node) error {
		n.config.MaxInstances = c
		return nil
	}
}

// WithAddr sets the address this worker advertises in the replicated
// capacity table, for peers that forward work to it.
func WithAddr(addr string) Option {
	return func(n *Node) error {
		n.addr = addr
		return nil
	}
}

// WithRateLimit caps sustained dispatches per second with the given burst.
// Zero disables rate limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(n *Node) error {
		n.ratePerSecond = perSecond
		n.rateBurst = burst
		return nil
	}
}

// WithSizer sets the shard-range sizing strategy used when splitting
// sharded jobs.
func WithSizer(sz shard.Sizer) Option {
	return func(n *Node) error {
		n.sizer = sz
		return nil
	}
}
