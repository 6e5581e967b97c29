package datapillar

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SunnyX6/Datapillar-sub003/batch"
	"github.com/SunnyX6/Datapillar-sub003/capacity"
	"github.com/SunnyX6/Datapillar-sub003/exec"
	"github.com/SunnyX6/Datapillar-sub003/id"
	"github.com/SunnyX6/Datapillar-sub003/job"
	"github.com/SunnyX6/Datapillar-sub003/lease"
	"github.com/SunnyX6/Datapillar-sub003/observability"
	"github.com/SunnyX6/Datapillar-sub003/replica"
	"github.com/SunnyX6/Datapillar-sub003/sched"
	"github.com/SunnyX6/Datapillar-sub003/shard"
	"github.com/SunnyX6/Datapillar-sub003/timer"
)

// Node is the per-process coordinator. It wires the shared timer service,
// the partition lease manager, the status batch writer and the capacity
// manager, and runs one scheduler per shard this node is configured for.
//
// Create one with NewNode and functional options, then Start it. A Node is
// single-use: once stopped it cannot be restarted.
type Node struct {
	config   Config
	logger   *slog.Logger
	metrics  *observability.Metrics
	workerID id.WorkerID

	store     job.Store
	replicas  replica.Set
	executor  exec.Executor
	forwarder capacity.Forwarder
	sizer     shard.Sizer

	addr          string
	ratePerSecond float64
	rateBurst     int

	timers     *timer.Service
	leases     *lease.Manager
	writer     *batch.Writer
	capacity   *capacity.Manager
	schedulers map[int]*sched.Scheduler

	mu      sync.Mutex
	started bool
	stopped bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewNode creates a Node and wires its components. The durable store, the
// replica set and the executor are required; everything else has defaults.
func NewNode(opts ...Option) (*Node, error) {
	n := &Node{
		config: DefaultConfig(),
		logger: slog.Default(),
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(n); err != nil {
			return nil, err
		}
	}

	if n.store == nil {
		return nil, ErrNoStore
	}
	if n.replicas == nil {
		return nil, ErrNoReplica
	}
	if n.executor == nil {
		return nil, ErrNoExecutor
	}
	if n.config.ShardCount <= 0 {
		return nil, fmt.Errorf("datapillar: shard count %d, want > 0", n.config.ShardCount)
	}
	if n.workerID.IsNil() {
		n.workerID = id.NewWorkerID()
	}
	n.logger = n.logger.With(slog.String("worker_id", n.workerID.String()))

	n.timers = timer.NewService()
	n.leases = lease.NewManager(n.replicas, n.store, n.workerID,
		lease.WithTTL(n.config.LeaseTTL),
		lease.WithRenewInterval(n.config.LeaseRenewInterval),
		lease.WithLogger(n.logger),
	)
	n.writer = batch.NewWriter(n.store, n.replicas,
		batch.WithLogger(n.logger),
		batch.WithMetrics(n.metrics),
	)
	n.capacity = capacity.NewManager(n.replicas, n.workerID, n.config.Concurrency,
		capacity.WithAddr(n.addr),
		capacity.WithRateLimit(n.ratePerSecond, n.rateBurst),
	)

	shards := n.config.Shards
	if len(shards) == 0 {
		shards = make([]int, n.config.ShardCount)
		for i := range shards {
			shards[i] = i
		}
	}

	deps := sched.Deps{
		Store:    n.store,
		Replicas: n.replicas,
		Leases:   n.leases,
		Timers:   n.timers,
		Writer:   n.writer,
		Capacity: n.capacity,
		Executor: n.executor,
	}
	n.schedulers = make(map[int]*sched.Scheduler, len(shards))
	for _, shardID := range shards {
		schedOpts := []sched.Option{
			sched.WithLogger(n.logger),
			sched.WithMetrics(n.metrics),
			sched.WithBuckets(n.config.Buckets),
			sched.WithMaxInstances(n.config.MaxInstances),
		}
		if n.sizer != nil {
			schedOpts = append(schedOpts, sched.WithSizer(n.sizer))
		}
		if n.forwarder != nil {
			schedOpts = append(schedOpts, sched.WithForwarder(n.forwarder))
		}
		s, err := sched.New(shardID, n.config.ShardCount, n.workerID, deps, schedOpts...)
		if err != nil {
			return nil, err
		}
		n.schedulers[shardID] = s
	}
	return n, nil
}

// WorkerID returns the node's worker identity.
func (n *Node) WorkerID() id.WorkerID { return n.workerID }

// Config returns a copy of the node's configuration.
func (n *Node) Config() Config { return n.config }

// Logger returns the node's logger.
func (n *Node) Logger() *slog.Logger { return n.logger }

// Scheduler returns the scheduler for one shard, or nil when this node does
// not run it.
func (n *Node) Scheduler(shardID int) *sched.Scheduler { return n.schedulers[shardID] }

// Capacity returns the node's capacity manager.
func (n *Node) Capacity() *capacity.Manager { return n.capacity }

// Start brings the node up: the batch writer first so nothing submitted
// during bootstrap is lost, then every scheduler (which claims its
// partitions), then the lease renewal loop and the capacity publish loop.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return ErrNodeStopped
	}
	if n.started {
		n.mu.Unlock()
		return ErrNodeStarted
	}
	n.started = true
	n.mu.Unlock()

	if err := n.writer.Start(ctx); err != nil {
		return err
	}
	for _, s := range n.schedulers {
		if err := s.Start(ctx); err != nil {
			return err
		}
	}
	if err := n.leases.Start(ctx); err != nil {
		return err
	}

	n.wg.Add(1)
	go n.publishLoop()

	n.logger.Info("node started",
		slog.Int("shards", len(n.schedulers)),
		slog.Int("shard_count", n.config.ShardCount),
		slog.Int("buckets", n.config.Buckets),
	)
	return nil
}

// Stop shuts the node down gracefully within the configured timeout:
// schedulers stop dispatching, the renewal loop halts (held leases expire
// on their own, which is crash-equivalent for the rest of the cluster),
// the batch writer drains every queued status, and all outstanding timers
// are cancelled. Component errors are logged; only a drain failure is
// returned, since it means durable status history was lost.
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return nil
	}
	n.stopped = true
	started := n.started
	n.mu.Unlock()

	if !started {
		n.timers.Close()
		return nil
	}

	if _, ok := ctx.Deadline(); !ok && n.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.config.ShutdownTimeout)
		defer cancel()
	}

	close(n.stopCh)
	n.wg.Wait()

	for shardID, s := range n.schedulers {
		if err := s.Stop(ctx); err != nil {
			n.logger.Error("scheduler stop error",
				slog.Int("shard", shardID),
				slog.String("error", err.Error()),
			)
		}
	}
	if err := n.leases.Stop(ctx); err != nil {
		n.logger.Error("lease manager stop error", slog.String("error", err.Error()))
	}

	drainErr := n.writer.Stop(ctx)
	if drainErr != nil {
		n.logger.Error("batch writer drain error", slog.String("error", drainErr.Error()))
	}

	n.timers.Close()
	n.logger.Info("node stopped")
	return drainErr
}

// CancelRun requests cancellation of every instance of a run. Waiting
// instances are cancelled outright; running ones receive an advisory
// cancel. The request fans out to every scheduler since run members may
// hash into buckets owned by different shards.
func (n *Node) CancelRun(runID id.RunID) {
	for _, s := range n.schedulers {
		s.CancelRun(runID)
	}
}

// RefreshDefinition reloads one job's definition from the durable store and
// swaps it into every in-memory instance. In-flight executions keep the
// definition they started with.
func (n *Node) RefreshDefinition(jobID id.JobID) {
	for _, s := range n.schedulers {
		s.RefreshDefinition(jobID)
	}
}

// Rerun re-enters previously failed instances into scheduling. Each
// scheduler picks up the ids that hash into its owned buckets; the rest
// are ignored here and served by whichever worker owns them.
func (n *Node) Rerun(failed []id.InstanceID) {
	for _, s := range n.schedulers {
		s.Rerun(failed)
	}
}

// publishLoop periodically writes this worker's capacity to the replicated
// table so peers can route work here. An immediate first publish makes the
// node visible before the first tick.
func (n *Node) publishLoop() {
	defer n.wg.Done()

	interval := n.config.CapacityPublishInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	publish := func() {
		if err := n.capacity.Publish(context.Background()); err != nil {
			n.logger.Warn("capacity publish failed", slog.String("error", err.Error()))
		}
	}
	publish()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
			publish()
		}
	}
}
