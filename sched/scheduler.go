// Package sched implements the decentralized scheduling engine that runs
// inside each worker process.
//
// A Scheduler is logically single-threaded: one mailbox, one run goroutine,
// so the trigger queue and in-memory indices need no locks even though all
// I/O runs concurrently elsewhere. Every async completion — load result,
// timer fire, execution report, shard-claim outcome — is re-injected as a
// mailbox message and processed serially.
//
// A scheduler owns the partitions (buckets) whose id mod shardCount equals
// its shard id, gated by the lease manager. Losing a lease purges the
// partition's instances from every index; nothing inside the scheduler is
// fatal — it degrades by skipping, delaying, or dropping.
package sched

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
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
	"github.com/SunnyX6/Datapillar-sub003/shard"
	"github.com/SunnyX6/Datapillar-sub003/timeq"
	"github.com/SunnyX6/Datapillar-sub003/timer"
)

const (
	defaultBuckets      = 64
	defaultMaxInstances = 100_000
	defaultMailboxSize  = 1024
	defaultRequeueDelay = time.Second
	defaultDepRecheck   = 5 * time.Second
	defaultSyncInterval = 10 * time.Second
	defaultRangePoll    = 500 * time.Millisecond
	// pauseResumeDelay resumes a claim progression that exhausted its
	// retry bound, so a worker that lost ten straight claims still
	// observes the instance finishing elsewhere.
	pauseResumeDelay = 5 * time.Second
)

// Deps bundles the collaborators a Scheduler needs.
type Deps struct {
	Store    job.Store
	Replicas replica.Set
	Leases   *lease.Manager
	Timers   *timer.Service
	Writer   *batch.Writer
	Capacity *capacity.Manager
	Executor exec.Executor
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithMetrics sets the metric counters. Nil is valid and records nothing.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithBuckets sets the size of the bucket id space. The scheduler claims
// every unheld bucket b in [0, n) with b mod shardCount == shardID.
func WithBuckets(n int) Option {
	return func(s *Scheduler) { s.buckets = n }
}

// WithMaxInstances caps how many instances the scheduler holds in memory.
// Loads beyond the cap are dropped with a warning, not queued.
func WithMaxInstances(n int) Option {
	return func(s *Scheduler) { s.maxInstances = n }
}

// WithSizer sets the shard-size calculator.
func WithSizer(sz shard.Sizer) Option {
	return func(s *Scheduler) { s.sizer = sz }
}

// WithForwarder sets the peer-forwarding transport. Without one, routing
// away degrades to a delayed local requeue.
func WithForwarder(f capacity.Forwarder) Option {
	return func(s *Scheduler) { s.forwarder = f }
}

// WithRequeueDelay sets the delay before a capacity-rejected instance is
// retried locally.
func WithRequeueDelay(d time.Duration) Option {
	return func(s *Scheduler) { s.requeueDelay = d }
}

// WithDependencyRecheck sets how long a dependency-blocked instance waits
// before its parents are checked again.
func WithDependencyRecheck(d time.Duration) Option {
	return func(s *Scheduler) { s.depRecheck = d }
}

// WithSyncInterval sets the cadence of incremental since-watermark loads.
// Zero disables them.
func WithSyncInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.syncInterval = d }
}

// WithMailboxSize sets the mailbox buffer.
func WithMailboxSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.mailbox = make(chan message, n)
		}
	}
}

// Scheduler is one shard's scheduling engine.
type Scheduler struct {
	shardID    int
	shardCount int
	workerID   id.WorkerID

	store    job.Store
	replicas replica.Set
	leases   *lease.Manager
	timers   *timer.Service
	writer   *batch.Writer
	capacity *capacity.Manager
	executor exec.Executor

	forwarder capacity.Forwarder
	sizer     shard.Sizer
	metrics   *observability.Metrics
	logger    *slog.Logger

	buckets      int
	maxInstances int
	requeueDelay time.Duration
	depRecheck   time.Duration
	syncInterval time.Duration
	rangePoll    time.Duration

	mailbox chan message
	stopCh  chan struct{}
	done    chan struct{}
	stop    sync.Once
	ctx     context.Context
	cancel  context.CancelFunc

	// Everything below is confined to the run goroutine.
	bootstrapping bool
	owned         map[int]struct{}
	loaded        map[int]struct{}
	instances     map[id.InstanceID]*job.Instance
	byBucket      map[int]map[id.InstanceID]struct{}
	byRun         map[id.RunID]map[id.InstanceID]struct{}
	children      map[id.InstanceID]map[id.InstanceID]struct{}
	running       map[id.InstanceID]struct{}
	runningByJob  map[id.JobID]map[id.InstanceID]struct{}
	slotted       map[id.InstanceID]struct{}
	foreign       map[id.InstanceID]job.Status
	foreignFetch  map[id.InstanceID]struct{}
	progressions  map[id.InstanceID]*shard.Progression
	claimTimers   map[id.InstanceID]*timer.Handle
	queue         *timeq.Queue
	dispatchTimer *timer.Handle
	syncTimer     *timer.Handle
	watermark     id.InstanceID
}

// New creates a Scheduler for one shard.
func New(shardID, shardCount int, workerID id.WorkerID, deps Deps, opts ...Option) (*Scheduler, error) {
	if shardCount <= 0 {
		return nil, fmt.Errorf("sched: shard count %d, want > 0", shardCount)
	}
	if shardID < 0 || shardID >= shardCount {
		return nil, fmt.Errorf("sched: shard id %d outside [0, %d)", shardID, shardCount)
	}
	if deps.Store == nil {
		return nil, errors.New("sched: nil store")
	}
	if deps.Replicas == nil {
		return nil, errors.New("sched: nil replica set")
	}
	if deps.Leases == nil {
		return nil, errors.New("sched: nil lease manager")
	}
	if deps.Timers == nil {
		return nil, errors.New("sched: nil timer service")
	}
	if deps.Writer == nil {
		return nil, errors.New("sched: nil batch writer")
	}
	if deps.Capacity == nil {
		return nil, errors.New("sched: nil capacity manager")
	}
	if deps.Executor == nil {
		return nil, errors.New("sched: nil executor")
	}

	s := &Scheduler{
		shardID:    shardID,
		shardCount: shardCount,
		workerID:   workerID,

		store:    deps.Store,
		replicas: deps.Replicas,
		leases:   deps.Leases,
		timers:   deps.Timers,
		writer:   deps.Writer,
		capacity: deps.Capacity,
		executor: deps.Executor,

		sizer:  shard.DefaultSizer(),
		logger: slog.Default(),

		buckets:      defaultBuckets,
		maxInstances: defaultMaxInstances,
		requeueDelay: defaultRequeueDelay,
		depRecheck:   defaultDepRecheck,
		syncInterval: defaultSyncInterval,
		rangePoll:    defaultRangePoll,

		mailbox: make(chan message, defaultMailboxSize),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),

		owned:        make(map[int]struct{}),
		loaded:       make(map[int]struct{}),
		instances:    make(map[id.InstanceID]*job.Instance),
		byBucket:     make(map[int]map[id.InstanceID]struct{}),
		byRun:        make(map[id.RunID]map[id.InstanceID]struct{}),
		children:     make(map[id.InstanceID]map[id.InstanceID]struct{}),
		running:      make(map[id.InstanceID]struct{}),
		runningByJob: make(map[id.JobID]map[id.InstanceID]struct{}),
		slotted:      make(map[id.InstanceID]struct{}),
		foreign:      make(map[id.InstanceID]job.Status),
		foreignFetch: make(map[id.InstanceID]struct{}),
		progressions: make(map[id.InstanceID]*shard.Progression),
		claimTimers:  make(map[id.InstanceID]*timer.Handle),
		queue:        timeq.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.Int("shard", shardID))
	return s, nil
}

// ShardID returns this scheduler's shard id.
func (s *Scheduler) ShardID() int { return s.shardID }

// Start subscribes to lease events, launches the run goroutine and kicks
// off bootstrap: lease recovery, claiming of unheld matching buckets, and
// one bulk load of the held set.
func (s *Scheduler) Start(_ context.Context) error {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.leases.Subscribe(s.BucketAcquired, s.BucketLost)
	go s.run()
	return nil
}

// Stop shuts the run goroutine down. Held leases are not released; they
// expire naturally elsewhere.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.stop.Do(func() {
		close(s.stopCh)
		if s.cancel != nil {
			s.cancel()
		}
	})
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ── public API: everything posts a message ──

// BucketAcquired notifies the scheduler that a partition lease was
// acquired. Buckets outside this scheduler's shard are ignored.
func (s *Scheduler) BucketAcquired(bucket int) {
	if bucket%s.shardCount != s.shardID {
		return
	}
	s.post(bucketAcquiredMsg{bucket: bucket})
}

// BucketLost notifies the scheduler that a held partition lease was lost.
func (s *Scheduler) BucketLost(bucket int) {
	if bucket%s.shardCount != s.shardID {
		return
	}
	s.post(bucketLostMsg{bucket: bucket})
}

// ReportCompleted implements exec.Reporter.
func (s *Scheduler) ReportCompleted(r exec.Report) {
	s.post(reportMsg{report: r})
}

// ReportSplitCompleted implements exec.Reporter.
func (s *Scheduler) ReportSplitCompleted(r exec.SplitReport) {
	s.post(splitReportMsg{report: r})
}

// CancelRun cancels every instance of a workflow run held by this
// scheduler: WAITING instances are cancelled and purged, RUNNING ones
// receive an advisory cancel command.
func (s *Scheduler) CancelRun(runID id.RunID) {
	s.post(cancelRunMsg{runID: runID})
}

// RefreshDefinition re-enriches in-memory instances of the job from the
// durable store. Scheduling state is untouched.
func (s *Scheduler) RefreshDefinition(jobID id.JobID) {
	go func() {
		def, err := s.store.GetDefinition(s.ctx, jobID)
		s.post(definitionMsg{def: def, err: err})
	}()
}

// Rerun re-enters the externally rerun-marked subset of the given failed
// instances into WAITING — the one sanctioned backward transition.
func (s *Scheduler) Rerun(failed []id.InstanceID) {
	go func() {
		instances, err := s.store.ListRerun(s.ctx, failed)
		s.post(rerunMsg{instances: instances, err: err})
	}()
}

// ── introspection (synchronous mailbox round trips) ──

// InstanceCount returns how many instances the scheduler holds.
func (s *Scheduler) InstanceCount() int {
	var n int
	s.inspect(func() { n = len(s.instances) })
	return n
}

// Queued reports whether the instance is pending in the trigger queue.
func (s *Scheduler) Queued(instID id.InstanceID) bool {
	var ok bool
	s.inspect(func() { ok = s.queue.Contains(instID) })
	return ok
}

// IsRunning reports whether the instance is in the running index.
func (s *Scheduler) IsRunning(instID id.InstanceID) bool {
	var ok bool
	s.inspect(func() { _, ok = s.running[instID] })
	return ok
}

// InstanceStatus returns the in-memory status of a held instance.
func (s *Scheduler) InstanceStatus(instID id.InstanceID) (job.Status, bool) {
	var (
		st job.Status
		ok bool
	)
	s.inspect(func() {
		if inst := s.instances[instID]; inst != nil {
			st, ok = inst.Status, true
		}
	})
	return st, ok
}

// OwnedBuckets returns the buckets this scheduler currently owns, sorted.
func (s *Scheduler) OwnedBuckets() []int {
	var out []int
	s.inspect(func() {
		for b := range s.owned {
			out = append(out, b)
		}
	})
	sort.Ints(out)
	return out
}

func (s *Scheduler) inspect(fn func()) {
	done := make(chan struct{})
	if !s.post(inspectMsg{fn: fn, done: done}) {
		return
	}
	<-done
}

// post delivers a message unless the scheduler is stopped.
func (s *Scheduler) post(m message) bool {
	select {
	case <-s.stopCh:
		return false
	case s.mailbox <- m:
		return true
	}
}

// ── run loop ──

func (s *Scheduler) run() {
	defer close(s.done)
	s.bootstrap()
	for {
		select {
		case <-s.stopCh:
			s.dispatchTimer.Stop()
			s.syncTimer.Stop()
			for _, h := range s.claimTimers {
				h.Stop()
			}
			return
		case m := <-s.mailbox:
			s.handle(m)
		}
	}
}

func (s *Scheduler) handle(m message) {
	switch msg := m.(type) {
	case bucketAcquiredMsg:
		s.handleBucketAcquired(msg)
	case bucketLostMsg:
		s.handleBucketLost(msg)
	case loadedMsg:
		s.handleLoaded(msg)
	case dispatchTickMsg:
		s.handleDispatchTick()
	case reportMsg:
		s.handleReport(msg.report)
	case splitReportMsg:
		s.handleSplitReport(msg.report)
	case claimResultMsg:
		s.handleClaimResult(msg)
	case claimRetryMsg:
		s.handleClaimRetry(msg.instID)
	case rangesListedMsg:
		s.handleRangesListed(msg)
	case cancelRunMsg:
		s.handleCancelRun(msg.runID)
	case definitionMsg:
		s.handleDefinition(msg)
	case rerunMsg:
		s.handleRerun(msg)
	case forwardedMsg:
		s.handleForwarded(msg.instID)
	case requeueMsg:
		s.handleRequeue(msg.instID)
	case parentStatusMsg:
		s.handleParentStatus(msg)
	case syncTickMsg:
		s.handleSyncTick()
	case inspectMsg:
		msg.fn()
		close(msg.done)
	}
}

// bootstrap recovers previously-held buckets, claims unheld buckets of
// this shard, and issues one bulk load for the held set. All I/O runs off
// the scheduler goroutine; the result re-enters as a loadedMsg.
func (s *Scheduler) bootstrap() {
	s.bootstrapping = true
	go func() {
		if _, err := s.leases.Recover(s.ctx); err != nil {
			s.logger.Warn("bootstrap recovery failed", slog.String("error", err.Error()))
		}
		for b := s.shardID; b < s.buckets; b += s.shardCount {
			if s.leases.Holds(b) {
				continue
			}
			if _, err := s.leases.TryAcquire(s.ctx, b); err != nil {
				s.logger.Warn("bootstrap acquire failed",
					slog.Int("bucket", b),
					slog.String("error", err.Error()),
				)
			}
		}

		var held []int
		for _, b := range s.leases.Held() {
			if b%s.shardCount == s.shardID {
				held = append(held, b)
			}
		}
		instances, err := s.store.LoadBuckets(s.ctx, held)
		s.post(loadedMsg{buckets: held, instances: instances, bootstrap: true, err: err})
	}()
}
