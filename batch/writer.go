// Package batch provides the status batch writer — the buffer between the
// scheduler's fire-and-forget status transitions and the durable store.
//
// Submissions land on an unbounded in-memory queue. A periodic flush drains
// up to a batch-size cap into one persistence call, and only after that
// call succeeds does the same batch propagate to the replicated status
// cache. Write-after-persist ordering keeps foreign readers from observing
// a status that could still be lost on crash.
//
// Persist failures re-queue the affected entries a bounded number of times,
// then drop them with an alarm log. That is a deliberate
// throughput-over-durability tradeoff carried over from the original
// design; a reconciliation sweep is the hardening path if it bites.
package batch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/SunnyX6/Datapillar-sub003/backoff"
	"github.com/SunnyX6/Datapillar-sub003/job"
	"github.com/SunnyX6/Datapillar-sub003/observability"
	"github.com/SunnyX6/Datapillar-sub003/replica"
)

// Persister is the slice of the durable store the writer needs.
type Persister interface {
	PersistStatuses(ctx context.Context, changes []job.StatusChange) error
}

const (
	defaultFlushInterval  = 50 * time.Millisecond
	defaultBatchSize      = 2000
	defaultForceThreshold = 5000
	defaultMaxRetries     = 3
)

// Option configures a Writer.
type Option func(*Writer)

// WithFlushInterval sets the periodic flush cadence.
func WithFlushInterval(d time.Duration) Option {
	return func(w *Writer) { w.flushInterval = d }
}

// WithBatchSize caps how many changes one persistence call carries.
func WithBatchSize(n int) Option {
	return func(w *Writer) { w.batchSize = n }
}

// WithForceThreshold sets the queue size that triggers an immediate
// out-of-band flush, bounding worst-case latency and memory under bursts.
func WithForceThreshold(n int) Option {
	return func(w *Writer) { w.forceThreshold = n }
}

// WithMaxRetries bounds how many times a failed entry is re-queued before
// it is dropped with an alarm.
func WithMaxRetries(n int) Option {
	return func(w *Writer) { w.maxRetries = n }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Writer) { w.logger = l }
}

// WithMetrics sets the metrics sink. Nil disables instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(w *Writer) { w.metrics = m }
}

// WithRetryBackoff sets the delay strategy applied between persist
// attempts after a failure.
func WithRetryBackoff(s backoff.Strategy) Option {
	return func(w *Writer) { w.retry = s }
}

type entry struct {
	change   job.StatusChange
	attempts int
}

// Writer buffers status transitions and persists them in batches.
type Writer struct {
	store    Persister
	statuses replica.StatusMap
	logger   *slog.Logger
	metrics  *observability.Metrics

	flushInterval  time.Duration
	batchSize      int
	forceThreshold int
	maxRetries     int
	retry          backoff.Strategy

	mu      sync.Mutex
	queue   []entry
	stopped bool

	forceCh chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewWriter creates a status batch writer. The replicated status map may be
// nil; propagation is then skipped.
func NewWriter(store Persister, statuses replica.StatusMap, opts ...Option) *Writer {
	w := &Writer{
		store:          store,
		statuses:       statuses,
		logger:         slog.Default(),
		flushInterval:  defaultFlushInterval,
		batchSize:      defaultBatchSize,
		forceThreshold: defaultForceThreshold,
		maxRetries:     defaultMaxRetries,
		retry:          backoff.PersistStrategy(),
		forceCh:        make(chan struct{}, 1),
		stopCh:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches the flush goroutine.
func (w *Writer) Start(_ context.Context) error {
	w.wg.Add(1)
	go w.run()
	return nil
}

// Stop drains every queued change synchronously, then stops the flush
// goroutine.
func (w *Writer) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	w.mu.Unlock()

	close(w.stopCh)
	w.wg.Wait()
	return w.Drain(ctx)
}

// Submit queues one status transition. Fire-and-forget: it never blocks and
// never fails; a stopped writer drops the change with a warning.
func (w *Writer) Submit(change job.StatusChange) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		w.logger.Warn("status change submitted after stop, dropped",
			slog.String("instance_id", change.InstanceID.String()),
			slog.String("status", string(change.Status)),
		)
		return
	}
	w.queue = append(w.queue, entry{change: change})
	over := len(w.queue) >= w.forceThreshold
	w.mu.Unlock()

	if over {
		select {
		case w.forceCh <- struct{}{}:
		default:
		}
	}
}

// Pending returns the number of queued, unflushed changes.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Drain flushes until the queue is empty. Used for graceful shutdown.
func (w *Writer) Drain(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if n, _ := w.flush(ctx); n == 0 {
			return nil
		}
	}
}

func (w *Writer) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
		case <-w.forceCh:
		}

		if _, err := w.flush(context.Background()); err != nil {
			// Back off before hitting the store again; hammering a
			// struggling backend at ticker cadence only deepens the hole.
			failures++
			select {
			case <-w.stopCh:
				return
			case <-time.After(w.retry.Delay(failures)):
			}
		} else {
			failures = 0
		}
	}
}

// flush drains up to batchSize entries into one persistence call and, on
// success, propagates the same batch to the replicated status cache.
// Returns the number of entries taken off the queue and the persist error,
// if any.
func (w *Writer) flush(ctx context.Context) (int, error) {
	w.mu.Lock()
	if len(w.queue) == 0 {
		w.mu.Unlock()
		return 0, nil
	}
	n := len(w.queue)
	if n > w.batchSize {
		n = w.batchSize
	}
	taken := make([]entry, n)
	copy(taken, w.queue[:n])
	w.queue = w.queue[n:]
	w.mu.Unlock()

	changes := make([]job.StatusChange, n)
	for i, e := range taken {
		changes[i] = e.change
	}

	if err := w.store.PersistStatuses(ctx, changes); err != nil {
		w.requeue(taken, err)
		return n, err
	}
	w.metrics.BatchFlushed(ctx, n)

	if w.statuses != nil {
		if err := w.statuses.PutStatuses(ctx, changes); err != nil {
			// Replication is eventually consistent; the durable write
			// already succeeded, so log and move on.
			w.logger.Warn("status cache propagation failed",
				slog.Int("count", len(changes)),
				slog.String("error", err.Error()),
			)
		}
	}
	return n, nil
}

// requeue puts failed entries back, dropping those past the retry bound.
func (w *Writer) requeue(taken []entry, cause error) {
	var keep []entry
	dropped := 0
	for _, e := range taken {
		e.attempts++
		if e.attempts > w.maxRetries {
			w.logger.Error("dropping status change after retries exhausted",
				slog.String("instance_id", e.change.InstanceID.String()),
				slog.String("status", string(e.change.Status)),
				slog.Int("attempts", e.attempts),
				slog.String("error", cause.Error()),
			)
			dropped++
			continue
		}
		keep = append(keep, e)
	}
	if dropped > 0 {
		w.metrics.StatusesDropped(context.Background(), dropped)
	}
	if len(keep) == 0 {
		return
	}

	w.mu.Lock()
	w.queue = append(keep, w.queue...)
	w.mu.Unlock()
}
