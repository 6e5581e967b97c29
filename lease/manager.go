// Package lease provides exclusive, renewable ownership of partition
// (bucket) ids.
//
// Leases are CAS-acquired against the replicated lease table with a TTL.
// A renewal loop extends held leases; anything not renewed expires and
// becomes claimable elsewhere. Expiry is the sole liveness mechanism —
// there is no separate heartbeat service.
//
// Held buckets are also recorded durably so a restarted worker can
// re-acquire what it owned before crashing.
package lease

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/SunnyX6/Datapillar-sub003/id"
	"github.com/SunnyX6/Datapillar-sub003/job"
	"github.com/SunnyX6/Datapillar-sub003/replica"
)

// Option configures a Manager.
type Option func(*Manager)

// WithTTL sets the lease duration.
func WithTTL(d time.Duration) Option {
	return func(m *Manager) { m.ttl = d }
}

// WithRenewInterval sets the renewal cadence. Must be well below the TTL.
func WithRenewInterval(d time.Duration) Option {
	return func(m *Manager) { m.renewInterval = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// Manager owns this worker's partition leases.
type Manager struct {
	table    replica.LeaseTable
	store    job.Store
	workerID id.WorkerID
	logger   *slog.Logger

	ttl           time.Duration
	renewInterval time.Duration

	mu         sync.Mutex
	held       map[int]struct{}
	onAcquired []func(bucket int)
	onLost     []func(bucket int)

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager creates a lease Manager.
func NewManager(table replica.LeaseTable, store job.Store, workerID id.WorkerID, opts ...Option) *Manager {
	m := &Manager{
		table:         table,
		store:         store,
		workerID:      workerID,
		logger:        slog.Default(),
		ttl:           30 * time.Second,
		renewInterval: 10 * time.Second,
		held:          make(map[int]struct{}),
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe registers acquisition and loss callbacks. Callbacks run on the
// manager goroutine; subscribers must confine themselves to posting a
// message. Subscribe before Start.
func (m *Manager) Subscribe(onAcquired, onLost func(bucket int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if onAcquired != nil {
		m.onAcquired = append(m.onAcquired, onAcquired)
	}
	if onLost != nil {
		m.onLost = append(m.onLost, onLost)
	}
}

// Start launches the renewal loop.
func (m *Manager) Start(_ context.Context) error {
	m.wg.Add(1)
	go m.renewLoop()
	return nil
}

// Stop stops the renewal loop. Held leases are not released; they expire
// naturally, which keeps shutdown cheap and crash-equivalent.
func (m *Manager) Stop(_ context.Context) error {
	close(m.stopCh)
	m.wg.Wait()
	return nil
}

// Recover re-acquires the buckets durably recorded for this worker.
// Returns the buckets actually re-acquired. A failed read is logged and
// treated as "nothing to recover" — availability over completeness.
func (m *Manager) Recover(ctx context.Context) ([]int, error) {
	saved, err := m.store.SavedBuckets(ctx, m.workerID)
	if err != nil {
		m.logger.Warn("lease recovery read failed, starting empty",
			slog.String("worker_id", m.workerID.String()),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}

	var recovered []int
	for _, bucket := range saved {
		ok, acqErr := m.TryAcquire(ctx, bucket)
		if acqErr != nil {
			m.logger.Warn("lease recovery acquire failed",
				slog.Int("bucket", bucket),
				slog.String("error", acqErr.Error()),
			)
			continue
		}
		if ok {
			recovered = append(recovered, bucket)
		}
	}
	return recovered, nil
}

// TryAcquire CAS-acquires one bucket. Returns true when this worker now
// holds the lease. Acquisition fires the onAcquired callbacks.
func (m *Manager) TryAcquire(ctx context.Context, bucket int) (bool, error) {
	ok, err := m.table.AcquireLease(ctx, bucket, m.workerID, m.ttl)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	m.mu.Lock()
	_, already := m.held[bucket]
	m.held[bucket] = struct{}{}
	callbacks := m.onAcquired
	m.mu.Unlock()

	if already {
		return true, nil // renewal-style re-acquire, no event
	}

	m.saveHeld(ctx)
	for _, fn := range callbacks {
		fn(bucket)
	}
	m.logger.Info("partition lease acquired",
		slog.Int("bucket", bucket),
		slog.String("worker_id", m.workerID.String()),
	)
	return true, nil
}

// Held returns the currently held buckets, sorted.
func (m *Manager) Held() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	buckets := make([]int, 0, len(m.held))
	for b := range m.held {
		buckets = append(buckets, b)
	}
	sort.Ints(buckets)
	return buckets
}

// Holds reports whether this worker holds the bucket.
func (m *Manager) Holds(bucket int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[bucket]
	return ok
}

// RenewAll extends every held lease. Buckets no longer renewable (expired
// and taken elsewhere) fire the onLost callbacks and drop out of the held
// set.
func (m *Manager) RenewAll(ctx context.Context) error {
	held := m.Held()
	if len(held) == 0 {
		return nil
	}

	lost, err := m.table.RenewLeases(ctx, held, m.workerID, m.ttl)
	if err != nil {
		// A transient renew error is not a loss: the lease may still be
		// live. The next tick retries before the TTL runs out.
		return err
	}
	if len(lost) == 0 {
		return nil
	}

	m.mu.Lock()
	for _, bucket := range lost {
		delete(m.held, bucket)
	}
	callbacks := m.onLost
	m.mu.Unlock()

	m.saveHeld(ctx)
	for _, bucket := range lost {
		m.logger.Warn("partition lease lost",
			slog.Int("bucket", bucket),
			slog.String("worker_id", m.workerID.String()),
		)
		for _, fn := range callbacks {
			fn(bucket)
		}
	}
	return nil
}

func (m *Manager) renewLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if err := m.RenewAll(context.Background()); err != nil {
				m.logger.Warn("lease renewal error", slog.String("error", err.Error()))
			}
		}
	}
}

// saveHeld durably records the held set for restart recovery. Best effort:
// a failed save only degrades recovery, not correctness.
func (m *Manager) saveHeld(ctx context.Context) {
	if err := m.store.SaveBuckets(ctx, m.workerID, m.Held()); err != nil {
		m.logger.Warn("failed to save held buckets",
			slog.String("worker_id", m.workerID.String()),
			slog.String("error", err.Error()),
		)
	}
}
