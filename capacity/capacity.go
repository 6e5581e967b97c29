// Package capacity tracks local execution slots, applies a dispatch rate
// limit, publishes this worker's capacity to the replicated table, and
// locates less-loaded peers for the route-away path.
package capacity

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/SunnyX6/Datapillar-sub003/exec"
	"github.com/SunnyX6/Datapillar-sub003/id"
	"github.com/SunnyX6/Datapillar-sub003/replica"
)

// Forwarder hands a dispatch to a peer worker. This is an extension point:
// the core ships no transport, and a scheduler without a Forwarder (or
// whose Forwarder declines) falls back to a delayed local requeue.
type Forwarder interface {
	Forward(ctx context.Context, peer replica.Capacity, cmd exec.ExecuteCommand) error
}

// staleAfter is how old a published capacity entry may be before peer
// selection ignores it.
const staleAfter = 30 * time.Second

// Option configures a Manager.
type Option func(*Manager)

// WithRateLimit caps sustained dispatches per second with the given burst.
// Zero disables rate limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(m *Manager) {
		if perSecond > 0 {
			if burst <= 0 {
				burst = 1
			}
			m.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithAddr sets the advertised address of this worker.
func WithAddr(addr string) Option {
	return func(m *Manager) { m.addr = addr }
}

// Manager tracks this worker's execution slots. Safe for concurrent use.
type Manager struct {
	table    replica.CapacityTable
	workerID id.WorkerID
	addr     string
	limiter  *rate.Limiter

	mu      sync.Mutex
	max     int
	running int
}

// NewManager creates a capacity Manager with the given slot count.
func NewManager(table replica.CapacityTable, workerID id.WorkerID, maxConcurrency int, opts ...Option) *Manager {
	m := &Manager{
		table:    table,
		workerID: workerID,
		max:      maxConcurrency,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire claims one execution slot, subject to the rate limit. The caller
// MUST call Release when the execution completes.
func (m *Manager) Acquire() bool {
	if m.limiter != nil && !m.limiter.Allow() {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.max > 0 && m.running >= m.max {
		return false
	}
	m.running++
	return true
}

// Release returns one execution slot.
func (m *Manager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running > 0 {
		m.running--
	}
}

// Running returns the current number of held slots.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Snapshot returns this worker's current capacity entry.
func (m *Manager) Snapshot() replica.Capacity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return replica.Capacity{
		WorkerID:       m.workerID,
		Addr:           m.addr,
		MaxConcurrency: m.max,
		Running:        m.running,
		UpdatedAt:      time.Now().UTC(),
	}
}

// Publish writes this worker's capacity to the replicated table.
func (m *Manager) Publish(ctx context.Context) error {
	return m.table.PublishCapacity(ctx, m.Snapshot())
}

// LeastLoadedPeer returns the fresh peer entry with the most free slots,
// excluding this worker. The bool is false when no usable peer exists.
func (m *Manager) LeastLoadedPeer(ctx context.Context) (replica.Capacity, bool, error) {
	entries, err := m.table.ListCapacities(ctx)
	if err != nil {
		return replica.Capacity{}, false, err
	}

	cutoff := time.Now().UTC().Add(-staleAfter)
	var best replica.Capacity
	found := false
	for _, c := range entries {
		if c.WorkerID == m.workerID || c.UpdatedAt.Before(cutoff) || c.Free() == 0 {
			continue
		}
		if !found || c.Free() > best.Free() {
			best = c
			found = true
		}
	}
	return best, found, nil
}
