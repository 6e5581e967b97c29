package lease_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/SunnyX6/Datapillar-sub003/id"
	"github.com/SunnyX6/Datapillar-sub003/lease"
	"github.com/SunnyX6/Datapillar-sub003/store/memory"
)

func TestManager_TryAcquire_NotifiesOnce(t *testing.T) {
	s := memory.New()
	workerID := id.NewWorkerID()
	m := lease.NewManager(s, s, workerID)

	var mu sync.Mutex
	var acquired []int
	m.Subscribe(func(bucket int) {
		mu.Lock()
		acquired = append(acquired, bucket)
		mu.Unlock()
	}, nil)

	ctx := context.Background()
	ok, err := m.TryAcquire(ctx, 5)
	if err != nil || !ok {
		t.Fatalf("TryAcquire = %v, %v", ok, err)
	}
	// Re-acquire of a held bucket is quiet.
	if ok, _ := m.TryAcquire(ctx, 5); !ok {
		t.Fatal("re-acquire of own bucket failed")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(acquired) != 1 || acquired[0] != 5 {
		t.Errorf("acquired events = %v, want [5]", acquired)
	}
	if !m.Holds(5) {
		t.Error("Holds(5) = false")
	}
}

func TestManager_ExclusionBetweenWorkers(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	alice := lease.NewManager(s, s, id.NewWorkerID())
	bob := lease.NewManager(s, s, id.NewWorkerID())

	if ok, _ := alice.TryAcquire(ctx, 1); !ok {
		t.Fatal("alice could not acquire")
	}
	if ok, _ := bob.TryAcquire(ctx, 1); ok {
		t.Fatal("bob acquired a bucket alice holds")
	}
}

func TestManager_RenewAll_FiresLossEvents(t *testing.T) {
	now := time.Now()
	var clockMu sync.Mutex
	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}
	s := memory.New(memory.WithClock(clock))
	ctx := context.Background()

	workerID := id.NewWorkerID()
	m := lease.NewManager(s, s, workerID, lease.WithTTL(10*time.Second))

	var mu sync.Mutex
	var lost []int
	m.Subscribe(nil, func(bucket int) {
		mu.Lock()
		lost = append(lost, bucket)
		mu.Unlock()
	})

	m.TryAcquire(ctx, 1) //nolint:errcheck
	m.TryAcquire(ctx, 2) //nolint:errcheck

	// Let both leases expire, then have a rival grab bucket 2.
	clockMu.Lock()
	now = now.Add(11 * time.Second)
	clockMu.Unlock()
	rival := lease.NewManager(s, s, id.NewWorkerID(), lease.WithTTL(10*time.Second))
	rival.TryAcquire(ctx, 2) //nolint:errcheck

	if err := m.RenewAll(ctx); err != nil {
		t.Fatalf("RenewAll error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(lost) != 2 {
		t.Fatalf("loss events = %v, want both buckets", lost)
	}
	if m.Holds(1) || m.Holds(2) {
		t.Error("manager still holds lost buckets")
	}
}

func TestManager_Recover_ReacquiresSavedBuckets(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	workerID := id.NewWorkerID()

	// First life: acquire and record buckets.
	first := lease.NewManager(s, s, workerID)
	first.TryAcquire(ctx, 3) //nolint:errcheck
	first.TryAcquire(ctx, 9) //nolint:errcheck

	// Second life: same worker id recovers its old set. The old leases
	// are its own, so re-acquire succeeds even before expiry.
	second := lease.NewManager(s, s, workerID)
	recovered, err := second.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover error: %v", err)
	}
	if len(recovered) != 2 {
		t.Fatalf("recovered = %v, want [3 9]", recovered)
	}
	if !second.Holds(3) || !second.Holds(9) {
		t.Error("recovered buckets not held")
	}
}

func TestManager_RenewLoop(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	workerID := id.NewWorkerID()

	m := lease.NewManager(s, s, workerID,
		lease.WithTTL(100*time.Millisecond),
		lease.WithRenewInterval(20*time.Millisecond),
	)
	m.TryAcquire(ctx, 1) //nolint:errcheck

	if err := m.Start(ctx); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer m.Stop(ctx) //nolint:errcheck

	// Long past the original TTL, the loop has kept the lease alive.
	time.Sleep(300 * time.Millisecond)
	holder, _ := s.LeaseHolder(ctx, 1)
	if holder != workerID {
		t.Errorf("holder = %s, want %s (renewal kept lease alive)", holder, workerID)
	}
}
