package batch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/SunnyX6/Datapillar-sub003/backoff"
	"github.com/SunnyX6/Datapillar-sub003/batch"
	"github.com/SunnyX6/Datapillar-sub003/id"
	"github.com/SunnyX6/Datapillar-sub003/job"
)

// fakePersister records persist calls and can be told to fail.
type fakePersister struct {
	mu       sync.Mutex
	calls    [][]job.StatusChange
	attempts []time.Time // every call, including failed ones
	failFor  int         // fail this many calls, then succeed
}

func (f *fakePersister) PersistStatuses(_ context.Context, changes []job.StatusChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, time.Now())
	if f.failFor > 0 {
		f.failFor--
		return errors.New("store unavailable")
	}
	batchCopy := make([]job.StatusChange, len(changes))
	copy(batchCopy, changes)
	f.calls = append(f.calls, batchCopy)
	return nil
}

func (f *fakePersister) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakePersister) attemptTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Time, len(f.attempts))
	copy(out, f.attempts)
	return out
}

func (f *fakePersister) persisted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, c := range f.calls {
		total += len(c)
	}
	return total
}

// fakeStatusMap records replicated puts with their arrival order relative
// to persists.
type fakeStatusMap struct {
	mu   sync.Mutex
	puts int
}

func (f *fakeStatusMap) InstanceStatus(_ context.Context, _ id.InstanceID) (job.Status, bool, error) {
	return "", false, nil
}

func (f *fakeStatusMap) PutStatuses(_ context.Context, changes []job.StatusChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts += len(changes)
	return nil
}

func (f *fakeStatusMap) putCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts
}

func change() job.StatusChange {
	return job.StatusChange{
		InstanceID: id.NewInstanceID(),
		Status:     job.StatusSuccess,
		At:         time.Now().UTC(),
	}
}

func TestWriter_BatchCeiling(t *testing.T) {
	store := &fakePersister{}
	w := batch.NewWriter(store, nil,
		batch.WithFlushInterval(time.Hour), // only explicit drains flush
		batch.WithBatchSize(10),
	)

	const n = 35
	for range n {
		w.Submit(change())
	}
	if err := w.Drain(context.Background()); err != nil {
		t.Fatalf("drain error: %v", err)
	}

	// ceil(35 / 10) = 4 persistence calls, no more.
	if got := store.callCount(); got != 4 {
		t.Errorf("persist calls = %d, want 4", got)
	}
	if got := store.persisted(); got != n {
		t.Errorf("persisted changes = %d, want %d", got, n)
	}
}

func TestWriter_ThresholdForcesFlush(t *testing.T) {
	store := &fakePersister{}
	w := batch.NewWriter(store, nil,
		batch.WithFlushInterval(time.Hour), // periodic tick never fires
		batch.WithBatchSize(100),
		batch.WithForceThreshold(5),
	)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer w.Stop(context.Background()) //nolint:errcheck

	for range 5 {
		w.Submit(change())
	}

	deadline := time.After(2 * time.Second)
	for store.persisted() < 5 {
		select {
		case <-deadline:
			t.Fatalf("threshold flush did not happen: persisted = %d", store.persisted())
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestWriter_PeriodicFlush(t *testing.T) {
	store := &fakePersister{}
	statuses := &fakeStatusMap{}
	w := batch.NewWriter(store, statuses, batch.WithFlushInterval(10*time.Millisecond))
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer w.Stop(context.Background()) //nolint:errcheck

	w.Submit(change())
	w.Submit(change())

	deadline := time.After(2 * time.Second)
	for store.persisted() < 2 || statuses.putCount() < 2 {
		select {
		case <-deadline:
			t.Fatalf("flush did not propagate: persisted=%d replicated=%d",
				store.persisted(), statuses.putCount())
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestWriter_ReplicationOnlyAfterPersistSucceeds(t *testing.T) {
	store := &fakePersister{failFor: 1}
	statuses := &fakeStatusMap{}
	w := batch.NewWriter(store, statuses,
		batch.WithFlushInterval(time.Hour),
		batch.WithMaxRetries(3),
	)

	w.Submit(change())
	if err := w.Drain(context.Background()); err != nil {
		t.Fatalf("drain error: %v", err)
	}

	// First persist failed; the change must not have reached the cache
	// until the retry persisted it.
	if got := store.persisted(); got != 1 {
		t.Errorf("persisted = %d, want 1", got)
	}
	if got := statuses.putCount(); got != 1 {
		t.Errorf("replicated = %d, want 1", got)
	}
}

func TestWriter_BacksOffAfterPersistFailure(t *testing.T) {
	store := &fakePersister{failFor: 1}
	w := batch.NewWriter(store, nil,
		batch.WithFlushInterval(5*time.Millisecond),
		batch.WithRetryBackoff(backoff.NewConstant(150*time.Millisecond)),
	)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer w.Stop(context.Background()) //nolint:errcheck

	w.Submit(change())

	deadline := time.After(2 * time.Second)
	for store.persisted() < 1 {
		select {
		case <-deadline:
			t.Fatalf("retry never persisted: persisted = %d", store.persisted())
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	// The retry must wait out the backoff, not ride the flush ticker.
	at := store.attemptTimes()
	if len(at) < 2 {
		t.Fatalf("attempts = %d, want at least 2", len(at))
	}
	if gap := at[1].Sub(at[0]); gap < 100*time.Millisecond {
		t.Errorf("retry gap = %v, want at least 100ms of backoff", gap)
	}
}

func TestWriter_DropsAfterRetriesExhausted(t *testing.T) {
	store := &fakePersister{failFor: 100} // never succeeds within the retry budget
	w := batch.NewWriter(store, nil,
		batch.WithFlushInterval(time.Hour),
		batch.WithMaxRetries(3),
	)

	w.Submit(change())
	if err := w.Drain(context.Background()); err != nil {
		t.Fatalf("drain error: %v", err)
	}

	if got := w.Pending(); got != 0 {
		t.Errorf("Pending() = %d, want 0 (dropped after retries)", got)
	}
	if got := store.persisted(); got != 0 {
		t.Errorf("persisted = %d, want 0", got)
	}
}

func TestWriter_StopDrains(t *testing.T) {
	store := &fakePersister{}
	w := batch.NewWriter(store, nil, batch.WithFlushInterval(time.Hour))
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	for range 20 {
		w.Submit(change())
	}
	if err := w.Stop(context.Background()); err != nil {
		t.Fatalf("stop error: %v", err)
	}

	if got := store.persisted(); got != 20 {
		t.Errorf("persisted = %d, want 20", got)
	}

	// Submissions after stop are dropped, not queued.
	w.Submit(change())
	if got := w.Pending(); got != 0 {
		t.Errorf("Pending() after stop = %d, want 0", got)
	}
}
