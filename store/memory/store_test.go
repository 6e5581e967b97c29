package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/SunnyX6/Datapillar-sub003"
	"github.com/SunnyX6/Datapillar-sub003/id"
	"github.com/SunnyX6/Datapillar-sub003/job"
	"github.com/SunnyX6/Datapillar-sub003/replica"
	"github.com/SunnyX6/Datapillar-sub003/store/memory"
)

func seedInstance(s *memory.Store, bucket int, status job.Status) *job.Instance {
	inst := &job.Instance{
		ID:        id.NewInstanceID(),
		RunID:     id.NewRunID(),
		JobID:     id.NewJobID(),
		Bucket:    bucket,
		Status:    status,
		TriggerAt: time.Now().UTC(),
	}
	s.PutInstance(inst)
	return inst
}

func TestLoadBuckets_FiltersBucketAndTerminal(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	in := seedInstance(s, 3, job.StatusWaiting)
	seedInstance(s, 3, job.StatusSuccess) // terminal, excluded
	seedInstance(s, 7, job.StatusWaiting) // wrong bucket

	got, err := s.LoadBuckets(ctx, []int{3})
	if err != nil {
		t.Fatalf("LoadBuckets error: %v", err)
	}
	if len(got) != 1 || got[0].ID != in.ID {
		t.Errorf("LoadBuckets = %d instances, want exactly %s", len(got), in.ID)
	}
}

func TestLoadSince_UsesKSortableIDs(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	older := seedInstance(s, 1, job.StatusWaiting)
	newer := seedInstance(s, 1, job.StatusWaiting)

	got, err := s.LoadSince(ctx, []int{1}, older.ID)
	if err != nil {
		t.Fatalf("LoadSince error: %v", err)
	}
	if len(got) != 1 || got[0].ID != newer.ID {
		t.Fatalf("LoadSince = %v, want only the newer instance", got)
	}
}

func TestLoadBuckets_EnrichesDefinitions(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	def := &job.Definition{ID: id.NewJobID(), Name: "etl", Block: job.BlockParallel}
	s.PutDefinition(def)

	inst := seedInstance(s, 1, job.StatusWaiting)
	inst.JobID = def.ID
	s.PutInstance(inst)

	got, err := s.LoadBucket(ctx, 1)
	if err != nil {
		t.Fatalf("LoadBucket error: %v", err)
	}
	if len(got) != 1 || got[0].Def == nil || got[0].Def.Name != "etl" {
		t.Error("loaded instance missing definition snapshot")
	}
}

func TestListRerun_ReturnsOnlyMarked(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	failed := seedInstance(s, 1, job.StatusFail)
	other := seedInstance(s, 1, job.StatusFail)
	s.MarkRerun(failed.ID)

	got, err := s.ListRerun(ctx, []id.InstanceID{failed.ID, other.ID})
	if err != nil {
		t.Fatalf("ListRerun error: %v", err)
	}
	if len(got) != 1 || got[0].ID != failed.ID {
		t.Errorf("ListRerun = %d instances, want only the marked one", len(got))
	}

	// The mark is consumed.
	got, _ = s.ListRerun(ctx, []id.InstanceID{failed.ID})
	if len(got) != 0 {
		t.Error("rerun mark survived a ListRerun")
	}
}

func TestPersistStatuses_AppliesBatch(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	inst := seedInstance(s, 1, job.StatusRunning)
	err := s.PersistStatuses(ctx, []job.StatusChange{
		{InstanceID: inst.ID, Status: job.StatusSuccess, At: time.Now().UTC()},
	})
	if err != nil {
		t.Fatalf("PersistStatuses error: %v", err)
	}
	if got := s.Instance(inst.ID).Status; got != job.StatusSuccess {
		t.Errorf("status = %s, want success", got)
	}
}

func TestUpdateStatus_UnknownInstance(t *testing.T) {
	s := memory.New()
	err := s.UpdateStatus(context.Background(), id.NewInstanceID(), job.StatusCancelled)
	if !errors.Is(err, datapillar.ErrInstanceNotFound) {
		t.Fatalf("err = %v, want ErrInstanceNotFound", err)
	}
}

func TestGetDefinition_Unknown(t *testing.T) {
	s := memory.New()
	if _, err := s.GetDefinition(context.Background(), id.NewJobID()); !errors.Is(err, datapillar.ErrDefinitionNotFound) {
		t.Fatalf("err = %v, want ErrDefinitionNotFound", err)
	}
}

// ──────────────────────────────────────────────────
// Lease table
// ──────────────────────────────────────────────────

func TestLeases_ExclusiveUntilExpiry(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	s := memory.New(memory.WithClock(clock))
	ctx := context.Background()

	alice := id.NewWorkerID()
	bob := id.NewWorkerID()

	ok, err := s.AcquireLease(ctx, 4, alice, 30*time.Second)
	if err != nil || !ok {
		t.Fatalf("alice acquire = %v, %v", ok, err)
	}

	// Bob cannot take a live lease; Alice can re-acquire her own.
	if ok, _ := s.AcquireLease(ctx, 4, bob, 30*time.Second); ok {
		t.Error("bob acquired a live lease")
	}
	if ok, _ := s.AcquireLease(ctx, 4, alice, 30*time.Second); !ok {
		t.Error("alice could not re-acquire her own lease")
	}

	holder, _ := s.LeaseHolder(ctx, 4)
	if holder != alice {
		t.Errorf("holder = %s, want alice", holder)
	}

	// After expiry the lease is claimable.
	now = now.Add(31 * time.Second)
	if ok, _ := s.AcquireLease(ctx, 4, bob, 30*time.Second); !ok {
		t.Error("bob could not acquire an expired lease")
	}
}

func TestRenewLeases_ReportsLost(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	s := memory.New(memory.WithClock(clock))
	ctx := context.Background()

	alice := id.NewWorkerID()
	bob := id.NewWorkerID()
	s.AcquireLease(ctx, 1, alice, 10*time.Second) //nolint:errcheck
	s.AcquireLease(ctx, 2, alice, 10*time.Second) //nolint:errcheck

	// Bucket 2 expires and bob takes it.
	now = now.Add(11 * time.Second)
	s.AcquireLease(ctx, 2, bob, 10*time.Second) //nolint:errcheck

	lost, err := s.RenewLeases(ctx, []int{1, 2}, alice, 10*time.Second)
	if err != nil {
		t.Fatalf("RenewLeases error: %v", err)
	}
	// Bucket 1 also expired (never renewed in time), bucket 2 is bob's.
	if len(lost) != 2 {
		t.Fatalf("lost = %v, want both buckets", lost)
	}
}

// ──────────────────────────────────────────────────
// Range map
// ──────────────────────────────────────────────────

func TestTryMarkProcessing_ConcurrentClaimersDisjoint(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	instID := id.NewInstanceID()

	const workers = 8
	const rangeWidth = 100
	const attempts = 50

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			workerID := id.NewWorkerID()
			for range attempts {
				start, _ := s.NextStart(ctx, instID)
				ok, err := s.TryMarkProcessing(ctx, instID, start, start+rangeWidth, workerID)
				if err != nil {
					t.Errorf("claim error: %v", err)
					return
				}
				// Winner or loser, advance the cursor so nobody
				// retries the same value.
				_ = s.UpdateNextStart(ctx, instID, start+rangeWidth)
				_ = ok
			}
		}(w)
	}
	wg.Wait()

	ranges, err := s.ListRanges(ctx, instID)
	if err != nil {
		t.Fatalf("ListRanges error: %v", err)
	}
	for i := 1; i < len(ranges); i++ {
		if ranges[i].Start < ranges[i-1].End {
			t.Fatalf("overlapping claims: [%d,%d) and [%d,%d)",
				ranges[i-1].Start, ranges[i-1].End, ranges[i].Start, ranges[i].End)
		}
	}
}

func TestUpdateNextStart_MonotonicMax(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	instID := id.NewInstanceID()

	_ = s.UpdateNextStart(ctx, instID, 300)
	_ = s.UpdateNextStart(ctx, instID, 100) // stale, ignored

	got, _ := s.NextStart(ctx, instID)
	if got != 300 {
		t.Errorf("NextStart = %d, want 300", got)
	}
}

func TestRangeStateTransitions(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	instID := id.NewInstanceID()
	workerID := id.NewWorkerID()

	s.TryMarkProcessing(ctx, instID, 0, 100, workerID)   //nolint:errcheck
	s.TryMarkProcessing(ctx, instID, 100, 200, workerID) //nolint:errcheck
	_ = s.MarkRangeCompleted(ctx, instID, 0)
	_ = s.MarkRangeFailed(ctx, instID, 100)

	ranges, _ := s.ListRanges(ctx, instID)
	if len(ranges) != 2 {
		t.Fatalf("ListRanges = %d entries, want 2", len(ranges))
	}
	if ranges[0].State != replica.RangeCompleted {
		t.Errorf("range 0 state = %s, want completed", ranges[0].State)
	}
	if ranges[1].State != replica.RangeFailed {
		t.Errorf("range 100 state = %s, want failed", ranges[1].State)
	}
}

// ──────────────────────────────────────────────────
// Status map, watermark, capacity — LWW and merge
// ──────────────────────────────────────────────────

func TestPutStatuses_LastWriterWins(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	instID := id.NewInstanceID()
	base := time.Now().UTC()

	s.PutStatuses(ctx, []job.StatusChange{{InstanceID: instID, Status: job.StatusSuccess, At: base.Add(time.Second)}}) //nolint:errcheck
	s.PutStatuses(ctx, []job.StatusChange{{InstanceID: instID, Status: job.StatusRunning, At: base}})                  //nolint:errcheck

	status, ok, _ := s.InstanceStatus(ctx, instID)
	if !ok || status != job.StatusSuccess {
		t.Errorf("status = %s ok=%v, want success (newer write wins)", status, ok)
	}
}

func TestAdvanceHighWaterMark_Monotonic(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	older := id.NewInstanceID()
	newer := id.NewInstanceID()

	if moved, _ := s.AdvanceHighWaterMark(ctx, newer); !moved {
		t.Fatal("first advance did not move the mark")
	}
	if moved, _ := s.AdvanceHighWaterMark(ctx, older); moved {
		t.Error("mark moved backward")
	}
	got, _ := s.HighWaterMark(ctx)
	if got != newer {
		t.Errorf("HighWaterMark = %s, want %s", got, newer)
	}
}

// TestMergeReplica_PartitionHeal simulates two replicas diverging during a
// network partition and converging after merging both ways.
func TestMergeReplica_PartitionHeal(t *testing.T) {
	ctx := context.Background()
	a := memory.New()
	b := memory.New()

	instID := id.NewInstanceID()
	base := time.Now().UTC()

	// During the partition: A records a RUNNING status, B later records
	// SUCCESS. A claims range [0,100), B claims [100,200). Cursors and
	// watermarks diverge.
	workerA := id.NewWorkerID()
	workerB := id.NewWorkerID()

	a.PutStatuses(ctx, []job.StatusChange{{InstanceID: instID, Status: job.StatusRunning, At: base}})                //nolint:errcheck
	b.PutStatuses(ctx, []job.StatusChange{{InstanceID: instID, Status: job.StatusSuccess, At: base.Add(time.Second)}}) //nolint:errcheck

	a.TryMarkProcessing(ctx, instID, 0, 100, workerA)   //nolint:errcheck
	b.TryMarkProcessing(ctx, instID, 100, 200, workerB) //nolint:errcheck
	_ = a.UpdateNextStart(ctx, instID, 100)
	_ = b.UpdateNextStart(ctx, instID, 200)

	hw := id.NewInstanceID()
	_, _ = b.AdvanceHighWaterMark(ctx, hw)

	// Heal: merge both directions.
	a.MergeReplica(b)
	b.MergeReplica(a)

	for name, s := range map[string]*memory.Store{"a": a, "b": b} {
		status, ok, _ := s.InstanceStatus(ctx, instID)
		if !ok || status != job.StatusSuccess {
			t.Errorf("%s: status = %s, want success (LWW)", name, status)
		}
		cursor, _ := s.NextStart(ctx, instID)
		if cursor != 200 {
			t.Errorf("%s: cursor = %d, want 200 (max)", name, cursor)
		}
		ranges, _ := s.ListRanges(ctx, instID)
		if len(ranges) != 2 {
			t.Errorf("%s: ranges = %d, want union of 2", name, len(ranges))
		}
		mark, _ := s.HighWaterMark(ctx)
		if mark != hw {
			t.Errorf("%s: watermark = %s, want %s", name, mark, hw)
		}
	}
}

func TestPublishCapacity_LastWriterWins(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	workerID := id.NewWorkerID()
	base := time.Now().UTC()

	newer := replica.Capacity{WorkerID: workerID, Running: 5, MaxConcurrency: 10, UpdatedAt: base.Add(time.Second)}
	older := replica.Capacity{WorkerID: workerID, Running: 9, MaxConcurrency: 10, UpdatedAt: base}

	_ = s.PublishCapacity(ctx, newer)
	_ = s.PublishCapacity(ctx, older) // stale, ignored

	caps, _ := s.ListCapacities(ctx)
	if len(caps) != 1 || caps[0].Running != 5 {
		t.Errorf("capacities = %+v, want the newer entry", caps)
	}
	if caps[0].Free() != 5 {
		t.Errorf("Free() = %d, want 5", caps[0].Free())
	}
}
