package sched

import (
	"log/slog"
	"time"

	"github.com/SunnyX6/Datapillar-sub003/exec"
	"github.com/SunnyX6/Datapillar-sub003/id"
	"github.com/SunnyX6/Datapillar-sub003/job"
	"github.com/SunnyX6/Datapillar-sub003/replica"
	"github.com/SunnyX6/Datapillar-sub003/shard"
)

// ── partition membership ──

func (s *Scheduler) handleBucketAcquired(m bucketAcquiredMsg) {
	if _, ok := s.owned[m.bucket]; ok {
		return
	}
	s.owned[m.bucket] = struct{}{}
	if s.bootstrapping {
		// The bootstrap bulk load covers buckets acquired during it;
		// handleLoaded backfills any it missed.
		return
	}
	bucket := m.bucket
	go func() {
		instances, err := s.store.LoadBucket(s.ctx, bucket)
		s.post(loadedMsg{buckets: []int{bucket}, instances: instances, err: err})
	}()
}

func (s *Scheduler) handleBucketLost(m bucketLostMsg) {
	if _, ok := s.owned[m.bucket]; !ok {
		return
	}
	delete(s.owned, m.bucket)
	delete(s.loaded, m.bucket)

	ids := make([]id.InstanceID, 0, len(s.byBucket[m.bucket]))
	for instID := range s.byBucket[m.bucket] {
		ids = append(ids, instID)
	}
	for _, instID := range ids {
		s.purge(instID)
	}
	s.logger.Warn("partition lost, instances purged",
		slog.Int("bucket", m.bucket),
		slog.Int("instances", len(ids)),
	)
	s.rearmDispatch()
}

// ── loads ──

func (s *Scheduler) handleLoaded(m loadedMsg) {
	if m.bootstrap {
		s.bootstrapping = false
		for _, b := range m.buckets {
			s.owned[b] = struct{}{}
		}
	}
	if m.err != nil {
		// Availability over completeness: proceed with what we have.
		s.logger.Error("instance load failed, continuing",
			slog.Bool("bootstrap", m.bootstrap),
			slog.String("error", m.err.Error()),
		)
	} else {
		for _, b := range m.buckets {
			s.loaded[b] = struct{}{}
		}
		s.merge(m.instances)
	}

	if m.bootstrap {
		// Buckets acquired after the bulk-load snapshot get their own load.
		for b := range s.owned {
			if _, ok := s.loaded[b]; ok {
				continue
			}
			bucket := b
			go func() {
				instances, err := s.store.LoadBucket(s.ctx, bucket)
				s.post(loadedMsg{buckets: []int{bucket}, instances: instances, err: err})
			}()
		}
		s.armSync()
	}
	s.rearmDispatch()
}

// merge indexes loaded instances up to the in-memory cap. Further loads
// are dropped with a warning — back-pressure, not a queue.
func (s *Scheduler) merge(instances []*job.Instance) {
	var dropped int
	var maxID id.InstanceID
	for _, inst := range instances {
		if inst.Status.Terminal() {
			continue
		}
		if _, ok := s.instances[inst.ID]; ok {
			continue
		}
		if _, owned := s.owned[inst.Bucket]; !owned {
			continue
		}
		if s.maxInstances > 0 && len(s.instances) >= s.maxInstances {
			dropped++
			continue
		}
		s.index(inst)
		if inst.ID.String() > maxID.String() {
			maxID = inst.ID
		}
	}
	if dropped > 0 {
		s.logger.Warn("instance cap reached, load dropped",
			slog.Int("dropped", dropped),
			slog.Int("cap", s.maxInstances),
		)
		s.metrics.LoadsDropped(s.ctx, dropped)
	}
	s.advanceWatermark(maxID)
}

// index adds one instance to every applicable index.
func (s *Scheduler) index(inst *job.Instance) {
	s.instances[inst.ID] = inst

	bucket, ok := s.byBucket[inst.Bucket]
	if !ok {
		bucket = make(map[id.InstanceID]struct{})
		s.byBucket[inst.Bucket] = bucket
	}
	bucket[inst.ID] = struct{}{}

	run, ok := s.byRun[inst.RunID]
	if !ok {
		run = make(map[id.InstanceID]struct{})
		s.byRun[inst.RunID] = run
	}
	run[inst.ID] = struct{}{}

	for _, parent := range inst.Parents {
		kids, ok := s.children[parent]
		if !ok {
			kids = make(map[id.InstanceID]struct{})
			s.children[parent] = kids
		}
		kids[inst.ID] = struct{}{}
	}

	switch inst.Status {
	case job.StatusWaiting:
		s.queue.Push(inst.ID, inst.TriggerAt)
	case job.StatusRunning:
		// Loaded mid-execution (failover, restart): its report or rerun
		// decides its fate, but block strategies must see it meanwhile.
		// No local capacity slot — the execution holds one elsewhere.
		s.trackRunning(inst)
	}
}

// advanceWatermark raises the local high-water mark and pushes it to peers
// so they can pull incrementally.
func (s *Scheduler) advanceWatermark(candidate id.InstanceID) {
	if candidate.IsNil() || candidate.String() <= s.watermark.String() {
		return
	}
	s.watermark = candidate
	go func() {
		if _, err := s.replicas.AdvanceHighWaterMark(s.ctx, candidate); err != nil {
			s.logger.Warn("high-water-mark advance failed", slog.String("error", err.Error()))
		}
	}()
}

func (s *Scheduler) armSync() {
	if s.syncInterval <= 0 {
		return
	}
	s.syncTimer.Stop()
	s.syncTimer = s.timers.After(s.syncInterval, func() { s.post(syncTickMsg{}) })
}

func (s *Scheduler) handleSyncTick() {
	owned := make([]int, 0, len(s.owned))
	for b := range s.owned {
		owned = append(owned, b)
	}
	local := s.watermark
	if len(owned) > 0 {
		go func() {
			mark, err := s.replicas.HighWaterMark(s.ctx)
			if err != nil {
				s.logger.Warn("high-water-mark read failed", slog.String("error", err.Error()))
				return
			}
			if mark.IsNil() || mark.String() <= local.String() {
				return
			}
			instances, lerr := s.store.LoadSince(s.ctx, owned, local)
			s.post(loadedMsg{buckets: owned, instances: instances, incremental: true, err: lerr})
		}()
	}
	s.armSync()
}

// ── dispatch loop ──

// rearmDispatch arms one timer for the earliest pending trigger time.
// Cancel-then-recreate, never mutate in place.
func (s *Scheduler) rearmDispatch() {
	s.dispatchTimer.Stop()
	s.dispatchTimer = nil
	at, ok := s.queue.PeekMin()
	if !ok {
		return
	}
	d := time.Until(at)
	if d < 0 {
		d = 0
	}
	s.dispatchTimer = s.timers.After(d, func() { s.post(dispatchTickMsg{}) })
}

func (s *Scheduler) handleDispatchTick() {
	now := time.Now()
	for _, instID := range s.queue.PopDue(now) {
		inst := s.instances[instID]
		if inst == nil || inst.Status != job.StatusWaiting {
			continue
		}
		if !s.depsSatisfied(inst) {
			// Blocked, not an error. Re-check after a delay; a local
			// parent's completion re-dispatches sooner.
			s.queue.Push(instID, now.Add(s.depRecheck))
			continue
		}
		s.dispatch(inst, now)
	}
	s.rearmDispatch()
}

// depsSatisfied reports whether every parent reached success, consulting
// in-memory state only: the local partition table first, then the local
// mirror of the cross-partition status cache. A missing or non-success
// parent blocks — the conservative default. An unmirrored (or still
// non-terminal) foreign parent additionally triggers an off-goroutine cache
// fetch whose outcome re-enters as a parentStatusMsg, so the scheduling
// goroutine never waits on the replica backend.
func (s *Scheduler) depsSatisfied(inst *job.Instance) bool {
	ok := true
	for _, parent := range inst.Parents {
		if local := s.instances[parent]; local != nil {
			if local.Status != job.StatusSuccess {
				ok = false
			}
			continue
		}
		status, mirrored := s.foreign[parent]
		if mirrored && status == job.StatusSuccess {
			continue
		}
		ok = false
		if !mirrored || !status.Terminal() {
			s.fetchParentStatus(parent)
		}
	}
	return ok
}

// fetchParentStatus mirrors one foreign parent's replicated status. At most
// one fetch per parent is in flight.
func (s *Scheduler) fetchParentStatus(parent id.InstanceID) {
	if _, inFlight := s.foreignFetch[parent]; inFlight {
		return
	}
	s.foreignFetch[parent] = struct{}{}
	go func() {
		status, found, err := s.replicas.InstanceStatus(s.ctx, parent)
		s.post(parentStatusMsg{parent: parent, status: status, found: found, err: err})
	}()
}

func (s *Scheduler) handleParentStatus(m parentStatusMsg) {
	delete(s.foreignFetch, m.parent)
	if m.err != nil {
		s.logger.Warn("status cache read failed",
			slog.String("parent", m.parent.String()),
			slog.String("error", m.err.Error()),
		)
		return
	}
	if !m.found || len(s.children[m.parent]) == 0 {
		// Unknown yet, or nothing held here depends on it anymore. The
		// mirror stays bounded by the dependency edges.
		return
	}
	s.foreign[m.parent] = m.status
	if m.status == job.StatusSuccess {
		s.dispatchChildren(m.parent, time.Now())
		s.rearmDispatch()
	}
}

// dispatch applies the block strategy, checks capacity and spawns the
// execution unit. The caller has already removed inst from the queue.
func (s *Scheduler) dispatch(inst *job.Instance, now time.Time) {
	def := inst.Def
	if def != nil {
		switch def.Block {
		case job.BlockDiscard:
			if len(s.runningByJob[inst.JobID]) > 0 {
				s.logger.Info("discarding instance, job already running",
					slog.String("instance_id", inst.ID.String()),
					slog.String("job_id", inst.JobID.String()),
				)
				inst.Status = job.StatusCancelled
				s.submitStatus(inst.ID, job.StatusCancelled, now)
				s.purge(inst.ID)
				return
			}
		case job.BlockCover:
			for otherID := range s.runningByJob[inst.JobID] {
				cmd := exec.CancelCommand{InstanceID: otherID}
				go func() {
					if err := s.executor.Cancel(s.ctx, cmd); err != nil {
						s.logger.Warn("cover cancel failed",
							slog.String("instance_id", cmd.InstanceID.String()),
							slog.String("error", err.Error()),
						)
					}
				}()
			}
		}
	}

	if !s.capacity.Acquire() {
		s.routeAway(inst, now)
		return
	}

	s.markRunning(inst, now)
	s.metrics.Dispatched(s.ctx)

	if inst.Sharded() {
		prog := shard.NewProgression(inst.ID, def.Shard.Total)
		s.progressions[inst.ID] = prog
		s.startClaim(inst, prog)
		return
	}

	cmd := s.buildCommand(inst, nil)
	go func() {
		if err := s.executor.Execute(s.ctx, cmd); err != nil {
			s.post(reportMsg{report: exec.Report{
				InstanceID: cmd.InstanceID,
				Status:     job.StatusFail,
				Error:      err.Error(),
				FinishedAt: time.Now(),
			}})
		}
	}()
}

// trackRunning indexes an instance as running without touching capacity.
func (s *Scheduler) trackRunning(inst *job.Instance) {
	s.running[inst.ID] = struct{}{}
	byJob, ok := s.runningByJob[inst.JobID]
	if !ok {
		byJob = make(map[id.InstanceID]struct{})
		s.runningByJob[inst.JobID] = byJob
	}
	byJob[inst.ID] = struct{}{}
}

func (s *Scheduler) markRunning(inst *job.Instance, now time.Time) {
	inst.Status = job.StatusRunning
	s.trackRunning(inst)
	s.slotted[inst.ID] = struct{}{}
	s.submitStatus(inst.ID, job.StatusRunning, now)
}

func (s *Scheduler) clearRunning(inst *job.Instance) {
	if _, ok := s.running[inst.ID]; !ok {
		return
	}
	delete(s.running, inst.ID)
	// Only dispatches that acquired a local slot release one; instances
	// loaded already RUNNING never held one.
	if _, ok := s.slotted[inst.ID]; ok {
		delete(s.slotted, inst.ID)
		s.capacity.Release()
	}
	if byJob := s.runningByJob[inst.JobID]; byJob != nil {
		delete(byJob, inst.ID)
		if len(byJob) == 0 {
			delete(s.runningByJob, inst.JobID)
		}
	}
}

// routeAway handles a capacity-rejected dispatch: try a less-loaded peer
// when the definition allows it and a forwarder exists, otherwise requeue
// locally after a delay. Sharded instances always stay local — their work
// distributes through range claiming instead.
func (s *Scheduler) routeAway(inst *job.Instance, now time.Time) {
	def := inst.Def
	if def != nil && def.Route == job.RouteLeastLoaded && s.forwarder != nil && !inst.Sharded() {
		cmd := s.buildCommand(inst, nil)
		instID := inst.ID
		go func() {
			peer, ok, err := s.capacity.LeastLoadedPeer(s.ctx)
			if err == nil && ok {
				if ferr := s.forwarder.Forward(s.ctx, peer, cmd); ferr == nil {
					s.post(forwardedMsg{instID: instID})
					return
				}
			}
			s.post(requeueMsg{instID: instID})
		}()
		return
	}
	s.queue.Push(inst.ID, now.Add(s.requeueDelay))
	s.rearmDispatch()
}

func (s *Scheduler) handleForwarded(instID id.InstanceID) {
	inst := s.instances[instID]
	if inst == nil {
		return
	}
	s.logger.Info("instance forwarded to peer",
		slog.String("instance_id", instID.String()),
	)
	s.purge(instID)
}

func (s *Scheduler) handleRequeue(instID id.InstanceID) {
	inst := s.instances[instID]
	if inst == nil || inst.Status != job.StatusWaiting {
		return
	}
	s.queue.Push(instID, time.Now().Add(s.requeueDelay))
	s.rearmDispatch()
}

func (s *Scheduler) buildCommand(inst *job.Instance, c *shard.Claim) exec.ExecuteCommand {
	cmd := exec.ExecuteCommand{
		InstanceID: inst.ID,
		RunID:      inst.RunID,
		JobID:      inst.JobID,
		Params:     inst.Params,
		RetryCount: inst.RetryCount,
	}
	if def := inst.Def; def != nil {
		cmd.Name = def.Name
		cmd.Component = def.Component
		cmd.Timeout = def.Timeout
		cmd.Priority = def.Priority
		if len(def.Params) > 0 && len(cmd.Params) == 0 {
			cmd.Params = def.Params
		}
	}
	if c != nil {
		cmd.Sharded = true
		cmd.RangeStart = c.Start
		cmd.RangeEnd = c.End
	}
	return cmd
}

func (s *Scheduler) submitStatus(instID id.InstanceID, status job.Status, at time.Time) {
	s.writer.Submit(job.StatusChange{
		InstanceID: instID,
		Status:     status,
		At:         at,
		WorkerID:   s.workerID,
	})
}

// ── shard-range claiming ──

// startClaim launches one asynchronous claim attempt: read the shared
// cursor, claim [cursor, cursor+size), advance the cursor win or lose. The
// outcome re-enters as a claimResultMsg.
func (s *Scheduler) startClaim(inst *job.Instance, prog *shard.Progression) {
	if prog.Claiming() || prog.Active() != nil || prog.Paused() {
		return
	}
	prog.BeginClaim()
	size := s.sizer.Size(s.capacity.Snapshot().Free(), prog.Total)
	instID := inst.ID
	total := prog.Total
	go func() {
		cursor, err := s.replicas.NextStart(s.ctx, instID)
		if err != nil {
			s.post(claimResultMsg{instID: instID, err: err})
			return
		}
		c, ok := shard.Plan(cursor, size, total)
		if !ok {
			s.post(claimResultMsg{instID: instID, exhausted: true})
			return
		}
		won, err := s.replicas.TryMarkProcessing(s.ctx, instID, c.Start, c.End, s.workerID)
		if err != nil {
			s.post(claimResultMsg{instID: instID, err: err})
			return
		}
		// Winner and loser both advance the cursor: a stale reader must
		// never retry the same value.
		if uerr := s.replicas.UpdateNextStart(s.ctx, instID, c.End); uerr != nil {
			s.logger.Warn("cursor advance failed",
				slog.String("instance_id", instID.String()),
				slog.String("error", uerr.Error()),
			)
		}
		s.post(claimResultMsg{instID: instID, claim: c, won: won})
	}()
}

func (s *Scheduler) handleClaimResult(m claimResultMsg) {
	inst := s.instances[m.instID]
	prog := s.progressions[m.instID]
	if inst == nil || prog == nil {
		return // purged while the claim was in flight
	}

	switch {
	case m.err != nil:
		s.logger.Warn("shard claim error",
			slog.String("instance_id", m.instID.String()),
			slog.String("error", m.err.Error()),
		)
		s.retryClaim(prog, m.instID)

	case m.exhausted:
		prog.EndClaim()
		s.checkRanges(m.instID)

	case m.won:
		prog.RecordWin(m.claim)
		s.metrics.ClaimWon(s.ctx)
		cmd := s.buildCommand(inst, &m.claim)
		go func() {
			if err := s.executor.Execute(s.ctx, cmd); err != nil {
				s.post(splitReportMsg{report: exec.SplitReport{
					InstanceID: cmd.InstanceID,
					Start:      cmd.RangeStart,
					End:        cmd.RangeEnd,
					Status:     job.StatusFail,
					Error:      err.Error(),
				}})
			}
		}()

	default:
		s.metrics.ClaimLost(s.ctx)
		s.retryClaim(prog, m.instID)
	}
}

// retryClaim schedules the next attempt with exponential backoff. Past the
// attempt bound the progression pauses; a slow resume timer still fires
// so a worker that lost every claim observes the instance finishing.
func (s *Scheduler) retryClaim(prog *shard.Progression, instID id.InstanceID) {
	delay, ok := prog.RecordLoss()
	if !ok {
		s.logger.Info("shard claiming paused, contention bound reached",
			slog.String("instance_id", instID.String()),
		)
		delay = pauseResumeDelay
	}
	s.claimTimers[instID].Stop()
	s.claimTimers[instID] = s.timers.After(delay, func() { s.post(claimRetryMsg{instID: instID}) })
}

func (s *Scheduler) handleClaimRetry(instID id.InstanceID) {
	inst := s.instances[instID]
	prog := s.progressions[instID]
	if inst == nil || prog == nil {
		return
	}
	delete(s.claimTimers, instID)
	if prog.Paused() {
		prog.Resume()
	}
	s.startClaim(inst, prog)
}

func (s *Scheduler) handleSplitReport(r exec.SplitReport) {
	inst := s.instances[r.InstanceID]
	prog := s.progressions[r.InstanceID]
	if inst == nil || prog == nil {
		return
	}
	prog.RangeDone()
	if prog.Paused() {
		prog.Resume()
	}

	instID := r.InstanceID
	start := r.Start
	succeeded := r.Status == job.StatusSuccess
	go func() {
		var err error
		if succeeded {
			err = s.replicas.MarkRangeCompleted(s.ctx, instID, start)
		} else {
			err = s.replicas.MarkRangeFailed(s.ctx, instID, start)
		}
		if err != nil {
			s.logger.Warn("range state update failed",
				slog.String("instance_id", instID.String()),
				slog.Int64("start", start),
				slog.String("error", err.Error()),
			)
		}
		// Chain the next range: the owner immediately claims again.
		s.post(claimRetryMsg{instID: instID})
	}()
}

// checkRanges resolves an exhausted sharded instance: all ranges completed
// means success, any failed means failure, anything still processing
// (possibly on another worker) re-polls.
func (s *Scheduler) checkRanges(instID id.InstanceID) {
	go func() {
		ranges, err := s.replicas.ListRanges(s.ctx, instID)
		s.post(rangesListedMsg{instID: instID, ranges: ranges, err: err})
	}()
}

func (s *Scheduler) handleRangesListed(m rangesListedMsg) {
	inst := s.instances[m.instID]
	prog := s.progressions[m.instID]
	if inst == nil || prog == nil {
		return
	}
	if m.err != nil {
		s.logger.Warn("range listing failed",
			slog.String("instance_id", m.instID.String()),
			slog.String("error", m.err.Error()),
		)
	}

	pending := m.err != nil
	failed := false
	for _, r := range m.ranges {
		switch r.State {
		case replica.RangeCompleted:
		case replica.RangeFailed:
			failed = true
		default:
			pending = true
		}
	}
	if pending {
		instID := m.instID
		s.claimTimers[instID].Stop()
		s.claimTimers[instID] = s.timers.After(s.rangePoll, func() { s.post(claimRetryMsg{instID: instID}) })
		return
	}

	status := job.StatusSuccess
	if failed {
		status = job.StatusFail
	}
	s.handleReport(exec.Report{
		InstanceID: m.instID,
		Status:     status,
		FinishedAt: time.Now(),
	})
}

// ── completion ──

func (s *Scheduler) handleReport(r exec.Report) {
	inst := s.instances[r.InstanceID]
	if inst == nil {
		return // purged (partition loss, cancellation) while executing
	}
	if _, active := s.running[r.InstanceID]; !active {
		// Duplicate or stale: a retry already re-entered WAITING, or the
		// report raced a requeue. Applying it would hop the state machine.
		s.logger.Warn("report for non-running instance dropped",
			slog.String("instance_id", r.InstanceID.String()),
			slog.String("reported", string(r.Status)),
			slog.String("current", string(inst.Status)),
		)
		return
	}
	now := time.Now()

	// Retry policy: a failed single execution re-enters WAITING until the
	// retry budget runs out. Sharded instances do not retry wholesale;
	// their failed ranges are visible in the range map.
	if r.Status == job.StatusFail && !inst.Sharded() {
		if def := inst.Def; def != nil && inst.RetryCount < def.Retry.MaxRetries {
			inst.RetryCount++
			inst.Status = job.StatusWaiting
			inst.TriggerAt = now.Add(def.Retry.Interval)
			s.clearRunning(inst)
			s.queue.Push(inst.ID, inst.TriggerAt)
			s.submitStatus(inst.ID, job.StatusWaiting, now)
			s.logger.Info("execution failed, retrying",
				slog.String("instance_id", inst.ID.String()),
				slog.Int("retry", inst.RetryCount),
				slog.String("error", r.Error),
			)
			s.rearmDispatch()
			return
		}
	}

	if !inst.Status.CanTransition(r.Status) {
		s.logger.Warn("illegal status transition in report dropped",
			slog.String("instance_id", inst.ID.String()),
			slog.String("from", string(inst.Status)),
			slog.String("to", string(r.Status)),
		)
		return
	}
	inst.Status = r.Status
	s.submitStatus(inst.ID, r.Status, now)
	s.metrics.Completed(s.ctx, r.Status)
	s.clearRunning(inst)

	if r.Status == job.StatusSuccess {
		s.scheduleSuccessor(inst, now)
		s.dispatchChildren(inst.ID, now)
	}
	s.purge(inst.ID)
	s.rearmDispatch()
}

// dispatchChildren checks the direct children of a succeeded parent: due
// and satisfied children dispatch immediately; children not yet due are
// re-queued to their exact trigger time, never dispatched early.
func (s *Scheduler) dispatchChildren(parent id.InstanceID, now time.Time) {
	kids := s.children[parent]
	if len(kids) == 0 {
		return
	}
	ids := make([]id.InstanceID, 0, len(kids))
	for childID := range kids {
		ids = append(ids, childID)
	}
	for _, childID := range ids {
		child := s.instances[childID]
		if child == nil || child.Status != job.StatusWaiting {
			continue
		}
		if !s.depsSatisfied(child) {
			continue
		}
		if child.Due(now) {
			s.queue.Remove(childID)
			s.dispatch(child, now)
		} else {
			s.queue.Push(childID, child.TriggerAt)
		}
	}
}

// scheduleSuccessor enqueues the next occurrence of a recurring definition.
func (s *Scheduler) scheduleSuccessor(inst *job.Instance, now time.Time) {
	def := inst.Def
	if def == nil || def.Schedule == "" {
		return
	}
	next, err := def.NextTrigger(now)
	if err != nil {
		s.logger.Warn("bad recurrence schedule",
			slog.String("job_id", inst.JobID.String()),
			slog.String("schedule", def.Schedule),
			slog.String("error", err.Error()),
		)
		return
	}
	if s.maxInstances > 0 && len(s.instances) >= s.maxInstances {
		s.logger.Warn("instance cap reached, successor dropped",
			slog.String("job_id", inst.JobID.String()),
		)
		return
	}
	succ := &job.Instance{
		ID:        id.NewInstanceID(),
		RunID:     inst.RunID,
		JobID:     inst.JobID,
		Bucket:    inst.Bucket,
		Status:    job.StatusWaiting,
		TriggerAt: next,
		Params:    inst.Params,
		Def:       def,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.index(succ)
	s.submitStatus(succ.ID, job.StatusWaiting, now)
	s.advanceWatermark(succ.ID)
}

// ── cancellation, refresh, rerun ──

func (s *Scheduler) handleCancelRun(runID id.RunID) {
	members := s.byRun[runID]
	if len(members) == 0 {
		return
	}
	ids := make([]id.InstanceID, 0, len(members))
	for instID := range members {
		ids = append(ids, instID)
	}
	now := time.Now()
	for _, instID := range ids {
		inst := s.instances[instID]
		if inst == nil {
			continue
		}
		switch inst.Status {
		case job.StatusWaiting:
			// Cancellation is the one path that writes status
			// synchronously: the caller must not observe WAITING after ack.
			cancelled := instID
			go func() {
				if err := s.store.UpdateStatus(s.ctx, cancelled, job.StatusCancelled); err != nil {
					s.logger.Warn("cancel status write failed",
						slog.String("instance_id", cancelled.String()),
						slog.String("error", err.Error()),
					)
				}
			}()
			inst.Status = job.StatusCancelled
			s.submitStatus(instID, job.StatusCancelled, now)
			s.purge(instID)
		case job.StatusRunning:
			// Advisory: the execution unit observes the cancel and
			// reports CANCELLED on its own.
			cmd := exec.CancelCommand{InstanceID: instID}
			go func() {
				if err := s.executor.Cancel(s.ctx, cmd); err != nil {
					s.logger.Warn("cancel command failed",
						slog.String("instance_id", cmd.InstanceID.String()),
						slog.String("error", err.Error()),
					)
				}
			}()
		}
	}
	s.rearmDispatch()
}

func (s *Scheduler) handleDefinition(m definitionMsg) {
	if m.err != nil || m.def == nil {
		if m.err != nil {
			s.logger.Warn("definition refresh failed", slog.String("error", m.err.Error()))
		}
		return
	}
	var n int
	for _, inst := range s.instances {
		if inst.JobID == m.def.ID {
			inst.Def = m.def
			n++
		}
	}
	s.logger.Info("definition refreshed",
		slog.String("job_id", m.def.ID.String()),
		slog.Int("instances", n),
	)
}

func (s *Scheduler) handleRerun(m rerunMsg) {
	if m.err != nil {
		s.logger.Warn("rerun listing failed", slog.String("error", m.err.Error()))
		return
	}
	now := time.Now()
	for _, inst := range m.instances {
		if _, owned := s.owned[inst.Bucket]; !owned {
			continue
		}
		if existing := s.instances[inst.ID]; existing != nil {
			if !existing.Status.Terminal() {
				continue // still scheduled or executing here; rerun would double-run
			}
			existing.Status = job.StatusWaiting
			existing.RetryCount = 0
			existing.TriggerAt = inst.TriggerAt
			s.queue.Push(existing.ID, existing.TriggerAt)
			s.submitStatus(existing.ID, job.StatusWaiting, now)
			continue
		}
		if s.maxInstances > 0 && len(s.instances) >= s.maxInstances {
			s.logger.Warn("instance cap reached, rerun dropped",
				slog.String("instance_id", inst.ID.String()),
			)
			continue
		}
		inst.Status = job.StatusWaiting
		inst.RetryCount = 0
		s.index(inst)
		s.submitStatus(inst.ID, job.StatusWaiting, now)
	}
	s.rearmDispatch()
}

// ── purge ──

// purge removes one instance from every index in O(1) each, so losing a
// whole partition costs O(partition-size), not O(total).
func (s *Scheduler) purge(instID id.InstanceID) {
	inst := s.instances[instID]
	if inst == nil {
		return
	}
	delete(s.instances, instID)
	s.queue.Remove(instID)

	if bucket := s.byBucket[inst.Bucket]; bucket != nil {
		delete(bucket, instID)
		if len(bucket) == 0 {
			delete(s.byBucket, inst.Bucket)
		}
	}
	if run := s.byRun[inst.RunID]; run != nil {
		delete(run, instID)
		if len(run) == 0 {
			delete(s.byRun, inst.RunID)
		}
	}
	for _, parent := range inst.Parents {
		if kids := s.children[parent]; kids != nil {
			delete(kids, instID)
			if len(kids) == 0 {
				delete(s.children, parent)
				delete(s.foreign, parent)
			}
		}
	}
	delete(s.children, instID)

	s.clearRunning(inst)
	delete(s.progressions, instID)
	if h := s.claimTimers[instID]; h != nil {
		h.Stop()
		delete(s.claimTimers, instID)
	}
}
