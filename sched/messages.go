package sched

import (
	"github.com/SunnyX6/Datapillar-sub003/exec"
	"github.com/SunnyX6/Datapillar-sub003/id"
	"github.com/SunnyX6/Datapillar-sub003/job"
	"github.com/SunnyX6/Datapillar-sub003/replica"
	"github.com/SunnyX6/Datapillar-sub003/shard"
)

// message is the closed set of mailbox messages. Every async completion —
// timer fire, load result, execution report, claim outcome — re-enters the
// scheduler as one of these, processed serially by the run goroutine.
type message interface{ isMessage() }

// bucketAcquiredMsg: the lease manager acquired a partition.
type bucketAcquiredMsg struct{ bucket int }

// bucketLostMsg: a held partition lease expired and was taken elsewhere.
type bucketLostMsg struct{ bucket int }

// loadedMsg: a bulk, single-bucket or incremental load finished.
type loadedMsg struct {
	buckets     []int
	instances   []*job.Instance
	incremental bool
	bootstrap   bool
	err         error
}

// dispatchTickMsg: the dispatch timer fired.
type dispatchTickMsg struct{}

// reportMsg: an execution unit finished.
type reportMsg struct{ report exec.Report }

// splitReportMsg: one claimed shard range finished.
type splitReportMsg struct{ report exec.SplitReport }

// claimResultMsg: a shard-range claim attempt resolved.
type claimResultMsg struct {
	instID    id.InstanceID
	claim     shard.Claim
	won       bool
	exhausted bool
	err       error
}

// claimRetryMsg: the backoff timer for a lost claim fired.
type claimRetryMsg struct{ instID id.InstanceID }

// rangesListedMsg: the recorded ranges of an exhausted sharded instance.
type rangesListedMsg struct {
	instID id.InstanceID
	ranges []replica.Range
	err    error
}

// cancelRunMsg: cancel every instance of a workflow run.
type cancelRunMsg struct{ runID id.RunID }

// definitionMsg: a refreshed definition arrived from the store.
type definitionMsg struct {
	def *job.Definition
	err error
}

// rerunMsg: externally rerun-marked instances re-entering WAITING.
type rerunMsg struct {
	instances []*job.Instance
	err       error
}

// forwardedMsg: a peer accepted the instance; local responsibility ends.
type forwardedMsg struct{ instID id.InstanceID }

// requeueMsg: routing away failed; requeue locally after a delay.
type requeueMsg struct{ instID id.InstanceID }

// parentStatusMsg: a foreign parent's replicated status arrived.
type parentStatusMsg struct {
	parent id.InstanceID
	status job.Status
	found  bool
	err    error
}

// syncTickMsg: the incremental-load timer fired; compare watermarks.
type syncTickMsg struct{}

// inspectMsg runs fn on the scheduler goroutine and signals done. Backs the
// synchronous introspection accessors.
type inspectMsg struct {
	fn   func()
	done chan struct{}
}

func (bucketAcquiredMsg) isMessage() {}
func (bucketLostMsg) isMessage()     {}
func (loadedMsg) isMessage()         {}
func (dispatchTickMsg) isMessage()   {}
func (reportMsg) isMessage()         {}
func (splitReportMsg) isMessage()    {}
func (claimResultMsg) isMessage()    {}
func (claimRetryMsg) isMessage()     {}
func (rangesListedMsg) isMessage()   {}
func (cancelRunMsg) isMessage()      {}
func (definitionMsg) isMessage()     {}
func (rerunMsg) isMessage()          {}
func (forwardedMsg) isMessage()      {}
func (requeueMsg) isMessage()        {}
func (parentStatusMsg) isMessage()   {}
func (syncTickMsg) isMessage()       {}
func (inspectMsg) isMessage()        {}
