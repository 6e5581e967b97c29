// Package shard implements worker-autonomous splitting of sharded job
// instances into claimable offset ranges.
//
// Each worker computes its own shard size from its capacity, reads the
// shared next-unclaimed cursor, and optimistically claims the range
// [start, start+size). Losing a claim is expected steady state, not an
// error: the loser advances the cursor anyway (a stale reader must never
// retry the same value) and backs off exponentially, capped at one second
// and bounded at ten attempts. Past the bound the progression pauses until
// an external trigger — typically a peer's split-completion — resumes it.
//
// The Progression type here is the pure state machine; the scheduler owns
// one per running sharded instance and performs the asynchronous claim I/O
// around it, feeding results back in.
package shard

import (
	"time"

	"github.com/SunnyX6/Datapillar-sub003/backoff"
	"github.com/SunnyX6/Datapillar-sub003/id"
)

// MaxClaimAttempts bounds consecutive lost claims before the progression
// pauses.
const MaxClaimAttempts = 10

// Sizer computes this worker's shard size. Pluggable so deployments can
// trade range granularity against claim traffic.
type Sizer interface {
	// Size returns the range width for a worker with the given number of
	// free execution slots, never exceeding total.
	Size(freeSlots int, total int64) int64
}

// CapacitySizer scales the range width linearly with free execution slots:
// Base offsets per free slot, at least Base.
type CapacitySizer struct {
	Base int64
}

// Size implements Sizer.
func (s CapacitySizer) Size(freeSlots int, total int64) int64 {
	base := s.Base
	if base <= 0 {
		base = 100
	}
	if freeSlots < 1 {
		freeSlots = 1
	}
	width := base * int64(freeSlots)
	if width > total {
		width = total
	}
	return width
}

// DefaultSizer returns the sizer used when none is configured.
func DefaultSizer() Sizer { return CapacitySizer{Base: 100} }

// Claim is one locally held range [Start, End).
type Claim struct {
	Start int64
	End   int64
}

// Plan returns the range to claim given the shared cursor position, the
// worker's range width and the offset-space bound. The bool is false when
// the cursor has passed the bound — nothing is left to claim. Pure, so the
// claim goroutine can call it off the scheduler thread.
func Plan(cursor, size, total int64) (Claim, bool) {
	if cursor >= total {
		return Claim{}, false
	}
	end := cursor + size
	if end > total {
		end = total
	}
	return Claim{Start: cursor, End: end}, true
}

// Progression tracks the claim state of one sharded instance on one
// worker. Confined to the owning scheduler goroutine; no locking.
type Progression struct {
	InstID  id.InstanceID
	Total   int64
	backoff backoff.Strategy

	attempts int
	paused   bool
	active   *Claim
	claiming bool
}

// NewProgression creates the claim progression for one sharded instance.
func NewProgression(instID id.InstanceID, total int64) *Progression {
	return &Progression{
		InstID:  instID,
		Total:   total,
		backoff: backoff.ClaimStrategy(),
	}
}

// BeginClaim marks a claim attempt in flight.
func (p *Progression) BeginClaim() { p.claiming = true }

// EndClaim clears the in-flight flag without recording an outcome. Used
// when an attempt resolves to neither win nor loss, e.g. an exhausted
// offset space.
func (p *Progression) EndClaim() { p.claiming = false }

// Claiming reports whether a claim attempt is in flight.
func (p *Progression) Claiming() bool { return p.claiming }

// RecordWin notes a won claim: the range is now this worker's active
// work and the contention counter resets.
func (p *Progression) RecordWin(c Claim) {
	p.claiming = false
	p.attempts = 0
	p.paused = false
	p.active = &c
}

// RecordLoss notes a lost claim and returns the backoff delay before the
// next attempt. The second return is false when the attempt bound is
// exhausted; the progression is then paused until Resume.
func (p *Progression) RecordLoss() (time.Duration, bool) {
	p.claiming = false
	p.attempts++
	if p.attempts >= MaxClaimAttempts {
		p.paused = true
		return 0, false
	}
	return p.backoff.Delay(p.attempts), true
}

// RangeDone clears the active range after its split report.
func (p *Progression) RangeDone() { p.active = nil }

// Active returns the locally held range, or nil.
func (p *Progression) Active() *Claim { return p.active }

// Paused reports whether claiming is paused after exhausting retries.
func (p *Progression) Paused() bool { return p.paused }

// Resume lifts a pause and resets the contention counter. Called on
// external triggers such as a peer's split-completion report.
func (p *Progression) Resume() {
	p.paused = false
	p.attempts = 0
}
