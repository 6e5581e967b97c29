package shard_test

import (
	"testing"
	"time"

	"github.com/SunnyX6/Datapillar-sub003/id"
	"github.com/SunnyX6/Datapillar-sub003/shard"
)

func TestCapacitySizer(t *testing.T) {
	tests := []struct {
		name  string
		base  int64
		free  int
		total int64
		want  int64
	}{
		{"scales with free slots", 100, 4, 10_000, 400},
		{"zero free slots floors at base", 100, 0, 10_000, 100},
		{"clamped to total", 100, 50, 300, 300},
		{"zero base uses default", 0, 2, 10_000, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := shard.CapacitySizer{Base: tt.base}
			if got := s.Size(tt.free, tt.total); got != tt.want {
				t.Fatalf("Size(%d, %d) = %d, want %d", tt.free, tt.total, got, tt.want)
			}
		})
	}
}

func TestPlan(t *testing.T) {
	c, ok := shard.Plan(0, 400, 1000)
	if !ok || c.Start != 0 || c.End != 400 {
		t.Fatalf("first plan = %+v ok=%v", c, ok)
	}

	// Tail range is truncated to the offset space.
	c, ok = shard.Plan(800, 400, 1000)
	if !ok || c.Start != 800 || c.End != 1000 {
		t.Fatalf("tail plan = %+v ok=%v", c, ok)
	}

	// Cursor past the end: nothing left.
	if _, ok := shard.Plan(1000, 400, 1000); ok {
		t.Fatal("expected exhausted offset space")
	}
}

func TestProgressionWinResetsContention(t *testing.T) {
	p := shard.NewProgression(id.InstanceID{}, 1000)

	d1, ok := p.RecordLoss()
	if !ok {
		t.Fatal("first loss should allow retry")
	}
	d2, _ := p.RecordLoss()
	if d2 <= d1 {
		t.Fatalf("backoff should grow: %v then %v", d1, d2)
	}

	p.RecordWin(shard.Claim{Start: 0, End: 100})
	if p.Active() == nil || p.Active().End != 100 {
		t.Fatalf("active = %+v", p.Active())
	}

	// Contention counter reset: next loss is back to the first delay.
	d3, _ := p.RecordLoss()
	if d3 != d1 {
		t.Fatalf("after win, first loss delay = %v, want %v", d3, d1)
	}
}

func TestProgressionBackoffCapped(t *testing.T) {
	p := shard.NewProgression(id.InstanceID{}, 1000)
	var last time.Duration
	for i := 0; i < shard.MaxClaimAttempts-1; i++ {
		d, ok := p.RecordLoss()
		if !ok {
			t.Fatalf("paused at attempt %d", i+1)
		}
		last = d
	}
	if last > time.Second {
		t.Fatalf("backoff exceeded cap: %v", last)
	}

	// Final loss exhausts the bound.
	if _, ok := p.RecordLoss(); ok {
		t.Fatal("expected pause after exhausting attempts")
	}
	if !p.Paused() {
		t.Fatal("Paused() = false after exhaustion")
	}

	p.Resume()
	if p.Paused() {
		t.Fatal("Paused() = true after Resume")
	}
	if d, ok := p.RecordLoss(); !ok || d == 0 {
		t.Fatalf("after resume, loss = %v ok=%v", d, ok)
	}
}

func TestProgressionClaimingFlag(t *testing.T) {
	p := shard.NewProgression(id.InstanceID{}, 100)
	if p.Claiming() {
		t.Fatal("new progression should not be claiming")
	}
	p.BeginClaim()
	if !p.Claiming() {
		t.Fatal("BeginClaim did not set in-flight flag")
	}
	p.RecordWin(shard.Claim{Start: 0, End: 50})
	if p.Claiming() {
		t.Fatal("win should clear in-flight flag")
	}
	p.RangeDone()
	if p.Active() != nil {
		t.Fatal("RangeDone should clear active range")
	}
}
