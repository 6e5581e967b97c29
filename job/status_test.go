package job_test

import (
	"testing"
	"time"

	"github.com/SunnyX6/Datapillar-sub003/job"
)

func TestStatus_Terminal(t *testing.T) {
	tests := []struct {
		status job.Status
		want   bool
	}{
		{job.StatusWaiting, false},
		{job.StatusRunning, false},
		{job.StatusSuccess, true},
		{job.StatusFail, true},
		{job.StatusTimeout, true},
		{job.StatusCancelled, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestStatus_CanTransition_ForwardOnly(t *testing.T) {
	tests := []struct {
		from, to job.Status
		want     bool
	}{
		{job.StatusWaiting, job.StatusRunning, true},
		{job.StatusWaiting, job.StatusCancelled, true},
		{job.StatusWaiting, job.StatusSuccess, false},
		{job.StatusRunning, job.StatusSuccess, true},
		{job.StatusRunning, job.StatusFail, true},
		{job.StatusRunning, job.StatusTimeout, true},
		{job.StatusRunning, job.StatusCancelled, true},
		{job.StatusRunning, job.StatusWaiting, false},
		{job.StatusSuccess, job.StatusRunning, false},
		{job.StatusFail, job.StatusWaiting, false},
		{job.StatusCancelled, job.StatusRunning, false},
		{job.StatusTimeout, job.StatusSuccess, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("CanTransition(%s → %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestDefinition_NextTrigger(t *testing.T) {
	d := &job.Definition{Schedule: "@every 1h"}
	after := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	next, err := d.NextTrigger(after)
	if err != nil {
		t.Fatalf("NextTrigger error: %v", err)
	}
	if want := after.Add(time.Hour); !next.Equal(want) {
		t.Errorf("NextTrigger = %v, want %v", next, want)
	}
}

func TestDefinition_NextTrigger_NoSchedule(t *testing.T) {
	d := &job.Definition{}
	next, err := d.NextTrigger(time.Now())
	if err != nil {
		t.Fatalf("NextTrigger error: %v", err)
	}
	if !next.IsZero() {
		t.Errorf("NextTrigger = %v, want zero time", next)
	}
}

func TestDefinition_NextTrigger_BadExpression(t *testing.T) {
	d := &job.Definition{Schedule: "not a cron"}
	if _, err := d.NextTrigger(time.Now()); err == nil {
		t.Error("NextTrigger = nil error, want parse error")
	}
}

func TestShardSpec_Sharded(t *testing.T) {
	if (job.ShardSpec{}).Sharded() {
		t.Error("zero ShardSpec reported sharded")
	}
	if !(job.ShardSpec{Total: 1000}).Sharded() {
		t.Error("ShardSpec{Total: 1000} reported not sharded")
	}
}
