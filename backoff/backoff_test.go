package backoff_test

import (
	"testing"
	"time"

	"github.com/SunnyX6/Datapillar-sub003/backoff"
)

func TestConstant_ReturnsFixedDelay(t *testing.T) {
	c := backoff.NewConstant(5 * time.Second)
	for attempt := 1; attempt <= 10; attempt++ {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, 5*time.Second)
		}
	}
}

func TestExponential_DoublesEachAttempt(t *testing.T) {
	e := backoff.NewExponential(50*time.Millisecond, time.Hour)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 50 * time.Millisecond},
		{2, 100 * time.Millisecond},
		{3, 200 * time.Millisecond},
		{4, 400 * time.Millisecond},
		{5, 800 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_CapsAtMax(t *testing.T) {
	e := backoff.NewExponential(50*time.Millisecond, time.Second)

	// Attempt 6 = 1.6s > 1s max.
	if got := e.Delay(6); got != time.Second {
		t.Errorf("Delay(6) = %v, want %v (capped at Max)", got, time.Second)
	}
	if got := e.Delay(20); got != time.Second {
		t.Errorf("Delay(20) = %v, want %v (capped at Max)", got, time.Second)
	}
}

func TestExponentialWithJitter_StaysInRange(t *testing.T) {
	e := backoff.NewExponentialWithJitter(50*time.Millisecond, time.Second)

	for attempt := 1; attempt <= 20; attempt++ {
		got := e.Delay(attempt)
		if got < 0 || got > time.Second {
			t.Errorf("Delay(%d) = %v, want within [0, 1s]", attempt, got)
		}
	}
}

func TestClaimStrategy_CapsAtOneSecond(t *testing.T) {
	s := backoff.ClaimStrategy()
	for attempt := 1; attempt <= 10; attempt++ {
		if got := s.Delay(attempt); got > time.Second {
			t.Errorf("Delay(%d) = %v, exceeds 1s cap", attempt, got)
		}
	}
	// Claim retries are bounded at 10 attempts; by then the cap holds.
	if got := s.Delay(10); got != time.Second {
		t.Errorf("Delay(10) = %v, want %v", got, time.Second)
	}
}
