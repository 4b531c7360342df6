package client

import (
	"testing"
	"time"
)

func TestBackoff_DefaultSchedule(t *testing.T) {
	t.Parallel()

	var b Backoff // zero value uses 1s base, 30s cap
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for attempt, w := range want {
		if got := b.Delay(attempt); got != w {
			t.Errorf("Delay(%d) = %v; want %v", attempt, got, w)
		}
	}
}

func TestBackoff_NegativeAttemptClamped(t *testing.T) {
	t.Parallel()
	var b Backoff
	if got := b.Delay(-3); got != 1*time.Second {
		t.Errorf("Delay(-3) = %v; want 1s", got)
	}
}

func TestBackoff_LargeAttemptStaysCapped(t *testing.T) {
	t.Parallel()
	var b Backoff
	if got := b.Delay(1 << 20); got != 30*time.Second {
		t.Errorf("Delay(huge) = %v; want 30s", got)
	}
}

func TestBackoff_CustomBase(t *testing.T) {
	t.Parallel()
	b := Backoff{Base: 100 * time.Millisecond, Max: 500 * time.Millisecond}
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		500 * time.Millisecond,
		500 * time.Millisecond,
	}
	for attempt, w := range want {
		if got := b.Delay(attempt); got != w {
			t.Errorf("Delay(%d) = %v; want %v", attempt, got, w)
		}
	}
}
