package client

import (
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: time.Second, MaxAttempts: 6}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{6, time.Second},
		{500, time.Second},
	}
	for _, tt := range tests {
		if got := b.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffNonDecreasing(t *testing.T) {
	for _, b := range []Backoff{
		DefaultBackoff(),
		{Base: 3 * time.Millisecond, Max: 7 * time.Millisecond},
		{Base: time.Second},
	} {
		prev := time.Duration(0)
		for attempt := 1; attempt <= 100; attempt++ {
			d := b.Delay(attempt)
			if d < prev {
				t.Fatalf("%+v: Delay(%d) = %v < Delay(%d) = %v", b, attempt, d, attempt-1, prev)
			}
			if b.Max > 0 && d > b.Max {
				t.Fatalf("%+v: Delay(%d) = %v exceeds max", b, attempt, d)
			}
			prev = d
		}
	}
}

func TestBackoffExhausted(t *testing.T) {
	b := Backoff{Base: time.Second, MaxAttempts: 3}
	for attempt, want := range map[int]bool{1: false, 3: false, 4: true} {
		if got := b.Exhausted(attempt); got != want {
			t.Errorf("Exhausted(%d) = %v, want %v", attempt, got, want)
		}
	}
	if (Backoff{Base: time.Second}).Exhausted(1 << 20) {
		t.Error("zero MaxAttempts should retry forever")
	}
}

func TestDefaultBackoff(t *testing.T) {
	b := DefaultBackoff()
	if b.Base != time.Second || b.Max != 30*time.Second || b.MaxAttempts != 10 {
		t.Errorf("DefaultBackoff() = %+v", b)
	}
}
