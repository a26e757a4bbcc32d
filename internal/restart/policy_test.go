package restart

import (
	"testing"
	"time"
)

var testPolicy = Policy{
	MaxRestarts: 3,
	Window:      time.Minute,
	Backoff:     time.Second,
	BackoffMax:  30 * time.Second,
}

func TestEvaluateAllowsWithinBudget(t *testing.T) {
	now := time.Now()
	d := Evaluate(now, History{}, testPolicy)
	if !d.Allow {
		t.Fatal("first crash should be allowed")
	}
	if d.Delay != time.Second {
		t.Fatalf("first delay = %v, want 1s", d.Delay)
	}
	if d.Count != 1 {
		t.Fatalf("count = %d, want 1", d.Count)
	}
}

func TestEvaluateDeniesAtCap(t *testing.T) {
	now := time.Now()
	h := History{Count: 3, LastRestartAt: now.Add(-time.Second)}
	d := Evaluate(now, h, testPolicy)
	if d.Allow {
		t.Fatal("crash at cap must be denied")
	}
}

func TestEvaluateWindowReset(t *testing.T) {
	now := time.Now()
	// budget exhausted, but the last restart fell out of the window
	h := History{Count: 3, LastRestartAt: now.Add(-2 * time.Minute)}
	d := Evaluate(now, h, testPolicy)
	if !d.Allow {
		t.Fatal("crash after window must start a fresh episode")
	}
	if d.Count != 1 {
		t.Fatalf("count after reset = %d, want 1", d.Count)
	}
	if d.Delay != time.Second {
		t.Fatalf("delay after reset = %v, want base", d.Delay)
	}
}

func TestEvaluateInsideWindowKeepsCount(t *testing.T) {
	now := time.Now()
	h := History{Count: 2, LastRestartAt: now.Add(-10 * time.Second)}
	d := Evaluate(now, h, testPolicy)
	if !d.Allow || d.Count != 3 {
		t.Fatalf("decision = %+v, want allow with count 3", d)
	}
	if d.Delay != 4*time.Second {
		t.Fatalf("delay = %v, want 4s", d.Delay)
	}
}

func TestDelayMonotoneAndCapped(t *testing.T) {
	prev := time.Duration(0)
	for count := 0; count < 64; count++ {
		d := Delay(count, time.Second, 30*time.Second)
		if d < prev {
			t.Fatalf("delay decreased at count %d: %v < %v", count, d, prev)
		}
		if d > 30*time.Second {
			t.Fatalf("delay exceeds cap at count %d: %v", count, d)
		}
		prev = d
	}
	if Delay(5, time.Second, 30*time.Second) != 30*time.Second {
		t.Fatal("expected cap at count 5")
	}
}

func TestDelaySequence(t *testing.T) {
	want := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	for count, w := range want {
		if got := Delay(count, time.Second, 30*time.Second); got != w {
			t.Fatalf("Delay(%d) = %v, want %v", count, got, w)
		}
	}
}

func TestDelayEdgeCases(t *testing.T) {
	if Delay(3, 0, time.Second) != 0 {
		t.Fatal("zero base should yield zero delay")
	}
	if Delay(-1, time.Second, time.Minute) != time.Second {
		t.Fatal("negative count should clamp to base")
	}
	if Delay(1000, time.Second, time.Minute) != time.Minute {
		t.Fatal("huge count must not overflow past the cap")
	}
	if Delay(2, 10*time.Second, time.Second) != time.Second {
		t.Fatal("cap below base should win")
	}
}

func TestEvaluateIsPure(t *testing.T) {
	now := time.Now()
	h := History{Count: 1, LastRestartAt: now.Add(-time.Second)}
	a := Evaluate(now, h, testPolicy)
	b := Evaluate(now, h, testPolicy)
	if a != b {
		t.Fatalf("same inputs gave different decisions: %+v vs %+v", a, b)
	}
	if h.Count != 1 {
		t.Fatal("history mutated by Evaluate")
	}
}
