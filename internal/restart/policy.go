// Package restart decides whether a crashed service may be restarted and
// after what delay. Evaluate is a pure function of the crash history so the
// policy can be tested without clocks or processes.
package restart

import (
	"errors"
	"time"
)

// ErrMaxRestarts marks a crash episode that exhausted its restart budget.
// The service stays down until an operator starts it manually.
var ErrMaxRestarts = errors.New("max restarts exceeded")

// maxShift bounds the exponential doubling so the shift cannot overflow.
const maxShift = 32

// Policy is the per-service restart configuration.
type Policy struct {
	MaxRestarts int
	Window      time.Duration
	Backoff     time.Duration
	BackoffMax  time.Duration
}

// History is the caller-owned crash bookkeeping for one service.
type History struct {
	Count         int
	LastRestartAt time.Time
}

// Decision is the outcome of one crash evaluation. When Allow is true the
// caller schedules a restart after Delay and stores Count and the current
// time back into its History. When Allow is false the service is
// permanently failed for this episode.
type Decision struct {
	Allow bool
	Delay time.Duration
	Count int
}

// Evaluate applies the restart policy to a crash observed at now.
// Crashes separated from the previous restart by more than the window start
// a fresh episode with a zero count.
func Evaluate(now time.Time, h History, p Policy) Decision {
	count := h.Count
	if !h.LastRestartAt.IsZero() && now.Sub(h.LastRestartAt) > p.Window {
		count = 0
	}
	if count >= p.MaxRestarts {
		return Decision{Allow: false, Count: count}
	}
	return Decision{
		Allow: true,
		Delay: Delay(count, p.Backoff, p.BackoffMax),
		Count: count + 1,
	}
}

// Delay returns the capped exponential backoff for the given crash count:
// min(base << count, max). A zero count yields the base delay.
func Delay(count int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if max > 0 && max < base {
		return max
	}
	if count < 0 {
		count = 0
	}
	if count > maxShift {
		count = maxShift
	}
	d := base << uint(count)
	if d <= 0 || (max > 0 && d > max) {
		return max
	}
	return d
}
