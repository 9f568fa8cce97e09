package autopushws

import "time"

// Backoff is the reconnect policy: attempt n (1-based) waits Base<<(n-1).
// Attempts beyond MaxAttempts are refused.
type Backoff struct {
	Base        time.Duration
	MaxAttempts int
}

// DefaultBackoff waits 1s, 2s, 4s, 8s, 16s and then gives up.
var DefaultBackoff = Backoff{Base: time.Second, MaxAttempts: 5}

// Delay returns the wait before the given attempt, or false if the attempt
// exceeds the budget.
func (b Backoff) Delay(attempt int) (time.Duration, bool) {
	if attempt < 1 || attempt > b.MaxAttempts {
		return 0, false
	}
	return b.Base << (attempt - 1), true
}
