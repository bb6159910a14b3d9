// Package retry holds the backoff policy applied to individual failed
// disbursement transactions during batch execution.
package retry

import "time"

// StatusFailed is the only transaction state eligible for retry.
const StatusFailed = "failed"

type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultPolicy matches the configured defaults: 3 attempts, 1s initial
// delay doubling per attempt, capped at 30s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		Multiplier:   2,
		MaxDelay:     30 * time.Second,
	}
}

// Delay returns the backoff before the given attempt number (1-based):
// min(initial * multiplier^(attempt-1), max).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= p.Multiplier
		if time.Duration(delay) >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if time.Duration(delay) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// CanRetry reports whether a transaction in the given status with the given
// number of attempts so far may be retried under this policy.
func (p Policy) CanRetry(status string, attemptsSoFar int) bool {
	return status == StatusFailed && attemptsSoFar < p.MaxAttempts
}
