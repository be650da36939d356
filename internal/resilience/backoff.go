package resilience

import "time"

const (
	baseDelay = 500 * time.Millisecond
	maxDelay  = 10 * time.Second
)

// backoffDelay returns the exponential backoff duration before retry number
// attempt (0-based): baseDelay * 2^attempt, capped at maxDelay.
func backoffDelay(attempt int) time.Duration {
	if attempt < 0 {
		return baseDelay
	}
	// 2^30 seconds already exceeds any sane cap.
	if attempt > 30 {
		return maxDelay
	}
	d := baseDelay * time.Duration(1<<attempt)
	if d > maxDelay {
		return maxDelay
	}
	return d
}
