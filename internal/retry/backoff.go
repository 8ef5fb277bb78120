package retry

import "time"

// Backoff returns the delay before the given attempt (0-based). The delay
// doubles each attempt, base * 2^attempt, capped at max. A non-positive max
// means no cap.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// Shifting past 62 bits overflows time.Duration.
	if attempt > 62 {
		attempt = 62
	}
	d := base * (1 << attempt)
	if max > 0 && (d > max || d < 0) {
		return max
	}
	return d
}
