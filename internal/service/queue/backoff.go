package queue

import (
	"math/rand"
	"time"
)

// Backoff returns the delay before a job's next attempt: full jitter
// over base·2^attempt, clamped to ceiling. attempt counts completed
// attempts, so the first retry draws from [0, base·2).
func Backoff(base, ceiling time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}

	max := ceiling
	// Shifting past 62 bits overflows; anything that far is at the
	// ceiling anyway.
	if attempt < 62 {
		if window := base << uint(attempt); window < ceiling {
			max = window
		}
	}
	if max <= 0 {
		max = ceiling
	}
	return time.Duration(rand.Int63n(int64(max)))
}
