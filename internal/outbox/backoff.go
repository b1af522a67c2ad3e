package outbox

import (
	"math/rand/v2"
	"time"
)

// Backoff returns the delay before the next retry after the given number
// of attempts: base doubled per attempt plus full jitter, capped at max.
// The cap keeps a persistently failing entry from drifting arbitrarily far
// into the future.
func Backoff(attempts int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = time.Minute
	}

	// Shifting past 62 bits overflows; anything that large is above any
	// sane cap anyway.
	if attempts > 30 {
		return max
	}
	delay := base << uint(attempts)
	if delay <= 0 || delay > max {
		return max
	}

	delay += time.Duration(rand.Int64N(int64(delay)))
	if delay > max {
		return max
	}
	return delay
}
