package queue

import (
	"math/rand"
	"time"
)

// retryDelay returns base * 2^(retry-1) plus a random jitter in [0, jitter).
// retry is the 1-based number of the upcoming retry.
func retryDelay(base time.Duration, retry int, jitter time.Duration) time.Duration {
	if retry < 1 {
		retry = 1
	}
	// Cap the exponent so the shift cannot overflow.
	if retry > 16 {
		retry = 16
	}
	d := base << (retry - 1)
	if jitter > 0 {
		d += time.Duration(rand.Int63n(int64(jitter)))
	}
	return d
}

// spacing returns a uniformly random inter-request delay in [minDelay, maxDelay].
func spacing(minDelay, maxDelay time.Duration) time.Duration {
	if maxDelay <= minDelay {
		return minDelay
	}
	return minDelay + time.Duration(rand.Int63n(int64(maxDelay-minDelay)+1))
}
