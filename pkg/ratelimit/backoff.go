// Package ratelimit implements the global throttling backoff shared by every
// outbound request. A throttling response raises the backoff, and the single
// queue worker decays it step by step before each dispatch.
package ratelimit

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for backoff tracking.
var (
	backoffSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roster_rate_limit_backoff_seconds",
		Help: "Current global rate limit backoff in seconds",
	})

	throttleHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roster_rate_limit_hits_total",
		Help: "Total number of throttling responses observed",
	})
)

// Defaults for backoff handling.
const (
	// DefaultDelay is applied when a throttling response carries no retry hint.
	DefaultDelay = 60 * time.Second

	// DefaultDecayStep is subtracted from the backoff after each backoff sleep.
	DefaultDecayStep = 5 * time.Second
)

// Backoff holds the global rate limit backoff.
//
// Raise and Decay are only called from the queue worker; reads may happen
// from any goroutine.
type Backoff struct {
	current atomic.Int64
}

// NewBackoff returns an inactive backoff.
func NewBackoff() *Backoff {
	return &Backoff{}
}

// Current returns the active backoff duration (0 if inactive).
func (b *Backoff) Current() time.Duration {
	return time.Duration(b.current.Load())
}

// Active reports whether a backoff is currently in effect.
func (b *Backoff) Active() bool {
	return b.Current() > 0
}

// Raise sets the backoff to max(current, d) and returns the resulting value.
func (b *Backoff) Raise(d time.Duration) time.Duration {
	throttleHitsTotal.Inc()
	for {
		cur := b.current.Load()
		if int64(d) <= cur {
			return time.Duration(cur)
		}
		if b.current.CompareAndSwap(cur, int64(d)) {
			backoffSeconds.Set(d.Seconds())
			return d
		}
	}
}

// Decay lowers the backoff by step, never below zero, and returns the new value.
func (b *Backoff) Decay(step time.Duration) time.Duration {
	if step <= 0 {
		step = DefaultDecayStep
	}
	for {
		cur := b.current.Load()
		next := cur - int64(step)
		if next < 0 {
			next = 0
		}
		if b.current.CompareAndSwap(cur, next) {
			backoffSeconds.Set(time.Duration(next).Seconds())
			return time.Duration(next)
		}
	}
}

// Reset clears the backoff.
func (b *Backoff) Reset() {
	b.current.Store(0)
	backoffSeconds.Set(0)
}
