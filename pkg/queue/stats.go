package queue

import (
	"fmt"
	"time"
)

// Health thresholds.
const (
	warnQueueLength     = 50
	warnFailureRate     = 0.20
	criticalFailureRate = 0.50
	warnRateLimitHits   = 5
	warnAverageLatency  = 10 * time.Second
)

// Level is a tri-state health verdict.
type Level string

const (
	LevelHealthy  Level = "healthy"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Worse returns the more severe of l and other.
func (l Level) Worse(other Level) Level {
	if rank(other) > rank(l) {
		return other
	}
	return l
}

func rank(l Level) int {
	switch l {
	case LevelCritical:
		return 2
	case LevelWarning:
		return 1
	default:
		return 0
	}
}

// Stats is a snapshot of the queue counters.
type Stats struct {
	QueueLength    int           `json:"queue_length"`
	Processing     bool          `json:"processing"`
	Paused         bool          `json:"paused"`
	TotalRequests  int64         `json:"total_requests"`
	Successful     int64         `json:"successful"`
	Failed         int64         `json:"failed"`
	RateLimitHits  int64         `json:"rate_limit_hits"`
	Retries        int64         `json:"retries"`
	AverageLatency time.Duration `json:"average_latency"`
	CurrentBackoff time.Duration `json:"current_backoff"`
}

// FailureRate returns Failed / TotalRequests, 0 when nothing was sent.
func (s Stats) FailureRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.Failed) / float64(s.TotalRequests)
}

// HealthStatus is the queue's own health verdict.
type HealthStatus struct {
	Level  Level    `json:"status"`
	Issues []string `json:"issues"`
}

// Health evaluates s against the queue thresholds.
func (s Stats) Health() HealthStatus {
	h := HealthStatus{Level: LevelHealthy, Issues: []string{}}

	if s.QueueLength > warnQueueLength {
		h.Level = h.Level.Worse(LevelWarning)
		h.Issues = append(h.Issues, fmt.Sprintf("queue backlog is high (%d pending)", s.QueueLength))
	}

	switch rate := s.FailureRate(); {
	case rate > criticalFailureRate:
		h.Level = h.Level.Worse(LevelCritical)
		h.Issues = append(h.Issues, fmt.Sprintf("request failure rate is %.0f%%", rate*100))
	case rate > warnFailureRate:
		h.Level = h.Level.Worse(LevelWarning)
		h.Issues = append(h.Issues, fmt.Sprintf("request failure rate is %.0f%%", rate*100))
	}

	if s.RateLimitHits > warnRateLimitHits {
		h.Level = h.Level.Worse(LevelWarning)
		h.Issues = append(h.Issues, fmt.Sprintf("remote throttled %d requests", s.RateLimitHits))
	}

	if s.AverageLatency > warnAverageLatency {
		h.Level = h.Level.Worse(LevelWarning)
		h.Issues = append(h.Issues, fmt.Sprintf("average latency is %s", s.AverageLatency.Round(time.Millisecond)))
	}

	return h
}

// latencyWindow keeps the last n latency samples.
type latencyWindow struct {
	samples []time.Duration
	next    int
	full    bool
}

func newLatencyWindow(n int) *latencyWindow {
	return &latencyWindow{samples: make([]time.Duration, n)}
}

func (w *latencyWindow) add(d time.Duration) {
	w.samples[w.next] = d
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.full = true
	}
}

func (w *latencyWindow) average() time.Duration {
	n := w.next
	if w.full {
		n = len(w.samples)
	}
	if n == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range w.samples[:n] {
		sum += d
	}
	return sum / time.Duration(n)
}
