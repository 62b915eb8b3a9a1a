// Package health turns cache, queue and error statistics into a tri-state
// verdict and runs periodic cache maintenance.
package health

import (
	"fmt"
	"time"

	"github.com/Sternrassler/roster-client/pkg/cache"
	"github.com/Sternrassler/roster-client/pkg/classify"
	"github.com/Sternrassler/roster-client/pkg/queue"
)

// Status is the overall verdict.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// Thresholds.
const (
	cacheUsageWarnRatio   = 0.8
	expiredCleanupTrigger = 10
	recentErrorsWarn      = 10
	recoveryRateCritical  = 50.0
	throttleRecommend     = 5
)

// Inputs are the statistics a report is computed from.
type Inputs struct {
	Cache  cache.Stats
	Errors classify.Analysis
	Queue  queue.Stats
	// QueueHealth defaults to Queue.Health() when its level is empty.
	QueueHealth queue.HealthStatus
}

// Report is the outcome of a health evaluation.
type Report struct {
	Status          Status            `json:"status"`
	Issues          []string          `json:"issues"`
	Recommendations []string          `json:"recommendations"`
	CheckedAt       time.Time         `json:"checked_at"`
	Cache           cache.Stats       `json:"cache"`
	Errors          classify.Analysis `json:"errors"`
	Queue           queue.Stats       `json:"queue"`
}

func (r *Report) raise(s Status, issue string) {
	if rank(s) > rank(r.Status) {
		r.Status = s
	}
	if issue != "" {
		r.Issues = append(r.Issues, issue)
	}
}

func (r *Report) recommend(text string) {
	for _, existing := range r.Recommendations {
		if existing == text {
			return
		}
	}
	r.Recommendations = append(r.Recommendations, text)
}

func rank(s Status) int {
	switch s {
	case StatusCritical:
		return 2
	case StatusWarning:
		return 1
	default:
		return 0
	}
}

// Evaluate computes a report from in at time now.
func Evaluate(in Inputs, now time.Time) Report {
	r := Report{
		Status:          StatusHealthy,
		Issues:          []string{},
		Recommendations: []string{},
		CheckedAt:       now,
		Cache:           in.Cache,
		Errors:          in.Errors,
		Queue:           in.Queue,
	}

	if limit := in.Cache.MaxSizeBytes; limit > 0 {
		usage := float64(in.Cache.TotalSizeBytes) / float64(limit)
		if usage > cacheUsageWarnRatio {
			r.raise(StatusWarning, fmt.Sprintf("cache is %.0f%% full", usage*100))
			r.recommend("Clear the cache or raise its size ceiling.")
		}
	}
	if in.Cache.ExpiredCount > expiredCleanupTrigger {
		r.recommend(fmt.Sprintf("Run expired entry cleanup (%d expired entries).", in.Cache.ExpiredCount))
	}

	if in.Errors.RecentErrors > recentErrorsWarn {
		r.raise(StatusWarning, fmt.Sprintf("%d errors in the last hour", in.Errors.RecentErrors))
	}
	if in.Errors.CriticalErrors > 0 {
		r.raise(StatusWarning, fmt.Sprintf("%d critical errors recorded", in.Errors.CriticalErrors))
		r.recommend("Check the session and account permissions.")
	}
	if in.Errors.TotalErrors > 0 && in.Errors.RecoveryRatePercent < recoveryRateCritical {
		r.raise(StatusCritical, fmt.Sprintf("error recovery rate is %.0f%%", in.Errors.RecoveryRatePercent))
	}

	qh := in.QueueHealth
	if qh.Level == "" {
		qh = in.Queue.Health()
	}
	r.Issues = append(r.Issues, qh.Issues...)
	r.raise(Status(qh.Level), "")
	if in.Queue.RateLimitHits > throttleRecommend {
		r.recommend("Reduce the request rate or wait before refreshing.")
	}

	return r
}
