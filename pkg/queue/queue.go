// Package queue implements the rate-throttled priority request queue.
//
// A single worker drains the queue one request at a time. Before each
// dispatch it honours the global rate limit backoff and a jittered minimum
// spacing since the previous request. Every failed attempt is classified
// and logged. Transient failures (network, timeout, rate limit) are retried
// in place with exponential backoff; everything else rejects the request
// with its classified error.
package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Sternrassler/roster-client/pkg/classify"
	"github.com/Sternrassler/roster-client/pkg/logging"
	"github.com/Sternrassler/roster-client/pkg/ratelimit"
	"github.com/Sternrassler/roster-client/pkg/transport"
	"github.com/rs/zerolog"
)

var (
	// ErrCancelled is returned for requests dropped by Clear or Close.
	ErrCancelled = fmt.Errorf("queue: request cancelled: %w", context.Canceled)

	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("queue: closed")
)

// Config holds the queue configuration.
type Config struct {
	// MinDelay and MaxDelay bound the jittered spacing between dispatches.
	MinDelay time.Duration
	MaxDelay time.Duration

	// DefaultTimeout applies to items enqueued without a timeout.
	DefaultTimeout time.Duration

	// MaxRetries applies to items enqueued without their own limit. Zero
	// takes the default; a negative value disables retries.
	MaxRetries int

	// RetryBaseDelay is the first retry delay; it doubles per retry.
	RetryBaseDelay time.Duration

	// RetryJitter is the upper bound of the random delay added to each retry.
	RetryJitter time.Duration

	// PriorityBoost is added to an item's priority each time it is retried.
	PriorityBoost int

	// DefaultRateLimitDelay is the backoff applied when a throttling
	// response carries no Retry-After hint.
	DefaultRateLimitDelay time.Duration

	// BackoffDecayStep is subtracted from the backoff after each backoff sleep.
	BackoffDecayStep time.Duration

	// LatencyWindow is the number of latency samples kept for the average.
	LatencyWindow int

	// Backoff overrides the global backoff (optional).
	Backoff *ratelimit.Backoff

	// Logger overrides the component logger (optional).
	Logger *zerolog.Logger
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig() Config {
	return Config{
		MinDelay:              1 * time.Second,
		MaxDelay:              3 * time.Second,
		DefaultTimeout:        30 * time.Second,
		MaxRetries:            3,
		RetryBaseDelay:        1 * time.Second,
		RetryJitter:           1 * time.Second,
		PriorityBoost:         1,
		DefaultRateLimitDelay: ratelimit.DefaultDelay,
		BackoffDecayStep:      ratelimit.DefaultDecayStep,
		LatencyWindow:         100,
	}
}

// Options are per-request settings. Zero values take the queue defaults.
type Options struct {
	Priority       int
	Timeout        time.Duration
	RetryBaseDelay time.Duration
	// MaxRetries overrides the retry limit; a negative value disables retries.
	MaxRetries int
	Headers    http.Header
}

// Queue is the rate-throttled priority request queue.
type Queue struct {
	transport  transport.Transport
	classifier *classify.Classifier
	backoff    *ratelimit.Backoff
	cfg        Config
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	items     itemHeap
	seq       uint64
	running   bool
	paused    bool
	closed    bool
	total     int64
	succeeded int64
	failed    int64
	throttled int64
	retries   int64
	latency   *latencyWindow

	// lastDispatch is only touched by the worker.
	lastDispatch time.Time
}

// New creates a queue dispatching through t. A nil classifier gets a
// private in-memory one.
func New(t transport.Transport, c *classify.Classifier, cfg Config) *Queue {
	if t == nil {
		panic("queue transport cannot be nil")
	}
	def := DefaultConfig()
	if cfg.MinDelay < 0 {
		cfg.MinDelay = 0
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = def.DefaultTimeout
	}
	switch {
	case cfg.MaxRetries == 0:
		cfg.MaxRetries = def.MaxRetries
	case cfg.MaxRetries < 0:
		cfg.MaxRetries = -1
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = def.RetryBaseDelay
	}
	if cfg.DefaultRateLimitDelay <= 0 {
		cfg.DefaultRateLimitDelay = def.DefaultRateLimitDelay
	}
	if cfg.BackoffDecayStep <= 0 {
		cfg.BackoffDecayStep = def.BackoffDecayStep
	}
	if cfg.LatencyWindow <= 0 {
		cfg.LatencyWindow = def.LatencyWindow
	}
	if cfg.Backoff == nil {
		cfg.Backoff = ratelimit.NewBackoff()
	}
	if c == nil {
		c = classify.New(nil, classify.Options{Logger: cfg.Logger})
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		transport:  t,
		classifier: c,
		backoff:    cfg.Backoff,
		cfg:        cfg,
		logger:     logging.Resolve(cfg.Logger, "queue"),
		ctx:        ctx,
		cancel:     cancel,
		latency:    newLatencyWindow(cfg.LatencyWindow),
	}
}

// Enqueue adds req to the queue and returns its completion handle.
func (q *Queue) Enqueue(req transport.Request, opts Options) *Future {
	f := newFuture()

	it := &Item{
		Request:        req,
		Priority:       opts.Priority,
		MaxRetries:     opts.MaxRetries,
		Timeout:        opts.Timeout,
		RetryBaseDelay: opts.RetryBaseDelay,
		Headers:        opts.Headers,
		future:         f,
	}
	if it.MaxRetries == 0 {
		it.MaxRetries = q.cfg.MaxRetries
	}
	if it.MaxRetries < 0 {
		it.MaxRetries = 0
	}
	if it.Timeout <= 0 {
		it.Timeout = q.cfg.DefaultTimeout
	}
	if it.RetryBaseDelay <= 0 {
		it.RetryBaseDelay = q.cfg.RetryBaseDelay
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		f.reject(ErrClosed)
		return f
	}

	q.seq++
	it.seq = q.seq
	heap.Push(&q.items, it)
	queueLength.Set(float64(q.items.Len()))

	q.startLocked()
	return f
}

// startLocked starts the worker if it is idle. Caller holds q.mu.
func (q *Queue) startLocked() {
	if q.running || q.paused || q.closed || q.items.Len() == 0 {
		return
	}
	q.running = true
	q.wg.Add(1)
	go q.run()
}

func (q *Queue) run() {
	defer q.wg.Done()

	for {
		if !q.hasWork() {
			return
		}
		if !q.waitBackoff() || !q.waitSpacing() {
			q.stopped()
			return
		}
		it := q.pop()
		if it == nil {
			return
		}
		q.dispatch(it)
	}
}

// hasWork reports whether the worker should continue, marking it idle if not.
func (q *Queue) hasWork() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.paused || q.closed || q.items.Len() == 0 {
		q.running = false
		return false
	}
	return true
}

func (q *Queue) pop() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.paused || q.closed || q.items.Len() == 0 {
		q.running = false
		return nil
	}
	it := heap.Pop(&q.items).(*Item)
	queueLength.Set(float64(q.items.Len()))
	return it
}

func (q *Queue) stopped() {
	q.mu.Lock()
	q.running = false
	q.mu.Unlock()
}

// waitBackoff sleeps out an active global backoff and then decays it.
func (q *Queue) waitBackoff() bool {
	d := q.backoff.Current()
	if d <= 0 {
		return true
	}
	q.logger.Info().Dur("backoff", d).Msg("Rate limit backoff active, pausing dispatch")
	if !q.sleep(d) {
		return false
	}
	q.backoff.Decay(q.cfg.BackoffDecayStep)
	return true
}

// waitSpacing enforces the jittered minimum delay since the last dispatch.
func (q *Queue) waitSpacing() bool {
	if q.lastDispatch.IsZero() {
		return true
	}
	wait := spacing(q.cfg.MinDelay, q.cfg.MaxDelay) - time.Since(q.lastDispatch)
	if wait <= 0 {
		return true
	}
	return q.sleep(wait)
}

// sleep waits for d; it returns false if the queue was closed meanwhile.
func (q *Queue) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-q.ctx.Done():
		return false
	}
}

func (q *Queue) dispatch(it *Item) {
	ctx, cancel := context.WithTimeout(q.ctx, it.Timeout)
	start := time.Now()
	q.lastDispatch = start

	resp, err := q.transport.Execute(ctx, it.Request, it.Headers)
	cancel()
	elapsed := time.Since(start)
	queueRequestDuration.WithLabelValues(it.Request.Kind).Observe(elapsed.Seconds())

	q.mu.Lock()
	q.total++
	if err == nil {
		q.succeeded++
		q.latency.add(elapsed)
	} else {
		q.failed++
	}
	q.mu.Unlock()

	if err == nil {
		queueRequestsTotal.WithLabelValues(it.Request.Kind, "success").Inc()
		q.logger.Debug().
			Str("request", it.Request.String()).
			Int("retry_count", it.RetryCount).
			Dur("duration", elapsed).
			Msg("Request completed")
		it.future.resolve(resp)
		return
	}

	q.handleFailure(it, err)
}

func (q *Queue) handleFailure(it *Item, err error) {
	if q.ctx.Err() != nil {
		queueRequestsTotal.WithLabelValues(it.Request.Kind, "cancelled").Inc()
		it.future.reject(ErrCancelled)
		return
	}

	kind := classify.Infer(err)

	if kind == classify.KindRateLimit {
		delay := q.cfg.DefaultRateLimitDelay
		if hint, ok := transport.RetryAfterHint(err); ok {
			delay = hint
		}
		current := q.backoff.Raise(delay)

		q.mu.Lock()
		q.throttled++
		q.mu.Unlock()

		q.logger.Warn().
			Str("request", it.Request.String()).
			Dur("retry_after", delay).
			Dur("backoff", current).
			Msg("Remote throttled request, raising global backoff")
	}

	attempt := it.RetryCount + 1
	ce := q.classifier.Classify(q.ctx, kind, fmt.Sprintf("request failed on attempt %d", attempt), err, map[string]any{
		"request":      it.Request.String(),
		"attempt":      attempt,
		"max_attempts": it.MaxRetries + 1,
	})

	if ce.Retryable() && it.RetryCount < it.MaxRetries {
		it.RetryCount++
		delay := retryDelay(it.RetryBaseDelay, it.RetryCount, q.cfg.RetryJitter)

		q.mu.Lock()
		q.retries++
		q.mu.Unlock()

		queueRequestsTotal.WithLabelValues(it.Request.Kind, "retry").Inc()
		queueRetriesTotal.WithLabelValues(string(kind)).Inc()
		queueRetryBackoffSeconds.WithLabelValues(string(kind)).Observe(delay.Seconds())

		q.logger.Debug().
			Err(err).
			Str("request", it.Request.String()).
			Str("error_kind", string(kind)).
			Int("retry", it.RetryCount).
			Dur("backoff", delay).
			Msg("Retrying request after backoff")

		if !q.sleep(delay) {
			it.future.reject(ErrCancelled)
			return
		}
		q.requeue(it)
		return
	}

	if ce.Retryable() {
		queueRetryExhaustedTotal.WithLabelValues(string(kind)).Inc()
	}
	queueRequestsTotal.WithLabelValues(it.Request.Kind, "failed").Inc()
	it.future.reject(ce)
}

// requeue re-inserts a retried item ahead of equal-priority newcomers.
func (q *Queue) requeue(it *Item) {
	it.Priority += q.cfg.PriorityBoost

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		it.future.reject(ErrCancelled)
		return
	}
	heap.Push(&q.items, it)
	queueLength.Set(float64(q.items.Len()))
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		QueueLength:    q.items.Len(),
		Processing:     q.running,
		Paused:         q.paused,
		TotalRequests:  q.total,
		Successful:     q.succeeded,
		Failed:         q.failed,
		RateLimitHits:  q.throttled,
		Retries:        q.retries,
		AverageLatency: q.latency.average(),
		CurrentBackoff: q.backoff.Current(),
	}
}

// HealthStatus evaluates the current stats against the queue thresholds.
func (q *Queue) HealthStatus() HealthStatus {
	return q.Stats().Health()
}

// Clear rejects every pending item with ErrCancelled. A request already in
// flight is not affected.
func (q *Queue) Clear() int {
	q.mu.Lock()
	pending := q.items
	q.items = nil
	queueLength.Set(0)
	q.mu.Unlock()

	for _, it := range pending {
		it.future.reject(ErrCancelled)
	}
	if len(pending) > 0 {
		q.logger.Info().Int("cancelled", len(pending)).Msg("Queue cleared")
	}
	return len(pending)
}

// Pause stops the worker after its current request. Queued items are kept.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

// Resume restarts the worker if items are waiting.
func (q *Queue) Resume() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = false
	q.startLocked()
}

// Close stops the worker, cancels an in-flight request and rejects all
// pending items. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	q.Clear()
}
