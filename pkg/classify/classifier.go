// Package classify maps raw failures into a closed taxonomy and keeps a
// bounded log of what it has seen.
//
// Every classification lands in a rolling in-memory log. Non-recoverable
// errors are also appended to a small durable log kept in a cache.Store so
// they survive restarts.
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/roster-client/pkg/cache"
	"github.com/Sternrassler/roster-client/pkg/logging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultLogCapacity bounds the rolling in-memory log.
	DefaultLogCapacity = 100

	// DefaultCriticalCapacity bounds the durable critical log.
	DefaultCriticalCapacity = 10

	// DefaultCriticalKey is the store key of the durable critical log.
	DefaultCriticalKey = "roster:errors:critical"

	// recentWindow is the look-back of Analysis.RecentErrors.
	recentWindow = time.Hour
)

// Options configures a Classifier.
type Options struct {
	LogCapacity      int
	CriticalCapacity int
	CriticalKey      string
	Now              func() time.Time
	Logger           *zerolog.Logger
}

// Analysis is a snapshot of the error log.
type Analysis struct {
	TotalErrors         int          `json:"total_errors"`
	CountsByKind        map[Kind]int `json:"counts_by_kind"`
	RecentErrors        int          `json:"recent_errors"`
	CriticalErrors      int          `json:"critical_errors"`
	RecoveryRatePercent float64      `json:"recovery_rate_percent"`
}

// Classifier classifies errors and keeps the rolling and critical logs.
type Classifier struct {
	store  cache.Store
	opts   Options
	logger zerolog.Logger

	mu       sync.Mutex
	log      []*Error
	critical []*Error
}

// New creates a classifier. store may be nil, in which case the critical
// log is kept in memory only.
func New(store cache.Store, opts Options) *Classifier {
	if opts.LogCapacity <= 0 {
		opts.LogCapacity = DefaultLogCapacity
	}
	if opts.CriticalCapacity <= 0 {
		opts.CriticalCapacity = DefaultCriticalCapacity
	}
	if opts.CriticalKey == "" {
		opts.CriticalKey = DefaultCriticalKey
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Classifier{
		store:  store,
		opts:   opts,
		logger: logging.Resolve(opts.Logger, "classifier"),
	}
}

// Restore loads the durable critical log from the store.
func (c *Classifier) Restore(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	blob, ok, err := c.store.Get(ctx, c.opts.CriticalKey)
	if err != nil {
		return fmt.Errorf("load critical log: %w", err)
	}
	if !ok {
		return nil
	}

	var entries []*Error
	if err := json.Unmarshal(blob, &entries); err != nil {
		c.logger.Warn().Err(err).Msg("Discarding unreadable critical error log")
		return nil
	}
	if len(entries) > c.opts.CriticalCapacity {
		entries = entries[len(entries)-c.opts.CriticalCapacity:]
	}

	c.mu.Lock()
	c.critical = entries
	c.mu.Unlock()
	return nil
}

// Classify builds a classified error and records it.
func (c *Classifier) Classify(ctx context.Context, kind Kind, message string, cause error, fields map[string]any) *Error {
	info := lookup(kind)
	if _, known := kindTable[kind]; !known {
		kind = KindUnknown
	}

	e := &Error{
		ID:              uuid.NewString(),
		Kind:            kind,
		Message:         message,
		Cause:           cause,
		Context:         fields,
		CreatedAt:       c.opts.Now(),
		Recoverable:     Recoverable(kind),
		UserMessage:     info.userMessage,
		SuggestedAction: info.suggestedAction,
	}
	if cause != nil {
		e.CauseText = cause.Error()
	}

	c.record(ctx, e)
	return e
}

// FromError infers the kind of err and classifies it. An error that is
// already classified is returned as is and not logged again.
func (c *Classifier) FromError(ctx context.Context, err error, fields map[string]any) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	kind := Infer(err)
	return c.Classify(ctx, kind, string(kind)+" failure", err, fields)
}

func (c *Classifier) record(ctx context.Context, e *Error) {
	classifiedTotal.WithLabelValues(string(e.Kind)).Inc()

	c.mu.Lock()
	c.log = append(c.log, e)
	if over := len(c.log) - c.opts.LogCapacity; over > 0 {
		c.log = append(c.log[:0:0], c.log[over:]...)
	}

	var snapshot []*Error
	if !e.Recoverable {
		c.critical = append(c.critical, e)
		if over := len(c.critical) - c.opts.CriticalCapacity; over > 0 {
			c.critical = append(c.critical[:0:0], c.critical[over:]...)
		}
		snapshot = append([]*Error(nil), c.critical...)
	}
	c.mu.Unlock()

	event := c.logger.Warn()
	if !e.Recoverable {
		event = c.logger.Error()
	}
	event.
		Str("error_id", e.ID).
		Str("kind", string(e.Kind)).
		Bool("recoverable", e.Recoverable).
		Str("cause", e.CauseText).
		Msg(e.Message)

	if snapshot != nil {
		c.persist(ctx, snapshot)
	}
}

// persist writes the critical log. Failures are logged and swallowed.
func (c *Classifier) persist(ctx context.Context, entries []*Error) {
	if c.store == nil {
		return
	}
	blob, err := json.Marshal(entries)
	if err == nil {
		err = c.store.Set(ctx, c.opts.CriticalKey, blob)
	}
	if err != nil {
		criticalPersistFailures.Inc()
		c.logger.Warn().Err(err).Msg("Failed to persist critical error log")
	}
}

// Log returns up to limit classified errors, newest first. A limit <= 0
// returns the whole log.
func (c *Classifier) Log(limit int) []*Error {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.log)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*Error, 0, n)
	for i := len(c.log) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, c.log[i])
	}
	return out
}

// Critical returns the durable critical log, oldest first.
func (c *Classifier) Critical() []*Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Error(nil), c.critical...)
}

// Clear empties both logs and removes the durable copy.
func (c *Classifier) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.log = nil
	c.critical = nil
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}
	if err := c.store.Remove(ctx, c.opts.CriticalKey); err != nil {
		return fmt.Errorf("remove critical log: %w", err)
	}
	return nil
}

// Analyze summarises the rolling log.
func (c *Classifier) Analyze() Analysis {
	c.mu.Lock()
	defer c.mu.Unlock()

	a := Analysis{
		TotalErrors:         len(c.log),
		CountsByKind:        make(map[Kind]int, len(Kinds)),
		CriticalErrors:      len(c.critical),
		RecoveryRatePercent: 100,
	}
	for _, k := range Kinds {
		a.CountsByKind[k] = 0
	}

	cutoff := c.opts.Now().Add(-recentWindow)
	recoverable := 0
	for _, e := range c.log {
		a.CountsByKind[e.Kind]++
		if e.CreatedAt.After(cutoff) {
			a.RecentErrors++
		}
		if e.Recoverable {
			recoverable++
		}
	}
	if len(c.log) > 0 {
		a.RecoveryRatePercent = float64(recoverable) * 100 / float64(len(c.log))
	}
	return a
}
