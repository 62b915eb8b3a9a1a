// Package fetcher composes the queue, cache and classifier into the
// cache-first paginated roster fetch with background logo enrichment.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/Sternrassler/roster-client/pkg/cache"
	"github.com/Sternrassler/roster-client/pkg/classify"
	"github.com/Sternrassler/roster-client/pkg/health"
	"github.com/Sternrassler/roster-client/pkg/logging"
	"github.com/Sternrassler/roster-client/pkg/queue"
	"github.com/Sternrassler/roster-client/pkg/record"
	"github.com/Sternrassler/roster-client/pkg/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for fetch cycles.
var (
	fetchCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roster_fetch_cycles_total",
		Help: "Total GetRecords calls by outcome",
	}, []string{"outcome"})

	fetchBatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roster_fetch_batches_total",
		Help: "Total page batches by outcome",
	}, []string{"outcome"})

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "roster_fetch_duration_seconds",
		Help:    "Duration of full remote fetch cycles in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
	})

	fetchRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roster_fetch_records",
		Help: "Number of records returned by the last remote fetch",
	})
)

// MainKey is the cache key of the aggregated record set.
var MainKey = cache.Key{Namespace: "records", ID: "all"}.String()

// Config holds the fetcher configuration.
type Config struct {
	// BatchSize is the page size requested per batch.
	BatchSize int

	// MaxItems caps the number of records pulled in one cycle.
	MaxItems int

	// MaxConsecutiveFailures aborts the cycle after this many failed batches in a row.
	MaxConsecutiveFailures int

	// FailureBaseDelay is multiplied by the failure count between failed batches.
	FailureBaseDelay time.Duration

	// RecordsTTL is the lifetime of the cached record set.
	RecordsTTL time.Duration

	// LogoTTL is the lifetime of a cached logo lookup.
	LogoTTL time.Duration

	// EnrichBatchSize is the number of concurrent logo lookups per batch.
	EnrichBatchSize int

	// EnrichDelayMin and EnrichDelayMax bound the pause between enrichment batches.
	EnrichDelayMin time.Duration
	EnrichDelayMax time.Duration

	// PagePriority and LogoPriority are the queue priorities of each request kind.
	PagePriority int
	LogoPriority int

	// PagePath is the records endpoint; it takes start and count query parameters.
	PagePath string

	// LogoPath is the logo endpoint; {key} is replaced by the affiliation key.
	LogoPath string

	// Headers are sent with every request (optional).
	Headers http.Header

	// Now overrides the clock used for health reports (optional).
	Now func() time.Time

	// Logger overrides the component logger (optional).
	Logger *zerolog.Logger
}

// DefaultConfig returns the default fetcher configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:              100,
		MaxItems:               10000,
		MaxConsecutiveFailures: 3,
		FailureBaseDelay:       2 * time.Second,
		RecordsTTL:             24 * time.Hour,
		LogoTTL:                7 * 24 * time.Hour,
		EnrichBatchSize:        5,
		EnrichDelayMin:         1 * time.Second,
		EnrichDelayMax:         2 * time.Second,
		PagePriority:           10,
		LogoPriority:           1,
		PagePath:               "/records",
		LogoPath:               "/affiliations/{key}/logo",
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.MaxItems <= 0 {
		c.MaxItems = def.MaxItems
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = def.MaxConsecutiveFailures
	}
	if c.FailureBaseDelay < 0 {
		c.FailureBaseDelay = 0
	}
	if c.RecordsTTL <= 0 {
		c.RecordsTTL = def.RecordsTTL
	}
	if c.LogoTTL <= 0 {
		c.LogoTTL = def.LogoTTL
	}
	if c.EnrichBatchSize <= 0 {
		c.EnrichBatchSize = def.EnrichBatchSize
	}
	if c.EnrichDelayMax < c.EnrichDelayMin {
		c.EnrichDelayMax = c.EnrichDelayMin
	}
	if c.PagePath == "" {
		c.PagePath = def.PagePath
	}
	if c.LogoPath == "" {
		c.LogoPath = def.LogoPath
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Fetcher orchestrates fetching, caching and enrichment of the roster.
type Fetcher struct {
	queue      *queue.Queue
	cache      *cache.Cache
	classifier *classify.Classifier
	cfg        Config
	logger     zerolog.Logger

	// bg scopes background enrichment; cancelled by Close.
	bg       context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup

	enrichMu   sync.Mutex
	enrichDone chan struct{}
}

// New creates a fetcher. The fetcher owns q and closes it on Close.
func New(q *queue.Queue, c *cache.Cache, cl *classify.Classifier, cfg Config) *Fetcher {
	if q == nil || c == nil || cl == nil {
		panic("fetcher needs a queue, a cache and a classifier")
	}
	cfg.applyDefaults()

	bg, cancel := context.WithCancel(context.Background())
	return &Fetcher{
		queue:      q,
		cache:      c,
		classifier: cl,
		cfg:        cfg,
		logger:     logging.Resolve(cfg.Logger, "fetcher"),
		bg:         bg,
		bgCancel:   cancel,
	}
}

// GetRecords returns the roster, from cache unless force is set or the
// cache misses. Errors are always *classify.Error.
func (f *Fetcher) GetRecords(ctx context.Context, force bool) ([]record.Record, error) {
	if !force {
		var cached []record.Record
		err := f.cache.Get(ctx, MainKey, &cached)
		if err == nil {
			f.attachLogos(ctx, cached)
			fetchCyclesTotal.WithLabelValues("cache_hit").Inc()
			f.logger.Debug().Int("records", len(cached)).Msg("Serving records from cache")
			return cached, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			f.logger.Warn().Err(err).Msg("Cache read failed, fetching from remote")
		}
	}

	start := time.Now()
	records, err := f.fetchAll(ctx)
	if err != nil {
		fetchCyclesTotal.WithLabelValues("aborted").Inc()
		return nil, err
	}
	fetchDuration.Observe(time.Since(start).Seconds())
	fetchRecords.Set(float64(len(records)))
	fetchCyclesTotal.WithLabelValues("fetched").Inc()

	if err := f.cache.Set(ctx, MainKey, records, f.cfg.RecordsTTL); err != nil {
		f.classifier.Classify(ctx, classify.KindCache, "failed to cache records", err, map[string]any{
			"records": len(records),
		})
	}

	f.attachLogos(ctx, records)
	f.startEnrichment(records)

	f.logger.Info().
		Int("records", len(records)).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return records, nil
}

// fetchAll runs the batch loop until an empty batch, the item cap or too
// many consecutive failures.
func (f *Fetcher) fetchAll(ctx context.Context) ([]record.Record, error) {
	var (
		all      []record.Record
		offset   int
		failures int
	)

	for offset < f.cfg.MaxItems {
		count := min(f.cfg.BatchSize, f.cfg.MaxItems-offset)

		batch, err := f.fetchPage(ctx, offset, count)
		if err != nil {
			fetchBatchesTotal.WithLabelValues("failed").Inc()

			fields := map[string]any{"start": offset, "count": count}
			if ctx.Err() != nil {
				return nil, f.classifier.FromError(ctx, ctx.Err(), fields)
			}

			ce := f.classifier.FromError(ctx, err, fields)
			if !ce.Recoverable {
				f.logger.Error().Err(ce).Int("start", offset).Msg("Fetch aborted on non-recoverable error")
				return nil, ce
			}

			failures++
			if failures >= f.cfg.MaxConsecutiveFailures {
				f.logger.Error().
					Err(ce).
					Int("start", offset).
					Int("failures", failures).
					Msg("Fetch aborted after consecutive batch failures")
				return nil, f.classifier.Classify(ctx, ce.Kind,
					fmt.Sprintf("fetch aborted after %d consecutive failed batches at offset %d", failures, offset),
					ce, fields)
			}

			delay := f.cfg.FailureBaseDelay * time.Duration(failures)
			f.logger.Warn().
				Err(ce).
				Int("start", offset).
				Int("failures", failures).
				Dur("delay", delay).
				Msg("Batch failed, retrying")
			if err := sleep(ctx, delay); err != nil {
				return nil, f.classifier.FromError(ctx, err, fields)
			}
			continue
		}

		fetchBatchesTotal.WithLabelValues("success").Inc()
		failures = 0
		if len(batch) == 0 {
			break
		}
		if len(batch) > count {
			batch = batch[:count]
		}
		all = append(all, batch...)
		offset += len(batch)

		f.logger.Debug().
			Int("batch", len(batch)).
			Int("total", len(all)).
			Msg("Batch fetched")
	}

	if all == nil {
		all = []record.Record{}
	}
	return all, nil
}

func (f *Fetcher) fetchPage(ctx context.Context, start, count int) ([]record.Record, error) {
	req := transport.Request{
		Kind: transport.KindPage,
		Path: f.cfg.PagePath,
		Query: url.Values{
			"start": {strconv.Itoa(start)},
			"count": {strconv.Itoa(count)},
		},
	}
	resp, err := f.queue.Enqueue(req, queue.Options{
		Priority: f.cfg.PagePriority,
		Headers:  f.cfg.Headers,
	}).Wait(ctx)
	if err != nil {
		return nil, err
	}
	return record.ParsePage(resp.Body)
}

// Refresh drops the cached record set and fetches it again.
func (f *Fetcher) Refresh(ctx context.Context) ([]record.Record, error) {
	if err := f.cache.Remove(ctx, MainKey); err != nil {
		f.logger.Warn().Err(err).Msg("Failed to drop cached records")
	}
	return f.GetRecords(ctx, true)
}

// CacheStats returns the cache statistics.
func (f *Fetcher) CacheStats(ctx context.Context) (cache.Stats, error) {
	return f.cache.Stats(ctx)
}

// ClearCache removes every cached value, records and logos alike.
func (f *Fetcher) ClearCache(ctx context.Context) error {
	return f.cache.Clear(ctx)
}

// QueueStats returns the queue statistics.
func (f *Fetcher) QueueStats() queue.Stats {
	return f.queue.Stats()
}

// ErrorLog returns up to limit classified errors, newest first.
func (f *Fetcher) ErrorLog(limit int) []*classify.Error {
	return f.classifier.Log(limit)
}

// ClearErrorLog empties the error logs.
func (f *Fetcher) ClearErrorLog(ctx context.Context) error {
	return f.classifier.Clear(ctx)
}

// HealthStatus aggregates cache, error and queue statistics into one verdict.
func (f *Fetcher) HealthStatus(ctx context.Context) (health.Report, error) {
	return health.Check(ctx, health.Sources{
		Cache:      f.cache,
		Classifier: f.classifier,
		Queue:      f.queue,
	}, f.cfg.Now())
}

// Close stops background enrichment and closes the queue.
func (f *Fetcher) Close() {
	f.bgCancel()
	f.queue.Close()
	f.wg.Wait()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
