package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Sternrassler/roster-client/pkg/logging"
	"github.com/rs/zerolog"
)

var (
	// ErrCacheMiss indicates the requested key was not found, expired or corrupt.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted.
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrEntryTooLarge indicates a single entry exceeds the size ceiling.
	ErrEntryTooLarge = errors.New("cache entry exceeds size ceiling")
)

const (
	// DefaultMaxSizeBytes is the default byte ceiling for the whole cache.
	DefaultMaxSizeBytes = 5 << 20

	// DefaultCompressionThreshold is the payload size above which values are compressed.
	DefaultCompressionThreshold = 10 << 10

	// DefaultKeyPrefix namespaces cache keys inside the store.
	DefaultKeyPrefix = "roster:cache:"

	// evictPercent is the share of remaining entries removed, oldest first,
	// when expiring entries alone does not free enough room.
	evictPercent = 30
)

// Options configures a Cache.
type Options struct {
	// MaxSizeBytes is the ceiling for the total stored footprint.
	MaxSizeBytes int64

	// CompressionThreshold is the serialized size above which payloads are compressed.
	CompressionThreshold int

	// KeyPrefix is prepended to every key in the store.
	KeyPrefix string

	// Now overrides the clock (tests).
	Now func() time.Time

	// Logger overrides the component logger.
	Logger *zerolog.Logger
}

// DefaultOptions returns the default cache options.
func DefaultOptions() Options {
	return Options{
		MaxSizeBytes:         DefaultMaxSizeBytes,
		CompressionThreshold: DefaultCompressionThreshold,
		KeyPrefix:            DefaultKeyPrefix,
		Now:                  time.Now,
	}
}

// Stats is a snapshot of the cache contents.
type Stats struct {
	TotalItems      int       `json:"total_items"`
	TotalSizeBytes  int64     `json:"total_size_bytes"`
	MaxSizeBytes    int64     `json:"max_size_bytes"`
	OldestTimestamp time.Time `json:"oldest_timestamp"`
	NewestTimestamp time.Time `json:"newest_timestamp"`
	ExpiredCount    int       `json:"expired_count"`
}

// ValidationResult reports the outcome of Validate.
type ValidationResult struct {
	Valid    int `json:"valid"`
	Invalid  int `json:"invalid"`
	Repaired int `json:"repaired"`
}

// Cache is a TTL cache with compression and a byte ceiling.
type Cache struct {
	store  Store
	opts   Options
	logger zerolog.Logger

	// mu serialises every path that reads footprint and then mutates the
	// store, so concurrent writers never interleave eviction decisions.
	mu sync.Mutex
}

// New creates a cache on top of store. Zero option fields take defaults.
func New(store Store, opts Options) *Cache {
	if store == nil {
		panic("cache store cannot be nil")
	}
	if opts.MaxSizeBytes <= 0 {
		opts.MaxSizeBytes = DefaultMaxSizeBytes
	}
	if opts.CompressionThreshold <= 0 {
		opts.CompressionThreshold = DefaultCompressionThreshold
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		store:  store,
		opts:   opts,
		logger: logging.Resolve(opts.Logger, "cache"),
	}
}

// MaxSizeBytes returns the configured ceiling.
func (c *Cache) MaxSizeBytes() int64 {
	return c.opts.MaxSizeBytes
}

// Set stores value under key for ttl. It may evict unrelated entries to
// keep the footprint under the ceiling.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("cache ttl must be positive (got %s)", ttl)
	}

	payload, err := json.Marshal(value)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache value: %w", err)
	}

	entry := &Entry{
		Data:      payload,
		CreatedAt: c.opts.Now(),
		TTL:       ttl,
		SizeBytes: len(payload),
	}
	if len(payload) > c.opts.CompressionThreshold {
		if packed := compress(payload); len(packed) < len(payload) {
			entry.Data = packed
			entry.Compressed = true
		}
	}

	blob, err := encodeEntry(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("encode cache entry: %w", err)
	}
	size := int64(len(blob))
	if size > c.opts.MaxSizeBytes {
		return fmt.Errorf("%w: %d > %d bytes", ErrEntryTooLarge, size, c.opts.MaxSizeBytes)
	}

	storeKey := c.storeKey(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	total, err := c.makeRoom(ctx, storeKey, size)
	if err != nil {
		return err
	}

	if err := c.store.Set(ctx, storeKey, blob); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("store set: %w", err)
	}
	CacheSize.Set(float64(total + size))

	c.logger.Debug().
		Str("key", key).
		Dur("ttl", ttl).
		Int("size_bytes", len(blob)).
		Bool("compressed", entry.Compressed).
		Msg("Cached value")

	return nil
}

// Get decodes the value stored under key into dest.
// Returns ErrCacheMiss if the key is absent, expired or corrupt; expired
// and corrupt entries are removed.
func (c *Cache) Get(ctx context.Context, key string, dest any) error {
	storeKey := c.storeKey(key)

	blob, ok, err := c.store.Get(ctx, storeKey)
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return fmt.Errorf("store get: %w", err)
	}
	if !ok {
		CacheMisses.WithLabelValues("absent").Inc()
		return ErrCacheMiss
	}

	entry, err := decodeEntry(blob)
	if err != nil {
		c.dropCorrupt(ctx, key, storeKey, blob, err)
		return ErrCacheMiss
	}

	if entry.IsExpired(c.opts.Now()) {
		c.removeIfUnchanged(ctx, storeKey, blob)
		CacheMisses.WithLabelValues("expired").Inc()
		CacheEvictions.WithLabelValues("expired").Inc()
		return ErrCacheMiss
	}

	payload, err := entry.Payload()
	if err != nil {
		c.dropCorrupt(ctx, key, storeKey, blob, err)
		return ErrCacheMiss
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		c.dropCorrupt(ctx, key, storeKey, blob, err)
		return ErrCacheMiss
	}

	CacheHits.Inc()
	return nil
}

// Lookup returns the raw entry stored under key without checking expiry.
func (c *Cache) Lookup(ctx context.Context, key string) (*Entry, error) {
	blob, ok, err := c.store.Get(ctx, c.storeKey(key))
	if err != nil {
		return nil, fmt.Errorf("store get: %w", err)
	}
	if !ok {
		return nil, ErrCacheMiss
	}
	return decodeEntry(blob)
}

// Remove deletes key.
func (c *Cache) Remove(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Remove(ctx, c.storeKey(key)); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("store remove: %w", err)
	}
	return nil
}

// Clear deletes every cache entry.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys, err := c.store.ListKeys(ctx, c.opts.KeyPrefix)
	if err != nil {
		CacheErrors.WithLabelValues("list").Inc()
		return fmt.Errorf("store list: %w", err)
	}
	for _, k := range keys {
		if err := c.store.Remove(ctx, k); err != nil {
			CacheErrors.WithLabelValues("delete").Inc()
			return fmt.Errorf("store remove: %w", err)
		}
	}
	CacheSize.Set(0)
	c.logger.Info().Int("removed", len(keys)).Msg("Cache cleared")
	return nil
}

// Stats returns a snapshot of the cache. It never mutates the store.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	slots, err := c.scan(ctx)
	if err != nil {
		return Stats{}, err
	}

	now := c.opts.Now()
	stats := Stats{
		TotalItems:   len(slots),
		MaxSizeBytes: c.opts.MaxSizeBytes,
	}
	for _, s := range slots {
		stats.TotalSizeBytes += s.size
		if s.entry == nil {
			continue
		}
		if stats.OldestTimestamp.IsZero() || s.entry.CreatedAt.Before(stats.OldestTimestamp) {
			stats.OldestTimestamp = s.entry.CreatedAt
		}
		if s.entry.CreatedAt.After(stats.NewestTimestamp) {
			stats.NewestTimestamp = s.entry.CreatedAt
		}
		if s.entry.IsExpired(now) {
			stats.ExpiredCount++
		}
	}
	return stats, nil
}

// CleanupExpired removes every expired entry and returns how many were removed.
func (c *Cache) CleanupExpired(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	slots, err := c.scan(ctx)
	if err != nil {
		return 0, err
	}
	_, removed := c.removeExpired(ctx, slots)
	if removed > 0 {
		c.logger.Info().Int("removed", removed).Msg("Expired cache entries removed")
	}
	return removed, nil
}

// Validate checks every entry. Entries with missing fields or payloads
// that fail to decompress or parse are deleted and counted as repaired.
func (c *Cache) Validate(ctx context.Context) (ValidationResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var result ValidationResult

	keys, err := c.store.ListKeys(ctx, c.opts.KeyPrefix)
	if err != nil {
		CacheErrors.WithLabelValues("list").Inc()
		return result, fmt.Errorf("store list: %w", err)
	}

	for _, k := range keys {
		blob, ok, err := c.store.Get(ctx, k)
		if err != nil {
			CacheErrors.WithLabelValues("get").Inc()
			return result, fmt.Errorf("store get: %w", err)
		}
		if !ok {
			continue
		}

		verr := validateBlob(blob)
		if verr == nil {
			result.Valid++
			continue
		}
		result.Invalid++
		c.logger.Warn().Err(verr).Str("key", k).Msg("Invalid cache entry")

		if err := c.store.Remove(ctx, k); err != nil {
			CacheErrors.WithLabelValues("delete").Inc()
			c.logger.Warn().Err(err).Str("key", k).Msg("Failed to remove invalid cache entry")
			continue
		}
		CacheEvictions.WithLabelValues("invalid").Inc()
		result.Repaired++
	}

	return result, nil
}

func validateBlob(blob []byte) error {
	entry, err := decodeEntry(blob)
	if err != nil {
		return err
	}
	payload, err := entry.Payload()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if !json.Valid(payload) {
		return fmt.Errorf("%w: payload is not valid json", ErrInvalidEntry)
	}
	return nil
}

// slot is a scanned store entry; entry is nil when the blob is undecodable.
type slot struct {
	key   string
	size  int64
	entry *Entry
}

func (s slot) createdAt() time.Time {
	if s.entry == nil {
		return time.Time{}
	}
	return s.entry.CreatedAt
}

func (c *Cache) scan(ctx context.Context) ([]slot, error) {
	keys, err := c.store.ListKeys(ctx, c.opts.KeyPrefix)
	if err != nil {
		CacheErrors.WithLabelValues("list").Inc()
		return nil, fmt.Errorf("store list: %w", err)
	}

	slots := make([]slot, 0, len(keys))
	for _, k := range keys {
		blob, ok, err := c.store.Get(ctx, k)
		if err != nil {
			CacheErrors.WithLabelValues("get").Inc()
			return nil, fmt.Errorf("store get: %w", err)
		}
		if !ok {
			continue
		}
		entry, _ := decodeEntry(blob)
		slots = append(slots, slot{key: k, size: int64(len(blob)), entry: entry})
	}
	return slots, nil
}

// makeRoom evicts entries until size more bytes fit under the ceiling.
// The current value of storeKey is not counted since it is about to be
// replaced. Returns the footprint without storeKey. Caller holds c.mu.
func (c *Cache) makeRoom(ctx context.Context, storeKey string, size int64) (int64, error) {
	slots, err := c.scan(ctx)
	if err != nil {
		return 0, err
	}

	total := footprint(slots, storeKey)
	if total+size <= c.opts.MaxSizeBytes {
		return total, nil
	}

	slots, _ = c.removeExpired(ctx, slots)
	total = footprint(slots, storeKey)
	if total+size <= c.opts.MaxSizeBytes {
		return total, nil
	}

	candidates := make([]slot, 0, len(slots))
	for _, s := range slots {
		if s.key != storeKey {
			candidates = append(candidates, s)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].createdAt().Before(candidates[j].createdAt())
	})

	minEvict := (len(candidates)*evictPercent + 99) / 100
	evicted := 0
	for i, s := range candidates {
		if i >= minEvict && total+size <= c.opts.MaxSizeBytes {
			break
		}
		if err := c.store.Remove(ctx, s.key); err != nil {
			CacheErrors.WithLabelValues("delete").Inc()
			c.logger.Warn().Err(err).Str("key", s.key).Msg("Failed to evict cache entry")
			continue
		}
		total -= s.size
		evicted++
	}
	CacheEvictions.WithLabelValues("oldest").Add(float64(evicted))

	c.logger.Info().
		Int("evicted", evicted).
		Int64("total_size_bytes", total).
		Int64("incoming_bytes", size).
		Msg("Evicted oldest cache entries")

	if total+size > c.opts.MaxSizeBytes {
		return total, fmt.Errorf("cache full: %d bytes in use, %d needed, ceiling %d", total, size, c.opts.MaxSizeBytes)
	}
	return total, nil
}

// removeExpired deletes expired slots and returns the survivors.
func (c *Cache) removeExpired(ctx context.Context, slots []slot) ([]slot, int) {
	now := c.opts.Now()
	kept := make([]slot, 0, len(slots))
	removed := 0
	for _, s := range slots {
		if s.entry == nil || !s.entry.IsExpired(now) {
			kept = append(kept, s)
			continue
		}
		if err := c.store.Remove(ctx, s.key); err != nil {
			CacheErrors.WithLabelValues("delete").Inc()
			c.logger.Warn().Err(err).Str("key", s.key).Msg("Failed to remove expired cache entry")
			kept = append(kept, s)
			continue
		}
		removed++
	}
	CacheEvictions.WithLabelValues("expired").Add(float64(removed))
	return kept, removed
}

func footprint(slots []slot, exclude string) int64 {
	var total int64
	for _, s := range slots {
		if s.key != exclude {
			total += s.size
		}
	}
	return total
}

// dropCorrupt treats an unreadable entry as a miss and deletes it.
func (c *Cache) dropCorrupt(ctx context.Context, key, storeKey string, blob []byte, cause error) {
	CacheMisses.WithLabelValues("corrupt").Inc()
	c.logger.Warn().Err(cause).Str("key", key).Msg("Corrupt cache entry dropped")
	c.removeIfUnchanged(ctx, storeKey, blob)
}

// removeIfUnchanged deletes storeKey only if it still holds blob, so a
// concurrent Set of a fresh value is never lost to a lazy expiry.
func (c *Cache) removeIfUnchanged(ctx context.Context, storeKey string, blob []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok, err := c.store.Get(ctx, storeKey)
	if err != nil || !ok || !bytes.Equal(current, blob) {
		return
	}
	if err := c.store.Remove(ctx, storeKey); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
	}
}

func (c *Cache) storeKey(key string) string {
	return c.opts.KeyPrefix + key
}
