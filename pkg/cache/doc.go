// Package cache provides a TTL-bounded, size-capped cache on top of a
// pluggable durable key/value Store.
//
// Features:
//
//   - Per-entry time-to-live with lazy expiry on read and eager expiry via
//     CleanupExpired
//   - zstd compression for values above a size threshold
//   - A byte ceiling enforced before every write: expired entries go first,
//     then the oldest 30% by creation time, then oldest-first until the
//     write fits
//   - Corruption tolerance: undecodable entries read as a miss and are dropped
//   - Validate scans and repairs the whole keyspace
//   - Prometheus metrics for observability
//
// # Basic Usage
//
//	store := cache.NewRedisStore(redis.NewClient(&redis.Options{Addr: "localhost:6379"}))
//	c := cache.New(store, cache.DefaultOptions())
//
//	key := cache.Key{Namespace: "records", ID: "all"}.String()
//	if err := c.Set(ctx, key, records, 24*time.Hour); err != nil {
//		// caching is best effort
//	}
//
//	var out []record.Record
//	if err := c.Get(ctx, key, &out); errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from remote
//	}
//
// # Metrics
//
//   - roster_cache_hits_total - Cache hits
//   - roster_cache_misses_total{reason} - Misses (absent, expired, corrupt)
//   - roster_cache_evictions_total{reason} - Evicted entries (expired, oldest)
//   - roster_cache_size_bytes - Footprint after the last write
//   - roster_cache_errors_total{operation} - Store errors
package cache
