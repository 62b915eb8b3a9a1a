package cache

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/roster-client/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestCache(t *testing.T, maxBytes int64) (*Cache, *MemoryStore, *testutil.Clock) {
	t.Helper()
	store := NewMemoryStore()
	clock := testutil.NewClock(epoch)
	c := New(store, Options{MaxSizeBytes: maxBytes, Now: clock.Now})
	return c, store, clock
}

func TestNew_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("New should panic with nil store")
		}
	}()
	New(nil, DefaultOptions())
}

func TestNew_Defaults(t *testing.T) {
	c := New(NewMemoryStore(), Options{})
	assert.Equal(t, int64(DefaultMaxSizeBytes), c.MaxSizeBytes())
	assert.Equal(t, DefaultKeyPrefix, c.opts.KeyPrefix)
	assert.Equal(t, DefaultCompressionThreshold, c.opts.CompressionThreshold)
}

func TestCache_SetGet(t *testing.T) {
	c, _, _ := newTestCache(t, 0)
	ctx := context.Background()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	require.NoError(t, c.Set(ctx, "records:all", payload{Name: "alpha", Count: 3}, time.Hour))

	var got payload
	require.NoError(t, c.Get(ctx, "records:all", &got))
	assert.Equal(t, payload{Name: "alpha", Count: 3}, got)

	err := c.Get(ctx, "records:none", &got)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestCache_SetRejectsNonPositiveTTL(t *testing.T) {
	c, _, _ := newTestCache(t, 0)
	assert.Error(t, c.Set(context.Background(), "k", "v", 0))
	assert.Error(t, c.Set(context.Background(), "k", "v", -time.Second))
}

func TestCache_TTLBoundary(t *testing.T) {
	c, _, clock := newTestCache(t, 0)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))

	var got string
	clock.Advance(time.Minute - time.Millisecond)
	require.NoError(t, c.Get(ctx, "k", &got), "entry should be visible just before its ttl")
	assert.Equal(t, "v", got)

	clock.Advance(time.Millisecond)
	assert.ErrorIs(t, c.Get(ctx, "k", &got), ErrCacheMiss, "entry should be gone at its ttl")

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalItems, "expired entry should be removed on read")
}

func TestCache_SubMillisecondTTL(t *testing.T) {
	c, _, clock := newTestCache(t, 0)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 500*time.Microsecond))

	var got string
	require.NoError(t, c.Get(ctx, "k", &got), "entry should be visible right after set")
	assert.Equal(t, "v", got)

	clock.Advance(499 * time.Microsecond)
	require.NoError(t, c.Get(ctx, "k", &got))

	clock.Advance(time.Microsecond)
	assert.ErrorIs(t, c.Get(ctx, "k", &got), ErrCacheMiss)
}

func TestCache_CeilingNeverExceeded(t *testing.T) {
	const ceiling = 4 << 10
	c, _, clock := newTestCache(t, ceiling)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 300; i++ {
		value := strings.Repeat("x", rng.Intn(600))
		key := fmt.Sprintf("k%d", rng.Intn(40))
		ttl := time.Duration(1+rng.Intn(30)) * time.Second

		require.NoError(t, c.Set(ctx, key, value, ttl))

		stats, err := c.Stats(ctx)
		require.NoError(t, err)
		if stats.TotalSizeBytes > ceiling {
			t.Fatalf("after write %d footprint %d exceeds ceiling %d", i, stats.TotalSizeBytes, ceiling)
		}
		clock.Advance(time.Duration(rng.Intn(2000)) * time.Millisecond)
	}
}

// entrySize returns the stored footprint of one entry written with value.
func entrySize(t *testing.T, value string) int64 {
	t.Helper()
	c, _, _ := newTestCache(t, 0)
	require.NoError(t, c.Set(context.Background(), "k00", value, time.Hour))
	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	return stats.TotalSizeBytes
}

func TestCache_EvictsOldestThirty(t *testing.T) {
	const value = "0123456789"
	size := entrySize(t, value)

	c, store, clock := newTestCache(t, 10*size+size/2)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("k%02d", i), value, time.Hour))
		clock.Advance(time.Second)
	}
	require.NoError(t, c.Set(ctx, "k10", value, time.Hour))

	keys, err := store.ListKeys(ctx, DefaultKeyPrefix)
	require.NoError(t, err)
	assert.Len(t, keys, 8)

	var got string
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, c.Get(ctx, fmt.Sprintf("k%02d", i), &got), ErrCacheMiss, "k%02d should be evicted", i)
	}
	for i := 3; i <= 10; i++ {
		assert.NoError(t, c.Get(ctx, fmt.Sprintf("k%02d", i), &got), "k%02d should survive", i)
	}
}

func TestCache_ExpiredEvictedFirst(t *testing.T) {
	const value = "0123456789"
	size := entrySize(t, value)

	c, _, clock := newTestCache(t, 3*size)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k00", value, time.Second))
	clock.Advance(time.Second)
	require.NoError(t, c.Set(ctx, "k01", value, time.Hour))
	require.NoError(t, c.Set(ctx, "k02", value, time.Hour))
	clock.Advance(time.Second)
	require.NoError(t, c.Set(ctx, "k03", value, time.Hour))

	var got string
	assert.ErrorIs(t, c.Get(ctx, "k00", &got), ErrCacheMiss)
	for _, k := range []string{"k01", "k02", "k03"} {
		assert.NoError(t, c.Get(ctx, k, &got), "%s should survive", k)
	}
}

func TestCache_OverwriteDoesNotCountTwice(t *testing.T) {
	const value = "0123456789"
	size := entrySize(t, value)

	c, _, _ := newTestCache(t, 2*size)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k00", value, time.Hour))
	require.NoError(t, c.Set(ctx, "k01", value, time.Hour))
	require.NoError(t, c.Set(ctx, "k01", value, time.Hour))

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalItems, "overwriting should not evict")
}

func TestCache_EntryTooLarge(t *testing.T) {
	c, store, _ := newTestCache(t, 128)
	ctx := context.Background()

	err := c.Set(ctx, "big", strings.Repeat("y", 512), time.Hour)
	assert.ErrorIs(t, err, ErrEntryTooLarge)

	keys, err := store.ListKeys(ctx, DefaultKeyPrefix)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestCache_Compression(t *testing.T) {
	c, _, _ := newTestCache(t, 0)
	ctx := context.Background()

	large := strings.Repeat("roster-member ", 2000)
	require.NoError(t, c.Set(ctx, "large", large, time.Hour))
	require.NoError(t, c.Set(ctx, "small", "tiny", time.Hour))

	entry, err := c.Lookup(ctx, "large")
	require.NoError(t, err)
	assert.True(t, entry.Compressed)
	assert.Less(t, len(entry.Data), entry.SizeBytes)

	entry, err = c.Lookup(ctx, "small")
	require.NoError(t, err)
	assert.False(t, entry.Compressed)

	var got string
	require.NoError(t, c.Get(ctx, "large", &got))
	assert.Equal(t, large, got)
}

func TestCache_CorruptEntryIsMiss(t *testing.T) {
	c, store, _ := newTestCache(t, 0)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, DefaultKeyPrefix+"bad", []byte("definitely not json")))

	var got string
	assert.ErrorIs(t, c.Get(ctx, "bad", &got), ErrCacheMiss)

	_, ok, err := store.Get(ctx, DefaultKeyPrefix+"bad")
	require.NoError(t, err)
	assert.False(t, ok, "corrupt entry should be removed")
}

func TestCache_Lookup(t *testing.T) {
	c, _, clock := newTestCache(t, 0)
	ctx := context.Background()

	_, err := c.Lookup(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k", 1, 2*time.Hour))
	clock.Advance(3 * time.Hour)

	entry, err := c.Lookup(ctx, "k")
	require.NoError(t, err, "Lookup ignores expiry")
	assert.Equal(t, 2*time.Hour, entry.TTL)
	assert.True(t, entry.CreatedAt.Equal(epoch))
}

func TestCache_RemoveAndClear(t *testing.T) {
	c, store, _ := newTestCache(t, 0)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "foreign:key", []byte("keep")))
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("k%d", i), i, time.Hour))
	}

	require.NoError(t, c.Remove(ctx, "k0"))
	require.NoError(t, c.Remove(ctx, "never-set"))

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalItems)

	require.NoError(t, c.Clear(ctx))
	stats, err = c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalItems)
	assert.Equal(t, int64(0), stats.TotalSizeBytes)

	_, ok, err := store.Get(ctx, "foreign:key")
	require.NoError(t, err)
	assert.True(t, ok, "Clear must only touch prefixed keys")
}

func TestCache_Stats(t *testing.T) {
	c, _, clock := newTestCache(t, 0)
	ctx := context.Background()

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalItems)
	assert.True(t, stats.OldestTimestamp.IsZero())
	assert.Equal(t, int64(DefaultMaxSizeBytes), stats.MaxSizeBytes)

	require.NoError(t, c.Set(ctx, "a", "x", time.Second))
	clock.Advance(5 * time.Second)
	require.NoError(t, c.Set(ctx, "b", "y", time.Hour))

	stats, err = c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalItems)
	assert.Equal(t, 1, stats.ExpiredCount)
	assert.True(t, stats.OldestTimestamp.Equal(epoch))
	assert.True(t, stats.NewestTimestamp.Equal(epoch.Add(5*time.Second)))
	assert.Positive(t, stats.TotalSizeBytes)

	again, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, stats, again, "Stats must not mutate the cache")
}

func TestCache_CleanupExpired(t *testing.T) {
	c, _, clock := newTestCache(t, 0)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("short%d", i), i, time.Second))
	}
	require.NoError(t, c.Set(ctx, "long", "x", time.Hour))
	clock.Advance(2 * time.Second)

	removed, err := c.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, removed)

	removed, err = c.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalItems)
}

func TestCache_ValidateRepairsInvalid(t *testing.T) {
	c, store, _ := newTestCache(t, 0)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "good", "v", time.Hour))
	require.NoError(t, c.Set(ctx, "large", strings.Repeat("abc", 8000), time.Hour))

	// Entry stripped of its ttl field.
	require.NoError(t, store.Set(ctx, DefaultKeyPrefix+"no-ttl",
		[]byte(`{"data":"InYi","created_at":"2026-01-01T00:00:00Z","compressed":false,"size_bytes":3}`)))
	// Entry whose compressed payload is garbage.
	require.NoError(t, store.Set(ctx, DefaultKeyPrefix+"bad-zstd",
		[]byte(`{"data":"AAAA","created_at":"2026-01-01T00:00:00Z","ttl_ns":1000000000,"compressed":true,"size_bytes":3}`)))

	before, err := c.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, before.TotalItems)

	result, err := c.Validate(ctx)
	require.NoError(t, err)
	assert.Equal(t, ValidationResult{Valid: 2, Invalid: 2, Repaired: 2}, result)

	after, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.TotalItems-2, after.TotalItems)

	var got string
	assert.NoError(t, c.Get(ctx, "good", &got))
}

func TestCache_ConcurrentSetRespectsCeiling(t *testing.T) {
	const ceiling = 2 << 10
	c, _, _ := newTestCache(t, ceiling)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 400)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if err := c.Set(ctx, fmt.Sprintf("w%d-%d", w, i), strings.Repeat("z", 100), time.Hour); err != nil {
					errs <- err
				}
				var got string
				_ = c.Get(ctx, fmt.Sprintf("w%d-%d", w, i/2), &got)
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Set() error = %v", err)
	}

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, stats.TotalSizeBytes, int64(ceiling))
}

type failingStore struct {
	*MemoryStore
	err error
}

func (f *failingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, f.err
}

func TestCache_StoreErrorsPropagate(t *testing.T) {
	storeErr := errors.New("backend down")
	c := New(&failingStore{MemoryStore: NewMemoryStore(), err: storeErr}, DefaultOptions())

	var got string
	err := c.Get(context.Background(), "k", &got)
	assert.ErrorIs(t, err, storeErr)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}
