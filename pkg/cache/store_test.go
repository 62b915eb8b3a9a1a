package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupMiniRedis starts an in-memory Redis and returns a client for it.
func setupMiniRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func storeImplementations(t *testing.T) map[string]Store {
	client, _ := setupMiniRedis(t)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStore(client),
	}
}

func TestStore_Contract(t *testing.T) {
	for name, store := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, ok, err := store.Get(ctx, "p:missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, store.Set(ctx, "p:a", []byte("1")))
			require.NoError(t, store.Set(ctx, "p:b", []byte("2")))
			require.NoError(t, store.Set(ctx, "other:c", []byte("3")))
			require.NoError(t, store.Set(ctx, "p:a", []byte("one")))

			v, ok, err := store.Get(ctx, "p:a")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, []byte("one"), v)

			keys, err := store.ListKeys(ctx, "p:")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"p:a", "p:b"}, keys)

			require.NoError(t, store.Remove(ctx, "p:a"))
			require.NoError(t, store.Remove(ctx, "p:a"), "removing an absent key is not an error")

			keys, err = store.ListKeys(ctx, "p:")
			require.NoError(t, err)
			assert.Equal(t, []string{"p:b"}, keys)
		})
	}
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	buf := []byte("abc")
	require.NoError(t, store.Set(ctx, "k", buf))
	buf[0] = 'X'

	v, _, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(v))

	v[1] = 'Y'
	again, _, _ := store.Get(ctx, "k")
	assert.Equal(t, "abc", string(again))
}

func TestNewRedisStore_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewRedisStore should panic with nil redis client")
		}
	}()
	NewRedisStore(nil)
}

func TestRedisStore_WritesWithoutTTL(t *testing.T) {
	client, mr := setupMiniRedis(t)
	store := NewRedisStore(client)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v")))
	assert.Equal(t, time.Duration(0), mr.TTL("k"))
}

func TestRedisStore_ListKeysAcrossScanPages(t *testing.T) {
	client, _ := setupMiniRedis(t)
	store := NewRedisStore(client)
	ctx := context.Background()

	const n = 3*scanBatch + 7
	for i := 0; i < n; i++ {
		require.NoError(t, store.Set(ctx, fmt.Sprintf("p:%04d", i), []byte("v")))
	}

	keys, err := store.ListKeys(ctx, "p:")
	require.NoError(t, err)
	assert.Len(t, keys, n)

	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		assert.False(t, seen[k], "key %s listed twice", k)
		seen[k] = true
	}
}

func TestRedisStore_ConnectionError(t *testing.T) {
	client, mr := setupMiniRedis(t)
	store := NewRedisStore(client)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, _, err := store.Get(ctx, "k")
	assert.Error(t, err)
	_, err = store.ListKeys(ctx, "")
	assert.Error(t, err)
}

func TestCache_OnRedisStore(t *testing.T) {
	client, _ := setupMiniRedis(t)
	c := New(NewRedisStore(client), DefaultOptions())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "records:all", []string{"a", "b"}, time.Hour))

	var got []string
	require.NoError(t, c.Get(ctx, "records:all", &got))
	assert.Equal(t, []string{"a", "b"}, got)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalItems)

	require.NoError(t, c.Clear(ctx))
	assert.ErrorIs(t, c.Get(ctx, "records:all", &got), ErrCacheMiss)
}
