package classify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/Sternrassler/roster-client/internal/testutil"
	"github.com/Sternrassler/roster-client/pkg/cache"
	"github.com/Sternrassler/roster-client/pkg/record"
	"github.com/Sternrassler/roster-client/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfer(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "429", err: testutil.Status(http.StatusTooManyRequests), want: KindRateLimit},
		{name: "503 with retry-after", err: &transport.StatusError{StatusCode: 503, HasRetryAfter: true}, want: KindRateLimit},
		{name: "rate limited sentinel", err: fmt.Errorf("wrapped: %w", transport.ErrRateLimited), want: KindRateLimit},
		{name: "401", err: testutil.Status(http.StatusUnauthorized), want: KindAuth},
		{name: "403", err: testutil.Status(http.StatusForbidden), want: KindPermission},
		{name: "500", err: testutil.Status(http.StatusInternalServerError), want: KindNetwork},
		{name: "transport timeout", err: fmt.Errorf("%w: slow", transport.ErrTimeout), want: KindTimeout},
		{name: "deadline exceeded", err: context.DeadlineExceeded, want: KindTimeout},
		{name: "cancelled", err: context.Canceled, want: KindUnknown},
		{name: "malformed", err: fmt.Errorf("%w: elements missing", record.ErrMalformed), want: KindParsing},
		{name: "cache corruption", err: cache.ErrInvalidEntry, want: KindCache},
		{name: "anything else", err: errors.New("connection reset by peer"), want: KindNetwork},
		{name: "already classified", err: &Error{Kind: KindPermission}, want: KindPermission},
		{name: "nil", err: nil, want: KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Infer(tt.err); got != tt.want {
				t.Errorf("Infer(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestRecoverableAndRetryable(t *testing.T) {
	tests := []struct {
		kind        Kind
		recoverable bool
		retryable   bool
	}{
		{kind: KindAuth, recoverable: false, retryable: false},
		{kind: KindPermission, recoverable: false, retryable: false},
		{kind: KindNetwork, recoverable: true, retryable: true},
		{kind: KindTimeout, recoverable: true, retryable: true},
		{kind: KindRateLimit, recoverable: true, retryable: true},
		{kind: KindParsing, recoverable: true, retryable: false},
		{kind: KindCache, recoverable: true, retryable: false},
		{kind: KindUnknown, recoverable: true, retryable: false},
	}

	require.Len(t, tests, len(Kinds))
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.recoverable, Recoverable(tt.kind))
			assert.Equal(t, tt.retryable, Retryable(tt.kind))

			e := New(nil, Options{}).Classify(context.Background(), tt.kind, "m", nil, nil)
			assert.Equal(t, tt.recoverable, e.Recoverable)
			assert.Equal(t, tt.retryable, e.Retryable())
		})
	}
}

func TestClassify_AttachesTable(t *testing.T) {
	c := New(nil, Options{})
	cause := errors.New("401 from remote")

	e := c.Classify(context.Background(), KindAuth, "session rejected", cause, map[string]any{"start": 0})

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, KindAuth, e.Kind)
	assert.False(t, e.Recoverable)
	assert.NotEmpty(t, e.UserMessage)
	assert.NotEmpty(t, e.SuggestedAction)
	assert.Equal(t, 0, e.Context["start"])
	assert.ErrorIs(t, e, cause)
	assert.Contains(t, e.Error(), "auth error: session rejected")
}

func TestClassify_UnknownKindFallsBack(t *testing.T) {
	c := New(nil, Options{})
	e := c.Classify(context.Background(), Kind("bogus"), "odd", nil, nil)
	assert.Equal(t, KindUnknown, e.Kind)
	assert.True(t, e.Recoverable)
}

func TestFromError(t *testing.T) {
	c := New(nil, Options{})
	ctx := context.Background()

	e := c.FromError(ctx, testutil.Throttled(5*time.Second), nil)
	assert.Equal(t, KindRateLimit, e.Kind)
	assert.True(t, errors.Is(e, transport.ErrRateLimited))

	again := c.FromError(ctx, fmt.Errorf("batch: %w", e), nil)
	assert.Same(t, e, again)
	assert.Len(t, c.Log(0), 1, "already classified errors are not logged twice")
}

func TestLog_RollingCapacity(t *testing.T) {
	c := New(nil, Options{LogCapacity: 5})
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		c.Classify(ctx, KindNetwork, fmt.Sprintf("failure %d", i), nil, nil)
	}

	all := c.Log(0)
	require.Len(t, all, 5)
	assert.Equal(t, "failure 7", all[0].Message, "newest first")
	assert.Equal(t, "failure 3", all[4].Message, "oldest entries dropped")

	assert.Len(t, c.Log(2), 2)
	assert.Len(t, c.Log(50), 5)
}

func TestCriticalLog_Durable(t *testing.T) {
	store := cache.NewMemoryStore()
	ctx := context.Background()

	c := New(store, Options{CriticalCapacity: 3})
	c.Classify(ctx, KindNetwork, "transient", nil, nil)
	for i := 0; i < 5; i++ {
		c.Classify(ctx, KindPermission, fmt.Sprintf("denied %d", i), errors.New("403"), nil)
	}

	critical := c.Critical()
	require.Len(t, critical, 3)
	assert.Equal(t, "denied 2", critical[0].Message)

	_, ok, err := store.Get(ctx, DefaultCriticalKey)
	require.NoError(t, err)
	require.True(t, ok)

	restored := New(store, Options{CriticalCapacity: 3})
	require.NoError(t, restored.Restore(ctx))
	got := restored.Critical()
	require.Len(t, got, 3)
	assert.Equal(t, "denied 4", got[2].Message)
	assert.Equal(t, "403", got[2].CauseText)
	assert.Contains(t, got[2].Error(), "403")
	assert.Equal(t, 3, restored.Analyze().CriticalErrors)
}

type brokenStore struct{ *cache.MemoryStore }

func (brokenStore) Set(context.Context, string, []byte) error {
	return errors.New("disk full")
}

func TestCriticalLog_StoreFailureNotRaised(t *testing.T) {
	c := New(brokenStore{cache.NewMemoryStore()}, Options{})
	e := c.Classify(context.Background(), KindAuth, "expired", nil, nil)
	assert.NotNil(t, e)
	assert.Len(t, c.Critical(), 1)
}

func TestRestore_CorruptLogIgnored(t *testing.T) {
	store := cache.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, DefaultCriticalKey, []byte("not json")))

	c := New(store, Options{})
	require.NoError(t, c.Restore(ctx))
	assert.Empty(t, c.Critical())
}

func TestAnalyze(t *testing.T) {
	clock := testutil.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	c := New(nil, Options{Now: clock.Now})
	ctx := context.Background()

	empty := c.Analyze()
	assert.Equal(t, 0, empty.TotalErrors)
	assert.Equal(t, 100.0, empty.RecoveryRatePercent)
	assert.Len(t, empty.CountsByKind, len(Kinds), "every kind is reported, even with no errors")

	c.Classify(ctx, KindNetwork, "old", nil, nil)
	clock.Advance(2 * time.Hour)
	c.Classify(ctx, KindNetwork, "a", nil, nil)
	c.Classify(ctx, KindTimeout, "b", nil, nil)
	c.Classify(ctx, KindAuth, "c", nil, nil)

	a := c.Analyze()
	assert.Equal(t, 4, a.TotalErrors)
	assert.Equal(t, 3, a.RecentErrors)
	assert.Equal(t, 1, a.CriticalErrors)
	assert.Equal(t, map[Kind]int{
		KindAuth: 1, KindNetwork: 2, KindRateLimit: 0, KindParsing: 0,
		KindCache: 0, KindPermission: 0, KindTimeout: 1, KindUnknown: 0,
	}, a.CountsByKind)
	assert.InDelta(t, 75.0, a.RecoveryRatePercent, 0.001)
}

func TestClear(t *testing.T) {
	store := cache.NewMemoryStore()
	ctx := context.Background()
	c := New(store, Options{})

	c.Classify(ctx, KindAuth, "x", nil, nil)
	require.NoError(t, c.Clear(ctx))

	assert.Empty(t, c.Log(0))
	assert.Empty(t, c.Critical())
	_, ok, err := store.Get(ctx, DefaultCriticalKey)
	require.NoError(t, err)
	assert.False(t, ok)
}
