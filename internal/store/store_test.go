package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pysugar/hubspot-bridge/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	gdb, err := db.OpenMemory(t.Name())
	require.NoError(t, err)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return New(gdb, WithClock(clock.Now)), clock
}

func TestTransient_SetGetExpire(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetTransient(ctx, "k", "v1", time.Minute))
	v, ok, err := s.GetTransient(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v1", v)

	require.NoError(t, s.SetTransient(ctx, "k", "v2", time.Minute))
	v, _, _ = s.GetTransient(ctx, "k")
	assert.Equal(t, "v2", v)

	clock.Advance(2 * time.Minute)
	_, ok, err = s.GetTransient(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "expired transient must not be visible")
}

func TestTransient_DeleteMissingIsNoop(t *testing.T) {
	s, _ := newTestStore(t)
	assert.NoError(t, s.DeleteTransient(context.Background(), "absent"))
}

func TestLock_HeldLeaseBlocksOthersUntilExpiry(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	ok, err := s.TryAcquire(ctx, "x_refresh_lock", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TryAcquire(ctx, "x_refresh_lock", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second owner must not acquire a held lease")

	clock.Advance(61 * time.Second)
	ok, err = s.TryAcquire(ctx, "x_refresh_lock", "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease must be reclaimable")
}

func TestLock_ReleaseOnlyByOwner(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	ok, _ := s.TryAcquire(ctx, "l", "a", time.Minute)
	require.True(t, ok)

	require.NoError(t, s.Release(ctx, "l", "b"))
	ok, _ = s.TryAcquire(ctx, "l", "c", time.Minute)
	assert.False(t, ok, "release by a non-owner must not free the lease")

	require.NoError(t, s.Release(ctx, "l", "a"))
	ok, _ = s.TryAcquire(ctx, "l", "c", time.Minute)
	assert.True(t, ok)
}

func TestLock_ConcurrentAcquireHasSingleWinner(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.TryAcquire(ctx, "race", string(rune('a'+i)), time.Minute)
			if err == nil && ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestSettings_PutGetDelete(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetSetting(ctx, "last")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.PutSetting(ctx, "last", "1"))
	require.NoError(t, s.PutSetting(ctx, "last", "2"))
	v, ok, err := s.GetSetting(ctx, "last")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2", v)

	require.NoError(t, s.DeleteSetting(ctx, "last"))
	_, ok, _ = s.GetSetting(ctx, "last")
	assert.False(t, ok)
}

func TestPurgeExpired(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetTransient(ctx, "short", "1", time.Second))
	require.NoError(t, s.SetTransient(ctx, "long", "1", time.Hour))
	clock.Advance(time.Minute)

	n, err := s.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, ok, _ := s.GetTransient(ctx, "long")
	assert.True(t, ok)
}
