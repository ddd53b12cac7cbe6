package lease

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLeaser(t *testing.T) (*RedisLeaser, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisLeaser(rdb, ""), mr
}

func leasers(t *testing.T) map[string]Leaser {
	r, _ := newRedisLeaser(t)
	return map[string]Leaser{
		"memory": NewMemoryLeaser(),
		"redis":  r,
	}
}

func TestAcquireIsExclusive(t *testing.T) {
	for name, l := range leasers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first, err := l.Acquire(ctx, "diag:d1", time.Minute)
			require.NoError(t, err)

			_, err = l.Acquire(ctx, "diag:d1", time.Minute)
			assert.ErrorIs(t, err, ErrHeld)

			other, err := l.Acquire(ctx, "diag:d2", time.Minute)
			require.NoError(t, err)
			require.NoError(t, l.Release(ctx, other))

			require.NoError(t, l.Release(ctx, first))
			again, err := l.Acquire(ctx, "diag:d1", time.Minute)
			require.NoError(t, err)
			assert.NotEqual(t, first.Token, again.Token)
		})
	}
}

func TestReleaseWithStaleTokenKeepsCurrentLease(t *testing.T) {
	for name, l := range leasers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			held, err := l.Acquire(ctx, "k", time.Minute)
			require.NoError(t, err)

			stale := *held
			stale.Token = "someone-else"
			assert.ErrorIs(t, l.Release(ctx, &stale), ErrNotHeld)

			_, err = l.Acquire(ctx, "k", time.Minute)
			assert.ErrorIs(t, err, ErrHeld, "current lease must survive a stale release")
		})
	}
}

func TestMemoryLeaseExpires(t *testing.T) {
	m := NewMemoryLeaser()
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := m.Acquire(ctx, "k", 10*time.Second)
	require.NoError(t, err)

	now = now.Add(11 * time.Second)
	_, err = m.Acquire(ctx, "k", 10*time.Second)
	require.NoError(t, err, "an expired lease can be taken over")

	_, err = m.Acquire(ctx, "other", time.Second)
	require.NoError(t, err)
	now = now.Add(2 * time.Second)
	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 1, m.Len())
}

func TestRedisLeaseExpires(t *testing.T) {
	l, mr := newRedisLeaser(t)
	ctx := context.Background()
	held, err := l.Acquire(ctx, "k", 10*time.Second)
	require.NoError(t, err)

	mr.FastForward(11 * time.Second)
	_, err = l.Acquire(ctx, "k", 10*time.Second)
	require.NoError(t, err)
	assert.ErrorIs(t, l.Release(ctx, held), ErrNotHeld)
}

func TestWithLeaseReleasesOnError(t *testing.T) {
	m := NewMemoryLeaser()
	boom := errors.New("boom")
	err := WithLease(context.Background(), m, "k", time.Minute, func(ctx context.Context) error {
		_, err := m.Acquire(ctx, "k", time.Minute)
		assert.ErrorIs(t, err, ErrHeld)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, m.Len())
}

func TestWithLeaseReleasesOnPanic(t *testing.T) {
	m := NewMemoryLeaser()
	assert.PanicsWithValue(t, "kaboom", func() {
		_ = WithLease(context.Background(), m, "k", time.Minute, func(context.Context) error {
			panic("kaboom")
		})
	})
	assert.Equal(t, 0, m.Len())
}

func TestWithLeaseReleasesAfterCancel(t *testing.T) {
	l, _ := newRedisLeaser(t)
	ctx, cancel := context.WithCancel(context.Background())
	err := WithLease(ctx, l, "k", time.Minute, func(context.Context) error {
		cancel()
		return nil
	})
	require.NoError(t, err)
	_, err = l.Acquire(context.Background(), "k", time.Minute)
	assert.NoError(t, err)
}

func TestConcurrentAcquireGrantsOne(t *testing.T) {
	for name, l := range leasers(t) {
		t.Run(name, func(t *testing.T) {
			var granted atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := l.Acquire(context.Background(), "hot", time.Minute); err == nil {
						granted.Add(1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), granted.Load())
		})
	}
}
