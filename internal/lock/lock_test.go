package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lockers(t *testing.T) map[string]Locker {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]Locker{
		"memory": NewMemoryLocker(),
		"redis":  NewRedisLocker(client, "jobfit:"),
	}
}

func TestLocker_ExclusiveUntilRelease(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			release, err := l.Acquire(ctx, "k", time.Minute)
			require.NoError(t, err)

			_, err = l.Acquire(ctx, "k", time.Minute)
			assert.ErrorIs(t, err, ErrNotAcquired)

			_, err = l.Acquire(ctx, "other", time.Minute)
			assert.NoError(t, err)

			require.NoError(t, release(ctx))
			release2, err := l.Acquire(ctx, "k", time.Minute)
			require.NoError(t, err)

			// A stale release must not free someone else's hold.
			require.NoError(t, release(ctx))
			_, err = l.Acquire(ctx, "k", time.Minute)
			assert.ErrorIs(t, err, ErrNotAcquired)
			require.NoError(t, release2(ctx))
		})
	}
}

func TestMemoryLocker_Expiry(t *testing.T) {
	t.Parallel()

	l := NewMemoryLocker()
	now := time.Now()
	l.now = func() time.Time { return now }

	_, err := l.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	_, err = l.Acquire(context.Background(), "k", time.Second)
	assert.NoError(t, err)
}

func TestRedisLocker_Expiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	l := NewRedisLocker(client, "")

	_, err := l.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	_, err = l.Acquire(context.Background(), "k", time.Second)
	assert.NoError(t, err)
}

func TestAcquireWait(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := NewMemoryLocker()

	release, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = release(ctx)
	}()

	release2, err := AcquireWait(ctx, l, "k", time.Minute, time.Second, 10*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, release2(ctx))

	_, err = l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	_, err = AcquireWait(ctx, l, "k", time.Minute, 30*time.Millisecond, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrNotAcquired)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = AcquireWait(cancelled, l, "k", time.Minute, time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAcquireWait_SingleWinner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := NewMemoryLocker()

	var (
		holders    atomic.Int32
		maxHolders atomic.Int32
		wg         sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := AcquireWait(ctx, l, "k", time.Minute, 5*time.Second, time.Millisecond)
			if !assert.NoError(t, err) {
				return
			}
			n := holders.Add(1)
			if n > maxHolders.Load() {
				maxHolders.Store(n)
			}
			time.Sleep(5 * time.Millisecond)
			holders.Add(-1)
			_ = release(ctx)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxHolders.Load())
}

func TestKeys(t *testing.T) {
	t.Parallel()

	id := uuid.MustParse("7c9e6679-7425-40de-944b-e07fc1f90ae7")
	assert.Equal(t, "lease:task:7c9e6679-7425-40de-944b-e07fc1f90ae7", TaskKey(id))
	assert.Equal(t, "lock:cover-letter:7c9e6679-7425-40de-944b-e07fc1f90ae7", CoverLetterKey(id))
}
