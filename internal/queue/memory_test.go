package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func fastConfig() Config {
	return Config{
		MaxAttempts:     3,
		BaseDelay:       50 * time.Millisecond,
		Concurrency:     1,
		DeliveryTimeout: time.Second,
		Capacity:        32,
	}
}

type exhaustRecorder struct {
	mu    sync.Mutex
	calls []Exhaustion
}

func (r *exhaustRecorder) hook(_ context.Context, e Exhaustion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, e)
}

func (r *exhaustRecorder) snapshot() []Exhaustion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Exhaustion(nil), r.calls...)
}

func TestMemoryQueue_Success(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue(fastConfig(), testLogger())
	defer q.Shutdown()

	done := make(chan Delivery, 1)
	require.NoError(t, q.Start(HandlerFunc(func(ctx context.Context, d Delivery) Result {
		done <- d
		return Success()
	}), nil))

	id := uuid.New()
	require.NoError(t, q.Enqueue(context.Background(), id))

	select {
	case d := <-done:
		assert.Equal(t, id, d.TaskID)
		assert.Equal(t, 1, d.Attempt)
		assert.Equal(t, 3, d.MaxAttempts)
	case <-time.After(2 * time.Second):
		t.Fatal("task was not delivered")
	}

	// A finished reference can be enqueued again.
	require.Eventually(t, func() bool {
		return q.Enqueue(context.Background(), id) == nil
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryQueue_RetriesWithBackoffThenExhausts(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	q := NewMemoryQueue(cfg, testLogger())
	defer q.Shutdown()

	var (
		mu       sync.Mutex
		attempts []time.Time
	)
	rec := &exhaustRecorder{}
	remoteErr := errors.New("remote unavailable")

	require.NoError(t, q.Start(HandlerFunc(func(ctx context.Context, d Delivery) Result {
		mu.Lock()
		attempts = append(attempts, time.Now())
		mu.Unlock()
		return Retryable(remoteErr)
	}), rec.hook))

	id := uuid.New()
	require.NoError(t, q.Enqueue(context.Background(), id))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 3*time.Second, 10*time.Millisecond)
	// Give a stray fourth attempt the chance to show up.
	time.Sleep(4 * cfg.BaseDelay)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, attempts, 3, "exactly three attempts")
	assert.GreaterOrEqual(t, attempts[1].Sub(attempts[0]), cfg.Backoff(1))
	assert.GreaterOrEqual(t, attempts[2].Sub(attempts[1]), cfg.Backoff(2))

	calls := rec.snapshot()
	require.Len(t, calls, 1, "exhaustion hook fires exactly once")
	assert.Equal(t, id, calls[0].Delivery.TaskID)
	assert.Equal(t, 3, calls[0].Delivery.Attempt)
	assert.Equal(t, OutcomeRetryable, calls[0].Outcome)
	assert.ErrorIs(t, calls[0].Err, remoteErr)
}

func TestMemoryQueue_DeferredKeepsAttempt(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue(fastConfig(), testLogger())
	defer q.Shutdown()

	const deferrals = 5
	var (
		mu         sync.Mutex
		deliveries []Delivery
	)
	done := make(chan struct{})
	rec := &exhaustRecorder{}
	require.NoError(t, q.Start(HandlerFunc(func(ctx context.Context, d Delivery) Result {
		mu.Lock()
		deliveries = append(deliveries, d)
		n := len(deliveries)
		mu.Unlock()
		if n <= deferrals {
			return Deferred(10*time.Millisecond, errors.New("lease held"))
		}
		close(done)
		return Success()
	}), rec.hook))

	id := uuid.New()
	require.NoError(t, q.Enqueue(context.Background(), id))
	assert.ErrorIs(t, q.Enqueue(context.Background(), id), ErrAlreadyQueued)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("deferred delivery was not redelivered")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, deliveries, deferrals+1)
	for _, d := range deliveries {
		assert.Equal(t, 1, d.Attempt)
	}
	assert.Empty(t, rec.snapshot())
}

func TestMemoryQueue_FatalIsNotRetried(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue(fastConfig(), testLogger())
	defer q.Shutdown()

	var calls atomic.Int32
	rec := &exhaustRecorder{}
	require.NoError(t, q.Start(HandlerFunc(func(ctx context.Context, d Delivery) Result {
		calls.Add(1)
		return Fatal(errors.New("content blocked"))
	}), rec.hook))

	require.NoError(t, q.Enqueue(context.Background(), uuid.New()))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, OutcomeFatal, rec.snapshot()[0].Outcome)
}

func TestMemoryQueue_PanicIsRetryable(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue(fastConfig(), testLogger())
	defer q.Shutdown()

	var calls atomic.Int32
	done := make(chan struct{})
	require.NoError(t, q.Start(HandlerFunc(func(ctx context.Context, d Delivery) Result {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		close(done)
		return Success()
	}), nil))

	require.NoError(t, q.Enqueue(context.Background(), uuid.New()))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("panicking delivery was not retried")
	}
}

func TestMemoryQueue_ConcurrencyOneNeverOverlaps(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue(fastConfig(), testLogger())
	defer q.Shutdown()

	var (
		inFlight    atomic.Int32
		maxInFlight atomic.Int32
		processed   atomic.Int32
	)
	require.NoError(t, q.Start(HandlerFunc(func(ctx context.Context, d Delivery) Result {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		processed.Add(1)
		return Success()
	}), nil))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, q.Enqueue(context.Background(), uuid.New()))
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return processed.Load() == 10 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestMemoryQueue_EnqueueErrors(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.Capacity = 1
	q := NewMemoryQueue(cfg, testLogger())

	id := uuid.New()
	require.NoError(t, q.Enqueue(context.Background(), id))
	assert.Equal(t, 1, q.Len())

	assert.ErrorIs(t, q.Enqueue(context.Background(), id), ErrAlreadyQueued)
	assert.ErrorIs(t, q.Enqueue(context.Background(), uuid.New()), ErrQueueFull)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, q.Enqueue(ctx, uuid.New()), context.Canceled)

	q.Shutdown()
	assert.ErrorIs(t, q.Enqueue(context.Background(), uuid.New()), ErrQueueClosed)
	assert.ErrorIs(t, q.Start(HandlerFunc(func(context.Context, Delivery) Result { return Success() }), nil), ErrQueueClosed)
}

func TestMemoryQueue_WithDelayAndMaxAttempts(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue(fastConfig(), testLogger())
	defer q.Shutdown()

	got := make(chan Delivery, 1)
	require.NoError(t, q.Start(HandlerFunc(func(ctx context.Context, d Delivery) Result {
		got <- d
		return Success()
	}), nil))

	start := time.Now()
	require.NoError(t, q.Enqueue(context.Background(), uuid.New(),
		WithDelay(100*time.Millisecond), WithMaxAttempts(5)))

	select {
	case d := <-got:
		assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
		assert.Equal(t, 5, d.MaxAttempts)
	case <-time.After(2 * time.Second):
		t.Fatal("delayed task was not delivered")
	}
}
