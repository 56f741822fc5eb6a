package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	taskID      uuid.UUID
	attempt     int
	maxAttempts int
}

// MemoryQueue is an in-process Queue. Entries live in a buffered channel
// consumed by Concurrency worker goroutines; failed entries are re-added
// after their backoff with time.AfterFunc. Nothing survives a restart, so
// the recovery sweep re-enqueues orphaned records on the next start.
type MemoryQueue struct {
	cfg     Config
	entries chan memoryEntry
	logger  *slog.Logger

	mu      sync.Mutex
	closed  bool
	started bool
	active  map[uuid.UUID]struct{}
	timers  map[uuid.UUID]*time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue creates a MemoryQueue with room for cfg.Capacity waiting
// entries.
func NewMemoryQueue(cfg Config, logger *slog.Logger) *MemoryQueue {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &MemoryQueue{
		cfg:     cfg,
		entries: make(chan memoryEntry, cfg.Capacity),
		logger:  logger.With(slog.String("component", "memory_queue")),
		active:  make(map[uuid.UUID]struct{}),
		timers:  make(map[uuid.UUID]*time.Timer),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Enqueue implements Enqueuer. A reference that is already waiting, running
// or scheduled for retry is reported as ErrAlreadyQueued.
func (q *MemoryQueue) Enqueue(ctx context.Context, taskID uuid.UUID, opts ...EnqueueOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o := buildEnqueueOptions(q.cfg, opts)

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if _, ok := q.active[taskID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyQueued, taskID)
	}

	entry := memoryEntry{taskID: taskID, attempt: 1, maxAttempts: o.maxAttempts}
	if o.delay > 0 {
		q.active[taskID] = struct{}{}
		q.scheduleLocked(entry, o.delay)
		return nil
	}

	select {
	case q.entries <- entry:
		q.active[taskID] = struct{}{}
		q.logger.Debug("task enqueued",
			slog.String("task_id", taskID.String()),
			slog.Int("queue_len", len(q.entries)),
			slog.Int("queue_cap", cap(q.entries)))
		return nil
	default:
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, cap(q.entries))
	}
}

// scheduleLocked re-adds entry after delay. q.mu must be held.
func (q *MemoryQueue) scheduleLocked(entry memoryEntry, delay time.Duration) {
	q.timers[entry.taskID] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()

		delete(q.timers, entry.taskID)
		if q.closed {
			delete(q.active, entry.taskID)
			return
		}
		select {
		case q.entries <- entry:
		default:
			delete(q.active, entry.taskID)
			q.logger.Error("dropping retry, queue is full",
				slog.String("task_id", entry.taskID.String()),
				slog.Int("attempt", entry.attempt))
		}
	})
}

// Start implements Queue.
func (q *MemoryQueue) Start(h Handler, onExhausted ExhaustedFunc) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.started {
		return errors.New("queue consumer already started")
	}
	q.started = true

	for i := 0; i < q.cfg.Concurrency; i++ {
		q.wg.Add(1)
		go q.worker(i, h, onExhausted)
	}

	q.logger.Info("queue consumer started",
		slog.Int("concurrency", q.cfg.Concurrency),
		slog.Int("max_attempts", q.cfg.MaxAttempts),
		slog.Duration("base_delay", q.cfg.BaseDelay))
	return nil
}

func (q *MemoryQueue) worker(id int, h Handler, onExhausted ExhaustedFunc) {
	defer q.wg.Done()

	q.logger.Debug("starting worker", slog.Int("worker_id", id))
	for {
		select {
		case <-q.ctx.Done():
			q.logger.Debug("stopping worker", slog.Int("worker_id", id))
			return
		case entry := <-q.entries:
			if q.ctx.Err() != nil {
				return
			}
			q.deliver(entry, h, onExhausted)
		}
	}
}

func (q *MemoryQueue) deliver(entry memoryEntry, h Handler, onExhausted ExhaustedFunc) {
	d := Delivery{TaskID: entry.taskID, Attempt: entry.attempt, MaxAttempts: entry.maxAttempts}
	log := q.logger.With(
		slog.String("task_id", d.TaskID.String()),
		slog.Int("attempt", d.Attempt),
		slog.Int("max_attempts", d.MaxAttempts),
	)

	res := q.invoke(h, d)

	if res.Outcome == OutcomeSuccess {
		q.release(entry.taskID)
		return
	}

	err := res.Err
	if err == nil {
		err = errors.New(res.Outcome.String() + " failure")
	}

	if res.Outcome == OutcomeDeferred {
		delay := res.Delay
		if delay <= 0 {
			delay = q.cfg.BaseDelay
		}
		log.Info("delivery deferred",
			slog.Duration("retry_in", delay),
			slog.String("error", err.Error()))
		q.reschedule(entry, delay)
		return
	}

	if res.Outcome == OutcomeRetryable && !d.IsLastAttempt() {
		delay := q.cfg.Backoff(d.Attempt)
		log.Warn("delivery failed, retry scheduled",
			slog.Duration("retry_in", delay),
			slog.String("error", err.Error()))

		next := entry
		next.attempt++
		q.reschedule(next, delay)
		return
	}

	log.Error("delivery abandoned",
		slog.String("outcome", res.Outcome.String()),
		slog.String("error", err.Error()))
	q.release(entry.taskID)

	if onExhausted != nil {
		onExhausted(context.Background(), Exhaustion{Delivery: d, Outcome: res.Outcome, Err: err})
	}
}

// reschedule re-adds entry after delay unless the queue has been shut down.
func (q *MemoryQueue) reschedule(entry memoryEntry, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		delete(q.active, entry.taskID)
		return
	}
	q.scheduleLocked(entry, delay)
}

// invoke runs h with the delivery timeout and turns a panic into a
// retryable failure.
func (q *MemoryQueue) invoke(h Handler, d Delivery) (res Result) {
	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.DeliveryTimeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			res = Retryable(fmt.Errorf("handler panic: %v", p))
		}
	}()

	return h.Handle(ctx, d)
}

func (q *MemoryQueue) release(taskID uuid.UUID) {
	q.mu.Lock()
	delete(q.active, taskID)
	q.mu.Unlock()
}

// Len returns the number of entries waiting for a worker.
func (q *MemoryQueue) Len() int {
	return len(q.entries)
}

// Shutdown implements Queue. In-flight deliveries finish; scheduled retries
// and waiting entries are discarded.
func (q *MemoryQueue) Shutdown() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for id, timer := range q.timers {
		timer.Stop()
		delete(q.timers, id)
	}
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	q.logger.Info("task queue closed", slog.Int("discarded", len(q.entries)))
}

// Close implements Queue.
func (q *MemoryQueue) Close() error {
	q.Shutdown()
	return nil
}
