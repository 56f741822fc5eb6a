package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// TypeAnalyze is the asynq task type for resume analysis entries.
const TypeAnalyze = "application:analyze"

type asynqPayload struct {
	TaskID uuid.UUID `json:"task_id"`
}

// outcomeError carries the handler outcome through asynq's error-only
// handler contract so the error handler can report it.
type outcomeError struct {
	outcome Outcome
	err     error
	delay   time.Duration
}

func (e *outcomeError) Error() string {
	return fmt.Sprintf("%s: %v", e.outcome, e.err)
}

func (e *outcomeError) Unwrap() error { return e.err }

func asDeferred(err error) (*outcomeError, bool) {
	var oe *outcomeError
	if errors.As(err, &oe) && oe.outcome == OutcomeDeferred {
		return oe, true
	}
	return nil, false
}

// isFailure keeps deferred deliveries from incrementing asynq's retry
// counter.
func isFailure(err error) bool {
	_, deferred := asDeferred(err)
	return err != nil && !deferred
}

// AsynqQueue is the Redis-backed Queue. Entries survive process restarts and
// can be consumed by any number of worker processes.
type AsynqQueue struct {
	cfg      Config
	redisOpt asynq.RedisConnOpt
	client   *asynq.Client
	logger   *slog.Logger

	mu     sync.Mutex
	server *asynq.Server
}

var _ Queue = (*AsynqQueue)(nil)

// NewAsynqQueue creates the producer side immediately; the consumer side is
// created by Start.
func NewAsynqQueue(redisOpt asynq.RedisConnOpt, cfg Config, logger *slog.Logger) *AsynqQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &AsynqQueue{
		cfg:      cfg.withDefaults(),
		redisOpt: redisOpt,
		client:   asynq.NewClient(redisOpt),
		logger:   logger.With(slog.String("component", "asynq_queue")),
	}
}

// Enqueue implements Enqueuer. The asynq task ID equals the task record ID,
// so a reference already waiting in Redis is reported as ErrAlreadyQueued.
func (q *AsynqQueue) Enqueue(ctx context.Context, taskID uuid.UUID, opts ...EnqueueOption) error {
	o := buildEnqueueOptions(q.cfg, opts)

	payload, err := json.Marshal(asynqPayload{TaskID: taskID})
	if err != nil {
		return fmt.Errorf("failed to encode queue payload: %w", err)
	}

	asynqOpts := []asynq.Option{
		asynq.Queue(q.cfg.Name),
		asynq.MaxRetry(o.maxAttempts - 1),
		asynq.Timeout(q.cfg.DeliveryTimeout),
		asynq.TaskID(taskID.String()),
	}
	if o.delay > 0 {
		asynqOpts = append(asynqOpts, asynq.ProcessIn(o.delay))
	}

	info, err := q.client.EnqueueContext(ctx, asynq.NewTask(TypeAnalyze, payload), asynqOpts...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return fmt.Errorf("%w: %s", ErrAlreadyQueued, taskID)
		}
		return fmt.Errorf("failed to enqueue task %s: %w", taskID, err)
	}

	q.logger.Debug("task enqueued",
		slog.String("task_id", taskID.String()),
		slog.String("queue", info.Queue),
		slog.Int("max_attempts", o.maxAttempts))
	return nil
}

// Start implements Queue.
func (q *AsynqQueue) Start(h Handler, onExhausted ExhaustedFunc) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.server != nil {
		return errors.New("queue consumer already started")
	}

	server := asynq.NewServer(q.redisOpt, asynq.Config{
		Concurrency:              q.cfg.Concurrency,
		Queues:                   map[string]int{q.cfg.Name: 1},
		RetryDelayFunc:           q.retryDelay,
		IsFailure:                isFailure,
		ErrorHandler:             asynq.ErrorHandlerFunc(q.errorHandler(onExhausted)),
		Logger:                   &asynqLogger{logger: q.logger},
		DelayedTaskCheckInterval: q.cfg.PollInterval,
		ShutdownTimeout:          q.cfg.DeliveryTimeout,
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeAnalyze, q.process(h))

	if err := server.Start(mux); err != nil {
		return fmt.Errorf("failed to start queue consumer: %w", err)
	}
	q.server = server

	q.logger.Info("queue consumer started",
		slog.String("queue", q.cfg.Name),
		slog.Int("concurrency", q.cfg.Concurrency),
		slog.Int("max_attempts", q.cfg.MaxAttempts),
		slog.Duration("base_delay", q.cfg.BaseDelay))
	return nil
}

func (q *AsynqQueue) retryDelay(n int, err error, _ *asynq.Task) time.Duration {
	if oe, ok := asDeferred(err); ok {
		return oe.delay
	}
	// n counts retries already made, so the first failure has n == 0.
	return q.cfg.Backoff(n + 1)
}

func (q *AsynqQueue) process(h Handler) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, t *asynq.Task) error {
		var p asynqPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil || p.TaskID == uuid.Nil {
			return fmt.Errorf("%w: malformed payload: %w", asynq.SkipRetry,
				&outcomeError{outcome: OutcomeFatal, err: errors.New("missing task id")})
		}

		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		d := Delivery{TaskID: p.TaskID, Attempt: retried + 1, MaxAttempts: maxRetry + 1}

		res := h.Handle(ctx, d)
		switch res.Outcome {
		case OutcomeSuccess:
			return nil
		case OutcomeFatal:
			err := res.Err
			if err == nil {
				err = errors.New("fatal failure")
			}
			return fmt.Errorf("%w: %w", asynq.SkipRetry, &outcomeError{outcome: OutcomeFatal, err: err})
		case OutcomeDeferred:
			err := res.Err
			if err == nil {
				err = errors.New("delivery deferred")
			}
			delay := res.Delay
			if delay <= 0 {
				delay = q.cfg.BaseDelay
			}
			deferred := &outcomeError{outcome: OutcomeDeferred, err: err, delay: delay}
			if retried >= maxRetry {
				// asynq archives an entry that fails on its last retry even when
				// the failure is not counted. Revoke it instead; the record is
				// left for the sweeper.
				return fmt.Errorf("%w: %w", asynq.RevokeTask, deferred)
			}
			return deferred
		default:
			err := res.Err
			if err == nil {
				err = errors.New("retryable failure")
			}
			return &outcomeError{outcome: OutcomeRetryable, err: err}
		}
	}
}

func (q *AsynqQueue) errorHandler(onExhausted ExhaustedFunc) func(context.Context, *asynq.Task, error) {
	return func(ctx context.Context, t *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)

		outcome := OutcomeRetryable
		var oe *outcomeError
		if errors.As(err, &oe) {
			outcome = oe.outcome
		}

		var p asynqPayload
		_ = json.Unmarshal(t.Payload(), &p)

		log := q.logger.With(
			slog.String("task_id", p.TaskID.String()),
			slog.Int("attempt", retried+1),
			slog.Int("max_attempts", maxRetry+1),
			slog.String("outcome", outcome.String()),
		)

		if oe != nil && oe.outcome == OutcomeDeferred {
			if errors.Is(err, asynq.RevokeTask) {
				log.Warn("delivery deferred on last attempt, entry revoked", slog.String("error", err.Error()))
				return
			}
			log.Info("delivery deferred",
				slog.Duration("retry_in", oe.delay),
				slog.String("error", err.Error()))
			return
		}

		final := retried >= maxRetry || errors.Is(err, asynq.SkipRetry)
		if !final {
			log.Warn("delivery failed, retry scheduled",
				slog.Duration("retry_in", q.cfg.Backoff(retried+1)),
				slog.String("error", err.Error()))
			return
		}

		log.Error("delivery abandoned", slog.String("error", err.Error()))
		if onExhausted == nil || p.TaskID == uuid.Nil {
			return
		}

		hookErr := err
		if oe != nil {
			hookErr = oe.err
		}
		onExhausted(context.WithoutCancel(ctx), Exhaustion{
			Delivery: Delivery{TaskID: p.TaskID, Attempt: retried + 1, MaxAttempts: maxRetry + 1},
			Outcome:  outcome,
			Err:      hookErr,
		})
	}
}

// Shutdown implements Queue.
func (q *AsynqQueue) Shutdown() {
	q.mu.Lock()
	server := q.server
	q.server = nil
	q.mu.Unlock()

	if server != nil {
		server.Shutdown()
		q.logger.Info("queue consumer stopped")
	}
}

// Close implements Queue.
func (q *AsynqQueue) Close() error {
	return q.client.Close()
}

// asynqLogger forwards asynq's internal logging to slog.
type asynqLogger struct {
	logger *slog.Logger
}

func (l *asynqLogger) Debug(args ...any) { l.logger.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...any)  { l.logger.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...any)  { l.logger.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...any) { l.logger.Error(fmt.Sprint(args...)) }

// Fatal logs at error level and leaves exiting to the caller.
func (l *asynqLogger) Fatal(args ...any) { l.logger.Error(fmt.Sprint(args...)) }
