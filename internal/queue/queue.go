package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Common errors returned by queue implementations.
var (
	ErrQueueClosed   = errors.New("task queue is closed")
	ErrQueueFull     = errors.New("task queue is full")
	ErrAlreadyQueued = errors.New("task is already queued")
)

// Outcome tells the queue what to do with an entry after a delivery.
type Outcome int

const (
	// OutcomeSuccess discards the entry.
	OutcomeSuccess Outcome = iota
	// OutcomeRetryable reschedules the entry if attempts remain.
	OutcomeRetryable
	// OutcomeFatal drops the entry immediately.
	OutcomeFatal
	// OutcomeDeferred redelivers the same attempt after Result.Delay. It does
	// not count against MaxAttempts and never exhausts the entry.
	OutcomeDeferred
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeFatal:
		return "fatal"
	case OutcomeDeferred:
		return "deferred"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is what a Handler returns for one delivery.
type Result struct {
	Outcome Outcome
	Err     error
	// Delay is only read for OutcomeDeferred.
	Delay time.Duration
}

// Success reports a completed delivery.
func Success() Result { return Result{Outcome: OutcomeSuccess} }

// Retryable reports a failure that may succeed on a later attempt.
func Retryable(err error) Result { return Result{Outcome: OutcomeRetryable, Err: err} }

// Fatal reports a failure no retry can fix.
func Fatal(err error) Result { return Result{Outcome: OutcomeFatal, Err: err} }

// Deferred reports that the delivery could not start yet, for example because
// another worker holds the task. The same attempt is delivered again after
// delay.
func Deferred(delay time.Duration, err error) Result {
	return Result{Outcome: OutcomeDeferred, Err: err, Delay: delay}
}

// Delivery is one attempt at processing a queued task reference.
type Delivery struct {
	TaskID uuid.UUID
	// Attempt is 1-based.
	Attempt     int
	MaxAttempts int
}

// IsLastAttempt reports whether a retryable failure of this delivery
// exhausts the entry.
func (d Delivery) IsLastAttempt() bool {
	return d.Attempt >= d.MaxAttempts
}

// Handler processes deliveries. Handlers must not panic; a panic is treated
// as a retryable failure.
type Handler interface {
	Handle(ctx context.Context, d Delivery) Result
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, d Delivery) Result

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, d Delivery) Result {
	return f(ctx, d)
}

// Exhaustion describes an entry the queue gave up on.
type Exhaustion struct {
	Delivery Delivery
	Outcome  Outcome
	Err      error
}

// ExhaustedFunc is called exactly once per abandoned entry.
type ExhaustedFunc func(ctx context.Context, e Exhaustion)

// Config controls delivery and retry.
type Config struct {
	// Name is the queue (or asynq queue) name entries are written to.
	Name string
	// MaxAttempts is the total number of deliveries, including the first.
	MaxAttempts int
	// BaseDelay is the wait after the first failed attempt.
	BaseDelay time.Duration
	// Concurrency is the number of deliveries processed at once per process.
	Concurrency int
	// DeliveryTimeout bounds a single delivery.
	DeliveryTimeout time.Duration
	// Capacity bounds the in-memory backlog. Ignored by AsynqQueue.
	Capacity int
	// PollInterval is how often scheduled retries are promoted. Ignored by
	// MemoryQueue.
	PollInterval time.Duration
}

// DefaultConfig returns the production retry policy: three attempts with
// retries at +3s and +6s, one delivery at a time.
func DefaultConfig() Config {
	return Config{
		Name:            "application-processing",
		MaxAttempts:     3,
		BaseDelay:       3 * time.Second,
		Concurrency:     1,
		DeliveryTimeout: 2 * time.Minute,
		Capacity:        1024,
		PollInterval:    time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = d.DeliveryTimeout
	}
	if c.Capacity <= 0 {
		c.Capacity = d.Capacity
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	return c
}

// Backoff returns the delay before retrying after failed attempt number
// attempt (1-based): BaseDelay * 2^(attempt-1).
func (c Config) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Cap the shift so large attempt counts cannot overflow.
	shift := attempt - 1
	if shift > 30 {
		shift = 30
	}
	return c.BaseDelay * time.Duration(1<<uint(shift))
}

// EnqueueOption customizes a single Enqueue call.
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	delay       time.Duration
	maxAttempts int
}

// WithDelay postpones the first delivery.
func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) { o.delay = d }
}

// WithMaxAttempts overrides Config.MaxAttempts for one entry.
func WithMaxAttempts(n int) EnqueueOption {
	return func(o *enqueueOptions) { o.maxAttempts = n }
}

func buildEnqueueOptions(cfg Config, opts []EnqueueOption) enqueueOptions {
	o := enqueueOptions{maxAttempts: cfg.MaxAttempts}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxAttempts <= 0 {
		o.maxAttempts = cfg.MaxAttempts
	}
	return o
}

// Enqueuer appends task references. Callers must persist the task record
// before calling Enqueue.
type Enqueuer interface {
	Enqueue(ctx context.Context, taskID uuid.UUID, opts ...EnqueueOption) error
}

// Queue is a full backend: producer side plus consumer lifecycle.
type Queue interface {
	Enqueuer
	// Start begins delivering entries to h. onExhausted may be nil.
	Start(h Handler, onExhausted ExhaustedFunc) error
	// Shutdown stops delivery and waits for in-flight handlers.
	Shutdown()
	// Close releases producer resources.
	Close() error
}
