// Package lock provides time-bounded exclusive claims on string keys. The
// worker uses them as leases on task IDs, and the cover letter path uses them
// to allow a single generation per task at a time.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotAcquired is returned when the key is held by someone else.
var ErrNotAcquired = errors.New("lock not acquired")

// ReleaseFunc gives up a held lock. Releasing a lock that already expired
// and was taken by another owner is a no-op.
type ReleaseFunc func(ctx context.Context) error

// Locker hands out exclusive, expiring locks.
type Locker interface {
	// Acquire takes key for ttl or fails with ErrNotAcquired.
	Acquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error)
}

// AcquireWait retries Acquire every poll interval until it succeeds, wait
// elapses or ctx is done.
func AcquireWait(
	ctx context.Context,
	l Locker,
	key string,
	ttl, wait, poll time.Duration,
) (ReleaseFunc, error) {
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	deadline := time.Now().Add(wait)

	for {
		release, err := l.Acquire(ctx, key, ttl)
		if err == nil {
			return release, nil
		}
		if !errors.Is(err, ErrNotAcquired) {
			return nil, err
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: %s held after waiting %s", ErrNotAcquired, key, wait)
		}

		timer := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// TaskKey is the lease key for a task record.
func TaskKey(taskID fmt.Stringer) string {
	return "lease:task:" + taskID.String()
}

// CoverLetterKey is the lock key for a task's cover letter generation.
func CoverLetterKey(taskID fmt.Stringer) string {
	return "lock:cover-letter:" + taskID.String()
}
