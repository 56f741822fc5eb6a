package lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryHold struct {
	token   uint64
	expires time.Time
}

// MemoryLocker implements Locker within one process.
type MemoryLocker struct {
	mu    sync.Mutex
	next  uint64
	holds map[string]memoryHold
	now   func() time.Time
}

var _ Locker = (*MemoryLocker)(nil)

// NewMemoryLocker creates an empty MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{holds: make(map[string]memoryHold), now: time.Now}
}

// Acquire implements Locker.
func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if h, ok := l.holds[key]; ok && now.Before(h.expires) {
		return nil, fmt.Errorf("%w: %s", ErrNotAcquired, key)
	}

	l.next++
	token := l.next
	l.holds[key] = memoryHold{token: token, expires: now.Add(ttl)}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if h, ok := l.holds[key]; ok && h.token == token {
			delete(l.holds, key)
		}
		return nil
	}, nil
}
