package mocks

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/jobfit-api/internal/queue"
)

// MockEnqueuer implements queue.Enqueuer and records every enqueued ID.
type MockEnqueuer struct {
	// EnqueueFn allows test cases to mock the Enqueue behavior
	EnqueueFn func(ctx context.Context, taskID uuid.UUID, opts ...queue.EnqueueOption) error

	mu  sync.Mutex
	ids []uuid.UUID
}

var _ queue.Enqueuer = (*MockEnqueuer)(nil)

// Enqueue implements queue.Enqueuer.
func (m *MockEnqueuer) Enqueue(ctx context.Context, taskID uuid.UUID, opts ...queue.EnqueueOption) error {
	if m.EnqueueFn != nil {
		if err := m.EnqueueFn(ctx, taskID, opts...); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.ids = append(m.ids, taskID)
	m.mu.Unlock()
	return nil
}

// Enqueued returns the IDs accepted so far, in order.
func (m *MockEnqueuer) Enqueued() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.ids...)
}
