package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/jobfit-api/internal/domain"
	"github.com/phrazzld/jobfit-api/internal/store"
)

// MockTaskStore is an in-memory store.TaskStore. Tasks are copied on the way
// in and out so callers never share state with the store.
type MockTaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.Task

	// Optional overrides. Returning a nil error from a *Fn does not fall
	// through to the default behavior.
	CreateFn       func(ctx context.Context, task *domain.Task) error
	GetByIDFn      func(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	UpdateFn       func(ctx context.Context, id uuid.UUID, patch store.TaskPatch) (*domain.Task, error)
	FindByStatusFn func(ctx context.Context, status domain.TaskStatus, before time.Time, limit int) ([]*domain.Task, error)

	// Now stamps UpdatedAt on updates. Defaults to time.Now.
	Now func() time.Time

	calls struct {
		create, getByID, update int
		updates                 []store.TaskPatch
	}
}

// NewMockTaskStore creates an empty MockTaskStore.
func NewMockTaskStore() *MockTaskStore {
	return &MockTaskStore{tasks: make(map[uuid.UUID]*domain.Task)}
}

var _ store.TaskStore = (*MockTaskStore)(nil)

// Create implements store.TaskStore.
func (m *MockTaskStore) Create(ctx context.Context, task *domain.Task) error {
	m.mu.Lock()
	m.calls.create++
	m.mu.Unlock()

	if m.CreateFn != nil {
		return m.CreateFn(ctx, task)
	}
	return m.Put(task)
}

// Put stores a copy of task, bypassing CreateFn. Used to seed tests.
func (m *MockTaskStore) Put(task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return store.ErrInvalidEntity
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tasks == nil {
		m.tasks = make(map[uuid.UUID]*domain.Task)
	}
	if _, ok := m.tasks[task.ID]; ok {
		return store.ErrDuplicate
	}
	m.tasks[task.ID] = cloneTask(task)
	return nil
}

// GetByID implements store.TaskStore.
func (m *MockTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	m.mu.Lock()
	m.calls.getByID++
	m.mu.Unlock()

	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}
	return m.Get(id)
}

// Get returns a copy of the stored task, bypassing GetByIDFn.
func (m *MockTaskStore) Get(id uuid.UUID) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return cloneTask(task), nil
}

// Update implements store.TaskStore.
func (m *MockTaskStore) Update(ctx context.Context, id uuid.UUID, patch store.TaskPatch) (*domain.Task, error) {
	m.mu.Lock()
	m.calls.update++
	m.calls.updates = append(m.calls.updates, patch)
	m.mu.Unlock()

	if m.UpdateFn != nil {
		return m.UpdateFn(ctx, id, patch)
	}
	return m.ApplyPatch(id, patch)
}

// ApplyPatch runs the default update logic, bypassing UpdateFn.
func (m *MockTaskStore) ApplyPatch(id uuid.UUID, patch store.TaskPatch) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	updated := cloneTask(current)
	if err := patch.Apply(updated, m.now()); err != nil {
		return nil, err
	}
	m.tasks[id] = updated
	return cloneTask(updated), nil
}

// FindByStatus implements store.TaskStore.
func (m *MockTaskStore) FindByStatus(
	ctx context.Context,
	status domain.TaskStatus,
	updatedBefore time.Time,
	limit int,
) ([]*domain.Task, error) {
	if m.FindByStatusFn != nil {
		return m.FindByStatusFn(ctx, status, updatedBefore, limit)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var found []*domain.Task
	for _, task := range m.tasks {
		if task.Status == status && task.UpdatedAt.Before(updatedBefore) {
			found = append(found, cloneTask(task))
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].UpdatedAt.Before(found[j].UpdatedAt) })
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	return found, nil
}

// CreateCalls returns how many times Create was called.
func (m *MockTaskStore) CreateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls.create
}

// UpdateCalls returns the patches passed to Update, in order.
func (m *MockTaskStore) UpdateCalls() []store.TaskPatch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.TaskPatch(nil), m.calls.updates...)
}

func (m *MockTaskStore) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now().UTC()
}

func cloneTask(t *domain.Task) *domain.Task {
	c := *t
	if t.Result != nil {
		r := *t.Result
		r.WeakSkills = append([]string(nil), t.Result.WeakSkills...)
		r.SuggestedImprovements = append([]string(nil), t.Result.SuggestedImprovements...)
		r.SuggestedCourses = append([]string(nil), t.Result.SuggestedCourses...)
		c.Result = &r
	}
	if t.StartedAt != nil {
		s := *t.StartedAt
		c.StartedAt = &s
	}
	if t.CompletedAt != nil {
		d := *t.CompletedAt
		c.CompletedAt = &d
	}
	return &c
}
