package mocks

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/adlens/internal/domain"
	"github.com/phrazzld/adlens/internal/store"
)

// MockJobStore is an in-memory store.JobStore that follows the same
// conditional-update rules as the Postgres implementation.
// Any ...Fn field that is set replaces the in-memory behavior.
type MockJobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*domain.JobRecord

	// progress records every persisted progress value per job, in order.
	progress map[uuid.UUID][]int

	CreateFn       func(ctx context.Context, job *domain.JobRecord) (uuid.UUID, error)
	UpdateFn       func(ctx context.Context, id uuid.UUID, update domain.JobUpdate) (bool, error)
	FindFn         func(ctx context.Context, id, ownerID uuid.UUID) (*domain.JobRecord, error)
	ListFn         func(ctx context.Context, ownerID uuid.UUID, limit int) ([]*domain.JobRecord, error)
	ListByStatusFn func(ctx context.Context, statuses ...domain.JobStatus) ([]*domain.JobRecord, error)
	DeleteManyFn   func(ctx context.Context, filter store.JobFilter) (int64, error)
}

var _ store.JobStore = (*MockJobStore)(nil)

// NewMockJobStore returns an empty in-memory store.
func NewMockJobStore() *MockJobStore {
	return &MockJobStore{
		jobs:     make(map[uuid.UUID]*domain.JobRecord),
		progress: make(map[uuid.UUID][]int),
	}
}

// Create implements store.JobStore.
func (m *MockJobStore) Create(ctx context.Context, job *domain.JobRecord) (uuid.UUID, error) {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, job)
	}
	if err := job.Validate(); err != nil {
		return uuid.Nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return uuid.Nil, store.ErrDuplicate
	}
	m.jobs[job.ID] = cloneJob(job)
	m.progress[job.ID] = []int{job.Progress}
	return job.ID, nil
}

// Update implements store.JobStore.
func (m *MockJobStore) Update(ctx context.Context, id uuid.UUID, update domain.JobUpdate) (bool, error) {
	if m.UpdateFn != nil {
		return m.UpdateFn(ctx, id, update)
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return false, store.ErrJobNotFound
	}
	applied := update.Apply(job)
	if applied && update.Progress != nil {
		m.progress[id] = append(m.progress[id], job.Progress)
	}
	return applied, nil
}

// Find implements store.JobStore.
func (m *MockJobStore) Find(ctx context.Context, id, ownerID uuid.UUID) (*domain.JobRecord, error) {
	if m.FindFn != nil {
		return m.FindFn(ctx, id, ownerID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.OwnerID != ownerID {
		return nil, store.ErrJobNotFound
	}
	return cloneJob(job), nil
}

// List implements store.JobStore.
func (m *MockJobStore) List(ctx context.Context, ownerID uuid.UUID, limit int) ([]*domain.JobRecord, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, ownerID, limit)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.JobRecord
	for _, job := range m.jobs {
		if job.OwnerID == ownerID {
			out = append(out, cloneJob(job))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListByStatus implements store.JobStore.
func (m *MockJobStore) ListByStatus(ctx context.Context, statuses ...domain.JobStatus) ([]*domain.JobRecord, error) {
	if m.ListByStatusFn != nil {
		return m.ListByStatusFn(ctx, statuses...)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.JobRecord
	for _, job := range m.jobs {
		if containsStatus(statuses, job.Status) {
			out = append(out, cloneJob(job))
		}
	}
	return out, nil
}

// DeleteMany implements store.JobStore.
func (m *MockJobStore) DeleteMany(ctx context.Context, filter store.JobFilter) (int64, error) {
	if m.DeleteManyFn != nil {
		return m.DeleteManyFn(ctx, filter)
	}
	if len(filter.Statuses) == 0 && filter.CreatedBefore.IsZero() {
		return 0, store.ErrInvalidEntity
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for id, job := range m.jobs {
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, job.Status) {
			continue
		}
		if !filter.CreatedBefore.IsZero() && !job.CreatedAt.Before(filter.CreatedBefore) {
			continue
		}
		delete(m.jobs, id)
		delete(m.progress, id)
		count++
	}
	return count, nil
}

// Put stores job as-is, bypassing validation. Useful for seeding state.
func (m *MockJobStore) Put(job *domain.JobRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = cloneJob(job)
	m.progress[job.ID] = []int{job.Progress}
}

// Get returns a copy of the stored record regardless of owner.
func (m *MockJobStore) Get(id uuid.UUID) (*domain.JobRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, false
	}
	return cloneJob(job), true
}

// ProgressHistory returns every progress value persisted for id.
func (m *MockJobStore) ProgressHistory(id uuid.UUID) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.progress[id]...)
}

// Len returns the number of stored records.
func (m *MockJobStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

func containsStatus(statuses []domain.JobStatus, status domain.JobStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func cloneJob(job *domain.JobRecord) *domain.JobRecord {
	c := *job
	if job.Parameters != nil {
		c.Parameters = make(map[string]any, len(job.Parameters))
		for k, v := range job.Parameters {
			c.Parameters[k] = v
		}
	}
	if job.ItemErrors != nil {
		c.ItemErrors = append([]domain.ItemError(nil), job.ItemErrors...)
	}
	return &c
}
