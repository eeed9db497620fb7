package task

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ErrAlreadyRegistered is returned when a job id is registered twice.
var ErrAlreadyRegistered = errors.New("job already registered")

// runningJob is the in-memory handle of one executing job.
type runningJob struct {
	ownerID uuid.UUID
	token   *CancellationToken
	cancel  context.CancelFunc
	done    chan struct{}

	// requested is set by the Cancel call that owns the cancelled transition.
	requested atomic.Bool
	// cancelled is set once the execution itself has written the cancelled state.
	cancelled atomic.Bool
}

// Registry tracks the jobs running in this process.
// It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*runningJob
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[uuid.UUID]*runningJob)}
}

func (r *Registry) register(id uuid.UUID, job *runningJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; ok {
		return ErrAlreadyRegistered
	}
	r.jobs[id] = job
	return nil
}

func (r *Registry) get(id uuid.UUID) (*runningJob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	return job, ok
}

func (r *Registry) remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}

func (r *Registry) snapshot() map[uuid.UUID]*runningJob {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[uuid.UUID]*runningJob, len(r.jobs))
	for id, job := range r.jobs {
		out[id] = job
	}
	return out
}

// Contains reports whether id is currently running.
func (r *Registry) Contains(id uuid.UUID) bool {
	_, ok := r.get(id)
	return ok
}

// Len returns the number of running jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
