package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/adlens/internal/domain"
)

// JobEvent describes one status transition of a background job.
type JobEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	JobID    uuid.UUID        `json:"job_id"`
	OwnerID  uuid.UUID        `json:"owner_id"`
	JobType  domain.JobType   `json:"job_type"`
	Status   domain.JobStatus `json:"status"`
	Progress int              `json:"progress"`
	Message  string           `json:"message"`

	// OccurredAt is the timestamp when the transition happened
	OccurredAt time.Time `json:"occurred_at"`
}

// NewJobEvent creates a JobEvent from the given record's current state.
func NewJobEvent(job *domain.JobRecord) *JobEvent {
	return &JobEvent{
		ID:         uuid.New(),
		JobID:      job.ID,
		OwnerID:    job.OwnerID,
		JobType:    job.JobType,
		Status:     job.Status,
		Progress:   job.Progress,
		Message:    job.Message,
		OccurredAt: time.Now().UTC(),
	}
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *JobEvent) error
}

// EventEmitter defines an interface for components that can emit events.
// This allows the job manager to publish transitions without direct knowledge of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	// Returns an error if the event cannot be emitted.
	EmitEvent(ctx context.Context, event *JobEvent) error
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, event *JobEvent) error

// HandleEvent calls f.
func (f EventHandlerFunc) HandleEvent(ctx context.Context, event *JobEvent) error {
	return f(ctx, event)
}

// NopEmitter discards every event.
type NopEmitter struct{}

// EmitEvent implements EventEmitter.
func (NopEmitter) EmitEvent(context.Context, *JobEvent) error { return nil }
