package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/adlens/internal/domain"
)

// JobFilter selects job records for bulk operations.
// Empty fields do not constrain the selection.
type JobFilter struct {
	Statuses      []domain.JobStatus
	CreatedBefore time.Time
}

// JobStore defines the interface for job record persistence.
// Version: 1.0
type JobStore interface {
	// Create saves a new job record and returns its ID.
	// Returns validation errors from the domain JobRecord if data is invalid.
	Create(ctx context.Context, job *domain.JobRecord) (uuid.UUID, error)

	// Update applies a partial update to a job record.
	// The update is skipped (applied=false) when the stored record is already
	// terminal. Progress is merged with the stored value and never decreases.
	// Returns ErrJobNotFound if the record does not exist.
	Update(ctx context.Context, id uuid.UUID, update domain.JobUpdate) (bool, error)

	// Find retrieves a job record owned by ownerID.
	// Returns ErrJobNotFound if the record does not exist or is owned by someone else.
	Find(ctx context.Context, id, ownerID uuid.UUID) (*domain.JobRecord, error)

	// List returns up to limit records owned by ownerID, newest first.
	List(ctx context.Context, ownerID uuid.UUID, limit int) ([]*domain.JobRecord, error)

	// ListByStatus returns every record in one of the given statuses regardless of owner.
	ListByStatus(ctx context.Context, statuses ...domain.JobStatus) ([]*domain.JobRecord, error)

	// DeleteMany removes every record matching filter and returns how many were deleted.
	DeleteMany(ctx context.Context, filter JobFilter) (int64, error)
}

// ResultStore defines the interface for persisting pipeline output.
// Version: 1.0
type ResultStore interface {
	// SaveRecords persists the final records produced by a job.
	// Records for an item already stored for the same owner and account are replaced.
	SaveRecords(ctx context.Context, jobID, ownerID uuid.UUID, records []domain.FinalRecord) error

	// CompletedItemIDs returns the IDs of items already analyzed for an owner's account.
	CompletedItemIDs(ctx context.Context, ownerID uuid.UUID, accountRef string) ([]string, error)
}
