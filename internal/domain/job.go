package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a background job
type JobStatus string

// Possible job status values
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// JobType identifies the kind of work a job performs
type JobType string

// JobTypeMediaAnalysis is the multi-stage ad creative analysis pipeline.
const JobTypeMediaAnalysis JobType = "media_analysis"

// User-facing messages written on lifecycle transitions.
const (
	MessageJobQueued      = "Job queued"
	MessageJobStarted     = "Job started"
	MessageJobCompleted   = "Job completed"
	MessageJobCancelled   = "Job was cancelled"
	MessageJobInterrupted = "Job interrupted by server restart"
)

// Parameter keys understood by the media analysis job.
const (
	ParamAccountRef       = "account_ref"
	ParamAccessToken      = "access_token"
	ParamCompletedItemIDs = "completed_item_ids"
)

// Common validation errors for JobRecord
var (
	ErrEmptyJobID      = errors.New("job ID cannot be empty")
	ErrEmptyJobOwnerID = errors.New("job owner ID cannot be empty")
	ErrInvalidJobType  = errors.New("invalid job type")
	ErrInvalidProgress = errors.New("job progress must be between 0 and 100")
)

// ItemError records a single per-item failure (or the cancellation marker)
// produced by a pipeline stage.
type ItemError struct {
	Stage     string `json:"stage"`
	ItemID    string `json:"item_id,omitempty"`
	Message   string `json:"message"`
	Cancelled bool   `json:"cancelled,omitempty"`
}

// JobRecord is the persisted state of one background job.
// Once Status is terminal the record is never modified again.
type JobRecord struct {
	ID                       uuid.UUID      `json:"id"`
	OwnerID                  uuid.UUID      `json:"owner_id"`
	JobType                  JobType        `json:"job_type"`
	Status                   JobStatus      `json:"status"`
	Message                  string         `json:"message"`
	Progress                 int            `json:"progress"`
	Parameters               map[string]any `json:"parameters"`
	CreatedAt                time.Time      `json:"created_at"`
	StartedAt                *time.Time     `json:"started_at,omitempty"`
	CompletedAt              *time.Time     `json:"completed_at,omitempty"`
	ResultCount              *int           `json:"result_count,omitempty"`
	ErrorMessage             *string        `json:"error_message,omitempty"`
	ItemErrors               []ItemError    `json:"item_errors,omitempty"`
	EstimatedDurationSeconds *int           `json:"estimated_duration_seconds,omitempty"`
	ActualDurationSeconds    *int           `json:"actual_duration_seconds,omitempty"`
}

// NewJobRecord creates a pending JobRecord owned by ownerID.
// The parameters are stored as given; callers redact secrets beforehand.
func NewJobRecord(ownerID uuid.UUID, jobType JobType, params map[string]any) (*JobRecord, error) {
	job := &JobRecord{
		ID:         uuid.New(),
		OwnerID:    ownerID,
		JobType:    jobType,
		Status:     JobStatusPending,
		Message:    MessageJobQueued,
		Progress:   0,
		Parameters: params,
		CreatedAt:  time.Now().UTC(),
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}

	return job, nil
}

// Validate checks if the JobRecord has valid data.
func (j *JobRecord) Validate() error {
	if j.ID == uuid.Nil {
		return ErrEmptyJobID
	}

	if j.OwnerID == uuid.Nil {
		return ErrEmptyJobOwnerID
	}

	if j.JobType == "" {
		return ErrInvalidJobType
	}

	if !j.Status.Valid() {
		return ErrInvalidJobStatus
	}

	if j.Progress < 0 || j.Progress > 100 {
		return ErrInvalidProgress
	}

	return nil
}

// IsTerminal reports whether the record can no longer change.
func (j *JobRecord) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s is an absorbing state.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// TerminalStatuses lists every absorbing status.
func TerminalStatuses() []JobStatus {
	return []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled}
}

// ActiveStatuses lists every non-terminal status.
func ActiveStatuses() []JobStatus {
	return []JobStatus{JobStatusPending, JobStatusRunning}
}

// JobUpdate is a partial update to a JobRecord. Nil fields are left untouched.
type JobUpdate struct {
	Status                   *JobStatus
	Message                  *string
	Progress                 *int
	StartedAt                *time.Time
	CompletedAt              *time.Time
	ResultCount              *int
	ErrorMessage             *string
	ItemErrors               []ItemError
	EstimatedDurationSeconds *int
	ActualDurationSeconds    *int
}

// Apply merges the update into job following the store rules:
// terminal records are left unchanged and progress never decreases.
// It reports whether the update was applied.
func (u JobUpdate) Apply(job *JobRecord) bool {
	if job.IsTerminal() {
		return false
	}

	if u.Status != nil {
		job.Status = *u.Status
	}
	if u.Message != nil {
		job.Message = *u.Message
	}
	if u.Progress != nil && *u.Progress > job.Progress {
		job.Progress = *u.Progress
	}
	if u.StartedAt != nil {
		job.StartedAt = u.StartedAt
	}
	if u.CompletedAt != nil {
		job.CompletedAt = u.CompletedAt
	}
	if u.ResultCount != nil {
		job.ResultCount = u.ResultCount
	}
	if u.ErrorMessage != nil {
		job.ErrorMessage = u.ErrorMessage
	}
	if u.ItemErrors != nil {
		job.ItemErrors = u.ItemErrors
	}
	if u.EstimatedDurationSeconds != nil {
		job.EstimatedDurationSeconds = u.EstimatedDurationSeconds
	}
	if u.ActualDurationSeconds != nil {
		job.ActualDurationSeconds = u.ActualDurationSeconds
	}

	return true
}

// Ptr returns a pointer to v. Used to build JobUpdate values.
func Ptr[T any](v T) *T {
	return &v
}
