package task

import (
	"context"
	"log/slog"

	"github.com/phrazzld/adlens/internal/domain"
)

// JobRun is everything an Executor receives for one job execution.
type JobRun struct {
	// Job is a snapshot of the record as it was created.
	Job *domain.JobRecord

	// Params holds the caller's original parameters, secrets included.
	// They live only in memory for the duration of the run.
	Params map[string]any

	// CompletedItemIDs lists items that must not be processed again.
	CompletedItemIDs []string

	Token    *CancellationToken
	Progress *ProgressReporter
	Logger   *slog.Logger
}

// JobResult is the outcome of a successful execution.
type JobResult struct {
	Records    []domain.FinalRecord
	ItemErrors []domain.ItemError
}

// Executor performs the work of a job.
// Version: 1.0
type Executor interface {
	// Execute runs the job. It returns ErrCancelled when it stops because the
	// token was set, and any other error when forward progress is impossible.
	Execute(ctx context.Context, run JobRun) (JobResult, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, run JobRun) (JobResult, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, run JobRun) (JobResult, error) {
	return f(ctx, run)
}
