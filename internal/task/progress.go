package task

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/adlens/internal/domain"
	"github.com/phrazzld/adlens/internal/store"
)

// ProgressReporter persists pipeline progress for one job.
// Reported percentages are clamped into [min, max] and never decrease.
// Persistence failures are logged and swallowed.
type ProgressReporter struct {
	store          store.JobStore
	jobID          uuid.UUID
	min            int
	max            int
	secondsPerItem int
	policy         RetryPolicy
	logger         *slog.Logger

	mu   sync.Mutex
	last int
}

// ProgressConfig bounds the range a ProgressReporter writes into.
type ProgressConfig struct {
	Min            int
	Max            int
	SecondsPerItem int
}

// NewProgressReporter returns a reporter bound to jobID.
func NewProgressReporter(
	jobStore store.JobStore,
	jobID uuid.UUID,
	cfg ProgressConfig,
	policy RetryPolicy,
	logger *slog.Logger,
) *ProgressReporter {
	if cfg.Max < cfg.Min {
		cfg.Max = cfg.Min
	}
	return &ProgressReporter{
		store:          jobStore,
		jobID:          jobID,
		min:            cfg.Min,
		max:            cfg.Max,
		secondsPerItem: cfg.SecondsPerItem,
		policy:         policy,
		logger:         logger,
	}
}

// clamp maps percent into the reporter's range. It reports false when the
// value is behind one already reported. r.mu must be held.
func (r *ProgressReporter) clamp(percent int) (int, bool) {
	p := min(max(percent, r.min), r.max)
	if p < r.last {
		return r.last, false
	}
	r.last = p
	return p, true
}

// Last returns the most recently reported value, or 0 before any report.
func (r *ProgressReporter) Last() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Report records progress and a user-facing message on the job record.
// Reports are written one at a time; a report that falls behind an earlier
// one is dropped so its message cannot replace a newer stage's.
func (r *ProgressReporter) Report(ctx context.Context, percent int, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.clamp(percent)
	if !ok {
		r.logger.Debug("dropped stale progress report",
			slog.String("job_id", r.jobID.String()),
			slog.Int("progress", percent),
			slog.Int("last", p))
		return
	}
	r.persist(ctx, "report_progress", domain.JobUpdate{
		Progress: &p,
		Message:  &message,
	})
}

// ItemsListed records the estimated duration once the number of items is known.
func (r *ProgressReporter) ItemsListed(ctx context.Context, count int) {
	estimate := count * r.secondsPerItem
	r.persist(ctx, "record_estimate", domain.JobUpdate{
		EstimatedDurationSeconds: &estimate,
	})
}

func (r *ProgressReporter) persist(ctx context.Context, name string, update domain.JobUpdate) {
	_, err := WithRetry(ctx, name, r.policy, func(ctx context.Context) (bool, error) {
		return r.store.Update(ctx, r.jobID, update)
	})
	if err != nil {
		r.logger.Warn("failed to persist job progress",
			slog.String("job_id", r.jobID.String()),
			slog.String("operation", name),
			slog.String("error", err.Error()))
	}
}
