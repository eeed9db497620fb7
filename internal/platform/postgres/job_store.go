package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/adlens/internal/domain"
	"github.com/phrazzld/adlens/internal/platform/logger"
	"github.com/phrazzld/adlens/internal/store"
	"github.com/phrazzld/adlens/internal/task"
)

const jobColumns = `id, owner_id, job_type, status, message, progress, parameters, created_at,
	started_at, completed_at, result_count, error_message, item_errors,
	estimated_duration_seconds, actual_duration_seconds`

// terminalCondition keeps terminal rows out of every UPDATE.
const terminalCondition = `status NOT IN ('completed', 'failed', 'cancelled')`

// PostgresJobStore implements store.JobStore on the jobs table.
type PostgresJobStore struct {
	db store.DBTX
}

var _ store.JobStore = (*PostgresJobStore)(nil)

// NewPostgresJobStore creates a PostgresJobStore.
func NewPostgresJobStore(db store.DBTX) *PostgresJobStore {
	return &PostgresJobStore{db: db}
}

// Create implements store.JobStore.
func (s *PostgresJobStore) Create(ctx context.Context, job *domain.JobRecord) (uuid.UUID, error) {
	log := logger.FromContext(ctx)

	if err := job.Validate(); err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	params, err := json.Marshal(job.Parameters)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: parameters: %v", store.ErrInvalidEntity, err)
	}
	itemErrors, err := marshalItemErrors(job.ItemErrors)
	if err != nil {
		return uuid.Nil, err
	}

	query := `INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err = s.db.ExecContext(ctx, query,
		job.ID,
		job.OwnerID,
		string(job.JobType),
		string(job.Status),
		job.Message,
		job.Progress,
		params,
		job.CreatedAt,
		job.StartedAt,
		job.CompletedAt,
		job.ResultCount,
		job.ErrorMessage,
		itemErrors,
		job.EstimatedDurationSeconds,
		job.ActualDurationSeconds,
	)
	if IsUniqueViolation(err) {
		log.Warn("job already exists", "job_id", job.ID)
		return uuid.Nil, fmt.Errorf("%w: job %s", store.ErrDuplicate, job.ID)
	}
	if err != nil {
		log.Error("failed to insert job", "job_id", job.ID, "error", err)
		return uuid.Nil, classify(MapError(err))
	}

	return job.ID, nil
}

// Update implements store.JobStore. The terminal guard and the progress
// floor are both enforced in SQL so concurrent writers cannot regress a row.
func (s *PostgresJobStore) Update(
	ctx context.Context,
	id uuid.UUID,
	update domain.JobUpdate,
) (bool, error) {
	log := logger.FromContext(ctx)

	set, args, err := buildJobUpdate(update)
	if err != nil {
		return false, err
	}
	args = append([]any{id}, args...)

	query := fmt.Sprintf(`UPDATE jobs SET %s WHERE id = $1 AND %s`,
		strings.Join(set, ", "), terminalCondition)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to update job", "job_id", id, "error", err)
		return false, classify(MapError(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, store.NewStoreError("job", "update", "failed to get rows affected",
			fmt.Errorf("%w: %w", store.ErrUpdateFailed, err))
	}
	if rows > 0 {
		return true, nil
	}

	var exists bool
	err = s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, id).
		Scan(&exists)
	if err != nil {
		return false, classify(MapError(err))
	}
	if !exists {
		return false, store.ErrJobNotFound
	}

	log.Debug("skipped update of terminal job", "job_id", id)
	return false, nil
}

// Find implements store.JobStore.
func (s *PostgresJobStore) Find(ctx context.Context, id, ownerID uuid.UUID) (*domain.JobRecord, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 AND owner_id = $2`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, id, ownerID))
	if IsNotFoundError(err) {
		return nil, store.ErrJobNotFound
	}
	if err != nil {
		logger.FromContext(ctx).Error("failed to fetch job", "job_id", id, "error", err)
		return nil, classify(MapError(err))
	}
	return job, nil
}

// List implements store.JobStore.
func (s *PostgresJobStore) List(
	ctx context.Context,
	ownerID uuid.UUID,
	limit int,
) ([]*domain.JobRecord, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2`
	return s.queryJobs(ctx, query, ownerID, limit)
}

// ListByStatus implements store.JobStore.
func (s *PostgresJobStore) ListByStatus(
	ctx context.Context,
	statuses ...domain.JobStatus,
) ([]*domain.JobRecord, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	clause, args := statusIn(statuses, 1)
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE ` + clause + ` ORDER BY created_at`
	return s.queryJobs(ctx, query, args...)
}

// DeleteMany implements store.JobStore. An empty filter is rejected rather
// than clearing the table.
func (s *PostgresJobStore) DeleteMany(ctx context.Context, filter store.JobFilter) (int64, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.Statuses) > 0 {
		clause, statusArgs := statusIn(filter.Statuses, 1)
		where = append(where, clause)
		args = append(args, statusArgs...)
	}
	if !filter.CreatedBefore.IsZero() {
		args = append(args, filter.CreatedBefore)
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}
	if len(where) == 0 {
		return 0, fmt.Errorf("%w: empty job filter", store.ErrInvalidEntity)
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE `+strings.Join(where, " AND "), args...)
	if err != nil {
		logger.FromContext(ctx).Error("failed to delete jobs", "error", err)
		return 0, classify(MapError(err))
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, store.NewStoreError("job", "delete", "failed to get rows affected",
			fmt.Errorf("%w: %w", store.ErrDeleteFailed, err))
	}
	return deleted, nil
}

func (s *PostgresJobStore) queryJobs(ctx context.Context, query string, args ...any) ([]*domain.JobRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		logger.FromContext(ctx).Error("failed to query jobs", "error", err)
		return nil, classify(MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var jobs []*domain.JobRecord
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(MapError(err))
	}
	return jobs, nil
}

// buildJobUpdate returns the SET fragments for update. Placeholders start at
// $2 because $1 is the job id.
func buildJobUpdate(update domain.JobUpdate) ([]string, []any, error) {
	var (
		set  []string
		args []any
	)
	add := func(expr string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf(expr, len(args)+1))
	}

	if update.Status != nil {
		add("status = $%d", string(*update.Status))
	}
	if update.Message != nil {
		add("message = $%d", *update.Message)
	}
	if update.Progress != nil {
		add("progress = GREATEST(progress, $%d)", *update.Progress)
	}
	if update.StartedAt != nil {
		add("started_at = $%d", *update.StartedAt)
	}
	if update.CompletedAt != nil {
		add("completed_at = $%d", *update.CompletedAt)
	}
	if update.ResultCount != nil {
		add("result_count = $%d", *update.ResultCount)
	}
	if update.ErrorMessage != nil {
		add("error_message = $%d", *update.ErrorMessage)
	}
	if update.ItemErrors != nil {
		data, err := marshalItemErrors(update.ItemErrors)
		if err != nil {
			return nil, nil, err
		}
		add("item_errors = $%d", data)
	}
	if update.EstimatedDurationSeconds != nil {
		add("estimated_duration_seconds = $%d", *update.EstimatedDurationSeconds)
	}
	if update.ActualDurationSeconds != nil {
		add("actual_duration_seconds = $%d", *update.ActualDurationSeconds)
	}

	if len(set) == 0 {
		// Still report applied/not-applied for an empty update.
		set = append(set, "progress = progress")
	}
	return set, args, nil
}

// statusIn renders "status IN ($n, ...)" with placeholders starting at first.
func statusIn(statuses []domain.JobStatus, first int) (string, []any) {
	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, status := range statuses {
		placeholders[i] = fmt.Sprintf("$%d", first+i)
		args[i] = string(status)
	}
	return "status IN (" + strings.Join(placeholders, ", ") + ")", args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.JobRecord, error) {
	var (
		job          domain.JobRecord
		jobType      string
		status       string
		params       []byte
		startedAt    sql.NullTime
		completedAt  sql.NullTime
		resultCount  sql.NullInt64
		errorMessage sql.NullString
		itemErrors   []byte
		estimated    sql.NullInt64
		actual       sql.NullInt64
	)

	err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&jobType,
		&status,
		&job.Message,
		&job.Progress,
		&params,
		&job.CreatedAt,
		&startedAt,
		&completedAt,
		&resultCount,
		&errorMessage,
		&itemErrors,
		&estimated,
		&actual,
	)
	if err != nil {
		return nil, err
	}

	job.JobType = domain.JobType(jobType)
	job.Status = domain.JobStatus(status)

	if len(params) > 0 {
		if err := json.Unmarshal(params, &job.Parameters); err != nil {
			return nil, fmt.Errorf("decode parameters: %w", err)
		}
	}
	if len(itemErrors) > 0 {
		if err := json.Unmarshal(itemErrors, &job.ItemErrors); err != nil {
			return nil, fmt.Errorf("decode item errors: %w", err)
		}
	}

	if startedAt.Valid {
		job.StartedAt = domain.Ptr(startedAt.Time.UTC())
	}
	if completedAt.Valid {
		job.CompletedAt = domain.Ptr(completedAt.Time.UTC())
	}
	if resultCount.Valid {
		job.ResultCount = domain.Ptr(int(resultCount.Int64))
	}
	if errorMessage.Valid {
		job.ErrorMessage = domain.Ptr(errorMessage.String)
	}
	if estimated.Valid {
		job.EstimatedDurationSeconds = domain.Ptr(int(estimated.Int64))
	}
	if actual.Valid {
		job.ActualDurationSeconds = domain.Ptr(int(actual.Int64))
	}
	job.CreatedAt = job.CreatedAt.UTC()

	return &job, nil
}

// marshalItemErrors returns an untyped nil for a nil slice so the column is NULL.
func marshalItemErrors(items []domain.ItemError) (any, error) {
	if items == nil {
		return nil, nil
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("%w: item errors: %v", store.ErrInvalidEntity, err)
	}
	return data, nil
}

// classify marks retryable database failures as transient for task.WithRetry.
func classify(err error) error {
	if err != nil && IsRetryable(err) {
		return fmt.Errorf("%w: %w", task.ErrTransient, err)
	}
	return err
}
