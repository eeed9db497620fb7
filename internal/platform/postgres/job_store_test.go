package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/adlens/internal/domain"
	"github.com/phrazzld/adlens/internal/store"
	"github.com/phrazzld/adlens/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jobColumnNames = []string{
	"id", "owner_id", "job_type", "status", "message", "progress", "parameters", "created_at",
	"started_at", "completed_at", "result_count", "error_message", "item_errors",
	"estimated_duration_seconds", "actual_duration_seconds",
}

func newJobStore(t *testing.T) (*PostgresJobStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresJobStore(db), mock
}

func TestPostgresJobStore_Create(t *testing.T) {
	s, mock := newJobStore(t)
	job, err := domain.NewJobRecord(uuid.New(), domain.JobTypeMediaAnalysis,
		map[string]any{domain.ParamAccountRef: "act_1"})
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO jobs")).
		WithArgs(job.ID, job.OwnerID, "media_analysis", "pending", domain.MessageJobQueued, 0,
			[]byte(`{"account_ref":"act_1"}`), job.CreatedAt,
			nil, nil, nil, nil, nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := s.Create(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, job.ID, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJobStore_CreateRejectsInvalidRecord(t *testing.T) {
	s, mock := newJobStore(t)

	_, err := s.Create(context.Background(), &domain.JobRecord{ID: uuid.New()})
	assert.ErrorIs(t, err, store.ErrInvalidEntity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJobStore_CreateDuplicate(t *testing.T) {
	s, mock := newJobStore(t)
	job, err := domain.NewJobRecord(uuid.New(), domain.JobTypeMediaAnalysis, nil)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO jobs").
		WillReturnError(&pgconn.PgError{Code: uniqueViolationCode})

	_, err = s.Create(context.Background(), job)
	assert.ErrorIs(t, err, store.ErrDuplicate)
	assert.Contains(t, err.Error(), job.ID.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJobStore_Update(t *testing.T) {
	id := uuid.New()
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("applies guarded update with progress floor", func(t *testing.T) {
		s, mock := newJobStore(t)
		mock.ExpectExec(regexp.QuoteMeta(
			"UPDATE jobs SET status = $2, progress = GREATEST(progress, $3), started_at = $4 "+
				"WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')")).
			WithArgs(id, "running", 10, started).
			WillReturnResult(sqlmock.NewResult(0, 1))

		applied, err := s.Update(context.Background(), id, domain.JobUpdate{
			Status:    domain.Ptr(domain.JobStatusRunning),
			Progress:  domain.Ptr(10),
			StartedAt: &started,
		})
		require.NoError(t, err)
		assert.True(t, applied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("terminal row is skipped", func(t *testing.T) {
		s, mock := newJobStore(t)
		mock.ExpectExec("UPDATE jobs SET message").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		applied, err := s.Update(context.Background(), id, domain.JobUpdate{Message: domain.Ptr("late")})
		require.NoError(t, err)
		assert.False(t, applied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing row", func(t *testing.T) {
		s, mock := newJobStore(t)
		mock.ExpectExec("UPDATE jobs").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT EXISTS").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		_, err := s.Update(context.Background(), id, domain.JobUpdate{Progress: domain.Ptr(5)})
		assert.ErrorIs(t, err, store.ErrJobNotFound)
	})

	t.Run("item errors encoded as json", func(t *testing.T) {
		s, mock := newJobStore(t)
		mock.ExpectExec(regexp.QuoteMeta("item_errors = $2")).
			WithArgs(id, []byte(`[{"stage":"acquire","item_id":"a1","message":"boom"}]`)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		applied, err := s.Update(context.Background(), id, domain.JobUpdate{
			ItemErrors: []domain.ItemError{{Stage: "acquire", ItemID: "a1", Message: "boom"}},
		})
		require.NoError(t, err)
		assert.True(t, applied)
	})

	t.Run("serialization failure is transient", func(t *testing.T) {
		s, mock := newJobStore(t)
		mock.ExpectExec("UPDATE jobs").
			WillReturnError(&pgconn.PgError{Code: serializationFailureCode})

		_, err := s.Update(context.Background(), id, domain.JobUpdate{Progress: domain.Ptr(5)})
		assert.ErrorIs(t, err, task.ErrTransient)
		assert.True(t, task.IsTransient(err))
	})
}

func TestPostgresJobStore_Find(t *testing.T) {
	id, owner := uuid.New(), uuid.New()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		s, mock := newJobStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM jobs WHERE id = $1 AND owner_id = $2")).
			WithArgs(id, owner).
			WillReturnRows(sqlmock.NewRows(jobColumnNames).AddRow(
				id.String(), owner.String(), "media_analysis", "completed", "Job completed", 100,
				[]byte(`{"account_ref":"act_1","access_token":"[REDACTED]"}`), created,
				created, created.Add(time.Minute), int64(3), nil,
				[]byte(`[{"stage":"transcribe","item_id":"a2","message":"timeout"}]`),
				int64(90), int64(60),
			))

		job, err := s.Find(context.Background(), id, owner)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCompleted, job.Status)
		assert.Equal(t, 100, job.Progress)
		assert.Equal(t, "[REDACTED]", job.Parameters[domain.ParamAccessToken])
		require.NotNil(t, job.ResultCount)
		assert.Equal(t, 3, *job.ResultCount)
		assert.Nil(t, job.ErrorMessage)
		require.Len(t, job.ItemErrors, 1)
		assert.Equal(t, "a2", job.ItemErrors[0].ItemID)
		require.NotNil(t, job.ActualDurationSeconds)
		assert.Equal(t, 60, *job.ActualDurationSeconds)
	})

	t.Run("not found", func(t *testing.T) {
		s, mock := newJobStore(t)
		mock.ExpectQuery("FROM jobs WHERE id").WillReturnError(sql.ErrNoRows)

		_, err := s.Find(context.Background(), id, owner)
		assert.ErrorIs(t, err, store.ErrJobNotFound)
	})
}

func TestPostgresJobStore_ListAndListByStatus(t *testing.T) {
	owner := uuid.New()
	created := time.Now().UTC()
	row := func(status string) []driver.Value {
		return []driver.Value{
			uuid.NewString(), owner.String(), "media_analysis", status, "", 0,
			nil, created, nil, nil, nil, nil, nil, nil, nil,
		}
	}

	s, mock := newJobStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2")).
		WithArgs(owner, 20).
		WillReturnRows(sqlmock.NewRows(jobColumnNames).AddRow(row("running")...).AddRow(row("pending")...))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status IN ($1, $2)")).
		WithArgs("pending", "running").
		WillReturnRows(sqlmock.NewRows(jobColumnNames).AddRow(row("pending")...))

	jobs, err := s.List(context.Background(), owner, 20)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	active, err := s.ListByStatus(context.Background(), domain.ActiveStatuses()...)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, domain.JobStatusPending, active[0].Status)

	none, err := s.ListByStatus(context.Background())
	require.NoError(t, err)
	assert.Empty(t, none)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJobStore_DeleteMany(t *testing.T) {
	cutoff := time.Now().UTC().Add(-24 * time.Hour)

	s, mock := newJobStore(t)
	mock.ExpectExec(regexp.QuoteMeta(
		"DELETE FROM jobs WHERE status IN ($1, $2, $3) AND created_at < $4")).
		WithArgs("completed", "failed", "cancelled", cutoff).
		WillReturnResult(sqlmock.NewResult(0, 4))

	deleted, err := s.DeleteMany(context.Background(), store.JobFilter{
		Statuses:      domain.TerminalStatuses(),
		CreatedBefore: cutoff,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), deleted)

	_, err = s.DeleteMany(context.Background(), store.JobFilter{})
	assert.ErrorIs(t, err, store.ErrInvalidEntity)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM jobs WHERE status IN ($1)")).
		WithArgs("failed").
		WillReturnResult(sqlmock.NewErrorResult(sql.ErrConnDone))
	_, err = s.DeleteMany(context.Background(), store.JobFilter{
		Statuses: []domain.JobStatus{domain.JobStatusFailed},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrDeleteFailed)
	var storeErr *store.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "delete", storeErr.Operation)

	assert.NoError(t, mock.ExpectationsWereMet())
}
