package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/adlens/internal/domain"
	"github.com/phrazzld/adlens/internal/platform/logger"
	"github.com/phrazzld/adlens/internal/store"
)

// PostgresResultStore implements store.ResultStore on the analysis_results table.
type PostgresResultStore struct {
	db *sql.DB
}

var _ store.ResultStore = (*PostgresResultStore)(nil)

// NewPostgresResultStore creates a PostgresResultStore.
func NewPostgresResultStore(db *sql.DB) *PostgresResultStore {
	return &PostgresResultStore{db: db}
}

// SaveRecords implements store.ResultStore. All records are written in one
// transaction; an item already stored for the owner and account is replaced.
func (s *PostgresResultStore) SaveRecords(
	ctx context.Context,
	jobID, ownerID uuid.UUID,
	records []domain.FinalRecord,
) error {
	if len(records) == 0 {
		return nil
	}

	query := `INSERT INTO analysis_results
			(owner_id, account_ref, item_id, job_id, summary, record, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (owner_id, account_ref, item_id) DO UPDATE SET
			job_id = EXCLUDED.job_id,
			summary = EXCLUDED.summary,
			record = EXCLUDED.record,
			updated_at = EXCLUDED.updated_at`

	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return classify(MapError(err))
		}
		defer func() { _ = stmt.Close() }()

		now := time.Now().UTC()
		for _, record := range records {
			data, err := json.Marshal(record)
			if err != nil {
				return fmt.Errorf("%w: record %s: %v", store.ErrInvalidEntity, record.ItemID, err)
			}
			if _, err := stmt.ExecContext(ctx,
				ownerID, record.AccountRef, record.ItemID, jobID, record.Summary, data, now,
			); err != nil {
				return classify(MapError(err))
			}
		}
		return nil
	})
	if err != nil {
		logger.FromContext(ctx).Error("failed to save analysis results",
			"job_id", jobID,
			"record_count", len(records),
			"error", err)
		return err
	}

	return nil
}

// CompletedItemIDs implements store.ResultStore.
func (s *PostgresResultStore) CompletedItemIDs(
	ctx context.Context,
	ownerID uuid.UUID,
	accountRef string,
) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id FROM analysis_results
		WHERE owner_id = $1 AND account_ref = $2 ORDER BY item_id`,
		ownerID, accountRef)
	if err != nil {
		logger.FromContext(ctx).Error("failed to list completed items", "error", err)
		return nil, classify(MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan item id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(MapError(err))
	}
	return ids, nil
}
