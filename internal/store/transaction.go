package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/phrazzld/adlens/internal/platform/logger"
)

// TxFn is a function that executes within a database transaction.
type TxFn func(ctx context.Context, tx *sql.Tx) error

// RunInTransaction executes fn within a database transaction.
// The transaction is committed when fn returns nil and rolled back when it
// returns an error or panics. A panic is re-raised after the rollback.
func RunInTransaction(ctx context.Context, db *sql.DB, fn TxFn) (err error) {
	log := logger.FromContext(ctx)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		log.Error("failed to begin transaction", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committing := false
	defer func() {
		p := recover()
		if p == nil && (err == nil || committing) {
			return
		}

		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error("failed to roll back transaction", "rollback_error", rbErr, "panic", p)
			if p == nil {
				err = fmt.Errorf("error rolling back transaction: %v (original error: %w)", rbErr, err)
			}
		}

		if p != nil {
			// ALLOW-PANIC: re-raise after rollback
			panic(p)
		}
	}()

	if err = fn(ctx, tx); err != nil {
		log.Debug("rolling back transaction due to error", "error", err)
		return err
	}

	committing = true
	if err = tx.Commit(); err != nil {
		log.Error("failed to commit transaction", "error", err)
		return fmt.Errorf("%w: commit: %v", ErrTransactionFailed, err)
	}

	return nil
}
