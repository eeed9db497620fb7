//go:build integration

// Package testdb runs database tests against a real PostgreSQL instance.
// Each test runs inside a transaction that is rolled back when it returns,
// so tests can run in parallel on the same schema.
//
//	func TestSomething(t *testing.T) {
//	    db := testdb.GetTestDB(t)
//	    testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
//	        jobs := postgres.NewPostgresJobStore(tx)
//	        // ...
//	    })
//	}
package testdb

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/phrazzld/adlens/internal/platform/postgres"
	"github.com/stretchr/testify/require"
)

// URLEnv names the database used by integration tests.
const URLEnv = "ADLENS_TEST_DATABASE_URL"

var (
	schemaOnce sync.Once
	schemaErr  error
)

// DatabaseURL returns the test database URL, falling back to DATABASE_URL.
func DatabaseURL() string {
	if url := os.Getenv(URLEnv); url != "" {
		return url
	}
	return os.Getenv("DATABASE_URL")
}

// GetTestDB opens the test database and migrates it once per process.
// The test is skipped when no database is configured.
func GetTestDB(t *testing.T) *sql.DB {
	t.Helper()

	url := DatabaseURL()
	if url == "" {
		t.Skipf("%s not set, skipping database test", URLEnv)
	}

	db, err := sql.Open("pgx", url)
	require.NoError(t, err, "failed to open test database")
	t.Cleanup(func() { _ = db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, db.PingContext(ctx), "test database is not reachable")

	schemaOnce.Do(func() {
		_, schemaErr = postgres.Migrate(ctx, db, nil)
	})
	require.NoError(t, schemaErr, "failed to migrate test database")

	return db
}

// WithTx runs fn inside a transaction that is always rolled back.
func WithTx(t *testing.T, db *sql.DB, fn func(t *testing.T, tx *sql.Tx)) {
	t.Helper()

	tx, err := db.BeginTx(context.Background(), nil)
	require.NoError(t, err, "failed to begin transaction")
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			t.Logf("failed to roll back test transaction: %v", err)
		}
	}()

	fn(t, tx)
}
