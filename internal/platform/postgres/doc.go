// Package postgres implements the job and result stores defined in
// internal/store on PostgreSQL, reached through the pgx database/sql driver.
// The schema ships as embedded goose migrations applied by Migrate.
package postgres
