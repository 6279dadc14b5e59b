// Package duckdb persists batch jobs, queue items, and submission content in
// an embedded DuckDB database.
package duckdb

import (
	"database/sql"
	"fmt"

	_ "github.com/marcboeker/go-duckdb"
)

type Repository struct {
	db *sql.DB
}

// NewRepository opens (or creates) the database at path and ensures the
// schema exists. An empty path opens an in-memory database.
func NewRepository(path string) (*Repository, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	// DuckDB allows a single writer; serialize access through one conn.
	db.SetMaxOpenConns(1)

	r := &Repository{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return r, nil
}

func (r *Repository) Close() error { return r.db.Close() }

func (r *Repository) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS batch_jobs (
			id             TEXT PRIMARY KEY,
			assignment_id  TEXT NOT NULL,
			submission_ids TEXT NOT NULL,
			status         TEXT NOT NULL,
			total          INTEGER NOT NULL,
			completed      INTEGER NOT NULL DEFAULT 0,
			failed         INTEGER NOT NULL DEFAULT 0,
			errors         TEXT NOT NULL,
			created_at     TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS queue_items (
			id              TEXT PRIMARY KEY,
			job_id          TEXT NOT NULL,
			submission_id   TEXT NOT NULL,
			status          TEXT NOT NULL,
			retry_count     INTEGER NOT NULL DEFAULT 0,
			max_retries     INTEGER NOT NULL,
			next_attempt_at TIMESTAMP,
			last_error      TEXT,
			result          TEXT,
			updated_at      TIMESTAMP NOT NULL,
			UNIQUE (job_id, submission_id)
		)`,
		`CREATE TABLE IF NOT EXISTS assignments (
			id     TEXT PRIMARY KEY,
			title  TEXT NOT NULL,
			rubric TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS submissions (
			id            TEXT PRIMARY KEY,
			assignment_id TEXT NOT NULL,
			student_name  TEXT NOT NULL,
			content       TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
