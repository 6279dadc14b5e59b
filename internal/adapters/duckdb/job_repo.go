package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/manthysbr/aula/internal/core/domain"
	"github.com/manthysbr/aula/internal/core/ports"
)

var _ ports.BatchRepository = (*Repository)(nil)

func (r *Repository) CreateJob(ctx context.Context, job *domain.BatchJob, items []domain.QueueItem) error {
	subsJSON, err := json.Marshal(job.SubmissionIDs)
	if err != nil {
		return fmt.Errorf("marshal submission ids: %w", err)
	}
	errsJSON, err := json.Marshal(job.Errors)
	if err != nil {
		return fmt.Errorf("marshal job errors: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO batch_jobs (id, assignment_id, submission_ids, status, total, completed, failed, errors, created_at)
		VALUES (?, ?, ?, ?, ?, 0, 0, ?, ?)`,
		string(job.ID), string(job.AssignmentID), string(subsJSON),
		string(job.Status), job.Progress.Total, string(errsJSON), job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	for _, it := range items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO queue_items (id, job_id, submission_id, status, retry_count, max_retries, next_attempt_at, last_error, result, updated_at)
			VALUES (?, ?, ?, ?, 0, ?, NULL, NULL, NULL, ?)`,
			string(it.ID), string(it.JobID), string(it.SubmissionID),
			string(it.Status), it.MaxRetries, it.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert item %s: %w", it.ID, err)
		}
	}

	return tx.Commit()
}

func (r *Repository) GetJob(ctx context.Context, id domain.JobID) (*domain.BatchJob, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, assignment_id, CAST(submission_ids AS TEXT), status, total, completed, failed, CAST(errors AS TEXT), created_at
		FROM batch_jobs WHERE id = ?`, string(id))
	return scanJob(row)
}

func (r *Repository) ListJobs(ctx context.Context, status domain.JobStatus) ([]domain.BatchJob, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, assignment_id, CAST(submission_ids AS TEXT), status, total, completed, failed, CAST(errors AS TEXT), created_at
		FROM batch_jobs WHERE status = ? ORDER BY created_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []domain.BatchJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

func (r *Repository) MarkJobProcessing(ctx context.Context, id domain.JobID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE batch_jobs SET status = ? WHERE id = ? AND status = ?`,
		string(domain.JobStatusProcessing), string(id), string(domain.JobStatusPending))
	return err
}

func (r *Repository) AppendJobError(ctx context.Context, id domain.JobID, jobErr domain.JobError) error {
	job, err := r.GetJob(ctx, id)
	if err != nil {
		return err
	}
	job.Errors = append(job.Errors, jobErr)
	errsJSON, err := json.Marshal(job.Errors)
	if err != nil {
		return fmt.Errorf("marshal job errors: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `UPDATE batch_jobs SET errors = ? WHERE id = ?`,
		string(errsJSON), string(id))
	return err
}

func (r *Repository) RefreshJobProgress(ctx context.Context, id domain.JobID) (*domain.BatchJob, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var completed, failed int
	err = tx.QueryRowContext(ctx, `
		SELECT
			count(*) FILTER (WHERE status = 'completed'),
			count(*) FILTER (WHERE status = 'failed')
		FROM queue_items WHERE job_id = ?`, string(id)).Scan(&completed, &failed)
	if err != nil {
		return nil, false, fmt.Errorf("count items: %w", err)
	}

	var status string
	var total int
	err = tx.QueryRowContext(ctx, `SELECT status, total FROM batch_jobs WHERE id = ?`, string(id)).
		Scan(&status, &total)
	if err == sql.ErrNoRows {
		return nil, false, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("load job: %w", err)
	}

	completedNow := false
	newStatus := status
	if completed+failed >= total && status != string(domain.JobStatusCompleted) {
		newStatus = string(domain.JobStatusCompleted)
		completedNow = true
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE batch_jobs SET completed = ?, failed = ?, status = ? WHERE id = ?`,
		completed, failed, newStatus, string(id))
	if err != nil {
		return nil, false, fmt.Errorf("update job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}

	job, err := r.GetJob(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return job, completedNow, nil
}

func (r *Repository) DeleteJobsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		DELETE FROM queue_items WHERE job_id IN (
			SELECT id FROM batch_jobs WHERE status = ? AND created_at < ?
		)`, string(domain.JobStatusCompleted), cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete items: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM batch_jobs WHERE status = ? AND created_at < ?`,
		string(domain.JobStatusCompleted), cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete jobs: %w", err)
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.BatchJob, error) {
	var job domain.BatchJob
	var idStr, assignmentStr, statusStr, subsJSON, errsJSON string

	err := row.Scan(&idStr, &assignmentStr, &subsJSON, &statusStr,
		&job.Progress.Total, &job.Progress.Completed, &job.Progress.Failed,
		&errsJSON, &job.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}

	job.ID = domain.JobID(idStr)
	job.AssignmentID = domain.AssignmentID(assignmentStr)
	job.Status = domain.JobStatus(statusStr)
	if err := json.Unmarshal([]byte(subsJSON), &job.SubmissionIDs); err != nil {
		return nil, fmt.Errorf("unmarshal submission ids: %w", err)
	}
	if err := json.Unmarshal([]byte(errsJSON), &job.Errors); err != nil {
		return nil, fmt.Errorf("unmarshal job errors: %w", err)
	}
	return &job, nil
}
