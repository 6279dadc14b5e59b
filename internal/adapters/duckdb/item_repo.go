package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/manthysbr/aula/internal/core/domain"
)

func (r *Repository) ListItems(ctx context.Context, jobID domain.JobID) ([]domain.QueueItem, error) {
	job, err := r.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, job_id, submission_id, status, retry_count, max_retries, next_attempt_at, last_error, CAST(result AS TEXT), updated_at
		FROM queue_items WHERE job_id = ?`, string(jobID))
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var out []domain.QueueItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Rows come back in storage order; present them in submission order.
	pos := make(map[domain.SubmissionID]int, len(job.SubmissionIDs))
	for i, id := range job.SubmissionIDs {
		pos[id] = i
	}
	sort.Slice(out, func(i, j int) bool {
		return pos[out[i].SubmissionID] < pos[out[j].SubmissionID]
	})
	return out, nil
}

// ClaimNextItem selects one eligible item and flips it to processing with a
// compare-and-set on its current status, all inside one transaction. Two
// concurrent claimers can never both win the same item: the guarded UPDATE
// affects zero rows for the loser.
func (r *Repository) ClaimNextItem(ctx context.Context, jobID domain.JobID, now time.Time) (*domain.QueueItem, bool, error) {
	if _, err := r.GetJob(ctx, jobID); err != nil {
		return nil, false, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var remaining int
	err = tx.QueryRowContext(ctx, `
		SELECT count(*) FROM queue_items
		WHERE job_id = ? AND status NOT IN ('completed', 'failed')`, string(jobID)).Scan(&remaining)
	if err != nil {
		return nil, false, fmt.Errorf("count remaining: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
		SELECT id, status FROM queue_items
		WHERE job_id = ?
		  AND (status = 'pending' OR (status = 'retrying' AND next_attempt_at <= ?))
		ORDER BY updated_at, id
		LIMIT 1`, string(jobID), now)

	var itemID, fromStatus string
	if err := row.Scan(&itemID, &fromStatus); err != nil {
		if err == sql.ErrNoRows {
			return nil, remaining > 0, tx.Commit()
		}
		return nil, false, fmt.Errorf("select eligible: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE queue_items SET status = 'processing', updated_at = ?
		WHERE id = ? AND status = ?`, now, itemID, fromStatus)
	if err != nil {
		return nil, false, fmt.Errorf("claim item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Lost the race; the caller will come around again.
		return nil, remaining > 0, tx.Commit()
	}

	item, err := scanItem(tx.QueryRowContext(ctx, `
		SELECT id, job_id, submission_id, status, retry_count, max_retries, next_attempt_at, last_error, CAST(result AS TEXT), updated_at
		FROM queue_items WHERE id = ?`, itemID))
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return item, true, nil
}

func (r *Repository) ReleaseAbandonedItems(ctx context.Context, jobID domain.JobID) (int, error) {
	if _, err := r.GetJob(ctx, jobID); err != nil {
		return 0, err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE queue_items SET status = 'pending', updated_at = ?
		WHERE job_id = ? AND status = 'processing'`, time.Now(), string(jobID))
	if err != nil {
		return 0, fmt.Errorf("release abandoned items: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *Repository) UpdateItem(ctx context.Context, item *domain.QueueItem, fromStatus domain.ItemStatus) error {
	var resultJSON *string
	if item.Result != nil {
		data, err := json.Marshal(item.Result)
		if err != nil {
			return fmt.Errorf("marshal evaluation: %w", err)
		}
		s := string(data)
		resultJSON = &s
	}

	var nextAttempt *time.Time
	if !item.NextAttemptAt.IsZero() {
		nextAttempt = &item.NextAttemptAt
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE queue_items
		SET status = ?, retry_count = ?, next_attempt_at = ?, last_error = ?, result = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(item.Status), item.RetryCount, nextAttempt, item.LastError,
		resultJSON, time.Now(), string(item.ID), string(fromStatus))
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}

func scanItem(row rowScanner) (*domain.QueueItem, error) {
	var item domain.QueueItem
	var idStr, jobStr, subStr, statusStr string
	var nextAttempt *time.Time
	var lastErr, resultJSON *string

	err := row.Scan(&idStr, &jobStr, &subStr, &statusStr,
		&item.RetryCount, &item.MaxRetries, &nextAttempt, &lastErr, &resultJSON, &item.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}

	item.ID = domain.ItemID(idStr)
	item.JobID = domain.JobID(jobStr)
	item.SubmissionID = domain.SubmissionID(subStr)
	item.Status = domain.ItemStatus(statusStr)
	if nextAttempt != nil {
		item.NextAttemptAt = *nextAttempt
	}
	item.LastError = lastErr
	if resultJSON != nil {
		var eval domain.Evaluation
		if err := json.Unmarshal([]byte(*resultJSON), &eval); err != nil {
			return nil, fmt.Errorf("unmarshal evaluation: %w", err)
		}
		item.Result = &eval
	}
	return &item, nil
}
