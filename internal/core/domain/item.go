package domain

import "time"

type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusProcessing ItemStatus = "processing"
	ItemStatusCompleted  ItemStatus = "completed"
	ItemStatusFailed     ItemStatus = "failed"
	ItemStatusRetrying   ItemStatus = "retrying"
)

// Terminal reports whether the status is final for an item.
func (s ItemStatus) Terminal() bool {
	return s == ItemStatusCompleted || s == ItemStatusFailed
}

// QueueItem is the attempt-state of a single submission's evaluation within
// a job. Exactly one item exists per (job, submission) pair, and only the
// worker attempt currently holding it may mutate it.
//
// Invariants: RetryCount never exceeds MaxRetries; status reaches failed only
// once the last allowed attempt has failed.
type QueueItem struct {
	ID            ItemID       `json:"id"`
	JobID         JobID        `json:"job_id"`
	SubmissionID  SubmissionID `json:"submission_id"`
	Status        ItemStatus   `json:"status"`
	RetryCount    int          `json:"retry_count"`
	MaxRetries    int          `json:"max_retries"`
	NextAttemptAt time.Time    `json:"next_attempt_at"`
	LastError     *string      `json:"last_error,omitempty"`
	Result        *Evaluation  `json:"result,omitempty"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Eligible reports whether the item can be claimed at the given instant:
// pending, or retrying once its backoff window elapsed.
func (i *QueueItem) Eligible(now time.Time) bool {
	switch i.Status {
	case ItemStatusPending:
		return true
	case ItemStatusRetrying:
		return !i.NextAttemptAt.After(now)
	default:
		return false
	}
}
