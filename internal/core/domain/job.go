package domain

import (
	"errors"
	"time"
)

// ID types to prevent stringly-typed confusion
type (
	JobID        string
	ItemID       string
	AssignmentID string
	SubmissionID string
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
)

// Progress holds the rolled-up counters of a batch job. The counters are
// always recomputed from queue item rows — the item table is the source of
// truth, never the other way around.
type Progress struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// JobError records a submission that could not be evaluated. Submissions
// excluded at start time (no resolvable content) land here as synthetic
// errors without ever getting a queue item.
type JobError struct {
	SubmissionID SubmissionID `json:"submission_id"`
	Message      string       `json:"message"`
	OccurredAt   time.Time    `json:"occurred_at"`
}

// BatchJob is one batch-evaluation request spanning one or more submissions.
// Status only moves forward: pending → processing → completed.
type BatchJob struct {
	ID            JobID          `json:"id"`
	AssignmentID  AssignmentID   `json:"assignment_id"`
	SubmissionIDs []SubmissionID `json:"submission_ids"`
	Status        JobStatus      `json:"status"`
	Progress      Progress       `json:"progress"`
	Errors        []JobError     `json:"errors"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Terminal reports whether every item of the job reached a final state.
func (j *BatchJob) Terminal() bool {
	return j.Progress.Completed+j.Progress.Failed >= j.Progress.Total
}

var (
	ErrJobNotFound        = errors.New("job not found")
	ErrItemNotFound       = errors.New("queue item not found")
	ErrNoSubmissions      = errors.New("at least one submission id is required")
	ErrAssignmentNotFound = errors.New("assignment not found")
	ErrSubmissionNotFound = errors.New("submission not found")
)
