package ports

import (
	"context"
	"time"

	"github.com/manthysbr/aula/internal/core/domain"
)

// Grader abstracts the external grading service. Calls take seconds and may
// fail transiently or permanently; classification travels on the returned
// *domain.GradingError.
type Grader interface {
	Evaluate(ctx context.Context, content string, rubric domain.Rubric) (*domain.Evaluation, error)
}

// BatchRepository abstracts persistent storage for jobs and queue items.
type BatchRepository interface {
	// CreateJob persists a new job together with its queue items in one
	// atomic write.
	CreateJob(ctx context.Context, job *domain.BatchJob, items []domain.QueueItem) error

	// GetJob retrieves a job by ID. Returns domain.ErrJobNotFound.
	GetJob(ctx context.Context, id domain.JobID) (*domain.BatchJob, error)

	// ListJobs returns all jobs with the given status.
	ListJobs(ctx context.Context, status domain.JobStatus) ([]domain.BatchJob, error)

	// ListItems returns the queue items of a job in submission order.
	ListItems(ctx context.Context, jobID domain.JobID) ([]domain.QueueItem, error)

	// ClaimNextItem atomically claims one eligible item (pending, or
	// retrying whose backoff elapsed at now) by compare-and-set of its
	// status to processing. Returns nil when nothing is claimable; the
	// second result reports whether any non-terminal item remains.
	ClaimNextItem(ctx context.Context, jobID domain.JobID, now time.Time) (*domain.QueueItem, bool, error)

	// UpdateItem persists an item mutation guarded by the status the caller
	// last observed. Returns domain.ErrItemNotFound when the guard misses.
	UpdateItem(ctx context.Context, item *domain.QueueItem, fromStatus domain.ItemStatus) error

	// MarkJobProcessing flips a pending job to processing. A no-op when the
	// job already left pending; status never moves backward.
	MarkJobProcessing(ctx context.Context, id domain.JobID) error

	// ReleaseAbandonedItems flips a job's processing items back to pending so
	// a resumed worker can reclaim attempts orphaned by a crash. Returns how
	// many items were released.
	ReleaseAbandonedItems(ctx context.Context, jobID domain.JobID) (int, error)

	// AppendJobError records a per-submission failure on the job row.
	AppendJobError(ctx context.Context, id domain.JobID, jobErr domain.JobError) error

	// RefreshJobProgress recomputes the job's counters from its item rows
	// and marks the job completed when every item is terminal. The bool
	// reports whether this call performed the completed transition, so the
	// caller can emit the terminal event exactly once.
	RefreshJobProgress(ctx context.Context, id domain.JobID) (*domain.BatchJob, bool, error)

	// DeleteJobsBefore removes completed jobs created before the cutoff,
	// items included. Returns the number of jobs removed.
	DeleteJobsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// SubmissionSource resolves gradable content and rubric context. The CRUD
// surface that populates it lives outside this service.
type SubmissionSource interface {
	// GetAssignment returns domain.ErrAssignmentNotFound for unknown ids.
	GetAssignment(ctx context.Context, id domain.AssignmentID) (*domain.Assignment, error)

	// GetSubmission returns domain.ErrSubmissionNotFound for unknown ids.
	GetSubmission(ctx context.Context, id domain.SubmissionID) (*domain.Submission, error)
}
