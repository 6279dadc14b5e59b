package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/manthysbr/aula/internal/core/domain"
	"github.com/manthysbr/aula/internal/core/ports"
	"golang.org/x/sync/semaphore"
)

// ManagerConfig bounds the manager's scheduling and retention behavior.
type ManagerConfig struct {
	// MaxConcurrentJobs caps how many jobs run workers at once.
	MaxConcurrentJobs int64
	// Retention is how long completed jobs are kept for read/audit before
	// the reaper deletes them.
	Retention time.Duration
	Worker    WorkerConfig
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = 10
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	return c
}

// JobManager validates start requests, persists jobs with their queue items,
// launches workers, and answers snapshot queries.
type JobManager struct {
	logger   *slog.Logger
	repo     ports.BatchRepository
	source   ports.SubmissionSource
	grader   ports.Grader
	fallback ports.Grader
	bus      *EventBus
	cfg      ManagerConfig
	sem      *semaphore.Weighted

	// baseCtx detaches worker lifecycles from client requests.
	baseCtx context.Context
}

func NewJobManager(logger *slog.Logger, repo ports.BatchRepository, source ports.SubmissionSource, grader, fallback ports.Grader, bus *EventBus, cfg ManagerConfig) *JobManager {
	cfg = cfg.withDefaults()
	return &JobManager{
		logger:   logger,
		repo:     repo,
		source:   source,
		grader:   grader,
		fallback: fallback,
		bus:      bus,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(cfg.MaxConcurrentJobs),
		baseCtx:  context.Background(),
	}
}

// Start validates the request, creates the job and one pending queue item
// per resolvable submission, launches a worker for the job, and returns the
// job ID immediately. Submission ids are deduplicated preserving order; ids
// without resolvable content become synthetic job errors rather than items.
func (m *JobManager) Start(ctx context.Context, assignmentID domain.AssignmentID, submissionIDs []domain.SubmissionID) (domain.JobID, error) {
	if len(submissionIDs) == 0 {
		return "", domain.ErrNoSubmissions
	}

	if _, err := m.source.GetAssignment(ctx, assignmentID); err != nil {
		return "", fmt.Errorf("assignment %s: %w", assignmentID, err)
	}

	seen := make(map[domain.SubmissionID]bool, len(submissionIDs))
	deduped := make([]domain.SubmissionID, 0, len(submissionIDs))
	for _, id := range submissionIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		deduped = append(deduped, id)
	}

	now := time.Now()
	job := &domain.BatchJob{
		ID:           domain.JobID(uuid.NewString()),
		AssignmentID: assignmentID,
		Status:       domain.JobStatusPending,
		Errors:       []domain.JobError{},
		CreatedAt:    now,
	}

	var items []domain.QueueItem
	for _, subID := range deduped {
		_, err := m.source.GetSubmission(ctx, subID)
		if err != nil {
			if errors.Is(err, domain.ErrSubmissionNotFound) {
				job.Errors = append(job.Errors, domain.JobError{
					SubmissionID: subID,
					Message:      "no gradable content for submission",
					OccurredAt:   now,
				})
				continue
			}
			return "", fmt.Errorf("resolve submission %s: %w", subID, err)
		}
		job.SubmissionIDs = append(job.SubmissionIDs, subID)
		items = append(items, domain.QueueItem{
			ID:           domain.ItemID(uuid.NewString()),
			JobID:        job.ID,
			SubmissionID: subID,
			Status:       domain.ItemStatusPending,
			MaxRetries:   m.cfg.Worker.Retry.MaxRetries,
			UpdatedAt:    now,
		})
	}
	job.Progress = domain.Progress{Total: len(items)}

	if err := m.repo.CreateJob(ctx, job, items); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}

	m.logger.Info("batch job created", "job_id", job.ID,
		"assignment_id", assignmentID, "items", len(items), "excluded", len(job.Errors))

	m.launch(job.ID)
	return job.ID, nil
}

// Snapshot returns the job and its queue items, read-only.
func (m *JobManager) Snapshot(ctx context.Context, jobID domain.JobID) (*domain.JobSnapshot, error) {
	job, err := m.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	items, err := m.repo.ListItems(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return &domain.JobSnapshot{Job: job, QueueItems: items}, nil
}

// Resume relaunches workers for jobs left processing by an earlier run, so
// a store outage or restart only stalls unfinished items instead of losing
// them. Pending jobs whose worker never claimed anything are picked up too.
// Items the crashed run left processing are released back to pending first;
// without that, no claim would ever pick them up again.
func (m *JobManager) Resume(ctx context.Context) error {
	for _, status := range []domain.JobStatus{domain.JobStatusProcessing, domain.JobStatusPending} {
		jobs, err := m.repo.ListJobs(ctx, status)
		if err != nil {
			return fmt.Errorf("list %s jobs: %w", status, err)
		}
		for _, job := range jobs {
			released, err := m.repo.ReleaseAbandonedItems(ctx, job.ID)
			if err != nil {
				return fmt.Errorf("release abandoned items of %s: %w", job.ID, err)
			}
			m.logger.Info("resuming unfinished job",
				"job_id", job.ID, "status", job.Status, "released", released)
			m.launch(job.ID)
		}
	}
	return nil
}

// launch starts a worker for the job, fire-and-forget. The global semaphore
// keeps the number of simultaneously draining jobs bounded; a job queued
// behind it simply starts later.
func (m *JobManager) launch(jobID domain.JobID) {
	go func() {
		if err := m.sem.Acquire(m.baseCtx, 1); err != nil {
			m.logger.Error("failed to acquire job slot", "job_id", jobID, "error", err)
			return
		}
		defer m.sem.Release(1)

		worker := NewWorker(m.logger, m.repo, m.source, m.grader, m.fallback, m.bus, m.cfg.Worker)
		if err := worker.Run(m.baseCtx, jobID); err != nil {
			// Infrastructure failure: the job stays processing and is
			// recoverable via Resume once the store is back.
			m.logger.Error("worker aborted", "job_id", jobID, "error", err)
		}
	}()
}

// RunRetention deletes completed jobs older than the retention window on a
// fixed cadence. Blocks until ctx is cancelled.
func (m *JobManager) RunRetention(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}
	m.logger.Info("retention reaper started", "interval", interval, "retention", m.cfg.Retention)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("retention reaper stopped")
			return nil
		case <-ticker.C:
			cutoff := time.Now().Add(-m.cfg.Retention)
			n, err := m.repo.DeleteJobsBefore(ctx, cutoff)
			if err != nil {
				m.logger.Error("retention sweep failed", "error", err)
				continue
			}
			if n > 0 {
				m.logger.Info("expired completed jobs removed", "count", n)
			}
		}
	}
}
