package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/manthysbr/aula/internal/core/domain"
	"github.com/manthysbr/aula/internal/core/ports"
	"golang.org/x/sync/errgroup"
)

// WorkerConfig bounds a single job's evaluation loop.
type WorkerConfig struct {
	// PoolSize caps concurrent grading calls per job, respecting the
	// grading service's rate limits. 1 reproduces strictly sequential
	// processing; anything above trades ordering for throughput.
	PoolSize int
	// AttemptTimeout bounds one grading call. Expiry counts as transient.
	AttemptTimeout time.Duration
	// PollInterval is how long the loop waits when nothing is claimable
	// yet (items in backoff, or attempts still in flight).
	PollInterval time.Duration
	Retry        RetryPolicy
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.PoolSize <= 0 {
		c.PoolSize = 2
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 120 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.Retry.MaxRetries == 0 && c.Retry.BaseDelay == 0 {
		c.Retry = DefaultRetryPolicy()
	}
	return c
}

// Worker drains one job's queue items: claim, grade, persist, emit. Attempts
// on a single item are strictly sequential; across items the pool runs up to
// PoolSize grading calls at once. Per-item failures never abort the job —
// only a store failure does, leaving the job processing for a later resume.
type Worker struct {
	logger *slog.Logger
	repo   ports.BatchRepository
	source ports.SubmissionSource
	grader ports.Grader
	// fallback, when non-nil, stands in after the retry budget is spent on
	// a transient outage. Its evaluations arrive tagged Degraded.
	fallback ports.Grader
	bus      *EventBus
	cfg      WorkerConfig
}

func NewWorker(logger *slog.Logger, repo ports.BatchRepository, source ports.SubmissionSource, grader, fallback ports.Grader, bus *EventBus, cfg WorkerConfig) *Worker {
	return &Worker{
		logger:   logger,
		repo:     repo,
		source:   source,
		grader:   grader,
		fallback: fallback,
		bus:      bus,
		cfg:      cfg.withDefaults(),
	}
}

// Run processes the job until every item is terminal. It blocks; callers
// launch it on a goroutine. The context must not be tied to any client
// request: a disconnecting observer never cancels server-side evaluation.
func (w *Worker) Run(ctx context.Context, jobID domain.JobID) error {
	job, err := w.repo.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}

	assignment, err := w.source.GetAssignment(ctx, job.AssignmentID)
	if err != nil {
		return fmt.Errorf("load assignment %s: %w", job.AssignmentID, err)
	}
	rubric := assignment.Rubric

	w.logger.Info("worker started", "job_id", jobID, "total", job.Progress.Total, "pool", w.cfg.PoolSize)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.PoolSize)

	marked := false
	for {
		if gctx.Err() != nil {
			break
		}

		item, remaining, err := w.repo.ClaimNextItem(gctx, jobID, time.Now())
		if err != nil {
			w.logger.Error("claim failed, stopping worker", "job_id", jobID, "error", err)
			_ = g.Wait()
			return fmt.Errorf("claim item: %w", err)
		}

		if item == nil {
			if !remaining {
				break
			}
			// Items still in backoff or attempts in flight.
			select {
			case <-gctx.Done():
			case <-time.After(w.cfg.PollInterval):
			}
			continue
		}

		if !marked {
			if err := w.repo.MarkJobProcessing(gctx, jobID); err != nil {
				w.logger.Error("mark processing failed", "job_id", jobID, "error", err)
			}
			marked = true
		}

		claimed := item
		g.Go(func() error {
			return w.attempt(gctx, claimed, rubric)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	refreshed, completedNow, err := w.repo.RefreshJobProgress(ctx, jobID)
	if err != nil {
		return fmt.Errorf("refresh job: %w", err)
	}
	if completedNow {
		w.bus.Publish(domain.StatusEvent{
			Type:      domain.EventJobCompleted,
			JobID:     jobID,
			Timestamp: time.Now(),
		})
	}

	w.logger.Info("worker finished", "job_id", jobID,
		"completed", refreshed.Progress.Completed, "failed", refreshed.Progress.Failed)
	return nil
}

// attempt runs one grading call for a claimed item and persists the outcome.
// Only store failures are returned; grading failures are absorbed into the
// item's retry state.
func (w *Worker) attempt(ctx context.Context, item *domain.QueueItem, rubric domain.Rubric) error {
	w.bus.Publish(domain.StatusEvent{
		Type:         domain.EventItemStarted,
		JobID:        item.JobID,
		SubmissionID: item.SubmissionID,
		Timestamp:    time.Now(),
		RetryCount:   item.RetryCount,
	})

	eval, gradeErr := w.grade(ctx, item, rubric)

	if gradeErr != nil {
		if retry, _ := w.cfg.Retry.Decide(gradeErr, item.RetryCount); !retry && domain.IsTransient(gradeErr) && w.fallback != nil {
			// Model unreachable and no retries left: grade with the
			// degraded substitute rather than failing the item. The
			// evaluation carries an explicit Degraded tag.
			if sub, serr := w.source.GetSubmission(ctx, item.SubmissionID); serr == nil {
				if degraded, derr := w.fallback.Evaluate(ctx, sub.Content, rubric); derr == nil {
					w.logger.Warn("using degraded evaluator",
						"job_id", item.JobID, "submission_id", item.SubmissionID, "cause", gradeErr)
					eval, gradeErr = degraded, nil
				}
			}
		}
	}

	if gradeErr == nil {
		item.Status = domain.ItemStatusCompleted
		item.Result = eval
		item.LastError = nil
		if err := w.repo.UpdateItem(ctx, item, domain.ItemStatusProcessing); err != nil {
			return fmt.Errorf("persist completed item %s: %w", item.ID, err)
		}
		w.bus.Publish(domain.StatusEvent{
			Type:         domain.EventItemCompleted,
			JobID:        item.JobID,
			SubmissionID: item.SubmissionID,
			Timestamp:    time.Now(),
			OverallLevel: eval.OverallLevel,
			Degraded:     eval.Degraded,
		})
		return w.refresh(ctx, item.JobID)
	}

	msg := gradeErr.Error()
	item.LastError = &msg

	retry, delay := w.cfg.Retry.Decide(gradeErr, item.RetryCount)
	if retry {
		item.RetryCount++
		item.Status = domain.ItemStatusRetrying
		item.NextAttemptAt = time.Now().Add(delay)
		if err := w.repo.UpdateItem(ctx, item, domain.ItemStatusProcessing); err != nil {
			return fmt.Errorf("persist retrying item %s: %w", item.ID, err)
		}
		w.logger.Warn("grading attempt failed, will retry",
			"job_id", item.JobID, "submission_id", item.SubmissionID,
			"retry_count", item.RetryCount, "delay", delay, "error", gradeErr)
		w.bus.Publish(domain.StatusEvent{
			Type:         domain.EventItemRetrying,
			JobID:        item.JobID,
			SubmissionID: item.SubmissionID,
			Timestamp:    time.Now(),
			Error:        msg,
			RetryCount:   item.RetryCount,
		})
		return nil
	}

	item.Status = domain.ItemStatusFailed
	if err := w.repo.UpdateItem(ctx, item, domain.ItemStatusProcessing); err != nil {
		return fmt.Errorf("persist failed item %s: %w", item.ID, err)
	}
	if err := w.repo.AppendJobError(ctx, item.JobID, domain.JobError{
		SubmissionID: item.SubmissionID,
		Message:      msg,
		OccurredAt:   time.Now(),
	}); err != nil {
		return fmt.Errorf("append job error: %w", err)
	}
	w.logger.Error("grading failed permanently",
		"job_id", item.JobID, "submission_id", item.SubmissionID,
		"retry_count", item.RetryCount, "error", gradeErr)
	w.bus.Publish(domain.StatusEvent{
		Type:         domain.EventItemFailed,
		JobID:        item.JobID,
		SubmissionID: item.SubmissionID,
		Timestamp:    time.Now(),
		Error:        msg,
		RetryCount:   item.RetryCount,
	})
	return w.refresh(ctx, item.JobID)
}

// grade resolves the submission content and calls the grader with a
// per-attempt timeout. Timeout expiry is classified transient.
func (w *Worker) grade(ctx context.Context, item *domain.QueueItem, rubric domain.Rubric) (*domain.Evaluation, error) {
	sub, err := w.source.GetSubmission(ctx, item.SubmissionID)
	if err != nil {
		if errors.Is(err, domain.ErrSubmissionNotFound) {
			return nil, domain.NewPermanentError("submission vanished", err)
		}
		return nil, domain.NewTransientError("resolve submission", err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, w.cfg.AttemptTimeout)
	defer cancel()

	eval, err := w.grader.Evaluate(attemptCtx, sub.Content, rubric)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.NewTransientError("grading call timed out", err)
		}
		return nil, err
	}
	return eval, nil
}

// refresh recomputes job counters after a terminal item and emits the
// terminal job event when this call completed the job.
func (w *Worker) refresh(ctx context.Context, jobID domain.JobID) error {
	_, completedNow, err := w.repo.RefreshJobProgress(ctx, jobID)
	if err != nil {
		return fmt.Errorf("refresh job: %w", err)
	}
	if completedNow {
		w.bus.Publish(domain.StatusEvent{
			Type:      domain.EventJobCompleted,
			JobID:     jobID,
			Timestamp: time.Now(),
		})
	}
	return nil
}
