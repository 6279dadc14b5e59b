// Package memory provides an in-process BatchRepository and SubmissionSource.
// It backs tests and the zero-configuration dev mode; production deployments
// point AULA_DB_PATH at DuckDB instead.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/manthysbr/aula/internal/core/domain"
	"github.com/manthysbr/aula/internal/core/ports"
)

type Repository struct {
	mu    sync.Mutex
	jobs  map[domain.JobID]*domain.BatchJob
	items map[domain.JobID][]*domain.QueueItem
}

var _ ports.BatchRepository = (*Repository)(nil)

func NewRepository() *Repository {
	return &Repository{
		jobs:  make(map[domain.JobID]*domain.BatchJob),
		items: make(map[domain.JobID][]*domain.QueueItem),
	}
}

func (r *Repository) CreateJob(_ context.Context, job *domain.BatchJob, items []domain.QueueItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j := cloneJob(job)
	r.jobs[job.ID] = j
	stored := make([]*domain.QueueItem, 0, len(items))
	for i := range items {
		it := items[i]
		stored = append(stored, &it)
	}
	r.items[job.ID] = stored
	return nil
}

func (r *Repository) GetJob(_ context.Context, id domain.JobID) (*domain.BatchJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (r *Repository) ListJobs(_ context.Context, status domain.JobStatus) ([]domain.BatchJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.BatchJob
	for _, job := range r.jobs {
		if job.Status == status {
			out = append(out, *cloneJob(job))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *Repository) ListItems(_ context.Context, jobID domain.JobID) ([]domain.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[jobID]; !ok {
		return nil, domain.ErrJobNotFound
	}
	items := r.items[jobID]
	out := make([]domain.QueueItem, 0, len(items))
	for _, it := range items {
		out = append(out, *cloneItem(it))
	}
	return out, nil
}

func (r *Repository) ClaimNextItem(_ context.Context, jobID domain.JobID, now time.Time) (*domain.QueueItem, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[jobID]; !ok {
		return nil, false, domain.ErrJobNotFound
	}

	remaining := false
	for _, it := range r.items[jobID] {
		if !it.Status.Terminal() {
			remaining = true
		}
		if it.Eligible(now) {
			it.Status = domain.ItemStatusProcessing
			it.UpdatedAt = now
			return cloneItem(it), true, nil
		}
	}
	return nil, remaining, nil
}

func (r *Repository) UpdateItem(_ context.Context, item *domain.QueueItem, fromStatus domain.ItemStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, it := range r.items[item.JobID] {
		if it.ID == item.ID {
			if it.Status != fromStatus {
				return domain.ErrItemNotFound
			}
			updated := cloneItem(item)
			updated.UpdatedAt = time.Now()
			r.items[item.JobID][i] = updated
			return nil
		}
	}
	return domain.ErrItemNotFound
}

func (r *Repository) MarkJobProcessing(_ context.Context, id domain.JobID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.Status == domain.JobStatusPending {
		job.Status = domain.JobStatusProcessing
	}
	return nil
}

func (r *Repository) ReleaseAbandonedItems(_ context.Context, jobID domain.JobID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[jobID]; !ok {
		return 0, domain.ErrJobNotFound
	}
	n := 0
	for _, it := range r.items[jobID] {
		if it.Status == domain.ItemStatusProcessing {
			it.Status = domain.ItemStatusPending
			it.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (r *Repository) AppendJobError(_ context.Context, id domain.JobID, jobErr domain.JobError) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	job.Errors = append(job.Errors, jobErr)
	return nil
}

func (r *Repository) RefreshJobProgress(_ context.Context, id domain.JobID) (*domain.BatchJob, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, false, domain.ErrJobNotFound
	}

	completed, failed := 0, 0
	for _, it := range r.items[id] {
		switch it.Status {
		case domain.ItemStatusCompleted:
			completed++
		case domain.ItemStatusFailed:
			failed++
		}
	}
	job.Progress.Completed = completed
	job.Progress.Failed = failed

	completedNow := false
	if job.Terminal() && job.Status != domain.JobStatusCompleted {
		job.Status = domain.JobStatusCompleted
		completedNow = true
	}
	return cloneJob(job), completedNow, nil
}

func (r *Repository) DeleteJobsBefore(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, job := range r.jobs {
		if job.Status == domain.JobStatusCompleted && job.CreatedAt.Before(cutoff) {
			delete(r.jobs, id)
			delete(r.items, id)
			n++
		}
	}
	return n, nil
}

func cloneJob(job *domain.BatchJob) *domain.BatchJob {
	j := *job
	j.SubmissionIDs = append([]domain.SubmissionID(nil), job.SubmissionIDs...)
	j.Errors = append([]domain.JobError(nil), job.Errors...)
	return &j
}

func cloneItem(item *domain.QueueItem) *domain.QueueItem {
	it := *item
	if item.LastError != nil {
		msg := *item.LastError
		it.LastError = &msg
	}
	if item.Result != nil {
		res := *item.Result
		it.Result = &res
	}
	return &it
}
