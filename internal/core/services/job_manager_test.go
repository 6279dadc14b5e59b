package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/manthysbr/aula/internal/adapters/memory"
	"github.com/manthysbr/aula/internal/core/domain"
	"github.com/manthysbr/aula/internal/core/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedGrader returns canned outcomes per submission content, in order.
// The last outcome repeats once the script is exhausted.
type scriptedGrader struct {
	mu      sync.Mutex
	scripts map[string][]outcome
	calls   map[string]int
	gate    chan struct{} // when non-nil, every call waits for the gate
}

type outcome struct {
	eval *domain.Evaluation
	err  error
}

func pass(level string) outcome {
	return outcome{eval: &domain.Evaluation{OverallLevel: level, Feedback: "ok"}}
}

func failTransient() outcome {
	return outcome{err: domain.NewTransientError("upstream 503", nil)}
}

func failPermanent() outcome {
	return outcome{err: domain.NewPermanentError("invalid content", nil)}
}

func newScriptedGrader() *scriptedGrader {
	return &scriptedGrader{scripts: map[string][]outcome{}, calls: map[string]int{}}
}

func (g *scriptedGrader) script(content string, outcomes ...outcome) {
	g.scripts[content] = outcomes
}

func (g *scriptedGrader) Evaluate(ctx context.Context, content string, _ domain.Rubric) (*domain.Evaluation, error) {
	if g.gate != nil {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	script, ok := g.scripts[content]
	if !ok || len(script) == 0 {
		return nil, domain.NewPermanentError("no script for content", nil)
	}
	idx := g.calls[content]
	if idx >= len(script) {
		idx = len(script) - 1
	}
	g.calls[content] += 1

	out := script[idx]
	return out.eval, out.err
}

func (g *scriptedGrader) callCount(content string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[content]
}

const testAssignment = domain.AssignmentID("a1")

func seedSource(ids ...domain.SubmissionID) *memory.Source {
	source := memory.NewSource()
	source.PutAssignment(domain.Assignment{
		ID:    testAssignment,
		Title: "Persuasive essay",
		Rubric: domain.Rubric{
			Domains:      []string{"structure", "evidence"},
			Levels:       []string{"beginning", "developing", "proficient", "advanced"},
			CriteriaText: "Argue a position with supporting evidence.",
		},
	})
	for _, id := range ids {
		source.PutSubmission(domain.Submission{
			ID:           id,
			AssignmentID: testAssignment,
			StudentName:  "Student " + string(id),
			Content:      "essay " + string(id),
		})
	}
	return source
}

func fastConfig() ManagerConfig {
	return ManagerConfig{
		Worker: WorkerConfig{
			PoolSize:       2,
			AttemptTimeout: time.Second,
			PollInterval:   5 * time.Millisecond,
			Retry:          RetryPolicy{MaxRetries: 2, BaseDelay: 2 * time.Millisecond},
		},
	}
}

func newTestManager(t *testing.T, source ports.SubmissionSource, grader, fallback ports.Grader) (*JobManager, *memory.Repository, *EventBus) {
	t.Helper()
	repo := memory.NewRepository()
	bus := NewEventBus(testLogger())
	mgr := NewJobManager(testLogger(), repo, source, grader, fallback, bus, fastConfig())
	return mgr, repo, bus
}

func waitForTerminal(t *testing.T, mgr *JobManager, jobID domain.JobID) *domain.JobSnapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := mgr.Snapshot(context.Background(), jobID)
		require.NoError(t, err)
		if snap.Job.Status == domain.JobStatusCompleted {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never completed", jobID)
	return nil
}

func itemBySubmission(t *testing.T, snap *domain.JobSnapshot, id domain.SubmissionID) domain.QueueItem {
	t.Helper()
	for _, it := range snap.QueueItems {
		if it.SubmissionID == id {
			return it
		}
	}
	t.Fatalf("no queue item for submission %s", id)
	return domain.QueueItem{}
}

func TestJobManager_StartValidation(t *testing.T) {
	mgr, _, _ := newTestManager(t, seedSource("s1"), newScriptedGrader(), nil)

	_, err := mgr.Start(context.Background(), testAssignment, nil)
	assert.ErrorIs(t, err, domain.ErrNoSubmissions)

	_, err = mgr.Start(context.Background(), "missing-assignment", []domain.SubmissionID{"s1"})
	assert.ErrorIs(t, err, domain.ErrAssignmentNotFound)
}

func TestJobManager_DedupesAndRecordsSyntheticErrors(t *testing.T) {
	g := newScriptedGrader()
	g.script("essay s1", pass("proficient"))
	mgr, _, _ := newTestManager(t, seedSource("s1"), g, nil)

	jobID, err := mgr.Start(context.Background(), testAssignment,
		[]domain.SubmissionID{"s1", "s1", "ghost"})
	require.NoError(t, err)

	snap := waitForTerminal(t, mgr, jobID)
	assert.Equal(t, 1, snap.Job.Progress.Total, "duplicate and unresolvable ids excluded")
	assert.Len(t, snap.QueueItems, 1)
	require.Len(t, snap.Job.Errors, 1)
	assert.Equal(t, domain.SubmissionID("ghost"), snap.Job.Errors[0].SubmissionID)
}

func TestPipeline_AllItemsSucceed(t *testing.T) {
	g := newScriptedGrader()
	g.script("essay s1", pass("proficient"))
	g.script("essay s2", pass("advanced"))
	g.script("essay s3", pass("developing"))
	mgr, _, _ := newTestManager(t, seedSource("s1", "s2", "s3"), g, nil)

	jobID, err := mgr.Start(context.Background(), testAssignment,
		[]domain.SubmissionID{"s1", "s2", "s3"})
	require.NoError(t, err)

	snap := waitForTerminal(t, mgr, jobID)
	assert.Equal(t, domain.Progress{Total: 3, Completed: 3, Failed: 0}, snap.Job.Progress)
	for _, it := range snap.QueueItems {
		assert.Equal(t, domain.ItemStatusCompleted, it.Status)
		require.NotNil(t, it.Result)
		assert.False(t, it.Result.Degraded)
	}
}

func TestPipeline_TransientFailuresRetryThenSucceed(t *testing.T) {
	g := newScriptedGrader()
	g.script("essay s1", pass("proficient"))
	g.script("essay s2", failTransient(), failTransient(), pass("developing"))
	g.script("essay s3", pass("advanced"))
	mgr, _, _ := newTestManager(t, seedSource("s1", "s2", "s3"), g, nil)

	jobID, err := mgr.Start(context.Background(), testAssignment,
		[]domain.SubmissionID{"s1", "s2", "s3"})
	require.NoError(t, err)

	snap := waitForTerminal(t, mgr, jobID)
	assert.Equal(t, domain.Progress{Total: 3, Completed: 3, Failed: 0}, snap.Job.Progress)

	s2 := itemBySubmission(t, snap, "s2")
	assert.Equal(t, domain.ItemStatusCompleted, s2.Status)
	assert.Equal(t, 2, s2.RetryCount)
	assert.Equal(t, 3, g.callCount("essay s2"))
	assert.Empty(t, snap.Job.Errors)
}

func TestPipeline_PermanentFailureNeverRetries(t *testing.T) {
	g := newScriptedGrader()
	g.script("essay s1", failPermanent())
	mgr, _, _ := newTestManager(t, seedSource("s1"), g, nil)

	jobID, err := mgr.Start(context.Background(), testAssignment, []domain.SubmissionID{"s1"})
	require.NoError(t, err)

	snap := waitForTerminal(t, mgr, jobID)
	assert.Equal(t, domain.Progress{Total: 1, Completed: 0, Failed: 1}, snap.Job.Progress)

	s1 := itemBySubmission(t, snap, "s1")
	assert.Equal(t, domain.ItemStatusFailed, s1.Status)
	assert.Equal(t, 0, s1.RetryCount)
	assert.Equal(t, 1, g.callCount("essay s1"))
	require.Len(t, snap.Job.Errors, 1)
	assert.Equal(t, domain.SubmissionID("s1"), snap.Job.Errors[0].SubmissionID)
}

func TestPipeline_RetryCountCappedAtMaxRetries(t *testing.T) {
	g := newScriptedGrader()
	g.script("essay s1", failTransient())
	mgr, _, _ := newTestManager(t, seedSource("s1"), g, nil)

	jobID, err := mgr.Start(context.Background(), testAssignment, []domain.SubmissionID{"s1"})
	require.NoError(t, err)

	snap := waitForTerminal(t, mgr, jobID)
	s1 := itemBySubmission(t, snap, "s1")
	assert.Equal(t, domain.ItemStatusFailed, s1.Status)
	assert.Equal(t, 2, s1.RetryCount)
	assert.LessOrEqual(t, s1.RetryCount, s1.MaxRetries)
	assert.Equal(t, 3, g.callCount("essay s1"), "one initial attempt plus two retries")
}

func TestPipeline_DegradedFallbackAfterExhaustedRetries(t *testing.T) {
	g := newScriptedGrader()
	g.script("essay s1", failTransient())
	mgr, _, _ := newTestManager(t, seedSource("s1"), g, fallbackGrader{})

	jobID, err := mgr.Start(context.Background(), testAssignment, []domain.SubmissionID{"s1"})
	require.NoError(t, err)

	snap := waitForTerminal(t, mgr, jobID)
	assert.Equal(t, domain.Progress{Total: 1, Completed: 1, Failed: 0}, snap.Job.Progress)

	s1 := itemBySubmission(t, snap, "s1")
	assert.Equal(t, domain.ItemStatusCompleted, s1.Status)
	require.NotNil(t, s1.Result)
	assert.True(t, s1.Result.Degraded, "substitute evaluations must carry the explicit tag")
}

// fallbackGrader is a minimal degraded substitute for tests.
type fallbackGrader struct{}

func (fallbackGrader) Evaluate(context.Context, string, domain.Rubric) (*domain.Evaluation, error) {
	return &domain.Evaluation{OverallLevel: "developing", Degraded: true}, nil
}

func TestPipeline_RestartCreatesIndependentJob(t *testing.T) {
	g := newScriptedGrader()
	g.script("essay s1", pass("proficient"))
	mgr, _, _ := newTestManager(t, seedSource("s1"), g, nil)

	first, err := mgr.Start(context.Background(), testAssignment, []domain.SubmissionID{"s1"})
	require.NoError(t, err)
	firstSnap := waitForTerminal(t, mgr, first)

	second, err := mgr.Start(context.Background(), testAssignment, []domain.SubmissionID{"s1"})
	require.NoError(t, err)
	require.NotEqual(t, first, second)
	waitForTerminal(t, mgr, second)

	// Prior job's rows are untouched by the rerun.
	again, err := mgr.Snapshot(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, firstSnap.Job.Progress, again.Job.Progress)
	assert.Equal(t, firstSnap.QueueItems[0].ID, again.QueueItems[0].ID)
}

func TestPipeline_StreamAndSnapshotConverge(t *testing.T) {
	g := newScriptedGrader()
	g.gate = make(chan struct{})
	g.script("essay s1", pass("proficient"))
	g.script("essay s2", failTransient(), pass("developing"))
	mgr, _, bus := newTestManager(t, seedSource("s1", "s2"), g, nil)

	jobID, err := mgr.Start(context.Background(), testAssignment,
		[]domain.SubmissionID{"s1", "s2"})
	require.NoError(t, err)

	// The gate holds workers until the subscriber is registered.
	ch, unsub := bus.Subscribe(jobID)
	defer unsub()
	close(g.gate)

	var events []domain.StatusEvent
	timeout := time.After(5 * time.Second)
collect:
	for {
		select {
		case evt := <-ch:
			events = append(events, evt)
			if evt.Type == domain.EventJobCompleted {
				break collect
			}
		case <-timeout:
			t.Fatal("never saw job_completed on the stream")
		}
	}

	snap := waitForTerminal(t, mgr, jobID)
	assert.Equal(t, domain.Progress{Total: 2, Completed: 2, Failed: 0}, snap.Job.Progress)

	completions := 0
	retries := 0
	for _, evt := range events {
		switch evt.Type {
		case domain.EventItemCompleted:
			completions++
		case domain.EventItemRetrying:
			retries++
		}
	}
	assert.Equal(t, snap.Job.Progress.Completed, completions,
		"stream and snapshot must agree on the terminal state")
	assert.Equal(t, 1, retries)
}

func TestJobManager_ResumeRelaunchesUnfinishedJobs(t *testing.T) {
	g := newScriptedGrader()
	g.script("essay s1", pass("proficient"))
	source := seedSource("s1")
	repo := memory.NewRepository()
	bus := NewEventBus(testLogger())

	// Simulate a job left behind by a previous process: persisted rows,
	// no running worker.
	now := time.Now()
	job := &domain.BatchJob{
		ID:            "orphan",
		AssignmentID:  testAssignment,
		SubmissionIDs: []domain.SubmissionID{"s1"},
		Status:        domain.JobStatusProcessing,
		Progress:      domain.Progress{Total: 1},
		Errors:        []domain.JobError{},
		CreatedAt:     now,
	}
	items := []domain.QueueItem{{
		ID:           "orphan-item",
		JobID:        "orphan",
		SubmissionID: "s1",
		Status:       domain.ItemStatusPending,
		MaxRetries:   2,
		UpdatedAt:    now,
	}}
	require.NoError(t, repo.CreateJob(context.Background(), job, items))

	mgr := NewJobManager(testLogger(), repo, source, g, nil, bus, fastConfig())
	require.NoError(t, mgr.Resume(context.Background()))

	snap := waitForTerminal(t, mgr, "orphan")
	assert.Equal(t, domain.Progress{Total: 1, Completed: 1, Failed: 0}, snap.Job.Progress)
}

func TestJobManager_ResumeReclaimsItemsLeftProcessing(t *testing.T) {
	g := newScriptedGrader()
	g.script("essay s1", pass("proficient"))
	source := seedSource("s1")
	repo := memory.NewRepository()
	bus := NewEventBus(testLogger())

	// A crash mid-attempt leaves the item processing. Nothing claims a
	// processing item, so Resume must release it back to pending or the
	// relaunched worker polls forever.
	now := time.Now()
	job := &domain.BatchJob{
		ID:            "crashed",
		AssignmentID:  testAssignment,
		SubmissionIDs: []domain.SubmissionID{"s1"},
		Status:        domain.JobStatusProcessing,
		Progress:      domain.Progress{Total: 1},
		Errors:        []domain.JobError{},
		CreatedAt:     now,
	}
	items := []domain.QueueItem{{
		ID:           "crashed-item",
		JobID:        "crashed",
		SubmissionID: "s1",
		Status:       domain.ItemStatusProcessing,
		RetryCount:   1,
		MaxRetries:   2,
		UpdatedAt:    now.Add(-time.Minute),
	}}
	require.NoError(t, repo.CreateJob(context.Background(), job, items))

	mgr := NewJobManager(testLogger(), repo, source, g, nil, bus, fastConfig())
	require.NoError(t, mgr.Resume(context.Background()))

	snap := waitForTerminal(t, mgr, "crashed")
	assert.Equal(t, domain.Progress{Total: 1, Completed: 1, Failed: 0}, snap.Job.Progress)
	s1 := itemBySubmission(t, snap, "s1")
	assert.Equal(t, domain.ItemStatusCompleted, s1.Status)
}

func TestJobManager_RetentionSweepsCompletedJobs(t *testing.T) {
	g := newScriptedGrader()
	g.script("essay s1", pass("proficient"))
	mgr, repo, _ := newTestManager(t, seedSource("s1"), g, nil)

	jobID, err := mgr.Start(context.Background(), testAssignment, []domain.SubmissionID{"s1"})
	require.NoError(t, err)
	waitForTerminal(t, mgr, jobID)

	n, err := repo.DeleteJobsBefore(context.Background(), time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = mgr.Snapshot(context.Background(), jobID)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}
