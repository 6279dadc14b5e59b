package services

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/manthysbr/aula/internal/core/domain"
	"github.com/stretchr/testify/assert"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func TestEventBus_PubSub(t *testing.T) {
	bus := NewEventBus(testLogger())
	jobID := domain.JobID("job-123")

	ch, unsub := bus.Subscribe(jobID)
	defer unsub()

	event := domain.StatusEvent{
		Type:         domain.EventItemCompleted,
		JobID:        jobID,
		SubmissionID: "s1",
		Timestamp:    time.Now(),
		OverallLevel: "proficient",
	}
	bus.Publish(event)

	select {
	case received := <-ch:
		assert.Equal(t, event.JobID, received.JobID)
		assert.Equal(t, event.Type, received.Type)
		assert.Equal(t, event.SubmissionID, received.SubmissionID)
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEventBus_JobIsolation(t *testing.T) {
	bus := NewEventBus(testLogger())

	chA, unsubA := bus.Subscribe("job-a")
	defer unsubA()

	bus.Publish(domain.StatusEvent{Type: domain.EventItemStarted, JobID: "job-b"})

	select {
	case evt := <-chA:
		t.Fatalf("subscriber of job-a received event for %s", evt.JobID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus(testLogger())
	jobID := domain.JobID("job-456")

	ch, unsub := bus.Subscribe(jobID)
	unsub()

	bus.Publish(domain.StatusEvent{Type: domain.EventItemStarted, JobID: jobID})

	_, ok := <-ch
	assert.False(t, ok, "channel must be closed after unsubscribe")
	assert.Zero(t, bus.SubscriberCount(jobID))
}

func TestEventBus_MultipleSubscribers(t *testing.T) {
	bus := NewEventBus(testLogger())
	jobID := domain.JobID("job-multi")

	ch1, unsub1 := bus.Subscribe(jobID)
	defer unsub1()
	ch2, unsub2 := bus.Subscribe(jobID)
	defer unsub2()

	bus.Publish(domain.StatusEvent{Type: domain.EventJobCompleted, JobID: jobID})

	timeout := time.After(1 * time.Second)
	for _, ch := range []<-chan domain.StatusEvent{ch1, ch2} {
		select {
		case evt := <-ch:
			assert.Equal(t, domain.EventJobCompleted, evt.Type)
		case <-timeout:
			t.Fatal("timeout waiting for fan-out")
		}
	}
}

func TestEventBus_SlowSubscriberNeverBlocksPublisher(t *testing.T) {
	bus := NewEventBus(testLogger())
	jobID := domain.JobID("job-slow")

	_, unsub := bus.Subscribe(jobID)
	defer unsub()

	// Publish far more events than the channel buffers; the publisher must
	// drop, not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			bus.Publish(domain.StatusEvent{Type: domain.EventItemStarted, JobID: jobID})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
}
