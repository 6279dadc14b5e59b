package services

import (
	"log/slog"
	"sync"

	"github.com/manthysbr/aula/internal/core/domain"
)

// EventBus fans out status events to stream subscribers, keyed by job ID.
// Delivery is best-effort: a subscriber that stops draining its channel has
// events dropped rather than ever blocking a worker.
type EventBus struct {
	logger *slog.Logger
	mu     sync.RWMutex
	subs   map[domain.JobID][]chan domain.StatusEvent
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		logger: logger,
		subs:   make(map[domain.JobID][]chan domain.StatusEvent),
	}
}

// Subscribe returns a channel receiving events for one job from this moment
// onward, plus an unsubscribe function that closes the channel. The sequence
// is live and non-restartable; reconnecting clients take a fresh snapshot
// and subscribe again.
func (b *EventBus) Subscribe(jobID domain.JobID) (<-chan domain.StatusEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan domain.StatusEvent, 64) // buffer to keep publishers non-blocking
	b.subs[jobID] = append(b.subs[jobID], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subscribers := b.subs[jobID]
		for i, sub := range subscribers {
			if sub == ch {
				close(ch)
				b.subs[jobID] = append(subscribers[:i], subscribers[i+1:]...)
				break
			}
		}
		if len(b.subs[jobID]) == 0 {
			delete(b.subs, jobID)
		}
	}

	return ch, unsub
}

// Publish delivers an event to all current subscribers of e.JobID. Events
// for one job are never delivered to subscribers of another.
func (b *EventBus) Publish(e domain.StatusEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subscribers, ok := b.subs[e.JobID]
	if !ok {
		return
	}

	for _, ch := range subscribers {
		select {
		case ch <- e:
		default:
			// Slow subscriber: drop instead of blocking the worker.
			b.logger.Warn("subscriber channel full, dropping event",
				"job_id", e.JobID, "type", e.Type)
		}
	}
}

// SubscriberCount reports how many channels are registered for a job.
func (b *EventBus) SubscriberCount(jobID domain.JobID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[jobID])
}
