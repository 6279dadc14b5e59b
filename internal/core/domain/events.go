package domain

import "time"

// EventType identifies a queue item or job state transition.
type EventType string

const (
	EventItemStarted   EventType = "item_started"
	EventItemCompleted EventType = "item_completed"
	EventItemFailed    EventType = "item_failed"
	EventItemRetrying  EventType = "item_retrying"
	EventJobCompleted  EventType = "job_completed"
	// EventSnapshot is synthetic: emitted once at subscribe time so late
	// subscribers reach a consistent view without replaying history.
	EventSnapshot EventType = "snapshot"
)

// StatusEvent is a discrete notification pushed to stream subscribers.
type StatusEvent struct {
	Type         EventType    `json:"type"`
	JobID        JobID        `json:"job_id"`
	SubmissionID SubmissionID `json:"submission_id,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
	OverallLevel string       `json:"overall_level,omitempty"`
	Degraded     bool         `json:"degraded,omitempty"`
	Error        string       `json:"error,omitempty"`
	RetryCount   int          `json:"retry_count,omitempty"`
	// Snapshot is set only on EventSnapshot events.
	Snapshot *JobSnapshot `json:"snapshot,omitempty"`
}

// JobSnapshot is the read-only view returned by snapshot queries and carried
// on the synthetic snapshot event.
type JobSnapshot struct {
	Job        *BatchJob   `json:"job"`
	QueueItems []QueueItem `json:"queue_items"`
}
