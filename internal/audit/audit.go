// Package audit provides a durable trail of workflow lifecycle events.
// It defines the Store interface (port) and implementations backed by
// Postgres and in-memory storage.
package audit

import (
	"context"
	"errors"
	"time"
)

// Static errors for audit store operations.
var (
	// ErrWorkflowIDRequired is returned when the workflow ID is not provided.
	ErrWorkflowIDRequired = errors.New("audit: workflow ID is required")
	// ErrEventTypeRequired is returned when the event type is not provided.
	ErrEventTypeRequired = errors.New("audit: event type is required")
)

// EventType identifies the kind of lifecycle event being recorded.
type EventType string

// Lifecycle event types written by workflows and activities.
const (
	EventWorkflowStarted   EventType = "workflow_started"
	EventWorkflowCompleted EventType = "workflow_completed"
	EventWorkflowFailed    EventType = "workflow_failed"
	EventStepStarted       EventType = "step_started"
	EventStepCompleted     EventType = "step_completed"
	EventStepFailed        EventType = "step_failed"
	EventStateUpdated      EventType = "state_updated"
	EventErrorRecorded     EventType = "error_recorded"
	EventRetryAttempted    EventType = "retry_attempted"
)

// Entry is one recorded lifecycle event.
type Entry struct {
	ID         int64             `json:"id"`
	WorkflowID string            `json:"workflow_id"`
	RunID      string            `json:"run_id,omitempty"`
	EventType  EventType         `json:"event_type"`
	Step       string            `json:"step,omitempty"`
	Status     string            `json:"status,omitempty"`
	Message    string            `json:"message,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Validate checks that the entry carries the required identifying fields.
func (e Entry) Validate() error {
	if e.WorkflowID == "" {
		return ErrWorkflowIDRequired
	}
	if e.EventType == "" {
		return ErrEventTypeRequired
	}
	return nil
}

// Store defines the interface for the audit trail.
type Store interface {
	// LogEvent records a lifecycle event and returns its assigned ID.
	LogEvent(ctx context.Context, e Entry) (int64, error)

	// History returns the events for a workflow in chronological order,
	// newest first, using limit/offset pagination.
	History(ctx context.Context, workflowID string, limit, offset int) ([]Entry, error)

	// CleanupOldEntries deletes entries older than the retention window
	// and returns the number removed.
	CleanupOldEntries(ctx context.Context, retention time.Duration) (int64, error)
}
