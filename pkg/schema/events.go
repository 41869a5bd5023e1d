package schema

import (
	"time"
)

// EventType identifies a lifecycle event in an execution's history.
type EventType string

// Event types appended to the execution history.
const (
	EventWorkflowStarted   EventType = "workflow_started"
	EventWorkflowCompleted EventType = "workflow_completed"
	EventWorkflowFailed    EventType = "workflow_failed"
	EventWorkflowCanceled  EventType = "workflow_canceled"
	EventWorkflowPaused    EventType = "workflow_paused"
	EventWorkflowResumed   EventType = "workflow_resumed"

	EventTaskStarted   EventType = "task_started"
	EventTaskCompleted EventType = "task_completed"
	EventTaskFailed    EventType = "task_failed"
	EventTaskSkipped   EventType = "task_skipped"

	EventRetryAttempted    EventType = "retry_attempted"
	EventCheckpointCreated EventType = "checkpoint_created"
	EventErrorOccurred     EventType = "error_occurred"
)

// ExecutionEvent is one append-only record in an execution's history.
// Sequence is assigned per execution, monotonically from 1, when the event
// is persisted.
type ExecutionEvent struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	Type        EventType      `json:"type"`
	TaskID      string         `json:"task_id,omitempty"`
	Message     string         `json:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	Sequence    int64          `json:"sequence,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// ExecutionHistory collects the events and checkpoint IDs of one execution.
// Append-only; the engine is the sole writer while the execution is active.
type ExecutionHistory struct {
	ExecutionID string            `json:"execution_id"`
	Events      []*ExecutionEvent `json:"events"`
	Checkpoints []string          `json:"checkpoints,omitempty"`
}

// CountByType returns how many recorded events have the given type.
func (h *ExecutionHistory) CountByType(t EventType) int {
	n := 0
	for _, e := range h.Events {
		if e.Type == t {
			n++
		}
	}
	return n
}
