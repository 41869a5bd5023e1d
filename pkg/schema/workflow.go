package schema

import (
	"encoding/json"
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow execution.
type WorkflowStatus string

const (
	WorkflowStatusPending   WorkflowStatus = "pending"
	WorkflowStatusRunning   WorkflowStatus = "running"
	WorkflowStatusPaused    WorkflowStatus = "paused"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusFailed    WorkflowStatus = "failed"
	WorkflowStatusCanceled  WorkflowStatus = "canceled"
)

// Terminal reports whether no further workflow transitions are possible.
func (s WorkflowStatus) Terminal() bool {
	switch s {
	case WorkflowStatusCompleted, WorkflowStatusFailed, WorkflowStatusCanceled:
		return true
	}
	return false
}

// TaskStatus represents the lifecycle state of a single task execution.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusSkipped   TaskStatus = "skipped"
)

// Terminal reports whether no further task transitions are possible.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped:
		return true
	}
	return false
}

// WorkflowDefinition describes a DAG of tasks. Definitions are treated as
// immutable once persisted; edits create a new version.
type WorkflowDefinition struct {
	ID           string                     `json:"id"`
	Name         string                     `json:"name"`
	Version      string                     `json:"version,omitempty"`
	Tasks        map[string]*TaskDefinition `json:"tasks"`
	InputSchema  json.RawMessage            `json:"input_schema,omitempty"`
	OutputSchema json.RawMessage            `json:"output_schema,omitempty"`
	Metadata     map[string]any             `json:"metadata,omitempty"`
	CreatedAt    time.Time                  `json:"created_at,omitempty"`
	UpdatedAt    time.Time                  `json:"updated_at,omitempty"`
}

// TaskDefinition describes one node of the DAG: which component action to
// invoke, the input template resolved against the execution context, and the
// prerequisite task IDs.
type TaskDefinition struct {
	ID        string          `json:"id"`
	Name      string          `json:"name,omitempty"`
	Component string          `json:"component"`
	Action    string          `json:"action"`
	Input     json.RawMessage `json:"input,omitempty"`
	DependsOn []string        `json:"depends_on,omitempty"`
	Retry     *RetryPolicy    `json:"retry,omitempty"`
	Transform string          `json:"transform,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// Condition returns the gating expression carried in metadata, or "" when
// the task is unconditional.
func (t *TaskDefinition) Condition() string {
	if t.Metadata == nil {
		return ""
	}
	cond, _ := t.Metadata["condition"].(string)
	return cond
}

// RetryPolicy governs backoff between task retries. Delays are
// time.ParseDuration strings ("1s", "500ms").
type RetryPolicy struct {
	MaxRetries        int     `json:"max_retries"`
	InitialDelay      string  `json:"initial_delay,omitempty"`
	MaxDelay          string  `json:"max_delay,omitempty"`
	BackoffMultiplier float64 `json:"backoff_multiplier,omitempty"`
}

// DefaultRetryPolicy is applied to tasks that declare no policy of their own.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:        3,
		InitialDelay:      "1s",
		MaxDelay:          "60s",
		BackoffMultiplier: 2.0,
	}
}
