package schema

import (
	"time"
)

// WorkflowExecution is one run of a WorkflowDefinition. The engine owns it
// exclusively while active and persists it after every mutation.
type WorkflowExecution struct {
	ID         string                    `json:"id"`
	WorkflowID string                    `json:"workflow_id"`
	Status     WorkflowStatus            `json:"status"`
	Input      map[string]any            `json:"input,omitempty"`
	Output     map[string]any            `json:"output,omitempty"`
	Error      string                    `json:"error,omitempty"`
	Metadata   map[string]any            `json:"metadata,omitempty"`
	StartTime  *time.Time                `json:"start_time,omitempty"`
	EndTime    *time.Time                `json:"end_time,omitempty"`
	Tasks      map[string]*TaskExecution `json:"tasks"`
}

// Duration returns the wall-clock span of the execution, or the elapsed time
// so far when it has not finished.
func (e *WorkflowExecution) Duration() time.Duration {
	if e.StartTime == nil {
		return 0
	}
	end := time.Now().UTC()
	if e.EndTime != nil {
		end = *e.EndTime
	}
	return end.Sub(*e.StartTime)
}

// TaskExecution is the per-task record inside a WorkflowExecution.
type TaskExecution struct {
	TaskID    string         `json:"task_id"`
	Status    TaskStatus     `json:"status"`
	Input     map[string]any `json:"input,omitempty"`
	Output    map[string]any `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
	Retries   int            `json:"retries"`
	StartTime *time.Time     `json:"start_time,omitempty"`
	EndTime   *time.Time     `json:"end_time,omitempty"`
}

// Duration returns the wall-clock span of the task, zero while pending.
func (t *TaskExecution) Duration() time.Duration {
	if t.StartTime == nil || t.EndTime == nil {
		return 0
	}
	return t.EndTime.Sub(*t.StartTime)
}

// Checkpoint is a point-in-time snapshot of an execution, sufficient to
// reconstruct a new execution that resumes from that point.
type Checkpoint struct {
	ID             string                `json:"id"`
	ExecutionID    string                `json:"execution_id"`
	WorkflowID     string                `json:"workflow_id"`
	WorkflowStatus WorkflowStatus        `json:"workflow_status"`
	TaskStatuses   map[string]TaskStatus `json:"task_statuses"`
	CompletedTasks []string              `json:"completed_tasks"`
	StateData      map[string]any        `json:"state_data"`
	CreatedAt      time.Time             `json:"created_at"`
}

// ExecutionMetrics is a derived, read-only aggregate over an execution and
// its history. Never persisted as source of truth; always recomputable.
type ExecutionMetrics struct {
	ExecutionID     string                   `json:"execution_id"`
	TotalTasks      int                      `json:"total_tasks"`
	CompletedTasks  int                      `json:"completed_tasks"`
	FailedTasks     int                      `json:"failed_tasks"`
	SkippedTasks    int                      `json:"skipped_tasks"`
	TotalRetries    int                      `json:"total_retries"`
	CheckpointCount int                      `json:"checkpoint_count"`
	ErrorCount      int                      `json:"error_count"`
	Duration        time.Duration            `json:"duration"`
	TaskDurations   map[string]time.Duration `json:"task_durations,omitempty"`
}

// ExecutionSummary is the caller-facing status view of an execution.
type ExecutionSummary struct {
	ExecutionID    string         `json:"execution_id"`
	WorkflowID     string         `json:"workflow_id"`
	Status         WorkflowStatus `json:"status"`
	TotalTasks     int            `json:"total_tasks"`
	CompletedTasks int            `json:"completed_tasks"`
	FailedTasks    int            `json:"failed_tasks"`
	SkippedTasks   int            `json:"skipped_tasks"`
	Progress       float64        `json:"progress"`
	StartTime      *time.Time     `json:"start_time,omitempty"`
	EndTime        *time.Time     `json:"end_time,omitempty"`
	Error          string         `json:"error,omitempty"`
}
