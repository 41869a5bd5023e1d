package engine

import (
	"time"

	"github.com/harmonia-labs/harmonia/pkg/schema"
)

// BuildSummary derives the caller-facing status view from an execution.
// Progress is the fraction of tasks in a terminal state.
func BuildSummary(exec *schema.WorkflowExecution) *schema.ExecutionSummary {
	s := &schema.ExecutionSummary{
		ExecutionID: exec.ID,
		WorkflowID:  exec.WorkflowID,
		Status:      exec.Status,
		TotalTasks:  len(exec.Tasks),
		StartTime:   exec.StartTime,
		EndTime:     exec.EndTime,
		Error:       exec.Error,
	}

	terminal := 0
	for _, te := range exec.Tasks {
		switch te.Status {
		case schema.TaskStatusCompleted:
			s.CompletedTasks++
		case schema.TaskStatusFailed:
			s.FailedTasks++
		case schema.TaskStatusSkipped:
			s.SkippedTasks++
		}
		if te.Status.Terminal() {
			terminal++
		}
	}
	if s.TotalTasks > 0 {
		s.Progress = float64(terminal) / float64(s.TotalTasks)
	}
	return s
}

// BuildMetrics recomputes execution metrics from the execution record and
// its event history. Metrics are derived, never stored as source of truth.
func BuildMetrics(exec *schema.WorkflowExecution, history *schema.ExecutionHistory) *schema.ExecutionMetrics {
	m := &schema.ExecutionMetrics{
		ExecutionID:   exec.ID,
		TotalTasks:    len(exec.Tasks),
		Duration:      exec.Duration(),
		TaskDurations: make(map[string]time.Duration),
	}

	for id, te := range exec.Tasks {
		switch te.Status {
		case schema.TaskStatusCompleted:
			m.CompletedTasks++
		case schema.TaskStatusFailed:
			m.FailedTasks++
		case schema.TaskStatusSkipped:
			m.SkippedTasks++
		}
		m.TotalRetries += te.Retries
		if d := te.Duration(); d > 0 {
			m.TaskDurations[id] = d
		}
	}

	if history != nil {
		m.CheckpointCount = len(history.Checkpoints)
		m.ErrorCount = history.CountByType(schema.EventErrorOccurred)
	}
	return m
}
