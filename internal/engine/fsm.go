package engine

import "github.com/harmonia-labs/harmonia/pkg/schema"

// ValidWorkflowTransitions defines the allowed state transitions for executions.
var ValidWorkflowTransitions = map[schema.WorkflowStatus][]schema.WorkflowStatus{
	schema.WorkflowStatusPending:   {schema.WorkflowStatusRunning, schema.WorkflowStatusCanceled},
	schema.WorkflowStatusRunning:   {schema.WorkflowStatusPaused, schema.WorkflowStatusCompleted, schema.WorkflowStatusFailed, schema.WorkflowStatusCanceled},
	schema.WorkflowStatusPaused:    {schema.WorkflowStatusRunning, schema.WorkflowStatusCanceled},
	schema.WorkflowStatusCompleted: {},
	schema.WorkflowStatusFailed:    {},
	schema.WorkflowStatusCanceled:  {},
}

// ValidTaskTransitions defines the allowed state transitions for tasks.
// No task transitions out of a terminal state.
var ValidTaskTransitions = map[schema.TaskStatus][]schema.TaskStatus{
	schema.TaskStatusPending:   {schema.TaskStatusRunning, schema.TaskStatusFailed, schema.TaskStatusSkipped},
	schema.TaskStatusRunning:   {schema.TaskStatusCompleted, schema.TaskStatusFailed},
	schema.TaskStatusCompleted: {},
	schema.TaskStatusFailed:    {},
	schema.TaskStatusSkipped:   {},
}

// CanTransitionWorkflow reports whether from → to is a legal execution transition.
func CanTransitionWorkflow(from, to schema.WorkflowStatus) bool {
	for _, a := range ValidWorkflowTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// CanTransitionTask reports whether from → to is a legal task transition.
func CanTransitionTask(from, to schema.TaskStatus) bool {
	for _, a := range ValidTaskTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// invalidTransition builds the structured error for a rejected transition.
func invalidTransition(executionID string, from, to schema.WorkflowStatus) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeInvalidTransition,
		"invalid execution transition: %s -> %s", from, to).
		WithDetails(map[string]any{"execution_id": executionID, "from": string(from), "to": string(to)})
}

// workflowEventType maps a terminal or lifecycle status to its event type.
func workflowEventType(to schema.WorkflowStatus) schema.EventType {
	switch to {
	case schema.WorkflowStatusRunning:
		return schema.EventWorkflowStarted
	case schema.WorkflowStatusCompleted:
		return schema.EventWorkflowCompleted
	case schema.WorkflowStatusFailed:
		return schema.EventWorkflowFailed
	case schema.WorkflowStatusCanceled:
		return schema.EventWorkflowCanceled
	case schema.WorkflowStatusPaused:
		return schema.EventWorkflowPaused
	default:
		return ""
	}
}

// taskEventType maps a task status to its event type.
func taskEventType(to schema.TaskStatus) schema.EventType {
	switch to {
	case schema.TaskStatusRunning:
		return schema.EventTaskStarted
	case schema.TaskStatusCompleted:
		return schema.EventTaskCompleted
	case schema.TaskStatusFailed:
		return schema.EventTaskFailed
	case schema.TaskStatusSkipped:
		return schema.EventTaskSkipped
	default:
		return ""
	}
}
