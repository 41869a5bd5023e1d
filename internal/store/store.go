package store

import (
	"context"
	"time"

	"github.com/harmonia-labs/harmonia/pkg/schema"
)

// Store is the persistence boundary the engine depends on. All operations
// are durable before returning and idempotent under retry. The engine is the
// sole writer for a given execution, so last-writer-wins per execution row
// is acceptable.
type Store interface {
	// Workflow definitions.
	SaveWorkflowDefinition(ctx context.Context, def *schema.WorkflowDefinition) error
	LoadWorkflowDefinition(ctx context.Context, id string) (*schema.WorkflowDefinition, error)
	ListWorkflowDefinitions(ctx context.Context) ([]*schema.WorkflowDefinition, error)
	DeleteWorkflowDefinition(ctx context.Context, id string) error

	// Workflow executions.
	SaveWorkflowExecution(ctx context.Context, exec *schema.WorkflowExecution) error
	LoadWorkflowExecution(ctx context.Context, id string) (*schema.WorkflowExecution, error)
	ListWorkflowExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.WorkflowExecution, error)

	// Checkpoints.
	SaveCheckpoint(ctx context.Context, cp *schema.Checkpoint) error
	LoadCheckpoint(ctx context.Context, id string) (*schema.Checkpoint, error)
	ListCheckpoints(ctx context.Context, executionID string) ([]*schema.Checkpoint, error)

	// Event history. AppendEvent assigns a monotonically increasing
	// per-execution sequence. SaveExecutionHistory persists any events the
	// history holds that have not been sequenced yet.
	AppendEvent(ctx context.Context, event *schema.ExecutionEvent) error
	GetEvents(ctx context.Context, executionID string, since int64) ([]*schema.ExecutionEvent, error)
	SaveExecutionHistory(ctx context.Context, history *schema.ExecutionHistory) error
	LoadExecutionHistory(ctx context.Context, executionID string) (*schema.ExecutionHistory, error)

	// Scheduled runs.
	SaveSchedule(ctx context.Context, sched *Schedule) error
	LoadSchedule(ctx context.Context, id string) (*Schedule, error)
	ListSchedules(ctx context.Context, enabledOnly bool) ([]*Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error

	// Migrate applies pending schema migrations.
	Migrate(ctx context.Context) error
	Close() error
}

// ExecutionFilter narrows ListWorkflowExecutions.
type ExecutionFilter struct {
	WorkflowID string
	Status     *schema.WorkflowStatus
	Since      *time.Time
	Limit      int
	Offset     int
}

// Schedule is a cron-driven recurring run of a stored workflow definition.
type Schedule struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	Cron       string         `json:"cron"`
	Input      map[string]any `json:"input,omitempty"`
	Enabled    bool           `json:"enabled"`
	LastRunAt  *time.Time     `json:"last_run_at,omitempty"`
	NextRunAt  *time.Time     `json:"next_run_at,omitempty"`
	LastStatus string         `json:"last_status,omitempty"`
	CreatedAt  time.Time      `json:"created_at,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at,omitempty"`
}
