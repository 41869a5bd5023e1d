package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/harmonia-labs/harmonia/pkg/schema"
)

// checkpointLoop periodically snapshots a live execution. It fires only
// while the execution is RUNNING and stops when the run context ends.
func (e *Engine) checkpointLoop(r *run) {
	defer r.bg.Done()

	ticker := time.NewTicker(e.config.CheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.mu.Lock()
			running := r.exec.Status == schema.WorkflowStatusRunning
			r.mu.Unlock()
			if !running {
				continue
			}
			if _, err := e.CreateCheckpoint(r.ctx, r.exec.ID); err != nil {
				e.logger.Warn("periodic checkpoint failed",
					slog.String("execution_id", r.exec.ID),
					slog.String("error", err.Error()))
			}
		case <-r.ctx.Done():
			return
		}
	}
}

// CreateCheckpoint snapshots an execution's progress and persists it. Live
// executions are snapshotted under the run mutex; finished executions are
// snapshotted from their stored state.
func (e *Engine) CreateCheckpoint(ctx context.Context, executionID string) (*schema.Checkpoint, error) {
	r := e.lookupRun(executionID)

	var exec *schema.WorkflowExecution
	if r != nil {
		r.mu.Lock()
		exec = cloneExecution(r.exec)
		r.mu.Unlock()
	} else {
		loaded, err := e.store.LoadWorkflowExecution(ctx, executionID)
		if err != nil {
			return nil, err
		}
		exec = loaded
	}

	statuses := make(map[string]schema.TaskStatus, len(exec.Tasks))
	var completedIDs []string
	taskResults := make(map[string]any)
	for id, te := range exec.Tasks {
		statuses[id] = te.Status
		if te.Status == schema.TaskStatusCompleted {
			completedIDs = append(completedIDs, id)
			taskResults[id] = te.Output
		}
	}
	sortStrings(completedIDs)

	state, err := cloneJSON(map[string]any{
		"input":        exec.Input,
		"output":       exec.Output,
		"metadata":     exec.Metadata,
		"task_results": taskResults,
	})
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "snapshot state").WithCause(err)
	}

	cp := &schema.Checkpoint{
		ID:             uuid.New().String(),
		ExecutionID:    executionID,
		WorkflowID:     exec.WorkflowID,
		WorkflowStatus: exec.Status,
		TaskStatuses:   statuses,
		CompletedTasks: completedIDs,
		StateData:      state,
		CreatedAt:      time.Now().UTC(),
	}

	if ctx == nil || ctx.Err() != nil {
		ctx = context.Background()
	}
	if err := e.store.SaveCheckpoint(ctx, cp); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "persist checkpoint").WithCause(err)
	}

	if r != nil {
		r.mu.Lock()
		r.history.Checkpoints = append(r.history.Checkpoints, cp.ID)
		r.mu.Unlock()

		e.fireEvent(ctx, r, &schema.ExecutionEvent{
			Type:    schema.EventCheckpointCreated,
			Message: "checkpoint created",
			Details: map[string]any{
				"checkpoint_id":   cp.ID,
				"completed_tasks": len(cp.CompletedTasks),
			},
		})
	}

	return cp, nil
}

// RestoreFromCheckpoint starts a NEW execution seeded from a checkpoint.
// Completed tasks keep their outputs and are not re-run; everything else
// starts pending. The original execution is never mutated.
func (e *Engine) RestoreFromCheckpoint(ctx context.Context, checkpointID string, opts ...ExecuteOption) (*schema.WorkflowExecution, error) {
	cp, err := e.store.LoadCheckpoint(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	def, err := e.store.LoadWorkflowDefinition(ctx, cp.WorkflowID)
	if err != nil {
		return nil, err
	}
	if err := e.validator.ValidateDefinition(def); err != nil {
		return nil, err
	}
	graph, err := BuildGraph(def)
	if err != nil {
		return nil, err
	}

	var options executeOptions
	for _, opt := range opts {
		opt(&options)
	}
	if options.executionID == "" {
		options.executionID = uuid.New().String()
	}

	input, _ := cp.StateData["input"].(map[string]any)
	taskResults, _ := cp.StateData["task_results"].(map[string]any)

	metadata := map[string]any{
		"restored_from":         cp.ID,
		"original_execution_id": cp.ExecutionID,
	}
	for k, v := range options.metadata {
		metadata[k] = v
	}

	exec := &schema.WorkflowExecution{
		ID:         options.executionID,
		WorkflowID: def.ID,
		Status:     schema.WorkflowStatusPending,
		Input:      input,
		Metadata:   metadata,
		Tasks:      make(map[string]*schema.TaskExecution, len(def.Tasks)),
	}
	for id := range def.Tasks {
		te := &schema.TaskExecution{TaskID: id, Status: schema.TaskStatusPending}
		if cp.TaskStatuses[id] == schema.TaskStatusCompleted {
			te.Status = schema.TaskStatusCompleted
			if out, ok := taskResults[id].(map[string]any); ok {
				te.Output = out
			}
		}
		exec.Tasks[id] = te
	}

	if err := e.store.SaveWorkflowExecution(ctx, exec); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "persist execution").WithCause(err)
	}

	seedContext := map[string]any{
		"restored_from_checkpoint": true,
		"checkpoint_data":          cp.StateData,
	}
	for k, v := range options.context {
		seedContext[k] = v
	}

	e.startRun(def, graph, exec, seedContext)
	return exec, nil
}

// cloneJSON deep-copies a map through a JSON round trip.
func cloneJSON(m map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
