package engine

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/harmonia-labs/harmonia/internal/expressions"
	"github.com/harmonia-labs/harmonia/pkg/schema"
)

// runTask is one task unit: acquire a concurrency slot, resolve input,
// evaluate the gating condition, execute with retries, freeze the result
// into the expression scope. The final status is always reported to the
// driver, even on panic.
func (e *Engine) runTask(r *run, def *schema.TaskDefinition) {
	status := schema.TaskStatusFailed
	defer func() {
		if rec := recover(); rec != nil {
			status = schema.TaskStatusFailed
			e.recordTaskFailure(r, def.ID,
				schema.NewErrorf(schema.ErrCodeExecution, "task panicked: %v", rec).WithTask(def.ID))
			e.fireEvent(nil, r, &schema.ExecutionEvent{
				Type:    schema.EventErrorOccurred,
				TaskID:  def.ID,
				Message: fmt.Sprintf("task panic: %v", rec),
				Details: map[string]any{"stack": string(debug.Stack())},
			})
		}
		// Buffered to the task count, never blocks.
		r.results <- taskResult{taskID: def.ID, status: status}
	}()

	if err := r.gate.Acquire(r.ctx); err != nil {
		e.recordTaskFailure(r, def.ID,
			schema.NewError(schema.ErrCodeCanceled, "canceled before start").WithTask(def.ID).WithCause(err))
		return
	}
	defer r.gate.Release()

	scope := r.snapshotScope()

	input, err := e.resolver.ResolveInput(def.Input, scope)
	if err != nil {
		// Interpolation failures are never retried.
		e.recordTaskFailure(r, def.ID,
			schema.NewError(schema.ErrCodeInterpolation, "resolve input").WithTask(def.ID).WithCause(err))
		return
	}

	if cond := def.Condition(); cond != "" {
		ok, err := e.resolver.EvaluateCondition(r.ctx, cond, scope)
		if err != nil {
			e.recordTaskFailure(r, def.ID,
				schema.NewError(schema.ErrCodeExecution, "evaluate condition").WithTask(def.ID).WithCause(err))
			return
		}
		if !ok {
			now := time.Now().UTC()
			r.mu.Lock()
			te := r.exec.Tasks[def.ID]
			te.Status = schema.TaskStatusSkipped
			te.EndTime = &now
			r.mu.Unlock()

			e.fireEvent(r.ctx, r, &schema.ExecutionEvent{
				Type:    schema.EventTaskSkipped,
				TaskID:  def.ID,
				Message: "condition evaluated to false",
			})
			status = schema.TaskStatusSkipped
			return
		}
	}

	now := time.Now().UTC()
	r.mu.Lock()
	te := r.exec.Tasks[def.ID]
	te.Status = schema.TaskStatusRunning
	te.Input = input
	te.StartTime = &now
	r.mu.Unlock()

	e.fireEvent(r.ctx, r, &schema.ExecutionEvent{
		Type:    schema.EventTaskStarted,
		TaskID:  def.ID,
		Message: fmt.Sprintf("executing %s.%s", def.Component, def.Action),
	})

	output, err := e.executeWithRetries(r, def, input)
	if err != nil {
		e.recordTaskFailure(r, def.ID, err)
		return
	}

	if def.Transform != "" {
		output, err = e.resolver.Transform(r.ctx, def.Transform, output)
		if err != nil {
			// Transform failures are terminal, the action already ran.
			e.recordTaskFailure(r, def.ID,
				schema.NewError(schema.ErrCodeExecution, "apply transform").WithTask(def.ID).WithCause(err))
			return
		}
	}

	end := time.Now().UTC()
	r.mu.Lock()
	te.Status = schema.TaskStatusCompleted
	te.Output = output
	te.EndTime = &end
	r.scope.FreezeTaskResult(def.ID, output, string(schema.TaskStatusCompleted))
	r.mu.Unlock()

	e.fireEvent(r.ctx, r, &schema.ExecutionEvent{
		Type:    schema.EventTaskCompleted,
		TaskID:  def.ID,
		Message: fmt.Sprintf("completed in %s", end.Sub(now).Round(time.Millisecond)),
	})
	status = schema.TaskStatusCompleted
}

// executeWithRetries invokes the component action under the task's retry
// policy. Delay for attempt n is min(max_delay, initial*multiplier^(n-1))
// with uniform jitter applied. The last error is returned verbatim once
// retries are exhausted.
func (e *Engine) executeWithRetries(r *run, def *schema.TaskDefinition, input map[string]any) (map[string]any, error) {
	policy := def.Retry
	if policy == nil {
		policy = e.config.DefaultRetry
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		output, err := e.registry.Execute(r.ctx, def.Component, def.Action, input)
		if err == nil {
			return output, nil
		}
		lastErr = err

		if attempt >= policy.MaxRetries || !IsRetryableError(err) || r.ctx.Err() != nil {
			return nil, lastErr
		}

		retryCount := attempt + 1
		delay := ApplyJitter(ComputeBackoff(policy, retryCount), e.config.JitterFraction)

		r.mu.Lock()
		r.exec.Tasks[def.ID].Retries = retryCount
		r.mu.Unlock()

		e.fireEvent(r.ctx, r, &schema.ExecutionEvent{
			Type:    schema.EventRetryAttempted,
			TaskID:  def.ID,
			Message: fmt.Sprintf("retry %d/%d after %s", retryCount, policy.MaxRetries, delay.Round(time.Millisecond)),
			Details: map[string]any{
				"attempt": retryCount,
				"delay":   delay.String(),
				"error":   err.Error(),
			},
		})

		if err := WaitForBackoff(r.ctx, delay); err != nil {
			return nil, lastErr
		}
	}
}

// recordTaskFailure writes the terminal FAILED record and emits the event.
func (e *Engine) recordTaskFailure(r *run, taskID string, err error) {
	now := time.Now().UTC()
	r.mu.Lock()
	te := r.exec.Tasks[taskID]
	te.Status = schema.TaskStatusFailed
	te.Error = err.Error()
	if te.EndTime == nil {
		te.EndTime = &now
	}
	r.mu.Unlock()

	e.fireEvent(r.ctx, r, &schema.ExecutionEvent{
		Type:    schema.EventTaskFailed,
		TaskID:  taskID,
		Message: err.Error(),
	})
}

// snapshotScope copies the run's scope for use outside the run mutex. Frozen
// task results are immutable after freeze, so a shallow copy of the tasks
// namespace is safe.
func (r *run) snapshotScope() *expressions.Scope {
	r.mu.Lock()
	defer r.mu.Unlock()

	tasks := make(map[string]any, len(r.scope.Tasks))
	for k, v := range r.scope.Tasks {
		tasks[k] = v
	}
	return &expressions.Scope{
		Input:     r.scope.Input,
		Tasks:     tasks,
		Workflow:  r.scope.Workflow,
		Execution: r.scope.Execution,
		Context:   r.scope.Context,
	}
}
