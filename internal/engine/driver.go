package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/harmonia-labs/harmonia/pkg/schema"
)

// drive is the per-execution driver goroutine. It is the sole owner of the
// scheduling sets: task units never touch them, they only report completion
// over the results channel. The channel is buffered to the task count, so a
// task unit's send can never block.
func (e *Engine) drive(r *run) {
	defer func() {
		if rec := recover(); rec != nil {
			e.failFromPanic(r, rec, debug.Stack())
		}
	}()

	now := time.Now().UTC()
	r.mu.Lock()
	if r.exec.Status == schema.WorkflowStatusPending {
		r.exec.Status = schema.WorkflowStatusRunning
		r.exec.StartTime = &now
	}
	r.mu.Unlock()

	e.fireEvent(r.ctx, r, &schema.ExecutionEvent{
		Type:    schema.EventWorkflowStarted,
		Message: "workflow execution started",
	})
	e.persistExecution(r.ctx, r)

	// Seed the scheduling sets. Restored executions arrive with completed
	// tasks already terminal; everything else starts waiting.
	waiting := make(map[string]struct{}, len(r.graph.Tasks))
	completed := make(map[string]struct{})
	failed := make(map[string]struct{})
	skipped := make(map[string]struct{})
	active := 0

	r.mu.Lock()
	for id, te := range r.exec.Tasks {
		switch te.Status {
		case schema.TaskStatusCompleted:
			completed[id] = struct{}{}
		case schema.TaskStatusFailed:
			failed[id] = struct{}{}
		case schema.TaskStatusSkipped:
			skipped[id] = struct{}{}
		default:
			te.Status = schema.TaskStatusPending
			waiting[id] = struct{}{}
		}
	}
	r.mu.Unlock()

	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	// Disarmed after the first cancellation signal so the loop blocks on
	// results instead of spinning.
	ctxDone := r.ctx.Done()

	for {
		active += e.sweep(r, waiting, completed, failed, skipped)

		r.mu.Lock()
		paused, canceled := r.paused, r.canceled
		r.mu.Unlock()

		if active == 0 {
			if canceled {
				break
			}
			if len(waiting) == 0 && !paused {
				break
			}
		}

		select {
		case res := <-r.results:
			active--
			switch res.status {
			case schema.TaskStatusCompleted:
				completed[res.taskID] = struct{}{}
			case schema.TaskStatusFailed:
				failed[res.taskID] = struct{}{}
			case schema.TaskStatusSkipped:
				skipped[res.taskID] = struct{}{}
			}
		case <-r.notify:
		case <-ticker.C:
		case <-ctxDone:
			// Keep draining: in-flight task units still report results.
			ctxDone = nil
		}
	}

	e.finalize(r, completed, failed, skipped, waiting)
}

// sweep walks the waiting set in topological order, marking tasks whose
// dependencies failed or were skipped as SKIPPED (transitively, to a
// fixpoint) and dispatching tasks whose dependencies all completed. Returns
// the number of task units dispatched. Nothing is dispatched while the
// execution is paused or canceled.
func (e *Engine) sweep(r *run, waiting, completed, failed, skipped map[string]struct{}) int {
	r.mu.Lock()
	paused, canceled := r.paused, r.canceled
	r.mu.Unlock()
	if paused && !canceled {
		return 0
	}

	dispatched := 0
	for changed := true; changed; {
		changed = false
		for _, id := range r.graph.Sorted {
			if _, ok := waiting[id]; !ok {
				continue
			}

			ready := true
			blocked := false
			for _, dep := range r.graph.Edges[id] {
				if _, ok := failed[dep]; ok {
					blocked = true
					break
				}
				if _, ok := skipped[dep]; ok {
					blocked = true
					break
				}
				if _, ok := completed[dep]; !ok {
					ready = false
				}
			}

			if blocked {
				delete(waiting, id)
				skipped[id] = struct{}{}
				e.markSkipped(r, id, "dependency failed or skipped")
				changed = true
				continue
			}

			if ready && !canceled {
				delete(waiting, id)
				dispatched++
				go e.runTask(r, r.graph.Tasks[id])
			}
		}
	}
	return dispatched
}

// markSkipped records a driver-side skip: the task unit never runs, so the
// driver owns the terminal record.
func (e *Engine) markSkipped(r *run, taskID, reason string) {
	now := time.Now().UTC()
	r.mu.Lock()
	te := r.exec.Tasks[taskID]
	te.Status = schema.TaskStatusSkipped
	te.EndTime = &now
	r.mu.Unlock()

	e.fireEvent(r.ctx, r, &schema.ExecutionEvent{
		Type:    schema.EventTaskSkipped,
		TaskID:  taskID,
		Message: reason,
	})
}

// finalize computes the terminal status, emits the terminal event, persists
// the execution and its history, and retires the run.
func (e *Engine) finalize(r *run, completed, failed, skipped, waiting map[string]struct{}) {
	now := time.Now().UTC()

	r.mu.Lock()
	canceled := r.canceled
	var status schema.WorkflowStatus
	switch {
	case canceled:
		status = schema.WorkflowStatusCanceled
		r.exec.Error = "execution canceled"
	case len(failed) > 0:
		status = schema.WorkflowStatusFailed
		ids := make([]string, 0, len(failed))
		for id := range failed {
			ids = append(ids, id)
		}
		sortStrings(ids)
		r.exec.Error = fmt.Sprintf("%d task(s) failed: %v", len(ids), ids)
	default:
		status = schema.WorkflowStatusCompleted
		output := make(map[string]any, len(completed))
		for id := range completed {
			output[id] = r.exec.Tasks[id].Output
		}
		r.exec.Output = output
	}
	r.exec.Status = status
	r.exec.EndTime = &now
	r.mu.Unlock()

	e.fireEvent(r.ctx, r, &schema.ExecutionEvent{
		Type:    workflowEventType(status),
		Message: fmt.Sprintf("workflow %s", status),
		Details: map[string]any{
			"completed_tasks": len(completed),
			"failed_tasks":    len(failed),
			"skipped_tasks":   len(skipped),
			"pending_tasks":   len(waiting),
		},
	})

	e.retire(r)
}

// failFromPanic is the driver's last-resort recovery: the execution is
// marked FAILED, the panic and stack are recorded in the history, and the
// run is retired so callers blocked in Wait are released.
func (e *Engine) failFromPanic(r *run, rec any, stack []byte) {
	e.logger.Error("driver panicked",
		slog.String("execution_id", r.exec.ID),
		slog.Any("panic", rec))

	now := time.Now().UTC()
	r.mu.Lock()
	r.exec.Status = schema.WorkflowStatusFailed
	r.exec.Error = fmt.Sprintf("internal error: %v", rec)
	r.exec.EndTime = &now
	r.mu.Unlock()

	e.fireEvent(nil, r, &schema.ExecutionEvent{
		Type:    schema.EventErrorOccurred,
		Message: fmt.Sprintf("driver panic: %v", rec),
		Details: map[string]any{"stack": string(stack)},
	})
	e.fireEvent(nil, r, &schema.ExecutionEvent{
		Type:    schema.EventWorkflowFailed,
		Message: "workflow failed",
	})

	e.retire(r)
}

// retire persists the final state, stops background goroutines, and removes
// the run from the registry. done is closed last so Wait observes the
// persisted terminal state.
func (e *Engine) retire(r *run) {
	e.persistExecution(nil, r)

	r.mu.Lock()
	history := &schema.ExecutionHistory{
		ExecutionID: r.exec.ID,
		Events:      append([]*schema.ExecutionEvent(nil), r.history.Events...),
		Checkpoints: append([]string(nil), r.history.Checkpoints...),
	}
	r.mu.Unlock()
	if err := e.store.SaveExecutionHistory(context.Background(), history); err != nil {
		e.logger.Warn("persist history failed",
			slog.String("execution_id", r.exec.ID),
			slog.String("error", err.Error()))
	}

	r.cancel()
	r.bg.Wait()
	r.gate.Close()
	e.removeRun(r.exec.ID)
	close(r.done)
}

// cloneExecution copies the execution for persistence or read-out. Task
// records are copied by value; payload maps are shared because the engine
// replaces them wholesale instead of mutating in place.
func cloneExecution(exec *schema.WorkflowExecution) *schema.WorkflowExecution {
	out := *exec
	out.Tasks = make(map[string]*schema.TaskExecution, len(exec.Tasks))
	for id, te := range exec.Tasks {
		cp := *te
		out.Tasks[id] = &cp
	}
	return &out
}
