package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harmonia-labs/harmonia/internal/components"
	"github.com/harmonia-labs/harmonia/internal/expressions"
	"github.com/harmonia-labs/harmonia/internal/logging"
	"github.com/harmonia-labs/harmonia/internal/store"
	"github.com/harmonia-labs/harmonia/internal/streaming"
	"github.com/harmonia-labs/harmonia/internal/validation"
	"github.com/harmonia-labs/harmonia/pkg/schema"
)

// DefaultMaxConcurrentTasks bounds concurrent task units per execution.
const DefaultMaxConcurrentTasks = 10

// DefaultCheckpointInterval is how often the background checkpointer fires.
const DefaultCheckpointInterval = 60 * time.Second

// DefaultJitterFraction perturbs retry delays by ±10%.
const DefaultJitterFraction = 0.10

// DefaultPollInterval is the driver's fallback re-evaluation period.
const DefaultPollInterval = 100 * time.Millisecond

// Config holds engine tuning knobs. Zero values fall back to defaults.
type Config struct {
	MaxConcurrentTasks int
	CheckpointInterval time.Duration
	JitterFraction     float64
	DefaultRetry       *schema.RetryPolicy
	PollInterval       time.Duration
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentTasks: DefaultMaxConcurrentTasks,
		CheckpointInterval: DefaultCheckpointInterval,
		JitterFraction:     DefaultJitterFraction,
		DefaultRetry:       schema.DefaultRetryPolicy(),
		PollInterval:       DefaultPollInterval,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = DefaultMaxConcurrentTasks
	}
	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = DefaultCheckpointInterval
	}
	if c.JitterFraction < 0 {
		c.JitterFraction = 0
	} else if c.JitterFraction == 0 {
		c.JitterFraction = DefaultJitterFraction
	}
	if c.DefaultRetry == nil {
		c.DefaultRetry = schema.DefaultRetryPolicy()
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// Engine is the workflow execution coordinator. It owns the run registry:
// all active executions live in the runs map, never in package state.
type Engine struct {
	store      store.Store
	registry   *components.Registry
	resolver   *expressions.Resolver
	validator  *validation.WorkflowValidator
	hub        streaming.EventHub
	dispatcher *dispatcher
	logger     *slog.Logger
	config     Config

	// mu guards runs.
	mu   sync.Mutex
	runs map[string]*run
}

// run tracks one in-flight execution. The driver goroutine is the sole
// mutator of the scheduling sets; exec and scope are guarded by mu.
type run struct {
	def   *schema.WorkflowDefinition
	graph *Graph

	mu      sync.Mutex
	exec    *schema.WorkflowExecution
	scope   *expressions.Scope
	history *schema.ExecutionHistory

	results  chan taskResult
	notify   chan struct{} // pokes the driver on pause/resume/cancel
	paused   bool          // guarded by mu
	canceled bool          // guarded by mu

	gate   *Gate
	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup // checkpointer and other background goroutines
	done   chan struct{}  // closed at finalize
}

// taskResult is the completion message a task unit sends to the driver.
type taskResult struct {
	taskID string
	status schema.TaskStatus
}

// NewEngine creates an Engine. hub may be nil to disable streaming.
func NewEngine(s store.Store, registry *components.Registry, hub streaming.EventHub, logger *slog.Logger, cfg Config) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "engine"))

	resolver, err := expressions.NewResolver()
	if err != nil {
		return nil, err
	}
	validator, err := validation.NewWorkflowValidator(registry)
	if err != nil {
		return nil, err
	}

	return &Engine{
		store:      s,
		registry:   registry,
		resolver:   resolver,
		validator:  validator,
		hub:        hub,
		dispatcher: newDispatcher(logger),
		logger:     logger,
		config:     cfg.withDefaults(),
		runs:       make(map[string]*run),
	}, nil
}

// ExecuteOption customizes a new execution.
type ExecuteOption func(*executeOptions)

type executeOptions struct {
	executionID string
	metadata    map[string]any
	context     map[string]any
}

// WithExecutionID pins the execution ID instead of generating one.
func WithExecutionID(id string) ExecuteOption {
	return func(o *executeOptions) { o.executionID = id }
}

// WithMetadata seeds the execution metadata.
func WithMetadata(md map[string]any) ExecuteOption {
	return func(o *executeOptions) { o.metadata = md }
}

// WithContext seeds the free-form context namespace visible to expressions.
func WithContext(ctx map[string]any) ExecuteOption {
	return func(o *executeOptions) { o.context = ctx }
}

// ExecuteWorkflow validates the definition and input, creates a new
// execution, and starts its driver goroutine. It returns as soon as the
// execution is persisted; use Wait to join completion.
func (e *Engine) ExecuteWorkflow(ctx context.Context, def *schema.WorkflowDefinition, input map[string]any, opts ...ExecuteOption) (*schema.WorkflowExecution, error) {
	if err := e.validator.ValidateDefinition(def); err != nil {
		return nil, err
	}
	if input == nil {
		input = map[string]any{}
	}
	if err := e.validator.ValidateInput(input, def.InputSchema); err != nil {
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

	exec := &schema.WorkflowExecution{
		ID:         options.executionID,
		WorkflowID: def.ID,
		Status:     schema.WorkflowStatusPending,
		Input:      input,
		Metadata:   options.metadata,
		Tasks:      make(map[string]*schema.TaskExecution, len(def.Tasks)),
	}
	for id := range def.Tasks {
		exec.Tasks[id] = &schema.TaskExecution{
			TaskID: id,
			Status: schema.TaskStatusPending,
		}
	}

	if err := e.store.SaveWorkflowExecution(ctx, exec); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "persist execution").WithCause(err)
	}

	e.startRun(def, graph, exec, options.context)
	return exec, nil
}

// ExecuteStoredWorkflow loads a persisted definition and executes it.
// Used by the scheduler and the CLI run path.
func (e *Engine) ExecuteStoredWorkflow(ctx context.Context, workflowID string, input map[string]any, opts ...ExecuteOption) (*schema.WorkflowExecution, error) {
	def, err := e.store.LoadWorkflowDefinition(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return e.ExecuteWorkflow(ctx, def, input, opts...)
}

// startRun registers the run and launches its driver and checkpointer.
// exec may carry pre-seeded terminal task states (checkpoint restore).
func (e *Engine) startRun(def *schema.WorkflowDefinition, graph *Graph, exec *schema.WorkflowExecution, seedContext map[string]any) {
	runCtx, cancel := context.WithCancel(context.Background())
	runCtx = logging.WithIDs(runCtx, def.ID, exec.ID, "")

	scope := &expressions.Scope{
		Input: exec.Input,
		Workflow: map[string]any{
			"id":      def.ID,
			"name":    def.Name,
			"version": def.Version,
		},
		Execution: map[string]any{
			"id": exec.ID,
		},
		Context: seedContext,
		Tasks:   map[string]any{},
	}
	// Restored executions expose already-completed outputs to expressions.
	for id, te := range exec.Tasks {
		if te.Status == schema.TaskStatusCompleted {
			scope.FreezeTaskResult(id, te.Output, string(te.Status))
		}
	}

	r := &run{
		def:     def,
		graph:   graph,
		exec:    exec,
		scope:   scope,
		history: &schema.ExecutionHistory{ExecutionID: exec.ID},
		results: make(chan taskResult, len(def.Tasks)),
		notify:  make(chan struct{}, 1),
		gate:    NewGate(e.config.MaxConcurrentTasks),
		ctx:     runCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	e.mu.Lock()
	e.runs[exec.ID] = r
	e.mu.Unlock()

	r.bg.Add(1)
	go e.checkpointLoop(r)

	go e.drive(r)
}

// lookupRun returns the live run for an execution, or nil.
func (e *Engine) lookupRun(executionID string) *run {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runs[executionID]
}

// removeRun drops a finished run from the registry.
func (e *Engine) removeRun(executionID string) {
	e.mu.Lock()
	delete(e.runs, executionID)
	e.mu.Unlock()
}

// poke wakes the driver without blocking.
func (r *run) poke() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// PauseWorkflow checkpoints and pauses a RUNNING execution. The driver stops
// dispatching new tasks; in-flight tasks finish normally.
func (e *Engine) PauseWorkflow(ctx context.Context, executionID string) (bool, error) {
	r := e.lookupRun(executionID)
	if r == nil {
		return false, schema.NewError(schema.ErrCodeNotFound, "no active execution: "+executionID)
	}

	r.mu.Lock()
	if r.exec.Status != schema.WorkflowStatusRunning {
		status := r.exec.Status
		r.mu.Unlock()
		return false, invalidTransition(executionID, status, schema.WorkflowStatusPaused)
	}
	r.mu.Unlock()

	// Checkpoint before the status flips so the snapshot reflects RUNNING work.
	if _, err := e.CreateCheckpoint(ctx, executionID); err != nil {
		return false, err
	}

	r.mu.Lock()
	if r.exec.Status != schema.WorkflowStatusRunning {
		status := r.exec.Status
		r.mu.Unlock()
		return false, invalidTransition(executionID, status, schema.WorkflowStatusPaused)
	}
	r.exec.Status = schema.WorkflowStatusPaused
	r.paused = true
	r.mu.Unlock()

	e.fireEvent(ctx, r, &schema.ExecutionEvent{Type: schema.EventWorkflowPaused})
	e.persistExecution(ctx, r)
	r.poke()
	return true, nil
}

// ResumeWorkflow resumes dispatch of a PAUSED execution.
func (e *Engine) ResumeWorkflow(ctx context.Context, executionID string) (bool, error) {
	r := e.lookupRun(executionID)
	if r == nil {
		return false, schema.NewError(schema.ErrCodeNotFound, "no active execution: "+executionID)
	}

	r.mu.Lock()
	if r.exec.Status != schema.WorkflowStatusPaused {
		status := r.exec.Status
		r.mu.Unlock()
		return false, invalidTransition(executionID, status, schema.WorkflowStatusRunning)
	}
	r.exec.Status = schema.WorkflowStatusRunning
	r.paused = false
	r.mu.Unlock()

	e.fireEvent(ctx, r, &schema.ExecutionEvent{Type: schema.EventWorkflowResumed})
	e.persistExecution(ctx, r)
	r.poke()
	return true, nil
}

// CancelWorkflow cancels an execution from PENDING, RUNNING, or PAUSED.
// Cancellation is cooperative: in-flight task units observe the canceled
// context and the driver awaits them before finalizing. Canceling a
// terminal execution is an idempotent no-op returning false.
func (e *Engine) CancelWorkflow(ctx context.Context, executionID string) (bool, error) {
	r := e.lookupRun(executionID)
	if r == nil {
		// Not active: consult the store. Terminal executions no-op;
		// orphaned non-terminal rows are finalized in place.
		exec, err := e.store.LoadWorkflowExecution(ctx, executionID)
		if err != nil {
			return false, err
		}
		if exec.Status.Terminal() {
			return false, nil
		}
		exec.Status = schema.WorkflowStatusCanceled
		now := time.Now().UTC()
		exec.EndTime = &now
		if err := e.store.SaveWorkflowExecution(ctx, exec); err != nil {
			return false, schema.NewError(schema.ErrCodeStore, "persist canceled execution").WithCause(err)
		}
		return true, nil
	}

	r.mu.Lock()
	status := r.exec.Status
	if status.Terminal() || r.canceled {
		r.mu.Unlock()
		return false, nil
	}
	wasRunning := status == schema.WorkflowStatusRunning
	r.mu.Unlock()

	if wasRunning {
		// Best-effort snapshot before tearing down.
		if _, err := e.CreateCheckpoint(ctx, executionID); err != nil {
			e.logger.Warn("checkpoint before cancel failed",
				slog.String("execution_id", executionID),
				slog.String("error", err.Error()))
		}
	}

	r.mu.Lock()
	if r.exec.Status.Terminal() || r.canceled {
		r.mu.Unlock()
		return false, nil
	}
	r.canceled = true
	r.mu.Unlock()

	r.cancel()
	r.poke()
	return true, nil
}

// GetWorkflowStatus returns the summary for a live or persisted execution.
func (e *Engine) GetWorkflowStatus(ctx context.Context, executionID string) (*schema.ExecutionSummary, error) {
	exec, err := e.snapshotExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	return BuildSummary(exec), nil
}

// GetExecutionMetrics returns derived metrics for a live or persisted execution.
func (e *Engine) GetExecutionMetrics(ctx context.Context, executionID string) (*schema.ExecutionMetrics, error) {
	exec, err := e.snapshotExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	var history *schema.ExecutionHistory
	if r := e.lookupRun(executionID); r != nil {
		r.mu.Lock()
		history = &schema.ExecutionHistory{
			ExecutionID: executionID,
			Events:      append([]*schema.ExecutionEvent(nil), r.history.Events...),
			Checkpoints: append([]string(nil), r.history.Checkpoints...),
		}
		r.mu.Unlock()
	} else {
		history, err = e.store.LoadExecutionHistory(ctx, executionID)
		if err != nil {
			return nil, err
		}
	}

	return BuildMetrics(exec, history), nil
}

// snapshotExecution copies the live execution under the run mutex, or loads
// it from the store when the run has finished.
func (e *Engine) snapshotExecution(ctx context.Context, executionID string) (*schema.WorkflowExecution, error) {
	if r := e.lookupRun(executionID); r != nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		return cloneExecution(r.exec), nil
	}
	return e.store.LoadWorkflowExecution(ctx, executionID)
}

// RegisterEventHandler subscribes a handler to one event type and returns a
// registration ID for UnregisterEventHandler.
func (e *Engine) RegisterEventHandler(t schema.EventType, h EventHandler) int {
	return e.dispatcher.register(t, h)
}

// UnregisterEventHandler removes a previously registered handler.
func (e *Engine) UnregisterEventHandler(t schema.EventType, id int) bool {
	return e.dispatcher.unregister(t, id)
}

// Wait blocks until the execution finishes and returns its final state.
func (e *Engine) Wait(ctx context.Context, executionID string) (*schema.WorkflowExecution, error) {
	r := e.lookupRun(executionID)
	if r == nil {
		// Already finished (or never started): the store has the answer.
		return e.store.LoadWorkflowExecution(ctx, executionID)
	}

	select {
	case <-r.done:
		return e.store.LoadWorkflowExecution(ctx, executionID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown cancels all active executions and waits for their drivers.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	active := make([]*run, 0, len(e.runs))
	for _, r := range e.runs {
		active = append(active, r)
	}
	e.mu.Unlock()

	for _, r := range active {
		r.mu.Lock()
		r.canceled = true
		r.mu.Unlock()
		r.cancel()
		r.poke()
	}

	for _, r := range active {
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// persistExecution saves the execution after a mutation, best-effort.
func (e *Engine) persistExecution(ctx context.Context, r *run) {
	if ctx == nil || ctx.Err() != nil {
		ctx = context.Background()
	}
	r.mu.Lock()
	snapshot := cloneExecution(r.exec)
	r.mu.Unlock()

	if err := e.store.SaveWorkflowExecution(ctx, snapshot); err != nil {
		e.logger.Warn("persist execution failed",
			slog.String("execution_id", snapshot.ID),
			slog.String("error", err.Error()))
	}
}
