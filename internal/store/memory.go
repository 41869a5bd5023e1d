package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/harmonia-labs/harmonia/pkg/schema"
)

// MemoryStore is a mutex-guarded in-memory Store. It backs tests and
// storeless embedding; values are copied on save and load so callers never
// share mutable structure with the store.
type MemoryStore struct {
	mu          sync.RWMutex
	definitions map[string]*schema.WorkflowDefinition
	executions  map[string]*schema.WorkflowExecution
	execOrder   []string
	checkpoints map[string]*schema.Checkpoint
	events      map[string][]*schema.ExecutionEvent // execution_id -> ordered events
	schedules   map[string]*Schedule
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		definitions: make(map[string]*schema.WorkflowDefinition),
		executions:  make(map[string]*schema.WorkflowExecution),
		checkpoints: make(map[string]*schema.Checkpoint),
		events:      make(map[string][]*schema.ExecutionEvent),
		schedules:   make(map[string]*Schedule),
	}
}

// --- Workflow definitions ---

func (m *MemoryStore) SaveWorkflowDefinition(_ context.Context, def *schema.WorkflowDefinition) error {
	if def.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "definition id is empty")
	}
	cp, err := copyValue(def)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.definitions[def.ID] = cp
	return nil
}

func (m *MemoryStore) LoadWorkflowDefinition(_ context.Context, id string) (*schema.WorkflowDefinition, error) {
	m.mu.RLock()
	def, ok := m.definitions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, storeNotFound("workflow definition", id)
	}
	return copyValue(def)
}

func (m *MemoryStore) ListWorkflowDefinitions(_ context.Context) ([]*schema.WorkflowDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	defs := make([]*schema.WorkflowDefinition, 0, len(m.definitions))
	for _, def := range m.definitions {
		cp, err := copyValue(def)
		if err != nil {
			return nil, err
		}
		defs = append(defs, cp)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs, nil
}

func (m *MemoryStore) DeleteWorkflowDefinition(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.definitions[id]; !ok {
		return storeNotFound("workflow definition", id)
	}
	delete(m.definitions, id)
	return nil
}

// --- Workflow executions ---

func (m *MemoryStore) SaveWorkflowExecution(_ context.Context, exec *schema.WorkflowExecution) error {
	if exec.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "execution id is empty")
	}
	cp, err := copyValue(exec)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.executions[exec.ID]; !exists {
		m.execOrder = append(m.execOrder, exec.ID)
	}
	m.executions[exec.ID] = cp
	return nil
}

func (m *MemoryStore) LoadWorkflowExecution(_ context.Context, id string) (*schema.WorkflowExecution, error) {
	m.mu.RLock()
	exec, ok := m.executions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, storeNotFound("workflow execution", id)
	}
	return copyValue(exec)
}

func (m *MemoryStore) ListWorkflowExecutions(_ context.Context, filter ExecutionFilter) ([]*schema.WorkflowExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var execs []*schema.WorkflowExecution
	// Newest first, matching the persistent store's ordering.
	for i := len(m.execOrder) - 1; i >= 0; i-- {
		exec, ok := m.executions[m.execOrder[i]]
		if !ok {
			continue
		}
		if filter.WorkflowID != "" && exec.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Status != nil && exec.Status != *filter.Status {
			continue
		}
		cp, err := copyValue(exec)
		if err != nil {
			return nil, err
		}
		execs = append(execs, cp)
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(execs) {
			return nil, nil
		}
		execs = execs[filter.Offset:]
	}
	if filter.Limit > 0 && len(execs) > filter.Limit {
		execs = execs[:filter.Limit]
	}
	return execs, nil
}

// --- Checkpoints ---

func (m *MemoryStore) SaveCheckpoint(_ context.Context, cp *schema.Checkpoint) error {
	if cp.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "checkpoint id is empty")
	}
	dup, err := copyValue(cp)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.checkpoints[cp.ID]; exists {
		return nil // checkpoints are immutable once written
	}
	m.checkpoints[cp.ID] = dup
	return nil
}

func (m *MemoryStore) LoadCheckpoint(_ context.Context, id string) (*schema.Checkpoint, error) {
	m.mu.RLock()
	cp, ok := m.checkpoints[id]
	m.mu.RUnlock()
	if !ok {
		return nil, storeNotFound("checkpoint", id)
	}
	return copyValue(cp)
}

func (m *MemoryStore) ListCheckpoints(_ context.Context, executionID string) ([]*schema.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var cps []*schema.Checkpoint
	for _, cp := range m.checkpoints {
		if cp.ExecutionID != executionID {
			continue
		}
		dup, err := copyValue(cp)
		if err != nil {
			return nil, err
		}
		cps = append(cps, dup)
	}
	sort.Slice(cps, func(i, j int) bool { return cps[i].CreatedAt.Before(cps[j].CreatedAt) })
	return cps, nil
}

// --- Events ---

func (m *MemoryStore) AppendEvent(_ context.Context, event *schema.ExecutionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	event.Sequence = int64(len(m.events[event.ExecutionID]) + 1)
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	cp, err := copyValue(event)
	if err != nil {
		return err
	}
	m.events[event.ExecutionID] = append(m.events[event.ExecutionID], cp)
	return nil
}

func (m *MemoryStore) GetEvents(_ context.Context, executionID string, since int64) ([]*schema.ExecutionEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var events []*schema.ExecutionEvent
	for _, e := range m.events[executionID] {
		if e.Sequence <= since {
			continue
		}
		cp, err := copyValue(e)
		if err != nil {
			return nil, err
		}
		events = append(events, cp)
	}
	return events, nil
}

func (m *MemoryStore) SaveExecutionHistory(ctx context.Context, history *schema.ExecutionHistory) error {
	if history == nil {
		return schema.NewError(schema.ErrCodeValidation, "history is nil")
	}
	for _, e := range history.Events {
		if e.Sequence > 0 {
			continue
		}
		if err := m.AppendEvent(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) LoadExecutionHistory(ctx context.Context, executionID string) (*schema.ExecutionHistory, error) {
	events, err := m.GetEvents(ctx, executionID, 0)
	if err != nil {
		return nil, err
	}
	cps, err := m.ListCheckpoints(ctx, executionID)
	if err != nil {
		return nil, err
	}
	history := &schema.ExecutionHistory{
		ExecutionID: executionID,
		Events:      events,
	}
	for _, cp := range cps {
		history.Checkpoints = append(history.Checkpoints, cp.ID)
	}
	return history, nil
}

// --- Schedules ---

func (m *MemoryStore) SaveSchedule(_ context.Context, sched *Schedule) error {
	if sched.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "schedule id is empty")
	}
	cp, err := copyValue(sched)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[sched.ID] = cp
	return nil
}

func (m *MemoryStore) LoadSchedule(_ context.Context, id string) (*Schedule, error) {
	m.mu.RLock()
	sched, ok := m.schedules[id]
	m.mu.RUnlock()
	if !ok {
		return nil, storeNotFound("schedule", id)
	}
	return copyValue(sched)
}

func (m *MemoryStore) ListSchedules(_ context.Context, enabledOnly bool) ([]*Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var scheds []*Schedule
	for _, sched := range m.schedules {
		if enabledOnly && !sched.Enabled {
			continue
		}
		cp, err := copyValue(sched)
		if err != nil {
			return nil, err
		}
		scheds = append(scheds, cp)
	}
	sort.Slice(scheds, func(i, j int) bool { return scheds[i].ID < scheds[j].ID })
	return scheds, nil
}

func (m *MemoryStore) DeleteSchedule(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[id]; !ok {
		return storeNotFound("schedule", id)
	}
	delete(m.schedules, id)
	return nil
}

// Migrate is a no-op for the in-memory store.
func (m *MemoryStore) Migrate(context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error { return nil }

// copyValue round-trips a value through JSON so the stored copy shares no
// mutable structure with the caller's value.
func copyValue[T any](v *T) (*T, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "copy value").WithCause(err)
	}
	out := new(T)
	if err := json.Unmarshal(b, out); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "copy value").WithCause(err)
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
