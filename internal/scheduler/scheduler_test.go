package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harmonia-labs/harmonia/internal/engine"
	"github.com/harmonia-labs/harmonia/internal/store"
	"github.com/harmonia-labs/harmonia/pkg/schema"
)

// fakeRunner satisfies WorkflowRunner without spinning up a real engine.
type fakeRunner struct {
	mu          sync.Mutex
	calls       []string
	finalStatus schema.WorkflowStatus
	startErr    error
	block       chan struct{} // when set, Wait blocks until closed
}

func (f *fakeRunner) ExecuteStoredWorkflow(_ context.Context, workflowID string, _ map[string]any, _ ...engine.ExecuteOption) (*schema.WorkflowExecution, error) {
	f.mu.Lock()
	f.calls = append(f.calls, workflowID)
	f.mu.Unlock()

	if f.startErr != nil {
		return nil, f.startErr
	}
	return &schema.WorkflowExecution{ID: uuid.New().String(), WorkflowID: workflowID}, nil
}

func (f *fakeRunner) Wait(_ context.Context, executionID string) (*schema.WorkflowExecution, error) {
	if f.block != nil {
		<-f.block
	}
	status := f.finalStatus
	if status == "" {
		status = schema.WorkflowStatusCompleted
	}
	return &schema.WorkflowExecution{ID: executionID, Status: status}, nil
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestScheduler(t *testing.T, runner *fakeRunner) (*Scheduler, *store.MemoryStore) {
	t.Helper()

	st := store.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewScheduler(st, runner, logger), st
}

func saveDefinition(t *testing.T, st *store.MemoryStore, id string) {
	t.Helper()
	require.NoError(t, st.SaveWorkflowDefinition(context.Background(), &schema.WorkflowDefinition{
		ID:   id,
		Name: id,
		Tasks: map[string]*schema.TaskDefinition{
			"a": {ID: "a", Component: "core", Action: "echo"},
		},
	}))
}

func pastTime() *time.Time {
	past := time.Now().UTC().Add(-time.Minute)
	return &past
}

func TestCreateSchedule(t *testing.T) {
	s, st := newTestScheduler(t, &fakeRunner{})
	saveDefinition(t, st, "wf-nightly")

	sched := &store.Schedule{WorkflowID: "wf-nightly", Cron: "0 3 * * *", Enabled: true}
	require.NoError(t, s.CreateSchedule(context.Background(), sched))

	assert.NotEmpty(t, sched.ID)
	require.NotNil(t, sched.NextRunAt)
	assert.True(t, sched.NextRunAt.After(time.Now().UTC()))

	loaded, err := st.LoadSchedule(context.Background(), sched.ID)
	require.NoError(t, err)
	assert.Equal(t, "wf-nightly", loaded.WorkflowID)
}

func TestCreateSchedule_InvalidCron(t *testing.T) {
	s, st := newTestScheduler(t, &fakeRunner{})
	saveDefinition(t, st, "wf-x")

	err := s.CreateSchedule(context.Background(), &store.Schedule{WorkflowID: "wf-x", Cron: "not a cron"})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
}

func TestCreateSchedule_UnknownWorkflow(t *testing.T) {
	s, _ := newTestScheduler(t, &fakeRunner{})

	err := s.CreateSchedule(context.Background(), &store.Schedule{WorkflowID: "ghost", Cron: "* * * * *"})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.ErrorCode(err))
}

func TestCreateSchedule_MissingWorkflowID(t *testing.T) {
	s, _ := newTestScheduler(t, &fakeRunner{})

	err := s.CreateSchedule(context.Background(), &store.Schedule{Cron: "* * * * *"})
	require.Error(t, err)
}

func TestTick_RunsDueSchedule(t *testing.T) {
	runner := &fakeRunner{}
	s, st := newTestScheduler(t, runner)

	require.NoError(t, st.SaveSchedule(context.Background(), &store.Schedule{
		ID: "sched-1", WorkflowID: "wf-due", Cron: "* * * * *",
		Enabled: true, NextRunAt: pastTime(),
	}))

	s.tick(context.Background())
	s.runs.Wait()

	assert.Equal(t, 1, runner.callCount())

	updated, err := st.LoadSchedule(context.Background(), "sched-1")
	require.NoError(t, err)
	assert.Equal(t, "success", updated.LastStatus)
	require.NotNil(t, updated.LastRunAt)
	require.NotNil(t, updated.NextRunAt)
	assert.True(t, updated.NextRunAt.After(*updated.LastRunAt))
}

func TestTick_SkipsFutureAndDisabled(t *testing.T) {
	runner := &fakeRunner{}
	s, st := newTestScheduler(t, runner)

	future := time.Now().UTC().Add(time.Hour)
	require.NoError(t, st.SaveSchedule(context.Background(), &store.Schedule{
		ID: "sched-future", WorkflowID: "wf-a", Cron: "* * * * *",
		Enabled: true, NextRunAt: &future,
	}))
	require.NoError(t, st.SaveSchedule(context.Background(), &store.Schedule{
		ID: "sched-disabled", WorkflowID: "wf-b", Cron: "* * * * *",
		Enabled: false, NextRunAt: pastTime(),
	}))

	s.tick(context.Background())
	s.runs.Wait()

	assert.Zero(t, runner.callCount())
}

func TestTick_DeduplicatesInflightRuns(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	s, st := newTestScheduler(t, runner)

	require.NoError(t, st.SaveSchedule(context.Background(), &store.Schedule{
		ID: "sched-slow", WorkflowID: "wf-slow", Cron: "* * * * *",
		Enabled: true, NextRunAt: pastTime(),
	}))

	s.tick(context.Background())
	s.tick(context.Background()) // first run still blocked in Wait
	close(runner.block)
	s.runs.Wait()

	assert.Equal(t, 1, runner.callCount())
}

func TestRunSchedule_RecordsFailedStatus(t *testing.T) {
	runner := &fakeRunner{finalStatus: schema.WorkflowStatusFailed}
	s, st := newTestScheduler(t, runner)

	require.NoError(t, st.SaveSchedule(context.Background(), &store.Schedule{
		ID: "sched-fail", WorkflowID: "wf-fail", Cron: "* * * * *",
		Enabled: true, NextRunAt: pastTime(),
	}))

	s.tick(context.Background())
	s.runs.Wait()

	updated, err := st.LoadSchedule(context.Background(), "sched-fail")
	require.NoError(t, err)
	assert.Equal(t, "failed", updated.LastStatus)
}

func TestRunSchedule_RecordsStartError(t *testing.T) {
	runner := &fakeRunner{startErr: schema.NewError(schema.ErrCodeNotFound, "definition gone")}
	s, st := newTestScheduler(t, runner)

	require.NoError(t, st.SaveSchedule(context.Background(), &store.Schedule{
		ID: "sched-err", WorkflowID: "wf-gone", Cron: "* * * * *",
		Enabled: true, NextRunAt: pastTime(),
	}))

	s.tick(context.Background())
	s.runs.Wait()

	updated, err := st.LoadSchedule(context.Background(), "sched-err")
	require.NoError(t, err)
	assert.Equal(t, "error", updated.LastStatus)
}

func TestRecoverMissed(t *testing.T) {
	runner := &fakeRunner{}
	s, st := newTestScheduler(t, runner)

	require.NoError(t, st.SaveSchedule(context.Background(), &store.Schedule{
		ID: "sched-missed", WorkflowID: "wf-missed", Cron: "* * * * *",
		Enabled: true, NextRunAt: pastTime(),
	}))
	future := time.Now().UTC().Add(time.Hour)
	require.NoError(t, st.SaveSchedule(context.Background(), &store.Schedule{
		ID: "sched-ok", WorkflowID: "wf-ok", Cron: "* * * * *",
		Enabled: true, NextRunAt: &future,
	}))

	require.NoError(t, s.RecoverMissed(context.Background()))
	assert.Equal(t, 1, runner.callCount())

	updated, err := st.LoadSchedule(context.Background(), "sched-missed")
	require.NoError(t, err)
	require.NotNil(t, updated.NextRunAt)
	assert.True(t, updated.NextRunAt.After(time.Now().UTC()))
}

func TestStartStop(t *testing.T) {
	s, _ := newTestScheduler(t, &fakeRunner{})

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop()) // idempotent

	// Restart after a clean stop is allowed.
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
}

func TestCalculateNextRun(t *testing.T) {
	s, _ := newTestScheduler(t, &fakeRunner{})

	from := time.Date(2026, 1, 1, 10, 2, 0, 0, time.UTC)
	next, err := s.CalculateNextRun("*/5 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 1, 10, 5, 0, 0, time.UTC), next)

	_, err = s.CalculateNextRun("bogus", from)
	assert.Error(t, err)
}
