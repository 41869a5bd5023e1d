package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/harmonia-labs/harmonia/internal/engine"
	"github.com/harmonia-labs/harmonia/internal/store"
	"github.com/harmonia-labs/harmonia/pkg/schema"
)

// WorkflowRunner is the interface the scheduler uses to run workflows.
// Satisfied by the engine.
type WorkflowRunner interface {
	ExecuteStoredWorkflow(ctx context.Context, workflowID string, input map[string]any, opts ...engine.ExecuteOption) (*schema.WorkflowExecution, error)
	Wait(ctx context.Context, executionID string) (*schema.WorkflowExecution, error)
}

// Scheduler polls the store for due cron schedules and runs their workflows.
type Scheduler struct {
	store    store.Store
	runner   WorkflowRunner
	parser   cron.Parser
	logger   *slog.Logger
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	runs sync.WaitGroup

	inflightMu sync.Mutex
	inflight   map[string]struct{} // schedule IDs currently executing (dedup)
}

// NewScheduler creates a new Scheduler with the standard 5-field cron parser
// and a one-minute tick.
func NewScheduler(s store.Store, runner WorkflowRunner, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:    s,
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger.With(slog.String("component", "scheduler")),
		interval: 60 * time.Second,
		inflight: make(map[string]struct{}),
	}
}

// CreateSchedule validates the cron expression, stamps the next run time,
// and persists the schedule. A missing ID is generated.
func (s *Scheduler) CreateSchedule(ctx context.Context, sched *store.Schedule) error {
	if sched.WorkflowID == "" {
		return schema.NewError(schema.ErrCodeValidation, "schedule has no workflow id")
	}
	next, err := s.CalculateNextRun(sched.Cron, time.Now().UTC())
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid cron expression").WithCause(err)
	}
	if _, err := s.store.LoadWorkflowDefinition(ctx, sched.WorkflowID); err != nil {
		return err
	}

	if sched.ID == "" {
		sched.ID = uuid.New().String()
	}
	sched.NextRunAt = &next
	return s.store.SaveSchedule(ctx, sched)
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick checks all enabled schedules and triggers those that are due. Runs
// happen in their own goroutines so a long workflow never stalls the loop.
func (s *Scheduler) tick(ctx context.Context) {
	schedules, err := s.store.ListSchedules(ctx, true)
	if err != nil {
		s.logger.Error("failed to list schedules", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, sched := range schedules {
		if sched.NextRunAt != nil && sched.NextRunAt.After(now) {
			continue
		}
		if !s.tryAcquire(sched.ID) {
			continue // previous run still in flight (dedup)
		}

		s.runs.Add(1)
		go func(sched *store.Schedule) {
			defer s.runs.Done()
			defer s.release(sched.ID)
			s.runSchedule(ctx, sched, now)
		}(sched)
	}
}

// runSchedule executes one due schedule's workflow, waits for the terminal
// state, and updates the schedule's bookkeeping.
func (s *Scheduler) runSchedule(ctx context.Context, sched *store.Schedule, now time.Time) {
	s.logger.Info("running schedule",
		slog.String("schedule_id", sched.ID),
		slog.String("workflow_id", sched.WorkflowID))

	status := "success"
	exec, err := s.runner.ExecuteStoredWorkflow(ctx, sched.WorkflowID, sched.Input)
	if err != nil {
		status = "error"
		s.logger.Error("scheduled execution failed to start",
			slog.String("schedule_id", sched.ID),
			slog.String("error", err.Error()))
	} else {
		final, waitErr := s.runner.Wait(ctx, exec.ID)
		switch {
		case waitErr != nil:
			status = "error"
		case final.Status != schema.WorkflowStatusCompleted:
			status = string(final.Status)
		}
	}

	if err := s.updateSchedule(ctx, sched, now, status); err != nil {
		s.logger.Error("failed to update schedule",
			slog.String("schedule_id", sched.ID),
			slog.String("error", err.Error()))
	}
}

func (s *Scheduler) updateSchedule(ctx context.Context, sched *store.Schedule, now time.Time, status string) error {
	next, err := s.CalculateNextRun(sched.Cron, now)
	if err != nil {
		return fmt.Errorf("calculate next run for schedule %q: %w", sched.ID, err)
	}

	sched.LastRunAt = &now
	sched.NextRunAt = &next
	sched.LastStatus = status
	return s.store.SaveSchedule(ctx, sched)
}

// tryAcquire marks the schedule as in-flight unless it already is.
func (s *Scheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}

// CalculateNextRun computes the next fire time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop shuts down the loop and waits for in-flight scheduled runs.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.runs.Wait()
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// RecoverMissed finds enabled schedules whose next_run_at is in the past
// (the process was down when they were due) and runs them once.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	schedules, err := s.store.ListSchedules(ctx, true)
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}

	now := time.Now().UTC()
	recovered := 0
	for _, sched := range schedules {
		if sched.NextRunAt == nil || !sched.NextRunAt.Before(now) {
			continue
		}
		if !s.tryAcquire(sched.ID) {
			continue
		}
		s.runSchedule(ctx, sched, now)
		s.release(sched.ID)
		recovered++
	}

	if recovered > 0 {
		s.logger.Info("recovered missed schedules", slog.Int("count", recovered))
	}
	return nil
}
