package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/harmonia-labs/harmonia/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Workflow definitions ---

func (s *LibSQLStore) SaveWorkflowDefinition(ctx context.Context, def *schema.WorkflowDefinition) error {
	if def.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "definition id is empty")
	}
	raw, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_definitions (id, name, version, definition, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, version=excluded.version,
		   definition=excluded.definition, updated_at=CURRENT_TIMESTAMP`,
		def.ID, def.Name, nullStr(def.Version), string(raw), timeOrNow(def.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) LoadWorkflowDefinition(ctx context.Context, id string) (*schema.WorkflowDefinition, error) {
	var raw string
	var createdAt, updatedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT definition, created_at, updated_at FROM workflow_definitions WHERE id = ?`, id,
	).Scan(&raw, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow definition", id)
	}
	if err != nil {
		return nil, err
	}

	def := &schema.WorkflowDefinition{}
	if err := json.Unmarshal([]byte(raw), def); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	def.CreatedAt = createdAt
	def.UpdatedAt = updatedAt
	return def, nil
}

func (s *LibSQLStore) ListWorkflowDefinitions(ctx context.Context) ([]*schema.WorkflowDefinition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT definition, created_at, updated_at FROM workflow_definitions ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []*schema.WorkflowDefinition
	for rows.Next() {
		var raw string
		var createdAt, updatedAt time.Time
		if err := rows.Scan(&raw, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		def := &schema.WorkflowDefinition{}
		if err := json.Unmarshal([]byte(raw), def); err != nil {
			return nil, fmt.Errorf("unmarshal definition: %w", err)
		}
		def.CreatedAt = createdAt
		def.UpdatedAt = updatedAt
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (s *LibSQLStore) DeleteWorkflowDefinition(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflow_definitions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow definition", id)
}

// --- Workflow executions ---

func (s *LibSQLStore) SaveWorkflowExecution(ctx context.Context, exec *schema.WorkflowExecution) error {
	if exec.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "execution id is empty")
	}
	input, err := marshalMapOrDefault(exec.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	output, err := marshalMapOrDefault(exec.Output)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	metadata, err := marshalMapOrDefault(exec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	tasks, err := json.Marshal(exec.Tasks)
	if err != nil {
		return fmt.Errorf("marshal tasks: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_executions (id, workflow_id, status, input, output, error, metadata, tasks, start_time, end_time, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO UPDATE SET status=excluded.status, input=excluded.input,
		   output=excluded.output, error=excluded.error, metadata=excluded.metadata,
		   tasks=excluded.tasks, start_time=excluded.start_time, end_time=excluded.end_time,
		   updated_at=CURRENT_TIMESTAMP`,
		exec.ID, exec.WorkflowID, string(exec.Status),
		string(input), string(output), nullStr(exec.Error), string(metadata), string(tasks),
		nullTime(exec.StartTime), nullTime(exec.EndTime),
	)
	return err
}

func (s *LibSQLStore) LoadWorkflowExecution(ctx context.Context, id string) (*schema.WorkflowExecution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_id, status, input, output, error, metadata, tasks, start_time, end_time
		 FROM workflow_executions WHERE id = ?`, id,
	)
	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow execution", id)
	}
	return exec, err
}

func (s *LibSQLStore) ListWorkflowExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.WorkflowExecution, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, workflow_id, status, input, output, error, metadata, tasks, start_time, end_time FROM workflow_executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []*schema.WorkflowExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan logic.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*schema.WorkflowExecution, error) {
	exec := &schema.WorkflowExecution{}
	var (
		status                        string
		inputJSON, outputJSON         string
		metadataJSON, tasksJSON       string
		errStr                        sql.NullString
		startTime, endTime            sql.NullTime
	)
	err := row.Scan(&exec.ID, &exec.WorkflowID, &status, &inputJSON, &outputJSON,
		&errStr, &metadataJSON, &tasksJSON, &startTime, &endTime)
	if err != nil {
		return nil, err
	}
	exec.Status = schema.WorkflowStatus(status)
	exec.Error = errStr.String
	if err := json.Unmarshal([]byte(inputJSON), &exec.Input); err != nil {
		return nil, fmt.Errorf("unmarshal input: %w", err)
	}
	if err := json.Unmarshal([]byte(outputJSON), &exec.Output); err != nil {
		return nil, fmt.Errorf("unmarshal output: %w", err)
	}
	if err := json.Unmarshal([]byte(metadataJSON), &exec.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if err := json.Unmarshal([]byte(tasksJSON), &exec.Tasks); err != nil {
		return nil, fmt.Errorf("unmarshal tasks: %w", err)
	}
	if exec.Tasks == nil {
		exec.Tasks = make(map[string]*schema.TaskExecution)
	}
	if startTime.Valid {
		t := startTime.Time
		exec.StartTime = &t
	}
	if endTime.Valid {
		t := endTime.Time
		exec.EndTime = &t
	}
	return exec, nil
}

// --- Checkpoints ---

func (s *LibSQLStore) SaveCheckpoint(ctx context.Context, cp *schema.Checkpoint) error {
	if cp.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "checkpoint id is empty")
	}
	statuses, err := json.Marshal(cp.TaskStatuses)
	if err != nil {
		return fmt.Errorf("marshal task_statuses: %w", err)
	}
	completed, err := json.Marshal(cp.CompletedTasks)
	if err != nil {
		return fmt.Errorf("marshal completed_tasks: %w", err)
	}
	stateData, err := marshalMapOrDefault(cp.StateData)
	if err != nil {
		return fmt.Errorf("marshal state_data: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (id, execution_id, workflow_id, workflow_status, task_statuses, completed_tasks, state_data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		cp.ID, cp.ExecutionID, cp.WorkflowID, string(cp.WorkflowStatus),
		string(statuses), string(completed), string(stateData), timeOrNow(cp.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) LoadCheckpoint(ctx context.Context, id string) (*schema.Checkpoint, error) {
	cp := &schema.Checkpoint{}
	var status, statusesJSON, completedJSON, stateJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, execution_id, workflow_id, workflow_status, task_statuses, completed_tasks, state_data, created_at
		 FROM checkpoints WHERE id = ?`, id,
	).Scan(&cp.ID, &cp.ExecutionID, &cp.WorkflowID, &status, &statusesJSON, &completedJSON, &stateJSON, &cp.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("checkpoint", id)
	}
	if err != nil {
		return nil, err
	}
	cp.WorkflowStatus = schema.WorkflowStatus(status)
	if err := json.Unmarshal([]byte(statusesJSON), &cp.TaskStatuses); err != nil {
		return nil, fmt.Errorf("unmarshal task_statuses: %w", err)
	}
	if err := json.Unmarshal([]byte(completedJSON), &cp.CompletedTasks); err != nil {
		return nil, fmt.Errorf("unmarshal completed_tasks: %w", err)
	}
	if err := json.Unmarshal([]byte(stateJSON), &cp.StateData); err != nil {
		return nil, fmt.Errorf("unmarshal state_data: %w", err)
	}
	return cp, nil
}

func (s *LibSQLStore) ListCheckpoints(ctx context.Context, executionID string) ([]*schema.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM checkpoints WHERE execution_id = ? ORDER BY created_at ASC`, executionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	cps := make([]*schema.Checkpoint, 0, len(ids))
	for _, id := range ids {
		cp, err := s.LoadCheckpoint(ctx, id)
		if err != nil {
			return nil, err
		}
		cps = append(cps, cp)
	}
	return cps, nil
}

// --- Events ---

// AppendEvent appends an event with a monotonically increasing per-execution
// sequence. The sequence read and insert run in one transaction; with a
// single connection and busy_timeout this serializes concurrent appenders.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *schema.ExecutionEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM execution_events WHERE execution_id = ?`, event.ExecutionID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	details, err := nullableJSONMap(event.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO execution_events (id, execution_id, type, task_id, message, details, sequence, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.ExecutionID, string(event.Type), nullStr(event.TaskID),
		nullStr(event.Message), details, seq, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// GetEvents returns events for an execution with sequence > since, ordered by sequence ASC.
func (s *LibSQLStore) GetEvents(ctx context.Context, executionID string, since int64) ([]*schema.ExecutionEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, type, task_id, message, details, sequence, timestamp
		 FROM execution_events WHERE execution_id = ? AND sequence > ? ORDER BY sequence ASC`,
		executionID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*schema.ExecutionEvent
	for rows.Next() {
		e := &schema.ExecutionEvent{}
		var eventType string
		var taskID, message, details sql.NullString
		if err := rows.Scan(&e.ID, &e.ExecutionID, &eventType, &taskID, &message, &details, &e.Sequence, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Type = schema.EventType(eventType)
		e.TaskID = taskID.String
		e.Message = message.String
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, fmt.Errorf("unmarshal details: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// SaveExecutionHistory persists any events in the history that have not been
// sequenced yet. Already-persisted events (Sequence > 0) are left untouched.
func (s *LibSQLStore) SaveExecutionHistory(ctx context.Context, history *schema.ExecutionHistory) error {
	if history == nil {
		return schema.NewError(schema.ErrCodeValidation, "history is nil")
	}
	for _, e := range history.Events {
		if e.Sequence > 0 {
			continue
		}
		if err := s.AppendEvent(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// LoadExecutionHistory rebuilds a history from persisted events and checkpoints.
func (s *LibSQLStore) LoadExecutionHistory(ctx context.Context, executionID string) (*schema.ExecutionHistory, error) {
	events, err := s.GetEvents(ctx, executionID, 0)
	if err != nil {
		return nil, err
	}
	cps, err := s.ListCheckpoints(ctx, executionID)
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

func (s *LibSQLStore) SaveSchedule(ctx context.Context, sched *Schedule) error {
	if sched.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "schedule id is empty")
	}
	input, err := marshalMapOrDefault(sched.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO schedules (id, workflow_id, cron, input, enabled, last_run_at, next_run_at, last_status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO UPDATE SET workflow_id=excluded.workflow_id, cron=excluded.cron,
		   input=excluded.input, enabled=excluded.enabled, last_run_at=excluded.last_run_at,
		   next_run_at=excluded.next_run_at, last_status=excluded.last_status, updated_at=CURRENT_TIMESTAMP`,
		sched.ID, sched.WorkflowID, sched.Cron, string(input), boolToInt(sched.Enabled),
		nullTime(sched.LastRunAt), nullTime(sched.NextRunAt), nullStr(sched.LastStatus),
		timeOrNow(sched.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) LoadSchedule(ctx context.Context, id string) (*Schedule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_id, cron, input, enabled, last_run_at, next_run_at, last_status, created_at, updated_at
		 FROM schedules WHERE id = ?`, id,
	)
	sched, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("schedule", id)
	}
	return sched, err
}

func (s *LibSQLStore) ListSchedules(ctx context.Context, enabledOnly bool) ([]*Schedule, error) {
	query := `SELECT id, workflow_id, cron, input, enabled, last_run_at, next_run_at, last_status, created_at, updated_at FROM schedules`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scheds []*Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		scheds = append(scheds, sched)
	}
	return scheds, rows.Err()
}

func (s *LibSQLStore) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "schedule", id)
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	sched := &Schedule{}
	var (
		inputJSON          string
		enabled            int
		lastRun, nextRun   sql.NullTime
		lastStatus         sql.NullString
	)
	err := row.Scan(&sched.ID, &sched.WorkflowID, &sched.Cron, &inputJSON, &enabled,
		&lastRun, &nextRun, &lastStatus, &sched.CreatedAt, &sched.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sched.Enabled = enabled != 0
	sched.LastStatus = lastStatus.String
	if err := json.Unmarshal([]byte(inputJSON), &sched.Input); err != nil {
		return nil, fmt.Errorf("unmarshal input: %w", err)
	}
	if lastRun.Valid {
		t := lastRun.Time
		sched.LastRunAt = &t
	}
	if nextRun.Valid {
		t := nextRun.Time
		sched.NextRunAt = &t
	}
	return sched, nil
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableJSONMap(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Store = (*LibSQLStore)(nil)
