package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/relay/pkg/schema"
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

// --- Executions ---

func (s *LibSQLStore) CreateExecution(ctx context.Context, exec *schema.Execution) error {
	results, err := marshalSliceOrDefault(exec.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	logs, err := marshalSliceOrDefault(exec.Logs)
	if err != nil {
		return fmt.Errorf("marshal logs: %w", err)
	}
	errDetails, err := marshalOrNil(exec.ErrorDetails)
	if err != nil {
		return fmt.Errorf("marshal error_details: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (id, workflow_id, project_id, status, results, logs, error_details, started_at, completed_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.WorkflowID, nullStr(exec.ProjectID), string(exec.Status),
		string(results), string(logs), errDetails,
		timeOrNow(exec.StartedAt), nullTime(exec.CompletedAt), exec.DurationMs,
	)
	return err
}

func (s *LibSQLStore) UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Results != nil {
		results, err := json.Marshal(update.Results)
		if err != nil {
			return fmt.Errorf("marshal results: %w", err)
		}
		sets = append(sets, "results = ?")
		args = append(args, string(results))
	}
	if update.Logs != nil {
		logs, err := json.Marshal(update.Logs)
		if err != nil {
			return fmt.Errorf("marshal logs: %w", err)
		}
		sets = append(sets, "logs = ?")
		args = append(args, string(logs))
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if update.DurationMs != nil {
		sets = append(sets, "duration_ms = ?")
		args = append(args, *update.DurationMs)
	}
	if update.ErrorDetails != nil {
		errDetails, err := json.Marshal(update.ErrorDetails)
		if err != nil {
			return fmt.Errorf("marshal error_details: %w", err)
		}
		sets = append(sets, "error_details = ?")
		args = append(args, string(errDetails))
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE executions SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "execution", id)
}

func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*schema.Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_id, project_id, status, results, logs, error_details, started_at, completed_at, duration_ms
		 FROM executions WHERE id = ?`, id,
	)
	exec, err := scanExecution(row.Scan)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution", id)
	}
	if err != nil {
		return nil, err
	}
	return exec, nil
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.Execution, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "started_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, workflow_id, project_id, status, results, logs, error_details, started_at, completed_at, duration_ms FROM executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
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

	var executions []*schema.Execution
	for rows.Next() {
		exec, err := scanExecution(rows.Scan)
		if err != nil {
			return nil, err
		}
		executions = append(executions, exec)
	}
	return executions, rows.Err()
}

func scanExecution(scan func(...any) error) (*schema.Execution, error) {
	exec := &schema.Execution{}
	var (
		projectID              sql.NullString
		status                 string
		resultsJSON, logsJSON  string
		errDetailsJSON         sql.NullString
		completedAt            sql.NullTime
	)
	if err := scan(&exec.ID, &exec.WorkflowID, &projectID, &status,
		&resultsJSON, &logsJSON, &errDetailsJSON,
		&exec.StartedAt, &completedAt, &exec.DurationMs); err != nil {
		return nil, err
	}
	exec.ProjectID = projectID.String
	exec.Status = schema.ExecutionStatus(status)
	if err := json.Unmarshal([]byte(resultsJSON), &exec.Results); err != nil {
		return nil, fmt.Errorf("unmarshal results: %w", err)
	}
	if err := json.Unmarshal([]byte(logsJSON), &exec.Logs); err != nil {
		return nil, fmt.Errorf("unmarshal logs: %w", err)
	}
	if errDetailsJSON.Valid && errDetailsJSON.String != "" {
		exec.ErrorDetails = &schema.ErrorDetails{}
		if err := json.Unmarshal([]byte(errDetailsJSON.String), exec.ErrorDetails); err != nil {
			return nil, fmt.Errorf("unmarshal error_details: %w", err)
		}
	}
	if completedAt.Valid {
		exec.CompletedAt = &completedAt.Time
	}
	return exec, nil
}

// --- Agents ---

func (s *LibSQLStore) RegisterAgent(ctx context.Context, agent *schema.AgentDefinition) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agents (id, name, system_prompt, icon, created_at) VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, system_prompt=excluded.system_prompt, icon=excluded.icon, updated_at=CURRENT_TIMESTAMP`,
		agent.ID, agent.Name, agent.SystemPrompt, nullStr(agent.Icon),
	)
	return err
}

func (s *LibSQLStore) GetAgent(ctx context.Context, id string) (*schema.AgentDefinition, error) {
	a := &schema.AgentDefinition{}
	var icon sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, system_prompt, icon FROM agents WHERE id = ?`, id,
	).Scan(&a.ID, &a.Name, &a.SystemPrompt, &icon)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("agent", id)
	}
	if err != nil {
		return nil, err
	}
	a.Icon = icon.String
	return a, nil
}

func (s *LibSQLStore) ListAgents(ctx context.Context) ([]*schema.AgentDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, system_prompt, icon FROM agents ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []*schema.AgentDefinition
	for rows.Next() {
		a := &schema.AgentDefinition{}
		var icon sql.NullString
		if err := rows.Scan(&a.ID, &a.Name, &a.SystemPrompt, &icon); err != nil {
			return nil, err
		}
		a.Icon = icon.String
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (s *LibSQLStore) DeleteAgent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "agent", id)
}

// --- Scheduled Runs ---

func (s *LibSQLStore) CreateScheduledRun(ctx context.Context, run *ScheduledRun) error {
	wf, err := json.Marshal(run.Workflow)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scheduled_runs (id, workflow, cron_expression, project_id, enabled, last_run_at, next_run_at, last_run_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(wf), run.CronExpression, nullStr(run.ProjectID), run.Enabled,
		nullTime(run.LastRunAt), nullTime(run.NextRunAt), nullStr(run.LastRunStatus),
		timeOrNow(run.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetScheduledRun(ctx context.Context, id string) (*ScheduledRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, workflow, cron_expression, project_id, enabled, last_run_at, next_run_at, last_run_status, created_at
		 FROM scheduled_runs WHERE id = ?`, id,
	)
	run, err := scanScheduledRun(row.Scan)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("scheduled_run", id)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *LibSQLStore) UpdateScheduledRun(ctx context.Context, id string, update ScheduledRunUpdate) error {
	var sets []string
	var args []any

	if update.CronExpression != "" {
		sets = append(sets, "cron_expression = ?")
		args = append(args, update.CronExpression)
	}
	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, *update.Enabled)
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE scheduled_runs SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled_run", id)
}

func (s *LibSQLStore) ListScheduledRuns(ctx context.Context, filter ScheduledRunFilter) ([]*ScheduledRun, error) {
	var where []string
	var args []any

	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, *filter.Enabled)
	}
	if filter.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, filter.ProjectID)
	}

	query := `SELECT id, workflow, cron_expression, project_id, enabled, last_run_at, next_run_at, last_run_status, created_at FROM scheduled_runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*ScheduledRun
	for rows.Next() {
		run, err := scanScheduledRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *LibSQLStore) DeleteScheduledRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled_run", id)
}

func scanScheduledRun(scan func(...any) error) (*ScheduledRun, error) {
	run := &ScheduledRun{}
	var (
		wfJSON               string
		projectID, status    sql.NullString
		lastRunAt, nextRunAt sql.NullTime
	)
	if err := scan(&run.ID, &wfJSON, &run.CronExpression, &projectID, &run.Enabled,
		&lastRunAt, &nextRunAt, &status, &run.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(wfJSON), &run.Workflow); err != nil {
		return nil, fmt.Errorf("unmarshal workflow: %w", err)
	}
	run.ProjectID = projectID.String
	run.LastRunStatus = status.String
	if lastRunAt.Valid {
		run.LastRunAt = &lastRunAt.Time
	}
	if nextRunAt.Valid {
		run.NextRunAt = &nextRunAt.Time
	}
	return run, nil
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.RelayError {
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

func marshalSliceOrDefault[T any](s []T) (json.RawMessage, error) {
	if len(s) == 0 {
		return json.RawMessage("[]"), nil
	}
	return json.Marshal(s)
}

func marshalOrNil(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case *schema.ErrorDetails:
		if t == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
