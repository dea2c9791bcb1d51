package store

import (
	"time"

	"github.com/rendis/relay/pkg/schema"
)

// ScheduledRun is a cron-triggered workflow execution.
type ScheduledRun struct {
	ID             string          `json:"id"`
	Workflow       schema.Workflow `json:"workflow"`
	CronExpression string          `json:"cron_expression"`
	ProjectID      string          `json:"project_id,omitempty"`
	Enabled        bool            `json:"enabled"`
	LastRunAt      *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time      `json:"next_run_at,omitempty"`
	LastRunStatus  string          `json:"last_run_status,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ExecutionUpdate specifies mutable fields of an execution.
type ExecutionUpdate struct {
	Status       *schema.ExecutionStatus `json:"status,omitempty"`
	Results      []schema.StepResult     `json:"results,omitempty"`
	Logs         []schema.LogEntry       `json:"logs,omitempty"`
	CompletedAt  *time.Time              `json:"completed_at,omitempty"`
	DurationMs   *int64                  `json:"duration_ms,omitempty"`
	ErrorDetails *schema.ErrorDetails    `json:"error_details,omitempty"`
}

// ExecutionFilter specifies criteria for listing executions.
type ExecutionFilter struct {
	WorkflowID string                  `json:"workflow_id,omitempty"`
	ProjectID  string                  `json:"project_id,omitempty"`
	Status     *schema.ExecutionStatus `json:"status,omitempty"`
	Since      *time.Time              `json:"since,omitempty"`
	Limit      int                     `json:"limit,omitempty"`
	Offset     int                     `json:"offset,omitempty"`
}

// ScheduledRunUpdate specifies mutable fields of a scheduled run.
type ScheduledRunUpdate struct {
	CronExpression string     `json:"cron_expression,omitempty"`
	Enabled        *bool      `json:"enabled,omitempty"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus  string     `json:"last_run_status,omitempty"`
}

// ScheduledRunFilter specifies criteria for listing scheduled runs.
type ScheduledRunFilter struct {
	Enabled   *bool  `json:"enabled,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}
