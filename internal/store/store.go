package store

import (
	"context"

	"github.com/rendis/relay/pkg/schema"
)

// Recorder is the narrow persistence contract the execution engine depends
// on. Failures are surfaced to the caller but must never be treated as fatal
// to a run.
type Recorder interface {
	CreateExecution(ctx context.Context, exec *schema.Execution) error
	UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error
}

// Store defines the full persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	Recorder

	// Executions
	GetExecution(ctx context.Context, id string) (*schema.Execution, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.Execution, error)

	// Agents
	RegisterAgent(ctx context.Context, agent *schema.AgentDefinition) error
	GetAgent(ctx context.Context, id string) (*schema.AgentDefinition, error)
	ListAgents(ctx context.Context) ([]*schema.AgentDefinition, error)
	DeleteAgent(ctx context.Context, id string) error

	// Scheduled Runs
	CreateScheduledRun(ctx context.Context, run *ScheduledRun) error
	GetScheduledRun(ctx context.Context, id string) (*ScheduledRun, error)
	UpdateScheduledRun(ctx context.Context, id string, update ScheduledRunUpdate) error
	ListScheduledRuns(ctx context.Context, filter ScheduledRunFilter) ([]*ScheduledRun, error)
	DeleteScheduledRun(ctx context.Context, id string) error

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
