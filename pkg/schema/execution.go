package schema

import (
	"encoding/json"
	"time"
)

// ExecutionStatus represents the lifecycle state of a run.
// Transitions: running -> completed | failed. Terminal states never change.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// StepStatus is the terminal outcome of one step attempt sequence.
type StepStatus string

const (
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// LogLevel classifies a log stream entry.
type LogLevel string

const (
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
	LogLevelSuccess LogLevel = "success"
)

// StepResult is the engine-produced record for one step attempt sequence.
// Exactly one StepResult is appended per attempted step (retries do not add
// entries; a fallback substitution adds its own entry). Never mutated after
// creation.
type StepResult struct {
	AgentID     string          `json:"agent_id"`
	AgentName   string          `json:"agent_name,omitempty"`
	Status      StepStatus      `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
	DurationMs  int64           `json:"duration_ms"`
	Output      json.RawMessage `json:"output,omitempty"` // present only when completed
	RetryCount  int             `json:"retry_count"`
	Error       string          `json:"error,omitempty"` // present only when failed
}

// LogEntry is one append-only, timestamped entry in a run's log stream.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	AgentID   string    `json:"agent_id,omitempty"`
}

// ErrorDetails identifies the step whose failure finalized a run as failed.
type ErrorDetails struct {
	FailedAgent  string `json:"failed_agent"`
	ErrorMessage string `json:"error_message"`
}

// Execution is one end-to-end run of a workflow. Created at run start with
// status running, appended to as each step finishes, finalized exactly once.
type Execution struct {
	ID           string          `json:"id"`
	WorkflowID   string          `json:"workflow_id"`
	ProjectID    string          `json:"project_id,omitempty"`
	Status       ExecutionStatus `json:"status"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	DurationMs   int64           `json:"duration_ms,omitempty"`
	Results      []StepResult    `json:"results"`
	Logs         []LogEntry      `json:"logs"`
	ErrorDetails *ErrorDetails   `json:"error_details,omitempty"`
}
