package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/relay/internal/logstream"
	"github.com/rendis/relay/internal/store"
	"github.com/rendis/relay/internal/validation"
	"github.com/rendis/relay/pkg/schema"
)

// Scheduler drives one Execution to completion: it walks the step list in
// declared order, applies each step's on_error policy, and persists progress
// through the recorder. Steps are never reordered and never run in parallel;
// dependency declarations are gates checked against already-executed steps.
//
// A Scheduler is safe for concurrent use: independent runs share no mutable
// state.
type Scheduler struct {
	runner    *StepRunner
	recorder  store.Recorder // nil disables persistence
	validator *validation.WorkflowValidator
	hub       *logstream.Hub // nil disables live observation
	logger    *slog.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(runner *StepRunner, recorder store.Recorder, validator *validation.WorkflowValidator, hub *logstream.Hub, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:    runner,
		recorder:  recorder,
		validator: validator,
		hub:       hub,
		logger:    logger,
	}
}

// Run executes the workflow once and returns the finalized Execution.
// The run identifier is generated here and never reused: re-invoking Run for
// the same Workflow always produces a new, independent Execution.
//
// Run returns a non-nil error only when the workflow fails load-time
// validation; step failures are reported through the Execution itself.
func (s *Scheduler) Run(ctx context.Context, wf *schema.Workflow, projectID string) (*schema.Execution, error) {
	if wf == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow is nil")
	}
	if s.validator != nil {
		if err := s.validator.Validate(ctx, wf); err != nil {
			return nil, err
		}
	}

	started := time.Now().UTC()
	exec := &schema.Execution{
		ID:         uuid.New().String(),
		WorkflowID: wf.ID,
		ProjectID:  projectID,
		Status:     schema.ExecutionStatusRunning,
		StartedAt:  started,
	}
	stream := logstream.NewStream(exec.ID, s.hub)
	logger := s.logger.With(
		slog.String("execution_id", exec.ID),
		slog.String("workflow_id", wf.ID),
	)

	stream.Info(fmt.Sprintf("Starting workflow: %s", wf.Name), "")
	logger.Info("workflow run started", slog.Int("steps", len(wf.Steps)))

	if s.recorder != nil {
		if err := s.recorder.CreateExecution(ctx, exec); err != nil {
			logger.Warn("recorder create failed", slog.String("error", err.Error()))
		}
	}

	for _, step := range wf.Steps {
		if err := ctx.Err(); err != nil {
			s.failRun(exec, "", schema.NewError(schema.ErrCodeCancelled, "run cancelled").WithCause(err))
			stream.Error("Workflow cancelled", "")
			break
		}

		result, err := s.runner.Run(ctx, step, exec.Results, stream)
		exec.Results = append(exec.Results, result)
		s.persist(exec, stream, logger)

		if err == nil {
			continue
		}
		if schema.CodeOf(err) == schema.ErrCodeCancelled {
			s.failRun(exec, step.AgentID, err)
			break
		}

		switch step.Policy() {
		case schema.OnErrorContinue:
			stream.Warning(fmt.Sprintf("Continuing after failure of %s", step.AgentID), step.AgentID)

		case schema.OnErrorFallback:
			stream.Warning(fmt.Sprintf("Falling back to agent %s", step.FallbackAgentID), step.AgentID)
			fb := fallbackStep(step)
			fbResult, fbErr := s.runner.Run(ctx, fb, exec.Results, stream)
			exec.Results = append(exec.Results, fbResult)
			s.persist(exec, stream, logger)
			if fbErr != nil {
				// A failed fallback is never substituted again.
				s.failRun(exec, fb.AgentID, fbErr)
			}

		default: // stop
			s.failRun(exec, step.AgentID, err)
		}

		if exec.Status == schema.ExecutionStatusFailed {
			break
		}
	}

	s.finalize(exec, stream, logger)
	return exec, nil
}

// fallbackStep builds the substitute for a step whose primary agent exhausted
// its retries: identical to the original except for the agent binding. The
// condition is never re-checked and the substitute cannot fall back again.
func fallbackStep(step schema.AgentStep) schema.AgentStep {
	fb := step
	fb.AgentID = step.FallbackAgentID
	fb.FallbackAgentID = ""
	fb.Condition = ""
	fb.OnError = schema.OnErrorStop
	return fb
}

// failRun marks the run failed with the step that caused it. The first
// failure wins; the status is terminal.
func (s *Scheduler) failRun(exec *schema.Execution, agentID string, err error) {
	if exec.Status == schema.ExecutionStatusFailed {
		return
	}
	exec.Status = schema.ExecutionStatusFailed
	exec.ErrorDetails = &schema.ErrorDetails{
		FailedAgent:  agentID,
		ErrorMessage: err.Error(),
	}
}

// finalize stamps the terminal status and persists the full run state once.
func (s *Scheduler) finalize(exec *schema.Execution, stream *logstream.Stream, logger *slog.Logger) {
	completed := time.Now().UTC()
	exec.CompletedAt = &completed
	exec.DurationMs = completed.Sub(exec.StartedAt).Milliseconds()

	if exec.Status == schema.ExecutionStatusRunning {
		exec.Status = schema.ExecutionStatusCompleted
		stream.Success(fmt.Sprintf("Workflow completed in %dms", exec.DurationMs), "")
		logger.Info("workflow run completed", slog.Int64("duration_ms", exec.DurationMs))
	} else {
		stream.Error(fmt.Sprintf("Workflow failed after %dms: %s", exec.DurationMs, exec.ErrorDetails.ErrorMessage), exec.ErrorDetails.FailedAgent)
		logger.Error("workflow run failed",
			slog.Int64("duration_ms", exec.DurationMs),
			slog.String("failed_agent", exec.ErrorDetails.FailedAgent),
			slog.String("error", exec.ErrorDetails.ErrorMessage),
		)
	}

	exec.Logs = stream.Entries()
	s.persist(exec, stream, logger)
}

// persist pushes the current run snapshot to the recorder. Persistence is
// best-effort: a failure is logged and the in-memory state stays authoritative.
func (s *Scheduler) persist(exec *schema.Execution, stream *logstream.Stream, logger *slog.Logger) {
	if s.recorder == nil {
		return
	}
	exec.Logs = stream.Entries()

	update := store.ExecutionUpdate{
		Status:       &exec.Status,
		Results:      exec.Results,
		Logs:         exec.Logs,
		CompletedAt:  exec.CompletedAt,
		ErrorDetails: exec.ErrorDetails,
	}
	if exec.CompletedAt != nil {
		update.DurationMs = &exec.DurationMs
	}

	// Background context: the snapshot after a cancelled step must still land.
	if err := s.recorder.UpdateExecution(context.Background(), exec.ID, update); err != nil {
		logger.Warn("recorder update failed", slog.String("error", err.Error()))
	}
}
