package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rendis/relay/internal/catalog"
	"github.com/rendis/relay/internal/expressions"
	"github.com/rendis/relay/internal/invoker"
	"github.com/rendis/relay/internal/limiter"
	"github.com/rendis/relay/internal/logstream"
	"github.com/rendis/relay/pkg/schema"
)

// StepRunnerConfig holds the optional collaborators and tuning of a StepRunner.
type StepRunnerConfig struct {
	BackoffUnit time.Duration          // fixed unit for linear backoff; 0 means DefaultBackoffUnit
	Transforms  *expressions.GoJQEngine // nil disables output transforms
	Limiter     *limiter.Keyed          // nil disables per-agent rate limiting
	Logger      *slog.Logger
}

// StepRunner executes exactly one AgentStep against the accumulated results
// of prior steps in the same run. It owns the dependency gate, the condition
// gate, and the retry loop; it never persists anything.
type StepRunner struct {
	catalog     catalog.Catalog
	invoker     invoker.Invoker
	conditions  *expressions.ConditionEvaluator
	transforms  *expressions.GoJQEngine
	limiter     *limiter.Keyed
	backoffUnit time.Duration
	logger      *slog.Logger
}

// NewStepRunner creates a StepRunner.
func NewStepRunner(cat catalog.Catalog, inv invoker.Invoker, conditions *expressions.ConditionEvaluator, cfg StepRunnerConfig) *StepRunner {
	unit := cfg.BackoffUnit
	if unit <= 0 {
		unit = DefaultBackoffUnit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StepRunner{
		catalog:     cat,
		invoker:     inv,
		conditions:  conditions,
		transforms:  cfg.Transforms,
		limiter:     cfg.Limiter,
		backoffUnit: unit,
		logger:      logger,
	}
}

// Run executes one step. The returned StepResult is always populated and must
// be appended to the run by the caller. A nil error means the step completed
// or was skipped; a non-nil error carries the failure for the scheduler's
// on_error policy and is reflected in the result's failed status.
func (r *StepRunner) Run(ctx context.Context, step schema.AgentStep, prior []schema.StepResult, stream *logstream.Stream) (schema.StepResult, error) {
	started := time.Now().UTC()

	def, err := r.catalog.GetAgent(ctx, step.AgentID)
	if err != nil {
		stream.Error(fmt.Sprintf("Agent %s not found in catalog", step.AgentID), step.AgentID)
		return r.failed(step, "", started, 0, err), err
	}

	stream.Info(fmt.Sprintf("Starting agent: %s", def.Name), step.AgentID)

	// Dependency gate. Failures here never retry.
	if err := checkDependencies(step, prior); err != nil {
		stream.Error(err.Message, step.AgentID)
		return r.failed(step, def.Name, started, 0, err), err
	}

	// Condition gate against the most recently completed step's output.
	// Evaluation failures fail closed: the step is skipped, the run continues.
	if step.Condition != "" {
		met, evalErr := r.conditions.Evaluate(ctx, step.Condition, lastCompletedOutput(prior))
		if evalErr != nil {
			r.logger.Error("condition evaluation failed",
				slog.String("agent_id", step.AgentID),
				slog.String("condition", step.Condition),
				slog.String("error", evalErr.Error()),
			)
			stream.Error(fmt.Sprintf("Condition evaluation failed for %s: %s, skipping", def.Name, evalErr.Error()), step.AgentID)
			return r.skipped(step, def.Name, started), nil
		}
		if !met {
			stream.Info(fmt.Sprintf("Condition not met for %s, skipping", def.Name), step.AgentID)
			return r.skipped(step, def.Name, started), nil
		}
	}

	req := invoker.Request{
		SystemPrompt:       def.SystemPrompt,
		Instructions:       step.Instructions,
		Context:            contextEntries(prior),
		UseInternetContext: step.UseInternetContext,
	}

	// Retry loop: max_retries + 1 attempts, linear backoff between attempts.
	// Every failure is retried identically regardless of its kind.
	attempts := step.RetryBudget() + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			cancelErr := schema.NewError(schema.ErrCodeCancelled, "run cancelled").
				WithAgent(step.AgentID).WithCause(err)
			stream.Error(fmt.Sprintf("Run cancelled before invoking %s", def.Name), step.AgentID)
			return r.failed(step, def.Name, started, attempt-1, cancelErr), cancelErr
		}

		if waitErr := r.limiter.Wait(ctx, step.AgentID); waitErr != nil {
			cancelErr := schema.NewError(schema.ErrCodeCancelled, "run cancelled").
				WithAgent(step.AgentID).WithCause(waitErr)
			stream.Error(fmt.Sprintf("Run cancelled before invoking %s", def.Name), step.AgentID)
			return r.failed(step, def.Name, started, attempt-1, cancelErr), cancelErr
		}

		output, invokeErr := r.invoker.Invoke(ctx, req)
		if invokeErr == nil {
			output, invokeErr = r.applyTransform(ctx, step, output)
		}
		if invokeErr == nil {
			completed := time.Now().UTC()
			stream.Success(fmt.Sprintf("%s completed in %dms", def.Name, completed.Sub(started).Milliseconds()), step.AgentID)
			return schema.StepResult{
				AgentID:     step.AgentID,
				AgentName:   def.Name,
				Status:      schema.StepStatusCompleted,
				StartedAt:   started,
				CompletedAt: completed,
				DurationMs:  completed.Sub(started).Milliseconds(),
				Output:      output,
				RetryCount:  attempt - 1,
			}, nil
		}

		lastErr = invokeErr
		stream.Warning(fmt.Sprintf("%s attempt %d/%d failed: %s", def.Name, attempt, attempts, invokeErr.Error()), step.AgentID)

		if attempt < attempts {
			delay := LinearBackoff(attempt, r.backoffUnit)
			if waitErr := WaitForBackoff(ctx, delay); waitErr != nil {
				cancelErr := schema.NewError(schema.ErrCodeCancelled, "run cancelled").
					WithAgent(step.AgentID).WithCause(waitErr)
				stream.Error(fmt.Sprintf("Run cancelled during backoff for %s", def.Name), step.AgentID)
				return r.failed(step, def.Name, started, attempt-1, cancelErr), cancelErr
			}
		}
	}

	exhausted := schema.NewErrorf(schema.ErrCodeRetryExhausted,
		"retries exhausted after %d attempts: %s", attempts, lastErr.Error()).
		WithAgent(step.AgentID).WithCause(lastErr)
	stream.Error(fmt.Sprintf("%s failed after %d attempts: %s", def.Name, attempts, lastErr.Error()), step.AgentID)
	return r.failed(step, def.Name, started, attempts-1, exhausted), exhausted
}

// applyTransform reshapes a completed output through the step's jq expression.
// A transform failure fails the attempt like any invocation failure.
func (r *StepRunner) applyTransform(ctx context.Context, step schema.AgentStep, output json.RawMessage) (json.RawMessage, error) {
	if step.Transform == "" || r.transforms == nil {
		return output, nil
	}

	var parsed map[string]any
	if err := json.Unmarshal(output, &parsed); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvocation,
			"transform input is not a JSON object: %s", err.Error()).WithAgent(step.AgentID).WithCause(err)
	}

	transformed, err := r.transforms.Evaluate(ctx, step.Transform, parsed)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvocation,
			"transform %q failed: %s", step.Transform, err.Error()).WithAgent(step.AgentID).WithCause(err)
	}

	raw, err := json.Marshal(transformed)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvocation,
			"marshal transformed output: %s", err.Error()).WithAgent(step.AgentID).WithCause(err)
	}
	return raw, nil
}

func (r *StepRunner) failed(step schema.AgentStep, agentName string, started time.Time, retries int, cause error) schema.StepResult {
	completed := time.Now().UTC()
	return schema.StepResult{
		AgentID:     step.AgentID,
		AgentName:   agentName,
		Status:      schema.StepStatusFailed,
		StartedAt:   started,
		CompletedAt: completed,
		DurationMs:  completed.Sub(started).Milliseconds(),
		RetryCount:  retries,
		Error:       cause.Error(),
	}
}

func (r *StepRunner) skipped(step schema.AgentStep, agentName string, started time.Time) schema.StepResult {
	return schema.StepResult{
		AgentID:     step.AgentID,
		AgentName:   agentName,
		Status:      schema.StepStatusSkipped,
		StartedAt:   started,
		CompletedAt: started,
		DurationMs:  0,
		RetryCount:  0,
	}
}

// checkDependencies verifies every declared dependency has a completed result
// in the accumulated run state.
func checkDependencies(step schema.AgentStep, prior []schema.StepResult) *schema.RelayError {
	for _, dep := range step.DependsOn {
		satisfied := false
		for i := range prior {
			if prior[i].AgentID == dep && prior[i].Status == schema.StepStatusCompleted {
				satisfied = true
				break
			}
		}
		if !satisfied {
			return schema.NewErrorf(schema.ErrCodeDependency,
				"dependency %q has not completed successfully", dep).WithAgent(step.AgentID)
		}
	}
	return nil
}

// lastCompletedOutput returns the output of the most recently completed step,
// or nil when no step has completed yet.
func lastCompletedOutput(prior []schema.StepResult) json.RawMessage {
	for i := len(prior) - 1; i >= 0; i-- {
		if prior[i].Status == schema.StepStatusCompleted {
			return prior[i].Output
		}
	}
	return nil
}

// contextEntries collects completed prior outputs, in run order, for the invoker.
func contextEntries(prior []schema.StepResult) []invoker.ContextEntry {
	var entries []invoker.ContextEntry
	for i := range prior {
		if prior[i].Status != schema.StepStatusCompleted {
			continue
		}
		entries = append(entries, invoker.ContextEntry{
			AgentName: prior[i].AgentName,
			Output:    prior[i].Output,
		})
	}
	return entries
}
