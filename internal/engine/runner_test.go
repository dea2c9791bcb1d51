package engine

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/relay/internal/catalog"
	"github.com/rendis/relay/internal/expressions"
	"github.com/rendis/relay/internal/invoker"
	"github.com/rendis/relay/internal/logstream"
	"github.com/rendis/relay/pkg/schema"
)

// fakeInvoker counts invocations and delegates to fn.
type fakeInvoker struct {
	calls atomic.Int64
	fn    func(ctx context.Context, req invoker.Request) (json.RawMessage, error)
}

func (f *fakeInvoker) Invoke(ctx context.Context, req invoker.Request) (json.RawMessage, error) {
	f.calls.Add(1)
	return f.fn(ctx, req)
}

func testCatalog(t *testing.T, ids ...string) catalog.Catalog {
	t.Helper()
	defs := make([]schema.AgentDefinition, 0, len(ids))
	for _, id := range ids {
		defs = append(defs, schema.AgentDefinition{
			ID:           id,
			Name:         "Agent " + id,
			SystemPrompt: "You are " + id,
		})
	}
	return catalog.NewStatic(defs)
}

func testRunner(t *testing.T, cat catalog.Catalog, inv invoker.Invoker) *StepRunner {
	t.Helper()
	cel, err := expressions.NewCELEngine()
	require.NoError(t, err)
	return NewStepRunner(cat, inv, expressions.NewConditionEvaluator(cel), StepRunnerConfig{
		BackoffUnit: time.Millisecond,
		Transforms:  expressions.NewGoJQEngine(),
	})
}

func testStream() *logstream.Stream {
	return logstream.NewStream("exec-test", nil)
}

func succeedWith(output string) *fakeInvoker {
	return &fakeInvoker{fn: func(context.Context, invoker.Request) (json.RawMessage, error) {
		return json.RawMessage(output), nil
	}}
}

func alwaysFail(kind invoker.ErrorKind) *fakeInvoker {
	return &fakeInvoker{fn: func(context.Context, invoker.Request) (json.RawMessage, error) {
		return nil, invoker.NewErrorf(kind, "provider exploded")
	}}
}

func TestStepRunner_Success(t *testing.T) {
	inv := succeedWith(`{"metrics":{"score":0.9}}`)
	r := testRunner(t, testCatalog(t, "analyzer"), inv)

	res, err := r.Run(context.Background(), schema.AgentStep{AgentID: "analyzer"}, nil, testStream())
	require.NoError(t, err)
	assert.Equal(t, schema.StepStatusCompleted, res.Status)
	assert.Equal(t, "analyzer", res.AgentID)
	assert.Equal(t, "Agent analyzer", res.AgentName)
	assert.Equal(t, 0, res.RetryCount)
	assert.JSONEq(t, `{"metrics":{"score":0.9}}`, string(res.Output))
	assert.EqualValues(t, 1, inv.calls.Load())
}

func TestStepRunner_UnknownAgent(t *testing.T) {
	inv := succeedWith(`{}`)
	r := testRunner(t, testCatalog(t), inv)

	res, err := r.Run(context.Background(), schema.AgentStep{AgentID: "ghost"}, nil, testStream())
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
	assert.Equal(t, schema.StepStatusFailed, res.Status)
	assert.Zero(t, inv.calls.Load())
}

func TestStepRunner_DependencyUnsatisfied_NeverRan(t *testing.T) {
	inv := succeedWith(`{}`)
	r := testRunner(t, testCatalog(t, "b"), inv)

	step := schema.AgentStep{AgentID: "b", DependsOn: []string{"a"}}
	res, err := r.Run(context.Background(), step, nil, testStream())
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeDependency, schema.CodeOf(err))
	assert.Equal(t, schema.StepStatusFailed, res.Status)
	assert.Equal(t, 0, res.RetryCount)
	// Dependency failures never reach the invoker, so no retries happen.
	assert.Zero(t, inv.calls.Load())
}

func TestStepRunner_DependencyUnsatisfied_PriorFailed(t *testing.T) {
	inv := succeedWith(`{}`)
	r := testRunner(t, testCatalog(t, "b"), inv)

	prior := []schema.StepResult{{AgentID: "a", Status: schema.StepStatusFailed}}
	step := schema.AgentStep{AgentID: "b", DependsOn: []string{"a"}}
	_, err := r.Run(context.Background(), step, prior, testStream())
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeDependency, schema.CodeOf(err))
	assert.Zero(t, inv.calls.Load())
}

func TestStepRunner_DependencySatisfied(t *testing.T) {
	inv := succeedWith(`{}`)
	r := testRunner(t, testCatalog(t, "b"), inv)

	prior := []schema.StepResult{{AgentID: "a", Status: schema.StepStatusCompleted}}
	step := schema.AgentStep{AgentID: "b", DependsOn: []string{"a"}}
	res, err := r.Run(context.Background(), step, prior, testStream())
	require.NoError(t, err)
	assert.Equal(t, schema.StepStatusCompleted, res.Status)
}

func TestStepRunner_ConditionNotMet_Skips(t *testing.T) {
	inv := succeedWith(`{}`)
	r := testRunner(t, testCatalog(t, "b"), inv)

	prior := []schema.StepResult{{
		AgentID: "a",
		Status:  schema.StepStatusCompleted,
		Output:  json.RawMessage(`{"metrics":{"score":0.5}}`),
	}}
	step := schema.AgentStep{AgentID: "b", Condition: "output.metrics.score >= 0.8"}
	res, err := r.Run(context.Background(), step, prior, testStream())
	require.NoError(t, err)
	assert.Equal(t, schema.StepStatusSkipped, res.Status)
	assert.Empty(t, res.Error)
	assert.Zero(t, res.DurationMs)
	assert.Zero(t, inv.calls.Load())
}

func TestStepRunner_ConditionMet_Runs(t *testing.T) {
	inv := succeedWith(`{}`)
	r := testRunner(t, testCatalog(t, "b"), inv)

	prior := []schema.StepResult{{
		AgentID: "a",
		Status:  schema.StepStatusCompleted,
		Output:  json.RawMessage(`{"metrics":{"score":0.9}}`),
	}}
	step := schema.AgentStep{AgentID: "b", Condition: "output.metrics.score >= 0.8"}
	res, err := r.Run(context.Background(), step, prior, testStream())
	require.NoError(t, err)
	assert.Equal(t, schema.StepStatusCompleted, res.Status)
}

func TestStepRunner_ConditionEvalError_FailsClosed(t *testing.T) {
	inv := succeedWith(`{}`)
	r := testRunner(t, testCatalog(t, "b"), inv)

	prior := []schema.StepResult{{
		AgentID: "a",
		Status:  schema.StepStatusCompleted,
		Output:  json.RawMessage(`{"metrics":{}}`),
	}}
	// Missing field makes the expression error at evaluation time.
	step := schema.AgentStep{AgentID: "b", Condition: "output.metrics.score >= 0.8"}
	res, err := r.Run(context.Background(), step, prior, testStream())
	require.NoError(t, err)
	assert.Equal(t, schema.StepStatusSkipped, res.Status)
	assert.Zero(t, inv.calls.Load())
}

func TestStepRunner_ConditionUsesLastCompletedOutput(t *testing.T) {
	var seen invoker.Request
	inv := &fakeInvoker{fn: func(_ context.Context, req invoker.Request) (json.RawMessage, error) {
		seen = req
		return json.RawMessage(`{}`), nil
	}}
	r := testRunner(t, testCatalog(t, "c"), inv)

	prior := []schema.StepResult{
		{AgentID: "a", AgentName: "Agent a", Status: schema.StepStatusCompleted, Output: json.RawMessage(`{"ready":false}`)},
		{AgentID: "x", Status: schema.StepStatusSkipped},
		{AgentID: "b", AgentName: "Agent b", Status: schema.StepStatusCompleted, Output: json.RawMessage(`{"ready":true}`)},
	}
	step := schema.AgentStep{AgentID: "c", Condition: "output.ready == true"}
	res, err := r.Run(context.Background(), step, prior, testStream())
	require.NoError(t, err)
	assert.Equal(t, schema.StepStatusCompleted, res.Status)

	// Context carries every completed output in run order, skipped excluded.
	require.Len(t, seen.Context, 2)
	assert.Equal(t, "Agent a", seen.Context[0].AgentName)
	assert.Equal(t, "Agent b", seen.Context[1].AgentName)
}

func TestStepRunner_RetriesExhausted(t *testing.T) {
	inv := alwaysFail(invoker.KindNetwork)
	r := testRunner(t, testCatalog(t, "a"), inv)

	two := 2
	step := schema.AgentStep{AgentID: "a", MaxRetries: &two}
	res, err := r.Run(context.Background(), step, nil, testStream())
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeRetryExhausted, schema.CodeOf(err))
	assert.Equal(t, schema.StepStatusFailed, res.Status)
	assert.Equal(t, 2, res.RetryCount)
	assert.EqualValues(t, 3, inv.calls.Load())
}

func TestStepRunner_ZeroRetries_SingleAttempt(t *testing.T) {
	inv := alwaysFail(invoker.KindProvider)
	r := testRunner(t, testCatalog(t, "a"), inv)

	zero := 0
	step := schema.AgentStep{AgentID: "a", MaxRetries: &zero}
	res, err := r.Run(context.Background(), step, nil, testStream())
	require.Error(t, err)
	assert.Equal(t, 0, res.RetryCount)
	assert.EqualValues(t, 1, inv.calls.Load())
}

func TestStepRunner_DefaultRetryBudget(t *testing.T) {
	inv := alwaysFail(invoker.KindTimeout)
	r := testRunner(t, testCatalog(t, "a"), inv)

	res, err := r.Run(context.Background(), schema.AgentStep{AgentID: "a"}, nil, testStream())
	require.Error(t, err)
	assert.Equal(t, schema.DefaultMaxRetries, res.RetryCount)
	assert.EqualValues(t, schema.DefaultMaxRetries+1, inv.calls.Load())
}

func TestStepRunner_SucceedsAfterRetry(t *testing.T) {
	inv := &fakeInvoker{}
	inv.fn = func(context.Context, invoker.Request) (json.RawMessage, error) {
		if inv.calls.Load() < 3 {
			return nil, invoker.NewErrorf(invoker.KindNetwork, "transient")
		}
		return json.RawMessage(`{"ok":true}`), nil
	}
	r := testRunner(t, testCatalog(t, "a"), inv)

	res, err := r.Run(context.Background(), schema.AgentStep{AgentID: "a"}, nil, testStream())
	require.NoError(t, err)
	assert.Equal(t, schema.StepStatusCompleted, res.Status)
	assert.Equal(t, 2, res.RetryCount)
}

func TestStepRunner_ErrorKindDoesNotAffectRetries(t *testing.T) {
	for _, kind := range []invoker.ErrorKind{
		invoker.KindTimeout, invoker.KindNetwork, invoker.KindMalformedOutput, invoker.KindProvider,
	} {
		inv := alwaysFail(kind)
		r := testRunner(t, testCatalog(t, "a"), inv)

		one := 1
		_, err := r.Run(context.Background(), schema.AgentStep{AgentID: "a", MaxRetries: &one}, nil, testStream())
		require.Error(t, err)
		assert.EqualValues(t, 2, inv.calls.Load(), "kind %s should retry like any other", kind)
	}
}

func TestStepRunner_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	inv := &fakeInvoker{fn: func(context.Context, invoker.Request) (json.RawMessage, error) {
		cancel()
		return nil, invoker.NewErrorf(invoker.KindNetwork, "transient")
	}}
	cel, err := expressions.NewCELEngine()
	require.NoError(t, err)
	r := NewStepRunner(testCatalog(t, "a"), inv, expressions.NewConditionEvaluator(cel), StepRunnerConfig{
		BackoffUnit: time.Minute, // cancellation must cut the wait short
	})

	start := time.Now()
	res, runErr := r.Run(ctx, schema.AgentStep{AgentID: "a"}, nil, testStream())
	require.Error(t, runErr)
	assert.Equal(t, schema.ErrCodeCancelled, schema.CodeOf(runErr))
	assert.Equal(t, schema.StepStatusFailed, res.Status)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestStepRunner_CancelledBeforeAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	inv := succeedWith(`{}`)
	r := testRunner(t, testCatalog(t, "a"), inv)

	_, err := r.Run(ctx, schema.AgentStep{AgentID: "a"}, nil, testStream())
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeCancelled, schema.CodeOf(err))
	assert.Zero(t, inv.calls.Load())
}

func TestStepRunner_TransformReshapesOutput(t *testing.T) {
	inv := succeedWith(`{"metrics":{"score":0.9,"confidence":0.7}}`)
	r := testRunner(t, testCatalog(t, "a"), inv)

	step := schema.AgentStep{AgentID: "a", Transform: ".metrics"}
	res, err := r.Run(context.Background(), step, nil, testStream())
	require.NoError(t, err)
	assert.JSONEq(t, `{"score":0.9,"confidence":0.7}`, string(res.Output))
}

func TestStepRunner_TransformFailureFailsAttempt(t *testing.T) {
	inv := succeedWith(`{"ok":true}`)
	r := testRunner(t, testCatalog(t, "a"), inv)

	zero := 0
	step := schema.AgentStep{AgentID: "a", MaxRetries: &zero, Transform: ".ok | fromjson"}
	res, err := r.Run(context.Background(), step, nil, testStream())
	require.Error(t, err)
	assert.Equal(t, schema.StepStatusFailed, res.Status)
}
