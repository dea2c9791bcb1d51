package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextIDs_RoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ExecutionID(ctx))
	assert.Empty(t, WorkflowID(ctx))
	assert.Empty(t, AgentID(ctx))

	ctx = WithIDs(ctx, "exec-1", "wf-1", "agent-1")
	assert.Equal(t, "exec-1", ExecutionID(ctx))
	assert.Equal(t, "wf-1", WorkflowID(ctx))
	assert.Equal(t, "agent-1", AgentID(ctx))
}

func TestLogWith_AddsOnlyPresentIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := WithExecutionID(context.Background(), "exec-1")
	LogWith(ctx, logger).Info("step started")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "exec-1", record["execution_id"])
	assert.NotContains(t, record, "workflow_id")
	assert.NotContains(t, record, "agent_id")
}

func TestCorrelationHandler_InjectsIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := WithIDs(context.Background(), "exec-1", "wf-1", "agent-1")
	logger.InfoContext(ctx, "step started")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "step started", record["msg"])
	assert.Equal(t, "exec-1", record["execution_id"])
	assert.Equal(t, "wf-1", record["workflow_id"])
	assert.Equal(t, "agent-1", record["agent_id"])
}

func TestCorrelationHandler_PlainContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil)))

	logger.InfoContext(context.Background(), "no correlation")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.NotContains(t, record, "execution_id")
	assert.NotContains(t, record, "workflow_id")
	assert.NotContains(t, record, "agent_id")
}

func TestCorrelationHandler_PreservesWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := WithExecutionID(context.Background(), "exec-1")
	logger.With(slog.String("component", "engine")).InfoContext(ctx, "working")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "engine", record["component"])
	assert.Equal(t, "exec-1", record["execution_id"])
}
