package expressions

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/relay/pkg/schema"
)

func newConditionEvaluator(t *testing.T) *ConditionEvaluator {
	t.Helper()
	engine, err := NewCELEngine()
	require.NoError(t, err)
	return NewConditionEvaluator(engine)
}

func TestConditionEvaluator_True(t *testing.T) {
	ce := newConditionEvaluator(t)

	met, err := ce.Evaluate(context.Background(), "output.metrics.score >= 0.8",
		json.RawMessage(`{"metrics":{"score":0.9}}`))
	require.NoError(t, err)
	assert.True(t, met)
}

func TestConditionEvaluator_False(t *testing.T) {
	ce := newConditionEvaluator(t)

	met, err := ce.Evaluate(context.Background(), "output.metrics.score >= 0.8",
		json.RawMessage(`{"metrics":{"score":0.5}}`))
	require.NoError(t, err)
	assert.False(t, met)
}

func TestConditionEvaluator_NilOutputIsEmptyObject(t *testing.T) {
	ce := newConditionEvaluator(t)

	met, err := ce.Evaluate(context.Background(), "has(output.score)", nil)
	require.NoError(t, err)
	assert.False(t, met)
}

func TestConditionEvaluator_NonBooleanResult(t *testing.T) {
	ce := newConditionEvaluator(t)

	_, err := ce.Evaluate(context.Background(), "output.metrics.score",
		json.RawMessage(`{"metrics":{"score":0.9}}`))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeConditionEval, schema.CodeOf(err))
}

func TestConditionEvaluator_MalformedOutput(t *testing.T) {
	ce := newConditionEvaluator(t)

	_, err := ce.Evaluate(context.Background(), "output.ready",
		json.RawMessage(`{not json`))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeConditionEval, schema.CodeOf(err))
}

func TestConditionEvaluator_MissingFieldErrors(t *testing.T) {
	ce := newConditionEvaluator(t)

	_, err := ce.Evaluate(context.Background(), "output.metrics.score >= 0.8",
		json.RawMessage(`{"metrics":{}}`))
	assert.Error(t, err)
}
