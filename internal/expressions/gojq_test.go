package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoJQEngine_Name(t *testing.T) {
	assert.Equal(t, "jq", NewGoJQEngine().Name())
}

func TestGoJQEngine_FieldSelection(t *testing.T) {
	e := NewGoJQEngine()

	result, err := e.Evaluate(context.Background(), ".metrics", map[string]any{
		"metrics": map[string]any{"score": 0.9},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"score": 0.9}, result)
}

func TestGoJQEngine_ObjectConstruction(t *testing.T) {
	e := NewGoJQEngine()

	result, err := e.Evaluate(context.Background(),
		`{score: .metrics.score, action: .next_action}`,
		map[string]any{
			"metrics":     map[string]any{"score": 0.9},
			"next_action": "escalate",
		})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"score": 0.9, "action": "escalate"}, result)
}

func TestGoJQEngine_MultipleOutputsCollected(t *testing.T) {
	e := NewGoJQEngine()

	result, err := e.Evaluate(context.Background(), ".recommendations[].title", map[string]any{
		"recommendations": []any{
			map[string]any{"title": "first"},
			map[string]any{"title": "second"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"first", "second"}, result)
}

func TestGoJQEngine_EmptyResultIsNil(t *testing.T) {
	e := NewGoJQEngine()

	result, err := e.Evaluate(context.Background(), ".items[]?", map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestGoJQEngine_ParseError(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), ".[|", map[string]any{})
	assert.Error(t, err)
}

func TestGoJQEngine_RuntimeError(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), ".score | fromjson", map[string]any{
		"score": 0.9,
	})
	assert.Error(t, err)
}
