package expressions

import (
	"context"
	"encoding/json"

	"github.com/rendis/relay/pkg/schema"
)

// ConditionEvaluator evaluates a step's gating condition against the most
// recently completed step's output. The expression sees one variable, output,
// and must produce a boolean.
//
// The evaluator itself returns errors so callers can log them; the engine's
// fail-closed contract (evaluation failure means the step does not run) is
// enforced by the Step Runner.
type ConditionEvaluator struct {
	engine Engine
}

// NewConditionEvaluator creates a ConditionEvaluator on the given engine.
// The engine must be sandboxed; CEL is the default choice.
func NewConditionEvaluator(engine Engine) *ConditionEvaluator {
	return &ConditionEvaluator{engine: engine}
}

// Evaluate runs the condition against the raw JSON output of the previous
// step. A nil output evaluates against an empty object. A non-boolean result
// is an error.
func (c *ConditionEvaluator) Evaluate(ctx context.Context, condition string, output json.RawMessage) (bool, error) {
	var parsed any = map[string]any{}
	if len(output) > 0 {
		if err := json.Unmarshal(output, &parsed); err != nil {
			return false, schema.NewErrorf(schema.ErrCodeConditionEval,
				"condition input is not valid JSON: %s", err.Error()).WithCause(err)
		}
	}

	result, err := c.engine.Evaluate(ctx, condition, map[string]any{"output": parsed})
	if err != nil {
		return false, err
	}

	b, ok := result.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeConditionEval,
			"condition %q did not evaluate to a boolean (got %T)", condition, result)
	}
	return b, nil
}
