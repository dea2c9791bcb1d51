package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/relay/internal/catalog"
	"github.com/rendis/relay/pkg/schema"
)

// workflowSchemaJSON is the JSON Schema for Workflow validation.
// Embedded as a constant to avoid filesystem dependencies.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://relay.dev/schemas/workflow.json",
  "type": "object",
  "required": ["id", "steps"],
  "properties": {
    "id": {
      "type": "string",
      "minLength": 1
    },
    "name": {
      "type": "string"
    },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "step": {
      "type": "object",
      "required": ["agent_id"],
      "properties": {
        "agent_id": {
          "type": "string",
          "minLength": 1
        },
        "depends_on": {
          "type": "array",
          "items": { "type": "string" }
        },
        "condition": { "type": "string" },
        "instructions": { "type": "string" },
        "use_internet_context": { "type": "boolean" },
        "max_retries": {
          "type": "integer",
          "minimum": 0
        },
        "on_error": {
          "type": "string",
          "enum": ["stop", "continue", "fallback"]
        },
        "fallback_agent_id": { "type": "string" },
        "transform": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

// WorkflowValidator validates workflows against the workflow JSON Schema and
// a set of structural rules the schema cannot express. It is safe for
// concurrent use.
type WorkflowValidator struct {
	workflowSchema *jsonschema.Schema
	catalog        catalog.Catalog // nil skips agent resolution checks
}

// NewWorkflowValidator creates a WorkflowValidator with the workflow schema
// pre-compiled. A nil catalog disables agent resolution checks.
func NewWorkflowValidator(cat catalog.Catalog) (*WorkflowValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource("https://relay.dev/schemas/workflow.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}

	wfSchema, err := c.Compile("https://relay.dev/schemas/workflow.json")
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}

	return &WorkflowValidator{workflowSchema: wfSchema, catalog: cat}, nil
}

// Validate checks a workflow against the JSON Schema and the structural rules.
// Dependencies on agents that never ran are deliberately not rejected here;
// they surface at run time as unsatisfied dependency failures.
func (v *WorkflowValidator) Validate(ctx context.Context, wf *schema.Workflow) error {
	if wf == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow is nil")
	}

	doc, err := toJSONValue(wf)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize workflow").WithCause(err)
	}
	if err := v.workflowSchema.Validate(doc); err != nil {
		return toRelayError(err)
	}

	seen := make(map[string]struct{}, len(wf.Steps))
	for i, step := range wf.Steps {
		if _, exists := seen[step.AgentID]; exists {
			return schema.NewError(schema.ErrCodeValidation,
				fmt.Sprintf("duplicate agent id %q", step.AgentID))
		}
		seen[step.AgentID] = struct{}{}

		if step.Policy() == schema.OnErrorFallback && step.FallbackAgentID == "" {
			return schema.NewError(schema.ErrCodeValidation,
				fmt.Sprintf("step %d (%s): on_error=fallback requires fallback_agent_id", i, step.AgentID)).
				WithAgent(step.AgentID)
		}
		if step.FallbackAgentID != "" && step.Policy() != schema.OnErrorFallback {
			return schema.NewError(schema.ErrCodeValidation,
				fmt.Sprintf("step %d (%s): fallback_agent_id set but on_error is %q", i, step.AgentID, step.Policy())).
				WithAgent(step.AgentID)
		}

		if v.catalog != nil {
			if _, err := v.catalog.GetAgent(ctx, step.AgentID); err != nil {
				return schema.NewError(schema.ErrCodeValidation,
					fmt.Sprintf("step %d: unknown agent %q", i, step.AgentID)).
					WithAgent(step.AgentID).WithCause(err)
			}
			if step.FallbackAgentID != "" {
				if _, err := v.catalog.GetAgent(ctx, step.FallbackAgentID); err != nil {
					return schema.NewError(schema.ErrCodeValidation,
						fmt.Sprintf("step %d: unknown fallback agent %q", i, step.FallbackAgentID)).
						WithAgent(step.AgentID).WithCause(err)
				}
			}
		}
	}

	return nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toRelayError converts a jsonschema.ValidationError into a RelayError with
// one message per leaf violation.
func toRelayError(err error) *schema.RelayError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
