package invoker

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// outputSchemaJSON is the JSON Schema for the provider's structured output.
// Embedded as a constant to avoid filesystem dependencies.
const outputSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://relay.dev/schemas/structured-output.json",
  "type": "object",
  "required": ["recommendations", "metrics", "next_action"],
  "properties": {
    "recommendations": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["title", "description", "impact", "priority"],
        "properties": {
          "title": { "type": "string" },
          "description": { "type": "string" },
          "impact": { "type": "string" },
          "priority": { "type": "string" }
        }
      }
    },
    "metrics": {
      "type": "object",
      "required": ["score", "confidence"],
      "properties": {
        "score": { "type": "number" },
        "confidence": { "type": "number" }
      }
    },
    "next_action": { "type": "string" }
  }
}`

// OutputValidator checks provider responses against the structured-output schema.
// Safe for concurrent use.
type OutputValidator struct {
	compiled *jsonschema.Schema
}

// NewOutputValidator compiles the embedded structured-output schema.
func NewOutputValidator() (*OutputValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(outputSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal output schema: %w", err)
	}
	if err := c.AddResource("https://relay.dev/schemas/structured-output.json", doc); err != nil {
		return nil, fmt.Errorf("add output schema resource: %w", err)
	}

	compiled, err := c.Compile("https://relay.dev/schemas/structured-output.json")
	if err != nil {
		return nil, fmt.Errorf("compile output schema: %w", err)
	}

	return &OutputValidator{compiled: compiled}, nil
}

// Validate returns a malformed_output Error when raw does not conform to the
// structured-output shape.
func (v *OutputValidator) Validate(raw json.RawMessage) error {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return &Error{Kind: KindMalformedOutput, Message: "response is not valid JSON", Cause: err}
	}

	if err := v.compiled.Validate(doc); err != nil {
		violations := collectViolations(err)
		return &Error{
			Kind:    KindMalformedOutput,
			Message: strings.Join(violations, "; "),
			Cause:   err,
		}
	}
	return nil
}

// collectViolations walks a ValidationError tree and collects leaf messages
// with their instance locations.
func collectViolations(err error) []string {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
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
