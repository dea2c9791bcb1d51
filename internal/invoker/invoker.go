package invoker

import (
	"context"
	"encoding/json"
	"fmt"
)

// ContextEntry is one prior step's output handed to the reasoning provider.
type ContextEntry struct {
	AgentName string          `json:"agent_name"`
	Output    json.RawMessage `json:"output"`
}

// Request carries everything the reasoning provider needs for one invocation.
type Request struct {
	SystemPrompt       string         `json:"system_prompt"`
	Instructions       string         `json:"instructions"`
	Context            []ContextEntry `json:"context,omitempty"`
	UseInternetContext bool           `json:"use_internet_context,omitempty"`
}

// Invoker is the external reasoning boundary. Implementations perform exactly
// one call per Invoke: all retry policy lives in the Step Runner. The returned
// output conforms to the structured-output schema (recommendations, metrics,
// next_action) but is opaque to the engine.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (json.RawMessage, error)
}

// ErrorKind classifies an invocation failure. The engine retries every kind
// identically; the kind exists for logging and observers, never for control flow.
type ErrorKind string

const (
	KindTimeout         ErrorKind = "timeout"
	KindNetwork         ErrorKind = "network"
	KindMalformedOutput ErrorKind = "malformed_output"
	KindProvider        ErrorKind = "provider"
)

// Error is a failed invocation with its classified kind.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("invocation failed (%s): %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewErrorf creates an invocation Error with a formatted message.
func NewErrorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
