package schema

// Workflow is the immutable pipeline definition consumed per run.
// The engine never mutates a Workflow; it is created from configuration.
type Workflow struct {
	ID    string      `json:"id"`
	Name  string      `json:"name,omitempty"`
	Steps []AgentStep `json:"steps"`
}

// AgentStep describes one pipeline stage bound to a catalog agent.
type AgentStep struct {
	AgentID            string        `json:"agent_id"`
	DependsOn          []string      `json:"depends_on,omitempty"`          // agent IDs that must have completed successfully
	Condition          string        `json:"condition,omitempty"`           // CEL expression over the previous step's output
	Instructions       string        `json:"instructions,omitempty"`        // free-text task passed to the invoker
	UseInternetContext bool          `json:"use_internet_context,omitempty"`
	MaxRetries         *int          `json:"max_retries,omitempty"`         // nil means DefaultMaxRetries
	OnError            OnErrorPolicy `json:"on_error,omitempty"`            // stop (default) | continue | fallback
	FallbackAgentID    string        `json:"fallback_agent_id,omitempty"`   // required iff on_error == fallback
	Transform          string        `json:"transform,omitempty"`           // optional jq expression reshaping the output
}

// DefaultMaxRetries is the retry budget applied when max_retries is absent.
const DefaultMaxRetries = 2

// RetryBudget returns the effective max_retries for the step.
func (s *AgentStep) RetryBudget() int {
	if s.MaxRetries == nil {
		return DefaultMaxRetries
	}
	if *s.MaxRetries < 0 {
		return 0
	}
	return *s.MaxRetries
}

// Policy returns the effective on_error policy, defaulting to stop.
func (s *AgentStep) Policy() OnErrorPolicy {
	if s.OnError == "" {
		return OnErrorStop
	}
	return s.OnError
}

// OnErrorPolicy selects how the scheduler reacts to a step failure.
type OnErrorPolicy string

const (
	OnErrorStop     OnErrorPolicy = "stop"
	OnErrorContinue OnErrorPolicy = "continue"
	OnErrorFallback OnErrorPolicy = "fallback"
)

// AgentDefinition is a read-only entry from the Agent Catalog.
type AgentDefinition struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	SystemPrompt string `json:"system_prompt"`
	Icon         string `json:"icon,omitempty"`
}
