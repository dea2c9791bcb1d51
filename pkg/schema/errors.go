package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeDependency     = "DEPENDENCY_UNSATISFIED"
	ErrCodeConditionEval  = "CONDITION_EVAL_FAILED"
	ErrCodeInvocation     = "INVOCATION_ERROR"
	ErrCodeRetryExhausted = "RETRY_EXHAUSTED"
	ErrCodeCancelled      = "CANCELLED"
	ErrCodeRecorder       = "RECORDER_ERROR"
	ErrCodeTimeout        = "TIMEOUT_ERROR"
)

// RelayError is the structured error type for all engine operations.
type RelayError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	AgentID string         `json:"agent_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *RelayError) Error() string {
	if e.AgentID != "" {
		return fmt.Sprintf("[%s] agent %s: %s", e.Code, e.AgentID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *RelayError) Unwrap() error {
	return e.Cause
}

// NewError creates a new RelayError.
func NewError(code, message string) *RelayError {
	return &RelayError{Code: code, Message: message}
}

// NewErrorf creates a new RelayError with a formatted message.
func NewErrorf(code, format string, args ...any) *RelayError {
	return &RelayError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithAgent attaches the agent ID of the failing step.
func (e *RelayError) WithAgent(agentID string) *RelayError {
	e.AgentID = agentID
	return e
}

// WithCause attaches an underlying cause.
func (e *RelayError) WithCause(err error) *RelayError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *RelayError) WithDetails(details map[string]any) *RelayError {
	e.Details = details
	return e
}

// CodeOf extracts the RelayError code from an error chain, or "" if none.
func CodeOf(err error) string {
	for err != nil {
		if re, ok := err.(*RelayError); ok {
			return re.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}
