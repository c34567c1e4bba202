package protocol

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeUnknownAction    = "UNKNOWN_ACTION"
	ErrCodeMalformedPayload = "MALFORMED_PAYLOAD"
	ErrCodeEnvelopeParse    = "ENVELOPE_PARSE"
	ErrCodeTransport        = "TRANSPORT_ERROR"
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeScript           = "SCRIPT_ERROR"
	ErrCodeStore            = "STORE_ERROR"
)

// Error is the structured error type for all gamewire operations.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("[%s] action %s: %s", e.Code, e.Action, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithAction attaches an action name to the error.
func (e *Error) WithAction(name string) *Error {
	e.Action = name
	return e
}

// WithCause attaches an underlying cause.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}
