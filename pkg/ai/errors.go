package ai

import (
	"errors"
	"fmt"
)

// Error codes surfaced to callers.
const (
	CodeUnknown        = "unknown_error"
	CodeInvalidAPIKey  = "invalid_api_key"
	CodeMissingScope   = "missing_scope"
	CodeThreadNotFound = "thread_not_found"
	CodeEmptyResponse  = "empty_response"
	CodeMissingAPIKey  = "missing_api_key"
)

// ErrThreadNotFound is matched by errors.Is when the provider no longer knows
// a thread.
var ErrThreadNotFound = &Error{Code: CodeThreadNotFound, Message: "thread not found"}

// Error is a provider failure tagged with a machine-readable code.
type Error struct {
	Code       string
	Message    string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ai provider: %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("ai provider: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches provider errors by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Code extracts the provider error code, or CodeUnknown.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

var friendlyMessages = map[string]string{
	CodeInvalidAPIKey: "Incorrect API key provided.",
	CodeMissingScope:  "You have insufficient permissions for this operation.",
}

// UserMessage returns a message suitable for administrators; unknown failures
// keep the provider's own wording.
func UserMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return err.Error()
	}
	if msg, ok := friendlyMessages[e.Code]; ok {
		return msg
	}
	return e.Message
}
