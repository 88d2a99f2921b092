package dispatch

import (
	"errors"
	"fmt"
)

// Sentinel errors for the dispatch package.
var (
	// ErrUnknownTool indicates a tool name the dispatcher does not handle.
	ErrUnknownTool = errors.New("dispatch: unknown tool")

	// ErrInvalidArguments indicates the arguments were not a JSON object of strings.
	ErrInvalidArguments = errors.New("dispatch: invalid arguments")

	// ErrNoAction indicates no external action is configured.
	ErrNoAction = errors.New("dispatch: no action configured")
)

// FieldError reports a missing or invalid argument.
type FieldError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *FieldError) Error() string {
	return fmt.Sprintf("dispatch: field %q %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidArguments.
func (e *FieldError) Unwrap() error {
	return ErrInvalidArguments
}
