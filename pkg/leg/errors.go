package leg

import (
	"errors"
	"fmt"
)

// Sentinel errors for the leg package.
var (
	// ErrClosed indicates a send on a leg that is no longer open.
	ErrClosed = errors.New("leg: closed")

	// ErrBackpressure indicates the outbound queue is full and the message was dropped.
	ErrBackpressure = errors.New("leg: outbound queue full")

	// ErrUnknownRole indicates a role outside telephony, recognition and dialogue.
	ErrUnknownRole = errors.New("leg: unknown role")

	// ErrNoEndpoint indicates the dialer has no endpoint for the requested role.
	ErrNoEndpoint = errors.New("leg: no endpoint configured")
)

// DialError represents a failure to open an outbound leg.
type DialError struct {
	// Role is the leg that failed to open.
	Role Role

	// StatusCode is the HTTP handshake status, 0 if no response was received.
	StatusCode int

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *DialError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("leg: dial %s failed with status %d: %v", e.Role, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("leg: dial %s failed: %v", e.Role, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *DialError) Unwrap() error {
	return e.Cause
}

// IsClosed returns true if the error means the leg can no longer send.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}
