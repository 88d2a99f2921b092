// Package leg models one bidirectional message channel of a call.
//
// A call session coordinates three legs: the telephony media stream, the speech
// recognition stream and the realtime dialogue stream. Each leg delivers its open,
// message, error and close notifications to a Sink in arrival order and accepts
// outbound messages without blocking the caller.
//
// Example usage:
//
//	d := leg.NewDialer(map[leg.Role]leg.Endpoint{
//	    leg.RoleRecognition: {URL: deepgramURL, Header: leg.TokenHeader(apiKey)},
//	})
//
//	l, err := d.Dial(ctx, leg.RoleRecognition, func(ev leg.Event) {
//	    // Events arrive in order: Open, Message..., Close or Error
//	})
//	if err != nil {
//	    return err
//	}
//	defer l.Close()
//
//	l.SendJSON(protocol.NewKeepAlive())
package leg

import (
	"context"
	"fmt"
)

// Role identifies which side of the call a leg connects to.
type Role string

const (
	RoleTelephony   Role = "telephony"
	RoleRecognition Role = "recognition"
	RoleDialogue    Role = "dialogue"
)

// State is the connectivity state of a leg.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
	StateFailed
)

// String returns a human-readable state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// EventKind classifies a leg notification.
type EventKind int

const (
	EventOpen EventKind = iota
	EventMessage
	EventError
	EventClose
)

// String returns a human-readable kind.
func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Event is a notification delivered by a leg.
type Event struct {
	Role Role
	Kind EventKind

	// Data is the message payload for EventMessage.
	Data []byte

	// Binary is true when Data arrived as a binary frame.
	Binary bool

	// Err is set for EventError, and for EventClose when the peer sent a reason.
	Err error

	// Leg is set for EventOpen so the receiver can bind the leg before any message.
	Leg Leg
}

// Sink receives the events of one or more legs.
type Sink func(Event)

// Leg is an open bidirectional message channel.
type Leg interface {
	// Role returns the leg's role tag.
	Role() Role

	// State returns the current connectivity state.
	State() State

	// SendText queues a text frame.
	SendText(data []byte) error

	// SendJSON encodes v and queues it as a text frame.
	SendJSON(v any) error

	// SendBinary queues a binary frame.
	SendBinary(data []byte) error

	// Close closes the leg. Safe to call more than once.
	Close() error
}

// Dialer opens outbound legs.
type Dialer interface {
	Dial(ctx context.Context, role Role, sink Sink) (Leg, error)
}

// ParseRole converts a string to a Role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleTelephony, RoleRecognition, RoleDialogue:
		return Role(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}
