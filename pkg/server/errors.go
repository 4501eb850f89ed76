package server

import (
	"errors"
	"fmt"
)

// Sentinel errors for common session and server error conditions.
var (
	// ErrSessionNotFound is returned when a session id is not held.
	ErrSessionNotFound = errors.New("server: session not found")

	// ErrSessionExpired is returned when a detached session outlived its
	// resume window.
	ErrSessionExpired = errors.New("server: session expired")

	// ErrMaxSessionsReached is returned when the session cap is reached.
	ErrMaxSessionsReached = errors.New("server: max sessions reached")

	// ErrRegistryClosed is returned after the registry has shut down.
	ErrRegistryClosed = errors.New("server: registry closed")

	// ErrEventQueueFull is returned when a connection's event queue is full.
	ErrEventQueueFull = errors.New("server: event queue full")

	// ErrRateLimited is returned when an event exceeds the connection's rate.
	ErrRateLimited = errors.New("server: event rate exceeded")

	// ErrNotConnected is returned for events sent before a connect message.
	ErrNotConnected = errors.New("server: no session attached")

	// ErrAlreadyConnected is returned for a second connect on one connection.
	ErrAlreadyConnected = errors.New("server: session already attached")

	// ErrConnectionClosed is returned when writing to a closed connection.
	ErrConnectionClosed = errors.New("server: connection closed")

	// ErrInvalidConfig is wrapped by Config.Validate.
	ErrInvalidConfig = errors.New("server: invalid config")
)

// SessionError wraps an error with session context for debugging.
type SessionError struct {
	SessionID string
	Op        string
	Err       error
}

// Error returns the error message with session context.
func (e *SessionError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("server: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("server: session %s: %s: %v", e.SessionID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *SessionError) Unwrap() error {
	return e.Err
}

// HandlerError reports an application failure during mount, an event
// handler or render. Panics are recovered into a HandlerError with Panic
// and Stack set.
type HandlerError struct {
	SessionID string
	Event     string
	Op        string // "mount", "handle" or "render"
	Err       error
	Panic     any
	Stack     []byte
}

// Error returns the error message.
func (e *HandlerError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("server: %s panic in session %s, event %q: %v", e.Op, e.SessionID, e.Event, e.Panic)
	}
	return fmt.Sprintf("server: %s failed in session %s, event %q: %v", e.Op, e.SessionID, e.Event, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *HandlerError) Unwrap() error {
	return e.Err
}

// ClientMessage is the text sent to the client in an error message. Panic
// details stay on the server.
func (e *HandlerError) ClientMessage() string {
	if e.Panic != nil {
		return fmt.Sprintf("%s failed: internal error", e.describe())
	}
	return fmt.Sprintf("%s failed: %v", e.describe(), e.Err)
}

func (e *HandlerError) describe() string {
	if e.Event != "" {
		return fmt.Sprintf("event %q", e.Event)
	}
	return e.Op
}

// ProtocolError is a malformed or unexpected inbound message. The
// connection that produced it is dropped.
type ProtocolError struct {
	ConnID string
	Op     string
	Err    error
}

// Error returns the error message.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("server: protocol error on connection %s: %s: %v", e.ConnID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}
