package server

import (
	"errors"
	"fmt"
)

// Sentinel errors for common session and server error conditions.
var (
	// ErrSessionClosed is returned when an operation is attempted on a closed session.
	ErrSessionClosed = errors.New("server: session closed")

	// ErrSessionNotFound is returned when a session token does not exist.
	ErrSessionNotFound = errors.New("server: session not found")

	// ErrHandlerNotFound is returned when no handler is registered for a path.
	ErrHandlerNotFound = errors.New("server: handler not found")

	// ErrEventQueueFull is returned when the event queue is full and an event is dropped.
	ErrEventQueueFull = errors.New("server: event queue full")

	// ErrInvalidHandshake is returned when the connection handshake fails.
	ErrInvalidHandshake = errors.New("server: invalid handshake")

	// ErrMaxSessionsReached is returned when the maximum number of sessions is reached.
	ErrMaxSessionsReached = errors.New("server: max sessions reached")

	// ErrTaskCancelled is returned from Yield when a background task has been
	// cancelled. It takes effect at the yield, never mid-mutation.
	ErrTaskCancelled = errors.New("server: task cancelled")

	// ErrTaskNotFound is returned when a background task id does not exist.
	ErrTaskNotFound = errors.New("server: task not found")

	// ErrLockTimeout is returned when a background task waits too long for
	// the session state lock. It is reported to that task only.
	ErrLockTimeout = errors.New("server: state lock timeout")

	// ErrNoConnection is returned when attempting to send with no channel attached.
	ErrNoConnection = errors.New("server: no connection")
)

// SessionError wraps an error with session context for debugging.
type SessionError struct {
	Token string
	Op    string // Operation that failed
	Err   error  // Underlying error
}

// Error returns the error message with session context.
func (e *SessionError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("server: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("server: session %s: %s: %v", e.Token, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *SessionError) Unwrap() error {
	return e.Err
}

// NewSessionError creates a new SessionError.
func NewSessionError(token, op string, err error) *SessionError {
	return &SessionError{
		Token: token,
		Op:    op,
		Err:   err,
	}
}

// HandlerError wraps a panic that occurred in an event handler.
type HandlerError struct {
	Token   string
	Handler string
	Panic   any
	Stack   []byte
}

// Error returns the error message.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("server: handler panic in session %s, handler %s: %v",
		e.Token, e.Handler, e.Panic)
}

// NewHandlerError creates a new HandlerError.
func NewHandlerError(token, handler string, panicVal any, stack []byte) *HandlerError {
	return &HandlerError{
		Token:   token,
		Handler: handler,
		Panic:   panicVal,
		Stack:   stack,
	}
}
