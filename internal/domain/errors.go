package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTransportFatal is returned when no transport could deliver session state.
	ErrTransportFatal = errors.New("connection failed")
	// ErrInvalidIdentity is returned when a caller identity is missing or ambiguous.
	ErrInvalidIdentity = errors.New("exactly one of host token, player id or observer id is required")
	// ErrConnectionClosed indicates an operation on a closed connection handle.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrNoMoreQuestions is returned when advancing past the final question.
	ErrNoMoreQuestions = errors.New("no more questions")
	// ErrNotHost indicates a host-only action attempted without a host token.
	ErrNotHost = errors.New("host token required")
	// ErrNotConnected is returned when an operation needs an active session.
	ErrNotConnected = errors.New("not connected to a session")
	// ErrPreferenceNotFound is returned by preference stores on a missing key.
	ErrPreferenceNotFound = errors.New("preference not found")
	// ErrQuestionSetNotFound is returned when a stored question set does not exist.
	ErrQuestionSetNotFound = errors.New("question set not found")
)

// ServerError is an `error` event sent by the server, surfaced verbatim.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return e.Message
}

// ConnectionError is the terminal failure of a connection handle.
type ConnectionError struct {
	Code  string
	Cause error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("session %s: %v: %v", e.Code, ErrTransportFatal, e.Cause)
}

func (e *ConnectionError) Unwrap() []error {
	return []error{ErrTransportFatal, e.Cause}
}
