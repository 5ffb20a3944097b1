package evaguard

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for use with errors.Is().
var (
	// ErrViolation is returned when the server enforces a violation.
	ErrViolation = errors.New("compliance violation")

	// ErrServerUnreachable is returned when the server cannot be contacted
	// and the client fails closed.
	ErrServerUnreachable = errors.New("server unreachable")

	// ErrEmptyMessage is returned for a CheckRequest without a message.
	ErrEmptyMessage = errors.New("no message provided")
)

// APIError is returned when the server answers with a non-2xx status.
type APIError struct {
	// StatusCode is the HTTP status.
	StatusCode int
	// Message is the server's error text.
	Message string
}

// Error returns the error message.
func (e *APIError) Error() string {
	return fmt.Sprintf("evaguard: server returned %d: %s", e.StatusCode, e.Message)
}

// ViolationError is returned when a message violates rules and the server
// enforces the violation.
type ViolationError struct {
	// ViolatedRules lists the matching rule ids.
	ViolatedRules []string
	// HighestPriority is the maximum priority among them.
	HighestPriority int32
	// Reason is the server's summary.
	Reason string
	// RequestID identifies the check in server evidence.
	RequestID string
}

// Error returns a human-readable description of the violation.
func (e *ViolationError) Error() string {
	return fmt.Sprintf("compliance violation (%s): %s", strings.Join(e.ViolatedRules, ", "), e.Reason)
}

// Is supports errors.Is(err, ErrViolation).
func (e *ViolationError) Is(target error) bool {
	return target == ErrViolation
}

// ServerUnreachableError wraps the transport failure when the client
// fails closed.
type ServerUnreachableError struct {
	Cause error
}

// Error returns a human-readable description of the failure.
func (e *ServerUnreachableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("server unreachable: %v", e.Cause)
	}
	return "server unreachable"
}

// Unwrap returns the underlying error cause.
func (e *ServerUnreachableError) Unwrap() error {
	return e.Cause
}

// Is supports errors.Is(err, ErrServerUnreachable).
func (e *ServerUnreachableError) Is(target error) bool {
	return target == ErrServerUnreachable
}
