package rpc

import "fmt"

// JSON-RPC 2.0 standard error codes.
// https://www.jsonrpc.org/specification#error_object
const (
	// CodeParseError indicates invalid JSON was received.
	CodeParseError = -32700

	// CodeInvalidRequest indicates the JSON is not a valid Request object.
	CodeInvalidRequest = -32600

	// CodeMethodNotFound indicates the method does not exist.
	CodeMethodNotFound = -32601

	// CodeInvalidParams indicates invalid method parameters.
	CodeInvalidParams = -32602

	// CodeInternalError indicates an internal error.
	CodeInternalError = -32603
)

// CodeNotFound indicates the referenced rule does not exist.
// It sits in the range reserved for server errors.
const CodeNotFound = -32001

// Error is a JSON-RPC error with a client-safe message.
type Error struct {
	Code    int64
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NewError creates an Error with the given code and message.
func NewError(code int64, message string) *Error {
	return &Error{Code: code, Message: message}
}
