// Package ctxkey defines context key types shared by the inbound transports.
// It has no internal dependencies so any package can import it.
package ctxkey

// LoggerKey is the context key for a request-scoped *slog.Logger.
type LoggerKey struct{}

// RequestIDKey is the context key for the request id string.
type RequestIDKey struct{}
