package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/evaguard/evaguard/internal/ctxkey"
	"github.com/evaguard/evaguard/internal/domain/auth"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestIDMiddleware extracts or generates a request ID and stores it,
// together with a logger enriched with request_id, in the request context.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.New().String()
			}

			ctx := context.WithValue(r.Context(), ctxkey.RequestIDKey{}, requestID)
			ctx = context.WithValue(ctx, ctxkey.LoggerKey{}, logger.With("request_id", requestID))

			w.Header().Set(RequestIDHeader, requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggerFromContext returns the request-scoped logger, or slog.Default().
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// RequestIDFromContext returns the request id, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxkey.RequestIDKey{}).(string)
	return id
}

// apiKeyContextKey stores the name of the authenticated key.
type apiKeyContextKey struct{}

// KeyNameFromContext returns the name of the API key that authenticated the request.
func KeyNameFromContext(ctx context.Context) string {
	name, _ := ctx.Value(apiKeyContextKey{}).(string)
	return name
}

// APIKeyMiddleware requires "Authorization: Bearer <key>" matching a key in ring.
// An empty ring disables authentication. /health and /metrics are exempt.
func APIKeyMiddleware(ring *auth.KeyRing, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if ring.Empty() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			rawKey, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				rejectUnauthorized(w, r, metrics, "missing bearer token")
				return
			}
			key, err := ring.Verify(rawKey)
			if err != nil {
				rejectUnauthorized(w, r, metrics, "invalid api key")
				return
			}

			ctx := context.WithValue(r.Context(), apiKeyContextKey{}, key.Name)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func rejectUnauthorized(w http.ResponseWriter, r *http.Request, metrics *Metrics, reason string) {
	if metrics != nil {
		metrics.AuthFailures.Inc()
	}
	LoggerFromContext(r.Context()).Warn("request rejected", "reason", reason, "path", r.URL.Path)
	w.Header().Set("WWW-Authenticate", `Bearer realm="evaguard"`)
	writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
}

// MaxBodyMiddleware caps request bodies at limit bytes.
func MaxBodyMiddleware(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}
