package http

import (
	"net/http"
	"time"
)

// MetricsMiddleware records request_duration_seconds by method and
// requests_total by method and status. /metrics and /health are skipped.
func MetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" || r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			metrics.RequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
			metrics.RequestsTotal.WithLabelValues(r.Method, statusToLabel(wrapped.status)).Inc()
		})
	}
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// statusToLabel converts an HTTP status code to a label value.
func statusToLabel(code int) string {
	if code >= 200 && code < 400 {
		return "ok"
	}
	return "error"
}
