package http

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/evaguard/evaguard/internal/service"
)

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"` // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// Pinger is implemented by stores that can verify connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker verifies component health.
type HealthChecker struct {
	compliance *service.ComplianceService
	evidence   *service.EvidenceService
	store      Pinger
	version    string
}

// NewHealthChecker creates a HealthChecker. Pass nil for components that
// aren't available.
func NewHealthChecker(
	compliance *service.ComplianceService,
	evidenceService *service.EvidenceService,
	store Pinger,
	version string,
) *HealthChecker {
	return &HealthChecker{
		compliance: compliance,
		evidence:   evidenceService,
		store:      store,
		version:    version,
	}
}

// Check performs health checks on all components.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.compliance != nil {
		rules := h.compliance.Rules()
		enabled := 0
		for _, r := range rules {
			if r.Enabled {
				enabled++
			}
		}
		checks["rules"] = fmt.Sprintf("ok: %d/%d enabled", enabled, len(rules))
	} else {
		checks["rules"] = "not configured"
	}

	if h.evidence != nil {
		depth := h.evidence.ChannelDepth()
		capacity := h.evidence.ChannelCapacity()
		percentFull := 0
		if capacity > 0 {
			percentFull = depth * 100 / capacity
		}
		// Above 90% the evidence pipeline is under backpressure.
		if percentFull > 90 {
			checks["evidence"] = fmt.Sprintf("degraded: %d/%d (%d%%)", depth, capacity, percentFull)
			healthy = false
		} else {
			checks["evidence"] = fmt.Sprintf("ok: %d/%d (%d%%)", depth, capacity, percentFull)
		}
		if drops := h.evidence.DroppedRecords(); drops > 0 {
			checks["evidence_drops"] = fmt.Sprintf("%d dropped", drops)
		}
	} else {
		checks["evidence"] = "not configured"
	}

	if h.store != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := h.store.Ping(pingCtx)
		cancel()
		if err != nil {
			checks["evidence_store"] = "error: " + err.Error()
			healthy = false
		} else {
			checks["evidence_store"] = "ok"
		}
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r.Context())
		status := http.StatusOK
		if health.Status != "healthy" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, health)
	})
}
