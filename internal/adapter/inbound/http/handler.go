package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/evaguard/evaguard/internal/domain/compliance"
	"github.com/evaguard/evaguard/internal/domain/evidence"
	"github.com/evaguard/evaguard/internal/service"
)

// errorResponse is the body of every non-2xx JSON response.
type errorResponse struct {
	Error string `json:"error"`
}

// checkRequest is the body of POST /v1/check.
type checkRequest struct {
	Message string `json:"message"`
	Source  string `json:"source,omitempty"`
}

// ruleRequest is the body of POST /v1/rules. Enabled defaults to true.
type ruleRequest struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Pattern     string `json:"pattern"`
	Priority    int32  `json:"priority"`
	Enabled     *bool  `json:"enabled,omitempty"`
}

// rulesResponse is the body of GET /v1/rules.
type rulesResponse struct {
	Rules []compliance.Rule `json:"rules"`
}

// decisionsResponse is the body of GET /v1/decisions.
type decisionsResponse struct {
	Decisions []evidence.DecisionRecord `json:"decisions"`
	Count     int                       `json:"count"`
}

// Handler serves the /v1 API.
type Handler struct {
	svc      *service.ComplianceService
	evidence evidence.QueryStore
	metrics  *Metrics
}

// NewHandler creates a Handler. query and metrics may be nil; without a
// query store the evidence endpoints answer 404.
func NewHandler(svc *service.ComplianceService, query evidence.QueryStore, metrics *Metrics) *Handler {
	h := &Handler{svc: svc, evidence: query, metrics: metrics}
	h.refreshRuleGauge()
	return h
}

// Register adds the /v1 routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/check", h.handleCheck)

	mux.HandleFunc("GET /v1/rules", h.handleListRules)
	mux.HandleFunc("POST /v1/rules", h.handleAddRule)
	mux.HandleFunc("POST /v1/rules/{id}/enable", h.handleEnableRule)
	mux.HandleFunc("POST /v1/rules/{id}/disable", h.handleDisableRule)
	mux.HandleFunc("DELETE /v1/rules/{id}", h.handleRemoveRule)

	mux.HandleFunc("GET /v1/decisions", h.handleQueryDecisions)
	mux.HandleFunc("GET /v1/stats", h.handleStats)
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := readJSON(r, &req); err != nil {
		respondDecodeError(w, err)
		return
	}
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: service.ErrEmptyMessage.Error()})
		return
	}
	if req.Source == "" {
		req.Source = evidence.SourceHTTP
	}

	res, err := h.svc.Check(r.Context(), service.CheckRequest{
		Message:   req.Message,
		Source:    req.Source,
		RequestID: RequestIDFromContext(r.Context()),
	})
	if err != nil {
		LoggerFromContext(r.Context()).Error("check failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "check failed"})
		return
	}

	if h.metrics != nil {
		decision := evidence.DecisionAllow
		if !res.Decision.Allowed {
			decision = evidence.DecisionDeny
		}
		h.metrics.ChecksTotal.WithLabelValues(decision, strconv.FormatBool(res.Enforced)).Inc()
		for _, id := range res.Decision.ViolatedRules {
			h.metrics.RuleViolations.WithLabelValues(id).Inc()
		}
	}

	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleListRules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rulesResponse{Rules: h.svc.Rules()})
}

func (h *Handler) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := readJSON(r, &req); err != nil {
		respondDecodeError(w, err)
		return
	}
	if req.ID == "" || req.Pattern == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "id and pattern are required"})
		return
	}

	rule := compliance.NewRule(req.ID, req.Description, req.Pattern, req.Priority)
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	if err := h.svc.AddRule(r.Context(), rule); err != nil {
		h.respondRuleError(w, r, err)
		return
	}
	h.refreshRuleGauge()
	LoggerFromContext(r.Context()).Info("rule added", "rule_id", rule.ID, "key", KeyNameFromContext(r.Context()))
	writeJSON(w, http.StatusCreated, rule)
}

func (h *Handler) handleEnableRule(w http.ResponseWriter, r *http.Request) {
	h.toggleRule(w, r, h.svc.EnableRule)
}

func (h *Handler) handleDisableRule(w http.ResponseWriter, r *http.Request) {
	h.toggleRule(w, r, h.svc.DisableRule)
}

func (h *Handler) toggleRule(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id string) error) {
	id := r.PathValue("id")
	if err := op(r.Context(), id); err != nil {
		h.respondRuleError(w, r, err)
		return
	}
	h.refreshRuleGauge()
	rule, _ := h.svc.Rule(id)
	writeJSON(w, http.StatusOK, rule)
}

func (h *Handler) handleRemoveRule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.svc.RemoveRule(r.Context(), id); err != nil {
		h.respondRuleError(w, r, err)
		return
	}
	h.refreshRuleGauge()
	LoggerFromContext(r.Context()).Info("rule removed", "rule_id", id, "key", KeyNameFromContext(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleQueryDecisions(w http.ResponseWriter, r *http.Request) {
	if h.evidence == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "evidence store not configured"})
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	records, err := h.evidence.Query(r.Context(), filter)
	if err != nil {
		LoggerFromContext(r.Context()).Error("decision query failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "query failed"})
		return
	}
	if records == nil {
		records = []evidence.DecisionRecord{}
	}
	writeJSON(w, http.StatusOK, decisionsResponse{Decisions: records, Count: len(records)})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if h.evidence == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "evidence store not configured"})
		return
	}
	stats, err := h.evidence.Stats(r.Context())
	if err != nil {
		LoggerFromContext(r.Context()).Error("stats query failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "stats failed"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// parseFilter reads limit, allowed, rule and since from the query string.
func parseFilter(r *http.Request) (evidence.Filter, error) {
	q := r.URL.Query()
	var f evidence.Filter

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, errors.New("limit must be a non-negative integer")
		}
		f.Limit = n
	}
	if v := q.Get("allowed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, errors.New("allowed must be true or false")
		}
		f.Allowed = &b
	}
	f.RuleID = q.Get("rule")
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("since must be an RFC 3339 timestamp")
		}
		f.Since = t
	}
	return f, nil
}

// respondRuleError maps domain errors to status codes.
func (h *Handler) respondRuleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, compliance.ErrRuleNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, compliance.ErrDuplicateRule):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, compliance.ErrInvalidPattern):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		LoggerFromContext(r.Context()).Error("rule update failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "rule update failed"})
	}
}

func (h *Handler) refreshRuleGauge() {
	if h.metrics == nil {
		return
	}
	enabled := 0
	for _, rule := range h.svc.Rules() {
		if rule.Enabled {
			enabled++
		}
	}
	h.metrics.RulesActive.Set(float64(enabled))
}

// readJSON decodes the body, rejecting unknown fields.
func readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func respondDecodeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
		return
	}
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
}

// writeJSON writes data as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
