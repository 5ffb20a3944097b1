// Package service contains application services.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	celeval "github.com/evaguard/evaguard/internal/adapter/outbound/cel"
	"github.com/evaguard/evaguard/internal/domain/compliance"
	"github.com/evaguard/evaguard/internal/domain/evidence"
)

const instrumentationName = "github.com/evaguard/evaguard/internal/service"

// Enforcement modes.
const (
	ModeMonitor = "monitor"
	ModeEnforce = "enforce"
)

// ErrEmptyMessage is returned by transports when a check carries no message.
// The engine itself accepts an empty string.
var ErrEmptyMessage = errors.New("no message provided")

// CheckRequest is a single compliance check.
type CheckRequest struct {
	Message string
	// Source names the transport (http, stdio, cli).
	Source string
	// RequestID is generated when empty.
	RequestID string
}

// CheckResult is the service-level answer to a CheckRequest.
type CheckResult struct {
	RequestID       string              `json:"request_id"`
	Decision        compliance.Decision `json:"decision"`
	HighestPriority int32               `json:"highest_priority"`
	Enforced        bool                `json:"enforced"`
	Mode            string              `json:"mode"`
	LatencyMicros   int64               `json:"latency_micros"`
	Cached          bool                `json:"cached"`
}

// EvidenceRecorder receives a record for every completed check.
type EvidenceRecorder interface {
	Record(record evidence.DecisionRecord)
}

// ComplianceService wraps a compliance Engine with caching, enforcement,
// persistence of rule changes and evidence recording.
//
// Rule mutations are copy-on-write: the persisted rule list is copied into a
// fresh Engine, the change is applied there, persisted, and the new Engine is
// swapped in. A failed mutation leaves the live engine untouched.
//
// Disabled overrides (rules.disabled) apply to the live engine only. The
// persisted rule set never records them.
type ComplianceService struct {
	engine     atomic.Pointer[compliance.Engine]
	generation atomic.Uint64

	mu        sync.Mutex // serializes rule mutations; guards base and overrides
	base      []compliance.Rule
	overrides map[string]struct{}

	store     compliance.RuleStore
	cache     *DecisionCache
	mode      string
	condition *celeval.Condition
	recorder  EvidenceRecorder
	logger    *slog.Logger

	tracer      trace.Tracer
	checks      metric.Int64Counter
	checkTime   metric.Float64Histogram
	ruleChanges metric.Int64Counter

	now func() time.Time
}

// ComplianceOption configures ComplianceService.
type ComplianceOption func(*ComplianceService)

// WithRuleStore persists every rule change through store.
func WithRuleStore(store compliance.RuleStore) ComplianceOption {
	return func(s *ComplianceService) {
		s.store = store
	}
}

// WithCacheSize sets the decision cache capacity. 0 disables caching.
func WithCacheSize(size int) ComplianceOption {
	return func(s *ComplianceService) {
		s.cache = NewDecisionCache(size)
	}
}

// WithEnforcement sets the enforcement mode and the compiled condition.
// A nil condition enforces every non-allowed decision.
func WithEnforcement(mode string, condition *celeval.Condition) ComplianceOption {
	return func(s *ComplianceService) {
		s.mode = mode
		s.condition = condition
	}
}

// WithEvidenceRecorder sends a DecisionRecord per check to recorder.
func WithEvidenceRecorder(recorder EvidenceRecorder) ComplianceOption {
	return func(s *ComplianceService) {
		s.recorder = recorder
	}
}

// NewComplianceService creates a service over engine. Tracing and metrics use
// the global OpenTelemetry providers, which are no-ops until telemetry is set up.
func NewComplianceService(engine *compliance.Engine, logger *slog.Logger, opts ...ComplianceOption) (*ComplianceService, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	s := &ComplianceService{
		cache:  NewDecisionCache(1000),
		mode:   ModeEnforce,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.mode != ModeMonitor && s.mode != ModeEnforce {
		return nil, fmt.Errorf("unknown enforcement mode %q", s.mode)
	}
	s.engine.Store(engine)
	s.base = engine.Rules()

	meter := otel.Meter(instrumentationName)
	var err error
	if s.checks, err = meter.Int64Counter("evaguard.checks",
		metric.WithDescription("Compliance checks by decision"),
	); err != nil {
		return nil, fmt.Errorf("create checks counter: %w", err)
	}
	if s.checkTime, err = meter.Float64Histogram("evaguard.check.duration",
		metric.WithDescription("Compliance check latency"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("create check duration histogram: %w", err)
	}
	if s.ruleChanges, err = meter.Int64Counter("evaguard.rule.changes",
		metric.WithDescription("Applied rule set changes by operation"),
	); err != nil {
		return nil, fmt.Errorf("create rule changes counter: %w", err)
	}
	return s, nil
}

// Mode returns the enforcement mode.
func (s *ComplianceService) Mode() string { return s.mode }

// Generation returns the rule-set generation, bumped on every change.
func (s *ComplianceService) Generation() uint64 { return s.generation.Load() }

// CacheSize returns the number of cached decisions.
func (s *ComplianceService) CacheSize() int { return s.cache.Size() }

// Check evaluates req.Message against the live rule set.
func (s *ComplianceService) Check(ctx context.Context, req CheckRequest) (CheckResult, error) {
	if err := ctx.Err(); err != nil {
		return CheckResult{}, err
	}
	start := s.now()

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	ctx, span := s.tracer.Start(ctx, "compliance.check", trace.WithAttributes(
		attribute.String("evaguard.request_id", requestID),
		attribute.String("evaguard.source", req.Source),
		attribute.Int("evaguard.message_length", len(req.Message)),
	))
	defer span.End()

	key := DecisionCacheKey(req.Message, s.generation.Load())
	eval, cached := s.cache.Get(key, req.Message)
	if !cached {
		eval = s.engine.Load().Evaluate(req.Message)
		s.cache.Put(key, req.Message, eval)
	}

	enforced := s.enforce(ctx, req, eval, start)
	latency := s.now().Sub(start)

	result := CheckResult{
		RequestID:       requestID,
		Decision:        eval.Decision,
		HighestPriority: eval.HighestPriority,
		Enforced:        enforced,
		Mode:            s.mode,
		LatencyMicros:   latency.Microseconds(),
		Cached:          cached,
	}

	decision := evidence.DecisionAllow
	if !eval.Decision.Allowed {
		decision = evidence.DecisionDeny
	}
	span.SetAttributes(
		attribute.String("evaguard.decision", decision),
		attribute.StringSlice("evaguard.violated_rules", eval.Decision.ViolatedRules),
		attribute.Bool("evaguard.enforced", enforced),
		attribute.Bool("evaguard.cached", cached),
	)
	attrs := metric.WithAttributes(
		attribute.String("decision", decision),
		attribute.Bool("enforced", enforced),
		attribute.Bool("cached", cached),
	)
	s.checks.Add(ctx, 1, attrs)
	s.checkTime.Record(ctx, float64(latency)/float64(time.Millisecond), attrs)

	if !eval.Decision.Allowed {
		s.logger.Info("compliance violation",
			"request_id", requestID,
			"violated_rules", eval.Decision.ViolatedRules,
			"highest_priority", eval.HighestPriority,
			"enforced", enforced,
			"source", req.Source,
		)
	}

	if s.recorder != nil {
		s.recorder.Record(evidence.DecisionRecord{
			ID:              uuid.NewString(),
			RequestID:       requestID,
			Timestamp:       start.UTC(),
			MessageHash:     MessageHash(req.Message),
			MessageLength:   len(req.Message),
			Allowed:         eval.Decision.Allowed,
			Confidence:      eval.Decision.Confidence,
			Reason:          eval.Decision.Reason,
			ViolatedRules:   eval.Decision.ViolatedRules,
			HighestPriority: eval.HighestPriority,
			Enforced:        enforced,
			Source:          req.Source,
			LatencyMicros:   result.LatencyMicros,
		})
	}

	return result, nil
}

// enforce applies the enforcement policy to a non-allowed decision.
// A condition that fails to evaluate enforces, so errors never let a
// violation through in enforce mode.
func (s *ComplianceService) enforce(ctx context.Context, req CheckRequest, eval compliance.Evaluation, at time.Time) bool {
	if eval.Decision.Allowed || s.mode == ModeMonitor {
		return false
	}
	if s.condition == nil {
		return true
	}
	matched, err := s.condition.Matches(ctx, celeval.Input{
		Allowed:         eval.Decision.Allowed,
		Violations:      eval.Decision.ViolatedRules,
		HighestPriority: eval.HighestPriority,
		MessageLength:   len(req.Message),
		Source:          req.Source,
		RequestTime:     at,
	})
	if err != nil {
		trace.SpanFromContext(ctx).SetStatus(codes.Error, "enforcement condition failed")
		s.logger.Error("enforcement condition failed, enforcing",
			"condition", s.condition.Expression(),
			"error", err,
		)
		return true
	}
	return matched
}

// MessageHash returns the hex xxhash64 digest stored in evidence in place of the message.
func MessageHash(message string) string {
	return strconv.FormatUint(xxhash.Sum64String(message), 16)
}

// Rules returns the live rule list.
func (s *ComplianceService) Rules() []compliance.Rule {
	return s.engine.Load().Rules()
}

// Rule returns the live rule with id.
func (s *ComplianceService) Rule(id string) (compliance.Rule, bool) {
	return s.engine.Load().Rule(id)
}

// AddRule appends a rule. Errors match compliance.ErrInvalidPattern or
// compliance.ErrDuplicateRule.
func (s *ComplianceService) AddRule(ctx context.Context, rule compliance.Rule) error {
	return s.mutate(ctx, "add", func(e *compliance.Engine) error {
		return e.AddRule(rule)
	})
}

// EnableRule enables the rule with id. A rule in the disabled overrides
// stays disabled until the override is lifted.
func (s *ComplianceService) EnableRule(ctx context.Context, id string) error {
	err := s.mutate(ctx, "enable", func(e *compliance.Engine) error {
		return e.EnableRule(id)
	})
	if err == nil && s.Overridden(id) {
		s.logger.Warn("rule enabled but kept disabled by rules.disabled", "rule_id", id)
	}
	return err
}

// DisableRule disables the rule with id.
func (s *ComplianceService) DisableRule(ctx context.Context, id string) error {
	return s.mutate(ctx, "disable", func(e *compliance.Engine) error {
		return e.DisableRule(id)
	})
}

// RemoveRule deletes the rule with id.
func (s *ComplianceService) RemoveRule(ctx context.Context, id string) error {
	return s.mutate(ctx, "remove", func(e *compliance.Engine) error {
		return e.RemoveRule(id)
	})
}

// ReplaceRules swaps in a new rule set. Nothing changes unless every
// pattern compiles and ids are unique.
func (s *ComplianceService) ReplaceRules(ctx context.Context, rules []compliance.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := compliance.NewEngineWithRules(rules)
	if err != nil {
		return err
	}
	return s.commitLocked(ctx, "replace", next)
}

// SetDisabledOverrides replaces the set of rule ids disabled on the live
// engine without touching the persisted rule set. It returns the ids that
// match no rule; they stay in the set and apply if such a rule is added.
func (s *ComplianceService) SetDisabledOverrides(ctx context.Context, ids []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	overrides := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		overrides[id] = struct{}{}
	}
	var unknown []string
	for _, id := range ids {
		if !containsRule(s.base, id) {
			unknown = append(unknown, id)
		}
	}

	prev := s.overrides
	s.overrides = overrides
	live, err := s.liveEngineLocked(s.base)
	if err != nil {
		s.overrides = prev
		return nil, err
	}
	s.swapLocked(ctx, "override", live)
	return unknown, nil
}

// Overridden reports whether id is in the disabled overrides.
func (s *ComplianceService) Overridden(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.overrides[id]
	return ok
}

// mutate applies fn to a copy of the persisted rule set and commits the copy.
func (s *ComplianceService) mutate(ctx context.Context, op string, fn func(*compliance.Engine) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := compliance.NewEngineWithRules(s.base)
	if err != nil {
		return fmt.Errorf("copy rule set: %w", err)
	}
	if err := fn(next); err != nil {
		return err
	}
	return s.commitLocked(ctx, op, next)
}

// commitLocked persists next, then makes it live with the disabled overrides
// applied. Must be called with mu held.
func (s *ComplianceService) commitLocked(ctx context.Context, op string, next *compliance.Engine) error {
	rules := next.Rules()
	live, err := s.liveEngineLocked(rules)
	if err != nil {
		return err
	}
	if s.store != nil {
		if err := s.store.SaveRules(ctx, rules); err != nil {
			return fmt.Errorf("persist rules: %w", err)
		}
	}
	s.base = rules
	s.swapLocked(ctx, op, live)
	return nil
}

// liveEngineLocked builds the engine to serve from rules plus overrides.
func (s *ComplianceService) liveEngineLocked(rules []compliance.Rule) (*compliance.Engine, error) {
	live := make([]compliance.Rule, len(rules))
	copy(live, rules)
	for i := range live {
		if _, ok := s.overrides[live[i].ID]; ok {
			live[i].Enabled = false
		}
	}
	return compliance.NewEngineWithRules(live)
}

func (s *ComplianceService) swapLocked(ctx context.Context, op string, live *compliance.Engine) {
	s.engine.Store(live)
	gen := s.generation.Add(1)
	s.cache.Clear()

	s.ruleChanges.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	s.logger.Info("rule set updated", "op", op, "rules", live.Len(), "generation", gen)
}

func containsRule(rules []compliance.Rule, id string) bool {
	for _, r := range rules {
		if r.ID == id {
			return true
		}
	}
	return false
}

// BootstrapEngine builds the startup engine. A persisted rule set wins over
// the defaults; with no persisted set the defaults are seeded and saved.
func BootstrapEngine(ctx context.Context, store compliance.RuleStore, logger *slog.Logger) (*compliance.Engine, error) {
	if store == nil {
		return compliance.NewEngine()
	}
	rules, ok, err := store.LoadRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	if ok {
		logger.Debug("loaded persisted rule set", "rules", len(rules))
		return compliance.NewEngineWithRules(rules)
	}

	engine, err := compliance.NewEngine()
	if err != nil {
		return nil, err
	}
	if err := store.SaveRules(ctx, engine.Rules()); err != nil {
		return nil, fmt.Errorf("save default rules: %w", err)
	}
	logger.Info("seeded default rule set", "rules", engine.Len())
	return engine, nil
}
