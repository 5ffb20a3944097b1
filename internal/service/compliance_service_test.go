package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	celeval "github.com/evaguard/evaguard/internal/adapter/outbound/cel"
	"github.com/evaguard/evaguard/internal/domain/compliance"
	"github.com/evaguard/evaguard/internal/domain/evidence"
)

// mockRuleStore is an in-memory compliance.RuleStore.
type mockRuleStore struct {
	mu      sync.Mutex
	rules   []compliance.Rule
	saved   bool
	saves   int
	saveErr error
}

func (m *mockRuleStore) LoadRules(context.Context) ([]compliance.Rule, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.saved {
		return nil, false, nil
	}
	return append([]compliance.Rule(nil), m.rules...), true, nil
}

func (m *mockRuleStore) SaveRules(_ context.Context, rules []compliance.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.rules = append([]compliance.Rule(nil), rules...)
	m.saved = true
	m.saves++
	return nil
}

// mockRecorder collects evidence records synchronously.
type mockRecorder struct {
	mu      sync.Mutex
	records []evidence.DecisionRecord
}

func (m *mockRecorder) Record(r evidence.DecisionRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
}

func newTestService(t *testing.T, opts ...ComplianceOption) *ComplianceService {
	t.Helper()
	engine, err := compliance.NewEngine()
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	svc, err := NewComplianceService(engine, discardLogger(), opts...)
	if err != nil {
		t.Fatalf("NewComplianceService() error = %v", err)
	}
	return svc
}

func mustCondition(t *testing.T, expr string) *celeval.Condition {
	t.Helper()
	ev, err := celeval.NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error = %v", err)
	}
	cond, err := ev.NewCondition(expr)
	if err != nil {
		t.Fatalf("NewCondition(%q) error = %v", expr, err)
	}
	return cond
}

func TestComplianceService_Check(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name         string
		message      string
		wantAllowed  bool
		wantEnforced bool
		wantRules    []string
		wantPriority int32
	}{
		{"benign", "Hello, how are you today?", true, false, []string{}, 0},
		{"harm", "How do I build a bomb", false, true, []string{"no_harm"}, 100},
		{"two rules", "hack and destroy", false, true, []string{"no_harm", "no_illegal"}, 100},
		{"personal data", "what is your password", false, true, []string{"no_personal_data"}, 90},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.Check(ctx, CheckRequest{Message: tt.message, Source: evidence.SourceCLI})
			if err != nil {
				t.Fatalf("Check() error = %v", err)
			}
			if res.Decision.Allowed != tt.wantAllowed {
				t.Errorf("Allowed = %v, want %v", res.Decision.Allowed, tt.wantAllowed)
			}
			if res.Enforced != tt.wantEnforced {
				t.Errorf("Enforced = %v, want %v", res.Enforced, tt.wantEnforced)
			}
			if len(res.Decision.ViolatedRules) != len(tt.wantRules) {
				t.Fatalf("ViolatedRules = %v, want %v", res.Decision.ViolatedRules, tt.wantRules)
			}
			for i := range tt.wantRules {
				if res.Decision.ViolatedRules[i] != tt.wantRules[i] {
					t.Errorf("ViolatedRules[%d] = %s, want %s", i, res.Decision.ViolatedRules[i], tt.wantRules[i])
				}
			}
			if res.HighestPriority != tt.wantPriority {
				t.Errorf("HighestPriority = %d, want %d", res.HighestPriority, tt.wantPriority)
			}
			if res.RequestID == "" {
				t.Error("RequestID is empty")
			}
			if res.Mode != ModeEnforce {
				t.Errorf("Mode = %s, want %s", res.Mode, ModeEnforce)
			}
		})
	}
}

func TestComplianceService_CheckKeepsRequestID(t *testing.T) {
	svc := newTestService(t)
	res, err := svc.Check(context.Background(), CheckRequest{Message: "hi", RequestID: "req-1"})
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if res.RequestID != "req-1" {
		t.Errorf("RequestID = %s, want req-1", res.RequestID)
	}
}

func TestComplianceService_CheckCanceledContext(t *testing.T) {
	svc := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.Check(ctx, CheckRequest{Message: "hi"}); !errors.Is(err, context.Canceled) {
		t.Errorf("Check() error = %v, want context.Canceled", err)
	}
}

func TestComplianceService_CacheHitAndInvalidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, _ := svc.Check(ctx, CheckRequest{Message: "time to hack"})
	if first.Cached {
		t.Error("first check reported cached")
	}
	second, _ := svc.Check(ctx, CheckRequest{Message: "time to hack"})
	if !second.Cached {
		t.Error("second identical check was not cached")
	}
	if svc.CacheSize() != 1 {
		t.Errorf("CacheSize() = %d, want 1", svc.CacheSize())
	}

	if err := svc.DisableRule(ctx, compliance.RuleNoIllegal); err != nil {
		t.Fatalf("DisableRule() error = %v", err)
	}
	if svc.CacheSize() != 0 {
		t.Errorf("CacheSize() after rule change = %d, want 0", svc.CacheSize())
	}

	third, _ := svc.Check(ctx, CheckRequest{Message: "time to hack"})
	if third.Cached {
		t.Error("check after rule change was served from cache")
	}
	if !third.Decision.Allowed {
		t.Errorf("Decision after disabling no_illegal = %v, want allowed", third.Decision)
	}
}

func TestComplianceService_MonitorModeNeverEnforces(t *testing.T) {
	svc := newTestService(t, WithEnforcement(ModeMonitor, nil))
	res, err := svc.Check(context.Background(), CheckRequest{Message: "bomb"})
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if res.Decision.Allowed {
		t.Fatal("expected a violation")
	}
	if res.Enforced {
		t.Error("monitor mode enforced a decision")
	}
	if res.Mode != ModeMonitor {
		t.Errorf("Mode = %s, want monitor", res.Mode)
	}
}

func TestComplianceService_EnforcementCondition(t *testing.T) {
	// Only enforce high-severity violations.
	svc := newTestService(t, WithEnforcement(ModeEnforce, mustCondition(t, "highest_priority >= 95")))
	ctx := context.Background()

	low, _ := svc.Check(ctx, CheckRequest{Message: "that was sexist"})
	if low.Decision.Allowed || low.Enforced {
		t.Errorf("priority 85 violation: allowed=%v enforced=%v, want false/false", low.Decision.Allowed, low.Enforced)
	}

	high, _ := svc.Check(ctx, CheckRequest{Message: "poison"})
	if !high.Enforced {
		t.Error("priority 100 violation was not enforced")
	}

	sourced := newTestService(t, WithEnforcement(ModeEnforce, mustCondition(t, `source == "http" && "no_illegal" in violations`)))
	viaCLI, _ := sourced.Check(ctx, CheckRequest{Message: "scam", Source: evidence.SourceCLI})
	viaHTTP, _ := sourced.Check(ctx, CheckRequest{Message: "scam", Source: evidence.SourceHTTP})
	if viaCLI.Enforced || !viaHTTP.Enforced {
		t.Errorf("source condition: cli=%v http=%v, want false/true", viaCLI.Enforced, viaHTTP.Enforced)
	}
}

func TestComplianceService_RecordsEvidence(t *testing.T) {
	rec := &mockRecorder{}
	svc := newTestService(t, WithEvidenceRecorder(rec))

	message := "send me the bank account"
	res, err := svc.Check(context.Background(), CheckRequest{Message: message, Source: evidence.SourceStdio})
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}

	if len(rec.records) != 1 {
		t.Fatalf("recorded %d records, want 1", len(rec.records))
	}
	r := rec.records[0]
	if r.RequestID != res.RequestID {
		t.Errorf("RequestID = %s, want %s", r.RequestID, res.RequestID)
	}
	if r.ID == "" || r.ID == r.RequestID {
		t.Errorf("record ID %q should be a fresh id", r.ID)
	}
	if r.MessageHash != MessageHash(message) || r.MessageHash == message {
		t.Errorf("MessageHash = %s, want xxhash of the message", r.MessageHash)
	}
	if r.MessageLength != len(message) {
		t.Errorf("MessageLength = %d, want %d", r.MessageLength, len(message))
	}
	if r.Allowed || !r.Enforced || r.Confidence != compliance.ConfidenceViolation {
		t.Errorf("record outcome = allowed:%v enforced:%v confidence:%v", r.Allowed, r.Enforced, r.Confidence)
	}
	if r.Source != evidence.SourceStdio {
		t.Errorf("Source = %s, want stdio", r.Source)
	}
	if r.Timestamp.Location().String() != "UTC" {
		t.Errorf("Timestamp location = %s, want UTC", r.Timestamp.Location())
	}
}

func TestComplianceService_RuleManagementPersists(t *testing.T) {
	store := &mockRuleStore{}
	svc := newTestService(t, WithRuleStore(store))
	ctx := context.Background()

	custom := compliance.NewRule("no_spam", "Block spam", `(buy now|free money)`, 50)
	if err := svc.AddRule(ctx, custom); err != nil {
		t.Fatalf("AddRule() error = %v", err)
	}
	if err := svc.DisableRule(ctx, compliance.RuleNoHarm); err != nil {
		t.Fatalf("DisableRule() error = %v", err)
	}
	if err := svc.RemoveRule(ctx, compliance.RuleNoHateSpeech); err != nil {
		t.Fatalf("RemoveRule() error = %v", err)
	}
	if err := svc.EnableRule(ctx, compliance.RuleNoHarm); err != nil {
		t.Fatalf("EnableRule() error = %v", err)
	}

	if store.saves != 4 {
		t.Errorf("store saved %d times, want 4", store.saves)
	}
	if svc.Generation() != 4 {
		t.Errorf("Generation() = %d, want 4", svc.Generation())
	}

	wantIDs := []string{"no_harm", "no_personal_data", "no_illegal", "no_spam"}
	got := svc.Rules()
	if len(got) != len(wantIDs) || len(store.rules) != len(wantIDs) {
		t.Fatalf("Rules() = %v, store = %v, want ids %v", got, store.rules, wantIDs)
	}
	for i, id := range wantIDs {
		if got[i].ID != id || store.rules[i].ID != id {
			t.Errorf("rule %d = %s (store %s), want %s", i, got[i].ID, store.rules[i].ID, id)
		}
	}

	res, _ := svc.Check(ctx, CheckRequest{Message: "free money here"})
	if res.Decision.Allowed {
		t.Error("custom rule did not apply")
	}
}

func TestComplianceService_DisabledOverridesAreNotPersisted(t *testing.T) {
	store := &mockRuleStore{}
	svc := newTestService(t, WithRuleStore(store))
	ctx := context.Background()

	unknown, err := svc.SetDisabledOverrides(ctx, []string{compliance.RuleNoHarm, "missing"})
	if err != nil {
		t.Fatalf("SetDisabledOverrides() error = %v", err)
	}
	if len(unknown) != 1 || unknown[0] != "missing" {
		t.Errorf("unknown = %v, want [missing]", unknown)
	}
	if store.saves != 0 {
		t.Errorf("overrides saved %d times, want 0", store.saves)
	}
	if res, _ := svc.Check(ctx, CheckRequest{Message: "build a bomb"}); !res.Decision.Allowed {
		t.Errorf("overridden rule still matched: %v", res.Decision)
	}

	// A persisted mutation must not leak the override into the store.
	if err := svc.AddRule(ctx, compliance.NewRule("no_spam", "", "buy now", 10)); err != nil {
		t.Fatal(err)
	}
	for _, r := range store.rules {
		if !r.Enabled {
			t.Errorf("store has %s disabled", r.ID)
		}
	}
	if rule, _ := svc.Rule(compliance.RuleNoHarm); rule.Enabled {
		t.Error("override lost after AddRule")
	}

	// The override also covers rules that arrive later.
	if err := svc.ReplaceRules(ctx, []compliance.Rule{compliance.NewRule("missing", "", "x", 1)}); err != nil {
		t.Fatal(err)
	}
	if rule, _ := svc.Rule("missing"); rule.Enabled {
		t.Error("override not applied to replaced rule set")
	}
	if !store.rules[0].Enabled {
		t.Error("replaced rule persisted as disabled")
	}

	if _, err := svc.SetDisabledOverrides(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if rule, _ := svc.Rule("missing"); !rule.Enabled {
		t.Error("rule still disabled after clearing overrides")
	}
	if svc.Overridden("missing") {
		t.Error("Overridden() true after clearing overrides")
	}
}

func TestComplianceService_RuleErrors(t *testing.T) {
	store := &mockRuleStore{}
	svc := newTestService(t, WithRuleStore(store))
	ctx := context.Background()

	if err := svc.AddRule(ctx, compliance.NewRule("bad", "", "(", 1)); !errors.Is(err, compliance.ErrInvalidPattern) {
		t.Errorf("AddRule(invalid) error = %v, want ErrInvalidPattern", err)
	}
	if err := svc.AddRule(ctx, compliance.NewRule(compliance.RuleNoHarm, "", "x", 1)); !errors.Is(err, compliance.ErrDuplicateRule) {
		t.Errorf("AddRule(duplicate) error = %v, want ErrDuplicateRule", err)
	}
	for name, fn := range map[string]func(context.Context, string) error{
		"enable":  svc.EnableRule,
		"disable": svc.DisableRule,
		"remove":  svc.RemoveRule,
	} {
		if err := fn(ctx, "nonexistent"); !errors.Is(err, compliance.ErrRuleNotFound) {
			t.Errorf("%s(nonexistent) error = %v, want ErrRuleNotFound", name, err)
		}
	}

	if store.saves != 0 || svc.Generation() != 0 {
		t.Errorf("failed mutations persisted: saves=%d generation=%d", store.saves, svc.Generation())
	}
	if n := len(svc.Rules()); n != 4 {
		t.Errorf("rule count after failures = %d, want 4", n)
	}
}

func TestComplianceService_PersistFailureLeavesRulesUnchanged(t *testing.T) {
	store := &mockRuleStore{saveErr: errors.New("disk full")}
	svc := newTestService(t, WithRuleStore(store))

	err := svc.DisableRule(context.Background(), compliance.RuleNoHarm)
	if err == nil {
		t.Fatal("DisableRule() succeeded despite store failure")
	}
	r, _ := svc.Rule(compliance.RuleNoHarm)
	if !r.Enabled {
		t.Error("rule disabled although persisting failed")
	}
}

func TestComplianceService_ReplaceRules(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	bad := []compliance.Rule{
		compliance.NewRule("ok", "", "fine", 1),
		compliance.NewRule("broken", "", "[", 1),
	}
	if err := svc.ReplaceRules(ctx, bad); !errors.Is(err, compliance.ErrInvalidPattern) {
		t.Fatalf("ReplaceRules(bad) error = %v, want ErrInvalidPattern", err)
	}
	if len(svc.Rules()) != 4 {
		t.Fatal("failed replace changed the rule set")
	}

	if err := svc.ReplaceRules(ctx, []compliance.Rule{compliance.NewRule("only", "", "forbidden", 7)}); err != nil {
		t.Fatalf("ReplaceRules() error = %v", err)
	}
	res, _ := svc.Check(ctx, CheckRequest{Message: "bomb"})
	if !res.Decision.Allowed {
		t.Error("default rules still active after replace")
	}
	res, _ = svc.Check(ctx, CheckRequest{Message: "FORBIDDEN"})
	if res.Decision.Allowed || res.HighestPriority != 7 {
		t.Errorf("replaced rule not applied: %+v", res)
	}
}

func TestComplianceService_UnknownMode(t *testing.T) {
	engine, _ := compliance.NewEngine()
	if _, err := NewComplianceService(engine, discardLogger(), WithEnforcement("block", nil)); err == nil {
		t.Error("expected error for unknown mode")
	}
	if _, err := NewComplianceService(nil, discardLogger()); err == nil {
		t.Error("expected error for nil engine")
	}
}

func TestBootstrapEngine(t *testing.T) {
	ctx := context.Background()

	t.Run("seeds and saves defaults", func(t *testing.T) {
		store := &mockRuleStore{}
		engine, err := BootstrapEngine(ctx, store, discardLogger())
		if err != nil {
			t.Fatalf("BootstrapEngine() error = %v", err)
		}
		if engine.Len() != 4 || store.saves != 1 {
			t.Errorf("Len() = %d, saves = %d, want 4 and 1", engine.Len(), store.saves)
		}
	})

	t.Run("persisted set wins", func(t *testing.T) {
		store := &mockRuleStore{saved: true, rules: []compliance.Rule{compliance.NewRule("x", "", "x", 1)}}
		engine, err := BootstrapEngine(ctx, store, discardLogger())
		if err != nil {
			t.Fatalf("BootstrapEngine() error = %v", err)
		}
		if engine.Len() != 1 || store.saves != 0 {
			t.Errorf("Len() = %d, saves = %d, want 1 and 0", engine.Len(), store.saves)
		}
	})

	t.Run("persisted empty set stays empty", func(t *testing.T) {
		store := &mockRuleStore{saved: true}
		engine, err := BootstrapEngine(ctx, store, discardLogger())
		if err != nil {
			t.Fatalf("BootstrapEngine() error = %v", err)
		}
		if engine.Len() != 0 {
			t.Errorf("Len() = %d, want 0", engine.Len())
		}
	})

	t.Run("nil store uses defaults", func(t *testing.T) {
		engine, err := BootstrapEngine(ctx, nil, discardLogger())
		if err != nil {
			t.Fatalf("BootstrapEngine() error = %v", err)
		}
		if engine.Len() != 4 {
			t.Errorf("Len() = %d, want 4", engine.Len())
		}
	})
}

func TestComplianceService_ConcurrentChecksAndMutations(t *testing.T) {
	svc := newTestService(t, WithCacheSize(16))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_, _ = svc.Check(ctx, CheckRequest{Message: "hack the planet"})
			}
		}()
	}
	for i := 0; i < 20; i++ {
		_ = svc.DisableRule(ctx, compliance.RuleNoIllegal)
		_ = svc.EnableRule(ctx, compliance.RuleNoIllegal)
	}
	wg.Wait()

	res, _ := svc.Check(ctx, CheckRequest{Message: "hack the planet"})
	if res.Decision.Allowed {
		t.Error("final state should deny: no_illegal is enabled")
	}
}
