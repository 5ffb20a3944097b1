package compliance

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Engine holds an ordered rule list and the compiled pattern for every rule.
// Evaluation takes a read lock and may run concurrently; rule mutations take
// the write lock.
type Engine struct {
	mu       sync.RWMutex
	rules    []Rule
	patterns map[string]*regexp.Regexp
}

// NewEmptyEngine creates an engine with no rules.
func NewEmptyEngine() *Engine {
	return &Engine{
		rules:    make([]Rule, 0),
		patterns: make(map[string]*regexp.Regexp),
	}
}

// NewEngine creates an engine seeded with DefaultRules.
func NewEngine() (*Engine, error) {
	return NewEngineWithRules(DefaultRules())
}

// NewEngineWithRules creates an engine seeded with rules, in order.
// The first rule that fails to add aborts construction.
func NewEngineWithRules(rules []Rule) (*Engine, error) {
	e := NewEmptyEngine()
	for _, r := range rules {
		if err := e.AddRule(r); err != nil {
			return nil, fmt.Errorf("seed rules: %w", err)
		}
	}
	return e, nil
}

// AddRule compiles the rule's pattern and appends the rule to the list.
// On failure the engine is left unchanged.
func (e *Engine) AddRule(rule Rule) error {
	re, err := regexp.Compile(rule.Pattern)
	if err != nil {
		return &PatternError{RuleID: rule.ID, Pattern: rule.Pattern, Err: err}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.patterns[rule.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRule, rule.ID)
	}
	e.patterns[rule.ID] = re
	e.rules = append(e.rules, rule)
	return nil
}

// EnableRule marks the rule with the given id as enabled.
func (e *Engine) EnableRule(id string) error {
	return e.setEnabled(id, true)
}

// DisableRule marks the rule with the given id as disabled. The rule stays in
// the list and keeps its compiled pattern.
func (e *Engine) DisableRule(id string) error {
	return e.setEnabled(id, false)
}

func (e *Engine) setEnabled(id string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.rules {
		if e.rules[i].ID == id {
			e.rules[i].Enabled = enabled
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
}

// RemoveRule deletes the rule and its compiled pattern.
func (e *Engine) RemoveRule(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.rules {
		if e.rules[i].ID == id {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			delete(e.patterns, id)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
}

// Rule returns the rule with the given id.
func (e *Engine) Rule(id string) (Rule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, r := range e.rules {
		if r.ID == id {
			return r, true
		}
	}
	return Rule{}, false
}

// Rules returns a copy of the rule list in insertion order.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Len returns the number of rules.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// CheckCompliance evaluates message against every enabled rule.
func (e *Engine) CheckCompliance(message string) Decision {
	return e.Evaluate(message).Decision
}

// Evaluate evaluates message against every enabled rule and reports the
// highest violated priority alongside the decision.
//
// Matching is unanchored and runs on a lower-cased copy of the message.
// Patterns themselves are not lower-cased, so an upper-case literal in a
// pattern can never match. Every enabled rule is visited.
func (e *Engine) Evaluate(message string) Evaluation {
	start := time.Now()
	lowered := strings.ToLower(message)

	e.mu.RLock()
	violated := make([]string, 0)
	var highest int32
	for _, r := range e.rules {
		if !r.Enabled {
			continue
		}
		re, ok := e.patterns[r.ID]
		if !ok {
			continue
		}
		if re.MatchString(lowered) {
			violated = append(violated, r.ID)
			if r.Priority > highest {
				highest = r.Priority
			}
		}
	}
	e.mu.RUnlock()

	return Evaluation{
		Decision:        newDecision(violated),
		HighestPriority: highest,
		Duration:        time.Since(start),
	}
}
