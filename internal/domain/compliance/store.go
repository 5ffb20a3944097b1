package compliance

import "context"

// RuleStore persists the rule set between runs.
// Interface owned by domain per hexagonal architecture.
type RuleStore interface {
	// LoadRules returns the persisted rule set. ok is false when nothing
	// has been persisted yet, in which case the caller seeds DefaultRules.
	LoadRules(ctx context.Context) (rules []Rule, ok bool, err error)

	// SaveRules replaces the persisted rule set.
	SaveRules(ctx context.Context, rules []Rule) error
}
