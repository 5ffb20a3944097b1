// Package compliance contains the rule model and the evaluation engine that
// decides whether a message may pass through the guardrail.
package compliance

// Rule is a single pattern-based compliance check.
type Rule struct {
	// ID is the unique identifier of the rule within an engine.
	// It keys the compiled pattern cache and is reported in violation lists.
	ID string `json:"id"`

	// Description is a human-readable summary. Informational only.
	Description string `json:"description"`

	// Pattern is the regular expression source matched against the
	// lower-cased message. It is not validated until the rule is added
	// to an Engine.
	Pattern string `json:"pattern"`

	// Priority is the severity of the rule (higher = more severe).
	Priority int32 `json:"priority"`

	// Enabled controls whether the rule participates in evaluation.
	Enabled bool `json:"enabled"`
}

// NewRule creates an enabled rule. The pattern is not compiled here.
func NewRule(id, description, pattern string, priority int32) Rule {
	return Rule{
		ID:          id,
		Description: description,
		Pattern:     pattern,
		Priority:    priority,
		Enabled:     true,
	}
}

// Built-in rule identifiers.
const (
	RuleNoHarm         = "no_harm"
	RuleNoPersonalData = "no_personal_data"
	RuleNoIllegal      = "no_illegal"
	RuleNoHateSpeech   = "no_hate_speech"
)

// DefaultRules returns the built-in rule table seeded into every new Engine.
// A fresh slice is returned on each call.
func DefaultRules() []Rule {
	return []Rule{
		NewRule(
			RuleNoHarm,
			"Prevent harmful or dangerous instructions",
			`(kill|harm|hurt|damage|destroy|attack|weapon|bomb|poison)`,
			100,
		),
		NewRule(
			RuleNoPersonalData,
			"Block requests for personal sensitive data",
			`(credit card|ssn|social security|password|bank account|api[_\s]?key)`,
			90,
		),
		NewRule(
			RuleNoIllegal,
			"Prevent illegal activity suggestions",
			`(hack|crack|pirate|steal|fraud|scam|launder)`,
			95,
		),
		NewRule(
			RuleNoHateSpeech,
			"Block hate speech and discrimination",
			`(racial slur|sexist|homophobic|transphobic)`,
			85,
		),
	}
}
