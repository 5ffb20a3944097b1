package compliance

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// ConfidenceAllowed is the confidence reported for a message with no violations.
	ConfidenceAllowed = 1.0
	// ConfidenceViolation is the confidence reported when at least one rule matched.
	// It does not vary with the number or priority of violations.
	ConfidenceViolation = 0.95

	// ReasonAllowed is the reason reported for a message with no violations.
	ReasonAllowed = "Message passes all ethical checks"
)

// Decision is the outcome of evaluating one message.
type Decision struct {
	// Allowed is true iff no enabled rule matched.
	Allowed bool `json:"allowed"`

	// Confidence is ConfidenceAllowed or ConfidenceViolation.
	Confidence float64 `json:"confidence"`

	// Reason is a human-readable summary of the outcome.
	Reason string `json:"reason"`

	// ViolatedRules lists the ids of matching rules in rule-list order.
	ViolatedRules []string `json:"violated_rules"`
}

// newDecision aggregates a violation list into a Decision.
func newDecision(violated []string) Decision {
	if len(violated) == 0 {
		return Decision{
			Allowed:       true,
			Confidence:    ConfidenceAllowed,
			Reason:        ReasonAllowed,
			ViolatedRules: []string{},
		}
	}
	return Decision{
		Allowed:       false,
		Confidence:    ConfidenceViolation,
		Reason:        violationReason(len(violated)),
		ViolatedRules: violated,
	}
}

func violationReason(n int) string {
	return fmt.Sprintf("Violated %d rule(s)", n)
}

// String renders the decision for display and debugging, e.g.
// Decision(allowed=false, confidence=0.95, reason='Violated 1 rule(s)', violated_rules=["no_harm"]).
func (d Decision) String() string {
	quoted := make([]string, len(d.ViolatedRules))
	for i, id := range d.ViolatedRules {
		quoted[i] = strconv.Quote(id)
	}
	return fmt.Sprintf("Decision(allowed=%t, confidence=%.2f, reason='%s', violated_rules=[%s])",
		d.Allowed, d.Confidence, d.Reason, strings.Join(quoted, ", "))
}

// Evaluation is a Decision together with evaluation metadata that is not
// part of the Decision itself.
type Evaluation struct {
	Decision Decision
	// HighestPriority is the maximum of 0 and the priorities of violated
	// rules, so negative priorities never raise it.
	HighestPriority int32
	// Duration is how long the rule walk took.
	Duration time.Duration
}
