package compliance

import (
	"errors"
	"fmt"
)

// Sentinel errors for engine operations.
var (
	// ErrInvalidPattern is returned when a rule pattern does not compile.
	ErrInvalidPattern = errors.New("invalid pattern")
	// ErrRuleNotFound is returned when no rule has the requested id.
	ErrRuleNotFound = errors.New("rule not found")
	// ErrDuplicateRule is returned when a rule id is already present.
	ErrDuplicateRule = errors.New("duplicate rule id")
)

// PatternError describes a rule whose pattern failed to compile.
type PatternError struct {
	RuleID  string
	Pattern string
	Err     error
}

// Error returns the error message.
func (e *PatternError) Error() string {
	return fmt.Sprintf("rule %q: invalid pattern %q: %v", e.RuleID, e.Pattern, e.Err)
}

// Unwrap returns the underlying regexp error.
func (e *PatternError) Unwrap() error {
	return e.Err
}

// Is supports errors.Is(err, ErrInvalidPattern).
func (e *PatternError) Is(target error) bool {
	return target == ErrInvalidPattern
}
