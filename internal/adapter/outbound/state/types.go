// Package state persists the evaguard rule set to a JSON state file.
//
// Writes are atomic (temp file then rename), keep a .bak of the previous
// version and are serialised across processes with a lock file. A running
// server reads the file only at startup: edits made by the rules CLI while it
// runs take effect on restart, and are overwritten (with a warning and a .bak
// copy) if the server changes rules first. Last writer wins.
package state

import (
	"time"

	"github.com/evaguard/evaguard/internal/domain/compliance"
)

// CurrentVersion is the schema version written to new state files.
const CurrentVersion = "1"

// RuleSetState is the top-level structure persisted in the state file.
type RuleSetState struct {
	// Version is the schema version for forward compatibility.
	Version string `json:"version"`

	// Rules is the ordered rule list. Order is evaluation order.
	Rules []RuleEntry `json:"rules"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RuleEntry is the persisted form of a compliance.Rule.
type RuleEntry struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	Pattern     string `json:"pattern"`
	Priority    int32  `json:"priority"`
	Enabled     bool   `json:"enabled"`
}

// ToRule converts the entry to a domain rule.
func (e RuleEntry) ToRule() compliance.Rule {
	return compliance.Rule{
		ID:          e.ID,
		Description: e.Description,
		Pattern:     e.Pattern,
		Priority:    e.Priority,
		Enabled:     e.Enabled,
	}
}

// EntryFromRule converts a domain rule to its persisted form.
func EntryFromRule(r compliance.Rule) RuleEntry {
	return RuleEntry{
		ID:          r.ID,
		Description: r.Description,
		Pattern:     r.Pattern,
		Priority:    r.Priority,
		Enabled:     r.Enabled,
	}
}
