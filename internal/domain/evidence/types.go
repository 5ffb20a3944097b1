// Package evidence contains domain types for compliance decision records.
package evidence

import (
	"time"
)

// Decision constants for evidence records.
const (
	// DecisionAllow indicates the message passed every enabled rule.
	DecisionAllow = "allow"
	// DecisionDeny indicates at least one rule matched.
	DecisionDeny = "deny"
)

// Source constants identify which transport produced a check.
const (
	SourceHTTP  = "http"
	SourceStdio = "stdio"
	SourceCLI   = "cli"
)

// DecisionRecord is the persisted evidence of one compliance check.
// The checked message is never stored, only its hash and length.
type DecisionRecord struct {
	// ID uniquely identifies this record.
	ID string `json:"id"`
	// RequestID correlates the record with the transport request.
	RequestID string `json:"request_id"`
	// Timestamp is when the check completed (UTC).
	Timestamp time.Time `json:"timestamp"`
	// MessageHash is the hex xxhash64 digest of the message.
	MessageHash string `json:"message_hash"`
	// MessageLength is the message length in bytes.
	MessageLength int `json:"message_length"`

	Allowed         bool     `json:"allowed"`
	Confidence      float64  `json:"confidence"`
	Reason          string   `json:"reason"`
	ViolatedRules   []string `json:"violated_rules"`
	HighestPriority int32    `json:"highest_priority"`

	// Enforced is true when the enforcement policy blocked the message.
	Enforced bool `json:"enforced"`
	// Source is the transport that requested the check (http, stdio, cli).
	Source string `json:"source,omitempty"`
	// LatencyMicros is the end-to-end check latency in microseconds.
	LatencyMicros int64 `json:"latency_micros"`
}

// DecisionLabel returns DecisionAllow or DecisionDeny.
func (r DecisionRecord) DecisionLabel() string {
	if r.Allowed {
		return DecisionAllow
	}
	return DecisionDeny
}
