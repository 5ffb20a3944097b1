// Package evaguard provides a Go client for the evaguard compliance API.
//
// The client uses only the Go standard library (net/http) with zero
// external dependencies.
//
// Quick start:
//
//	// Set EVAGUARD_SERVER_ADDR and EVAGUARD_API_KEY env vars, then:
//	client := evaguard.NewClient()
//
//	resp, err := client.Check(ctx, evaguard.CheckRequest{Message: prompt})
//	if err != nil {
//	    var violation *evaguard.ViolationError
//	    if errors.As(err, &violation) {
//	        fmt.Printf("Blocked by %v: %s\n", violation.ViolatedRules, violation.Reason)
//	    }
//	}
package evaguard

// CheckRequest is the body of POST /v1/check.
type CheckRequest struct {
	// Message is the text to check. Required.
	Message string `json:"message"`

	// Source labels the caller in evidence records. Defaults to "sdk".
	Source string `json:"source,omitempty"`
}

// Decision is the engine's verdict on one message.
type Decision struct {
	// Allowed is true when no enabled rule matched.
	Allowed bool `json:"allowed"`

	// Confidence is 1.0 for allowed messages and 0.95 for violations.
	Confidence float64 `json:"confidence"`

	// Reason is a human-readable summary.
	Reason string `json:"reason"`

	// ViolatedRules lists matching rule ids in rule-list order.
	ViolatedRules []string `json:"violated_rules"`
}

// CheckResponse is the result of a compliance check.
type CheckResponse struct {
	RequestID string `json:"request_id"`

	Decision Decision `json:"decision"`

	// HighestPriority is the maximum priority among violated rules, 0 if none.
	HighestPriority int32 `json:"highest_priority"`

	// Enforced is true when the server's enforcement policy blocks the message.
	Enforced bool `json:"enforced"`

	// Mode is the server's enforcement mode: "monitor" or "enforce".
	Mode string `json:"mode"`

	LatencyMicros int64 `json:"latency_micros"`

	// Cached reports a server-side decision cache hit.
	Cached bool `json:"cached"`

	// FailedOpen is set by the client when the server was unreachable and
	// the client is configured to fail open. It is never sent by the server.
	FailedOpen bool `json:"-"`
}
