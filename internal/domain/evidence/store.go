package evidence

import (
	"context"
	"errors"
	"time"
)

// DecisionStore persists decision records.
// Implementation handles batching and async writes.
type DecisionStore interface {
	// Append stores decision records.
	Append(ctx context.Context, records ...DecisionRecord) error

	// Flush forces pending records to storage. Called during shutdown.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Filter specifies query parameters for decision record queries.
type Filter struct {
	// Since restricts results to records at or after this time (optional).
	Since time.Time
	// Allowed filters by outcome when non-nil.
	Allowed *bool
	// RuleID filters to records that violated this rule (optional).
	RuleID string
	// Limit is the maximum number of records to return (default 100, max 1000).
	Limit int
}

// Filter limits.
const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// EffectiveLimit clamps Limit to [1, MaxQueryLimit], using DefaultQueryLimit when unset.
func (f Filter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultQueryLimit
	case f.Limit > MaxQueryLimit:
		return MaxQueryLimit
	default:
		return f.Limit
	}
}

// Matches reports whether r satisfies the filter. Limit is not considered.
func (f Filter) Matches(r DecisionRecord) bool {
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	if f.Allowed != nil && r.Allowed != *f.Allowed {
		return false
	}
	if f.RuleID != "" {
		found := false
		for _, id := range r.ViolatedRules {
			if id == f.RuleID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Stats contains aggregated decision statistics.
type Stats struct {
	Total    int64            `json:"total"`
	Allowed  int64            `json:"allowed"`
	Denied   int64            `json:"denied"`
	Enforced int64            `json:"enforced"`
	ByRule   map[string]int64 `json:"by_rule"`
}

// QueryStore provides read and retention access to decision records.
// Separate from DecisionStore which handles writes.
type QueryStore interface {
	// Query returns records matching the filter, newest first.
	Query(ctx context.Context, filter Filter) ([]DecisionRecord, error)

	// Stats returns aggregated statistics over all stored records.
	Stats(ctx context.Context) (*Stats, error)

	// PruneBefore deletes records older than before and returns the count removed.
	PruneBefore(ctx context.Context, before time.Time) (int64, error)
}

// MultiStore fans writes out to several stores in order.
// Every store receives every call; errors are joined.
type MultiStore []DecisionStore

var _ DecisionStore = MultiStore(nil)

// Append writes records to every store.
func (m MultiStore) Append(ctx context.Context, records ...DecisionRecord) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, records...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Flush flushes every store.
func (m MultiStore) Flush(ctx context.Context) error {
	var errs []error
	for _, s := range m {
		if err := s.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every store.
func (m MultiStore) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
