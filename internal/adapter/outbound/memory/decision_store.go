// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/evaguard/evaguard/internal/domain/evidence"
)

const defaultCapacity = 1000

// DecisionStore keeps the most recent decision records in a bounded ring.
// Used when SQLite evidence is disabled, and in tests.
type DecisionStore struct {
	mu     sync.Mutex
	recent []evidence.DecisionRecord
	cap    int
}

var (
	_ evidence.DecisionStore = (*DecisionStore)(nil)
	_ evidence.QueryStore    = (*DecisionStore)(nil)
)

// NewDecisionStore creates a store holding at most capacity records
// (default 1000 when capacity <= 0).
func NewDecisionStore(capacity int) *DecisionStore {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &DecisionStore{
		recent: make([]evidence.DecisionRecord, 0, capacity),
		cap:    capacity,
	}
}

// Append adds records, evicting the oldest beyond capacity.
func (s *DecisionStore) Append(_ context.Context, records ...evidence.DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if len(s.recent) >= s.cap {
			copy(s.recent, s.recent[1:])
			s.recent[len(s.recent)-1] = r
			continue
		}
		s.recent = append(s.recent, r)
	}
	return nil
}

// Flush is a no-op.
func (s *DecisionStore) Flush(_ context.Context) error { return nil }

// Close is a no-op.
func (s *DecisionStore) Close() error { return nil }

// Len returns the number of stored records.
func (s *DecisionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recent)
}

// Query returns matching records, newest first.
func (s *DecisionStore) Query(_ context.Context, filter evidence.Filter) ([]evidence.DecisionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := filter.EffectiveLimit()
	out := make([]evidence.DecisionRecord, 0)
	for i := len(s.recent) - 1; i >= 0 && len(out) < limit; i-- {
		if filter.Matches(s.recent[i]) {
			out = append(out, s.recent[i])
		}
	}
	return out, nil
}

// Stats aggregates over the retained records.
func (s *DecisionStore) Stats(_ context.Context) (*evidence.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &evidence.Stats{ByRule: make(map[string]int64)}
	for _, r := range s.recent {
		st.Total++
		if r.Allowed {
			st.Allowed++
		} else {
			st.Denied++
		}
		if r.Enforced {
			st.Enforced++
		}
		for _, id := range r.ViolatedRules {
			st.ByRule[id]++
		}
	}
	return st, nil
}

// PruneBefore drops records older than before.
func (s *DecisionStore) PruneBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.recent[:0]
	var removed int64
	for _, r := range s.recent {
		if r.Timestamp.Before(before) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	s.recent = kept
	return removed, nil
}
