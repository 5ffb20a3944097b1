package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/evaguard/evaguard/internal/domain/evidence"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "evidence.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func record(id string, ts time.Time, violated ...string) evidence.DecisionRecord {
	allowed := len(violated) == 0
	r := evidence.DecisionRecord{
		ID:            id,
		RequestID:     "req-" + id,
		Timestamp:     ts,
		MessageHash:   "00ff",
		MessageLength: 12,
		Allowed:       allowed,
		Confidence:    1.0,
		Reason:        "Message passes all ethical checks",
		ViolatedRules: violated,
		Source:        evidence.SourceHTTP,
		LatencyMicros: 7,
	}
	if !allowed {
		r.Confidence = 0.95
		r.Reason = fmt.Sprintf("Violated %d rule(s)", len(violated))
		r.HighestPriority = 100
		r.Enforced = true
	}
	return r
}

func TestAppendQuery_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 123, time.UTC)

	want := record("a", ts, "no_harm", "no_illegal")
	if err := s.Append(ctx, want); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	got, err := s.Query(ctx, evidence.Filter{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(Query()) = %d, want 1", len(got))
	}
	if !got[0].Timestamp.Equal(want.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", got[0].Timestamp, want.Timestamp)
	}
	got[0].Timestamp = want.Timestamp
	if !reflect.DeepEqual(got[0], want) {
		t.Errorf("Query()[0] = %+v, want %+v", got[0], want)
	}
}

func TestAppend_AllowedHasEmptyViolations(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, record("a", time.Now())); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	got, err := s.Query(ctx, evidence.Filter{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if got[0].ViolatedRules == nil || len(got[0].ViolatedRules) != 0 {
		t.Errorf("ViolatedRules = %#v, want empty slice", got[0].ViolatedRules)
	}
}

func TestAppend_DuplicateIDIgnored(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	r := record("dup", time.Now())

	if err := s.Append(ctx, r, r); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if st.Total != 1 {
		t.Errorf("Total = %d, want 1", st.Total)
	}
}

func TestQuery_Filters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	if err := s.Append(ctx,
		record("1", base, "no_harm"),
		record("2", base.Add(time.Minute)),
		record("3", base.Add(2*time.Minute), "no_illegal"),
		record("4", base.Add(3*time.Minute), "no_harm", "no_illegal"),
	); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	denied := false
	tests := []struct {
		name   string
		filter evidence.Filter
		want   []string
	}{
		{"all newest first", evidence.Filter{}, []string{"4", "3", "2", "1"}},
		{"limit", evidence.Filter{Limit: 2}, []string{"4", "3"}},
		{"denied only", evidence.Filter{Allowed: &denied}, []string{"4", "3", "1"}},
		{"by rule", evidence.Filter{RuleID: "no_harm"}, []string{"4", "1"}},
		{"since", evidence.Filter{Since: base.Add(2 * time.Minute)}, []string{"4", "3"}},
		{"combined", evidence.Filter{RuleID: "no_illegal", Since: base.Add(3 * time.Minute)}, []string{"4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Query(ctx, tt.filter)
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			ids := make([]string, len(got))
			for i, r := range got {
				ids[i] = r.ID
			}
			if !reflect.DeepEqual(ids, tt.want) {
				t.Errorf("Query() ids = %v, want %v", ids, tt.want)
			}
		})
	}
}

func TestStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	empty, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() on empty store error = %v", err)
	}
	if empty.Total != 0 || len(empty.ByRule) != 0 {
		t.Errorf("empty Stats() = %+v", empty)
	}

	if err := s.Append(ctx,
		record("1", now, "no_harm"),
		record("2", now),
		record("3", now, "no_harm", "no_illegal"),
	); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if st.Total != 3 || st.Allowed != 1 || st.Denied != 2 || st.Enforced != 2 {
		t.Errorf("Stats() = %+v", st)
	}
	wantByRule := map[string]int64{"no_harm": 2, "no_illegal": 1}
	if !reflect.DeepEqual(st.ByRule, wantByRule) {
		t.Errorf("ByRule = %v, want %v", st.ByRule, wantByRule)
	}
}

func TestPruneBefore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.Append(ctx,
		record("old", now.Add(-48*time.Hour)),
		record("older", now.Add(-72*time.Hour), "no_harm"),
		record("new", now),
	); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	n, err := s.PruneBefore(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneBefore() error = %v", err)
	}
	if n != 2 {
		t.Errorf("PruneBefore() = %d, want 2", n)
	}

	got, _ := s.Query(ctx, evidence.Filter{})
	if len(got) != 1 || got[0].ID != "new" {
		t.Errorf("remaining = %+v", got)
	}
}

func TestOpen_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evidence.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.Append(ctx, record("keep", time.Now())); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s2.Close()

	got, err := s2.Query(ctx, evidence.Filter{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "keep" {
		t.Errorf("after reopen = %+v", got)
	}
}

func TestOpen_Memory(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) error = %v", err)
	}
	defer s.Close()

	if err := s.Append(context.Background(), record("m", time.Now())); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	st, err := s.Stats(context.Background())
	if err != nil || st.Total != 1 {
		t.Errorf("Stats() = %+v, %v", st, err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Error("Open(\"\") expected error")
	}
}
