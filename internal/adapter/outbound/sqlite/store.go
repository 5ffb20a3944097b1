// Package sqlite persists compliance decision records in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/evaguard/evaguard/internal/domain/evidence"
)

// DefaultBusyTimeout is how long a writer waits on a locked database.
const DefaultBusyTimeout = 5 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id               TEXT PRIMARY KEY,
	request_id       TEXT NOT NULL,
	ts               INTEGER NOT NULL,
	message_hash     TEXT NOT NULL,
	message_length   INTEGER NOT NULL,
	allowed          INTEGER NOT NULL,
	confidence       REAL NOT NULL,
	reason           TEXT NOT NULL,
	violated_rules   TEXT NOT NULL,
	highest_priority INTEGER NOT NULL,
	enforced         INTEGER NOT NULL,
	source           TEXT NOT NULL,
	latency_micros   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_ts ON decisions(ts);
CREATE INDEX IF NOT EXISTS idx_decisions_allowed ON decisions(allowed);
`

// Store implements evidence.DecisionStore and evidence.QueryStore.
type Store struct {
	db        *sql.DB
	path      string
	closeOnce sync.Once
}

var (
	_ evidence.DecisionStore = (*Store)(nil)
	_ evidence.QueryStore    = (*Store)(nil)
)

// Open opens (creating if needed) the database at path. ":memory:" gives a
// private in-memory database.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("db path cannot be empty")
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		path, DefaultBusyTimeout.Milliseconds())
	if path == ":memory:" {
		dsn = ":memory:"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single writer. This also pins ":memory:" to one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database path.
func (s *Store) Path() string { return s.path }

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Append inserts records in one transaction.
func (s *Store) Append(ctx context.Context, records ...evidence.DecisionRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO decisions (id, request_id, ts, message_hash, message_length, allowed,
			confidence, reason, violated_rules, highest_priority, enforced, source, latency_micros)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range records {
		rules := r.ViolatedRules
		if rules == nil {
			rules = []string{}
		}
		rulesJSON, err := json.Marshal(rules)
		if err != nil {
			return fmt.Errorf("marshal violated rules: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.RequestID, r.Timestamp.UTC().UnixNano(), r.MessageHash, r.MessageLength,
			boolToInt(r.Allowed), r.Confidence, r.Reason, string(rulesJSON), r.HighestPriority,
			boolToInt(r.Enforced), r.Source, r.LatencyMicros,
		); err != nil {
			return fmt.Errorf("insert decision %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Flush is a no-op: Append commits synchronously.
func (s *Store) Flush(_ context.Context) error { return nil }

// Close closes the database. Safe to call more than once.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.db.Close() })
	return err
}

// Query returns records matching filter, newest first.
func (s *Store) Query(ctx context.Context, filter evidence.Filter) ([]evidence.DecisionRecord, error) {
	var (
		where []string
		args  []any
	)
	if !filter.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, filter.Since.UTC().UnixNano())
	}
	if filter.Allowed != nil {
		where = append(where, "allowed = ?")
		args = append(args, boolToInt(*filter.Allowed))
	}
	if filter.RuleID != "" {
		where = append(where, "EXISTS (SELECT 1 FROM json_each(decisions.violated_rules) WHERE value = ?)")
		args = append(args, filter.RuleID)
	}

	q := `SELECT id, request_id, ts, message_hash, message_length, allowed, confidence, reason,
		violated_rules, highest_priority, enforced, source, latency_micros FROM decisions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY ts DESC, id DESC LIMIT ?"
	args = append(args, filter.EffectiveLimit())

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]evidence.DecisionRecord, 0)
	for rows.Next() {
		var (
			r                 evidence.DecisionRecord
			ts                int64
			allowed, enforced int
			rulesJSON         string
		)
		if err := rows.Scan(&r.ID, &r.RequestID, &ts, &r.MessageHash, &r.MessageLength, &allowed,
			&r.Confidence, &r.Reason, &rulesJSON, &r.HighestPriority, &enforced, &r.Source,
			&r.LatencyMicros); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		r.Timestamp = time.Unix(0, ts).UTC()
		r.Allowed = allowed != 0
		r.Enforced = enforced != 0
		if err := json.Unmarshal([]byte(rulesJSON), &r.ViolatedRules); err != nil {
			return nil, fmt.Errorf("decode violated rules for %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return out, nil
}

// Stats aggregates over all stored records.
func (s *Store) Stats(ctx context.Context) (*evidence.Stats, error) {
	st := &evidence.Stats{ByRule: make(map[string]int64)}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(allowed), 0),
			COALESCE(SUM(CASE WHEN allowed = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(enforced), 0)
		FROM decisions`).Scan(&st.Total, &st.Allowed, &st.Denied, &st.Enforced)
	if err != nil {
		return nil, fmt.Errorf("query totals: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT j.value, COUNT(*)
		FROM decisions, json_each(decisions.violated_rules) AS j
		GROUP BY j.value`)
	if err != nil {
		return nil, fmt.Errorf("query rule counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			id string
			n  int64
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan rule count: %w", err)
		}
		st.ByRule[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rule counts: %w", err)
	}
	return st, nil
}

// PruneBefore deletes records older than before.
func (s *Store) PruneBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM decisions WHERE ts < ?", before.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune decisions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
