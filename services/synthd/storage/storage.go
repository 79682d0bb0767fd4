package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
)

// Storage wraps the synthd journal: oracle samples and snapshots, requester
// throttles and the committed event log.
type Storage struct {
	db *sql.DB
}

var (
	// ErrPathRequired is returned when the backing store path is missing.
	ErrPathRequired = errors.New("synthd storage path must be configured")
	// ErrSnapshotNotFound is returned when a feed has never been aggregated.
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// Open initialises the backing store using a sqlite-compatible DSN.
func Open(dsn string) (*Storage, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close releases database resources.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("storage not configured")
	}
	return s.db.PingContext(ctx)
}

// RecordSample persists a raw upstream observation.
func (s *Storage) RecordSample(ctx context.Context, feed, source string, price, confidence *big.Rat, observed, recorded time.Time) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	if price == nil {
		return fmt.Errorf("sample missing price")
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO oracle_samples(feed, source, price, confidence, observed_at, recorded_at)
        VALUES(?, ?, ?, ?, ?, ?)
    `, feedKey(feed), strings.ToLower(strings.TrimSpace(source)), price.FloatString(18), ratString(confidence), observed.UTC().Unix(), recorded.UTC())
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

// Snapshot captures an aggregated feed price.
type Snapshot struct {
	Feed           string
	Median         string
	Confidence     string
	Feeders        []string
	ProofID        string
	ObservedAtUnix int64
	RecordedAt     time.Time
}

// MedianRat parses the stored median.
func (s Snapshot) MedianRat() (*big.Rat, error) {
	return parseRat(s.Median)
}

// ConfidenceRat parses the stored confidence band.
func (s Snapshot) ConfidenceRat() (*big.Rat, error) {
	return parseRat(s.Confidence)
}

// RecordSnapshot stores the aggregated median snapshot.
func (s *Storage) RecordSnapshot(ctx context.Context, snap Snapshot) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	recorded := snap.RecordedAt
	if recorded.IsZero() {
		recorded = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO oracle_snapshots(feed, median_price, confidence, feeders, proof_id, observed_at, recorded_at)
        VALUES(?, ?, ?, ?, ?, ?, ?)
    `, feedKey(snap.Feed), strings.TrimSpace(snap.Median), strings.TrimSpace(snap.Confidence), strings.Join(snap.Feeders, ","), snap.ProofID, snap.ObservedAtUnix, recorded.UTC())
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recent aggregate for the feed.
func (s *Storage) LatestSnapshot(ctx context.Context, feed string) (Snapshot, error) {
	result := Snapshot{Feed: feedKey(feed)}
	if s == nil {
		return result, fmt.Errorf("storage not configured")
	}
	row := s.db.QueryRowContext(ctx, `
        SELECT median_price, confidence, feeders, proof_id, observed_at, recorded_at
        FROM oracle_snapshots
        WHERE feed = ?
        ORDER BY id DESC
        LIMIT 1
    `, result.Feed)
	var feeders string
	if err := row.Scan(&result.Median, &result.Confidence, &feeders, &result.ProofID, &result.ObservedAtUnix, &result.RecordedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return result, ErrSnapshotNotFound
		}
		return result, fmt.Errorf("query snapshot: %w", err)
	}
	if feeders != "" {
		result.Feeders = strings.Split(feeders, ",")
	}
	return result, nil
}

// ThrottleAction enumerates rate-limited flows.
type ThrottleAction string

const (
	// ActionMint identifies mint requests.
	ActionMint ThrottleAction = "mint"
	// ActionBurn identifies burn requests.
	ActionBurn ThrottleAction = "burn"
)

// CheckThrottle records the amount against the requester's budget for the
// window, returning false without recording when it would exceed limit.
func (s *Storage) CheckThrottle(ctx context.Context, requester string, action ThrottleAction, limit uint64, window time.Duration, amount uint64, when time.Time) (bool, error) {
	if s == nil {
		return false, fmt.Errorf("storage not configured")
	}
	if limit == 0 {
		return true, nil
	}
	requested := new(big.Int).SetUint64(amount)
	limitBig := new(big.Int).SetUint64(limit)
	if requested.Cmp(limitBig) > 0 {
		return false, nil
	}
	cutoff := when.Add(-window).Unix()
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	rows, err := tx.QueryContext(ctx, `
        SELECT amount
        FROM throttle_events
        WHERE requester = ? AND action = ? AND occurred_at >= ?
    `, requester, string(action), cutoff)
	if err != nil {
		return false, fmt.Errorf("query throttle events: %w", err)
	}
	used := big.NewInt(0)
	for rows.Next() {
		var stored string
		if err := rows.Scan(&stored); err != nil {
			rows.Close()
			return false, fmt.Errorf("scan throttle amount: %w", err)
		}
		amt, ok := new(big.Int).SetString(strings.TrimSpace(stored), 10)
		if !ok {
			rows.Close()
			return false, fmt.Errorf("parse throttle amount: %q", stored)
		}
		used.Add(used, amt)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return false, fmt.Errorf("iterate throttle events: %w", err)
	}
	rows.Close()
	remainder := new(big.Int).Sub(limitBig, used)
	if remainder.Cmp(requested) < 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, `
        INSERT INTO throttle_events(requester, action, amount, occurred_at)
        VALUES(?, ?, ?, ?)
    `, requester, string(action), requested.String(), when.Unix()); err != nil {
		return false, fmt.Errorf("record event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit throttle: %w", err)
	}
	return true, nil
}

// ReleaseThrottle returns a recorded amount to the requester's budget. It is
// used when the operation the amount was reserved for does not commit.
func (s *Storage) ReleaseThrottle(ctx context.Context, requester string, action ThrottleAction, amount uint64, when time.Time) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	if _, err := s.db.ExecContext(ctx, `
        DELETE FROM throttle_events
        WHERE id = (
            SELECT id FROM throttle_events
            WHERE requester = ? AND action = ? AND amount = ? AND occurred_at = ?
            ORDER BY id DESC
            LIMIT 1
        )
    `, requester, string(action), new(big.Int).SetUint64(amount).String(), when.Unix()); err != nil {
		return fmt.Errorf("release throttle: %w", err)
	}
	return nil
}

// EventRecord is a committed engine event as stored in the journal.
type EventRecord struct {
	ID          int64             `json:"id"`
	OperationID string            `json:"operationId,omitempty"`
	Type        string            `json:"type"`
	Attributes  map[string]string `json:"attributes"`
	RecordedAt  time.Time         `json:"recordedAt"`
}

// AppendEvent journals a committed event and returns its sequence id.
func (s *Storage) AppendEvent(ctx context.Context, rec EventRecord) (int64, error) {
	if s == nil {
		return 0, fmt.Errorf("storage not configured")
	}
	if strings.TrimSpace(rec.Type) == "" {
		return 0, fmt.Errorf("event type required")
	}
	attrs := rec.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return 0, fmt.Errorf("encode attributes: %w", err)
	}
	recorded := rec.RecordedAt
	if recorded.IsZero() {
		recorded = time.Now()
	}
	result, err := s.db.ExecContext(ctx, `
        INSERT INTO events(operation_id, type, attributes, recorded_at)
        VALUES(?, ?, ?, ?)
    `, rec.OperationID, rec.Type, string(encoded), recorded.UTC())
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("event id: %w", err)
	}
	return id, nil
}

// ListEvents returns up to limit events with ids greater than after, oldest first.
func (s *Storage) ListEvents(ctx context.Context, after int64, limit int) ([]EventRecord, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	if limit <= 0 || limit > maxEventPage {
		limit = maxEventPage
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, operation_id, type, attributes, recorded_at
        FROM events
        WHERE id > ?
        ORDER BY id ASC
        LIMIT ?
    `, after, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	records := make([]EventRecord, 0)
	for rows.Next() {
		var (
			rec   EventRecord
			attrs string
		)
		if err := rows.Scan(&rec.ID, &rec.OperationID, &rec.Type, &attrs, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		rec.Attributes = map[string]string{}
		if attrs != "" {
			if err := json.Unmarshal([]byte(attrs), &rec.Attributes); err != nil {
				return nil, fmt.Errorf("decode event %d attributes: %w", rec.ID, err)
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return records, nil
}

const maxEventPage = 500

const schema = `
CREATE TABLE IF NOT EXISTS oracle_samples (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    feed TEXT NOT NULL,
    source TEXT NOT NULL,
    price TEXT NOT NULL,
    confidence TEXT NOT NULL,
    observed_at INTEGER NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_oracle_samples_feed_ts ON oracle_samples(feed, observed_at);

CREATE TABLE IF NOT EXISTS oracle_snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    feed TEXT NOT NULL,
    median_price TEXT NOT NULL,
    confidence TEXT NOT NULL,
    feeders TEXT NOT NULL,
    proof_id TEXT NOT NULL,
    observed_at INTEGER NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_oracle_snapshots_feed_ts ON oracle_snapshots(feed, observed_at);

CREATE TABLE IF NOT EXISTS throttle_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    requester TEXT NOT NULL,
    action TEXT NOT NULL,
    amount TEXT NOT NULL,
    occurred_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_throttle_events ON throttle_events(requester, action, occurred_at);

CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    operation_id TEXT NOT NULL,
    type TEXT NOT NULL,
    attributes TEXT NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
`

func feedKey(feed string) string {
	return strings.ToLower(strings.TrimSpace(feed))
}

func ratString(r *big.Rat) string {
	if r == nil {
		return "0"
	}
	return r.FloatString(18)
}

func parseRat(raw string) (*big.Rat, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return new(big.Rat), nil
	}
	value, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return nil, fmt.Errorf("invalid decimal %q", raw)
	}
	return value, nil
}
