// Package ledger keeps the append-only record of every provider invocation.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/pario-ai/parley/pkg/models"
)

// ErrUnavailable wraps every storage failure.
var ErrUnavailable = errors.New("ledger unavailable")

// Ledger records and queries usage.
type Ledger interface {
	// Record appends rec. ID and Timestamp are filled in when empty.
	Record(ctx context.Context, rec models.UsageRecord) error
	// Query returns records with from <= timestamp < to, oldest first. A zero
	// to means no upper bound.
	Query(ctx context.Context, from, to time.Time) ([]models.UsageRecord, error)
	// Summary aggregates records since a given time by provider and model.
	Summary(ctx context.Context, since time.Time) ([]models.UsageSummary, error)
	// TotalCost sums estimated cost for providerID ("*" or "" for all) since a given time.
	TotalCost(ctx context.Context, providerID string, since time.Time) (float64, error)
	// Close releases resources.
	Close() error
}

// SQLiteLedger implements Ledger with a SQLite database.
type SQLiteLedger struct {
	db *sql.DB
	// serializes appends within the process; SQLite's own locking covers
	// other processes.
	mu sync.Mutex
}

var _ Ledger = (*SQLiteLedger)(nil)

const createTable = `
CREATE TABLE IF NOT EXISTS usage_records (
	id TEXT PRIMARY KEY,
	request_id TEXT NOT NULL,
	ts_ms INTEGER NOT NULL,
	provider_id TEXT NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	fingerprint TEXT NOT NULL DEFAULT '',
	outcome TEXT NOT NULL,
	error_kind TEXT NOT NULL DEFAULT '',
	latency_ms INTEGER NOT NULL DEFAULT 0,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	estimated_cost REAL NOT NULL DEFAULT 0,
	cost_unknown INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_usage_ts ON usage_records(ts_ms);
CREATE INDEX IF NOT EXISTS idx_usage_provider_ts ON usage_records(provider_id, ts_ms);
`

// New opens the ledger database at dbPath and runs auto-migration.
func New(dbPath string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("%w: open ledger db: %w", ErrUnavailable, err)
	}
	l, err := Open(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// Open wraps an existing database handle and runs auto-migration.
func Open(db *sql.DB) (*SQLiteLedger, error) {
	if _, err := db.Exec(createTable); err != nil {
		return nil, fmt.Errorf("%w: migrate ledger db: %w", ErrUnavailable, err)
	}
	return &SQLiteLedger{db: db}, nil
}

// Record appends a usage record.
func (l *SQLiteLedger) Record(ctx context.Context, rec models.UsageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO usage_records (id, request_id, ts_ms, provider_id, model, fingerprint, outcome,
			error_kind, latency_ms, input_tokens, output_tokens, estimated_cost, cost_unknown)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RequestID, rec.Timestamp.UnixMilli(), rec.ProviderID, rec.Model, rec.Fingerprint,
		string(rec.Outcome), rec.ErrorKind, rec.LatencyMs, rec.InputTokens, rec.OutputTokens,
		rec.EstimatedCost, boolToInt(rec.CostUnknown),
	)
	if err != nil {
		return fmt.Errorf("%w: record usage: %w", ErrUnavailable, err)
	}
	return nil
}

// Query returns records in [from, to), oldest first.
func (l *SQLiteLedger) Query(ctx context.Context, from, to time.Time) ([]models.UsageRecord, error) {
	query := `SELECT id, request_id, ts_ms, provider_id, model, fingerprint, outcome, error_kind,
		latency_ms, input_tokens, output_tokens, estimated_cost, cost_unknown
		FROM usage_records WHERE ts_ms >= ?`
	args := []any{from.UnixMilli()}
	if !to.IsZero() {
		query += ` AND ts_ms < ?`
		args = append(args, to.UnixMilli())
	}
	query += ` ORDER BY ts_ms, rowid`

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query usage: %w", ErrUnavailable, err)
	}
	defer rows.Close()

	var records []models.UsageRecord
	for rows.Next() {
		var r models.UsageRecord
		var tsMs int64
		var outcome string
		var unknown int
		if err := rows.Scan(&r.ID, &r.RequestID, &tsMs, &r.ProviderID, &r.Model, &r.Fingerprint,
			&outcome, &r.ErrorKind, &r.LatencyMs, &r.InputTokens, &r.OutputTokens,
			&r.EstimatedCost, &unknown); err != nil {
			return nil, fmt.Errorf("%w: scan usage: %w", ErrUnavailable, err)
		}
		r.Timestamp = time.UnixMilli(tsMs).UTC()
		r.Outcome = models.Outcome(outcome)
		r.CostUnknown = unknown != 0
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return records, nil
}

// Summary returns per-provider, per-model aggregates since a given time.
func (l *SQLiteLedger) Summary(ctx context.Context, since time.Time) ([]models.UsageSummary, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT provider_id, model,
			COUNT(*),
			SUM(CASE WHEN outcome = 'cache_hit' THEN 1 ELSE 0 END),
			SUM(CASE WHEN outcome = 'failure' THEN 1 ELSE 0 END),
			SUM(input_tokens), SUM(output_tokens),
			SUM(estimated_cost),
			AVG(CASE WHEN outcome = 'cache_hit' THEN NULL ELSE latency_ms END)
		 FROM usage_records WHERE ts_ms >= ?
		 GROUP BY provider_id, model
		 ORDER BY provider_id, model`,
		since.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: usage summary: %w", ErrUnavailable, err)
	}
	defer rows.Close()

	var results []models.UsageSummary
	for rows.Next() {
		var s models.UsageSummary
		var avg sql.NullFloat64
		if err := rows.Scan(&s.ProviderID, &s.Model, &s.Calls, &s.CacheHits, &s.Failures,
			&s.InputTokens, &s.OutputTokens, &s.TotalCost, &avg); err != nil {
			return nil, fmt.Errorf("%w: scan summary: %w", ErrUnavailable, err)
		}
		s.AvgLatencyMs = avg.Float64
		results = append(results, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return results, nil
}

// TotalCost returns the summed estimated cost since a given time.
func (l *SQLiteLedger) TotalCost(ctx context.Context, providerID string, since time.Time) (float64, error) {
	query := `SELECT COALESCE(SUM(estimated_cost), 0) FROM usage_records WHERE ts_ms >= ?`
	args := []any{since.UnixMilli()}
	if providerID != "" && providerID != "*" {
		query += ` AND provider_id = ?`
		args = append(args, providerID)
	}
	var total float64
	if err := l.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("%w: total cost: %w", ErrUnavailable, err)
	}
	return total, nil
}

// Close releases the database connection.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
