package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // Postgres driver
)

// PostgresLedger is a durable SQL-backed Ledger for deployments where
// multiple control-plane processes share one audit log. Entry-level
// atomicity comes from the insert transaction; sequences stay per-run.
type PostgresLedger struct {
	db    *sql.DB
	clock func() time.Time
}

// NewPostgresLedger wraps an existing database handle.
func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (l *PostgresLedger) WithClock(clock func() time.Time) *PostgresLedger {
	l.clock = clock
	return l
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS run_ledger (
	run_id TEXT NOT NULL,
	sequence BIGINT NOT NULL,
	event TEXT NOT NULL,
	actor TEXT NOT NULL,
	payload JSONB NOT NULL,
	content_hash TEXT NOT NULL,
	prev_hash TEXT NOT NULL,
	entry_hash TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, sequence)
);

CREATE INDEX IF NOT EXISTS idx_run_ledger_event ON run_ledger(event);
`

// Init creates the ledger schema if missing.
func (l *PostgresLedger) Init(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, pgSchema)
	return err
}

// Append implements Ledger.
func (l *PostgresLedger) Append(runID string, event Event, actor string, payload map[string]any) (*Entry, error) {
	ctx := context.Background()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &WriteError{Err: fmt.Errorf("begin tx: %w", err)}
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var seq uint64
	var prevHash string
	row := tx.QueryRowContext(ctx,
		"SELECT sequence, entry_hash FROM run_ledger WHERE run_id = $1 ORDER BY sequence DESC LIMIT 1", runID)
	switch err := row.Scan(&seq, &prevHash); {
	case errors.Is(err, sql.ErrNoRows):
		seq = 0
		prevHash = GenesisHash
	case err != nil:
		return nil, &WriteError{Err: fmt.Errorf("read tail: %w", err)}
	default:
		seq++
	}

	entry, err := buildEntry(runID, seq, event, actor, payload, prevHash, l.clock().UTC())
	if err != nil {
		return nil, err
	}

	payloadJSON, err := json.Marshal(entry.Payload)
	if err != nil {
		return nil, &WriteError{Err: fmt.Errorf("marshal payload: %w", err)}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO run_ledger (run_id, sequence, event, actor, payload, content_hash, prev_hash, entry_hash, ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.RunID, entry.Sequence, string(entry.Event), entry.Actor, payloadJSON,
		entry.ContentHash, entry.PrevHash, entry.EntryHash, entry.Timestamp,
	); err != nil {
		return nil, &WriteError{Err: fmt.Errorf("insert entry: %w", err)}
	}

	if err := tx.Commit(); err != nil {
		return nil, &WriteError{Err: fmt.Errorf("commit: %w", err)}
	}
	return entry, nil
}

// Entries implements Ledger.
func (l *PostgresLedger) Entries(runID string) ([]Entry, error) {
	rows, err := l.db.QueryContext(context.Background(),
		`SELECT run_id, sequence, event, actor, payload, content_hash, prev_hash, entry_hash, ts
		 FROM run_ledger WHERE run_id = $1 ORDER BY sequence ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var event string
		var payloadJSON []byte
		if err := rows.Scan(&e.RunID, &e.Sequence, &event, &e.Actor, &payloadJSON,
			&e.ContentHash, &e.PrevHash, &e.EntryHash, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Event = Event(event)
		if err := json.Unmarshal(payloadJSON, &e.Payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// VerifyIntegrity implements Ledger.
func (l *PostgresLedger) VerifyIntegrity(runID string) error {
	entries, err := l.Entries(runID)
	if err != nil {
		return err
	}
	return verifyEntries(runID, entries)
}

// Hashes implements Ledger.
func (l *PostgresLedger) Hashes(runID string) ([]string, error) {
	rows, err := l.db.QueryContext(context.Background(),
		"SELECT entry_hash FROM run_ledger WHERE run_id = $1 ORDER BY sequence ASC", runID)
	if err != nil {
		return nil, fmt.Errorf("query hashes: %w", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan hash: %w", err)
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}
