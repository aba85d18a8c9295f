package evidence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/canonicalize"
)

// Lifecycle states. Evidence is never hard-deleted by the control
// plane; it transitions out of citability instead.
const (
	LifecycleActive  = "active"
	LifecycleExpired = "expired"
	LifecycleRevoked = "revoked"
)

// DefaultTrustTier is assigned when the source declares no tier.
const DefaultTrustTier = 3

const schema = `
CREATE TABLE IF NOT EXISTS evidence (
	evidence_id TEXT PRIMARY KEY,
	payload_json TEXT NOT NULL,
	payload_hash TEXT NOT NULL,
	metadata_json TEXT DEFAULT '{}',
	query_hash TEXT,
	source_url TEXT,
	source_trust_tier INTEGER DEFAULT 3,
	lifecycle TEXT DEFAULT 'active',
	created_at TEXT NOT NULL,
	sanitized INTEGER DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_evidence_query_hash ON evidence(query_hash);
CREATE INDEX IF NOT EXISTS idx_evidence_lifecycle ON evidence(lifecycle);
CREATE INDEX IF NOT EXISTS idx_evidence_payload_hash ON evidence(payload_hash);
CREATE INDEX IF NOT EXISTS idx_evidence_created_at ON evidence(created_at);

CREATE TABLE IF NOT EXISTS query_cache (
	query_hash TEXT PRIMARY KEY,
	report_id TEXT NOT NULL,
	completed_at TEXT NOT NULL,
	evidence_count INTEGER DEFAULT 0,
	sources_json TEXT DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_query_cache_completed_at ON query_cache(completed_at);
`

// Meta carries the indexed attributes of an evidence record.
type Meta struct {
	QueryHash string
	SourceURL string
	TrustTier int
	Lifecycle string
	Extra     map[string]any
}

// Record is a full evidence entry.
type Record struct {
	EvidenceID  string         `json:"evidence_id"`
	Payload     map[string]any `json:"payload"`
	PayloadHash string         `json:"payload_hash"`
	Metadata    map[string]any `json:"metadata"`
	QueryHash   string         `json:"query_hash,omitempty"`
	SourceURL   string         `json:"source_url,omitempty"`
	TrustTier   int            `json:"source_trust_tier"`
	Lifecycle   string         `json:"lifecycle"`
	CreatedAt   time.Time      `json:"created_at"`
	Sanitized   bool           `json:"sanitized"`
}

// Store is the SQLite-backed evidence store. Safe for concurrent use;
// the database runs in WAL mode.
type Store struct {
	db    *sql.DB
	clock func() time.Time
}

// Open opens (and initializes) the store at path. ":memory:" works for
// tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open evidence store: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init evidence schema: %w", err)
	}
	return &Store{db: db, clock: time.Now}, nil
}

// WithClock overrides the time source for tests.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// PayloadHash computes the canonical hash used for deduplication and
// ID derivation.
func PayloadHash(payload map[string]any) (string, error) {
	return canonicalize.CanonicalHash(payload)
}

// GenerateID derives the content-addressed evidence ID for a payload.
func GenerateID(payload map[string]any) (string, error) {
	hash, err := PayloadHash(payload)
	if err != nil {
		return "", err
	}
	return "ev_" + hash[:12], nil
}

// Save sanitizes and stores a payload, returning its evidence ID.
// Saving the same payload twice is an idempotent upsert. customID
// overrides the content-addressed ID (deterministic final reports use
// this).
func (s *Store) Save(payload map[string]any, meta Meta, customID string) (string, error) {
	sanitized, wasSanitized, err := SanitizePayload(payload)
	if err != nil {
		return "", err
	}
	payloadHash, err := PayloadHash(sanitized)
	if err != nil {
		return "", fmt.Errorf("hash payload: %w", err)
	}
	id := customID
	if id == "" {
		id = "ev_" + payloadHash[:12]
	}

	extra := make(map[string]any, len(meta.Extra)+1)
	for k, v := range meta.Extra {
		extra[k] = v
	}
	if wasSanitized {
		extra["sanitized"] = true
	}

	payloadJSON, err := json.Marshal(sanitized)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	metaJSON, err := json.Marshal(extra)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}

	trustTier := meta.TrustTier
	if trustTier == 0 {
		trustTier = DefaultTrustTier
	}
	lifecycle := meta.Lifecycle
	if lifecycle == "" {
		lifecycle = LifecycleActive
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO evidence
		(evidence_id, payload_json, payload_hash, metadata_json,
		 query_hash, source_url, source_trust_tier, lifecycle,
		 created_at, sanitized)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		string(payloadJSON),
		payloadHash,
		string(metaJSON),
		nullable(meta.QueryHash),
		nullable(meta.SourceURL),
		trustTier,
		lifecycle,
		s.clock().UTC().Format(time.RFC3339Nano),
		boolToInt(wasSanitized),
	)
	if err != nil {
		return "", fmt.Errorf("save evidence: %w", err)
	}
	return id, nil
}

// Get returns the stored payload, or (nil, nil) if absent.
func (s *Store) Get(id string) (map[string]any, error) {
	var payloadJSON string
	err := s.db.QueryRow("SELECT payload_json FROM evidence WHERE evidence_id = ?", id).Scan(&payloadJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get evidence: %w", err)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return nil, fmt.Errorf("decode evidence payload: %w", err)
	}
	return payload, nil
}

// GetWithMetadata returns the full record, or (nil, nil) if absent.
func (s *Store) GetWithMetadata(id string) (*Record, error) {
	row := s.db.QueryRow(`
		SELECT evidence_id, payload_json, payload_hash, metadata_json,
		       query_hash, source_url, source_trust_tier, lifecycle,
		       created_at, sanitized
		FROM evidence WHERE evidence_id = ?`, id)
	return scanRecord(row)
}

func scanRecord(row *sql.Row) (*Record, error) {
	var (
		rec          Record
		payloadJSON  string
		metaJSON     string
		queryHash    sql.NullString
		sourceURL    sql.NullString
		createdAtStr string
		sanitizedInt int
	)
	err := row.Scan(&rec.EvidenceID, &payloadJSON, &rec.PayloadHash, &metaJSON,
		&queryHash, &sourceURL, &rec.TrustTier, &rec.Lifecycle, &createdAtStr, &sanitizedInt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan evidence: %w", err)
	}
	if err := json.Unmarshal([]byte(payloadJSON), &rec.Payload); err != nil {
		return nil, fmt.Errorf("decode evidence payload: %w", err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &rec.Metadata); err != nil {
		return nil, fmt.Errorf("decode evidence metadata: %w", err)
	}
	rec.QueryHash = queryHash.String
	rec.SourceURL = sourceURL.String
	rec.Sanitized = sanitizedInt != 0
	rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parse evidence timestamp: %w", err)
	}
	return &rec, nil
}

// Exists checks presence by ID.
func (s *Store) Exists(id string) (bool, error) {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM evidence WHERE evidence_id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check evidence: %w", err)
	}
	return true, nil
}

// ListIDs returns all evidence IDs, ordered for determinism.
func (s *Store) ListIDs() ([]string, error) {
	rows, err := s.db.Query("SELECT evidence_id FROM evidence ORDER BY evidence_id")
	if err != nil {
		return nil, fmt.Errorf("list evidence: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FindByQueryHash returns the IDs recorded for a query hash in the
// given lifecycle state.
func (s *Store) FindByQueryHash(queryHash, lifecycle string) ([]string, error) {
	rows, err := s.db.Query(
		"SELECT evidence_id FROM evidence WHERE query_hash = ? AND lifecycle = ? ORDER BY evidence_id",
		queryHash, lifecycle)
	if err != nil {
		return nil, fmt.Errorf("find by query hash: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FindByPayloadHash returns the ID of a duplicate payload, or "".
func (s *Store) FindByPayloadHash(payloadHash string) (string, error) {
	var id string
	err := s.db.QueryRow(
		"SELECT evidence_id FROM evidence WHERE payload_hash = ? LIMIT 1", payloadHash).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("find by payload hash: %w", err)
	}
	return id, nil
}

// UpdateLifecycle transitions a record to active, expired, or revoked.
func (s *Store) UpdateLifecycle(id, lifecycle string) (bool, error) {
	switch lifecycle {
	case LifecycleActive, LifecycleExpired, LifecycleRevoked:
	default:
		return false, fmt.Errorf("invalid lifecycle %q", lifecycle)
	}
	res, err := s.db.Exec("UPDATE evidence SET lifecycle = ? WHERE evidence_id = ?", lifecycle, id)
	if err != nil {
		return false, fmt.Errorf("update lifecycle: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Stats summarizes the store for the compliance export.
func (s *Store) Stats() (map[string]any, error) {
	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM evidence").Scan(&total); err != nil {
		return nil, fmt.Errorf("count evidence: %w", err)
	}
	rows, err := s.db.Query("SELECT lifecycle, COUNT(*) FROM evidence GROUP BY lifecycle")
	if err != nil {
		return nil, fmt.Errorf("count by lifecycle: %w", err)
	}
	defer rows.Close()
	byLifecycle := map[string]int{}
	for rows.Next() {
		var lifecycle string
		var count int
		if err := rows.Scan(&lifecycle, &count); err != nil {
			return nil, err
		}
		byLifecycle[lifecycle] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	var sanitized int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM evidence WHERE sanitized = 1").Scan(&sanitized); err != nil {
		return nil, fmt.Errorf("count sanitized: %w", err)
	}
	return map[string]any{
		"total":           total,
		"by_lifecycle":    byLifecycle,
		"sanitized_count": sanitized,
	}, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
