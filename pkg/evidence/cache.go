package evidence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DefaultCacheMaxAge bounds query cache hits.
const DefaultCacheMaxAge = 15 * time.Minute

// CacheEntry is a completed query's cached result.
type CacheEntry struct {
	QueryHash     string    `json:"query_hash"`
	ReportID      string    `json:"report_id"`
	CompletedAt   time.Time `json:"completed_at"`
	EvidenceCount int       `json:"evidence_count"`
	Sources       []string  `json:"sources"`
}

// CacheQuery records a completed query so later identical queries can
// reuse its report instead of re-running the pipeline.
func (s *Store) CacheQuery(queryHash, reportID string, evidenceCount int, sources []string) error {
	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return fmt.Errorf("encode cache sources: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO query_cache
		(query_hash, report_id, completed_at, evidence_count, sources_json)
		VALUES (?, ?, ?, ?, ?)`,
		queryHash, reportID, s.clock().UTC().Format(time.RFC3339Nano), evidenceCount, string(sourcesJSON))
	if err != nil {
		return fmt.Errorf("cache query: %w", err)
	}
	return nil
}

// CachedReport returns the cached report ID for a query hash if the
// entry is fresh enough. Stale or missing entries report "".
func (s *Store) CachedReport(queryHash string, maxAge time.Duration) (string, error) {
	if maxAge <= 0 {
		maxAge = DefaultCacheMaxAge
	}
	var reportID, completedAtStr string
	err := s.db.QueryRow(
		"SELECT report_id, completed_at FROM query_cache WHERE query_hash = ?",
		queryHash).Scan(&reportID, &completedAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read query cache: %w", err)
	}
	completedAt, err := time.Parse(time.RFC3339Nano, completedAtStr)
	if err != nil {
		return "", nil // unreadable timestamp counts as a miss
	}
	if s.clock().UTC().Sub(completedAt) > maxAge {
		return "", nil
	}
	return reportID, nil
}

// CacheMetadata returns the full cache entry, or (nil, nil) on a miss.
func (s *Store) CacheMetadata(queryHash string) (*CacheEntry, error) {
	var entry CacheEntry
	var completedAtStr, sourcesJSON string
	err := s.db.QueryRow(`
		SELECT report_id, completed_at, evidence_count, sources_json
		FROM query_cache WHERE query_hash = ?`, queryHash).
		Scan(&entry.ReportID, &completedAtStr, &entry.EvidenceCount, &sourcesJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read query cache: %w", err)
	}
	entry.QueryHash = queryHash
	entry.CompletedAt, err = time.Parse(time.RFC3339Nano, completedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parse cache timestamp: %w", err)
	}
	if err := json.Unmarshal([]byte(sourcesJSON), &entry.Sources); err != nil {
		return nil, fmt.Errorf("decode cache sources: %w", err)
	}
	return &entry, nil
}

// InvalidateCache drops a single cache entry.
func (s *Store) InvalidateCache(queryHash string) error {
	if _, err := s.db.Exec("DELETE FROM query_cache WHERE query_hash = ?", queryHash); err != nil {
		return fmt.Errorf("invalidate query cache: %w", err)
	}
	return nil
}

// CleanupStaleCache removes entries older than maxAge and returns the
// number removed.
func (s *Store) CleanupStaleCache(maxAge time.Duration) (int64, error) {
	cutoff := s.clock().UTC().Add(-maxAge).Format(time.RFC3339Nano)
	res, err := s.db.Exec("DELETE FROM query_cache WHERE completed_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup query cache: %w", err)
	}
	return res.RowsAffected()
}

// CacheStats summarizes the cache for dashboards.
func (s *Store) CacheStats() (map[string]any, error) {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM query_cache").Scan(&count); err != nil {
		return nil, fmt.Errorf("count query cache: %w", err)
	}
	var oldest, newest sql.NullString
	if err := s.db.QueryRow("SELECT MIN(completed_at), MAX(completed_at) FROM query_cache").Scan(&oldest, &newest); err != nil {
		return nil, fmt.Errorf("query cache bounds: %w", err)
	}
	return map[string]any{
		"entry_count":  count,
		"oldest_entry": oldest.String,
		"newest_entry": newest.String,
	}, nil
}
