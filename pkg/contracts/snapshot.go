package contracts

import "time"

// RunSnapshot captures the externally observable output of one run for
// replay comparison: the final report, telemetry counters, and the
// ordered ledger hash sequence. The determinism verifier compares two of
// these; it never re-executes anything.
type RunSnapshot struct {
	RunID           string         `json:"run_id"`
	FinalReport     string         `json:"final_report"`
	FinalReportHash string         `json:"final_report_hash"`
	Telemetry       map[string]any `json:"telemetry"`
	LedgerHashes    []string       `json:"ledger_hashes"`
	EvidenceIDs     []string       `json:"evidence_ids"`
	SnapshotTime    time.Time      `json:"snapshot_time"`
}

// RunFacts are the inputs to the configurable success predicate that
// gates identity writes at the reporter stage.
type RunFacts struct {
	HasEvidence    bool `json:"has_evidence"`
	EvidenceCount  int  `json:"evidence_count"`
	FallbackReport bool `json:"fallback_report"`
	RetriesUsed    int  `json:"retries_used"`
}
