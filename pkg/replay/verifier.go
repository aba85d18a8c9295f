// Package replay verifies run determinism. It never re-executes
// anything: it compares two RunSnapshots — the original run and a
// replay over the same inputs — and reports the first divergence.
package replay

import (
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/canonicalize"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/contracts"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/ledger"
)

// Dimensions a determinism check can fail on.
const (
	DimensionReport    = "final_report"
	DimensionTelemetry = "telemetry"
	DimensionLedger    = "ledger_hashes"
	DimensionEvidence  = "evidence_ids"
)

// DeterminismViolationError reports the first dimension on which the
// replay diverged from the original run.
type DeterminismViolationError struct {
	Dimension string
	Detail    string
}

func (e *DeterminismViolationError) Error() string {
	return fmt.Sprintf("# Determinism Violation\n%s mismatch: %s", e.Dimension, e.Detail)
}

// iso8601 matches RFC 3339 / ISO-8601 timestamps embedded in report
// text. Timestamps are the one sanctioned nondeterminism in a report.
var iso8601 = regexp.MustCompile(
	`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:\d{2})?`)

// timestampKeys are telemetry keys excluded from comparison.
var timestampKeys = map[string]bool{
	"timestamp":  true,
	"created_at": true,
	"updated_at": true,
}

// NormalizeReport replaces embedded timestamps with a fixed marker so
// two otherwise identical reports compare equal.
func NormalizeReport(report string) string {
	return iso8601.ReplaceAllString(report, "[TIMESTAMP]")
}

// Snapshot builds a RunSnapshot from a run's observable outputs.
// Evidence IDs are sorted so snapshot order never depends on map
// iteration.
func Snapshot(runID, finalReport string, telemetry map[string]any, l ledger.Ledger, evidenceIDs []string, now time.Time) (*contracts.RunSnapshot, error) {
	hashes, err := l.Hashes(runID)
	if err != nil {
		return nil, fmt.Errorf("snapshot ledger hashes: %w", err)
	}
	ids := append([]string(nil), evidenceIDs...)
	sort.Strings(ids)
	if telemetry == nil {
		telemetry = map[string]any{}
	}
	return &contracts.RunSnapshot{
		RunID:           runID,
		FinalReport:     finalReport,
		FinalReportHash: "sha256:" + canonicalize.HashBytes([]byte(finalReport)),
		Telemetry:       telemetry,
		LedgerHashes:    hashes,
		EvidenceIDs:     ids,
		SnapshotTime:    now.UTC(),
	}, nil
}

// Verify compares an original snapshot against a replay snapshot and
// returns a *DeterminismViolationError on the first divergence.
func Verify(original, replay *contracts.RunSnapshot) error {
	if err := compareReports(original.FinalReport, replay.FinalReport); err != nil {
		return err
	}
	if err := compareTelemetry(original.Telemetry, replay.Telemetry); err != nil {
		return err
	}
	if err := compareLedgerHashes(original.LedgerHashes, replay.LedgerHashes); err != nil {
		return err
	}
	return compareEvidenceIDs(original.EvidenceIDs, replay.EvidenceIDs)
}

func compareReports(original, replay string) error {
	normOrig := NormalizeReport(original)
	normReplay := NormalizeReport(replay)
	if normOrig == normReplay {
		return nil
	}

	limit := len(normOrig)
	if len(normReplay) < limit {
		limit = len(normReplay)
	}
	for i := 0; i < limit; i++ {
		if normOrig[i] != normReplay[i] {
			start := i - 20
			if start < 0 {
				start = 0
			}
			end := i + 20
			if end > len(normOrig) {
				end = len(normOrig)
			}
			return &DeterminismViolationError{
				Dimension: DimensionReport,
				Detail:    fmt.Sprintf("divergence at offset %d: %q", i, normOrig[start:end]),
			}
		}
	}
	return &DeterminismViolationError{
		Dimension: DimensionReport,
		Detail:    fmt.Sprintf("length mismatch: %d vs %d", len(normOrig), len(normReplay)),
	}
}

func compareTelemetry(original, replay map[string]any) error {
	for key := range original {
		if timestampKeys[key] {
			continue
		}
		replayVal, ok := replay[key]
		if !ok {
			return &DeterminismViolationError{
				Dimension: DimensionTelemetry,
				Detail:    fmt.Sprintf("key %q missing from replay", key),
			}
		}
		origHash, err := canonicalize.CanonicalHash(map[string]any{"v": original[key]})
		if err != nil {
			return fmt.Errorf("hash telemetry %q: %w", key, err)
		}
		replayHash, err := canonicalize.CanonicalHash(map[string]any{"v": replayVal})
		if err != nil {
			return fmt.Errorf("hash telemetry %q: %w", key, err)
		}
		if origHash != replayHash {
			return &DeterminismViolationError{
				Dimension: DimensionTelemetry,
				Detail:    fmt.Sprintf("value mismatch for %q: %v vs %v", key, original[key], replayVal),
			}
		}
	}
	for key := range replay {
		if timestampKeys[key] {
			continue
		}
		if _, ok := original[key]; !ok {
			return &DeterminismViolationError{
				Dimension: DimensionTelemetry,
				Detail:    fmt.Sprintf("extra key %q in replay", key),
			}
		}
	}
	return nil
}

func compareLedgerHashes(original, replay []string) error {
	if len(original) != len(replay) {
		return &DeterminismViolationError{
			Dimension: DimensionLedger,
			Detail:    fmt.Sprintf("entry count mismatch: %d vs %d", len(original), len(replay)),
		}
	}
	for i := range original {
		if original[i] != replay[i] {
			return &DeterminismViolationError{
				Dimension: DimensionLedger,
				Detail:    fmt.Sprintf("hash mismatch at index %d: %s vs %s", i, original[i], replay[i]),
			}
		}
	}
	return nil
}

func compareEvidenceIDs(original, replay []string) error {
	if len(original) != len(replay) {
		return &DeterminismViolationError{
			Dimension: DimensionEvidence,
			Detail:    fmt.Sprintf("evidence count mismatch: %d vs %d", len(original), len(replay)),
		}
	}
	for i := range original {
		if original[i] != replay[i] {
			return &DeterminismViolationError{
				Dimension: DimensionEvidence,
				Detail:    fmt.Sprintf("evidence ID mismatch at index %d: %s vs %s", i, original[i], replay[i]),
			}
		}
	}
	return nil
}
