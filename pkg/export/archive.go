// Package export builds read-only compliance archives for auditors:
// the full run ledger, evidence IDs, provenance footer, kill-switch
// state, and telemetry, serialized as canonical JSON so the archive
// hash is reproducible. No model access, deterministic ordering.
package export

import (
	"fmt"
	"sort"
	"time"

	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/canonicalize"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/killswitch"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/ledger"
)

// GroundingContractVersion identifies the grounding rules the archived
// run was held to.
const GroundingContractVersion = "1.0.0"

// ExportVersion is the archive format version.
const ExportVersion = "1.0"

// Metadata identifies an archive.
type Metadata struct {
	RunID                    string    `json:"run_id"`
	GroundingContractVersion string    `json:"grounding_contract_version"`
	ExportTimestamp          time.Time `json:"export_timestamp"`
	ExportVersion            string    `json:"export_version"`
}

// Archive is the complete compliance export for one run.
type Archive struct {
	Metadata         Metadata        `json:"metadata"`
	RunLedger        []ledger.Entry  `json:"run_ledger"`
	EvidenceIDs      []string        `json:"evidence_ids"`
	ProvenanceFooter string          `json:"provenance_footer"`
	KillSwitchState  map[string]bool `json:"kill_switch_state"`
	Telemetry        map[string]any  `json:"telemetry"`
}

// Builder assembles archives for a run. Read-only over its inputs.
type Builder struct {
	runID string
	clock func() time.Time
}

// NewBuilder creates an archive builder for a run.
func NewBuilder(runID string) *Builder {
	return &Builder{runID: runID, clock: time.Now}
}

// WithClock overrides the time source for tests.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

// Build assembles the archive. Ledger entries are ordered by sequence,
// evidence IDs sorted, so identical inputs yield identical archives up
// to the export timestamp.
func (b *Builder) Build(l ledger.Ledger, evidenceIDs []string, provenanceFooter string, switches killswitch.RunSwitches, telemetry map[string]any) (*Archive, error) {
	entries, err := l.Entries(b.runID)
	if err != nil {
		return nil, fmt.Errorf("export ledger entries: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Sequence < entries[j].Sequence })

	ids := append([]string(nil), evidenceIDs...)
	sort.Strings(ids)

	states := make(map[string]bool)
	for name, disabled := range switches.States() {
		states[string(name)] = disabled
	}

	if telemetry == nil {
		telemetry = map[string]any{}
	}

	return &Archive{
		Metadata: Metadata{
			RunID:                    b.runID,
			GroundingContractVersion: GroundingContractVersion,
			ExportTimestamp:          b.clock().UTC(),
			ExportVersion:            ExportVersion,
		},
		RunLedger:        entries,
		EvidenceIDs:      ids,
		ProvenanceFooter: provenanceFooter,
		KillSwitchState:  states,
		Telemetry:        telemetry,
	}, nil
}

// Encode serializes the archive as canonical JSON and returns the bytes
// with their "sha256:"-prefixed hash.
func Encode(a *Archive) ([]byte, string, error) {
	data, err := canonicalize.JCS(a)
	if err != nil {
		return nil, "", fmt.Errorf("encode archive: %w", err)
	}
	return data, "sha256:" + canonicalize.HashBytes(data), nil
}

// VerifyMatchesRun checks an archive against the run's actual outputs.
func VerifyMatchesRun(a *Archive, actualEvidenceIDs []string, actualLedgerCount int) bool {
	if len(a.RunLedger) != actualLedgerCount {
		return false
	}
	if len(a.EvidenceIDs) != len(actualEvidenceIDs) {
		return false
	}
	want := make(map[string]bool, len(actualEvidenceIDs))
	for _, id := range actualEvidenceIDs {
		want[id] = true
	}
	for _, id := range a.EvidenceIDs {
		if !want[id] {
			return false
		}
	}
	return true
}
