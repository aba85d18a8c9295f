// Package ledger implements the append-only run ledger.
//
// Every irreversible decision is appended here before it takes effect:
//   - Entries are immutable once written; no updates, no deletes
//   - Sequence numbers are per-run, contiguous from 0
//   - Each entry is hash-chained to its predecessor within the run
//
// A failed append is fatal to the run: no side effect may proceed past
// a failed ledger write.
package ledger

import (
	"fmt"
	"time"

	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/canonicalize"
)

// Event is the closed set of ledger event types.
type Event string

// Ledger event types. Unknown events are rejected before any write.
const (
	EventRunStarted         Event = "RUN_STARTED"
	EventRunCompleted       Event = "RUN_COMPLETED"
	EventTurnStarted        Event = "TURN_STARTED"
	EventActionApproved     Event = "ACTION_APPROVED"
	EventActionRejected     Event = "ACTION_REJECTED"
	EventToolInvoked        Event = "TOOL_INVOKED"
	EventRetryDecision      Event = "RETRY_DECISION"
	EventEvidenceStored     Event = "EVIDENCE_STORED"
	EventIdentityWrite      Event = "IDENTITY_WRITE"
	EventGroundhogReuse     Event = "GROUNDHOG_REUSE_DECISION"
	EventKillSwitch         Event = "KILL_SWITCH"
	EventReportFinalized    Event = "REPORT_FINALIZED"
	EventAbort              Event = "ABORT"
	EventOperatorOverride   Event = "OPERATOR_OVERRIDE"
	EventRedLineViolation   Event = "RED_LINE_VIOLATION"
	EventProactiveAction    Event = "PROACTIVE_ACTION"
	EventLearningStateRead  Event = "LEARNING_STATE_READ"
	EventWeightUpdate       Event = "WEIGHT_UPDATE"
	EventLearningSkipped    Event = "LEARNING_SKIPPED_DISABLED"
	EventDecayApplied       Event = "DECAY_APPLIED"
	EventCounterfactualDone Event = "COUNTERFACTUAL_COMPLETE"
	EventPolicyMemoryWrite  Event = "POLICY_MEMORY_WRITTEN"
	EventPolicyMemoryReset  Event = "POLICY_MEMORY_RESET"
	EventResetInstability   Event = "RESET_INSTABILITY_WARNING"
	EventDriftAlert         Event = "DRIFT_ALERT"
)

var validEvents = map[Event]bool{
	EventRunStarted:         true,
	EventRunCompleted:       true,
	EventTurnStarted:        true,
	EventActionApproved:     true,
	EventActionRejected:     true,
	EventToolInvoked:        true,
	EventRetryDecision:      true,
	EventEvidenceStored:     true,
	EventIdentityWrite:      true,
	EventGroundhogReuse:     true,
	EventKillSwitch:         true,
	EventReportFinalized:    true,
	EventAbort:              true,
	EventOperatorOverride:   true,
	EventRedLineViolation:   true,
	EventProactiveAction:    true,
	EventLearningStateRead:  true,
	EventWeightUpdate:       true,
	EventLearningSkipped:    true,
	EventDecayApplied:       true,
	EventCounterfactualDone: true,
	EventPolicyMemoryWrite:  true,
	EventPolicyMemoryReset:  true,
	EventResetInstability:   true,
	EventDriftAlert:         true,
}

// ValidEvent reports whether e is a known event type.
func ValidEvent(e Event) bool { return validEvents[e] }

// Entry is an immutable, hash-chained ledger record.
type Entry struct {
	RunID       string         `json:"run_id"`
	Sequence    uint64         `json:"sequence"`
	Event       Event          `json:"event"`
	Actor       string         `json:"actor"`
	Payload     map[string]any `json:"payload"`
	ContentHash string         `json:"content_hash"`
	PrevHash    string         `json:"prev_hash"`
	EntryHash   string         `json:"entry_hash"`
	Timestamp   time.Time      `json:"timestamp"`
}

// GenesisHash is the chain predecessor of sequence 0.
const GenesisHash = "genesis"

// Ledger is the append-only audit log shared by concurrent runs.
// Sequence numbers are scoped per run, so appends from different runs
// interleave without coordination beyond entry-level atomicity.
type Ledger interface {
	// Append records an event for a run. It returns the created entry,
	// or a *WriteError that the caller must treat as fatal to the run.
	Append(runID string, event Event, actor string, payload map[string]any) (*Entry, error)

	// Entries returns owned copies of all entries for a run, in
	// sequence order.
	Entries(runID string) ([]Entry, error)

	// VerifyIntegrity checks that the run's sequence numbers are
	// contiguous from 0 and the hash chain is unbroken. It returns a
	// *TamperingError on any violation.
	VerifyIntegrity(runID string) error

	// Hashes returns the ordered entry-hash sequence for a run, for
	// replay comparison.
	Hashes(runID string) ([]string, error)
}

// WriteError reports a failed ledger append. It is fatal to the run.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string { return fmt.Sprintf("ledger write failure: %v", e.Err) }
func (e *WriteError) Unwrap() error { return e.Err }

// TamperingError reports a broken sequence or hash chain.
type TamperingError struct {
	RunID  string
	Reason string
}

func (e *TamperingError) Error() string {
	return fmt.Sprintf("ledger tampering detected in run %s: %s", e.RunID, e.Reason)
}

// buildEntry constructs a fully hashed entry. The entry hash covers the
// run, sequence, event, actor, payload hash, and predecessor hash, so
// renumbering or reordering breaks the chain.
func buildEntry(runID string, seq uint64, event Event, actor string, payload map[string]any, prevHash string, now time.Time) (*Entry, error) {
	if !ValidEvent(event) {
		return nil, fmt.Errorf("invalid ledger event type: %q", event)
	}
	if payload == nil {
		payload = map[string]any{}
	}

	contentHash, err := canonicalize.ContentHash(payload)
	if err != nil {
		return nil, &WriteError{Err: fmt.Errorf("hash payload: %w", err)}
	}

	hashInput := struct {
		RunID       string `json:"run_id"`
		Sequence    uint64 `json:"sequence"`
		Event       Event  `json:"event"`
		Actor       string `json:"actor"`
		ContentHash string `json:"content_hash"`
		PrevHash    string `json:"prev_hash"`
	}{runID, seq, event, actor, contentHash, prevHash}

	entryHash, err := canonicalize.ContentHash(hashInput)
	if err != nil {
		return nil, &WriteError{Err: fmt.Errorf("hash entry: %w", err)}
	}

	return &Entry{
		RunID:       runID,
		Sequence:    seq,
		Event:       event,
		Actor:       actor,
		Payload:     payload,
		ContentHash: contentHash,
		PrevHash:    prevHash,
		EntryHash:   entryHash,
		Timestamp:   now,
	}, nil
}

// verifyEntries checks sequence contiguity and chain integrity for one
// run's entries, assumed sorted by sequence.
func verifyEntries(runID string, entries []Entry) error {
	prevHash := GenesisHash
	for i, e := range entries {
		if e.Sequence != uint64(i) {
			return &TamperingError{RunID: runID, Reason: fmt.Sprintf("sequence gap: expected %d, got %d", i, e.Sequence)}
		}
		if e.PrevHash != prevHash {
			return &TamperingError{RunID: runID, Reason: fmt.Sprintf("chain broken at sequence %d", e.Sequence)}
		}

		hashInput := struct {
			RunID       string `json:"run_id"`
			Sequence    uint64 `json:"sequence"`
			Event       Event  `json:"event"`
			Actor       string `json:"actor"`
			ContentHash string `json:"content_hash"`
			PrevHash    string `json:"prev_hash"`
		}{e.RunID, e.Sequence, e.Event, e.Actor, e.ContentHash, e.PrevHash}

		computed, err := canonicalize.ContentHash(hashInput)
		if err != nil {
			return &TamperingError{RunID: runID, Reason: fmt.Sprintf("rehash failed at sequence %d: %v", e.Sequence, err)}
		}
		if computed != e.EntryHash {
			return &TamperingError{RunID: runID, Reason: fmt.Sprintf("hash mismatch at sequence %d", e.Sequence)}
		}
		prevHash = e.EntryHash
	}
	return nil
}

func copyEntries(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = e
		out[i].Payload = copyPayload(e.Payload)
	}
	return out
}

func copyPayload(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
