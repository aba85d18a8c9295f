package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/contracts"
)

func fixedClock() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestMemoryLedgerSequencesFromZero(t *testing.T) {
	l := NewMemoryLedger().WithClock(fixedClock)

	for i := 0; i < 5; i++ {
		e, err := l.Append("run-1", EventProactiveAction, "system", map[string]any{"i": i})
		require.NoError(t, err)
		assert.Equal(t, uint64(i), e.Sequence)
	}

	require.NoError(t, l.VerifyIntegrity("run-1"))
}

func TestLedgerRejectsUnknownEvent(t *testing.T) {
	l := NewMemoryLedger()
	_, err := l.Append("run-1", Event("MADE_UP"), "system", nil)
	require.Error(t, err)
}

func TestLedgerSequencesArePerRun(t *testing.T) {
	l := NewMemoryLedger().WithClock(fixedClock)

	a, err := l.Append("run-a", EventAbort, "system", nil)
	require.NoError(t, err)
	b, err := l.Append("run-b", EventAbort, "system", nil)
	require.NoError(t, err)

	assert.Equal(t, uint64(0), a.Sequence)
	assert.Equal(t, uint64(0), b.Sequence)
}

func TestLedgerDetectsRemovedEntry(t *testing.T) {
	l := NewMemoryLedger().WithClock(fixedClock)
	for i := 0; i < 4; i++ {
		_, err := l.Append("run-1", EventProactiveAction, "system", map[string]any{"i": i})
		require.NoError(t, err)
	}

	l.Tamper("run-1", 2)

	err := l.VerifyIntegrity("run-1")
	require.Error(t, err)
	var tampering *TamperingError
	require.ErrorAs(t, err, &tampering)
	assert.Equal(t, "run-1", tampering.RunID)
}

func TestLedgerHashChainLinksEntries(t *testing.T) {
	l := NewMemoryLedger().WithClock(fixedClock)
	e0, err := l.Append("run-1", EventKillSwitch, "system", map[string]any{"switch": "LEARNING"})
	require.NoError(t, err)
	e1, err := l.Append("run-1", EventAbort, "system", nil)
	require.NoError(t, err)

	assert.Equal(t, GenesisHash, e0.PrevHash)
	assert.Equal(t, e0.EntryHash, e1.PrevHash)
}

func TestEntriesReturnsOwnedCopies(t *testing.T) {
	l := NewMemoryLedger().WithClock(fixedClock)
	_, err := l.Append("run-1", EventAbort, "system", map[string]any{"k": "v"})
	require.NoError(t, err)

	entries, err := l.Entries("run-1")
	require.NoError(t, err)
	entries[0].Payload["k"] = "mutated"

	again, err := l.Entries("run-1")
	require.NoError(t, err)
	assert.Equal(t, "v", again[0].Payload["k"])
}

func TestFileLedgerPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run_ledger.jsonl")

	l, err := NewFileLedgerWithClock(path, fixedClock)
	require.NoError(t, err)
	_, err = l.Append("run-1", EventReportFinalized, "agent:reporter", map[string]any{"report_id": "ev_abc"})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	reopened, err := NewFileLedgerWithClock(path, fixedClock)
	require.NoError(t, err)
	defer reopened.Close()

	entries, err := reopened.Entries("run-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, EventReportFinalized, entries[0].Event)

	// Sequencing continues from the persisted tail.
	e, err := reopened.Append("run-1", EventAbort, "system", nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), e.Sequence)
	require.NoError(t, reopened.VerifyAll())
}

func TestFileLedgerClosedAppendIsWriteError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run_ledger.jsonl")
	l, err := NewFileLedger(path)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	_, err = l.Append("run-1", EventAbort, "system", nil)
	var writeErr *WriteError
	require.ErrorAs(t, err, &writeErr)
}

// Property: any number of appends yields sequences 0..N-1 with no gaps,
// and the resulting chain always verifies.
func TestLedgerSequenceProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("appends are contiguous from zero", prop.ForAll(
		func(n int) bool {
			l := NewMemoryLedger().WithClock(fixedClock)
			for i := 0; i < n; i++ {
				e, err := l.Append("run-p", EventProactiveAction, "system", map[string]any{"i": i})
				if err != nil || e.Sequence != uint64(i) {
					return false
				}
			}
			return l.VerifyIntegrity("run-p") == nil
		},
		gen.IntRange(0, 64),
	))

	properties.TestingRun(t)
}

func TestRedLineTriggerLogsBeforeRaising(t *testing.T) {
	l := NewMemoryLedger().WithClock(fixedClock)
	enforcer := NewEnforcer(l, "run-1")

	err := enforcer.CheckIdentityWrite(contracts.RolePlanner)
	require.Error(t, err)
	var violation *ViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, RedLineIdentityWrite, violation.RedLine)

	entries, lerr := l.Entries("run-1")
	require.NoError(t, lerr)
	require.Len(t, entries, 1)
	assert.Equal(t, EventRedLineViolation, entries[0].Event)
	assert.Equal(t, "agent:planner", entries[0].Actor)
}

func TestRedLineReporterMayWriteIdentity(t *testing.T) {
	l := NewMemoryLedger().WithClock(fixedClock)
	enforcer := NewEnforcer(l, "run-1")

	require.NoError(t, enforcer.CheckIdentityWrite(contracts.RoleReporter))

	entries, err := l.Entries("run-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRedLineUnvalidatedReuse(t *testing.T) {
	l := NewMemoryLedger().WithClock(fixedClock)
	enforcer := NewEnforcer(l, "run-1")

	require.NoError(t, enforcer.CheckEvidenceReuse(contracts.RoleExecutor, true))

	err := enforcer.CheckEvidenceReuse(contracts.RoleExecutor, false)
	var violation *ViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, RedLineUnvalidatedReuse, violation.RedLine)
}
