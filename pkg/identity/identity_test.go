package identity

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/contracts"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/ledger"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/manifest"
)

func fixedClock() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func newStore(t *testing.T) *FactsStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "identity.json")
	return NewFactsStore(path).WithClock(fixedClock)
}

func TestFactsStoreUpdateAndLoad(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.Update("name", "Ada", SourceExplicitUser))
	require.NoError(t, s.Update("timezone", "UTC", SourceSnapshot))

	facts, err := s.Load()
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, "Ada", facts["name"].Value)
	assert.Equal(t, SourceSnapshot, facts["timezone"].SourceType)
	assert.Equal(t, fixedClock(), facts["timezone"].UpdatedAt)
}

func TestFactsStoreWriteBarrier(t *testing.T) {
	s := newStore(t)

	err := s.Update("name", "Mallory", "tool_output")
	var barrier *WriteBarrierError
	require.ErrorAs(t, err, &barrier)
	assert.Equal(t, "tool_output", barrier.SourceType)

	facts, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, facts, "rejected write must leave no fact behind")
}

func TestFactsStoreFactCountLimit(t *testing.T) {
	s := newStore(t)

	for i := 0; i < MaxFactCount; i++ {
		require.NoError(t, s.Update(strings.Repeat("k", i+1), "v", SourceAdmin))
	}
	err := s.Update("one-too-many", "v", SourceAdmin)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fact limit")

	// Overwriting an existing key is not a new fact and stays allowed.
	require.NoError(t, s.Update("k", "updated", SourceAdmin))
}

func TestSerializeForPromptTruncation(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Update("bio", strings.Repeat("x", 480), SourceExplicitUser))
	require.NoError(t, s.Update("city", "Reykjavik", SourceExplicitUser))

	facts, err := s.Load()
	require.NoError(t, err)

	out := SerializeForPrompt(facts)
	assert.LessOrEqual(t, len(out), MaxContextChars)
	assert.Contains(t, out, "bio: ")
	assert.NotContains(t, out, "city", "line past the character bound is dropped")
}

func TestSerializeForPromptSortedKeys(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Update("zeta", "1", SourceAdmin))
	require.NoError(t, s.Update("alpha", "2", SourceAdmin))

	facts, err := s.Load()
	require.NoError(t, err)

	out := SerializeForPrompt(facts)
	assert.Less(t, strings.Index(out, "alpha"), strings.Index(out, "zeta"))
}

func TestGateDefaultPredicate(t *testing.T) {
	g, err := NewGate(manifest.Default(), "")
	require.NoError(t, err)
	assert.Equal(t, DefaultSuccessExpr, g.Expr())

	ok, err := g.EvaluateSuccess(contracts.RunFacts{HasEvidence: true})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.EvaluateSuccess(contracts.RunFacts{HasEvidence: true, FallbackReport: true})
	require.NoError(t, err)
	assert.False(t, ok, "fallback report fails the default predicate")

	ok, err = g.EvaluateSuccess(contracts.RunFacts{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGateCustomPredicate(t *testing.T) {
	g, err := NewGate(manifest.Default(), "evidence_count >= 3 && retries_used < 2")
	require.NoError(t, err)

	ok, err := g.EvaluateSuccess(contracts.RunFacts{EvidenceCount: 3, RetriesUsed: 1})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.EvaluateSuccess(contracts.RunFacts{EvidenceCount: 3, RetriesUsed: 2})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGateRejectsBadPredicate(t *testing.T) {
	_, err := NewGate(manifest.Default(), "has_evidence &&")
	require.Error(t, err)

	_, err = NewGate(manifest.Default(), "unknown_variable")
	require.Error(t, err)
}

func TestGateAuthorizeReporter(t *testing.T) {
	g, err := NewGate(manifest.Default(), "")
	require.NoError(t, err)
	l := ledger.NewMemoryLedger()
	enforcer := ledger.NewEnforcer(l, "run-1")

	err = g.Authorize(enforcer, contracts.RoleReporter, contracts.RunFacts{HasEvidence: true})
	require.NoError(t, err)

	entries, err := l.Entries("run-1")
	require.NoError(t, err)
	assert.Empty(t, entries, "an allowed write is not a red-line event")
}

func TestGateAuthorizeNonReporterIsRedLine(t *testing.T) {
	g, err := NewGate(manifest.Default(), "")
	require.NoError(t, err)
	l := ledger.NewMemoryLedger()
	enforcer := ledger.NewEnforcer(l, "run-1")

	err = g.Authorize(enforcer, contracts.RoleExecutor, contracts.RunFacts{HasEvidence: true})
	var violation *ledger.ViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, ledger.RedLineIdentityWrite, violation.RedLine)

	entries, err := l.Entries("run-1")
	require.NoError(t, err)
	require.Len(t, entries, 1, "violation must be ledger-logged before the error returns")
	assert.Equal(t, ledger.EventRedLineViolation, entries[0].Event)
}

func TestGateAuthorizeFailedRunDenied(t *testing.T) {
	g, err := NewGate(manifest.Default(), "")
	require.NoError(t, err)
	l := ledger.NewMemoryLedger()
	enforcer := ledger.NewEnforcer(l, "run-1")

	err = g.Authorize(enforcer, contracts.RoleReporter, contracts.RunFacts{FallbackReport: true})
	require.Error(t, err)
	var violation *ledger.ViolationError
	assert.False(t, errors.As(err, &violation), "a predicate denial is not a red-line violation")

	entries, err := l.Entries("run-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
