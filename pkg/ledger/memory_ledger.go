package ledger

import (
	"sync"
	"time"
)

// MemoryLedger is an in-process Ledger for tests and ephemeral runs.
// Same sequencing and chaining discipline as FileLedger, no durability.
type MemoryLedger struct {
	mu    sync.RWMutex
	runs  map[string][]Entry
	clock func() time.Time
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		runs:  make(map[string][]Entry),
		clock: time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (l *MemoryLedger) WithClock(clock func() time.Time) *MemoryLedger {
	l.clock = clock
	return l
}

// Append implements Ledger.
func (l *MemoryLedger) Append(runID string, event Event, actor string, payload map[string]any) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing := l.runs[runID]
	seq := uint64(len(existing))
	prevHash := GenesisHash
	if seq > 0 {
		prevHash = existing[seq-1].EntryHash
	}

	entry, err := buildEntry(runID, seq, event, actor, payload, prevHash, l.clock().UTC())
	if err != nil {
		return nil, err
	}
	l.runs[runID] = append(existing, *entry)
	return entry, nil
}

// Entries implements Ledger.
func (l *MemoryLedger) Entries(runID string) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return copyEntries(l.runs[runID]), nil
}

// VerifyIntegrity implements Ledger.
func (l *MemoryLedger) VerifyIntegrity(runID string) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return verifyEntries(runID, l.runs[runID])
}

// Hashes implements Ledger.
func (l *MemoryLedger) Hashes(runID string) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	hashes := make([]string, len(l.runs[runID]))
	for i, e := range l.runs[runID] {
		hashes[i] = e.EntryHash
	}
	return hashes, nil
}

// Tamper removes the entry at the given sequence for a run. Test helper
// for exercising integrity verification; a real ledger has no deletes.
func (l *MemoryLedger) Tamper(runID string, sequence uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := l.runs[runID]
	out := entries[:0]
	for _, e := range entries {
		if e.Sequence != sequence {
			out = append(out, e)
		}
	}
	l.runs[runID] = out
}
