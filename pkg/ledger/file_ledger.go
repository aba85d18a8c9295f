package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileLedger is a line-delimited JSON ledger on local disk. Each entry
// is serialized to a single line and written with one Write call, so
// appends from concurrent runs never interleave inside a record.
type FileLedger struct {
	mu    sync.RWMutex
	path  string
	file  *os.File
	runs  map[string][]Entry // per-run entries, sorted by sequence
	clock func() time.Time
}

// NewFileLedger opens (or creates) a JSONL ledger at path and loads
// existing entries so per-run sequencing continues where it left off.
func NewFileLedger(path string) (*FileLedger, error) {
	return NewFileLedgerWithClock(path, time.Now)
}

// NewFileLedgerWithClock is NewFileLedger with an injectable clock.
func NewFileLedgerWithClock(path string, clock func() time.Time) (*FileLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}

	fl := &FileLedger{
		path:  path,
		runs:  make(map[string][]Entry),
		clock: clock,
	}
	if err := fl.load(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	fl.file = f
	return fl, nil
}

func (l *FileLedger) load() error {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open ledger for load: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return fmt.Errorf("decode ledger entry: %w", err)
		}
		l.runs[e.RunID] = append(l.runs[e.RunID], e)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan ledger: %w", err)
	}

	for runID := range l.runs {
		sort.Slice(l.runs[runID], func(i, j int) bool {
			return l.runs[runID][i].Sequence < l.runs[runID][j].Sequence
		})
	}
	return nil
}

// Close releases the underlying file handle.
func (l *FileLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Append implements Ledger.
func (l *FileLedger) Append(runID string, event Event, actor string, payload map[string]any) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil, &WriteError{Err: fmt.Errorf("ledger is closed")}
	}

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

	line, err := json.Marshal(entry)
	if err != nil {
		return nil, &WriteError{Err: fmt.Errorf("marshal entry: %w", err)}
	}
	line = append(line, '\n')

	// Single write call: the entry is either fully on disk or not at all.
	if _, err := l.file.Write(line); err != nil {
		return nil, &WriteError{Err: err}
	}

	l.runs[runID] = append(existing, *entry)
	return entry, nil
}

// Entries implements Ledger.
func (l *FileLedger) Entries(runID string) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return copyEntries(l.runs[runID]), nil
}

// VerifyIntegrity implements Ledger.
func (l *FileLedger) VerifyIntegrity(runID string) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return verifyEntries(runID, l.runs[runID])
}

// VerifyAll verifies every run present in the ledger file.
func (l *FileLedger) VerifyAll() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	runIDs := make([]string, 0, len(l.runs))
	for runID := range l.runs {
		runIDs = append(runIDs, runID)
	}
	sort.Strings(runIDs)
	for _, runID := range runIDs {
		if err := verifyEntries(runID, l.runs[runID]); err != nil {
			return err
		}
	}
	return nil
}

// Hashes implements Ledger.
func (l *FileLedger) Hashes(runID string) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	hashes := make([]string, len(l.runs[runID]))
	for i, e := range l.runs[runID] {
		hashes[i] = e.EntryHash
	}
	return hashes, nil
}

// RunIDs returns all run identifiers present in the ledger.
func (l *FileLedger) RunIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.runs))
	for id := range l.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
