// Package identity holds the authoritative identity facts store and
// the gate every identity write must pass.
//
// The store is the only source of truth for identity facts; model
// outputs and conversation summaries are never authoritative. Writes
// cross three checks: a source-type write barrier, the capability
// manifest (one role, the reporter, may write), and a configurable
// success predicate evaluated over the run's facts.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Allowed source types for the write barrier.
const (
	SourceExplicitUser = "explicit_user"
	SourceSnapshot     = "snapshot"
	SourceAdmin        = "admin"
)

// Bounds preventing identity creep.
const (
	MaxFactCount    = 10
	MaxContextChars = 500
)

// Fact is one identity fact with its provenance.
type Fact struct {
	Key        string    `json:"key"`
	Value      string    `json:"value"`
	SourceType string    `json:"source_type"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// WriteBarrierError reports a write from a disallowed source.
type WriteBarrierError struct {
	SourceType string
}

func (e *WriteBarrierError) Error() string {
	return fmt.Sprintf("identity write barrier: source type %q is not authoritative", e.SourceType)
}

// FactsStore persists identity facts as a JSON file. Reads hand out
// owned copies.
type FactsStore struct {
	mu    sync.Mutex
	path  string
	clock func() time.Time
}

// NewFactsStore creates a store backed by path.
func NewFactsStore(path string) *FactsStore {
	return &FactsStore{path: path, clock: time.Now}
}

// WithClock overrides the time source for tests.
func (s *FactsStore) WithClock(clock func() time.Time) *FactsStore {
	s.clock = clock
	return s
}

// Load returns all current facts keyed by fact key.
func (s *FactsStore) Load() (map[string]Fact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *FactsStore) load() (map[string]Fact, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]Fact{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read identity facts: %w", err)
	}
	var facts map[string]Fact
	if err := json.Unmarshal(raw, &facts); err != nil {
		return nil, fmt.Errorf("parse identity facts: %w", err)
	}
	return facts, nil
}

// Update writes one fact through the write barrier.
func (s *FactsStore) Update(key, value, sourceType string) error {
	switch sourceType {
	case SourceExplicitUser, SourceSnapshot, SourceAdmin:
	default:
		return &WriteBarrierError{SourceType: sourceType}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	facts, err := s.load()
	if err != nil {
		return err
	}
	if _, exists := facts[key]; !exists && len(facts) >= MaxFactCount {
		return fmt.Errorf("identity fact limit (%d) reached", MaxFactCount)
	}
	facts[key] = Fact{
		Key:        key,
		Value:      value,
		SourceType: sourceType,
		UpdatedAt:  s.clock().UTC(),
	}
	return s.write(facts)
}

func (s *FactsStore) write(facts map[string]Fact) error {
	raw, err := json.MarshalIndent(facts, "", "  ")
	if err != nil {
		return fmt.Errorf("encode identity facts: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write identity facts: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace identity facts: %w", err)
	}
	return nil
}

// SerializeForPrompt renders facts as a bounded, deterministic context
// block. Keys are sorted; output is truncated at MaxContextChars.
func SerializeForPrompt(facts map[string]Fact) string {
	keys := make([]string, 0, len(facts))
	for key := range facts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, key := range keys {
		line := fmt.Sprintf("%s: %s\n", key, facts[key].Value)
		if b.Len()+len(line) > MaxContextChars {
			break
		}
		b.WriteString(line)
	}
	return strings.TrimRight(b.String(), "\n")
}
