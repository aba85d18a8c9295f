// Package policy implements policy memory for strategic autonomy: the
// persisted skill weight store, the kill-switch-gated learning
// controller, the drift monitor, and the reset frequency guard.
//
// Weights influence routing preferences only. They never touch
// validation, grounding, or any safety gate, and learning as a whole
// can be disabled by the LEARNING kill switch with zero behavioral
// residue.
package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
)

// SnapshotVersion is written into every weight snapshot. Loads accept
// any snapshot with the same major version.
const SnapshotVersion = "1.2.0"

// Weight bounds.
const (
	MinWeight     = 0.1
	MaxWeight     = 2.0
	DefaultWeight = 1.0
)

// ConflictError reports a writer that could not acquire the snapshot
// lock. The writer declines rather than waits: policy memory writes
// are best-effort and never block a run.
type ConflictError struct {
	Path string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("policy memory at %s is locked by another writer", e.Path)
}

// snapshotFile is the on-disk shape.
type snapshotFile struct {
	Version   string             `json:"version"`
	Weights   map[string]float64 `json:"weights"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// WeightStore persists skill weights. Reads hand out copies; writes go
// through an exclusive lock file so concurrent writers cannot
// interleave.
type WeightStore struct {
	mu    sync.Mutex
	path  string
	clock func() time.Time
}

// NewWeightStore creates a store backed by the given snapshot path.
func NewWeightStore(path string) *WeightStore {
	return &WeightStore{path: path, clock: time.Now}
}

// WithClock overrides the time source for tests.
func (s *WeightStore) WithClock(clock func() time.Time) *WeightStore {
	s.clock = clock
	return s
}

// Load reads the current weights. A missing snapshot is not an error:
// it yields an empty map, meaning every skill routes at DefaultWeight.
func (s *WeightStore) Load() (map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]float64{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read policy memory: %w", err)
	}
	var file snapshotFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse policy memory: %w", err)
	}
	if err := checkVersion(file.Version); err != nil {
		return nil, err
	}
	weights := make(map[string]float64, len(file.Weights))
	for skill, w := range file.Weights {
		weights[skill] = Clamp(w)
	}
	return weights, nil
}

// Save writes a new snapshot. Returns *ConflictError when another
// writer holds the lock.
func (s *WeightStore) Save(weights map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lockPath := s.path + ".lock"
	lock, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if errors.Is(err, os.ErrExist) {
		return &ConflictError{Path: s.path}
	}
	if err != nil {
		return fmt.Errorf("acquire policy memory lock: %w", err)
	}
	defer func() {
		lock.Close()
		os.Remove(lockPath)
	}()

	clamped := make(map[string]float64, len(weights))
	for skill, w := range weights {
		clamped[skill] = Clamp(w)
	}
	raw, err := json.MarshalIndent(snapshotFile{
		Version:   SnapshotVersion,
		Weights:   clamped,
		UpdatedAt: s.clock().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode policy memory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write policy memory: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace policy memory: %w", err)
	}
	return nil
}

func checkVersion(version string) error {
	have, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("policy memory version %q: %w", version, err)
	}
	want := semver.MustParse(SnapshotVersion)
	if have.Major() != want.Major() {
		return fmt.Errorf("policy memory version %s incompatible with %s", version, SnapshotVersion)
	}
	return nil
}

// Clamp bounds a weight to [MinWeight, MaxWeight].
func Clamp(w float64) float64 {
	if w < MinWeight {
		return MinWeight
	}
	if w > MaxWeight {
		return MaxWeight
	}
	return w
}
