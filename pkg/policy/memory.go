package policy

import (
	"fmt"
	"path/filepath"

	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/ledger"
)

// Memory bundles the persistent side of learning: the weight snapshot
// store, the drift monitor, and the reset guard. One Memory serves many
// runs; each run commits through it at most once.
type Memory struct {
	Store  *WeightStore
	Drift  *DriftMonitor
	Resets *ResetGuard
}

// NewMemory lays the policy files out under dir.
func NewMemory(dir string, led ledger.Ledger) *Memory {
	return &Memory{
		Store:  NewWeightStore(filepath.Join(dir, "policy_weights.json")),
		Drift:  NewDriftMonitor(filepath.Join(dir, "policy_drift.jsonl"), led),
		Resets: NewResetGuard(led),
	}
}

// Load returns the persisted weights for seeding a run's controller.
func (m *Memory) Load() (map[string]float64, error) {
	return m.Store.Load()
}

// CommitRun persists the run's learned weights and records drift
// metrics. A write conflict or disabled learning leaves the snapshot
// untouched but still counts the run toward the drift window. Advisory
// alerts are returned, never raised.
func (m *Memory) CommitRun(c *Controller, runID string, counterfactualDelta float64) ([]DriftAlert, error) {
	m.Resets.IncrementRun()

	// Conflicts and disabled learning are already ledger-logged by the
	// controller; drift still records the in-memory weights.
	c.WritePolicyMemory(m.Store)

	if _, err := m.Drift.Record(runID, c.Weights(), false, counterfactualDelta); err != nil {
		return nil, fmt.Errorf("record drift metrics: %w", err)
	}
	return m.Drift.CheckAlerts(runID), nil
}

// RecordReset routes a weight reset through the guard so frequent
// resets surface as warnings.
func (m *Memory) RecordReset(runID, reason string, before, after map[string]float64) (*ResetWarning, error) {
	return m.Resets.RecordReset(runID, reason, before, after)
}
