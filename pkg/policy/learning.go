package policy

import (
	"errors"
	"fmt"
	"time"

	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/failures"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/killswitch"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/ledger"
)

// Learning parameters.
const (
	LearningRate = 0.2
	DecayRate    = 0.95
)

// Controller gates every learning operation on the LEARNING kill
// switch. The switch is read once from the run's snapshot at StartRun;
// when disabled, every operation logs LEARNING_SKIPPED_DISABLED,
// returns the failure code, and mutates nothing.
type Controller struct {
	ledger  ledger.Ledger
	runID   string
	enabled bool
	started bool
	weights map[string]float64
}

// NewController creates a controller bound to one run's ledger stream.
func NewController(led ledger.Ledger, runID string) *Controller {
	return &Controller{ledger: led, runID: runID}
}

// StartRun reads the LEARNING switch from the run's snapshot and fixes
// the learning state for the rest of the run.
func (c *Controller) StartRun(switches killswitch.RunSwitches, current map[string]float64) error {
	halted, _, err := switches.Check(killswitch.DisableLearning)
	if err != nil {
		return fmt.Errorf("read learning switch: %w", err)
	}
	c.enabled = !halted
	c.started = true
	c.weights = make(map[string]float64, len(current))
	for skill, w := range current {
		c.weights[skill] = Clamp(w)
	}
	_, err = c.ledger.Append(c.runID, ledger.EventLearningStateRead, "policy", map[string]any{
		"learning_enabled": c.enabled,
		"source":           "kill_switch",
	})
	return err
}

// CanLearn reports whether learning is allowed for this run.
func (c *Controller) CanLearn() bool {
	return c.started && c.enabled
}

func (c *Controller) skip(operation string, extra map[string]any) (bool, string) {
	payload := map[string]any{
		"operation":    operation,
		"reason":       "kill_switch",
		"failure_code": failures.LearningDisabled.ID,
	}
	for k, v := range extra {
		payload[k] = v
	}
	if _, err := c.ledger.Append(c.runID, ledger.EventLearningSkipped, "policy", payload); err != nil {
		return false, failures.LedgerWriteFailure.ID
	}
	return false, failures.LearningDisabled.ID
}

// ApplyWeightUpdate folds an outcome into a skill's weight by EMA.
// Returns (false, code) without mutation when learning is disabled.
func (c *Controller) ApplyWeightUpdate(skill string, outcome float64) (bool, string) {
	if !c.CanLearn() {
		return c.skip("weight_update", map[string]any{"skill": skill, "outcome": outcome})
	}
	old := DefaultWeight
	if w, found := c.weights[skill]; found {
		old = w
	}
	updated := Clamp(LearningRate*outcome + (1-LearningRate)*old)

	// Log before mutation; a failed append leaves the weight untouched.
	if _, err := c.ledger.Append(c.runID, ledger.EventWeightUpdate, "policy", map[string]any{
		"skill":   skill,
		"old":     old,
		"new":     updated,
		"outcome": outcome,
	}); err != nil {
		return false, failures.LedgerWriteFailure.ID
	}
	c.weights[skill] = updated
	return true, ""
}

// ApplyDecay decays every weight toward the floor, modelling staleness
// of old routing evidence.
func (c *Controller) ApplyDecay(days int) (bool, string) {
	if !c.CanLearn() {
		return c.skip("decay", nil)
	}
	factor := 1.0
	for i := 0; i < days; i++ {
		factor *= DecayRate
	}
	if _, err := c.ledger.Append(c.runID, ledger.EventDecayApplied, "policy", map[string]any{
		"decay_rate": DecayRate,
		"days":       days,
	}); err != nil {
		return false, failures.LedgerWriteFailure.ID
	}
	for skill, w := range c.weights {
		c.weights[skill] = Clamp(w * factor)
	}
	return true, ""
}

// RunCounterfactual evaluates what the routing would have chosen under
// neutral weights, recording the average delta for the drift monitor.
func (c *Controller) RunCounterfactual(outcomes map[string]float64) (bool, string, float64) {
	if !c.CanLearn() {
		skipped, code := c.skip("counterfactual", nil)
		return skipped, code, 0
	}
	delta := 0.0
	if len(outcomes) > 0 {
		for skill, outcome := range outcomes {
			weight := DefaultWeight
			if w, found := c.weights[skill]; found {
				weight = w
			}
			delta += weight*outcome - DefaultWeight*outcome
		}
		delta /= float64(len(outcomes))
	}
	if _, err := c.ledger.Append(c.runID, ledger.EventCounterfactualDone, "policy", map[string]any{
		"delta_avg": delta,
	}); err != nil {
		return false, failures.LedgerWriteFailure.ID, 0
	}
	return true, "", delta
}

// WritePolicyMemory persists the run's weights through the store.
func (c *Controller) WritePolicyMemory(store *WeightStore) (bool, string) {
	if !c.CanLearn() {
		return c.skip("policy_memory_write", nil)
	}
	if err := store.Save(c.weights); err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			_, _ = c.ledger.Append(c.runID, ledger.EventLearningSkipped, "policy", map[string]any{
				"operation":    "policy_memory_write",
				"reason":       "write_conflict",
				"failure_code": failures.PolicyWriteConflict.ID,
			})
			return false, failures.PolicyWriteConflict.ID
		}
		_, _ = c.ledger.Append(c.runID, ledger.EventLearningSkipped, "policy", map[string]any{
			"operation": "policy_memory_write",
			"reason":    err.Error(),
		})
		return false, failures.LedgerWriteFailure.ID
	}
	if _, err := c.ledger.Append(c.runID, ledger.EventPolicyMemoryWrite, "policy", map[string]any{
		"skills":     len(c.weights),
		"written_at": time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		return false, failures.LedgerWriteFailure.ID
	}
	return true, ""
}

// Weights returns a copy of the run's current weights.
func (c *Controller) Weights() map[string]float64 {
	out := make(map[string]float64, len(c.weights))
	for skill, w := range c.weights {
		out[skill] = w
	}
	return out
}
