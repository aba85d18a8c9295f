// Package killswitch implements operator-controlled boolean gates over
// dangerous code paths.
//
// Switches live in a mutable registry the operator flips; runs never
// read the registry directly. At run start the pipeline takes a
// Snapshot, and every in-run check goes against that immutable copy, so
// flipping a switch mid-run cannot retroactively change the run.
package killswitch

import (
	"fmt"
	"sync"
)

// Switch names the closed set of kill switches.
type Switch string

// Kill switches. Setting one to true disables the named code path.
const (
	DisableTrueReuse     Switch = "TRUE_REUSE"
	DisableEvidenceReuse Switch = "EVIDENCE_REUSE"
	DisableGrounding     Switch = "GROUNDING"
	DisableLearning      Switch = "LEARNING"
)

var haltMessages = map[Switch]string{
	DisableTrueReuse:     "True Reuse is currently disabled by operator.",
	DisableEvidenceReuse: "Evidence Reuse is currently disabled by operator.",
	DisableGrounding:     "Grounding validation is currently disabled by operator.",
	DisableLearning:      "Strategic Autonomy learning is currently disabled by operator.",
}

// ConfigError reports a lookup of an unknown switch name.
type ConfigError struct {
	Name Switch
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("unknown kill switch: %q", e.Name)
}

// Registry holds the live switch states. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	disabled map[Switch]bool
}

// NewRegistry creates a registry with all switches off (nothing disabled).
func NewRegistry() *Registry {
	return &Registry{disabled: map[Switch]bool{
		DisableTrueReuse:     false,
		DisableEvidenceReuse: false,
		DisableGrounding:     false,
		DisableLearning:      false,
	}}
}

// Set flips a switch. Unknown names return a *ConfigError.
func (r *Registry) Set(name Switch, disabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, known := r.disabled[name]; !known {
		return &ConfigError{Name: name}
	}
	r.disabled[name] = disabled
	return nil
}

// Snapshot copies all switch states into an immutable per-run view.
// This is the read-once boundary: a run consults only its snapshot.
func (r *Registry) Snapshot() RunSwitches {
	r.mu.RLock()
	defer r.mu.RUnlock()
	copied := make(map[Switch]bool, len(r.disabled))
	for name, state := range r.disabled {
		copied[name] = state
	}
	return RunSwitches{disabled: copied}
}

// RunSwitches is the immutable per-run switch snapshot.
type RunSwitches struct {
	disabled map[Switch]bool
}

// Check reports whether the named path is halted and, if so, why.
// Unknown names return a *ConfigError.
func (s RunSwitches) Check(name Switch) (halted bool, reason string, err error) {
	state, known := s.disabled[name]
	if !known {
		return false, "", &ConfigError{Name: name}
	}
	if state {
		return true, haltMessages[name], nil
	}
	return false, "", nil
}

// States returns a copy of all switch states, for ledger payloads and
// compliance exports.
func (s RunSwitches) States() map[Switch]bool {
	copied := make(map[Switch]bool, len(s.disabled))
	for name, state := range s.disabled {
		copied[name] = state
	}
	return copied
}

// HaltMessage builds the standardized report text for a halted run.
func HaltMessage(reason string) string {
	return "# Execution Halted\nReason: " + reason
}
