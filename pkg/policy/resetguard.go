package policy

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/failures"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/ledger"
)

// Reset guard thresholds.
const (
	MaxResetsPerWindow = 5
	ResetWindowSize    = 500
)

// ResetEvent records one policy memory reset.
type ResetEvent struct {
	Timestamp     time.Time          `json:"timestamp"`
	RunCount      int                `json:"run_count"`
	Reason        string             `json:"reason"`
	WeightsBefore map[string]float64 `json:"weights_before"`
	WeightsAfter  map[string]float64 `json:"weights_after"`
}

// ResetWarning flags excessive reset frequency for operator attention.
type ResetWarning struct {
	WarningType    string `json:"warning_type"`
	Severity       string `json:"severity"`
	ResetCount     int    `json:"reset_count"`
	WindowSize     int    `json:"window_size"`
	Threshold      int    `json:"threshold"`
	Recommendation string `json:"recommendation"`
	FailureCode    string `json:"failure_code"`
}

// ResetGuard tracks policy memory resets against a rolling run window.
// Repeated resets can mask instability that learning would otherwise
// surface, so crossing the threshold warns the operator. The window is
// keyed by run count: only resets within the last ResetWindowSize runs
// count toward the threshold.
type ResetGuard struct {
	mu       sync.Mutex
	ledger   ledger.Ledger
	clock    func() time.Time
	runCount int
	history  []ResetEvent
}

// NewResetGuard creates a guard logging to the given ledger.
func NewResetGuard(led ledger.Ledger) *ResetGuard {
	return &ResetGuard{ledger: led, clock: time.Now}
}

// WithClock overrides the time source for tests.
func (g *ResetGuard) WithClock(clock func() time.Time) *ResetGuard {
	g.clock = clock
	return g
}

// IncrementRun advances the run counter.
func (g *ResetGuard) IncrementRun() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.runCount++
}

// RecordReset logs a reset to the ledger before recording it, then
// checks the rolling window. A non-nil warning means the threshold was
// crossed; the caller surfaces it but execution continues.
func (g *ResetGuard) RecordReset(runID, reason string, before, after map[string]float64) (*ResetWarning, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	// Ledger first: a reset without a ledger trace must not happen.
	_, err := g.ledger.Append(runID, ledger.EventPolicyMemoryReset, "policy", map[string]any{
		"reason":         reason,
		"weights_before": copyWeights(before),
		"weights_after":  copyWeights(after),
		"run_count":      g.runCount,
	})
	if err != nil {
		return nil, fmt.Errorf("record reset: %w", err)
	}

	g.history = append(g.history, ResetEvent{
		Timestamp:     g.clock().UTC(),
		RunCount:      g.runCount,
		Reason:        reason,
		WeightsBefore: copyWeights(before),
		WeightsAfter:  copyWeights(after),
	})

	warning := g.checkWindow()
	if warning != nil {
		g.ledger.Append(runID, ledger.EventResetInstability, "policy", map[string]any{
			"warning_type": warning.WarningType,
			"severity":     warning.Severity,
			"reset_count":  warning.ResetCount,
			"window_size":  warning.WindowSize,
			"threshold":    warning.Threshold,
			"failure_code": warning.FailureCode,
		})
	}
	return warning, nil
}

func (g *ResetGuard) checkWindow() *ResetWarning {
	windowStart := g.runCount - ResetWindowSize
	recent := 0
	for _, event := range g.history {
		if event.RunCount > windowStart {
			recent++
		}
	}
	if recent <= MaxResetsPerWindow {
		return nil
	}
	return &ResetWarning{
		WarningType:    "RESET_INSTABILITY",
		Severity:       "WARNING",
		ResetCount:     recent,
		WindowSize:     ResetWindowSize,
		Threshold:      MaxResetsPerWindow,
		Recommendation: "Review policy memory configuration. Consider disabling learning.",
		FailureCode:    failures.ResetFrequencyHigh.ID,
	}
}

// Stats summarizes reset activity for the provenance footer and the
// compliance export.
func (g *ResetGuard) Stats() map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()
	denominator := g.runCount
	if denominator < 1 {
		denominator = 1
	}
	reasons := make([]string, 0, 5)
	start := len(g.history) - 5
	if start < 0 {
		start = 0
	}
	for _, event := range g.history[start:] {
		reasons = append(reasons, event.Reason)
	}
	return map[string]any{
		"total_resets":   len(g.history),
		"run_count":      g.runCount,
		"reset_rate":     float64(len(g.history)) / float64(denominator),
		"threshold":      MaxResetsPerWindow,
		"window_size":    ResetWindowSize,
		"recent_reasons": reasons,
	}
}

// ProvenanceSection renders the reset statistics block appended to
// final reports.
func (g *ResetGuard) ProvenanceSection() string {
	stats := g.Stats()
	lines := []string{
		"### Reset Statistics",
		fmt.Sprintf("- Total Resets: %d", stats["total_resets"]),
		fmt.Sprintf("- Reset Rate: %.4f per run", stats["reset_rate"]),
		fmt.Sprintf("- Threshold: %d per %d runs", MaxResetsPerWindow, ResetWindowSize),
	}
	if reasons := stats["recent_reasons"].([]string); len(reasons) > 0 {
		if len(reasons) > 3 {
			reasons = reasons[len(reasons)-3:]
		}
		lines = append(lines, "- Recent Reasons: "+strings.Join(reasons, ", "))
	}
	return strings.Join(lines, "\n")
}

func copyWeights(weights map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(weights))
	for skill, w := range weights {
		out[skill] = w
	}
	return out
}
