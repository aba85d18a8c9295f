package policy

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/ledger"
)

// Drift alert thresholds.
const (
	DominanceThreshold       = 0.65
	DominanceRunWindow       = 100
	DominanceAlertShare      = 0.8
	EntropyCollapseThreshold = 0.4
	ResetThresholdPerRuns    = 500
)

// DriftMetrics are the post-run drift observations for one run.
type DriftMetrics struct {
	RunID               string    `json:"run_id"`
	Timestamp           time.Time `json:"timestamp"`
	RoutingEntropy      float64   `json:"routing_entropy"`
	SkillDominanceRatio float64   `json:"skill_dominance_ratio"`
	DominantSkill       string    `json:"dominant_skill"`
	ResetOccurred       bool      `json:"reset_occurred"`
	CounterfactualDelta float64   `json:"counterfactual_delta_avg"`
}

// DriftAlert is an advisory warning. Alerts never abort execution.
type DriftAlert struct {
	AlertType   string  `json:"alert_type"`
	Severity    string  `json:"severity"`
	Message     string  `json:"message"`
	Threshold   float64 `json:"threshold"`
	ActualValue float64 `json:"actual_value"`
	RunWindow   int     `json:"run_window"`
}

// DriftMonitor computes drift metrics post-run, appends them to a JSON
// series, and raises advisory alerts over the recent window. Read-only
// with respect to the run: it observes, never intervenes.
type DriftMonitor struct {
	mu      sync.Mutex
	path    string
	ledger  ledger.Ledger
	clock   func() time.Time
	history []DriftMetrics
}

// NewDriftMonitor creates a monitor. An empty path disables the file
// series; metrics are still kept in memory.
func NewDriftMonitor(path string, led ledger.Ledger) *DriftMonitor {
	return &DriftMonitor{path: path, ledger: led, clock: time.Now}
}

// WithClock overrides the time source for tests.
func (m *DriftMonitor) WithClock(clock func() time.Time) *DriftMonitor {
	m.clock = clock
	return m
}

// Entropy computes the Shannon entropy of the weight distribution.
func Entropy(weights map[string]float64) float64 {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	if total == 0 {
		return 0
	}
	entropy := 0.0
	for _, w := range weights {
		if w > 0 {
			p := w / total
			entropy -= p * math.Log2(p)
		}
	}
	return entropy
}

// Dominance returns the highest-weighted skill and its share of total
// weight. Deterministic: ties break toward the lexically smaller skill.
func Dominance(weights map[string]float64) (string, float64) {
	if len(weights) == 0 {
		return "none", 0
	}
	total := 0.0
	dominant := ""
	for skill, w := range weights {
		total += w
		if dominant == "" || w > weights[dominant] || (w == weights[dominant] && skill < dominant) {
			dominant = skill
		}
	}
	if total == 0 {
		return "none", 0
	}
	return dominant, weights[dominant] / total
}

// Record computes and stores metrics for a finished run.
func (m *DriftMonitor) Record(runID string, weights map[string]float64, resetOccurred bool, counterfactualDelta float64) (DriftMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dominant, ratio := Dominance(weights)
	metrics := DriftMetrics{
		RunID:               runID,
		Timestamp:           m.clock().UTC(),
		RoutingEntropy:      Entropy(weights),
		SkillDominanceRatio: ratio,
		DominantSkill:       dominant,
		ResetOccurred:       resetOccurred,
		CounterfactualDelta: counterfactualDelta,
	}
	m.history = append(m.history, metrics)
	if m.path != "" {
		if err := m.appendToFile(metrics); err != nil {
			return metrics, err
		}
	}
	return metrics, nil
}

type driftSeries struct {
	Runs []DriftMetrics `json:"runs"`
}

func (m *DriftMonitor) appendToFile(metrics DriftMetrics) error {
	series := driftSeries{}
	raw, err := os.ReadFile(m.path)
	if err == nil {
		if err := json.Unmarshal(raw, &series); err != nil {
			return fmt.Errorf("parse drift series: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read drift series: %w", err)
	}
	series.Runs = append(series.Runs, metrics)
	out, err := json.MarshalIndent(series, "", "  ")
	if err != nil {
		return fmt.Errorf("encode drift series: %w", err)
	}
	if err := os.WriteFile(m.path, out, 0o600); err != nil {
		return fmt.Errorf("write drift series: %w", err)
	}
	return nil
}

// CheckAlerts scans the most recent window for dominance, reset
// frequency, and entropy collapse. Each alert is ledger-logged under
// the run that triggered the check.
func (m *DriftMonitor) CheckAlerts(runID string) []DriftAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) < DominanceRunWindow {
		return nil
	}
	recent := m.history[len(m.history)-DominanceRunWindow:]

	var alerts []DriftAlert

	dominantCounts := map[string]int{}
	for _, metrics := range recent {
		if metrics.SkillDominanceRatio > DominanceThreshold {
			dominantCounts[metrics.DominantSkill]++
		}
	}
	for skill, count := range dominantCounts {
		if float64(count) >= DominanceRunWindow*DominanceAlertShare {
			alerts = append(alerts, DriftAlert{
				AlertType:   "SKILL_DOMINANCE",
				Severity:    "WARNING",
				Message:     fmt.Sprintf("Skill %q dominated %d/%d runs", skill, count, DominanceRunWindow),
				Threshold:   DominanceThreshold,
				ActualValue: float64(count) / DominanceRunWindow,
				RunWindow:   DominanceRunWindow,
			})
		}
	}

	resetCount := 0
	for _, metrics := range recent {
		if metrics.ResetOccurred {
			resetCount++
		}
	}
	expectedResets := float64(DominanceRunWindow) / ResetThresholdPerRuns
	if float64(resetCount) > expectedResets*2 {
		alerts = append(alerts, DriftAlert{
			AlertType:   "RESET_FREQUENCY",
			Severity:    "WARNING",
			Message:     fmt.Sprintf("High reset frequency: %d in %d runs", resetCount, DominanceRunWindow),
			Threshold:   expectedResets,
			ActualValue: float64(resetCount),
			RunWindow:   DominanceRunWindow,
		})
	}

	entropySum := 0.0
	for _, metrics := range recent {
		entropySum += metrics.RoutingEntropy
	}
	avgEntropy := entropySum / float64(len(recent))
	if avgEntropy < EntropyCollapseThreshold {
		alerts = append(alerts, DriftAlert{
			AlertType:   "ENTROPY_COLLAPSE",
			Severity:    "WARNING",
			Message:     fmt.Sprintf("Low routing entropy: %.3f", avgEntropy),
			Threshold:   EntropyCollapseThreshold,
			ActualValue: avgEntropy,
			RunWindow:   DominanceRunWindow,
		})
	}

	for _, alert := range alerts {
		m.ledger.Append(runID, ledger.EventDriftAlert, "policy", map[string]any{
			"alert_type":   alert.AlertType,
			"severity":     alert.Severity,
			"message":      alert.Message,
			"threshold":    alert.Threshold,
			"actual_value": alert.ActualValue,
			"run_window":   alert.RunWindow,
		})
	}
	return alerts
}

// History returns a copy of all recorded metrics.
func (m *DriftMonitor) History() []DriftMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DriftMetrics(nil), m.history...)
}

// DashboardExport summarizes the recent window for ops dashboards.
func (m *DriftMonitor) DashboardExport() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return map[string]any{"runs": []DriftMetrics{}, "summary": map[string]any{}}
	}
	recent := m.history
	if len(recent) > DominanceRunWindow {
		recent = recent[len(recent)-DominanceRunWindow:]
	}
	entropySum := 0.0
	resetCount := 0
	skills := map[string]bool{}
	for _, metrics := range recent {
		entropySum += metrics.RoutingEntropy
		if metrics.ResetOccurred {
			resetCount++
		}
		skills[metrics.DominantSkill] = true
	}
	names := make([]string, 0, len(skills))
	for skill := range skills {
		names = append(names, skill)
	}
	return map[string]any{
		"runs": append([]DriftMetrics(nil), recent...),
		"summary": map[string]any{
			"total_runs":      len(m.history),
			"avg_entropy":     entropySum / float64(len(recent)),
			"reset_count":     resetCount,
			"dominant_skills": names,
		},
	}
}
