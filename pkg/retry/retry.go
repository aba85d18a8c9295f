// Package retry implements bounded, deterministic retry selection:
// failure classification, per-class and global caps, a cost budget,
// jitter-free exponential backoff, and tool fallback chains.
//
// Every decision is a pure function of the failure class and the
// accumulated retry state; nothing here sleeps or calls tools.
package retry

import (
	"fmt"
	"strings"
	"time"

	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/contracts"
)

// FailureClass classifies a failure for retry decisions.
type FailureClass string

// Failure classes.
const (
	Transient   FailureClass = "transient"
	RateLimit   FailureClass = "rate_limit"
	DataInvalid FailureClass = "data_invalid"
	Policy      FailureClass = "policy"
	ToolError   FailureClass = "tool_error"
	Unknown     FailureClass = "unknown"
)

// MaxRetriesByClass caps retries per failure class.
var MaxRetriesByClass = map[FailureClass]int{
	Transient:   3,
	RateLimit:   2,
	DataInvalid: 0,
	Policy:      0,
	ToolError:   2,
	Unknown:     1,
}

var retryable = map[FailureClass]bool{
	Transient: true,
	RateLimit: true,
	ToolError: true,
}

// ToolFallbacks maps each tool to its ordered fallback chain.
var ToolFallbacks = map[string][]string{
	contracts.ToolDataFetchRSS:  {contracts.ToolDataFetchAPI, contracts.ToolBrowserSearch},
	contracts.ToolDataFetchAPI:  {contracts.ToolBrowserSearch},
	contracts.ToolBrowserSearch: {},
}

// Config bounds the retry strategy.
type Config struct {
	MaxTotalRetries   int
	MaxCostUnits      int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultConfig returns the standard bounds.
func DefaultConfig() Config {
	return Config{
		MaxTotalRetries:   5,
		MaxCostUnits:      100,
		BaseDelay:         500 * time.Millisecond,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Decision is an immutable retry decision.
type Decision struct {
	ShouldRetry   bool
	Reason        string
	AttemptNumber int
	MaxAttempts   int
	Delay         time.Duration
	AlternateTool string
	CostUnits     int
}

// State accumulates across the retries of one operation.
type State struct {
	Attempts           int
	TotalCost          int
	ToolsTried         []string
	FailureClassesSeen []FailureClass
}

// Classify determines the failure class from error text, code, and
// tool context. Deterministic substring matching.
func Classify(errText, errCode, tool string) FailureClass {
	msg := strings.ToLower(errText)

	if strings.HasPrefix(errCode, "AES-") {
		if strings.Contains(errCode, "REUSE") || strings.Contains(errCode, "GRND") || strings.Contains(errCode, "SEC") {
			return Policy
		}
	}
	if containsAny(msg, "rate limit", "429", "too many requests", "throttl") {
		return RateLimit
	}
	if containsAny(msg, "timeout", "connection", "network", "temporarily unavailable", "503", "502") {
		return Transient
	}
	if containsAny(msg, "invalid", "malformed", "missing required", "validation failed") {
		return DataInvalid
	}
	if tool != "" && containsAny(msg, "tool error", "tool failed", "execution failed") {
		return ToolError
	}
	return Unknown
}

func containsAny(msg string, patterns ...string) bool {
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// Backoff computes the delay before the given attempt. Exponential,
// jitter-free; rate limits start from a 4x base.
func Backoff(attempt int, class FailureClass, cfg Config) time.Duration {
	base := cfg.BaseDelay
	if class == RateLimit {
		base = cfg.BaseDelay * 4
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay = time.Duration(float64(delay) * cfg.BackoffMultiplier)
	}
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}

// Cost computes the cost units a retry attempt would spend. Tool
// switches cost double; later attempts cost linearly more.
func Cost(attempt int, class FailureClass) int {
	base := 10
	if class == ToolError {
		base = 20
	}
	return base * (attempt + 1)
}

// AlternateTool walks the fallback chain, skipping tools already tried.
// Empty means the chain is exhausted.
func AlternateTool(current string, toolsTried []string) string {
	for _, fallback := range ToolFallbacks[current] {
		tried := false
		for _, t := range toolsTried {
			if t == fallback {
				tried = true
				break
			}
		}
		if !tried {
			return fallback
		}
	}
	return ""
}

// Decide whether and how to retry. Pure: inspects state, never mutates
// it. Denied retries cost zero units.
func Decide(class FailureClass, state State, cfg Config, currentTool string) Decision {
	maxForClass := MaxRetriesByClass[class]

	classAttempts := 0
	for _, seen := range state.FailureClassesSeen {
		if seen == class {
			classAttempts++
		}
	}

	if !retryable[class] {
		return Decision{
			Reason:        fmt.Sprintf("failure class %s is not retryable", class),
			AttemptNumber: state.Attempts,
			MaxAttempts:   maxForClass,
		}
	}
	if state.Attempts >= cfg.MaxTotalRetries {
		return Decision{
			Reason:        fmt.Sprintf("total retry cap (%d) exceeded", cfg.MaxTotalRetries),
			AttemptNumber: state.Attempts,
			MaxAttempts:   cfg.MaxTotalRetries,
		}
	}
	if classAttempts >= maxForClass {
		return Decision{
			Reason:        fmt.Sprintf("class retry cap (%d) exceeded for %s", maxForClass, class),
			AttemptNumber: classAttempts,
			MaxAttempts:   maxForClass,
		}
	}

	cost := Cost(state.Attempts, class)
	if state.TotalCost+cost > cfg.MaxCostUnits {
		return Decision{
			Reason:        fmt.Sprintf("cost cap (%d) would be exceeded", cfg.MaxCostUnits),
			AttemptNumber: state.Attempts,
			MaxAttempts:   cfg.MaxTotalRetries,
		}
	}

	alternate := ""
	reason := fmt.Sprintf("retry permitted for %s", class)
	if class == ToolError && currentTool != "" {
		alternate = AlternateTool(currentTool, state.ToolsTried)
		if alternate == "" {
			reason = fmt.Sprintf("retry permitted for %s; fallback chain exhausted", class)
		}
	}

	return Decision{
		ShouldRetry:   true,
		Reason:        reason,
		AttemptNumber: state.Attempts + 1,
		MaxAttempts:   maxForClass,
		Delay:         Backoff(state.Attempts, class, cfg),
		AlternateTool: alternate,
		CostUnits:     cost,
	}
}

// Apply folds an approved decision into the state. Denied decisions
// change nothing.
func Apply(decision Decision, state State, class FailureClass, tool string) State {
	if !decision.ShouldRetry {
		return state
	}
	state.Attempts++
	state.TotalCost += decision.CostUnits
	state.FailureClassesSeen = append(state.FailureClassesSeen, class)
	if tool != "" && !containsTool(state.ToolsTried, tool) {
		state.ToolsTried = append(state.ToolsTried, tool)
	}
	if decision.AlternateTool != "" {
		state.ToolsTried = append(state.ToolsTried, decision.AlternateTool)
	}
	return state
}

func containsTool(tried []string, tool string) bool {
	for _, t := range tried {
		if t == tool {
			return true
		}
	}
	return false
}
