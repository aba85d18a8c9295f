package failures

import (
	"strings"

	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/contracts"
)

// RootCause classifies where a failure originated.
type RootCause string

// Root causes.
const (
	CauseTool    RootCause = "tool"
	CauseData    RootCause = "data"
	CausePrompt  RootCause = "prompt"
	CausePolicy  RootCause = "policy"
	CauseUnknown RootCause = "unknown"
)

// MinAttributionConfidence is the floor below which an attribution is
// flagged low-confidence. Low-confidence attributions are still
// returned, flagged, so the caller can log and continue; they never
// abort the run on their own.
const MinAttributionConfidence = 0.4

// Attribution is an immutable failure attribution record.
type Attribution struct {
	FailureClass     string         `json:"failure_class"`
	OriginatingAgent contracts.Role `json:"originating_agent"`
	Tool             string         `json:"tool,omitempty"`
	Stage            contracts.Role `json:"stage"`
	RootCause        RootCause      `json:"root_cause"`
	Retryable        bool           `json:"retryable"`
	Confidence       float64        `json:"confidence"`
	LowConfidence    bool           `json:"low_confidence"`
}

type attributionRule struct {
	substring  string
	cause      RootCause
	confidence float64
	retryable  bool
}

// Ordered pattern table; first match wins.
var attributionRules = []attributionRule{
	// Tool failures.
	{"connection timeout", CauseTool, 0.9, true},
	{"network error", CauseTool, 0.9, true},
	{"rate limit", CauseTool, 0.85, true},
	{"api error", CauseTool, 0.8, true},
	{"tool failed", CauseTool, 0.85, true},
	{"execution failed", CauseTool, 0.75, true},

	// Data failures.
	{"invalid format", CauseData, 0.9, false},
	{"malformed", CauseData, 0.9, false},
	{"missing required", CauseData, 0.85, false},
	{"validation failed", CauseData, 0.85, false},
	{"empty payload", CauseData, 0.8, false},
	{"parse error", CauseData, 0.8, false},

	// Prompt failures.
	{"grounding failure", CausePrompt, 0.9, false},
	{"ungrounded", CausePrompt, 0.85, false},
	{"citation missing", CausePrompt, 0.85, false},
	{"fabricated", CausePrompt, 0.8, false},

	// Policy failures.
	{"kill switch", CausePolicy, 1.0, false},
	{"red-line", CausePolicy, 1.0, false},
	{"capability violation", CausePolicy, 0.95, false},
	{"quarantined", CausePolicy, 0.95, false},
	{"injection detected", CausePolicy, 0.9, false},
}

// Failure code prefix → root cause. Code-based attributions are the
// highest-confidence signal and are never retryable.
var codeRootCause = []struct {
	prefix string
	cause  RootCause
}{
	{"AES-REUSE", CausePolicy},
	{"AES-GRND", CausePrompt},
	{"AES-AGENT", CausePolicy},
	{"AES-SEC", CausePolicy},
	{"AES-SYS", CauseTool},
}

// DetermineStage infers the pipeline stage from agent or tool context.
// Empty return means no inference was possible.
func DetermineStage(agent contracts.Role, tool string) contracts.Role {
	if contracts.ValidRole(agent) {
		return agent
	}
	switch tool {
	case contracts.ToolDataFetchRSS, contracts.ToolDataFetchAPI, contracts.ToolBrowserSearch:
		return contracts.RoleExecutor
	case contracts.ToolCompleteTask, contracts.ToolStructuredSummary:
		return contracts.RoleReporter
	}
	return ""
}

// Attribute determines the root cause of a failure from the error text,
// optional failure code, and optional agent/tool context. Deterministic:
// identical inputs always produce identical attributions.
func Attribute(errText, errCode string, agent contracts.Role, tool string) Attribution {
	msg := strings.ToLower(errText)

	cause := CauseUnknown
	confidence := 0.5
	retryable := false

	if errCode != "" {
		for _, rule := range codeRootCause {
			if strings.HasPrefix(errCode, rule.prefix) {
				cause = rule.cause
				confidence = 0.95
				retryable = false
				break
			}
		}
	}
	if cause == CauseUnknown {
		for _, rule := range attributionRules {
			if strings.Contains(msg, rule.substring) {
				cause = rule.cause
				confidence = rule.confidence
				retryable = rule.retryable
				break
			}
		}
	}

	stage := DetermineStage(agent, tool)
	if stage == "" {
		stage = contracts.RoleExecutor
		if confidence > 0.6 {
			confidence = 0.6
		}
	}

	originating := agent
	if originating == "" {
		originating = stage
	}

	if cause == CausePolicy {
		retryable = false
	}

	return Attribution{
		FailureClass:     string(cause),
		OriginatingAgent: originating,
		Tool:             tool,
		Stage:            stage,
		RootCause:        cause,
		Retryable:        retryable,
		Confidence:       confidence,
		LowConfidence:    confidence < MinAttributionConfidence,
	}
}

// IsRetryable reports whether a retry makes sense for the attribution:
// only tool and data failures can be retried.
func IsRetryable(a Attribution) bool {
	return a.Retryable && (a.RootCause == CauseTool || a.RootCause == CauseData)
}

// LedgerPayload renders an attribution for a run ledger entry.
func (a Attribution) LedgerPayload() map[string]any {
	return map[string]any{
		"failure_class":     a.FailureClass,
		"originating_agent": string(a.OriginatingAgent),
		"tool":              a.Tool,
		"stage":             string(a.Stage),
		"root_cause":        string(a.RootCause),
		"retryable":         a.Retryable,
		"confidence":        a.Confidence,
		"low_confidence":    a.LowConfidence,
	}
}
