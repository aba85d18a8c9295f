// Package firewall inspects text crossing agent boundaries for
// injection attempts.
//
// Three pattern classes are blocked: imperative instructions aimed at
// another agent, embedded action schemas (JSON that looks like a tool
// call), and tool-name leakage (naming any known tool at all).
// Observational text — counts, summaries, evidence IDs — passes
// untouched. The firewall never rewrites a message into an approvable
// one; Sanitize exists only so audit logs can store a redacted copy.
package firewall

import (
	"fmt"
	"regexp"

	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/contracts"
)

// PatternClass names the class of injection a pattern detects.
type PatternClass string

// Pattern classes.
const (
	ClassImperative   PatternClass = "imperative_instruction"
	ClassActionSchema PatternClass = "embedded_action_schema"
	ClassToolLeakage  PatternClass = "tool_name_leakage"
)

// InjectionError reports a blocked message.
type InjectionError struct {
	Source  contracts.Role
	Target  contracts.Role
	Class   PatternClass
	Matched string
}

func (e *InjectionError) Error() string {
	return fmt.Sprintf("injection blocked from %s to %s: %s matched %q",
		e.Source, e.Target, e.Class, e.Matched)
}

type pattern struct {
	class PatternClass
	re    *regexp.Regexp
}

var patterns = []pattern{
	// Direct commands addressed to the receiving agent.
	{ClassImperative, regexp.MustCompile(`(?i)\byou\s+(should|must|need\s+to|have\s+to)\s+\w+`)},
	{ClassImperative, regexp.MustCompile(`(?i)\bnext\s+agent\s+must\b`)},
	{ClassImperative, regexp.MustCompile(`(?i)\bthe\s+(next|following)\s+(agent|node)\s+(should|must|will)\b`)},
	{ClassImperative, regexp.MustCompile(`(?i)\bexecute\s+(the\s+)?following\b`)},
	{ClassImperative, regexp.MustCompile(`(?i)\bperform\s+(the\s+)?action\b`)},
	{ClassImperative, regexp.MustCompile(`(?i)\bplease\s+(invoke|call|execute|run|use)\b`)},
	{ClassImperative, regexp.MustCompile(`(?i)\b(ignore|disregard|forget)\s+(all\s+|any\s+)?(previous|prior|earlier|above)\s+(instructions|rules|constraints|messages)`)},
	{ClassImperative, regexp.MustCompile(`(?i)\byour\s+new\s+(task|goal|instructions?)\b`)},

	// JSON fragments shaped like a tool call.
	{ClassActionSchema, regexp.MustCompile(`(?i)"(tool|tool_name|action|action_type)"\s*:`)},
	{ClassActionSchema, regexp.MustCompile(`(?i)\{[^{}]*"params"\s*:\s*\{`)},
	{ClassActionSchema, regexp.MustCompile(`(?i)"execute"\s*:`)},

	// A known tool named at all. Inter-agent text describes results by
	// evidence ID, never by tool name.
	{ClassToolLeakage, regexp.MustCompile(`\b(DataFetchRSS|DataFetchAPI|BrowserSearch|CompleteTask|StructuredSummary)\b`)},
}

// Inspect scans text flowing from source to target. The first matching
// pattern wins; clean text returns nil.
func Inspect(source, target contracts.Role, text string) error {
	for _, p := range patterns {
		if match := p.re.FindString(text); match != "" {
			return &InjectionError{Source: source, Target: target, Class: p.class, Matched: match}
		}
	}
	return nil
}

// InspectParams runs Inspect over every string parameter of a proposal.
func InspectParams(source, target contracts.Role, params map[string]string) error {
	for _, value := range params {
		if err := Inspect(source, target, value); err != nil {
			return err
		}
	}
	return nil
}

// Sanitize redacts every matched span. The result is for audit logging
// only; a sanitized message is never re-submitted for approval.
func Sanitize(text string) (string, bool) {
	sanitized := false
	out := text
	for _, p := range patterns {
		if p.re.MatchString(out) {
			out = p.re.ReplaceAllString(out, "[REDACTED]")
			sanitized = true
		}
	}
	return out, sanitized
}
