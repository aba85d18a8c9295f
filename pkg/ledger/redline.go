package ledger

import (
	"fmt"

	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/contracts"
)

// RedLine names an absolute prohibition. The set is closed: violations
// outside it are programming errors, not policy decisions.
type RedLine string

// The enumerated red lines. Violating any of them aborts the run.
const (
	RedLineIdentityWrite    RedLine = "identity_mutation_outside_reporter"
	RedLineUngroundedOutput RedLine = "ungrounded_factual_output"
	RedLineCrossAgentExec   RedLine = "cross_agent_instruction_execution"
	RedLineUnvalidatedReuse RedLine = "evidence_reuse_without_validation"
	RedLineLedgerTampering  RedLine = "ledger_tampering_attempt"
)

var redLineDescriptions = map[RedLine]string{
	RedLineIdentityWrite:    "Identity mutation outside reporter role",
	RedLineUngroundedOutput: "Ungrounded factual output in report",
	RedLineCrossAgentExec:   "Cross-agent instruction execution",
	RedLineUnvalidatedReuse: "Evidence reuse without validation",
	RedLineLedgerTampering:  "Ledger tampering attempt detected",
}

// ViolationError is raised by Enforcer.Trigger. It is non-recoverable:
// callers must propagate it and abort the run.
type ViolationError struct {
	RedLine RedLine
	Actor   string
	Detail  string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("red-line violation by %s: %s (%s)", e.Actor, redLineDescriptions[e.RedLine], e.Detail)
}

// Enforcer aborts the run on red-line violations, always writing the
// ledger entry before raising so the audit trail is never behind reality.
type Enforcer struct {
	ledger Ledger
	runID  string
}

// NewEnforcer binds an enforcer to a run's ledger.
func NewEnforcer(l Ledger, runID string) *Enforcer {
	return &Enforcer{ledger: l, runID: runID}
}

// RedLines lists all defined red lines in stable order.
func RedLines() []RedLine {
	return []RedLine{
		RedLineIdentityWrite,
		RedLineUngroundedOutput,
		RedLineCrossAgentExec,
		RedLineUnvalidatedReuse,
		RedLineLedgerTampering,
	}
}

// Describe returns the human-readable description of a red line.
func Describe(rl RedLine) string { return redLineDescriptions[rl] }

// Trigger logs the violation and returns the fatal *ViolationError.
// If the ledger write itself fails, that error wins: nothing may
// proceed past a failed ledger write, not even an abort.
func (e *Enforcer) Trigger(rl RedLine, actor, detail string) error {
	desc, known := redLineDescriptions[rl]
	if !known {
		return fmt.Errorf("unknown red line: %q", rl)
	}

	if _, err := e.ledger.Append(e.runID, EventRedLineViolation, actor, map[string]any{
		"red_line":    string(rl),
		"description": desc,
		"detail":      detail,
	}); err != nil {
		return err
	}

	return &ViolationError{RedLine: rl, Actor: actor, Detail: detail}
}

// CheckIdentityWrite triggers the identity-mutation red line unless the
// acting role is the reporter.
func (e *Enforcer) CheckIdentityWrite(role contracts.Role) error {
	if role == contracts.RoleReporter {
		return nil
	}
	return e.Trigger(RedLineIdentityWrite, "agent:"+string(role),
		fmt.Sprintf("attempted identity write by %s", role))
}

// CheckEvidenceReuse triggers the unvalidated-reuse red line when cached
// evidence is about to be reused without a validation pass.
func (e *Enforcer) CheckEvidenceReuse(role contracts.Role, validated bool) error {
	if validated {
		return nil
	}
	return e.Trigger(RedLineUnvalidatedReuse, "agent:"+string(role),
		"evidence reuse attempted without validation")
}
