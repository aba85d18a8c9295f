// Package failures holds the canonical failure code catalogue and the
// deterministic failure attribution engine.
//
// Every abort carries a code from the catalogue; codes are immutable
// once assigned. Attribution decides why something failed from the
// error text and code alone: it never reads conversation history and
// never infers intent.
package failures

import "fmt"

// Category groups failure codes.
type Category string

// Failure categories.
const (
	CategoryReuse     Category = "REUSE"
	CategoryGrounding Category = "GROUNDING"
	CategoryAgent     Category = "AGENT"
	CategorySecurity  Category = "SECURITY"
	CategorySystem    Category = "SYSTEM"
	CategoryStrategy  Category = "STRATEGY"
)

// Code is an immutable failure code definition.
type Code struct {
	ID       string
	Category Category
	Message  string
}

// Reuse failures.
var (
	ReuseDisabled         = Code{"AES-REUSE-001", CategoryReuse, "True Reuse disabled by operator"}
	EvidenceReuseDisabled = Code{"AES-REUSE-002", CategoryReuse, "Evidence reuse disabled by operator"}
	ReuseOrderingMismatch = Code{"AES-REUSE-003", CategoryReuse, "Reuse denied - evidence ordering mismatch"}
	EvidenceStale         = Code{"AES-REUSE-004", CategoryReuse, "Evidence staleness exceeded threshold"}
	CrossRunContamination = Code{"AES-REUSE-005", CategoryReuse, "Cross-run evidence contamination detected"}
)

// Grounding failures.
var (
	ClaimWithoutCitation = Code{"AES-GRND-001", CategoryGrounding, "Factual claim lacks citation"}
	UnknownEvidenceID    = Code{"AES-GRND-002", CategoryGrounding, "Evidence ID does not exist"}
	GroundingDisabled    = Code{"AES-GRND-003", CategoryGrounding, "Grounding validation disabled by operator"}
	SelfCitation         = Code{"AES-GRND-004", CategoryGrounding, "Self-referential citation detected"}
	InvalidEvidenceType  = Code{"AES-GRND-005", CategoryGrounding, "Invalid evidence type"}
)

// Agent failures.
var (
	CapabilityViolation  = Code{"AES-AGENT-001", CategoryAgent, "Agent capability violation"}
	InstructionInjection = Code{"AES-AGENT-002", CategoryAgent, "Inter-agent instruction injection"}
	TurnLimitExceeded    = Code{"AES-AGENT-003", CategoryAgent, "Agent turn limit exceeded"}
	SelfInvocation       = Code{"AES-AGENT-004", CategoryAgent, "Agent self-invocation attempt"}
	AgentQuarantined     = Code{"AES-AGENT-005", CategoryAgent, "Agent compromised - quarantined"}
)

// Security failures.
var (
	MaliciousPayload   = Code{"AES-SEC-001", CategorySecurity, "Malicious payload detected"}
	FooterSpoofing     = Code{"AES-SEC-002", CategorySecurity, "Footer spoofing attempt"}
	IdentityInjection  = Code{"AES-SEC-003", CategorySecurity, "Identity injection attempt"}
	CitationLaundering = Code{"AES-SEC-004", CategorySecurity, "Citation laundering detected"}
	ReplayAttack       = Code{"AES-SEC-005", CategorySecurity, "Replay attack blocked"}
)

// System failures.
var (
	LedgerWriteFailure   = Code{"AES-SYS-001", CategorySystem, "Ledger write failure"}
	LedgerTampering      = Code{"AES-SYS-002", CategorySystem, "Ledger tampering detected"}
	RedLineViolation     = Code{"AES-SYS-003", CategorySystem, "Red-line violation"}
	DeterminismViolation = Code{"AES-SYS-004", CategorySystem, "Determinism violation detected"}
	KillSwitchActive     = Code{"AES-SYS-005", CategorySystem, "Kill switch activated"}
)

// Strategy failures.
var (
	LearningDisabled    = Code{"AES-STRAT-001", CategoryStrategy, "Strategic learning disabled by operator"}
	PolicyWriteConflict = Code{"AES-STRAT-007", CategoryStrategy, "Concurrent policy memory write declined"}
	ResetFrequencyHigh  = Code{"AES-STRAT-014", CategoryStrategy, "Policy memory reset frequency above expected bound"}
)

var registry = func() map[string]Code {
	all := []Code{
		ReuseDisabled, EvidenceReuseDisabled, ReuseOrderingMismatch, EvidenceStale, CrossRunContamination,
		ClaimWithoutCitation, UnknownEvidenceID, GroundingDisabled, SelfCitation, InvalidEvidenceType,
		CapabilityViolation, InstructionInjection, TurnLimitExceeded, SelfInvocation, AgentQuarantined,
		MaliciousPayload, FooterSpoofing, IdentityInjection, CitationLaundering, ReplayAttack,
		LedgerWriteFailure, LedgerTampering, RedLineViolation, DeterminismViolation, KillSwitchActive,
		LearningDisabled, PolicyWriteConflict, ResetFrequencyHigh,
	}
	byID := make(map[string]Code, len(all))
	for _, c := range all {
		if _, dup := byID[c.ID]; dup {
			panic("duplicate failure code " + c.ID)
		}
		byID[c.ID] = c
	}
	return byID
}()

// Lookup returns the code definition for an ID.
func Lookup(id string) (Code, bool) {
	c, found := registry[id]
	return c, found
}

// All returns a copy of the full catalogue keyed by ID.
func All() map[string]Code {
	out := make(map[string]Code, len(registry))
	for id, c := range registry {
		out[id] = c
	}
	return out
}

// Failure is an error carrying a canonical code.
type Failure struct {
	Code    Code
	Details string
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("# Execution Failed\nCode: %s\nReason: %s", f.Code.ID, f.Code.Message)
	if f.Details != "" {
		msg += "\nDetails: " + f.Details
	}
	return msg
}

// New wraps a code into an error.
func New(code Code, details string) *Failure {
	return &Failure{Code: code, Details: details}
}

// FormatAbort renders the standardized abort message for a code.
func FormatAbort(code Code, details string) string {
	msg := fmt.Sprintf("# Execution Aborted\nCode: %s\nReason: %s", code.ID, code.Message)
	if details != "" {
		msg += "\nDetails: " + details
	}
	return msg
}

// FormatSecurityBreach renders the halt banner for security failures.
func FormatSecurityBreach(code Code, details string) string {
	msg := fmt.Sprintf("# SECURITY BREACH\nCode: %s\nSystem halted due to: %s", code.ID, code.Message)
	if details != "" {
		msg += "\nDetails: " + details
	}
	return msg
}
