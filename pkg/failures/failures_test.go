package failures

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/contracts"
)

func TestCatalogueLookup(t *testing.T) {
	code, found := Lookup("AES-SEC-001")
	require.True(t, found)
	assert.Equal(t, CategorySecurity, code.Category)
	assert.Equal(t, "Malicious payload detected", code.Message)

	_, found = Lookup("AES-NOPE-999")
	assert.False(t, found)
}

func TestCatalogueIDsUnique(t *testing.T) {
	seen := map[string]bool{}
	for id := range All() {
		assert.False(t, seen[id])
		seen[id] = true
	}
	assert.GreaterOrEqual(t, len(seen), 25)
}

func TestFailureErrorFormat(t *testing.T) {
	err := New(LedgerTampering, "entry 3 hash mismatch")
	msg := err.Error()
	assert.True(t, strings.HasPrefix(msg, "# Execution Failed\nCode: AES-SYS-002"))
	assert.Contains(t, msg, "Details: entry 3 hash mismatch")
}

func TestFormatters(t *testing.T) {
	abort := FormatAbort(KillSwitchActive, "")
	assert.Equal(t, "# Execution Aborted\nCode: AES-SYS-005\nReason: Kill switch activated", abort)

	breach := FormatSecurityBreach(FooterSpoofing, "forged provenance footer")
	assert.Contains(t, breach, "# SECURITY BREACH")
	assert.Contains(t, breach, "AES-SEC-002")
	assert.Contains(t, breach, "forged provenance footer")
}

func TestAttributeToolFailure(t *testing.T) {
	a := Attribute("Connection timeout after 30s", "", contracts.RoleExecutor, contracts.ToolDataFetchRSS)
	assert.Equal(t, CauseTool, a.RootCause)
	assert.Equal(t, contracts.RoleExecutor, a.Stage)
	assert.Equal(t, contracts.RoleExecutor, a.OriginatingAgent)
	assert.InDelta(t, 0.9, a.Confidence, 1e-9)
	assert.True(t, a.Retryable)
	assert.True(t, IsRetryable(a))
	assert.False(t, a.LowConfidence)
}

func TestAttributeDataFailureNotRetryable(t *testing.T) {
	a := Attribute("response body malformed", "", contracts.RoleValidator, "")
	assert.Equal(t, CauseData, a.RootCause)
	assert.False(t, a.Retryable)
	assert.False(t, IsRetryable(a))
}

func TestAttributeCodeTakesPriority(t *testing.T) {
	// Message says timeout, but the code pins the cause to policy.
	a := Attribute("connection timeout", "AES-REUSE-004", "", contracts.ToolDataFetchAPI)
	assert.Equal(t, CausePolicy, a.RootCause)
	assert.InDelta(t, 0.95, a.Confidence, 1e-9)
	assert.False(t, a.Retryable)
}

func TestAttributePolicyNeverRetryable(t *testing.T) {
	for _, msg := range []string{
		"kill switch engaged",
		"red-line triggered",
		"capability violation by planner",
		"agent quarantined pending review",
	} {
		a := Attribute(msg, "", contracts.RoleExecutor, "")
		assert.Equal(t, CausePolicy, a.RootCause, "msg=%q", msg)
		assert.False(t, a.Retryable, "msg=%q", msg)
	}
}

func TestAttributeStageInference(t *testing.T) {
	a := Attribute("tool failed", "", "", contracts.ToolCompleteTask)
	assert.Equal(t, contracts.RoleReporter, a.Stage)
	assert.Equal(t, contracts.RoleReporter, a.OriginatingAgent)

	a = Attribute("tool failed", "", "", contracts.ToolBrowserSearch)
	assert.Equal(t, contracts.RoleExecutor, a.Stage)
}

func TestAttributeUnknownContextCapsConfidence(t *testing.T) {
	a := Attribute("connection timeout", "", "", "")
	assert.Equal(t, contracts.RoleExecutor, a.Stage, "defaults to executor")
	assert.InDelta(t, 0.6, a.Confidence, 1e-9, "confidence capped without stage context")
}

func TestAttributeUnknownIsFlaggedNotFatal(t *testing.T) {
	a := Attribute("something odd happened", "", "", "")
	assert.Equal(t, CauseUnknown, a.RootCause)
	assert.InDelta(t, 0.5, a.Confidence, 1e-9)
	assert.False(t, a.LowConfidence, "0.5 is above the floor")
	assert.False(t, IsRetryable(a))
}

func TestAttributeDeterministic(t *testing.T) {
	first := Attribute("rate limit exceeded", "", contracts.RoleExecutor, contracts.ToolDataFetchAPI)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Attribute("rate limit exceeded", "", contracts.RoleExecutor, contracts.ToolDataFetchAPI))
	}
}

func TestLedgerPayload(t *testing.T) {
	a := Attribute("ungrounded claim in report", "", contracts.RoleReporter, "")
	payload := a.LedgerPayload()
	assert.Equal(t, "prompt", payload["root_cause"])
	assert.Equal(t, "reporter", payload["originating_agent"])
	assert.Equal(t, false, payload["retryable"])
}
