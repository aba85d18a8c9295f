package contracts

import (
	"fmt"
	"time"

	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/canonicalize"
)

// ActionType classifies what a proposed action does.
type ActionType string

// Action type constants.
const (
	ActionInvokeTool    ActionType = "invoke_tool"
	ActionReadIdentity  ActionType = "read_identity"
	ActionWriteIdentity ActionType = "write_identity"
	ActionReadEvidence  ActionType = "read_evidence"
	ActionWriteEvidence ActionType = "write_evidence"
)

// Tool names known to the control plane. The concrete adapters live
// outside this module; these names are what manifests and fallback
// chains refer to.
const (
	ToolDataFetchRSS      = "DataFetchRSS"
	ToolDataFetchAPI      = "DataFetchAPI"
	ToolBrowserSearch     = "BrowserSearch"
	ToolCompleteTask      = "CompleteTask"
	ToolStructuredSummary = "StructuredSummary"
)

// ProposedAction is a single action an agent wants to perform. It carries
// no authority: it becomes executable only after the approval gate turns
// it into an ApprovedAction.
type ProposedAction struct {
	Role            Role              `json:"role"`
	Type            ActionType        `json:"type"`
	Tool            string            `json:"tool,omitempty"`
	Params          map[string]string `json:"params,omitempty"`
	SuccessCriteria []string          `json:"success_criteria,omitempty"`
}

// Fingerprint returns the "sha256:" digest of the normalized proposal.
// Identical proposals fingerprint identically, which is what the loop
// detector keys on.
func (p ProposedAction) Fingerprint() (string, error) {
	h, err := canonicalize.ContentHash(p)
	if err != nil {
		return "", fmt.Errorf("fingerprint proposal: %w", err)
	}
	return h, nil
}

// ApprovedAction is a proposal that passed the manifest, firewall,
// parameter allow-list, and loop checks. Approval is single-use: the
// executor consumes it, after which Consumed is set and the action must
// not run again.
type ApprovedAction struct {
	Proposal        ProposedAction `json:"proposal"`
	PlanFingerprint string         `json:"plan_fingerprint"`
	ApprovedAt      time.Time      `json:"approved_at"`
	Consumed        bool           `json:"consumed"`
}

// ToolResult is what a tool adapter hands back to the control plane.
type ToolResult struct {
	Tool       string            `json:"tool"`
	Success    bool              `json:"success"`
	Payload    map[string]any    `json:"payload,omitempty"`
	Error      string            `json:"error,omitempty"`
	ErrorCode  string            `json:"error_code,omitempty"`
	SourceURL  string            `json:"source_url,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	FinishedAt time.Time         `json:"finished_at"`
}
