package pipeline

import (
	"fmt"
	"net/url"

	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/contracts"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/firewall"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/ledger"
)

// MaxIdenticalProposals is how many times the same fingerprint may be
// approved before the loop detector rejects it.
const MaxIdenticalProposals = 2

// LoopError reports a proposal repeated past the identical-proposal cap.
type LoopError struct {
	Fingerprint string
	Count       int
}

func (e *LoopError) Error() string {
	return fmt.Sprintf("proposal loop detected: fingerprint %s approved %d times", e.Fingerprint, e.Count)
}

// URLPolicyError reports a tool URL outside the profile's outbound
// policy.
type URLPolicyError struct {
	Host string
}

func (e *URLPolicyError) Error() string {
	return fmt.Sprintf("outbound host %q not allowed by run profile", e.Host)
}

// Approve runs a proposal through the capability manifest, the message
// firewall, the profile URL policy, and the loop detector. Rejections
// are ledger-logged before the error returns; approvals after.
func (r *Run) Approve(proposal contracts.ProposedAction) (*contracts.ApprovedAction, error) {
	fingerprint, err := proposal.Fingerprint()
	if err != nil {
		return nil, err
	}

	if r.Quarantine != nil {
		if err := r.Quarantine.CheckAllowed(string(proposal.Role)); err != nil {
			return nil, r.reject(proposal, fingerprint, "quarantine", err)
		}
	}

	if err := r.Manifest.ValidateAction(proposal.Role, proposal.Type, proposal.Tool); err != nil {
		return nil, r.reject(proposal, fingerprint, "capability", err)
	}

	// Params cross the proposer/executor boundary, so they go through
	// the firewall like any inter-agent message.
	if err := firewall.InspectParams(proposal.Role, contracts.RoleExecutor, proposal.Params); err != nil {
		return nil, r.reject(proposal, fingerprint, "firewall", err)
	}

	if err := r.checkURLPolicy(proposal.Params); err != nil {
		return nil, r.reject(proposal, fingerprint, "url_policy", err)
	}

	r.mu.Lock()
	count := r.proposals[fingerprint]
	if count >= MaxIdenticalProposals {
		r.mu.Unlock()
		loopErr := &LoopError{Fingerprint: fingerprint, Count: count}
		return nil, r.reject(proposal, fingerprint, "loop", loopErr)
	}
	r.proposals[fingerprint] = count + 1
	r.mu.Unlock()

	if _, err := r.Ledger.Append(r.ID, ledger.EventActionApproved, "agent:"+string(proposal.Role), map[string]any{
		"action_type": string(proposal.Type),
		"tool":        proposal.Tool,
		"fingerprint": fingerprint,
	}); err != nil {
		return nil, err
	}
	r.count("actions_approved")

	return &contracts.ApprovedAction{
		Proposal:        proposal,
		PlanFingerprint: fingerprint,
		ApprovedAt:      r.clock().UTC(),
	}, nil
}

func (r *Run) reject(proposal contracts.ProposedAction, fingerprint, check string, cause error) error {
	if _, err := r.Ledger.Append(r.ID, ledger.EventActionRejected, "agent:"+string(proposal.Role), map[string]any{
		"action_type": string(proposal.Type),
		"tool":        proposal.Tool,
		"fingerprint": fingerprint,
		"check":       check,
		"reason":      cause.Error(),
	}); err != nil {
		return err
	}
	r.count("actions_rejected")
	return cause
}

func (r *Run) checkURLPolicy(params map[string]string) error {
	if r.Profile == nil {
		return nil
	}
	raw, ok := params["url"]
	if !ok || raw == "" {
		return nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse tool url: %w", err)
	}
	if !r.Profile.IsAllowed(parsed.Hostname()) {
		return &URLPolicyError{Host: parsed.Hostname()}
	}
	return nil
}
