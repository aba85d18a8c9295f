package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/canonicalize"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/contracts"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/evidence"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/failures"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/firewall"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/ledger"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/retry"
)

// ToolInvoker runs one tool call. Adapters live outside this module.
type ToolInvoker interface {
	Invoke(ctx context.Context, tool string, params map[string]string) (*contracts.ToolResult, error)
}

// ErrApprovalConsumed is returned when an approved action is executed
// twice.
var ErrApprovalConsumed = errors.New("approved action already consumed")

// ExecutionFailure carries the final attribution when an action fails
// past its retry budget.
type ExecutionFailure struct {
	Tool        string
	Attribution failures.Attribution
	Reason      string
}

func (e *ExecutionFailure) Error() string {
	return fmt.Sprintf("execution failed for %s (%s): %s", e.Tool, e.Attribution.FailureClass, e.Reason)
}

// Execute consumes an approved action and runs it through the tool
// invoker under the retry policy. Success stores the result payload as
// evidence; exhaustion returns an *ExecutionFailure carrying the final
// attribution.
func (r *Run) Execute(ctx context.Context, approved *contracts.ApprovedAction, tools ToolInvoker) (*contracts.ToolResult, error) {
	if approved.Consumed {
		return nil, ErrApprovalConsumed
	}
	approved.Consumed = true

	tool := approved.Proposal.Tool
	params := approved.Proposal.Params
	state := retry.State{}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := r.RetryGate.Wait(ctx, tool); err != nil {
			return nil, err
		}

		result, err := tools.Invoke(ctx, tool, params)
		if err != nil {
			result = &contracts.ToolResult{Tool: tool, Error: err.Error(), FinishedAt: r.clock().UTC()}
		}

		if _, err := r.Ledger.Append(r.ID, ledger.EventToolInvoked, "agent:"+string(approved.Proposal.Role), map[string]any{
			"tool":    tool,
			"success": result.Success,
			"attempt": state.Attempts,
		}); err != nil {
			return nil, err
		}

		if result.Success {
			if err := r.storeEvidence(approved.Proposal, result); err != nil {
				return nil, err
			}
			r.Learning.ApplyWeightUpdate(tool, 1.0)
			r.count("tool_successes")
			return result, nil
		}

		attribution := failures.Attribute(result.Error, result.ErrorCode, approved.Proposal.Role, tool)
		class := retry.Classify(result.Error, result.ErrorCode, tool)
		decision := retry.Decide(class, state, r.RetryCfg, tool)

		if _, err := r.Ledger.Append(r.ID, ledger.EventRetryDecision, "scheduler", map[string]any{
			"tool":         tool,
			"class":        string(class),
			"should_retry": decision.ShouldRetry,
			"reason":       decision.Reason,
			"attempt":      decision.AttemptNumber,
			"attribution":  attribution.LedgerPayload(),
		}); err != nil {
			return nil, err
		}

		if !decision.ShouldRetry {
			r.Learning.ApplyWeightUpdate(tool, 0.0)
			return nil, &ExecutionFailure{Tool: tool, Attribution: attribution, Reason: decision.Reason}
		}

		state = retry.Apply(decision, state, class, tool)
		r.recordRetry()
		r.count("retries_granted")
		if r.Obs != nil {
			r.Obs.RecordRetry(ctx)
		}
		if decision.AlternateTool != "" {
			tool = decision.AlternateTool
		}

		if decision.Delay > 0 {
			timer := time.NewTimer(decision.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}
}

func (r *Run) storeEvidence(proposal contracts.ProposedAction, result *contracts.ToolResult) error {
	if r.Evidence == nil || len(result.Payload) == 0 {
		return nil
	}

	// Tool output is untrusted; a payload that fails the structural
	// screen is dropped instead of becoming citable evidence.
	if err := r.payloadValidator.Validate(proposal.Role, contracts.RoleReporter, firewall.ToolResultMessage, result.Payload); err != nil {
		r.Logger.Warn("evidence payload rejected", "tool", result.Tool, "reason", err.Error())
		r.count("evidence_rejected")
		return nil
	}

	queryHash := ""
	if q := proposal.Params["query"]; q != "" {
		queryHash = canonicalize.QueryHash(q)
	}

	id, err := r.Evidence.Save(result.Payload, evidence.Meta{
		QueryHash: queryHash,
		SourceURL: result.SourceURL,
		TrustTier: evidence.DefaultTrustTier,
		Lifecycle: evidence.LifecycleActive,
	}, "")
	var malicious *evidence.MaliciousPayloadError
	if errors.As(err, &malicious) {
		r.Logger.Warn("evidence payload rejected", "tool", result.Tool, "reason", malicious.Detail)
		r.count("evidence_rejected")
		return nil
	}
	if err != nil {
		return fmt.Errorf("store evidence: %w", err)
	}

	if _, err := r.Ledger.Append(r.ID, ledger.EventEvidenceStored, "agent:"+string(proposal.Role), map[string]any{
		"evidence_id": id,
		"tool":        result.Tool,
		"query_hash":  queryHash,
	}); err != nil {
		return err
	}
	r.recordEvidence(id)
	return nil
}
