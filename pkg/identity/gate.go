package identity

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/contracts"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/ledger"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/manifest"
)

// DefaultSuccessExpr is the success predicate applied when a deployment
// configures none: the run produced evidence and did not fall back to a
// canned report.
const DefaultSuccessExpr = "has_evidence && !fallback_report"

// Gate enforces the conditions for an identity write: the role must
// hold write_identity in the manifest, an unauthorized role trips the
// identity red line, and the run must satisfy the success predicate.
type Gate struct {
	manifest *manifest.Manifest
	program  cel.Program
	expr     string
}

// NewGate compiles the success predicate. An empty expression uses
// DefaultSuccessExpr.
func NewGate(m *manifest.Manifest, successExpr string) (*Gate, error) {
	if successExpr == "" {
		successExpr = DefaultSuccessExpr
	}
	env, err := cel.NewEnv(
		cel.Variable("has_evidence", cel.BoolType),
		cel.Variable("evidence_count", cel.IntType),
		cel.Variable("fallback_report", cel.BoolType),
		cel.Variable("retries_used", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("create predicate environment: %w", err)
	}
	ast, issues := env.Compile(successExpr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile success predicate: %w", issues.Err())
	}
	program, err := env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("build success predicate: %w", err)
	}
	return &Gate{manifest: m, program: program, expr: successExpr}, nil
}

// Expr returns the active predicate expression.
func (g *Gate) Expr() string {
	return g.expr
}

// EvaluateSuccess applies the predicate to the run's facts.
func (g *Gate) EvaluateSuccess(facts contracts.RunFacts) (bool, error) {
	out, _, err := g.program.Eval(map[string]any{
		"has_evidence":    facts.HasEvidence,
		"evidence_count":  int64(facts.EvidenceCount),
		"fallback_report": facts.FallbackReport,
		"retries_used":    int64(facts.RetriesUsed),
	})
	if err != nil {
		return false, fmt.Errorf("evaluate success predicate: %w", err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("success predicate result is not bool")
	}
	return allowed, nil
}

// Authorize decides whether role may write identity for this run.
// An unauthorized role is a red-line violation, ledger-logged by the
// enforcer before the error returns. An authorized role with an
// unsatisfied predicate is a plain denial: no violation, no write.
func (g *Gate) Authorize(enforcer *ledger.Enforcer, role contracts.Role, facts contracts.RunFacts) error {
	writer := g.manifest.IdentityWriter()
	if role != writer {
		return enforcer.CheckIdentityWrite(role)
	}
	if err := g.manifest.ValidateAction(role, contracts.ActionWriteIdentity, ""); err != nil {
		return err
	}
	allowed, err := g.EvaluateSuccess(facts)
	if err != nil {
		return err
	}
	if !allowed {
		return fmt.Errorf("identity write denied: success predicate %q not satisfied", g.expr)
	}
	return nil
}
