package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/canonicalize"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/contracts"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/evidence"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/firewall"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/identity"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/killswitch"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/ledger"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/override"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/plan"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/replay"
)

// PlanResult is what the planner hands the pipeline: a goal, the steps,
// and the concrete action behind each executor-owned step.
type PlanResult struct {
	Goal    string
	Steps   []plan.Step
	Actions map[string]contracts.ProposedAction // step ID -> action
}

// Planner produces the run's plan.
type Planner interface {
	Plan(ctx context.Context, topic string) (*PlanResult, error)
}

// Reporter renders the final report from the collected evidence.
type Reporter interface {
	Report(ctx context.Context, topic string, evidenceItems []EvidenceItem) (string, error)
}

// EvidenceItem pairs a stored evidence ID with its payload.
type EvidenceItem struct {
	ID      string
	Payload map[string]any
}

// Result is the outcome of a completed run.
type Result struct {
	RunID          string
	Report         string
	FallbackReport bool
	EvidenceIDs    []string
	Snapshot       *contracts.RunSnapshot
	Telemetry      map[string]any
}

// Driver executes the fixed planner -> validator -> executor -> reporter
// sequence for one run.
type Driver struct {
	run      *Run
	planner  Planner
	tools    ToolInvoker
	reporter Reporter
}

// NewDriver binds a run to its role implementations.
func NewDriver(run *Run, planner Planner, tools ToolInvoker, reporter Reporter) *Driver {
	return &Driver{run: run, planner: planner, tools: tools, reporter: reporter}
}

// Execute runs all four stages sequentially. Cancellation via ctx stops
// between stages and during retry waits. Fatal failures propagate after
// their ledger write.
func (d *Driver) Execute(ctx context.Context, topic string) (*Result, error) {
	r := d.run

	if _, err := r.Ledger.Append(r.ID, ledger.EventRunStarted, "system", map[string]any{
		"topic":    topic,
		"switches": switchStates(r.Switches),
	}); err != nil {
		return nil, err
	}
	if r.Obs != nil {
		r.Obs.RecordRunStart(ctx)
	}

	if halted, reason, err := r.Switches.Check(killswitch.DisableGrounding); err != nil {
		return nil, err
	} else if halted {
		if !d.overrideHalt() {
			return d.halt(reason)
		}
		r.Logger.Warn("kill switch overridden by operator", "switch", string(killswitch.DisableGrounding))
	}

	if reused, ok, err := d.tryReuse(topic); err != nil {
		return nil, err
	} else if ok {
		return reused, nil
	}

	if err := r.Learning.StartRun(r.Switches, r.initialWeights); err != nil {
		return nil, err
	}

	planResult, err := d.runPlannerStage(ctx, topic)
	if err != nil {
		return nil, d.abort(err)
	}

	taskPlan, err := d.runValidatorStage(ctx, planResult)
	if err != nil {
		return nil, d.abort(err)
	}

	items, err := d.runExecutorStage(ctx, taskPlan, planResult.Actions)
	if err != nil {
		var execFailure *ExecutionFailure
		if !errors.As(err, &execFailure) {
			return nil, d.abort(err)
		}
		// Exhausted retries degrade to a fallback report, not an abort.
		return d.runReporterStage(ctx, topic, items, true)
	}

	return d.runReporterStage(ctx, topic, items, false)
}

func (d *Driver) runPlannerStage(ctx context.Context, topic string) (*PlanResult, error) {
	r := d.run
	ctx, done := d.trackStage(ctx, contracts.RolePlanner)

	if err := r.Scheduler.StartTurn(contracts.RolePlanner); err != nil {
		done(err)
		return nil, err
	}
	planResult, err := d.planner.Plan(ctx, topic)
	if err == nil {
		err = r.Scheduler.EndTurn()
	} else {
		_ = r.Scheduler.EndTurn()
	}
	done(err)
	if err != nil {
		return nil, fmt.Errorf("planner stage: %w", err)
	}

	// Step goals cross the planner/validator boundary.
	for _, step := range planResult.Steps {
		if err := firewall.Inspect(contracts.RolePlanner, contracts.RoleValidator, step.Goal); err != nil {
			return nil, err
		}
	}
	return planResult, nil
}

func (d *Driver) runValidatorStage(ctx context.Context, planResult *PlanResult) (*plan.TaskPlan, error) {
	r := d.run
	_, done := d.trackStage(ctx, contracts.RoleValidator)

	if err := r.Scheduler.StartTurn(contracts.RoleValidator); err != nil {
		done(err)
		return nil, err
	}
	taskPlan, err := plan.Validate(planResult.Goal, planResult.Steps)
	_ = r.Scheduler.EndTurn()
	done(err)
	if err != nil {
		return nil, fmt.Errorf("validator stage: %w", err)
	}
	r.count("plans_validated")
	return taskPlan, nil
}

func (d *Driver) runExecutorStage(ctx context.Context, taskPlan *plan.TaskPlan, actions map[string]contracts.ProposedAction) ([]EvidenceItem, error) {
	r := d.run
	ctx, done := d.trackStage(ctx, contracts.RoleExecutor)

	if err := r.Scheduler.StartTurn(contracts.RoleExecutor); err != nil {
		done(err)
		return nil, err
	}

	var items []EvidenceItem
	var stageErr error
	for _, step := range taskPlan.BuildExecutionOrder() {
		if step.Owner != contracts.RoleExecutor {
			continue
		}
		proposal, ok := actions[step.ID]
		if !ok {
			stageErr = fmt.Errorf("no action bound to step %q", step.ID)
			break
		}

		approved, err := r.Approve(proposal)
		if err != nil {
			stageErr = err
			break
		}
		result, err := r.Execute(ctx, approved, d.tools)
		if err != nil {
			stageErr = err
			break
		}

		ids := r.EvidenceIDs()
		id := ""
		if len(ids) > 0 {
			id = ids[len(ids)-1]
		}
		items = append(items, EvidenceItem{ID: id, Payload: result.Payload})
	}

	_ = r.Scheduler.EndTurn()
	done(stageErr)
	return items, stageErr
}

func (d *Driver) runReporterStage(ctx context.Context, topic string, items []EvidenceItem, fallback bool) (*Result, error) {
	r := d.run
	ctx, done := d.trackStage(ctx, contracts.RoleReporter)

	if err := r.Scheduler.StartTurn(contracts.RoleReporter); err != nil {
		done(err)
		return nil, err
	}

	var report string
	if fallback {
		report = "# Execution Degraded\nEvidence collection failed; this report covers partial results only."
	} else {
		var err error
		report, err = d.reporter.Report(ctx, topic, items)
		if err != nil {
			report = "# Execution Degraded\nReport generation failed; no grounded report is available."
			fallback = true
		}
	}
	_ = r.Scheduler.EndTurn()

	evidenceIDs := r.EvidenceIDs()
	identityWrote := false
	facts := contracts.RunFacts{
		HasEvidence:    len(evidenceIDs) > 0,
		EvidenceCount:  len(evidenceIDs),
		FallbackReport: fallback,
		RetriesUsed:    r.RetriesUsed(),
	}

	if r.IDGate != nil && r.Identity != nil {
		err := r.IDGate.Authorize(r.Enforcer, contracts.RoleReporter, facts)
		var violation *ledger.ViolationError
		switch {
		case err == nil:
			if err := r.Identity.Update("last_successful_run", r.ID, identity.SourceSnapshot); err != nil {
				done(err)
				return nil, err
			}
			if _, err := r.Ledger.Append(r.ID, ledger.EventIdentityWrite, "agent:reporter", map[string]any{
				"key":    "last_successful_run",
				"source": identity.SourceSnapshot,
			}); err != nil {
				done(err)
				return nil, err
			}
			identityWrote = true
		case errors.As(err, &violation):
			done(err)
			return nil, err
		default:
			r.Logger.Info("identity write withheld", "reason", err.Error())
		}
	}

	// The footered report would trip the evidence sanitizer's footer
	// spoofing check, so only the body is cached.
	body := report
	report += BuildProvenanceFooter(r, topic, items, identityWrote)

	if _, err := r.Ledger.Append(r.ID, ledger.EventReportFinalized, "agent:reporter", map[string]any{
		"report_hash": "sha256:" + canonicalize.HashBytes([]byte(report)),
		"fallback":    fallback,
	}); err != nil {
		done(err)
		return nil, err
	}
	if r.Memory != nil {
		alerts, err := r.Memory.CommitRun(r.Learning, r.ID, 0)
		if err != nil {
			r.Logger.Warn("policy memory commit failed", "reason", err.Error())
		}
		for _, alert := range alerts {
			r.Logger.Warn("drift alert", "type", alert.AlertType, "message", alert.Message)
		}
	}

	if _, err := r.Ledger.Append(r.ID, ledger.EventRunCompleted, "system", map[string]any{
		"evidence_count": len(evidenceIDs),
		"retries_used":   facts.RetriesUsed,
	}); err != nil {
		done(err)
		return nil, err
	}
	done(nil)

	if !fallback {
		d.cacheRun(topic, body, items)
	}

	snapshot, err := replay.Snapshot(r.ID, report, r.Telemetry(), r.Ledger, evidenceIDs, r.Now())
	if err != nil {
		return nil, err
	}

	return &Result{
		RunID:          r.ID,
		Report:         report,
		FallbackReport: fallback,
		EvidenceIDs:    evidenceIDs,
		Snapshot:       snapshot,
		Telemetry:      snapshot.Telemetry,
	}, nil
}

// tryReuse serves a cached report for an identical recent query instead
// of re-running the pipeline. Every decision is ledger-logged; the
// TRUE_REUSE switch disables serving without touching the cache.
func (d *Driver) tryReuse(topic string) (*Result, bool, error) {
	r := d.run
	if r.Evidence == nil {
		return nil, false, nil
	}

	halted, _, err := r.Switches.Check(killswitch.DisableTrueReuse)
	if err != nil {
		return nil, false, err
	}
	queryHash := canonicalize.QueryHash(topic)
	if halted {
		_, err := r.Ledger.Append(r.ID, ledger.EventGroundhogReuse, "system", map[string]any{
			"decision":   "disabled",
			"query_hash": queryHash,
		})
		return nil, false, err
	}

	reportID, err := r.Evidence.CachedReport(queryHash, d.cacheMaxAge())
	if err != nil {
		return nil, false, err
	}
	if reportID == "" {
		_, err := r.Ledger.Append(r.ID, ledger.EventGroundhogReuse, "system", map[string]any{
			"decision":   "miss",
			"query_hash": queryHash,
		})
		return nil, false, err
	}

	payload, err := r.Evidence.Get(reportID)
	if err != nil {
		return nil, false, err
	}
	body, isString := payload["report"].(string)
	if !isString || body == "" {
		_, err := r.Ledger.Append(r.ID, ledger.EventGroundhogReuse, "system", map[string]any{
			"decision":   "miss",
			"query_hash": queryHash,
			"reason":     "cached report unreadable",
		})
		return nil, false, err
	}

	// Cached records hold the report body only; the footer is rebuilt so
	// the reuse mode is visible in the served report.
	var evidenceCount int
	var sources []string
	if entry, err := r.Evidence.CacheMetadata(queryHash); err == nil && entry != nil {
		evidenceCount = entry.EvidenceCount
		sources = entry.Sources
	}
	report := body + renderFooter("True Reuse (Cached)", queryHash, evidenceCount, sources, false, r.Now())

	if _, err := r.Ledger.Append(r.ID, ledger.EventGroundhogReuse, "system", map[string]any{
		"decision":   "hit",
		"query_hash": queryHash,
		"report_id":  reportID,
	}); err != nil {
		return nil, false, err
	}
	if _, err := r.Ledger.Append(r.ID, ledger.EventReportFinalized, "system", map[string]any{
		"report_hash": "sha256:" + canonicalize.HashBytes([]byte(report)),
		"reused":      true,
	}); err != nil {
		return nil, false, err
	}

	snapshot, err := replay.Snapshot(r.ID, report, r.Telemetry(), r.Ledger, nil, r.Now())
	if err != nil {
		return nil, false, err
	}
	return &Result{
		RunID:     r.ID,
		Report:    report,
		Snapshot:  snapshot,
		Telemetry: snapshot.Telemetry,
	}, true, nil
}

func (d *Driver) cacheMaxAge() time.Duration {
	if p := d.run.Profile; p != nil && p.FreshnessMinutes > 0 {
		return time.Duration(p.FreshnessMinutes) * time.Minute
	}
	return evidence.DefaultCacheMaxAge
}

// cacheRun records a completed grounded run so an identical query can
// reuse its report.
func (d *Driver) cacheRun(topic, report string, items []EvidenceItem) {
	r := d.run
	if r.Evidence == nil {
		return
	}
	queryHash := canonicalize.QueryHash(topic)
	sources := make([]string, 0, len(items))
	for _, item := range items {
		if src, ok := item.Payload["source_url"].(string); ok && src != "" {
			sources = append(sources, src)
		}
	}
	sort.Strings(sources)

	reportID, err := r.Evidence.Save(map[string]any{"report": report}, evidence.Meta{
		QueryHash: queryHash,
		TrustTier: evidence.DefaultTrustTier,
		Lifecycle: evidence.LifecycleActive,
	}, "report_"+r.ID)
	if err != nil {
		r.Logger.Warn("report cache write failed", "reason", err.Error())
		return
	}
	if err := r.Evidence.CacheQuery(queryHash, reportID, len(items), sources); err != nil {
		r.Logger.Warn("query cache write failed", "reason", err.Error())
	}
}

// overrideHalt reports whether a valid kill-switch override token was
// presented. The override is ledger-logged by Apply before it takes
// effect; an invalid token or a token for a different guard leaves the
// halt in place.
func (d *Driver) overrideHalt() bool {
	r := d.run
	if r.overrideGate == nil || r.overrideToken == "" {
		return false
	}
	tok, err := r.overrideGate.Parse(r.overrideToken)
	if err != nil {
		r.Logger.Warn("override rejected", "reason", err.Error())
		return false
	}
	if tok.Type != override.OverrideKillSwitch {
		r.Logger.Warn("override type does not cover kill switches", "type", string(tok.Type))
		return false
	}
	if _, err := r.overrideGate.Apply(r.Ledger, r.ID, r.overrideToken, false); err != nil {
		r.Logger.Warn("override rejected", "reason", err.Error())
		return false
	}
	return true
}

// halt ends the run immediately with the kill-switch message as the
// final report. No stages execute.
func (d *Driver) halt(reason string) (*Result, error) {
	r := d.run
	report := killswitch.HaltMessage(reason)

	if _, err := r.Ledger.Append(r.ID, ledger.EventKillSwitch, "system", map[string]any{
		"reason": reason,
	}); err != nil {
		return nil, err
	}
	if _, err := r.Ledger.Append(r.ID, ledger.EventReportFinalized, "system", map[string]any{
		"report_hash": "sha256:" + canonicalize.HashBytes([]byte(report)),
		"fallback":    true,
	}); err != nil {
		return nil, err
	}

	snapshot, err := replay.Snapshot(r.ID, report, r.Telemetry(), r.Ledger, nil, r.Now())
	if err != nil {
		return nil, err
	}
	return &Result{
		RunID:          r.ID,
		Report:         report,
		FallbackReport: true,
		Snapshot:       snapshot,
		Telemetry:      snapshot.Telemetry,
	}, nil
}

// abort writes the ABORT entry before propagating a fatal error.
// Red-line violations are already ledger-logged by the enforcer and
// pass through untouched.
func (d *Driver) abort(cause error) error {
	var violation *ledger.ViolationError
	if errors.As(cause, &violation) {
		return cause
	}
	if _, err := d.run.Ledger.Append(d.run.ID, ledger.EventAbort, "system", map[string]any{
		"reason": cause.Error(),
	}); err != nil {
		return err
	}
	return cause
}

func (d *Driver) trackStage(ctx context.Context, role contracts.Role) (context.Context, func(error)) {
	if d.run.Obs == nil {
		return ctx, func(error) {}
	}
	return d.run.Obs.TrackStage(ctx, string(role))
}

// BuildProvenanceFooter renders the deterministic provenance footer
// appended to every live final report.
func BuildProvenanceFooter(r *Run, topic string, items []EvidenceItem, identityWrote bool) string {
	sources := make(map[string]bool)
	for _, item := range items {
		if src, ok := item.Payload["source_url"].(string); ok && src != "" {
			sources[src] = true
		}
	}
	sourceList := make([]string, 0, len(sources))
	for src := range sources {
		sourceList = append(sourceList, src)
	}
	sort.Strings(sourceList)
	return renderFooter("Live Execution", canonicalize.QueryHash(topic), len(items), sourceList, identityWrote, r.Now())
}

func renderFooter(mode, queryHash string, evidenceCount int, sources []string, identityWrote bool, now time.Time) string {
	sourcesStr := "none"
	if len(sources) > 0 {
		sourcesStr = strings.Join(sources, ", ")
	}
	writesStr := "no"
	if identityWrote {
		writesStr = "yes"
	}
	return fmt.Sprintf(
		"\n\n---\n### Execution Provenance\n"+
			"- Mode: %s\n"+
			"- Query Hash: %s\n"+
			"- Evidence Collected: %d\n"+
			"- Sources Used: %s\n"+
			"- Identity Writes: %s\n"+
			"- Timestamp (UTC): %s",
		mode,
		queryHash,
		evidenceCount,
		sourcesStr,
		writesStr,
		now.UTC().Format("2006-01-02T15:04:05Z07:00"),
	)
}

func switchStates(s killswitch.RunSwitches) map[string]bool {
	out := make(map[string]bool)
	for name, disabled := range s.States() {
		out[string(name)] = disabled
	}
	return out
}
