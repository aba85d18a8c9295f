// Package pipeline wires one run of the four-role pipeline: a Run
// context carrying every per-run dependency (no globals), the approval
// gate that turns proposals into single-use approved actions, the
// retry-bounded executor, and the sequential stage driver.
package pipeline

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/config"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/evidence"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/firewall"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/identity"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/killswitch"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/ledger"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/manifest"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/observability"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/override"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/policy"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/retry"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/scheduler"
)

// Options configures a Run. Ledger and Manifest are required; the rest
// default to safe stand-ins (no evidence persistence, default retry
// bounds, permissive networking, disabled observability).
type Options struct {
	Ledger         ledger.Ledger
	Switches       killswitch.RunSwitches
	Manifest       *manifest.Manifest
	Evidence       *evidence.Store
	Profile        *config.RunProfile
	RetryConfig    retry.Config
	RetryGate      *retry.Gate
	Identity       *identity.FactsStore
	IdentityGate   *identity.Gate
	Obs            *observability.Provider
	Logger         *slog.Logger
	Clock          func() time.Time
	InitialWeights map[string]float64
	Memory         *policy.Memory
	Quarantine     *killswitch.QuarantineList
	OverrideGate   *override.Gate
	OverrideToken  string
}

// Run is the per-run context. Everything a stage touches hangs off it;
// nothing is process-global.
type Run struct {
	ID        string
	Ledger    ledger.Ledger
	Switches  killswitch.RunSwitches
	Manifest  *manifest.Manifest
	Evidence  *evidence.Store
	Profile   *config.RunProfile
	RetryCfg  retry.Config
	RetryGate *retry.Gate
	Identity  *identity.FactsStore
	IDGate    *identity.Gate
	Learning  *policy.Controller
	Memory    *policy.Memory
	Enforcer  *ledger.Enforcer

	// Quarantine is optional; a nil list allows every role.
	Quarantine *killswitch.QuarantineList
	Scheduler *scheduler.Scheduler
	Obs       *observability.Provider
	Logger    *slog.Logger

	clock            func() time.Time
	initialWeights   map[string]float64
	overrideGate     *override.Gate
	overrideToken    string
	payloadValidator *firewall.MessageValidator

	mu          sync.Mutex
	proposals   map[string]int // fingerprint -> times approved
	evidenceIDs []string
	retriesUsed int
	telemetry   map[string]int
}

// NewRun builds a run context with a fresh run ID.
func NewRun(opts Options) (*Run, error) {
	if opts.Ledger == nil {
		return nil, fmt.Errorf("pipeline run requires a ledger")
	}
	if opts.Manifest == nil {
		return nil, fmt.Errorf("pipeline run requires a capability manifest")
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RetryConfig == (retry.Config{}) {
		opts.RetryConfig = retry.DefaultConfig()
	}
	if opts.RetryGate == nil {
		opts.RetryGate = retry.NewGate(10, 10)
	}
	if len(opts.Switches.States()) == 0 {
		opts.Switches = killswitch.NewRegistry().Snapshot()
	}

	runID := "run_" + uuid.NewString()

	sched := scheduler.New().WithClock(opts.Clock)
	if opts.Profile != nil && opts.Profile.TurnCapPerRole > 0 {
		sched = scheduler.NewWithCap(opts.Profile.TurnCapPerRole).WithClock(opts.Clock)
	}

	return &Run{
		ID:               runID,
		Ledger:           opts.Ledger,
		Switches:         opts.Switches,
		Manifest:         opts.Manifest,
		Evidence:         opts.Evidence,
		Profile:          opts.Profile,
		RetryCfg:         opts.RetryConfig,
		RetryGate:        opts.RetryGate,
		Identity:         opts.Identity,
		IDGate:           opts.IdentityGate,
		Learning:         policy.NewController(opts.Ledger, runID),
		Memory:           opts.Memory,
		Enforcer:         ledger.NewEnforcer(opts.Ledger, runID),
		Quarantine:       opts.Quarantine,
		Scheduler:        sched,
		Obs:              opts.Obs,
		Logger:           opts.Logger.With("run_id", runID),
		clock:            opts.Clock,
		initialWeights:   opts.InitialWeights,
		overrideGate:     opts.OverrideGate,
		overrideToken:    opts.OverrideToken,
		payloadValidator: firewall.DefaultToolResultValidator(),
		proposals:        make(map[string]int),
		telemetry:        make(map[string]int),
	}, nil
}

// Now returns the run's current time.
func (r *Run) Now() time.Time { return r.clock() }

// EvidenceIDs returns the evidence collected so far, in storage order.
func (r *Run) EvidenceIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.evidenceIDs...)
}

// RetriesUsed returns the total retry attempts granted this run.
func (r *Run) RetriesUsed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retriesUsed
}

func (r *Run) recordEvidence(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evidenceIDs = append(r.evidenceIDs, id)
}

func (r *Run) recordRetry() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retriesUsed++
}

func (r *Run) count(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.telemetry[key]++
}

// Telemetry returns the run's counters as a snapshot.
func (r *Run) Telemetry() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]any, len(r.telemetry)+1)
	for k, v := range r.telemetry {
		out[k] = v
	}
	out["retries_used"] = r.retriesUsed
	out["evidence_count"] = len(r.evidenceIDs)
	return out
}
