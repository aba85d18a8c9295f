package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/config"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/contracts"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/evidence"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/identity"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/killswitch"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/ledger"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/manifest"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/observability"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/override"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/pipeline"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/plan"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/policy"
)

// runRunCmd implements `aesctl run`: the full four-stage pipeline over
// stub tool adapters, writing the ledger and run snapshot to the data
// directory.
//
// Exit codes:
//
//	0 = run completed
//	1 = run failed (red line, abort)
//	2 = runtime error
func runRunCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("run", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		topic       string
		disable     string
		snapOut     string
		overrideTok string
	)

	cmd.StringVar(&topic, "topic", "AI safety news", "Run topic")
	cmd.StringVar(&disable, "disable", "", "Comma-separated kill switches to disable (TRUE_REUSE,EVIDENCE_REUSE,GROUNDING,LEARNING)")
	cmd.StringVar(&snapOut, "snapshot-out", "", "Write the run snapshot JSON to this file")
	cmd.StringVar(&overrideTok, "override", "", "Operator override token (see issue-override)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	logger := observability.NewLogger(cfg.LogLevel)
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: create data dir: %v\n", err)
		return 2
	}

	led, err := ledger.NewFileLedger(filepath.Join(cfg.DataDir, "ledger.jsonl"))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open ledger: %v\n", err)
		return 2
	}

	registry := killswitch.NewRegistry()
	if disable != "" {
		for _, name := range strings.Split(disable, ",") {
			if err := registry.Set(killswitch.Switch(strings.TrimSpace(name)), true); err != nil {
				_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
				return 2
			}
		}
	}

	store, err := evidence.Open(cfg.EvidenceDBPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open evidence store: %v\n", err)
		return 2
	}
	defer store.Close()

	man := manifest.Default()
	idGate, err := identity.NewGate(man, cfg.SuccessPredicate)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: compile success predicate: %v\n", err)
		return 2
	}
	facts := identity.NewFactsStore(filepath.Join(cfg.DataDir, "identity.json"))

	var overrideGate *override.Gate
	if overrideTok != "" {
		if cfg.OverrideSecret == "" {
			_, _ = fmt.Fprintln(stderr, "Error: AES_OVERRIDE_SECRET is not set")
			return 2
		}
		overrideGate, err = override.NewGate([]byte(cfg.OverrideSecret))
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}

	memory := policy.NewMemory(cfg.DataDir, led)
	weights, err := memory.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: load policy weights: %v\n", err)
		return 2
	}

	run, err := pipeline.NewRun(pipeline.Options{
		Ledger:         led,
		Switches:       registry.Snapshot(),
		Manifest:       man,
		Evidence:       store,
		Identity:       facts,
		IdentityGate:   idGate,
		Logger:         logger,
		InitialWeights: weights,
		Memory:         memory,
		OverrideGate:   overrideGate,
		OverrideToken:  overrideTok,
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	driver := pipeline.NewDriver(run, stubPlanner{}, stubTools{}, stubReporter{})
	result, err := driver.Execute(context.Background(), topic)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: run %s failed: %v\n", run.ID, err)
		return 1
	}

	_, _ = fmt.Fprintln(stdout, result.Report)
	_, _ = fmt.Fprintf(stdout, "\nRun: %s\nEvidence: %d\nFallback: %v\n",
		result.RunID, len(result.EvidenceIDs), result.FallbackReport)

	if snapOut != "" {
		data, err := json.MarshalIndent(result.Snapshot, "", "  ")
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: encode snapshot: %v\n", err)
			return 2
		}
		if err := os.WriteFile(snapOut, data, 0o644); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: write snapshot: %v\n", err)
			return 2
		}
		_, _ = fmt.Fprintf(stdout, "Snapshot written to %s\n", snapOut)
	}
	return 0
}

// Stub role implementations for offline demo runs. Real deployments
// plug model-backed agents into the same interfaces.

type stubPlanner struct{}

func (stubPlanner) Plan(_ context.Context, topic string) (*pipeline.PlanResult, error) {
	return &pipeline.PlanResult{
		Goal: "digest " + topic,
		Steps: []plan.Step{
			{ID: "fetch", Owner: contracts.RoleExecutor, Goal: "collect recent items"},
		},
		Actions: map[string]contracts.ProposedAction{
			"fetch": {
				Role:   contracts.RoleExecutor,
				Type:   contracts.ActionInvokeTool,
				Tool:   contracts.ToolDataFetchRSS,
				Params: map[string]string{"query": topic},
			},
		},
	}, nil
}

type stubTools struct{}

func (stubTools) Invoke(_ context.Context, tool string, params map[string]string) (*contracts.ToolResult, error) {
	return &contracts.ToolResult{
		Tool:    tool,
		Success: true,
		Payload: map[string]any{
			"title":      "Weekly digest item for " + params["query"],
			"summary":    "Stub tool output for offline runs.",
			"source_url": "https://feeds.example.com/stub",
		},
		SourceURL: "https://feeds.example.com/stub",
	}, nil
}

type stubReporter struct{}

func (stubReporter) Report(_ context.Context, topic string, items []pipeline.EvidenceItem) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "# Digest: %s\n\n", topic)
	for _, item := range items {
		title, _ := item.Payload["title"].(string)
		fmt.Fprintf(&b, "- %s [%s]\n", title, item.ID)
	}
	return b.String(), nil
}
