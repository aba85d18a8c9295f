package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/config"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/override"
)

// runIssueOverrideCmd implements `aesctl issue-override`.
//
// Mints a signed single-guard override token from the deployment
// secret. The token is applied (and ledger-logged) by the run that
// receives it, not here.
//
// Exit codes:
//
//	0 = token issued
//	2 = runtime error
func runIssueOverrideCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("issue-override", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		typ      string
		operator string
		reason   string
	)

	cmd.StringVar(&typ, "type", "", "Override type: reuse_denial, kill_switch, or fallback_abort (REQUIRED)")
	cmd.StringVar(&operator, "operator", "", "Operator ID (REQUIRED)")
	cmd.StringVar(&reason, "reason", "", "Reason for the override (REQUIRED)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if typ == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --type is required")
		return 2
	}
	if operator == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --operator is required")
		return 2
	}
	if reason == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --reason is required")
		return 2
	}

	cfg := config.Load()
	if cfg.OverrideSecret == "" {
		_, _ = fmt.Fprintln(stderr, "Error: AES_OVERRIDE_SECRET is not set")
		return 2
	}

	gate, err := override.NewGate([]byte(cfg.OverrideSecret))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	tok, err := gate.Issue(override.OverrideType(typ), operator, reason)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	_, _ = fmt.Fprintln(stdout, tok.String())
	return 0
}
