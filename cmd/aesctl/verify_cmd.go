package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/ledger"
)

// runVerifyLedgerCmd implements `aesctl verify-ledger`.
//
// Re-walks the hash chain of a run's ledger and reports the first entry
// whose hash does not match its recomputed value.
//
// Exit codes:
//
//	0 = chain intact
//	1 = chain broken
//	2 = runtime error
func runVerifyLedgerCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify-ledger", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		ledgerPath string
		runID      string
	)

	cmd.StringVar(&ledgerPath, "ledger", "", "Path to ledger file (REQUIRED)")
	cmd.StringVar(&runID, "run", "", "Run ID to verify; verifies all runs when omitted")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if ledgerPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --ledger is required")
		return 2
	}

	led, err := ledger.NewFileLedger(ledgerPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open ledger: %v\n", err)
		return 2
	}
	defer led.Close()

	if runID != "" {
		if err := led.VerifyIntegrity(runID); err != nil {
			_, _ = fmt.Fprintf(stdout, "❌ Ledger verification FAILED for %s: %v\n", runID, err)
			return 1
		}
		entries, _ := led.Entries(runID)
		_, _ = fmt.Fprintf(stdout, "✅ Ledger verified: %s (%d entries)\n", runID, len(entries))
		return 0
	}

	if err := led.VerifyAll(); err != nil {
		_, _ = fmt.Fprintf(stdout, "❌ Ledger verification FAILED: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "✅ Ledger verified: %d runs\n", len(led.RunIDs()))
	return 0
}
