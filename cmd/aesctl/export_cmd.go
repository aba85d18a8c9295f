package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/export"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/killswitch"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/ledger"
)

// runExportCmd implements `aesctl export`.
//
// Builds a compliance archive for a completed run from its ledger and
// writes the canonicalized JSON to a content-addressed store. The ledger
// is never mutated.
//
// Exit codes:
//
//	0 = archive written
//	1 = run ledger failed verification
//	2 = runtime error
func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		ledgerPath string
		runID      string
		outDir     string
	)

	cmd.StringVar(&ledgerPath, "ledger", "", "Path to ledger file (REQUIRED)")
	cmd.StringVar(&runID, "run", "", "Run ID to export (REQUIRED)")
	cmd.StringVar(&outDir, "out", "", "Output directory for the archive (REQUIRED)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if ledgerPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --ledger is required")
		return 2
	}
	if runID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --run is required")
		return 2
	}
	if outDir == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --out is required")
		return 2
	}

	led, err := ledger.NewFileLedger(ledgerPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open ledger: %v\n", err)
		return 2
	}
	defer led.Close()

	if err := led.VerifyIntegrity(runID); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: run %s failed ledger verification: %v\n", runID, err)
		return 1
	}

	entries, err := led.Entries(runID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: read run entries: %v\n", err)
		return 2
	}
	evidenceIDs := evidenceIDsFromEntries(entries)

	archive, err := export.NewBuilder(runID).Build(
		led, evidenceIDs, "", killswitch.NewRegistry().Snapshot(), nil)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: build archive: %v\n", err)
		return 2
	}

	data, hash, err := export.Encode(archive)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: encode archive: %v\n", err)
		return 2
	}

	store, err := export.NewFileStore(outDir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open archive store: %v\n", err)
		return 2
	}
	if _, err := store.Store(context.Background(), data); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: write archive: %v\n", err)
		return 2
	}

	_, _ = fmt.Fprintf(stdout, "✅ Archive exported: %s\n", hash)
	_, _ = fmt.Fprintf(stdout, "   Run: %s\n   Ledger entries: %d\n   Evidence: %d\n",
		runID, len(archive.RunLedger), len(evidenceIDs))
	return 0
}

func evidenceIDsFromEntries(entries []ledger.Entry) []string {
	var ids []string
	for _, e := range entries {
		if e.Event != ledger.EventEvidenceStored {
			continue
		}
		if id, ok := e.Payload["evidence_id"].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids
}
