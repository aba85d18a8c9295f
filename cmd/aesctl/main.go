package main

import (
	"fmt"
	"io"
	"os"
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "run":
		return runRunCmd(args[2:], stdout, stderr)
	case "verify-ledger":
		return runVerifyLedgerCmd(args[2:], stdout, stderr)
	case "replay-verify":
		return runReplayVerifyCmd(args[2:], stdout, stderr)
	case "export":
		return runExportCmd(args[2:], stdout, stderr)
	case "issue-override":
		return runIssueOverrideCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "aesctl — autonomy control plane CLI")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  aesctl run           Run the demo pipeline over stub tools")
	fmt.Fprintln(w, "  aesctl verify-ledger Verify a run's ledger hash chain")
	fmt.Fprintln(w, "  aesctl replay-verify Compare two run snapshots for determinism")
	fmt.Fprintln(w, "  aesctl export        Build a compliance archive for a run")
	fmt.Fprintln(w, "  aesctl issue-override Mint a signed operator override token")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Run 'aesctl <command> -h' for command flags.")
}
