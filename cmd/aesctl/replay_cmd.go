package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/contracts"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/replay"
)

// runReplayVerifyCmd implements `aesctl replay-verify`.
//
// Compares two run snapshots dimension by dimension (report text,
// telemetry, ledger hashes, evidence IDs) and reports the first
// divergence.
//
// Exit codes:
//
//	0 = snapshots equivalent
//	1 = determinism violation
//	2 = runtime error
func runReplayVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("replay-verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		originalPath string
		replayPath   string
	)

	cmd.StringVar(&originalPath, "original", "", "Path to the original run snapshot JSON (REQUIRED)")
	cmd.StringVar(&replayPath, "replay", "", "Path to the replay run snapshot JSON (REQUIRED)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if originalPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --original is required")
		return 2
	}
	if replayPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --replay is required")
		return 2
	}

	original, err := loadSnapshot(originalPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	replayed, err := loadSnapshot(replayPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if err := replay.Verify(original, replayed); err != nil {
		var violation *replay.DeterminismViolationError
		if errors.As(err, &violation) {
			_, _ = fmt.Fprintln(stdout, violation.Error())
			return 1
		}
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	_, _ = fmt.Fprintf(stdout, "✅ Replay verified: %s matches %s\n", replayed.RunID, original.RunID)
	return 0
}

func loadSnapshot(path string) (*contracts.RunSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	var snap contracts.RunSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", path, err)
	}
	return &snap, nil
}
