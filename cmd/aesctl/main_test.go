package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/contracts"
	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/ledger"
)

func TestRunDispatcher(t *testing.T) {
	var stdout, stderr bytes.Buffer

	assert.Equal(t, 2, Run([]string{"aesctl"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "Usage:")

	stderr.Reset()
	assert.Equal(t, 2, Run([]string{"aesctl", "bogus"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "Unknown command: bogus")

	stdout.Reset()
	assert.Equal(t, 0, Run([]string{"aesctl", "help"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "aesctl")
}

func TestVerifyLedgerCmd(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.jsonl")

	led, err := ledger.NewFileLedger(path)
	require.NoError(t, err)
	_, err = led.Append("run_1", ledger.EventRunStarted, "system", map[string]any{"topic": "t"})
	require.NoError(t, err)
	_, err = led.Append("run_1", ledger.EventRunCompleted, "system", nil)
	require.NoError(t, err)
	require.NoError(t, led.Close())

	var stdout, stderr bytes.Buffer
	code := Run([]string{"aesctl", "verify-ledger", "-ledger", path, "-run", "run_1"}, &stdout, &stderr)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "Ledger verified")

	stdout.Reset()
	code = Run([]string{"aesctl", "verify-ledger"}, &stdout, &stderr)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "--ledger is required")
}

func TestReplayVerifyCmd(t *testing.T) {
	dir := t.TempDir()

	snap := contracts.RunSnapshot{
		RunID:           "run_1",
		FinalReport:     "# Digest\n\n- item\n",
		FinalReportHash: "sha256:abc",
		LedgerHashes:    []string{"sha256:h1"},
		EvidenceIDs:     []string{"ev_1"},
	}
	original := filepath.Join(dir, "original.json")
	replayed := filepath.Join(dir, "replay.json")
	writeSnapshot(t, original, snap)
	writeSnapshot(t, replayed, snap)

	var stdout, stderr bytes.Buffer
	code := Run([]string{"aesctl", "replay-verify", "-original", original, "-replay", replayed}, &stdout, &stderr)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "Replay verified")

	snap.FinalReport = "# Digest\n\n- other\n"
	writeSnapshot(t, replayed, snap)

	stdout.Reset()
	code = Run([]string{"aesctl", "replay-verify", "-original", original, "-replay", replayed}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout.String(), "Determinism Violation")
}

func TestExportCmd(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.jsonl")

	led, err := ledger.NewFileLedger(path)
	require.NoError(t, err)
	_, err = led.Append("run_1", ledger.EventRunStarted, "system", map[string]any{"topic": "t"})
	require.NoError(t, err)
	_, err = led.Append("run_1", ledger.EventEvidenceStored, "agent:executor", map[string]any{"evidence_id": "ev_1"})
	require.NoError(t, err)
	require.NoError(t, led.Close())

	outDir := filepath.Join(dir, "archives")
	var stdout, stderr bytes.Buffer
	code := Run([]string{"aesctl", "export", "-ledger", path, "-run", "run_1", "-out", outDir}, &stdout, &stderr)
	assert.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "Archive exported: sha256:")

	files, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func writeSnapshot(t *testing.T, path string, snap contracts.RunSnapshot) {
	t.Helper()
	data, err := json.Marshal(snap)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}
