package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/config"
)

// TestLoad_Defaults verifies that Load() returns sensible defaults
// when no environment variables are set.
// Invariant: System must boot with safe defaults in dev mode.
func TestLoad_Defaults(t *testing.T) {
	// Ensure clean env
	t.Setenv("AES_DATA_DIR", "")
	t.Setenv("AES_LOG_LEVEL", "")
	t.Setenv("AES_LEDGER_BACKEND", "")
	t.Setenv("AES_DATABASE_URL", "")
	t.Setenv("AES_EVIDENCE_DB", "")

	cfg := config.Load()

	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "file", cfg.LedgerBackend)
	assert.Contains(t, cfg.DatabaseURL, "localhost") // Default is local
	assert.Equal(t, "data/evidence.db", cfg.EvidenceDBPath)
}

// TestLoad_Overrides verifies that environment variables correctly
// override default values.
// Invariant: Ops can control config via standard 12-factor env vars.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("AES_DATA_DIR", "/var/lib/aes")
	t.Setenv("AES_LOG_LEVEL", "DEBUG")
	t.Setenv("AES_LEDGER_BACKEND", "postgres")
	t.Setenv("AES_DATABASE_URL", "postgres://production:5432/db")
	t.Setenv("AES_EVIDENCE_DB", "/var/lib/aes/ev.db")
	t.Setenv("AES_SUCCESS_PREDICATE", "evidence_count >= 1")

	cfg := config.Load()

	assert.Equal(t, "/var/lib/aes", cfg.DataDir)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "postgres", cfg.LedgerBackend)
	assert.Equal(t, "postgres://production:5432/db", cfg.DatabaseURL)
	assert.Equal(t, "/var/lib/aes/ev.db", cfg.EvidenceDBPath)
	assert.Equal(t, "evidence_count >= 1", cfg.SuccessPredicate)
}

const sampleProfile = `
name: Default news digest
topic: AI safety news
turn_cap_per_role: 2
success_predicate: has_evidence && !fallback_report
networking:
  outbound_mode: allowlist
  allowlist:
    - feeds.example.com
    - api.example.com
retry:
  max_global_retries: 5
  max_cost_units: 100
disabled_switches:
  - LEARNING
freshness_minutes: 30
`

func writeProfile(t *testing.T, dir, code, content string) {
	t.Helper()
	path := filepath.Join(dir, "profile_"+code+".yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "default", sampleProfile)

	p, err := config.LoadProfile(dir, "DEFAULT")
	require.NoError(t, err)

	assert.Equal(t, "default", p.Code, "code falls back to filename")
	assert.Equal(t, "AI safety news", p.Topic)
	assert.Equal(t, 2, p.TurnCapPerRole)
	assert.Equal(t, []string{"LEARNING"}, p.DisabledSwitches)
	assert.Equal(t, 5, p.Retry.MaxGlobalRetries)
}

func TestLoadProfileMissing(t *testing.T) {
	_, err := config.LoadProfile(t.TempDir(), "nope")
	require.Error(t, err)
}

func TestLoadAllProfiles(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "default", sampleProfile)
	writeProfile(t, dir, "offline", "name: Offline\nnetworking:\n  outbound_mode: island\n")

	profiles, err := config.LoadAllProfiles(dir)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.True(t, profiles["offline"].IsIslandMode())
	assert.False(t, profiles["default"].IsIslandMode())
}

func TestNetworkingPolicy(t *testing.T) {
	allow := &config.RunProfile{Networking: config.NetworkingConfig{
		OutboundMode: "allowlist",
		Allowlist:    []string{"feeds.example.com"},
	}}
	assert.True(t, allow.IsAllowed("feeds.example.com"))
	assert.False(t, allow.IsAllowed("evil.example.com"))

	deny := &config.RunProfile{Networking: config.NetworkingConfig{
		OutboundMode: "denylist",
		Denylist:     []string{"evil.example.com"},
	}}
	assert.False(t, deny.IsAllowed("evil.example.com"))
	assert.True(t, deny.IsAllowed("feeds.example.com"))

	island := &config.RunProfile{Networking: config.NetworkingConfig{IslandMode: true}}
	assert.False(t, island.IsAllowed("feeds.example.com"))
}
