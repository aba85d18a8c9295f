package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// RunProfile is a named pipeline configuration: the task framing, the
// outbound URL policy for tool calls, retry limits, and which switches
// start disabled.
type RunProfile struct {
	Name             string           `yaml:"name" json:"name"`
	Code             string           `yaml:"code" json:"code"`
	Topic            string           `yaml:"topic" json:"topic"`
	TurnCapPerRole   int              `yaml:"turn_cap_per_role,omitempty" json:"turn_cap_per_role,omitempty"`
	SuccessPredicate string           `yaml:"success_predicate,omitempty" json:"success_predicate,omitempty"`
	Networking       NetworkingConfig `yaml:"networking" json:"networking"`
	Retry            RetryConfig      `yaml:"retry" json:"retry"`
	DisabledSwitches []string         `yaml:"disabled_switches,omitempty" json:"disabled_switches,omitempty"`
	FreshnessMinutes int              `yaml:"freshness_minutes,omitempty" json:"freshness_minutes,omitempty"`
}

// NetworkingConfig controls outbound networking for tool invocations.
type NetworkingConfig struct {
	OutboundMode string   `yaml:"outbound_mode" json:"outbound_mode"` // "allowlist" | "denylist" | "island"
	Allowlist    []string `yaml:"allowlist,omitempty" json:"allowlist,omitempty"`
	Denylist     []string `yaml:"denylist,omitempty" json:"denylist,omitempty"`
	IslandMode   bool     `yaml:"island_mode" json:"island_mode"` // if true, block all outbound
}

// RetryConfig overrides retry limits per profile. Zero values fall back
// to the built-in defaults.
type RetryConfig struct {
	MaxGlobalRetries int `yaml:"max_global_retries,omitempty" json:"max_global_retries,omitempty"`
	MaxCostUnits     int `yaml:"max_cost_units,omitempty" json:"max_cost_units,omitempty"`
}

// LoadProfile loads a run profile YAML by code. It searches the
// profiles directory for profile_<code>.yaml.
func LoadProfile(profilesDir, code string) (*RunProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	var profile RunProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}

	if profile.Code == "" {
		profile.Code = code
	}

	return &profile, nil
}

// LoadAllProfiles loads all profile_*.yaml files from the profiles
// directory, keyed by code.
func LoadAllProfiles(profilesDir string) (map[string]*RunProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*RunProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile RunProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if profile.Code == "" {
			// Extract code from filename: profile_default.yaml -> default
			base := filepath.Base(path)
			profile.Code = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}

		profiles[profile.Code] = &profile
	}

	return profiles, nil
}

// IsIslandMode returns true if the profile blocks all outbound tool
// networking.
func (p *RunProfile) IsIslandMode() bool {
	return p.Networking.IslandMode || p.Networking.OutboundMode == "island"
}

// IsAllowed checks if a hostname is allowed by the networking policy.
func (p *RunProfile) IsAllowed(hostname string) bool {
	if p.IsIslandMode() {
		return false
	}

	switch p.Networking.OutboundMode {
	case "allowlist":
		for _, h := range p.Networking.Allowlist {
			if h == hostname {
				return true
			}
		}
		return false
	case "denylist":
		for _, h := range p.Networking.Denylist {
			if h == hostname {
				return false
			}
		}
		return true
	default:
		return true
	}
}
