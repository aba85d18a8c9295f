// Package manifest defines per-role capability manifests and the
// action check enforced at the approval gate.
//
// A manifest is loaded once from YAML at process start and treated as
// immutable afterwards; every read hands out a deep copy. Load-time
// validation guarantees exactly one role may write identity and that
// the declared role set matches the pipeline's roles.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/contracts"
)

// Capabilities lists what a single role is permitted to do.
type Capabilities struct {
	ReadIdentity  bool     `yaml:"read_identity" json:"read_identity"`
	WriteIdentity bool     `yaml:"write_identity" json:"write_identity"`
	ReadEvidence  bool     `yaml:"read_evidence" json:"read_evidence"`
	WriteEvidence bool     `yaml:"write_evidence" json:"write_evidence"`
	InvokeTools   []string `yaml:"invoke_tools" json:"invoke_tools"`
}

// Manifest maps each pipeline role to its capability set.
type Manifest struct {
	roles map[contracts.Role]Capabilities
}

// CapabilityViolationError reports a denied action.
type CapabilityViolationError struct {
	Role   contracts.Role
	Action contracts.ActionType
	Tool   string
}

func (e *CapabilityViolationError) Error() string {
	if e.Tool != "" {
		return fmt.Sprintf("role %q may not %s tool %q", e.Role, e.Action, e.Tool)
	}
	return fmt.Sprintf("role %q may not %s", e.Role, e.Action)
}

// manifestFile is the on-disk YAML shape.
type manifestFile struct {
	Roles map[string]Capabilities `yaml:"roles"`
}

// Load reads and validates a manifest from a YAML file.
func Load(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(raw)
}

// Parse validates and builds a manifest from YAML bytes.
func Parse(raw []byte) (*Manifest, error) {
	var file manifestFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	roles := make(map[contracts.Role]Capabilities, len(file.Roles))
	for name, caps := range file.Roles {
		role := contracts.Role(name)
		if !contracts.ValidRole(role) {
			return nil, fmt.Errorf("manifest declares unknown role %q", name)
		}
		roles[role] = copyCaps(caps)
	}
	m := &Manifest{roles: roles}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Default returns the built-in manifest: only the executor invokes
// tools, only the reporter writes identity.
func Default() *Manifest {
	return &Manifest{roles: map[contracts.Role]Capabilities{
		contracts.RolePlanner: {
			ReadIdentity: true,
			ReadEvidence: true,
		},
		contracts.RoleValidator: {
			ReadEvidence: true,
		},
		contracts.RoleExecutor: {
			ReadEvidence:  true,
			WriteEvidence: true,
			InvokeTools: []string{
				contracts.ToolDataFetchRSS,
				contracts.ToolDataFetchAPI,
				contracts.ToolBrowserSearch,
			},
		},
		contracts.RoleReporter: {
			ReadIdentity:  true,
			WriteIdentity: true,
			ReadEvidence:  true,
			InvokeTools: []string{
				contracts.ToolCompleteTask,
				contracts.ToolStructuredSummary,
			},
		},
	}}
}

func (m *Manifest) validate() error {
	if len(m.roles) != len(contracts.RoleOrder) {
		return fmt.Errorf("manifest declares %d roles, want %d", len(m.roles), len(contracts.RoleOrder))
	}
	for _, role := range contracts.RoleOrder {
		if _, declared := m.roles[role]; !declared {
			return fmt.Errorf("manifest missing role %q", role)
		}
	}
	writers := 0
	for _, caps := range m.roles {
		if caps.WriteIdentity {
			writers++
		}
	}
	if writers != 1 {
		return fmt.Errorf("manifest must grant write_identity to exactly one role, got %d", writers)
	}
	return nil
}

// Capabilities returns a deep copy of the role's capability set.
func (m *Manifest) Capabilities(role contracts.Role) (Capabilities, bool) {
	caps, found := m.roles[role]
	if !found {
		return Capabilities{}, false
	}
	return copyCaps(caps), true
}

// ValidateAction checks a single (role, action, tool) triple against
// the manifest. Pure lookup: no I/O, no state.
func (m *Manifest) ValidateAction(role contracts.Role, action contracts.ActionType, tool string) error {
	caps, found := m.roles[role]
	if !found {
		return &CapabilityViolationError{Role: role, Action: action, Tool: tool}
	}
	allowed := false
	switch action {
	case contracts.ActionReadIdentity:
		allowed = caps.ReadIdentity
	case contracts.ActionWriteIdentity:
		allowed = caps.WriteIdentity
	case contracts.ActionReadEvidence:
		allowed = caps.ReadEvidence
	case contracts.ActionWriteEvidence:
		allowed = caps.WriteEvidence
	case contracts.ActionInvokeTool:
		for _, name := range caps.InvokeTools {
			if name == tool {
				allowed = true
				break
			}
		}
	}
	if !allowed {
		return &CapabilityViolationError{Role: role, Action: action, Tool: tool}
	}
	return nil
}

// IdentityWriter returns the single role granted write_identity.
func (m *Manifest) IdentityWriter() contracts.Role {
	for role, caps := range m.roles {
		if caps.WriteIdentity {
			return role
		}
	}
	return "" // unreachable after validate
}

// ExportJSON renders the capability map as deterministic JSON (roles
// and tool lists sorted) for external auditors.
func (m *Manifest) ExportJSON() ([]byte, error) {
	names := make([]string, 0, len(m.roles))
	for role := range m.roles {
		names = append(names, string(role))
	}
	sort.Strings(names)

	ordered := make([]map[string]any, 0, len(names))
	for _, name := range names {
		caps := copyCaps(m.roles[contracts.Role(name)])
		sort.Strings(caps.InvokeTools)
		ordered = append(ordered, map[string]any{
			"role":         name,
			"capabilities": caps,
		})
	}
	out, err := json.MarshalIndent(map[string]any{"roles": ordered}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export capability map: %w", err)
	}
	return out, nil
}

func copyCaps(caps Capabilities) Capabilities {
	out := caps
	out.InvokeTools = append([]string(nil), caps.InvokeTools...)
	return out
}
