// Package contracts defines the shared data model of the control plane:
// agent roles, proposed and approved actions, tool results, and run
// snapshots. External collaborators (the LLM planner, tool adapters)
// interact with the control plane only through these shapes.
package contracts

// Role identifies an agent role in the pipeline.
type Role string

// The four pipeline roles, in fixed execution order.
const (
	RolePlanner   Role = "planner"
	RoleValidator Role = "validator"
	RoleExecutor  Role = "executor"
	RoleReporter  Role = "reporter"
)

// RoleOrder is the fixed execution order enforced by the turn scheduler.
var RoleOrder = []Role{RolePlanner, RoleValidator, RoleExecutor, RoleReporter}

// ValidRole reports whether r names a known pipeline role.
func ValidRole(r Role) bool {
	for _, known := range RoleOrder {
		if r == known {
			return true
		}
	}
	return false
}
