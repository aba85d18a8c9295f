// Package plan validates task plans before any step executes.
//
// A plan passes structural validation as a whole: any empty, cyclic,
// or mis-owned plan is rejected up front, never discovered mid-run.
package plan

import (
	"fmt"

	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/contracts"
)

// Reason codes carried by InvalidPlanError.
const (
	ReasonEmptyPlan     = "empty_plan"
	ReasonDuplicateStep = "duplicate_step"
	ReasonUnknownDep    = "unknown_dependency"
	ReasonCycle         = "dependency_cycle"
	ReasonInvalidOwner  = "invalid_owner"
	ReasonMissingStepID = "missing_step_id"
)

// Step is one unit of work in a plan.
type Step struct {
	ID        string         `json:"id"`
	Owner     contracts.Role `json:"owner"`
	Goal      string         `json:"goal"`
	DependsOn []string       `json:"depends_on,omitempty"`
}

// TaskPlan is a validated plan. Construct only via Validate.
type TaskPlan struct {
	Goal  string `json:"goal"`
	Steps []Step `json:"steps"`
}

// InvalidPlanError reports why a plan was rejected.
type InvalidPlanError struct {
	Reason string
	Detail string
}

func (e *InvalidPlanError) Error() string {
	return fmt.Sprintf("invalid plan (%s): %s", e.Reason, e.Detail)
}

// Validate checks a candidate plan and returns it as a TaskPlan.
func Validate(goal string, steps []Step) (*TaskPlan, error) {
	if len(steps) == 0 {
		return nil, &InvalidPlanError{Reason: ReasonEmptyPlan, Detail: "plan has no steps"}
	}
	byID := make(map[string]Step, len(steps))
	for _, step := range steps {
		if step.ID == "" {
			return nil, &InvalidPlanError{Reason: ReasonMissingStepID, Detail: "step with empty id"}
		}
		if _, dup := byID[step.ID]; dup {
			return nil, &InvalidPlanError{Reason: ReasonDuplicateStep, Detail: fmt.Sprintf("step %q declared twice", step.ID)}
		}
		if !contracts.ValidRole(step.Owner) {
			return nil, &InvalidPlanError{Reason: ReasonInvalidOwner, Detail: fmt.Sprintf("step %q owned by unknown role %q", step.ID, step.Owner)}
		}
		byID[step.ID] = step
	}
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, known := byID[dep]; !known {
				return nil, &InvalidPlanError{Reason: ReasonUnknownDep, Detail: fmt.Sprintf("step %q depends on unknown step %q", step.ID, dep)}
			}
		}
	}
	if cyclic := findCycle(steps, byID); cyclic != "" {
		return nil, &InvalidPlanError{Reason: ReasonCycle, Detail: fmt.Sprintf("dependency cycle through step %q", cyclic)}
	}
	plan := &TaskPlan{Goal: goal, Steps: append([]Step(nil), steps...)}
	return plan, nil
}

// findCycle runs DFS with a recursion-path set; returns a step on a
// cycle, or "" when the graph is acyclic.
func findCycle(steps []Step, byID map[string]Step) string {
	const (
		unvisited = 0
		inPath    = 1
		done      = 2
	)
	state := make(map[string]int, len(steps))
	var visit func(id string) string
	visit = func(id string) string {
		switch state[id] {
		case inPath:
			return id
		case done:
			return ""
		}
		state[id] = inPath
		for _, dep := range byID[id].DependsOn {
			if hit := visit(dep); hit != "" {
				return hit
			}
		}
		state[id] = done
		return ""
	}
	for _, step := range steps {
		if hit := visit(step.ID); hit != "" {
			return hit
		}
	}
	return ""
}

// BuildExecutionOrder topologically sorts the plan's steps with Kahn's
// algorithm. Ties break in input order, so the result is deterministic.
func (p *TaskPlan) BuildExecutionOrder() []Step {
	indegree := make(map[string]int, len(p.Steps))
	dependents := make(map[string][]string, len(p.Steps))
	byID := make(map[string]Step, len(p.Steps))
	for _, step := range p.Steps {
		byID[step.ID] = step
		indegree[step.ID] += 0
		for _, dep := range step.DependsOn {
			indegree[step.ID]++
			dependents[dep] = append(dependents[dep], step.ID)
		}
	}

	var ready []string
	for _, step := range p.Steps {
		if indegree[step.ID] == 0 {
			ready = append(ready, step.ID)
		}
	}

	order := make([]Step, 0, len(p.Steps))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, byID[id])
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = insertInInputOrder(ready, next, p.Steps)
			}
		}
	}
	return order
}

// insertInInputOrder keeps the ready queue sorted by the step's
// position in the original plan.
func insertInInputOrder(ready []string, id string, steps []Step) []string {
	pos := make(map[string]int, len(steps))
	for i, step := range steps {
		pos[step.ID] = i
	}
	for i, existing := range ready {
		if pos[id] < pos[existing] {
			return append(ready[:i], append([]string{id}, ready[i:]...)...)
		}
	}
	return append(ready, id)
}
