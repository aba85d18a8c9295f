// Package scheduler enforces deterministic turn-taking across the
// pipeline roles.
//
// Turn order is fixed (planner, validator, executor, reporter); the
// order is data, not negotiation. Each role gets a bounded number of
// turns per run, an active role cannot hand a turn to itself, and the
// history of granted turns is kept for the replay verifier.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/contracts"
)

// DefaultTurnCap is the per-role turn limit unless configured otherwise.
const DefaultTurnCap = 2

// TurnLimitError reports a role that exhausted its turn budget.
type TurnLimitError struct {
	Role contracts.Role
	Cap  int
}

func (e *TurnLimitError) Error() string {
	return fmt.Sprintf("role %q exceeded its turn limit of %d", e.Role, e.Cap)
}

// SelfInvocationError reports a role trying to grant itself a turn
// while it already holds one.
type SelfInvocationError struct {
	Role contracts.Role
}

func (e *SelfInvocationError) Error() string {
	return fmt.Sprintf("role %q cannot invoke itself", e.Role)
}

// Turn records one granted turn.
type Turn struct {
	Role      contracts.Role `json:"role"`
	Index     int            `json:"index"`
	StartedAt time.Time      `json:"started_at"`
}

// Scheduler tracks turn grants for a single run. Safe for concurrent
// use, though the pipeline drives it sequentially.
type Scheduler struct {
	mu      sync.Mutex
	cap     int
	clock   func() time.Time
	used    map[contracts.Role]int
	active  contracts.Role
	history []Turn
}

// New creates a scheduler with the default per-role turn cap.
func New() *Scheduler {
	return NewWithCap(DefaultTurnCap)
}

// NewWithCap creates a scheduler with an explicit per-role turn cap.
func NewWithCap(turnCap int) *Scheduler {
	if turnCap < 1 {
		turnCap = 1
	}
	return &Scheduler{
		cap:   turnCap,
		clock: time.Now,
		used:  make(map[contracts.Role]int, len(contracts.RoleOrder)),
	}
}

// WithClock overrides the time source for tests.
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

// StartTurn grants a turn to role, or explains why it cannot have one.
func (s *Scheduler) StartTurn(role contracts.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !contracts.ValidRole(role) {
		return fmt.Errorf("unknown role %q", role)
	}
	if s.active == role {
		return &SelfInvocationError{Role: role}
	}
	if s.active != "" {
		return fmt.Errorf("role %q still holds the turn", s.active)
	}
	if s.used[role] >= s.cap {
		return &TurnLimitError{Role: role, Cap: s.cap}
	}
	s.used[role]++
	s.active = role
	s.history = append(s.history, Turn{
		Role:      role,
		Index:     len(s.history),
		StartedAt: s.clock().UTC(),
	})
	return nil
}

// EndTurn releases the active turn. Ending with no active turn is an
// error: it means the pipeline driver lost track of state.
func (s *Scheduler) EndTurn() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == "" {
		return fmt.Errorf("no active turn to end")
	}
	s.active = ""
	return nil
}

// Active returns the role currently holding a turn, if any.
func (s *Scheduler) Active() (contracts.Role, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.active != ""
}

// NextRole returns the next role in fixed order that still has turn
// budget. false means every role is exhausted.
func (s *Scheduler) NextRole() (contracts.Role, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := 0
	if n := len(s.history); n > 0 {
		last := s.history[n-1].Role
		for i, role := range contracts.RoleOrder {
			if role == last {
				start = i + 1
				break
			}
		}
	}
	for offset := 0; offset < len(contracts.RoleOrder); offset++ {
		role := contracts.RoleOrder[(start+offset)%len(contracts.RoleOrder)]
		if s.used[role] < s.cap {
			return role, true
		}
	}
	return "", false
}

// Exhausted reports whether any role still has turn budget left.
func (s *Scheduler) Exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, role := range contracts.RoleOrder {
		if s.used[role] < s.cap {
			return false
		}
	}
	return true
}

// History returns a copy of all granted turns in order.
func (s *Scheduler) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.history...)
}

// TurnsUsed returns how many turns the role has consumed.
func (s *Scheduler) TurnsUsed(role contracts.Role) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used[role]
}

// ValidateNoStarvation checks that no role was skipped entirely while
// a later role in the fixed order took a turn. A starved role means the
// driver is not honoring the order.
func (s *Scheduler) ValidateNoStarvation() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[contracts.Role]bool, len(contracts.RoleOrder))
	for _, turn := range s.history {
		seen[turn.Role] = true
	}
	for i, role := range contracts.RoleOrder {
		if seen[role] {
			continue
		}
		for _, later := range contracts.RoleOrder[i+1:] {
			if seen[later] {
				return fmt.Errorf("role %q was starved: %q ran before it had a turn", role, later)
			}
		}
	}
	return nil
}
