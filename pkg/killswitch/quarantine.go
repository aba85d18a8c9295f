package killswitch

import (
	"fmt"
	"sync"
	"time"
)

// QuarantineError is returned when a quarantined agent tries to act.
type QuarantineError struct {
	Agent  string
	Reason string
}

func (e *QuarantineError) Error() string {
	return fmt.Sprintf("agent %q is quarantined: %s", e.Agent, e.Reason)
}

// QuarantineRecord captures why and when an agent was sidelined.
type QuarantineRecord struct {
	Agent  string    `json:"agent"`
	Reason string    `json:"reason"`
	Since  time.Time `json:"since"`
}

// QuarantineList tracks agents barred from scheduling. Unlike the
// switch registry this IS consulted live: a quarantine takes effect
// mid-run, because a misbehaving agent must be stopped immediately.
type QuarantineList struct {
	mu      sync.RWMutex
	clock   func() time.Time
	records map[string]QuarantineRecord
}

// NewQuarantineList creates an empty quarantine list.
func NewQuarantineList() *QuarantineList {
	return &QuarantineList{
		clock:   time.Now,
		records: make(map[string]QuarantineRecord),
	}
}

// WithClock overrides the time source for tests.
func (q *QuarantineList) WithClock(clock func() time.Time) *QuarantineList {
	q.clock = clock
	return q
}

// Quarantine sidelines an agent. Re-quarantining updates the reason.
func (q *QuarantineList) Quarantine(agent, reason string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.records[agent] = QuarantineRecord{Agent: agent, Reason: reason, Since: q.clock().UTC()}
}

// Release removes an agent from quarantine.
func (q *QuarantineList) Release(agent string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.records, agent)
}

// CheckAllowed returns a *QuarantineError if the agent is quarantined.
func (q *QuarantineList) CheckAllowed(agent string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if rec, found := q.records[agent]; found {
		return &QuarantineError{Agent: agent, Reason: rec.Reason}
	}
	return nil
}

// Records returns a copy of all active quarantines.
func (q *QuarantineList) Records() []QuarantineRecord {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]QuarantineRecord, 0, len(q.records))
	for _, rec := range q.records {
		out = append(out, rec)
	}
	return out
}
