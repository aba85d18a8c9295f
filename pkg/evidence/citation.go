package evidence

import (
	"fmt"
	"time"
)

// DefaultFreshness is how long evidence stays citable after creation.
const DefaultFreshness = 30 * time.Minute

// CitationError explains why a record may not be cited.
type CitationError struct {
	EvidenceID string
	Reason     string
}

func (e *CitationError) Error() string {
	return fmt.Sprintf("evidence %s not citable: %s", e.EvidenceID, e.Reason)
}

// CheckCitable decides whether a record may back a citation right now.
// Fail closed: lifecycle must be active, age must be within maxAge,
// and the record must be scoped to the current query (a record with no
// query hash is a global artifact and passes scoping). A query-hash
// mismatch is cross-run contamination, not mere staleness.
func CheckCitable(rec *Record, currentQueryHash string, now time.Time, maxAge time.Duration) error {
	if rec == nil {
		return &CitationError{EvidenceID: "", Reason: "record does not exist"}
	}
	if rec.Lifecycle != LifecycleActive {
		return &CitationError{EvidenceID: rec.EvidenceID, Reason: fmt.Sprintf("lifecycle is %q", rec.Lifecycle)}
	}
	if maxAge <= 0 {
		maxAge = DefaultFreshness
	}
	age := now.Sub(rec.CreatedAt)
	if age < 0 || age > maxAge {
		return &CitationError{EvidenceID: rec.EvidenceID, Reason: fmt.Sprintf("stale: age %s exceeds %s", age.Round(time.Second), maxAge)}
	}
	// A scoped record is never citable by an unscoped caller.
	if rec.QueryHash != "" && rec.QueryHash != currentQueryHash {
		return &CitationError{EvidenceID: rec.EvidenceID, Reason: fmt.Sprintf("cross-run contamination: scoped to query %s, current is %q", rec.QueryHash, currentQueryHash)}
	}
	return nil
}
