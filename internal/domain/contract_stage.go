package domain

import "time"

// ContractStage is a time-boxed phase of a case during which a dispute may be
// opened and later resolved. Position is the zero-based insertion order of
// the stage within its case.
type ContractStage struct {
	ID                  int64
	ContractID          int64
	Position            int
	Start               *time.Time
	DisputeStartAllowed *time.Time
	OwnerID             int64
	DisputeStarted      *time.Time
	DisputeStarterID    *int64
	DisputeFinished     *time.Time
	ResultFile          string
}

// Disputed reports whether a dispute has been opened on the stage.
func (s *ContractStage) Disputed() bool {
	return s.DisputeStarted != nil
}

// DisputeOpen reports whether a dispute is opened and not yet resolved.
func (s *ContractStage) DisputeOpen() bool {
	return s.DisputeStarted != nil && s.DisputeFinished == nil
}

// DisputeWindowOpen reports whether day is on or after the earliest date a
// dispute may be started. A stage without a window accepts disputes any time.
func (s *ContractStage) DisputeWindowOpen(day time.Time) bool {
	if s.DisputeStartAllowed == nil {
		return true
	}
	return !Day(day).Before(Day(*s.DisputeStartAllowed))
}

// Day truncates t to midnight of its UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
