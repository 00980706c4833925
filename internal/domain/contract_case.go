package domain

import "time"

// FinishedState is the tri-state completion marker of a case. The numeric
// values are persisted and sent over the wire as-is.
type FinishedState int16

const (
	FinishedNo      FinishedState = 0
	FinishedPending FinishedState = 1
	FinishedYes     FinishedState = 2
)

// Valid reports whether s is one of the three known states.
func (s FinishedState) Valid() bool {
	return s == FinishedNo || s == FinishedPending || s == FinishedYes
}

func (s FinishedState) String() string {
	switch s {
	case FinishedNo:
		return "not_finished"
	case FinishedPending:
		return "pending"
	case FinishedYes:
		return "finished"
	default:
		return "unknown"
	}
}

// ContractCase is a dispute-resolution engagement between parties.
type ContractCase struct {
	ID        int64
	Name      string
	Files     string
	Finished  FinishedState
	PartyIDs  []int64
	Stages    []ContractStage
	CreatedAt time.Time
}

// HasParty reports whether userID is one of the case parties.
func (c *ContractCase) HasParty(userID int64) bool {
	for _, id := range c.PartyIDs {
		if id == userID {
			return true
		}
	}
	return false
}
