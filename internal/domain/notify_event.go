package domain

import (
	"sort"
	"time"
)

// EventType enumerates notify event kinds. The set is closed.
type EventType string

const (
	EventOpen        EventType = "open"
	EventDisputeOpen EventType = "disp_open"
	EventFinish      EventType = "fin"
	EventDisputeDone EventType = "disp_close"
)

// Valid reports whether t belongs to the closed set of event types.
func (t EventType) Valid() bool {
	switch t {
	case EventOpen, EventDisputeOpen, EventFinish, EventDisputeDone:
		return true
	default:
		return false
	}
}

// NotifyEvent is an immutable record of an occurrence on a case stage. Only
// Seen changes after creation.
type NotifyEvent struct {
	ID           int64
	CreatedAt    time.Time
	ContractID   int64
	StageID      int64
	UserByID     int64
	RecipientIDs []int64
	Seen         bool
	Type         EventType
}

// AddressedTo reports whether userID is among the recipients.
func (e *NotifyEvent) AddressedTo(userID int64) bool {
	for _, id := range e.RecipientIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// UniqueIDs returns ids without duplicates, sorted ascending.
func UniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
