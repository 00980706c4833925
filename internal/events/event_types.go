package events

import (
	"time"

	"github.com/spec-kit/dispute-service/internal/domain"
)

// EventType enumerates supported dispatcher event identifiers.
type EventType string

const (
	EventNotifyCreated EventType = "notify_event_created"
	EventNotifySeen    EventType = "notify_event_seen"
)

// Event represents a domain event emitted by services after commit.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	CaseID    int64       `json:"case_id"`
	ActorID   int64       `json:"actor_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// NotifyCreatedPayload describes a committed notify event.
type NotifyCreatedPayload struct {
	NotifyEventID int64                `json:"notify_event_id"`
	StageID       int64                `json:"stage_id"`
	StageNum      int                  `json:"stage_num"`
	EventType     domain.EventType     `json:"event_type"`
	RecipientIDs  []int64              `json:"recipient_ids"`
	Finished      domain.FinishedState `json:"finished"`
	ResultFile    string               `json:"result_file,omitempty"`
}

// NotifySeenPayload describes a notify event acknowledged by a recipient.
type NotifySeenPayload struct {
	NotifyEventID int64 `json:"notify_event_id"`
	EmitterID     int64 `json:"emitter_id"`
	RecipientID   int64 `json:"recipient_id"`
}
