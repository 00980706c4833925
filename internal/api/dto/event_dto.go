package dto

import "time"

// SubmitEventRequest payload for POST /api/events.
type SubmitEventRequest struct {
	CaseID    int64   `json:"case_id"`
	StageNum  *int    `json:"stage_num"`
	EventType string  `json:"event_type"`
	UserTo    []int64 `json:"user_to"`
	AddressBy *string `json:"address_by"`
	Finished  *bool   `json:"finished"`
	FileHash  *string `json:"filehash"`
}

// EventResponse represents a notify event.
type EventResponse struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Contract  int64     `json:"contract"`
	Stage     int64     `json:"stage"`
	UserBy    int64     `json:"user_by"`
	UserTo    []int64   `json:"user_to"`
	Seen      bool      `json:"seen"`
	EventType string    `json:"event_type"`
}
