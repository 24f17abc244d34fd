package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventStatus is the lifecycle state of a durable Event row.
type EventStatus string

const (
	EventStatusPending   EventStatus = "pending"
	EventStatusRunning   EventStatus = "running"
	EventStatusCompleted EventStatus = "completed"
	EventStatusFailed    EventStatus = "failed"
	EventStatusDuplicate EventStatus = "duplicate"
	EventStatusCancelled EventStatus = "cancelled"
)

// Event is the durable record of a unit of delayed work. The payload is a
// tagged variant: {"variant":"RefreshAccount","account_id":"..."}.
type Event struct {
	ID           string          `json:"id"`
	PublicID     uuid.UUID       `json:"public_id"`
	Name         string          `json:"name"`
	Payload      json.RawMessage `json:"payload"`
	ScheduledFor time.Time       `json:"scheduled_for"`
	Status       EventStatus     `json:"status"`
	Attempts     int             `json:"attempts"`
	ErrorFlag    bool            `json:"error_flag"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	TraceID      string          `json:"trace_id,omitempty"`
	Hash         string          `json:"hash"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// IsTerminal reports whether the event has left the active lifecycle.
func (e *Event) IsTerminal() bool {
	switch e.Status {
	case EventStatusCompleted, EventStatusFailed, EventStatusDuplicate, EventStatusCancelled:
		return true
	default:
		return false
	}
}

// IsActive reports whether the event is still pending dispatch or in flight.
func (e *Event) IsActive() bool {
	return e.Status == EventStatusPending || e.Status == EventStatusRunning
}
