package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/call-signaling/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventCallOpened    EventType = "call_opened"
	EventCallStarted   EventType = "call_started"
	EventCallEnded     EventType = "call_ended"
	EventCallCancelled EventType = "call_cancelled"
)

// Event represents a call lifecycle event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	RoomID    string      `json:"room_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// NewEvent stamps an event with a fresh id.
func NewEvent(eventType EventType, roomID string, at time.Time, payload interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		RoomID:    roomID,
		Timestamp: at.UTC(),
		Payload:   payload,
	}
}

// CallOpenedPayload payload.
type CallOpenedPayload struct {
	SupportRequestID string `json:"support_request_id,omitempty"`
	CustomerID       string `json:"customer_id"`
	SupporterID      string `json:"supporter_id"`
}

// CallEndedPayload payload.
type CallEndedPayload struct {
	DurationSeconds int `json:"duration_seconds"`
}

// CallCancelledPayload payload.
type CallCancelledPayload struct {
	Status domain.CallStatus `json:"status"`
}
