package domain

import "time"

// CallStatus mirrors the persisted state of a video call record.
type CallStatus string

const (
	CallStatusInitiated CallStatus = "initiated"
	CallStatusActive    CallStatus = "active"
	CallStatusEnded     CallStatus = "ended"
	CallStatusCancelled CallStatus = "cancelled"
)

// VideoCall is the durable record of one call attempt between a customer and
// the supporter assigned to their request.
type VideoCall struct {
	ID               string
	RoomID           string
	SupportRequestID string
	CustomerID       string
	SupporterID      string
	Status           CallStatus
	StartedAt        *time.Time
	EndedAt          *time.Time
	DurationSeconds  *int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
