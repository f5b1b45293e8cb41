package dto

import (
	"time"

	"github.com/spec-kit/call-signaling/internal/domain"
)

// OpenRoomRequest payload sent by the ticket system.
type OpenRoomRequest struct {
	RoomID           string `json:"room_id" validate:"omitempty,max=128"`
	SupportRequestID string `json:"support_request_id" validate:"required,max=128"`
	CustomerID       string `json:"customer_id" validate:"required,max=128"`
	SupporterID      string `json:"supporter_id" validate:"required,max=128,nefield=CustomerID"`
}

// CallResponse describes a call record.
type CallResponse struct {
	ID               string            `json:"id,omitempty"`
	RoomID           string            `json:"room_id"`
	SupportRequestID string            `json:"support_request_id,omitempty"`
	CustomerID       string            `json:"customer_id"`
	SupporterID      string            `json:"supporter_id"`
	Status           domain.CallStatus `json:"status"`
	StartedAt        *time.Time        `json:"started_at,omitempty"`
	EndedAt          *time.Time        `json:"ended_at,omitempty"`
	DurationSeconds  *int              `json:"duration_seconds,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// CallDetailResponse combines the record with the live room.
type CallDetailResponse struct {
	Call *CallResponse        `json:"call,omitempty"`
	Room *domain.RoomSnapshot `json:"room,omitempty"`
}

// NewCallResponse maps a record to its response.
func NewCallResponse(call *domain.VideoCall) CallResponse {
	return CallResponse{
		ID:               call.ID,
		RoomID:           call.RoomID,
		SupportRequestID: call.SupportRequestID,
		CustomerID:       call.CustomerID,
		SupporterID:      call.SupporterID,
		Status:           call.Status,
		StartedAt:        call.StartedAt,
		EndedAt:          call.EndedAt,
		DurationSeconds:  call.DurationSeconds,
		CreatedAt:        call.CreatedAt,
	}
}
