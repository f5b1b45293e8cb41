package domain

import "time"

// RoomState is the lifecycle state of a signaling room.
type RoomState string

const (
	RoomStateEmpty            RoomState = "EMPTY"
	RoomStateWaitingForSecond RoomState = "WAITING_FOR_SECOND"
	RoomStateActive           RoomState = "ACTIVE"
	RoomStateEnded            RoomState = "ENDED"
)

// Terminal reports whether no further transitions are possible.
func (s RoomState) Terminal() bool {
	return s == RoomStateEnded
}

// EndReason explains why a room reached RoomStateEnded.
type EndReason string

const (
	EndReasonLeft       EndReason = "left"
	EndReasonHangup     EndReason = "hangup"
	EndReasonDisconnect EndReason = "disconnect"
	EndReasonForced     EndReason = "forced"
)

// RoomSnapshot is a read-only view of a live room.
type RoomSnapshot struct {
	RoomID     string     `json:"room_id"`
	State      RoomState  `json:"state"`
	Authorized []string   `json:"authorized"`
	Occupants  []string   `json:"occupants"`
	OpenedAt   time.Time  `json:"opened_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
}
