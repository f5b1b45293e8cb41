package signaling

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/spec-kit/call-signaling/pkg/util/errorutil"
)

// MessageType discriminates signaling envelopes.
type MessageType string

// Inbound message types.
const (
	TypeJoinRoom     MessageType = "join-room"
	TypeLeaveRoom    MessageType = "leave-room"
	TypeOffer        MessageType = "offer"
	TypeAnswer       MessageType = "answer"
	TypeICECandidate MessageType = "ice-candidate"
	TypeHangup       MessageType = "hangup"
)

// Outbound message types. Offer, answer and ice-candidate are relayed under
// their inbound names.
const (
	TypeJoined       MessageType = "joined"
	TypeUserJoined   MessageType = "user-joined"
	TypeUserLeft     MessageType = "user-left"
	TypeCreateOffer  MessageType = "create-offer"
	TypeWaitForOffer MessageType = "wait-for-offer"
	TypeCallStarted  MessageType = "call-started"
	TypeCallEnded    MessageType = "call-ended"
	TypeError        MessageType = "error"
)

// Inbound is a message received from a browser. The sender is never taken
// from the payload; it is the identity bound to the connection.
type Inbound struct {
	Type      MessageType     `json:"type" validate:"required,oneof=join-room leave-room offer answer ice-candidate hangup"`
	RoomID    string          `json:"roomId" validate:"required,max=128"`
	UserID    string          `json:"userId,omitempty" validate:"max=128"`
	SDP       json.RawMessage `json:"sdp,omitempty" validate:"required_if=Type offer,required_if=Type answer"`
	Candidate json.RawMessage `json:"candidate,omitempty" validate:"required_if=Type ice-candidate"`
}

// Outbound is a message delivered to a browser.
type Outbound struct {
	Type      MessageType     `json:"type"`
	RoomID    string          `json:"roomId,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Occupants []string        `json:"occupants,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Code      string          `json:"code,omitempty"`
	Message   string          `json:"message,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// DecodeInbound parses and validates one frame.
func DecodeInbound(data []byte) (Inbound, error) {
	var msg Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return Inbound{}, apperrors.Wrap(ErrInvalidMessage, err)
	}
	if err := validate.Struct(msg); err != nil {
		return msg, apperrors.Wrap(ErrInvalidMessage, err)
	}
	return msg, nil
}

func errorMessage(roomID string, err error) Outbound {
	de := apperrors.ToDomainError(err)
	return Outbound{Type: TypeError, RoomID: roomID, Code: de.Code, Message: de.Message}
}
