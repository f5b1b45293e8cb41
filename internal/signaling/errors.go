package signaling

import (
	"errors"
	"net/http"

	apperrors "github.com/spec-kit/call-signaling/pkg/util/errorutil"
)

var (
	ErrUnauthorized           = apperrors.NewDomainError("UNAUTHORIZED", "not authorized for this room", http.StatusForbidden, nil)
	ErrRoomFull               = apperrors.NewDomainError("ROOM_FULL", "room is full", http.StatusConflict, nil)
	ErrRoomNotFound           = apperrors.NewDomainError("ROOM_NOT_FOUND", "room not found", http.StatusNotFound, nil)
	ErrRoomConflict           = apperrors.NewDomainError("CONFLICT", "room is already open for a different pair", http.StatusConflict, nil)
	ErrInvalidRoom            = apperrors.NewDomainError("VALIDATION_FAILED", "room needs an id and two distinct participants", http.StatusBadRequest, nil)
	ErrInvalidMessage         = apperrors.NewDomainError("INVALID_MESSAGE", "invalid signaling message", http.StatusBadRequest, nil)
	ErrPeerNotConnected       = apperrors.NewDomainError("PEER_NOT_CONNECTED", "peer not connected", http.StatusConflict, nil)
	ErrSessionReplaced        = apperrors.NewDomainError("SESSION_REPLACED", "joined from another connection", http.StatusConflict, nil)
	ErrCallbackDeliveryFailed = apperrors.NewDomainError("CALLBACK_DELIVERY_FAILED", "lifecycle callback failed", http.StatusBadGateway, nil)
)

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks a lifecycle callback error as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func isPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}
