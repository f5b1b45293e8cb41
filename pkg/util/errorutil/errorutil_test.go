package errorutil

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
)

var errRoomFull = NewDomainError("ROOM_FULL", "room is full", http.StatusConflict, nil)

func TestWrapKeepsSentinelIdentity(t *testing.T) {
	cause := errors.New("third identity")
	err := Wrap(errRoomFull, cause)

	assert.ErrorIs(t, err, errRoomFull)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "room is full: third identity", err.Error())
	assert.Nil(t, errRoomFull.Err, "sentinel must not be mutated")
}

func TestToDomainError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"domain", fmt.Errorf("join: %w", errRoomFull), "ROOM_FULL", http.StatusConflict},
		{"fiber", fiber.NewError(http.StatusBadRequest, "invalid payload"), "BAD_REQUEST", http.StatusBadRequest},
		{"no rows", fmt.Errorf("get call: %w", pgx.ErrNoRows), "NOT_FOUND", http.StatusNotFound},
		{"other", errors.New("boom"), "INTERNAL_ERROR", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			de := ToDomainError(tt.err)
			assert.Equal(t, tt.code, de.Code)
			assert.Equal(t, tt.status, de.HTTPStatus)
		})
	}
	assert.Nil(t, ToDomainError(nil))
}
