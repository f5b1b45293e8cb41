package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/call-signaling/internal/api/dto"
	"github.com/spec-kit/call-signaling/internal/auth"
	"github.com/spec-kit/call-signaling/internal/service"
	apperrors "github.com/spec-kit/call-signaling/pkg/util/errorutil"
)

// RTCHandler serves browser-facing WebRTC configuration.
type RTCHandler struct {
	ice *service.ICEService
}

// NewRTCHandler constructs handler.
func NewRTCHandler(ice *service.ICEService) *RTCHandler {
	return &RTCHandler{ice: ice}
}

// ICEServers GET /rtc/ice-servers.
func (h *RTCHandler) ICEServers(c *fiber.Ctx) error {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("participant required")
	}
	servers, expiresAt := h.ice.Servers(identity.UserID)
	resp := dto.ICEServersResponse{ICEServers: servers}
	if !expiresAt.IsZero() {
		resp.ExpiresAt = &expiresAt
	}
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.JSON(fiber.Map{"data": resp})
}
