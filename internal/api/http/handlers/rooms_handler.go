package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/call-signaling/internal/api/dto"
	"github.com/spec-kit/call-signaling/internal/domain"
	"github.com/spec-kit/call-signaling/internal/repository"
	"github.com/spec-kit/call-signaling/internal/service"
	apperrors "github.com/spec-kit/call-signaling/pkg/util/errorutil"
)

// RoomsHandler serves the ticket system's room management endpoints.
type RoomsHandler struct {
	service *service.CallService
}

// NewRoomsHandler constructs handler.
func NewRoomsHandler(callService *service.CallService) *RoomsHandler {
	return &RoomsHandler{service: callService}
}

// OpenRoom POST /internal/rooms.
func (h *RoomsHandler) OpenRoom(c *fiber.Ctx) error {
	var req dto.OpenRoomRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := dto.Validate(req); err != nil {
		return err
	}

	call, err := h.service.OpenCall(c.UserContext(), service.OpenCallInput{
		RoomID:           req.RoomID,
		SupportRequestID: req.SupportRequestID,
		CustomerID:       req.CustomerID,
		SupporterID:      req.SupporterID,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewCallResponse(call)})
}

// ListRooms GET /internal/rooms.
func (h *RoomsHandler) ListRooms(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.service.LiveRooms()})
}

// GetRoom GET /internal/rooms/:roomId.
func (h *RoomsHandler) GetRoom(c *fiber.Ctx) error {
	view, err := h.service.GetCall(c.UserContext(), c.Params("roomId"))
	if err != nil {
		return err
	}
	resp := dto.CallDetailResponse{Room: view.Room}
	if view.Record != nil {
		call := dto.NewCallResponse(view.Record)
		resp.Call = &call
	}
	return c.JSON(fiber.Map{"data": resp})
}

// EndRoom DELETE /internal/rooms/:roomId.
func (h *RoomsHandler) EndRoom(c *fiber.Ctx) error {
	if err := h.service.EndCall(c.UserContext(), c.Params("roomId")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// ListCalls GET /internal/calls.
func (h *RoomsHandler) ListCalls(c *fiber.Ctx) error {
	calls, err := h.service.ListCalls(c.UserContext(), parseCallQuery(c))
	if err != nil {
		return err
	}
	items := make([]dto.CallResponse, 0, len(calls))
	for i := range calls {
		items = append(items, dto.NewCallResponse(&calls[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

func parseCallQuery(c *fiber.Ctx) repository.VideoCallFilter {
	filter := repository.VideoCallFilter{}
	if v := c.Query("support_request_id"); v != "" {
		filter.SupportRequestID = &v
	}
	if v := c.Query("customer_id"); v != "" {
		filter.CustomerID = &v
	}
	if v := c.Query("supporter_id"); v != "" {
		filter.SupporterID = &v
	}
	if statusStr := c.Query("status"); statusStr != "" {
		for _, part := range strings.Split(statusStr, ",") {
			filter.Statuses = append(filter.Statuses, domain.CallStatus(strings.TrimSpace(part)))
		}
	}
	filter.CreatedFrom = parseTime(c.Query("created_from"))
	filter.CreatedTo = parseTime(c.Query("created_to"))

	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 20)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	filter.Offset = (page - 1) * pageSize
	filter.Limit = pageSize
	return filter
}

func parseTime(val string) *time.Time {
	if val == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return nil
	}
	return &t
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return parsed
}
