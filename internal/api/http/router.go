package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/call-signaling/internal/api/http/handlers"
	"github.com/spec-kit/call-signaling/internal/auth"
	"github.com/spec-kit/call-signaling/internal/transport/ws"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Rooms          *handlers.RoomsHandler
	RTC            *handlers.RTCHandler
	Gateway        *ws.Gateway
	AuthMiddleware *auth.AuthMiddleware
	// ServiceKeyHash guards /internal; empty rejects every call.
	ServiceKeyHash string
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	// Browser routes carry a participant token.
	app.Get("/rtc/ice-servers", cfg.AuthMiddleware.Handle, cfg.RTC.ICEServers)
	app.Get("/ws", cfg.AuthMiddleware.Handle, cfg.Gateway.Upgrade, cfg.Gateway.Handler())

	// Ticket system routes.
	internal := app.Group("/internal", auth.RequireServiceKey(cfg.ServiceKeyHash))
	internal.Post("/rooms", cfg.Rooms.OpenRoom)
	internal.Get("/rooms", cfg.Rooms.ListRooms)
	internal.Get("/rooms/:roomId", cfg.Rooms.GetRoom)
	internal.Delete("/rooms/:roomId", cfg.Rooms.EndRoom)
	internal.Get("/calls", cfg.Rooms.ListCalls)
}
