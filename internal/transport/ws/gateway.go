package ws

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/call-signaling/internal/auth"
	"github.com/spec-kit/call-signaling/internal/domain"
	"github.com/spec-kit/call-signaling/internal/observability"
)

const identityLocal = "ws_identity"

// Gateway upgrades authenticated requests to signaling connections.
type Gateway struct {
	handler Handler
	cfg     Config
	origins []string
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewGateway builds a gateway feeding connections to handler.
func NewGateway(handler Handler, cfg Config, origins []string, logger *zap.Logger, metrics *observability.Metrics) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		handler: handler,
		cfg:     cfg.withDefaults(),
		origins: origins,
		logger:  logger.Named("ws"),
		metrics: metrics,
	}
}

// Upgrade must run after auth.AuthMiddleware. It rejects plain HTTP requests
// and hands the bound identity to the connection.
func (g *Gateway) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		return fiber.ErrUnauthorized
	}
	c.Locals(identityLocal, identity)
	return c.Next()
}

// Handler serves upgraded connections until they close.
func (g *Gateway) Handler() fiber.Handler {
	cfg := websocket.Config{Origins: g.origins}
	if len(cfg.Origins) == 0 {
		cfg.Origins = []string{"*"}
	}
	return websocket.New(g.serve, cfg)
}

func (g *Gateway) serve(sock *websocket.Conn) {
	identity, _ := sock.Locals(identityLocal).(domain.Identity)
	conn := newConn(sock, identity.UserID, g.cfg, g.logger)

	g.metrics.ConnectionOpened()
	defer g.metrics.ConnectionClosed()
	conn.logger.Debug("connection opened", zap.String("remote_addr", sock.RemoteAddr().String()))

	conn.Serve(g.handler)

	conn.logger.Debug("connection closed")
}
