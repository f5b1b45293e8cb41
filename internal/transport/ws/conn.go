package ws

import (
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/call-signaling/internal/signaling"
)

// Config bounds a single connection.
type Config struct {
	MaxMessageBytes int64
	SendBuffer      int
	PingInterval    time.Duration
	PongWait        time.Duration
	WriteTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 64 * 1024
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}

// socket is the part of a WebSocket connection the gateway uses.
type socket interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v interface{}) error
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Handler receives what a connection reads and learns when it closes.
type Handler interface {
	HandleMessage(peer signaling.Peer, msg signaling.Inbound)
	Disconnect(peer signaling.Peer)
}

// Conn is one browser connection. It owns the socket; the room registry only
// holds it as a signaling.Peer.
type Conn struct {
	id       string
	identity string
	sock     socket
	cfg      Config
	logger   *zap.Logger

	send      chan signaling.Outbound
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(sock socket, identity string, cfg Config, logger *zap.Logger) *Conn {
	cfg = cfg.withDefaults()
	id := uuid.NewString()
	return &Conn{
		id:       id,
		identity: identity,
		sock:     sock,
		cfg:      cfg,
		logger:   logger.With(zap.String("conn_id", id), zap.String("user_id", identity)),
		send:     make(chan signaling.Outbound, cfg.SendBuffer),
		done:     make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Identity() string { return c.identity }

// Send queues msg for the write loop. A connection whose queue is full is
// too slow to take part in negotiation and gets closed.
func (c *Conn) Send(msg signaling.Outbound) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	default:
		c.logger.Warn("send queue full, closing connection", zap.String("type", string(msg.Type)))
		c.Close()
		return false
	}
}

// Close stops the write loop. Safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Serve runs the connection until the socket fails or is closed. The handler
// has finished Disconnect by the time Serve returns.
func (c *Conn) Serve(h Handler) {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()

	c.readLoop(h)
	c.Close()
	h.Disconnect(c)
	<-writerDone
}

func (c *Conn) readLoop(h Handler) {
	c.sock.SetReadLimit(c.cfg.MaxMessageBytes)
	_ = c.sock.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.sock.SetPongHandler(func(string) error {
		return c.sock.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		kind, data, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Info("connection closed unexpectedly", zap.Error(err))
			}
			return
		}
		select {
		case <-c.done:
			return
		default:
		}
		_ = c.sock.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		if kind != websocket.TextMessage {
			continue
		}

		msg, err := signaling.DecodeInbound(data)
		if err != nil {
			c.logger.Debug("invalid message", zap.Error(err))
			c.Send(signaling.Outbound{Type: signaling.TypeError, RoomID: msg.RoomID, Code: signaling.ErrInvalidMessage.Code, Message: err.Error()})
			continue
		}
		h.HandleMessage(c, msg)
	}
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.sock.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.flush()
			_ = c.sock.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			_ = c.sock.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Conn) write(msg signaling.Outbound) error {
	if err := c.sock.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	return c.sock.WriteJSON(msg)
}

// flush writes whatever was queued before the connection was closed.
func (c *Conn) flush() {
	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}
