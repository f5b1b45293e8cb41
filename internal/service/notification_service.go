package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/call-signaling/internal/config"
	"github.com/spec-kit/call-signaling/internal/events"
)

// Publisher sends a payload to a pub/sub channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) (int64, error)
}

// NotificationService forwards call events to the ticket system.
type NotificationService struct {
	dispatcher events.Dispatcher
	publisher  Publisher
	logger     *zap.Logger
	cfg        config.NotificationConfig
}

// NewNotificationService creates the service. publisher may be nil.
func NewNotificationService(dispatcher events.Dispatcher, publisher Publisher, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		publisher:  publisher,
		logger:     logger,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventCallOpened, n.handleCallEvent)
	n.dispatcher.Subscribe(events.EventCallStarted, n.handleCallEvent)
	n.dispatcher.Subscribe(events.EventCallEnded, n.handleCallEvent)
	n.dispatcher.Subscribe(events.EventCallCancelled, n.handleCallEvent)
}

func (n *NotificationService) handleCallEvent(ctx context.Context, event events.Event) error {
	n.logger.Info(string(event.Type), zap.String("room_id", event.RoomID), zap.Any("payload", event.Payload))
	n.sendWebhookNotificationStub(ctx, event)
	return n.publish(ctx, event)
}

// publish sends the event to the room's ticket system listeners only; no
// browser connection ever sees it.
func (n *NotificationService) publish(ctx context.Context, event events.Event) error {
	if n.publisher == nil || strings.TrimSpace(n.cfg.RedisChannel) == "" {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.Type, err)
	}
	receivers, err := n.publisher.Publish(ctx, n.cfg.RedisChannel, payload)
	if err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	n.logger.Debug("call event published",
		zap.String("channel", n.cfg.RedisChannel),
		zap.String("event_type", string(event.Type)),
		zap.Int64("receivers", receivers))
	return nil
}

func (n *NotificationService) sendWebhookNotificationStub(ctx context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.WebhookURL) == "" {
		return
	}
	n.logger.Debug("sendWebhookNotificationStub",
		zap.String("url", n.cfg.WebhookURL),
		zap.String("room_id", event.RoomID),
		zap.String("event_type", string(event.Type)))
}
