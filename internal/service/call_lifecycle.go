package service

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/call-signaling/internal/events"
	"github.com/spec-kit/call-signaling/internal/repository"
	"github.com/spec-kit/call-signaling/internal/signaling"
	apperrors "github.com/spec-kit/call-signaling/pkg/util/errorutil"
)

// CallLifecycle records call start and end reported by the signaling
// coordinator and announces them to the ticket system.
type CallLifecycle struct {
	calls      repository.VideoCallRepository
	dispatcher events.Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

var _ signaling.Lifecycle = (*CallLifecycle)(nil)

// NewCallLifecycle constructs the lifecycle sink. calls may be nil when no
// database is configured; events are still published.
func NewCallLifecycle(calls repository.VideoCallRepository, dispatcher events.Dispatcher, logger *zap.Logger) *CallLifecycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CallLifecycle{calls: calls, dispatcher: dispatcher, logger: logger.Named("lifecycle"), now: time.Now}
}

// OnCallStarted marks the record active.
func (l *CallLifecycle) OnCallStarted(ctx context.Context, roomID string) error {
	at := l.now()
	if l.calls != nil {
		if err := l.calls.MarkStarted(ctx, roomID, at); err != nil {
			return recordError(err)
		}
	}
	publish(ctx, l.dispatcher, l.logger, events.NewEvent(events.EventCallStarted, roomID, at, nil))
	return nil
}

// OnCallEnded marks the record ended with its duration.
func (l *CallLifecycle) OnCallEnded(ctx context.Context, roomID string, durationSeconds int) error {
	at := l.now()
	if l.calls != nil {
		if err := l.calls.MarkEnded(ctx, roomID, at, durationSeconds); err != nil {
			return recordError(err)
		}
	}
	publish(ctx, l.dispatcher, l.logger, events.NewEvent(events.EventCallEnded, roomID, at,
		events.CallEndedPayload{DurationSeconds: durationSeconds}))
	return nil
}

// recordError stops retries for records that are missing or already past the
// requested state.
func recordError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return signaling.Permanent(apperrors.NewNotFound("video call", nil))
	}
	return err
}

// publish never fails the caller; sinks are best effort.
func publish(ctx context.Context, dispatcher events.Dispatcher, logger *zap.Logger, event events.Event) {
	if dispatcher == nil {
		return
	}
	if err := dispatcher.Publish(ctx, event); err != nil {
		logger.Warn("publish call event",
			zap.String("event_type", string(event.Type)),
			zap.String("room_id", event.RoomID),
			zap.Error(err))
	}
}
