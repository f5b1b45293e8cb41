package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/call-signaling/internal/service"
)

// StartNotificationWorker registers call event fan-out handlers.
func StartNotificationWorker(notificationService *service.NotificationService) {
	if notificationService == nil {
		return
	}
	notificationService.RegisterHandlers()
}

// StaleCallSweeper is the part of the call service the sweeper drives.
type StaleCallSweeper interface {
	SweepStaleCalls(ctx context.Context, maxAge time.Duration) (int, error)
}

// StartCallSweeper cancels, every interval, initiated call records older than
// maxAge that have no live room. It stops when ctx is done and returns a
// channel closed once the loop has exited.
func StartCallSweeper(ctx context.Context, sweeper StaleCallSweeper, interval, maxAge time.Duration, logger *zap.Logger) <-chan struct{} {
	done := make(chan struct{})
	if sweeper == nil || interval <= 0 {
		close(done)
		return done
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("sweeper")

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				swept, err := sweeper.SweepStaleCalls(ctx, maxAge)
				switch {
				case err != nil && !errors.Is(err, context.Canceled):
					logger.Warn("stale call sweep failed", zap.Error(err))
				case swept > 0:
					logger.Info("stale calls cancelled", zap.Int("count", swept))
				}
			}
		}
	}()
	return done
}
