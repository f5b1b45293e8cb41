package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/call-signaling/internal/config"
	"github.com/spec-kit/call-signaling/internal/events"
	"github.com/spec-kit/call-signaling/internal/service"
)

type countingSweeper struct {
	calls  atomic.Int32
	maxAge atomic.Int64
	err    error
}

func (s *countingSweeper) SweepStaleCalls(_ context.Context, maxAge time.Duration) (int, error) {
	s.calls.Add(1)
	s.maxAge.Store(int64(maxAge))
	return 1, s.err
}

type recordingPublisher struct{ n atomic.Int32 }

func (p *recordingPublisher) Publish(context.Context, string, []byte) (int64, error) {
	p.n.Add(1)
	return 1, nil
}

func TestStartNotificationWorker(t *testing.T) {
	StartNotificationWorker(nil)

	dispatcher := events.NewInMemoryDispatcher(zap.NewNop())
	publisher := &recordingPublisher{}
	StartNotificationWorker(service.NewNotificationService(dispatcher, publisher, zap.NewNop(), config.NotificationConfig{RedisChannel: "calls.events"}))

	event := events.NewEvent(events.EventCallEnded, "r1", time.Now(), events.CallEndedPayload{DurationSeconds: 90})
	require.NoError(t, dispatcher.Publish(context.Background(), event))
	assert.Equal(t, int32(1), publisher.n.Load())
}

func TestStartCallSweeper(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sweeper := &countingSweeper{err: errors.New("db down")}

	done := StartCallSweeper(ctx, sweeper, 5*time.Millisecond, time.Hour, nil)
	assert.Eventually(t, func() bool { return sweeper.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(time.Hour), sweeper.maxAge.Load())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestStartCallSweeperDisabled(t *testing.T) {
	sweeper := &countingSweeper{}
	done := StartCallSweeper(context.Background(), sweeper, 0, time.Hour, nil)
	<-done
	assert.Zero(t, sweeper.calls.Load())
}
