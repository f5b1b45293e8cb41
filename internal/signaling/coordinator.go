package signaling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/call-signaling/internal/domain"
	"github.com/spec-kit/call-signaling/internal/observability"
	apperrors "github.com/spec-kit/call-signaling/pkg/util/errorutil"
)

const (
	callbackCallStarted = "call-started"
	callbackCallEnded   = "call-ended"

	defaultCallbackTimeout = 5 * time.Second
)

// Lifecycle is implemented by the ticket system to learn when a call is
// established and when it is over. Each method is invoked at most once per
// room, ended never without started.
type Lifecycle interface {
	OnCallStarted(ctx context.Context, roomID string) error
	OnCallEnded(ctx context.Context, roomID string, durationSeconds int) error
}

// CoordinatorConfig tunes the lifecycle coordinator.
type CoordinatorConfig struct {
	// ReconnectGrace keeps a disconnected occupant's slot for this long.
	// Zero removes the occupant immediately.
	ReconnectGrace     time.Duration
	CallbackTimeout    time.Duration
	CallbackRetryDelay time.Duration
}

// Coordinator drives the per-room call state machine and talks to the
// ticket system. Methods with a *Room argument expect the room lock held.
type Coordinator struct {
	rooms     *Registry
	lifecycle Lifecycle
	cfg       CoordinatorConfig
	logger    *zap.Logger
	metrics   *observability.Metrics
	pending   sync.WaitGroup
}

// NewCoordinator builds a coordinator over rooms. lifecycle may be nil.
func NewCoordinator(rooms *Registry, lifecycle Lifecycle, cfg CoordinatorConfig, logger *zap.Logger, metrics *observability.Metrics) *Coordinator {
	if cfg.CallbackTimeout <= 0 {
		cfg.CallbackTimeout = defaultCallbackTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		rooms:     rooms,
		lifecycle: lifecycle,
		cfg:       cfg,
		logger:    logger.Named("coordinator"),
		metrics:   metrics,
	}
}

// OpenRoom registers the authorized pair before anyone joins.
func (c *Coordinator) OpenRoom(roomID, participantA, participantB string) error {
	created, err := c.rooms.Open(roomID, participantA, participantB)
	if err != nil {
		return err
	}
	if created {
		c.metrics.RoomOpened()
		c.logger.Info("room opened", zap.String("room_id", roomID))
	}
	return nil
}

// ForceEndRoom terminates roomID on behalf of the ticket system and returns
// the room as it was just before. call-ended is reported only if the call had
// become active.
func (c *Coordinator) ForceEndRoom(roomID string) (domain.RoomSnapshot, error) {
	var last domain.RoomSnapshot
	err := c.rooms.update(roomID, false, func(room *Room) error {
		last = room.snapshot()
		c.end(room, domain.EndReasonForced)
		return nil
	})
	return last, err
}

// Snapshot exposes the live state of roomID.
func (c *Coordinator) Snapshot(roomID string) (domain.RoomSnapshot, error) {
	return c.rooms.Snapshot(roomID)
}

// Rooms lists every live room.
func (c *Coordinator) Rooms() []domain.RoomSnapshot {
	return c.rooms.Snapshots()
}

// Wait blocks until every scheduled lifecycle callback has returned.
func (c *Coordinator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) admitted(room *Room, identity string, peer Peer, adm Admission) {
	if adm.Replaced != nil && adm.Replaced != peer {
		adm.Replaced.Send(errorMessage(room.id, ErrSessionReplaced))
	}

	peer.Send(Outbound{Type: TypeJoined, RoomID: room.id, Occupants: room.snapshot().Occupants})
	if adm.Peer != nil {
		adm.Peer.Send(Outbound{Type: TypeUserJoined, RoomID: room.id, UserID: identity})
	}

	if adm.Started {
		started := Outbound{Type: TypeCallStarted, RoomID: room.id}
		for _, p := range room.livePeers() {
			p.Send(started)
		}
		c.metrics.CallStarted()
		c.logger.Info("call started", zap.String("room_id", room.id))
		c.deliver(room, callbackCallStarted, func(ctx context.Context) error {
			return c.lifecycle.OnCallStarted(ctx, room.id)
		})
	}

	// The occupant that was already present makes the offer.
	if adm.AssignRoles() {
		adm.Peer.Send(Outbound{Type: TypeCreateOffer, RoomID: room.id, UserID: identity})
		peer.Send(Outbound{Type: TypeWaitForOffer, RoomID: room.id, UserID: adm.Peer.Identity()})
	}

	c.logger.Debug("occupant admitted",
		zap.String("room_id", room.id),
		zap.String("user_id", identity),
		zap.Int("occupancy", adm.Occupancy),
		zap.String("state", string(adm.State)),
		zap.Bool("resumed", adm.Resumed))
}

func (c *Coordinator) removed(room *Room, identity string, rem Removal, reason domain.EndReason) {
	if !rem.Removed {
		return
	}
	left := Outbound{Type: TypeUserLeft, RoomID: room.id, UserID: identity}
	for _, p := range rem.Remaining {
		p.Send(left)
	}
	c.logger.Debug("occupant removed",
		zap.String("room_id", room.id),
		zap.String("user_id", identity),
		zap.Int("occupancy", rem.Occupancy))
	if rem.Destroy {
		c.close(room, rem, reason)
	}
}

// disconnected handles a transport closing while identity still occupied
// room through peer.
func (c *Coordinator) disconnected(room *Room, identity string, peer Peer) {
	if c.cfg.ReconnectGrace <= 0 {
		c.removed(room, identity, room.remove(identity, peer, c.rooms.now()), domain.EndReasonDisconnect)
		return
	}
	gen, ok := room.detach(identity, peer)
	if !ok {
		return
	}
	room.occupants[identity].timer = time.AfterFunc(c.cfg.ReconnectGrace, func() {
		c.expire(room, identity, gen)
	})
	c.logger.Debug("occupant detached",
		zap.String("room_id", room.id),
		zap.String("user_id", identity),
		zap.Duration("grace", c.cfg.ReconnectGrace))
}

func (c *Coordinator) expire(room *Room, identity string, gen uint64) {
	room.mu.Lock()
	defer room.mu.Unlock()
	if room.state.Terminal() {
		return
	}
	s, ok := room.occupants[identity]
	if !ok || s.peer != nil || s.gen != gen {
		return
	}
	s.timer = nil
	c.removed(room, identity, room.remove(identity, nil, c.rooms.now()), domain.EndReasonDisconnect)
}

func (c *Coordinator) end(room *Room, reason domain.EndReason) {
	c.close(room, room.end(c.rooms.now()), reason)
}

func (c *Coordinator) close(room *Room, rem Removal, reason domain.EndReason) {
	ended := Outbound{Type: TypeCallEnded, RoomID: room.id, Reason: string(reason)}
	for _, p := range rem.Remaining {
		p.Send(ended)
	}
	c.rooms.deleteLocked(room)

	if !rem.CallEnded {
		c.logger.Info("room closed", zap.String("room_id", room.id), zap.String("reason", string(reason)))
		return
	}
	seconds := int(rem.Duration / time.Second)
	c.metrics.CallEnded(string(reason))
	c.logger.Info("call ended",
		zap.String("room_id", room.id),
		zap.String("reason", string(reason)),
		zap.Int("duration_seconds", seconds))
	c.deliver(room, callbackCallEnded, func(ctx context.Context) error {
		return c.lifecycle.OnCallEnded(ctx, room.id, seconds)
	})
}

// deliver runs fn off the room lock, after every callback previously
// scheduled for the same room.
func (c *Coordinator) deliver(room *Room, name string, fn func(context.Context) error) {
	if c.lifecycle == nil {
		return
	}
	prev := room.callbackTail
	done := make(chan struct{})
	room.callbackTail = done

	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		defer close(done)
		if prev != nil {
			<-prev
		}
		c.invoke(room.id, name, fn)
	}()
}

func (c *Coordinator) invoke(roomID, name string, fn func(context.Context) error) {
	logger := c.logger.With(zap.String("room_id", roomID), zap.String("callback", name))

	err := c.call(fn)
	if err == nil {
		return
	}
	if !isPermanent(err) {
		logger.Warn("lifecycle callback failed, retrying once", zap.Error(err))
		time.Sleep(c.cfg.CallbackRetryDelay)
		if err = c.call(fn); err == nil {
			return
		}
	}
	c.metrics.CallbackFailed(name)
	logger.Error("lifecycle callback dropped", zap.Error(apperrors.Wrap(ErrCallbackDeliveryFailed, err)))
}

func (c *Coordinator) call(fn func(context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CallbackTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("callback panicked: %v", r))
		}
	}()
	return fn(ctx)
}
