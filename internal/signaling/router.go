package signaling

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/call-signaling/internal/domain"
	"github.com/spec-kit/call-signaling/internal/observability"
	apperrors "github.com/spec-kit/call-signaling/pkg/util/errorutil"
)

// Router relays signaling between the two occupants of a room. It keeps no
// room state of its own beyond which rooms each connection has joined.
type Router struct {
	rooms   *Registry
	coord   *Coordinator
	logger  *zap.Logger
	metrics *observability.Metrics

	mu          sync.Mutex
	memberships map[Peer]map[string]struct{}
}

// NewRouter wires a router to the coordinator's registry.
func NewRouter(coord *Coordinator, logger *zap.Logger, metrics *observability.Metrics) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		rooms:       coord.rooms,
		coord:       coord,
		logger:      logger.Named("router"),
		metrics:     metrics,
		memberships: make(map[Peer]map[string]struct{}),
	}
}

// HandleMessage processes one inbound frame from peer. Failures are reported
// to peer only; a panic is contained to this message.
func (r *Router) HandleMessage(peer Peer, msg Inbound) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic while handling message",
				zap.String("type", string(msg.Type)),
				zap.String("room_id", msg.RoomID),
				zap.Any("panic", rec))
			peer.Send(errorMessage(msg.RoomID, apperrors.NewInternalError(fmt.Errorf("%v", rec))))
		}
	}()

	var err error
	switch msg.Type {
	case TypeJoinRoom:
		err = r.HandleJoin(peer, msg.RoomID, msg.UserID)
	case TypeLeaveRoom:
		err = r.HandleLeave(peer, msg.RoomID, msg.UserID)
	case TypeHangup:
		err = r.HandleHangup(peer, msg.RoomID)
	case TypeOffer:
		err = r.Relay(peer, msg.RoomID, Outbound{Type: TypeOffer, RoomID: msg.RoomID, SDP: msg.SDP})
	case TypeAnswer:
		err = r.Relay(peer, msg.RoomID, Outbound{Type: TypeAnswer, RoomID: msg.RoomID, SDP: msg.SDP})
	case TypeICECandidate:
		err = r.Relay(peer, msg.RoomID, Outbound{Type: TypeICECandidate, RoomID: msg.RoomID, Candidate: msg.Candidate})
	default:
		err = ErrInvalidMessage
	}
	if err != nil {
		peer.Send(errorMessage(msg.RoomID, err))
	}
}

// HandleJoin admits peer's identity into roomID. A claimed userID must match
// the identity bound to the connection. A connection superseded by a rejoin
// stays tracked until it disconnects, so its late frames are dropped.
func (r *Router) HandleJoin(peer Peer, roomID, userID string) error {
	identity := peer.Identity()
	if userID != "" && userID != identity {
		r.rejected(roomID, identity, ErrUnauthorized)
		return ErrUnauthorized
	}

	err := r.rooms.update(roomID, true, func(room *Room) error {
		adm, err := room.admit(identity, peer, r.rooms.now())
		if err != nil {
			return err
		}
		r.track(peer, roomID)
		r.coord.admitted(room, identity, peer, adm)
		return nil
	})
	if errors.Is(err, ErrRoomNotFound) {
		err = ErrUnauthorized
	}
	if err != nil {
		r.rejected(roomID, identity, err)
		return err
	}
	return nil
}

// HandleLeave removes peer's identity from roomID. Leaving twice, or leaving
// a room that is already gone, succeeds without effect.
func (r *Router) HandleLeave(peer Peer, roomID, userID string) error {
	identity := peer.Identity()
	if userID != "" && userID != identity {
		return ErrUnauthorized
	}
	r.untrack(peer, roomID)
	err := r.rooms.update(roomID, false, func(room *Room) error {
		rem := room.remove(identity, peer, r.rooms.now())
		r.coord.removed(room, identity, rem, domain.EndReasonLeft)
		return nil
	})
	if errors.Is(err, ErrRoomNotFound) {
		return nil
	}
	return err
}

// HandleHangup ends the call for both occupants.
func (r *Router) HandleHangup(peer Peer, roomID string) error {
	identity := peer.Identity()
	err := r.rooms.update(roomID, false, func(room *Room) error {
		if !room.holds(identity, peer) {
			return ErrUnauthorized
		}
		r.coord.end(room, domain.EndReasonHangup)
		return nil
	})
	return r.stale(peer, roomID, err)
}

// Relay forwards msg to the other occupant of roomID. Nothing is queued for
// a peer that is not connected.
func (r *Router) Relay(peer Peer, roomID string, msg Outbound) error {
	identity := peer.Identity()
	err := r.rooms.update(roomID, false, func(room *Room) error {
		if !room.holds(identity, peer) {
			return ErrUnauthorized
		}
		target, ok := room.peerOf(identity)
		if !ok {
			return ErrPeerNotConnected
		}
		if !target.Send(msg) {
			return ErrPeerNotConnected
		}
		return nil
	})

	switch {
	case err == nil:
		r.metrics.MessageRelayed(string(msg.Type))
		return nil
	case errors.Is(err, ErrPeerNotConnected):
		r.dropped(roomID, identity, msg.Type)
		return nil
	}
	if err = r.stale(peer, roomID, err); err == nil {
		r.dropped(roomID, identity, msg.Type)
	}
	return err
}

// Disconnect releases every room slot held through peer. It is called by the
// transport once the connection is closed, before the transport returns.
func (r *Router) Disconnect(peer Peer) {
	identity := peer.Identity()
	for _, roomID := range r.untrackAll(peer) {
		_ = r.rooms.update(roomID, false, func(room *Room) error {
			r.coord.disconnected(room, identity, peer)
			return nil
		})
	}
}

// stale hides errors for connections whose room has ended underneath them:
// their late messages are dropped without complaint. Everyone else learns
// nothing about the room beyond Unauthorized.
func (r *Router) stale(peer Peer, roomID string, err error) error {
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrRoomNotFound) && !errors.Is(err, ErrUnauthorized) {
		return err
	}
	if r.member(peer, roomID) {
		return nil
	}
	return ErrUnauthorized
}

func (r *Router) rejected(roomID, identity string, err error) {
	code := apperrors.ToDomainError(err).Code
	r.metrics.JoinRejected(code)
	r.logger.Info("join rejected",
		zap.String("room_id", roomID),
		zap.String("user_id", identity),
		zap.String("code", code))
}

func (r *Router) dropped(roomID, identity string, kind MessageType) {
	r.metrics.MessageDropped(string(kind))
	r.logger.Debug("message dropped, peer not connected",
		zap.String("room_id", roomID),
		zap.String("user_id", identity),
		zap.String("type", string(kind)))
}

func (r *Router) track(peer Peer, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rooms, ok := r.memberships[peer]
	if !ok {
		rooms = make(map[string]struct{}, 1)
		r.memberships[peer] = rooms
	}
	rooms[roomID] = struct{}{}
}

func (r *Router) untrack(peer Peer, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rooms, ok := r.memberships[peer]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(r.memberships, peer)
		}
	}
}

func (r *Router) untrackAll(peer Peer) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	rooms := r.memberships[peer]
	delete(r.memberships, peer)
	out := make([]string, 0, len(rooms))
	for id := range rooms {
		out = append(out, id)
	}
	return out
}

func (r *Router) member(peer Peer, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.memberships[peer][roomID]
	return ok
}
