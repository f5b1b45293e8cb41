package signaling

import (
	"sort"
	"sync"
	"time"

	"github.com/spec-kit/call-signaling/internal/domain"
)

type slot struct {
	// peer is nil while the occupant is disconnected inside the grace window.
	peer  Peer
	gen   uint64
	timer *time.Timer
}

func (s *slot) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Room is one signaling context for exactly two authorized participants.
// Every field is guarded by mu.
type Room struct {
	id string

	mu         sync.Mutex
	implicit   bool
	authorized []string
	occupants  map[string]*slot
	state      domain.RoomState
	openedAt   time.Time
	startedAt  time.Time
	started    bool

	// callbackTail is closed when the most recently scheduled lifecycle
	// callback has finished, so callbacks run in scheduling order.
	callbackTail chan struct{}
}

func newRoom(id string, authorized []string, implicit bool, now time.Time) *Room {
	return &Room{
		id:         id,
		implicit:   implicit,
		authorized: authorized,
		occupants:  make(map[string]*slot, 2),
		state:      domain.RoomStateEmpty,
		openedAt:   now,
	}
}

// ID returns the room identifier.
func (r *Room) ID() string { return r.id }

// Admission describes the outcome of a successful admit.
type Admission struct {
	Occupancy int
	State     domain.RoomState
	// Peer is the other occupant's live handle, if any.
	Peer Peer
	// Replaced is this identity's previous live handle, superseded by the
	// new connection.
	Replaced Peer
	// Resumed is set when the identity already held a slot.
	Resumed bool
	// Started is set on the one admit that moved the room to Active.
	Started bool
}

// AssignRoles reports whether both occupants are connected after the admit,
// so the offer/answer roles must be handed out.
func (a Admission) AssignRoles() bool {
	return a.Occupancy == 2 && a.Peer != nil
}

// Removal describes the outcome of removing an occupant.
type Removal struct {
	Removed   bool
	Occupancy int
	// Destroy is set when the room reached Ended and must leave the registry.
	Destroy bool
	// CallEnded is set when an Active call ended with this removal.
	CallEnded bool
	Duration  time.Duration
	// Remaining holds the live handles still in the room.
	Remaining []Peer
}

func (r *Room) isAuthorized(identity string) bool {
	for _, id := range r.authorized {
		if id == identity {
			return true
		}
	}
	return false
}

func (r *Room) samePair(a, b string) bool {
	if len(r.authorized) != 2 {
		return false
	}
	return (r.authorized[0] == a && r.authorized[1] == b) || (r.authorized[0] == b && r.authorized[1] == a)
}

// pin confirms or fixes the authorized pair, must be called with mu held.
func (r *Room) pin(a, b string) error {
	if r.samePair(a, b) {
		return nil
	}
	// An implicit room that has not learned both identities yet can be
	// pinned down, as long as what it learned is compatible.
	if r.implicit && len(r.authorized) < 2 {
		for _, id := range r.authorized {
			if id != a && id != b {
				return ErrRoomConflict
			}
		}
		r.authorized = []string{a, b}
		r.implicit = false
		return nil
	}
	return ErrRoomConflict
}

// admit must be called with mu held.
func (r *Room) admit(identity string, peer Peer, now time.Time) (Admission, error) {
	if r.state.Terminal() {
		return Admission{}, ErrRoomNotFound
	}

	if s, ok := r.occupants[identity]; ok {
		replaced := s.peer
		s.stopTimer()
		s.gen++
		s.peer = peer
		adm := Admission{Occupancy: len(r.occupants), State: r.state, Replaced: replaced, Resumed: true}
		adm.Peer, _ = r.peerOf(identity)
		return adm, nil
	}

	if len(r.occupants) >= 2 {
		return Admission{}, ErrRoomFull
	}
	if !r.isAuthorized(identity) {
		if !r.implicit || len(r.authorized) >= 2 {
			return Admission{}, ErrUnauthorized
		}
		r.authorized = append(r.authorized, identity)
	}

	r.occupants[identity] = &slot{peer: peer}
	adm := Admission{Occupancy: len(r.occupants)}
	adm.Peer, _ = r.peerOf(identity)

	switch {
	case r.state == domain.RoomStateEmpty:
		r.state = domain.RoomStateWaitingForSecond
	case r.state == domain.RoomStateWaitingForSecond && len(r.occupants) == 2:
		r.state = domain.RoomStateActive
		if !r.started {
			r.started = true
			r.startedAt = now
			adm.Started = true
		}
	}
	adm.State = r.state
	return adm, nil
}

// remove must be called with mu held. A non-nil peer only removes the slot if
// it still holds that handle, so a superseded connection closing late is a
// no-op. A detached slot is only removed with a nil peer, by grace expiry.
func (r *Room) remove(identity string, peer Peer, now time.Time) Removal {
	s, ok := r.occupants[identity]
	if !ok || (peer != nil && s.peer != peer) {
		return Removal{Occupancy: len(r.occupants), Destroy: r.state.Terminal()}
	}
	s.stopTimer()
	delete(r.occupants, identity)

	rem := Removal{Removed: true, Occupancy: len(r.occupants)}
	switch r.state {
	case domain.RoomStateActive:
		rem.CallEnded = true
		rem.Duration = now.Sub(r.startedAt)
		r.state = domain.RoomStateEnded
	case domain.RoomStateWaitingForSecond:
		if len(r.occupants) == 0 {
			r.state = domain.RoomStateEnded
		}
	}
	rem.Destroy = r.state.Terminal()
	rem.Remaining = r.livePeers()
	return rem
}

// end forces the room to Ended, must be called with mu held.
func (r *Room) end(now time.Time) Removal {
	if r.state.Terminal() {
		return Removal{Destroy: true}
	}
	rem := Removal{Destroy: true, Remaining: r.livePeers()}
	if r.state == domain.RoomStateActive {
		rem.CallEnded = true
		rem.Duration = now.Sub(r.startedAt)
	}
	for id, s := range r.occupants {
		s.stopTimer()
		delete(r.occupants, id)
	}
	r.state = domain.RoomStateEnded
	return rem
}

// detach keeps identity's slot but drops its handle, returning the slot
// generation the grace timer must match. ok is false if peer is not the
// current handle.
func (r *Room) detach(identity string, peer Peer) (gen uint64, ok bool) {
	s, exists := r.occupants[identity]
	if !exists || s.peer != peer {
		return 0, false
	}
	s.peer = nil
	s.gen++
	return s.gen, true
}

func (r *Room) peerOf(identity string) (Peer, bool) {
	for id, s := range r.occupants {
		if id != identity && s.peer != nil {
			return s.peer, true
		}
	}
	return nil, false
}

func (r *Room) holds(identity string, peer Peer) bool {
	s, ok := r.occupants[identity]
	return ok && s.peer == peer
}

func (r *Room) livePeers() []Peer {
	out := make([]Peer, 0, len(r.occupants))
	for _, s := range r.occupants {
		if s.peer != nil {
			out = append(out, s.peer)
		}
	}
	return out
}

func (r *Room) snapshot() domain.RoomSnapshot {
	snap := domain.RoomSnapshot{
		RoomID:     r.id,
		State:      r.state,
		Authorized: append([]string(nil), r.authorized...),
		Occupants:  make([]string, 0, len(r.occupants)),
		OpenedAt:   r.openedAt,
	}
	for id := range r.occupants {
		snap.Occupants = append(snap.Occupants, id)
	}
	sort.Strings(snap.Occupants)
	if r.started {
		started := r.startedAt
		snap.StartedAt = &started
	}
	return snap
}
