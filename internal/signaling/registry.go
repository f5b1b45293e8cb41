package signaling

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spec-kit/call-signaling/internal/domain"
)

// Registry maps room ids to rooms. The map lock is never held while waiting
// for a room lock; a room lock may be held while taking the map lock to
// delete that room.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]*Room
	implicit bool
	now      func() time.Time
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithImplicitRooms lets a join create an unknown room and learn its pair
// from the first two distinct identities.
func WithImplicitRooms(enabled bool) RegistryOption {
	return func(g *Registry) { g.implicit = enabled }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) RegistryOption {
	return func(g *Registry) { g.now = now }
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	g := &Registry{rooms: make(map[string]*Room), now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Open pre-registers the authorized pair for roomID. It reports whether a new
// room was created; opening an existing room with the same pair is a no-op.
func (g *Registry) Open(roomID, a, b string) (bool, error) {
	roomID, a, b = strings.TrimSpace(roomID), strings.TrimSpace(a), strings.TrimSpace(b)
	if roomID == "" || a == "" || b == "" || a == b {
		return false, ErrInvalidRoom
	}

	for {
		g.mu.Lock()
		room, ok := g.rooms[roomID]
		if !ok {
			g.rooms[roomID] = newRoom(roomID, []string{a, b}, false, g.now())
			g.mu.Unlock()
			return true, nil
		}
		g.mu.Unlock()

		room.mu.Lock()
		if room.state.Terminal() {
			g.deleteLocked(room)
			room.mu.Unlock()
			continue
		}
		err := room.pin(a, b)
		room.mu.Unlock()
		return false, err
	}
}

func (g *Registry) lookup(roomID string, create bool) *Room {
	g.mu.RLock()
	room, ok := g.rooms[roomID]
	g.mu.RUnlock()
	if ok || !create || !g.implicit {
		return room
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if room, ok = g.rooms[roomID]; ok {
		return room
	}
	room = newRoom(roomID, nil, true, g.now())
	g.rooms[roomID] = room
	return room
}

// update runs fn with the room lock held. Rooms that ended between lookup and
// locking are skipped, so fn never sees a terminal room.
func (g *Registry) update(roomID string, create bool, fn func(*Room) error) error {
	for {
		room := g.lookup(roomID, create)
		if room == nil {
			return ErrRoomNotFound
		}
		room.mu.Lock()
		if room.state.Terminal() {
			g.deleteLocked(room)
			room.mu.Unlock()
			continue
		}
		err := fn(room)
		room.mu.Unlock()
		return err
	}
}

// deleteLocked drops room from the map. Caller holds room.mu.
func (g *Registry) deleteLocked(room *Room) {
	g.mu.Lock()
	if g.rooms[room.id] == room {
		delete(g.rooms, room.id)
	}
	g.mu.Unlock()
}

// Admit places identity into roomID with the given handle.
func (g *Registry) Admit(roomID, identity string, peer Peer) (Admission, error) {
	var adm Admission
	err := g.update(roomID, true, func(room *Room) error {
		var err error
		adm, err = room.admit(identity, peer, g.now())
		return err
	})
	return adm, err
}

// Remove takes identity out of roomID. Removing an absent identity or an
// unknown room is a successful no-op.
func (g *Registry) Remove(roomID, identity string) Removal {
	var rem Removal
	_ = g.update(roomID, false, func(room *Room) error {
		rem = room.remove(identity, nil, g.now())
		if rem.Destroy {
			g.deleteLocked(room)
		}
		return nil
	})
	return rem
}

// PeerOf returns the live handle of identity's counterpart.
func (g *Registry) PeerOf(roomID, identity string) (Peer, bool) {
	var (
		peer Peer
		ok   bool
	)
	_ = g.update(roomID, false, func(room *Room) error {
		peer, ok = room.peerOf(identity)
		return nil
	})
	return peer, ok
}

// Snapshot returns a copy of roomID's state.
func (g *Registry) Snapshot(roomID string) (domain.RoomSnapshot, error) {
	var snap domain.RoomSnapshot
	err := g.update(roomID, false, func(room *Room) error {
		snap = room.snapshot()
		return nil
	})
	return snap, err
}

// Snapshots returns every live room ordered by id.
func (g *Registry) Snapshots() []domain.RoomSnapshot {
	g.mu.RLock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, room := range g.rooms {
		rooms = append(rooms, room)
	}
	g.mu.RUnlock()

	out := make([]domain.RoomSnapshot, 0, len(rooms))
	for _, room := range rooms {
		room.mu.Lock()
		if !room.state.Terminal() {
			out = append(out, room.snapshot())
		}
		room.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}

// Len returns the number of live rooms.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}
