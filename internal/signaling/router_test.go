package signaling

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/call-signaling/internal/domain"
)

func TestCallBetweenCustomerAndSupporter(t *testing.T) {
	h := newHarness(t, CoordinatorConfig{})
	h.open("r1", "u1", "u2")
	u1, u2 := newPeer("u1"), newPeer("u2")

	h.join(u1, "r1")
	snap, err := h.rooms.Snapshot("r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomStateWaitingForSecond, snap.State)
	assert.Equal(t, []MessageType{TypeJoined}, u1.types())
	h.settle()
	assert.Empty(t, h.life.recorded())

	h.join(u2, "r1")
	snap, err = h.rooms.Snapshot("r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomStateActive, snap.State)
	assert.Equal(t, []MessageType{TypeJoined, TypeUserJoined, TypeCallStarted, TypeCreateOffer}, u1.types())
	assert.Equal(t, []MessageType{TypeJoined, TypeCallStarted, TypeWaitForOffer}, u2.types())
	assert.Equal(t, []string{"u1", "u2"}, u2.ofType(TypeJoined)[0].Occupants)
	h.settle()
	assert.Equal(t, []lifecycleCall{{name: callbackCallStarted, roomID: "r1"}}, h.life.recorded())

	sdp := json.RawMessage(`"X"`)
	h.router.HandleMessage(u1, Inbound{Type: TypeOffer, RoomID: "r1", SDP: sdp})
	offers := u2.ofType(TypeOffer)
	require.Len(t, offers, 1)
	assert.Equal(t, sdp, offers[0].SDP)
	assert.Equal(t, "r1", offers[0].RoomID)

	h.router.HandleMessage(u2, Inbound{Type: TypeAnswer, RoomID: "r1", SDP: json.RawMessage(`"Y"`)})
	require.Len(t, u1.ofType(TypeAnswer), 1)

	h.clock.Advance(90 * time.Second)
	u2.close()
	h.router.Disconnect(u2)

	_, err = h.rooms.Snapshot("r1")
	assert.ErrorIs(t, err, ErrRoomNotFound)
	ended := u1.ofType(TypeCallEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, string(domain.EndReasonDisconnect), ended[0].Reason)

	u1.reset()
	h.router.HandleMessage(u1, Inbound{Type: TypeICECandidate, RoomID: "r1", Candidate: json.RawMessage(`{"candidate":"c1"}`)})
	assert.Empty(t, u1.received(), "late candidate is dropped without an error")

	h.settle()
	assert.Equal(t, []lifecycleCall{
		{name: callbackCallStarted, roomID: "r1"},
		{name: callbackCallEnded, roomID: "r1", duration: 90},
	}, h.life.recorded())
}

func TestStrangerIsUnauthorized(t *testing.T) {
	h := newHarness(t, CoordinatorConfig{})
	h.open("r1", "u1", "u2")
	h.join(newPeer("u1"), "r1")

	u3 := newPeer("u3")
	h.join(u3, "r1")

	errs := u3.ofType(TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrUnauthorized.Code, errs[0].Code)
	assert.Equal(t, "r1", errs[0].RoomID)

	snap, err := h.rooms.Snapshot("r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, snap.Occupants)

	// The connection stays usable for another attempt.
	h.open("r2", "u3", "u4")
	h.join(u3, "r2")
	assert.Len(t, u3.ofType(TypeJoined), 1)
}

func TestThirdIdentityIsRejectedWithRoomFull(t *testing.T) {
	h := newHarness(t, CoordinatorConfig{})
	h.open("r1", "u1", "u2")
	h.join(newPeer("u1"), "r1")
	h.join(newPeer("u2"), "r1")

	u3 := newPeer("u3")
	h.join(u3, "r1")
	errs := u3.ofType(TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrRoomFull.Code, errs[0].Code)
}

func TestJoinUnknownRoomLooksUnauthorized(t *testing.T) {
	h := newHarness(t, CoordinatorConfig{})
	u1 := newPeer("u1")
	h.join(u1, "nope")

	errs := u1.ofType(TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrUnauthorized.Code, errs[0].Code)
}

func TestJoinWithForeignUserID(t *testing.T) {
	h := newHarness(t, CoordinatorConfig{})
	h.open("r1", "u1", "u2")
	u1 := newPeer("u1")

	h.router.HandleMessage(u1, Inbound{Type: TypeJoinRoom, RoomID: "r1", UserID: "u2"})
	errs := u1.ofType(TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrUnauthorized.Code, errs[0].Code)

	snap, err := h.rooms.Snapshot("r1")
	require.NoError(t, err)
	assert.Empty(t, snap.Occupants)
}

func TestMessagesAreNotBufferedForAbsentPeer(t *testing.T) {
	h := newHarness(t, CoordinatorConfig{})
	h.open("r1", "u1", "u2")
	u1, u2 := newPeer("u1"), newPeer("u2")

	h.join(u1, "r1")
	h.router.HandleMessage(u1, Inbound{Type: TypeOffer, RoomID: "r1", SDP: json.RawMessage(`"early"`)})
	assert.Empty(t, u1.ofType(TypeError))

	h.join(u2, "r1")
	assert.Empty(t, u2.ofType(TypeOffer))
}

func TestRelayPreservesSenderOrder(t *testing.T) {
	h := newHarness(t, CoordinatorConfig{})
	h.open("r1", "u1", "u2")
	u1, u2 := newPeer("u1"), newPeer("u2")
	h.join(u1, "r1")
	h.join(u2, "r1")

	const n = 100
	for i := 0; i < n; i++ {
		h.router.HandleMessage(u1, Inbound{
			Type:      TypeICECandidate,
			RoomID:    "r1",
			Candidate: json.RawMessage(fmt.Sprintf(`{"seq":%d}`, i)),
		})
	}

	got := u2.ofType(TypeICECandidate)
	require.Len(t, got, n)
	for i, m := range got {
		assert.JSONEq(t, fmt.Sprintf(`{"seq":%d}`, i), string(m.Candidate))
	}
}

func TestLeaveIsIdempotent(t *testing.T) {
	h := newHarness(t, CoordinatorConfig{})
	h.open("r1", "u1", "u2")
	u1, u2 := newPeer("u1"), newPeer("u2")
	h.join(u1, "r1")
	h.join(u2, "r1")

	leave := Inbound{Type: TypeLeaveRoom, RoomID: "r1"}
	h.router.HandleMessage(u1, leave)
	h.router.HandleMessage(u1, leave)

	assert.Empty(t, u1.ofType(TypeError))
	assert.Len(t, u2.ofType(TypeUserLeft), 1)
	ended := u2.ofType(TypeCallEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, string(domain.EndReasonLeft), ended[0].Reason)

	h.settle()
	assert.Len(t, h.life.recorded(), 2)
}

func TestLeaveWhileWaiting(t *testing.T) {
	h := newHarness(t, CoordinatorConfig{})
	h.open("r1", "u1", "u2")
	u1 := newPeer("u1")
	h.join(u1, "r1")

	h.router.HandleMessage(u1, Inbound{Type: TypeLeaveRoom, RoomID: "r1"})
	h.router.HandleMessage(u1, Inbound{Type: TypeLeaveRoom, RoomID: "r1"})
	assert.Empty(t, u1.ofType(TypeError))
	assert.Equal(t, 0, h.rooms.Len())

	h.settle()
	assert.Empty(t, h.life.recorded(), "a call that never started has no callbacks")
}

func TestHangupEndsCallForBoth(t *testing.T) {
	h := newHarness(t, CoordinatorConfig{})
	h.open("r1", "u1", "u2")
	u1, u2 := newPeer("u1"), newPeer("u2")
	h.join(u1, "r1")
	h.join(u2, "r1")

	h.clock.Advance(5 * time.Second)
	h.router.HandleMessage(u2, Inbound{Type: TypeHangup, RoomID: "r1"})

	for _, p := range []*fakePeer{u1, u2} {
		ended := p.ofType(TypeCallEnded)
		require.Len(t, ended, 1)
		assert.Equal(t, string(domain.EndReasonHangup), ended[0].Reason)
	}
	assert.Equal(t, 0, h.rooms.Len())

	// A second hangup from a former member is silent.
	u2.reset()
	h.router.HandleMessage(u2, Inbound{Type: TypeHangup, RoomID: "r1"})
	assert.Empty(t, u2.received())

	h.settle()
	calls := h.life.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, 5, calls[1].duration)
}

func TestRelayFromOutsiderIsUnauthorized(t *testing.T) {
	h := newHarness(t, CoordinatorConfig{})
	h.open("r1", "u1", "u2")
	u1, u2 := newPeer("u1"), newPeer("u2")
	h.join(u1, "r1")
	h.join(u2, "r1")

	u3 := newPeer("u3")
	h.router.HandleMessage(u3, Inbound{Type: TypeOffer, RoomID: "r1", SDP: json.RawMessage(`"spoof"`)})
	h.router.HandleMessage(u3, Inbound{Type: TypeHangup, RoomID: "r1"})

	errs := u3.ofType(TypeError)
	require.Len(t, errs, 2)
	for _, e := range errs {
		assert.Equal(t, ErrUnauthorized.Code, e.Code)
	}
	assert.Empty(t, u1.ofType(TypeOffer))
	assert.Empty(t, u2.ofType(TypeOffer))
	assert.Empty(t, u1.ofType(TypeCallEnded))
}

func TestUnknownMessageType(t *testing.T) {
	h := newHarness(t, CoordinatorConfig{})
	u1 := newPeer("u1")
	h.router.HandleMessage(u1, Inbound{Type: "bogus", RoomID: "r1"})

	errs := u1.ofType(TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrInvalidMessage.Code, errs[0].Code)
}

func TestRejoinReplacesPreviousConnection(t *testing.T) {
	h := newHarness(t, CoordinatorConfig{})
	h.open("r1", "u1", "u2")
	first, second := newPeer("u1"), newPeer("u1")

	h.join(first, "r1")
	h.join(second, "r1")

	errs := first.ofType(TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrSessionReplaced.Code, errs[0].Code)

	// Late frames from the superseded connection are dropped without reply.
	first.reset()
	h.router.HandleMessage(first, Inbound{Type: TypeICECandidate, RoomID: "r1", Candidate: []byte(`{"candidate":"late"}`)})
	h.router.HandleMessage(first, Inbound{Type: TypeHangup, RoomID: "r1"})
	assert.Empty(t, first.received())
	_, err := h.rooms.Snapshot("r1")
	require.NoError(t, err, "hangup from a superseded connection leaves the room alone")

	// The superseded connection closing must not evict the new one.
	first.close()
	h.router.Disconnect(first)
	snap, err := h.rooms.Snapshot("r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, snap.Occupants)

	u2 := newPeer("u2")
	h.join(u2, "r1")
	assert.Len(t, second.ofType(TypeCreateOffer), 1)
	assert.Len(t, u2.ofType(TypeWaitForOffer), 1)
}

func TestConcurrentRoomsStayBounded(t *testing.T) {
	h := newHarness(t, CoordinatorConfig{})
	const rooms = 20
	for i := 0; i < rooms; i++ {
		h.open(fmt.Sprintf("r%d", i), "u1", "u2")
	}

	var wg sync.WaitGroup
	for i := 0; i < rooms; i++ {
		roomID := fmt.Sprintf("r%d", i)
		for _, identity := range []string{"u1", "u2", "u3", "u1", "u2"} {
			wg.Add(1)
			go func(identity string) {
				defer wg.Done()
				p := newPeer(identity)
				h.join(p, roomID)
				h.router.HandleMessage(p, Inbound{Type: TypeICECandidate, RoomID: roomID, Candidate: json.RawMessage(`{}`)})
				h.router.Disconnect(p)
			}(identity)
		}
	}
	wg.Wait()
	h.settle()

	started := map[string]int{}
	ended := map[string]int{}
	for _, c := range h.life.recorded() {
		switch c.name {
		case callbackCallStarted:
			started[c.roomID]++
		case callbackCallEnded:
			ended[c.roomID]++
		}
	}
	for i := 0; i < rooms; i++ {
		roomID := fmt.Sprintf("r%d", i)
		assert.LessOrEqual(t, started[roomID], 1)
		assert.Equal(t, started[roomID], ended[roomID], "every started call ends exactly once")
	}
	assert.Equal(t, 0, h.rooms.Len())
}
