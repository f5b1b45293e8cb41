package signaling

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var peerSeq atomic.Int64

type fakePeer struct {
	id       string
	identity string

	mu     sync.Mutex
	msgs   []Outbound
	closed bool
}

func newPeer(identity string) *fakePeer {
	return &fakePeer{id: fmt.Sprintf("%s-%d", identity, peerSeq.Add(1)), identity: identity}
}

func (p *fakePeer) ID() string       { return p.id }
func (p *fakePeer) Identity() string { return p.identity }

func (p *fakePeer) Send(msg Outbound) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.msgs = append(p.msgs, msg)
	return true
}

func (p *fakePeer) close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *fakePeer) received() []Outbound {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Outbound(nil), p.msgs...)
}

func (p *fakePeer) types() []MessageType {
	msgs := p.received()
	out := make([]MessageType, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Type)
	}
	return out
}

func (p *fakePeer) ofType(kind MessageType) []Outbound {
	var out []Outbound
	for _, m := range p.received() {
		if m.Type == kind {
			out = append(out, m)
		}
	}
	return out
}

func (p *fakePeer) reset() {
	p.mu.Lock()
	p.msgs = nil
	p.mu.Unlock()
}

type lifecycleCall struct {
	name     string
	roomID   string
	duration int
}

type fakeLifecycle struct {
	mu    sync.Mutex
	calls []lifecycleCall
	// fail decides the result of the n-th attempt (1-based) of a callback.
	fail     func(name string, attempt int) error
	attempts map[string]int
}

func (f *fakeLifecycle) record(c lifecycleCall) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attempts == nil {
		f.attempts = map[string]int{}
	}
	f.attempts[c.name]++
	if f.fail != nil {
		if err := f.fail(c.name, f.attempts[c.name]); err != nil {
			return err
		}
	}
	f.calls = append(f.calls, c)
	return nil
}

func (f *fakeLifecycle) OnCallStarted(_ context.Context, roomID string) error {
	return f.record(lifecycleCall{name: callbackCallStarted, roomID: roomID})
}

func (f *fakeLifecycle) OnCallEnded(_ context.Context, roomID string, durationSeconds int) error {
	return f.record(lifecycleCall{name: callbackCallEnded, roomID: roomID, duration: durationSeconds})
}

func (f *fakeLifecycle) recorded() []lifecycleCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]lifecycleCall(nil), f.calls...)
}

func (f *fakeLifecycle) attemptsOf(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[name]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	t      *testing.T
	clock  *fakeClock
	rooms  *Registry
	coord  *Coordinator
	router *Router
	life   *fakeLifecycle
}

func newHarness(t *testing.T, cfg CoordinatorConfig, opts ...RegistryOption) *harness {
	t.Helper()
	clock := newClock()
	rooms := NewRegistry(append([]RegistryOption{WithClock(clock.Now)}, opts...)...)
	life := &fakeLifecycle{}
	coord := NewCoordinator(rooms, life, cfg, nil, nil)
	return &harness{
		t:      t,
		clock:  clock,
		rooms:  rooms,
		coord:  coord,
		router: NewRouter(coord, nil, nil),
		life:   life,
	}
}

func (h *harness) open(roomID, a, b string) {
	h.t.Helper()
	require.NoError(h.t, h.coord.OpenRoom(roomID, a, b))
}

func (h *harness) join(p *fakePeer, roomID string) {
	h.t.Helper()
	h.router.HandleMessage(p, Inbound{Type: TypeJoinRoom, RoomID: roomID})
}

// settle waits for every scheduled lifecycle callback.
func (h *harness) settle() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(h.t, h.coord.Wait(ctx))
}
