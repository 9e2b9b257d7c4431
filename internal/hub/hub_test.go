package hub

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/rs/zerolog"

	"wired/internal/presence"
	"wired/internal/router"
	"wired/pkg/types"
)

type frame struct {
	event   string
	payload interface{}
}

type fakeConn struct {
	id     string
	mu     sync.Mutex
	frames []frame
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Emit(event string, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame{event, payload})
	return nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

func (c *fakeConn) all(event string) []interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []interface{}
	for _, f := range c.frames {
		if f.event == event {
			out = append(out, f.payload)
		}
	}
	return out
}

func (c *fakeConn) last(event string) interface{} {
	payloads := c.all(event)
	if len(payloads) == 0 {
		return nil
	}
	return payloads[len(payloads)-1]
}

type fixture struct {
	hub      *Hub
	registry *presence.RoomRegistry
	clock    time.Time
	mu       sync.Mutex
}

func newFixture(t *testing.T, capacity int) *fixture {
	t.Helper()
	logger := zerolog.Nop()

	registry, err := presence.NewRoomRegistry(capacity)
	if err != nil {
		t.Fatalf("NewRoomRegistry: %v", err)
	}
	limiter, err := router.NewRateLimiter(router.DefaultMaxPerWindow, router.DefaultWindow, router.DefaultMaxMessageLength)
	if err != nil {
		t.Fatalf("NewRateLimiter: %v", err)
	}

	f := &fixture{registry: registry, clock: time.Unix(1700000000, 0)}
	f.hub = NewHub(registry, router.NewRouter(&logger), limiter, &logger)
	f.hub.now = func() time.Time {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.clock
	}

	if err := f.hub.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = f.hub.Stop() })
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = f.clock.Add(d)
}

func (f *fixture) connect(t *testing.T, id string) *fakeConn {
	t.Helper()
	conn := &fakeConn{id: id}
	if err := f.hub.Connect(context.Background(), conn); err != nil {
		t.Fatalf("Connect(%s): %v", id, err)
	}
	return conn
}

func (f *fixture) send(t *testing.T, connID, name string, payload interface{}) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := f.hub.Dispatch(context.Background(), connID, name, raw); err != nil {
		t.Fatalf("Dispatch(%s): %v", name, err)
	}
}

// sync waits for every previously queued event to be processed.
func (f *fixture) sync(t *testing.T) {
	t.Helper()
	if err := f.hub.Disconnect(context.Background(), "barrier"); err != nil {
		t.Fatalf("barrier: %v", err)
	}
}

func (f *fixture) join(t *testing.T, connID, room, identity string) {
	t.Helper()
	f.send(t, connID, types.EventJoinRoom, types.JoinRoomPayload{Room: room, Username: identity})
}

func (f *fixture) say(t *testing.T, connID, room, text string) {
	t.Helper()
	f.send(t, connID, types.EventChatMessage, types.ChatMessagePayload{Room: room, Message: text})
}

func expectError(t *testing.T, conn *fakeConn, reason string) {
	t.Helper()
	if got := conn.last(types.EventErrorMessage); got != reason {
		t.Errorf("%s: errorMessage = %v, want %s", conn.id, got, reason)
	}
}

func TestHub_StartStop(t *testing.T) {
	logger := zerolog.Nop()
	registry, _ := presence.NewRoomRegistry(presence.DefaultCapacity)
	limiter, _ := router.NewRateLimiter(3, time.Second, 5000)
	h := NewHub(registry, router.NewRouter(&logger), limiter, &logger)

	if err := h.Dispatch(context.Background(), "c1", types.EventJoinRoom, nil); !errors.Is(err, ErrHubNotRunning) {
		t.Errorf("Dispatch before Start = %v, want ErrHubNotRunning", err)
	}
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.Start(context.Background()); !errors.Is(err, ErrHubAlreadyRunning) {
		t.Errorf("second Start = %v, want ErrHubAlreadyRunning", err)
	}
	if err := h.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := h.Stop(); !errors.Is(err, ErrHubNotRunning) {
		t.Errorf("second Stop = %v, want ErrHubNotRunning", err)
	}
	if err := h.Disconnect(context.Background(), "c1"); !errors.Is(err, ErrHubNotRunning) {
		t.Errorf("Disconnect after Stop = %v, want ErrHubNotRunning", err)
	}
}

func TestHub_ContextCancelStopsLoop(t *testing.T) {
	logger := zerolog.Nop()
	registry, _ := presence.NewRoomRegistry(presence.DefaultCapacity)
	limiter, _ := router.NewRateLimiter(3, time.Second, 5000)
	h := NewHub(registry, router.NewRouter(&logger), limiter, &logger)

	ctx, cancel := context.WithCancel(context.Background())
	if err := h.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()

	select {
	case <-h.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not exit after context cancel")
	}
}

func TestHub_LoungeScenario(t *testing.T) {
	f := newFixture(t, presence.DefaultCapacity)
	alice := f.connect(t, "conn-alice")
	bob := f.connect(t, "conn-bob")

	f.join(t, alice.id, "lounge", "alice")
	f.join(t, bob.id, "lounge", "bob")
	f.sync(t)

	for _, c := range []*fakeConn{alice, bob} {
		if got := c.last(types.EventUserCount); got != 2 {
			t.Errorf("%s: userCount = %v, want 2", c.id, got)
		}
		want := types.RoomUsers{Users: []string{"alice", "bob"}}
		if got := c.last(types.EventRoomUsers); !reflect.DeepEqual(got, want) {
			t.Errorf("%s: roomUsers = %s", c.id, spew.Sdump(got))
		}
		if got := c.last(types.EventRoomUserCounts); !reflect.DeepEqual(got, map[string]int{"lounge": 2}) {
			t.Errorf("%s: roomUserCounts = %v", c.id, got)
		}
	}

	f.say(t, alice.id, "lounge", "hi")
	f.sync(t)

	want := types.ChatMessage{Username: "alice", Message: "hi"}
	for _, c := range []*fakeConn{alice, bob} {
		if got := c.last(types.EventMessage); !reflect.DeepEqual(got, want) {
			t.Errorf("%s: message = %s", c.id, spew.Sdump(got))
		}
	}

	if err := f.hub.Disconnect(context.Background(), alice.id); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	if got := bob.last(types.EventUserCount); got != 1 {
		t.Errorf("bob: userCount = %v, want 1", got)
	}
	if got := bob.last(types.EventRoomUsers); !reflect.DeepEqual(got, types.RoomUsers{Users: []string{"bob"}}) {
		t.Errorf("bob: roomUsers = %s", spew.Sdump(got))
	}
	if got := f.registry.Count("lounge"); got != 1 {
		t.Errorf("registry count = %d, want 1", got)
	}
}

func TestHub_JoinFullRoomKeepsPriorAttachment(t *testing.T) {
	f := newFixture(t, 1)
	a := f.connect(t, "a")
	b := f.connect(t, "b")

	f.join(t, a.id, "lounge", "alice")
	f.join(t, b.id, "arcade", "bob")
	f.sync(t)
	b.reset()

	f.join(t, b.id, "lounge", "bob")
	f.sync(t)

	expectError(t, b, types.ReasonRoomFull)
	if got := f.registry.MembersOf("lounge"); !reflect.DeepEqual(got, []string{"alice"}) {
		t.Errorf("lounge members = %v", got)
	}
	if got := f.registry.MembersOf("arcade"); !reflect.DeepEqual(got, []string{"bob"}) {
		t.Errorf("bob should still be in arcade, members = %v", got)
	}
	if att := f.hub.attachments[b.id]; att.room != "arcade" {
		t.Errorf("attachment = %+v, want arcade", att)
	}
	if len(a.all(types.EventUserCount)) != 1 {
		t.Error("a rejected join must not trigger presence announcements in the target room")
	}
}

func TestHub_JoinSwitchesRooms(t *testing.T) {
	f := newFixture(t, presence.DefaultCapacity)
	a := f.connect(t, "a")
	watcher := f.connect(t, "w")

	f.join(t, watcher.id, "lounge", "watcher")
	f.join(t, a.id, "lounge", "alice")
	f.sync(t)
	if got := f.registry.Count("lounge"); got != 2 {
		t.Fatalf("lounge count = %d, want 2", got)
	}

	f.join(t, a.id, "arcade", "alice")
	f.sync(t)

	if got := f.registry.Count("lounge"); got != 1 {
		t.Errorf("lounge count = %d, want 1", got)
	}
	if got := f.registry.Count("arcade"); got != 1 {
		t.Errorf("arcade count = %d, want 1", got)
	}
	if got := watcher.last(types.EventUserCount); got != 1 {
		t.Errorf("watcher should see lounge drop to 1, got %v", got)
	}
	if got := a.last(types.EventUserCount); got != 1 {
		t.Errorf("a should see arcade count 1, got %v", got)
	}

	watcher.reset()
	f.say(t, a.id, "arcade", "anyone?")
	f.sync(t)
	if len(watcher.all(types.EventMessage)) != 0 {
		t.Error("messages must not leak to the previous room")
	}
}

func TestHub_RejoinSameRoomWithNewIdentity(t *testing.T) {
	f := newFixture(t, 1)
	a := f.connect(t, "a")

	f.join(t, a.id, "lounge", "alice")
	f.join(t, a.id, "lounge", "lain")
	f.sync(t)

	if got := f.registry.MembersOf("lounge"); !reflect.DeepEqual(got, []string{"lain"}) {
		t.Errorf("members = %v, want [lain]", got)
	}
	if len(a.all(types.EventErrorMessage)) != 0 {
		t.Errorf("unexpected errors: %v", a.all(types.EventErrorMessage))
	}
}

func TestHub_UnattachedConnectionGetsInvalidState(t *testing.T) {
	f := newFixture(t, presence.DefaultCapacity)
	a := f.connect(t, "a")

	f.say(t, a.id, "lounge", "hello?")
	f.sync(t)
	expectError(t, a, types.ReasonInvalidState)

	a.reset()
	f.send(t, a.id, types.EventLeaveRoom, types.LeaveRoomPayload{Room: "lounge", Username: "alice"})
	f.sync(t)
	expectError(t, a, types.ReasonInvalidState)
}

func TestHub_MessageToOtherRoomIsInvalid(t *testing.T) {
	f := newFixture(t, presence.DefaultCapacity)
	a := f.connect(t, "a")
	f.join(t, a.id, "lounge", "alice")
	f.say(t, a.id, "arcade", "psst")
	f.sync(t)

	expectError(t, a, types.ReasonInvalidState)
	if len(a.all(types.EventMessage)) != 0 {
		t.Error("message must be dropped")
	}
}

func TestHub_MalformedPayloadIsInvalidState(t *testing.T) {
	f := newFixture(t, presence.DefaultCapacity)
	a := f.connect(t, "a")

	tests := []struct {
		name string
		data json.RawMessage
	}{
		{"missing", nil},
		{"not json", json.RawMessage(`{nope`)},
		{"bad room", json.RawMessage(`{"room":"no spaces allowed","username":"alice"}`)},
		{"empty identity", json.RawMessage(`{"room":"lounge","username":""}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a.reset()
			if err := f.hub.Dispatch(context.Background(), a.id, types.EventJoinRoom, tt.data); err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
			f.sync(t)
			expectError(t, a, types.ReasonInvalidState)
		})
	}
	if len(f.registry.Rooms()) != 0 {
		t.Errorf("invalid joins must not create rooms: %v", f.registry.Rooms())
	}
}

func TestHub_RateAndLengthLimits(t *testing.T) {
	f := newFixture(t, presence.DefaultCapacity)
	a := f.connect(t, "a")
	b := f.connect(t, "b")
	f.join(t, a.id, "lounge", "alice")
	f.join(t, b.id, "lounge", "bob")
	f.sync(t)

	f.say(t, a.id, "lounge", strings.Repeat("x", 5001))
	f.sync(t)
	expectError(t, a, types.ReasonMessageTooLong)
	if len(b.all(types.EventMessage)) != 0 {
		t.Fatal("oversized message must not be delivered")
	}

	for i := 0; i < 3; i++ {
		f.say(t, a.id, "lounge", "spam")
		f.advance(100 * time.Millisecond)
	}
	f.say(t, a.id, "lounge", "spam")
	f.sync(t)

	expectError(t, a, types.ReasonRateLimited)
	if got := len(b.all(types.EventMessage)); got != 3 {
		t.Errorf("bob received %d messages, want 3", got)
	}

	f.advance(time.Second)
	a.reset()
	f.say(t, a.id, "lounge", "back")
	f.sync(t)
	if len(a.all(types.EventErrorMessage)) != 0 {
		t.Errorf("message after window should pass, got %v", a.all(types.EventErrorMessage))
	}
}

func TestHub_AliasFallsBackToJoinAlias(t *testing.T) {
	f := newFixture(t, presence.DefaultCapacity)
	a := f.connect(t, "a")
	f.send(t, a.id, types.EventJoinRoom, types.JoinRoomPayload{Room: "lounge", Username: "alice", Alias: "Alice"})
	f.say(t, a.id, "", "hey")
	f.send(t, a.id, types.EventChatMessage, types.ChatMessagePayload{Message: "again", Alias: "A.", Username: "mallory"})
	f.sync(t)

	msgs := a.all(types.EventMessage)
	want := []interface{}{
		types.ChatMessage{Username: "alice", Alias: "Alice", Message: "hey"},
		types.ChatMessage{Username: "alice", Alias: "A.", Message: "again"},
	}
	if !reflect.DeepEqual(msgs, want) {
		t.Errorf("messages:\n%s", spew.Sdump(msgs))
	}
}

func TestHub_SharedIdentityStaysUntilLastConnectionLeaves(t *testing.T) {
	f := newFixture(t, presence.DefaultCapacity)
	tab1 := f.connect(t, "tab1")
	tab2 := f.connect(t, "tab2")

	f.join(t, tab1.id, "lounge", "alice")
	f.join(t, tab2.id, "lounge", "alice")
	f.sync(t)
	if got := f.registry.Count("lounge"); got != 1 {
		t.Fatalf("count = %d, want 1", got)
	}

	f.send(t, tab1.id, types.EventLeaveRoom, types.LeaveRoomPayload{Room: "lounge", Username: "alice"})
	f.sync(t)
	if got := f.registry.MembersOf("lounge"); !reflect.DeepEqual(got, []string{"alice"}) {
		t.Errorf("alice still has a live connection, members = %v", got)
	}

	if err := f.hub.Disconnect(context.Background(), tab2.id); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if got := f.registry.Count("lounge"); got != 0 {
		t.Errorf("count = %d, want 0", got)
	}
}

func TestHub_GlobalCountsReachUnattachedConnections(t *testing.T) {
	f := newFixture(t, presence.DefaultCapacity)
	a := f.connect(t, "a")
	idle := f.connect(t, "idle")

	f.join(t, a.id, "lounge", "alice")
	f.sync(t)

	if got := idle.last(types.EventRoomUserCounts); !reflect.DeepEqual(got, map[string]int{"lounge": 1}) {
		t.Errorf("idle roomUserCounts = %v", got)
	}
	if len(idle.all(types.EventUserCount)) != 0 {
		t.Error("unattached connection must not receive room events")
	}
}

func TestHub_DisconnectForgetsConnection(t *testing.T) {
	f := newFixture(t, presence.DefaultCapacity)
	a := f.connect(t, "a")
	f.join(t, a.id, "lounge", "alice")
	f.say(t, a.id, "lounge", "bye")
	f.sync(t)

	if err := f.hub.Disconnect(context.Background(), a.id); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := f.hub.Disconnect(context.Background(), a.id); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}

	if _, ok := f.hub.connections[a.id]; ok {
		t.Error("connection should be forgotten")
	}
	if _, ok := f.hub.attachments[a.id]; ok {
		t.Error("attachment should be removed")
	}
	if f.hub.limiter.Tracked() != 0 {
		t.Error("rate window should be forgotten")
	}
	if got := f.registry.Snapshot(); !reflect.DeepEqual(got, map[string]int{"lounge": 0}) {
		t.Errorf("snapshot = %v", got)
	}
}

func TestHub_UnknownEventIsIgnored(t *testing.T) {
	f := newFixture(t, presence.DefaultCapacity)
	a := f.connect(t, "a")
	f.send(t, a.id, "typing", map[string]string{"room": "lounge"})
	f.sync(t)

	if len(a.all(types.EventErrorMessage)) != 0 {
		t.Errorf("unknown events should be ignored, got %v", a.all(types.EventErrorMessage))
	}
}

func TestHub_DisconnectIsSubmittedAsDisconnecting(t *testing.T) {
	logger := zerolog.Nop()
	registry, err := presence.NewRoomRegistry(presence.DefaultCapacity)
	if err != nil {
		t.Fatalf("NewRoomRegistry: %v", err)
	}
	limiter, err := router.NewRateLimiter(router.DefaultMaxPerWindow, router.DefaultWindow, router.DefaultMaxMessageLength)
	if err != nil {
		t.Fatalf("NewRateLimiter: %v", err)
	}
	h := NewHub(registry, router.NewRouter(&logger), limiter, &logger)
	h.running = true

	submitted := make(chan *event, 1)
	go func() {
		ev := <-h.events
		submitted <- ev
		close(ev.done)
	}()

	if err := h.Disconnect(context.Background(), "a"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	ev := <-submitted
	if ev.kind != kindDisconnect || ev.name != types.EventDisconnect || ev.connID != "a" {
		t.Errorf("unexpected disconnect event: %s", spew.Sdump(ev))
	}
}

// A client frame named like the transport event is still an unknown inbound event.
func TestHub_ClientCannotForgeDisconnect(t *testing.T) {
	f := newFixture(t, presence.DefaultCapacity)
	a := f.connect(t, "a")
	b := f.connect(t, "b")
	f.join(t, a.id, "lounge", "alice")
	f.join(t, b.id, "lounge", "bob")
	f.send(t, a.id, types.EventDisconnect, map[string]string{})
	f.sync(t)

	if got := f.registry.Count("lounge"); got != 2 {
		t.Errorf("lounge count = %d, want 2", got)
	}
}

func TestHub_PanicInHandlerBecomesInvalidState(t *testing.T) {
	f := newFixture(t, presence.DefaultCapacity)
	a := f.connect(t, "a")

	// Announcing through a nil broadcaster panics after the registry update.
	f.hub.broadcaster = nil

	f.join(t, a.id, "lounge", "alice")
	f.sync(t)
	expectError(t, a, types.ReasonInvalidState)

	// The loop keeps running after the panic.
	b := f.connect(t, "b")
	f.say(t, b.id, "lounge", "hi")
	f.sync(t)
	expectError(t, b, types.ReasonInvalidState)
}

func TestReasonFor(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{presence.ErrRoomFull, types.ReasonRoomFull},
		{router.ErrMessageTooLong, types.ReasonMessageTooLong},
		{router.ErrRateLimited, types.ReasonRateLimited},
		{ErrInvalidState, types.ReasonInvalidState},
		{errors.New("anything else"), types.ReasonInvalidState},
	}
	for _, tt := range tests {
		if got := reasonFor(tt.err); got != tt.want {
			t.Errorf("reasonFor(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
