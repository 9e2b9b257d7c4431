// Package hub runs the chat gateway: a single goroutine that owns connection
// attachments and applies join, message, leave and disconnect events in order.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"wired/internal/presence"
	"wired/internal/router"
	"wired/pkg/interfaces"
	"wired/pkg/types"
)

const (
	eventBufferSize = 1000
	cleanupInterval = time.Minute
)

type eventKind int

const (
	kindConnect eventKind = iota
	kindInbound
	kindDisconnect
)

// event is one unit of work for the run loop.
type event struct {
	kind       eventKind
	connID     string
	conn       interfaces.Connection
	name       string
	data       json.RawMessage
	receivedAt time.Time
	done       chan struct{}
}

// attachment is the room membership held by one connection.
type attachment struct {
	room     string
	identity string
	alias    string
}

// Hub is the chat gateway. All mutable state below the channels is owned by
// the run goroutine.
type Hub struct {
	events   chan *event
	shutdown chan struct{}
	stopped  chan struct{}

	router      *router.Router
	registry    *presence.RoomRegistry
	broadcaster *presence.Broadcaster
	limiter     *router.RateLimiter
	logger      zerolog.Logger
	now         func() time.Time

	connections map[string]interfaces.Connection
	attachments map[string]attachment

	mu      sync.RWMutex
	running bool
	started bool
}

// NewHub wires a gateway over an existing registry, router and limiter.
func NewHub(registry *presence.RoomRegistry, rt *router.Router, limiter *router.RateLimiter, logger *zerolog.Logger) *Hub {
	return &Hub{
		events:      make(chan *event, eventBufferSize),
		shutdown:    make(chan struct{}),
		stopped:     make(chan struct{}),
		router:      rt,
		registry:    registry,
		broadcaster: presence.NewBroadcaster(registry, rt, logger),
		limiter:     limiter,
		logger:      logger.With().Str("component", "hub").Logger(),
		now:         time.Now,
		connections: make(map[string]interfaces.Connection),
		attachments: make(map[string]attachment),
	}
}

// Start launches the run loop. It stops when ctx is cancelled or Stop is called.
// A hub runs at most once.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return ErrHubAlreadyRunning
	}
	h.started = true
	h.running = true

	h.logger.Info().Msg("starting chat hub")
	go h.run(ctx)
	return nil
}

// Stop ends the run loop and waits for it to exit.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdown)
	h.mu.Unlock()

	<-h.stopped
	return nil
}

func (h *Hub) submit(ctx context.Context, ev *event) error {
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if !running {
		return ErrHubNotRunning
	}

	select {
	case h.events <- ev:
		return nil
	case <-h.stopped:
		return ErrHubNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect registers a new connection in the unattached state.
func (h *Hub) Connect(ctx context.Context, conn interfaces.Connection) error {
	return h.submit(ctx, &event{kind: kindConnect, connID: conn.ID(), conn: conn})
}

// Dispatch queues an inbound client event for connID.
func (h *Hub) Dispatch(ctx context.Context, connID, name string, data json.RawMessage) error {
	return h.submit(ctx, &event{
		kind:       kindInbound,
		connID:     connID,
		name:       name,
		data:       data,
		receivedAt: h.now(),
	})
}

// Disconnect detaches connID and waits until the hub has processed it, so the
// caller may close the transport afterwards.
func (h *Hub) Disconnect(ctx context.Context, connID string) error {
	ev := &event{kind: kindDisconnect, connID: connID, name: types.EventDisconnect, done: make(chan struct{})}
	if err := h.submit(ctx, ev); err != nil {
		return err
	}
	select {
	case <-ev.done:
		return nil
	case <-h.stopped:
		return ErrHubNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.stopped)
	defer h.logger.Info().Msg("chat hub stopped")

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-h.events:
			h.handle(ev)

		case now := <-ticker.C:
			h.limiter.Cleanup(now)

		case <-h.shutdown:
			return

		case <-ctx.Done():
			h.mu.Lock()
			h.running = false
			h.mu.Unlock()
			return
		}
	}
}

// handle is the dispatch boundary. A panic while processing an event is
// reported to the sender as invalid_state and never stops the loop.
func (h *Hub) handle(ev *event) {
	if ev.done != nil {
		defer close(ev.done)
	}
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().Str("conn", ev.connID).Str("event", ev.name).
				Interface("panic", r).Msg("recovered from event handler panic")
			h.reject(ev.connID, fmt.Errorf("%w: panic: %v", ErrInvalidState, r))
		}
	}()

	switch ev.kind {
	case kindConnect:
		h.onConnect(ev.conn)
	case kindDisconnect:
		h.onDisconnect(ev.connID)
	case kindInbound:
		if err := h.onInbound(ev); err != nil {
			h.reject(ev.connID, err)
		}
	}
}

func (h *Hub) onInbound(ev *event) error {
	if _, ok := h.connections[ev.connID]; !ok {
		h.logger.Warn().Str("conn", ev.connID).Str("event", ev.name).Msg("event from unknown connection")
		return nil
	}

	switch ev.name {
	case types.EventJoinRoom:
		var p types.JoinRoomPayload
		if err := types.DecodePayload(ev.data, &p); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		return h.onJoin(ev.connID, &p)

	case types.EventChatMessage:
		var p types.ChatMessagePayload
		if err := types.DecodePayload(ev.data, &p); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		return h.onMessage(ev.connID, &p, ev.receivedAt)

	case types.EventLeaveRoom:
		var p types.LeaveRoomPayload
		if err := types.DecodePayload(ev.data, &p); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		return h.onLeave(ev.connID, &p)

	default:
		h.logger.Debug().Str("conn", ev.connID).Str("event", ev.name).Msg("ignoring unknown event")
		return nil
	}
}

func (h *Hub) onConnect(conn interfaces.Connection) {
	h.connections[conn.ID()] = conn
	h.router.Register(conn)
	h.logger.Debug().Str("conn", conn.ID()).Msg("connection registered")
}

func (h *Hub) onJoin(connID string, p *types.JoinRoomPayload) error {
	prev, attached := h.attachments[connID]
	if attached && prev.room == p.Room && prev.identity == p.Username {
		prev.alias = p.Alias
		h.attachments[connID] = prev
		h.broadcaster.AnnounceRoom(p.Room)
		h.broadcaster.AnnounceGlobal()
		return nil
	}

	if !h.registry.CanJoin(p.Room, p.Username) && !h.freesSlot(connID, prev, attached, p.Room) {
		return fmt.Errorf("join %s: %w", p.Room, presence.ErrRoomFull)
	}

	if attached {
		h.detach(connID, prev)
		if prev.room != p.Room {
			h.broadcaster.AnnounceRoom(prev.room)
		}
	}

	res := h.registry.Join(p.Room, p.Username)
	if !res.Accepted {
		h.broadcaster.AnnounceGlobal()
		return fmt.Errorf("join %s: %w", p.Room, presence.ErrRoomFull)
	}

	h.attachments[connID] = attachment{room: p.Room, identity: p.Username, alias: p.Alias}
	h.router.Subscribe(p.Room, h.connections[connID])

	h.logger.Info().Str("conn", connID).Str("room", p.Room).Str("identity", p.Username).
		Int("members", res.MemberCount).Msg("joined room")

	h.broadcaster.AnnounceRoom(p.Room)
	h.broadcaster.AnnounceGlobal()
	return nil
}

// freesSlot reports whether detaching prev would make room for a new identity
// in room: prev is in room and no other connection holds its identity there.
func (h *Hub) freesSlot(connID string, prev attachment, attached bool, room string) bool {
	return attached && prev.room == room && !h.identityHeldElsewhere(connID, prev)
}

func (h *Hub) onMessage(connID string, p *types.ChatMessagePayload, receivedAt time.Time) error {
	att, ok := h.attachments[connID]
	if !ok {
		return fmt.Errorf("message from unattached connection: %w", ErrInvalidState)
	}
	if p.Room != "" && p.Room != att.room {
		return fmt.Errorf("message for %s while attached to %s: %w", p.Room, att.room, ErrInvalidState)
	}
	if err := h.limiter.Check(connID, p.Message, receivedAt); err != nil {
		return err
	}

	alias := p.Alias
	if alias == "" {
		alias = att.alias
	}
	h.router.EmitToRoom(att.room, types.EventMessage, types.ChatMessage{
		Username: att.identity,
		Alias:    alias,
		Message:  p.Message,
	})
	return nil
}

func (h *Hub) onLeave(connID string, p *types.LeaveRoomPayload) error {
	att, ok := h.attachments[connID]
	if !ok {
		return fmt.Errorf("leave from unattached connection: %w", ErrInvalidState)
	}
	if p.Room != "" && p.Room != att.room {
		return fmt.Errorf("leave %s while attached to %s: %w", p.Room, att.room, ErrInvalidState)
	}

	h.detach(connID, att)
	h.logger.Info().Str("conn", connID).Str("room", att.room).Str("identity", att.identity).Msg("left room")

	h.broadcaster.AnnounceRoom(att.room)
	h.broadcaster.AnnounceGlobal()
	return nil
}

func (h *Hub) onDisconnect(connID string) {
	if _, ok := h.connections[connID]; !ok {
		return
	}

	att, attached := h.attachments[connID]
	if attached {
		h.detach(connID, att)
	}

	h.router.Unregister(connID)
	h.limiter.Forget(connID)
	delete(h.connections, connID)

	if attached {
		h.logger.Info().Str("conn", connID).Str("room", att.room).Str("identity", att.identity).Msg("disconnected from room")
		h.broadcaster.AnnounceRoom(att.room)
		h.broadcaster.AnnounceGlobal()
	}
}

// detach drops the attachment of connID. The identity stays in the registry
// while another connection in the same room still presents it.
func (h *Hub) detach(connID string, att attachment) {
	delete(h.attachments, connID)
	h.router.Unsubscribe(att.room, connID)
	if !h.identityHeldElsewhere(connID, att) {
		h.registry.Leave(att.room, att.identity)
	}
}

func (h *Hub) identityHeldElsewhere(connID string, att attachment) bool {
	for id, other := range h.attachments {
		if id != connID && other.room == att.room && other.identity == att.identity {
			return true
		}
	}
	return false
}

func (h *Hub) reject(connID string, err error) {
	reason := reasonFor(err)
	h.logger.Debug().Err(err).Str("conn", connID).Str("reason", reason).Msg("event rejected")
	h.router.EmitTo(connID, types.EventErrorMessage, reason)
}
