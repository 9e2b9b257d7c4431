// Package router owns broadcast groups and per-connection abuse limits.
package router

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"wired/pkg/interfaces"
)

// Router keeps the set of live connections and the per-room broadcast groups.
// Emits are fire-and-forget: a failed delivery is logged and skipped.
type Router struct {
	mu          sync.RWMutex
	connections map[string]interfaces.Connection
	rooms       map[string]map[string]interfaces.Connection
	logger      zerolog.Logger
}

// NewRouter creates an empty router.
func NewRouter(logger *zerolog.Logger) *Router {
	return &Router{
		connections: make(map[string]interfaces.Connection),
		rooms:       make(map[string]map[string]interfaces.Connection),
		logger:      logger.With().Str("component", "router").Logger(),
	}
}

// Register adds conn to the global group.
func (r *Router) Register(conn interfaces.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[conn.ID()] = conn
}

// Unregister removes a connection from the global group and every room group.
func (r *Router) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.connections, connID)
	for roomID, group := range r.rooms {
		delete(group, connID)
		if len(group) == 0 {
			delete(r.rooms, roomID)
		}
	}
}

// CloseAll closes the transport of every registered connection. Entries are
// left for the owning handlers to unregister.
func (r *Router) CloseAll() int {
	r.mu.RLock()
	conns := make([]interfaces.Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			r.logger.Debug().Err(err).Str("conn", conn.ID()).Msg("close failed")
		}
	}
	return len(conns)
}

// Subscribe adds conn to the broadcast group of roomID.
func (r *Router) Subscribe(roomID string, conn interfaces.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	group, ok := r.rooms[roomID]
	if !ok {
		group = make(map[string]interfaces.Connection)
		r.rooms[roomID] = group
	}
	group[conn.ID()] = conn
}

// Unsubscribe removes connID from the broadcast group of roomID.
func (r *Router) Unsubscribe(roomID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	group, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(group, connID)
	if len(group) == 0 {
		delete(r.rooms, roomID)
	}
}

// Subscribers returns the sorted connection IDs in roomID's group.
func (r *Router) Subscribers(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.rooms[roomID]))
	for id := range r.rooms[roomID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ConnectionCount returns the size of the global group.
func (r *Router) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// EmitTo sends an event to a single connection.
func (r *Router) EmitTo(connID, event string, payload interface{}) {
	r.mu.RLock()
	conn, ok := r.connections[connID]
	r.mu.RUnlock()

	if !ok {
		r.logger.Debug().Str("conn", connID).Str("event", event).Msg("emit to unknown connection")
		return
	}
	r.deliver(conn, event, payload)
}

// EmitToRoom sends an event to every connection subscribed to roomID.
func (r *Router) EmitToRoom(roomID, event string, payload interface{}) {
	r.mu.RLock()
	targets := make([]interfaces.Connection, 0, len(r.rooms[roomID]))
	for _, conn := range r.rooms[roomID] {
		targets = append(targets, conn)
	}
	r.mu.RUnlock()

	for _, conn := range targets {
		r.deliver(conn, event, payload)
	}
}

// EmitToAll sends an event to every registered connection.
func (r *Router) EmitToAll(event string, payload interface{}) {
	r.mu.RLock()
	targets := make([]interfaces.Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		targets = append(targets, conn)
	}
	r.mu.RUnlock()

	for _, conn := range targets {
		r.deliver(conn, event, payload)
	}
}

func (r *Router) deliver(conn interfaces.Connection, event string, payload interface{}) {
	if err := conn.Emit(event, payload); err != nil {
		r.logger.Warn().Err(err).Str("conn", conn.ID()).Str("event", event).Msg("delivery failed")
	}
}
