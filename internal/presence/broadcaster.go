package presence

import (
	"github.com/rs/zerolog"

	"wired/pkg/types"
)

// Emitter fans an event out to a group of connections.
type Emitter interface {
	EmitToRoom(roomID, event string, payload interface{})
	EmitToAll(event string, payload interface{})
}

// Broadcaster publishes presence derived from a RoomRegistry.
type Broadcaster struct {
	registry *RoomRegistry
	emitter  Emitter
	logger   zerolog.Logger
}

// NewBroadcaster creates a broadcaster reading from registry and writing to emitter.
func NewBroadcaster(registry *RoomRegistry, emitter Emitter, logger *zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		emitter:  emitter,
		logger:   logger.With().Str("component", "presence").Logger(),
	}
}

// AnnounceRoom sends userCount and roomUsers to everyone subscribed to roomID.
func (b *Broadcaster) AnnounceRoom(roomID string) {
	members := b.registry.MembersOf(roomID)
	b.emitter.EmitToRoom(roomID, types.EventUserCount, len(members))
	b.emitter.EmitToRoom(roomID, types.EventRoomUsers, types.RoomUsers{Users: members})

	b.logger.Debug().Str("room", roomID).Int("members", len(members)).Msg("room presence announced")
}

// AnnounceGlobal sends the per-room counts to every connection.
func (b *Broadcaster) AnnounceGlobal() {
	b.emitter.EmitToAll(types.EventRoomUserCounts, b.registry.Snapshot())
}
