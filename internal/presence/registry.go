// Package presence tracks room membership and publishes presence statistics.
package presence

import (
	"sort"
	"sync"

	"wired/pkg/types"
)

// DefaultCapacity is the member limit applied to every room.
const DefaultCapacity = 20

// JoinResult reports the outcome of a join attempt.
type JoinResult struct {
	Accepted    bool
	MemberCount int
	Reason      string
}

// RoomRegistry maps room identifiers to their member identities. Rooms are
// created on first join and never removed.
type RoomRegistry struct {
	mu       sync.RWMutex
	rooms    map[string]map[string]struct{}
	capacity int
}

// NewRoomRegistry creates a registry with the given per-room capacity.
func NewRoomRegistry(capacity int) (*RoomRegistry, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	return &RoomRegistry{
		rooms:    make(map[string]map[string]struct{}),
		capacity: capacity,
	}, nil
}

// Capacity returns the per-room member limit.
func (r *RoomRegistry) Capacity() int {
	return r.capacity
}

// Ensure creates the room if it does not exist yet.
func (r *RoomRegistry) Ensure(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.room(roomID)
}

// room returns the member set for roomID, creating it. Caller holds the write lock.
func (r *RoomRegistry) room(roomID string) map[string]struct{} {
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[roomID] = members
	}
	return members
}

// Join adds identity to roomID. A full room rejects identities that are not
// already members. Joining twice is idempotent.
func (r *RoomRegistry) Join(roomID, identity string) JoinResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.room(roomID)
	if _, ok := members[identity]; ok {
		return JoinResult{Accepted: true, MemberCount: len(members)}
	}
	if len(members) >= r.capacity {
		return JoinResult{MemberCount: len(members), Reason: types.ReasonRoomFull}
	}
	members[identity] = struct{}{}
	return JoinResult{Accepted: true, MemberCount: len(members)}
}

// CanJoin reports whether Join(roomID, identity) would be accepted.
func (r *RoomRegistry) CanJoin(roomID, identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomID]
	if _, ok := members[identity]; ok {
		return true
	}
	return len(members) < r.capacity
}

// Leave removes identity from roomID and returns the remaining count. Unknown
// rooms and absent identities are a no-op.
func (r *RoomRegistry) Leave(roomID, identity string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return 0
	}
	delete(members, identity)
	return len(members)
}

// Count returns the number of members in roomID.
func (r *RoomRegistry) Count(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

// MembersOf returns the sorted member identities of roomID.
func (r *RoomRegistry) MembersOf(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomID]
	out := make([]string, 0, len(members))
	for identity := range members {
		out = append(out, identity)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns the member count of every known room, empty rooms included.
func (r *RoomRegistry) Snapshot() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int, len(r.rooms))
	for roomID, members := range r.rooms {
		out[roomID] = len(members)
	}
	return out
}

// Rooms returns the sorted identifiers of every known room.
func (r *RoomRegistry) Rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.rooms))
	for roomID := range r.rooms {
		out = append(out, roomID)
	}
	sort.Strings(out)
	return out
}
