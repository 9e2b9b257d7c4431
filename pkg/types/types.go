package types

import (
	"encoding/json"
	"time"
)

// Inbound real-time events. Names are part of the wire contract with existing clients.
const (
	EventJoinRoom    = "joinRoom"
	EventChatMessage = "chatMessage"
	EventLeaveRoom   = "leaveRoom"
	EventDisconnect  = "disconnecting"
)

// Outbound real-time events.
const (
	EventUserCount      = "userCount"
	EventRoomUsers      = "roomUsers"
	EventRoomUserCounts = "roomUserCounts"
	EventMessage        = "message"
	EventErrorMessage   = "errorMessage"
)

// Rejection reasons carried by errorMessage.
const (
	ReasonRoomFull       = "room_full"
	ReasonMessageTooLong = "message_too_long"
	ReasonRateLimited    = "rate_limited"
	ReasonInvalidState   = "invalid_state"
)

// Envelope is the frame exchanged over the socket in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OutboundEnvelope is the server side variant of Envelope with an already typed payload.
type OutboundEnvelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// JoinRoomPayload is sent by a client that wants to attach to a room.
type JoinRoomPayload struct {
	Room     string `json:"room"`
	Username string `json:"username"`
	Alias    string `json:"alias,omitempty"`
}

// ChatMessagePayload carries text for the sender's current room.
type ChatMessagePayload struct {
	Room     string `json:"room"`
	Username string `json:"username"`
	Alias    string `json:"alias,omitempty"`
	Message  string `json:"message"`
}

// LeaveRoomPayload is an explicit detach request.
type LeaveRoomPayload struct {
	Room     string `json:"room"`
	Username string `json:"username"`
}

// RoomUsers is the roomUsers notification body.
type RoomUsers struct {
	Users []string `json:"users"`
}

// ChatMessage is the message fan-out body.
type ChatMessage struct {
	Username string `json:"username"`
	Alias    string `json:"alias,omitempty"`
	Message  string `json:"message"`
}

// User is an account record. PasswordHash never leaves the server.
type User struct {
	Username     string    `json:"username" db:"username"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Settings holds the profile customization of a user.
type Settings struct {
	Username    string   `json:"username" db:"username"`
	Alias       string   `json:"alias" db:"alias"`
	Theme       string   `json:"theme" db:"theme"`
	Description string   `json:"description" db:"description"`
	Directory   string   `json:"directory" db:"directory"`
	AvatarPath  string   `json:"avatar" db:"avatar_path"`
	ImageList   []string `json:"imageList" db:"image_list"`
}

// Profile is the public view of a user's settings.
type Profile struct {
	Settings
	BackgroundImage string `json:"bgImage"`
}

// Document is an entry in the shared document library.
type Document struct {
	ID          string    `json:"id" db:"id"`
	Owner       string    `json:"owner" db:"owner"`
	Title       string    `json:"title" db:"title"`
	Path        string    `json:"path" db:"path"`
	ContentType string    `json:"content_type" db:"content_type"`
	Size        int64     `json:"size" db:"size"`
	UploadedAt  time.Time `json:"uploaded_at" db:"uploaded_at"`
}

// LoginSession binds an opaque cookie token to a username.
type LoginSession struct {
	Token     string    `json:"token" db:"token"`
	Username  string    `json:"username" db:"username"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
}

// Expired reports whether the session is no longer valid at now.
func (s *LoginSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
