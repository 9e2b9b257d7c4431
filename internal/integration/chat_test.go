package integration

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"wired/internal/config"
	"wired/pkg/types"
)

func TestChat_LoungeScenario(t *testing.T) {
	baseURL := startApp(t, nil)

	alice := newClient(t, baseURL, "alice")
	bob := newClient(t, baseURL, "bob")
	for _, c := range []*TestClient{alice, bob} {
		c.register(t)
		if _, err := c.dial(t); err != nil {
			t.Fatalf("%s dial: %v", c.Username, err)
		}
	}

	alice.join(t, "lounge")
	alice.expect(t, types.EventRoomUsers, usersAre("alice"))

	bob.join(t, "lounge")
	for _, c := range []*TestClient{alice, bob} {
		c.expect(t, types.EventUserCount, countIs(2))
		c.expect(t, types.EventRoomUsers, usersAre("alice", "bob"))
	}

	var rooms struct {
		Rooms map[string]int `json:"rooms"`
	}
	bob.getJSON(t, "/api/rooms", &rooms)
	if rooms.Rooms["lounge"] != 2 || rooms.Rooms["cyberia"] != 0 {
		t.Errorf("Unexpected room snapshot: %v", rooms.Rooms)
	}
	if _, ok := rooms.Rooms["cyberia"]; !ok {
		t.Error("Default room should be listed")
	}

	alice.say(t, "lounge", "hi")
	for _, c := range []*TestClient{alice, bob} {
		raw := c.expect(t, types.EventMessage, nil)
		var msg types.ChatMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("decode message: %v", err)
		}
		if msg.Username != "alice" || msg.Message != "hi" {
			t.Errorf("%s received %+v", c.Username, msg)
		}
	}

	if err := alice.conn.Close(); err != nil {
		t.Fatalf("close alice: %v", err)
	}
	bob.expect(t, types.EventUserCount, countIs(1))
	bob.expect(t, types.EventRoomUsers, usersAre("bob"))
}

func TestChat_SocketRequiresSession(t *testing.T) {
	baseURL := startApp(t, nil)

	anonymous := newClient(t, baseURL, "anonymous")
	resp, err := anonymous.dial(t)
	if err == nil {
		t.Fatal("Expected dial without a session to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("Expected 401, got %+v", resp)
	}
}

func TestChat_Rejections(t *testing.T) {
	baseURL := startApp(t, func(c *config.Config) {
		c.Chat.RoomCapacity = 1
		c.WebSocket.RequireSession = false
	})

	alice := newClient(t, baseURL, "alice")
	bob := newClient(t, baseURL, "bob")
	for _, c := range []*TestClient{alice, bob} {
		if _, err := c.dial(t); err != nil {
			t.Fatalf("%s dial: %v", c.Username, err)
		}
	}

	alice.join(t, "wired")
	alice.expect(t, types.EventRoomUsers, usersAre("alice"))

	bob.join(t, "wired")
	reason := bob.expect(t, types.EventErrorMessage, nil)
	if string(reason) != `"`+types.ReasonRoomFull+`"` {
		t.Errorf("Expected room_full, got %s", reason)
	}

	bob.say(t, "wired", "let me in")
	reason = bob.expect(t, types.EventErrorMessage, nil)
	if string(reason) != `"`+types.ReasonInvalidState+`"` {
		t.Errorf("Expected invalid_state for unattached sender, got %s", reason)
	}

	alice.say(t, "wired", strings.Repeat("x", 5001))
	reason = alice.expect(t, types.EventErrorMessage, nil)
	if string(reason) != `"`+types.ReasonMessageTooLong+`"` {
		t.Errorf("Expected message_too_long, got %s", reason)
	}

	if err := alice.conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	reason = alice.expect(t, types.EventErrorMessage, nil)
	if string(reason) != `"`+types.ReasonInvalidState+`"` {
		t.Errorf("Expected invalid_state for malformed frame, got %s", reason)
	}
}

func TestChat_HealthReportsSockets(t *testing.T) {
	baseURL := startApp(t, func(c *config.Config) {
		c.WebSocket.RequireSession = false
	})

	alice := newClient(t, baseURL, "alice")
	if _, err := alice.dial(t); err != nil {
		t.Fatalf("dial: %v", err)
	}
	alice.join(t, "cyberia")
	alice.expect(t, types.EventRoomUsers, usersAre("alice"))

	var health struct {
		Status      string         `json:"status"`
		Connections map[string]int `json:"connections"`
	}
	if code := alice.getJSON(t, "/health", &health); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if health.Status != "healthy" || health.Connections["sockets"] != 1 {
		t.Errorf("Unexpected health: %+v", health)
	}
}

func TestChat_OversizeMessagesKeepSenderAttached(t *testing.T) {
	baseURL := startApp(t, func(c *config.Config) {
		c.WebSocket.RequireSession = false
	})

	alice := newClient(t, baseURL, "alice")
	bob := newClient(t, baseURL, "bob")
	for _, c := range []*TestClient{alice, bob} {
		if _, err := c.dial(t); err != nil {
			t.Fatalf("%s dial: %v", c.Username, err)
		}
		c.join(t, "lounge")
	}
	bob.expect(t, types.EventRoomUsers, usersAre("alice", "bob"))

	tests := []struct {
		name string
		size int
	}{
		{"decoded and rejected by length", 70000},
		{"larger than the frame limit", 2 << 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alice.say(t, "lounge", strings.Repeat("a", tt.size))
			reason := alice.expect(t, types.EventErrorMessage, nil)
			if string(reason) != `"`+types.ReasonMessageTooLong+`"` {
				t.Fatalf("Expected message_too_long, got %s", reason)
			}

			alice.say(t, "lounge", "still here")
			raw := bob.expect(t, types.EventMessage, nil)
			var msg types.ChatMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				t.Fatalf("decode message: %v", err)
			}
			if msg.Username != "alice" || msg.Message != "still here" {
				t.Errorf("bob received %+v", msg)
			}
		})
	}

	var room struct {
		Count int `json:"count"`
	}
	bob.getJSON(t, "/api/rooms/lounge", &room)
	if room.Count != 2 {
		t.Errorf("Expected alice to stay in the room, count %d", room.Count)
	}
}
