package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"wired/internal/app"
	"wired/internal/config"
	"wired/pkg/types"
)

const frameTimeout = 3 * time.Second

// startApp runs a full application on an ephemeral port and returns its base URL.
func startApp(t *testing.T, mutate func(*config.Config)) string {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(dir, "wired.db")
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.HTTP.StaticDir = ""
	cfg.HTTP.AuthRateLimit = 100
	cfg.HTTP.AuthRateBurst = 100
	cfg.Uploads.Dir = filepath.Join(dir, "uploads")
	cfg.Session.BcryptCost = 4
	if mutate != nil {
		mutate(cfg)
	}

	logger := zerolog.Nop()
	application, err := app.NewApplication(cfg, &logger)
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start application: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := application.Stop(ctx); err != nil {
			t.Errorf("Failed to stop application: %v", err)
		}
	})
	return "http://" + application.Addr()
}

// TestClient is a logged-in browser: an HTTP client with a cookie jar and an
// optional socket.
type TestClient struct {
	Username string
	baseURL  string
	http     *http.Client
	conn     *websocket.Conn
}

func newClient(t *testing.T, baseURL, username string) *TestClient {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &TestClient{
		Username: username,
		baseURL:  baseURL,
		http:     &http.Client{Jar: jar, Timeout: 5 * time.Second},
	}
}

// register creates the account and keeps the session cookie.
func (c *TestClient) register(t *testing.T) {
	t.Helper()
	resp, err := c.http.PostForm(c.baseURL+"/register", url.Values{
		"username":        {c.Username},
		"password":        {"navi-" + c.Username + "-1"},
		"confirmPassword": {"navi-" + c.Username + "-1"},
	})
	if err != nil {
		t.Fatalf("register %s: %v", c.Username, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: status %d", c.Username, resp.StatusCode)
	}
}

func (c *TestClient) getJSON(t *testing.T, path string, v interface{}) int {
	t.Helper()
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func (c *TestClient) dial(t *testing.T) (*http.Response, error) {
	t.Helper()
	dialer := websocket.Dialer{Jar: c.http.Jar, HandshakeTimeout: frameTimeout}
	conn, resp, err := dialer.Dial("ws"+strings.TrimPrefix(c.baseURL, "http")+"/ws", nil)
	if err != nil {
		return resp, err
	}
	c.conn = conn
	t.Cleanup(func() { _ = conn.Close() })
	return resp, nil
}

func (c *TestClient) send(t *testing.T, event string, data interface{}) {
	t.Helper()
	if err := c.conn.WriteJSON(types.OutboundEnvelope{Event: event, Data: data}); err != nil {
		t.Fatalf("%s send %s: %v", c.Username, event, err)
	}
}

func (c *TestClient) join(t *testing.T, room string) {
	c.send(t, types.EventJoinRoom, types.JoinRoomPayload{Room: room, Username: c.Username})
}

func (c *TestClient) say(t *testing.T, room, text string) {
	c.send(t, types.EventChatMessage, types.ChatMessagePayload{Room: room, Username: c.Username, Message: text})
}

// expect reads frames until one named event satisfies match, skipping others.
func (c *TestClient) expect(t *testing.T, event string, match func(json.RawMessage) bool) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(frameTimeout)
	var seen []types.Envelope
	for {
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			t.Fatalf("set deadline: %v", err)
		}
		var env types.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			t.Fatalf("%s waiting for %s: %v\nseen: %s", c.Username, event, err, spew.Sdump(seen))
		}
		seen = append(seen, env)
		if env.Event == event && (match == nil || match(env.Data)) {
			return env.Data
		}
	}
}

func countIs(n int) func(json.RawMessage) bool {
	return func(raw json.RawMessage) bool {
		var got int
		return json.Unmarshal(raw, &got) == nil && got == n
	}
}

func usersAre(users ...string) func(json.RawMessage) bool {
	return func(raw json.RawMessage) bool {
		var got types.RoomUsers
		return json.Unmarshal(raw, &got) == nil && strings.Join(got.Users, ",") == strings.Join(users, ",")
	}
}
