// Package websocket serves the real-time chat channel over gorilla/websocket.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"wired/pkg/interfaces"
	"wired/pkg/types"
)

const disconnectTimeout = 5 * time.Second

// Gateway receives connection lifecycle events and client frames.
type Gateway interface {
	Connect(ctx context.Context, conn interfaces.Connection) error
	Dispatch(ctx context.Context, connID, name string, data json.RawMessage) error
	Disconnect(ctx context.Context, connID string) error
}

// HandlerConfig tunes the socket endpoint.
type HandlerConfig struct {
	RequireSession bool
	CookieName     string
	SendBufferSize int
	MaxFrameBytes  int64
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

// Handler upgrades HTTP requests and pumps frames between sockets and the gateway.
type Handler struct {
	gateway  Gateway
	sessions interfaces.SessionManager
	config   HandlerConfig
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler creates a socket handler. sessions may be nil when
// config.RequireSession is false.
func NewHandler(gateway Gateway, sessions interfaces.SessionManager, config HandlerConfig, logger *zerolog.Logger) *Handler {
	h := &Handler{
		gateway:  gateway,
		sessions: sessions,
		config:   config,
		logger:   logger.With().Str("component", "websocket").Logger(),
	}
	h.upgrader = websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// authenticate returns the username bound to the request's session cookie.
func (h *Handler) authenticate(r *http.Request) (string, error) {
	if !h.config.RequireSession {
		return "", nil
	}
	cookie, err := r.Cookie(h.config.CookieName)
	if err != nil || cookie.Value == "" {
		return "", ErrNoSession
	}
	session, err := h.sessions.ValidateSession(r.Context(), cookie.Value)
	if err != nil {
		return "", errors.Join(ErrNoSession, err)
	}
	return session.Username, nil
}

// ServeHTTP upgrades the request and registers the connection with the gateway.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	username, err := h.authenticate(r)
	if err != nil {
		h.logger.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("socket rejected")
		http.Error(w, "login required", http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	conn := NewConnection(ws, username, h.config.SendBufferSize, h.config.WriteTimeout, &h.logger)
	if err := h.gateway.Connect(r.Context(), conn); err != nil {
		h.logger.Error().Err(err).Msg("gateway refused connection")
		_ = conn.Close()
		return
	}

	h.logger.Debug().Str("conn", conn.ID()).Str("user", username).Msg("socket connected")
	go h.handleConnection(conn)
}

// handleConnection reads frames until the socket fails, then disconnects from
// the gateway before closing the transport.
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		if err := h.gateway.Disconnect(ctx, conn.ID()); err != nil {
			h.logger.Warn().Err(err).Str("conn", conn.ID()).Msg("disconnect not processed")
		}
		_ = conn.Close()
		h.logger.Debug().Str("conn", conn.ID()).Msg("socket closed")
	}()

	ws := conn.conn
	if err := ws.SetReadDeadline(time.Now().Add(h.config.PongTimeout)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
	})

	go h.pingLoop(conn)

	for {
		messageType, data, err := h.readFrame(ws)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.logger.Debug().Err(err).Str("conn", conn.ID()).Msg("socket read failed")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if data == nil {
			h.logger.Debug().Str("conn", conn.ID()).Int64("limit", h.config.MaxFrameBytes).Msg("oversize frame dropped")
			_ = conn.Emit(types.EventErrorMessage, types.ReasonMessageTooLong)
			continue
		}

		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			_ = conn.Emit(types.EventErrorMessage, types.ReasonInvalidState)
			continue
		}
		if err := h.gateway.Dispatch(conn.ctx, conn.ID(), env.Event, env.Data); err != nil {
			h.logger.Warn().Err(err).Str("conn", conn.ID()).Msg("dispatch failed")
			return
		}
	}
}

// readFrame returns the next message. A text message larger than
// MaxFrameBytes yields nil data; its remainder is discarded by the next read
// so the connection stays usable.
func (h *Handler) readFrame(ws *websocket.Conn) (int, []byte, error) {
	messageType, r, err := ws.NextReader()
	if err != nil {
		return messageType, nil, err
	}
	if messageType != websocket.TextMessage {
		return messageType, nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(r, h.config.MaxFrameBytes+1))
	if err != nil {
		return messageType, nil, err
	}
	if int64(len(data)) > h.config.MaxFrameBytes {
		return messageType, nil, nil
	}
	return messageType, data, nil
}

func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(h.config.WriteTimeout)
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-conn.Done():
			return
		}
	}
}
