package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"wired/pkg/interfaces"
	"wired/pkg/types"
)

// Connection wraps a gorilla socket. All writes go through a single writer
// goroutine fed by a buffered channel.
type Connection struct {
	conn         *websocket.Conn
	id           string
	username     string
	writeCh      chan []byte
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
	logger       zerolog.Logger
}

var _ interfaces.Connection = (*Connection)(nil)

// NewConnection starts the writer for conn. username is the logged-in account
// behind the socket, or empty when sessions are not required.
func NewConnection(conn *websocket.Conn, username string, bufferSize int, writeTimeout time.Duration, logger *zerolog.Logger) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	c := &Connection{
		conn:         conn,
		id:           id,
		username:     username,
		writeCh:      make(chan []byte, bufferSize),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
		logger:       logger.With().Str("conn", id).Logger(),
	}

	go c.writeLoop()
	return c
}

// ID returns the server-assigned connection identifier.
func (c *Connection) ID() string {
	return c.id
}

// Username returns the account bound to the socket at upgrade time.
func (c *Connection) Username() string {
	return c.username
}

// Done is closed when the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				c.logger.Debug().Err(err).Msg("set write deadline failed")
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug().Err(err).Msg("write failed")
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// Emit queues an {"event","data"} frame. It never blocks: a full buffer drops
// the frame and returns ErrSendBufferFull.
func (c *Connection) Emit(event string, payload interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(types.OutboundEnvelope{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// Close stops the writer and closes the socket. It is safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
