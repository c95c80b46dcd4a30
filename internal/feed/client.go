package feed

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	writeWait    = 10 * time.Second
	sendBuffer   = 256
)

var errSendBufferFull = errors.New("send buffer full")

// client is one websocket subscriber.
type client struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// readLoop discards anything the subscriber sends and returns when the
// connection goes away. It keeps pong handling alive.
func (c *client) readLoop() error {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				return fmt.Errorf("read error: %w", err)
			}
			return nil
		}
	}
}

// writeLoop delivers queued messages and pings until the client closes.
func (c *client) writeLoop() error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil

		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return fmt.Errorf("write error: %w", err)
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("ping error: %w", err)
			}
		}
	}
}

// enqueue queues msg without blocking.
func (c *client) enqueue(msg []byte) error {
	select {
	case <-c.done:
		return errors.New("connection closed")
	default:
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return errSendBufferFull
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}
