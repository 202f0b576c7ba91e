// Package ws binds the protocol channels to websocket transports: one
// goroutine per connection reads inbound frames, a writer goroutine
// owns all outbound traffic including keepalive pings.
package ws

import (
	"chat-relay/domain/event"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

var errConnClosed = fmt.Errorf("connection closed")

// Client wraps a websocket connection behind the EventSink contract.
// Events are queued on a per-connection channel so one slow peer never
// blocks the goroutine fanning out to others; the writer goroutine is
// the only one touching the underlying connection for writes.
type Client struct {
	log       *slog.Logger
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(log *slog.Logger, conn *websocket.Conn, heartbeatInterval, pongTimeout time.Duration) *Client {
	c := &Client{
		log:  log,
		conn: conn,
		send: make(chan []byte, 64),
		done: make(chan struct{}),
	}

	// Liveness: a peer that stops answering pings trips the read
	// deadline and the read loop exits as if the transport closed.
	_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	go c.writeLoop(heartbeatInterval)
	return c
}

// Consume queues one event for delivery. It fails instead of blocking
// when the connection is gone or the caller's deadline expires.
func (c *Client) Consume(ctx context.Context, e event.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return errConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the writer after it drains queued events (so a final
// error event still reaches the peer) and closes the connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) writeLoop(heartbeatInterval time.Duration) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				c.log.Debug("Websocket write failed", "err", err)
				c.Close()
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.log.Debug("Websocket ping failed", "err", err)
				c.Close()
				_ = c.conn.Close()
				return
			}
		case <-c.done:
			c.drain()
			_ = c.conn.Close()
			return
		}
	}
}

func (c *Client) drain() {
	for {
		select {
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}
