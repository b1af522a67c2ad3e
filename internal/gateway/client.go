package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/openinbox/inboxd/internal/models"
)

const (
	// sendBufferSize bounds the per-connection event queue. A consumer
	// that falls further behind loses events instead of stalling fan-out.
	sendBufferSize    = 32
	writeTimeout      = 10 * time.Second
	keepAliveInterval = 30 * time.Second
)

// Client is one websocket connection. Events are written by a single
// writer goroutine fed from a buffered channel.
type Client struct {
	ID     string
	UserID string

	conn *websocket.Conn
	send chan models.Event

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(id, userID string, conn *websocket.Conn) *Client {
	return &Client{
		ID:     id,
		UserID: userID,
		conn:   conn,
		send:   make(chan models.Event, sendBufferSize),
		done:   make(chan struct{}),
	}
}

// Enqueue queues an event for delivery and reports whether it was
// accepted. A full buffer drops the event.
func (c *Client) Enqueue(ev models.Event) bool {
	select {
	case <-c.done:
		return false
	case c.send <- ev:
		return true
	default:
		slog.Warn("Client.Enqueue: send buffer full, dropping event", "connID", c.ID, "type", ev.Type)
		return false
	}
}

func (c *Client) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case ev := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, c.conn, ev)
			cancel()
			if err != nil {
				slog.Debug("Client.writeLoop: write failed", "connID", c.ID, "error", err)
				c.shutdown(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}

func (c *Client) keepAliveLoop(ctx context.Context) {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				slog.Debug("Client.keepAliveLoop: ping failed", "connID", c.ID, "error", err)
				c.shutdown(websocket.StatusGoingAway, "ping failed")
				return
			}
		}
	}
}

func (c *Client) shutdown(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close(code, reason)
	})
}
