// Package snapshot publishes the Orchestrator's state over HTTP and a
// push WebSocket, grounded on the teacher's state_ws.go hub/client-pump
// design: one broadcast channel, per-client send queues, and slow
// clients disconnected rather than allowed to back-pressure the hub.
package snapshot

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// Hub tracks connected snapshot WebSocket clients and fans out
// pre-serialized JSON frames.
type Hub struct {
	log *slog.Logger

	broadcast  chan []byte
	register   chan *client
	unregister chan *client

	clients map[*client]struct{}
}

func newHub(log *slog.Logger) *Hub {
	return &Hub{
		log:        log,
		broadcast:  make(chan []byte, 32),
		register:   make(chan *client, 16),
		unregister: make(chan *client, 16),
		clients:    make(map[*client]struct{}),
	}
}

// Run processes hub events until ctx is cancelled, then disconnects
// every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				c.conn.Close()
				close(c.send)
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.conn.Close()
				closeSendOnce(c)
			}

		case msg := <-h.broadcast:
			var slow []*client
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			for _, c := range slow {
				h.log.Info("snapshot: disconnecting slow client", "remote_addr", c.remoteAddr)
				delete(h.clients, c)
				c.conn.Close()
				closeSendOnce(c)
			}
		}
	}
}

func closeSendOnce(c *client) {
	defer func() { _ = recover() }()
	close(c.send)
}

// broadcastJSON enqueues a pre-serialized frame; never blocks.
func (h *Hub) broadcastJSON(payload []byte) {
	select {
	case h.broadcast <- payload:
	default:
		h.log.Warn("snapshot: broadcast queue full, dropping frame")
	}
}

type client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	remoteAddr string
	log        *slog.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, remoteAddr string, log *slog.Logger) *client {
	return &client{hub: hub, conn: conn, send: make(chan []byte, 16), remoteAddr: remoteAddr, log: log}
}

func (c *client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					c.log.Debug("snapshot: write pump exiting", "remote_addr", c.remoteAddr, "error", err)
				}
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) readPump(ctx context.Context) {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			select {
			case c.hub.unregister <- c:
			case <-ctx.Done():
			}
			return
		}
	}
}
