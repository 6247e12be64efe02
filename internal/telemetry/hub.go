// Package telemetry broadcasts engine events (signals, fills, snapshots) to
// websocket subscribers such as a monitoring dashboard.
package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Event is one telemetry message.
type Event struct {
	Type      string    `json:"type"` // "signal", "fill", "snapshot", "alert"
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Client is one websocket subscriber with a buffered outbound queue.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans engine events out to all connected clients. A client that cannot
// keep up is dropped rather than allowed to stall the engine.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	log        *slog.Logger
}

// NewHub creates a Hub with initialised channels and client map.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		log:        slog.Default().With("component", "telemetry"),
	}
}

// Run drives the hub's event loop until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return
		case client := <-h.register:
			h.clients[client] = true
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer: drop it.
					close(client.send)
					delete(h.clients, client)
				}
			}
		}
	}
}

// Publish queues an event for broadcast. It never blocks: when the hub's
// queue is full the event is dropped, since telemetry must not slow trading.
func (h *Hub) Publish(eventType string, payload any) {
	data, err := json.Marshal(Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		h.log.Warn("marshalling event", "type", eventType, "err", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
	}
}

// ServeHTTP upgrades the connection and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade", "err", err)
		return
	}

	client := &Client{hub: h, conn: conn, send: make(chan []byte, 32)}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// writePump pushes queued messages to the connection until the hub drops the
// client.
func (c *Client) writePump() {
	defer c.conn.Close()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			c.drop()
			return
		}
	}
}

// readPump discards inbound frames; it exists to notice the peer going away.
func (c *Client) readPump() {
	defer c.conn.Close()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.drop()
			return
		}
	}
}

// drop hands the client back to the hub without blocking. If the hub is
// already gone the client is unreachable anyway; a live hub that misses the
// send sheds the client on its next full send queue.
func (c *Client) drop() {
	select {
	case c.hub.unregister <- c:
	default:
	}
}
