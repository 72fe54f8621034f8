// Package hub implements the websocket fan-out transport. Connections
// are grouped into per-sandbox rooms; every write to a connection is
// serialized through a per-connection mutex.
package hub

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

// Conn is the subset of *websocket.Conn the hub needs. Narrowed to an
// interface so the coordination layer can be tested without sockets.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

var _ Conn = (*websocket.Conn)(nil)

// Event is the wire envelope for every server-to-client message.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type client struct {
	conn    Conn
	writeMu sync.Mutex
}

// Hub tracks which connections belong to which room.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[Conn]bool
	clients map[Conn]*client
}

// New creates an empty Hub.
func New() *Hub {
	return &Hub{
		rooms:   make(map[string]map[Conn]bool),
		clients: make(map[Conn]*client),
	}
}

// JoinRoom registers a connection in a room, creating the room on first
// use.
func (h *Hub) JoinRoom(roomID string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[Conn]bool)
	}
	h.rooms[roomID][conn] = true
	if h.clients[conn] == nil {
		h.clients[conn] = &client{conn: conn}
	}
}

// LeaveRoom removes a connection from a room. Empty rooms are deleted.
func (h *Hub) LeaveRoom(roomID string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.rooms[roomID], conn)
	if len(h.rooms[roomID]) == 0 {
		delete(h.rooms, roomID)
	}
	delete(h.clients, conn)
}

// BroadcastToRoom sends an event to every connection in the room.
// exclude may be nil to reach everyone.
func (h *Hub) BroadcastToRoom(roomID, event string, payload any, exclude Conn) {
	data, err := json.Marshal(Event{Type: event, Payload: payload})
	if err != nil {
		log.Printf("[Hub] Failed to marshal %s event: %v", event, err)
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.rooms[roomID]))
	for conn := range h.rooms[roomID] {
		if conn == exclude {
			continue
		}
		if c := h.clients[conn]; c != nil {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.write(data)
	}
}

// SendTo sends an event to a single connection.
func (h *Hub) SendTo(conn Conn, event string, payload any) error {
	data, err := json.Marshal(Event{Type: event, Payload: payload})
	if err != nil {
		return err
	}

	h.mu.RLock()
	c := h.clients[conn]
	h.mu.RUnlock()

	if c == nil {
		// Not registered in any room; write directly, still serialized
		// by the connection itself being unshared.
		return conn.WriteMessage(websocket.TextMessage, data)
	}
	return c.write(data)
}

// IsAlive probes a connection with a ping control frame. A failed write
// means the peer is gone even if the close was never observed.
func (h *Hub) IsAlive(conn Conn) bool {
	if conn == nil {
		return false
	}
	err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
	return err == nil
}

// RoomSize returns the number of connections in a room.
func (h *Hub) RoomSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

func (c *client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("[Hub] Failed to send message: %v", err)
		return err
	}
	return nil
}
