// Package websocket carries events between the session gateway and
// individual client connections.
package websocket

import (
	"log/slog"
	"sync"

	"hivechat/internal/observability"
)

// Hub tracks live connections and which room each one is subscribed
// to for delivery purposes. Membership here mirrors the presence
// tracker: the gateway moves a client whenever its session changes
// room. Operations are synchronous so a delivery that follows a join
// always sees the joiner.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client            // session ID -> client
	rooms   map[string]map[string]*Client // room -> session ID -> client
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
	}
}

// Register adds a connection that has not yet joined a room.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.SessionID()] = client
	slog.Info("client registered", slog.String("session_id", client.SessionID()))
}

// Unregister removes a connection and any room subscription it holds.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := client.SessionID()
	if _, ok := h.clients[id]; !ok {
		return
	}
	delete(h.clients, id)
	h.leaveRoomLocked(id)
	client.closeSend()
	slog.Info("client unregistered", slog.String("session_id", id))
}

// JoinRoom subscribes the connection to a room's deliveries.
func (h *Hub) JoinRoom(sessionID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[sessionID]
	if !ok {
		return
	}
	h.leaveRoomLocked(sessionID)
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]*Client)
	}
	h.rooms[room][sessionID] = client
	client.setRoom(room)
	observability.WebSocketConnectionsActive.WithLabelValues(room).Inc()
}

// MoveRoom resubscribes every given session from its current room to
// another. Used when a deleted room's members migrate to general.
func (h *Hub) MoveRoom(sessionIDs []string, room string) {
	for _, id := range sessionIDs {
		h.JoinRoom(id, room)
	}
}

// SendToRoom delivers data to every connection subscribed to room,
// except the excluded session if one is named.
func (h *Hub) SendToRoom(room string, data []byte, excludeSessionID string) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[room]))
	for id, client := range h.rooms[room] {
		if id == excludeSessionID {
			continue
		}
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		h.deliver(client, room, data)
	}
}

// SendToAll delivers data to every connection, joined or not. Used
// for catalog changes so every client's room list stays current.
func (h *Hub) SendToAll(data []byte) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		h.deliver(client, "", data)
	}
}

// SessionsIn returns the session IDs currently subscribed to room.
func (h *Hub) SessionsIn(room string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.rooms[room]))
	for id := range h.rooms[room] {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of registered connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every connection's send channel.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, client := range h.clients {
		client.closeSend()
		delete(h.clients, id)
	}
	h.rooms = make(map[string]map[string]*Client)
	slog.Info("hub shutdown complete")
}

// deliver writes to one client, dropping it if its buffer is full.
func (h *Hub) deliver(client *Client, room string, data []byte) {
	if client.trySend(data) {
		observability.WebSocketMessagesSent.WithLabelValues(room, "event").Inc()
		return
	}
	// Send buffer full: the connection is too slow to keep, drop it.
	slog.Warn("dropping slow client", slog.String("session_id", client.SessionID()))
	h.Unregister(client)
}

// leaveRoomLocked must be called with the lock held.
func (h *Hub) leaveRoomLocked(sessionID string) {
	client, ok := h.clients[sessionID]
	var current string
	if ok {
		current = client.Room()
	}
	if current == "" {
		// The client may already be removed; scan as a fallback.
		for room, members := range h.rooms {
			if _, ok := members[sessionID]; ok {
				current = room
				break
			}
		}
	}
	if current == "" {
		return
	}
	if members, ok := h.rooms[current]; ok {
		if _, ok := members[sessionID]; ok {
			delete(members, sessionID)
			observability.WebSocketConnectionsActive.WithLabelValues(current).Dec()
			if len(members) == 0 {
				delete(h.rooms, current)
			}
		}
	}
	if ok {
		client.setRoom("")
	}
}
