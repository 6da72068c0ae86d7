// Package gateway terminates one logical session per client
// connection. It translates inbound protocol events into calls on the
// presence tracker, room directory and history store, and decides what
// to emit back: direct emissions go straight to the connection, room
// and catalog emissions travel through the broadcast bridge so every
// cooperating server process delivers them.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"hivechat/internal/bridge"
	"hivechat/internal/domain"
	"hivechat/internal/observability"
	"hivechat/internal/protocol"
	"hivechat/internal/websocket"
)

// storeTimeout bounds every external-store round trip issued on
// behalf of a connection event.
const storeTimeout = 5 * time.Second

// Publisher fans frames out across all server instances. Implemented
// by the broadcast bridge.
type Publisher interface {
	PublishToRoom(ctx context.Context, room string, frame []byte, excludeSessionID string) error
	PublishCatalog(ctx context.Context, change *bridge.CatalogChange, frame []byte) error
}

// Subscriber mirrors presence changes into the local delivery layer.
// Implemented by the websocket hub.
type Subscriber interface {
	JoinRoom(sessionID, room string)
	MoveRoom(sessionIDs []string, room string)
}

// Gateway is the connection state machine. One Gateway serves every
// connection of this process.
type Gateway struct {
	presence  domain.PresenceTracker
	rooms     domain.RoomDirectory
	history   domain.HistoryStore
	publisher Publisher
	local     Subscriber
}

// New creates a Gateway over the given collaborators.
func New(presence domain.PresenceTracker, rooms domain.RoomDirectory, history domain.HistoryStore, publisher Publisher, local Subscriber) *Gateway {
	return &Gateway{
		presence:  presence,
		rooms:     rooms,
		history:   history,
		publisher: publisher,
		local:     local,
	}
}

// HandleFrame parses and dispatches one inbound frame. Malformed or
// unknown frames produce an error emission, never a disconnect.
func (g *Gateway) HandleFrame(ctx context.Context, conn websocket.Conn, frame []byte) {
	env, err := protocol.Decode(frame)
	if err != nil {
		g.emitError(conn, "Invalid event: "+err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	switch env.Type {
	case protocol.EventJoinRoom:
		g.handleJoin(ctx, conn, env)
	case protocol.EventSwitchRoom:
		g.handleSwitch(ctx, conn, env)
	case protocol.EventLeaveRoom:
		g.handleLeave(ctx, conn)
	case protocol.EventChatMessage:
		g.handleChat(ctx, conn, env)
	case protocol.EventGetRooms:
		g.handleGetRooms(conn)
	case protocol.EventCreateRoom:
		g.handleCreate(ctx, conn, env)
	case protocol.EventDeleteRoom:
		g.handleDelete(ctx, conn, env)
	}
}

// handleJoin moves a connection from Connected to Joined. On a taken
// username the error goes to this connection only and no state moves.
func (g *Gateway) handleJoin(ctx context.Context, conn websocket.Conn, env protocol.Envelope) {
	payload, err := protocol.UnmarshalPayload[protocol.JoinRoom](env)
	if err != nil {
		g.emitError(conn, "Invalid joinRoom payload")
		return
	}
	if err := payload.Validate(); err != nil {
		g.emitError(conn, "Username and room are required")
		return
	}

	if _, ok := g.presence.Get(conn.SessionID()); ok {
		g.emitError(conn, "Already joined; use switchRoom to change rooms")
		return
	}

	room, ok := g.rooms.Get(payload.Room)
	if !ok {
		g.emitError(conn, "Room not found: "+payload.Room)
		return
	}

	session, err := g.presence.Join(conn.SessionID(), payload.Username, room.Name)
	if err != nil {
		if errors.Is(err, domain.ErrUsernameTaken) {
			g.emitError(conn, "Username is already taken")
			return
		}
		g.emitError(conn, "Could not join room")
		return
	}

	g.local.JoinRoom(session.ID, session.Room)

	g.emitHistory(ctx, conn, session.Room)

	welcome := domain.NewMessage(domain.SystemAuthor, "Welcome to server: "+session.Room)
	g.append(ctx, session.Room, welcome)
	g.emit(conn, protocol.EventMessage, welcome)

	joined := domain.NewMessage(domain.SystemAuthor, session.Username+" has joined the chat")
	g.append(ctx, session.Room, joined)
	g.publishMessage(ctx, session.Room, joined, session.ID)

	g.publishRoomUsers(ctx, session.Room)
}

// handleSwitch rebinds a joined connection to another room.
func (g *Gateway) handleSwitch(ctx context.Context, conn websocket.Conn, env protocol.Envelope) {
	payload, err := protocol.UnmarshalPayload[protocol.SwitchRoom](env)
	if err != nil || payload.Validate() != nil {
		g.emitError(conn, "Invalid switchRoom payload")
		return
	}

	session, ok := g.presence.Get(conn.SessionID())
	if !ok {
		g.emitError(conn, "Join a room before switching")
		return
	}

	newRoom, ok := g.rooms.Get(payload.NewRoom)
	if !ok {
		g.emitError(conn, "Room not found: "+payload.NewRoom)
		return
	}

	oldRoom := session.Room
	session, err = g.presence.SwitchRoom(conn.SessionID(), newRoom.Name)
	if err != nil {
		g.emitError(conn, "Could not switch room")
		return
	}

	g.local.JoinRoom(session.ID, session.Room)

	left := domain.NewMessage(domain.SystemAuthor, session.Username+" has left the chat")
	g.append(ctx, oldRoom, left)
	g.publishMessage(ctx, oldRoom, left, session.ID)

	g.emitHistory(ctx, conn, session.Room)

	joined := domain.NewMessage(domain.SystemAuthor, session.Username+" has joined the chat")
	g.append(ctx, session.Room, joined)
	g.publishMessage(ctx, session.Room, joined, session.ID)

	g.publishRoomUsers(ctx, oldRoom)
	g.publishRoomUsers(ctx, session.Room)
}

// handleLeave announces a departure without destroying the session.
// No client flow invokes this today, but the protocol keeps it.
func (g *Gateway) handleLeave(ctx context.Context, conn websocket.Conn) {
	session, ok := g.presence.Get(conn.SessionID())
	if !ok {
		return
	}

	left := domain.NewMessage(domain.SystemAuthor, session.Username+" has left the chat")
	g.append(ctx, session.Room, left)
	g.publishMessage(ctx, session.Room, left, session.ID)

	g.publishRoomUsers(ctx, session.Room)
}

// handleChat appends a message authored by the session's username and
// fans it out to the whole room, sender included.
func (g *Gateway) handleChat(ctx context.Context, conn websocket.Conn, env protocol.Envelope) {
	text, err := protocol.ChatText(env)
	if err != nil {
		g.emitError(conn, "Invalid chat message")
		return
	}

	session, ok := g.presence.Get(conn.SessionID())
	if !ok {
		g.emitError(conn, "Join a room before chatting")
		return
	}

	msg := domain.NewMessage(session.Username, text)
	g.append(ctx, session.Room, msg)
	g.publishMessage(ctx, session.Room, msg, "")
}

// handleGetRooms answers with the catalog, requester only.
func (g *Gateway) handleGetRooms(conn websocket.Conn) {
	g.emit(conn, protocol.EventAvailableRooms, g.rooms.List())
}

// handleCreate adds a room and announces it to every connection on
// every instance.
func (g *Gateway) handleCreate(ctx context.Context, conn websocket.Conn, env protocol.Envelope) {
	payload, err := protocol.UnmarshalPayload[protocol.CreateRoom](env)
	if err != nil || payload.Validate() != nil {
		g.emit(conn, protocol.EventRoomCreationResult, protocol.RoomResult{
			Success: false,
			Message: "Room name is required",
		})
		return
	}

	created, err := g.rooms.Create(payload.RoomName, payload.Description)
	if err != nil {
		g.emit(conn, protocol.EventRoomCreationResult, protocol.RoomResult{
			Success: false,
			Message: roomFailureMessage(err),
		})
		return
	}

	g.emit(conn, protocol.EventRoomCreationResult, protocol.RoomResult{
		Success: true,
		Room:    &created,
	})

	frame, err := protocol.Encode(protocol.EventRoomCreated, created)
	if err != nil {
		observability.FromContext(ctx).Error("failed to encode roomCreated", slog.String("error", err.Error()))
		return
	}
	change := &bridge.CatalogChange{Op: "create", Room: created}
	if err := g.publisher.PublishCatalog(ctx, change, frame); err != nil {
		observability.FromContext(ctx).Error("failed to publish roomCreated",
			slog.String("room", created.Name),
			slog.String("error", err.Error()))
	}
}

// handleDelete removes a room, migrating its members to general
// before the entity disappears, and announces the change everywhere.
func (g *Gateway) handleDelete(ctx context.Context, conn websocket.Conn, env protocol.Envelope) {
	payload, err := protocol.UnmarshalPayload[protocol.DeleteRoom](env)
	if err != nil || payload.Validate() != nil {
		g.emit(conn, protocol.EventRoomDeletionResult, protocol.RoomResult{
			Success: false,
			Message: "Room name is required",
		})
		return
	}

	removed, moved, err := g.rooms.Delete(payload.RoomName)
	if err != nil {
		g.emit(conn, protocol.EventRoomDeletionResult, protocol.RoomResult{
			Success: false,
			Message: roomFailureMessage(err),
		})
		return
	}

	g.local.MoveRoom(sessionIDs(moved), domain.GeneralRoom)

	if err := g.history.Clear(ctx, removed.Name); err != nil {
		observability.FromContext(ctx).Warn("failed to clear history of deleted room",
			slog.String("room", removed.Name),
			slog.String("error", err.Error()))
	}

	g.emit(conn, protocol.EventRoomDeletionResult, protocol.RoomResult{
		Success: true,
		Room:    &removed,
	})

	frame, err := protocol.Encode(protocol.EventRoomDeleted, protocol.RoomDeleted{Name: removed.Name})
	if err != nil {
		observability.FromContext(ctx).Error("failed to encode roomDeleted", slog.String("error", err.Error()))
		return
	}
	change := &bridge.CatalogChange{Op: "delete", Room: removed}
	if err := g.publisher.PublishCatalog(ctx, change, frame); err != nil {
		observability.FromContext(ctx).Error("failed to publish roomDeleted",
			slog.String("room", removed.Name),
			slog.String("error", err.Error()))
	}

	// Catalog event first, then the membership refreshes: consumers
	// apply the migration before their clients see the new lists.
	g.publishRoomUsers(ctx, removed.Name)
	g.publishRoomUsers(ctx, domain.GeneralRoom)
}

// HandleDisconnect tears a session down after the connection drops.
// Runs after any in-flight frame has completed.
func (g *Gateway) HandleDisconnect(ctx context.Context, conn websocket.Conn) {
	session := g.presence.Leave(conn.SessionID())
	if session == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	left := domain.NewMessage(domain.SystemAuthor, session.Username+" has left the chat")
	g.append(ctx, session.Room, left)
	g.publishMessage(ctx, session.Room, left, "")

	g.publishRoomUsers(ctx, session.Room)
}

// ApplyCatalogChange replays a catalog mutation from another instance
// against local state. Idempotent: the originating instance's own echo
// finds nothing left to do.
func (g *Gateway) ApplyCatalogChange(ctx context.Context, origin string, change bridge.CatalogChange) {
	switch change.Op {
	case "create":
		if g.rooms.ApplyCreate(change.Room) {
			observability.FromContext(ctx).Info("applied remote room create",
				slog.String("room", change.Room.Name),
				slog.String("origin", origin))
		}
	case "delete":
		_, moved, ok := g.rooms.ApplyDelete(change.Room.Name)
		if !ok {
			return
		}
		g.local.MoveRoom(sessionIDs(moved), domain.GeneralRoom)
		observability.FromContext(ctx).Info("applied remote room delete",
			slog.String("room", change.Room.Name),
			slog.String("origin", origin),
			slog.Int("migrated", len(moved)))
	default:
		observability.FromContext(ctx).Warn("unknown catalog op", slog.String("op", change.Op))
	}
}

// emitHistory delivers the room's history to one connection, only
// when there is any.
func (g *Gateway) emitHistory(ctx context.Context, conn websocket.Conn, room string) {
	messages, err := g.history.History(ctx, room)
	if err != nil {
		observability.FromContext(ctx).Warn("failed to load history",
			slog.String("room", room),
			slog.String("error", err.Error()))
		return
	}
	if len(messages) == 0 {
		return
	}
	g.emit(conn, protocol.EventMessageHistory, messages)
}

// append stores a message, logging degraded outcomes. Store failures
// never reach clients.
func (g *Gateway) append(ctx context.Context, room string, msg domain.Message) {
	outcome, err := g.history.Append(ctx, room, msg)
	if err != nil {
		observability.FromContext(ctx).Error("failed to append message",
			slog.String("room", room),
			slog.String("error", err.Error()))
		return
	}
	if outcome == domain.DegradedFallback {
		observability.FromContext(ctx).Warn("message stored in fallback only", slog.String("room", room))
	}
}

// publishMessage fans one message event out to a room across all
// instances.
func (g *Gateway) publishMessage(ctx context.Context, room string, msg domain.Message, excludeSessionID string) {
	frame, err := protocol.Encode(protocol.EventMessage, msg)
	if err != nil {
		observability.FromContext(ctx).Error("failed to encode message", slog.String("error", err.Error()))
		return
	}
	if err := g.publisher.PublishToRoom(ctx, room, frame, excludeSessionID); err != nil {
		observability.FromContext(ctx).Error("failed to publish message",
			slog.String("room", room),
			slog.String("error", err.Error()))
	}
}

// publishRoomUsers fans the room's membership list out to the room.
func (g *Gateway) publishRoomUsers(ctx context.Context, room string) {
	sessions := g.presence.UsersIn(room)
	users := make([]protocol.RoomUser, 0, len(sessions))
	for _, s := range sessions {
		users = append(users, protocol.RoomUser{Username: s.Username})
	}

	frame, err := protocol.Encode(protocol.EventRoomUsers, protocol.RoomUsers{Room: room, Users: users})
	if err != nil {
		observability.FromContext(ctx).Error("failed to encode roomUsers", slog.String("error", err.Error()))
		return
	}
	if err := g.publisher.PublishToRoom(ctx, room, frame, ""); err != nil {
		observability.FromContext(ctx).Error("failed to publish roomUsers",
			slog.String("room", room),
			slog.String("error", err.Error()))
	}
}

func (g *Gateway) emit(conn websocket.Conn, eventType string, payload any) {
	frame, err := protocol.Encode(eventType, payload)
	if err != nil {
		slog.Error("failed to encode emission",
			slog.String("type", eventType),
			slog.String("error", err.Error()))
		return
	}
	if !conn.Emit(frame) {
		slog.Warn("dropped emission to slow connection",
			slog.String("type", eventType),
			slog.String("session_id", conn.SessionID()))
	}
}

func (g *Gateway) emitError(conn websocket.Conn, text string) {
	g.emit(conn, protocol.EventError, text)
}

func roomFailureMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrRoomExists):
		return "Room already exists"
	case errors.Is(err, domain.ErrRoomNotFound):
		return "Room not found"
	case errors.Is(err, domain.ErrRoomProtected):
		return "Cannot delete the general room"
	case errors.Is(err, domain.ErrInvalidRoomName):
		return "Room name must be between 3 and 20 characters"
	default:
		return "Unexpected error"
	}
}

func sessionIDs(sessions []*domain.Session) []string {
	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.ID)
	}
	return ids
}
