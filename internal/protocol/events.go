// Package protocol defines the closed event schema exchanged with
// clients over the websocket channel. Every payload is validated here,
// at the boundary, before it reaches core logic.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"hivechat/internal/domain"
)

// SchemaVersion is the current envelope version.
const SchemaVersion = 1

// Client to server event types.
const (
	EventJoinRoom    = "joinRoom"
	EventSwitchRoom  = "switchRoom"
	EventLeaveRoom   = "leaveRoom"
	EventChatMessage = "chatMessage"
	EventGetRooms    = "getRooms"
	EventCreateRoom  = "createRoom"
	EventDeleteRoom  = "deleteRoom"
)

// Server to client event types.
const (
	EventRoomUsers          = "roomUsers"
	EventMessageHistory     = "messageHistory"
	EventMessage            = "message"
	EventRoomCreationResult = "roomCreationResult"
	EventRoomDeletionResult = "roomDeletionResult"
	EventRoomCreated        = "roomCreated"
	EventRoomDeleted        = "roomDeleted"
	EventAvailableRooms     = "availableRooms"
	EventError              = "error"
)

var (
	ErrUnknownEvent   = errors.New("unknown event type")
	ErrInvalidPayload = errors.New("invalid event payload")
)

// Envelope is the wire frame for every event in both directions.
type Envelope struct {
	Version int             `json:"v,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode parses a raw client frame into an envelope.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrInvalidPayload)
	}
	switch env.Type {
	case EventJoinRoom, EventSwitchRoom, EventLeaveRoom, EventChatMessage,
		EventGetRooms, EventCreateRoom, EventDeleteRoom:
		return env, nil
	default:
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
}

// Encode builds a wire frame for a server emission.
func Encode(eventType string, payload any) ([]byte, error) {
	env := Envelope{Version: SchemaVersion, Type: eventType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
		}
		env.Payload = data
	}
	return json.Marshal(env)
}

// JoinRoom is the payload of a joinRoom event.
type JoinRoom struct {
	Username string `json:"username"`
	Room     string `json:"room"`
}

func (p JoinRoom) Validate() error {
	if p.Username == "" || p.Room == "" {
		return fmt.Errorf("%w: username and room are required", ErrInvalidPayload)
	}
	return nil
}

// SwitchRoom is the payload of a switchRoom event.
type SwitchRoom struct {
	Username string `json:"username"`
	NewRoom  string `json:"newRoom"`
}

func (p SwitchRoom) Validate() error {
	if p.NewRoom == "" {
		return fmt.Errorf("%w: newRoom is required", ErrInvalidPayload)
	}
	return nil
}

// LeaveRoom is the payload of a leaveRoom event.
type LeaveRoom struct {
	Username string `json:"username"`
	Room     string `json:"room"`
}

// CreateRoom is the payload of a createRoom event.
type CreateRoom struct {
	RoomName    string `json:"roomName"`
	Description string `json:"description"`
}

func (p CreateRoom) Validate() error {
	if p.RoomName == "" {
		return fmt.Errorf("%w: roomName is required", ErrInvalidPayload)
	}
	return nil
}

// DeleteRoom is the payload of a deleteRoom event.
type DeleteRoom struct {
	RoomName string `json:"roomName"`
}

func (p DeleteRoom) Validate() error {
	if p.RoomName == "" {
		return fmt.Errorf("%w: roomName is required", ErrInvalidPayload)
	}
	return nil
}

// RoomUser is one entry of a roomUsers payload.
type RoomUser struct {
	Username string `json:"username"`
}

// RoomUsers is the payload of a roomUsers emission.
type RoomUsers struct {
	Room  string     `json:"room"`
	Users []RoomUser `json:"users"`
}

// RoomResult is the payload of roomCreationResult and
// roomDeletionResult emissions.
type RoomResult struct {
	Success bool         `json:"success"`
	Room    *domain.Room `json:"room,omitempty"`
	Message string       `json:"message,omitempty"`
}

// RoomDeleted is the payload of a roomDeleted emission.
type RoomDeleted struct {
	Name string `json:"name"`
}

// UnmarshalPayload decodes an envelope payload into a typed struct.
func UnmarshalPayload[T any](env Envelope) (T, error) {
	var payload T
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return payload, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return payload, nil
}

// ChatText decodes the bare string payload of a chatMessage event.
func ChatText(env Envelope) (string, error) {
	var text string
	if err := json.Unmarshal(env.Payload, &text); err != nil {
		return "", fmt.Errorf("%w: chatMessage payload must be a string", ErrInvalidPayload)
	}
	if text == "" {
		return "", fmt.Errorf("%w: empty chat message", ErrInvalidPayload)
	}
	return text, nil
}
