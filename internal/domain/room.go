package domain

import "errors"

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrRoomExists      = errors.New("room already exists")
	ErrRoomProtected   = errors.New("cannot delete the general room")
	ErrInvalidRoomName = errors.New("room name must be between 3 and 20 characters")
)

// GeneralRoom is the permanent room. It is created at startup and can
// never be deleted; sessions from deleted rooms are migrated into it.
const GeneralRoom = "general"

// Room is a named channel with its own membership and history.
// Names are case-insensitively unique.
type Room struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// RoomDirectory owns the room catalog and the permanence rule for the
// general room.
type RoomDirectory interface {
	List() []Room
	Get(name string) (Room, bool)
	Create(name, description string) (Room, error)
	// Delete removes the room and returns it along with the sessions
	// that were migrated to the general room.
	Delete(name string) (Room, []*Session, error)

	// ApplyCreate and ApplyDelete replay catalog events produced by
	// other server instances. Both are idempotent.
	ApplyCreate(room Room) bool
	ApplyDelete(name string) (Room, []*Session, bool)
}
