package domain

import "errors"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrUsernameTaken   = errors.New("username is already taken")
)

// Session is the live binding between one connection and a chosen
// username and room. Owned by the presence tracker; the ID is stable
// for the lifetime of the connection.
type Session struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Room     string `json:"room"`
}

// PresenceTracker owns the session registry: which connection belongs
// to which user and room.
type PresenceTracker interface {
	Join(sessionID, username, room string) (*Session, error)
	Leave(sessionID string) *Session
	SwitchRoom(sessionID, newRoom string) (*Session, error)
	Get(sessionID string) (*Session, bool)
	UsersIn(room string) []*Session
	MigrateRoom(from, to string) []*Session
}
