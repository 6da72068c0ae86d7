// Package presence owns the live mapping of connection to username and
// room. It is the single writer for session state; callers emit their
// own notifications.
package presence

import (
	"strings"
	"sync"

	"hivechat/internal/domain"
)

// Tracker is an in-memory session registry. All operations are safe
// for concurrent use; check-then-insert sequences hold the lock for
// their full duration so two racing joins with the same username
// cannot both succeed.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	order    []string // session IDs in join order
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		sessions: make(map[string]*domain.Session),
	}
}

// Join registers a session for the connection. Usernames are unique
// across the whole tracker, not per room; a second join with a taken
// name fails with domain.ErrUsernameTaken and mutates nothing.
func (t *Tracker) Join(sessionID, username, room string) (*domain.Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, s := range t.sessions {
		if strings.EqualFold(s.Username, username) {
			return nil, domain.ErrUsernameTaken
		}
	}

	session := &domain.Session{
		ID:       sessionID,
		Username: username,
		Room:     room,
	}
	t.sessions[sessionID] = session
	t.order = append(t.order, sessionID)
	snapshot := *session
	return &snapshot, nil
}

// Leave removes and returns the session, or nil if the connection
// never joined.
func (t *Tracker) Leave(sessionID string) *domain.Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	session, ok := t.sessions[sessionID]
	if !ok {
		return nil
	}
	delete(t.sessions, sessionID)
	for i, id := range t.order {
		if id == sessionID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return session
}

// SwitchRoom rebinds the session to newRoom in place.
func (t *Tracker) SwitchRoom(sessionID, newRoom string) (*domain.Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	session, ok := t.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	session.Room = newRoom
	snapshot := *session
	return &snapshot, nil
}

// Get returns the session for the connection, if any.
func (t *Tracker) Get(sessionID string) (*domain.Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	session, ok := t.sessions[sessionID]
	if !ok {
		return nil, false
	}
	snapshot := *session
	return &snapshot, true
}

// UsersIn returns the sessions currently bound to room, in join order.
func (t *Tracker) UsersIn(room string) []*domain.Session {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := []*domain.Session{}
	for _, id := range t.order {
		if s := t.sessions[id]; s != nil && strings.EqualFold(s.Room, room) {
			snapshot := *s
			result = append(result, &snapshot)
		}
	}
	return result
}

// MigrateRoom reassigns every session in from to to, returning the
// sessions that moved. Used when a room is deleted so its members land
// in the general room before the room entity disappears.
func (t *Tracker) MigrateRoom(from, to string) []*domain.Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	moved := []*domain.Session{}
	for _, id := range t.order {
		if s := t.sessions[id]; s != nil && strings.EqualFold(s.Room, from) {
			s.Room = to
			snapshot := *s
			moved = append(moved, &snapshot)
		}
	}
	return moved
}

// Count returns the number of active sessions.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}
