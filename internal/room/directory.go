// Package room owns the room catalog. The general room is seeded at
// startup and can never be deleted; deleting any other room migrates
// its members to general through the presence tracker before the room
// entity disappears.
package room

import (
	"strings"
	"sync"

	"hivechat/internal/domain"
)

const (
	minNameLen = 3
	maxNameLen = 20
)

// Directory is an in-memory room catalog. Rooms are listed in
// insertion order with general always first. Name comparisons are
// case-insensitive throughout.
type Directory struct {
	mu       sync.RWMutex
	rooms    []domain.Room
	presence domain.PresenceTracker
}

// NewDirectory creates a catalog seeded with the permanent general
// room. The presence tracker is consulted on delete to migrate
// members.
func NewDirectory(presence domain.PresenceTracker) *Directory {
	return &Directory{
		rooms: []domain.Room{
			{Name: domain.GeneralRoom, Description: "General discussion room"},
		},
		presence: presence,
	}
}

// List returns the catalog in insertion order.
func (d *Directory) List() []domain.Room {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]domain.Room, len(d.rooms))
	copy(out, d.rooms)
	return out
}

// Get looks a room up by case-insensitive name.
func (d *Directory) Get(name string) (domain.Room, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if i := d.indexOf(name); i >= 0 {
		return d.rooms[i], true
	}
	return domain.Room{}, false
}

// Create adds a room. The name must be 3-20 characters and not
// collide case-insensitively with an existing room; the check and the
// insert happen under one lock so two racing creates cannot both
// succeed.
func (d *Directory) Create(name, description string) (domain.Room, error) {
	trimmed := strings.TrimSpace(name)
	if len(trimmed) < minNameLen || len(trimmed) > maxNameLen {
		return domain.Room{}, domain.ErrInvalidRoomName
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.indexOf(trimmed) >= 0 {
		return domain.Room{}, domain.ErrRoomExists
	}

	room := domain.Room{Name: trimmed, Description: description}
	d.rooms = append(d.rooms, room)
	return room, nil
}

// Delete removes a room and migrates its members to general. The
// general room itself is protected. Returns the removed room and the
// migrated sessions so the caller can notify membership changes for
// both rooms.
func (d *Directory) Delete(name string) (domain.Room, []*domain.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if strings.EqualFold(name, domain.GeneralRoom) {
		return domain.Room{}, nil, domain.ErrRoomProtected
	}

	i := d.indexOf(name)
	if i < 0 {
		return domain.Room{}, nil, domain.ErrRoomNotFound
	}

	// Members move to general before the room entity disappears, so no
	// session ever references a missing room.
	moved := d.presence.MigrateRoom(d.rooms[i].Name, domain.GeneralRoom)

	removed := d.rooms[i]
	d.rooms = append(d.rooms[:i], d.rooms[i+1:]...)
	return removed, moved, nil
}

// ApplyCreate replays a catalog create produced by another server
// instance. Returns false if the room already exists locally.
func (d *Directory) ApplyCreate(room domain.Room) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.indexOf(room.Name) >= 0 {
		return false
	}
	d.rooms = append(d.rooms, room)
	return true
}

// ApplyDelete replays a catalog delete produced by another server
// instance, migrating local members to general. Returns false if the
// room is already gone locally.
func (d *Directory) ApplyDelete(name string) (domain.Room, []*domain.Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if strings.EqualFold(name, domain.GeneralRoom) {
		return domain.Room{}, nil, false
	}
	i := d.indexOf(name)
	if i < 0 {
		return domain.Room{}, nil, false
	}

	moved := d.presence.MigrateRoom(d.rooms[i].Name, domain.GeneralRoom)
	removed := d.rooms[i]
	d.rooms = append(d.rooms[:i], d.rooms[i+1:]...)
	return removed, moved, true
}

// indexOf must be called with the lock held.
func (d *Directory) indexOf(name string) int {
	for i, r := range d.rooms {
		if strings.EqualFold(r.Name, name) {
			return i
		}
	}
	return -1
}
