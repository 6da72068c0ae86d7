package history

import (
	"sync"

	"hivechat/internal/domain"
)

// memoryLog is the in-process fallback for room history, used only
// while Redis is unreachable. Entries held here are pending: the
// reconciler replays them into Redis once it recovers, then drains
// them.
type memoryLog struct {
	mu    sync.RWMutex
	rooms map[string][]domain.Message
}

func newMemoryLog() *memoryLog {
	return &memoryLog{rooms: make(map[string][]domain.Message)}
}

// append adds msg to the room's log, evicting from the oldest end once
// the cap is exceeded.
func (m *memoryLog) append(room string, msg domain.Message, cap int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := append(m.rooms[room], msg)
	if len(log) > cap {
		log = log[len(log)-cap:]
	}
	m.rooms[room] = log
}

// snapshot returns the room's log oldest first.
func (m *memoryLog) snapshot(room string) []domain.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log := m.rooms[room]
	out := make([]domain.Message, len(log))
	copy(out, log)
	return out
}

// drain removes and returns the room's log oldest first.
func (m *memoryLog) drain(room string) []domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.rooms[room]
	delete(m.rooms, room)
	return log
}

func (m *memoryLog) clear(room string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, room)
}

// pending reports whether the room holds unreconciled entries.
func (m *memoryLog) pending(room string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms[room]) > 0
}

// pendingRooms lists rooms that still hold unreconciled entries.
func (m *memoryLog) pendingRooms() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rooms := make([]string, 0, len(m.rooms))
	for room := range m.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

func (m *memoryLog) empty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms) == 0
}
