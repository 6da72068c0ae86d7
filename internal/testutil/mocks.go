// Package testutil provides shared test utilities, mocks, and
// fixtures for testing the hivechat application.
package testutil

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"hivechat/internal/bridge"
	"hivechat/internal/domain"
	"hivechat/internal/protocol"
)

// MockConn implements the gateway's view of a connection, recording
// every frame emitted to it.
type MockConn struct {
	mu     sync.Mutex
	ID     string
	Frames [][]byte
	// Reject makes Emit report a full send buffer.
	Reject bool
}

func NewMockConn(id string) *MockConn {
	return &MockConn{ID: id}
}

func (c *MockConn) SessionID() string {
	return c.ID
}

func (c *MockConn) Emit(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Reject {
		return false
	}
	c.Frames = append(c.Frames, data)
	return true
}

// Emitted returns the decoded envelopes emitted so far.
func (c *MockConn) Emitted(t *testing.T) []protocol.Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	envs := make([]protocol.Envelope, 0, len(c.Frames))
	for _, frame := range c.Frames {
		var env protocol.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Fatalf("malformed emitted frame: %v", err)
		}
		envs = append(envs, env)
	}
	return envs
}

// RoomPublish is one recorded PublishToRoom call.
type RoomPublish struct {
	Room    string
	Frame   []byte
	Exclude string
}

// CatalogPublish is one recorded PublishCatalog call.
type CatalogPublish struct {
	Change *bridge.CatalogChange
	Frame  []byte
}

// MockPublisher implements the gateway's Publisher, recording calls.
type MockPublisher struct {
	mu sync.Mutex

	// Function overrides - set these to customize behavior
	PublishToRoomFunc  func(ctx context.Context, room string, frame []byte, excludeSessionID string) error
	PublishCatalogFunc func(ctx context.Context, change *bridge.CatalogChange, frame []byte) error

	RoomPublishes    []RoomPublish
	CatalogPublishes []CatalogPublish
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (p *MockPublisher) PublishToRoom(ctx context.Context, room string, frame []byte, excludeSessionID string) error {
	if p.PublishToRoomFunc != nil {
		return p.PublishToRoomFunc(ctx, room, frame, excludeSessionID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RoomPublishes = append(p.RoomPublishes, RoomPublish{Room: room, Frame: frame, Exclude: excludeSessionID})
	return nil
}

func (p *MockPublisher) PublishCatalog(ctx context.Context, change *bridge.CatalogChange, frame []byte) error {
	if p.PublishCatalogFunc != nil {
		return p.PublishCatalogFunc(ctx, change, frame)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CatalogPublishes = append(p.CatalogPublishes, CatalogPublish{Change: change, Frame: frame})
	return nil
}

// ToRoom returns the recorded room publishes for one room.
func (p *MockPublisher) ToRoom(room string) []RoomPublish {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := []RoomPublish{}
	for _, pub := range p.RoomPublishes {
		if pub.Room == room {
			out = append(out, pub)
		}
	}
	return out
}

// MockSubscriber records the hub membership mutations the gateway
// requests.
type MockSubscriber struct {
	mu    sync.Mutex
	Joins []struct{ SessionID, Room string }
	Moves []struct {
		SessionIDs []string
		Room       string
	}
}

func NewMockSubscriber() *MockSubscriber {
	return &MockSubscriber{}
}

func (s *MockSubscriber) JoinRoom(sessionID, room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Joins = append(s.Joins, struct{ SessionID, Room string }{sessionID, room})
}

func (s *MockSubscriber) MoveRoom(sessionIDs []string, room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Moves = append(s.Moves, struct {
		SessionIDs []string
		Room       string
	}{sessionIDs, room})
}

// MockHistoryStore implements domain.HistoryStore in memory.
type MockHistoryStore struct {
	mu sync.Mutex

	// Function overrides - set these to customize behavior
	AppendFunc  func(ctx context.Context, room string, msg domain.Message) (domain.AppendOutcome, error)
	HistoryFunc func(ctx context.Context, room string) ([]domain.Message, error)
	ClearFunc   func(ctx context.Context, room string) error

	Logs map[string][]domain.Message
}

func NewMockHistoryStore() *MockHistoryStore {
	return &MockHistoryStore{Logs: make(map[string][]domain.Message)}
}

func (m *MockHistoryStore) Append(ctx context.Context, room string, msg domain.Message) (domain.AppendOutcome, error) {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, room, msg)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Logs[room] = append(m.Logs[room], msg)
	return domain.Persisted, nil
}

func (m *MockHistoryStore) History(ctx context.Context, room string) ([]domain.Message, error) {
	if m.HistoryFunc != nil {
		return m.HistoryFunc(ctx, room)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Message, len(m.Logs[room]))
	copy(out, m.Logs[room])
	return out, nil
}

func (m *MockHistoryStore) Clear(ctx context.Context, room string) error {
	if m.ClearFunc != nil {
		return m.ClearFunc(ctx, room)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Logs, room)
	return nil
}
