package testutil

import (
	"fmt"
	"sync/atomic"

	"hivechat/internal/domain"
)

// Counter for generating unique IDs
var idCounter atomic.Int64

// NextSessionID generates a unique session ID for test fixtures.
func NextSessionID() string {
	return fmt.Sprintf("session-%d", idCounter.Add(1))
}

// NewTestMessage creates a message with a fixed clock string so
// assertions stay deterministic.
func NewTestMessage(username, text string) domain.Message {
	return domain.Message{
		Username: username,
		Text:     text,
		Time:     "9:41 am",
	}
}

// NewTestRoom creates a room fixture.
func NewTestRoom(name string) domain.Room {
	return domain.Room{
		Name:        name,
		Description: name + " talk",
	}
}
