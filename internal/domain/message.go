package domain

import (
	"context"
	"time"
)

// SystemAuthor is the reserved author name for join/leave/welcome
// announcements generated by the server itself.
const SystemAuthor = "HiveChat Bot"

// ClockFormat renders the time a message was created as a short clock
// string, e.g. "3:04 pm". This matches the persisted history format;
// entries written by older deployments remain readable.
const ClockFormat = "3:04 pm"

// Message is one chat or system message. Immutable once created.
type Message struct {
	Username string `json:"username"`
	Text     string `json:"text"`
	Time     string `json:"time"`
}

// NewMessage stamps a message with the current clock time.
func NewMessage(username, text string) Message {
	return Message{
		Username: username,
		Text:     text,
		Time:     FormatClock(time.Now()),
	}
}

// FormatClock renders t in the persisted history time format.
func FormatClock(t time.Time) string {
	return t.Format(ClockFormat)
}

// AppendOutcome reports which backend absorbed a history append.
type AppendOutcome int

const (
	// Persisted means the append reached the durable store.
	Persisted AppendOutcome = iota
	// DegradedFallback means the durable store was unavailable and the
	// append landed in the in-process fallback log only.
	DegradedFallback
)

func (o AppendOutcome) String() string {
	if o == DegradedFallback {
		return "degraded_fallback"
	}
	return "persisted"
}

// HistoryStore owns the bounded, ordered message log per room.
// History reads are always oldest first.
type HistoryStore interface {
	Append(ctx context.Context, room string, msg Message) (AppendOutcome, error)
	History(ctx context.Context, room string) ([]Message, error)
	Clear(ctx context.Context, room string) error
}
