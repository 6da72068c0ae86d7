// Package history owns the bounded, ordered message log per room.
// Redis lists are the durable backend; an in-process log takes over
// transparently while Redis is unreachable, and a background
// reconciler replays the buffered entries once it recovers.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"hivechat/internal/domain"
	"hivechat/internal/observability"

	"github.com/redis/go-redis/v9"
)

// MaxMessagesPerRoom caps each room's history; insertion evicts from
// the oldest end once the cap is exceeded.
const MaxMessagesPerRoom = 100

// Key returns the Redis key holding a room's history. The list is
// most-recent-first internally (push to head, trim to cap); reads
// reverse it so callers always observe oldest first.
func Key(room string) string {
	return "room:" + room + ":messages"
}

// Store is the history store. Appends to the same room are serialized
// by a per-room lock so observed order matches acceptance order;
// appends to different rooms proceed in parallel.
type Store struct {
	rdb      *redis.Client
	fallback *memoryLog

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	degradedMu sync.Mutex
	degraded   bool
}

// NewStore creates a Store on top of the given Redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{
		rdb:      rdb,
		fallback: newMemoryLog(),
		locks:    make(map[string]*sync.Mutex),
	}
}

// Append adds msg to the room's log. The durable store is tried first;
// if it is unreachable the append lands in the in-process fallback and
// the outcome reports DegradedFallback. Callers never see the store
// error itself; degraded state is visible through metrics and logs.
func (s *Store) Append(ctx context.Context, room string, msg domain.Message) (domain.AppendOutcome, error) {
	lock := s.roomLock(room)
	lock.Lock()
	defer lock.Unlock()

	// While older entries await reconciliation, a direct Redis push
	// would land this message ahead of them. Keep queueing behind them
	// until the reconciler drains the room.
	if s.fallback.pending(room) {
		s.fallback.append(room, msg, MaxMessagesPerRoom)
		observability.HistoryAppendsTotal.WithLabelValues(domain.DegradedFallback.String()).Inc()
		return domain.DegradedFallback, nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return domain.Persisted, fmt.Errorf("marshal message: %w", err)
	}

	if err := s.push(ctx, room, data); err != nil {
		slog.Warn("redis unavailable, buffering message in fallback log",
			slog.String("room", room),
			slog.String("error", err.Error()))
		s.fallback.append(room, msg, MaxMessagesPerRoom)
		s.setDegraded(true)
		observability.HistoryAppendsTotal.WithLabelValues(domain.DegradedFallback.String()).Inc()
		return domain.DegradedFallback, nil
	}

	observability.HistoryAppendsTotal.WithLabelValues(domain.Persisted.String()).Inc()
	return domain.Persisted, nil
}

// History returns the room's log oldest first, or an empty slice if
// none exists. While entries are buffered in the fallback they are
// merged after whatever Redis still serves, so a reader sees one
// continuous log.
func (s *Store) History(ctx context.Context, room string) ([]domain.Message, error) {
	entries, err := s.rdb.LRange(ctx, Key(room), 0, -1).Result()
	if err != nil {
		slog.Warn("redis unavailable, reading history from fallback log",
			slog.String("room", room),
			slog.String("error", err.Error()))
		return s.fallback.snapshot(room), nil
	}

	// Redis holds the list most-recent-first; reverse for callers.
	messages := make([]domain.Message, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		var msg domain.Message
		if err := json.Unmarshal([]byte(entries[i]), &msg); err != nil {
			slog.Warn("skipping malformed history entry",
				slog.String("room", room),
				slog.String("error", err.Error()))
			continue
		}
		messages = append(messages, msg)
	}

	if pending := s.fallback.snapshot(room); len(pending) > 0 {
		messages = append(messages, pending...)
		if len(messages) > MaxMessagesPerRoom {
			messages = messages[len(messages)-MaxMessagesPerRoom:]
		}
	}
	return messages, nil
}

// Clear deletes the room's entire log from both backends. Used when a
// room is deleted.
func (s *Store) Clear(ctx context.Context, room string) error {
	lock := s.roomLock(room)
	lock.Lock()
	defer lock.Unlock()

	s.fallback.clear(room)
	if err := s.rdb.Del(ctx, Key(room)).Err(); err != nil {
		return fmt.Errorf("clear history for %q: %w", room, err)
	}
	return nil
}

// Degraded reports whether fallback-buffered writes are still awaiting
// reconciliation into Redis.
func (s *Store) Degraded() bool {
	s.degradedMu.Lock()
	defer s.degradedMu.Unlock()
	return s.degraded
}

// Ping checks the durable backend.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// push appends raw entries to the head of the room's Redis list and
// trims it to the cap, in one round trip.
func (s *Store) push(ctx context.Context, room string, entries ...[]byte) error {
	key := Key(room)
	pipe := s.rdb.TxPipeline()
	for _, entry := range entries {
		pipe.LPush(ctx, key, entry)
	}
	pipe.LTrim(ctx, key, 0, MaxMessagesPerRoom-1)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) roomLock(room string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	lock, ok := s.locks[room]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[room] = lock
	}
	return lock
}

func (s *Store) setDegraded(degraded bool) {
	s.degradedMu.Lock()
	defer s.degradedMu.Unlock()

	if s.degraded == degraded {
		return
	}
	s.degraded = degraded
	if degraded {
		observability.HistoryDegradedMode.Set(1)
		slog.Warn("history store entered degraded mode")
	} else {
		observability.HistoryDegradedMode.Set(0)
		slog.Info("history store recovered, fallback log drained")
	}
}
