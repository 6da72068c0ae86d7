package history

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"hivechat/internal/observability"
)

// DefaultReconcileInterval is how often buffered fallback entries are
// retried against Redis.
const DefaultReconcileInterval = 5 * time.Second

// RunReconciler replays fallback-buffered history into Redis whenever
// it becomes reachable again, until ctx is cancelled. Intended to run
// in its own goroutine.
func (s *Store) RunReconciler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping history reconciler")
			return
		case <-ticker.C:
			s.reconcile(ctx)
		}
	}
}

// reconcile attempts one replay pass. Rooms that fail stay buffered
// for the next tick; per-room locks keep replay ordered relative to
// live appends.
func (s *Store) reconcile(ctx context.Context) {
	if s.fallback.empty() {
		return
	}

	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return
	}

	for _, room := range s.fallback.pendingRooms() {
		s.reconcileRoom(ctx, room)
	}

	if s.fallback.empty() {
		s.setDegraded(false)
	}
}

func (s *Store) reconcileRoom(ctx context.Context, room string) {
	lock := s.roomLock(room)
	lock.Lock()
	defer lock.Unlock()

	pending := s.fallback.drain(room)
	if len(pending) == 0 {
		return
	}

	entries := make([][]byte, 0, len(pending))
	for _, msg := range pending {
		data, err := json.Marshal(msg)
		if err != nil {
			slog.Error("dropping unmarshalable fallback entry",
				slog.String("room", room),
				slog.String("error", err.Error()))
			continue
		}
		entries = append(entries, data)
	}

	// Replay oldest first so each push lands newer entries at the head,
	// preserving acceptance order.
	if err := s.push(ctx, room, entries...); err != nil {
		slog.Warn("history reconcile failed, keeping fallback buffer",
			slog.String("room", room),
			slog.String("error", err.Error()))
		for _, msg := range pending {
			s.fallback.append(room, msg, MaxMessagesPerRoom)
		}
		return
	}

	observability.HistoryReconciledTotal.Add(float64(len(entries)))
	slog.Info("reconciled fallback history into redis",
		slog.String("room", room),
		slog.Int("messages", len(entries)))
}
