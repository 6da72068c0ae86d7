package presence

import (
	"fmt"
	"sync"
	"testing"

	"hivechat/internal/domain"
	"hivechat/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_Join(t *testing.T) {
	tracker := NewTracker()

	session, err := tracker.Join("conn-1", "alice", "general")
	require.NoError(t, err)
	assert.Equal(t, "conn-1", session.ID)
	assert.Equal(t, "alice", session.Username)
	assert.Equal(t, "general", session.Room)
	assert.Equal(t, 1, tracker.Count())
}

func TestTracker_Join_UsernameTaken(t *testing.T) {
	tracker := NewTracker()

	_, err := tracker.Join("conn-1", "alice", "general")
	require.NoError(t, err)

	// Same name in a different room still conflicts: uniqueness is global.
	_, err = tracker.Join("conn-2", "alice", "dev")
	assert.ErrorIs(t, err, domain.ErrUsernameTaken)

	// Case-insensitive match conflicts too.
	_, err = tracker.Join("conn-3", "ALICE", "general")
	assert.ErrorIs(t, err, domain.ErrUsernameTaken)

	assert.Equal(t, 1, tracker.Count())
}

func TestTracker_Join_ConcurrentSameUsername(t *testing.T) {
	tracker := NewTracker()

	const attempts = 50
	var wg sync.WaitGroup
	errs := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = tracker.Join(fmt.Sprintf("conn-%d", i), "carol", "general")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, domain.ErrUsernameTaken)
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one concurrent join may win")
	assert.Equal(t, 1, tracker.Count())
}

func TestTracker_Leave(t *testing.T) {
	tracker := NewTracker()

	_, err := tracker.Join("conn-1", "alice", "general")
	require.NoError(t, err)

	session := tracker.Leave("conn-1")
	require.NotNil(t, session)
	assert.Equal(t, "alice", session.Username)
	assert.Equal(t, 0, tracker.Count())

	// Leaving twice is a no-op.
	assert.Nil(t, tracker.Leave("conn-1"))
}

func TestTracker_Leave_FreesUsername(t *testing.T) {
	tracker := NewTracker()

	_, err := tracker.Join("conn-1", "alice", "general")
	require.NoError(t, err)
	tracker.Leave("conn-1")

	_, err = tracker.Join("conn-2", "alice", "general")
	assert.NoError(t, err)
}

func TestTracker_SwitchRoom(t *testing.T) {
	tracker := NewTracker()

	_, err := tracker.Join("conn-1", "alice", "general")
	require.NoError(t, err)

	session, err := tracker.SwitchRoom("conn-1", "dev")
	require.NoError(t, err)
	assert.Equal(t, "dev", session.Room)

	got, ok := tracker.Get("conn-1")
	require.True(t, ok)
	assert.Equal(t, "dev", got.Room)
}

func TestTracker_SwitchRoom_UnknownSession(t *testing.T) {
	tracker := NewTracker()

	_, err := tracker.SwitchRoom("conn-404", "dev")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestTracker_UsersIn_JoinOrder(t *testing.T) {
	tracker := NewTracker()

	for i, name := range []string{"alice", "bob", "carol", "dave"} {
		room := "general"
		if name == "carol" {
			room = "dev"
		}
		_, err := tracker.Join(fmt.Sprintf("conn-%d", i), name, room)
		require.NoError(t, err)
	}

	users := tracker.UsersIn("general")
	require.Len(t, users, 3)
	assert.Equal(t, "alice", users[0].Username)
	assert.Equal(t, "bob", users[1].Username)
	assert.Equal(t, "dave", users[2].Username)

	assert.Empty(t, tracker.UsersIn("empty-room"))
}

func TestTracker_MigrateRoom(t *testing.T) {
	tracker := NewTracker()

	_, err := tracker.Join("conn-1", "alice", "dev")
	require.NoError(t, err)
	_, err = tracker.Join("conn-2", "bob", "dev")
	require.NoError(t, err)
	_, err = tracker.Join("conn-3", "carol", "general")
	require.NoError(t, err)

	moved := tracker.MigrateRoom("dev", "general")
	require.Len(t, moved, 2)
	assert.Equal(t, "alice", moved[0].Username)
	assert.Equal(t, "bob", moved[1].Username)

	assert.Empty(t, tracker.UsersIn("dev"))
	assert.Len(t, tracker.UsersIn("general"), 3)
}

func TestTracker_Get_ReturnsSnapshot(t *testing.T) {
	tracker := NewTracker()

	_, err := tracker.Join("conn-1", "alice", "general")
	require.NoError(t, err)

	got, ok := tracker.Get("conn-1")
	require.True(t, ok)
	got.Room = "hacked"

	fresh, ok := tracker.Get("conn-1")
	require.True(t, ok)
	assert.Equal(t, "general", fresh.Room)
}

func TestTracker_Count(t *testing.T) {
	tracker := NewTracker()
	assert.Equal(t, 0, tracker.Count())

	ids := make([]string, 0, 3)
	for _, name := range []string{"alice", "bob", "carol"} {
		id := testutil.NextSessionID()
		_, err := tracker.Join(id, name, "general")
		require.NoError(t, err)
		ids = append(ids, id)
	}
	assert.Equal(t, 3, tracker.Count())

	tracker.Leave(ids[0])
	assert.Equal(t, 2, tracker.Count())

	// Leaving an unknown session changes nothing.
	assert.Nil(t, tracker.Leave("conn-404"))
	assert.Equal(t, 2, tracker.Count())
}
