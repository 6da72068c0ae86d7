package gateway

import (
	"context"
	"strings"
	"testing"

	"hivechat/internal/bridge"
	"hivechat/internal/domain"
	"hivechat/internal/presence"
	"hivechat/internal/protocol"
	"hivechat/internal/room"
	"hivechat/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	gateway   *Gateway
	tracker   *presence.Tracker
	directory *room.Directory
	history   *testutil.MockHistoryStore
	publisher *testutil.MockPublisher
	local     *testutil.MockSubscriber
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tracker := presence.NewTracker()
	directory := room.NewDirectory(tracker)
	history := testutil.NewMockHistoryStore()
	publisher := testutil.NewMockPublisher()
	local := testutil.NewMockSubscriber()

	return &fixture{
		gateway:   New(tracker, directory, history, publisher, local),
		tracker:   tracker,
		directory: directory,
		history:   history,
		publisher: publisher,
		local:     local,
	}
}

func frame(t *testing.T, eventType string, payload any) []byte {
	t.Helper()
	data, err := protocol.Encode(eventType, payload)
	require.NoError(t, err)
	return data
}

func (f *fixture) join(t *testing.T, conn *testutil.MockConn, username, roomName string) {
	t.Helper()
	f.gateway.HandleFrame(context.Background(), conn,
		frame(t, protocol.EventJoinRoom, protocol.JoinRoom{Username: username, Room: roomName}))
}

func TestHandleFrame_Join(t *testing.T) {
	f := newFixture(t)
	conn := testutil.NewMockConn("conn-1")

	f.join(t, conn, "alice", "general")

	// Session registered and subscribed locally.
	session, ok := f.tracker.Get("conn-1")
	require.True(t, ok)
	assert.Equal(t, "alice", session.Username)
	assert.Equal(t, "general", session.Room)
	require.Len(t, f.local.Joins, 1)
	assert.Equal(t, "general", f.local.Joins[0].Room)

	// The joiner gets the welcome message directly; the empty history
	// is not delivered.
	types := testutil.EventTypes(t, conn.Frames)
	assert.NotContains(t, types, protocol.EventMessageHistory)
	welcome := testutil.FindEvent(t, conn.Frames, protocol.EventMessage)
	msg := testutil.DecodePayload[domain.Message](t, welcome)
	assert.Equal(t, domain.SystemAuthor, msg.Username)
	assert.Contains(t, msg.Text, "Welcome to server: general")

	// The rest of the room hears the join announcement, joiner excluded.
	publishes := f.publisher.ToRoom("general")
	require.Len(t, publishes, 2)
	joinMsg := testutil.DecodeFrame(t, publishes[0].Frame)
	assert.Equal(t, protocol.EventMessage, joinMsg.Type)
	assert.Contains(t, string(joinMsg.Payload), "alice has joined the chat")
	assert.Equal(t, "conn-1", publishes[0].Exclude)

	// Everyone in the room, joiner included, gets the membership list.
	users := testutil.DecodeFrame(t, publishes[1].Frame)
	assert.Equal(t, protocol.EventRoomUsers, users.Type)
	roomUsers := testutil.DecodePayload[protocol.RoomUsers](t, users)
	assert.Equal(t, "general", roomUsers.Room)
	require.Len(t, roomUsers.Users, 1)
	assert.Equal(t, "alice", roomUsers.Users[0].Username)
	assert.Empty(t, publishes[1].Exclude)

	// Welcome and join announcement are part of history.
	require.Len(t, f.history.Logs["general"], 2)
}

func TestHandleFrame_Join_UsernameTaken(t *testing.T) {
	f := newFixture(t)
	first := testutil.NewMockConn("conn-1")
	second := testutil.NewMockConn("conn-2")

	f.join(t, first, "carol", "general")
	f.join(t, second, "carol", "general")

	errEvent := testutil.FindEvent(t, second.Frames, protocol.EventError)
	assert.Contains(t, string(errEvent.Payload), "taken")

	// The first session is undisturbed; the second never transitioned.
	_, ok := f.tracker.Get("conn-1")
	assert.True(t, ok)
	_, ok = f.tracker.Get("conn-2")
	assert.False(t, ok)

	users := f.tracker.UsersIn("general")
	require.Len(t, users, 1)
	assert.Equal(t, "carol", users[0].Username)
}

func TestHandleFrame_Join_UnknownRoom(t *testing.T) {
	f := newFixture(t)
	conn := testutil.NewMockConn("conn-1")

	f.join(t, conn, "alice", "nowhere")

	testutil.FindEvent(t, conn.Frames, protocol.EventError)
	_, ok := f.tracker.Get("conn-1")
	assert.False(t, ok)
}

func TestHandleFrame_Join_MissingFields(t *testing.T) {
	f := newFixture(t)
	conn := testutil.NewMockConn("conn-1")

	f.join(t, conn, "", "general")

	errEvent := testutil.FindEvent(t, conn.Frames, protocol.EventError)
	assert.Contains(t, string(errEvent.Payload), "required")
}

func TestHandleFrame_Join_Twice(t *testing.T) {
	f := newFixture(t)
	conn := testutil.NewMockConn("conn-1")

	f.join(t, conn, "alice", "general")
	f.join(t, conn, "alice2", "general")

	errEvent := testutil.FindEvent(t, conn.Frames, protocol.EventError)
	assert.Contains(t, string(errEvent.Payload), "switchRoom")

	session, ok := f.tracker.Get("conn-1")
	require.True(t, ok)
	assert.Equal(t, "alice", session.Username)
}

func TestHandleFrame_Join_DeliversHistory(t *testing.T) {
	f := newFixture(t)
	alice := testutil.NewMockConn("conn-1")
	bob := testutil.NewMockConn("conn-2")

	f.join(t, alice, "alice", "general")
	f.gateway.HandleFrame(context.Background(), alice,
		frame(t, protocol.EventChatMessage, "hi"))

	f.join(t, bob, "bob", "general")

	historyEvent := testutil.FindEvent(t, bob.Frames, protocol.EventMessageHistory)
	messages := testutil.DecodePayload[[]domain.Message](t, historyEvent)

	// The welcome, the join announcement and alice's message arrive
	// oldest first.
	require.Len(t, messages, 3)
	assert.Equal(t, domain.SystemAuthor, messages[0].Username)
	assert.Equal(t, "alice", messages[2].Username)
	assert.Equal(t, "hi", messages[2].Text)
}

func TestHandleFrame_Chat(t *testing.T) {
	f := newFixture(t)
	conn := testutil.NewMockConn("conn-1")

	f.join(t, conn, "alice", "general")
	f.gateway.HandleFrame(context.Background(), conn,
		frame(t, protocol.EventChatMessage, "hello everyone"))

	publishes := f.publisher.ToRoom("general")
	last := publishes[len(publishes)-1]
	env := testutil.DecodeFrame(t, last.Frame)
	require.Equal(t, protocol.EventMessage, env.Type)
	msg := testutil.DecodePayload[domain.Message](t, env)
	assert.Equal(t, "alice", msg.Username)
	assert.Equal(t, "hello everyone", msg.Text)
	// The sender gets its own message back: no echo suppression.
	assert.Empty(t, last.Exclude)

	logs := f.history.Logs["general"]
	assert.Equal(t, "hello everyone", logs[len(logs)-1].Text)
}

func TestHandleFrame_Chat_BeforeJoin(t *testing.T) {
	f := newFixture(t)
	conn := testutil.NewMockConn("conn-1")

	f.gateway.HandleFrame(context.Background(), conn,
		frame(t, protocol.EventChatMessage, "hello?"))

	testutil.FindEvent(t, conn.Frames, protocol.EventError)
	assert.Empty(t, f.publisher.RoomPublishes)
}

func TestHandleFrame_Switch(t *testing.T) {
	f := newFixture(t)
	conn := testutil.NewMockConn("conn-1")

	_, err := f.directory.Create("dev", "development talk")
	require.NoError(t, err)

	f.join(t, conn, "alice", "general")
	f.gateway.HandleFrame(context.Background(), conn,
		frame(t, protocol.EventSwitchRoom, protocol.SwitchRoom{Username: "alice", NewRoom: "dev"}))

	session, ok := f.tracker.Get("conn-1")
	require.True(t, ok)
	assert.Equal(t, "dev", session.Room)

	// Old room hears the departure and gets a fresh membership list.
	var sawLeft, sawUsers bool
	for _, pub := range f.publisher.ToRoom("general") {
		env := testutil.DecodeFrame(t, pub.Frame)
		if env.Type == protocol.EventMessage && containsText(env.Payload, "alice has left the chat") {
			sawLeft = true
		}
		if env.Type == protocol.EventRoomUsers {
			sawUsers = true
		}
	}
	assert.True(t, sawLeft, "old room hears the departure")
	assert.True(t, sawUsers, "old room gets a membership list")

	// New room hears the arrival, requester excluded.
	newRoom := f.publisher.ToRoom("dev")
	joinPub := newRoom[0]
	assert.Equal(t, "conn-1", joinPub.Exclude)
	assert.True(t, containsText(testutil.DecodeFrame(t, joinPub.Frame).Payload, "alice has joined the chat"))

	// Local delivery follows the session into the new room.
	require.Len(t, f.local.Joins, 2)
	assert.Equal(t, "dev", f.local.Joins[1].Room)
}

func TestHandleFrame_Switch_NotJoined(t *testing.T) {
	f := newFixture(t)
	conn := testutil.NewMockConn("conn-1")

	f.gateway.HandleFrame(context.Background(), conn,
		frame(t, protocol.EventSwitchRoom, protocol.SwitchRoom{NewRoom: "general"}))

	testutil.FindEvent(t, conn.Frames, protocol.EventError)
}

func TestHandleFrame_Switch_UnknownRoom(t *testing.T) {
	f := newFixture(t)
	conn := testutil.NewMockConn("conn-1")

	f.join(t, conn, "alice", "general")
	f.gateway.HandleFrame(context.Background(), conn,
		frame(t, protocol.EventSwitchRoom, protocol.SwitchRoom{NewRoom: "nowhere"}))

	testutil.FindEvent(t, conn.Frames, protocol.EventError)
	session, _ := f.tracker.Get("conn-1")
	assert.Equal(t, "general", session.Room)
}

func TestHandleFrame_LeaveRoom_KeepsSession(t *testing.T) {
	f := newFixture(t)
	conn := testutil.NewMockConn("conn-1")

	f.join(t, conn, "alice", "general")
	before := len(f.publisher.ToRoom("general"))

	f.gateway.HandleFrame(context.Background(), conn,
		frame(t, protocol.EventLeaveRoom, protocol.LeaveRoom{Username: "alice", Room: "general"}))

	after := f.publisher.ToRoom("general")
	require.Len(t, after, before+2)
	assert.True(t, containsText(testutil.DecodeFrame(t, after[before].Frame).Payload, "alice has left the chat"))

	// The session survives: leaveRoom only announces.
	_, ok := f.tracker.Get("conn-1")
	assert.True(t, ok)
}

func TestHandleFrame_GetRooms(t *testing.T) {
	f := newFixture(t)
	conn := testutil.NewMockConn("conn-1")
	_, err := f.directory.Create("dev", "development talk")
	require.NoError(t, err)

	f.gateway.HandleFrame(context.Background(), conn, frame(t, protocol.EventGetRooms, nil))

	env := testutil.FindEvent(t, conn.Frames, protocol.EventAvailableRooms)
	rooms := testutil.DecodePayload[[]domain.Room](t, env)
	require.Len(t, rooms, 2)
	assert.Equal(t, "general", rooms[0].Name)
	assert.Equal(t, "dev", rooms[1].Name)
}

func TestHandleFrame_CreateRoom(t *testing.T) {
	f := newFixture(t)
	conn := testutil.NewMockConn("conn-1")

	f.gateway.HandleFrame(context.Background(), conn,
		frame(t, protocol.EventCreateRoom, protocol.CreateRoom{RoomName: "dev", Description: "development talk"}))

	env := testutil.FindEvent(t, conn.Frames, protocol.EventRoomCreationResult)
	result := testutil.DecodePayload[protocol.RoomResult](t, env)
	require.True(t, result.Success)
	assert.Equal(t, "dev", result.Room.Name)

	// Every instance gets the catalog change plus the announcement frame.
	require.Len(t, f.publisher.CatalogPublishes, 1)
	pub := f.publisher.CatalogPublishes[0]
	assert.Equal(t, "create", pub.Change.Op)
	assert.Equal(t, "dev", pub.Change.Room.Name)
	announced := testutil.DecodeFrame(t, pub.Frame)
	assert.Equal(t, protocol.EventRoomCreated, announced.Type)
}

func TestHandleFrame_CreateRoom_Failures(t *testing.T) {
	f := newFixture(t)
	conn := testutil.NewMockConn("conn-1")

	tests := []struct {
		name     string
		roomName string
		contains string
	}{
		{"duplicate", "general", "already exists"},
		{"too short", "ab", "between 3 and 20"},
		{"missing", "", "required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn.Frames = nil
			f.gateway.HandleFrame(context.Background(), conn,
				frame(t, protocol.EventCreateRoom, protocol.CreateRoom{RoomName: tt.roomName}))

			env := testutil.FindEvent(t, conn.Frames, protocol.EventRoomCreationResult)
			result := testutil.DecodePayload[protocol.RoomResult](t, env)
			assert.False(t, result.Success)
			assert.Contains(t, result.Message, tt.contains)
		})
	}

	assert.Empty(t, f.publisher.CatalogPublishes, "failed creates announce nothing")
}

func TestHandleFrame_DeleteRoom(t *testing.T) {
	f := newFixture(t)
	requester := testutil.NewMockConn("conn-0")
	member := testutil.NewMockConn("conn-1")

	_, err := f.directory.Create("dev", "")
	require.NoError(t, err)
	f.join(t, member, "alice", "dev")

	f.gateway.HandleFrame(context.Background(), requester,
		frame(t, protocol.EventDeleteRoom, protocol.DeleteRoom{RoomName: "dev"}))

	env := testutil.FindEvent(t, requester.Frames, protocol.EventRoomDeletionResult)
	result := testutil.DecodePayload[protocol.RoomResult](t, env)
	require.True(t, result.Success)
	assert.Equal(t, "dev", result.Room.Name)

	// Members migrated to general, locally resubscribed, history cleared.
	session, ok := f.tracker.Get("conn-1")
	require.True(t, ok)
	assert.Equal(t, "general", session.Room)
	require.Len(t, f.local.Moves, 1)
	assert.Equal(t, "general", f.local.Moves[0].Room)
	assert.NotContains(t, f.history.Logs, "dev")

	// Catalog delete announced, then fresh membership lists for both
	// the deleted room and general.
	require.Len(t, f.publisher.CatalogPublishes, 1)
	assert.Equal(t, "delete", f.publisher.CatalogPublishes[0].Change.Op)

	devPubs := f.publisher.ToRoom("dev")
	devUsers := testutil.DecodePayload[protocol.RoomUsers](t,
		testutil.DecodeFrame(t, devPubs[len(devPubs)-1].Frame))
	assert.Empty(t, devUsers.Users)

	generalPubs := f.publisher.ToRoom("general")
	generalUsers := testutil.DecodePayload[protocol.RoomUsers](t,
		testutil.DecodeFrame(t, generalPubs[len(generalPubs)-1].Frame))
	require.Len(t, generalUsers.Users, 1)
	assert.Equal(t, "alice", generalUsers.Users[0].Username)
}

func TestHandleFrame_DeleteRoom_Failures(t *testing.T) {
	f := newFixture(t)
	conn := testutil.NewMockConn("conn-1")

	tests := []struct {
		name     string
		roomName string
		contains string
	}{
		{"protected", "general", "Cannot delete"},
		{"protected case-insensitive", "GENERAL", "Cannot delete"},
		{"not found", "ghost", "not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn.Frames = nil
			f.gateway.HandleFrame(context.Background(), conn,
				frame(t, protocol.EventDeleteRoom, protocol.DeleteRoom{RoomName: tt.roomName}))

			env := testutil.FindEvent(t, conn.Frames, protocol.EventRoomDeletionResult)
			result := testutil.DecodePayload[protocol.RoomResult](t, env)
			assert.False(t, result.Success)
			assert.Contains(t, result.Message, tt.contains)
		})
	}
}

func TestHandleDisconnect(t *testing.T) {
	f := newFixture(t)
	conn := testutil.NewMockConn("conn-1")

	f.join(t, conn, "alice", "general")
	before := len(f.publisher.ToRoom("general"))

	f.gateway.HandleDisconnect(context.Background(), conn)

	_, ok := f.tracker.Get("conn-1")
	assert.False(t, ok)

	after := f.publisher.ToRoom("general")
	require.Len(t, after, before+2)
	assert.True(t, containsText(testutil.DecodeFrame(t, after[before].Frame).Payload, "alice has left the chat"))

	users := testutil.DecodePayload[protocol.RoomUsers](t, testutil.DecodeFrame(t, after[before+1].Frame))
	assert.Empty(t, users.Users)
}

func TestHandleDisconnect_NeverJoined(t *testing.T) {
	f := newFixture(t)
	conn := testutil.NewMockConn("conn-1")

	f.gateway.HandleDisconnect(context.Background(), conn)

	assert.Empty(t, f.publisher.RoomPublishes)
}

func TestHandleFrame_UnknownEvent(t *testing.T) {
	f := newFixture(t)
	conn := testutil.NewMockConn("conn-1")

	f.gateway.HandleFrame(context.Background(), conn, []byte(`{"type":"selfDestruct"}`))
	f.gateway.HandleFrame(context.Background(), conn, []byte(`not json at all`))

	envs := conn.Emitted(t)
	require.Len(t, envs, 2)
	for _, env := range envs {
		assert.Equal(t, protocol.EventError, env.Type)
	}
}

func TestApplyCatalogChange_Create(t *testing.T) {
	f := newFixture(t)

	f.gateway.ApplyCatalogChange(context.Background(), "other-instance",
		bridge.CatalogChange{Op: "create", Room: domain.Room{Name: "dev"}})

	_, ok := f.directory.Get("dev")
	assert.True(t, ok)

	// The origin's own echo is a no-op.
	f.gateway.ApplyCatalogChange(context.Background(), "other-instance",
		bridge.CatalogChange{Op: "create", Room: domain.Room{Name: "dev"}})
	assert.Len(t, f.directory.List(), 2)
}

func TestApplyCatalogChange_Delete_MigratesLocal(t *testing.T) {
	f := newFixture(t)
	conn := testutil.NewMockConn("conn-1")

	_, err := f.directory.Create("dev", "")
	require.NoError(t, err)
	f.join(t, conn, "alice", "dev")

	f.gateway.ApplyCatalogChange(context.Background(), "other-instance",
		bridge.CatalogChange{Op: "delete", Room: domain.Room{Name: "dev"}})

	session, ok := f.tracker.Get("conn-1")
	require.True(t, ok)
	assert.Equal(t, "general", session.Room)
	require.Len(t, f.local.Moves, 1)

	_, ok = f.directory.Get("dev")
	assert.False(t, ok)
}

func containsText(payload []byte, text string) bool {
	return strings.Contains(string(payload), text)
}
