package game

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turingden/find-the-ai/internal/v1/types"
)

func TestJoin_AssignsUniquePlayerNumbers(t *testing.T) {
	e := newTestEngine(t, engineParams{rooms: testOptions()})
	room, err := e.CreateRoom(context.Background(), 3, 6)
	require.NoError(t, err)

	humans := fillRoom(t, room, 3)

	snap := room.Snapshot()
	require.Len(t, snap.Players, 6)

	seen := map[int]bool{}
	for _, p := range snap.Players {
		assert.GreaterOrEqual(t, p.Number, 1)
		assert.LessOrEqual(t, p.Number, 6)
		assert.False(t, seen[p.Number], "duplicate player number %d", p.Number)
		seen[p.Number] = true
		assert.Equal(t, types.MakePlayerID(p.Number), p.ID)
	}
	for _, h := range humans {
		assert.Equal(t, types.KindHuman, snap.Players[indexOf(t, snap, h.ID)].Kind)
	}
	assert.Len(t, aiPlayers(snap), 3)
}

func indexOf(t *testing.T, snap types.SnapshotPayload, id types.PlayerID) int {
	t.Helper()
	for i, p := range snap.Players {
		if p.ID == id {
			return i
		}
	}
	t.Fatalf("player %s not in snapshot", id)
	return -1
}

func TestJoin_AfterStartRejected(t *testing.T) {
	e := newTestEngine(t, engineParams{rooms: testOptions()})
	room, err := e.CreateRoom(context.Background(), 1, 3)
	require.NoError(t, err)

	fillRoom(t, room, 1)
	require.Equal(t, types.PhaseDiscussion, room.Snapshot().Phase)

	_, err = room.Join(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestLeave_RecyclesNumberWhileWaiting(t *testing.T) {
	e := newTestEngine(t, engineParams{rooms: testOptions()})
	room, err := e.CreateRoom(context.Background(), 3, 6)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = room.Join(ctx) // creator
	require.NoError(t, err)
	second, err := room.Join(ctx)
	require.NoError(t, err)

	require.NoError(t, room.Leave(ctx, second.ID))

	// The freed seat is the smallest available again, so the next join
	// reclaims the same number.
	third, err := room.Join(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.Number, third.Number)

	// A departed player cannot leave twice.
	assert.ErrorIs(t, room.Leave(ctx, second.ID), ErrNotFound)
}

func TestJoin_LastHumanStartsGame(t *testing.T) {
	e := newTestEngine(t, engineParams{rooms: testOptions()})
	room, err := e.CreateRoom(context.Background(), 2, 6)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = room.Join(ctx)
	require.NoError(t, err)

	sub := room.Subscribe()
	defer sub.Close()
	snapEv := nextEvent(t, sub, types.EventSnapshot)
	snap, ok := snapEv.Payload.(types.SnapshotPayload)
	require.True(t, ok)
	assert.Equal(t, types.PhaseWaiting, snap.Phase)

	second, err := room.Join(ctx)
	require.NoError(t, err)

	// The start sequence arrives in production order.
	joined := nextEvent(t, sub, types.EventPlayerJoined)
	assert.Equal(t, second.ID, joined.Payload.(types.PlayerEventPayload).PlayerID)
	list := nextEvent(t, sub, types.EventPlayerList)
	phase := nextEvent(t, sub, types.EventPhaseChanged)
	topic := nextEvent(t, sub, types.EventTopic)

	assert.Less(t, joined.Seq, list.Seq)
	assert.Less(t, list.Seq, phase.Seq)
	assert.Less(t, phase.Seq, topic.Seq)

	pp := phase.Payload.(types.PhasePayload)
	assert.Equal(t, types.PhaseDiscussion, pp.Phase)
	assert.Equal(t, 1, pp.Round)
	assert.NotZero(t, pp.Deadline)
	assert.Equal(t, "topic-1", topic.Payload.(types.TopicPayload).Topic)
}

func TestLeave_CreatorTerminatesRoom(t *testing.T) {
	e := newTestEngine(t, engineParams{rooms: testOptions()})
	room, err := e.CreateRoom(context.Background(), 2, 4)
	require.NoError(t, err)

	ctx := context.Background()
	creator, err := room.Join(ctx)
	require.NoError(t, err)

	sub := room.Subscribe()
	defer sub.Close()
	nextEvent(t, sub, types.EventSnapshot)

	require.NoError(t, room.Leave(ctx, creator.ID))

	nextEvent(t, sub, types.EventRoomTerminated)
	events := drainUntilClosed(t, sub)
	assert.Empty(t, events, "no events after the terminal one")

	_, err = e.Room(room.Code())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = room.Join(ctx)
	assert.True(t, errors.Is(err, ErrTerminated))
}

func TestLeave_DuringGameMarksEliminated(t *testing.T) {
	e := newTestEngine(t, engineParams{rooms: testOptions()})
	room, err := e.CreateRoom(context.Background(), 3, 6)
	require.NoError(t, err)

	humans := fillRoom(t, room, 3)
	require.Equal(t, types.PhaseDiscussion, room.Snapshot().Phase)

	ctx := context.Background()
	// A non-creator leaving mid-game keeps the game running.
	require.NoError(t, room.Leave(ctx, humans[1].ID))

	snap := room.Snapshot()
	left := snap.Players[indexOf(t, snap, humans[1].ID)]
	assert.True(t, left.Eliminated)
	assert.Equal(t, types.PhaseDiscussion, snap.Phase)

	// The departed seat can no longer speak.
	_, err = room.SendMessage(ctx, humans[1].ID, "hello")
	assert.Error(t, err)
}

func TestSendMessage_Validation(t *testing.T) {
	e := newTestEngine(t, engineParams{rooms: testOptions()})
	room, err := e.CreateRoom(context.Background(), 1, 3)
	require.NoError(t, err)

	ctx := context.Background()
	creator := fillRoom(t, room, 1)[0]

	_, err = room.SendMessage(ctx, creator.ID, "   ")
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = room.SendMessage(ctx, "Player 99", "hi")
	assert.ErrorIs(t, err, ErrNotFound)

	msg, err := room.SendMessage(ctx, creator.ID, "  hello everyone  ")
	require.NoError(t, err)
	assert.Equal(t, "hello everyone", msg.Text)
	assert.Equal(t, string(creator.ID), msg.Sender)
	assert.Equal(t, 1, msg.Round)
}

func TestSendMessage_TimestampsStrictlyIncrease(t *testing.T) {
	e := newTestEngine(t, engineParams{rooms: testOptions()})
	room, err := e.CreateRoom(context.Background(), 1, 3)
	require.NoError(t, err)

	ctx := context.Background()
	creator := fillRoom(t, room, 1)[0]

	var prev types.Message
	for i := 0; i < 20; i++ {
		msg, err := room.SendMessage(ctx, creator.ID, "ping")
		require.NoError(t, err)
		if i > 0 {
			assert.True(t, msg.Timestamp.After(prev.Timestamp),
				"timestamps must strictly increase")
		}
		prev = msg
	}
}

func TestSnapshot_WindowsRecentMessages(t *testing.T) {
	opts := testOptions()
	opts.SnapshotWindow = 5
	e := newTestEngine(t, engineParams{rooms: opts})
	room, err := e.CreateRoom(context.Background(), 1, 3)
	require.NoError(t, err)

	ctx := context.Background()
	creator := fillRoom(t, room, 1)[0]
	for i := 0; i < 10; i++ {
		_, err := room.SendMessage(ctx, creator.ID, "chatter")
		require.NoError(t, err)
	}

	snap := room.Snapshot()
	assert.Len(t, snap.Messages, 5)
}

func TestTerminate_Idempotent(t *testing.T) {
	e := newTestEngine(t, engineParams{rooms: testOptions()})
	room, err := e.CreateRoom(context.Background(), 2, 4)
	require.NoError(t, err)

	room.Terminate("test")
	room.Terminate("test again")

	require.NoError(t, room.WaitClosed(context.Background()))
}
