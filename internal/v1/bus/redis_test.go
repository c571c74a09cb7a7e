package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turingden/find-the-ai/internal/v1/types"
)

func TestMirror_PublishesToRoomChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	mirror, err := NewMirror(mr.Addr(), "")
	require.NoError(t, err)
	defer func() { _ = mirror.Close() }()

	sub := mr.NewSubscriber()
	defer sub.Close()
	sub.Subscribe("findai:room:ABC123")

	mirror.PublishEvent(context.Background(), "ABC123", types.Event{
		Seq:  7,
		Kind: types.EventMessage,
		Payload: types.Message{
			Sender: "Player 1",
			Text:   "anyone else think Player 3 types too fast?",
			Round:  2,
		},
	})

	select {
	case msg := <-sub.Messages():
		assert.Equal(t, "findai:room:ABC123", msg.Channel)

		var env MirrorPayload
		require.NoError(t, json.Unmarshal([]byte(msg.Message), &env))
		assert.Equal(t, "ABC123", env.RoomCode)
		assert.Equal(t, uint64(7), env.Seq)
		assert.Equal(t, string(types.EventMessage), env.Kind)

		var inner types.Message
		require.NoError(t, json.Unmarshal(env.Payload, &inner))
		assert.Equal(t, "Player 1", inner.Sender)
		assert.Equal(t, 2, inner.Round)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the mirrored event")
	}
}

func TestMirror_PingAndBusIntegration(t *testing.T) {
	mr := miniredis.RunT(t)
	mirror, err := NewMirror(mr.Addr(), "")
	require.NoError(t, err)
	defer func() { _ = mirror.Close() }()

	require.NoError(t, mirror.Ping(context.Background()))

	sub := mr.NewSubscriber()
	defer sub.Close()
	sub.Subscribe("findai:room:XYZ789")

	// A bus built with the mirror as sink forwards every publish.
	b := New("XYZ789", 16, mirror)
	b.Publish(types.EventPhaseChanged, types.PhasePayload{Phase: types.PhaseVoting, Round: 1})
	b.Close() // waits for the mirror loop to drain

	select {
	case msg := <-sub.Messages():
		var env MirrorPayload
		require.NoError(t, json.Unmarshal([]byte(msg.Message), &env))
		assert.Equal(t, string(types.EventPhaseChanged), env.Kind)
		assert.Equal(t, uint64(1), env.Seq)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the mirrored event")
	}
}

func TestMirror_NilSafe(t *testing.T) {
	var mirror *Mirror

	assert.Nil(t, mirror.Client())
	assert.NoError(t, mirror.Ping(context.Background()))
	assert.NoError(t, mirror.Close())
	// Publishing through a nil mirror is a silent no-op.
	mirror.PublishEvent(context.Background(), "ABC123", types.Event{Seq: 1})
}

func TestNewMirror_ConnectFailure(t *testing.T) {
	_, err := NewMirror("127.0.0.1:1", "")
	assert.Error(t, err)
}
