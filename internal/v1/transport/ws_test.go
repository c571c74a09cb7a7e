package transport

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turingden/find-the-ai/internal/v1/game"
	"github.com/turingden/find-the-ai/internal/v1/types"
)

// wireEvent mirrors types.Event with the payload left raw for per-kind decoding.
type wireEvent struct {
	Seq     uint64          `json:"seq"`
	Kind    types.EventKind `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func readWireEvent(t *testing.T, conn *websocket.Conn, kind types.EventKind) wireEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "reading from socket while waiting for %s", kind)

		var ev wireEvent
		require.NoError(t, json.Unmarshal(data, &ev))
		if ev.Kind == kind {
			return ev
		}
	}
}

func TestServeWs_SnapshotFirstThenLiveEvents(t *testing.T) {
	f := newFixture(t)
	room := f.createRoom(t, 1, 3) // starts immediately

	srv := httptest.NewServer(f.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") +
		fmt.Sprintf("/ws/v1/rooms/%s?token=%s", room.Code, room.Token)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		defer resp.Body.Close()
	}
	defer conn.Close()

	snap := readWireEvent(t, conn, types.EventSnapshot)
	var snapshot types.SnapshotPayload
	require.NoError(t, json.Unmarshal(snap.Payload, &snapshot))
	assert.Equal(t, room.Code, snapshot.Code)
	assert.Equal(t, types.PhaseDiscussion, snapshot.Phase)
	assert.Len(t, snapshot.Players, 3)

	// An in-band message frame round-trips through the engine and back out.
	require.NoError(t, conn.WriteJSON(clientFrame{Type: "message", Text: "over the socket"}))
	for {
		ev := readWireEvent(t, conn, types.EventMessage)
		var msg types.Message
		require.NoError(t, json.Unmarshal(ev.Payload, &msg))
		if msg.Sender == string(room.Player.ID) {
			assert.Equal(t, "over the socket", msg.Text)
			break
		}
	}
}

func TestServeWs_RejectsMissingOrForeignToken(t *testing.T) {
	f := newFixture(t)
	room := f.createRoom(t, 2, 4)
	other := f.createRoom(t, 2, 4)

	srv := httptest.NewServer(f.router)
	defer srv.Close()
	base := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(
		base+fmt.Sprintf("/ws/v1/rooms/%s", room.Code), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, 401, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(
		base+fmt.Sprintf("/ws/v1/rooms/%s?token=%s", room.Code, other.Token), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, 401, resp.StatusCode)
}

func TestCheckOrigin(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest("GET", "/ws/v1/rooms/ABC123", nil)
	assert.True(t, s.checkOrigin(req), "non-browser clients send no origin")

	req.Header.Set("Origin", "http://localhost:3000")
	assert.True(t, s.checkOrigin(req), "the default development origin is allowed")

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, s.checkOrigin(req))

	s.origins = []string{"https://game.example"}
	req.Header.Set("Origin", "https://game.example")
	assert.True(t, s.checkOrigin(req))
	req.Header.Set("Origin", "http://localhost:3000")
	assert.False(t, s.checkOrigin(req), "configuring origins replaces the default")

	s.origins = []string{"*"}
	assert.True(t, s.checkOrigin(req))
}

// --- pump unit tests against a scripted connection ---

type wsWrite struct {
	messageType int
	data        []byte
}

type mockConn struct {
	mu     sync.Mutex
	reads  [][]byte
	writes []wsWrite
}

func (m *mockConn) ReadMessage() (int, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.reads) == 0 {
		return 0, nil, io.EOF
	}
	data := m.reads[0]
	m.reads = m.reads[1:]
	return websocket.TextMessage, data, nil
}

func (m *mockConn) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = append(m.writes, wsWrite{messageType, append([]byte(nil), data...)})
	return nil
}

func (m *mockConn) Close() error                     { return nil }
func (m *mockConn) SetWriteDeadline(time.Time) error { return nil }

func (m *mockConn) written() []wsWrite {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]wsWrite(nil), m.writes...)
}

type chanSub struct {
	ch   chan types.Event
	once sync.Once
}

func (s *chanSub) Events() <-chan types.Event { return s.ch }
func (s *chanSub) Close()                     { s.once.Do(func() { close(s.ch) }) }

func TestWritePump_StreamsUntilSubscriptionCloses(t *testing.T) {
	sub := &chanSub{ch: make(chan types.Event, 4)}
	sub.ch <- types.Event{Seq: 1, Kind: types.EventSnapshot}
	sub.ch <- types.Event{Seq: 2, Kind: types.EventMessage, Payload: types.Message{Sender: "Player 1", Text: "hi"}}
	sub.Close()

	conn := &mockConn{}
	client := &Client{conn: conn, sub: sub}
	client.writePump()

	writes := conn.written()
	require.Len(t, writes, 3)
	assert.Equal(t, websocket.TextMessage, writes[0].messageType)
	assert.Equal(t, websocket.TextMessage, writes[1].messageType)
	assert.Equal(t, websocket.CloseMessage, writes[2].messageType)

	var first, second wireEvent
	require.NoError(t, json.Unmarshal(writes[0].data, &first))
	require.NoError(t, json.Unmarshal(writes[1].data, &second))
	assert.Equal(t, types.EventSnapshot, first.Kind)
	assert.Equal(t, uint64(2), second.Seq)
}

func TestReadPump_DispatchesFramesAndStopsOnLeave(t *testing.T) {
	f := newFixture(t)
	room, err := f.engine.CreateRoom(t.Context(), 1, 3)
	require.NoError(t, err)
	player, err := room.Join(t.Context())
	require.NoError(t, err)

	watcher := room.Subscribe()

	conn := &mockConn{reads: [][]byte{
		[]byte(`{"type":"message","text":"from the socket"}`),
		[]byte(`{not json`),                // dropped, not fatal
		[]byte(`{"type":"mystery"}`),       // unknown type, ignored
		[]byte(`{"type":"leave"}`),         // creator leave terminates the room
		[]byte(`{"type":"message","text":"never read"}`),
	}}
	sub, err := f.engine.Subscribe(room.Code())
	require.NoError(t, err)

	client := &Client{conn: conn, sub: sub, engine: f.engine, room: room.Code(), player: player.ID}
	client.readPump()

	// The leave frame ended the pump; the trailing frame was never consumed.
	_, trailing, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(trailing), "never read")

	deadline := time.After(3 * time.Second)
	sawMessage := false
	for !sawMessage {
		select {
		case ev, ok := <-watcher.Events():
			require.True(t, ok, "room closed before the in-band message arrived")
			if ev.Kind == types.EventMessage {
				if msg, ok := ev.Payload.(types.Message); ok && msg.Text == "from the socket" {
					sawMessage = true
				}
			}
		case <-deadline:
			t.Fatal("in-band message never reached the bus")
		}
	}
	watcher.Close()

	_, err = f.engine.Room(room.Code())
	assert.ErrorIs(t, err, game.ErrNotFound)
}
