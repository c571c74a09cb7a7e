package game

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/turingden/find-the-ai/internal/v1/agent"
	"github.com/turingden/find-the-ai/internal/v1/stats"
	"github.com/turingden/find-the-ai/internal/v1/types"
)

// scriptedCompleter answers agent probes and generations deterministically.
// Probe calls are recognized by the probe system prompt.
type scriptedCompleter struct {
	mu          sync.Mutex
	probeAnswer string
	reply       string
	probeDelay  time.Duration
	genDelay    time.Duration
	err         error
	probeCalls  int
	genCalls    int
}

func (c *scriptedCompleter) Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	probe := strings.Contains(system, "YES or NO")

	var delay time.Duration
	c.mu.Lock()
	if probe {
		c.probeCalls++
		delay = c.probeDelay
	} else {
		c.genCalls++
		delay = c.genDelay
	}
	answer, reply, err := c.probeAnswer, c.reply, c.err
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	if probe {
		return answer, nil
	}
	return reply, nil
}

func (c *scriptedCompleter) counts() (probes, gens int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.probeCalls, c.genCalls
}

// silentCompleter declines every probe.
func silentCompleter() *scriptedCompleter {
	return &scriptedCompleter{probeAnswer: "NO", reply: "nope"}
}

// testOptions are room options tuned for fast tests. Timers that a test does
// not exercise are kept long enough to never fire by accident.
func testOptions() Options {
	o := DefaultOptions()
	o.DiscussionTimeout = time.Minute
	o.VotingTimeout = time.Minute
	o.IdleTrigger = 0
	return o
}

type engineParams struct {
	rooms     Options
	maxRooms  int
	completer types.Completer
	statsDir  string
}

func newTestEngine(t *testing.T, p engineParams) *Engine {
	t.Helper()
	if p.maxRooms == 0 {
		p.maxRooms = 16
	}
	if p.completer == nil {
		p.completer = silentCompleter()
	}
	if p.statsDir == "" {
		p.statsDir = t.TempDir()
	}
	writer, err := stats.NewWriter(p.statsDir)
	require.NoError(t, err)

	e := NewEngine(EngineConfig{
		Rooms:     p.rooms,
		MaxRooms:  p.maxRooms,
		Workers:   4,
		Completer: p.completer,
		Agent: agent.Options{
			MinSpacing:        0,
			MaxUtteranceChars: 280,
			ProbeMaxTokens:    8,
			SpeakMaxTokens:    64,
		},
		Topics: func(round int) string { return fmt.Sprintf("topic-%d", round) },
		Stats:  writer,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		e.Shutdown(ctx)
	})
	return e
}

// nextEvent reads events until one of the wanted kind arrives.
func nextEvent(t *testing.T, sub types.Subscription, kind types.EventKind) types.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			require.True(t, ok, "event channel closed while waiting for %s", kind)
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

// drainUntilClosed collects every remaining event until the channel closes.
func drainUntilClosed(t *testing.T, sub types.Subscription) []types.Event {
	t.Helper()
	var events []types.Event
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatal("timed out waiting for event channel to close")
		}
	}
}

// fillRoom joins humans until the game starts, returning them in join order.
func fillRoom(t *testing.T, room *Room, n int) []types.Player {
	t.Helper()
	players := make([]types.Player, 0, n)
	for i := 0; i < n; i++ {
		p, err := room.Join(context.Background())
		require.NoError(t, err)
		players = append(players, p)
	}
	return players
}

// aiPlayers extracts the AI seats from a snapshot roster.
func aiPlayers(snap types.SnapshotPayload) []types.Player {
	var ais []types.Player
	for _, p := range snap.Players {
		if p.Kind == types.KindAI {
			ais = append(ais, p)
		}
	}
	return ais
}
