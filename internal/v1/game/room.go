package game

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/set"

	"github.com/turingden/find-the-ai/internal/v1/logging"
	"github.com/turingden/find-the-ai/internal/v1/metrics"
	"github.com/turingden/find-the-ai/internal/v1/stats"
	"github.com/turingden/find-the-ai/internal/v1/types"
)

// Status is the coarse room state.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in_progress"
	StatusEnded      Status = "ended"
)

// Options are the per-room knobs, snapshotted from config at creation.
type Options struct {
	DiscussionTimeout time.Duration
	VotingTimeout     time.Duration
	RoundsToWin       int
	StrictSurvival    bool
	MinAgentSpacing   time.Duration
	IdleTrigger       time.Duration
	ProbeTimeout      time.Duration
	GenerateTimeout   time.Duration
	SnapshotWindow    int
	BusBuffer         int
	MaxUtteranceChars int
}

// DefaultOptions are the standard room tuning.
func DefaultOptions() Options {
	return Options{
		DiscussionTimeout: 180 * time.Second,
		VotingTimeout:     60 * time.Second,
		RoundsToWin:       1,
		MinAgentSpacing:   4 * time.Second,
		IdleTrigger:       25 * time.Second,
		ProbeTimeout:      5 * time.Second,
		GenerateTimeout:   15 * time.Second,
		SnapshotWindow:    50,
		BusBuffer:         256,
		MaxUtteranceChars: 280,
	}
}

// PolicyFactory builds the policy for one AI seat. aiIndex counts AI seats in
// assignment order and selects the persona.
type PolicyFactory func(id types.PlayerID, aiIndex int) types.Policy

// roomDeps are the process-wide collaborators a room borrows from the engine.
type roomDeps struct {
	pool       *WorkerPool
	newPolicy  PolicyFactory
	topics     TopicSource
	remove     func(code types.RoomCode) // registry delete; must not be called under r.mu
	writeStats func(rec stats.Record) error
}

type outboxEvent struct {
	kind    types.EventKind
	payload any
}

// Room owns all mutable state of one game. Every field below mu is guarded by
// it; mutations are non-blocking and events are queued to the outbox under the
// lock so bus order matches lock order, then published by a dedicated drainer.
type Room struct {
	code types.RoomCode
	opts Options
	deps roomDeps

	mu           sync.Mutex
	status       Status
	maxHumans    int
	totalPlayers int
	creator      types.PlayerID
	createdAt    time.Time
	startedAt    time.Time
	players      []*types.Player
	byID         map[types.PlayerID]*types.Player
	policies     map[types.PlayerID]types.Policy
	available    set.Set[int]
	phase        types.Phase
	round        int
	topic        string
	roundTopics  []string // indexed by round, roundTopics[0] is round 1
	messages     []types.Message
	lastMsgAt    time.Time
	votes        map[types.PlayerID]types.PlayerID
	ballots      []stats.Ballot
	eliminated   []types.PlayerID
	processing   set.Set[types.PlayerID]
	lastSpoke    map[types.PlayerID]time.Time
	phaseTimer   *time.Timer
	idleTimer    *time.Timer
	timerGen     int
	finalStats   *stats.Record
	closed       bool

	// triggerMu guards the scheduler pipeline. Try-acquire only: a concurrent
	// trigger is dropped, never queued, because the holder covers every agent
	// that is currently eligible.
	triggerMu sync.Mutex

	bus    types.Broadcaster
	outbox chan outboxEvent
	wg     sync.WaitGroup
}

func newRoom(code types.RoomCode, maxHumans, totalPlayers int, opts Options, b types.Broadcaster, deps roomDeps) *Room {
	r := &Room{
		code:         code,
		opts:         opts,
		deps:         deps,
		status:       StatusWaiting,
		maxHumans:    maxHumans,
		totalPlayers: totalPlayers,
		createdAt:    time.Now(),
		byID:         make(map[types.PlayerID]*types.Player),
		policies:     make(map[types.PlayerID]types.Policy),
		available:    set.New[int](),
		phase:        types.PhaseWaiting,
		votes:        make(map[types.PlayerID]types.PlayerID),
		processing:   set.New[types.PlayerID](),
		lastSpoke:    make(map[types.PlayerID]time.Time),
		bus:          b,
		outbox:       make(chan outboxEvent, 1024),
	}

	r.seedPlayers()

	r.wg.Add(1)
	go r.drainOutbox()

	return r
}

// Code returns the room code.
func (r *Room) Code() types.RoomCode {
	return r.code
}

// CreatedAt returns the room creation timestamp.
func (r *Room) CreatedAt() time.Time {
	return r.createdAt
}

// --- Event plumbing ---

// enqueueLocked stages events for publication in lock order. Caller holds r.mu.
func (r *Room) enqueueLocked(events ...outboxEvent) {
	if r.closed {
		return
	}
	for _, ev := range events {
		select {
		case r.outbox <- ev:
		default:
			// The outbox is sized far beyond any realistic burst; hitting this
			// means a subscriber storm, and losing an event beats deadlocking
			// the room.
			logging.Error(context.Background(), "Room outbox full, dropping event",
				zap.String("room_code", string(r.code)), zap.String("kind", string(ev.kind)))
		}
	}
}

func (r *Room) drainOutbox() {
	defer r.wg.Done()
	for ev := range r.outbox {
		r.bus.Publish(ev.kind, ev.payload)
	}
	r.bus.Close()
}

// Subscribe attaches a transport to the room's event stream. The first event
// is always a snapshot of current state, built inside the bus's critical
// section so nothing published concurrently slips between snapshot and stream.
func (r *Room) Subscribe() types.Subscription {
	return r.bus.Subscribe(func() types.SnapshotPayload {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.snapshotLocked()
	})
}

// Snapshot returns the current room state as rendered to a fresh subscriber.
func (r *Room) Snapshot() types.SnapshotPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Room) snapshotLocked() types.SnapshotPayload {
	players := make([]types.Player, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, *p)
	}

	msgs := r.messages
	if len(msgs) > r.opts.SnapshotWindow {
		msgs = msgs[len(msgs)-r.opts.SnapshotWindow:]
	}
	recent := make([]types.Message, len(msgs))
	copy(recent, msgs)

	return types.SnapshotPayload{
		Code:     r.code,
		Status:   string(r.status),
		Phase:    r.phase,
		Round:    r.round,
		Topic:    r.topic,
		Players:  players,
		Messages: recent,
	}
}

func (r *Room) playerListLocked() []types.Player {
	players := make([]types.Player, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, *p)
	}
	return players
}

// summaryIfWaiting renders the listing entry for a room still accepting joins.
func (r *Room) summaryIfWaiting() (RoomSummary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.status != StatusWaiting {
		return RoomSummary{}, false
	}
	return RoomSummary{
		Code:         r.code,
		MaxHumans:    r.maxHumans,
		TotalPlayers: r.totalPlayers,
		Humans:       len(r.humansLocked()),
		CreatedAt:    r.createdAt,
	}, true
}

// --- State helpers (callers hold r.mu) ---

func (r *Room) humansLocked() []*types.Player {
	var humans []*types.Player
	for _, p := range r.players {
		if p.Kind == types.KindHuman {
			humans = append(humans, p)
		}
	}
	return humans
}

func (r *Room) aliveLocked(kind types.PlayerKind) int {
	n := 0
	for _, p := range r.players {
		if p.Kind == kind && !p.Eliminated {
			n++
		}
	}
	return n
}

// appendMessageLocked appends to the log, keeping timestamps strictly
// increasing within the room.
func (r *Room) appendMessageLocked(sender, text string) types.Message {
	now := time.Now()
	if !now.After(r.lastMsgAt) {
		now = r.lastMsgAt.Add(time.Nanosecond)
	}
	r.lastMsgAt = now

	msg := types.Message{
		Sender:    sender,
		Text:      text,
		Timestamp: now,
		Round:     r.round,
	}
	r.messages = append(r.messages, msg)
	return msg
}

// --- Termination ---

// Terminate ends the room immediately: timers stop, a terminal event is
// emitted, the bus closes once drained. Idempotent.
func (r *Room) Terminate(reason string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	logging.Info(context.Background(), "Terminating room",
		zap.String("room_code", string(r.code)), zap.String("reason", reason))

	r.status = StatusEnded
	r.phase = types.PhaseEnded
	r.stopTimersLocked()
	r.enqueueLocked(outboxEvent{types.EventRoomTerminated, types.PhasePayload{Phase: types.PhaseEnded, Round: r.round}})
	r.closed = true
	close(r.outbox)
	r.mu.Unlock()

	metrics.RoomHumans.DeleteLabelValues(string(r.code))
}

// WaitClosed blocks until the outbox has drained and the bus has closed.
func (r *Room) WaitClosed(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Room) stopTimersLocked() {
	r.timerGen++
	if r.phaseTimer != nil {
		r.phaseTimer.Stop()
		r.phaseTimer = nil
	}
	if r.idleTimer != nil {
		r.idleTimer.Stop()
		r.idleTimer = nil
	}
}
