// Package game implements the core orchestration: the room registry, per-room
// state machine, agent scheduling, vote tallying, and the event stream every
// transport subscribes to.
package game

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/turingden/find-the-ai/internal/v1/agent"
	"github.com/turingden/find-the-ai/internal/v1/bus"
	"github.com/turingden/find-the-ai/internal/v1/logging"
	"github.com/turingden/find-the-ai/internal/v1/metrics"
	"github.com/turingden/find-the-ai/internal/v1/stats"
	"github.com/turingden/find-the-ai/internal/v1/types"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const codeLength = 6

// EngineConfig carries the shared resources and limits for the orchestrator.
type EngineConfig struct {
	Rooms           Options
	MaxRooms        int
	MaxHumansCap    int
	TotalPlayersCap int
	Workers         int

	Completer types.Completer
	Agent     agent.Options
	Topics    TopicSource // nil means the built-in topic pool
	Stats     *stats.Writer
	Mirror    bus.Sink // nil disables mirroring
}

// Engine is the process-wide orchestrator: it owns the registry, the worker
// pool, and the shared LLM completer. All transports go through it.
type Engine struct {
	cfg  EngineConfig
	pool *WorkerPool

	mu     sync.RWMutex
	rooms  map[types.RoomCode]*Room
	closed bool
}

// RoomSummary is the listing entry for a joinable room.
type RoomSummary struct {
	Code         types.RoomCode `json:"code"`
	MaxHumans    int            `json:"maxHumans"`
	TotalPlayers int            `json:"totalPlayers"`
	Humans       int            `json:"humans"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// NewEngine builds the orchestrator and starts its worker pool.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.MaxRooms <= 0 {
		cfg.MaxRooms = 1024
	}
	if cfg.MaxHumansCap <= 0 {
		cfg.MaxHumansCap = 4
	}
	if cfg.TotalPlayersCap <= 0 {
		cfg.TotalPlayersCap = 12
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.Topics == nil {
		cfg.Topics = defaultTopicSource()
	}
	return &Engine{
		cfg:   cfg,
		pool:  NewWorkerPool(cfg.Workers),
		rooms: make(map[types.RoomCode]*Room),
	}
}

// CreateRoom allocates a room with a fresh code. The caller joins separately.
func (e *Engine) CreateRoom(ctx context.Context, maxHumans, totalPlayers int) (*Room, error) {
	if maxHumans < 1 || maxHumans > e.cfg.MaxHumansCap {
		return nil, fmt.Errorf("%w: maxHumans must be in [1, %d]", ErrInvalidParams, e.cfg.MaxHumansCap)
	}
	if totalPlayers <= maxHumans || totalPlayers > e.cfg.TotalPlayersCap {
		return nil, fmt.Errorf("%w: totalPlayers must be in (%d, %d]", ErrInvalidParams, maxHumans, e.cfg.TotalPlayersCap)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrTerminated
	}
	if len(e.rooms) >= e.cfg.MaxRooms {
		return nil, ErrCapacityExceeded
	}

	code, err := e.newCodeLocked()
	if err != nil {
		return nil, err
	}

	deps := roomDeps{
		pool:       e.pool,
		newPolicy:  e.newPolicy,
		topics:     e.cfg.Topics,
		remove:     e.removeRoom,
		writeStats: e.writeStats,
	}
	room := newRoom(code, maxHumans, totalPlayers, e.cfg.Rooms, bus.New(code, e.cfg.Rooms.BusBuffer, e.cfg.Mirror), deps)
	e.rooms[code] = room
	metrics.ActiveRooms.Set(float64(len(e.rooms)))

	logging.Info(ctx, "Room created",
		zap.String("room_code", string(code)),
		zap.Int("max_humans", maxHumans), zap.Int("total_players", totalPlayers))
	return room, nil
}

func (e *Engine) newPolicy(id types.PlayerID, aiIndex int) types.Policy {
	return agent.NewPolicy(id, agent.PersonaFor(aiIndex), e.cfg.Completer, e.cfg.Agent)
}

func (e *Engine) writeStats(rec stats.Record) error {
	path, err := e.cfg.Stats.Write(rec)
	if err != nil {
		return err
	}
	logging.Info(context.Background(), "Stats record written",
		zap.String("room_code", rec.RoomCode), zap.String("path", path))
	return nil
}

// newCodeLocked draws codes until one is unused. The space is 36^6; collisions
// at the room cap are vanishingly rare, the attempt bound is for safety.
func (e *Engine) newCodeLocked() (types.RoomCode, error) {
	buf := make([]byte, codeLength)
	for attempt := 0; attempt < 100; attempt++ {
		for i := range buf {
			buf[i] = codeAlphabet[rand.Intn(len(codeAlphabet))]
		}
		code := types.RoomCode(buf)
		if _, taken := e.rooms[code]; !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w: could not allocate a room code", ErrInternal)
}

// Room looks up a live room by code.
func (e *Engine) Room(code types.RoomCode) (*Room, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	room, ok := e.rooms[code]
	if !ok {
		return nil, ErrNotFound
	}
	return room, nil
}

// ListRooms pages through joinable (still waiting) rooms, oldest first.
func (e *Engine) ListRooms(page, perPage int) ([]RoomSummary, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	e.mu.RLock()
	rooms := make([]*Room, 0, len(e.rooms))
	for _, r := range e.rooms {
		rooms = append(rooms, r)
	}
	e.mu.RUnlock()

	var summaries []RoomSummary
	for _, r := range rooms {
		if s, ok := r.summaryIfWaiting(); ok {
			summaries = append(summaries, s)
		}
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.Before(summaries[j].CreatedAt)
	})

	totalPages := (len(summaries) + perPage - 1) / perPage
	start := (page - 1) * perPage
	if start >= len(summaries) {
		return []RoomSummary{}, totalPages
	}
	end := start + perPage
	if end > len(summaries) {
		end = len(summaries)
	}
	return summaries[start:end], totalPages
}

// DeleteRoom terminates and deregisters a room. Idempotent.
func (e *Engine) DeleteRoom(code types.RoomCode) {
	e.mu.Lock()
	room, ok := e.rooms[code]
	if ok {
		delete(e.rooms, code)
		metrics.ActiveRooms.Set(float64(len(e.rooms)))
	}
	e.mu.Unlock()

	if ok {
		room.Terminate("deleted")
	}
}

// removeRoom deregisters without terminating; rooms call it on their own
// termination paths where the terminal event is already handled.
func (e *Engine) removeRoom(code types.RoomCode) {
	e.mu.Lock()
	if _, ok := e.rooms[code]; ok {
		delete(e.rooms, code)
		metrics.ActiveRooms.Set(float64(len(e.rooms)))
	}
	e.mu.Unlock()
}

// --- Operation surface (transport adapters call these) ---

// Join seats a human in the room.
func (e *Engine) Join(ctx context.Context, code types.RoomCode) (types.Player, error) {
	room, err := e.Room(code)
	if err != nil {
		return types.Player{}, err
	}
	return room.Join(ctx)
}

// Leave removes a human from the room.
func (e *Engine) Leave(ctx context.Context, code types.RoomCode, player types.PlayerID) error {
	room, err := e.Room(code)
	if err != nil {
		return err
	}
	return room.Leave(ctx, player)
}

// SendMessage appends a human message during discussion.
func (e *Engine) SendMessage(ctx context.Context, code types.RoomCode, player types.PlayerID, text string) (types.Message, error) {
	room, err := e.Room(code)
	if err != nil {
		return types.Message{}, err
	}
	return room.SendMessage(ctx, player, text)
}

// Vote records a ballot during voting.
func (e *Engine) Vote(ctx context.Context, code types.RoomCode, voter, target types.PlayerID) error {
	room, err := e.Room(code)
	if err != nil {
		return err
	}
	return room.Vote(ctx, voter, target)
}

// Subscribe attaches to a room's event stream; the first event is a snapshot.
func (e *Engine) Subscribe(code types.RoomCode) (types.Subscription, error) {
	room, err := e.Room(code)
	if err != nil {
		return nil, err
	}
	return room.Subscribe(), nil
}

// Snapshot returns the room state for polling clients.
func (e *Engine) Snapshot(code types.RoomCode) (types.SnapshotPayload, error) {
	room, err := e.Room(code)
	if err != nil {
		return types.SnapshotPayload{}, err
	}
	return room.Snapshot(), nil
}

// Shutdown terminates every room, waits for their buses to drain, and stops
// the worker pool.
func (e *Engine) Shutdown(ctx context.Context) {
	e.mu.Lock()
	e.closed = true
	rooms := make([]*Room, 0, len(e.rooms))
	for _, r := range e.rooms {
		rooms = append(rooms, r)
	}
	e.rooms = make(map[types.RoomCode]*Room)
	metrics.ActiveRooms.Set(0)
	e.mu.Unlock()

	for _, r := range rooms {
		r.Terminate("server shutting down")
	}
	for _, r := range rooms {
		if err := r.WaitClosed(ctx); err != nil {
			logging.Warn(ctx, "Timed out waiting for room to drain",
				zap.String("room_code", string(r.Code())))
			break
		}
	}
	e.pool.Shutdown()
}
