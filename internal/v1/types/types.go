package types

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// --- Core Domain Types ---

// RoomCode is the 6-character uppercase alphanumeric room identifier.
type RoomCode string

// PlayerID is the human-readable player identifier, "Player N".
type PlayerID string

// PlayerKind distinguishes human seats from AI seats.
type PlayerKind string

// Phase is the room lifecycle sub-state.
type Phase string

const (
	KindHuman PlayerKind = "human"
	KindAI    PlayerKind = "ai"
)

const (
	PhaseWaiting    Phase = "waiting"
	PhaseDiscussion Phase = "discussion"
	PhaseVoting     Phase = "voting"
	PhaseEnded      Phase = "ended"
)

// SystemSender is the sender attributed to engine-generated messages.
const SystemSender = "System"

// MakePlayerID formats the canonical player id for a seat number.
func MakePlayerID(number int) PlayerID {
	return PlayerID(fmt.Sprintf("Player %d", number))
}

// Player is one seat in a room.
type Player struct {
	ID         PlayerID   `json:"id"`
	Number     int        `json:"number"`
	Kind       PlayerKind `json:"kind"`
	Eliminated bool       `json:"eliminated"`
	Persona    string     `json:"-"` // AI only; never exposed on the wire
	JoinedAt   time.Time  `json:"joinedAt,omitempty"`
	LeftAt     time.Time  `json:"leftAt,omitempty"`
}

// Message is one chat entry in a room's append-only log.
type Message struct {
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Round     int       `json:"round"`
}

// Validate ensures a message is safe to append.
func (m Message) Validate() error {
	if strings.TrimSpace(m.Text) == "" {
		return errors.New("message text cannot be empty")
	}
	if len(m.Text) > 2000 {
		return errors.New("message text cannot exceed 2000 characters")
	}
	if m.Sender == "" {
		return errors.New("message sender cannot be empty")
	}
	return nil
}

// --- Event Model ---

// EventKind names one broadcast event. Transports may rename on their own wire.
type EventKind string

const (
	EventSnapshot       EventKind = "snapshot"
	EventPlayerJoined   EventKind = "player_joined"
	EventPlayerLeft     EventKind = "player_left"
	EventPlayerList     EventKind = "player_list"
	EventPhaseChanged   EventKind = "phase_changed"
	EventTopic          EventKind = "topic"
	EventMessage        EventKind = "message"
	EventTyping         EventKind = "typing"
	EventVoteCast       EventKind = "vote_cast"
	EventNoElimination  EventKind = "no_elimination"
	EventElimination    EventKind = "elimination"
	EventNewRound       EventKind = "new_round"
	EventGameOver       EventKind = "game_over"
	EventRoomTerminated EventKind = "room_terminated"
)

// Event is the ordered envelope delivered to every subscriber of a room's bus.
// Seq is assigned by the bus and is strictly increasing per room.
type Event struct {
	Seq     uint64    `json:"seq"`
	Kind    EventKind `json:"kind"`
	Payload any       `json:"payload,omitempty"`
}

// SnapshotPayload carries enough state for a late subscriber to render the room.
type SnapshotPayload struct {
	Code     RoomCode  `json:"code"`
	Status   string    `json:"status"`
	Phase    Phase     `json:"phase"`
	Round    int       `json:"round"`
	Topic    string    `json:"topic"`
	Players  []Player  `json:"players"`
	Messages []Message `json:"messages"`
}

// PlayerEventPayload identifies the player a join/leave/typing event concerns.
type PlayerEventPayload struct {
	PlayerID PlayerID `json:"playerId"`
	Number   int      `json:"number,omitempty"`
}

// PhasePayload announces a phase transition.
type PhasePayload struct {
	Phase    Phase `json:"phase"`
	Round    int   `json:"round"`
	Deadline int64 `json:"deadline,omitempty"` // unix seconds when the phase timer fires
}

// TopicPayload carries the current discussion prompt.
type TopicPayload struct {
	Topic string `json:"topic"`
	Round int    `json:"round"`
}

// VotePayload announces a cast ballot. Target is included; UIs decide visibility.
type VotePayload struct {
	Voter  PlayerID `json:"voter"`
	Target PlayerID `json:"target"`
	Round  int      `json:"round"`
}

// EliminationPayload names the eliminated player and their revealed kind.
type EliminationPayload struct {
	PlayerID PlayerID   `json:"playerId"`
	Kind     PlayerKind `json:"kind"`
	Votes    int        `json:"votes"`
	Round    int        `json:"round"`
}

// GameOverPayload reveals all roles and the winner.
type GameOverPayload struct {
	Winner string   `json:"winner"` // "humans" or "ai"
	Rounds int      `json:"rounds"`
	Roster []Player `json:"roster"`
}

// --- Shared Interfaces ---

// Subscription is a live attachment to a room's event stream. Events arrive in
// bus order; the channel closes when the subscriber is dropped or the room ends.
type Subscription interface {
	Events() <-chan Event
	Close()
}

// Broadcaster is the per-room ordered fan-out contract the orchestrator emits
// into. Subscribe calls the snapshot builder inside the bus's critical section
// so no event published concurrently can fall between the snapshot and the
// live stream.
type Broadcaster interface {
	Publish(kind EventKind, payload any)
	Subscribe(snapshot func() SnapshotPayload) Subscription
	Close()
}

// Completer abstracts text generation. Implementations must be safe for
// concurrent use from worker pool goroutines.
type Completer interface {
	Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error)
}

// SpeakContext is the conversational context handed to an agent policy.
type SpeakContext struct {
	Topic         string
	Round         int
	Recent        []Message
	LastSpeaker   string
	SinceLastSelf time.Duration
}

// Policy is the per-agent decision surface: a cheap probe plus a generator.
type Policy interface {
	PlayerID() PlayerID
	ShouldRespond(ctx context.Context, sc SpeakContext) bool
	Generate(ctx context.Context, sc SpeakContext) (string, error)
}
