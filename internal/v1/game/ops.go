package game

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/turingden/find-the-ai/internal/v1/logging"
	"github.com/turingden/find-the-ai/internal/v1/metrics"
	"github.com/turingden/find-the-ai/internal/v1/stats"
	"github.com/turingden/find-the-ai/internal/v1/types"
)

// User-facing room operations. Each takes the room lock, validates fully
// before mutating, queues its events under the lock, and returns quickly; no
// operation ever leaves the room half-updated.

// Join seats a human. The first human becomes the creator; seating the last
// one starts the game.
func (r *Room) Join(ctx context.Context) (types.Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.status == StatusEnded {
		return types.Player{}, ErrTerminated
	}
	if r.status != StatusWaiting {
		return types.Player{}, ErrAlreadyStarted
	}
	num, ok := r.claimNumberLocked()
	if !ok {
		return types.Player{}, ErrRoomFull
	}

	p := &types.Player{
		ID:       types.MakePlayerID(num),
		Number:   num,
		Kind:     types.KindHuman,
		JoinedAt: time.Now(),
	}
	r.players = append(r.players, p)
	r.byID[p.ID] = p
	r.sortPlayersLocked()
	if r.creator == "" {
		r.creator = p.ID
	}

	humans := len(r.humansLocked())
	metrics.RoomHumans.WithLabelValues(string(r.code)).Set(float64(humans))
	logging.Info(ctx, "Player joined room",
		zap.String("room_code", string(r.code)), zap.String("player_id", string(p.ID)))

	r.enqueueLocked(
		outboxEvent{types.EventPlayerJoined, types.PlayerEventPayload{PlayerID: p.ID, Number: p.Number}},
		outboxEvent{types.EventPlayerList, r.playerListLocked()},
	)

	if humans == r.maxHumans {
		r.startGameLocked()
	}
	return *p, nil
}

// Leave removes a human. The creator leaving, or the last human leaving,
// terminates the room. During a game the seat stays in the roster but is
// marked eliminated so nothing further is attributed to it.
func (r *Room) Leave(ctx context.Context, id types.PlayerID) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrTerminated
	}
	p, ok := r.byID[id]
	if !ok || p.Kind != types.KindHuman || !p.LeftAt.IsZero() {
		r.mu.Unlock()
		return ErrNotFound
	}

	terminate := id == r.creator
	reason := "creator left"
	ended := false

	if !terminate {
		if r.status == StatusWaiting {
			delete(r.byID, id)
			for i, q := range r.players {
				if q.ID == id {
					r.players = append(r.players[:i], r.players[i+1:]...)
					break
				}
			}
			r.releaseNumberLocked(p.Number)
		} else {
			p.LeftAt = time.Now()
			p.Eliminated = true
			delete(r.votes, id)
		}

		metrics.RoomHumans.WithLabelValues(string(r.code)).Set(float64(r.presentHumansLocked()))
		logging.Info(ctx, "Player left room",
			zap.String("room_code", string(r.code)), zap.String("player_id", string(id)))
		r.enqueueLocked(
			outboxEvent{types.EventPlayerLeft, types.PlayerEventPayload{PlayerID: id, Number: p.Number}},
			outboxEvent{types.EventPlayerList, r.playerListLocked()},
		)

		if r.presentHumansLocked() == 0 {
			terminate = true
			reason = "no humans remain"
		} else if r.phase == types.PhaseVoting && r.allVotesInLocked() {
			// The departed seat may have been the last ballot outstanding.
			r.timerGen++
			if err := r.resolveVotesLocked(); err != nil {
				logging.Error(ctx, "Vote resolution failed after leave",
					zap.String("room_code", string(r.code)), zap.Error(err))
			}
			ended = r.status == StatusEnded
		}
	}
	r.mu.Unlock()

	if terminate {
		r.deps.remove(r.code)
		r.Terminate(reason)
		return nil
	}
	if ended {
		r.finishGame()
	}
	return nil
}

// SendMessage appends a human chat message and pokes the agent scheduler.
func (r *Room) SendMessage(ctx context.Context, id types.PlayerID, text string) (types.Message, error) {
	text = strings.TrimSpace(text)

	r.mu.Lock()
	if r.closed || r.status == StatusEnded {
		r.mu.Unlock()
		return types.Message{}, ErrTerminated
	}
	if r.status != StatusInProgress || r.phase != types.PhaseDiscussion {
		r.mu.Unlock()
		return types.Message{}, ErrPhaseMismatch
	}
	p, ok := r.byID[id]
	if !ok || !p.LeftAt.IsZero() {
		r.mu.Unlock()
		return types.Message{}, ErrNotFound
	}
	if p.Eliminated {
		r.mu.Unlock()
		return types.Message{}, fmt.Errorf("%w: eliminated players cannot speak", ErrInvalidParams)
	}
	if err := (types.Message{Sender: string(id), Text: text}).Validate(); err != nil {
		r.mu.Unlock()
		return types.Message{}, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}

	msg := r.appendMessageLocked(string(id), text)
	r.enqueueLocked(outboxEvent{types.EventMessage, msg})
	metrics.MessagesTotal.WithLabelValues("human").Inc()
	r.mu.Unlock()

	// Scheduling happens off this goroutine so the call returns immediately
	// regardless of LLM latency.
	go r.TriggerAgents(context.WithoutCancel(ctx))

	return msg, nil
}

// Vote records one ballot. When the last outstanding ballot lands the voting
// timer is short-circuited and the round resolves immediately.
func (r *Room) Vote(ctx context.Context, voter, target types.PlayerID) error {
	r.mu.Lock()
	if r.closed || r.status == StatusEnded {
		r.mu.Unlock()
		return ErrTerminated
	}
	if r.status != StatusInProgress || r.phase != types.PhaseVoting {
		r.mu.Unlock()
		return ErrPhaseMismatch
	}
	v, ok := r.byID[voter]
	if !ok || !v.LeftAt.IsZero() {
		r.mu.Unlock()
		return ErrNotFound
	}
	if v.Eliminated {
		r.mu.Unlock()
		return fmt.Errorf("%w: eliminated players cannot vote", ErrInvalidParams)
	}
	t, ok := r.byID[target]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	if t.Eliminated || target == voter {
		r.mu.Unlock()
		return fmt.Errorf("%w: target must be another non-eliminated player", ErrInvalidParams)
	}
	if _, dup := r.votes[voter]; dup {
		r.mu.Unlock()
		return ErrAlreadyVoted
	}

	r.votes[voter] = target
	r.ballots = append(r.ballots, stats.Ballot{Round: r.round, Voter: string(voter), Target: string(target)})
	r.enqueueLocked(outboxEvent{types.EventVoteCast, types.VotePayload{Voter: voter, Target: target, Round: r.round}})

	ended := false
	if r.allVotesInLocked() {
		// Invalidate the pending voting timer before resolving.
		r.timerGen++
		if err := r.resolveVotesLocked(); err != nil {
			logging.Error(ctx, "Vote resolution failed",
				zap.String("room_code", string(r.code)), zap.Error(err))
		}
		ended = r.status == StatusEnded
	}
	r.mu.Unlock()

	if ended {
		r.finishGame()
	}
	return nil
}

func (r *Room) presentHumansLocked() int {
	n := 0
	for _, p := range r.players {
		if p.Kind == types.KindHuman && p.LeftAt.IsZero() {
			n++
		}
	}
	return n
}
