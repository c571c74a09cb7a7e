package game

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/turingden/find-the-ai/internal/v1/logging"
	"github.com/turingden/find-the-ai/internal/v1/metrics"
	"github.com/turingden/find-the-ai/internal/v1/stats"
	"github.com/turingden/find-the-ai/internal/v1/types"
)

// Winner labels for GameOver events and stats.
const (
	WinnerHumans = "humans"
	WinnerAI     = "ai"
)

// allVotesInLocked reports whether every human still present and alive has a
// ballot this round.
func (r *Room) allVotesInLocked() bool {
	voters := 0
	for _, p := range r.players {
		if p.Kind == types.KindHuman && !p.Eliminated && p.LeftAt.IsZero() {
			voters++
		}
	}
	return voters > 0 && len(r.votes) >= voters
}

// resolveVotesLocked tallies the round, applies the elimination, and either
// ends the game or opens the next round. Ties break to the smallest player
// number so the outcome is deterministic.
func (r *Room) resolveVotesLocked() error {
	totals := make(map[types.PlayerID]int, len(r.votes))
	for _, target := range r.votes {
		totals[target]++
	}

	var loser *types.Player
	loserVotes := 0
	for id, n := range totals {
		p := r.byID[id]
		if p == nil || p.Eliminated {
			continue
		}
		if n > loserVotes || (n == loserVotes && loser != nil && p.Number < loser.Number) {
			loser, loserVotes = p, n
		}
	}

	if loser == nil {
		r.enqueueLocked(outboxEvent{types.EventNoElimination, types.PhasePayload{Phase: types.PhaseVoting, Round: r.round}})
		// Ballots may exist yet name only players who already left the game.
		text := "Nobody was eliminated this round."
		if len(r.votes) == 0 {
			text = "No votes were cast. Nobody is eliminated this round."
		}
		msg := r.appendMessageLocked(types.SystemSender, text)
		r.enqueueLocked(outboxEvent{types.EventMessage, msg})
	} else {
		loser.Eliminated = true
		r.eliminated = append(r.eliminated, loser.ID)
		r.processing.Delete(loser.ID)
		r.enqueueLocked(
			outboxEvent{types.EventElimination, types.EliminationPayload{PlayerID: loser.ID, Kind: loser.Kind, Votes: loserVotes, Round: r.round}},
			outboxEvent{types.EventPlayerList, r.playerListLocked()},
		)
		msg := r.appendMessageLocked(types.SystemSender,
			fmt.Sprintf("%s was eliminated with %d vote(s). They were %s.", loser.ID, loserVotes, describeKind(loser.Kind)))
		r.enqueueLocked(outboxEvent{types.EventMessage, msg})
	}

	if winner, over := r.winnerLocked(loser); over {
		r.endGameLocked(winner)
		return nil
	}

	r.startRoundLocked(r.round + 1)
	return nil
}

func describeKind(k types.PlayerKind) string {
	if k == types.KindAI {
		return "an AI"
	}
	return "a human"
}

// winnerLocked evaluates the win conditions after the round's elimination.
// elim is nil when nobody was eliminated.
func (r *Room) winnerLocked(elim *types.Player) (string, bool) {
	if r.aliveLocked(types.KindHuman) == 0 {
		return WinnerAI, true
	}
	if !r.opts.StrictSurvival && elim != nil && elim.Kind == types.KindAI && r.round >= r.opts.RoundsToWin {
		return WinnerHumans, true
	}
	// Humans win by surviving through the configured number of rounds.
	if r.round >= r.opts.RoundsToWin {
		return WinnerHumans, true
	}
	return "", false
}

// endGameLocked marks the game over and stages the stats record. The registry
// removal and stats flush happen after the lock is released, in finishGame.
func (r *Room) endGameLocked(winner string) {
	r.status = StatusEnded
	r.phase = types.PhaseEnded
	r.stopTimersLocked()

	r.enqueueLocked(outboxEvent{types.EventGameOver, types.GameOverPayload{
		Winner: winner,
		Rounds: r.round,
		Roster: r.playerListLocked(),
	}})
	metrics.GamesTotal.WithLabelValues(winner).Inc()

	rec := r.statsRecordLocked(winner)
	r.finalStats = &rec
}

// finishGame runs the post-GameOver teardown outside the room lock: deregister,
// flush stats, then emit the terminal event and close the bus.
func (r *Room) finishGame() {
	r.deps.remove(r.code)
	r.flushStats()
	r.Terminate("game over")
}

// flushStats writes the staged record, retrying briefly on I/O failure. A game
// that cannot persist its record still terminates; the loss is logged.
func (r *Room) flushStats() {
	r.mu.Lock()
	rec := r.finalStats
	r.mu.Unlock()
	if rec == nil {
		return
	}

	const retries = 3
	var err error
	for attempt := 0; attempt < retries; attempt++ {
		if err = r.deps.writeStats(*rec); err == nil {
			return
		}
		logging.Warn(context.Background(), "Stats flush failed, retrying",
			zap.String("room_code", string(r.code)), zap.Int("attempt", attempt+1), zap.Error(err))
		time.Sleep(time.Second)
	}
	logging.Error(context.Background(), "Dropping stats record after repeated flush failures",
		zap.String("room_code", string(r.code)), zap.Error(err))
}

func (r *Room) statsRecordLocked(winner string) stats.Record {
	rec := stats.Record{
		RoomCode:     string(r.code),
		MaxHumans:    r.maxHumans,
		TotalPlayers: r.totalPlayers,
		Topics:       append([]string(nil), r.roundTopics...),
		StartedAt:    r.startedAt,
		EndedAt:      time.Now(),
		Ballots:      append([]stats.Ballot(nil), r.ballots...),
		VoteTotals:   make(map[string]int),
		Winner:       winner,
		Rounds:       r.round,
	}

	for _, p := range r.players {
		rec.Players = append(rec.Players, stats.PlayerRecord{
			ID:         string(p.ID),
			Number:     p.Number,
			Kind:       string(p.Kind),
			Eliminated: p.Eliminated,
		})
	}
	for _, m := range r.messages {
		rec.Messages = append(rec.Messages, stats.MessageRecord{
			Sender:    m.Sender,
			Text:      m.Text,
			Timestamp: m.Timestamp,
			Round:     m.Round,
		})
	}
	for _, b := range r.ballots {
		rec.VoteTotals[b.Target]++
	}
	for _, id := range r.eliminated {
		rec.Eliminated = append(rec.Eliminated, string(id))
	}
	return rec
}
