package game

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/turingden/find-the-ai/internal/v1/logging"
	"github.com/turingden/find-the-ai/internal/v1/types"
)

// startGameLocked fires when the final human seat fills.
func (r *Room) startGameLocked() {
	r.status = StatusInProgress
	r.startedAt = time.Now()
	r.startRoundLocked(1)
}

// startRoundLocked opens a discussion round: topic, announcements, timers.
func (r *Room) startRoundLocked(round int) {
	r.round = round
	r.phase = types.PhaseDiscussion
	r.topic = r.deps.topics(round)
	r.roundTopics = append(r.roundTopics, r.topic)
	r.votes = make(map[types.PlayerID]types.PlayerID)

	deadline := time.Now().Add(r.opts.DiscussionTimeout)
	if round > 1 {
		r.enqueueLocked(outboxEvent{types.EventNewRound, types.PhasePayload{Phase: types.PhaseDiscussion, Round: round}})
	}
	r.enqueueLocked(
		outboxEvent{types.EventPhaseChanged, types.PhasePayload{Phase: types.PhaseDiscussion, Round: round, Deadline: deadline.Unix()}},
		outboxEvent{types.EventTopic, types.TopicPayload{Topic: r.topic, Round: round}},
	)
	msg := r.appendMessageLocked(types.SystemSender, fmt.Sprintf("Round %d. Topic: %s", round, r.topic))
	r.enqueueLocked(outboxEvent{types.EventMessage, msg})

	r.armPhaseTimerLocked(r.opts.DiscussionTimeout, r.discussionExpired)
	r.armIdleTimerLocked()
}

// beginVotingLocked closes discussion and opens the ballot.
func (r *Room) beginVotingLocked() error {
	r.phase = types.PhaseVoting
	if r.idleTimer != nil {
		r.idleTimer.Stop()
		r.idleTimer = nil
	}

	deadline := time.Now().Add(r.opts.VotingTimeout)
	msg := r.appendMessageLocked(types.SystemSender, "Discussion is over. Vote for the player you think is an AI.")
	r.enqueueLocked(
		outboxEvent{types.EventMessage, msg},
		outboxEvent{types.EventPhaseChanged, types.PhasePayload{Phase: types.PhaseVoting, Round: r.round, Deadline: deadline.Unix()}},
	)
	r.armPhaseTimerLocked(r.opts.VotingTimeout, r.votingExpired)
	return nil
}

// --- Timers ---

// armPhaseTimerLocked schedules the single one-shot timer for the current
// phase. Bumping timerGen invalidates any callback already in flight.
func (r *Room) armPhaseTimerLocked(d time.Duration, fire func(gen int)) {
	r.timerGen++
	gen := r.timerGen
	if r.phaseTimer != nil {
		r.phaseTimer.Stop()
	}
	r.phaseTimer = time.AfterFunc(d, func() { fire(gen) })
}

func (r *Room) discussionExpired(gen int) {
	r.transition(gen, types.PhaseDiscussion, "discussion end", r.beginVotingLocked)
}

func (r *Room) votingExpired(gen int) {
	r.transition(gen, types.PhaseVoting, "vote resolution", r.resolveVotesLocked)
}

// transition is the timer callback skeleton: take the lock, recheck generation
// and phase so a late or cancelled timer is a no-op, then drive fn. A failing
// fn keeps the room in its previous phase and is retried shortly; persistent
// failure terminates the room rather than leaving it wedged.
func (r *Room) transition(gen int, want types.Phase, name string, fn func() error) {
	const retries = 3

	for attempt := 0; ; attempt++ {
		r.mu.Lock()
		if r.closed || gen != r.timerGen || r.phase != want {
			r.mu.Unlock()
			return
		}
		err := fn()
		ended := r.status == StatusEnded
		r.mu.Unlock()

		if err == nil {
			if ended {
				r.finishGame()
			}
			return
		}

		logging.Error(context.Background(), "Phase transition failed",
			zap.String("room_code", string(r.code)), zap.String("transition", name),
			zap.Int("attempt", attempt+1), zap.Error(err))
		if attempt+1 >= retries {
			r.deps.remove(r.code)
			r.Terminate("phase transition failed: " + name)
			return
		}
		time.Sleep(time.Second)
	}
}

// armIdleTimerLocked keeps agents talking when the humans go quiet: during
// discussion the scheduler fires periodically even with no new message.
func (r *Room) armIdleTimerLocked() {
	if r.opts.IdleTrigger <= 0 {
		return
	}
	if r.idleTimer != nil {
		r.idleTimer.Stop()
	}
	r.idleTimer = time.AfterFunc(r.opts.IdleTrigger, r.idleTick)
}

func (r *Room) idleTick() {
	r.mu.Lock()
	if r.closed || r.phase != types.PhaseDiscussion {
		r.mu.Unlock()
		return
	}
	r.armIdleTimerLocked()
	r.mu.Unlock()

	r.TriggerAgents(context.Background())
}
