package game

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/turingden/find-the-ai/internal/v1/logging"
	"github.com/turingden/find-the-ai/internal/v1/metrics"
	"github.com/turingden/find-the-ai/internal/v1/types"
)

// TriggerAgents runs one scheduling cycle: decide which AI seats respond to
// the current conversation, then generate their replies on the worker pool.
//
// The cycle owns triggerMu for its full duration. A trigger that arrives while
// another is running is dropped, not queued: the running cycle already
// considers every agent eligible at this moment, so a second concurrent cycle
// could only duplicate work.
func (r *Room) TriggerAgents(ctx context.Context) {
	if !r.triggerMu.TryLock() {
		metrics.TriggerDrops.Inc()
		return
	}
	defer r.triggerMu.Unlock()

	sc, candidates, sinceSelf := r.snapshotCycle()
	if len(candidates) == 0 {
		return
	}

	// Probes run in parallel, each under its own deadline. A probe that errors
	// or times out counts as a no.
	wants := make([]bool, len(candidates))
	var probeWG sync.WaitGroup
	for i, pol := range candidates {
		probeWG.Add(1)
		go func(i int, pol types.Policy) {
			defer probeWG.Done()
			pctx, cancel := context.WithTimeout(ctx, r.opts.ProbeTimeout)
			defer cancel()
			psc := sc
			psc.SinceLastSelf = sinceSelf[i]
			wants[i] = pol.ShouldRespond(pctx, psc)
		}(i, pol)
	}
	probeWG.Wait()

	// At most half the table speaks per cycle so one message can never set off
	// an avalanche of replies.
	maxSpeakers := (r.totalPlayers + 1) / 2
	speakers := 0

	var genWG sync.WaitGroup
	for i, pol := range candidates {
		if !wants[i] || speakers >= maxSpeakers {
			continue
		}
		id := pol.PlayerID()
		if !r.markProcessing(id) {
			continue
		}
		speakers++

		genWG.Add(1)
		pol := pol
		ok := r.deps.pool.Submit(ctx, func() {
			defer genWG.Done()
			r.generate(ctx, pol, sc)
		})
		if !ok {
			genWG.Done()
			r.clearProcessing(id)
		}
	}
	genWG.Wait()
}

// snapshotCycle copies everything a cycle needs under one brief lock hold.
func (r *Room) snapshotCycle() (types.SpeakContext, []types.Policy, []time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.phase != types.PhaseDiscussion {
		return types.SpeakContext{}, nil, nil
	}

	msgs := r.messages
	if len(msgs) > r.opts.SnapshotWindow {
		msgs = msgs[len(msgs)-r.opts.SnapshotWindow:]
	}
	recent := make([]types.Message, len(msgs))
	copy(recent, msgs)

	sc := types.SpeakContext{
		Topic:  r.topic,
		Round:  r.round,
		Recent: recent,
	}
	if len(recent) > 0 {
		sc.LastSpeaker = recent[len(recent)-1].Sender
	}

	var candidates []types.Policy
	var sinceSelf []time.Duration
	for _, p := range r.players {
		if p.Kind != types.KindAI || p.Eliminated || r.processing.Has(p.ID) {
			continue
		}
		pol, ok := r.policies[p.ID]
		if !ok {
			continue
		}
		candidates = append(candidates, pol)
		if last, spoke := r.lastSpoke[p.ID]; spoke {
			sinceSelf = append(sinceSelf, time.Since(last))
		} else {
			sinceSelf = append(sinceSelf, -1)
		}
	}
	return sc, candidates, sinceSelf
}

// markProcessing claims an agent for this cycle and announces typing. Returns
// false if the room moved on or the agent is no longer eligible.
func (r *Room) markProcessing(id types.PlayerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.phase != types.PhaseDiscussion {
		return false
	}
	p := r.byID[id]
	if p == nil || p.Eliminated || r.processing.Has(id) {
		return false
	}
	r.processing.Insert(id)
	r.enqueueLocked(outboxEvent{types.EventTyping, types.PlayerEventPayload{PlayerID: id}})
	return true
}

func (r *Room) clearProcessing(id types.PlayerID) {
	r.mu.Lock()
	r.processing.Delete(id)
	r.mu.Unlock()
}

// generate runs on the worker pool: produce the utterance, then re-validate
// the room before appending. A reply that lands after the phase or round moved
// on is discarded.
func (r *Room) generate(ctx context.Context, pol types.Policy, sc types.SpeakContext) {
	id := pol.PlayerID()
	defer r.clearProcessing(id)

	metrics.GenerationsInFlight.Inc()
	defer metrics.GenerationsInFlight.Dec()

	gctx, cancel := context.WithTimeout(ctx, r.opts.GenerateTimeout)
	defer cancel()

	text, err := pol.Generate(gctx, sc)
	if err != nil {
		logging.Warn(gctx, "Agent generation failed, skipping turn",
			zap.String("room_code", string(r.code)), zap.String("player_id", string(id)), zap.Error(err))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.phase != types.PhaseDiscussion || r.round != sc.Round {
		return
	}
	p := r.byID[id]
	if p == nil || p.Eliminated {
		return
	}

	msg := r.appendMessageLocked(string(id), text)
	r.lastSpoke[id] = msg.Timestamp
	r.enqueueLocked(outboxEvent{types.EventMessage, msg})
	metrics.MessagesTotal.WithLabelValues("ai").Inc()
}
