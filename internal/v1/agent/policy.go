// Package agent implements the per-agent policy: a cheap "should I speak now?"
// probe and a "speak" generator, both backed by the LLM client. The engine
// treats both as opaque calls with deadlines; failures mean the agent stays
// silent for the cycle.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/turingden/find-the-ai/internal/v1/logging"
	"github.com/turingden/find-the-ai/internal/v1/types"
)

// Options tune a policy's throttling and output limits.
type Options struct {
	MinSpacing        time.Duration // minimum gap between this agent's messages
	MaxUtteranceChars int           // hard cap on generated reply length
	ProbeMaxTokens    int
	SpeakMaxTokens    int
}

// DefaultOptions match the engine defaults.
func DefaultOptions() Options {
	return Options{
		MinSpacing:        4 * time.Second,
		MaxUtteranceChars: 280,
		ProbeMaxTokens:    8,
		SpeakMaxTokens:    120,
	}
}

// Policy drives one AI seat. It is immutable after construction and safe for
// concurrent use; all mutable scheduling state lives in the room.
type Policy struct {
	playerID  types.PlayerID
	persona   Persona
	completer types.Completer
	opts      Options
}

// NewPolicy builds the policy for one AI seat.
func NewPolicy(playerID types.PlayerID, persona Persona, completer types.Completer, opts Options) *Policy {
	if opts.MaxUtteranceChars <= 0 {
		opts = DefaultOptions()
	}
	return &Policy{
		playerID:  playerID,
		persona:   persona,
		completer: completer,
		opts:      opts,
	}
}

// PlayerID returns the seat this policy speaks for.
func (p *Policy) PlayerID() types.PlayerID {
	return p.playerID
}

// ShouldRespond decides whether the agent wants to speak right now.
// The spacing rule is enforced here so a single agent cannot monopolize the
// room: too-recent speakers decline without an LLM call.
func (p *Policy) ShouldRespond(ctx context.Context, sc types.SpeakContext) bool {
	if sc.SinceLastSelf >= 0 && sc.SinceLastSelf < p.opts.MinSpacing {
		return false
	}
	// Never respond to your own last message.
	if sc.LastSpeaker == string(p.playerID) {
		return false
	}

	out, err := p.completer.Complete(ctx, p.probeSystem(), p.probePrompt(sc), p.opts.ProbeMaxTokens)
	if err != nil {
		logging.Warn(ctx, "Agent probe failed, staying silent",
			zap.String("player_id", string(p.playerID)), zap.Error(err))
		return false
	}

	return parseYes(out)
}

// Generate produces one chat utterance in the persona's voice.
func (p *Policy) Generate(ctx context.Context, sc types.SpeakContext) (string, error) {
	out, err := p.completer.Complete(ctx, p.speakSystem(), p.speakPrompt(sc), p.opts.SpeakMaxTokens)
	if err != nil {
		return "", err
	}

	out = sanitizeUtterance(out)
	if out == "" {
		return "", fmt.Errorf("agent %s produced an empty reply", p.playerID)
	}
	if len(out) > p.opts.MaxUtteranceChars {
		out = clipAtWord(out, p.opts.MaxUtteranceChars)
	}
	return out, nil
}

func (p *Policy) probeSystem() string {
	return "You decide whether a chat participant should reply to the latest message. Answer with exactly YES or NO."
}

func (p *Policy) probePrompt(sc types.SpeakContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %q in a casual group chat about: %s\n", p.playerID, sc.Topic)
	fmt.Fprintf(&b, "The last speaker was %s.\n", sc.LastSpeaker)
	b.WriteString("Recent messages:\n")
	writeTranscript(&b, sc.Recent)
	b.WriteString("\nWould this person naturally jump in right now? Most people stay quiet most of the time. Answer YES or NO.")
	return b.String()
}

func (p *Policy) speakSystem() string {
	return fmt.Sprintf(
		"You are playing %q, %s, in a group chat. Writing style: %s. "+
			"Stay fully in character. You are a regular human participant; never mention "+
			"AI, language models, or assistants. Reply with a single short chat message "+
			"of at most %d characters and nothing else.",
		p.playerID, p.persona.Description, p.persona.Style, p.opts.MaxUtteranceChars)
}

func (p *Policy) speakPrompt(sc types.SpeakContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Round %d topic: %s\n", sc.Round, sc.Topic)
	b.WriteString("Recent messages:\n")
	writeTranscript(&b, sc.Recent)
	b.WriteString("\nWrite your next message.")
	return b.String()
}

func writeTranscript(b *strings.Builder, msgs []types.Message) {
	if len(msgs) == 0 {
		b.WriteString("(no messages yet)\n")
		return
	}
	for _, m := range msgs {
		fmt.Fprintf(b, "%s: %s\n", m.Sender, m.Text)
	}
}

// parseYes accepts the probe output leniently; anything that doesn't clearly
// start with yes is a no.
func parseYes(out string) bool {
	out = strings.ToLower(strings.TrimSpace(out))
	out = strings.Trim(out, `."'!`)
	return out == "yes" || strings.HasPrefix(out, "yes")
}

// sanitizeUtterance strips quoting and speaker prefixes models like to add.
func sanitizeUtterance(out string) string {
	out = strings.TrimSpace(out)
	out = strings.Trim(out, `"`)
	// Drop a leading "Player N:" echo if present.
	if idx := strings.Index(out, ":"); idx > 0 && idx < 12 && strings.HasPrefix(out, "Player ") {
		out = strings.TrimSpace(out[idx+1:])
	}
	return out
}

// clipAtWord truncates to at most n bytes, preferring a word boundary and
// never splitting a rune.
func clipAtWord(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	clipped := s[:n]
	if idx := strings.LastIndexByte(clipped, ' '); idx > n/2 {
		clipped = clipped[:idx]
	}
	return strings.TrimSpace(clipped)
}
