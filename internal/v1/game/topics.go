package game

import (
	"math/rand"
	"sync"
)

// defaultTopics seeds discussion rounds when no topic source is injected.
// Prompts are deliberately mundane: the game works best when everyone can
// plausibly have an opinion.
var defaultTopics = []string{
	"What's the most overrated food everyone pretends to like?",
	"If you could instantly master one skill, what would it be?",
	"What's a movie you can rewatch endlessly without getting bored?",
	"Describe your worst travel experience.",
	"What small habit of other people drives you up the wall?",
	"What's the best purchase under $50 you've ever made?",
	"If you had to live in another decade, which one and why?",
	"What's a hill you're willing to die on?",
	"What did you want to be when you were ten years old?",
	"What's the strangest thing you believed as a kid?",
	"Coffee or tea, and what does the other side get wrong?",
	"What's a sound or smell that instantly takes you back somewhere?",
}

// TopicSource yields the discussion prompt for a round. Injected per engine so
// tests can pin topics.
type TopicSource func(round int) string

// defaultTopicSource picks uniformly at random without repeating the previous
// pick back-to-back. One source is shared by every room on the engine, so the
// no-repeat state is guarded.
func defaultTopicSource() TopicSource {
	var mu sync.Mutex
	last := -1
	return func(round int) string {
		mu.Lock()
		defer mu.Unlock()
		for {
			i := rand.Intn(len(defaultTopics))
			if i != last || len(defaultTopics) == 1 {
				last = i
				return defaultTopics[i]
			}
		}
	}
}
