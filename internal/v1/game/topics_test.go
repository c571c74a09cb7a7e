package game

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTopicSource_NoImmediateRepeats(t *testing.T) {
	src := defaultTopicSource()

	prev := src(1)
	require.NotEmpty(t, prev)
	for round := 2; round <= 100; round++ {
		topic := src(round)
		assert.NotEmpty(t, topic)
		assert.NotEqual(t, prev, topic, "back-to-back rounds must not share a topic")
		prev = topic
	}
}

func TestDefaultTopicSource_SafeAcrossRooms(t *testing.T) {
	// One source serves every room on the engine, so rounds starting in
	// different rooms pull topics concurrently.
	src := defaultTopicSource()

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for round := 1; round <= 1000; round++ {
				if src(round) == "" {
					t.Error("topic source returned an empty prompt")
					return
				}
			}
		}()
	}
	wg.Wait()
}
