package game

import (
	"math/rand"
	"sort"

	"github.com/turingden/find-the-ai/internal/v1/types"
)

// seedPlayers assigns seat numbers at creation time. Numbers 1..totalPlayers
// are shuffled, AI seats take the first totalPlayers-maxHumans of them and the
// rest form the pool handed out to humans as they join. The shuffle means seat
// numbers carry no information about who is human.
func (r *Room) seedPlayers() {
	numbers := rand.Perm(r.totalPlayers) // 0-based
	aiCount := r.totalPlayers - r.maxHumans

	for i := 0; i < aiCount; i++ {
		num := numbers[i] + 1
		id := types.MakePlayerID(num)
		policy := r.deps.newPolicy(id, i)
		p := &types.Player{
			ID:     id,
			Number: num,
			Kind:   types.KindAI,
		}
		r.players = append(r.players, p)
		r.byID[id] = p
		r.policies[id] = policy
	}

	for i := aiCount; i < r.totalPlayers; i++ {
		r.available.Insert(numbers[i] + 1)
	}

	r.sortPlayersLocked()
}

// claimNumberLocked pops the smallest free human seat number.
func (r *Room) claimNumberLocked() (int, bool) {
	if r.available.Len() == 0 {
		return 0, false
	}
	nums := r.available.SortedList()
	n := nums[0]
	r.available.Delete(n)
	return n, true
}

// releaseNumberLocked returns a departed human's seat number to the pool.
func (r *Room) releaseNumberLocked(n int) {
	r.available.Insert(n)
}

// sortPlayersLocked keeps the roster ordered by seat number so every list and
// snapshot renders identically.
func (r *Room) sortPlayersLocked() {
	sort.Slice(r.players, func(i, j int) bool {
		return r.players[i].Number < r.players[j].Number
	})
}
