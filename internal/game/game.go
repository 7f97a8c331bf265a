// Package game holds the pluggable collaborators the room state machine
// calls into: round content generation and vote tallying. The state machine
// treats both as opaque; swapping the game out means swapping these.
package game

import (
	"math/rand"
	"sort"
)

// ContentProvider supplies the content broadcast at round start.
type ContentProvider interface {
	RoundContent(round int, players []string) map[string]any
}

// Result is a tally outcome: points per player this round, plus the ranking
// order (highest first, ties broken deterministically).
type Result struct {
	Points map[string]int
	Order  []string
}

// Tally turns the collected votes into a Result. submitOrder is the order in
// which players submitted during the round and is the tie-breaker.
type Tally interface {
	Tally(submitOrder []string, votes map[string]string) Result
}

// Letters eligible as round letters. Letters that are hard to play in
// Italian (J, K, W, X, Y) are left out.
var letters = []rune("ABCDEFGHILMNOPQRSTUVZ")

// DefaultCategories is the classic Nomi Cose Città category list.
var DefaultCategories = []string{"nomi", "cose", "città", "animali", "mestieri"}

// LetterGame is the default ContentProvider: a random letter plus a fixed
// category list per round.
type LetterGame struct {
	Categories []string
	rng        *rand.Rand
}

// NewLetterGame builds a provider drawing letters from src, which lets tests
// pin the sequence.
func NewLetterGame(src rand.Source) *LetterGame {
	return &LetterGame{
		Categories: DefaultCategories,
		rng:        rand.New(src),
	}
}

func (g *LetterGame) RoundContent(round int, players []string) map[string]any {
	return map[string]any{
		"round":      round,
		"letter":     string(letters[g.rng.Intn(len(letters))]),
		"categories": g.Categories,
		"players":    players,
	}
}

// VoteCount is the default Tally: one point per vote received. Ranking is by
// points descending; ties go to the player who submitted earlier.
type VoteCount struct{}

func (VoteCount) Tally(submitOrder []string, votes map[string]string) Result {
	points := make(map[string]int, len(submitOrder))
	for _, name := range submitOrder {
		points[name] = 0
	}
	for _, target := range votes {
		if _, ok := points[target]; ok {
			points[target]++
		}
	}

	rank := make(map[string]int, len(submitOrder))
	for i, name := range submitOrder {
		rank[name] = i
	}
	order := append([]string(nil), submitOrder...)
	sort.SliceStable(order, func(i, j int) bool {
		if points[order[i]] != points[order[j]] {
			return points[order[i]] > points[order[j]]
		}
		return rank[order[i]] < rank[order[j]]
	})

	return Result{Points: points, Order: order}
}
