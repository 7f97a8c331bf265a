package game_test

import (
	"math/rand"
	"reflect"
	"testing"

	"github.com/DilaverShtini/nomi-cose-citta/internal/game"
)

func TestLetterGame_Content(t *testing.T) {
	g := game.NewLetterGame(rand.NewSource(1))
	players := []string{"Alice", "Bob"}

	content := g.RoundContent(1, players)
	if content["round"] != 1 {
		t.Fatalf("round missing from content: %v", content)
	}
	letter, ok := content["letter"].(string)
	if !ok || len([]rune(letter)) != 1 {
		t.Fatalf("bad letter: %v", content["letter"])
	}
	if !reflect.DeepEqual(content["categories"], game.DefaultCategories) {
		t.Fatalf("categories missing: %v", content["categories"])
	}
}

func TestLetterGame_DeterministicWithSeed(t *testing.T) {
	a := game.NewLetterGame(rand.NewSource(42))
	b := game.NewLetterGame(rand.NewSource(42))
	for i := 1; i <= 10; i++ {
		la := a.RoundContent(i, nil)["letter"]
		lb := b.RoundContent(i, nil)["letter"]
		if la != lb {
			t.Fatalf("same seed diverged at round %d: %v vs %v", i, la, lb)
		}
	}
}

func TestVoteCount_PointsPerVote(t *testing.T) {
	tally := game.VoteCount{}
	result := tally.Tally(
		[]string{"Alice", "Bob", "Carol"},
		map[string]string{"Alice": "Bob", "Bob": "Carol", "Carol": "Bob"},
	)

	want := map[string]int{"Alice": 0, "Bob": 2, "Carol": 1}
	if !reflect.DeepEqual(result.Points, want) {
		t.Fatalf("points: got %v want %v", result.Points, want)
	}
	if !reflect.DeepEqual(result.Order, []string{"Bob", "Carol", "Alice"}) {
		t.Fatalf("order: got %v", result.Order)
	}
}

func TestVoteCount_TieGoesToEarlierSubmitter(t *testing.T) {
	tally := game.VoteCount{}
	result := tally.Tally(
		[]string{"Bob", "Alice"},
		map[string]string{"Alice": "Bob", "Bob": "Alice"},
	)

	if !reflect.DeepEqual(result.Order, []string{"Bob", "Alice"}) {
		t.Fatalf("tie break wrong: %v", result.Order)
	}
}

func TestVoteCount_VoteForDepartedPlayerIgnored(t *testing.T) {
	tally := game.VoteCount{}
	result := tally.Tally(
		[]string{"Alice", "Bob"},
		map[string]string{"Alice": "Ghost", "Bob": "Alice"},
	)

	if result.Points["Alice"] != 1 || result.Points["Bob"] != 0 {
		t.Fatalf("unexpected points: %v", result.Points)
	}
	if _, ok := result.Points["Ghost"]; ok {
		t.Fatalf("departed player scored: %v", result.Points)
	}
}
