package state

import (
	"log"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/DilaverShtini/nomi-cose-citta/internal/game"
	"github.com/DilaverShtini/nomi-cose-citta/internal/types"
	"github.com/DilaverShtini/nomi-cose-citta/pkg/protocol"
)

// RoomConfig tunes the phase machine.
type RoomConfig struct {
	// MinPlayers is the lobby start condition: the round begins as soon as
	// this many players have joined.
	MinPlayers int
	// Rounds per game; after the last one the room goes to game over.
	Rounds int
	// VoteTimeout closes the voting phase even if votes are missing.
	// Zero disables the timer.
	VoteTimeout time.Duration
	// RoundBreak is the pause between round end and the next round start.
	RoundBreak time.Duration
}

// Room is the single shared game-progress state machine for all connected
// players. It never touches connections: every outgoing event goes through
// the emit sink, and the roster is re-read from rosterFn at each round start.
// It records phase-relevant input and runs a transition check after each
// update; it never blocks waiting for input.
type Room struct {
	cfg      RoomConfig
	content  game.ContentProvider
	tally    game.Tally
	emit     func(*protocol.Envelope)
	rosterFn func() []string

	mu          sync.Mutex
	phase       types.Phase
	round       int
	roster      []string
	submissions map[string]any
	submitOrder []string
	votes       map[string]string
	scores      map[string]int
	lastContent map[string]any
	lastResults map[string]any
	voteTimer   *time.Timer
	breakTimer  *time.Timer
}

func NewRoom(cfg RoomConfig, content game.ContentProvider, tally game.Tally, rosterFn func() []string, emit func(*protocol.Envelope)) *Room {
	if cfg.MinPlayers < 2 {
		cfg.MinPlayers = 2
	}
	if cfg.Rounds < 1 {
		cfg.Rounds = 1
	}
	return &Room{
		cfg:      cfg,
		content:  content,
		tally:    tally,
		emit:     emit,
		rosterFn: rosterFn,
		phase:    types.PhaseLobby,
		scores:   make(map[string]int),
	}
}

// Phase returns the current phase.
func (r *Room) Phase() types.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Round returns the current round number, starting at 1. Zero means no round
// has started yet.
func (r *Room) Round() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.round
}

// Roster returns the players committed to the current round.
func (r *Room) Roster() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.roster...)
}

// MaybeStart runs the lobby start condition check. Called after every
// successful join.
func (r *Room) MaybeStart() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != types.PhaseLobby {
		return
	}
	roster := r.rosterFn()
	if len(roster) < r.cfg.MinPlayers {
		return
	}
	r.startRoundLocked(roster)
}

func (r *Room) startRoundLocked(roster []string) {
	r.round++
	r.phase = types.PhaseRoundActive
	r.roster = append([]string(nil), roster...)
	r.submissions = make(map[string]any)
	r.submitOrder = nil
	r.votes = make(map[string]string)

	r.lastContent = r.content.RoundContent(r.round, r.roster)
	log.Printf("[ROUND] round %d starting with %d players", r.round, len(r.roster))
	r.emit(protocol.NewServer(protocol.KindRoundStart, r.lastContent))
}

// HandleSubmit records one submission per roster member during the active
// round. Anything else is a phase mismatch: ignored and logged, never fatal.
func (r *Room) HandleSubmit(sender string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != types.PhaseRoundActive || !r.onRosterLocked(sender) {
		log.Printf("[PHASE] ignoring submit from %q in phase %s", sender, r.phase)
		return
	}
	if _, dup := r.submissions[sender]; dup {
		log.Printf("[PHASE] duplicate submit from %q ignored", sender)
		return
	}

	r.submissions[sender] = payload[protocol.KeyAnswer]
	r.submitOrder = append(r.submitOrder, sender)
	r.checkSubmissionsLocked()
}

func (r *Room) checkSubmissionsLocked() {
	if len(r.submissions) < len(r.roster) {
		return
	}
	r.phase = types.PhaseVoting
	r.emit(protocol.NewServer(protocol.KindVotingStart, map[string]any{
		"round":       r.round,
		"submissions": maps.Clone(r.submissions),
		"order":       append([]string(nil), r.submitOrder...),
	}))
	if r.cfg.VoteTimeout > 0 {
		r.voteTimer = time.AfterFunc(r.cfg.VoteTimeout, r.votingTimeout)
	}
}

// HandleVote records one vote per roster member during the voting phase.
func (r *Room) HandleVote(sender string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != types.PhaseVoting || !r.onRosterLocked(sender) {
		log.Printf("[PHASE] ignoring vote from %q in phase %s", sender, r.phase)
		return
	}
	if _, dup := r.votes[sender]; dup {
		log.Printf("[PHASE] duplicate vote from %q ignored", sender)
		return
	}

	target, _ := payload[protocol.KeyTarget].(string)
	r.votes[sender] = target
	r.checkVotesLocked()
}

func (r *Room) checkVotesLocked() {
	if len(r.votes) < len(r.roster) {
		return
	}
	r.endRoundLocked()
}

func (r *Room) votingTimeout() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != types.PhaseVoting {
		return
	}
	log.Printf("[ROUND] voting timeout in round %d with %d/%d votes", r.round, len(r.votes), len(r.roster))
	r.endRoundLocked()
}

func (r *Room) endRoundLocked() {
	if r.voteTimer != nil {
		r.voteTimer.Stop()
		r.voteTimer = nil
	}

	r.phase = types.PhaseRoundEnd
	result := r.tally.Tally(append([]string(nil), r.submitOrder...), r.votes)
	for name, pts := range result.Points {
		r.scores[name] += pts
	}

	r.lastResults = map[string]any{
		"round":     r.round,
		"points":    result.Points,
		"order":     result.Order,
		"standings": r.standingsLocked(),
	}
	r.emit(protocol.NewServer(protocol.KindRoundEnd, r.lastResults))

	if r.round >= r.cfg.Rounds {
		r.gameOverLocked()
		return
	}
	if r.cfg.RoundBreak > 0 {
		r.breakTimer = time.AfterFunc(r.cfg.RoundBreak, r.nextRound)
		return
	}
	roster := r.rosterFn()
	if len(roster) < r.cfg.MinPlayers {
		r.resetLobbyLocked()
		return
	}
	r.startRoundLocked(roster)
}

func (r *Room) nextRound() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != types.PhaseRoundEnd {
		return
	}
	roster := r.rosterFn()
	if len(roster) < r.cfg.MinPlayers {
		r.resetLobbyLocked()
		return
	}
	r.startRoundLocked(roster)
}

func (r *Room) gameOverLocked() {
	r.phase = types.PhaseGameOver
	log.Printf("[GAME] game over after round %d", r.round)
	r.emit(protocol.NewServer(protocol.KindGameOver, map[string]any{
		"standings": r.standingsLocked(),
	}))
}

// PlayerLeft drops a departed player from the round. The round proceeds
// short-handed; removing the player's pending slot may itself complete the
// phase, so the advance check reruns. An empty room resets to the lobby.
func (r *Room) PlayerLeft(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.onRosterLocked(name) {
		if len(r.rosterFn()) == 0 && r.phase != types.PhaseLobby {
			r.resetLobbyLocked()
		}
		return
	}

	for i, p := range r.roster {
		if p == name {
			r.roster = append(r.roster[:i], r.roster[i+1:]...)
			break
		}
	}
	delete(r.submissions, name)
	delete(r.votes, name)
	for i, p := range r.submitOrder {
		if p == name {
			r.submitOrder = append(r.submitOrder[:i], r.submitOrder[i+1:]...)
			break
		}
	}
	log.Printf("[ROUND] %q left mid-game, %d players remain", name, len(r.roster))

	if len(r.roster) == 0 {
		r.resetLobbyLocked()
		return
	}

	switch r.phase {
	case types.PhaseRoundActive:
		r.checkSubmissionsLocked()
	case types.PhaseVoting:
		r.checkVotesLocked()
	}
}

func (r *Room) resetLobbyLocked() {
	if r.voteTimer != nil {
		r.voteTimer.Stop()
		r.voteTimer = nil
	}
	if r.breakTimer != nil {
		r.breakTimer.Stop()
		r.breakTimer = nil
	}
	r.phase = types.PhaseLobby
	r.round = 0
	r.roster = nil
	r.submissions = nil
	r.submitOrder = nil
	r.votes = nil
	r.scores = make(map[string]int)
	r.lastContent = nil
	r.lastResults = nil
	log.Printf("[GAME] room reset to lobby")
}

// Snapshot builds the catch-up envelope a late joiner receives when the game
// is already underway. Returns nil in the lobby.
func (r *Room) Snapshot() *protocol.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.phase {
	case types.PhaseRoundActive:
		return protocol.NewServer(protocol.KindRoundStart, r.lastContent)
	case types.PhaseVoting:
		// Copy the accumulator: the envelope is encoded outside the room
		// lock, and a concurrent departure mutates the live map.
		return protocol.NewServer(protocol.KindVotingStart, map[string]any{
			"round":       r.round,
			"submissions": maps.Clone(r.submissions),
			"order":       append([]string(nil), r.submitOrder...),
		})
	case types.PhaseRoundEnd:
		return protocol.NewServer(protocol.KindRoundEnd, r.lastResults)
	case types.PhaseGameOver:
		return protocol.NewServer(protocol.KindGameOver, map[string]any{
			"standings": r.standingsLocked(),
		})
	default:
		return nil
	}
}

// Stop cancels outstanding timers. Used on server shutdown.
func (r *Room) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.voteTimer != nil {
		r.voteTimer.Stop()
	}
	if r.breakTimer != nil {
		r.breakTimer.Stop()
	}
}

func (r *Room) onRosterLocked(name string) bool {
	for _, p := range r.roster {
		if p == name {
			return true
		}
	}
	return false
}

type standing struct {
	Username string `json:"username"`
	Points   int    `json:"points"`
}

// standingsLocked returns cumulative scores sorted by points, ties by name.
func (r *Room) standingsLocked() []standing {
	out := make([]standing, 0, len(r.scores))
	for name, pts := range r.scores {
		out = append(out, standing{Username: name, Points: pts})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Points != out[j].Points {
			return out[i].Points > out[j].Points
		}
		return out[i].Username < out[j].Username
	})
	return out
}
