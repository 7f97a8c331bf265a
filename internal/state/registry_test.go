package state_test

import (
	"errors"
	"net"
	"reflect"
	"sync"
	"testing"

	"github.com/DilaverShtini/nomi-cose-citta/internal/state"
	"github.com/DilaverShtini/nomi-cose-citta/internal/types"
	"github.com/DilaverShtini/nomi-cose-citta/pkg/protocol"
)

// register adds a session backed by one end of a pipe and returns it.
func register(t *testing.T, r *state.Registry) *types.ClientConn {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})
	c := types.NewClientConn(server, "", "test-cid")
	r.Register(c)
	return c
}

func TestTryJoin_RosterAndRejections(t *testing.T) {
	r := state.NewRegistry()
	alice := register(t, r)
	bob := register(t, r)
	impostor := register(t, r)

	roster, err := r.TryJoin(alice.SessionID, "Alice", "")
	if err != nil {
		t.Fatalf("Alice join failed: %v", err)
	}
	if !reflect.DeepEqual(roster, []string{"Alice"}) {
		t.Fatalf("unexpected roster after Alice: %v", roster)
	}

	roster, err = r.TryJoin(bob.SessionID, "Bob", "")
	if err != nil {
		t.Fatalf("Bob join failed: %v", err)
	}
	if !reflect.DeepEqual(roster, []string{"Alice", "Bob"}) {
		t.Fatalf("unexpected roster after Bob: %v", roster)
	}

	if _, err := r.TryJoin(impostor.SessionID, "Alice", ""); !errors.Is(err, state.ErrNameTaken) {
		t.Fatalf("expected ErrNameTaken for second Alice, got %v", err)
	}
	if _, err := r.TryJoin(impostor.SessionID, "   ", ""); !errors.Is(err, state.ErrEmptyName) {
		t.Fatalf("expected ErrEmptyName for blank name, got %v", err)
	}
	if _, err := r.TryJoin(bob.SessionID, "Bobby", ""); !errors.Is(err, state.ErrAlreadyJoined) {
		t.Fatalf("expected ErrAlreadyJoined for rename, got %v", err)
	}

	if got := r.Usernames(); !reflect.DeepEqual(got, []string{"Alice", "Bob"}) {
		t.Fatalf("usernames not in join order: %v", got)
	}
}

func TestTryJoin_ConcurrentSameName(t *testing.T) {
	r := state.NewRegistry()

	const contenders = 16
	conns := make([]*types.ClientConn, contenders)
	for i := range conns {
		conns[i] = register(t, r)
	}

	var wg sync.WaitGroup
	errs := make([]error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.TryJoin(conns[i].SessionID, "Primo", "")
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, state.ErrNameTaken):
		default:
			t.Fatalf("unexpected join error: %v", err)
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly one winner, got %d", won)
	}
}

func TestRemove_Idempotent(t *testing.T) {
	r := state.NewRegistry()
	c := register(t, r)
	if _, err := r.TryJoin(c.SessionID, "Alice", ""); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	before := r.Count()
	sess, ok := r.Remove(c.SessionID)
	if !ok || sess == nil || sess.Username != "Alice" {
		t.Fatalf("first remove: got (%v, %v)", sess, ok)
	}
	if _, ok := r.Remove(c.SessionID); ok {
		t.Fatalf("second remove should be a no-op")
	}
	if got := r.Count(); got != before-1 {
		t.Fatalf("live count: got %d, want %d", got, before-1)
	}
	if len(r.Usernames()) != 0 {
		t.Fatalf("removed session still in roster: %v", r.Usernames())
	}
}

func TestBroadcast_ExcludesSender(t *testing.T) {
	r := state.NewRegistry()
	alice := register(t, r)
	bob := register(t, r)

	env := protocol.New(protocol.KindChat, "Alice", map[string]any{protocol.KeyText: "hi"})
	r.Broadcast(env, alice.SessionID)

	select {
	case frame := <-bob.Send:
		got, err := protocol.Decode(frame)
		if err != nil {
			t.Fatalf("decode broadcast frame: %v", err)
		}
		if got.Sender != "Alice" {
			t.Fatalf("sender not preserved: %s", got.Sender)
		}
	default:
		t.Fatalf("bob received nothing")
	}

	select {
	case <-alice.Send:
		t.Fatalf("broadcast delivered back to excluded sender")
	default:
	}
}

func TestBroadcast_OrderPreservedPerRecipient(t *testing.T) {
	r := state.NewRegistry()
	c := register(t, r)

	r.Broadcast(protocol.NewServer(protocol.KindRoundStart, map[string]any{"round": 1}), "")
	r.Broadcast(protocol.NewServer(protocol.KindVotingStart, map[string]any{"round": 1}), "")

	first, _ := protocol.Decode(<-c.Send)
	second, _ := protocol.Decode(<-c.Send)
	if first.Kind != protocol.KindRoundStart || second.Kind != protocol.KindVotingStart {
		t.Fatalf("broadcast order violated: %s then %s", first.Kind, second.Kind)
	}
}

func TestSendTo_FullQueueReportsQueueFull(t *testing.T) {
	r := state.NewRegistry()
	c := register(t, r)

	env := protocol.NewServer(protocol.KindError, map[string]any{protocol.KeyError: "x"})
	for i := 0; i < types.SendQueueSize; i++ {
		if err := r.SendTo(c.SessionID, env); err != nil {
			t.Fatalf("send %d failed early: %v", i, err)
		}
	}

	err := r.SendTo(c.SessionID, env)
	if !errors.Is(err, state.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull on saturated queue, got %v", err)
	}
	if errors.Is(err, state.ErrSessionClosed) {
		t.Fatalf("full queue misreported as closed session")
	}
	if r.Dropped() == 0 {
		t.Fatalf("dropped counter not bumped")
	}
}

func TestPeerMapAndLookup(t *testing.T) {
	r := state.NewRegistry()
	alice := register(t, r)
	bob := register(t, r)

	if _, err := r.TryJoin(alice.SessionID, "Alice", "10.0.0.1:7000"); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if _, err := r.TryJoin(bob.SessionID, "Bob", ""); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	peers := r.PeerMap()
	if len(peers) != 1 || peers["Alice"] != "10.0.0.1:7000" {
		t.Fatalf("unexpected peer map: %v", peers)
	}

	conn, ok := r.LookupByUsername("Bob")
	if !ok || conn.SessionID != bob.SessionID {
		t.Fatalf("lookup by username failed")
	}
	if _, ok := r.LookupByUsername("Carol"); ok {
		t.Fatalf("lookup found a ghost")
	}
}
