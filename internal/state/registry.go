// Package state owns the shared mutable server state: the session registry
// and the room phase machine. Every read-modify-write on either happens in a
// single critical section behind the package's mutexes.
package state

import (
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/DilaverShtini/nomi-cose-citta/internal/types"
	"github.com/DilaverShtini/nomi-cose-citta/pkg/protocol"
)

// Registry is the authoritative set of live sessions. It mediates username
// uniqueness, lookup, and broadcast under concurrency.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*types.Session
	conns    map[string]*types.ClientConn
	joinSeq  uint64
	dropped  atomic.Uint64
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*types.Session),
		conns:    make(map[string]*types.ClientConn),
	}
}

// Register creates a session with no username for an accepted connection.
// It always succeeds.
func (r *Registry) Register(conn *types.ClientConn) *types.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn.SessionID == "" {
		conn.SessionID = uuid.NewString()
	}
	sess := &types.Session{
		ID:    conn.SessionID,
		Alive: true,
	}
	r.sessions[sess.ID] = sess
	r.conns[sess.ID] = conn
	return sess
}

// TryJoin atomically validates and claims requestedName for the session.
// The trim, uniqueness check, and assignment form one critical section: two
// concurrent joins with the same name cannot both succeed. On success it
// returns the join-ordered roster including the new player.
func (r *Registry) TryJoin(sessionID, requestedName, peerAddr string) ([]string, error) {
	name := strings.TrimSpace(requestedName)
	if name == "" {
		return nil, ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok || !sess.Alive {
		return nil, ErrSessionNotFound
	}
	if sess.Joined() {
		return nil, ErrAlreadyJoined
	}
	for _, other := range r.sessions {
		if other.Alive && other.Username == name {
			return nil, ErrNameTaken
		}
	}

	r.joinSeq++
	sess.Username = name
	sess.PeerAddr = peerAddr
	sess.JoinSeq = r.joinSeq

	return r.usernamesLocked(), nil
}

// Remove tears the session down: marks it dead, deletes it from the maps,
// closes the connection, and signals the writer. It is idempotent; the second
// call (from whichever of the read and write paths loses the race) is a no-op
// returning ok=false. The removed session is returned so callers can
// broadcast the departure of a joined player.
func (r *Registry) Remove(sessionID string) (*types.Session, bool) {
	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	if !ok || !sess.Alive {
		r.mu.Unlock()
		return nil, false
	}
	sess.Alive = false
	conn := r.conns[sessionID]
	delete(r.sessions, sessionID)
	delete(r.conns, sessionID)
	r.mu.Unlock()

	if conn != nil {
		close(conn.Done)
		_ = conn.Conn.Close()
	}
	return sess, true
}

// Session returns the live session for id.
func (r *Registry) Session(sessionID string) (*types.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[sessionID]
	return sess, ok
}

// LookupByUsername returns the connection of the live session that owns name.
func (r *Registry) LookupByUsername(name string) (*types.ClientConn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, sess := range r.sessions {
		if sess.Alive && sess.Username == name {
			return r.conns[id], true
		}
	}
	return nil, false
}

// Usernames returns the live roster in join order.
func (r *Registry) Usernames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.usernamesLocked()
}

func (r *Registry) usernamesLocked() []string {
	joined := make([]*types.Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		if sess.Alive && sess.Joined() {
			joined = append(joined, sess)
		}
	}
	sort.Slice(joined, func(i, j int) bool { return joined[i].JoinSeq < joined[j].JoinSeq })

	names := make([]string, len(joined))
	for i, sess := range joined {
		names[i] = sess.Username
	}
	return names
}

// PeerMap returns username -> announced peer address for every joined session
// that supplied one.
func (r *Registry) PeerMap() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peers := make(map[string]string)
	for _, sess := range r.sessions {
		if sess.Alive && sess.Joined() && sess.PeerAddr != "" {
			peers[sess.Username] = sess.PeerAddr
		}
	}
	return peers
}

// Broadcast encodes env once and enqueues it to every session alive at the
// moment of the call, except exclude. Sessions with a full queue have the
// frame dropped and logged; delivery to the rest continues. Two sequential
// Broadcast calls enqueue in order for every shared recipient because the
// snapshot-and-enqueue loop completes under the read lock.
func (r *Registry) Broadcast(env *protocol.Envelope, excludeSessionID string) {
	frame, err := protocol.Encode(env)
	if err != nil {
		log.Printf("[BROADCAST] encode %s failed: %v", env.Kind, err)
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, conn := range r.conns {
		if id == excludeSessionID {
			continue
		}
		if sess, ok := r.sessions[id]; !ok || !sess.Alive {
			continue
		}
		select {
		case conn.Send <- frame:
		default:
			r.dropped.Add(1)
			log.Printf("[DROP] cid=%s queue full, dropping %s frame", conn.CID, env.Kind)
		}
	}
}

// SendTo delivers env to a single session (targeted errors, late-joiner
// snapshots).
func (r *Registry) SendTo(sessionID string, env *protocol.Envelope) error {
	frame, err := protocol.Encode(env)
	if err != nil {
		return err
	}

	r.mu.RLock()
	conn, ok := r.conns[sessionID]
	r.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}

	select {
	case conn.Send <- frame:
		return nil
	case <-conn.Done:
		return ErrSessionClosed
	default:
		r.dropped.Add(1)
		return ErrQueueFull
	}
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Dropped returns the number of outbound frames dropped on full queues.
func (r *Registry) Dropped() uint64 {
	return r.dropped.Load()
}

// CloseAll removes every session. Used on server shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.Remove(id)
	}
}
