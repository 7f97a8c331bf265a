// Package server ties the protocol, registry, and room together: it accepts
// TCP connections, frames and decodes envelopes, and dispatches them.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/DilaverShtini/nomi-cose-citta/internal/cid"
	"github.com/DilaverShtini/nomi-cose-citta/internal/game"
	"github.com/DilaverShtini/nomi-cose-citta/internal/state"
	"github.com/DilaverShtini/nomi-cose-citta/internal/types"
	"github.com/DilaverShtini/nomi-cose-citta/pkg/protocol"
)

// Config holds the runtime knobs for one server instance.
type Config struct {
	Bind        string
	Port        int
	AdminPort   int
	MinPlayers  int
	Rounds      int
	VoteTimeout time.Duration
	RoundBreak  time.Duration
	Verbose     bool
}

// Server is the session server: accept loop, per-connection goroutine pair,
// and envelope dispatch.
type Server struct {
	cfg      Config
	registry *state.Registry
	room     *state.Room
	tracer   trace.Tracer

	ln     net.Listener
	admin  *adminAPI
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a server with the default Nomi Cose Città collaborators.
func New(cfg Config) *Server {
	return NewWithGame(cfg,
		game.NewLetterGame(rand.NewSource(time.Now().UnixNano())),
		game.VoteCount{})
}

// NewWithGame builds a server with explicit game collaborators; tests inject
// deterministic ones here.
func NewWithGame(cfg Config, content game.ContentProvider, tally game.Tally) *Server {
	s := &Server{
		cfg:      cfg,
		registry: state.NewRegistry(),
		tracer:   otel.Tracer("citta/server"),
	}
	s.room = state.NewRoom(state.RoomConfig{
		MinPlayers:  cfg.MinPlayers,
		Rounds:      cfg.Rounds,
		VoteTimeout: cfg.VoteTimeout,
		RoundBreak:  cfg.RoundBreak,
	}, content, tally, s.registry.Usernames, func(env *protocol.Envelope) {
		s.registry.Broadcast(env, "")
	})
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Registry exposes the session registry; the admin API and tests read it.
func (s *Server) Registry() *state.Registry { return s.registry }

// Room exposes the phase controller for tests and the admin API.
func (s *Server) Room() *state.Room { return s.room }

// Start begins listening and accepting. It does not block.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Bind, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.ln = ln
	log.Printf("[LISTENING] session server on %s", ln.Addr())

	if s.cfg.AdminPort > 0 {
		s.admin = newAdminAPI(s)
		if err := s.admin.start(fmt.Sprintf("%s:%d", s.cfg.Bind, s.cfg.AdminPort)); err != nil {
			_ = ln.Close()
			return err
		}
	}

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the listener address; useful with port 0.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			log.Printf("[ACCEPT] %v", err)
			return
		}
		s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	c := types.NewClientConn(conn, uuid.NewString(), cid.New())
	s.registry.Register(c)
	log.Printf("[NEW CONNECTION] cid=%s remote=%s active=%d", c.CID, conn.RemoteAddr(), s.registry.Count())

	ctx := cid.WithCID(s.ctx, c.CID)
	s.wg.Add(2)
	go s.writeLoop(c)
	go s.readLoop(ctx, c)
}

// teardown removes the session and, when it had joined, broadcasts the
// departure. Both the read and write paths call it; Remove's idempotence
// makes the second call a no-op.
func (s *Server) teardown(c *types.ClientConn) {
	sess, ok := s.registry.Remove(c.SessionID)
	if !ok {
		return
	}
	log.Printf("[DISCONNECTED] cid=%s active=%d", c.CID, s.registry.Count())

	if sess.Joined() {
		s.registry.Broadcast(protocol.NewServer(protocol.KindLobbyUpdate, map[string]any{
			protocol.KeyPlayers: s.registry.Usernames(),
		}), "")
		s.room.PlayerLeft(sess.Username)
	}
}

// dispatch routes one decoded envelope. A decode failure is protocol noise,
// not a reason to drop the connection.
func (s *Server) dispatch(ctx context.Context, c *types.ClientConn, frame []byte) {
	env, err := protocol.Decode(frame)
	if err != nil {
		log.Printf("[MALFORMED] cid=%s: %v", c.CID, err)
		return
	}

	_, span := s.tracer.Start(ctx, "dispatch."+string(env.Kind),
		trace.WithAttributes(attribute.String(cid.AttributeName, c.CID)))
	defer span.End()

	switch env.Kind {
	case protocol.KindJoin:
		s.handleJoin(c, env)
	case protocol.KindSubmit:
		if name, ok := s.joinedName(c); ok {
			s.room.HandleSubmit(name, env.Payload)
		} else {
			log.Printf("[DISPATCH] cid=%s submit before join, dropped", c.CID)
		}
	case protocol.KindVote:
		if name, ok := s.joinedName(c); ok {
			s.room.HandleVote(name, env.Payload)
		} else {
			log.Printf("[DISPATCH] cid=%s vote before join, dropped", c.CID)
		}
	case protocol.KindChat:
		if _, ok := s.joinedName(c); ok {
			s.registry.Broadcast(env, c.SessionID)
		} else {
			log.Printf("[DISPATCH] cid=%s chat before join, dropped", c.CID)
		}
	default:
		// Server-to-client kinds have no business arriving here.
		log.Printf("[DISPATCH] cid=%s ignoring client-sent %s", c.CID, env.Kind)
	}
}

func (s *Server) handleJoin(c *types.ClientConn, env *protocol.Envelope) {
	name := env.PayloadString(protocol.KeyUsername)
	peerAddr := env.PayloadString(protocol.KeyPeerAddr)

	roster, err := s.registry.TryJoin(c.SessionID, name, peerAddr)
	if err != nil {
		s.rejectJoin(c, name, err)
		return
	}
	log.Printf("[JOIN] cid=%s username=%q players=%d", c.CID, roster[len(roster)-1], len(roster))

	s.registry.Broadcast(protocol.NewServer(protocol.KindLobbyUpdate, map[string]any{
		protocol.KeyPlayers: roster,
	}), "")

	if peers := s.registry.PeerMap(); len(peers) > 0 {
		s.registry.Broadcast(protocol.NewServer(protocol.KindPeerMap, map[string]any{
			protocol.KeyPeers: peers,
		}), "")
	}

	// A late joiner gets the current phase so its UI can catch up.
	if snap := s.room.Snapshot(); snap != nil {
		if err := s.registry.SendTo(c.SessionID, snap); err != nil {
			log.Printf("[JOIN] cid=%s snapshot send failed: %v", c.CID, err)
		}
	}

	s.room.MaybeStart()
}

// rejectJoin sends a targeted error envelope; the connection stays open so
// the client can retry with a different name.
func (s *Server) rejectJoin(c *types.ClientConn, name string, err error) {
	var code string
	switch {
	case errors.Is(err, state.ErrEmptyName):
		code = protocol.CodeEmptyName
	case errors.Is(err, state.ErrNameTaken):
		code = protocol.CodeNameTaken
	case errors.Is(err, state.ErrAlreadyJoined):
		log.Printf("[JOIN] cid=%s re-join attempt as %q dropped", c.CID, name)
		return
	default:
		log.Printf("[JOIN] cid=%s rejected: %v", c.CID, err)
		return
	}

	log.Printf("[JOIN] cid=%s name %q rejected: %v", c.CID, name, err)
	sendErr := s.registry.SendTo(c.SessionID, protocol.NewServer(protocol.KindError, map[string]any{
		protocol.KeyError: err.Error(),
		protocol.KeyCode:  code,
	}))
	if sendErr != nil {
		log.Printf("[JOIN] cid=%s error envelope send failed: %v", c.CID, sendErr)
	}
}

func (s *Server) joinedName(c *types.ClientConn) (string, bool) {
	sess, ok := s.registry.Session(c.SessionID)
	if !ok || !sess.Joined() {
		return "", false
	}
	return sess.Username, true
}

// Shutdown closes the listener and every connection, then waits for the
// per-connection goroutines to drain.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.room.Stop()
	s.registry.CloseAll()

	var adminErr error
	if s.admin != nil {
		adminErr = s.admin.stop(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return adminErr
	case <-ctx.Done():
		return ctx.Err()
	}
}
