package types

import (
	"net"
	"time"
)

// Session is the server-side identity bound to one connection. Username is
// empty until the join handshake succeeds and immutable afterwards. Alive
// flips to false exactly once, at the start of teardown.
type Session struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
	PeerAddr string `json:"peer_addr,omitempty"`
	JoinSeq  uint64 `json:"-"`
	Alive    bool   `json:"alive"`

	ConnectedAt time.Time `json:"connected_at"`
}

// Joined reports whether the session completed the join handshake.
func (s *Session) Joined() bool {
	return s.Username != ""
}

// SendQueueSize bounds the per-connection outbound queue so one slow peer
// never stalls a broadcast.
const SendQueueSize = 256

// ClientConn pairs a raw connection with its outbound queue. The writer
// goroutine drains Send; Done is closed once, on teardown, to stop it.
type ClientConn struct {
	Conn      net.Conn
	SessionID string
	CID       string
	Send      chan []byte
	Done      chan struct{}
}

// NewClientConn wraps an accepted connection.
func NewClientConn(conn net.Conn, sessionID, cid string) *ClientConn {
	return &ClientConn{
		Conn:      conn,
		SessionID: sessionID,
		CID:       cid,
		Send:      make(chan []byte, SendQueueSize),
		Done:      make(chan struct{}),
	}
}

// Phase is the room-wide game progress state. Exactly one phase is active at
// a time for the whole room.
type Phase string

const (
	PhaseLobby       Phase = "lobby"
	PhaseRoundActive Phase = "round_active"
	PhaseVoting      Phase = "voting"
	PhaseRoundEnd    Phase = "round_end"
	PhaseGameOver    Phase = "game_over"
)

// ServerStats is the snapshot served by the admin API.
type ServerStats struct {
	ConnectedClients int    `json:"connected_clients"`
	JoinedPlayers    int    `json:"joined_players"`
	Phase            Phase  `json:"phase"`
	Round            int    `json:"round"`
	DroppedFrames    uint64 `json:"dropped_frames"`
}
