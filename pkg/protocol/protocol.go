// Package protocol defines the wire vocabulary shared between the session
// server and its clients: the Envelope message unit, the closed set of
// message kinds, and the newline-delimited JSON codec.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind identifies an Envelope's meaning. Direction is a naming convention:
// cmd_* flows client to server, evt_* server to client, p2p_* between peers
// (possibly server-relayed).
type Kind string

const (
	KindJoin   Kind = "cmd_join"
	KindSubmit Kind = "cmd_submit"

	KindLobbyUpdate Kind = "evt_lobby_update"
	KindPeerMap     Kind = "evt_peer_map"
	KindRoundStart  Kind = "evt_round_start"
	KindVotingStart Kind = "evt_voting_start"
	KindRoundEnd    Kind = "evt_round_end"
	KindGameOver    Kind = "evt_game_over"
	KindError       Kind = "error"

	KindChat Kind = "p2p_chat"
	KindVote Kind = "p2p_vote"
)

// Valid reports whether k is one of the recognized kinds. Dispatch is a
// closed switch, so unknown kinds must be rejected at decode time.
func (k Kind) Valid() bool {
	switch k {
	case KindJoin, KindSubmit, KindLobbyUpdate, KindPeerMap, KindRoundStart,
		KindVotingStart, KindRoundEnd, KindGameOver, KindError, KindChat, KindVote:
		return true
	default:
		return false
	}
}

// SenderServer is the reserved sender name for server-originated envelopes.
const SenderServer = "SERVER"

// Well-known payload keys.
const (
	KeyUsername = "username"
	KeyPeerAddr = "peer_addr"
	KeyPlayers  = "players"
	KeyPeers    = "peers"
	KeyError    = "error"
	KeyCode     = "code"
	KeyText     = "text"
	KeyTarget   = "target"
	KeyAnswer   = "answer"
	KeyRound    = "round"
	KeyPhase    = "phase"
)

// Name rejection codes carried in the error envelope payload.
const (
	CodeEmptyName = "empty_name"
	CodeNameTaken = "name_taken"
)

// ErrMalformedMessage is wrapped by every Decode failure: bad JSON, an
// unrecognized kind, or a missing sender.
var ErrMalformedMessage = errors.New("malformed message")

// MaxFrameSize bounds a single wire frame. Frames are small JSON objects;
// anything larger is noise or abuse.
const MaxFrameSize = 64 * 1024

// Envelope is one protocol message. It is immutable once constructed; build
// new ones instead of mutating.
type Envelope struct {
	Kind      Kind           `json:"kind"`
	Sender    string         `json:"sender"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// New builds an Envelope stamped with the current time.
func New(kind Kind, sender string, payload map[string]any) *Envelope {
	return &Envelope{
		Kind:      kind,
		Sender:    sender,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// NewServer builds a server-originated Envelope.
func NewServer(kind Kind, payload map[string]any) *Envelope {
	return New(kind, SenderServer, payload)
}

// Encode serializes e to a single newline-terminated frame. JSON never emits
// raw newlines, so the terminator is unambiguous and a stream reader can
// split frames without a length prefix.
func Encode(e *Envelope) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses one frame back into an Envelope. The trailing newline is
// optional. Unknown payload keys are preserved for forward compatibility;
// unknown kinds and missing senders are rejected.
func Decode(frame []byte) (*Envelope, error) {
	frame = bytes.TrimRight(frame, "\r\n")
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformedMessage)
	}

	var e Envelope
	if err := json.Unmarshal(frame, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if !e.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformedMessage, e.Kind)
	}
	if e.Sender == "" {
		return nil, fmt.Errorf("%w: missing sender", ErrMalformedMessage)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	return &e, nil
}

// PayloadString is a convenience accessor for string-valued payload fields.
func (e *Envelope) PayloadString(key string) string {
	if e.Payload == nil {
		return ""
	}
	s, _ := e.Payload[key].(string)
	return s
}
