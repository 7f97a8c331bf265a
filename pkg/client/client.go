// Package client is the surface a presentation layer talks to: connect,
// send, receive envelopes, notice disconnects. It never sees registry or
// room internals.
package client

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/DilaverShtini/nomi-cose-citta/pkg/protocol"
)

// Options configures a Client.
type Options struct {
	// Username sent with Join; also used as the sender tag on outgoing
	// envelopes.
	Username string
	// PeerAddr, when set, is announced on join so other clients can reach
	// this one directly.
	PeerAddr string
	// DialTimeout bounds connection establishment. Zero means 10s.
	DialTimeout time.Duration
	// EventBuffer sizes the inbound events channel. Zero means 64.
	EventBuffer int
}

// Client is one connection to the session server.
type Client struct {
	id   string
	opts Options
	conn net.Conn

	writeMu sync.Mutex

	events chan *protocol.Envelope

	mu  sync.Mutex
	err error

	closeOnce sync.Once
}

// Dial connects to a session server. The returned client is already reading;
// consume Events or inbound frames will eventually be dropped.
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.EventBuffer == 0 {
		opts.EventBuffer = 64
	}

	dialCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	c := &Client{
		id:     ksuid.New().String(),
		opts:   opts,
		conn:   conn,
		events: make(chan *protocol.Envelope, opts.EventBuffer),
	}
	go c.readLoop()
	return c, nil
}

// ID returns the client instance id.
func (c *Client) ID() string { return c.id }

// Events returns the inbound envelope stream. The channel closes when the
// connection is gone; that close is the disconnect notification.
func (c *Client) Events() <-chan *protocol.Envelope { return c.events }

// Err reports why the event stream ended. Nil means a clean close.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) readLoop() {
	defer close(c.events)

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 4096), protocol.MaxFrameSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		env, err := protocol.Decode(line)
		if err != nil {
			log.Printf("[CLIENT] malformed frame dropped: %v", err)
			continue
		}
		select {
		case c.events <- env:
		default:
			log.Printf("[CLIENT] event buffer full, dropping %s", env.Kind)
		}
	}

	if err := scanner.Err(); err != nil {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
	}
}

// Send writes one envelope as a frame. Concurrent senders never interleave
// partial frames.
func (c *Client) Send(env *protocol.Envelope) error {
	frame, err := protocol.Encode(env)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("send %s: %w", env.Kind, err)
	}
	return nil
}

// Join runs the join handshake with the configured username.
func (c *Client) Join() error {
	payload := map[string]any{
		protocol.KeyUsername: c.opts.Username,
		"client_id":          c.id,
	}
	if c.opts.PeerAddr != "" {
		payload[protocol.KeyPeerAddr] = c.opts.PeerAddr
	}
	return c.Send(protocol.New(protocol.KindJoin, c.opts.Username, payload))
}

// Chat sends a free-chat line relayed to the rest of the room.
func (c *Client) Chat(text string) error {
	return c.Send(protocol.New(protocol.KindChat, c.opts.Username, map[string]any{
		protocol.KeyText: text,
	}))
}

// Submit sends this round's answer set.
func (c *Client) Submit(answers map[string]string) error {
	return c.Send(protocol.New(protocol.KindSubmit, c.opts.Username, map[string]any{
		protocol.KeyAnswer: answers,
	}))
}

// Vote votes for a player's submission during the voting phase.
func (c *Client) Vote(target string) error {
	return c.Send(protocol.New(protocol.KindVote, c.opts.Username, map[string]any{
		protocol.KeyTarget: target,
	}))
}

// Close tears the connection down. The events channel closes shortly after.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}
