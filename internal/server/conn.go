package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"net"
	"time"

	"github.com/DilaverShtini/nomi-cose-citta/internal/types"
	"github.com/DilaverShtini/nomi-cose-citta/pkg/protocol"
)

// writeTimeout bounds a single frame write so a stalled peer cannot pin its
// writer goroutine forever.
const writeTimeout = 5 * time.Second

// readLoop splits the byte stream into newline-terminated frames and
// dispatches each one. A clean EOF ends the sequence quietly; a reset is a
// transport failure. Either way the session is torn down.
func (s *Server) readLoop(ctx context.Context, c *types.ClientConn) {
	defer s.wg.Done()
	defer s.teardown(c)

	scanner := bufio.NewScanner(c.Conn)
	scanner.Buffer(make([]byte, 0, 4096), protocol.MaxFrameSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		s.dispatch(ctx, c, line)
	}

	if err := scanner.Err(); err != nil && !isClosedErr(err) {
		log.Printf("[TRANSPORT] cid=%s read failed: %v", c.CID, err)
	}
}

// writeLoop drains the outbound queue. It is the sole writer on the
// connection, so frames never interleave.
func (s *Server) writeLoop(c *types.ClientConn) {
	defer s.wg.Done()

	for {
		select {
		case frame := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := c.Conn.Write(frame); err != nil {
				if !isClosedErr(err) {
					log.Printf("[TRANSPORT] cid=%s write failed: %v", c.CID, err)
				}
				s.teardown(c)
				return
			}
		case <-c.Done:
			return
		}
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
