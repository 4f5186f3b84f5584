// Package transport implements the node's TCP plumbing: dialing peers with
// TCP_NODELAY and a bounded connect timeout, and serving accepted
// connections through a bounded worker pool. It carries no knowledge of
// the wire protocol's opcodes — callers hand it payload bytes and get
// payload bytes back.
package transport

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/kvstore/kvstore/internal/wire"
)

// Conn wraps one persistent TCP connection to a peer. Exclusive use per
// in-flight request is enforced by mu: the wire protocol carries no
// request id, so two requests sharing a connection concurrently would
// scramble which response belongs to which caller.
type Conn struct {
	mu   sync.Mutex
	conn net.Conn
}

// Dial opens a TCP connection to addr with the given connect timeout and
// TCP_NODELAY enabled, matching the original's socket tuning.
func Dial(addr string, timeout time.Duration) (*Conn, error) {
	c, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return &Conn{conn: c}, nil
}

// SendRecv writes one framed request and reads back one framed response.
// Sends and receives are otherwise unbounded by a deadline: once connected,
// a slow or wedged peer can block the caller indefinitely. This mirrors the
// original's blocking socket model and is a documented tail-latency risk,
// not an oversight.
func (c *Conn) SendRecv(payload []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := wire.WriteMessage(c.conn, payload); err != nil {
		return nil, fmt.Errorf("transport: write: %w", err)
	}
	resp, err := wire.ReadMessage(c.conn)
	if err != nil {
		return nil, fmt.Errorf("transport: read: %w", err)
	}
	return resp, nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}
