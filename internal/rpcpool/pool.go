// Package rpcpool keeps at most one live outbound TCP connection per peer
// address, so the replication fan-out, gossip rounds and read repair don't
// each pay a fresh dial+handshake per call the way the original
// implementation's one-shot KVClient does. It is a pure latency
// optimization: callers that get a broken connection invalidate it and
// the next Get redials, so it changes no observable protocol behavior.
package rpcpool

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/kvstore/kvstore/internal/transport"
)

// Pool caches one *transport.Conn per address, keyed by address string.
type Pool struct {
	conns          *xsync.MapOf[string, *transport.Conn]
	connectTimeout time.Duration
}

// New creates an empty pool that dials with the given connect timeout.
func New(connectTimeout time.Duration) *Pool {
	return &Pool{
		conns:          xsync.NewMapOf[string, *transport.Conn](),
		connectTimeout: connectTimeout,
	}
}

// Get returns a cached connection to addr, dialing one if none exists yet.
func (p *Pool) Get(addr string) (*transport.Conn, error) {
	if conn, ok := p.conns.Load(addr); ok {
		return conn, nil
	}

	conn, err := transport.Dial(addr, p.connectTimeout)
	if err != nil {
		return nil, err
	}

	// Another goroutine may have dialed addr concurrently; keep whichever
	// connection wins the race and close the loser so we don't leak an fd.
	actual, loaded := p.conns.LoadOrStore(addr, conn)
	if loaded {
		_ = conn.Close()
		return actual, nil
	}
	return conn, nil
}

// Invalidate drops and closes the cached connection for addr, if any. The
// next Get(addr) redials. Callers invoke this after a request on the
// connection fails, since a broken connection otherwise stays cached
// forever.
func (p *Pool) Invalidate(addr string) {
	if conn, ok := p.conns.LoadAndDelete(addr); ok {
		_ = conn.Close()
	}
}

// Close closes every cached connection.
func (p *Pool) Close() {
	p.conns.Range(func(addr string, conn *transport.Conn) bool {
		_ = conn.Close()
		p.conns.Delete(addr)
		return true
	})
}
