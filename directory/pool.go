// ConnPool manages a pool of reusable, exclusively-borrowed TCP
// connections to a single peer address — the fit for XCP's client,
// since spec.md §4.5/§5 forbids request pipelining: each borrowed
// connection carries exactly one outstanding handshake-then-request
// cycle at a time, then is returned.
//
// Pool design: a buffered channel is the FIFO queue; buffered channels
// are already concurrency-safe and block on empty for free.
package directory

import (
	"fmt"
	"net"
	"sync"
)

// ConnPool holds up to maxConns connections to addr, created lazily.
type ConnPool struct {
	mu       sync.Mutex
	conns    chan *PoolConn
	addr     string
	maxConns int
	curConns int
	factory  func() (net.Conn, error)
}

// PoolConn wraps a net.Conn with pool bookkeeping.
type PoolConn struct {
	net.Conn
	pool     *ConnPool
	unusable bool // set true when the connection hit an error
}

// NewConnPool creates a pool of at most maxConns connections to addr,
// built on demand via factory.
func NewConnPool(addr string, maxConns int, factory func() (net.Conn, error)) *ConnPool {
	return &ConnPool{
		conns:    make(chan *PoolConn, maxConns),
		addr:     addr,
		maxConns: maxConns,
		factory:  factory,
	}
}

// Get borrows a connection: reuse an idle one, create a new one if
// under the cap, or block for a returned one at capacity.
func (p *ConnPool) Get() (*PoolConn, error) {
	select {
	case conn := <-p.conns:
		if conn.unusable {
			return p.createNew()
		}
		return conn, nil
	default:
		p.mu.Lock()
		underCap := p.curConns < p.maxConns
		p.mu.Unlock()
		if underCap {
			return p.createNew()
		}
		conn := <-p.conns
		return conn, nil
	}
}

// Put returns conn to the pool, or closes it if it was marked unusable.
func (p *ConnPool) Put(conn *PoolConn) {
	if conn.unusable {
		conn.Close()
		p.mu.Lock()
		p.curConns--
		p.mu.Unlock()
		return
	}
	p.conns <- conn
}

// Close shuts down the pool, closing every pooled connection.
func (p *ConnPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	close(p.conns)
	for conn := range p.conns {
		conn.Close()
		p.curConns--
	}
	return nil
}

func (p *ConnPool) createNew() (*PoolConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.curConns >= p.maxConns {
		return nil, fmt.Errorf("directory: connection pool exhausted for %s", p.addr)
	}

	netConn, err := p.factory()
	if err != nil {
		return nil, err
	}

	p.curConns++
	return &PoolConn{Conn: netConn, pool: p}, nil
}
