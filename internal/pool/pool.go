// Package pool implements a reconnecting connection pool: a fixed-size
// set of internal/conn.Conn plus a buffered free-connection channel
// (capacity P). Dead connections found at the head of the channel are
// dropped and replaced; dial failures are retried with doubling backoff
// capped at 10s, mirroring trex/factories.py's RedisFactory.maxDelay.
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"redisq/internal/clog"
	"redisq/internal/conn"
)

// ErrNotConnected is returned by GetConnection when reconnect is
// disabled and the pool has no live connections. The check does not
// distinguish lazy from eager pools: a lazy pool whose first dials have
// not finished gets it too, and an empty pool with reconnect enabled
// waits instead of failing.
var ErrNotConnected = errors.New("redisq: pool not connected")

// ErrPoolClosed is returned once Disconnect has been called.
var ErrPoolClosed = errors.New("redisq: pool closed")

const maxBackoff = 10 * time.Second

// Pool owns a fixed number of connections to a single endpoint and
// hands them out round-robin through a buffered channel, matching
// trex/factories.py's connectionQueue/DeferredQueue.
type Pool struct {
	cfg  conn.Config
	size int

	reconnect bool

	mu       sync.Mutex
	conns    map[string]*conn.Conn
	free     chan *conn.Conn
	closed   bool
	readyCh  chan struct{}
	readyOne sync.Once

	idCounter atomic.Int64

	waitMu   sync.Mutex
	waitZero []chan struct{}
}

// New creates a pool of size connections to cfg.Addr. If lazy is true,
// New returns immediately and dials in the background; Ready() closes
// once the pool fills to size. If lazy is false, New blocks (respecting
// ctx) until all size connections are established.
func New(ctx context.Context, cfg conn.Config, size int, lazy bool, reconnect bool) (*Pool, error) {
	if size <= 0 {
		size = 1
	}
	p := &Pool{
		cfg:       cfg,
		size:      size,
		reconnect: reconnect,
		conns:     make(map[string]*conn.Conn, size),
		free:      make(chan *conn.Conn, size),
		readyCh:   make(chan struct{}),
	}

	for i := 0; i < size; i++ {
		go p.dialLoop(context.Background())
	}

	if lazy {
		return p, nil
	}

	select {
	case <-p.Ready():
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ready returns a channel closed once the pool has filled to its
// configured size at least once.
func (p *Pool) Ready() <-chan struct{} { return p.readyCh }

// dialLoop dials one connection slot, retrying with doubling backoff
// (capped at 10s) on failure, and reinstates a replacement whenever the
// connection it owns is lost and reconnect is enabled.
func (p *Pool) dialLoop(ctx context.Context) {
	backoff := 100 * time.Millisecond
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		id := p.nextID()
		c, err := conn.New(ctx, id, p.cfg, p.onLost)
		if err != nil {
			clog.WithField("pool", p.cfg.Addr).Warnf("redisq: dial failed, retrying in %s: %v", backoff, err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			c.Close()
			return
		}
		p.conns[id] = c
		filled := len(p.conns) >= p.size
		p.mu.Unlock()

		p.free <- c
		if filled {
			p.readyOne.Do(func() { close(p.readyCh) })
		}
		return
	}
}

func (p *Pool) nextID() string {
	n := p.idCounter.Add(1)
	return p.cfg.Addr + "#" + time.Now().Format("150405") + "-" + itoa(n)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// onLost is the conn.LostHandler: it drops the dead connection from the
// pool's bookkeeping and, if reconnect is enabled, spawns a fresh
// dialLoop to replace it.
func (p *Pool) onLost(c *conn.Conn, _ error) {
	p.mu.Lock()
	delete(p.conns, c.ID())
	empty := len(p.conns) == 0
	reconnect := p.reconnect && !p.closed
	p.mu.Unlock()

	if empty {
		p.notifyEmpty()
	}
	if reconnect {
		go p.dialLoop(context.Background())
	}
}

// GetConnection returns a live connection from the pool, blocking until
// one is available or ctx is done. Dead connections found at the head
// of the free channel are discarded and the search retried, matching
// trex's getConnection while-loop. If putBack is true the connection is
// returned to the free channel immediately so other callers may share
// it (used for commands that don't need exclusive ownership); otherwise
// the caller must return it explicitly via Put once done.
func (p *Pool) GetConnection(ctx context.Context, putBack bool) (*conn.Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	eager := !p.reconnect && len(p.conns) == 0
	p.mu.Unlock()
	if eager {
		return nil, ErrNotConnected
	}

	for {
		select {
		case c := <-p.free:
			if !c.Alive() {
				clog.WithField("pool", p.cfg.Addr).Debugf("redisq: discarding dead connection %s", c.ID())
				continue
			}
			if putBack {
				p.free <- c
			}
			return c, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Put returns a connection taken without putBack back to the free
// channel so another caller can use it.
func (p *Pool) Put(c *conn.Conn) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed || !c.Alive() {
		return
	}
	p.free <- c
}

// Disconnect stops reconnecting, closes every live connection, and
// blocks until the pool has drained to zero connections or ctx is done
// — the Go analogue of trex/factories.py's waitForEmptyPool.
func (p *Pool) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.reconnect = false
	conns := make([]*conn.Conn, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}

	return p.waitEmpty(ctx)
}

func (p *Pool) waitEmpty(ctx context.Context) error {
	p.mu.Lock()
	empty := len(p.conns) == 0
	p.mu.Unlock()
	if empty {
		return nil
	}

	ch := make(chan struct{})
	p.waitMu.Lock()
	p.waitZero = append(p.waitZero, ch)
	p.waitMu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) notifyEmpty() {
	p.waitMu.Lock()
	waiters := p.waitZero
	p.waitZero = nil
	p.waitMu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
}

// Size reports the configured pool size.
func (p *Pool) Size() int { return p.size }

// Live reports the number of currently-connected sockets.
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}
