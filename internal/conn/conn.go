// Package conn implements a single connection: one TCP or Unix socket,
// its handshake state machine, the send/receive path, and the
// transaction/pipeline bookkeeping layered on top (see transaction.go
// and pipeline.go). A Conn is owned by exactly one read-loop goroutine;
// callers only ever reach it through Execute and the transaction/
// pipeline methods, all of which funnel through a mutex.
package conn

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"redisq/internal/clog"
	"redisq/internal/proto"
)

// Mode is the connection's current command-flow mode.
type Mode int

const (
	ModeNormal Mode = iota
	ModeTransaction
	ModePipeline
)

// Config carries the handshake parameters for a connection: endpoint,
// database index, credentials, and charset.
type Config struct {
	Network string // "tcp" or "unix"
	Addr    string
	DB      int // < 0 means "no SELECT"
	Password string
	Charset string // "utf-8" or "" (non-numeric bulk strings stay raw bytes)
	Timeout time.Duration
}

// LostHandler is invoked exactly once when a Conn transitions to a dead
// state, either from a read/write error or an explicit Close. The pool
// uses it to drop the connection and schedule reconnection.
type LostHandler func(c *Conn, err error)

// Conn is a single connection to the server.
type Conn struct {
	id     string
	cfg    Config
	onLost LostHandler

	mu      sync.Mutex
	sock    net.Conn
	w       *bufio.Writer
	mode    Mode
	closed  bool
	readyCh chan struct{}

	replyQueue []*pendingCmd

	// Pipeline state.
	pipeBuf     [][]byte // flattened frame bytes, one *completed* frame per append
	pipePending []*pendingCmd

	// Transaction state.
	txQueued    int
	multiOpen   bool
	txPostProcs []postProc
	txCommit    *Future
	watching    bool

	scriptDigests map[string]struct{}

	pushHandler func(proto.Reply)
}

// New dials cfg.Addr and performs the handshake. The caller supplies
// the connection id (typically assigned by the pool) and a LostHandler
// invoked on connection death.
func New(ctx context.Context, id string, cfg Config, onLost LostHandler) (*Conn, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	sock, err := d.DialContext(ctx, cfg.Network, cfg.Addr)
	if err != nil {
		return nil, err
	}
	return newFromSocket(ctx, id, cfg, sock, onLost)
}

// newFromSocket performs the handshake and starts the read loop over an
// already-established socket. Split out from New so tests can supply an
// in-memory net.Pipe() transport instead of dialing a real address.
func newFromSocket(ctx context.Context, id string, cfg Config, sock net.Conn, onLost LostHandler) (*Conn, error) {
	c := &Conn{
		id:            id,
		cfg:           cfg,
		onLost:        onLost,
		sock:          sock,
		w:             bufio.NewWriter(sock),
		readyCh:       make(chan struct{}),
		scriptDigests: make(map[string]struct{}),
	}

	if err := c.handshake(ctx); err != nil {
		sock.Close()
		return nil, err
	}

	close(c.readyCh)
	go c.readLoop()
	return c, nil
}

// ID returns the connection's pool-assigned identifier.
func (c *Conn) ID() string { return c.id }

// handshake runs the CONNECTING -> AUTHENTICATING -> SELECTING -> READY
// sequence.
func (c *Conn) handshake(ctx context.Context) error {
	if c.cfg.Password != "" {
		reply, err := c.roundTrip(ctx, [][]byte{[]byte("AUTH"), []byte(c.cfg.Password)})
		if err != nil {
			return fmt.Errorf("redisq: auth failed: %w", err)
		}
		if reply.Kind == proto.KindError {
			return fmt.Errorf("redisq: auth failed: %w", reply.Err)
		}
	}
	if c.cfg.DB >= 0 {
		reply, err := c.roundTrip(ctx, [][]byte{[]byte("SELECT"), []byte(fmt.Sprint(c.cfg.DB))})
		if err != nil {
			return fmt.Errorf("redisq: select db failed: %w", err)
		}
		if reply.Kind == proto.KindError {
			return fmt.Errorf("redisq: select db failed: %w", reply.Err)
		}
	}
	return nil
}

// roundTrip is a private synchronous helper used only during the
// handshake, before the read loop's FIFO machinery is meaningful to the
// outside world (no pipeline/transaction state exists yet).
func (c *Conn) roundTrip(ctx context.Context, args [][]byte) (proto.Reply, error) {
	if err := proto.EncodeCommand(c.w, args); err != nil {
		return proto.Reply{}, err
	}
	if err := c.w.Flush(); err != nil {
		return proto.Reply{}, err
	}

	var p proto.Parser
	buf := make([]byte, 4096)
	for {
		n, err := c.sock.Read(buf)
		if err != nil {
			return proto.Reply{}, err
		}
		p.Feed(buf[:n])
		if reply, ok, err := p.Next(); err != nil {
			return proto.Reply{}, err
		} else if ok {
			return reply, nil
		}
	}
}

// Ready returns a channel closed once the handshake completes.
func (c *Conn) Ready() <-chan struct{} { return c.readyCh }

// Alive reports whether the connection is still usable.
func (c *Conn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Mode reports the connection's current command-flow mode.
func (c *Conn) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// ExecOption configures a single Execute call.
type ExecOption func(*execConfig)

type execConfig struct {
	postProc postProc
}

// WithPostProc registers a callback applied to the reply once resolved:
// chained onto the Future in normal mode, stored positionally against
// the EXEC array in transaction mode.
func WithPostProc(f func(proto.Reply) proto.Reply) ExecOption {
	return func(c *execConfig) { c.postProc = f }
}

// Execute sends name+args as a command frame and returns a Future for
// its reply. args are already-encoded byte strings; charset-aware
// argument encoding is the caller's (Handler's) responsibility.
func (c *Conn) Execute(name string, args [][]byte, opts ...ExecOption) (*Future, error) {
	cfg := execConfig{}
	for _, o := range opts {
		o(&cfg)
	}

	frame := make([][]byte, 0, len(args)+1)
	frame = append(frame, []byte(name))
	frame = append(frame, args...)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrNotConnected
	}

	future := newFuture()
	pc := &pendingCmd{future: future, postProc: cfg.postProc}

	if c.mode == ModeTransaction && c.multiOpen {
		// Queued inside MULTI: the post-proc applies positionally to
		// EXEC's array, not to this command's own (QUEUED) reply.
		pc.postProc = nil
		c.txPostProcs = append(c.txPostProcs, cfg.postProc)
	}

	if c.mode == ModePipeline {
		var buf bufferWriter
		if err := proto.EncodeCommand(&buf, frame); err != nil {
			return nil, err
		}
		c.pipeBuf = append(c.pipeBuf, buf.b)
		c.pipePending = append(c.pipePending, pc)
		return future, nil
	}

	if err := proto.EncodeCommand(c.w, frame); err != nil {
		return nil, err
	}
	if err := c.w.Flush(); err != nil {
		c.failLocked(err)
		return nil, err
	}
	c.replyQueue = append(c.replyQueue, pc)
	return future, nil
}

// readLoop is the single goroutine that owns the socket reader and the
// receive path.
func (c *Conn) readLoop() {
	r := bufio.NewReaderSize(c.sock, 4096)
	var parser proto.Parser
	buf := make([]byte, 4096)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			parser.Feed(buf[:n])
			for {
				reply, ok, perr := parser.Next()
				if perr != nil {
					c.mu.Lock()
					c.failLocked(perr)
					c.mu.Unlock()
					return
				}
				if !ok {
					break
				}
				c.deliver(reply)
			}
		}
		if err != nil {
			c.mu.Lock()
			c.failLocked(err)
			c.mu.Unlock()
			return
		}
	}
}

// coerce stamps reply.Value (and that of every nested array element)
// with its Go-native form, decoded per the connection's configured
// charset. Every complete reply passes through here before a Future
// sees it — coercion is not optional, mirroring how the original
// client applied it unconditionally in its receive path.
func (c *Conn) coerce(reply proto.Reply) proto.Reply {
	return proto.CoerceReply(reply, c.cfg.Charset)
}

// deliver applies transaction bookkeeping to one parsed reply, then
// resolves the head-of-queue Future. Coercion always runs last, after
// any post-proc: a post-proc can replace the reply outright (e.g. to
// rewrite an integer result), and the replacement's own Value would
// otherwise never get stamped.
func (c *Conn) deliver(reply proto.Reply) {
	c.mu.Lock()

	if c.mode == ModeTransaction && reply.Kind == proto.KindStatus && reply.Str == "QUEUED" {
		c.txQueued++
		pc := c.popQueue()
		c.mu.Unlock()
		if pc != nil {
			// The queued command's own Future resolves immediately to
			// the QUEUED status so it never blocks a caller; the real
			// value surfaces positionally through EXEC's resolved array.
			pc.future.resolve(Result{Reply: c.coerce(reply)})
		}
		return
	}

	// Any array reply received while in transaction mode is necessarily
	// the EXEC reply: every command queued since MULTI gets a +QUEUED
	// ack instead of its real result (handled above), so the array is
	// the first non-QUEUED reply the server can possibly send.
	// finishTransactionLocked coerces each element itself, after its own
	// per-command post-proc.
	if c.mode == ModeTransaction && reply.Kind == proto.KindArray && c.txCommit != nil {
		c.finishTransactionLocked(reply)
		return
	}

	pc := c.popQueue()
	if pc == nil {
		push := c.pushHandler
		c.mu.Unlock()
		// No queued command is waiting: this is an unsolicited push
		// reply (pub/sub message or MONITOR line) rather than a
		// response to something Execute sent.
		if push != nil {
			push(c.coerce(reply))
		}
		return
	}
	c.mu.Unlock()
	if pc.postProc != nil {
		reply = pc.postProc(reply)
	}
	pc.future.resolve(Result{Reply: c.coerce(reply)})
}

// SetPushHandler registers a callback invoked for any reply that
// arrives with no corresponding queued command, i.e. a pub/sub message
// or a MONITOR line. Used by Subscriber and Monitor, which otherwise
// never look at the reply queue.
func (c *Conn) SetPushHandler(f func(proto.Reply)) {
	c.mu.Lock()
	c.pushHandler = f
	c.mu.Unlock()
}

// popQueue pops the head of the reply queue. Caller must hold c.mu.
func (c *Conn) popQueue() *pendingCmd {
	if len(c.replyQueue) == 0 {
		return nil
	}
	pc := c.replyQueue[0]
	c.replyQueue = c.replyQueue[1:]
	return pc
}

// failLocked rejects every outstanding promise with err, clears
// transaction/pipeline state, marks the connection dead, forgets cached
// script digests, and notifies the pool. Caller must hold c.mu; it is
// released (and re-acquired) internally because onLost must not be
// called while holding it.
func (c *Conn) failLocked(err error) {
	if c.closed {
		return
	}
	c.closed = true

	queue := c.replyQueue
	c.replyQueue = nil
	pipePending := c.pipePending
	c.pipePending = nil
	c.pipeBuf = nil
	txCommit := c.txCommit
	c.txCommit = nil
	c.scriptDigests = make(map[string]struct{})

	c.mu.Unlock()
	for _, pc := range queue {
		pc.future.resolve(Result{Err: ErrConnectionLost})
	}
	for _, pc := range pipePending {
		pc.future.resolve(Result{Err: ErrConnectionLost})
	}
	if txCommit != nil {
		txCommit.resolve(Result{Err: ErrConnectionLost})
	}
	clog.WithField("conn", c.id).Warnf("redisq: connection lost: %v", err)
	if c.onLost != nil {
		c.onLost(c, err)
	}
	c.mu.Lock()
}

// RecordScript remembers a digest as cached on the server, so a later
// EVALSHA for it can skip the fallback EVAL path.
func (c *Conn) RecordScript(digest string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scriptDigests[digest] = struct{}{}
}

// HasScript reports whether digest is believed cached on the server.
func (c *Conn) HasScript(digest string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.scriptDigests[digest]
	return ok
}

// Close terminates the connection deliberately (pool shutdown).
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.failLocked(fmt.Errorf("redisq: connection closed"))
	c.mu.Unlock()
	return c.sock.Close()
}

// bufferWriter is a minimal io.Writer accumulator used to pre-encode a
// pipelined frame before it is flushed in one socket Write.
type bufferWriter struct{ b []byte }

func (w *bufferWriter) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}
