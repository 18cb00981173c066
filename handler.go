package redisq

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"unicode/utf8"

	"redisq/internal/clog"
	"redisq/internal/conn"
	"redisq/internal/pool"
	"redisq/internal/proto"
)

// Handler is the connection-pooled facade a caller interacts with: most
// commands grab any free connection from the pool and return it
// immediately, while WATCH/MULTI/Pipeline pin one connection exclusively
// until the session ends (Commit/Discard/ExecutePipeline).
type Handler struct {
	pool *pool.Pool
	cfg  config

	mu      sync.Mutex
	pinned  *conn.Conn
	pinKind string // "tx" or "pipe", empty when unpinned
}

// Connect dials cfg.poolSize connections and blocks (respecting ctx)
// until the pool is full.
func Connect(ctx context.Context, opts ...Option) (*Handler, error) {
	return connect(ctx, false, opts...)
}

// ConnectLazy returns a Handler immediately; connections dial in the
// background. Handler.Ready() reports when the pool has filled.
func ConnectLazy(opts ...Option) *Handler {
	h, err := connect(context.Background(), true, opts...)
	if err != nil {
		// connect only returns an error on eager mode's blocking wait,
		// which lazy mode never takes.
		panic(fmt.Sprintf("redisq: unreachable lazy connect error: %v", err))
	}
	return h
}

func connect(ctx context.Context, lazy bool, opts ...Option) (*Handler, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	clog.Init(cfg.logLevel)

	p, err := pool.New(ctx, cfg.connConfig(), cfg.poolSize, lazy, cfg.reconnect)
	if err != nil {
		return nil, err
	}
	return &Handler{pool: p, cfg: cfg}, nil
}

// Ready returns a channel closed once the pool has filled to its
// configured size.
func (h *Handler) Ready() <-chan struct{} { return h.pool.Ready() }

// Disconnect stops reconnecting and closes every pooled connection,
// blocking (respecting ctx) until the pool has drained.
func (h *Handler) Disconnect(ctx context.Context) error {
	return h.pool.Disconnect(ctx)
}

// argToBytes converts a convenience-command argument into the raw bytes
// the wire protocol expects. charset == "utf-8" rejects string arguments
// that aren't valid UTF-8, matching the decode side's own charset gate
// in internal/proto.Coerce.
func argToBytes(a any, charset string) ([]byte, error) {
	switch v := a.(type) {
	case []byte:
		return v, nil
	case string:
		if charset != "" && !utf8.ValidString(v) {
			return nil, conn.ErrInvalidEncoding
		}
		return []byte(v), nil
	case int:
		return []byte(strconv.Itoa(v)), nil
	case int64:
		return []byte(strconv.FormatInt(v, 10)), nil
	case float64:
		// Fixed-point with at least 6 fractional digits, matching how a
		// numeric reply round-trips back through value coercion.
		return []byte(strconv.FormatFloat(v, 'f', 6, 64)), nil
	case bool:
		if v {
			return []byte("1"), nil
		}
		return []byte("0"), nil
	default:
		return nil, fmt.Errorf("redisq: unsupported argument type %T", a)
	}
}

func encodeArgs(args []any, charset string) ([][]byte, error) {
	out := make([][]byte, len(args))
	for i, a := range args {
		b, err := argToBytes(a, charset)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// Execute sends a single command to any free connection from the pool
// (or the pinned connection, if a transaction or pipeline is open) and
// returns its reply. This is the catalogue-agnostic entry point; every
// convenience wrapper below is a thin call into it. While a pipeline is
// open the command is only buffered and Execute returns a nil reply; its
// result appears in ExecutePipeline's slice.
func (h *Handler) Execute(ctx context.Context, name string, args ...any) (*proto.Reply, error) {
	encoded, err := encodeArgs(args, h.cfg.charset)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	pinned := h.pinned
	pinKind := h.pinKind
	h.mu.Unlock()

	if pinned != nil {
		if pinKind == "pipe" {
			if _, err := pinned.Execute(name, encoded); err != nil {
				return nil, err
			}
			return nil, nil
		}
		return h.executeOn(ctx, pinned, name, encoded)
	}

	c, err := h.pool.GetConnection(ctx, false)
	if err != nil {
		return nil, err
	}
	defer h.pool.Put(c)
	return h.executeOn(ctx, c, name, encoded)
}

func (h *Handler) executeOn(ctx context.Context, c *conn.Conn, name string, args [][]byte) (*proto.Reply, error) {
	future, err := c.Execute(name, args)
	if err != nil {
		return nil, err
	}
	reply, err := future.Await(ctx)
	if err != nil {
		return nil, err
	}
	if reply.Kind == proto.KindError {
		if name == "EVALSHA" && isScriptMissing(reply.Err) {
			digest := ""
			if len(args) > 0 {
				digest = string(args[0])
			}
			return nil, &ErrScriptMissing{Digest: digest, Err: reply.Err}
		}
		return nil, reply.Err
	}
	return &reply, nil
}

// EvalSha runs EVALSHA for digest when the digest is recorded as cached
// on the connection it uses; otherwise, or if the server reports
// NOSCRIPT, it runs EVAL with script on that same connection and records
// the digest there once EVAL succeeds, so later calls try EVALSHA first.
func (h *Handler) EvalSha(ctx context.Context, digest, script string, keys []string, args []string) (*proto.Reply, error) {
	c, err := h.pinnedOrFree(ctx)
	if err != nil {
		return nil, err
	}
	if c.conn != nil {
		defer c.release()
	}

	callArgs := make([]any, 0, 2+len(keys)+len(args))
	callArgs = append(callArgs, len(keys))
	for _, k := range keys {
		callArgs = append(callArgs, k)
	}
	for _, a := range args {
		callArgs = append(callArgs, a)
	}

	encoded, err := encodeArgs(callArgs, h.cfg.charset)
	if err != nil {
		return nil, err
	}

	if c.sock.HasScript(digest) {
		reply, err := h.executeOn(ctx, c.sock, "EVALSHA", append([][]byte{[]byte(digest)}, encoded...))
		if err == nil {
			return reply, nil
		}
		var missing *ErrScriptMissing
		if !errors.As(err, &missing) {
			return nil, err
		}
	}

	scriptArgs := make([]any, 0, 2+len(keys)+len(args))
	scriptArgs = append(scriptArgs, script, len(keys))
	for _, k := range keys {
		scriptArgs = append(scriptArgs, k)
	}
	for _, a := range args {
		scriptArgs = append(scriptArgs, a)
	}
	scriptEncoded, err := encodeArgs(scriptArgs, h.cfg.charset)
	if err != nil {
		return nil, err
	}
	reply, err := h.executeOn(ctx, c.sock, "EVAL", scriptEncoded)
	if err != nil {
		return nil, err
	}
	c.sock.RecordScript(digest)
	return reply, nil
}

// ScriptKill sends SCRIPT KILL, translating the server's "no script
// running" reply into ErrNoScriptRunning instead of a raw *proto.ServerError.
func (h *Handler) ScriptKill(ctx context.Context) error {
	_, err := h.Execute(ctx, "SCRIPT", "KILL")
	if err == nil {
		return nil
	}
	var se *proto.ServerError
	if errors.As(err, &se) && se.Kind == conn.NoScriptPrefix {
		return ErrNoScriptRunning
	}
	return err
}

// pinnedConn is either the handler's currently pinned connection (no
// release needed) or a freshly borrowed one (must be released).
type pinnedConn struct {
	sock *conn.Conn
	conn *conn.Conn // non-nil when borrowed and must be released
	h    *Handler
}

func (c pinnedConn) release() { c.h.pool.Put(c.conn) }

func (h *Handler) pinnedOrFree(ctx context.Context) (pinnedConn, error) {
	h.mu.Lock()
	pinned := h.pinned
	h.mu.Unlock()
	if pinned != nil {
		return pinnedConn{sock: pinned, h: h}, nil
	}
	c, err := h.pool.GetConnection(ctx, false)
	if err != nil {
		return pinnedConn{}, err
	}
	return pinnedConn{sock: c, conn: c, h: h}, nil
}

// Watch sends WATCH for the given keys on the pinned connection, pinning
// a free one first if none is pinned.
func (h *Handler) Watch(ctx context.Context, keys ...string) error {
	h.mu.Lock()
	already := h.pinned
	h.mu.Unlock()

	c := already
	if c == nil {
		var err error
		c, err = h.pool.GetConnection(ctx, false)
		if err != nil {
			return err
		}
	}
	kb := make([][]byte, len(keys))
	for i, k := range keys {
		kb[i] = []byte(k)
	}
	if err := c.Watch(ctx, kb); err != nil {
		if already == nil {
			h.pool.Put(c)
		}
		return err
	}
	h.mu.Lock()
	h.pinned = c
	h.pinKind = "tx"
	h.mu.Unlock()
	return nil
}

// Multi opens a transaction, optionally watching keys first. It pins a
// connection for the duration of the transaction.
func (h *Handler) Multi(ctx context.Context, keys ...string) error {
	h.mu.Lock()
	already := h.pinned
	h.mu.Unlock()

	var c *conn.Conn
	if already != nil {
		c = already
	} else {
		var err error
		c, err = h.pool.GetConnection(ctx, false)
		if err != nil {
			return err
		}
	}

	kb := make([][]byte, len(keys))
	for i, k := range keys {
		kb[i] = []byte(k)
	}
	if err := c.Multi(ctx, kb); err != nil {
		if already == nil {
			h.pool.Put(c)
		}
		return err
	}

	h.mu.Lock()
	h.pinned = c
	h.pinKind = "tx"
	h.mu.Unlock()
	return nil
}

// Commit sends EXEC and unpins the connection, win or lose.
func (h *Handler) Commit(ctx context.Context) ([]proto.Reply, error) {
	c, err := h.takePinned("tx")
	if err != nil {
		return nil, err
	}
	defer h.pool.Put(c)
	return c.Commit(ctx)
}

// Discard sends DISCARD and unpins the connection.
func (h *Handler) Discard(ctx context.Context) error {
	c, err := h.takePinned("tx")
	if err != nil {
		return err
	}
	defer h.pool.Put(c)
	return c.Discard(ctx)
}

// Unwatch sends UNWATCH. Outside a MULTI body this also unpins the
// connection; inside one the pin is left in place since the caller must
// still Commit or Discard.
func (h *Handler) Unwatch(ctx context.Context) error {
	h.mu.Lock()
	c := h.pinned
	h.mu.Unlock()
	if c == nil {
		return conn.ErrNotInTransaction
	}
	if err := c.Unwatch(ctx); err != nil {
		return err
	}
	if c.Mode() == conn.ModeNormal {
		h.mu.Lock()
		h.pinned = nil
		h.pinKind = ""
		h.mu.Unlock()
		h.pool.Put(c)
	}
	return nil
}

// Pipeline pins a connection and flips it into pipeline mode. It fails
// with ErrAlreadyPinned while a transaction or pipeline is already open.
func (h *Handler) Pipeline(ctx context.Context) error {
	h.mu.Lock()
	already := h.pinned != nil
	h.mu.Unlock()
	if already {
		return conn.ErrAlreadyPinned
	}

	c, err := h.pool.GetConnection(ctx, false)
	if err != nil {
		return err
	}
	if err := c.Pipeline(); err != nil {
		h.pool.Put(c)
		return err
	}
	h.mu.Lock()
	h.pinned = c
	h.pinKind = "pipe"
	h.mu.Unlock()
	return nil
}

// ExecutePipeline flushes the buffered pipeline and unpins the connection.
func (h *Handler) ExecutePipeline(ctx context.Context) ([]proto.Reply, error) {
	c, err := h.takePinned("pipe")
	if err != nil {
		return nil, err
	}
	defer h.pool.Put(c)
	return c.ExecutePipeline(ctx)
}

func (h *Handler) takePinned(kind string) (*conn.Conn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pinned == nil || h.pinKind != kind {
		return nil, conn.ErrNotInTransaction
	}
	c := h.pinned
	h.pinned = nil
	h.pinKind = ""
	return c, nil
}

// --- convenience commands ---

func (h *Handler) Get(ctx context.Context, key string) (*proto.Reply, error) {
	return h.Execute(ctx, "GET", key)
}

func (h *Handler) Set(ctx context.Context, key string, value any) (*proto.Reply, error) {
	return h.Execute(ctx, "SET", key, value)
}

func (h *Handler) Del(ctx context.Context, keys ...string) (*proto.Reply, error) {
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	return h.Execute(ctx, "DEL", args...)
}

func (h *Handler) MGet(ctx context.Context, keys ...string) (*proto.Reply, error) {
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	return h.Execute(ctx, "MGET", args...)
}

func (h *Handler) MSet(ctx context.Context, pairs map[string]any) (*proto.Reply, error) {
	args := make([]any, 0, len(pairs)*2)
	for k, v := range pairs {
		args = append(args, k, v)
	}
	return h.Execute(ctx, "MSET", args...)
}

func (h *Handler) HMSet(ctx context.Context, key string, fields map[string]any) (*proto.Reply, error) {
	args := make([]any, 0, 1+len(fields)*2)
	args = append(args, key)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return h.Execute(ctx, "HMSET", args...)
}

func (h *Handler) HGetAll(ctx context.Context, key string) (*proto.Reply, error) {
	return h.Execute(ctx, "HGETALL", key)
}

func (h *Handler) Scan(ctx context.Context, cursor int64, match string, count int) (*proto.Reply, error) {
	args := []any{cursor}
	if match != "" {
		args = append(args, "MATCH", match)
	}
	if count > 0 {
		args = append(args, "COUNT", count)
	}
	return h.Execute(ctx, "SCAN", args...)
}

func (h *Handler) BRPop(ctx context.Context, timeout int, keys ...string) (*proto.Reply, error) {
	args := make([]any, 0, len(keys)+1)
	for _, k := range keys {
		args = append(args, k)
	}
	args = append(args, timeout)
	return h.Execute(ctx, "BRPOP", args...)
}

func (h *Handler) Publish(ctx context.Context, channel string, payload any) (*proto.Reply, error) {
	return h.Execute(ctx, "PUBLISH", channel, payload)
}
