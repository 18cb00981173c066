package conn

import (
	"context"

	"redisq/internal/proto"
)

// Watch sends WATCH for the given keys. The first call on a connection
// flips it into transaction mode, pinning it to the caller; subsequent
// calls just queue additional keys.
func (c *Conn) Watch(ctx context.Context, keys [][]byte) error {
	c.mu.Lock()
	if c.mode == ModePipeline {
		c.mu.Unlock()
		return ErrAlreadyPinned
	}
	c.mode = ModeTransaction
	c.watching = true
	c.mu.Unlock()

	return c.simpleCommand(ctx, "WATCH", keys)
}

// Multi sends MULTI, optionally preceded by WATCH(keys) when keys is
// non-empty, and opens the queuing body: subsequent Execute calls on
// this Conn are queued server-side ("+QUEUED") instead of resolved
// directly.
func (c *Conn) Multi(ctx context.Context, keys [][]byte) error {
	if len(keys) > 0 {
		if err := c.Watch(ctx, keys); err != nil {
			return err
		}
	}

	c.mu.Lock()
	if c.mode == ModePipeline {
		c.mu.Unlock()
		return ErrAlreadyPinned
	}
	c.mode = ModeTransaction
	c.mu.Unlock()

	if err := c.simpleCommand(ctx, "MULTI", nil); err != nil {
		return err
	}

	c.mu.Lock()
	c.multiOpen = true
	c.txQueued = 0
	c.txPostProcs = nil
	c.mu.Unlock()
	return nil
}

// Commit sends EXEC and returns the array of per-command results, with
// post-procs applied positionally. A nil EXEC reply (server aborted the
// transaction because a watched key changed) surfaces as ErrWatchFailed.
// Either way, the connection's transaction state is cleared before
// Commit returns, which is what makes the connection eligible to go
// back to the pool's free channel.
func (c *Conn) Commit(ctx context.Context) ([]proto.Reply, error) {
	c.mu.Lock()
	if c.mode != ModeTransaction || !c.multiOpen {
		c.mu.Unlock()
		return nil, ErrNotInTransaction
	}
	commit := newFuture()
	c.txCommit = commit
	c.mu.Unlock()

	if err := proto.EncodeCommand(c.w, [][]byte{[]byte("EXEC")}); err != nil {
		return nil, err
	}
	c.mu.Lock()
	if err := c.w.Flush(); err != nil {
		c.failLocked(err)
		c.mu.Unlock()
		return nil, err
	}
	c.mu.Unlock()

	reply, err := commit.Await(ctx)
	if err != nil {
		return nil, err
	}
	if reply.Kind == proto.KindError {
		return nil, reply.Err
	}
	if reply.IsNull {
		return nil, ErrWatchFailed
	}
	return reply.Array, nil
}

// finishTransactionLocked applies positional post-procs (or reports a
// watch failure) and clears transaction state. Caller must hold c.mu;
// it is released while resolving the commit Future, matching the
// discipline failLocked uses.
func (c *Conn) finishTransactionLocked(reply proto.Reply) {
	commit := c.txCommit
	postProcs := c.txPostProcs
	c.clearTxLocked()
	c.mu.Unlock()

	if commit == nil {
		return
	}
	if reply.IsNull {
		commit.resolve(Result{Err: ErrWatchFailed})
		return
	}
	out := make([]proto.Reply, len(reply.Array))
	values := make([]any, len(reply.Array))
	for i, el := range reply.Array {
		if i < len(postProcs) && postProcs[i] != nil {
			el = postProcs[i](el)
		}
		el = c.coerce(el)
		out[i] = el
		values[i] = el.Value
	}
	commit.resolve(Result{Reply: proto.Reply{Kind: proto.KindArray, Array: out, Value: values}})
}

// Discard sends DISCARD, clears transaction state, and releases the
// pinned connection.
func (c *Conn) Discard(ctx context.Context) error {
	c.mu.Lock()
	if c.mode != ModeTransaction {
		c.mu.Unlock()
		return ErrNotInTransaction
	}
	c.mu.Unlock()

	err := c.simpleCommand(ctx, "DISCARD", nil)

	c.mu.Lock()
	c.clearTxLocked()
	c.mu.Unlock()
	return err
}

// Unwatch, outside a MULTI body, sends UNWATCH and clears the session
// (releasing the connection). Inside a MULTI body it is just another
// queued command: the server stages it like any other, so transaction
// state is left untouched and the caller must still Commit or Discard.
func (c *Conn) Unwatch(ctx context.Context) error {
	c.mu.Lock()
	insideMulti := c.multiOpen
	watching := c.watching
	c.mu.Unlock()

	if !insideMulti && !watching {
		return ErrNotInTransaction
	}

	if insideMulti {
		future, err := c.Execute("UNWATCH", nil)
		if err != nil {
			return err
		}
		_, err = future.Await(ctx)
		return err
	}

	if err := c.simpleCommand(ctx, "UNWATCH", nil); err != nil {
		return err
	}
	c.mu.Lock()
	c.clearTxLocked()
	c.mu.Unlock()
	return nil
}

// clearTxLocked resets all transaction bookkeeping. Caller must hold c.mu.
func (c *Conn) clearTxLocked() {
	c.mode = ModeNormal
	c.watching = false
	c.multiOpen = false
	c.txQueued = 0
	c.txPostProcs = nil
	c.txCommit = nil
}

// simpleCommand sends name+args and awaits a single non-array reply,
// surfacing a server -ERR as an error. Used for the transaction control
// commands (WATCH/MULTI/DISCARD/UNWATCH), which always get a direct
// reply even while mode is Transaction (only commands queued after
// MULTI's OK get the "+QUEUED" treatment).
func (c *Conn) simpleCommand(ctx context.Context, name string, args [][]byte) error {
	future, err := c.Execute(name, args)
	if err != nil {
		return err
	}
	reply, err := future.Await(ctx)
	if err != nil {
		return err
	}
	if reply.Kind == proto.KindError {
		return reply.Err
	}
	return nil
}
