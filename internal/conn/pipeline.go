package conn

import (
	"context"

	"redisq/internal/proto"
)

// Pipeline flips the connection into pipeline mode. Subsequent Execute
// calls buffer their frame and pending Future instead of writing
// immediately.
func (c *Conn) Pipeline() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == ModeTransaction {
		return ErrAlreadyPinned
	}
	c.mode = ModePipeline
	c.pipeBuf = nil
	c.pipePending = nil
	return nil
}

// ExecutePipeline writes every buffered frame in a single socket Write,
// awaits every pending reply with a first-error-fails policy, and
// always resets mode and buffers before returning, success or failure.
func (c *Conn) ExecutePipeline(ctx context.Context) ([]proto.Reply, error) {
	c.mu.Lock()
	if c.mode != ModePipeline {
		c.mu.Unlock()
		return nil, ErrNotInTransaction
	}

	var frame []byte
	for _, f := range c.pipeBuf {
		frame = append(frame, f...)
	}
	pending := c.pipePending

	c.pipeBuf = nil
	c.pipePending = nil
	c.mode = ModeNormal

	if c.closed {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}

	if len(pending) == 0 {
		c.mu.Unlock()
		return nil, nil
	}

	// A single Write call, not routed through the shared bufio.Writer,
	// so a fake/recording transport sees exactly one write for the
	// whole batch regardless of its internal buffer size.
	_, err := c.sock.Write(frame)
	if err != nil {
		c.failLocked(err)
		c.mu.Unlock()
		return nil, err
	}
	c.replyQueue = append(c.replyQueue, pending...)
	c.mu.Unlock()

	out := make([]proto.Reply, len(pending))
	for i, pc := range pending {
		reply, err := pc.future.Await(ctx)
		if err != nil {
			return nil, err
		}
		if reply.Kind == proto.KindError {
			return nil, reply.Err
		}
		out[i] = reply
	}
	return out, nil
}
