package conn

import (
	"context"

	"redisq/internal/proto"
)

// Result is what a pending command resolves to: either a Reply or an
// error (connection loss, protocol violation, or a server -ERR reply
// surfaced as *proto.ServerError via errors.As).
type Result struct {
	Reply proto.Reply
	Err   error
}

// Future is the promise a caller awaits for a single command's reply.
type Future struct {
	ch chan Result
}

func newFuture() *Future {
	return &Future{ch: make(chan Result, 1)}
}

func (f *Future) resolve(r Result) {
	select {
	case f.ch <- r:
	default:
		// A Future is only ever resolved once by its owning connection;
		// a second resolve would indicate a bookkeeping bug upstream.
	}
}

// Await blocks until the reply arrives, the connection dies, or ctx is
// done — whichever happens first.
func (f *Future) Await(ctx context.Context) (proto.Reply, error) {
	select {
	case r := <-f.ch:
		return r.Reply, r.Err
	case <-ctx.Done():
		return proto.Reply{}, ctx.Err()
	}
}

// postProc is a reply-transforming callback, applied either to a single
// command's resolved reply (normal mode) or positionally to each element
// of an EXEC array (transaction mode).
type postProc func(proto.Reply) proto.Reply

// pendingCmd is one entry in a connection's reply queue: a Future
// awaiting its reply, plus an optional post-proc.
type pendingCmd struct {
	future   *Future
	postProc postProc
}
