package redisq

import (
	"errors"

	"redisq/internal/conn"
	"redisq/internal/proto"
)

// Re-exported connection-level sentinels, so callers never need to
// import internal/conn directly.
var (
	ErrNotConnected     = conn.ErrNotConnected
	ErrConnectionLost   = conn.ErrConnectionLost
	ErrInvalidEncoding  = conn.ErrInvalidEncoding
	ErrNotInTransaction = conn.ErrNotInTransaction
	ErrAlreadyPinned    = conn.ErrAlreadyPinned
	ErrNoScriptRunning  = conn.ErrNoScriptRunning
	ErrWatchFailed      = conn.ErrWatchFailed
)

// ErrNotShardable is returned when a command outside the sharded
// whitelist is issued on a ShardedHandler, or Pipeline is attempted on
// one (pipelining cross-shard writes as a single batch isn't meaningful
// since each shard has its own socket).
var ErrNotShardable = errors.New("redisq: command cannot be routed across shards")

// ErrScriptMissing wraps a NOSCRIPT server error: EVALSHA referenced a
// digest the server hasn't cached. errors.As unwraps to the underlying
// *proto.ServerError for the raw server message.
type ErrScriptMissing struct {
	Digest string
	Err    *proto.ServerError
}

func (e *ErrScriptMissing) Error() string {
	return "redisq: script " + e.Digest + " not cached on server"
}

func (e *ErrScriptMissing) Unwrap() error { return e.Err }

func isScriptMissing(err error) bool {
	var se *proto.ServerError
	if !errors.As(err, &se) {
		return false
	}
	return se.Kind == conn.ScriptMissingPrefix
}
