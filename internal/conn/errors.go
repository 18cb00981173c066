package conn

import "errors"

// Sentinel errors. Each is a distinct value so callers can
// errors.Is/errors.As instead of matching on error strings.
var (
	// ErrNotConnected means the socket is down; refused before any bytes
	// are written.
	ErrNotConnected = errors.New("redisq: not connected")

	// ErrConnectionLost means the socket died while a reply was pending.
	ErrConnectionLost = errors.New("redisq: connection lost while awaiting response")

	// ErrInvalidEncoding means an outgoing argument cannot be encoded
	// under the connection's configured charset.
	ErrInvalidEncoding = errors.New("redisq: cannot encode argument in configured charset")

	// ErrNotInTransaction is raised by EXEC/DISCARD/UNWATCH misuse
	// outside an open MULTI/WATCH session.
	ErrNotInTransaction = errors.New("redisq: not in transaction")

	// ErrAlreadyPinned is raised when a second WATCH/MULTI/Pipeline is
	// attempted on a connection already pinned to another session kind.
	ErrAlreadyPinned = errors.New("redisq: connection already pinned to a transaction or pipeline")

	// ErrNoScriptRunning is SCRIPT KILL issued while no script executes.
	ErrNoScriptRunning = errors.New("redisq: no script is running")

	// ErrWatchFailed reports that EXEC returned nil because a watched
	// key changed before commit.
	ErrWatchFailed = errors.New("redisq: transaction failed, watched key changed")
)

// ScriptMissingPrefix is the server error kind that signals EVALSHA hit
// an uncached digest.
const ScriptMissingPrefix = "NOSCRIPT"

// NoScriptPrefix is the server error kind for SCRIPT KILL while idle.
const NoScriptPrefix = "NOTBUSY"
