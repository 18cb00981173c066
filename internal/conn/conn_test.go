package conn

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redisq/internal/proto"
)

func dialFake(t *testing.T, handler func(args []string) proto.Reply) (*Conn, *fakeServer) {
	t.Helper()
	client, server := net.Pipe()
	fs := newFakeServer(server, handler)
	t.Cleanup(fs.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	c, err := newFromSocket(ctx, "test-conn", Config{Network: "tcp", Addr: "fake", DB: -1}, client, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, fs
}

func TestHandshakeSucceedsWithNoAuthNoSelect(t *testing.T) {
	c, _ := dialFake(t, func(args []string) proto.Reply { return proto.Status("OK") })
	assert.True(t, c.Alive())
}

func TestHandshakeSendsAuthAndSelect(t *testing.T) {
	var seen [][]string
	client, server := net.Pipe()
	fs := newFakeServer(server, func(args []string) proto.Reply {
		seen = append(seen, args)
		return proto.Status("OK")
	})
	defer fs.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	c, err := newFromSocket(ctx, "id", Config{Network: "tcp", Addr: "fake", Password: "secret", DB: 2}, client, nil)
	require.NoError(t, err)
	defer c.Close()

	require.Len(t, seen, 2)
	assert.Equal(t, []string{"AUTH", "secret"}, seen[0])
	assert.Equal(t, []string{"SELECT", "2"}, seen[1])
}

func TestHandshakeFailsOnAuthError(t *testing.T) {
	client, server := net.Pipe()
	fs := newFakeServer(server, func(args []string) proto.Reply {
		return proto.Reply{Kind: proto.KindError, Err: &proto.ServerError{Kind: "ERR", Message: "invalid password"}}
	})
	defer fs.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := newFromSocket(ctx, "id", Config{Network: "tcp", Addr: "fake", Password: "wrong"}, client, nil)
	assert.Error(t, err)
}

func TestExecuteResolvesInFIFOOrder(t *testing.T) {
	c, _ := dialFake(t, func(args []string) proto.Reply {
		return proto.Bulk(args[len(args)-1])
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	f1, err := c.Execute("GET", [][]byte{[]byte("a")})
	require.NoError(t, err)
	f2, err := c.Execute("GET", [][]byte{[]byte("b")})
	require.NoError(t, err)
	f3, err := c.Execute("GET", [][]byte{[]byte("c")})
	require.NoError(t, err)

	r1, err := f1.Await(ctx)
	require.NoError(t, err)
	r2, err := f2.Await(ctx)
	require.NoError(t, err)
	r3, err := f3.Await(ctx)
	require.NoError(t, err)

	assert.Equal(t, "a", string(r1.Bulk))
	assert.Equal(t, "b", string(r2.Bulk))
	assert.Equal(t, "c", string(r3.Bulk))
}

func TestConnectionLossRejectsAllPending(t *testing.T) {
	client, server := net.Pipe()
	fs := newFakeServer(server, func(args []string) proto.Reply { return proto.Status("OK") })
	defer fs.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	c, err := newFromSocket(ctx, "id", Config{Network: "tcp", Addr: "fake"}, client, nil)
	require.NoError(t, err)

	var futures []*Future
	for i := 0; i < 3; i++ {
		f, err := c.Execute("PING", nil)
		require.NoError(t, err)
		futures = append(futures, f)
	}

	// Kill the transport out from under the read loop instead of going
	// through Close, so the pending commands above are genuinely
	// in-flight when the connection dies.
	server.Close()

	for _, f := range futures {
		_, err := f.Await(ctx)
		assert.ErrorIs(t, err, ErrConnectionLost)
	}
	assert.False(t, c.Alive())

	_, err = c.Execute("PING", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestOnLostCalledExactlyOnce(t *testing.T) {
	client, server := net.Pipe()
	fs := newFakeServer(server, func(args []string) proto.Reply { return proto.Status("OK") })
	defer fs.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	lostCh := make(chan error, 4)
	c, err := newFromSocket(ctx, "id", Config{Network: "tcp", Addr: "fake"}, client, func(_ *Conn, err error) {
		lostCh <- err
	})
	require.NoError(t, err)

	server.Close()
	select {
	case <-lostCh:
	case <-time.After(time.Second):
		t.Fatal("onLost never called")
	}

	// A second, deliberate Close must not invoke onLost again.
	c.Close()
	select {
	case <-lostCh:
		t.Fatal("onLost called twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTransactionCommitAppliesPostProcPositionally(t *testing.T) {
	step := 0
	c, _ := dialFake(t, func(args []string) proto.Reply {
		switch args[0] {
		case "WATCH", "MULTI":
			return proto.Status("OK")
		case "EXEC":
			return proto.Arr(proto.Int(1), proto.Int(2))
		default:
			step++
			return proto.Status("QUEUED")
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, c.Multi(ctx, nil))

	double := func(r proto.Reply) proto.Reply {
		return proto.Int(r.Int * 2)
	}
	f1, err := c.Execute("INCR", [][]byte{[]byte("k1")}, WithPostProc(double))
	require.NoError(t, err)
	f2, err := c.Execute("INCR", [][]byte{[]byte("k2")})
	require.NoError(t, err)

	// Both queued futures resolve immediately to QUEUED, never blocking.
	r1, err := f1.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, proto.KindStatus, r1.Kind)
	r2, err := f2.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, proto.KindStatus, r2.Kind)

	results, err := c.Commit(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(2), results[0].Int) // 1 doubled by the post-proc
	assert.Equal(t, int64(2), results[1].Int) // untouched
}

func TestCommitReturnsWatchFailedOnNullExec(t *testing.T) {
	c, _ := dialFake(t, func(args []string) proto.Reply {
		switch args[0] {
		case "WATCH", "MULTI":
			return proto.Status("OK")
		case "EXEC":
			r := proto.Arr()
			r.IsNull = true
			return r
		default:
			return proto.Status("QUEUED")
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, c.Multi(ctx, [][]byte{[]byte("k")}))
	_, err := c.Execute("GET", [][]byte{[]byte("k")})
	require.NoError(t, err)

	_, err = c.Commit(ctx)
	assert.ErrorIs(t, err, ErrWatchFailed)
	assert.Equal(t, ModeNormal, c.Mode())
}

func TestDiscardClearsTransactionState(t *testing.T) {
	c, _ := dialFake(t, func(args []string) proto.Reply { return proto.Status("OK") })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, c.Multi(ctx, nil))
	assert.Equal(t, ModeTransaction, c.Mode())
	require.NoError(t, c.Discard(ctx))
	assert.Equal(t, ModeNormal, c.Mode())
}

func TestUnwatchOutsideMultiClearsSession(t *testing.T) {
	c, _ := dialFake(t, func(args []string) proto.Reply { return proto.Status("OK") })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, c.Watch(ctx, [][]byte{[]byte("k")}))
	assert.Equal(t, ModeTransaction, c.Mode())
	require.NoError(t, c.Unwatch(ctx))
	assert.Equal(t, ModeNormal, c.Mode())
}

func TestUnwatchInsideMultiIsJustAnotherQueuedCommand(t *testing.T) {
	c, _ := dialFake(t, func(args []string) proto.Reply {
		switch args[0] {
		case "MULTI":
			return proto.Status("OK")
		case "EXEC":
			return proto.Arr(proto.Status("OK"))
		default:
			return proto.Status("QUEUED")
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, c.Multi(ctx, nil))
	require.NoError(t, c.Unwatch(ctx))
	// Transaction state survives: the caller must still Commit or Discard.
	assert.Equal(t, ModeTransaction, c.Mode())
	_, err := c.Commit(ctx)
	require.NoError(t, err)
}

func TestPipelineSendsOneSocketWrite(t *testing.T) {
	c, fs := dialFake(t, func(args []string) proto.Reply {
		return proto.Bulk(args[len(args)-1])
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	before := fs.WriteCount()

	require.NoError(t, c.Pipeline())
	f1, err := c.Execute("GET", [][]byte{[]byte("a")})
	require.NoError(t, err)
	f2, err := c.Execute("GET", [][]byte{[]byte("b")})
	require.NoError(t, err)
	f3, err := c.Execute("GET", [][]byte{[]byte("c")})
	require.NoError(t, err)

	results, err := c.ExecutePipeline(ctx)
	require.NoError(t, err)
	require.Len(t, results, 3)

	for _, f := range []*Future{f1, f2, f3} {
		_, err := f.Await(ctx)
		require.NoError(t, err)
	}

	// net.Pipe has no internal buffering, so each server-side Read call
	// corresponds to one client-side Write call: exactly one more than
	// before the pipelined batch, regardless of how many commands it held.
	assert.Equal(t, before+1, fs.WriteCount())
	assert.Equal(t, ModeNormal, c.Mode())
}

func TestPipelineRejectedWhileInTransaction(t *testing.T) {
	c, _ := dialFake(t, func(args []string) proto.Reply { return proto.Status("OK") })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, c.Multi(ctx, nil))
	assert.ErrorIs(t, c.Pipeline(), ErrAlreadyPinned)
}

func TestWatchRejectedWhileInPipeline(t *testing.T) {
	c, _ := dialFake(t, func(args []string) proto.Reply { return proto.Status("OK") })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, c.Pipeline())
	assert.ErrorIs(t, c.Watch(ctx, [][]byte{[]byte("k")}), ErrAlreadyPinned)
}

func TestScriptDigestCache(t *testing.T) {
	c, _ := dialFake(t, func(args []string) proto.Reply { return proto.Status("OK") })
	assert.False(t, c.HasScript("deadbeef"))
	c.RecordScript("deadbeef")
	assert.True(t, c.HasScript("deadbeef"))
}
