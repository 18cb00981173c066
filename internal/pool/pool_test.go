package pool

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redisq/internal/conn"
	"redisq/internal/proto"
)

// listenOK starts a listener that accepts connections and replies +OK
// to everything, mirroring the fake transport used in internal/conn's
// tests but over a real TCP socket since Pool dials by address.
func listenOK(t *testing.T) (addr string, closeAll func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var mu sync.Mutex
	var socks []net.Conn
	done := make(chan struct{})

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			socks = append(socks, c)
			mu.Unlock()
			go serveOK(c)
		}
	}()

	return ln.Addr().String(), func() {
		close(done)
		ln.Close()
		mu.Lock()
		for _, s := range socks {
			s.Close()
		}
		mu.Unlock()
	}
}

func serveOK(c net.Conn) {
	var p proto.Parser
	buf := make([]byte, 4096)
	for {
		n, err := c.Read(buf)
		if n > 0 {
			p.Feed(buf[:n])
			for {
				_, ok, perr := p.Next()
				if perr != nil || !ok {
					break
				}
				if werr := proto.EncodeReply(c, proto.Status("OK")); werr != nil {
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func TestPoolFillsToConfiguredSize(t *testing.T) {
	addr, closeAll := listenOK(t)
	defer closeAll()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	p, err := New(ctx, conn.Config{Network: "tcp", Addr: addr}, 3, false, true)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Size())
	assert.Equal(t, 3, p.Live())
}

func TestGetConnectionDoesNotStarvePool(t *testing.T) {
	addr, closeAll := listenOK(t)
	defer closeAll()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	p, err := New(ctx, conn.Config{Network: "tcp", Addr: addr}, 2, false, true)
	require.NoError(t, err)

	// Hold one connection (simulating a blocking command) while another
	// caller still gets served from the remaining free connection.
	held, err := p.GetConnection(ctx, false)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		other, err := p.GetConnection(ctx, false)
		assert.NoError(t, err)
		assert.NotNil(t, other)
		p.Put(other)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second GetConnection blocked despite a free connection")
	}

	p.Put(held)
}

func TestGetConnectionTimesOutWhenPoolExhausted(t *testing.T) {
	addr, closeAll := listenOK(t)
	defer closeAll()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	p, err := New(ctx, conn.Config{Network: "tcp", Addr: addr}, 1, false, true)
	require.NoError(t, err)

	held, err := p.GetConnection(ctx, false)
	require.NoError(t, err)
	defer p.Put(held)

	shortCtx, cancel2 := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel2()
	_, err = p.GetConnection(shortCtx, false)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLazyPoolReadyClosesOnceFilled(t *testing.T) {
	addr, closeAll := listenOK(t)
	defer closeAll()

	p, err := New(context.Background(), conn.Config{Network: "tcp", Addr: addr}, 2, true, true)
	require.NoError(t, err)

	select {
	case <-p.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("lazy pool never became ready")
	}
	assert.Equal(t, 2, p.Live())
}

func TestDisconnectDrainsPool(t *testing.T) {
	addr, closeAll := listenOK(t)
	defer closeAll()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	p, err := New(ctx, conn.Config{Network: "tcp", Addr: addr}, 2, false, true)
	require.NoError(t, err)

	require.NoError(t, p.Disconnect(ctx))
	assert.Equal(t, 0, p.Live())

	_, err = p.GetConnection(ctx, false)
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestDeadConnectionDiscardedFromFreeChannel(t *testing.T) {
	addr, closeAll := listenOK(t)
	defer closeAll()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	p, err := New(ctx, conn.Config{Network: "tcp", Addr: addr}, 2, false, false)
	require.NoError(t, err)

	c1, err := p.GetConnection(ctx, false)
	require.NoError(t, err)
	c2, err := p.GetConnection(ctx, false)
	require.NoError(t, err)

	c1.Close()
	p.free <- c1
	p.free <- c2

	got, err := p.GetConnection(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, c2.ID(), got.ID())
}
