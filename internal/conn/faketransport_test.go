package conn

import (
	"net"
	"sync"

	"redisq/internal/proto"
)

// fakeServer plays the server side of a net.Pipe() socket, decoding
// command frames with the same proto.Parser the client uses (requests
// and replies share the same array/bulk-string grammar) and dispatching
// each to a caller-supplied handler.
type fakeServer struct {
	conn    net.Conn
	handler func(args []string) proto.Reply

	mu     sync.Mutex
	writes [][]byte
}

func newFakeServer(conn net.Conn, handler func(args []string) proto.Reply) *fakeServer {
	s := &fakeServer{conn: conn, handler: handler}
	go s.run()
	return s
}

func (s *fakeServer) run() {
	var p proto.Parser
	buf := make([]byte, 4096)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			s.mu.Lock()
			s.writes = append(s.writes, chunk)
			s.mu.Unlock()

			p.Feed(chunk)
			for {
				reply, ok, perr := p.Next()
				if perr != nil || !ok {
					break
				}
				args := make([]string, len(reply.Array))
				for i, el := range reply.Array {
					args[i] = string(el.Bulk)
				}
				resp := s.handler(args)
				proto.EncodeReply(s.conn, resp)
			}
		}
		if err != nil {
			return
		}
	}
}

// WriteCount reports how many separate Read calls observed data, which
// for a net.Pipe() transport corresponds 1:1 with the peer's Write
// calls — used to assert that a pipelined batch hits the wire once.
func (s *fakeServer) WriteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

func (s *fakeServer) Close() { s.conn.Close() }

// okServer always replies +OK, useful when the test only cares about a
// handshake succeeding.
func okServer(conn net.Conn) *fakeServer {
	return newFakeServer(conn, func(args []string) proto.Reply {
		return proto.Status("OK")
	})
}
