package redisq

import (
	"context"

	"redisq/internal/conn"
	"redisq/internal/proto"
)

// MessageFunc receives a pub/sub push: pattern is empty unless the
// message arrived via a pattern subscription (PMESSAGE).
type MessageFunc func(pattern, channel string, payload []byte)

// Subscriber wraps a dedicated connection taken permanently out of pool
// rotation once it starts subscribing. Every array reply that isn't a
// direct response to Subscribe/Unsubscribe (i.e. a "message"/"pmessage"
// push) is dispatched to the registered MessageFunc instead of
// resolving a Future.
type Subscriber struct {
	c  *conn.Conn
	cb MessageFunc
}

// NewSubscriber dials a single dedicated connection and wires its push
// replies to cb.
func NewSubscriber(ctx context.Context, cb MessageFunc, opts ...Option) (*Subscriber, error) {
	cfg := defaultConfig()
	cfg.poolSize = 1
	for _, o := range opts {
		o(&cfg)
	}

	c, err := conn.New(ctx, "subscriber", cfg.connConfig(), nil)
	if err != nil {
		return nil, err
	}

	s := &Subscriber{c: c, cb: cb}
	c.SetPushHandler(s.dispatch)
	return s, nil
}

func (s *Subscriber) dispatch(reply proto.Reply) {
	if reply.Kind != proto.KindArray || len(reply.Array) < 3 {
		return
	}
	kind := reply.Array[0].String()
	switch kind {
	case "message":
		channel := reply.Array[1].String()
		s.cb("", channel, reply.Array[2].Bulk)
	case "pmessage":
		if len(reply.Array) < 4 {
			return
		}
		pattern := reply.Array[1].String()
		channel := reply.Array[2].String()
		s.cb(pattern, channel, reply.Array[3].Bulk)
	}
}

// Subscribe issues SUBSCRIBE for the given channels.
func (s *Subscriber) Subscribe(ctx context.Context, channels ...string) error {
	return s.command(ctx, "SUBSCRIBE", channels)
}

// Unsubscribe issues UNSUBSCRIBE for the given channels.
func (s *Subscriber) Unsubscribe(ctx context.Context, channels ...string) error {
	return s.command(ctx, "UNSUBSCRIBE", channels)
}

// PSubscribe issues PSUBSCRIBE for the given patterns.
func (s *Subscriber) PSubscribe(ctx context.Context, patterns ...string) error {
	return s.command(ctx, "PSUBSCRIBE", patterns)
}

// PUnsubscribe issues PUNSUBSCRIBE for the given patterns.
func (s *Subscriber) PUnsubscribe(ctx context.Context, patterns ...string) error {
	return s.command(ctx, "PUNSUBSCRIBE", patterns)
}

func (s *Subscriber) command(ctx context.Context, name string, items []string) error {
	args := make([][]byte, len(items))
	for i, v := range items {
		args[i] = []byte(v)
	}
	future, err := s.c.Execute(name, args)
	if err != nil {
		return err
	}
	_, err = future.Await(ctx)
	return err
}

// Close terminates the subscriber's connection.
func (s *Subscriber) Close() error { return s.c.Close() }

// Monitor wraps a dedicated connection running MONITOR: every line the
// server streams is a push reply dispatched to cb, same as Subscriber
// but with no sub/unsub bookkeeping.
type Monitor struct {
	c  *conn.Conn
	cb func(line string)
}

// NewMonitor dials a dedicated connection and issues MONITOR, streaming
// every subsequent line to cb.
func NewMonitor(ctx context.Context, cb func(line string), opts ...Option) (*Monitor, error) {
	cfg := defaultConfig()
	cfg.poolSize = 1
	for _, o := range opts {
		o(&cfg)
	}

	c, err := conn.New(ctx, "monitor", cfg.connConfig(), nil)
	if err != nil {
		return nil, err
	}

	m := &Monitor{c: c, cb: cb}
	c.SetPushHandler(m.dispatch)

	future, err := c.Execute("MONITOR", nil)
	if err != nil {
		c.Close()
		return nil, err
	}
	if _, err := future.Await(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return m, nil
}

func (m *Monitor) dispatch(reply proto.Reply) {
	m.cb(reply.String())
}

// Stop closes the monitor's connection, ending the stream.
func (m *Monitor) Stop() error { return m.c.Close() }
