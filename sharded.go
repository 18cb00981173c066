package redisq

import (
	"context"
	"sort"
	"sync"

	"redisq/internal/proto"
	"redisq/internal/ring"
)

// shardedMethods is the whitelist of commands safe to route through a
// consistent-hash ring: each takes exactly one key as its first
// argument and has no cross-key semantics. Translated 1:1 from
// trex/connections.py's ShardedMethods.
var shardedMethods = map[string]struct{}{
	"GET": {}, "SET": {}, "DEL": {}, "EXISTS": {}, "EXPIRE": {}, "TTL": {},
	"INCR": {}, "DECR": {}, "INCRBY": {}, "DECRBY": {}, "APPEND": {},
	"GETSET": {}, "SETNX": {}, "TYPE": {}, "LPUSH": {}, "RPUSH": {},
	"LPOP": {}, "RPOP": {}, "LLEN": {}, "LRANGE": {}, "SADD": {}, "SREM": {},
	"SMEMBERS": {}, "SISMEMBER": {}, "HSET": {}, "HGET": {}, "HDEL": {},
	"HGETALL": {}, "HMSET": {}, "ZADD": {}, "ZRANGE": {}, "ZSCORE": {},
}

// ShardedHandler routes single-key commands across a fixed set of
// Handlers using a consistent-hash ring.
type ShardedHandler struct {
	nodes    []*Handler
	nodeIDs  []string
	byID     map[string]*Handler
	ringMu   sync.RWMutex
	hashRing *ring.Ring
}

// ConnectSharded dials one Handler per entry in nodeOpts, each with its
// own pool, and builds the hash ring from their endpoints.
func ConnectSharded(ctx context.Context, nodeOpts ...[]Option) (*ShardedHandler, error) {
	return connectSharded(ctx, false, nodeOpts...)
}

// ConnectShardedLazy is ConnectSharded's lazy counterpart: every node
// pool dials in the background.
func ConnectShardedLazy(nodeOpts ...[]Option) *ShardedHandler {
	sh, err := connectSharded(context.Background(), true, nodeOpts...)
	if err != nil {
		panic("redisq: unreachable lazy sharded connect error")
	}
	return sh
}

func connectSharded(ctx context.Context, lazy bool, nodeOpts ...[]Option) (*ShardedHandler, error) {
	sh := &ShardedHandler{byID: make(map[string]*Handler, len(nodeOpts))}
	for _, opts := range nodeOpts {
		h, err := connect(ctx, lazy, opts...)
		if err != nil {
			return nil, err
		}
		id := h.cfg.addr
		sh.nodes = append(sh.nodes, h)
		sh.nodeIDs = append(sh.nodeIDs, id)
		sh.byID[id] = h
	}
	sh.hashRing = ring.New(sh.nodeIDs, ring.DefaultReplicas)
	return sh, nil
}

// nodeFor returns the Handler owning key, via the ring.
func (sh *ShardedHandler) nodeFor(key string) (*Handler, error) {
	sh.ringMu.RLock()
	defer sh.ringMu.RUnlock()
	id, ok := sh.hashRing.Lookup(ring.ShardKey(key))
	if !ok {
		return nil, ErrNotShardable
	}
	return sh.byID[id], nil
}

// Execute routes name to the node owning args[0] (treated as the key).
// Only commands in the shardable whitelist are accepted.
func (sh *ShardedHandler) Execute(ctx context.Context, name string, args ...any) (*proto.Reply, error) {
	if _, ok := shardedMethods[name]; !ok {
		return nil, ErrNotShardable
	}
	if len(args) == 0 {
		return nil, ErrNotShardable
	}
	key, ok := args[0].(string)
	if !ok {
		return nil, ErrNotShardable
	}
	node, err := sh.nodeFor(key)
	if err != nil {
		return nil, err
	}
	return node.Execute(ctx, name, args...)
}

// Pipeline is not meaningful across shards: each shard is its own
// socket, so there is no single batch to flush as one write.
func (sh *ShardedHandler) Pipeline(context.Context) error { return ErrNotShardable }

// mgetJob pairs a key with its position in the caller's original
// request, so results can be reassembled in input order after being
// grouped by owning node.
type mgetJob struct {
	key   string
	index int
}

// MGet fetches multiple keys, grouping them by owning shard and issuing
// one MGET per shard concurrently, then reassembling the results in the
// caller's original key order.
func (sh *ShardedHandler) MGet(ctx context.Context, keys ...string) ([]proto.Reply, error) {
	byNode := make(map[*Handler][]mgetJob)
	for i, k := range keys {
		node, err := sh.nodeFor(k)
		if err != nil {
			return nil, err
		}
		byNode[node] = append(byNode[node], mgetJob{key: k, index: i})
	}

	out := make([]proto.Reply, len(keys))
	var wg sync.WaitGroup
	errs := make([]error, 0, len(byNode))
	var errMu sync.Mutex

	for node, jobs := range byNode {
		wg.Add(1)
		go func(node *Handler, jobs []mgetJob) {
			defer wg.Done()
			args := make([]any, len(jobs))
			for i, j := range jobs {
				args[i] = j.key
			}
			reply, err := node.MGet(ctx, stringsOf(args)...)
			if err != nil {
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
				return
			}
			if len(reply.Array) != len(jobs) {
				errMu.Lock()
				errs = append(errs, ErrNotShardable)
				errMu.Unlock()
				return
			}
			for i, j := range jobs {
				out[j.index] = reply.Array[i]
			}
		}(node, jobs)
	}
	wg.Wait()

	if len(errs) > 0 {
		return nil, errs[0]
	}
	return out, nil
}

func stringsOf(args []any) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = a.(string)
	}
	return out
}

// Disconnect tears down every node's pool, collecting the first error.
func (sh *ShardedHandler) Disconnect(ctx context.Context) error {
	var first error
	for _, h := range sh.nodes {
		if err := h.Disconnect(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NodeIDs returns the sorted list of node endpoints backing the ring,
// mostly useful for tests and diagnostics.
func (sh *ShardedHandler) NodeIDs() []string {
	ids := append([]string(nil), sh.nodeIDs...)
	sort.Strings(ids)
	return ids
}
