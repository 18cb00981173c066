// Package ring implements the consistent-hash ring used by the sharded
// handler to route a command's key to the owning node: each node
// contributes R virtual replicas keyed by
// crc32("<node-id>:<replica-index>"); lookup bisects the sorted
// replica list and clamps the index to the last entry.
package ring

import (
	"hash/crc32"
	"sort"
	"strconv"
)

// DefaultReplicas is the per-node virtual-replica count.
const DefaultReplicas = 160

// Ring is a sorted set of 32-bit CRC keys mapping to node ids.
//
// Not safe for concurrent mutation; build once via New and treat as
// read-only thereafter — the sharded handler's node set is fixed at
// construction time, with no live cluster membership changes.
type Ring struct {
	replicas int
	keys     []uint32
	owners   map[uint32]string
}

// New builds a ring from nodeIDs (e.g. each sub-handler's endpoint address),
// each contributing replicas virtual nodes. replicas <= 0 defaults to
// DefaultReplicas.
func New(nodeIDs []string, replicas int) *Ring {
	if replicas <= 0 {
		replicas = DefaultReplicas
	}
	r := &Ring{
		replicas: replicas,
		owners:   make(map[uint32]string, len(nodeIDs)*replicas),
	}
	for _, id := range nodeIDs {
		r.addNode(id)
	}
	sort.Slice(r.keys, func(i, j int) bool { return r.keys[i] < r.keys[j] })
	return r
}

func (r *Ring) addNode(id string) {
	for i := 0; i < r.replicas; i++ {
		crc := crc32.ChecksumIEEE([]byte(id + ":" + strconv.Itoa(i)))
		r.keys = append(r.keys, crc)
		r.owners[crc] = id
	}
}

// Lookup returns the node id owning shardKey. Empty ring returns "", false.
func (r *Ring) Lookup(shardKey string) (string, bool) {
	if len(r.keys) == 0 {
		return "", false
	}
	crc := crc32.ChecksumIEEE([]byte(shardKey))
	// bisect_right semantics: the insertion point strictly after any
	// replica keys equal to crc, then clamp into range.
	idx := sort.Search(len(r.keys), func(i int) bool { return r.keys[i] > crc })
	if idx >= len(r.keys) {
		idx = len(r.keys) - 1
	}
	return r.owners[r.keys[idx]], true
}

// ShardKey extracts the textual key used for ring lookup: the first
// "{...}" group in key if present, else key itself.
func ShardKey(key string) string {
	start := -1
	for i := 0; i < len(key); i++ {
		if key[i] == '{' {
			start = i
			break
		}
	}
	if start == -1 {
		return key
	}
	end := -1
	for i := start + 1; i < len(key); i++ {
		if key[i] == '}' {
			end = i
			break
		}
	}
	if end == -1 || end == start+1 {
		return key
	}
	return key[start+1 : end]
}
