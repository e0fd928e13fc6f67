package expgram

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// ShardOf computes shard_id for a context (spec §4.2 "Sharding &
// routing"): the last word of a forward context (or the first word of a
// backward one) is hashed modulo shardCount. Unigrams (len(context) <= 1)
// always route to shard 0, since unigrams are shared globally (spec §4.3).
//
// context is given in the order the trie stores it, as Builder.AddNgram
// and the pipelines pass it: oldest-to-newest for a forward trie,
// newest-to-oldest for a backward one. The routing word is therefore the
// stored context's last id in forward mode and its first id in backward
// mode.
func ShardOf(context []WordID, shardCount int, backward bool) int {
	if shardCount <= 1 || len(context) <= 1 {
		return 0
	}
	var routing WordID
	if backward {
		routing = context[0]
	} else {
		routing = context[len(context)-1]
	}
	return int(hashWord(routing) % uint64(shardCount))
}

func hashWord(id WordID) uint64 {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(id))
	return xxhash.Sum64(buf[:])
}

// ShardTopology describes the fixed sharding parameters recorded in the
// manifest (spec §6): how many shards a model is split into, and which
// orientation its contexts are stored in.
type ShardTopology struct {
	ShardCount int
	Backward   bool
}

// Owns reports whether shard s is the owner of context under this
// topology, bounds-checking s against the configured shard count.
func (t ShardTopology) Owns(context []WordID, s int) bool {
	if s < 0 || s >= t.ShardCount {
		return false
	}
	return ShardOf(context, t.ShardCount, t.Backward) == s
}
