package expgram

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// trieNode is an in-memory, map-backed tree used while assembling a
// shard's trie offline, before it is flattened into the packed
// level-order representation Trie actually stores (spec §4.2's build
// pipeline is "out of scope" for the succinct format itself, but
// builder.go and pipeline_backward.go both need some staging structure
// to get there — this is that structure, generalized from the teacher's
// Builder.transitions/backoff parallel-array staging in
// kho-fslm/builder.go to a nested map since our trie branches on a full
// alphabet of WordIDs rather than one bucketed xqwMap per state).
type trieNode struct {
	id       WordID
	children map[WordID]*trieNode
	present  bool
	logprob  Weight
	backoff  Weight
	logbound Weight
	count    uint64
}

func newTrieNode(id WordID) *trieNode {
	return &trieNode{id: id, children: make(map[WordID]*trieNode)}
}

// insertTrieNode walks (creating as needed) the path for ctx under root
// and returns the leaf, for the caller to fill in with payload.
func insertTrieNode(root *trieNode, ctx []WordID) *trieNode {
	n := root
	for _, id := range ctx {
		c, ok := n.children[id]
		if !ok {
			c = newTrieNode(id)
			n.children[id] = c
		}
		n = c
	}
	return n
}

// assembleTrie flattens a rooted tree of per-context payloads into a
// Trie plus its parallel column arrays (spec §4.2's level-order layout;
// §4.5.3 "re-materialize the trie level by level"). Index 0 of every
// returned array is the unused root slot, matching the 1-based column
// convention the rest of the package uses (spec §3 "Shard column").
// Nodes the caller never marked present (an ancestor that exists only
// because some descendant needed a path to it) get the usual absent
// sentinels, matching an unscored n-gram back-off state.
func assembleTrie(order int, backward bool, root *trieNode) (t *Trie, logprobs, backoffs, logbounds []Weight, counts []uint64) {
	tb := NewTrieBuilder(order, backward)
	logprobs = []Weight{LogProbMin}
	backoffs = []Weight{0}
	logbounds = []Weight{LogProbMin}
	counts = []uint64{0}

	level := []*trieNode{root}
	depth := 0
	for len(level) > 0 {
		var next []*trieNode
		for _, n := range level {
			ids := make([]WordID, 0, len(n.children))
			for id := range n.children {
				ids = append(ids, id)
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			tb.AddNode(depth, ids)
			for _, id := range ids {
				c := n.children[id]
				lp, bo, lb, ct := LogProbMin, Weight(0), LogProbMin, uint64(0)
				if c.present {
					lp, bo, lb, ct = c.logprob, c.backoff, c.logbound, c.count
				}
				logprobs = append(logprobs, lp)
				backoffs = append(backoffs, bo)
				logbounds = append(logbounds, lb)
				counts = append(counts, ct)
				next = append(next, c)
			}
		}
		level = next
		depth++
	}
	return tb.Build(), logprobs, backoffs, logbounds, counts
}

// contextKey renders ctx as a map key stable under value equality
// (Builder.AddNgram must be idempotent per context, spec §4.1-style
// insert semantics generalized to n-gram entries).
func contextKey(ctx []WordID) string {
	var b strings.Builder
	for _, id := range ctx {
		fmt.Fprintf(&b, "%d.", id)
	}
	return b.String()
}

// builderEntry is one staged (context, word) n-gram awaiting assembly
// into a shard's trie and columns.
type builderEntry struct {
	context []WordID // full, in storage order (oldest-first or reversed, per backward)
	logprob Weight
	backoff Weight
	count   uint64
}

// Builder incrementally assembles a sharded model from individual n-gram
// entries, before any pipeline has run (spec §3 "Vocabulary and columns
// are created once per model build"). It is the offline construction
// path the succinct trie format itself declines to specify (spec §4.2:
// "Build-time construction is a separate offline pipeline ... this
// design does not specify that build"), modeled on the teacher's
// Builder.AddNgram staging (kho-fslm/builder.go: link/prune/move)
// generalized from one flat FST to one trie-plus-columns per shard.
type Builder struct {
	order      int
	shardCount int
	backward   bool
	smooth     string
	vocab      *Vocab

	perShard []map[string]*builderEntry
}

// NewBuilder starts a builder for a model of the given order, shard
// count and orientation.
func NewBuilder(order, shardCount int, backward bool, smooth string) *Builder {
	b := &Builder{order: order, shardCount: shardCount, backward: backward, smooth: smooth, vocab: NewVocab()}
	b.perShard = make([]map[string]*builderEntry, shardCount)
	for i := range b.perShard {
		b.perShard[i] = make(map[string]*builderEntry)
	}
	return b
}

// Vocab returns the builder's vocabulary, usable to Insert words before
// calling AddNgram.
func (b *Builder) Vocab() *Vocab { return b.vocab }

// AddNgram stages one (context, word) n-gram with its log-probability,
// back-off weight and/or raw count (logprob may be LogProbMin and count
// may be 0 if the caller only has the other). context is always given
// oldest-to-newest regardless of the model's orientation; AddNgram
// reorders it to storage order and routes it to shard(context) itself,
// idempotent per the teacher's setTransition semantics.
func (b *Builder) AddNgram(context []WordID, word WordID, logprob, backoff Weight, count uint64) {
	full := append(append([]WordID(nil), context...), word)
	stored := full
	if b.backward {
		stored = reverseContext(full)
	}
	shard := ShardOf(stored, b.shardCount, b.backward)
	b.perShard[shard][contextKey(stored)] = &builderEntry{
		context: stored, logprob: logprob, backoff: backoff, count: count,
	}
}

// Build materializes every shard's trie and columns under dir and
// returns the freshly loaded, memory-mapped Model (spec §6 on-disk
// layout).
func (b *Builder) Build(dir string) (*Model, error) {
	manifest := NewManifest(b.order, b.shardCount, b.backward, b.smooth)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &StorageError{Path: dir, Err: err}
	}
	if err := b.vocab.Write(filepath.Join(dir, "vocab")); err != nil {
		return nil, err
	}

	hasCounts := false
	for _, entries := range b.perShard {
		for _, e := range entries {
			if e.count > 0 {
				hasCounts = true
			}
		}
	}

	for idx, entries := range b.perShard {
		root := newTrieNode(0)
		for _, e := range entries {
			n := insertTrieNode(root, e.context)
			n.present = true
			n.logprob, n.backoff, n.logbound, n.count = e.logprob, e.backoff, LogProbMin, e.count
		}
		trie, logprobs, backoffs, logbounds, counts := assembleTrie(b.order, b.backward, root)
		if err := WriteShardIndex(dir, idx, trie); err != nil {
			return nil, err
		}

		colOffset := Pos(1)
		if idx > 0 && len(trie.Offsets) > 1 {
			colOffset = Pos(trie.Offsets[1])
		}
		if err := WriteFloatColumn(columnPath(dir, "logprob", idx), logprobs[colOffset:]); err != nil {
			return nil, err
		}
		if err := WriteFloatColumn(columnPath(dir, "backoff", idx), backoffs[colOffset:]); err != nil {
			return nil, err
		}
		if err := WriteFloatColumn(columnPath(dir, "logbound", idx), logbounds[colOffset:]); err != nil {
			return nil, err
		}
		if hasCounts {
			countsOut := make([]uint64, len(counts)-int(colOffset))
			copy(countsOut, counts[colOffset:])
			if err := WriteCountColumn(columnPath(dir, "count", idx), countsOut); err != nil {
				return nil, err
			}
		}
	}

	if err := WriteManifest(filepath.Join(dir, "manifest"), manifest); err != nil {
		return nil, err
	}
	return LoadModel(dir)
}
