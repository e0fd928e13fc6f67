package expgram

import "sort"

// Pos is a per-shard trie node position: a dense integer in [0, N_shard)
// (spec §3 "Trie node"). Position 0 is always the root.
type Pos uint32

// NonePos signals "no such node" (the result of a failed next/parent).
const NonePos Pos = ^Pos(0)

// Trie is the succinct, immutable-after-build mapping from a context to a
// node position on one shard (spec §4.2). Its "positions" bitvector is
// level-order LOUDS-style: for each node (visited in the same order its
// position was assigned — BFS / level order), we emit 1^k 0, where k is
// its number of children. The i-th 1-bit overall (1-indexed) is the edge
// that created node i; this lets parent/children_range reduce to
// rank/select on that one bitvector (see the worked example in
// trie_test.go).
type Trie struct {
	Backward bool
	Order    int
	// Offsets[d-1] is the first position at depth d, for d in [1, Order];
	// Offsets[Order] == N_shard. Root (depth 0) is always position 0 and
	// is not covered by Offsets (spec §3: "offsets[0] = 1, offsets[order]
	// = N_shard").
	Offsets []uint32
	// Positions is the LOUDS bitvector described above.
	Positions *BitVector
	// IDs[p], for p >= 1, is the word id on the edge from parent(p) to p.
	// IDs[0] is unused. Within a sibling range IDs are strictly sorted
	// (spec §3 invariant), which is what makes Next a binary search.
	IDs []WordID
}

// NumNodes returns N_shard, the number of node positions on this trie
// (including the root).
func (t *Trie) NumNodes() int {
	if len(t.Offsets) == 0 {
		return 1
	}
	return int(t.Offsets[len(t.Offsets)-1])
}

// ChildrenRange returns [first, last), the contiguous range of node
// positions that are children of n (spec §4.2). NonePos neighborhoods never
// occur for valid n; an out-of-range n is a caller bug.
func (t *Trie) ChildrenRange(n Pos) (first, last Pos) {
	bv := t.Positions
	f := bv.Rank1(bv.Select0(int(n))) + 1
	l := bv.Rank1(bv.Select0(int(n)+1)) + 1
	return Pos(f), Pos(l)
}

// Parent returns the parent of n, or NonePos if n is the root.
func (t *Trie) Parent(n Pos) Pos {
	if n == 0 {
		return NonePos
	}
	bv := t.Positions
	return Pos(bv.Rank0(bv.Select1(int(n))))
}

// Next looks up the child of n reached by consuming id, or NonePos if
// there is no such edge. Sibling ids are sorted, so this is a binary
// search over ChildrenRange(n) (spec §4.2).
func (t *Trie) Next(n Pos, id WordID) Pos {
	first, last := t.ChildrenRange(n)
	ids := t.IDs[first:last]
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	if i < len(ids) && ids[i] == id {
		return first + Pos(i)
	}
	return NonePos
}

// Traverse performs successive Next calls starting from the root, stopping
// at the first id that has no edge. It returns the deepest node reached and
// whether every id in ids was consumed.
func (t *Trie) Traverse(ids ...WordID) (node Pos, complete bool) {
	node = 0
	for _, id := range ids {
		next := t.Next(node, id)
		if next == NonePos {
			return node, false
		}
		node = next
	}
	return node, true
}

// OrderOf returns the depth of n (the length of the context it represents):
// 0 for the root, otherwise the smallest d such that Offsets[d-1] <= n <
// Offsets[d].
func (t *Trie) OrderOf(n Pos) int {
	if n == 0 {
		return 0
	}
	// Offsets is short (<= model order, typically <= 6); linear scan is
	// simpler and just as fast as a binary search at this size.
	for d, off := range t.Offsets {
		if uint32(n) < off {
			return d
		}
	}
	return len(t.Offsets)
}

// OrderRange returns [lo, hi), the contiguous range of node positions at
// depth order: lo is Offsets[order-1] and hi is Offsets[order].
// order must be in [1, t.Order]; OrderRange(1) starts at position 1 since
// the root occupies position 0 alone.
func (t *Trie) OrderRange(order int) (lo, hi Pos) {
	lo = Pos(t.Offsets[order-1])
	hi = Pos(t.Offsets[order])
	return lo, hi
}

// TrieBuilder incrementally constructs a Trie in level order: callers must
// add nodes breadth-first, visiting depths in increasing order and,
// within a depth, visiting nodes in the order their
// parents were visited (the natural order a sorted-context external merge
// produces). See builder.go for the driver that does this from raw counts.
type TrieBuilder struct {
	backward  bool
	order     int
	bits      *BitVector
	ids       []WordID
	offsets   []uint32
	lastDepth int
}

// NewTrieBuilder starts a builder for a trie of the given order and
// orientation (spec §3 "A context is forward... or backward...").
//
// offsets[d-1] holds the position of the first depth-d node, for
// d = 1..order; offsets[0] = 1 always (depth 0 is the lone root, so depth 1
// always starts right after it), and offsets[order] closes the range with
// N_shard once Build runs.
func NewTrieBuilder(order int, backward bool) *TrieBuilder {
	offsets := make([]uint32, order+1)
	offsets[0] = 1
	return &TrieBuilder{
		backward: backward,
		order:    order,
		bits:     NewBitVectorBuilder(),
		ids:      []WordID{0}, // IDs[0] unused (root).
		offsets:  offsets,
	}
}

// AddNode appends one node's children-count block to the positions
// bitvector and records the ids of its children. depth is the depth of the
// node whose children are being emitted (0 for the root); childIDs must be
// sorted and is the full list of child edge ids for that node. Nodes must
// be added in level order: all of depth d before any of depth d+1.
func (b *TrieBuilder) AddNode(depth int, childIDs []WordID) {
	for d := b.lastDepth; d < depth; d++ {
		// Emitting the children of depth-(d+1) nodes for the first time:
		// every node at depth <= d+1 has already been assigned a
		// position, so the next one appended (the first at depth d+2)
		// sits at the current length.
		b.offsets[d+1] = uint32(len(b.ids))
	}
	b.lastDepth = depth
	for range childIDs {
		b.bits.Append(true)
	}
	b.bits.Append(false)
	b.ids = append(b.ids, childIDs...)
}

// Build finalizes the trie. The caller must have added exactly N_shard
// node blocks (root included) before calling this.
func (b *TrieBuilder) Build() *Trie {
	b.bits.Build()
	n := uint32(len(b.ids))
	// Depths with zero nodes (a small or pruned shard) leave gaps in
	// offsets; close them forward so ChildrenRange sees empty ranges
	// rather than zero values.
	for d := 1; d <= b.order; d++ {
		if b.offsets[d] == 0 {
			b.offsets[d] = b.offsets[d-1]
		}
	}
	if b.offsets[b.order] < n {
		b.offsets[b.order] = n
	}
	return &Trie{
		Backward:  b.backward,
		Order:     b.order,
		Offsets:   b.offsets,
		Positions: b.bits,
		IDs:       b.ids,
	}
}
