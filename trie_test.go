package expgram

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// newWorkedTrie builds the small order-2 trie referenced from trie.go's
// doc comment:
//
//	root (pos 0)
//	├─ 10 (pos 1)
//	│  └─ 5 (pos 3)
//	└─ 20 (pos 2)
//
// Level order: root's 2 children (bits "110"), pos1's 1 child (bits "10"),
// pos2's 0 children (bit "0"), pos3's 0 children (bit "0").
func newWorkedTrie() *Trie {
	tb := NewTrieBuilder(2, false)
	tb.AddNode(0, []WordID{10, 20})
	tb.AddNode(1, []WordID{5})
	tb.AddNode(1, nil)
	tb.AddNode(2, nil)
	return tb.Build()
}

func TestTrieWorkedExample(t *testing.T) {
	tr := newWorkedTrie()

	assert.Equal(t, 4, tr.NumNodes())

	t.Run("children ranges", func(t *testing.T) {
		first, last := tr.ChildrenRange(0)
		assert.Equal(t, Pos(1), first)
		assert.Equal(t, Pos(3), last)

		first, last = tr.ChildrenRange(1)
		assert.Equal(t, Pos(3), first)
		assert.Equal(t, Pos(4), last)

		first, last = tr.ChildrenRange(2)
		assert.Equal(t, first, last, "leaf has an empty children range")
	})

	t.Run("next", func(t *testing.T) {
		assert.Equal(t, Pos(1), tr.Next(0, 10))
		assert.Equal(t, Pos(2), tr.Next(0, 20))
		assert.Equal(t, NonePos, tr.Next(0, 99))
		assert.Equal(t, Pos(3), tr.Next(1, 5))
		assert.Equal(t, NonePos, tr.Next(2, 5))
	})

	t.Run("parent", func(t *testing.T) {
		assert.Equal(t, NonePos, tr.Parent(0))
		assert.Equal(t, Pos(0), tr.Parent(1))
		assert.Equal(t, Pos(0), tr.Parent(2))
		assert.Equal(t, Pos(1), tr.Parent(3))
	})

	t.Run("order of", func(t *testing.T) {
		assert.Equal(t, 0, tr.OrderOf(0))
		assert.Equal(t, 1, tr.OrderOf(1))
		assert.Equal(t, 1, tr.OrderOf(2))
		assert.Equal(t, 2, tr.OrderOf(3))
	})

	t.Run("order range", func(t *testing.T) {
		lo, hi := tr.OrderRange(1)
		assert.Equal(t, Pos(1), lo)
		assert.Equal(t, Pos(3), hi)

		lo, hi = tr.OrderRange(2)
		assert.Equal(t, Pos(3), lo)
		assert.Equal(t, Pos(4), hi)
	})

	t.Run("traverse", func(t *testing.T) {
		node, complete := tr.Traverse(10, 5)
		assert.Equal(t, Pos(3), node)
		assert.True(t, complete)

		node, complete = tr.Traverse(10, 99)
		assert.Equal(t, Pos(1), node)
		assert.False(t, complete)

		node, complete = tr.Traverse(99)
		assert.Equal(t, Pos(0), node)
		assert.False(t, complete)
	})
}

func TestTrieBuilderSkippedDepth(t *testing.T) {
	// A shard with no trigrams at all: offsets[2] must still close forward
	// to N_shard rather than leaving a zero gap (Build's "close them
	// forward" step).
	tb := NewTrieBuilder(3, false)
	tb.AddNode(0, []WordID{1})
	tb.AddNode(1, nil)
	tr := tb.Build()

	assert.Equal(t, 2, tr.NumNodes())
	assert.Equal(t, uint32(2), tr.Offsets[1])
	assert.Equal(t, uint32(2), tr.Offsets[2])
	assert.Equal(t, 1, tr.OrderOf(1))
}
