package expgram

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildModifyFixture gives every node a distinct branching factor so the
// modify pipeline's "count of distinct continuations" contribution is
// unambiguous to trace by hand:
//
//	a (count 7)
//	├─ b (count 5)
//	│  ├─ x (count 2)
//	│  └─ y (count 1)
//	└─ c (count 3)
//	   └─ x (count 4)
func buildModifyFixture(t *testing.T) (*Model, map[string]WordID) {
	t.Helper()
	dir := t.TempDir()
	b := NewBuilder(3, 1, false, "kneser-ney")
	v := b.Vocab()
	ids := map[string]WordID{
		"a": v.Insert("a"),
		"b": v.Insert("b"),
		"c": v.Insert("c"),
		"x": v.Insert("x"),
		"y": v.Insert("y"),
	}
	b.AddNgram(nil, ids["a"], -1, -0.1, 7)
	b.AddNgram([]WordID{ids["a"]}, ids["b"], -1, -0.1, 5)
	b.AddNgram([]WordID{ids["a"]}, ids["c"], -1, -0.1, 3)
	b.AddNgram([]WordID{ids["a"], ids["b"]}, ids["x"], -1, 0, 2)
	b.AddNgram([]WordID{ids["a"], ids["b"]}, ids["y"], -1, 0, 1)
	b.AddNgram([]WordID{ids["a"], ids["c"]}, ids["x"], -1, 0, 4)

	m, err := b.Build(dir)
	require.NoError(t, err)
	return m, ids
}

func TestRunModifyPipelineCountsDistinctContinuations(t *testing.T) {
	m, ids := buildModifyFixture(t)
	defer m.Close()

	require.NoError(t, RunModifyPipeline(context.Background(), m))

	shard := m.Shards[0]
	nodeA, ok := shard.Trie.Traverse(ids["a"])
	require.True(t, ok)
	nodeAB, ok := shard.Trie.Traverse(ids["a"], ids["b"])
	require.True(t, ok)
	nodeAC, ok := shard.Trie.Traverse(ids["a"], ids["c"])
	require.True(t, ok)
	nodeABX, ok := shard.Trie.Traverse(ids["a"], ids["b"], ids["x"])
	require.True(t, ok)

	require.NotNil(t, shard.Modified)
	assert.Equal(t, uint64(2), shard.Modified.Value(nodeA), "a has two distinct continuations: b, c")
	assert.Equal(t, uint64(2), shard.Modified.Value(nodeAB), "(a,b) has two distinct continuations: x, y")
	assert.Equal(t, uint64(1), shard.Modified.Value(nodeAC), "(a,c) has one continuation: x")
	assert.Equal(t, uint64(0), shard.Modified.Value(nodeABX), "top-order leaf has no continuations of its own")
}

func TestRunModifyPipelinePreservesBOSHeadedCounts(t *testing.T) {
	dir := t.TempDir()
	b := NewBuilder(2, 1, false, "kneser-ney")
	v := b.Vocab()
	x := v.Insert("x")
	b.AddNgram(nil, BOSID, -1, -0.1, 9)
	b.AddNgram(nil, x, -1, -0.1, 1)
	b.AddNgram([]WordID{BOSID}, x, -1, 0, 3)
	m, err := b.Build(dir)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, RunModifyPipeline(context.Background(), m))

	node, ok := m.Shards[0].Trie.Traverse(BOSID, x)
	require.True(t, ok)
	assert.Equal(t, uint64(3), m.Shards[0].Modified.Value(node), "<s>-headed contexts keep their raw count")
}
