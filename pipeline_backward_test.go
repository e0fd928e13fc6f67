package expgram

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunBackwardPipelineReversesContextsAndPreservesWeights(t *testing.T) {
	srcDir := t.TempDir()
	m, ids := buildBigramModel(t, srcDir)
	defer m.Close()

	outDir := filepath.Join(t.TempDir(), "backward")
	out, err := RunBackwardPipeline(context.Background(), m, outDir)
	require.NoError(t, err)
	defer out.Close()

	assert.True(t, out.Manifest.Backward)
	assert.Equal(t, m.Manifest.Order, out.Manifest.Order)

	// Forward bigram (<s>, the) becomes backward context (the, <s>).
	node, ok := out.Shards[0].Trie.Traverse(ids["the"], BOSID)
	require.True(t, ok)
	assert.InDelta(t, -0.2, float64(out.LogProb(0, node, 2)), 1e-6)

	// Unigrams are their own reverse.
	unigram, ok := out.Shards[0].Trie.Traverse(ids["the"])
	require.True(t, ok)
	assert.InDelta(t, -1, float64(out.LogProb(0, unigram, 1)), 1e-6)
}

// TestRunBackwardPipelineMultiShardNoDuplicateUnigrams reproduces the
// multi-shard case: a shard that owns a bigram necessarily carries that
// bigram's head word as a depth-1 ancestor node in its own trie, even
// though unigrams are globally shared and live on shard 0. Before the
// non-owning-shard skip in RunBackwardPipeline's mapper, every such
// ancestor node was reversed and shipped to shard 0 right alongside
// shard 0's own copy of the same unigram, so shard 0's reducer saw the
// same reversed context twice and aborted with a RoutingError.
func TestRunBackwardPipelineMultiShardNoDuplicateUnigrams(t *testing.T) {
	dir := t.TempDir()
	b := NewBuilder(2, 4, false, "katz")
	v := b.Vocab()

	tail := v.Insert("tail")
	b.AddNgram(nil, tail, -1, 0, 1)

	heads := make([]WordID, 8)
	for i := range heads {
		heads[i] = v.Insert(fmt.Sprintf("head%d", i))
		b.AddNgram(nil, heads[i], -1, 0, 1)
		b.AddNgram([]WordID{heads[i]}, tail, -0.5, 0, 1)
	}

	m, err := b.Build(dir)
	require.NoError(t, err)
	defer m.Close()

	nonZero := false
	for _, h := range heads {
		if ShardOf([]WordID{h, tail}, 4, false) != 0 {
			nonZero = true
			break
		}
	}
	require.True(t, nonZero, "fixture needs at least one bigram routed off shard 0 to exercise the bug")

	outDir := filepath.Join(t.TempDir(), "backward")
	out, err := RunBackwardPipeline(context.Background(), m, outDir)
	require.NoError(t, err)
	defer out.Close()

	for _, h := range heads {
		fwdNode, ok := m.Shards[0].Trie.Traverse(h)
		require.True(t, ok)
		bwdNode, ok := out.Shards[0].Trie.Traverse(h)
		require.True(t, ok)
		assert.InDelta(t, float64(m.LogProb(0, fwdNode, 1)), float64(out.LogProb(0, bwdNode, 1)), 1e-6)
	}
}

func TestRunBackwardPipelineRejectsAlreadyBackwardModel(t *testing.T) {
	srcDir := t.TempDir()
	m, _ := buildBigramModel(t, srcDir)
	defer m.Close()

	outDir1 := filepath.Join(t.TempDir(), "backward")
	backward, err := RunBackwardPipeline(context.Background(), m, outDir1)
	require.NoError(t, err)
	defer backward.Close()

	_, err = RunBackwardPipeline(context.Background(), backward, filepath.Join(t.TempDir(), "twice"))
	assert.Error(t, err)
}
