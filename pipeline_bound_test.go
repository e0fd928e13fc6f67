package expgram

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunBoundPipelinePropagatesAndIsIdempotent(t *testing.T) {
	m, a, bw, c := buildBackoffModel(t)
	defer m.Close()

	nodeBw, ok := m.Shards[0].Trie.Traverse(bw)
	require.True(t, ok)
	nodeC, ok := m.Shards[0].Trie.Traverse(c)
	require.True(t, ok)
	_ = a

	assert.True(t, IsLogProbMin(m.LogBound(0, nodeBw, 1)), "no bound computed yet")

	ctx := context.Background()
	require.NoError(t, RunBoundPipeline(ctx, m))

	assert.InDelta(t, -0.2, float64(m.LogBound(0, nodeBw, 1)), 1e-5, "bound(b) raised by logprob(a,b)")
	assert.InDelta(t, -0.5, float64(m.LogBound(0, nodeC, 1)), 1e-5, "bound(c) raised by logprob(b,c)")

	before := m.LogBound(0, nodeBw, 1)
	require.NoError(t, RunBoundPipeline(ctx, m))
	assert.Equal(t, before, m.LogBound(0, nodeBw, 1), "re-running must not change an already-correct bound")
}
