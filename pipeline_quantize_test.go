package expgram

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunQuantizePipelineRoundTripsWithinTolerance(t *testing.T) {
	dir := t.TempDir()
	b := NewBuilder(2, 1, false, "katz")
	v := b.Vocab()
	words := make([]WordID, 0, 20)
	for i := 0; i < 20; i++ {
		words = append(words, v.Insert(string(rune('a'+i))))
	}
	for i, w := range words {
		b.AddNgram(nil, w, Weight(-0.1*float32(i+1)), -0.2, 1)
	}
	for i := 0; i+1 < len(words); i++ {
		b.AddNgram([]WordID{words[i]}, words[i+1], Weight(-0.05*float32(i+1)), 0, 1)
	}
	m, err := b.Build(dir)
	require.NoError(t, err)
	defer m.Close()

	var before []Weight
	shard := m.Shards[0]
	n := shard.LogProb.Offset() + Pos(shard.LogProb.Len())
	for p := shard.LogProb.Offset(); p < n; p++ {
		order := shard.Trie.OrderOf(p)
		before = append(before, m.LogProb(0, p, order))
	}

	require.NoError(t, RunQuantizePipeline(context.Background(), m, "logprob"))
	assert.True(t, m.Manifest.IsQuantized("logprob"))
	assert.False(t, m.Manifest.IsQuantized("backoff"), "only the requested column is marked quantized")

	shard = m.Shards[0]
	i := 0
	for p := shard.LogProb.Offset(); p < n; p++ {
		order := shard.Trie.OrderOf(p)
		got := m.LogProb(0, p, order)
		assert.InDelta(t, float64(before[i]), float64(got), 0.2, "quantized value should stay close to the original")
		i++
	}
}

func TestRunQuantizePipelinePersistsManifest(t *testing.T) {
	dir := t.TempDir()
	b := NewBuilder(2, 1, false, "katz")
	v := b.Vocab()
	x, y := v.Insert("x"), v.Insert("y")
	b.AddNgram(nil, x, -1, -0.2, 1)
	b.AddNgram(nil, y, -2, -0.3, 1)
	b.AddNgram([]WordID{x}, y, -0.5, 0, 1)
	m, err := b.Build(dir)
	require.NoError(t, err)

	require.NoError(t, RunQuantizePipeline(context.Background(), m, "logprob", "backoff"))
	require.NoError(t, m.Close())

	reloaded, err := LoadModel(dir)
	require.NoError(t, err)
	defer reloaded.Close()
	assert.True(t, reloaded.Manifest.IsQuantized("logprob"))
	assert.True(t, reloaded.Manifest.IsQuantized("backoff"))
}
