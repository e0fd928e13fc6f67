package expgram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelStats(t *testing.T) {
	dir := t.TempDir()
	m, _ := buildBigramModel(t, dir)
	defer m.Close()

	stats := m.Stats()
	require.NotEmpty(t, stats)
	names := map[string]bool{}
	for _, s := range stats {
		names[s.Name] = true
		assert.Positive(t, s.Entries)
		assert.False(t, s.Quantized)
	}
	assert.True(t, names["logprob"])
	assert.True(t, names["backoff"])
	assert.True(t, names["logbound"])
	assert.True(t, names["count"], "builder model has raw counts")
}

func TestDiffIdenticalModelsHaveNoDiscrepancies(t *testing.T) {
	dir := t.TempDir()
	m, _ := buildBigramModel(t, dir)
	defer m.Close()

	reloaded, err := LoadModel(dir)
	require.NoError(t, err)
	defer reloaded.Close()

	assert.Empty(t, Diff(m, reloaded))
}

func TestDiffDetectsOrderMismatch(t *testing.T) {
	dirA := t.TempDir()
	a, _ := buildBigramModel(t, dirA)
	defer a.Close()

	dirB := t.TempDir()
	b := NewBuilder(3, 1, false, "katz")
	v := b.Vocab()
	v.Insert("x")
	bm, err := b.Build(dirB)
	require.NoError(t, err)
	defer bm.Close()

	discrepancies := Diff(a, bm)
	require.NotEmpty(t, discrepancies)
	assert.Equal(t, -1, discrepancies[0].Shard)
	assert.Equal(t, "manifest", discrepancies[0].Kind)
}

func TestPerplexityTracksOOV(t *testing.T) {
	dir := t.TempDir()
	m, ids := buildBigramModel(t, dir)
	defer m.Close()

	sentences := [][]string{
		{"the", "cat", "sat"},
		{"the", "unknownword"},
	}
	result := Perplexity(m, sentences)
	assert.Equal(t, 2, result.NumSentences)
	assert.Equal(t, 5, result.NumWords)
	assert.Equal(t, 1, result.NumOOV)
	assert.Greater(t, result.Perplexity, 0.0)
	_ = ids
}

func TestDumpListsEveryNonRootNode(t *testing.T) {
	dir := t.TempDir()
	m, ids := buildBigramModel(t, dir)
	defer m.Close()

	out := Dump(m, 0)
	assert.True(t, strings.HasPrefix(out, "# shard 0:"))
	assert.Contains(t, out, m.Vocab.StringOf(ids["the"]))
	assert.Contains(t, out, m.Vocab.StringOf(ids["cat"]))
}
