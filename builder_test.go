package expgram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildBigramModel assembles a tiny order-2 "<s> the cat sat </s>" model
// with every bigram present, so scoring the sentence never needs to
// back off.
func buildBigramModel(t *testing.T, dir string) (*Model, map[string]WordID) {
	t.Helper()
	b := NewBuilder(2, 1, false, "katz")
	v := b.Vocab()
	ids := map[string]WordID{
		"the": v.Insert("the"),
		"cat": v.Insert("cat"),
		"sat": v.Insert("sat"),
	}
	ids["<s>"] = BOSID
	ids["</s>"] = EOSID

	for _, w := range []WordID{BOSID, ids["the"], ids["cat"], ids["sat"], EOSID} {
		b.AddNgram(nil, w, -1, -0.5, 1)
	}
	seq := []WordID{BOSID, ids["the"], ids["cat"], ids["sat"], EOSID}
	for i := 0; i+1 < len(seq); i++ {
		b.AddNgram([]WordID{seq[i]}, seq[i+1], -0.2, 0, 1)
	}

	m, err := b.Build(dir)
	require.NoError(t, err)
	return m, ids
}

func TestBuilderBuildAndLoad(t *testing.T) {
	dir := t.TempDir()
	m, ids := buildBigramModel(t, dir)
	defer m.Close()

	assert.Equal(t, 2, m.Order())
	assert.Equal(t, ids["the"], m.VocabID("the"))
	assert.Equal(t, UnkID, m.VocabID("never-seen"))

	shard := m.Shards[0]
	node, complete := shard.Trie.Traverse(BOSID, ids["the"])
	require.True(t, complete)
	assert.InDelta(t, -0.2, float64(m.LogProb(0, node, 2)), 1e-6)
}

func TestBuilderScoreSentenceNoBackoff(t *testing.T) {
	dir := t.TempDir()
	m, ids := buildBigramModel(t, dir)
	defer m.Close()

	sc := NewNGramScorer(m)
	state := FlatState{History: []WordID{BOSID}}
	seq := []WordID{BOSID, ids["the"], ids["cat"], ids["sat"], EOSID}
	var total Weight
	for _, w := range seq[1:] {
		next, res := sc.Score(state, w)
		assert.False(t, res.OOV)
		assert.True(t, res.Complete, "every bigram in this model is present")
		total = Floor(total+res.LogProb, sc.Floor)
		state = next
	}
	// 4 transitions at -0.2 each.
	assert.InDelta(t, -0.8, float64(total), 1e-5)
}

func TestBuilderScoreSentenceOOV(t *testing.T) {
	dir := t.TempDir()
	m, ids := buildBigramModel(t, dir)
	defer m.Close()

	sc := NewNGramScorer(m)
	state := NewFlatState()
	state, _ = sc.Score(state, BOSID)
	state, _ = sc.Score(state, ids["the"])
	_, res := sc.Score(state, m.VocabID("unknown-word"))
	assert.True(t, res.OOV)
	assert.True(t, res.Complete)
}

func TestBuilderShardedRouting(t *testing.T) {
	dir := t.TempDir()
	b := NewBuilder(2, 4, false, "katz")
	v := b.Vocab()
	a, c, d := v.Insert("a"), v.Insert("c"), v.Insert("d")
	for _, w := range []WordID{a, c, d} {
		b.AddNgram(nil, w, -1, 0, 1)
	}
	b.AddNgram([]WordID{a}, c, -0.3, 0, 1)
	b.AddNgram([]WordID{c}, d, -0.4, 0, 1)

	m, err := b.Build(dir)
	require.NoError(t, err)
	defer m.Close()

	wantShard := ShardOf([]WordID{a, c}, 4, false)
	node, complete := m.Shards[wantShard].Trie.Traverse(a, c)
	require.True(t, complete)
	assert.InDelta(t, -0.3, float64(m.LogProb(wantShard, node, 2)), 1e-6)
}
