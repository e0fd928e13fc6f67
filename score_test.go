package expgram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildBackoffModel builds an order-3 model where the trigram (a,b,c) is
// absent but the bigrams (a,b) [with a non-zero back-off] and (b,c) are
// present, the seed "trigram back-off" scenario (spec §8).
func buildBackoffModel(t *testing.T) (*Model, WordID, WordID, WordID) {
	t.Helper()
	dir := t.TempDir()
	b := NewBuilder(3, 1, false, "katz")
	v := b.Vocab()
	a, bw, c := v.Insert("a"), v.Insert("b"), v.Insert("c")

	b.AddNgram(nil, a, -1, -0.1, 1)
	b.AddNgram(nil, bw, -1, -0.1, 1)
	b.AddNgram(nil, c, -1, -0.1, 1)
	b.AddNgram([]WordID{a}, bw, -0.2, -0.3, 1) // bigram (a,b): logprob -0.2, backoff -0.3
	b.AddNgram([]WordID{bw}, c, -0.5, 0, 1)    // bigram (b,c): logprob -0.5

	m, err := b.Build(dir)
	require.NoError(t, err)
	return m, a, bw, c
}

func TestScoreTrigramBackoff(t *testing.T) {
	m, a, bw, c := buildBackoffModel(t)
	defer m.Close()

	state := FlatState{History: []WordID{a, bw}}
	next, res := m.Score(state, c, false, DefaultFloor)

	assert.False(t, res.OOV)
	assert.True(t, res.Complete, "a back-off was charged before the bigram resolved")
	assert.InDelta(t, -0.8, float64(res.LogProb), 1e-5, "accrued backoff -0.3 plus bigram logprob -0.5")
	assert.Equal(t, []WordID{bw, c}, next.History)
}

func TestScoreStrictNoneIsOOV(t *testing.T) {
	m, a, bw, _ := buildBackoffModel(t)
	defer m.Close()

	state := FlatState{History: []WordID{a, bw}}
	_, res := m.Score(state, NoneID, true, DefaultFloor)
	assert.True(t, res.OOV)
	assert.True(t, res.Complete)
}

func TestScoreNonStrictNoneIsNotShortCircuited(t *testing.T) {
	m, a, bw, _ := buildBackoffModel(t)
	defer m.Close()

	// Outside strict mode, NoneID is treated like any other unseen id: it
	// walks the normal back-off path and only becomes OOV once the
	// unigram lookup itself fails.
	state := FlatState{History: []WordID{a, bw}}
	_, res := m.Score(state, NoneID, false, DefaultFloor)
	assert.True(t, res.OOV)
}

func TestScoreUnigramFallbackNoHistory(t *testing.T) {
	m, a, _, _ := buildBackoffModel(t)
	defer m.Close()

	state := NewFlatState()
	next, res := m.Score(state, a, false, DefaultFloor)
	assert.False(t, res.OOV)
	assert.Equal(t, []WordID{a}, next.History)
	assert.InDelta(t, -1, float64(res.LogProb), 1e-6)
}

func TestNGramScorerInitialBOSAndTerminal(t *testing.T) {
	dir := t.TempDir()
	b := NewBuilder(2, 1, false, "katz")
	v := b.Vocab()
	x := v.Insert("x")
	b.AddNgram(nil, BOSID, -1, -0.1, 1)
	b.AddNgram(nil, x, -1, 0, 1)
	b.AddNgram([]WordID{BOSID}, x, -0.4, 0, 1)
	m, err := b.Build(dir)
	require.NoError(t, err)
	defer m.Close()

	sc := NewNGramScorer(m)
	chart := sc.InitialBOS()
	assert.True(t, chart.Complete)

	chart = sc.Terminal(chart, x)
	// -1 for <s> (InitialBOS) plus -0.4 for the (<s>,x) bigram.
	assert.InDelta(t, -1.4, float64(chart.Score), 1e-6)
}
