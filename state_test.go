package expgram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFlatStateIsEmpty(t *testing.T) {
	s := NewFlatState()
	assert.Empty(t, s.History)
}

func TestNewChartStateIsFreshAndIncomplete(t *testing.T) {
	s := NewChartState()
	assert.Equal(t, Weight(0), s.Score)
	assert.False(t, s.Complete)
	assert.Empty(t, s.Prefix)
}

func TestInitialNonTerminalCopiesIndependently(t *testing.T) {
	ante := ChartState{
		Prefix: []PrefixEntry{{Shard: 1, Node: 2, Bound: -1}},
		Suffix: FlatState{History: []WordID{7, 8}},
		Score:  -3,
	}
	cp := InitialNonTerminal(ante)
	require.Equal(t, ante.Score, cp.Score)
	require.Equal(t, ante.Prefix, cp.Prefix)
	require.Equal(t, ante.Suffix.History, cp.Suffix.History)

	// Mutating the copy must not alias the antecedent's backing arrays.
	cp.Prefix[0].Bound = -99
	cp.Suffix.History[0] = 0
	assert.Equal(t, Weight(-1), ante.Prefix[0].Bound)
	assert.Equal(t, WordID(7), ante.Suffix.History[0])
}

func TestNonTerminalSplicesCompleteAntecedent(t *testing.T) {
	dir := t.TempDir()
	b := NewBuilder(2, 1, false, "katz")
	v := b.Vocab()
	x, y := v.Insert("x"), v.Insert("y")
	b.AddNgram(nil, x, -1, -0.1, 1)
	b.AddNgram(nil, y, -2, 0, 1)
	m, err := b.Build(dir)
	require.NoError(t, err)
	defer m.Close()

	sc := NewNGramScorer(m)
	s := NewChartState()
	s.Suffix = FlatState{History: []WordID{x}}
	s.Score = -1

	antecedent := ChartState{
		Suffix:   FlatState{History: []WordID{y}},
		Score:    -2,
		Complete: true,
	}
	out := sc.NonTerminal(s, antecedent)
	assert.True(t, out.Complete)
	assert.InDelta(t, -3, float64(out.Score), 1e-6)
	assert.Equal(t, []WordID{y}, out.Suffix.History)
}
