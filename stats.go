package expgram

import (
	"fmt"
	"math"
	"strings"
)

// Order returns the model's maximum context length N (spec §6 Query API
// "order() -> N").
func (m *Model) Order() int { return m.Manifest.Order }

// VocabID returns word's id, or UnkID if unseen (spec §6 "vocab_id(word)
// -> id").
func (m *Model) VocabID(word string) WordID { return m.Vocab.Lookup(word) }

// ScoreSentence walks ids through NewFlatState with <s> implied as the
// starting state, summing ngram_score across every word (spec §6 "score(
// ids…, limit) -> float", the convenience entry point that wraps the
// stateful walk in §4.4.1 for callers that don't need to keep state
// between calls). limit caps the number of ids actually scored (0 means
// score all of them), matching the teacher's score command's early-exit
// convenience for partial-sentence probes.
func (sc *NGramScorer) ScoreSentence(ids []WordID, limit int) Weight {
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}
	state := FlatState{History: []WordID{BOSID}}
	var total Weight
	for _, id := range ids {
		next, result := sc.Score(state, id)
		total = Floor(total+result.LogProb, sc.Floor)
		state = next
	}
	return total
}

// ColumnStats is one column's entry count, on-disk byte footprint and
// quantization flag. It has no cache-residency counter and no separate
// compressed-size field; for a quantized column Bytes is the one-byte-
// per-entry code footprint, codebook excluded. SPEC_FULL.md's
// supplemented `stat` feature grounded on
// original_source's expgram/Stat.hpp and progs/expgram_stat.cpp.
type ColumnStats struct {
	Name      string
	Shard     int
	Entries   int
	Bytes     int // raw on-disk footprint: 4 bytes/entry for floats, 1 for quantized codes, 8 for counts
	Quantized bool
}

// Stats returns one ColumnStats per stored column on every shard (spec
// §2, §4.3), the basis for cmd/stat.
func (m *Model) Stats() []ColumnStats {
	var out []ColumnStats
	for idx, shard := range m.Shards {
		out = append(out, floatColumnStats("logprob", idx, shard.LogProb))
		out = append(out, floatColumnStats("backoff", idx, shard.Backoff))
		out = append(out, floatColumnStats("logbound", idx, shard.LogBound))
		if shard.Count != nil {
			out = append(out, ColumnStats{Name: "count", Shard: idx, Entries: shard.Count.Len(), Bytes: shard.Count.Len() * 8})
		}
		if shard.Modified != nil {
			out = append(out, ColumnStats{Name: "modified", Shard: idx, Entries: shard.Modified.Len(), Bytes: shard.Modified.Len() * 8})
		}
	}
	return out
}

func floatColumnStats(name string, idx int, col FloatColumn) ColumnStats {
	n := col.Len()
	if _, quantized := col.(*QuantizedFloatColumn); quantized {
		return ColumnStats{Name: name, Shard: idx, Entries: n, Bytes: n, Quantized: true}
	}
	return ColumnStats{Name: name, Shard: idx, Entries: n, Bytes: n * 4}
}

// Discrepancy is one structural difference found by Diff (SPEC_FULL.md's
// supplemented `diff` feature, grounded on original_source's
// progs/expgram_diff.cpp "full per-shard, per-column structural
// comparison").
type Discrepancy struct {
	Shard  int // -1 for model-level discrepancies (manifest, vocab size)
	Kind   string
	Detail string
}

// diffTolerance is the float comparison slack Diff uses for every float
// column, sized for quantized columns, where lossy codebook rounding is
// expected (spec §8 property 4 "error bounded by half the largest
// codebook gap").
const diffTolerance = 1e-3

// Diff structurally compares a and b: vocabulary, per-shard trie
// topology, the logprob/backoff/logbound columns within diffTolerance and
// the raw count column exactly; the modified-count column is not
// compared. Per spec §9's Open
// Question resolution, Model.LogBound (not the raw column) is used for
// the logbound comparison so the documented top-order sentinel
// asymmetry never surfaces as a spurious discrepancy.
func Diff(a, b *Model) []Discrepancy {
	var out []Discrepancy
	if a.Manifest.Order != b.Manifest.Order {
		out = append(out, Discrepancy{Shard: -1, Kind: "manifest", Detail: "order mismatch"})
	}
	if a.Manifest.Backward != b.Manifest.Backward {
		out = append(out, Discrepancy{Shard: -1, Kind: "manifest", Detail: "orientation mismatch"})
	}
	if len(a.Shards) != len(b.Shards) {
		out = append(out, Discrepancy{Shard: -1, Kind: "manifest", Detail: "shard-count mismatch"})
		return out
	}

	boundA, boundB := a.Vocab.Bound(), b.Vocab.Bound()
	bound := boundA
	if boundB > bound {
		bound = boundB
	}
	for id := WordID(0); id < bound; id++ {
		var sa, sb string
		if id < boundA {
			sa = a.Vocab.StringOf(id)
		}
		if id < boundB {
			sb = b.Vocab.StringOf(id)
		}
		if sa != sb {
			out = append(out, Discrepancy{Shard: -1, Kind: "vocab", Detail: fmt.Sprintf("id %d: %q vs %q", id, sa, sb)})
		}
	}

	for idx := range a.Shards {
		out = append(out, diffShard(a, b, idx)...)
	}
	return out
}

func diffShard(a, b *Model, idx int) []Discrepancy {
	var out []Discrepancy
	ta, tb := a.Shards[idx].Trie, b.Shards[idx].Trie
	if ta.NumNodes() != tb.NumNodes() {
		out = append(out, Discrepancy{Shard: idx, Kind: "trie", Detail: "node count mismatch"})
		return out
	}
	for p := Pos(0); p < Pos(ta.NumNodes()); p++ {
		if ta.IDs[p] != tb.IDs[p] {
			out = append(out, Discrepancy{Shard: idx, Kind: "trie", Detail: fmt.Sprintf("position %d: id %d vs %d", p, ta.IDs[p], tb.IDs[p])})
			continue
		}
		order := ta.OrderOf(p)
		if !floatsClose(a.LogProb(idx, p, order), b.LogProb(idx, p, order)) {
			out = append(out, Discrepancy{Shard: idx, Kind: "logprob", Detail: fmt.Sprintf("position %d", p)})
		}
		if !floatsClose(a.Backoff(idx, p, order), b.Backoff(idx, p, order)) {
			out = append(out, Discrepancy{Shard: idx, Kind: "backoff", Detail: fmt.Sprintf("position %d", p)})
		}
		if !floatsClose(a.LogBound(idx, p, order), b.LogBound(idx, p, order)) {
			out = append(out, Discrepancy{Shard: idx, Kind: "logbound", Detail: fmt.Sprintf("position %d", p)})
		}
	}
	if (a.Shards[idx].Count == nil) != (b.Shards[idx].Count == nil) {
		out = append(out, Discrepancy{Shard: idx, Kind: "count", Detail: "presence mismatch"})
	} else if a.Shards[idx].Count != nil {
		ca, cb := a.Shards[idx].Count, b.Shards[idx].Count
		for p := ca.Offset(); p < ca.Offset()+Pos(ca.Len()); p++ {
			if ca.Value(p) != cb.Value(p) {
				out = append(out, Discrepancy{Shard: idx, Kind: "count", Detail: fmt.Sprintf("position %d", p)})
			}
		}
	}
	return out
}

func floatsClose(a, b Weight) bool {
	if IsLogProbMin(a) || IsLogProbMin(b) {
		return IsLogProbMin(a) == IsLogProbMin(b)
	}
	return math.Abs(float64(a-b)) <= diffTolerance
}

// PerplexityResult is the outcome of scoring a corpus (SPEC_FULL.md's
// supplemented `perplexity` feature, grounded on original_source's
// progs/expgram_perplexity.cpp and the seed test "OOV accounting").
type PerplexityResult struct {
	NumSentences   int
	NumWords       int
	NumOOV         int
	LogProbTotal   Weight // excludes OOV words' own contribution
	LogProbWithOOV Weight // includes it
	Perplexity     float64
}

// Perplexity scores every sentence (already tokenized, one []string per
// sentence) against m, implicitly bracketing each with <s>/</s> (spec §8
// "BOS handling"). OOV words are counted separately and excluded from
// LogProbTotal but included in LogProbWithOOV, matching the seed
// scenario "input 'A Q B' where Q is unknown".
func Perplexity(m *Model, sentences [][]string) PerplexityResult {
	sc := NewNGramScorer(m)
	var result PerplexityResult
	result.NumSentences = len(sentences)

	for _, sentence := range sentences {
		state := NewFlatState()
		next, r := sc.Score(state, BOSID)
		state = next
		_ = r
		for _, w := range sentence {
			id := m.Vocab.Lookup(w)
			result.NumWords++
			var res ScoreResult
			state, res = sc.Score(state, id)
			result.LogProbWithOOV = Floor(result.LogProbWithOOV+res.LogProb, sc.Floor)
			if res.OOV {
				result.NumOOV++
			} else {
				result.LogProbTotal = Floor(result.LogProbTotal+res.LogProb, sc.Floor)
			}
		}
		_, res := sc.Score(state, EOSID)
		result.LogProbTotal = Floor(result.LogProbTotal+res.LogProb, sc.Floor)
		result.LogProbWithOOV = Floor(result.LogProbWithOOV+res.LogProb, sc.Floor)
	}

	denom := result.NumSentences + result.NumWords
	if denom > 0 {
		result.Perplexity = math.Exp(-float64(result.LogProbTotal) / float64(denom))
	}
	return result
}

// Dump renders shard idx's trie and columns as a tab-separated listing
// (SPEC_FULL.md's supplemented `dump` feature, parallel in spirit to the
// teacher's Graphviz debugging aid but tabular rather than a .dot graph,
// since the shard-per-process topology doesn't lend itself to a single
// small diagram).
func Dump(m *Model, shardIdx int) string {
	shard := m.Shards[shardIdx]
	t := shard.Trie
	var b strings.Builder
	fmt.Fprintf(&b, "# shard %d: %d nodes, order %d, backward=%t\n", shardIdx, t.NumNodes(), t.Order, t.Backward)
	var walk func(node Pos, ctx []WordID)
	walk = func(node Pos, ctx []WordID) {
		if len(ctx) > 0 {
			order := len(ctx)
			words := make([]string, len(ctx))
			for i, id := range ctx {
				words[i] = m.Vocab.StringOf(id)
			}
			fmt.Fprintf(&b, "%d\t%s\t%g\t%g\t%g\n",
				node, strings.Join(words, " "),
				m.LogProb(shardIdx, node, order), m.Backoff(shardIdx, node, order), m.LogBound(shardIdx, node, order))
		}
		first, last := t.ChildrenRange(node)
		for p := first; p < last; p++ {
			walk(p, append(append([]WordID(nil), ctx...), t.IDs[p]))
		}
	}
	walk(0, nil)
	return b.String()
}
