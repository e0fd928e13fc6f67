package expgram

// ScoreResult is the outcome of one ngram_score step (spec §4.4.1): the
// resolved shard/node for the word just scored, an exact or bounded
// weight, and whether the state has become "complete" (no further
// revision possible by additional left context).
type ScoreResult struct {
	Shard    int
	Node     Pos
	LogProb  Weight // exact additive contribution for this step (floored)
	Bound    Weight // admissible upper bound; meaningful only if !Complete
	Complete bool
	OOV      bool // true if w had no trie entry at any order, not even unigram
}

// isOOVWord reports whether w should short-circuit straight to the
// unigram back-off path rather than attempt any higher-order match (spec
// §4.4.1 step 2: "Unknown words (id == UNK_ID, or id == NONE_ID when
// strict) short-circuit to the unigram back-off path").
func isOOVWord(w WordID, strict bool) bool {
	return w == UnkID || (strict && w == NoneID)
}

// Score computes ngram_score(state, w): the log-probability of w given
// the history carried in state, and the state after consuming w (spec
// §4.4.1). floor substitutes for -∞ in the returned total (DefaultFloor
// is the usual choice).
//
// "Complete" here is resolved as: a back-off was actually charged before
// the extension succeeded, or the trie's maximum order was reached. A
// pure first-attempt extension from an already-empty history is treated
// as ¬complete, not complete — see DESIGN.md's scoring-state grounding
// entry for why spec.md's literal "extended from the root" reading would
// make chart-state prefix tracking (§4.4.2) unreachable in the common
// case of a context-free span start.
func (m *Model) Score(state FlatState, w WordID, strict bool, floor Weight) (FlatState, ScoreResult) {
	h := state.History
	order := m.Manifest.Order

	if isOOVWord(w, strict) {
		return m.scoreOOVPath(h, w, floor)
	}

	backedOff := false
	var accrued Weight
	for {
		ctx := appendWord(h, w)
		shard := ShardOf(ctx, m.Manifest.ShardCount, m.Manifest.Backward)
		node, ok := m.Shards[shard].Trie.Traverse(ctx...)
		if ok {
			depth := len(ctx)
			lp := Floor(m.LogProb(shard, node, depth), floor)
			total := Floor(accrued+lp, floor)
			complete := backedOff || depth == order
			var bound Weight
			if complete {
				bound = total
			} else {
				bound = Floor(accrued+Floor(m.LogBound(shard, node, depth), floor), floor)
				if bound < total {
					bound = total
				}
			}
			return FlatState{History: trimHistory(ctx, order)}, ScoreResult{
				Shard: shard, Node: node, LogProb: total, Bound: bound, Complete: complete,
			}
		}
		if len(h) == 0 {
			// No unigram entry for w either: a true OOV.
			return FlatState{}, ScoreResult{LogProb: Floor(accrued+floor, floor), Bound: floor, Complete: true, OOV: true}
		}
		backedOff = true
		hShard := ShardOf(h, m.Manifest.ShardCount, m.Manifest.Backward)
		if hNode, hOK := m.Shards[hShard].Trie.Traverse(h...); hOK {
			// "accumulate the current node's back-off weight" (spec
			// §4.4.1 step 2).
			accrued = Floor(accrued+Floor(m.Backoff(hShard, hNode, len(h)), floor), floor)
		}
		h = h[1:]
	}
}

// appendWord returns h with w appended, without aliasing h's backing
// array (callers retain h across retries).
func appendWord(h []WordID, w WordID) []WordID {
	ctx := make([]WordID, len(h)+1)
	copy(ctx, h)
	ctx[len(h)] = w
	return ctx
}

// trimHistory keeps only the most recent order-1 words of ctx, the most a
// FlatState ever needs to carry (spec §3 "up to N−1 ids").
func trimHistory(ctx []WordID, order int) []WordID {
	max := order - 1
	if len(ctx) <= max {
		out := make([]WordID, len(ctx))
		copy(out, ctx)
		return out
	}
	out := make([]WordID, max)
	copy(out, ctx[len(ctx)-max:])
	return out
}

// scoreOOVPath implements the short-circuit for UNK_ID/NONE_ID: charge
// every back-off weight the full history would have incurred, then score
// w as a bare unigram (spec §4.4.1 step 2).
func (m *Model) scoreOOVPath(h []WordID, w WordID, floor Weight) (FlatState, ScoreResult) {
	var total Weight
	cur := h
	for len(cur) > 0 {
		shard := ShardOf(cur, m.Manifest.ShardCount, m.Manifest.Backward)
		if node, ok := m.Shards[shard].Trie.Traverse(cur...); ok {
			total += Floor(m.Backoff(shard, node, len(cur)), floor)
		}
		cur = cur[1:]
	}
	shard := 0
	node, ok := m.Shards[shard].Trie.Traverse(w)
	if !ok {
		return FlatState{}, ScoreResult{LogProb: Floor(total+floor, floor), Bound: floor, Complete: true, OOV: true}
	}
	lp := Floor(m.LogProb(shard, node, 1), floor)
	total = Floor(total+lp, floor)
	return FlatState{History: []WordID{w}}, ScoreResult{Shard: shard, Node: node, LogProb: total, Bound: total, Complete: true}
}

// NGramScorer is a convenience wrapper bundling a Model with the
// strictness/floor options callers otherwise have to pass to every Score
// call (spec §4.4 "stateful NGramState / NGramScorer").
type NGramScorer struct {
	Model  *Model
	Strict bool
	Floor  Weight
}

// NewNGramScorer returns a scorer using DefaultFloor and non-strict OOV
// handling (NoneID is only special under strict mode).
func NewNGramScorer(m *Model) *NGramScorer {
	return &NGramScorer{Model: m, Floor: DefaultFloor}
}

// Score scores one word against state using the scorer's configured
// options.
func (sc *NGramScorer) Score(state FlatState, w WordID) (FlatState, ScoreResult) {
	return sc.Model.Score(state, w, sc.Strict, sc.Floor)
}

// InitialBOS seeds a chart state with <s> and marks it complete (spec
// §4.4.2 "initial_bos(s): seed suffix with the node for <s>; mark
// complete").
func (sc *NGramScorer) InitialBOS() ChartState {
	s := NewChartState()
	next, result := sc.Score(NewFlatState(), BOSID)
	s.Suffix = next
	s.Score = result.LogProb
	s.Complete = true
	return s
}

// InitialNonTerminal copies an antecedent's chart state verbatim (spec
// §4.4.2 "copy antecedent verbatim").
func InitialNonTerminal(antecedent ChartState) ChartState {
	cp := antecedent
	cp.Prefix = append([]PrefixEntry(nil), antecedent.Prefix...)
	cp.Suffix.History = append([]WordID(nil), antecedent.Suffix.History...)
	return cp
}

// Terminal extends s by one terminal word (spec §4.4.2 "terminal(s, w)").
func (sc *NGramScorer) Terminal(s ChartState, w WordID) ChartState {
	prevLen := len(s.Suffix.History)
	next, result := sc.Score(s.Suffix, w)
	s.Suffix = next

	grewByOne := len(next.History) == prevLen+1 ||
		(prevLen+1 > sc.Model.Manifest.Order-1 && len(next.History) == sc.Model.Manifest.Order-1)

	if result.Complete || !grewByOne {
		s.Score = Floor(s.Score+result.LogProb, sc.Floor)
		s.Complete = true
		return s
	}
	// A pending word contributes its upper bound until NonTerminal
	// replays it against a left context.
	s.Score = Floor(s.Score+result.Bound, sc.Floor)
	s.Prefix = append(s.Prefix, PrefixEntry{Shard: result.Shard, Node: result.Node, Bound: result.Bound})
	return s
}

// NonTerminal splices an antecedent's prefix and suffix onto the right of
// s (spec §4.4.2 "non_terminal(s, antecedent)").
func (sc *NGramScorer) NonTerminal(s ChartState, antecedent ChartState) ChartState {
	if len(antecedent.Prefix) == 0 && antecedent.Complete {
		// Antecedent is fully resolved: charge every back-off still
		// recorded in s.Suffix's pending chain is meaningless here since
		// s.Suffix already reflects the running total in s.Score; simply
		// adopt the antecedent's suffix and total going forward.
		s.Suffix = antecedent.Suffix
		s.Score = Floor(s.Score+antecedent.Score, sc.Floor)
		s.Complete = true
		return s
	}

	// Replay each pending prefix entry of the antecedent through the
	// partial scorer, using s.Suffix as newly-available left context,
	// upgrading bound scores to exact scores where a full context now
	// resolves. Each replay uses the state from the previous replay, a
	// double-buffer swap that avoids aliasing the original antecedent.
	cur := s
	for _, entry := range antecedent.Prefix {
		w := sc.Model.Shards[entry.Shard].Trie.IDs[entry.Node]
		next, result := sc.Score(cur.Suffix, w)
		// Replace this entry's bound contribution (folded into
		// antecedent.Score by Terminal, which is added to cur.Score
		// below) with the freshly resolved value.
		cur.Score = Floor(cur.Score-entry.Bound+result.LogProb, sc.Floor)
		cur.Suffix = next
		if result.Complete {
			cur.Complete = true
		}
	}

	if len(antecedent.Suffix.History) < len(antecedent.Prefix) {
		// The antecedent's own suffix is shorter than its prefix: the
		// remainder of its prefix never interacted with its own suffix
		// and is independent of our left context; nothing further to
		// splice beyond the replay above.
		cur.Score = Floor(cur.Score+antecedent.Score, sc.Floor)
		return cur
	}

	// Concatenate the antecedent's suffix context onto ours, preserving
	// its back-off weights by simply adopting its history tail.
	cur.Suffix.History = append(append([]WordID(nil), cur.Suffix.History...), antecedent.Suffix.History...)
	cur.Suffix.History = trimHistory(cur.Suffix.History, sc.Model.Manifest.Order)
	cur.Score = Floor(cur.Score+antecedent.Score, sc.Floor)
	return cur
}
