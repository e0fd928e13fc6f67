package expgram

// FlatState is the compact decoder state used for left-to-right sentence
// scoring (spec §3 "Decoder state", §4.4.1): "an ordered list of up to
// N−1 ids representing the longest suffix of the prefix that has a trie
// node, together with the back-off weights already charged." We keep the
// word ids themselves (bounded to Order-1, oldest first) rather than a
// bare node handle: back-off retries need to recompute shard(context) as
// history shrinks, and in backward-oriented models that hash changes as
// the leftmost word is dropped, so a node position alone isn't enough to
// resume from (see DESIGN.md's scoring-state grounding entry).
type FlatState struct {
	History []WordID // oldest-first; len < Order
}

// NewFlatState returns the empty-context state (the state before any word
// of a sentence has been consumed).
func NewFlatState() FlatState { return FlatState{} }

// PrefixEntry is one pending, not-yet-fixed word in a chart state's left
// edge (spec §4.4.2 "prefix: up to N−1 pending entries, each
// (node-position, upper-bound)").
type PrefixEntry struct {
	Shard int
	Node  Pos
	Bound Weight
}

// ChartState is the incremental decoder state for CKY-style composition
// (spec §4.4.2). Score is the running total log-probability: exact for
// the part of the span covered by Suffix, and bounded (admissible: never
// below the true log-probability, so never an overestimate of the true
// cost once finalized) for any words still parked in Prefix.
type ChartState struct {
	Prefix  []PrefixEntry
	Suffix  FlatState
	Score   Weight
	Complete bool
}

// NewChartState returns a fresh, context-free chart state (no antecedent,
// no <s> seeding) suitable as the start of a CKY span.
func NewChartState() ChartState {
	return ChartState{Score: 0}
}
