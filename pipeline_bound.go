package expgram

import "context"

// RunBoundPipeline recomputes every shard's logbound column (spec
// §4.5.1 "Upper-bound estimation"): for each n-gram (h, w) with a valid
// log-probability, the bound of every proper suffix of (h, w) is raised
// to max(B(suffix), logprob(h, w)). Running it twice on the same model is
// idempotent (max is idempotent once every suffix has already seen its
// own logprob), satisfying the seed scenario in spec §8.
func RunBoundPipeline(ctx context.Context, m *Model) error {
	bounds := make([]map[Pos]Weight, len(m.Shards))
	for i := range bounds {
		bounds[i] = make(map[Pos]Weight)
	}

	mapFn := func(ctx context.Context, m *Model, shardIdx int, emit func(Record) error) error {
		return walkShard(m, shardIdx, func(ctx2 []WordID, node Pos, depth int) error {
			lp := m.LogProb(shardIdx, node, depth)
			if IsLogProbMin(lp) {
				return nil
			}
			for k := 1; k < depth; k++ {
				suffix := properSuffix(ctx2, k, m.Manifest.Backward)
				if err := emit(Record{Context: suffix, Floats: []Weight{lp}}); err != nil {
					return err
				}
			}
			return nil
		})
	}

	reduceFn := func(ctx context.Context, m *Model, shardIdx int, rec Record) error {
		node, ok := m.Shards[shardIdx].Trie.Traverse(rec.Context...)
		if !ok {
			return &RoutingError{Shard: shardIdx, Context: rec.Context}
		}
		v := rec.Floats[0]
		if cur, seen := bounds[shardIdx][node]; !seen || v > cur {
			bounds[shardIdx][node] = v
		}
		return nil
	}

	finalizeFn := func(ctx context.Context, m *Model, shardIdx int) error {
		shard := m.Shards[shardIdx]
		col := shard.LogBound
		n := col.Offset() + Pos(col.Len())
		values := make([]Weight, n-col.Offset())
		for p := col.Offset(); p < n; p++ {
			order := shard.Trie.OrderOf(p)
			values[p-col.Offset()] = m.LogBound(shardIdx, p, order)
		}
		for pos, v := range bounds[shardIdx] {
			if pos < col.Offset() {
				continue
			}
			if v > values[pos-col.Offset()] {
				values[pos-col.Offset()] = v
			}
		}
		return installFloatColumn(m, "logbound", shardIdx, col.Offset(), values)
	}

	return RunPipeline(ctx, m, mapFn, reduceFn, finalizeFn)
}

// properSuffix returns the last k ids of ctx (forward mode) or the first
// k (backward mode): "the tails of (h, w) starting one position past the
// head; in backward mode, the mirror" (spec §4.5.1).
func properSuffix(ctx []WordID, k int, backward bool) []WordID {
	out := make([]WordID, k)
	if backward {
		copy(out, ctx[:k])
	} else {
		copy(out, ctx[len(ctx)-k:])
	}
	return out
}

// walkShard visits every node of shardIdx's trie in depth order, invoking
// visit with the full id context leading to that node, the node itself,
// and its depth (shared by every pipeline's map phase, spec §4.5 "each
// process streams its shard's nodes in depth order").
func walkShard(m *Model, shardIdx int, visit func(ctx []WordID, node Pos, depth int) error) error {
	t := m.Shards[shardIdx].Trie
	var walk func(node Pos, ctx []WordID) error
	walk = func(node Pos, ctx []WordID) error {
		if len(ctx) > 0 {
			if err := visit(ctx, node, len(ctx)); err != nil {
				return err
			}
		}
		first, last := t.ChildrenRange(node)
		for p := first; p < last; p++ {
			id := t.IDs[p]
			child := append(append([]WordID(nil), ctx...), id)
			if err := walk(p, child); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(0, nil)
}

// installFloatColumn atomically writes values as shard shardIdx's named
// raw float column and hot-swaps the in-memory handle (spec §4.5
// "Finalize").
func installFloatColumn(m *Model, name string, shardIdx int, offset Pos, values []Weight) error {
	path := columnPath(m.Dir, name, shardIdx)
	if err := WriteFloatColumn(path, values); err != nil {
		return err
	}
	f, err := OpenMapped(path)
	if err != nil {
		return err
	}
	mapped, err := WeightColumn(path, f.Bytes())
	if err != nil {
		return err
	}
	shard := m.Shards[shardIdx]
	shard.mapped = append(shard.mapped, f)
	col := NewRawFloatColumn(offset, mapped)
	switch name {
	case "logprob":
		shard.LogProb = col
	case "backoff":
		shard.Backoff = col
	case "logbound":
		shard.LogBound = col
	}
	return nil
}
