package expgram

import "context"

// RunModifyPipeline rewrites every shard's modified-count column (spec
// §4.5.2 "Modified-count computation"): for each context (h, w) with raw
// count c, emit a types-following contribution (1 per distinct
// continuation) toward the modified count of the shorter context h.
// <s>-headed contexts preserve their original raw count instead, the
// standard Kneser-Ney exception.
func RunModifyPipeline(ctx context.Context, m *Model) error {
	contributions := make([]map[Pos]uint64, len(m.Shards))
	for i := range contributions {
		contributions[i] = make(map[Pos]uint64)
	}

	mapFn := func(ctx context.Context, m *Model, shardIdx int, emit func(Record) error) error {
		return walkShard(m, shardIdx, func(fullCtx []WordID, node Pos, depth int) error {
			if depth < 2 {
				// A unigram has no shorter context to contribute to.
				return nil
			}
			shorter := shortenContext(fullCtx, m.Manifest.Backward)
			return emit(Record{Context: shorter, Counts: []uint64{1}})
		})
	}

	reduceFn := func(ctx context.Context, m *Model, shardIdx int, rec Record) error {
		node, ok := m.Shards[shardIdx].Trie.Traverse(rec.Context...)
		if !ok {
			return &RoutingError{Shard: shardIdx, Context: rec.Context}
		}
		contributions[shardIdx][node] += rec.Counts[0]
		return nil
	}

	finalizeFn := func(ctx context.Context, m *Model, shardIdx int) error {
		shard := m.Shards[shardIdx]
		if shard.Count == nil {
			return nil // no raw counts loaded: nothing to modify.
		}
		col := shard.Count
		n := col.Offset() + Pos(col.Len())
		values := make([]uint64, n-col.Offset())
		for p := col.Offset(); p < n; p++ {
			if startsWithBOS(shard.Trie, p) {
				values[p-col.Offset()] = col.Value(p)
				continue
			}
			values[p-col.Offset()] = contributions[shardIdx][p]
		}
		return installCountColumn(m, "modified", shardIdx, col.Offset(), values)
	}

	return RunPipeline(ctx, m, mapFn, reduceFn, finalizeFn)
}

// shortenContext drops the most recently observed word from ctx (the
// full root-to-node path), returning the "h" in (h, w): in forward
// storage the most recent word is stored last, so dropping it means
// slicing off the tail; in backward (reversed) storage the most recent
// word is stored first, so dropping it means slicing off the head.
func shortenContext(ctx []WordID, backward bool) []WordID {
	out := make([]WordID, len(ctx)-1)
	if backward {
		copy(out, ctx[1:])
	} else {
		copy(out, ctx[:len(ctx)-1])
	}
	return out
}

// startsWithBOS reports whether the context ending at node p begins, in
// logical left-to-right reading order, with <s> (spec §4.5.2 "<s>-headed
// contexts preserve their original count"). In a forward trie the
// logical first word sits at the shallowest ancestor on p's path; in a
// backward (reversed) trie it is p's own edge id, since the path's
// deepest edge is the earliest word in the original context.
func startsWithBOS(t *Trie, p Pos) bool {
	if p == 0 {
		return false
	}
	if t.Backward {
		return t.IDs[p] == BOSID
	}
	n := p
	for t.OrderOf(n) > 1 {
		n = t.Parent(n)
	}
	return t.IDs[n] == BOSID
}

// installCountColumn atomically writes values as shard shardIdx's named
// packed 64-bit column and hot-swaps the in-memory handle (spec §4.5
// "Finalize"), the count-column counterpart of installFloatColumn.
func installCountColumn(m *Model, name string, shardIdx int, offset Pos, values []uint64) error {
	path := columnPath(m.Dir, name, shardIdx)
	if err := WriteCountColumn(path, values); err != nil {
		return err
	}
	f, err := OpenMapped(path)
	if err != nil {
		return err
	}
	mapped, err := Uint64Column(path, f.Bytes())
	if err != nil {
		return err
	}
	shard := m.Shards[shardIdx]
	shard.mapped = append(shard.mapped, f)
	col := NewCountColumn(offset, mapped)
	switch name {
	case "count":
		shard.Count = col
	case "modified":
		shard.Modified = col
	}
	return nil
}
