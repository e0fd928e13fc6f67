package expgram

import (
	"context"
	"path/filepath"
)

// RunQuantizePipeline quantizes the named float columns on every shard
// into an 8-bit code plus a per-order 256-entry codebook (spec §4.5.4).
// It follows the same map/reduce/finalize shape as the other pipelines
// even though quantization needs no cross-shard shuffling: mapFn and
// reduceFn are no-ops, and the real work happens in finalizeFn, run once
// per shard under the pool's barrier-synchronized Run the same way
// RunPipeline's other callers are.
//
// Unigram positions physically exist only on shard 0 (spec §4.3); shards
// >0 start at OrderRange(2) and rely on Model.resolveFloat's
// below-offset redirect to shard 0's own (already quantized) codebook,
// so there is nothing to explicitly replicate.
func RunQuantizePipeline(ctx context.Context, m *Model, columns ...string) error {
	mapFn := func(ctx context.Context, m *Model, shardIdx int, emit func(Record) error) error {
		return nil
	}
	reduceFn := func(ctx context.Context, m *Model, shardIdx int, rec Record) error {
		return nil
	}
	finalizeFn := func(ctx context.Context, m *Model, shardIdx int) error {
		shard := m.Shards[shardIdx]
		startOrder := 2
		if shardIdx == 0 {
			startOrder = 1
		}
		for _, name := range columns {
			if err := quantizeColumn(m, shard, name, startOrder); err != nil {
				return err
			}
		}
		return nil
	}

	if err := RunPipeline(ctx, m, mapFn, reduceFn, finalizeFn); err != nil {
		return err
	}
	for _, name := range columns {
		m.Manifest.Quantized[name] = true
	}
	return WriteManifest(filepath.Join(m.Dir, "manifest"), m.Manifest)
}

// quantizeColumn rebuilds one named column of shard as a byte column
// plus codebook, and hot-swaps the in-memory handle.
func quantizeColumn(m *Model, shard *Shard, name string, startOrder int) error {
	col := columnPicker(name)(shard)
	codebook := NewCodebook(m.Manifest.Order)
	codes := make([]byte, col.Len())

	for order := startOrder; order <= m.Manifest.Order; order++ {
		if name == "logbound" && order == m.Manifest.Order {
			// Spec §9's Open Question resolution: the top order's
			// logbound is always the sentinel and is never read through
			// the column (Model.LogBound short-circuits first), so it
			// needs no codebook entry.
			continue
		}
		lo, hi := shard.Trie.OrderRange(order)
		if lo < col.Offset() {
			lo = col.Offset()
		}
		if hi <= lo {
			continue
		}
		values := make([]Weight, hi-lo)
		for p := lo; p < hi; p++ {
			values[p-lo] = col.Value(p, order)
		}
		centroids, orderCodes := BuildCodebook(values)
		codebook.Centroids[order] = centroids
		for i, c := range orderCodes {
			codes[lo+Pos(i)-col.Offset()] = c
		}
	}

	path := columnPath(m.Dir, name, shard.Index)
	if err := WriteQuantizedColumn(path, codes, codebook); err != nil {
		return err
	}
	f, err := OpenMapped(path)
	if err != nil {
		return err
	}
	shard.mapped = append(shard.mapped, f)
	setColumn(shard, name, NewQuantizedFloatColumn(col.Offset(), f.Bytes(), codebook))
	return nil
}

// columnPicker returns the accessor for shard's named float column.
func columnPicker(name string) func(*Shard) FloatColumn {
	switch name {
	case "logprob":
		return func(s *Shard) FloatColumn { return s.LogProb }
	case "backoff":
		return func(s *Shard) FloatColumn { return s.Backoff }
	case "logbound":
		return func(s *Shard) FloatColumn { return s.LogBound }
	}
	return nil
}

// setColumn installs col as shard's named float column.
func setColumn(shard *Shard, name string, col FloatColumn) {
	switch name {
	case "logprob":
		shard.LogProb = col
	case "backoff":
		shard.Backoff = col
	case "logbound":
		shard.LogBound = col
	}
}
