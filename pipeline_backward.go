package expgram

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// backwardRecord is one (reversed-context, logprob, logbound, backoff)
// tuple received by a backward-construction reducer (spec §4.5.3).
type backwardRecord struct {
	context  []WordID
	logprob  Weight
	logbound Weight
	backoff  Weight
}

// RunBackwardPipeline rebuilds m, a forward-ordered model, as a new
// backward model under outDir (spec §4.5.3 "Backward trie
// construction"): every stored context is reversed and re-inserted into
// a freshly sharded, freshly built trie, preserving logprob/logbound/
// backoff (the sentinel is preserved as sentinel, never coerced to
// zero). It does not reuse RunPipeline, because the routing target for
// each record depends on the *new* (backward) topology rather than m's
// own manifest, and because the reducer side needs to buffer and sort
// every record before it can assemble a trie rather than applying one
// record at a time.
func RunBackwardPipeline(ctx context.Context, m *Model, outDir string) (*Model, error) {
	if m.Manifest.Backward {
		return nil, &ModelIntegrityError{Path: m.Dir, Reason: "backward pipeline expects a forward-ordered model"}
	}
	size := len(m.Shards)
	pool := NewProcessPool(size, size)

	perShardRecords := make([][]backwardRecord, size)
	var mu sync.Mutex
	backwardTopology := ShardTopology{ShardCount: size, Backward: true}

	err := pool.Run(ctx, func(ctx context.Context, comm *Communicator) (err error) {
		// Cooperative cancellation (spec §5): unblock every peer's Recv
		// if this rank fails before it finishes sending.
		defer func() {
			if err != nil {
				comm.Abort()
			}
		}()

		shardIdx := comm.Rank

		bufs := make([]*bytes.Buffer, size)
		writers := make([]*RecordWriter, size)
		for i := range bufs {
			bufs[i] = &bytes.Buffer{}
			writers[i] = NewRecordWriter(bufs[i])
		}

		err = walkShard(m, shardIdx, func(fullCtx []WordID, node Pos, depth int) error {
			if depth == 1 && shardIdx != 0 {
				// Every shard's own trie necessarily carries the
				// depth-1 ancestors of its deeper contexts (e.g. shard
				// shard(B) owns unigram node A as the parent of bigram
				// (A,B)), but unigrams are globally shared and live on
				// shard 0 only (spec §3, §4.5.1). Shard 0's own walk
				// already emits each unigram once; letting every other
				// shard emit its ancestor unigrams too would hand
				// shard 0's reducer duplicate reversed contexts.
				return nil
			}
			lp := m.LogProb(shardIdx, node, depth)
			lb := m.LogBound(shardIdx, node, depth)
			bo := m.Backoff(shardIdx, node, depth)
			reversed := reverseContext(fullCtx)
			target := ShardOf(reversed, size, true)
			return writers[target].Write(Record{Context: reversed, Floats: []Weight{lp, lb, bo}})
		})
		if err != nil {
			return err
		}
		for target, w := range writers {
			if err := w.Close(); err != nil {
				return err
			}
			if err := comm.Send(ctx, target, bufs[target].Bytes()); err != nil {
				return err
			}
		}
		for target := range writers {
			comm.Done(target)
		}

		pool.Barrier().Wait()

		var mine []backwardRecord
		for {
			blob, err := comm.Recv(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			reader := NewRecordReader(bytes.NewReader(blob))
			for {
				rec, ok, err := reader.Next()
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				if !backwardTopology.Owns(rec.Context, shardIdx) {
					return &RoutingError{Shard: shardIdx, Context: rec.Context}
				}
				mine = append(mine, backwardRecord{
					context: rec.Context, logprob: rec.Floats[0], logbound: rec.Floats[1], backoff: rec.Floats[2],
				})
			}
		}
		mu.Lock()
		perShardRecords[shardIdx] = mine
		mu.Unlock()

		pool.Barrier().Wait()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, &StorageError{Path: outDir, Err: err}
	}
	if err := m.Vocab.Write(filepath.Join(outDir, "vocab")); err != nil {
		return nil, err
	}

	manifest := NewManifest(m.Manifest.Order, size, true, m.Manifest.Smooth)
	for idx, records := range perShardRecords {
		root := newTrieNode(0)
		seen := make(map[string]bool, len(records))
		for _, r := range records {
			key := contextKey(r.context)
			if seen[key] {
				// Spec §4.5.3: "within a reducer's buffered order,
				// duplicate reversed contexts must not appear; the
				// source is assumed acyclic."
				return nil, &RoutingError{Shard: idx, Context: r.context}
			}
			seen[key] = true
			n := insertTrieNode(root, r.context)
			n.present = true
			n.logprob, n.logbound, n.backoff = r.logprob, r.logbound, r.backoff
		}
		trie, logprobs, backoffs, logbounds, _ := assembleTrie(m.Manifest.Order, true, root)
		if err := WriteShardIndex(outDir, idx, trie); err != nil {
			return nil, err
		}
		colOffset := Pos(1)
		if idx > 0 && len(trie.Offsets) > 1 {
			colOffset = Pos(trie.Offsets[1])
		}
		if err := WriteFloatColumn(columnPath(outDir, "logprob", idx), logprobs[colOffset:]); err != nil {
			return nil, err
		}
		if err := WriteFloatColumn(columnPath(outDir, "backoff", idx), backoffs[colOffset:]); err != nil {
			return nil, err
		}
		if err := WriteFloatColumn(columnPath(outDir, "logbound", idx), logbounds[colOffset:]); err != nil {
			return nil, err
		}
	}

	if err := WriteManifest(filepath.Join(outDir, "manifest"), manifest); err != nil {
		return nil, err
	}
	return LoadModel(outDir)
}

// reverseContext returns ctx's elements in reverse order (spec §4.5.3
// "reverse every stored context").
func reverseContext(ctx []WordID) []WordID {
	out := make([]WordID, len(ctx))
	for i, id := range ctx {
		out[len(ctx)-1-i] = id
	}
	return out
}
