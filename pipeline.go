package expgram

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
)

// columnPath returns the on-disk path for shard idx's named column (spec
// §6: "logprob.<shard>, backoff.<shard>, logbound.<shard>").
func columnPath(dir, name string, idx int) string {
	return filepath.Join(dir, fmt.Sprintf("%s.%d", name, idx))
}

// MapFunc streams one shard's nodes in depth order, calling emit for
// every (context, payload) record it produces (spec §4.5 "Map phase").
// emit routes the record to shard(context) internally; callers never
// compute the target themselves.
type MapFunc func(ctx context.Context, m *Model, shardIdx int, emit func(Record) error) error

// ReduceFunc applies one inbound record to shardIdx's in-progress column
// state (spec §4.5 "Reduce phase": "locates the receiving node via
// traverse, and updates its column").
type ReduceFunc func(ctx context.Context, m *Model, shardIdx int, rec Record) error

// FinalizeFunc installs shardIdx's rebuilt column(s) (spec §4.5
// "Finalize": "writes the new column to a temporary file, fsyncs, opens
// it memory-mapped, and atomically swaps the in-memory handle").
type FinalizeFunc func(ctx context.Context, m *Model, shardIdx int) error

// RunPipeline drives one map/reduce pass over every shard of m
// concurrently, one goroutine per shard standing in for spec §3's
// "one process per shard" (mapper task, reducer task, and the
// communication progress loop folded into Transport's busy-poll). Each
// rank's mapper buffers its per-target output as one length-delimited
// record stream (spec §6's trailing-empty-line sentinel) and ships it in
// a single Send per target, then calls Done on every target; the paired
// Recv side drains each target stream until it sees io.EOF, which fires
// once every rank has called Done for it. Any rank that returns an error
// aborts every stream in the pool so the rest don't block waiting on a
// sender that never finishes (spec §5 cooperative cancellation).
func RunPipeline(ctx context.Context, m *Model, mapFn MapFunc, reduceFn ReduceFunc, finalizeFn FinalizeFunc) error {
	size := len(m.Shards)
	pool := NewProcessPool(size, size)
	topology := ShardTopology{ShardCount: size, Backward: m.Manifest.Backward}

	return pool.Run(ctx, func(ctx context.Context, comm *Communicator) (err error) {
		// Cooperative cancellation (spec §5): if this rank dies mid-map
		// or mid-reduce, close every stream in the pool so peers waiting
		// on a Recv that would otherwise never see the rest of this
		// rank's Done calls drain to io.EOF instead of hanging.
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

		emit := func(rec Record) error {
			target := ShardOf(rec.Context, m.Manifest.ShardCount, m.Manifest.Backward)
			return writers[target].Write(rec)
		}
		if err := mapFn(ctx, m, shardIdx, emit); err != nil {
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
			// Spec §6: "each mapper writes a trailing empty line as an
			// end-of-stream marker before closing." Done is that close,
			// applied per target stream rather than per file.
			comm.Done(target)
		}

		// Suspension point (iii): the explicit termination barrier
		// between map and reduce (spec §3).
		pool.Barrier().Wait()

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
				if !topology.Owns(rec.Context, shardIdx) {
					return &RoutingError{Shard: shardIdx, Context: rec.Context}
				}
				if err := reduceFn(ctx, m, shardIdx, rec); err != nil {
					return err
				}
			}
		}

		if finalizeFn != nil {
			if err := finalizeFn(ctx, m, shardIdx); err != nil {
				return err
			}
		}

		// Suspension point (iv): the final cross-shard barrier before
		// writing outputs (spec §3).
		pool.Barrier().Wait()
		return nil
	})
}
