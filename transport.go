package expgram

import (
	"bytes"
	"context"
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/klauspost/compress/flate"
)

// backoffSchedule implements the communication progress function's sleep
// schedule (spec §5 "Scheduling model": "busy-polls with a monotonically
// increasing sleep: yield, then nanosleep ≈ 2 ms after ~50 empty polls").
type backoffSchedule struct {
	polls int
}

func (b *backoffSchedule) wait() {
	b.polls++
	if b.polls <= 50 {
		runtime.Gosched()
		return
	}
	time.Sleep(2 * time.Millisecond)
}

// next returns the duration a notify-driven waiter should block for
// before re-checking, following the same "yield, then ~2ms" schedule as
// wait: a near-zero timeout for the first 50 polls (so a genuine notify
// wakes it almost immediately), then 2ms once polling has gone on long
// enough that a real sleep is warranted.
func (b *backoffSchedule) next() time.Duration {
	b.polls++
	if b.polls <= 50 {
		return time.Microsecond
	}
	return 2 * time.Millisecond
}

// ChunkStream is one bounded, non-blocking byte-chunk queue (spec §5
// "Shuffle": "the transport is a bounded non-blocking byte stream per
// target"). TrySend/TryRecv never block; callers busy-poll around them.
type ChunkStream struct {
	buf    chan []byte
	mu     sync.Mutex
	closed bool
}

// NewChunkStream returns a stream that holds at most capacity chunks
// before TrySend starts reporting full.
func NewChunkStream(capacity int) *ChunkStream {
	return &ChunkStream{buf: make(chan []byte, capacity)}
}

// TrySend enqueues chunk, reporting false without blocking if the stream
// is full ("if all target streams are full the mapper yields").
func (s *ChunkStream) TrySend(chunk []byte) bool {
	select {
	case s.buf <- chunk:
		return true
	default:
		return false
	}
}

// TryRecv dequeues the next chunk. ok is true only when chunk holds a
// real chunk. closed is true once the stream has been closed and fully
// drained, letting the caller distinguish "nothing yet" from "nothing
// ever again".
func (s *ChunkStream) TryRecv() (chunk []byte, ok bool, closed bool) {
	select {
	case c, open := <-s.buf:
		if !open {
			return nil, false, true
		}
		return c, true, false
	default:
		return nil, false, false
	}
}

// Close signals no further chunks will be sent; TryRecv drains whatever
// remains buffered, then reports ok=false with a nil chunk. Idempotent:
// a stream may be closed once by its last sender in the ordinary case
// and again by Transport.Abort on the cancellation path without
// panicking on a double close.
func (s *ChunkStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.buf)
}

// Transport is the set of per-shard-target streams one process's mapper
// writes into and the owning shard's reducer drains (spec §5). Chunks are
// flate-compressed in flight, matching the pack's compressed-transport
// idiom.
//
// Every rank sends exactly one chunk to each target stream per pipeline
// round, so a target stream naturally finishes after it has heard from
// every rank; Done/Abort turn that into an explicit close so Recv can
// drain-then-stop instead of requiring a pre-known chunk count (spec §5
// "Cancellation": "cancelled by closing the outbound stream ... letting
// reducers drain").
type Transport struct {
	Streams []*ChunkStream
	notify  *NotifyGroup

	mu      sync.Mutex
	pending []int32 // remaining Done() calls owed before stream i auto-closes
}

// NewTransport allocates one stream per target shard, each bounded to
// capacity chunks. targets also names the number of senders: every rank
// owes every target stream exactly one Done() call.
func NewTransport(targets, capacity int) *Transport {
	streams := make([]*ChunkStream, targets)
	pending := make([]int32, targets)
	for i := range streams {
		streams[i] = NewChunkStream(capacity)
		pending[i] = int32(targets)
	}
	return &Transport{Streams: streams, notify: NewNotifyGroup(targets), pending: pending}
}

// Notify returns the notify group Recv waits on to wake without
// busy-polling (spec §5 "barrier/notify primitives").
func (t *Transport) Notify() *NotifyGroup { return t.notify }

// Send compresses data and busy-polls target's stream until it accepts
// the chunk or ctx is cancelled.
func (t *Transport) Send(ctx context.Context, target int, data []byte) error {
	chunk, err := compressChunk(data)
	if err != nil {
		return err
	}
	var bo backoffSchedule
	for {
		if t.Streams[target].TrySend(chunk) {
			t.notify.Notify(target)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		bo.wait()
	}
}

// Done records that the calling rank has finished sending to target for
// this round. Once every rank has called Done, target's stream closes so
// Recv can tell "drained" from "more on the way" apart.
func (t *Transport) Done(target int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[target]--
	if t.pending[target] <= 0 {
		t.Streams[target].Close()
		t.notify.Notify(target)
	}
}

// Abort closes every target stream immediately, regardless of how many
// Done calls are still outstanding (spec §5 "Cancellation": cooperative,
// triggered by a fatal error in one rank's map or reduce phase, letting
// every other rank's Recv loop drain and return io.EOF instead of
// blocking forever on a sender that never finishes).
func (t *Transport) Abort() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, p := range t.pending {
		if p > 0 {
			t.pending[i] = 0
		}
		t.Streams[i].Close()
		t.notify.Notify(i)
	}
}

// Recv waits for target's next chunk and decompresses it, returning
// io.EOF once the stream has been closed and drained. It parks on the
// notify group between polls rather than spinning continuously, waking
// either when Send/Done/Abort signals target or after the same
// yield-then-2ms backoff schedule Send uses, whichever comes first.
func (t *Transport) Recv(ctx context.Context, target int) ([]byte, error) {
	var bo backoffSchedule
	for {
		chunk, ok, closed := t.Streams[target].TryRecv()
		if ok {
			return decompressChunk(chunk)
		}
		if closed {
			return nil, io.EOF
		}
		waitCtx, cancel := context.WithTimeout(ctx, bo.next())
		err := t.notify.Wait(waitCtx, target)
		cancel()
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
}

func compressChunk(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressChunk(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	return io.ReadAll(r)
}
