package expgram

import (
	"context"
	"sync"
)

// ProcessPool is one process-per-shard group (spec §5 "Orchestration":
// "process pool, inter-communicator, barrier/notify primitives"). Every
// pipeline run owns exactly one pool, sized to the manifest's shard
// count; within this Go process each "process" is a goroutine, the
// in-process analogue of the one-process-per-shard topology spec §3's
// Scheduling model describes (mapper task, reducer task, communication
// progress thread).
type ProcessPool struct {
	Size      int
	Transport *Transport
	barrier   *Barrier
}

// NewProcessPool allocates a pool of size processes, each able to send to
// any of the others through a bounded Transport (capacity chunks per
// target stream).
func NewProcessPool(size, capacity int) *ProcessPool {
	return &ProcessPool{
		Size:      size,
		Transport: NewTransport(size, capacity),
		barrier:   NewBarrier(size),
	}
}

// Communicator is the per-rank handle a mapper/reducer task uses to talk
// to its peers (spec §5 "inter-communicator").
type Communicator struct {
	Rank int
	pool *ProcessPool
}

// Rank returns rank's communicator into pool.
func (p *ProcessPool) Rank(rank int) *Communicator {
	return &Communicator{Rank: rank, pool: p}
}

// Send pushes data to target's inbound stream (busy-polling if full, per
// spec §3's communication progress function).
func (c *Communicator) Send(ctx context.Context, target int, data []byte) error {
	return c.pool.Transport.Send(ctx, target, data)
}

// Recv drains the next chunk addressed to this rank.
func (c *Communicator) Recv(ctx context.Context) ([]byte, error) {
	return c.pool.Transport.Recv(ctx, c.Rank)
}

// Done records that this rank has finished sending to target for the
// current round (spec §5 "mappers flush \n sentinels before closing").
// Once every rank has called Done for a given target, that target's
// inbound stream closes and its Recv loop drains to io.EOF instead of
// needing a pre-known chunk count.
func (c *Communicator) Done(target int) {
	c.pool.Transport.Done(target)
}

// Abort closes every stream in the pool immediately (spec §5
// "Cancellation": "cancelled by closing the outbound stream and letting
// reducers drain"). Every other rank's in-flight Recv unblocks with
// io.EOF instead of waiting forever on a peer that errored out before
// finishing its sends.
func (c *Communicator) Abort() {
	c.pool.Transport.Abort()
}

// Barrier synchronizes waits at one of the two points spec §3's
// Scheduling model names: "the explicit termination barrier between map
// and reduce" and "the final cross-shard barrier before writing
// outputs". Each Barrier instance is single-use per round but Wait may be
// called repeatedly to synchronize successive rounds.
type Barrier struct {
	n       int
	mu      sync.Mutex
	cond    *sync.Cond
	count   int
	round   int
}

// NewBarrier returns a barrier for n participants.
func NewBarrier(n int) *Barrier {
	b := &Barrier{n: n}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Wait blocks until all n participants have called Wait for the current
// round, then releases everyone together.
func (b *Barrier) Wait() {
	b.mu.Lock()
	defer b.mu.Unlock()
	round := b.round
	b.count++
	if b.count == b.n {
		b.count = 0
		b.round++
		b.cond.Broadcast()
		return
	}
	for b.round == round {
		b.cond.Wait()
	}
}

// NotifyGroup is a set of per-rank one-shot signals a process pool uses
// to wake a sleeping communication-progress loop when new work arrives
// (spec §5 "barrier/notify primitives"), independent of the Barrier's
// all-participants rendezvous.
type NotifyGroup struct {
	signals []chan struct{}
	mu      sync.Mutex
}

// NewNotifyGroup allocates n per-rank signal channels.
func NewNotifyGroup(n int) *NotifyGroup {
	g := &NotifyGroup{signals: make([]chan struct{}, n)}
	for i := range g.signals {
		g.signals[i] = make(chan struct{}, 1)
	}
	return g
}

// Notify wakes rank's waiter, if one is parked; a pending, un-consumed
// notification is coalesced (buffered depth 1), matching the
// level-triggered "check inbound queue" semantics a progress loop needs.
func (g *NotifyGroup) Notify(rank int) {
	select {
	case g.signals[rank] <- struct{}{}:
	default:
	}
}

// Wait blocks until rank has been notified or ctx is cancelled.
func (g *NotifyGroup) Wait(ctx context.Context, rank int) error {
	select {
	case <-g.signals[rank]:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Barrier returns the pool's shared termination/output barrier.
func (p *ProcessPool) Barrier() *Barrier { return p.barrier }

// Notify returns the notify group backing the pool's Transport, the
// per-rank wake-up signals Recv parks on between polls (spec §5
// "barrier/notify primitives").
func (p *ProcessPool) Notify() *NotifyGroup { return p.Transport.Notify() }

// Run launches task once per rank in [0, p.Size) and waits for all to
// finish, returning the first non-nil error (spec §3: "each process runs
// a single mapper task plus one reducer task"; Run is the driver a
// pipeline uses to fan a stage out across every rank).
func (p *ProcessPool) Run(ctx context.Context, task func(ctx context.Context, comm *Communicator) error) error {
	var wg sync.WaitGroup
	errs := make([]error, p.Size)
	wg.Add(p.Size)
	for rank := 0; rank < p.Size; rank++ {
		go func(rank int) {
			defer wg.Done()
			errs[rank] = task(ctx, p.Rank(rank))
		}(rank)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
